package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromUpstreamStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
		code   int
	}{
		{http.StatusTooManyRequests, KindRateLimited, http.StatusTooManyRequests},
		{http.StatusPaymentRequired, KindQuotaExhausted, http.StatusPaymentRequired},
		{http.StatusBadRequest, KindUpstreamFailure, http.StatusInternalServerError},
		{http.StatusUnauthorized, KindUpstreamFailure, http.StatusInternalServerError},
		{http.StatusBadGateway, KindUpstreamFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			err := FromUpstreamStatus(tc.status, "")
			assert.Equal(t, tc.kind, err.Kind)
			assert.Equal(t, tc.code, err.Status())
			assert.Equal(t, tc.status, err.UpstreamStatus)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestRetryableOnlyForRateLimited(t *testing.T) {
	assert.True(t, FromUpstreamStatus(http.StatusTooManyRequests, "").Retryable())
	assert.False(t, FromUpstreamStatus(http.StatusPaymentRequired, "").Retryable())
	assert.False(t, NewUpstreamFailure("x", nil).Retryable())
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("open stream: %w", NewRateLimited("slow down"))
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, KindUpstreamFailure, KindOf(errors.New("boom")))

	re := AsRelayError(errors.New("boom"))
	assert.Equal(t, KindUpstreamFailure, re.Kind)
	assert.Equal(t, http.StatusInternalServerError, re.Status())
}

func TestFromRelayStatusRoundTrip(t *testing.T) {
	for _, k := range []ErrorKind{KindBadRequest, KindForbidden, KindRateLimited, KindQuotaExhausted, KindUpstreamFailure} {
		assert.Equal(t, k, FromRelayStatus(k.Status(), "").Kind)
	}
}

func TestParseAgentType(t *testing.T) {
	got, ok := ParseAgentType(" Support ")
	assert.True(t, ok)
	assert.Equal(t, AgentSupport, got)

	_, ok = ParseAgentType("unknown-agent")
	assert.False(t, ok)
	assert.Len(t, AllAgentTypes(), 4)
}

func TestTenantLimitKey(t *testing.T) {
	assert.Equal(t, "org:o1", Tenant{OrgID: "o1", UserID: "u1"}.LimitKey())
	assert.Equal(t, "user:u1", Tenant{UserID: "u1"}.LimitKey())
	assert.Equal(t, "anonymous", Tenant{}.LimitKey())
}

func TestTenantFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderOrgID, " org-9 ")
	h.Set(HeaderOrgRole, "Viewer")
	h.Set(HeaderOrgPlan, "FREE")

	tenant := TenantFromHeader(h)
	assert.Equal(t, Tenant{OrgID: "org-9", Role: "viewer", Plan: "free"}, tenant)
	assert.Equal(t, "org:org-9", tenant.LimitKey())
	assert.Equal(t, "anonymous", TenantFromHeader(http.Header{}).LimitKey())
}
