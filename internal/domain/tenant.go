package domain

import (
	"net/http"
	"strings"
)

// Tenant carries the organization context of a single request.
// It is built at the transport edge and passed down explicitly.
type Tenant struct {
	OrgID  string `json:"org_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"` // owner, admin, member, viewer
	Plan   string `json:"plan,omitempty"` // free, pro, enterprise
}

// LimitKey returns the key used to rate limit this tenant.
func (t Tenant) LimitKey() string {
	switch {
	case t.OrgID != "":
		return "org:" + t.OrgID
	case t.UserID != "":
		return "user:" + t.UserID
	default:
		return "anonymous"
	}
}

// Headers the relay reads the tenant and session from.
const (
	HeaderOrgID     = "X-Org-ID"
	HeaderUserID    = "X-User-ID"
	HeaderOrgRole   = "X-Org-Role"
	HeaderOrgPlan   = "X-Org-Plan"
	HeaderSessionID = "X-Session-ID"
)

// TenantFromHeader builds a Tenant from request headers. Missing headers
// leave the field empty.
func TenantFromHeader(h http.Header) Tenant {
	return Tenant{
		OrgID:  strings.TrimSpace(h.Get(HeaderOrgID)),
		UserID: strings.TrimSpace(h.Get(HeaderUserID)),
		Role:   strings.ToLower(strings.TrimSpace(h.Get(HeaderOrgRole))),
		Plan:   strings.ToLower(strings.TrimSpace(h.Get(HeaderOrgPlan))),
	}
}
