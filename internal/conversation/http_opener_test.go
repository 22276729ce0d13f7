package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

func newOpener(t *testing.T, handler http.HandlerFunc) *HTTPOpener {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opener := NewHTTPOpener(srv.URL + "/")
	opener.Client = srv.Client()
	return opener
}

func TestHTTPOpenerStreams(t *testing.T) {
	var got domain.RelayRequest
	opener := newOpener(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "org-1", r.Header.Get("X-Org-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, part := range []string{helloStream[:20], helloStream[20:61], helloStream[61:]} {
			_, _ = w.Write([]byte(part))
			flusher.Flush()
		}
	})
	opener.Header.Set("X-Org-ID", "org-1")

	s := NewSession(opener, "secretary")
	defer s.Close()

	msg, err := s.Submit(context.Background(), "Book a room")
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, "secretary", got.AgentType)
	assert.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "Book a room"}}, got.Messages)
}

func TestHTTPOpenerIdleTimeoutBeforeHeaders(t *testing.T) {
	release := make(chan struct{})
	opener := newOpener(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	s := NewSession(opener, "support", WithIdleTimeout(50*time.Millisecond))
	defer s.Close()

	_, err := s.Submit(context.Background(), "anyone there?")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
	assert.Contains(t, err.Error(), "idle timeout")
	assert.Len(t, s.Transcript(), 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestHTTPOpenerMapsStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   domain.ErrorKind
		msg    string
	}{
		{http.StatusTooManyRequests, `{"error":"Rate limits exceeded, please try again shortly."}`, domain.KindRateLimited, "Rate limits exceeded, please try again shortly."},
		{http.StatusPaymentRequired, `{"error":"Usage quota exhausted"}`, domain.KindQuotaExhausted, "Usage quota exhausted"},
		{http.StatusBadRequest, `{"error":"messages is required","code":"bad_request"}`, domain.KindBadRequest, "messages is required"},
		{http.StatusForbidden, `{"error":"blocked"}`, domain.KindForbidden, "blocked"},
		{http.StatusInternalServerError, `plain failure`, domain.KindUpstreamFailure, "plain failure"},
		{http.StatusBadGateway, ``, domain.KindUpstreamFailure, "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			opener := newOpener(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			s := NewSession(opener, "support", WithHistory(history()))
			_, err := s.Submit(context.Background(), "hi")
			require.Error(t, err)

			re := domain.AsRelayError(err)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.msg, re.Message)
			assert.Equal(t, tt.status, re.UpstreamStatus)
			assert.Len(t, s.Transcript(), 3, "placeholder must be rolled back")
		})
	}
}

func TestHTTPOpenerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPOpener(url).Open(context.Background(), domain.RelayRequest{AgentType: "support"})
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamFailure, domain.KindOf(err))
}
