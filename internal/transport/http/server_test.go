package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilonzo683/smartwebai-sub002/internal/adapter/llm"
	"github.com/kilonzo683/smartwebai-sub002/internal/config"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
	"github.com/kilonzo683/smartwebai-sub002/internal/testutil"
)

// wsStub registers a route and reports health like the websocket server.
type wsStub struct{}

func (wsStub) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/ws", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
}

func (wsStub) HealthStatus() map[string]interface{} {
	return map[string]interface{}{"connections": 0}
}

func newTestServer(t *testing.T, extra ...RouteRegistrar) *echo.Echo {
	svc := service.New(service.Deps{
		Store:    testutil.NewTestSQLiteStore(t),
		Provider: llm.NewMockClient(),
		Config:   &config.Config{RetryMaxAttempts: 1},
		Logger:   zerolog.Nop(),
	})
	return NewServer(svc, zerolog.Nop(), extra...)
}

func TestServerRoutes(t *testing.T) {
	e := newTestServer(t)

	for _, path := range []string{"/health", "/v1/agents", "/v1/models", "/v1/sessions/s1/messages", "/v1/sessions/s1/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID), path)
	}
}

func TestServerExtraRegistrarReportsHealth(t *testing.T) {
	e := newTestServer(t, wsStub{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connections":0`)
}

func TestServerMetricsEndpoint(t *testing.T) {
	e := newTestServer(t)

	// Generate at least one observation first.
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_http_requests_total")
}

func TestServerRelayEndToEnd(t *testing.T) {
	e := newTestServer(t)

	body := `{"messages":[{"role":"user","content":"ping"}],"agentType":"support"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestServerUnknownRoute(t *testing.T) {
	e := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
