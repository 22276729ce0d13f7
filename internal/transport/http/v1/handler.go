// Package v1 provides the read-side HTTP API of the relay.
package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// HealthReporter adds component fields to the health response.
type HealthReporter interface {
	HealthStatus() map[string]interface{}
}

// Handler handles HTTP requests.
type Handler struct {
	service   *service.Service
	reporters []HealthReporter
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, reporters ...HealthReporter) *Handler {
	return &Handler{
		service:   service,
		reporters: reporters,
	}
}

// RegisterRoutes registers the v1 routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/agents", h.ListAgents)
	e.GET("/v1/models", h.ListModels)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/sessions/:session_id/events", h.GetSessionEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
	}
	for _, r := range h.reporters {
		for k, v := range r.HealthStatus() {
			resp[k] = v
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// ListAgents lists the agent personas and their system prompts.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": h.service.ListAgents(),
	})
}

// ListModels lists the models offered by the upstream provider.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.service.ListModels(c.Request().Context())
	if err != nil {
		re := domain.AsRelayError(err)
		return c.JSON(re.Status(), domain.ErrorBody{Error: re.Kind.UserMessage(), Code: string(re.Kind)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}

// GetSessionMessages retrieves the persisted transcript of a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := queryInt(c, "limit", 50)

	messages, err := h.service.GetMessages(c.Request().Context(), sessionID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if messages == nil {
		messages = []domain.StoredMessage{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit, // Approximate
	})
}

// GetSessionEvents retrieves relay events for a session.
// GET /v1/sessions/:session_id/events
func (h *Handler) GetSessionEvents(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := queryInt(c, "limit", 100)
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}
	var types []string
	if t := c.QueryParam("types"); t != "" {
		types = strings.Split(t, ",")
	}

	events, err := h.service.GetEvents(c.Request().Context(), sessionID, afterTs, types, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if events == nil {
		events = []domain.Event{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
