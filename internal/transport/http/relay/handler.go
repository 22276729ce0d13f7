// Package relay serves the streaming chat endpoint.
package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
)

// HeaderRequestID carries the relay request id on streamed responses.
const HeaderRequestID = "X-Relay-Request-ID"

const copyBufferSize = 4096

// Handler handles relay HTTP requests.
type Handler struct {
	service *service.Service
	logger  zerolog.Logger
}

// NewHandler creates a new relay handler.
func NewHandler(service *service.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers relay routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
}

// Chat relays a conversation to the upstream provider and streams the
// provider's event stream back unmodified.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RelayRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, domain.NewBadRequest("invalid request body"))
	}

	stream, err := h.service.Relay(ctx, service.RelayCall{
		Tenant:    domain.TenantFromHeader(c.Request().Header),
		SessionID: c.Request().Header.Get(domain.HeaderSessionID),
		Request:   req,
	})
	if err != nil {
		return WriteError(c, err)
	}
	defer stream.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set(HeaderRequestID, stream.RequestID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err := res.Write(buf[:n]); err != nil {
				h.logger.Debug().Err(err).Str("request_id", stream.RequestID).Msg("client went away")
				return nil
			}
			res.Flush()
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			// Headers are already sent; the client sees a truncated stream.
			h.logger.Warn().Err(readErr).Str("request_id", stream.RequestID).Msg("upstream stream interrupted")
			return nil
		}
	}
}

// WriteError writes err as a JSON error body with the status of its kind.
func WriteError(c echo.Context, err error) error {
	re := domain.AsRelayError(err)
	return c.JSON(re.Status(), domain.ErrorBody{
		Error: re.ClientMessage(),
		Code:  string(re.Kind),
	})
}
