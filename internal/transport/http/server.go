// Package http provides the HTTP server implementation for the relay.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kilonzo683/smartwebai-sub002/internal/logging"
	"github.com/kilonzo683/smartwebai-sub002/internal/metrics"
	"github.com/kilonzo683/smartwebai-sub002/internal/service"
	"github.com/kilonzo683/smartwebai-sub002/internal/transport/http/relay"
	v1 "github.com/kilonzo683/smartwebai-sub002/internal/transport/http/v1"
)

// RouteRegistrar adds routes to the server, e.g. the WebSocket endpoint.
// Registrars that also implement v1.HealthReporter contribute to /health.
type RouteRegistrar interface {
	RegisterRoutes(e *echo.Echo)
}

// NewServer creates and configures the relay HTTP server.
func NewServer(svc *service.Service, logger zerolog.Logger, extra ...RouteRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(logging.RequestLogger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	var reporters []v1.HealthReporter
	for _, r := range extra {
		if hr, ok := r.(v1.HealthReporter); ok {
			reporters = append(reporters, hr)
		}
	}
	v1Handler := v1.NewHandler(svc, reporters...)
	relayHandler := relay.NewHandler(svc, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	relayHandler.RegisterRoutes(e)
	for _, r := range extra {
		r.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
