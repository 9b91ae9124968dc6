// Package http assembles the call simulator's HTTP server.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/adapter/stt"
	"github.com/xiaot623/salescall/internal/config"
	"github.com/xiaot623/salescall/internal/hub"
	"github.com/xiaot623/salescall/internal/metrics"
	"github.com/xiaot623/salescall/internal/service"
	"github.com/xiaot623/salescall/internal/transport/http/live"
	v1 "github.com/xiaot623/salescall/internal/transport/http/v1"
)

// MockSTTPath is where the in-process speech-to-text endpoint is mounted
// in mock mode.
const MockSTTPath = "/mock/stt/listen"

// NewServer creates and configures the HTTP server: REST API, live call
// websocket, health and metrics.
func NewServer(cfg *config.Config, svc *service.Service, h *hub.Hub, collector *metrics.Collector, gatherer prometheus.Gatherer, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if collector != nil {
		e.Use(collector.Middleware())
	}

	// Handlers
	v1Handler := v1.NewHandler(svc, h, logger)
	liveServer := live.NewServer(cfg, svc, h, logger)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	liveServer.RegisterRoutes(e)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.IsMock() {
		e.GET(MockSTTPath, echo.WrapHandler(stt.NewMockServer("", logger)))
	}

	return e
}
