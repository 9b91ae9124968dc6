// Package v1 provides the REST handlers of the call simulator.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
	"github.com/xiaot623/salescall/internal/service"
)

// SessionCloser closes live connections of an ended session.
type SessionCloser interface {
	CloseSession(sessionID string) int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	closer  SessionCloser
	logger  *zap.Logger
}

// NewHandler creates a new handler. closer may be nil.
func NewHandler(svc *service.Service, closer SessionCloser, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: svc,
		closer:  closer,
		logger:  logger.With(zap.String("component", "http_v1")),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/voice-agent/start", h.StartSession)
	e.POST("/api/voice-agent/message", h.SendMessage)
	e.POST("/api/voice-agent/end", h.EndSession)

	e.POST("/api/text-to-speech", h.TextToSpeech)
	e.POST("/api/generate-feedback", h.GenerateFeedback)

	e.POST("/api/personas", h.CreatePersona)
	e.GET("/api/personas", h.ListPersonas)
	e.GET("/api/personas/:persona_id", h.GetPersona)

	e.GET("/api/calls/:session_id", h.GetCall)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// writeError maps service errors to status codes and the uniform body.
func (h *Handler) writeError(c echo.Context, err error) error {
	var (
		verr     *domain.ValidationError
		perr     *domain.PolicyError
		upstream *domain.UpstreamServiceError
	)
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: verr.Error()})
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "Session not found"})
	case errors.Is(err, domain.ErrPersonaNotFound):
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "Persona not found"})
	case errors.Is(err, domain.ErrCallNotFound):
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: "Call not found"})
	case errors.Is(err, domain.ErrLiveCallActive):
		return c.JSON(http.StatusConflict, domain.ErrorResponse{Error: err.Error()})
	case errors.As(err, &perr):
		return c.JSON(http.StatusForbidden, domain.ErrorResponse{Error: perr.Error()})
	case errors.As(err, &upstream):
		h.logger.Warn("upstream failure", zap.String("phase", string(upstream.Phase)), zap.Error(err))
		return c.JSON(http.StatusBadGateway, domain.ErrorResponse{Error: upstream.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "internal error"})
	}
}
