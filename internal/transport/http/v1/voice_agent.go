package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// StartSession creates a session for a persona.
// POST /api/voice-agent/start
func (h *Handler) StartSession(c echo.Context) error {
	var req domain.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	resp, err := h.service.StartSession(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// SendMessage streams the prospect's reply as newline-delimited JSON.
// POST /api/voice-agent/message
func (h *Handler) SendMessage(c echo.Context) error {
	var req domain.MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	res := c.Response()
	flusher, _ := res.Writer.(http.Flusher)
	started := false

	err := h.service.SendMessage(c.Request().Context(), req, func(ev domain.ReplyEvent) error {
		if !started {
			res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
			res.Header().Set("Cache-Control", "no-cache")
			res.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := res.Write(append(data, '\n')); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil {
		if !started {
			return h.writeError(c, err)
		}
		// Headers are out; the client sees the stream end without done.
		h.logger.Warn("reply stream ended early", zap.String("session_id", req.SessionID), zap.Error(err))
	}
	return nil
}

// EndSession ends a session and returns coaching feedback.
// POST /api/voice-agent/end
func (h *Handler) EndSession(c echo.Context) error {
	var req domain.EndSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	resp, err := h.service.EndSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return h.writeError(c, err)
	}
	if h.closer != nil {
		h.closer.CloseSession(req.SessionID)
	}
	return c.JSON(http.StatusOK, resp)
}
