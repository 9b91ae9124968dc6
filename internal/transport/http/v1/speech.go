package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/salescall/internal/domain"
)

// TextToSpeech returns synthesized audio bytes.
// POST /api/text-to-speech
func (h *Handler) TextToSpeech(c echo.Context) error {
	var req domain.SpeechRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	clip, err := h.service.Synthesize(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Blob(http.StatusOK, clip.ContentType, clip.Data)
}

// GenerateFeedback reviews a caller-supplied transcript.
// POST /api/generate-feedback
func (h *Handler) GenerateFeedback(c echo.Context) error {
	var req domain.FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	feedback, err := h.service.GenerateFeedback(c.Request().Context(), req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return h.writeError(c, err)
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Failed to generate feedback",
		})
	}
	return c.JSON(http.StatusOK, domain.FeedbackResponse{Success: true, Feedback: feedback})
}
