package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/salescall/internal/domain"
)

// CreatePersona stores a buyer persona.
// POST /api/personas
func (h *Handler) CreatePersona(c echo.Context) error {
	var req domain.CreatePersonaRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	persona, err := h.service.CreatePersona(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"personaId":    persona.PersonaID,
		"name":         persona.Name,
		"systemPrompt": persona.SystemPrompt,
		"metadata":     persona.Metadata,
	})
}

// GetPersona returns a stored persona.
// GET /api/personas/:persona_id
func (h *Handler) GetPersona(c echo.Context) error {
	persona, err := h.service.GetPersona(c.Request().Context(), c.Param("persona_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, persona)
}

// ListPersonas lists stored personas.
// GET /api/personas
func (h *Handler) ListPersonas(c echo.Context) error {
	personas, err := h.service.ListPersonas(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	if personas == nil {
		personas = []domain.Persona{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"personas": personas})
}

// GetCall returns an archived call.
// GET /api/calls/:session_id
func (h *Handler) GetCall(c echo.Context) error {
	record, err := h.service.GetCall(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}
