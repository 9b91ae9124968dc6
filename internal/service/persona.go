package service

import (
	"context"

	"github.com/xiaot623/salescall/internal/domain"
)

// CreatePersona stores a persona for later sessions.
func (s *Service) CreatePersona(ctx context.Context, req domain.CreatePersonaRequest) (*domain.Persona, error) {
	p, err := s.personas.Create(ctx, req)
	if err != nil {
		s.countUpstream(err)
		return nil, err
	}
	return p, nil
}

// GetPersona returns a stored persona.
func (s *Service) GetPersona(ctx context.Context, personaID string) (*domain.Persona, error) {
	return s.personas.Get(ctx, personaID)
}

// ListPersonas returns every stored persona.
func (s *Service) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	return s.personas.List(ctx)
}
