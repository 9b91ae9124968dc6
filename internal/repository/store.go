// Package repository persists personas and archived calls.
package repository

import (
	"context"

	"github.com/xiaot623/salescall/internal/domain"
)

// Store defines the persistence operations used by the service layer.
// Lookups return nil, nil when the row does not exist.
type Store interface {
	CreatePersona(ctx context.Context, persona *domain.Persona) error
	GetPersona(ctx context.Context, personaID string) (*domain.Persona, error)
	ListPersonas(ctx context.Context) ([]domain.Persona, error)

	SaveCall(ctx context.Context, record *domain.CallRecord) error
	GetCall(ctx context.Context, sessionID string) (*domain.CallRecord, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
