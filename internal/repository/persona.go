package repository

import (
	"context"

	"personas-registry/internal/domain"
)

// PersonaRepository exposes persistence operations for Persona records.
type PersonaRepository interface {
	Create(ctx context.Context, persona *domain.Persona) (int64, error)
	GetByPublicID(ctx context.Context, publicID string) (*domain.Persona, error)
	GetByRUT(ctx context.Context, rut string) (*domain.Persona, error)
	// List returns every persona ordered by first name, then id.
	List(ctx context.Context) ([]domain.Persona, error)
	// Update replaces the mutable fields of the persona identified by PublicID.
	Update(ctx context.Context, persona *domain.Persona) error
	Delete(ctx context.Context, publicID string) error
}
