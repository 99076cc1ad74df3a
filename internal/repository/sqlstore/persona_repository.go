package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"personas-registry/internal/dbx"
	"personas-registry/internal/domain"
	"personas-registry/internal/repository"
)

const personaColumns = `id, public_id, rut, first_name, last_name, religion_hash, created_at, updated_at`

type PersonaRepository struct {
	q       dbx.DBTX
	dialect Dialect
}

func (r *PersonaRepository) Create(ctx context.Context, persona *domain.Persona) (int64, error) {
	now := time.Now().UTC()
	persona.CreatedAt = now
	persona.UpdatedAt = now

	var id int64
	err := r.q.QueryRowContext(ctx, rebind(r.dialect, `
INSERT INTO personas (public_id, rut, first_name, last_name, religion_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
		persona.PublicID,
		persona.RUT,
		persona.FirstName,
		persona.LastName,
		persona.ReligionHash,
		persona.CreatedAt,
		persona.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("persona: %w", repository.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert persona: %w", err)
	}

	persona.ID = id
	return id, nil
}

func (r *PersonaRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Persona, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, `
SELECT `+personaColumns+`
FROM personas
WHERE public_id = ?`),
		publicID,
	)
	return scanPersona(row)
}

func (r *PersonaRepository) GetByRUT(ctx context.Context, rut string) (*domain.Persona, error) {
	row := r.q.QueryRowContext(ctx, rebind(r.dialect, `
SELECT `+personaColumns+`
FROM personas
WHERE rut = ?`),
		rut,
	)
	return scanPersona(row)
}

func (r *PersonaRepository) List(ctx context.Context) ([]domain.Persona, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT `+personaColumns+`
FROM personas
ORDER BY first_name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	personas := make([]domain.Persona, 0)
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, *persona)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return personas, nil
}

func (r *PersonaRepository) Update(ctx context.Context, persona *domain.Persona) error {
	persona.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx, rebind(r.dialect, `
UPDATE personas
SET first_name = ?, last_name = ?, religion_hash = ?, updated_at = ?
WHERE public_id = ?`),
		persona.FirstName,
		persona.LastName,
		persona.ReligionHash,
		persona.UpdatedAt,
		persona.PublicID,
	)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	return requireAffected(res, "update persona")
}

func (r *PersonaRepository) Delete(ctx context.Context, publicID string) error {
	res, err := r.q.ExecContext(ctx, rebind(r.dialect, `DELETE FROM personas WHERE public_id = ?`), publicID)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	return requireAffected(res, "delete persona")
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return nil
}

func scanPersona(row interface {
	Scan(dest ...any) error
}) (*domain.Persona, error) {
	var persona domain.Persona
	if err := row.Scan(
		&persona.ID,
		&persona.PublicID,
		&persona.RUT,
		&persona.FirstName,
		&persona.LastName,
		&persona.ReligionHash,
		&persona.CreatedAt,
		&persona.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("persona: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan persona: %w", err)
	}
	return &persona, nil
}
