package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"personas-registry/internal/domain"
	"personas-registry/internal/repository"
)

const maxFieldLength = 255

var (
	ErrPersonaNotFound  = errors.New("persona not found")
	ErrRUTAlreadyExists = errors.New("rut already registered")
	ErrInvalidPersona   = errors.New("invalid persona")
)

// RUTTokenizer maps a raw RUT to its client-facing display token.
type RUTTokenizer interface {
	Token(raw string) string
}

// Digester computes salted one-way digests and checks values against them.
type Digester interface {
	Hash(value string) (string, error)
	Matches(value, encoded string) (bool, error)
}

// PersonaInput carries the fields accepted on creation.
type PersonaInput struct {
	RUT        string
	FirstName  string
	LastName   string
	ReligionID int
}

// PersonaUpdate replaces every mutable field of a persona.
type PersonaUpdate struct {
	FirstName  string
	LastName   string
	ReligionID int
}

// PersonaService manages persona records and only ever returns redacted views.
type PersonaService interface {
	Create(ctx context.Context, in PersonaInput) (*domain.PersonaView, error)
	List(ctx context.Context) ([]domain.PersonaView, error)
	Get(ctx context.Context, publicID string) (*domain.PersonaView, error)
	Update(ctx context.Context, publicID string, in PersonaUpdate) (*domain.PersonaView, error)
	Delete(ctx context.Context, publicID string) error
	// VerifyReligion reports whether religionID is the value last stored for
	// the persona, without the stored value ever being readable.
	VerifyReligion(ctx context.Context, publicID string, religionID int) (bool, error)
}

type personaService struct {
	store     repository.Store
	tokenizer RUTTokenizer
	digester  Digester
	newID     func() string
}

func NewPersonaService(store repository.Store, tokenizer RUTTokenizer, digester Digester) PersonaService {
	return &personaService{
		store:     store,
		tokenizer: tokenizer,
		digester:  digester,
		newID:     uuid.NewString,
	}
}

func (s *personaService) Create(ctx context.Context, in PersonaInput) (*domain.PersonaView, error) {
	in.RUT = strings.TrimSpace(in.RUT)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateField("rut", in.RUT); err != nil {
		return nil, err
	}
	if err := validateNames(in.FirstName, in.LastName); err != nil {
		return nil, err
	}

	religionHash, err := s.digester.Hash(strconv.Itoa(in.ReligionID))
	if err != nil {
		return nil, fmt.Errorf("hash religion: %w", err)
	}

	persona := &domain.Persona{
		PublicID:     s.newID(),
		RUT:          in.RUT,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		ReligionHash: religionHash,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Personas().GetByRUT(ctx, persona.RUT); err == nil {
			return ErrRUTAlreadyExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if _, err := repos.Personas().Create(ctx, persona); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return ErrRUTAlreadyExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.redact(persona), nil
}

func (s *personaService) List(ctx context.Context) ([]domain.PersonaView, error) {
	var personas []domain.Persona
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		personas, err = repos.Personas().List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]domain.PersonaView, len(personas))
	for i := range personas {
		views[i] = *s.redact(&personas[i])
	}
	return views, nil
}

func (s *personaService) Get(ctx context.Context, publicID string) (*domain.PersonaView, error) {
	var persona *domain.Persona
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		persona, err = repos.Personas().GetByPublicID(ctx, publicID)
		return notFound(err)
	})
	if err != nil {
		return nil, err
	}
	return s.redact(persona), nil
}

func (s *personaService) Update(ctx context.Context, publicID string, in PersonaUpdate) (*domain.PersonaView, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateNames(in.FirstName, in.LastName); err != nil {
		return nil, err
	}

	religionHash, err := s.digester.Hash(strconv.Itoa(in.ReligionID))
	if err != nil {
		return nil, fmt.Errorf("hash religion: %w", err)
	}

	var persona *domain.Persona
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		persona, err = repos.Personas().GetByPublicID(ctx, publicID)
		if err != nil {
			return notFound(err)
		}

		persona.FirstName = in.FirstName
		persona.LastName = in.LastName
		persona.ReligionHash = religionHash
		return notFound(repos.Personas().Update(ctx, persona))
	})
	if err != nil {
		return nil, err
	}
	return s.redact(persona), nil
}

func (s *personaService) Delete(ctx context.Context, publicID string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return notFound(repos.Personas().Delete(ctx, publicID))
	})
}

func (s *personaService) VerifyReligion(ctx context.Context, publicID string, religionID int) (bool, error) {
	var persona *domain.Persona
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		persona, err = repos.Personas().GetByPublicID(ctx, publicID)
		return notFound(err)
	})
	if err != nil {
		return false, err
	}

	ok, err := s.digester.Matches(strconv.Itoa(religionID), persona.ReligionHash)
	if err != nil {
		return false, fmt.Errorf("verify religion: %w", err)
	}
	return ok, nil
}

func (s *personaService) redact(p *domain.Persona) *domain.PersonaView {
	return &domain.PersonaView{
		PublicID:  p.PublicID,
		RUTToken:  s.tokenizer.Token(p.RUT),
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPersonaNotFound
	}
	return err
}

func validateNames(first, last string) error {
	if err := validateField("nombre", first); err != nil {
		return err
	}
	return validateField("apellido", last)
}

func validateField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidPersona, name)
	}
	if utf8.RuneCountInString(value) > maxFieldLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidPersona, name, maxFieldLength)
	}
	return nil
}
