package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"personas-registry/internal/domain"
	"personas-registry/internal/repository"
	"personas-registry/internal/security/password"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when attempting to register an existing email.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrInvalidUser is returned for registration input that fails validation.
	ErrInvalidUser = errors.New("invalid user")
)

// TokenIssuer mints session tokens for an authenticated subject.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// Session is the result of a successful login.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	// GetByEmail returns an error wrapping repository.ErrNotFound when the
	// account does not exist.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type userService struct {
	store  repository.Store
	hasher password.Hasher
	tokens TokenIssuer

	dummyOnce   sync.Once
	dummyDigest string
}

func NewUserService(store repository.Store, hasher password.Hasher, tokens TokenIssuer) UserService {
	return &userService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
	}
}

func (s *userService) Register(ctx context.Context, email, plaintext string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if plaintext == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidUser)
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Users().GetByEmail(ctx, email); err == nil {
			return ErrUserAlreadyExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if _, err := repos.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return ErrUserAlreadyExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sanitizeUser(user), nil
}

// Authenticate checks the credentials. Unknown emails and wrong passwords both
// cost one hash comparison and both return ErrInvalidCredentials.
func (s *userService) Authenticate(ctx context.Context, email, plaintext string) (*domain.User, error) {
	email = strings.TrimSpace(email)

	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users().GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Verify(plaintext, s.dummy())
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(plaintext, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return sanitizeUser(user), nil
}

func (s *userService) Login(ctx context.Context, email, plaintext string) (*Session, error) {
	user, err := s.Authenticate(ctx, email, plaintext)
	if err != nil {
		return nil, err
	}

	token, exp, err := s.tokens.Issue(user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *userService) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users().GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

// dummy returns a digest of a fixed value, used to spend the same hashing
// work on unknown accounts as on known ones.
func (s *userService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = s.hasher.Hash("personas-registry/unknown-account")
	})
	return s.dummyDigest
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
}
