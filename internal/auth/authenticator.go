package auth

import (
	"context"
	"errors"
	"fmt"

	"personas-registry/internal/domain"
	"personas-registry/internal/repository"
)

var (
	// ErrUnauthenticated is wrapped by every rejection from Authenticate.
	ErrUnauthenticated = errors.New("could not validate credentials")

	ErrNoToken        = errors.New("no session token")
	ErrBadScheme      = errors.New("malformed session value")
	ErrUnknownSubject = errors.New("token subject not registered")
)

// Verifier validates a raw token and returns its subject.
type Verifier interface {
	Verify(token string) (string, error)
}

// UserResolver looks up the account behind a verified subject. A missing
// account is reported with an error wrapping repository.ErrNotFound.
type UserResolver interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Authenticator turns a session cookie value into a registered user.
type Authenticator struct {
	verifier Verifier
	users    UserResolver
}

func NewAuthenticator(verifier Verifier, users UserResolver) *Authenticator {
	return &Authenticator{verifier: verifier, users: users}
}

// Authenticate returns the user owning the session value. Rejections wrap
// ErrUnauthenticated; any other error is an infrastructure failure.
func (a *Authenticator) Authenticate(ctx context.Context, value string) (*domain.User, error) {
	token, err := ParseBearer(value)
	if err != nil {
		return nil, reject(err)
	}

	subject, err := a.verifier.Verify(token)
	if err != nil {
		return nil, reject(err)
	}

	user, err := a.users.GetByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, reject(ErrUnknownSubject)
		}
		return nil, fmt.Errorf("resolve session subject: %w", err)
	}
	return user, nil
}

func reject(cause error) error {
	return fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
}

// Reason returns a stable label for the cause of an authentication failure.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case errors.Is(err, ErrBadScheme):
		return "bad_scheme"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenMissingClaim):
		return "missing_claim"
	case errors.Is(err, ErrUnknownSubject):
		return "unknown_subject"
	default:
		return "other"
	}
}
