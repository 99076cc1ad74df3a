package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"personas-registry/internal/domain"
	"personas-registry/internal/repository"
	"personas-registry/internal/repository/sqlstore"
	"personas-registry/internal/security/digest"
	"personas-registry/internal/security/password"
	"personas-registry/internal/security/ruttoken"
)

func newTestStore(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestHasher(t *testing.T) *password.Bcrypt {
	t.Helper()
	h, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func newTestTokenizer(t *testing.T) *ruttoken.Tokenizer {
	t.Helper()
	tk, err := ruttoken.New("test-rut-key")
	require.NoError(t, err)
	return tk
}

func newTestDigester() *digest.Argon2id {
	return digest.NewArgon2id(digest.Params{
		MemoryKiB:   1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
}

// blindStore runs units of work on a real store but hides existing rows from
// the GetByRUT and GetByEmail lookups, leaving the UNIQUE constraints as the
// only guard against duplicates.
type blindStore struct {
	repository.Store
}

func (s blindStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return fn(ctx, blindRepositories{repos})
	})
}

type blindRepositories struct {
	repository.Repositories
}

func (r blindRepositories) Users() repository.UserRepository {
	return blindUsers{r.Repositories.Users()}
}

func (r blindRepositories) Personas() repository.PersonaRepository {
	return blindPersonas{r.Repositories.Personas()}
}

type blindUsers struct {
	repository.UserRepository
}

func (blindUsers) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, repository.ErrNotFound
}

type blindPersonas struct {
	repository.PersonaRepository
}

func (blindPersonas) GetByRUT(context.Context, string) (*domain.Persona, error) {
	return nil, repository.ErrNotFound
}
