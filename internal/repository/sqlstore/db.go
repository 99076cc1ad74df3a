package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"personas-registry/internal/dbx"
	"personas-registry/internal/repository"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect identifies the SQL backend behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB owns the connection pool and vends transaction-scoped repositories.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

var _ repository.Store = (*DB)(nil)

// Open connects to the database described by dsn and applies pending
// migrations. Postgres URLs (postgres://, postgresql://, optionally with a
// +driver suffix) use pgx; anything else is treated as a sqlite path.
func Open(ctx context.Context, dsn string) (*DB, error) {
	dialect, source := ParseDSN(dsn)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", source)
		if err != nil {
			return nil, fmt.Errorf("open postgres db: %w", err)
		}
	default:
		db, err = openSQLite(source)
		if err != nil {
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	store := &DB{db: db, dialect: dialect}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if dialect == DialectSQLite {
		// one writer at a time keeps sqlite away from SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return store, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return db, nil
}

// ParseDSN splits a connection string into its dialect and the source the
// driver expects.
func ParseDSN(dsn string) (Dialect, string) {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return DialectSQLite, dsn
	}

	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
		return DialectPostgres, base + "://" + rest
	case "sqlite", "sqlite3":
		// sqlite:///relative.db and sqlite:////abs.db
		if strings.HasPrefix(rest, "/") {
			rest = rest[1:]
		}
		return DialectSQLite, rest
	default:
		return DialectSQLite, dsn
	}
}

func (d *DB) migrate(ctx context.Context) error {
	gooseDialect := goose.DialectSQLite3
	if d.dialect == DialectPostgres {
		gooseDialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, "migrations/"+string(d.dialect))
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, d.db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Dialect reports the backend in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	return dbx.WithTx(ctx, d.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, repositories{q: tx, dialect: d.dialect})
	})
}

type repositories struct {
	q       dbx.DBTX
	dialect Dialect
}

func (r repositories) Users() repository.UserRepository {
	return &UserRepository{q: r.q, dialect: r.dialect}
}

func (r repositories) Personas() repository.PersonaRepository {
	return &PersonaRepository{q: r.q, dialect: r.dialect}
}

// rebind rewrites ? placeholders into the positional form the dialect uses.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, ch := range query {
		if ch != '?' {
			b.WriteRune(ch)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
