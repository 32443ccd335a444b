// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hireadev/rbxauth/oidc"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver(string(DialectSQLite), sqlx.QUESTION)
}

// Dialect is a supported SQL database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	return string(d)
}

func (d Dialect) gooseDialect() (goose.Dialect, error) {
	switch d {
	case DialectSQLite:
		return goose.DialectSQLite3, nil
	case DialectPostgres:
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q: %w", d, oidc.ErrInvalidParameter)
	}
}

// OpenDB opens and pings a database for the dialect. The dsn is a file path
// for SQLite and a connection URL for Postgres.
func OpenDB(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	const op = "session.OpenDB"
	if _, err := d.gooseDialect(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: missing dsn: %w", op, oidc.ErrInvalidParameter)
	}
	if d == DialectSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// Migrate applies the session schema migrations.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	const op = "session.Migrate"
	gd, err := d.gooseDialect()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p, err := goose.NewProvider(gd, db, fsys)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SQLStore is a Store backed by a SQLite or Postgres "sessions" table.
// Expired rows are never returned and are removed by PurgeExpired.
type SQLStore struct {
	db      *sqlx.DB
	nowFunc func() time.Time
}

// NewSQLStore creates a new SQLStore and, unless WithoutMigrate is used,
// applies the schema migrations.
//
// Supported options: WithDialect, WithoutMigrate, WithNow
func NewSQLStore(ctx context.Context, db *sql.DB, opt ...Option) (*SQLStore, error) {
	const op = "session.NewSQLStore"
	if db == nil {
		return nil, fmt.Errorf("%s: db is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)
	if _, err := opts.withSQLDialect.gooseDialect(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !opts.withSkipMigrate {
		if err := Migrate(ctx, db, opts.withSQLDialect); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &SQLStore{
		db:      sqlx.NewDb(db, opts.withSQLDialect.driverName()),
		nowFunc: opts.withNowFunc,
	}, nil
}

const (
	getSessionQuery = `SELECT data FROM sessions WHERE id = ? AND expires_at > ?`

	upsertSessionQuery = `INSERT INTO sessions (id, data, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    data = excluded.data,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`

	deleteSessionQuery = `DELETE FROM sessions WHERE id = ?`

	purgeSessionsQuery = `DELETE FROM sessions WHERE expires_at <= ?`
)

// Get implements the Store interface.
func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	const op = "SQLStore.Get"
	var data string
	err := s.db.GetContext(ctx, &data, s.db.Rebind(getSessionQuery), id, s.now().Unix())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sess, err := decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess, nil
}

// Set implements the Store interface.
func (s *SQLStore) Set(ctx context.Context, sess *Session) error {
	const op = "SQLStore.Set"
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%s: missing session id: %w", op, oidc.ErrInvalidParameter)
	}
	b, err := encode(sess)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertSessionQuery),
		sess.ID, string(b), sess.ExpiresAt.Unix(), sess.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements the Store interface.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	const op = "SQLStore.Delete"
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(deleteSessionQuery), id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PurgeExpired deletes every expired session and returns how many were
// removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "SQLStore.PurgeExpired"
	res, err := s.db.ExecContext(ctx, s.db.Rebind(purgeSessionsQuery), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *SQLStore) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}
