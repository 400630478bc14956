package bench

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mhdali93/poolbench/pkg/errors"
)

// PgBackend opens single PostgreSQL connections via pgx. Each Open is
// one *pgx.Conn; pooling, when wanted, is done by the resource pool
// under test, never by pgxpool, so the benchmark measures our pool and
// not the driver's.
type PgBackend struct {
	dsn   string
	table string
}

// NewPgBackend creates a PostgreSQL backend for the given DSN and table.
func NewPgBackend(dsn, table string) *PgBackend {
	return &PgBackend{dsn: dsn, table: table}
}

// Name identifies the backend in logs and reports.
func (b *PgBackend) Name() string { return "postgres" }

// Setup drops and recreates the benchmark table.
func (b *PgBackend) Setup(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect for setup")
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", b.table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop table")
	}

	ddl := fmt.Sprintf(`CREATE TABLE %s (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, b.table)
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table")
	}

	return nil
}

// Open establishes one connection.
func (b *PgBackend) Open(ctx context.Context) (Store, error) {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to postgres")
	}
	return &pgStore{conn: conn, table: b.table}, nil
}

// Close releases nothing; every connection is owned by its store.
func (b *PgBackend) Close(ctx context.Context) error { return nil }

// pgStore is one PostgreSQL connection.
type pgStore struct {
	conn  *pgx.Conn
	table string
}

func (s *pgStore) InsertUser(ctx context.Context, username, email string) error {
	sql := fmt.Sprintf("INSERT INTO %s (username, email) VALUES ($1, $2)", s.table)
	if _, err := s.conn.Exec(ctx, sql, username, email); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "insert failed")
	}
	return nil
}

func (s *pgStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	sql := fmt.Sprintf("SELECT id, username, email, created_at FROM %s WHERE id = $1", s.table)

	var u User
	err := s.conn.QueryRow(ctx, sql, id).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	return &u, nil
}

func (s *pgStore) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	sql := fmt.Sprintf("UPDATE %s SET email = $1 WHERE id = $2", s.table)
	tag, err := s.conn.Exec(ctx, sql, email, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "update failed")
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *pgStore) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
