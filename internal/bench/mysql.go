package bench

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver

	"github.com/mhdali93/poolbench/pkg/errors"
)

// SQLBackend runs the workload over database/sql with the MySQL driver.
// Open hands out dedicated connections (sql.Conn), so the pool under
// test still controls concurrency in pooled mode; Shared exposes the
// *sql.DB directly, which is the stdlib-pool baseline: database/sql
// does its own pooling underneath, the Go analogue of benchmarking an
// off-the-shelf pool implementation.
type SQLBackend struct {
	db    *sql.DB
	table string
}

// NewSQLBackend opens the database handle for the given DSN and table.
// The handle itself is lazy; connectivity errors surface on first use.
func NewSQLBackend(dsn, table string) (*SQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open mysql handle")
	}
	return &SQLBackend{db: db, table: table}, nil
}

// Name identifies the backend in logs and reports.
func (b *SQLBackend) Name() string { return "mysql" }

// Setup drops and recreates the benchmark table.
func (b *SQLBackend) Setup(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", b.table)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to drop table")
	}

	ddl := fmt.Sprintf(`CREATE TABLE %s (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, b.table)
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table")
	}

	return nil
}

// Open checks out one dedicated connection.
func (b *SQLBackend) Open(ctx context.Context) (Store, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open mysql connection")
	}
	return &sqlConnStore{conn: conn, table: b.table}, nil
}

// Shared returns a concurrency-safe store over the *sql.DB itself,
// leaving all pooling to database/sql.
func (b *SQLBackend) Shared() Store {
	return &sqlDBStore{db: b.db, table: b.table}
}

// Close closes the database handle and its idle connections.
func (b *SQLBackend) Close(ctx context.Context) error {
	return b.db.Close()
}

// sqlConnStore is one dedicated database/sql connection.
type sqlConnStore struct {
	conn  *sql.Conn
	table string
}

func (s *sqlConnStore) InsertUser(ctx context.Context, username, email string) error {
	q := fmt.Sprintf("INSERT INTO %s (username, email) VALUES (?, ?)", s.table)
	if _, err := s.conn.ExecContext(ctx, q, username, email); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "insert failed")
	}
	return nil
}

func (s *sqlConnStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	q := fmt.Sprintf("SELECT id, username, email, created_at FROM %s WHERE id = ?", s.table)
	return scanUser(s.conn.QueryRowContext(ctx, q, id), id)
}

func (s *sqlConnStore) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	q := fmt.Sprintf("UPDATE %s SET email = ? WHERE id = ?", s.table)
	res, err := s.conn.ExecContext(ctx, q, email, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "update failed")
	}
	return checkAffected(res, id)
}

func (s *sqlConnStore) Close(ctx context.Context) error {
	return s.conn.Close()
}

// sqlDBStore runs every operation against the shared *sql.DB.
type sqlDBStore struct {
	db    *sql.DB
	table string
}

func (s *sqlDBStore) InsertUser(ctx context.Context, username, email string) error {
	q := fmt.Sprintf("INSERT INTO %s (username, email) VALUES (?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, username, email); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "insert failed")
	}
	return nil
}

func (s *sqlDBStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	q := fmt.Sprintf("SELECT id, username, email, created_at FROM %s WHERE id = ?", s.table)
	return scanUser(s.db.QueryRowContext(ctx, q, id), id)
}

func (s *sqlDBStore) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	q := fmt.Sprintf("UPDATE %s SET email = ? WHERE id = ?", s.table)
	res, err := s.db.ExecContext(ctx, q, email, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "update failed")
	}
	return checkAffected(res, id)
}

// Close is a no-op: the *sql.DB is owned by the backend.
func (s *sqlDBStore) Close(ctx context.Context) error { return nil }

func scanUser(row *sql.Row, id int64) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	return &u, nil
}

func checkAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to read affected rows")
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}
