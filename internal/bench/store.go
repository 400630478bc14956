// Package bench implements the pooled-versus-direct database benchmark.
// It reuses one workload (a users table exercised by insert, query and
// update phases) against three connection strategies: the bounded
// resource pool under test, a fresh connection per operation, and
// database/sql's built-in pooling.
package bench

import (
	"context"
	"time"

	"github.com/mhdali93/poolbench/pkg/errors"
)

// User is the single row type of the benchmark workload.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is one database connection as seen by the workload. A Store is
// not safe for concurrent use unless its implementation says otherwise;
// the pool or the per-operation open guarantees exclusive access.
type Store interface {
	// InsertUser adds a user; IDs are assigned by the backend in
	// insertion order starting at 1.
	InsertUser(ctx context.Context, username, email string) error
	// GetUserByID fetches a user by ID
	GetUserByID(ctx context.Context, id int64) (*User, error)
	// UpdateUserEmail replaces a user's email
	UpdateUserEmail(ctx context.Context, id int64, email string) error
	// Close releases the underlying connection
	Close(ctx context.Context) error
}

// Connector opens connections to one backend. The pool manages opened
// stores as opaque handles; direct mode opens and closes one per
// operation.
type Connector interface {
	// Name identifies the backend in logs and reports
	Name() string
	// Setup creates a fresh benchmark table, dropping any previous one
	Setup(ctx context.Context) error
	// Open establishes one connection
	Open(ctx context.Context) (Store, error)
	// Close releases anything the connector itself holds
	Close(ctx context.Context) error
}

// notFound builds the error every backend returns for a missing user.
func notFound(id int64) error {
	return errors.New(errors.ErrorTypeQuery, "user not found").WithDetail("id", id)
}
