package bench

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhdali93/poolbench/pkg/errors"
)

// MemBackend is an in-process backend used by tests and by compare runs
// that have no database available. It behaves like a tiny server: all
// opened stores share the same table, opening a connection can be given
// a cost, and each operation can carry artificial latency so contention
// on the pool is observable.
type MemBackend struct {
	openDelay time.Duration
	opDelay   time.Duration

	opens int64

	mu     sync.RWMutex
	users  map[int64]*User
	nextID int64
}

// NewMemBackend creates a memory backend. openDelay is charged on every
// Open (the analogue of a connection handshake); opDelay on every
// operation.
func NewMemBackend(openDelay, opDelay time.Duration) *MemBackend {
	return &MemBackend{
		openDelay: openDelay,
		opDelay:   opDelay,
		users:     make(map[int64]*User),
	}
}

// Name identifies the backend in logs and reports.
func (b *MemBackend) Name() string { return "memory" }

// Setup resets the table.
func (b *MemBackend) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = make(map[int64]*User)
	b.nextID = 0
	return nil
}

// Open establishes one connection, charging the configured open cost.
func (b *MemBackend) Open(ctx context.Context) (Store, error) {
	if b.openDelay > 0 {
		select {
		case <-time.After(b.openDelay):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeConnection, "open cancelled")
		}
	}
	atomic.AddInt64(&b.opens, 1)
	return &memStore{backend: b}, nil
}

// Shared returns a store safe for concurrent use by many workers. It
// does not count as an opened connection.
func (b *MemBackend) Shared() Store {
	return &memStore{backend: b}
}

// Opens returns how many connections were ever opened. Tests use it to
// assert that pooled runs open exactly pool-capacity connections.
func (b *MemBackend) Opens() int64 {
	return atomic.LoadInt64(&b.opens)
}

// Close releases nothing; the backend lives in process memory.
func (b *MemBackend) Close(ctx context.Context) error { return nil }

// memStore is one connection to the memory backend.
type memStore struct {
	backend *MemBackend
	closed  int32
}

func (s *memStore) check() error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return errors.New(errors.ErrorTypeConnection, "store is closed")
	}
	return nil
}

func (s *memStore) delay() {
	if s.backend.opDelay > 0 {
		time.Sleep(s.backend.opDelay)
	}
}

func (s *memStore) InsertUser(ctx context.Context, username, email string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.delay()

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.nextID++
	s.backend.users[s.backend.nextID] = &User{
		ID:        s.backend.nextID,
		Username:  username,
		Email:     email,
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *memStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.delay()

	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()
	u, ok := s.backend.users[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.delay()

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	u, ok := s.backend.users[id]
	if !ok {
		return notFound(id)
	}
	u.Email = email
	return nil
}

func (s *memStore) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}
