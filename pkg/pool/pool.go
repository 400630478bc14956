// Package pool provides a bounded, blocking resource pool for poolbench.
// A Pool owns a fixed set of handles created eagerly at construction and
// lends them to concurrent callers, blocking acquirers when every handle
// is outstanding. Handles are fungible: no ordering is promised between
// the values returned by successive acquires.
//
// The pool is an explicitly constructed, explicitly owned object. There
// is no process-wide pool; tests and callers create independent
// instances.
//
// Example usage:
//
//	p, err := pool.New(pool.Config[*Conn]{
//	    Name:     "postgres",
//	    Capacity: 20,
//	    Factory:  func() (*Conn, error) { return dial(addr) },
//	    Closer:   func(c *Conn) error { return c.Close() },
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close(ctx)
//
//	err = p.WithResource(ctx, func(c *Conn) error {
//	    return c.Exec(query)
//	})
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mhdali93/poolbench/pkg/errors"
	"github.com/mhdali93/poolbench/pkg/metrics"
)

// Factory creates a new resource. It is called Capacity times during
// construction and never again afterwards.
type Factory[T any] func() (T, error)

// Closer destroys a resource. It is called exactly once per handle,
// during shutdown.
type Closer[T any] func(T) error

// Config configures a Pool.
type Config[T any] struct {
	// Name identifies the pool in logs and metrics labels
	Name string
	// Capacity is the fixed number of handles ever live. Must be positive.
	Capacity int
	// Factory creates resources during construction. Required.
	Factory Factory[T]
	// Closer destroys resources during shutdown. Optional.
	Closer Closer[T]
	// Logger is the structured logger to use. Optional; a no-op logger
	// is used when nil.
	Logger *zap.Logger
}

func (c *Config[T]) check() error {
	if c.Capacity <= 0 {
		return errors.New(errors.ErrorTypeValidation, "capacity must be positive").
			WithDetail("capacity", c.Capacity)
	}
	if c.Factory == nil {
		return errors.New(errors.ErrorTypeValidation, "factory is required")
	}
	return nil
}

// Handle is a resource lent out by the pool. A handle is owned by exactly
// one of the pool's idle set or a single caller that acquired it. The
// pool does not touch the underlying resource while it is outstanding.
type Handle[T any] struct {
	value T
}

// Value returns the underlying resource.
func (h *Handle[T]) Value() T {
	return h.value
}

// Pool is a fixed-capacity blocking resource pool. It is safe for
// concurrent use by any number of callers.
type Pool[T any] struct {
	name     string
	capacity int
	closer   Closer[T]
	logger   *zap.Logger

	// idle is both the free list and the synchronization point: acquires
	// pop, releases push, blocked acquirers suspend on the receive.
	idle    chan *Handle[T]
	closing chan struct{}
	drained chan struct{}

	mu          sync.Mutex
	outstanding map[*Handle[T]]struct{}
	closed      bool
	live        int

	stats struct {
		acquires        int64
		releases        int64
		invalidReleases int64
		waited          int64
	}
}

// New creates a pool and eagerly creates Capacity handles. If the factory
// fails for any handle, every handle created so far is closed and the
// construction fails as a whole; no partial pool is ever returned.
func New[T any](cfg Config[T]) (*Pool[T], error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool[T]{
		name:        cfg.Name,
		capacity:    cfg.Capacity,
		closer:      cfg.Closer,
		logger:      log.With(zap.String("component", "pool"), zap.String("pool", cfg.Name)),
		idle:        make(chan *Handle[T], cfg.Capacity),
		closing:     make(chan struct{}),
		drained:     make(chan struct{}),
		outstanding: make(map[*Handle[T]]struct{}, cfg.Capacity),
	}

	for i := 0; i < cfg.Capacity; i++ {
		v, err := cfg.Factory()
		if err != nil {
			for j := 0; j < i; j++ {
				h := <-p.idle
				p.closeResource(h.value)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConstruction, "factory failed while pre-populating pool").
				WithDetail("pool", cfg.Name).
				WithDetail("created", i).
				WithDetail("capacity", cfg.Capacity)
		}
		p.idle <- &Handle[T]{value: v}
	}
	p.live = cfg.Capacity

	metrics.PoolIdleHandles.WithLabelValues(p.name).Set(float64(cfg.Capacity))
	metrics.PoolOutstandingHandles.WithLabelValues(p.name).Set(0)

	p.logger.Debug("pool created", zap.Int("capacity", cfg.Capacity))

	return p, nil
}

// Acquire blocks until an idle handle is available, the context is
// cancelled, or the pool is closed. Pool closure wakes every blocked
// acquirer; none hang past the shutdown signal. A cancelled or failed
// acquire never removes a handle from the idle set.
func (p *Pool[T]) Acquire(ctx context.Context) (*Handle[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		metrics.PoolAcquiresTotal.WithLabelValues(p.name, "closed").Inc()
		return nil, p.closedErr()
	}
	p.mu.Unlock()

	start := time.Now()

	var h *Handle[T]
	select {
	case h = <-p.idle:
	case <-p.closing:
		metrics.PoolAcquiresTotal.WithLabelValues(p.name, "closed").Inc()
		return nil, p.closedErr()
	case <-ctx.Done():
		metrics.PoolAcquiresTotal.WithLabelValues(p.name, "cancelled").Inc()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "acquire cancelled").
			WithDetail("pool", p.name)
	}

	p.mu.Lock()
	if p.closed {
		// Lost the race with Close: this handle was popped after the
		// drain started, so it is retired here rather than lent out.
		p.mu.Unlock()
		p.retire(h)
		metrics.PoolAcquiresTotal.WithLabelValues(p.name, "closed").Inc()
		return nil, p.closedErr()
	}
	p.outstanding[h] = struct{}{}
	idle, outstanding := len(p.idle), len(p.outstanding)
	p.mu.Unlock()

	atomic.AddInt64(&p.stats.acquires, 1)
	wait := time.Since(start)
	if wait > time.Millisecond {
		atomic.AddInt64(&p.stats.waited, 1)
	}

	metrics.PoolAcquiresTotal.WithLabelValues(p.name, "success").Inc()
	metrics.AcquireWaitSeconds.WithLabelValues(p.name).Observe(wait.Seconds())
	metrics.PoolIdleHandles.WithLabelValues(p.name).Set(float64(idle))
	metrics.PoolOutstandingHandles.WithLabelValues(p.name).Set(float64(outstanding))

	return h, nil
}

// Release returns an outstanding handle to the idle set, waking at most
// one blocked acquirer. Releasing a handle the pool did not lend out, or
// the same handle twice, fails loudly with an invalid_release error and
// leaves the pool state untouched. After shutdown has begun the resource
// is closed instead of re-queued; the handle still counts as returned,
// so a Close waiting on borrowers can finish.
func (p *Pool[T]) Release(h *Handle[T]) error {
	if h == nil {
		atomic.AddInt64(&p.stats.invalidReleases, 1)
		metrics.PoolReleasesTotal.WithLabelValues(p.name, "invalid").Inc()
		return errors.New(errors.ErrorTypeInvalidRelease, "nil handle").
			WithDetail("pool", p.name)
	}

	p.mu.Lock()
	if _, ok := p.outstanding[h]; !ok {
		p.mu.Unlock()
		atomic.AddInt64(&p.stats.invalidReleases, 1)
		metrics.PoolReleasesTotal.WithLabelValues(p.name, "invalid").Inc()
		return errors.New(errors.ErrorTypeInvalidRelease, "handle is not outstanding from this pool").
			WithDetail("pool", p.name)
	}
	delete(p.outstanding, h)
	closed := p.closed
	p.mu.Unlock()

	atomic.AddInt64(&p.stats.releases, 1)
	metrics.PoolReleasesTotal.WithLabelValues(p.name, "success").Inc()

	if closed {
		p.retire(h)
		return nil
	}

	// Never blocks: the channel has room for every handle the pool owns.
	p.idle <- h

	p.mu.Lock()
	idle, outstanding := len(p.idle), len(p.outstanding)
	p.mu.Unlock()
	metrics.PoolIdleHandles.WithLabelValues(p.name).Set(float64(idle))
	metrics.PoolOutstandingHandles.WithLabelValues(p.name).Set(float64(outstanding))

	return nil
}

// WithResource acquires a handle, runs fn with the underlying resource,
// and releases the handle on every exit path. Errors returned by fn
// propagate unchanged; they are not the pool's concern and are never
// swallowed by release bookkeeping. A handle whose use failed is
// returned to the idle set as-is; the pool performs no validation.
func (p *Pool[T]) WithResource(ctx context.Context, fn func(T) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(h); rerr != nil {
			p.logger.Warn("release failed", zap.Error(rerr))
		}
	}()
	return fn(h.Value())
}

// Close marks the pool closed, wakes every blocked acquirer, closes all
// idle handles and blocks until every outstanding handle has been
// released and closed. The context bounds the wait for borrowers.
// Calling Close again after it has completed is a no-op; a Close that
// overlaps another waits for the same drain before returning.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Another Close may still be retiring handles; "closed" is only
		// observable once the drain has finished.
		select {
		case <-p.drained:
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "timed out waiting for outstanding handles").
				WithDetail("pool", p.name).
				WithDetail("outstanding", p.Outstanding())
		}
	}
	p.closed = true
	p.mu.Unlock()

	close(p.closing)
	p.logger.Debug("pool closing, waiting for borrowers")

	for {
		select {
		case h := <-p.idle:
			// Covers both the initial drain and stragglers pushed by
			// releases that raced the closed flag.
			p.retire(h)
		case <-p.drained:
			metrics.PoolIdleHandles.WithLabelValues(p.name).Set(0)
			metrics.PoolOutstandingHandles.WithLabelValues(p.name).Set(0)
			p.logger.Info("pool closed",
				zap.Int("capacity", p.capacity),
				zap.Int64("acquires", atomic.LoadInt64(&p.stats.acquires)))
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "timed out waiting for outstanding handles").
				WithDetail("pool", p.name).
				WithDetail("outstanding", p.Outstanding())
		}
	}
}

// retire closes a handle's resource and signals shutdown completion once
// the last live handle is gone. Each handle passes through retire exactly
// once: either from the idle drain, from a release after close, or from
// an acquire that lost the race with Close.
func (p *Pool[T]) retire(h *Handle[T]) {
	p.closeResource(h.value)

	p.mu.Lock()
	p.live--
	done := p.closed && p.live == 0
	p.mu.Unlock()

	if done {
		close(p.drained)
	}
}

func (p *Pool[T]) closeResource(v T) {
	if p.closer == nil {
		return
	}
	if err := p.closer(v); err != nil {
		p.logger.Warn("closing resource failed", zap.Error(err))
	}
}

func (p *Pool[T]) closedErr() error {
	return errors.New(errors.ErrorTypeClosed, "pool is closed").
		WithDetail("pool", p.name)
}

// Capacity returns the fixed number of handles the pool owns.
func (p *Pool[T]) Capacity() int {
	return p.capacity
}

// Idle returns the current size of the idle set.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Outstanding returns the number of handles currently lent to callers.
func (p *Pool[T]) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

// IsClosed reports whether the error signals an acquire against a closed
// pool. Callers seeing it should stop submitting work.
func IsClosed(err error) bool {
	return errors.IsType(err, errors.ErrorTypeClosed)
}

// IsInvalidRelease reports whether the error signals caller misuse of
// Release: a handle the pool did not lend out, or a double release.
func IsInvalidRelease(err error) bool {
	return errors.IsType(err, errors.ErrorTypeInvalidRelease)
}
