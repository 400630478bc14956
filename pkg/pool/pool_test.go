package pool_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhdali93/poolbench/pkg/pool"
	"github.com/mhdali93/poolbench/pkg/testutil"
)

// countingFactory builds int handles and tracks how many were created
// and how many were closed.
type countingFactory struct {
	created int64
	closed  int64
}

func (f *countingFactory) factory() (int, error) {
	n := atomic.AddInt64(&f.created, 1)
	return int(n), nil
}

func (f *countingFactory) closer(int) error {
	atomic.AddInt64(&f.closed, 1)
	return nil
}

func newTestPool(t *testing.T, capacity int) (*pool.Pool[int], *countingFactory) {
	t.Helper()
	cf := &countingFactory{}
	p, err := pool.New(pool.Config[int]{
		Name:     t.Name(),
		Capacity: capacity,
		Factory:  cf.factory,
		Closer:   cf.closer,
		Logger:   testutil.TestLogger(t),
	})
	require.NoError(t, err)
	return p, cf
}

func TestNewValidation(t *testing.T) {
	_, err := pool.New(pool.Config[int]{Capacity: 0, Factory: func() (int, error) { return 0, nil }})
	require.Error(t, err)

	_, err = pool.New(pool.Config[int]{Capacity: -3, Factory: func() (int, error) { return 0, nil }})
	require.Error(t, err)

	_, err = pool.New(pool.Config[int]{Capacity: 5})
	require.Error(t, err)
}

func TestNewFactoryFailureIsFatal(t *testing.T) {
	var created, closed int64
	_, err := pool.New(pool.Config[int]{
		Name:     "failing",
		Capacity: 5,
		Factory: func() (int, error) {
			n := atomic.AddInt64(&created, 1)
			if n == 4 {
				return 0, fmt.Errorf("resource %d unavailable", n)
			}
			return int(n), nil
		},
		Closer: func(int) error {
			atomic.AddInt64(&closed, 1)
			return nil
		},
		Logger: testutil.TestLogger(t),
	})

	require.Error(t, err)
	// No partial pools: the three handles created before the failure are
	// closed again before New returns.
	assert.EqualValues(t, 4, atomic.LoadInt64(&created))
	assert.EqualValues(t, 3, atomic.LoadInt64(&closed))
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, cf := newTestPool(t, 3)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	require.Equal(t, 3, p.Idle())
	require.Equal(t, 0, p.Outstanding())

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Idle())
	assert.Equal(t, 1, p.Outstanding())

	require.NoError(t, p.Release(h))
	assert.Equal(t, 3, p.Idle())
	assert.Equal(t, 0, p.Outstanding())

	// The round trip creates no new handles.
	assert.EqualValues(t, 3, atomic.LoadInt64(&cf.created))
}

func TestHandlesAreFungibleButStable(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 3)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	// Draining the pool yields the full multiset of distinct handles.
	seen := map[int]bool{}
	var handles []*pool.Handle[int]
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, seen[h.Value()], "handle %d lent out twice", h.Value())
		seen[h.Value()] = true
		handles = append(handles, h)
	}
	assert.Len(t, seen, 3)

	for _, h := range handles {
		require.NoError(t, p.Release(h))
	}
	assert.Equal(t, 3, p.Idle())
}

func TestInvalidRelease(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 2)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	// A handle the pool never lent out.
	err := p.Release(&pool.Handle[int]{})
	require.Error(t, err)
	assert.True(t, pool.IsInvalidRelease(err))

	err = p.Release(nil)
	require.Error(t, err)
	assert.True(t, pool.IsInvalidRelease(err))

	// Double release of a real handle.
	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(h))
	err = p.Release(h)
	require.Error(t, err)
	assert.True(t, pool.IsInvalidRelease(err))

	// Misuse leaves the pool state untouched.
	assert.Equal(t, 2, p.Idle())
	assert.Equal(t, 0, p.Outstanding())
	assert.EqualValues(t, 3, p.Stats().InvalidReleases)
}

func TestSecondAcquirerBlocksUntilRelease(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 1)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *pool.Handle[int], 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err == nil {
			acquired <- h2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the only handle was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(h))

	select {
	case h2 := <-acquired:
		require.NoError(t, p.Release(h2))
	case <-time.After(time.Second):
		t.Fatal("second acquire not woken by release")
	}
}

func TestExhaustionAndRecovery(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 3)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	var held []*pool.Handle[int]
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, h)
	}

	// Two waiters behind an exhausted pool.
	woken := make(chan *pool.Handle[int], 2)
	for i := 0; i < 2; i++ {
		go func() {
			h, err := p.Acquire(ctx)
			if err == nil {
				woken <- h
			}
		}()
	}

	select {
	case <-woken:
		t.Fatal("acquire succeeded against an exhausted pool")
	case <-time.After(50 * time.Millisecond):
	}

	// One release wakes exactly one waiter, never more.
	require.NoError(t, p.Release(held[0]))

	var first *pool.Handle[int]
	select {
	case first = <-woken:
	case <-time.After(time.Second):
		t.Fatal("release did not wake a waiter")
	}
	select {
	case <-woken:
		t.Fatal("a single release woke two waiters")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(held[1]))
	select {
	case h := <-woken:
		require.NoError(t, p.Release(h))
	case <-time.After(time.Second):
		t.Fatal("second release did not wake the remaining waiter")
	}

	require.NoError(t, p.Release(first))
	require.NoError(t, p.Release(held[2]))
}

func TestCloseWakesBlockedAcquire(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 1)

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()

	// Give the waiter time to block, then close; no release ever happens
	// from the waiter's point of view.
	time.Sleep(50 * time.Millisecond)

	closeDone := make(chan error, 1)
	go func() { closeDone <- p.Close(ctx) }()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, pool.IsClosed(err), "blocked acquire should fail with the closed error, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire hung past pool shutdown")
	}

	// Close itself waits for the borrower.
	select {
	case <-closeDone:
		t.Fatal("close returned while a handle was still outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(h))
	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not finish after the last handle was returned")
	}
}

func TestCloseIdempotent(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, cf := newTestPool(t, 4)

	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 0, p.Idle())
	assert.EqualValues(t, 4, atomic.LoadInt64(&cf.closed))

	// Second close is a no-op: same end state, no error, nothing closed twice.
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 0, p.Idle())
	assert.EqualValues(t, 4, atomic.LoadInt64(&cf.closed))
}

func TestCloseTimesOutOnStuckBorrower(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 1)

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	require.Error(t, p.Close(shortCtx))

	// The late release still retires the handle.
	require.NoError(t, p.Release(h))
	testutil.AssertEventually(t, func() bool { return p.Outstanding() == 0 }, time.Second,
		"outstanding handle not retired after late release")
}

func TestCloseOverlappingWaitsForDrain(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, cf := newTestPool(t, 1)

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() { firstDone <- p.Close(ctx) }()

	// Blocks until the first Close begins, then fails closed.
	_, err = p.Acquire(context.Background())
	assert.True(t, pool.IsClosed(err))

	// A second Close must not report success while the borrower is
	// still out.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	require.Error(t, p.Close(shortCtx))

	require.NoError(t, p.Release(h))
	require.NoError(t, <-firstDone)

	// Drain complete: late Close calls return immediately.
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, int64(1), atomic.LoadInt64(&cf.closed))
}

func TestAcquireAfterClose(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 2)
	require.NoError(t, p.Close(ctx))

	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, pool.IsClosed(err))
}

func TestAcquireContextCancellation(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 1)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = p.Acquire(shortCtx)
	require.Error(t, err)

	// A timed-out acquire removed nothing from the idle set: once the
	// handle comes back, the next acquire succeeds immediately.
	require.NoError(t, p.Release(h))
	h2, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Release(h2))
}

func TestWithResourceReleasesOnError(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 1)
	defer func() { require.NoError(t, p.Close(ctx)) }()

	useErr := fmt.Errorf("simulated query failure")
	err := p.WithResource(ctx, func(int) error {
		return useErr
	})
	require.ErrorIs(t, err, useErr)

	// The failed handle went back to the idle set as-is.
	assert.Equal(t, 1, p.Idle())
	assert.Equal(t, 0, p.Outstanding())

	require.NoError(t, p.WithResource(ctx, func(int) error { return nil }))
}

// TestConcurrentWorkers is the capacity-bound scenario: a pool of 5
// backed by a counting factory, 100 acquire/use/release cycles across 10
// workers. At most 5 handles are ever simultaneously outstanding, the
// factory runs exactly 5 times, and no release is ever invalid.
func TestConcurrentWorkers(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	const (
		capacity = 5
		workers  = 10
		cycles   = 100
	)

	p, cf := newTestPool(t, capacity)

	var (
		inUse        int64
		maxInUse     int64
		invalidCount int64
		wg           sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < cycles/workers; i++ {
				h, err := p.Acquire(ctx)
				if err != nil {
					t.Error(err)
					return
				}

				n := atomic.AddInt64(&inUse, 1)
				for {
					prev := atomic.LoadInt64(&maxInUse)
					if n <= prev || atomic.CompareAndSwapInt64(&maxInUse, prev, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt64(&inUse, -1)

				if err := p.Release(h); err != nil {
					atomic.AddInt64(&invalidCount, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&maxInUse), int64(capacity),
		"more handles outstanding than the pool capacity")
	assert.Equal(t, capacity, p.Idle())
	assert.EqualValues(t, capacity, atomic.LoadInt64(&cf.created),
		"factory ran more than capacity times")
	assert.Zero(t, atomic.LoadInt64(&invalidCount))
	assert.EqualValues(t, 0, p.Stats().InvalidReleases)

	require.NoError(t, p.Close(ctx))
	assert.EqualValues(t, capacity, atomic.LoadInt64(&cf.closed),
		"every handle closed exactly once on shutdown")
}

func TestStatsSnapshot(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newTestPool(t, 2)

	h, err := p.Acquire(ctx)
	require.NoError(t, err)

	s := p.Stats()
	assert.Equal(t, 2, s.Capacity)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 1, s.Outstanding)
	assert.EqualValues(t, 1, s.Acquires)
	assert.False(t, s.Closed)

	require.NoError(t, p.Release(h))
	require.NoError(t, p.Close(ctx))

	s = p.Stats()
	assert.True(t, s.Closed)
	assert.Equal(t, 0, s.Idle)
	assert.EqualValues(t, 1, s.Releases)
}
