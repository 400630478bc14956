package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mhdali93/poolbench/pkg/config"
	"github.com/mhdali93/poolbench/pkg/errors"
	"github.com/mhdali93/poolbench/pkg/logger"
	"github.com/mhdali93/poolbench/pkg/metrics"
	"github.com/mhdali93/poolbench/pkg/observability"
	"github.com/mhdali93/poolbench/pkg/pool"
)

// phases in execution order. Query and update depend on the rows the
// insert phase created.
var phases = []string{"insert", "query", "update"}

// SharedConnector is a Connector whose backend can also hand out a
// single concurrency-safe store. Stdlib mode needs it: database/sql
// pools internally, so all workers go through one shared handle.
type SharedConnector interface {
	Connector
	Shared() Store
}

// PhaseResult records one phase of one run.
type PhaseResult struct {
	Phase        string        `json:"phase"`
	Operations   int           `json:"operations"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
	Seconds      float64       `json:"seconds"`
	OpsPerSecond float64       `json:"ops_per_second"`
}

// RunResult is the outcome of one full run in one mode.
type RunResult struct {
	Name    string        `json:"name"`
	Mode    config.Mode   `json:"mode"`
	Backend string        `json:"backend"`
	Workers int           `json:"workers"`
	Phases  []PhaseResult `json:"phases"`
	Total   time.Duration `json:"total"`
	Seconds float64       `json:"seconds"`

	// PoolStats is populated in pooled mode only.
	PoolStats *pool.Stats `json:"pool_stats,omitempty"`
}

// Runner executes the three-phase workload against one backend in the
// configured mode.
type Runner struct {
	cfg    *config.BenchConfig
	conn   Connector
	logger *zap.Logger
}

// NewRunner creates a runner for the given configuration and backend.
func NewRunner(cfg *config.BenchConfig, conn Connector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, conn: conn, logger: logger}
}

// executor runs one operation against a store obtained according to
// the run mode.
type executor func(ctx context.Context, op func(context.Context, Store) error) error

// Run sets up the backend, executes the insert, query and update
// phases, and tears the mode down again.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid benchmark config")
	}
	if err := r.conn.Setup(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "backend setup failed")
	}

	if r.cfg.Mode == config.ModePooled {
		ctx = context.WithValue(ctx, logger.PoolKey, r.cfg.Name)
	}

	exec, cleanup, err := r.buildMode(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Name:    r.cfg.Name,
		Mode:    r.cfg.Mode,
		Backend: r.conn.Name(),
		Workers: r.cfg.Workload.GetWorkers(),
	}

	r.logger.Info("starting benchmark run",
		zap.String("name", result.Name),
		zap.String("mode", string(result.Mode)),
		zap.String("backend", result.Backend),
		zap.Int("workers", result.Workers),
		zap.Int("operations", r.cfg.Workload.Operations))

	start := time.Now()
	for _, phase := range phases {
		pr, err := r.runPhase(ctx, phase, exec)
		if err != nil {
			cleanup(result)
			return nil, err
		}
		result.Phases = append(result.Phases, pr)
	}
	result.Total = time.Since(start)
	result.Seconds = result.Total.Seconds()

	if err := cleanup(result); err != nil {
		return nil, err
	}

	r.logger.Info("benchmark run complete",
		zap.String("name", result.Name),
		zap.String("mode", string(result.Mode)),
		zap.Duration("total", result.Total))
	return result, nil
}

// buildMode wires the executor for the configured mode and returns a
// cleanup function that also records mode-specific result fields.
func (r *Runner) buildMode(ctx context.Context) (executor, func(*RunResult) error, error) {
	switch r.cfg.Mode {
	case config.ModePooled:
		return r.buildPooled(ctx)

	case config.ModeDirect:
		exec := func(ctx context.Context, op func(context.Context, Store) error) error {
			s, err := r.conn.Open(ctx)
			if err != nil {
				return err
			}
			opErr := op(ctx, s)
			if cerr := s.Close(ctx); opErr == nil {
				opErr = cerr
			}
			return opErr
		}
		return exec, func(*RunResult) error { return nil }, nil

	case config.ModeStdlib:
		sc, ok := r.conn.(SharedConnector)
		if !ok {
			return nil, nil, errors.New(errors.ErrorTypeConfig,
				"backend does not support stdlib mode").
				WithDetail("backend", r.conn.Name())
		}
		shared := sc.Shared()
		exec := func(ctx context.Context, op func(context.Context, Store) error) error {
			return op(ctx, shared)
		}
		cleanup := func(*RunResult) error { return shared.Close(context.Background()) }
		return exec, cleanup, nil

	default:
		return nil, nil, errors.New(errors.ErrorTypeConfig, "unknown mode").
			WithDetail("mode", string(r.cfg.Mode))
	}
}

func (r *Runner) buildPooled(ctx context.Context) (executor, func(*RunResult) error, error) {
	p, err := pool.New(pool.Config[Store]{
		Name:     r.cfg.Name,
		Capacity: r.cfg.Pool.Capacity,
		Factory: func() (Store, error) {
			return r.conn.Open(ctx)
		},
		Closer: func(s Store) error {
			return s.Close(context.Background())
		},
		Logger: r.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	acquireTimeout := r.cfg.Timeouts.Acquire
	exec := func(ctx context.Context, op func(context.Context, Store) error) error {
		actx := ctx
		if acquireTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, acquireTimeout)
			defer cancel()
		}
		h, err := p.Acquire(actx)
		if err != nil {
			return err
		}
		opErr := op(ctx, h.Value())
		if rerr := p.Release(h); opErr == nil {
			opErr = rerr
		}
		return opErr
	}

	cleanup := func(res *RunResult) error {
		stats := p.Stats()
		res.PoolStats = &stats

		sctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeouts.Shutdown)
		defer cancel()
		return p.Close(sctx)
	}
	return exec, cleanup, nil
}

// runPhase fans the phase's operations out over the worker goroutines.
func (r *Runner) runPhase(ctx context.Context, phase string, exec executor) (PhaseResult, error) {
	ops := r.cfg.Workload.Operations
	workers := r.cfg.Workload.GetWorkers()
	mode := string(r.cfg.Mode)

	ctx = context.WithValue(ctx, logger.PhaseKey, phase)

	if r.cfg.Observability.EnableTracing {
		pctx, sp := observability.StartPhase(ctx, phase, mode)
		defer sp.End()
		ctx = pctx
	}

	tracker := metrics.NewThroughputTracker(phase, mode)
	timer := metrics.NewTimer(phase)

	// Failures inside the worker loop log through the context-derived
	// logger so run, pool and phase are stamped on every entry.
	oplog := logger.WithContext(ctx)

	var next int64 // next operation index, claimed atomically
	var failed int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := atomic.AddInt64(&next, 1) - 1
				if i >= int64(ops) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				if err := exec(ctx, r.operation(phase, i)); err != nil {
					atomic.AddInt64(&failed, 1)
					metrics.OpsProcessed.WithLabelValues(phase, mode, "failure").Inc()
					oplog.Debug("operation failed",
						zap.Int64("op", i),
						zap.Error(err))
					continue
				}
				metrics.OpsProcessed.WithLabelValues(phase, mode, "success").Inc()
				tracker.Increment(1)
			}
		}()
	}
	wg.Wait()

	elapsed := timer.Stop()
	tracker.GetAndReset()

	if err := ctx.Err(); err != nil {
		return PhaseResult{}, errors.Wrap(err, errors.ErrorTypeTimeout, "run cancelled").
			WithDetail("phase", phase)
	}

	pr := PhaseResult{
		Phase:      phase,
		Operations: ops,
		Errors:     int(atomic.LoadInt64(&failed)),
		Duration:   elapsed,
		Seconds:    elapsed.Seconds(),
	}
	if pr.Seconds > 0 {
		pr.OpsPerSecond = float64(ops-pr.Errors) / pr.Seconds
	}

	r.logger.Info("phase complete",
		zap.String("phase", phase),
		zap.String("mode", mode),
		zap.Int("operations", pr.Operations),
		zap.Int("errors", pr.Errors),
		zap.Duration("duration", pr.Duration),
		zap.Float64("ops_per_second", pr.OpsPerSecond))
	return pr, nil
}

// operation builds the work item for one phase. Row IDs are assigned by
// the backends in insertion order starting at 1, so index i addresses
// row i+1 in the query and update phases.
func (r *Runner) operation(phase string, i int64) func(context.Context, Store) error {
	switch phase {
	case "insert":
		username := fmt.Sprintf("user_%d", i)
		email := fmt.Sprintf("user_%d@example.com", i)
		return func(ctx context.Context, s Store) error {
			return s.InsertUser(ctx, username, email)
		}
	case "query":
		id := i + 1
		return func(ctx context.Context, s Store) error {
			_, err := s.GetUserByID(ctx, id)
			return err
		}
	default: // update
		id := i + 1
		email := fmt.Sprintf("user_%d@updated.example.com", i)
		return func(ctx context.Context, s Store) error {
			return s.UpdateUserEmail(ctx, id, email)
		}
	}
}
