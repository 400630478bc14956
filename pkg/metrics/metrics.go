// Package metrics provides performance tracking for poolbench using
// Prometheus metrics. It offers collectors for pool behavior (acquires,
// releases, idle/outstanding handles, wait latency) and for benchmark
// workload throughput.
//
// # Basic Usage
//
//	// Record a successful acquire
//	metrics.PoolAcquiresTotal.WithLabelValues("postgres", "success").Inc()
//
//	// Track acquire wait latency
//	timer := metrics.NewTimer("acquire")
//	h, err := pool.Acquire(ctx)
//	metrics.AcquireWaitSeconds.WithLabelValues("postgres").Observe(timer.Stop().Seconds())
//
//	// Track workload throughput
//	tracker := metrics.NewThroughputTracker("insert", "pooled")
//	for range ops {
//	    doInsert()
//	    tracker.Increment(1)
//	}
//	opsPerSec := tracker.GetAndReset()
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolAcquiresTotal counts acquire attempts per pool.
	// Labels: pool (pool name), status (success/closed/cancelled)
	PoolAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbench_pool_acquires_total",
			Help: "Total number of pool acquire attempts",
		},
		[]string{"pool", "status"},
	)

	// PoolReleasesTotal counts releases per pool.
	// Labels: pool, status (success/invalid)
	PoolReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbench_pool_releases_total",
			Help: "Total number of pool releases",
		},
		[]string{"pool", "status"},
	)

	// PoolIdleHandles tracks the current idle set size per pool
	PoolIdleHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolbench_pool_idle_handles",
			Help: "Number of idle handles in the pool",
		},
		[]string{"pool"},
	)

	// PoolOutstandingHandles tracks handles currently lent out per pool
	PoolOutstandingHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolbench_pool_outstanding_handles",
			Help: "Number of handles currently lent to callers",
		},
		[]string{"pool"},
	)

	// AcquireWaitSeconds tracks how long callers waited in Acquire.
	// The buckets are tuned for in-process contention, from microseconds
	// up to a second of blocking.
	AcquireWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "poolbench_pool_acquire_wait_seconds",
			Help: "Time spent waiting for an idle handle",
			Buckets: []float64{
				0.000001, // 1μs - uncontended
				0.00001,  // 10μs
				0.0001,   // 100μs
				0.001,    // 1ms
				0.01,     // 10ms
				0.1,      // 100ms
				1,        // 1s - heavy contention
			},
		},
		[]string{"pool"},
	)

	// OpsProcessed counts benchmark operations per phase and mode.
	// Labels: phase (insert/query/update), mode (pooled/direct/stdlib), status (success/failure)
	OpsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolbench_ops_processed_total",
			Help: "Total number of benchmark operations processed",
		},
		[]string{"phase", "mode", "status"},
	)

	// Throughput tracks operations per second per phase and mode
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolbench_throughput_ops_per_second",
			Help: "Current throughput in operations per second",
		},
		[]string{"phase", "mode"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop stops the timer and returns the elapsed duration since creation.
// The timer can be stopped multiple times, each returning the total
// elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks throughput (operations per second) over time
// windows. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	phase     string
	mode      string
}

// NewThroughputTracker creates a new throughput tracker for a benchmark
// phase. The phase and mode parameters are used as metric labels.
func NewThroughputTracker(phase, mode string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		phase:     phase,
		mode:      mode,
	}
}

// Increment adds n to the operation count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (operations/second),
// updates the Prometheus metric, resets the counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	// Reset for next period
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.phase, t.mode).Set(throughput)

	return throughput
}
