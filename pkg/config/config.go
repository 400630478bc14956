// Package config provides the configuration system for poolbench.
// It defines a single BenchConfig structure used by the CLI and the
// benchmark runner, organized into logical sections:
//   - Pool: capacity of the connection pool under test
//   - Workload: operation counts and worker concurrency
//   - Database: backend selection and connection settings
//   - Timeouts: per-operation and shutdown bounds
//   - Observability: metrics, tracing, logging
//
// Example usage:
//
//	cfg := config.NewBenchConfig("pooled-run")
//	cfg.Pool.Capacity = 20
//	cfg.Workload.Operations = 10000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Mode selects how the benchmark obtains database connections.
type Mode string

const (
	// ModePooled uses the bounded resource pool under test
	ModePooled Mode = "pooled"
	// ModeDirect opens and closes a connection per operation
	ModeDirect Mode = "direct"
	// ModeStdlib relies on database/sql's built-in pooling
	ModeStdlib Mode = "stdlib"
)

// BenchConfig is the configuration structure for a benchmark run.
type BenchConfig struct {
	// Name identifies the benchmark run
	Name string `yaml:"name" json:"name"`
	// Mode selects pooled, direct, or stdlib connection handling
	Mode Mode `yaml:"mode" json:"mode"`

	// Pool settings for the resource pool under test
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Workload settings control operation counts and concurrency
	Workload WorkloadConfig `yaml:"workload" json:"workload"`

	// Database selects and configures the backend
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// PoolConfig contains the pool settings for pooled mode.
type PoolConfig struct {
	// Capacity is the fixed number of pooled connections
	Capacity int `yaml:"capacity" json:"capacity"`
}

// WorkloadConfig contains workload shape settings.
type WorkloadConfig struct {
	// Operations is the number of operations per phase
	Operations int `yaml:"operations" json:"operations"`
	// Workers is the number of concurrent worker goroutines
	Workers int `yaml:"workers" json:"workers"`
	// OpDelay injects artificial latency per operation (memory backend only)
	OpDelay time.Duration `yaml:"op_delay" json:"op_delay"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Backend is one of "memory", "postgres", "mysql"
	Backend string `yaml:"backend" json:"backend"`
	// DSN is the connection string for the postgres and mysql backends.
	// Supports ${ENV_VAR} substitution when loaded from a file.
	DSN string `yaml:"dsn" json:"dsn"`
	// Table is the benchmark table name
	Table string `yaml:"table" json:"table"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Acquire bounds how long a worker waits for a pooled connection
	Acquire time.Duration `yaml:"acquire" json:"acquire"`
	// Run bounds the whole benchmark run
	Run time.Duration `yaml:"run" json:"run"`
	// Shutdown bounds the wait for outstanding connections at close
	Shutdown time.Duration `yaml:"shutdown" json:"shutdown"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics gates the optional /metrics HTTP listener only;
	// the pool and runner record their Prometheus collectors regardless
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates span emission around benchmark phases
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewBenchConfig creates a BenchConfig with sensible defaults matching
// the reference workload: 10,000 operations per phase against a pool of
// 20 connections.
func NewBenchConfig(name string) *BenchConfig {
	return &BenchConfig{
		Name: name,
		Mode: ModePooled,
		Pool: PoolConfig{
			Capacity: 20,
		},
		Workload: WorkloadConfig{
			Operations: 10000,
			Workers:    runtime.NumCPU(),
		},
		Database: DatabaseConfig{
			Backend: "memory",
			Table:   "users",
		},
		Timeouts: TimeoutConfig{
			Acquire:  30 * time.Second,
			Run:      30 * time.Minute,
			Shutdown: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableTracing: false,
			LogLevel:      "info",
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable
// ranges. Callers should validate after loading configuration to catch
// errors early.
func (c *BenchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Mode {
	case ModePooled, ModeDirect, ModeStdlib:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModePooled && c.Pool.Capacity <= 0 {
		return fmt.Errorf("pool capacity must be positive")
	}
	if c.Workload.Operations <= 0 {
		return fmt.Errorf("operations must be positive")
	}
	if c.Workload.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("dsn is required for the %s backend", c.Database.Backend)
		}
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (w *WorkloadConfig) GetWorkers() int {
	if w.Workers <= 0 {
		return runtime.NumCPU()
	}
	return w.Workers
}
