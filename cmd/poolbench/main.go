package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mhdali93/poolbench/internal/bench"
	"github.com/mhdali93/poolbench/pkg/config"
	"github.com/mhdali93/poolbench/pkg/logger"
	"github.com/mhdali93/poolbench/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "poolbench",
		Short: "poolbench - bounded connection pool benchmark",
		Long: `poolbench measures what a bounded, blocking connection pool buys you.
It runs the same three-phase workload (insert, query, update on a users
table) with pooled connections, with a fresh connection per operation,
and through database/sql's built-in pooling, then compares the timings.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("poolbench v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd())
	root.AddCommand(newCompareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliFlags mirrors the BenchConfig fields settable from the command
// line. Flags override file values only when explicitly set.
type cliFlags struct {
	configFile  string
	mode        string
	backend     string
	dsn         string
	table       string
	operations  int
	workers     int
	capacity    int
	opDelay     time.Duration
	logLevel    string
	tracing     bool
	metricsAddr string
	outputDir   string
}

func (f *cliFlags) register(cmd *cobra.Command, withMode bool) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	if withMode {
		cmd.Flags().StringVarP(&f.mode, "mode", "m", "pooled", "Connection mode: pooled, direct, or stdlib")
	}
	cmd.Flags().StringVar(&f.backend, "backend", "memory", "Database backend: memory, postgres, or mysql")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Connection string for the postgres and mysql backends")
	cmd.Flags().StringVar(&f.table, "table", "users", "Benchmark table name")
	cmd.Flags().IntVarP(&f.operations, "operations", "n", 10000, "Operations per phase")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", runtime.NumCPU(), "Concurrent workers")
	cmd.Flags().IntVar(&f.capacity, "capacity", 20, "Pool capacity for pooled mode")
	cmd.Flags().DurationVar(&f.opDelay, "op-delay", 0, "Artificial per-operation latency (memory backend only)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.tracing, "enable-tracing", false, "Emit spans around benchmark phases")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "results", "Directory for JSON and text reports")
}

// buildConfig loads the config file if given, then applies explicitly
// set flags on top.
func (f *cliFlags) buildConfig(cmd *cobra.Command, name string) (*config.BenchConfig, error) {
	cfg := config.NewBenchConfig(name)
	if f.configFile != "" {
		if err := config.Load(f.configFile, cfg); err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
	}

	set := cmd.Flags().Changed
	if set("mode") {
		cfg.Mode = config.Mode(f.mode)
	}
	if set("backend") || cfg.Database.Backend == "" {
		cfg.Database.Backend = f.backend
	}
	if set("dsn") {
		cfg.Database.DSN = f.dsn
	}
	if set("table") || cfg.Database.Table == "" {
		cfg.Database.Table = f.table
	}
	if set("operations") {
		cfg.Workload.Operations = f.operations
	}
	if set("workers") {
		cfg.Workload.Workers = f.workers
	}
	if set("capacity") {
		cfg.Pool.Capacity = f.capacity
	}
	if set("op-delay") {
		cfg.Workload.OpDelay = f.opDelay
	}
	if set("log-level") {
		cfg.Observability.LogLevel = f.logLevel
	}
	if set("enable-tracing") {
		cfg.Observability.EnableTracing = f.tracing
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	flags := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workload in one mode",
		Long: `Run the insert, query and update phases in a single connection mode.

Example:
  poolbench run --mode pooled --backend postgres --dsn "$DATABASE_URL" -n 10000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.buildConfig(cmd, "run")
			if err != nil {
				return err
			}
			return execute(cfg, flags, []config.Mode{cfg.Mode})
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newCompareCmd() *cobra.Command {
	flags := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the workload in every mode and compare",
		Long: `Run the workload once per connection mode against the same backend and
report per-phase timings relative to the direct (connection per
operation) baseline. Stdlib mode is skipped for backends that cannot
share one handle across workers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.buildConfig(cmd, "compare")
			if err != nil {
				return err
			}
			return execute(cfg, flags, []config.Mode{config.ModeDirect, config.ModePooled, config.ModeStdlib})
		},
	}
	flags.register(cmd, false)
	return cmd
}

func execute(cfg *config.BenchConfig, flags *cliFlags, modes []config.Mode) error {
	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: "console",
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Every log line and every run carries the same run ID.
	runID := fmt.Sprintf("%s-%s", cfg.Name, time.Now().Format("20060102-150405"))
	baseCtx := context.WithValue(context.Background(), logger.RunIDKey, runID)
	log := logger.WithContext(baseCtx).With(zap.String("component", "poolbench-cli"))

	if cfg.Observability.EnableTracing {
		if err := observability.Init(observability.TracingConfig{
			ServiceName:    "poolbench",
			ServiceVersion: version,
			SamplingRate:   1.0,
		}); err != nil {
			return fmt.Errorf("tracing setup error: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(ctx)
		}()
	}

	if flags.metricsAddr != "" && cfg.Observability.EnableMetrics {
		go serveMetrics(flags.metricsAddr, log)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(baseCtx, cfg.Timeouts.Run)
	defer cancel()

	monitor := bench.NewResourceMonitor()

	var results []*bench.RunResult
	for _, mode := range modes {
		if mode == config.ModeStdlib {
			if _, ok := backend.(bench.SharedConnector); !ok {
				log.Warn("skipping stdlib mode: backend cannot share one handle",
					zap.String("backend", backend.Name()))
				continue
			}
		}

		runCfg := *cfg
		runCfg.Mode = mode
		runCfg.Name = fmt.Sprintf("%s-%s", cfg.Name, mode)

		res, err := bench.NewRunner(&runCfg, backend, logger.Get()).Run(ctx)
		if err != nil {
			return fmt.Errorf("%s run failed: %w", mode, err)
		}
		results = append(results, res)
	}

	report := bench.BuildReport(results, monitor.Sample())
	if err := report.WriteText(os.Stdout); err != nil {
		return err
	}
	return writeReportFiles(report, flags.outputDir, log)
}

// newBackend builds the connector for the configured backend. The
// memory backend is given a small open cost so connection reuse has
// something to win.
func newBackend(cfg *config.BenchConfig) (bench.Connector, error) {
	switch cfg.Database.Backend {
	case "memory":
		return bench.NewMemBackend(time.Millisecond, cfg.Workload.OpDelay), nil
	case "postgres":
		return bench.NewPgBackend(cfg.Database.DSN, cfg.Database.Table), nil
	case "mysql":
		return bench.NewSQLBackend(cfg.Database.DSN, cfg.Database.Table)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func writeReportFiles(report *bench.Report, dir string, log *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	stamp := report.Timestamp.Format("20060102_150405")

	jsonPath := filepath.Join(dir, fmt.Sprintf("poolbench_%s.json", stamp))
	jf, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON report: %w", err)
	}
	if err := report.WriteJSON(jf); err != nil {
		jf.Close()
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	if err := jf.Close(); err != nil {
		return err
	}

	textPath := filepath.Join(dir, fmt.Sprintf("poolbench_%s.txt", stamp))
	tf, err := os.Create(textPath)
	if err != nil {
		return fmt.Errorf("failed to create text report: %w", err)
	}
	if err := report.WriteText(tf); err != nil {
		tf.Close()
		return fmt.Errorf("failed to write text report: %w", err)
	}
	if err := tf.Close(); err != nil {
		return err
	}

	log.Info("reports written",
		zap.String("json", jsonPath),
		zap.String("text", textPath))
	return nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
