// Package benchmark - Repeated inference timing for a loaded session.
package benchmark

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrNoIterations is returned when a benchmark has nothing to measure.
var ErrNoIterations = errors.New("benchmark needs at least one iteration")

// Runner is the part of a session the benchmark drives.
type Runner interface {
	Run(ctx context.Context, inputs []inference.Input) ([]inference.Output, error)
	Backend() providers.ProviderBackend
}

// Options controls a benchmark run.
type Options struct {
	// Warmup runs are executed first and not measured.
	Warmup int `json:"warmup"     yaml:"warmup"     default:"10"`
	// Iterations is the number of measured runs.
	Iterations int `json:"iterations" yaml:"iterations" default:"100"`
	// MaxErrors stops the benchmark once this many runs failed. Zero stops on
	// the first failure.
	MaxErrors int `json:"max_errors" yaml:"max_errors"`
	// Logger receives progress messages. Nil uses the standard logger.
	Logger logrus.FieldLogger `json:"-" yaml:"-"`
}

// DefaultOptions returns 10 warmup runs and 100 measured runs.
func DefaultOptions() Options {
	return Options{Warmup: 10, Iterations: 100}
}

// Report captures the measured runs of one benchmark.
type Report struct {
	RunID           string                    `json:"run_id"`
	Backend         providers.ProviderBackend `json:"backend"`
	Timestamp       time.Time                 `json:"timestamp"`
	Warmup          int                       `json:"warmup"`
	Iterations      int                       `json:"iterations"`
	Errors          int                       `json:"errors"`
	TotalDuration   time.Duration             `json:"total_duration"`
	Latencies       []time.Duration           `json:"latencies"`
	Latency         LatencyStats              `json:"latency"`
	FramesPerSecond float64                   `json:"frames_per_second"`
	ErrorRate       float64                   `json:"error_rate"`
	MemoryStats     MemoryMetrics             `json:"memory_stats"`
	CPUStats        CPUMetrics                `json:"cpu_stats"`
}

// Run executes warmup runs and then times each measured run of runner.
//
// Arguments:
//   - ctx: Checked before every run.
//   - runner: The session to benchmark.
//   - inputs: The inputs fed on every run.
//   - opts: Warmup and iteration counts.
//
// Returns:
//   - *Report: Per-run latencies and their statistics.
//   - error: An error if the context ends or too many runs fail.
func Run(ctx context.Context, runner Runner, inputs []inference.Input, opts Options) (*Report, error) {
	if opts.Iterations <= 0 {
		return nil, ErrNoIterations
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	report := &Report{
		RunID:      uuid.New().String(),
		Backend:    runner.Backend(),
		Timestamp:  time.Now(),
		Warmup:     opts.Warmup,
		Iterations: opts.Iterations,
		Latencies:  make([]time.Duration, 0, opts.Iterations),
	}
	log = log.WithFields(logrus.Fields{"run_id": report.RunID, "backend": report.Backend})

	for i := 0; i < opts.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := runner.Run(ctx, inputs); err != nil {
			return nil, errors.Wrapf(err, "warmup run %d", i)
		}
	}
	log.WithField("runs", opts.Warmup).Debug("Warmup done")

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	start := time.Now()
	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		began := time.Now()
		_, err := runner.Run(ctx, inputs)
		elapsed := time.Since(began)
		if err != nil {
			report.Errors++
			if report.Errors > opts.MaxErrors {
				return nil, errors.Wrapf(err, "run %d", i)
			}
			log.WithError(err).WithField("run", i).Warn("Run failed")
			continue
		}
		report.Latencies = append(report.Latencies, elapsed)
	}
	report.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	report.Latency = ComputeLatencyStats(report.Latencies)
	if seconds := report.TotalDuration.Seconds(); seconds > 0 {
		report.FramesPerSecond = float64(len(report.Latencies)) / seconds
	}
	report.ErrorRate = float64(report.Errors) / float64(opts.Iterations)
	report.MemoryStats = memoryMetrics(startMem, endMem)
	report.CPUStats = CPUMetrics{NumCPU: runtime.NumCPU(), GOMAXPROCS: runtime.GOMAXPROCS(0)}

	log.WithFields(logrus.Fields{
		"iterations": len(report.Latencies),
		"mean":       report.Latency.Mean,
		"p99":        report.Latency.P99,
		"fps":        report.FramesPerSecond,
	}).Info("Benchmark complete")

	return report, nil
}

// WriteJSON saves the report as indented JSON, creating parent directories.
func (r *Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	return nil
}
