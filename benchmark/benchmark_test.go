package benchmark

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner counts runs and fails the runs listed in fail.
type fakeRunner struct {
	calls int
	fail  map[int]bool
}

func (f *fakeRunner) Run(_ context.Context, inputs []inference.Input) ([]inference.Output, error) {
	call := f.calls
	f.calls++
	if f.fail[call] {
		return nil, errors.New("runtime failure")
	}
	return []inference.Output{{Name: "output0", Shape: []int64{1}, Data: []float32{float32(len(inputs))}}}, nil
}

func (f *fakeRunner) Backend() providers.ProviderBackend { return providers.CPUProviderBackend }

func TestRun(t *testing.T) {
	runner := &fakeRunner{}
	report, err := Run(context.Background(), runner, nil, Options{Warmup: 3, Iterations: 20})
	require.NoError(t, err)

	assert.Equal(t, 23, runner.calls)
	assert.Len(t, report.Latencies, 20)
	assert.Equal(t, providers.CPUProviderBackend, report.Backend)
	assert.NotEmpty(t, report.RunID)
	assert.Zero(t, report.Errors)
	assert.LessOrEqual(t, report.Latency.Min, report.Latency.P50)
	assert.LessOrEqual(t, report.Latency.P50, report.Latency.P90)
	assert.LessOrEqual(t, report.Latency.P90, report.Latency.P99)
	assert.LessOrEqual(t, report.Latency.P99, report.Latency.Max)
	assert.Positive(t, report.CPUStats.NumCPU)
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), &fakeRunner{}, nil, Options{})
	assert.ErrorIs(t, err, ErrNoIterations)

	// Warmup call 0 fails.
	_, err = Run(context.Background(), &fakeRunner{fail: map[int]bool{0: true}}, nil, Options{Warmup: 1, Iterations: 1})
	assert.Error(t, err)

	// Measured runs are calls 1..4 after one warmup; call 2 fails.
	runner := &fakeRunner{fail: map[int]bool{2: true}}
	_, err = Run(context.Background(), runner, nil, Options{Warmup: 1, Iterations: 4})
	assert.Error(t, err)

	runner = &fakeRunner{fail: map[int]bool{2: true}}
	report, err := Run(context.Background(), runner, nil, Options{Warmup: 1, Iterations: 4, MaxErrors: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Len(t, report.Latencies, 3)
	assert.InDelta(t, 0.25, report.ErrorRate, 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, &fakeRunner{}, nil, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeLatencyStats(t *testing.T) {
	latencies := make([]time.Duration, 0, 10)
	for i := 10; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}

	stats := ComputeLatencyStats(latencies)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 10*time.Millisecond, stats.Max)
	assert.Equal(t, 5500*time.Microsecond, stats.Mean)
	assert.Equal(t, 5*time.Millisecond, stats.P50)
	assert.Equal(t, 9*time.Millisecond, stats.P90)
	assert.Equal(t, 10*time.Millisecond, stats.P99)

	// Input order is left alone.
	assert.Equal(t, 10*time.Millisecond, latencies[0])
	assert.Equal(t, LatencyStats{}, ComputeLatencyStats(nil))
}

func TestReportOutputs(t *testing.T) {
	report, err := Run(context.Background(), &fakeRunner{}, nil, Options{Iterations: 5})
	require.NoError(t, err)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out", "report.json")
	require.NoError(t, report.WriteJSON(jsonPath))

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Len(t, decoded.Latencies, 5)

	metricsPath := filepath.Join(dir, "bench.prom")
	require.NoError(t, report.WriteMetrics(metricsPath))
	text, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "modeltool_benchmark_latency_seconds_count")
	assert.Contains(t, string(text), "modeltool_benchmark_iterations")
	assert.Contains(t, string(text), `run_id="`+report.RunID+`"`)
	assert.Contains(t, string(text), `backend="cpu"`)
}
