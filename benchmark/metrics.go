package benchmark

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// LatencyStats summarizes the measured latencies.
type LatencyStats struct {
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"std_dev"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P99    time.Duration `json:"p99"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}

// ComputeLatencyStats returns the empirical quantiles, mean and spread of
// latencies. An empty slice gives zero stats.
func ComputeLatencyStats(latencies []time.Duration) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}
	values := make([]float64, len(latencies))
	for i, l := range latencies {
		values[i] = float64(l)
	}
	sort.Float64s(values)

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	quantile := func(p float64) time.Duration {
		return time.Duration(stat.Quantile(p, stat.Empirical, values, nil))
	}
	return LatencyStats{
		Mean:   time.Duration(mean),
		StdDev: time.Duration(std),
		Min:    time.Duration(values[0]),
		Max:    time.Duration(values[len(values)-1]),
		P50:    quantile(0.5),
		P90:    quantile(0.9),
		P99:    quantile(0.99),
	}
}

func memoryMetrics(start, end runtime.MemStats) MemoryMetrics {
	return MemoryMetrics{
		AllocBytes:      end.Alloc,
		TotalAllocBytes: end.TotalAlloc - start.TotalAlloc,
		SysBytes:        end.Sys,
		NumGC:           end.NumGC - start.NumGC,
		HeapAllocBytes:  end.HeapAlloc,
		HeapSysBytes:    end.HeapSys,
	}
}

// Registry builds a prometheus registry holding the report as a latency
// histogram and a set of gauges, labelled with the backend and run id.
func (r *Report) Registry() (*prometheus.Registry, error) {
	labels := prometheus.Labels{"backend": string(r.Backend), "run_id": r.RunID}
	registry := prometheus.NewRegistry()

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "modeltool",
		Subsystem:   "benchmark",
		Name:        "latency_seconds",
		Help:        "Latency of measured inference runs",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})
	for _, l := range r.Latencies {
		latency.Observe(l.Seconds())
	}

	gauges := []struct {
		name  string
		help  string
		value float64
	}{
		{"iterations", "Measured runs that succeeded", float64(len(r.Latencies))},
		{"errors", "Measured runs that failed", float64(r.Errors)},
		{"frames_per_second", "Successful runs per second", r.FramesPerSecond},
		{"latency_p50_seconds", "Median run latency", r.Latency.P50.Seconds()},
		{"latency_p90_seconds", "90th percentile run latency", r.Latency.P90.Seconds()},
		{"latency_p99_seconds", "99th percentile run latency", r.Latency.P99.Seconds()},
		{"heap_alloc_bytes", "Go heap in use after the runs", float64(r.MemoryStats.HeapAllocBytes)},
	}

	collectors := []prometheus.Collector{latency}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "modeltool",
			Subsystem:   "benchmark",
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		})
		gauge.Set(g.value)
		collectors = append(collectors, gauge)
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "register benchmark metric")
		}
	}
	return registry, nil
}

// WriteMetrics exports the report in the Prometheus text format, suitable for
// the node exporter textfile collector.
func (r *Report) WriteMetrics(path string) error {
	registry, err := r.Registry()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	return errors.Wrap(prometheus.WriteToTextfile(path, registry), "failed to write metrics")
}
