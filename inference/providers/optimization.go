// Package providers - ONNX Runtime session optimization settings.
package providers

import (
	"runtime"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains ONNX Runtime session settings.
type OptimizationConfig struct {
	// GraphOptimizationLevel is one of disable, basic, extended or all.
	GraphOptimizationLevel string `json:"graph_optimization_level" yaml:"graph_optimization_level" default:"all"`
	// ExecutionMode is sequential or parallel.
	ExecutionMode string `json:"execution_mode"           yaml:"execution_mode"           default:"sequential"`
	// IntraOpNumThreads sets threads for parallelizing ops. 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads"     yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops. 0 lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads"     yaml:"inter_op_num_threads"`
	// CPUMemArena enables the CPU memory arena.
	CPUMemArena bool `json:"cpu_mem_arena"            yaml:"cpu_mem_arena"            default:"true"`
	// MemPattern enables memory pattern optimization.
	MemPattern bool `json:"mem_pattern"              yaml:"mem_pattern"              default:"true"`
	// ConfigEntries are extra session config keys such as
	// session.disable_prepacking.
	ConfigEntries map[string]string `json:"config_entries"           yaml:"config_entries"`
}

// DefaultOptimizationConfig returns the settings the runtime uses for a plain
// InferenceSession, with intra-op threads bounded by the CPU count.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: "all",
		ExecutionMode:          "sequential",
		IntraOpNumThreads:      maxInt(1, runtime.NumCPU()/2),
		CPUMemArena:            true,
		MemPattern:             true,
	}
}

var graphOptimizationLevels = map[string]ort.GraphOptimizationLevel{
	"disable":  ort.GraphOptimizationLevelDisableAll,
	"basic":    ort.GraphOptimizationLevelEnableBasic,
	"extended": ort.GraphOptimizationLevelEnableExtended,
	"all":      ort.GraphOptimizationLevelEnableAll,
}

var executionModes = map[string]ort.ExecutionMode{
	"sequential": ort.ExecutionModeSequential,
	"parallel":   ort.ExecutionModeParallel,
}

// Level returns the runtime graph optimization level.
func (c OptimizationConfig) Level() (ort.GraphOptimizationLevel, error) {
	name := strings.ToLower(c.GraphOptimizationLevel)
	if name == "" {
		name = "all"
	}
	level, ok := graphOptimizationLevels[name]
	if !ok {
		return 0, errors.Errorf("unknown graph optimization level %q", c.GraphOptimizationLevel)
	}
	return level, nil
}

// Mode returns the runtime execution mode.
func (c OptimizationConfig) Mode() (ort.ExecutionMode, error) {
	name := strings.ToLower(c.ExecutionMode)
	if name == "" {
		name = "sequential"
	}
	mode, ok := executionModes[name]
	if !ok {
		return 0, errors.Errorf("unknown execution mode %q", c.ExecutionMode)
	}
	return mode, nil
}

// Validate checks the names and thread counts.
func (c OptimizationConfig) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	return nil
}

// maxInt returns the maximum of two integers
func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
