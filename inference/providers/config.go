// Package providers - Execution provider and session configuration.
package providers

import (
	"github.com/pkg/errors"
)

// Config selects an execution provider and carries the options of every
// provider so a single file can switch between them.
type Config struct {
	// Backend specifies the backend to use.
	Backend ProviderBackend `json:"backend"      yaml:"backend"      default:"cpu"`
	// LibraryPath is the onnxruntime shared library. Empty uses
	// ONNXRUNTIME_SHARED_LIBRARY_PATH or the platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`

	CUDA     CUDAOptions     `json:"cuda"         yaml:"cuda"`
	TensorRT TensorRTOptions `json:"tensorrt"     yaml:"tensorrt"`
	OpenVINO OpenVINOOptions `json:"openvino"     yaml:"openvino"`
	CoreML   CoreMLOptions   `json:"coreml"       yaml:"coreml"`

	// Optimization holds the session options shared by all backends.
	Optimization OptimizationConfig `json:"optimization" yaml:"optimization"`
}

// DefaultConfig returns a CPU configuration with the runtime defaults and
// the provider defaults filled in for a later backend switch.
//
// Returns:
//   - Config: CPU configuration
func DefaultConfig() Config {
	return Config{
		Backend: CPUProviderBackend,
		CUDA: CUDAOptions{
			ArenaExtendStrategy:   "kNextPowerOfTwo",
			CudnnConvAlgoSearch:   "EXHAUSTIVE",
			DoCopyInDefaultStream: true,
			UseTF32:               true,
		},
		TensorRT: TensorRTOptions{
			MaxWorkspaceSize:  1 << 30,
			EngineCacheEnable: true,
			EngineCachePath:   "./trt_cache",
			CUDAFallback:      true,
		},
		OpenVINO: OpenVINOOptions{
			DeviceType: "GPU",
		},
		Optimization: DefaultOptimizationConfig(),
	}
}

// Validate checks that the backend is known and the session options parse.
func (c Config) Validate() error {
	if _, err := NewProvider(c); err != nil {
		return err
	}
	return errors.Wrap(c.Optimization.Validate(), "optimization")
}
