// Package providers - OpenVINO execution provider.
package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options OpenVINOOptions
}

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type: CPU, GPU, NPU, or a GPU.<n> index.
	DeviceType string `json:"device_type"            yaml:"device_type"            default:"GPU"`
	// Inference precision: FP32, FP16 or ACCURACY. Empty uses the device default
	// {CPU:FP32, GPU:FP16, NPU:FP16}.
	Precision string `json:"precision"              yaml:"precision"`
	// Overrides the accelerator default value of number of threads.
	NumOfThreads int `json:"num_of_threads"         yaml:"num_of_threads"`
	// Overrides the accelerator default streams.
	NumStreams int `json:"num_streams"            yaml:"num_streams"`
	// Directory for compiled blob caching.
	CacheDir string `json:"cache_dir"              yaml:"cache_dir"`
	// Rewrite dynamic shaped models to static shape at runtime.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
}

// NativeOptions returns the option map passed to ONNX Runtime.
func (o OpenVINOOptions) NativeOptions() map[string]string {
	opts := map[string]string{}
	if o.DeviceType != "" {
		opts["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		opts["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		opts["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		opts["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.CacheDir != "" {
		opts["cache_dir"] = o.CacheDir
	}
	if o.DisableDynamicShapes {
		opts["disable_dynamic_shapes"] = "true"
	}
	return opts
}

// NewOpenVINOProvider creates a new OpenVINO provider.
func NewOpenVINOProvider(args OpenVINOOptions) *OpenVINOProvider {
	return &OpenVINOProvider{options: args}
}

// Backend returns the backend of the OpenVINO provider.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Options returns the options of the OpenVINO provider.
func (p *OpenVINOProvider) Options() OpenVINOOptions {
	return p.options
}

// Append enables OpenVINO on the session options.
func (p *OpenVINOProvider) Append(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderOpenVINO(p.options.NativeOptions()); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}
	return nil
}
