// Package providers - CUDA execution provider.
package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id"                 yaml:"device_id"`
	// The size limit of the device memory arena in bytes. 0 leaves the runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit"             yaml:"gpu_mem_limit"`
	// The strategy for extending the device memory arena: kNextPowerOfTwo or kSameAsRequested.
	ArenaExtendStrategy string `json:"arena_extend_strategy"     yaml:"arena_extend_strategy"     default:"kNextPowerOfTwo"`
	// The type of search done for cuDNN convolution algorithms: EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnn_conv_algo_search"    yaml:"cudnn_conv_algo_search"    default:"EXHAUSTIVE"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream" default:"true"`
	// Capture the model in a CUDA graph. Requires static shapes.
	EnableCudaGraph bool `json:"enable_cuda_graph"         yaml:"enable_cuda_graph"`
	// TF32 math on Ampere or newer GPUs.
	UseTF32 bool `json:"use_tf32"                  yaml:"use_tf32"                  default:"true"`
	// Prefer NHWC kernels over NCHW.
	PreferNHWC bool `json:"prefer_nhwc"               yaml:"prefer_nhwc"`
}

// NativeOptions returns the option map passed to ONNX Runtime.
func (o CUDAOptions) NativeOptions() map[string]string {
	opts := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"enable_cuda_graph":         boolFlag(o.EnableCudaGraph),
		"use_tf32":                  boolFlag(o.UseTF32),
		"prefer_nhwc":               boolFlag(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		opts["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		opts["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	return opts
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// The caller destroys the returned options.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create CUDA provider options")
	}

	if err := opts.Update(o.NativeOptions()); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "update CUDA provider options")
	}
	return opts, nil
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(args CUDAOptions) *CUDAProvider {
	return &CUDAProvider{
		options: args,
	}
}

// Backend returns the backend of the CUDA provider.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the options of the CUDA provider.
func (p *CUDAProvider) Options() CUDAOptions {
	return p.options
}

// Append enables CUDA on the session options.
func (p *CUDAProvider) Append(options *ort.SessionOptions) error {
	cuda, err := p.options.ToNativeProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()

	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return errors.Wrap(err, "error enabling CUDA")
	}
	return nil
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
