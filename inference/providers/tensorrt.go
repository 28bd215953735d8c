// Package providers - TensorRT execution provider.
package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// TensorRTProviderBackend uses NVIDIA TensorRT for optimized inference.
	TensorRTProviderBackend ProviderBackend = "tensorrt"
)

// TensorRTOptions contains arguments for the TensorRT provider.
// See: https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html
type TensorRTOptions struct {
	// The device ID.
	DeviceID int `json:"device_id"           yaml:"device_id"`
	// Maximum workspace size in bytes for engine building.
	MaxWorkspaceSize int64 `json:"max_workspace_size"  yaml:"max_workspace_size"  default:"1073741824"`
	// Build engines with FP16 kernels.
	FP16Enable bool `json:"fp16_enable"         yaml:"fp16_enable"`
	// Build engines with INT8 kernels. Needs a calibration table or a QDQ model.
	INT8Enable bool `json:"int8_enable"         yaml:"int8_enable"`
	// Cache built engines on disk so later sessions skip the build.
	EngineCacheEnable bool `json:"engine_cache_enable" yaml:"engine_cache_enable" default:"true"`
	// Directory for cached engines.
	EngineCachePath string `json:"engine_cache_path"   yaml:"engine_cache_path"   default:"./trt_cache"`
	// Cache kernel timing data between builds.
	TimingCacheEnable bool `json:"timing_cache_enable" yaml:"timing_cache_enable"`
	// Log engine build progress.
	DetailedBuildLog bool `json:"detailed_build_log"  yaml:"detailed_build_log"`
	// Also append CUDA so nodes TensorRT rejects still run on the GPU.
	CUDAFallback bool `json:"cuda_fallback"       yaml:"cuda_fallback"       default:"true"`
}

// NativeOptions returns the option map passed to ONNX Runtime.
func (o TensorRTOptions) NativeOptions() map[string]string {
	opts := map[string]string{
		"device_id":               strconv.Itoa(o.DeviceID),
		"trt_fp16_enable":         boolFlag(o.FP16Enable),
		"trt_int8_enable":         boolFlag(o.INT8Enable),
		"trt_engine_cache_enable": boolFlag(o.EngineCacheEnable),
		"trt_timing_cache_enable": boolFlag(o.TimingCacheEnable),
		"trt_detailed_build_log":  boolFlag(o.DetailedBuildLog),
	}
	if o.MaxWorkspaceSize > 0 {
		opts["trt_max_workspace_size"] = strconv.FormatInt(o.MaxWorkspaceSize, 10)
	}
	if o.EngineCacheEnable && o.EngineCachePath != "" {
		opts["trt_engine_cache_path"] = o.EngineCachePath
	}
	return opts
}

// TensorRTProvider implements the ExecutionProvider interface.
type TensorRTProvider struct {
	options TensorRTOptions
	cuda    CUDAOptions
}

// NewTensorRTProvider creates a new TensorRT provider. cuda configures the
// fallback provider when options.CUDAFallback is set.
func NewTensorRTProvider(options TensorRTOptions, cuda CUDAOptions) *TensorRTProvider {
	return &TensorRTProvider{options: options, cuda: cuda}
}

// Backend returns the backend of the TensorRT provider.
func (p *TensorRTProvider) Backend() ProviderBackend {
	return TensorRTProviderBackend
}

// Options returns the options of the TensorRT provider.
func (p *TensorRTProvider) Options() TensorRTOptions {
	return p.options
}

// Append enables TensorRT, then CUDA as a fallback, on the session options.
// Providers are tried in the order they are appended.
func (p *TensorRTProvider) Append(options *ort.SessionOptions) error {
	trt, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return errors.Wrap(err, "create TensorRT provider options")
	}
	defer trt.Destroy()

	if err := trt.Update(p.options.NativeOptions()); err != nil {
		return errors.Wrap(err, "update TensorRT provider options")
	}
	if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
		return errors.Wrap(err, "error enabling TensorRT")
	}

	if p.options.CUDAFallback {
		return NewCUDAProvider(p.cuda).Append(options)
	}
	return nil
}
