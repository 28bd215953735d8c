// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ErrUnsupportedBackend is returned for backends the runtime binding cannot
// enable.
var ErrUnsupportedBackend = errors.New("unsupported execution provider")

const (
	// DNNLProviderBackend uses Intel oneDNN. The Go binding has no way to append
	// it, so it is recognised only to give a clear error.
	DNNLProviderBackend ProviderBackend = "dnnl"
)

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend reports which provider this is.
	Backend() ProviderBackend
	// Append enables the provider on a set of session options.
	Append(options *ort.SessionOptions) error
}

// Backends lists every backend NewProvider accepts.
func Backends() []ProviderBackend {
	return []ProviderBackend{
		CPUProviderBackend,
		CUDAProviderBackend,
		TensorRTProviderBackend,
		OpenVINOProviderBackend,
		CoreMLProviderBackend,
	}
}

// ParseBackend maps a name such as "cuda" or "TensorrtExecutionProvider" to a
// backend.
func ParseBackend(name string) (ProviderBackend, error) {
	key := strings.ToLower(strings.TrimSuffix(name, "ExecutionProvider"))
	switch key {
	case "", "cpu":
		return CPUProviderBackend, nil
	case "cuda", "gpu":
		return CUDAProviderBackend, nil
	case "tensorrt", "trt":
		return TensorRTProviderBackend, nil
	case "openvino":
		return OpenVINOProviderBackend, nil
	case "coreml":
		return CoreMLProviderBackend, nil
	case "dnnl":
		return DNNLProviderBackend, nil
	}
	return "", errors.Wrap(ErrUnsupportedBackend, name)
}

// NewProvider creates the execution provider selected by the configuration.
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - ExecutionProvider: The provider for config.Backend.
//   - error: An error if the backend is unknown or cannot be enabled.
func NewProvider(config Config) (ExecutionProvider, error) {
	switch config.Backend {
	case CPUProviderBackend, "":
		return NewCPUProvider(), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(config.CUDA), nil
	case TensorRTProviderBackend:
		return NewTensorRTProvider(config.TensorRT, config.CUDA), nil
	case OpenVINOProviderBackend:
		return NewOpenVINOProvider(config.OpenVINO), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(config.CoreML), nil
	case DNNLProviderBackend:
		return nil, errors.Wrap(ErrUnsupportedBackend, "dnnl is not exposed by onnxruntime_go")
	default:
		return nil, errors.Wrapf(ErrUnsupportedBackend, "no matching provider backend registered: %s", config.Backend)
	}
}
