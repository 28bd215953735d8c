// Package providers - CoreML execution provider.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags (coreml_provider_factory.h).
const (
	coreMLFlagUseCPUOnly              uint32 = 0x001
	coreMLFlagEnableOnSubgraph        uint32 = 0x002
	coreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	UseCPUOnly bool `json:"use_cpu_only"                  yaml:"use_cpu_only"`
	// Run CoreML on subgraphs in the body of Loop, Scan and If operators.
	EnableOnSubgraph bool `json:"enable_on_subgraph"            yaml:"enable_on_subgraph"`
	// Only enable CoreML on devices with an Apple Neural Engine.
	OnlyEnableDeviceWithANE bool `json:"only_enable_device_with_ane" yaml:"only_enable_device_with_ane"`
}

// Flags returns the bit set passed to ONNX Runtime.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.UseCPUOnly {
		flags |= coreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraph {
		flags |= coreMLFlagEnableOnSubgraph
	}
	if o.OnlyEnableDeviceWithANE {
		flags |= coreMLFlagOnlyEnableDeviceWithANE
	}
	return flags
}

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{options: options}
}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Append enables CoreML on the session options.
func (p *CoreMLProvider) Append(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderCoreML(p.options.Flags()); err != nil {
		return errors.Wrap(err, "error enabling CoreML")
	}
	return nil
}
