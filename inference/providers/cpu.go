// Package providers - CPU based execution provider.
package providers

import (
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CPUProviderBackend uses the default CPU kernels.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUProvider is always available and needs no session option changes.
type CPUProvider struct{}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Append is a no-op; ONNX Runtime falls back to CPU for every session.
func (p *CPUProvider) Append(*ort.SessionOptions) error {
	return nil
}
