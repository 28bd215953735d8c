// Package providers - Session options and runtime environment.
package providers

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrLibraryNotFound is returned when the onnxruntime shared library is missing.
var ErrLibraryNotFound = errors.New("onnxruntime shared library not found")

var environment struct {
	sync.Mutex
	path string
}

// InitializeEnvironment loads the onnxruntime shared library and prepares the
// runtime. It is required once per process; later calls with the same
// library are no-ops.
//
// Arguments:
//   - libraryPath: The shared library, or empty for SharedLibraryPath("").
//
// Returns:
//   - error: An error if the library is missing or fails to load.
func InitializeEnvironment(libraryPath string) error {
	environment.Lock()
	defer environment.Unlock()

	libPath := SharedLibraryPath(libraryPath)
	if ort.IsInitialized() {
		if environment.path != "" && environment.path != libPath {
			return errors.Errorf("onnxruntime already initialized from %s", environment.path)
		}
		return nil
	}

	// Check if the shared library exists before trying to use it.
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrLibraryNotFound, "%s: %v", libPath, err)
	}

	// Point ONNX Runtime to the exact shared library path (overrides default search).
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	environment.path = libPath
	return nil
}

// NewSessionOptions creates session options with the optimization settings
// applied and the configured execution provider appended. The caller
// destroys the options once the session is created.
//
// Arguments:
//   - config: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: An error if an option is rejected or the provider cannot be enabled.
func NewSessionOptions(config Config) (*ort.SessionOptions, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	level, err := config.Optimization.Level()
	if err != nil {
		return nil, err
	}
	mode, err := config.Optimization.Mode()
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	apply := []func() error{
		func() error { return options.SetGraphOptimizationLevel(level) },
		func() error { return options.SetExecutionMode(mode) },
		func() error { return options.SetIntraOpNumThreads(config.Optimization.IntraOpNumThreads) },
		func() error { return options.SetInterOpNumThreads(config.Optimization.InterOpNumThreads) },
		func() error { return options.SetCpuMemArena(config.Optimization.CPUMemArena) },
		func() error { return options.SetMemPattern(config.Optimization.MemPattern) },
	}
	for key, value := range config.Optimization.ConfigEntries {
		key, value := key, value
		apply = append(apply, func() error { return options.AddSessionConfigEntry(key, value) })
	}
	apply = append(apply, func() error { return provider.Append(options) })

	for _, fn := range apply {
		if err := fn(); err != nil {
			options.Destroy()
			return nil, errors.Wrapf(err, "configure %s session", provider.Backend())
		}
	}
	return options, nil
}
