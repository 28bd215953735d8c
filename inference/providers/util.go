// Package providers - Utility functions.
package providers

import (
	"os"
	"runtime"
)

// LibraryPathEnv names the environment variable that overrides the default
// shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibraryPath returns the onnxruntime shared library to load: the
// configured path, then LibraryPathEnv, then the platform default.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibraryPath(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		return env
	}
	return defaultLibraryPath(runtime.GOOS, runtime.GOARCH)
}

func defaultLibraryPath(goos, goarch string) string {
	switch goos {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if goarch == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}
