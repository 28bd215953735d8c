package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestParseBackend(t *testing.T) {
	cases := map[string]ProviderBackend{
		"":                          CPUProviderBackend,
		"CPU":                       CPUProviderBackend,
		"CUDAExecutionProvider":     CUDAProviderBackend,
		"TensorrtExecutionProvider": TensorRTProviderBackend,
		"trt":                       TensorRTProviderBackend,
		"OpenVINO":                  OpenVINOProviderBackend,
		"coreml":                    CoreMLProviderBackend,
	}
	for name, want := range cases {
		got, err := ParseBackend(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseBackend("rocm")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestNewProvider(t *testing.T) {
	config := DefaultConfig()
	for _, backend := range Backends() {
		config.Backend = backend
		provider, err := NewProvider(config)
		require.NoError(t, err, backend)
		assert.Equal(t, backend, provider.Backend())
	}

	config.Backend = DNNLProviderBackend
	_, err := NewProvider(config)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
	assert.ErrorIs(t, config.Validate(), ErrUnsupportedBackend)
}

func TestNativeOptions(t *testing.T) {
	config := DefaultConfig()

	cuda := config.CUDA.NativeOptions()
	assert.Equal(t, "0", cuda["device_id"])
	assert.Equal(t, "1", cuda["do_copy_in_default_stream"])
	assert.Equal(t, "EXHAUSTIVE", cuda["cudnn_conv_algo_search"])
	assert.NotContains(t, cuda, "gpu_mem_limit")

	trt := config.TensorRT.NativeOptions()
	assert.Equal(t, "1", trt["trt_engine_cache_enable"])
	assert.Equal(t, "./trt_cache", trt["trt_engine_cache_path"])
	assert.Equal(t, "1073741824", trt["trt_max_workspace_size"])
	assert.Equal(t, "0", trt["trt_fp16_enable"])

	config.TensorRT.EngineCacheEnable = false
	assert.NotContains(t, config.TensorRT.NativeOptions(), "trt_engine_cache_path")

	ov := config.OpenVINO.NativeOptions()
	assert.Equal(t, map[string]string{"device_type": "GPU"}, ov)

	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x5), CoreMLOptions{UseCPUOnly: true, OnlyEnableDeviceWithANE: true}.Flags())
}

func TestOptimizationConfig(t *testing.T) {
	config := DefaultOptimizationConfig()
	require.NoError(t, config.Validate())

	level, err := config.Level()
	require.NoError(t, err)
	assert.Equal(t, ort.GraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll), level)

	config.ExecutionMode = "Parallel"
	mode, err := config.Mode()
	require.NoError(t, err)
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeParallel), mode)

	config.GraphOptimizationLevel = "aggressive"
	assert.Error(t, config.Validate())

	config = DefaultOptimizationConfig()
	config.InterOpNumThreads = -1
	assert.Error(t, config.Validate())
}

func TestSharedLibraryPath(t *testing.T) {
	assert.Equal(t, "/opt/ort.so", SharedLibraryPath("/opt/ort.so"))

	t.Setenv(LibraryPathEnv, "/env/ort.so")
	assert.Equal(t, "/env/ort.so", SharedLibraryPath(""))

	assert.Equal(t, "./third_party/onnxruntime_arm64.so", defaultLibraryPath("linux", "arm64"))
	assert.Equal(t, "./third_party/onnxruntime.so", defaultLibraryPath("linux", "amd64"))
	assert.Equal(t, "./third_party/libonnxruntime.dylib", defaultLibraryPath("darwin", "arm64"))
}

func TestInitializeEnvironmentMissingLibrary(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("runtime already initialized by another test")
	}
	err := InitializeEnvironment("/nonexistent/libonnxruntime.so")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
}
