package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modeltool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging)
	assert.True(t, cfg.Precision.KeepIOTypes)
	assert.Equal(t, "images", cfg.Normalize.InputName)
	assert.Equal(t, []float32{0.485, 0.456, 0.406}, cfg.Normalize.Mean)
	assert.Equal(t, quantize.QUInt8, cfg.Quantize.WeightType)
	assert.Equal(t, quantize.QInt8, cfg.Pipeline.Quantize.WeightType)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Inference.Provider.Backend)
	assert.Equal(t, inference.DistributionUniform, cfg.Inference.Inputs.Distribution)
	assert.Equal(t, 100, cfg.Benchmark.Iterations)
	assert.Equal(t, 10, cfg.Benchmark.Warmup)
	assert.InDelta(t, 1705.7, cfg.Pose.Fy, 1e-9)
	assert.InDelta(t, 100.0, cfg.Pose.AxisLength, 1e-9)
	assert.Len(t, cfg.Pose.Distortion, 5)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging: debug
runtime:
  library_path: /opt/onnxruntime/lib/libonnxruntime.so
precision:
  keep_io_types: false
  op_block_list: [Resize]
quantize:
  weight_type: QInt8
  per_channel: true
inference:
  provider:
    backend: tensorrt
    tensorrt:
      fp16_enable: true
  inputs:
    seed: 42
    distribution: normal
    shapes:
      images: [1, 3, 320, 320]
benchmark:
  iterations: 5
pose:
  fx: 800
  distortion: [0.1, -0.05, 0, 0]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging)
	assert.False(t, cfg.Precision.KeepIOTypes)
	assert.Equal(t, []string{"Resize"}, cfg.Precision.OpBlockList)
	assert.Equal(t, quantize.QInt8, cfg.Quantize.WeightType)
	assert.True(t, cfg.Quantize.PerChannel)
	assert.Equal(t, providers.TensorRTProviderBackend, cfg.Inference.Provider.Backend)
	assert.Equal(t, "/opt/onnxruntime/lib/libonnxruntime.so", cfg.Inference.Provider.LibraryPath)
	assert.Equal(t, int64(42), cfg.Inference.Inputs.Seed)
	assert.Equal(t, inference.DistributionNormal, cfg.Inference.Inputs.Distribution)
	assert.Equal(t, []int64{1, 3, 320, 320}, cfg.Inference.Inputs.Shapes["images"])
	assert.Equal(t, 5, cfg.Benchmark.Iterations)
	assert.Equal(t, 10, cfg.Benchmark.Warmup)

	camera := cfg.Pose.Camera()
	assert.InDelta(t, 800.0, camera.Matrix[0][0], 1e-9)
	assert.InDelta(t, 1705.7, camera.Matrix[1][1], 1e-9)
	assert.Equal(t, []float64{0.1, -0.05, 0, 0}, camera.Distortion)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":      "logging: [",
		"level":       "logging: loud",
		"backend":     "inference:\n  provider:\n    backend: dnnl",
		"weight type": "quantize:\n  weight_type: int4",
		"iterations":  "benchmark:\n  iterations: -1",
		"distortion":  "pose:\n  distortion: [0.1, 0.2]",
	}
	for name, content := range cases {
		_, err := Load(writeConfig(t, content))
		assert.Error(t, err, name)
	}
}
