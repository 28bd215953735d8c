package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/onnx/onnxtest"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveDetector(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detector.onnx")
	require.NoError(t, onnx.Save(path, onnxtest.Detector(16, 16, 5)))
	return path
}

func TestQuantizeFile(t *testing.T) {
	input := saveDetector(t)
	output := filepath.Join(t.TempDir(), "nested", "detector_int8.onnx")
	require.NoError(t, os.MkdirAll(filepath.Dir(output), 0o755))

	report, err := QuantizeFile(input, output, quantize.Options{WeightType: quantize.QInt8})
	require.NoError(t, err)
	assert.NotEmpty(t, report.QuantizedNodes)
	assert.Less(t, report.BytesAfter, report.BytesBefore)

	model, err := onnx.Load(output)
	require.NoError(t, err)
	ops := onnx.Summarize(model).OpCounts
	assert.Contains(t, ops, "DynamicQuantizeLinear")
	assert.NotContains(t, ops, "MatMul")

	_, err = QuantizeFile("", output, quantize.Options{})
	assert.Error(t, err)
	_, err = QuantizeFile(filepath.Join(t.TempDir(), "missing.onnx"), output, quantize.Options{})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	opts := DefaultOptions()
	if _, err := os.Stat(providers.SharedLibraryPath(opts.Inference.LibraryPath)); err != nil {
		t.Skipf("onnxruntime library not available: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	opts.Input = saveDetector(t)
	opts.Output = filepath.Join(t.TempDir(), "detector_int8.onnx")
	opts.Logger = log

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, []int64{1, 5}, result.Outputs[0].Shape)
	assert.Equal(t, quantize.QInt8, result.Quantize.WeightType)
}
