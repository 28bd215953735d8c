package inference

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/onnx/onnxtest"
	"github.com/nvr-ai/go-ml-deploy/precision"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInputsResolvesShapes(t *testing.T) {
	infos := []TensorInfo{
		{Name: "images", ElemType: onnx.DataTypeFloat, Shape: []int64{-1, 3, 4, 4}},
		{Name: "ids", ElemType: onnx.DataTypeInt64, Shape: []int64{-1, -1}},
	}
	spec := DefaultInputSpec()
	spec.Shapes = map[string][]int64{"ids": {2, 5}}

	inputs, err := GenerateInputs(infos, spec)
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, []int64{1, 3, 4, 4}, inputs[0].Shape)
	assert.Len(t, inputs[0].Data, 48)
	for _, v := range inputs[0].Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
	assert.Equal(t, []int64{2, 5}, inputs[1].Shape)
	assert.Equal(t, onnx.DataTypeInt64, inputs[1].ElemType)
}

func TestGenerateInputsIsSeeded(t *testing.T) {
	infos := []TensorInfo{{Name: "x", ElemType: onnx.DataTypeFloat, Shape: []int64{16}}}
	spec := InputSpec{Seed: 42, Distribution: DistributionNormal}

	a, err := GenerateInputs(infos, spec)
	require.NoError(t, err)
	b, err := GenerateInputs(infos, spec)
	require.NoError(t, err)
	assert.Equal(t, a[0].Data, b[0].Data)

	spec.Seed = 43
	c, err := GenerateInputs(infos, spec)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Data, c[0].Data)

	fill, err := GenerateInputs(infos, InputSpec{Distribution: DistributionFill, Fill: 0.5})
	require.NoError(t, err)
	for _, v := range fill[0].Data {
		assert.Equal(t, float32(0.5), v)
	}

	_, err = GenerateInputs(infos, InputSpec{Distribution: "poisson"})
	assert.Error(t, err)
}

func TestPrepareInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	data := PrepareInput(img, 4, 4, true)
	require.Len(t, data, 48)
	assert.InDelta(t, 1.0, data[0], 0.01)
	assert.InDelta(t, 0.0, data[16], 0.01)
	assert.InDelta(t, 0.2, data[32], 0.01)

	raw := PrepareInput(img, 4, 4, false)
	assert.InDelta(t, 255.0, raw[0], 2)
}

func TestOutputSummaryAndTensor(t *testing.T) {
	out := Output{Name: "output0", Shape: []int64{1, 4}, Data: []float32{1, 3, -2, 2}}

	s := out.Summary()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, -2.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.InDelta(t, 1.0, s.Mean, 1e-9)
	assert.Equal(t, 1, s.ArgMax)

	dense, err := out.Tensor()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, []int(dense.Shape()))
	v, err := dense.At(0, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v)

	assert.Equal(t, Summary{}, Output{}.Summary())
}

func TestOutputTensorRejectsShortData(t *testing.T) {
	_, err := Output{Name: "output0", Shape: []int64{1, 4}, Data: []float32{1, 3}}.Tensor()
	assert.ErrorIs(t, err, ErrIncompleteOutput)

	_, err = Output{Name: "score"}.Tensor()
	assert.ErrorIs(t, err, ErrIncompleteOutput)

	scalar, err := Output{Name: "score", Data: []float32{0.25}}.Tensor()
	require.NoError(t, err)
	assert.True(t, scalar.IsScalar())
}

func TestFloat16Bytes(t *testing.T) {
	raw := float16Bytes([]float32{1, -2, 0.5})
	assert.Equal(t, []byte{0x00, 0x3c, 0x00, 0xc0, 0x00, 0x38}, raw)

	values, err := float16Values([]int64{1, 3}, raw)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5}, values)

	// One byte per element is what an under-sized copy of the output holds.
	_, err = float16Values([]int64{1, 6}, raw)
	assert.ErrorIs(t, err, ErrIncompleteOutput)
}

func TestCheckShape(t *testing.T) {
	info := TensorInfo{Name: "images", Shape: []int64{-1, 3, 8, 8}}
	assert.NoError(t, checkShape(info, []int64{2, 3, 8, 8}))
	assert.ErrorIs(t, checkShape(info, []int64{1, 3, 8}), ErrInputMismatch)
	assert.ErrorIs(t, checkShape(info, []int64{1, 1, 8, 8}), ErrInputMismatch)
}

// openDetector saves a small detector model and opens it on the CPU. It skips
// when the onnxruntime library is not installed.
func openDetector(t *testing.T) *Session {
	t.Helper()

	config := providers.DefaultConfig()
	if _, err := os.Stat(providers.SharedLibraryPath(config.LibraryPath)); err != nil {
		t.Skipf("onnxruntime library not available: %v", err)
	}

	path := filepath.Join(t.TempDir(), "detector.onnx")
	require.NoError(t, onnx.Save(path, onnxtest.Detector(16, 16, 5)))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	session, err := Open(context.Background(), path, config, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestSessionRunMatchesDeclaredShape(t *testing.T) {
	session := openDetector(t)

	require.Len(t, session.Inputs(), 1)
	assert.Equal(t, "images", session.Inputs()[0].Name)
	assert.Equal(t, []int64{1, 3, 16, 16}, session.Inputs()[0].Shape)

	spec := DefaultInputSpec()
	spec.Seed = 7
	inputs, err := GenerateInputs(session.Inputs(), spec)
	require.NoError(t, err)

	outputs, err := session.Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, session.Outputs()[0].Shape, outputs[0].Shape)
	assert.Len(t, outputs[0].Data, 5)

	again, err := session.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, outputs[0].Data, again[0].Data)
	assert.Equal(t, int64(2), session.Stats().Runs)
}

func TestSessionRunFloat16Outputs(t *testing.T) {
	config := providers.DefaultConfig()
	if _, err := os.Stat(providers.SharedLibraryPath(config.LibraryPath)); err != nil {
		t.Skipf("onnxruntime library not available: %v", err)
	}

	m := onnxtest.Detector(16, 16, 5)
	opts := precision.DefaultFloat16Options()
	opts.KeepIOTypes = false
	_, err := precision.ConvertToFloat16(m, opts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "detector_fp16.onnx")
	require.NoError(t, onnx.Save(path, m))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	session, err := Open(context.Background(), path, config, log)
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, onnx.DataTypeFloat16, session.Outputs()[0].ElemType)

	spec := DefaultInputSpec()
	spec.Seed = 7
	inputs, err := GenerateInputs(session.Inputs(), spec)
	require.NoError(t, err)

	outputs, err := session.Run(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []int64{1, 5}, outputs[0].Shape)
	assert.Len(t, outputs[0].Data, 5)
	assert.Len(t, outputs[0].TopK(5, nil), 5)
	_, err = outputs[0].Tensor()
	assert.NoError(t, err)
}

func TestSessionRunRejectsBadInputs(t *testing.T) {
	session := openDetector(t)

	_, err := session.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInputMismatch)

	bad := []Input{{Name: "images", Shape: []int64{1, 3, 8, 8}, Data: make([]float32, 192)}}
	_, err = session.Run(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInputMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Run(ctx, bad)
	assert.ErrorIs(t, err, context.Canceled)
}
