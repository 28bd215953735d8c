package images

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestModelInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "red.png")
	src := redImage(6, 10)
	defer src.Close()
	require.True(t, gocv.IMWrite(path, src))

	info := inference.TensorInfo{Name: "images", ElemType: onnx.DataTypeFloat, Shape: []int64{1, 3, -1, -1}}
	in, err := ModelInput(path, info, inference.ImageOptions{Width: 4, Height: 2, Normalize: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2, 4}, in.Shape)
	require.Len(t, in.Data, 24)
	// Planar RGB: the red plane comes first.
	assert.InDelta(t, 1.0, in.Data[0], 0.01)
	assert.InDelta(t, 0.0, in.Data[8], 0.01)

	_, err = ModelInput(path, inference.TensorInfo{Name: "ids", Shape: []int64{1, 8}}, inference.ImageOptions{})
	assert.Error(t, err)
	_, err = ModelInput(filepath.Join(t.TempDir(), "missing.png"), info, inference.ImageOptions{})
	assert.Error(t, err)
}
