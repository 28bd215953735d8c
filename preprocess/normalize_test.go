package preprocess

import (
	"testing"

	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/onnx/onnxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertNormalizationRewiresInputCast(t *testing.T) {
	m := onnxtest.WithInputCast(32, 32, 3)

	result, err := InsertNormalization(m, DefaultOptions())
	require.NoError(t, err)

	g := m.Graph
	assert.Equal(t, "images_norm", result.Output)
	assert.Equal(t, []string{"graph_input_cast0"}, result.Rewired)

	require.GreaterOrEqual(t, len(g.Nodes), 4)
	assert.Equal(t, "Mul", g.Nodes[0].OpType)
	assert.Equal(t, []string{"images", "scale255"}, g.Nodes[0].Inputs)
	assert.Equal(t, []string{"images_scaled"}, g.Nodes[0].Outputs)
	assert.Equal(t, "Sub", g.Nodes[1].OpType)
	assert.Equal(t, []string{"images_scaled", "mean"}, g.Nodes[1].Inputs)
	assert.Equal(t, "Div", g.Nodes[2].OpType)
	assert.Equal(t, []string{"images_centered", "std"}, g.Nodes[2].Inputs)
	assert.Equal(t, []string{"images_norm"}, g.Nodes[2].Outputs)

	cast := g.Node("graph_input_cast0")
	require.NotNil(t, cast)
	assert.Equal(t, []string{"images_norm"}, cast.Inputs)
	assert.Greater(t, g.IndexOf(cast), g.IndexOf(g.Nodes[2]))

	// The conv still reads the cast output, not the raw input.
	assert.Equal(t, "graph_input_cast_0", g.Node("conv0").Inputs[0])

	mean, err := g.Initializer("mean").Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.485, 0.456, 0.406}, mean)
	assert.Equal(t, []int64{3, 1, 1}, g.Initializer("std").Dims)
	scale, err := g.Initializer("scale255").Floats()
	require.NoError(t, err)
	assert.InDelta(t, 1.0/255.0, scale[0], 1e-9)
}

func TestInsertNormalizationAllConsumers(t *testing.T) {
	m := onnxtest.Detector(16, 16, 2)
	opts := DefaultOptions()
	opts.TargetNode = ""

	result, err := InsertNormalization(m, opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"conv0"}, result.Rewired)
	assert.Equal(t, "images_norm", m.Graph.Node("conv0").Inputs[0])
	assert.Equal(t, onnx.DataTypeFloat, m.Graph.ValueInfoFor("images_norm").ElemType())
	assert.Equal(t, []int64{1, 3, 16, 16}, m.Graph.ValueInfoFor("images_norm").Dims())

	// The result still encodes.
	_, err = m.Encode()
	require.NoError(t, err)
}

func TestInsertNormalizationMissingTarget(t *testing.T) {
	m := onnxtest.Detector(16, 16, 2)
	nodes := len(m.Graph.Nodes)

	_, err := InsertNormalization(m, DefaultOptions())
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Len(t, m.Graph.Nodes, nodes, "graph must be untouched on error")
	assert.Nil(t, m.Graph.Initializer(ScaleName))
}

func TestInsertNormalizationTargetNotReadingInput(t *testing.T) {
	m := onnxtest.WithInputCast(16, 16, 2)
	nodes := len(m.Graph.Nodes)
	opts := DefaultOptions()
	opts.TargetNode = "relu0"

	_, err := InsertNormalization(m, opts)
	assert.ErrorIs(t, err, ErrNotConsumer)
	assert.Len(t, m.Graph.Nodes, nodes)
	assert.Nil(t, m.Graph.Initializer(MeanName))
}

func TestInsertNormalizationErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.InputName = "pixels"
	_, err := InsertNormalization(onnxtest.WithInputCast(8, 8, 2), opts)
	assert.ErrorIs(t, err, ErrInputNotFound)

	opts = DefaultOptions()
	opts.Std = []float32{1, 1}
	_, err = InsertNormalization(onnxtest.WithInputCast(8, 8, 2), opts)
	assert.ErrorIs(t, err, ErrInvalidStats)

	m := onnxtest.WithInputCast(8, 8, 2)
	m.Graph.AddInitializers(onnx.NewFloatTensor("mean", []int64{1}, []float32{0}))
	_, err = InsertNormalization(m, DefaultOptions())
	assert.ErrorIs(t, err, ErrNameCollision)
}

func TestInsertNormalizationDefaultInput(t *testing.T) {
	m := onnxtest.WithInputCast(8, 8, 2)
	opts := DefaultOptions()
	opts.InputName = ""

	result, err := InsertNormalization(m, opts)
	require.NoError(t, err)
	assert.Equal(t, "images_norm", result.Output)
}
