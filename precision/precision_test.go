package precision

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/onnx/onnxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	m := onnxtest.Detector(8, 8, 2)
	assert.Equal(t, PrecisionFP32, Detect(m))

	m.Graph.Initializers = nil
	assert.Equal(t, PrecisionUnknown, Detect(m))

	m.Graph.AddInitializers(onnx.NewUint8Tensor("q", []int64{16}, make([]uint8, 16)))
	m.Graph.AddInitializers(onnx.NewFloatTensor("scale", []int64{1}, []float32{0.5}))
	assert.Equal(t, PrecisionUINT8, Detect(m))
}

func TestConvertToFloat16KeepsIOTypes(t *testing.T) {
	m := onnxtest.Detector(8, 8, 3)

	report, err := ConvertToFloat16(m, DefaultFloat16Options())
	require.NoError(t, err)

	g := m.Graph
	for _, init := range g.Initializers {
		assert.Equal(t, onnx.DataTypeFloat16, init.DataType, init.Name)
	}
	assert.Equal(t, 3, report.ConvertedInitializers)
	assert.Equal(t, 2, report.InsertedCasts)
	assert.Equal(t, report.BytesBefore/2, report.BytesAfter)
	assert.Equal(t, PrecisionFP16, Detect(m))

	assert.Equal(t, onnx.DataTypeFloat, g.Input("images").ElemType())
	assert.Equal(t, onnx.DataTypeFloat, g.Output("output0").ElemType())

	inCast := g.Node("graph_input_cast0")
	require.NotNil(t, inCast)
	assert.Equal(t, 0, g.IndexOf(inCast))
	assert.Equal(t, []string{"images"}, inCast.Inputs)
	assert.Equal(t, []string{"graph_input_cast_0"}, inCast.Outputs)
	assert.Equal(t, int64(onnx.DataTypeFloat16), inCast.Attr("to").I)
	assert.Equal(t, "graph_input_cast_0", g.Node("conv0").Inputs[0])

	outCast := g.Node("graph_output_cast0")
	require.NotNil(t, outCast)
	assert.Equal(t, []string{"graph_output_cast_0"}, outCast.Inputs)
	assert.Equal(t, []string{"output0"}, outCast.Outputs)
	assert.Equal(t, int64(onnx.DataTypeFloat), outCast.Attr("to").I)
	assert.Equal(t, []string{"graph_output_cast_0"}, g.Node("fc0").Outputs)

	assert.Equal(t, onnx.DataTypeFloat16, g.ValueInfoFor("conv0_out").ElemType())
}

func TestConvertToFloat16SurvivesRoundTrip(t *testing.T) {
	m := onnxtest.Detector(8, 8, 2)
	want, err := m.Graph.Initializer("conv0.weight").Floats()
	require.NoError(t, err)

	_, err = ConvertToFloat16(m, DefaultFloat16Options())
	require.NoError(t, err)

	data, err := m.Encode()
	require.NoError(t, err)
	decoded, err := onnx.Decode(data)
	require.NoError(t, err)

	got, err := decoded.Graph.Initializer("conv0.weight").Floats()
	require.NoError(t, err)
	// Fixture weights are multiples of 1/8 and exact in half precision.
	assert.Equal(t, want, got)
}

func TestConvertToFloat16WithoutKeepIOTypes(t *testing.T) {
	m := onnxtest.Detector(8, 8, 2)
	opts := DefaultFloat16Options()
	opts.KeepIOTypes = false

	report, err := ConvertToFloat16(m, opts)
	require.NoError(t, err)

	assert.Zero(t, report.InsertedCasts)
	assert.Equal(t, onnx.DataTypeFloat16, m.Graph.Input("images").ElemType())
	assert.Equal(t, onnx.DataTypeFloat16, m.Graph.Output("output0").ElemType())
	assert.Nil(t, m.Graph.Node("graph_input_cast0"))
}

func TestConvertToFloat16BlockedNode(t *testing.T) {
	m := onnxtest.Detector(8, 8, 2)
	opts := DefaultFloat16Options()
	opts.NodeBlockList = []string{"fc0"}

	report, err := ConvertToFloat16(m, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.BlockedNodes)

	g := m.Graph
	// fc0.weight is read only by the blocked node and stays float32.
	assert.Equal(t, onnx.DataTypeFloat, g.Initializer("fc0.weight").DataType)
	assert.Equal(t, onnx.DataTypeFloat16, g.Initializer("conv0.weight").DataType)

	fc := g.Node("fc0")
	require.NotNil(t, fc)
	assert.Equal(t, "flat0_out_float32", fc.Inputs[0])
	assert.Equal(t, "fc0.weight", fc.Inputs[1])

	up := g.Producer("flat0_out_float32")
	require.NotNil(t, up)
	assert.Equal(t, "Cast", up.OpType)
	assert.Equal(t, int64(onnx.DataTypeFloat), up.Attr("to").I)
	assert.Less(t, g.IndexOf(up), g.IndexOf(fc))

	down := g.Consumers(fc.Outputs[0])
	require.Len(t, down, 1)
	assert.Equal(t, "Cast", down[0].OpType)
	assert.Equal(t, int64(onnx.DataTypeFloat16), down[0].Attr("to").I)
	assert.Equal(t, []string{"graph_output_cast_0"}, down[0].Outputs)
}

func TestConvertToFloat16BlockedOpWithoutValueInfo(t *testing.T) {
	m := &onnx.Model{
		IRVersion:   8,
		OpsetImport: []*onnx.OperatorSet{{Domain: "", Version: 17}},
		Graph: &onnx.Graph{
			Name: "scores",
			Nodes: []*onnx.Node{
				onnx.NewNode("Mul", "mul0", []string{"x", "w"}, []string{"r"}),
				onnx.NewNode("TopK", "topk0", []string{"r", "k"}, []string{"vals", "idx"}),
				onnx.NewNode("Relu", "relu0", []string{"vals"}, []string{"y"}),
			},
			Initializers: []*onnx.Tensor{
				onnx.NewFloatTensor("w", []int64{1, 8}, []float32{1, 2, 3, 4, 5, 6, 7, 8}),
				onnx.NewInt64Tensor("k", []int64{1}, []int64{3}),
			},
			Inputs:  []*onnx.ValueInfo{onnx.NewTensorValueInfo("x", onnx.DataTypeFloat, 1, 8)},
			Outputs: []*onnx.ValueInfo{onnx.NewTensorValueInfo("y", onnx.DataTypeFloat, 1, 3)},
		},
	}

	report, err := ConvertToFloat16(m, DefaultFloat16Options())
	require.NoError(t, err)
	assert.Equal(t, 1, report.BlockedNodes)
	assert.Equal(t, 4, report.InsertedCasts)

	g := m.Graph
	topk := g.Node("topk0")
	require.NotNil(t, topk)
	assert.Equal(t, []string{"r_float32", "k"}, topk.Inputs)
	assert.Equal(t, []string{"vals_float32", "idx"}, topk.Outputs)

	up := g.Producer("r_float32")
	require.NotNil(t, up)
	assert.Equal(t, "Cast", up.OpType)
	assert.Equal(t, []string{"r"}, up.Inputs)
	assert.Equal(t, int64(onnx.DataTypeFloat), up.Attr("to").I)
	assert.Less(t, g.IndexOf(up), g.IndexOf(topk))

	down := g.Producer("vals")
	require.NotNil(t, down)
	assert.Equal(t, "Cast", down.OpType)
	assert.Equal(t, []string{"vals_float32"}, down.Inputs)
	assert.Equal(t, int64(onnx.DataTypeFloat16), down.Attr("to").I)
	assert.Greater(t, g.IndexOf(down), g.IndexOf(topk))
}

func TestPropagateHalfSkipsNonFloatOutputs(t *testing.T) {
	g := &onnx.Graph{
		Nodes: []*onnx.Node{
			onnx.NewNode("Shape", "shape0", []string{"h"}, []string{"s"}),
			onnx.NewNode("ArgMax", "argmax0", []string{"h"}, []string{"a"}),
			onnx.NewNode("Add", "add0", []string{"h", "h"}, []string{"sum"}),
			onnx.NewNode("Relu", "relu0", []string{"sum"}, []string{"declared"}),
			onnx.NewNode("Cast", "cast0", []string{"s"}, []string{"c"}, onnx.AttrInt("to", int64(onnx.DataTypeFloat16))),
		},
		ValueInfo: []*onnx.ValueInfo{onnx.NewTensorValueInfo("declared", onnx.DataTypeFloat, 1)},
	}
	half := map[string]struct{}{"h": {}}

	propagateHalf(g, half)
	assert.Contains(t, half, "sum")
	assert.Contains(t, half, "c")
	assert.NotContains(t, half, "s")
	assert.NotContains(t, half, "a")
	assert.NotContains(t, half, "declared")
}

func TestConvertToFloat16RetargetsCastAndConstants(t *testing.T) {
	m := onnxtest.Detector(8, 8, 2)
	g := m.Graph
	g.Nodes = append(g.Nodes,
		onnx.NewNode("Constant", "const0", nil, []string{"c0"},
			onnx.AttrTensor("value", onnx.NewFloatTensor("", []int64{2}, []float32{1.5, 1e-9}))),
		onnx.NewNode("Cast", "cast0", []string{"c0"}, []string{"c1"}, onnx.AttrInt("to", int64(onnx.DataTypeFloat))),
	)

	report, err := ConvertToFloat16(m, DefaultFloat16Options())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ConvertedAttributes)
	assert.Equal(t, 1, report.ClampedValues)
	assert.Equal(t, int64(onnx.DataTypeFloat16), g.Node("cast0").Attr("to").I)

	value := g.Node("const0").Attr("value").T
	assert.Equal(t, onnx.DataTypeFloat16, value.DataType)
	values, err := value.Floats()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), values[0])
	assert.InDelta(t, 1e-7, values[1], 3e-8)
}

func TestConvertToFloat16RejectsBadRange(t *testing.T) {
	opts := DefaultFloat16Options()
	opts.MaxFiniteVal = 1e6
	_, err := ConvertToFloat16(onnxtest.Detector(8, 8, 2), opts)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestClamp(t *testing.T) {
	const minPos, maxF = float32(1e-7), float32(65504)

	cases := []struct {
		in      float32
		want    float32
		changed bool
	}{
		{0, 0, false},
		{1, 1, false},
		{1e-9, minPos, true},
		{-1e-9, -minPos, true},
		{1e6, maxF, true},
		{-1e6, -maxF, true},
		{math32.Inf(1), math32.Inf(1), false},
		{math32.Inf(-1), math32.Inf(-1), false},
	}
	for _, c := range cases {
		got, changed := clamp(c.in, minPos, maxF)
		assert.Equal(t, c.want, got, "clamp(%g)", c.in)
		assert.Equal(t, c.changed, changed, "clamp(%g)", c.in)
	}

	nan, changed := clamp(math32.NaN(), minPos, maxF)
	assert.True(t, math32.IsNaN(nan))
	assert.False(t, changed)
}
