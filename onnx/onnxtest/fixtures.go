// Package onnxtest builds small in-memory ONNX models for tests.
package onnxtest

import (
	"github.com/nvr-ai/go-ml-deploy/onnx"
)

// Detector builds a model shaped like an exported YOLO detector head:
// images[1,3,H,W] -> Conv -> Relu -> GlobalAveragePool -> Flatten -> MatMul
// -> output0[1,classes]. The conv weights and the matmul weights are float32
// initializers.
func Detector(height, width, classes int64) *onnx.Model {
	const channels = 4

	convW := make([]float32, channels*3*3*3)
	for i := range convW {
		convW[i] = float32(i%7-3) * 0.125
	}
	convB := []float32{0.1, -0.2, 0.3, -0.4}

	fcW := make([]float32, channels*classes)
	for i := range fcW {
		fcW[i] = float32(i%5-2) * 0.5
	}

	graph := &onnx.Graph{
		Name: "detector",
		Nodes: []*onnx.Node{
			onnx.NewNode("Conv", "conv0", []string{"images", "conv0.weight", "conv0.bias"}, []string{"conv0_out"},
				onnx.AttrInts("kernel_shape", 3, 3),
				onnx.AttrInts("pads", 1, 1, 1, 1),
			),
			onnx.NewNode("Relu", "relu0", []string{"conv0_out"}, []string{"relu0_out"}),
			onnx.NewNode("GlobalAveragePool", "pool0", []string{"relu0_out"}, []string{"pool0_out"}),
			onnx.NewNode("Flatten", "flatten0", []string{"pool0_out"}, []string{"flat0_out"}, onnx.AttrInt("axis", 1)),
			onnx.NewNode("MatMul", "fc0", []string{"flat0_out", "fc0.weight"}, []string{"output0"}),
		},
		Initializers: []*onnx.Tensor{
			onnx.NewFloatTensor("conv0.weight", []int64{channels, 3, 3, 3}, convW),
			onnx.NewFloatTensor("conv0.bias", []int64{channels}, convB),
			onnx.NewFloatTensor("fc0.weight", []int64{channels, classes}, fcW),
		},
		Inputs: []*onnx.ValueInfo{
			onnx.NewTensorValueInfo("images", onnx.DataTypeFloat, 1, 3, height, width),
		},
		Outputs: []*onnx.ValueInfo{
			onnx.NewTensorValueInfo("output0", onnx.DataTypeFloat, 1, classes),
		},
		ValueInfo: []*onnx.ValueInfo{
			onnx.NewTensorValueInfo("conv0_out", onnx.DataTypeFloat, 1, channels, height, width),
			onnx.NewTensorValueInfo("flat0_out", onnx.DataTypeFloat, 1, channels),
		},
	}

	return &onnx.Model{
		IRVersion:    8,
		ProducerName: "onnxtest",
		OpsetImport:  []*onnx.OperatorSet{{Domain: "", Version: 17}},
		Graph:        graph,
	}
}

// WithInputCast returns a detector whose input is first cast to float16 by a
// node named graph_input_cast0, the layout a float16 export with float32 I/O
// produces.
func WithInputCast(height, width, classes int64) *onnx.Model {
	m := Detector(height, width, classes)
	g := m.Graph

	cast := onnx.NewNode("Cast", "graph_input_cast0", []string{"images"}, []string{"graph_input_cast_0"},
		onnx.AttrInt("to", int64(onnx.DataTypeFloat16)))
	for _, n := range g.Consumers("images") {
		for i, in := range n.Inputs {
			if in == "images" {
				n.Inputs[i] = "graph_input_cast_0"
			}
		}
	}
	g.InsertNodes(0, cast)

	return m
}
