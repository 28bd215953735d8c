// Package quantize - Dynamic 8-bit weight quantization of ONNX models.
//
// Weights of MatMul, Conv and Gather nodes are stored as 8-bit integers.
// Activations stay float32 and are quantized at run time by
// DynamicQuantizeLinear, so no calibration data is needed.
package quantize

import (
	"fmt"
	"strings"

	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/pkg/errors"
)

// MinOpset is the lowest default-domain opset with the integer operators.
const MinOpset = 11

var (
	// ErrUnsupportedOpset is returned for models older than MinOpset.
	ErrUnsupportedOpset = errors.New("model opset too old for dynamic quantization")
	// ErrUnknownWeightType is returned when parsing an unknown weight type.
	ErrUnknownWeightType = errors.New("unknown weight type")
)

// WeightType is the integer type weights are stored as.
type WeightType string

// WeightType constants.
const (
	// QUInt8 stores weights as uint8 with an asymmetric range.
	QUInt8 WeightType = "QUInt8"
	// QInt8 stores weights as int8 with a symmetric range and zero point 0.
	QInt8 WeightType = "QInt8"
)

// ParseWeightType accepts QUInt8/QInt8 and the uint8/int8 shorthands.
func ParseWeightType(s string) (WeightType, error) {
	switch strings.ToLower(s) {
	case "quint8", "uint8", "u8":
		return QUInt8, nil
	case "qint8", "int8", "s8", "i8":
		return QInt8, nil
	}
	return "", errors.Wrap(ErrUnknownWeightType, s)
}

func (w WeightType) bounds() (int32, int32) {
	if w == QInt8 {
		return -127, 127
	}
	return 0, 255
}

func (w WeightType) tensor(name string, dims []int64, values []int32) *onnx.Tensor {
	if w == QInt8 {
		out := make([]int8, len(values))
		for i, v := range values {
			out[i] = int8(v)
		}
		return onnx.NewInt8Tensor(name, dims, out)
	}
	out := make([]uint8, len(values))
	for i, v := range values {
		out[i] = uint8(v)
	}
	return onnx.NewUint8Tensor(name, dims, out)
}

// Options controls QuantizeDynamic.
type Options struct {
	// WeightType is the storage type of quantized weights.
	WeightType WeightType `json:"weight_type"       yaml:"weight_type"       default:"QUInt8"`
	// OpTypes restricts quantization to these op types. Empty means all
	// supported ops.
	OpTypes []string `json:"op_types"          yaml:"op_types"`
	// NodesToQuantize, when set, limits quantization to these node names.
	NodesToQuantize []string `json:"nodes_to_quantize" yaml:"nodes_to_quantize"`
	// NodesToExclude lists node names left in float32.
	NodesToExclude []string `json:"nodes_to_exclude"  yaml:"nodes_to_exclude"`
	// PerChannel quantizes Conv weights per output channel.
	PerChannel bool `json:"per_channel"       yaml:"per_channel"`
}

// SupportedOpTypes are the ops QuantizeDynamic knows how to rewrite.
var SupportedOpTypes = []string{"MatMul", "Conv", "Gather"}

// SkippedNode records why a candidate node was left in float32.
type SkippedNode struct {
	Name   string `json:"name"`
	OpType string `json:"op_type"`
	Reason string `json:"reason"`
}

// Report summarizes a quantization run.
type Report struct {
	WeightType       WeightType    `json:"weight_type"`
	QuantizedNodes   []string      `json:"quantized_nodes"`
	SkippedNodes     []SkippedNode `json:"skipped_nodes"`
	QuantizedWeights int           `json:"quantized_weights"`
	BytesBefore      int64         `json:"bytes_before"`
	BytesAfter       int64         `json:"bytes_after"`
}

// QuantizeDynamic rewrites supported nodes to use 8-bit weights. The model is
// modified in place.
//
// Arguments:
//   - m: The model to quantize.
//   - opts: Weight type and node selection.
//
// Returns:
//   - *Report: Quantized and skipped nodes with weight sizes.
//   - error: An error if the opset is too old or a weight cannot be read.
func QuantizeDynamic(m *onnx.Model, opts Options) (*Report, error) {
	if v := m.OpsetVersion(""); v < MinOpset {
		return nil, errors.Wrapf(ErrUnsupportedOpset, "opset %d, need %d", v, MinOpset)
	}
	if opts.WeightType == "" {
		opts.WeightType = QUInt8
	}
	if opts.WeightType != QUInt8 && opts.WeightType != QInt8 {
		return nil, errors.Wrap(ErrUnknownWeightType, string(opts.WeightType))
	}
	if len(opts.OpTypes) == 0 {
		opts.OpTypes = SupportedOpTypes
	}

	q := &quantizer{
		g:         m.Graph,
		opts:      opts,
		names:     onnx.NewNameGenerator(m.Graph),
		ops:       toSet(opts.OpTypes),
		include:   toSet(opts.NodesToQuantize),
		exclude:   toSet(opts.NodesToExclude),
		inputs:    make(map[string]dynamicInput),
		weights:   make(map[string]*quantized),
		report:    &Report{WeightType: opts.WeightType},
		originals: make(map[string]struct{}),
	}
	q.report.BytesBefore = initializerBytes(m.Graph)

	if err := q.run(); err != nil {
		return nil, err
	}

	q.report.BytesAfter = initializerBytes(m.Graph)
	return q.report, nil
}

// dynamicInput names the outputs of a DynamicQuantizeLinear node.
type dynamicInput struct {
	quantized, scale, zeroPoint string
}

type quantizer struct {
	g       *onnx.Graph
	opts    Options
	names   *onnx.NameGenerator
	ops     map[string]struct{}
	include map[string]struct{}
	exclude map[string]struct{}

	inputs    map[string]dynamicInput
	weights   map[string]*quantized
	originals map[string]struct{}
	report    *Report
}

func (q *quantizer) selected(n *onnx.Node) bool {
	if _, ok := q.ops[n.OpType]; !ok {
		return false
	}
	if _, ok := q.exclude[n.Name]; ok {
		return false
	}
	if len(q.include) > 0 {
		_, ok := q.include[n.Name]
		return ok
	}
	return true
}

func (q *quantizer) run() error {
	var nodes []*onnx.Node
	for _, n := range q.g.Nodes {
		if !q.selected(n) {
			nodes = append(nodes, n)
			continue
		}

		var (
			replacement []*onnx.Node
			reason      string
			err         error
		)
		switch n.OpType {
		case "MatMul":
			replacement, reason, err = q.matMul(n)
		case "Conv":
			replacement, reason, err = q.conv(n)
		case "Gather":
			replacement, reason, err = q.gather(n)
		default:
			reason = "unsupported op type"
		}
		if err != nil {
			return errors.Wrapf(err, "quantize node %s", n.Name)
		}

		if replacement == nil {
			q.report.SkippedNodes = append(q.report.SkippedNodes, SkippedNode{Name: n.Name, OpType: n.OpType, Reason: reason})
			nodes = append(nodes, n)
			continue
		}
		q.report.QuantizedNodes = append(q.report.QuantizedNodes, n.Name)
		nodes = append(nodes, replacement...)
	}
	q.g.Nodes = nodes

	for name := range q.originals {
		if !q.g.UsesValue(name) {
			q.g.RemoveInitializer(name)
		}
	}
	return nil
}

// weight returns the quantized form of a float32 initializer, or a reason it
// cannot be quantized.
func (q *quantizer) weight(name string, perChannel bool, scaleDims []int64) (*quantized, string, error) {
	t := q.g.Initializer(name)
	switch {
	case t == nil:
		return nil, "weight is not an initializer", nil
	case t.DataType != onnx.DataTypeFloat:
		return nil, fmt.Sprintf("weight is %s", t.DataType), nil
	case t.IsExternal():
		return nil, "weight uses external data", nil
	}

	key := fmt.Sprintf("%s/%t", name, perChannel)
	if w, ok := q.weights[key]; ok {
		return w, "", nil
	}

	w, err := quantizeTensor(t, q.opts.WeightType, perChannel, scaleDims)
	if err != nil {
		return nil, "", err
	}
	w.data.Name = q.names.Unique(w.data.Name)
	w.scale.Name = q.names.Unique(w.scale.Name)
	w.zeroPoint.Name = q.names.Unique(w.zeroPoint.Name)
	q.g.AddInitializers(w.data, w.scale, w.zeroPoint)

	q.weights[key] = w
	q.originals[name] = struct{}{}
	q.report.QuantizedWeights++
	return w, "", nil
}

// dynamic returns the DynamicQuantizeLinear outputs for an activation,
// emitting the node into nodes the first time the activation is seen.
func (q *quantizer) dynamic(input string, nodes *[]*onnx.Node) dynamicInput {
	if d, ok := q.inputs[input]; ok {
		return d
	}
	d := dynamicInput{
		quantized: q.names.Unique(input + "_quantized"),
		scale:     q.names.Unique(input + "_scale"),
		zeroPoint: q.names.Unique(input + "_zero_point"),
	}
	*nodes = append(*nodes, onnx.NewNode("DynamicQuantizeLinear", q.names.Unique(input+"_QuantizeLinear"),
		[]string{input}, []string{d.quantized, d.scale, d.zeroPoint}))
	q.inputs[input] = d
	return d
}

// rescale converts an int32 accumulator back to float: Cast, then multiply by
// the product of the activation and weight scales.
func (q *quantizer) rescale(n *onnx.Node, accumulator, activationScale, weightScale, output string) []*onnx.Node {
	cast := q.names.Unique(accumulator + "_cast_output")
	scales := q.names.Unique(n.Name + "_scales_mul")
	return []*onnx.Node{
		onnx.NewNode("Cast", q.names.Unique(accumulator+"_cast"), []string{accumulator}, []string{cast},
			onnx.AttrInt("to", int64(onnx.DataTypeFloat))),
		onnx.NewNode("Mul", q.names.Unique(n.Name+"_scales_mul_node"), []string{activationScale, weightScale}, []string{scales}),
		onnx.NewNode("Mul", q.names.Unique(n.Name+"_output_scale_mul"), []string{cast, scales}, []string{output}),
	}
}

func (q *quantizer) matMul(n *onnx.Node) ([]*onnx.Node, string, error) {
	if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
		return nil, "unexpected arity", nil
	}
	if q.g.IsInitializer(n.Inputs[0]) {
		return nil, "activation is constant", nil
	}
	w, reason, err := q.weight(n.Inputs[1], false, nil)
	if w == nil {
		return nil, reason, err
	}

	var nodes []*onnx.Node
	a := q.dynamic(n.Inputs[0], &nodes)
	accumulator := q.names.Unique(n.Outputs[0] + "_output_quantized")
	nodes = append(nodes, onnx.NewNode("MatMulInteger", q.names.Unique(n.Name+"_quant"),
		[]string{a.quantized, w.data.Name, a.zeroPoint, w.zeroPoint.Name}, []string{accumulator}))
	nodes = append(nodes, q.rescale(n, accumulator, a.scale, w.scale.Name, n.Outputs[0])...)
	return nodes, "", nil
}

func (q *quantizer) conv(n *onnx.Node) ([]*onnx.Node, string, error) {
	if len(n.Inputs) < 2 || len(n.Outputs) != 1 {
		return nil, "unexpected arity", nil
	}
	weight := q.g.Initializer(n.Inputs[1])
	if weight == nil {
		return nil, "weight is not an initializer", nil
	}
	hasBias := len(n.Inputs) > 2 && n.Inputs[2] != ""
	if hasBias && q.g.Initializer(n.Inputs[2]) == nil {
		return nil, "bias is not an initializer", nil
	}
	channels := int64(1)
	if len(weight.Dims) > 0 {
		channels = weight.Dims[0]
	}
	// Per-channel scales broadcast against the NCHW accumulator.
	scaleDims := []int64{1, channels}
	for i := 2; i < len(weight.Dims); i++ {
		scaleDims = append(scaleDims, 1)
	}

	w, reason, err := q.weight(n.Inputs[1], q.opts.PerChannel, scaleDims)
	if w == nil {
		return nil, reason, err
	}

	var nodes []*onnx.Node
	x := q.dynamic(n.Inputs[0], &nodes)

	output := n.Outputs[0]
	if hasBias {
		output = q.names.Unique(n.Outputs[0] + "_without_bias")
	}

	accumulator := q.names.Unique(n.Outputs[0] + "_output_quantized")
	conv := onnx.NewNode("ConvInteger", q.names.Unique(n.Name+"_quant"),
		[]string{x.quantized, w.data.Name, x.zeroPoint, w.zeroPoint.Name}, []string{accumulator})
	conv.Attributes = n.Attributes
	nodes = append(nodes, conv)
	nodes = append(nodes, q.rescale(n, accumulator, x.scale, w.scale.Name, output)...)

	if hasBias {
		bias := q.reshapedBias(n.Inputs[2], scaleDims)
		nodes = append(nodes, onnx.NewNode("Add", q.names.Unique(n.Name+"_bias_add"),
			[]string{output, bias}, []string{n.Outputs[0]}))
	}
	return nodes, "", nil
}

// reshapedBias copies a [C] bias initializer into one shaped to broadcast
// over the NCHW output.
func (q *quantizer) reshapedBias(name string, dims []int64) string {
	c := q.g.Initializer(name).Clone()
	c.Name = q.names.Unique(name + "_reshaped")
	c.Dims = append([]int64(nil), dims...)
	q.g.AddInitializers(c)
	q.originals[name] = struct{}{}
	return c.Name
}

func (q *quantizer) gather(n *onnx.Node) ([]*onnx.Node, string, error) {
	if len(n.Inputs) != 2 || len(n.Outputs) != 1 {
		return nil, "unexpected arity", nil
	}
	w, reason, err := q.weight(n.Inputs[0], false, nil)
	if w == nil {
		return nil, reason, err
	}

	gathered := q.names.Unique(n.Outputs[0] + "_quantized")
	gather := onnx.NewNode("Gather", q.names.Unique(n.Name+"_quant"), []string{w.data.Name, n.Inputs[1]}, []string{gathered})
	gather.Attributes = n.Attributes
	return []*onnx.Node{
		gather,
		onnx.NewNode("DequantizeLinear", q.names.Unique(n.Name+"_dequantize"),
			[]string{gathered, w.scale.Name, w.zeroPoint.Name}, []string{n.Outputs[0]}),
	}, "", nil
}

func initializerBytes(g *onnx.Graph) int64 {
	var n int64
	for _, t := range g.Initializers {
		n += int64(t.ByteSize())
	}
	return n
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
