package precision

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DefaultOpBlockList lists operators that stay in float32 because runtimes
// lack half precision kernels for them.
var DefaultOpBlockList = []string{
	"ArrayFeatureExtractor", "Binarizer", "CastMap", "CategoryMapper",
	"DictVectorizer", "FeatureVectorizer", "Imputer", "LabelEncoder",
	"LinearClassifier", "LinearRegressor", "Normalizer", "OneHotEncoder",
	"RandomUniformLike", "SVMClassifier", "SVMRegressor", "Scaler",
	"TreeEnsembleClassifier", "TreeEnsembleRegressor", "ZipMap",
	"NonMaxSuppression", "TopK", "RoiAlign", "Range", "CumSum", "Min", "Max",
	"Upsample",
}

// Float16Options controls ConvertToFloat16.
type Float16Options struct {
	// KeepIOTypes leaves float32 graph inputs and outputs as float32 and
	// inserts Cast nodes at the boundary.
	KeepIOTypes bool `json:"keep_io_types"   yaml:"keep_io_types"   default:"true"`
	// MinPositiveVal is the smallest magnitude a non-zero weight is clamped to.
	MinPositiveVal float32 `json:"min_positive_val" yaml:"min_positive_val" default:"1e-7"`
	// MaxFiniteVal is the largest magnitude a finite weight is clamped to.
	MaxFiniteVal float32 `json:"max_finite_val"   yaml:"max_finite_val"   default:"65504"`
	// OpBlockList lists op types kept in float32. Nil selects DefaultOpBlockList.
	OpBlockList []string `json:"op_block_list"   yaml:"op_block_list"`
	// NodeBlockList lists node names kept in float32.
	NodeBlockList []string `json:"node_block_list" yaml:"node_block_list"`
}

// DefaultFloat16Options returns the options used by the fp16 command.
func DefaultFloat16Options() Float16Options {
	return Float16Options{
		KeepIOTypes:    true,
		MinPositiveVal: 1e-7,
		MaxFiniteVal:   65504,
	}
}

// Float16Report summarizes a conversion.
type Float16Report struct {
	ConvertedInitializers int   `json:"converted_initializers"`
	ConvertedAttributes   int   `json:"converted_attributes"`
	ClampedValues         int   `json:"clamped_values"`
	InsertedCasts         int   `json:"inserted_casts"`
	BlockedNodes          int   `json:"blocked_nodes"`
	BytesBefore           int64 `json:"bytes_before"`
	BytesAfter            int64 `json:"bytes_after"`
}

// ErrInvalidRange is returned for clamp bounds that half precision cannot hold.
var ErrInvalidRange = errors.New("invalid float16 clamp range")

// ConvertToFloat16 rewrites a float32 model to store its weights and
// intermediate values in half precision. The model is modified in place.
//
// Arguments:
//   - m: The model to convert.
//   - opts: Conversion options.
//
// Returns:
//   - *Float16Report: Counts of what was converted.
//   - error: An error if a tensor cannot be converted.
func ConvertToFloat16(m *onnx.Model, opts Float16Options) (*Float16Report, error) {
	if opts.MinPositiveVal <= 0 || opts.MaxFiniteVal <= opts.MinPositiveVal || opts.MaxFiniteVal > 65504 {
		return nil, errors.Wrapf(ErrInvalidRange, "min=%g max=%g", opts.MinPositiveVal, opts.MaxFiniteVal)
	}
	if opts.OpBlockList == nil {
		opts.OpBlockList = DefaultOpBlockList
	}

	c := &converter{
		opts:        opts,
		report:      &Float16Report{},
		blockedOps:  toSet(opts.OpBlockList),
		blockedName: toSet(opts.NodeBlockList),
	}
	c.report.BytesBefore = initializerBytes(m.Graph)

	if err := c.convertGraph(m.Graph, true); err != nil {
		return nil, err
	}

	c.report.BytesAfter = initializerBytes(m.Graph)
	return c.report, nil
}

type converter struct {
	opts        Float16Options
	report      *Float16Report
	blockedOps  map[string]struct{}
	blockedName map[string]struct{}
}

func (c *converter) blocked(n *onnx.Node) bool {
	if _, ok := c.blockedOps[n.OpType]; ok {
		return true
	}
	_, ok := c.blockedName[n.Name]
	return ok
}

// convertGraph converts one graph. top is false for subgraphs, whose inputs
// and outputs are internal values and always converted.
func (c *converter) convertGraph(g *onnx.Graph, top bool) error {
	names := onnx.NewNameGenerator(g)
	half := make(map[string]struct{})

	var blockedNodes []*onnx.Node
	for _, n := range g.Nodes {
		if c.blocked(n) {
			blockedNodes = append(blockedNodes, n)
			continue
		}
		if err := c.convertNode(n); err != nil {
			return err
		}
	}
	c.report.BlockedNodes += len(blockedNodes)

	keepIO := top && c.opts.KeepIOTypes
	if err := c.convertInputs(g, keepIO, names, half); err != nil {
		return err
	}
	c.convertOutputs(g, keepIO, names, half)

	if err := c.convertInitializers(g, half); err != nil {
		return err
	}

	for _, info := range g.ValueInfo {
		if info.ElemType() == onnx.DataTypeFloat {
			info.SetElemType(onnx.DataTypeFloat16)
			half[info.Name] = struct{}{}
		}
	}
	propagateHalf(g, half)

	for _, n := range blockedNodes {
		c.isolateBlockedNode(g, n, names, half)
	}

	return nil
}

// convertNode retargets Cast nodes, converts tensor attributes and recurses
// into subgraphs.
func (c *converter) convertNode(n *onnx.Node) error {
	if n.OpType == "Cast" {
		if to := n.Attr("to"); to != nil && onnx.DataType(to.I) == onnx.DataTypeFloat {
			to.I = int64(onnx.DataTypeFloat16)
		}
	}

	for _, attr := range n.Attributes {
		tensors := attr.Tensors
		if attr.T != nil {
			tensors = append([]*onnx.Tensor{attr.T}, tensors...)
		}
		for _, t := range tensors {
			if t.DataType != onnx.DataTypeFloat {
				continue
			}
			if err := c.convertTensor(t); err != nil {
				return errors.Wrapf(err, "attribute %s of node %s", attr.Name, n.Name)
			}
			c.report.ConvertedAttributes++
		}
	}

	for _, sub := range n.Subgraphs() {
		if err := c.convertGraph(sub, false); err != nil {
			return errors.Wrapf(err, "subgraph of node %s", n.Name)
		}
	}
	return nil
}

func (c *converter) convertInputs(g *onnx.Graph, keep bool, names *onnx.NameGenerator, half map[string]struct{}) error {
	var casts []*onnx.Node
	for i, in := range g.Inputs {
		if in.ElemType() != onnx.DataTypeFloat || g.IsInitializer(in.Name) {
			continue
		}
		if !keep {
			in.SetElemType(onnx.DataTypeFloat16)
			half[in.Name] = struct{}{}
			continue
		}

		output := names.Unique(fmt.Sprintf("graph_input_cast_%d", i))
		nodeName := names.Unique(fmt.Sprintf("graph_input_cast%d", i))
		renameInputs(g, in.Name, output)

		info := in.Clone(output)
		info.SetElemType(onnx.DataTypeFloat16)
		g.ValueInfo = append(g.ValueInfo, info)
		half[output] = struct{}{}

		casts = append(casts, onnx.NewNode("Cast", nodeName, []string{in.Name}, []string{output},
			onnx.AttrInt("to", int64(onnx.DataTypeFloat16))))
	}

	g.InsertNodes(0, casts...)
	c.report.InsertedCasts += len(casts)
	return nil
}

func (c *converter) convertOutputs(g *onnx.Graph, keep bool, names *onnx.NameGenerator, half map[string]struct{}) {
	for i, out := range g.Outputs {
		if out.ElemType() != onnx.DataTypeFloat {
			continue
		}
		if !keep {
			out.SetElemType(onnx.DataTypeFloat16)
			half[out.Name] = struct{}{}
			continue
		}

		producer := g.Producer(out.Name)
		if producer == nil {
			// Passthrough of a graph input or initializer; nothing computes it.
			continue
		}

		input := names.Unique(fmt.Sprintf("graph_output_cast_%d", i))
		nodeName := names.Unique(fmt.Sprintf("graph_output_cast%d", i))
		for j, o := range producer.Outputs {
			if o == out.Name {
				producer.Outputs[j] = input
			}
		}
		renameInputs(g, out.Name, input)

		info := out.Clone(input)
		info.SetElemType(onnx.DataTypeFloat16)
		g.ValueInfo = append(g.ValueInfo, info)
		half[input] = struct{}{}

		g.Nodes = append(g.Nodes, onnx.NewNode("Cast", nodeName, []string{input}, []string{out.Name},
			onnx.AttrInt("to", int64(onnx.DataTypeFloat))))
		c.report.InsertedCasts++
	}
}

// convertInitializers converts float32 initializers unless only blocked
// nodes read them.
func (c *converter) convertInitializers(g *onnx.Graph, half map[string]struct{}) error {
	for _, t := range g.Initializers {
		if t.DataType != onnx.DataTypeFloat {
			continue
		}

		consumers := g.Consumers(t.Name)
		onlyBlocked := len(consumers) > 0
		for _, n := range consumers {
			if !c.blocked(n) {
				onlyBlocked = false
				break
			}
		}
		if onlyBlocked {
			continue
		}

		if err := c.convertTensor(t); err != nil {
			return errors.Wrapf(err, "initializer %s", t.Name)
		}
		if in := g.Input(t.Name); in != nil {
			in.SetElemType(onnx.DataTypeFloat16)
		}
		half[t.Name] = struct{}{}
		c.report.ConvertedInitializers++
	}
	return nil
}

// isolateBlockedNode surrounds a float32-only node with casts: half inputs
// are widened, half outputs are produced under a new name and narrowed.
func (c *converter) isolateBlockedNode(g *onnx.Graph, n *onnx.Node, names *onnx.NameGenerator, half map[string]struct{}) {
	var before, after []*onnx.Node

	for i, in := range n.Inputs {
		if _, ok := half[in]; !ok {
			continue
		}
		widened := names.Unique(in + "_float32")
		before = append(before, onnx.NewNode("Cast", names.Unique(n.Name+"_input_cast"+fmt.Sprint(i)),
			[]string{in}, []string{widened}, onnx.AttrInt("to", int64(onnx.DataTypeFloat))))
		n.Inputs[i] = widened
	}

	for i, out := range n.Outputs {
		if _, ok := half[out]; !ok {
			continue
		}
		wide := names.Unique(out + "_float32")
		after = append(after, onnx.NewNode("Cast", names.Unique(n.Name+"_output_cast"+fmt.Sprint(i)),
			[]string{wide}, []string{out}, onnx.AttrInt("to", int64(onnx.DataTypeFloat16))))
		n.Outputs[i] = wide
	}

	if len(before) > 0 {
		g.InsertNodes(g.IndexOf(n), before...)
	}
	if len(after) > 0 {
		g.InsertNodes(g.IndexOf(n)+1, after...)
	}
	c.report.InsertedCasts += len(before) + len(after)
}

// nonFloatOutputs lists ops whose outputs at the given indexes never carry
// floating point values. A nil slice means every output.
var nonFloatOutputs = map[string][]int{ //nolint:gochecknoglobals
	"Shape": nil, "Size": nil, "NonZero": nil, "ArgMax": nil, "ArgMin": nil,
	"Equal": nil, "Less": nil, "LessOrEqual": nil, "Greater": nil, "GreaterOrEqual": nil,
	"IsNaN": nil, "IsInf": nil, "Not": nil, "And": nil, "Or": nil, "Xor": nil,
	"TopK": {1}, "Unique": {1, 2, 3}, "MaxPool": {1}, "DynamicQuantizeLinear": {0, 2},
}

// propagateHalf marks values without value info as half precision when the
// node computing them reads a half value. Declared value info wins. Nodes are
// visited in graph order, which is topological.
func propagateHalf(g *onnx.Graph, half map[string]struct{}) {
	for _, n := range g.Nodes {
		switch n.OpType {
		case "Cast":
			if to := n.Attr("to"); to != nil && onnx.DataType(to.I) == onnx.DataTypeFloat16 {
				markHalf(g, half, n.Outputs...)
			}
			continue
		case "Constant", "ConstantOfShape":
			if v := n.Attr("value"); v != nil && v.T != nil && v.T.DataType == onnx.DataTypeFloat16 {
				markHalf(g, half, n.Outputs...)
			}
			continue
		}

		reads := false
		for _, in := range n.Inputs {
			if _, ok := half[in]; ok {
				reads = true
				break
			}
		}
		if !reads {
			continue
		}

		skip, listed := nonFloatOutputs[n.OpType]
		if listed && skip == nil {
			continue
		}
		for i, out := range n.Outputs {
			if !containsIndex(skip, i) {
				markHalf(g, half, out)
			}
		}
	}
}

func markHalf(g *onnx.Graph, half map[string]struct{}, values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if info := g.ValueInfoFor(v); info != nil && info.ElemType() != onnx.DataTypeFloat16 {
			continue
		}
		if info := g.Output(v); info != nil && info.ElemType() != onnx.DataTypeFloat16 {
			continue
		}
		half[v] = struct{}{}
	}
}

func containsIndex(indexes []int, i int) bool {
	for _, j := range indexes {
		if i == j {
			return true
		}
	}
	return false
}

// convertTensor stores a float32 tensor as float16, clamping values into the
// half precision range.
func (c *converter) convertTensor(t *onnx.Tensor) error {
	values, err := t.Floats()
	if err != nil {
		return err
	}

	bits := make([]uint16, len(values))
	for i, v := range values {
		clamped, changed := clamp(v, c.opts.MinPositiveVal, c.opts.MaxFiniteVal)
		if changed {
			c.report.ClampedValues++
		}
		bits[i] = float16.Fromfloat32(clamped).Bits()
	}

	t.SetFloat16Bits(bits)
	return nil
}

// clamp maps values that would underflow to zero or overflow to infinity onto
// the nearest representable magnitude. Zeros, infinities and NaN pass through.
func clamp(v, minPositive, maxFinite float32) (float32, bool) {
	switch {
	case math32.IsNaN(v) || math32.IsInf(v, 0) || v == 0:
		return v, false
	case v > 0 && v < minPositive:
		return minPositive, true
	case v < 0 && v > -minPositive:
		return -minPositive, true
	case v > maxFinite:
		return maxFinite, true
	case v < -maxFinite:
		return -maxFinite, true
	}
	return v, false
}

// renameInputs points every reader of old, including subgraph nodes that
// capture it from the outer scope, at replacement.
func renameInputs(g *onnx.Graph, old, replacement string) {
	for _, n := range g.Nodes {
		for i, in := range n.Inputs {
			if in == old {
				n.Inputs[i] = replacement
			}
		}
		for _, sub := range n.Subgraphs() {
			if sub.Input(old) == nil && sub.Initializer(old) == nil {
				renameInputs(sub, old, replacement)
			}
		}
	}
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
