// Package preprocess - Bakes input normalization into a model graph.
package preprocess

import (
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/pkg/errors"
)

var (
	// ErrNodeNotFound is returned when the node to rewire is not in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInputNotFound is returned when the graph has no such input.
	ErrInputNotFound = errors.New("graph input not found")
	// ErrNameCollision is returned when an inserted tensor name is already used.
	ErrNameCollision = errors.New("name already used in graph")
	// ErrInvalidStats is returned for mean/std vectors that cannot be applied.
	ErrInvalidStats = errors.New("invalid normalization statistics")
	// ErrNotConsumer is returned when no target node reads the input.
	ErrNotConsumer = errors.New("node does not read the input")
)

// Initializer names added by InsertNormalization.
const (
	ScaleName = "scale255"
	MeanName  = "mean"
	StdName   = "std"
)

// Options controls InsertNormalization.
type Options struct {
	// InputName is the graph input to normalize. Empty selects the first
	// graph input that is not an initializer.
	InputName string `json:"input_name"  yaml:"input_name"  default:"images"`
	// TargetNode is the node whose matching input is rewired to the
	// normalized value. Empty rewires every consumer of the input.
	TargetNode string `json:"target_node" yaml:"target_node" default:"graph_input_cast0"`
	// Scale multiplies raw pixel values before centering.
	Scale float32 `json:"scale"       yaml:"scale"`
	// Mean is subtracted per channel after scaling.
	Mean []float32 `json:"mean"        yaml:"mean"`
	// Std divides per channel after centering.
	Std []float32 `json:"std"         yaml:"std"`
}

// DefaultOptions returns ImageNet normalization applied to 0..255 pixels
// feeding the float16 input cast of an exported detector.
func DefaultOptions() Options {
	return Options{
		InputName:  "images",
		TargetNode: "graph_input_cast0",
		Scale:      1.0 / 255.0,
		Mean:       []float32{0.485, 0.456, 0.406},
		Std:        []float32{0.229, 0.224, 0.225},
	}
}

// Result describes the inserted subgraph.
type Result struct {
	// Output is the name of the normalized value.
	Output string `json:"output"`
	// Nodes are the names of the Mul, Sub and Div nodes.
	Nodes []string `json:"nodes"`
	// Rewired lists the nodes whose inputs now read Output.
	Rewired []string `json:"rewired"`
}

// InsertNormalization adds x*scale, (x-mean) and /std in front of the model so
// raw pixels can be fed directly. The model is modified in place.
//
// Arguments:
//   - m: The model to edit.
//   - opts: The input, rewire target and statistics.
//
// Returns:
//   - *Result: Names of the inserted values and rewired nodes.
//   - error: An error if the input or target is missing or names collide.
func InsertNormalization(m *onnx.Model, opts Options) (*Result, error) {
	g := m.Graph

	if len(opts.Mean) == 0 || len(opts.Mean) != len(opts.Std) {
		return nil, errors.Wrapf(ErrInvalidStats, "mean has %d values, std has %d", len(opts.Mean), len(opts.Std))
	}
	for _, s := range opts.Std {
		if s == 0 {
			return nil, errors.Wrap(ErrInvalidStats, "std contains zero")
		}
	}

	input, err := resolveInput(g, opts.InputName)
	if err != nil {
		return nil, err
	}

	var targets []*onnx.Node
	if opts.TargetNode != "" {
		target := g.Node(opts.TargetNode)
		if target == nil {
			return nil, errors.Wrap(ErrNodeNotFound, opts.TargetNode)
		}
		targets = []*onnx.Node{target}
	} else {
		targets = g.Consumers(input)
	}
	targets = readersOf(targets, input)
	if len(targets) == 0 {
		if opts.TargetNode != "" {
			return nil, errors.Wrapf(ErrNotConsumer, "%s does not read %s", opts.TargetNode, input)
		}
		return nil, errors.Wrapf(ErrNotConsumer, "nothing reads %s", input)
	}

	scaled, centered, normalized := input+"_scaled", input+"_centered", input+"_norm"
	names := g.Names()
	for _, name := range []string{ScaleName, MeanName, StdName, scaled, centered, normalized} {
		if _, taken := names[name]; taken {
			return nil, errors.Wrap(ErrNameCollision, name)
		}
	}

	channels := int64(len(opts.Mean))
	g.AddInitializers(
		onnx.NewFloatTensor(ScaleName, []int64{1}, []float32{opts.Scale}),
		onnx.NewFloatTensor(MeanName, []int64{channels, 1, 1}, opts.Mean),
		onnx.NewFloatTensor(StdName, []int64{channels, 1, 1}, opts.Std),
	)

	mul := onnx.NewNode("Mul", "Mul_scale", []string{input, ScaleName}, []string{scaled})
	sub := onnx.NewNode("Sub", "Sub_mean", []string{scaled, MeanName}, []string{centered})
	div := onnx.NewNode("Div", "Div_std", []string{centered, StdName}, []string{normalized})

	result := &Result{Output: normalized, Nodes: []string{mul.Name, sub.Name, div.Name}}
	for _, n := range targets {
		for i, in := range n.Inputs {
			if in == input {
				n.Inputs[i] = normalized
			}
		}
		result.Rewired = append(result.Rewired, n.Name)
	}

	g.InsertNodes(0, mul, sub, div)

	if info := g.Input(input); info != nil {
		g.ValueInfo = append(g.ValueInfo, info.Clone(normalized))
	}

	return result, nil
}

// readersOf keeps the nodes that read value directly.
func readersOf(nodes []*onnx.Node, value string) []*onnx.Node {
	var out []*onnx.Node
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if in == value {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func resolveInput(g *onnx.Graph, name string) (string, error) {
	if name != "" {
		if g.Input(name) == nil {
			return "", errors.Wrap(ErrInputNotFound, name)
		}
		return name, nil
	}
	for _, in := range g.Inputs {
		if !g.IsInitializer(in.Name) {
			return in.Name, nil
		}
	}
	return "", errors.Wrap(ErrInputNotFound, "graph has no inputs")
}
