package onnx

import (
	"fmt"
)

// NewNode builds a default-domain node.
func NewNode(opType, name string, inputs, outputs []string, attrs ...*Attribute) *Node {
	return &Node{
		OpType:     opType,
		Name:       name,
		Inputs:     append([]string(nil), inputs...),
		Outputs:    append([]string(nil), outputs...),
		Attributes: attrs,
	}
}

// NewTensorValueInfo builds a ValueInfo for a tensor. Negative dims are
// written as unknown dimensions.
func NewTensorValueInfo(name string, elemType DataType, dims ...int64) *ValueInfo {
	shape := &Shape{}
	for _, d := range dims {
		dim := &Dimension{}
		if d >= 0 {
			dim.Value = d
		}
		shape.Dims = append(shape.Dims, dim)
	}
	return &ValueInfo{
		Name: name,
		Type: &TypeInfo{Tensor: &TensorType{ElemType: elemType, Shape: shape}},
	}
}

// ElemType returns the tensor element type, or DataTypeUndefined for
// non-tensor values.
func (v *ValueInfo) ElemType() DataType {
	if v.Type == nil || v.Type.Tensor == nil {
		return DataTypeUndefined
	}
	return v.Type.Tensor.ElemType
}

// SetElemType changes the element type of a tensor value. Non-tensor values
// are left alone.
func (v *ValueInfo) SetElemType(elemType DataType) {
	if v.Type == nil || v.Type.Tensor == nil {
		return
	}
	v.Type.Tensor.ElemType = elemType
}

// Dims returns the declared shape with -1 for symbolic or unknown dims. A nil
// result means the rank is unknown.
func (v *ValueInfo) Dims() []int64 {
	if v.Type == nil || v.Type.Tensor == nil || v.Type.Tensor.Shape == nil {
		return nil
	}
	dims := make([]int64, len(v.Type.Tensor.Shape.Dims))
	for i, d := range v.Type.Tensor.Shape.Dims {
		if d.Param != "" || d.Value <= 0 {
			dims[i] = -1
			continue
		}
		dims[i] = d.Value
	}
	return dims
}

// Clone returns a copy of the value info under a new name.
func (v *ValueInfo) Clone(name string) *ValueInfo {
	data := v.marshal(nil)
	c := &ValueInfo{}
	// Round-tripping through the codec gives a deep copy of nested types.
	_ = c.unmarshal(data)
	c.Name = name
	return c
}

// Input returns the graph input with the given name, or nil.
func (g *Graph) Input(name string) *ValueInfo {
	return findValueInfo(g.Inputs, name)
}

// Output returns the graph output with the given name, or nil.
func (g *Graph) Output(name string) *ValueInfo {
	return findValueInfo(g.Outputs, name)
}

// ValueInfoFor returns the intermediate value info with the given name, or nil.
func (g *Graph) ValueInfoFor(name string) *ValueInfo {
	return findValueInfo(g.ValueInfo, name)
}

func findValueInfo(infos []*ValueInfo, name string) *ValueInfo {
	for _, info := range infos {
		if info.Name == name {
			return info
		}
	}
	return nil
}

// Initializer returns the initializer with the given name, or nil.
func (g *Graph) Initializer(name string) *Tensor {
	for _, t := range g.Initializers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// AddInitializers appends initializers to the graph.
func (g *Graph) AddInitializers(tensors ...*Tensor) {
	g.Initializers = append(g.Initializers, tensors...)
}

// RemoveInitializer drops an initializer and any graph input of the same
// name (older IR versions list initializers as inputs).
func (g *Graph) RemoveInitializer(name string) {
	kept := g.Initializers[:0]
	for _, t := range g.Initializers {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	g.Initializers = kept

	inputs := g.Inputs[:0]
	for _, in := range g.Inputs {
		if in.Name != name {
			inputs = append(inputs, in)
		}
	}
	g.Inputs = inputs
}

// IsInitializer reports whether name is produced by an initializer.
func (g *Graph) IsInitializer(name string) bool {
	return g.Initializer(name) != nil
}

// Node returns the first node with the given name, or nil.
func (g *Graph) Node(name string) *Node {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Producer returns the node that outputs the named value, or nil.
func (g *Graph) Producer(value string) *Node {
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if out == value {
				return n
			}
		}
	}
	return nil
}

// Consumers returns every node that reads the named value, in graph order.
func (g *Graph) Consumers(value string) []*Node {
	var nodes []*Node
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == value {
				nodes = append(nodes, n)
				break
			}
		}
	}
	return nodes
}

// UsesValue reports whether any node, including nodes of subgraphs, reads
// the named value.
func (g *Graph) UsesValue(value string) bool {
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == value {
				return true
			}
		}
		for _, sub := range n.Subgraphs() {
			if sub.UsesValue(value) {
				return true
			}
		}
	}
	for _, out := range g.Outputs {
		if out.Name == value {
			return true
		}
	}
	return false
}

// InsertNodes inserts nodes before position index, keeping their order.
func (g *Graph) InsertNodes(index int, nodes ...*Node) {
	if index < 0 {
		index = 0
	}
	if index > len(g.Nodes) {
		index = len(g.Nodes)
	}
	merged := make([]*Node, 0, len(g.Nodes)+len(nodes))
	merged = append(merged, g.Nodes[:index]...)
	merged = append(merged, nodes...)
	merged = append(merged, g.Nodes[index:]...)
	g.Nodes = merged
}

// IndexOf returns the position of node in the graph, or -1.
func (g *Graph) IndexOf(node *Node) int {
	for i, n := range g.Nodes {
		if n == node {
			return i
		}
	}
	return -1
}

// Names returns every tensor and node name used in the graph.
func (g *Graph) Names() map[string]struct{} {
	names := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			names[name] = struct{}{}
		}
	}
	for _, n := range g.Nodes {
		add(n.Name)
		for _, in := range n.Inputs {
			add(in)
		}
		for _, out := range n.Outputs {
			add(out)
		}
	}
	for _, t := range g.Initializers {
		add(t.Name)
	}
	for _, infos := range [][]*ValueInfo{g.Inputs, g.Outputs, g.ValueInfo} {
		for _, info := range infos {
			add(info.Name)
		}
	}
	return names
}

// NameGenerator hands out names that do not collide with a graph's names.
type NameGenerator struct {
	used map[string]struct{}
}

// NewNameGenerator snapshots the names in use by g.
func NewNameGenerator(g *Graph) *NameGenerator {
	return &NameGenerator{used: g.Names()}
}

// Unique returns base when free, otherwise base_<n> for the smallest free n.
func (ng *NameGenerator) Unique(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := ng.used[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
	ng.used[name] = struct{}{}
	return name
}

// Taken reports whether name is already used.
func (ng *NameGenerator) Taken(name string) bool {
	_, ok := ng.used[name]
	return ok
}
