package onnx

// AttributeType is AttributeProto.AttributeType.
type AttributeType int32

// AttributeType constants.
const (
	AttributeTypeUndefined AttributeType = 0
	AttributeTypeFloat     AttributeType = 1
	AttributeTypeInt       AttributeType = 2
	AttributeTypeString    AttributeType = 3
	AttributeTypeTensor    AttributeType = 4
	AttributeTypeGraph     AttributeType = 5
	AttributeTypeFloats    AttributeType = 6
	AttributeTypeInts      AttributeType = 7
	AttributeTypeStrings   AttributeType = 8
	AttributeTypeTensors   AttributeType = 9
	AttributeTypeGraphs    AttributeType = 10
)

// Attribute is an AttributeProto.
type Attribute struct {
	Name        string
	RefAttrName string
	DocString   string
	Type        AttributeType
	F           float32
	I           int64
	S           []byte
	T           *Tensor
	G           *Graph
	Floats      []float32
	Ints        []int64
	Strings     [][]byte
	Tensors     []*Tensor
	Graphs      []*Graph

	unknown []byte
}

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeInt, I: v}
}

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeFloat, F: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeString, S: []byte(v)}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v ...int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeInts, Ints: v}
}

// AttrTensor builds a TENSOR attribute.
func AttrTensor(name string, t *Tensor) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeTensor, T: t}
}

// AttrGraph builds a GRAPH attribute.
func AttrGraph(name string, g *Graph) *Attribute {
	return &Attribute{Name: name, Type: AttributeTypeGraph, G: g}
}

// Attr returns the attribute with the given name, or nil.
func (n *Node) Attr(name string) *Attribute {
	for _, attr := range n.Attributes {
		if attr.Name == name {
			return attr
		}
	}
	return nil
}

// AttrIntOr returns the named INT attribute or def when it is absent.
func (n *Node) AttrIntOr(name string, def int64) int64 {
	if attr := n.Attr(name); attr != nil {
		return attr.I
	}
	return def
}

// SetAttr replaces or appends an attribute.
func (n *Node) SetAttr(attr *Attribute) {
	for i, existing := range n.Attributes {
		if existing.Name == attr.Name {
			n.Attributes[i] = attr
			return
		}
	}
	n.Attributes = append(n.Attributes, attr)
}

// Subgraphs returns every graph held by the node's attributes (If branches,
// Loop and Scan bodies).
func (n *Node) Subgraphs() []*Graph {
	var graphs []*Graph
	for _, attr := range n.Attributes {
		if attr.G != nil {
			graphs = append(graphs, attr.G)
		}
		graphs = append(graphs, attr.Graphs...)
	}
	return graphs
}
