package onnx

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// field is a single decoded wire field. raw spans tag and value so unknown
// fields can be copied back verbatim.
type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
	val []byte
	u64 uint64
}

// walk iterates the fields of an encoded message.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid field tag")
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return errors.Wrapf(protowire.ParseError(m), "invalid value for field %d", num)
		}

		f := field{num: num, typ: typ, raw: b[:n+m]}
		body := b[n : n+m]
		switch typ {
		case protowire.VarintType:
			f.u64, _ = protowire.ConsumeVarint(body)
		case protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(body)
			f.u64 = uint64(v)
		case protowire.Fixed64Type:
			f.u64, _ = protowire.ConsumeFixed64(body)
		case protowire.BytesType:
			f.val, _ = protowire.ConsumeBytes(body)
		}

		if err := fn(f); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}

// Repeated scalars may arrive packed or unpacked regardless of the .proto
// declaration, both forms are accepted.

func (f field) int64s(dst []int64) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, int64(f.u64)), nil
	}
	b := f.val
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid packed varint")
		}
		dst = append(dst, int64(v))
		b = b[n:]
	}
	return dst, nil
}

func (f field) int32s(dst []int32) ([]int32, error) {
	vals, err := f.int64s(nil)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		dst = append(dst, int32(v))
	}
	return dst, nil
}

func (f field) uint64s(dst []uint64) ([]uint64, error) {
	vals, err := f.int64s(nil)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		dst = append(dst, uint64(v))
	}
	return dst, nil
}

func (f field) float32s(dst []float32) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u64))), nil
	}
	if len(f.val)%4 != 0 {
		return nil, errors.New("packed float field has a partial element")
	}
	for b := f.val; len(b) > 0; b = b[4:] {
		v, _ := protowire.ConsumeFixed32(b)
		dst = append(dst, math.Float32frombits(v))
	}
	return dst, nil
}

func (f field) float64s(dst []float64) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.u64)), nil
	}
	if len(f.val)%8 != 0 {
		return nil, errors.New("packed double field has a partial element")
	}
	for b := f.val; len(b) > 0; b = b[8:] {
		v, _ := protowire.ConsumeFixed64(b)
		dst = append(dst, math.Float64frombits(v))
	}
	return dst, nil
}

func (f field) str() string   { return string(f.val) }
func (f field) bytes() []byte { return append([]byte(nil), f.val...) }

func keep(unknown []byte, f field) []byte {
	return append(unknown, f.raw...)
}

// --- ModelProto ---

func (m *Model) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.VarintType:
			m.IRVersion = int64(f.u64)
		case f.num == 2 && f.typ == protowire.BytesType:
			m.ProducerName = f.str()
		case f.num == 3 && f.typ == protowire.BytesType:
			m.ProducerVersion = f.str()
		case f.num == 4 && f.typ == protowire.BytesType:
			m.Domain = f.str()
		case f.num == 5 && f.typ == protowire.VarintType:
			m.ModelVersion = int64(f.u64)
		case f.num == 6 && f.typ == protowire.BytesType:
			m.DocString = f.str()
		case f.num == 7 && f.typ == protowire.BytesType:
			m.Graph = &Graph{}
			return errors.Wrap(m.Graph.unmarshal(f.val), "graph")
		case f.num == 8 && f.typ == protowire.BytesType:
			opset := &OperatorSet{}
			if err := opset.unmarshal(f.val); err != nil {
				return errors.Wrap(err, "opset_import")
			}
			m.OpsetImport = append(m.OpsetImport, opset)
		default:
			m.unknown = keep(m.unknown, f)
		}
		return nil
	})
}

func (m *Model) marshal(b []byte) []byte {
	if m.IRVersion != 0 {
		b = appendVarint(b, 1, uint64(m.IRVersion))
	}
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	if m.ModelVersion != 0 {
		b = appendVarint(b, 5, uint64(m.ModelVersion))
	}
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, m.Graph.marshal(nil))
	}
	for _, opset := range m.OpsetImport {
		b = appendMessage(b, 8, opset.marshal(nil))
	}
	return append(b, m.unknown...)
}

// --- OperatorSetIdProto ---

func (o *OperatorSet) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			o.Domain = f.str()
		case f.num == 2 && f.typ == protowire.VarintType:
			o.Version = int64(f.u64)
		default:
			o.unknown = keep(o.unknown, f)
		}
		return nil
	})
}

func (o *OperatorSet) marshal(b []byte) []byte {
	b = appendString(b, 1, o.Domain)
	b = appendVarint(b, 2, uint64(o.Version))
	return append(b, o.unknown...)
}

// --- GraphProto ---

func (g *Graph) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.typ != protowire.BytesType {
			g.unknown = keep(g.unknown, f)
			return nil
		}
		switch f.num {
		case 1:
			node := &Node{}
			if err := node.unmarshal(f.val); err != nil {
				return errors.Wrapf(err, "node %d", len(g.Nodes))
			}
			g.Nodes = append(g.Nodes, node)
		case 2:
			g.Name = f.str()
		case 5:
			tensor := &Tensor{}
			if err := tensor.unmarshal(f.val); err != nil {
				return errors.Wrapf(err, "initializer %d", len(g.Initializers))
			}
			g.Initializers = append(g.Initializers, tensor)
		case 10:
			g.DocString = f.str()
		case 11, 12, 13:
			info := &ValueInfo{}
			if err := info.unmarshal(f.val); err != nil {
				return errors.Wrap(err, "value info")
			}
			switch f.num {
			case 11:
				g.Inputs = append(g.Inputs, info)
			case 12:
				g.Outputs = append(g.Outputs, info)
			default:
				g.ValueInfo = append(g.ValueInfo, info)
			}
		default:
			g.unknown = keep(g.unknown, f)
		}
		return nil
	})
}

func (g *Graph) marshal(b []byte) []byte {
	for _, node := range g.Nodes {
		b = appendMessage(b, 1, node.marshal(nil))
	}
	b = appendString(b, 2, g.Name)
	for _, tensor := range g.Initializers {
		b = appendMessage(b, 5, tensor.marshal(nil))
	}
	b = appendString(b, 10, g.DocString)
	for _, info := range g.Inputs {
		b = appendMessage(b, 11, info.marshal(nil))
	}
	for _, info := range g.Outputs {
		b = appendMessage(b, 12, info.marshal(nil))
	}
	for _, info := range g.ValueInfo {
		b = appendMessage(b, 13, info.marshal(nil))
	}
	return append(b, g.unknown...)
}

// --- NodeProto ---

func (n *Node) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.typ != protowire.BytesType {
			n.unknown = keep(n.unknown, f)
			return nil
		}
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, f.str())
		case 2:
			n.Outputs = append(n.Outputs, f.str())
		case 3:
			n.Name = f.str()
		case 4:
			n.OpType = f.str()
		case 5:
			attr := &Attribute{}
			if err := attr.unmarshal(f.val); err != nil {
				return errors.Wrapf(err, "attribute of %s", n.Name)
			}
			n.Attributes = append(n.Attributes, attr)
		case 6:
			n.DocString = f.str()
		case 7:
			n.Domain = f.str()
		default:
			n.unknown = keep(n.unknown, f)
		}
		return nil
	})
}

func (n *Node) marshal(b []byte) []byte {
	// Empty input names are positional placeholders and must be kept.
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for _, attr := range n.Attributes {
		b = appendMessage(b, 5, attr.marshal(nil))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return append(b, n.unknown...)
}

// --- AttributeProto ---

func (a *Attribute) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			a.Name = f.str()
		case f.num == 2 && f.typ == protowire.Fixed32Type:
			a.F = math.Float32frombits(uint32(f.u64))
		case f.num == 3 && f.typ == protowire.VarintType:
			a.I = int64(f.u64)
		case f.num == 4 && f.typ == protowire.BytesType:
			a.S = f.bytes()
		case f.num == 5 && f.typ == protowire.BytesType:
			a.T = &Tensor{}
			err = a.T.unmarshal(f.val)
		case f.num == 6 && f.typ == protowire.BytesType:
			a.G = &Graph{}
			err = a.G.unmarshal(f.val)
		case f.num == 7:
			a.Floats, err = f.float32s(a.Floats)
		case f.num == 8:
			a.Ints, err = f.int64s(a.Ints)
		case f.num == 9 && f.typ == protowire.BytesType:
			a.Strings = append(a.Strings, f.bytes())
		case f.num == 10 && f.typ == protowire.BytesType:
			t := &Tensor{}
			err = t.unmarshal(f.val)
			a.Tensors = append(a.Tensors, t)
		case f.num == 11 && f.typ == protowire.BytesType:
			g := &Graph{}
			err = g.unmarshal(f.val)
			a.Graphs = append(a.Graphs, g)
		case f.num == 13 && f.typ == protowire.BytesType:
			a.DocString = f.str()
		case f.num == 20 && f.typ == protowire.VarintType:
			a.Type = AttributeType(f.u64)
		case f.num == 21 && f.typ == protowire.BytesType:
			a.RefAttrName = f.str()
		default:
			a.unknown = keep(a.unknown, f)
		}
		return err
	})
}

func (a *Attribute) marshal(b []byte) []byte {
	b = appendString(b, 1, a.Name)
	if a.Type == AttributeTypeFloat || a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	if a.Type == AttributeTypeInt || a.I != 0 {
		b = appendVarint(b, 3, uint64(a.I))
	}
	if a.Type == AttributeTypeString || len(a.S) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	}
	if a.T != nil {
		b = appendMessage(b, 5, a.T.marshal(nil))
	}
	if a.G != nil {
		b = appendMessage(b, 6, a.G.marshal(nil))
	}
	for _, v := range a.Floats {
		b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	for _, v := range a.Ints {
		b = appendVarint(b, 8, uint64(v))
	}
	for _, s := range a.Strings {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for _, t := range a.Tensors {
		b = appendMessage(b, 10, t.marshal(nil))
	}
	for _, g := range a.Graphs {
		b = appendMessage(b, 11, g.marshal(nil))
	}
	b = appendString(b, 13, a.DocString)
	if a.Type != AttributeTypeUndefined {
		b = appendVarint(b, 20, uint64(a.Type))
	}
	b = appendString(b, 21, a.RefAttrName)
	return append(b, a.unknown...)
}

// --- TensorProto ---

func (t *Tensor) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		var err error
		switch {
		case f.num == 1:
			t.Dims, err = f.int64s(t.Dims)
		case f.num == 2 && f.typ == protowire.VarintType:
			t.DataType = DataType(f.u64)
		case f.num == 4:
			t.FloatData, err = f.float32s(t.FloatData)
		case f.num == 5:
			t.Int32Data, err = f.int32s(t.Int32Data)
		case f.num == 6 && f.typ == protowire.BytesType:
			t.StringData = append(t.StringData, f.bytes())
		case f.num == 7:
			t.Int64Data, err = f.int64s(t.Int64Data)
		case f.num == 8 && f.typ == protowire.BytesType:
			t.Name = f.str()
		case f.num == 9 && f.typ == protowire.BytesType:
			t.RawData = f.bytes()
		case f.num == 10:
			t.DoubleData, err = f.float64s(t.DoubleData)
		case f.num == 11:
			t.Uint64Data, err = f.uint64s(t.Uint64Data)
		case f.num == 12 && f.typ == protowire.BytesType:
			t.DocString = f.str()
		case f.num == 14 && f.typ == protowire.VarintType:
			t.DataLocation = int32(f.u64)
		default:
			t.unknown = keep(t.unknown, f)
		}
		return err
	})
}

func (t *Tensor) marshal(b []byte) []byte {
	for _, d := range t.Dims {
		b = appendVarint(b, 1, uint64(d))
	}
	if t.DataType != DataTypeUndefined {
		b = appendVarint(b, 2, uint64(t.DataType))
	}
	if len(t.FloatData) > 0 {
		packed := make([]byte, 0, 4*len(t.FloatData))
		for _, v := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = appendMessage(b, 5, packed)
	}
	for _, s := range t.StringData {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		packed := make([]byte, 0, 8*len(t.DoubleData))
		for _, v := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendMessage(b, 10, packed)
	}
	if len(t.Uint64Data) > 0 {
		var packed []byte
		for _, v := range t.Uint64Data {
			packed = protowire.AppendVarint(packed, v)
		}
		b = appendMessage(b, 11, packed)
	}
	b = appendString(b, 12, t.DocString)
	if t.DataLocation != 0 {
		b = appendVarint(b, 14, uint64(t.DataLocation))
	}
	return append(b, t.unknown...)
}

// --- ValueInfoProto / TypeProto / TensorShapeProto ---

func (v *ValueInfo) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			v.Name = f.str()
		case f.num == 2 && f.typ == protowire.BytesType:
			v.Type = &TypeInfo{}
			return v.Type.unmarshal(f.val)
		case f.num == 3 && f.typ == protowire.BytesType:
			v.DocString = f.str()
		default:
			v.unknown = keep(v.unknown, f)
		}
		return nil
	})
}

func (v *ValueInfo) marshal(b []byte) []byte {
	b = appendString(b, 1, v.Name)
	if v.Type != nil {
		b = appendMessage(b, 2, v.Type.marshal(nil))
	}
	b = appendString(b, 3, v.DocString)
	return append(b, v.unknown...)
}

func (t *TypeInfo) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.BytesType:
			t.Tensor = &TensorType{}
			return t.Tensor.unmarshal(f.val)
		case f.num == 6 && f.typ == protowire.BytesType:
			t.Denotation = f.str()
		default:
			t.unknown = keep(t.unknown, f)
		}
		return nil
	})
}

func (t *TypeInfo) marshal(b []byte) []byte {
	if t.Tensor != nil {
		b = appendMessage(b, 1, t.Tensor.marshal(nil))
	}
	b = appendString(b, 6, t.Denotation)
	return append(b, t.unknown...)
}

func (t *TensorType) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.VarintType:
			t.ElemType = DataType(f.u64)
		case f.num == 2 && f.typ == protowire.BytesType:
			t.Shape = &Shape{}
			return t.Shape.unmarshal(f.val)
		default:
			t.unknown = keep(t.unknown, f)
		}
		return nil
	})
}

func (t *TensorType) marshal(b []byte) []byte {
	if t.ElemType != DataTypeUndefined {
		b = appendVarint(b, 1, uint64(t.ElemType))
	}
	if t.Shape != nil {
		b = appendMessage(b, 2, t.Shape.marshal(nil))
	}
	return append(b, t.unknown...)
}

func (s *Shape) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 && f.typ == protowire.BytesType {
			dim := &Dimension{}
			if err := dim.unmarshal(f.val); err != nil {
				return err
			}
			s.Dims = append(s.Dims, dim)
			return nil
		}
		s.unknown = keep(s.unknown, f)
		return nil
	})
}

func (s *Shape) marshal(b []byte) []byte {
	for _, dim := range s.Dims {
		b = appendMessage(b, 1, dim.marshal(nil))
	}
	return append(b, s.unknown...)
}

func (d *Dimension) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch {
		case f.num == 1 && f.typ == protowire.VarintType:
			d.Value = int64(f.u64)
		case f.num == 2 && f.typ == protowire.BytesType:
			d.Param = f.str()
		case f.num == 3 && f.typ == protowire.BytesType:
			d.Denotation = f.str()
		default:
			d.unknown = keep(d.unknown, f)
		}
		return nil
	})
}

func (d *Dimension) marshal(b []byte) []byte {
	// dim_value and dim_param form a oneof; a known value wins.
	switch {
	case d.Param != "" && d.Value == 0:
		b = appendString(b, 2, d.Param)
	case d.Value != 0:
		b = appendVarint(b, 1, uint64(d.Value))
	}
	b = appendString(b, 3, d.Denotation)
	return append(b, d.unknown...)
}

// --- wire helpers ---

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
