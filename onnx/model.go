// Package onnx - In-memory representation of ONNX model files.
//
// The types mirror the messages of onnx.proto that the graph tools in this
// repository edit. Anything the types do not model is kept as raw wire bytes
// and written back untouched, so a load/save round trip never drops data.
package onnx

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// DataType is the element type of a tensor (TensorProto.DataType).
type DataType int32

// DataType constants.
const (
	DataTypeUndefined  DataType = 0
	DataTypeFloat      DataType = 1
	DataTypeUint8      DataType = 2
	DataTypeInt8       DataType = 3
	DataTypeUint16     DataType = 4
	DataTypeInt16      DataType = 5
	DataTypeInt32      DataType = 6
	DataTypeInt64      DataType = 7
	DataTypeString     DataType = 8
	DataTypeBool       DataType = 9
	DataTypeFloat16    DataType = 10
	DataTypeDouble     DataType = 11
	DataTypeUint32     DataType = 12
	DataTypeUint64     DataType = 13
	DataTypeComplex64  DataType = 14
	DataTypeComplex128 DataType = 15
	DataTypeBFloat16   DataType = 16
)

var dataTypeNames = map[DataType]string{
	DataTypeUndefined:  "undefined",
	DataTypeFloat:      "float32",
	DataTypeUint8:      "uint8",
	DataTypeInt8:       "int8",
	DataTypeUint16:     "uint16",
	DataTypeInt16:      "int16",
	DataTypeInt32:      "int32",
	DataTypeInt64:      "int64",
	DataTypeString:     "string",
	DataTypeBool:       "bool",
	DataTypeFloat16:    "float16",
	DataTypeDouble:     "float64",
	DataTypeUint32:     "uint32",
	DataTypeUint64:     "uint64",
	DataTypeComplex64:  "complex64",
	DataTypeComplex128: "complex128",
	DataTypeBFloat16:   "bfloat16",
}

// String returns the Go-style name of the element type.
func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int32(d))
}

// Size returns the number of bytes a single element occupies in raw_data, or
// 0 for variable sized types.
func (d DataType) Size() int {
	switch d {
	case DataTypeUint8, DataTypeInt8, DataTypeBool:
		return 1
	case DataTypeUint16, DataTypeInt16, DataTypeFloat16, DataTypeBFloat16:
		return 2
	case DataTypeFloat, DataTypeInt32, DataTypeUint32:
		return 4
	case DataTypeDouble, DataTypeInt64, DataTypeUint64, DataTypeComplex64:
		return 8
	case DataTypeComplex128:
		return 16
	}
	return 0
}

// DataLocationExternal marks a tensor whose payload lives in a side file.
const DataLocationExternal int32 = 1

// Model is a ModelProto.
type Model struct {
	IRVersion       int64
	OpsetImport     []*OperatorSet
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *Graph

	unknown []byte
}

// OperatorSet is an OperatorSetIdProto.
type OperatorSet struct {
	Domain  string
	Version int64

	unknown []byte
}

// Graph is a GraphProto.
type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	DocString    string
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo

	unknown []byte
}

// Node is a NodeProto.
type Node struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Domain     string
	Attributes []*Attribute
	DocString  string

	unknown []byte
}

// Tensor is a TensorProto.
type Tensor struct {
	Dims         []int64
	DataType     DataType
	FloatData    []float32
	Int32Data    []int32
	StringData   [][]byte
	Int64Data    []int64
	Name         string
	DocString    string
	RawData      []byte
	DoubleData   []float64
	Uint64Data   []uint64
	DataLocation int32

	unknown []byte
}

// ValueInfo is a ValueInfoProto. Only tensor types are modelled; sequence,
// map and optional types are carried in the raw remainder of Type.
type ValueInfo struct {
	Name      string
	Type      *TypeInfo
	DocString string

	unknown []byte
}

// TypeInfo is a TypeProto restricted to its tensor_type member.
type TypeInfo struct {
	Tensor     *TensorType
	Denotation string

	unknown []byte
}

// TensorType is TypeProto.Tensor.
type TensorType struct {
	ElemType DataType
	Shape    *Shape

	unknown []byte
}

// Shape is a TensorShapeProto.
type Shape struct {
	Dims []*Dimension

	unknown []byte
}

// Dimension is a TensorShapeProto.Dimension. A dimension with an empty Param
// and a zero Value is unknown.
type Dimension struct {
	Value      int64
	Param      string
	Denotation string

	unknown []byte
}

// Load reads and decodes an ONNX model file.
//
// Arguments:
//   - path: Path to the .onnx file.
//
// Returns:
//   - *Model: The decoded model.
//   - error: An error if the file cannot be read or is not a valid model.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ONNX file")
	}

	model, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}

	return model, nil
}

// Save encodes the model and writes it to path.
func Save(path string, model *Model) error {
	data, err := model.Encode()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write ONNX file")
	}

	return nil
}

// Decode parses a serialized ModelProto.
func Decode(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, ErrEmptyModel
	}

	model := &Model{}
	if err := model.unmarshal(data); err != nil {
		return nil, err
	}
	if model.Graph == nil {
		return nil, ErrMissingGraph
	}

	return model, nil
}

// Encode serializes the model to protobuf wire format.
func (m *Model) Encode() ([]byte, error) {
	if m.Graph == nil {
		return nil, ErrMissingGraph
	}
	return m.marshal(nil), nil
}

// OpsetVersion returns the imported opset version for a domain. The default
// domain may be named "" or "ai.onnx". Returns 0 when the domain is not
// imported.
func (m *Model) OpsetVersion(domain string) int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == domain ||
			(isDefaultDomain(domain) && isDefaultDomain(opset.Domain)) {
			return opset.Version
		}
	}
	return 0
}

// SetOpsetVersion imports domain at the given version, raising an existing
// import when it is lower.
func (m *Model) SetOpsetVersion(domain string, version int64) {
	for _, opset := range m.OpsetImport {
		if opset.Domain == domain ||
			(isDefaultDomain(domain) && isDefaultDomain(opset.Domain)) {
			if opset.Version < version {
				opset.Version = version
			}
			return
		}
	}
	m.OpsetImport = append(m.OpsetImport, &OperatorSet{Domain: domain, Version: version})
}

func isDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}
