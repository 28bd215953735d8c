package onnx

import "github.com/pkg/errors"

var (
	// ErrEmptyModel is returned when decoding zero bytes.
	ErrEmptyModel = errors.New("empty ONNX model data")
	// ErrMissingGraph is returned for a ModelProto without a graph.
	ErrMissingGraph = errors.New("ONNX model has no graph")
	// ErrExternalData is returned when a tensor payload is stored outside the
	// model file.
	ErrExternalData = errors.New("tensor data is stored externally")
	// ErrUnsupportedType is returned when a tensor helper is used on the wrong
	// element type.
	ErrUnsupportedType = errors.New("unsupported tensor data type")
	// ErrShapeMismatch is returned when the payload does not match the dims.
	ErrShapeMismatch = errors.New("tensor payload does not match its dims")
)
