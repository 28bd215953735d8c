// Package precision - Weight precision detection and half precision conversion.
package precision

import (
	"github.com/nvr-ai/go-ml-deploy/onnx"
)

// Precision represents the precision of a model.
type Precision string

// Precision constants are the supported precisions for inference.
const (
	PrecisionINT8  Precision = "INT8"
	PrecisionUINT8 Precision = "UINT8"
	PrecisionFP16  Precision = "FP16"
	PrecisionFP32  Precision = "FP32"
	PrecisionFP64  Precision = "FP64"
	// PrecisionUnknown is reported for models without numeric weights.
	PrecisionUnknown Precision = "UNKNOWN"
)

var precisionByType = map[onnx.DataType]Precision{
	onnx.DataTypeInt8:    PrecisionINT8,
	onnx.DataTypeUint8:   PrecisionUINT8,
	onnx.DataTypeFloat16: PrecisionFP16,
	onnx.DataTypeFloat:   PrecisionFP32,
	onnx.DataTypeDouble:  PrecisionFP64,
}

// Detect reports the precision that holds the most initializer bytes.
//
// Arguments:
//   - m: The model to inspect.
//
// Returns:
//   - Precision: The dominant weight precision.
func Detect(m *onnx.Model) Precision {
	bytes := make(map[Precision]int)
	for _, t := range m.Graph.Initializers {
		if p, ok := precisionByType[t.DataType]; ok {
			bytes[p] += t.ByteSize()
		}
	}

	best, bestBytes := PrecisionUnknown, 0
	for _, p := range []Precision{PrecisionFP64, PrecisionFP32, PrecisionFP16, PrecisionUINT8, PrecisionINT8} {
		if bytes[p] > bestBytes {
			best, bestBytes = p, bytes[p]
		}
	}
	return best
}
