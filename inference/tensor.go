// Package inference - ONNX Runtime sessions for one-shot inference runs.
package inference

import (
	"fmt"

	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// ErrUnsupportedElementType is returned for tensor element types the runner
// cannot feed or read.
var ErrUnsupportedElementType = errors.New("unsupported tensor element type")

// TensorInfo describes a model input or output. Dynamic dims are -1.
type TensorInfo struct {
	Name     string        `json:"name"      yaml:"name"`
	ElemType onnx.DataType `json:"elem_type" yaml:"elem_type"`
	Shape    []int64       `json:"shape"     yaml:"shape"`
}

// String formats the info as name:type[dims].
func (t TensorInfo) String() string {
	return fmt.Sprintf("%s:%s%v", t.Name, t.ElemType, t.Shape)
}

// IsDynamic reports whether any dim is unknown.
func (t TensorInfo) IsDynamic() bool {
	for _, d := range t.Shape {
		if d < 0 {
			return true
		}
	}
	return false
}

// Input is a value fed to a session. Data holds the values as float32 and is
// converted to the declared element type when the session runs.
type Input struct {
	Name     string        `json:"name"`
	ElemType onnx.DataType `json:"elem_type"`
	Shape    []int64       `json:"shape"`
	Data     []float32     `json:"-"`
}

// Output is a value produced by a session, widened to float32.
type Output struct {
	Name     string        `json:"name"`
	ElemType onnx.DataType `json:"elem_type"`
	Shape    []int64       `json:"shape"`
	Data     []float32     `json:"-"`
}

// Tensor returns a dense tensor view sharing the output's backing slice. It
// fails when Data does not hold exactly one value per element of Shape.
func (o Output) Tensor() (*tensor.Dense, error) {
	n, err := numElements(o.Shape)
	if err != nil {
		return nil, err
	}
	if len(o.Shape) == 0 {
		n = 1
	}
	if len(o.Data) != n {
		return nil, errors.Wrapf(ErrIncompleteOutput, "%s has shape %v and %d values", o.Name, o.Shape, len(o.Data))
	}

	if len(o.Shape) == 0 {
		return tensor.New(tensor.FromScalar(o.Data[0])), nil
	}
	dims := make([]int, len(o.Shape))
	for i, d := range o.Shape {
		dims[i] = int(d)
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(o.Data)), nil
}

// Summary holds simple statistics of an output.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	ArgMax int     `json:"arg_max"`
}

// Summary computes statistics over every element of the output.
func (o Output) Summary() Summary {
	if len(o.Data) == 0 {
		return Summary{}
	}
	values := make([]float64, len(o.Data))
	for i, v := range o.Data {
		values[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return Summary{
		Count:  len(values),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
		ArgMax: floats.MaxIdx(values),
	}
}

// numElements multiplies the dims. Unknown dims make the count invalid.
func numElements(shape []int64) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Errorf("shape %v has unresolved dims", shape)
		}
		n *= int(d)
	}
	return n, nil
}
