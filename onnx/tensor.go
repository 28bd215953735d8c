package onnx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// NewFloatTensor builds a float32 initializer stored in raw_data.
func NewFloatTensor(name string, dims []int64, values []float32) *Tensor {
	t := &Tensor{Name: name, Dims: append([]int64(nil), dims...)}
	t.SetFloats(values)
	return t
}

// NewInt64Tensor builds an int64 initializer stored in raw_data.
func NewInt64Tensor(name string, dims []int64, values []int64) *Tensor {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	return &Tensor{
		Name:     name,
		Dims:     append([]int64(nil), dims...),
		DataType: DataTypeInt64,
		RawData:  raw,
	}
}

// NewUint8Tensor builds a uint8 initializer.
func NewUint8Tensor(name string, dims []int64, values []uint8) *Tensor {
	return &Tensor{
		Name:     name,
		Dims:     append([]int64(nil), dims...),
		DataType: DataTypeUint8,
		RawData:  append([]byte(nil), values...),
	}
}

// NewInt8Tensor builds an int8 initializer.
func NewInt8Tensor(name string, dims []int64, values []int8) *Tensor {
	raw := make([]byte, len(values))
	for i, v := range values {
		raw[i] = byte(v)
	}
	return &Tensor{
		Name:     name,
		Dims:     append([]int64(nil), dims...),
		DataType: DataTypeInt8,
		RawData:  raw,
	}
}

// NumElements returns the product of the dims (1 for a scalar).
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// IsExternal reports whether the payload lives outside the model file.
func (t *Tensor) IsExternal() bool {
	return t.DataLocation == DataLocationExternal
}

// ByteSize returns the size of the tensor payload as stored.
func (t *Tensor) ByteSize() int {
	if len(t.RawData) > 0 {
		return len(t.RawData)
	}
	if size := t.DataType.Size(); size > 0 {
		return size * int(t.NumElements())
	}
	n := 0
	for _, s := range t.StringData {
		n += len(s)
	}
	return n
}

// Floats decodes a FLOAT, FLOAT16 or DOUBLE tensor as float32 values.
func (t *Tensor) Floats() ([]float32, error) {
	if t.IsExternal() {
		return nil, errors.Wrap(ErrExternalData, t.Name)
	}

	var out []float32
	switch t.DataType {
	case DataTypeFloat:
		if len(t.RawData) > 0 {
			if len(t.RawData)%4 != 0 {
				return nil, errors.Wrap(ErrShapeMismatch, t.Name)
			}
			out = make([]float32, len(t.RawData)/4)
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
			}
		} else {
			out = append([]float32(nil), t.FloatData...)
		}
	case DataTypeFloat16:
		bits, err := t.Float16Bits()
		if err != nil {
			return nil, err
		}
		out = make([]float32, len(bits))
		for i, b := range bits {
			out[i] = float16.Frombits(b).Float32()
		}
	case DataTypeDouble:
		if len(t.RawData) > 0 {
			out = make([]float32, len(t.RawData)/8)
			for i := range out {
				out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[8*i:])))
			}
		} else {
			out = make([]float32, len(t.DoubleData))
			for i, v := range t.DoubleData {
				out[i] = float32(v)
			}
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "%s is %s", t.Name, t.DataType)
	}

	if int64(len(out)) != t.NumElements() {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s has %d values for dims %v", t.Name, len(out), t.Dims)
	}
	return out, nil
}

// SetFloats replaces the payload with float32 values in raw_data.
func (t *Tensor) SetFloats(values []float32) {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	t.clearData()
	t.DataType = DataTypeFloat
	t.RawData = raw
}

// Float16Bits returns the IEEE half precision bit patterns of a FLOAT16
// tensor. Half values may be stored in raw_data or, widened, in int32_data.
func (t *Tensor) Float16Bits() ([]uint16, error) {
	if t.DataType != DataTypeFloat16 {
		return nil, errors.Wrapf(ErrUnsupportedType, "%s is %s", t.Name, t.DataType)
	}
	if len(t.RawData) > 0 {
		if len(t.RawData)%2 != 0 {
			return nil, errors.Wrap(ErrShapeMismatch, t.Name)
		}
		out := make([]uint16, len(t.RawData)/2)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(t.RawData[2*i:])
		}
		return out, nil
	}
	out := make([]uint16, len(t.Int32Data))
	for i, v := range t.Int32Data {
		out[i] = uint16(v)
	}
	return out, nil
}

// SetFloat16Bits replaces the payload with half precision values.
func (t *Tensor) SetFloat16Bits(bits []uint16) {
	raw := make([]byte, 2*len(bits))
	for i, b := range bits {
		binary.LittleEndian.PutUint16(raw[2*i:], b)
	}
	t.clearData()
	t.DataType = DataTypeFloat16
	t.RawData = raw
}

// Int64s decodes an INT64 tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DataType != DataTypeInt64 {
		return nil, errors.Wrapf(ErrUnsupportedType, "%s is %s", t.Name, t.DataType)
	}
	if len(t.RawData) == 0 {
		return append([]int64(nil), t.Int64Data...), nil
	}
	out := make([]int64, len(t.RawData)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.RawData[8*i:]))
	}
	return out, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := *t
	c.Dims = append([]int64(nil), t.Dims...)
	c.FloatData = append([]float32(nil), t.FloatData...)
	c.Int32Data = append([]int32(nil), t.Int32Data...)
	c.Int64Data = append([]int64(nil), t.Int64Data...)
	c.DoubleData = append([]float64(nil), t.DoubleData...)
	c.Uint64Data = append([]uint64(nil), t.Uint64Data...)
	c.RawData = append([]byte(nil), t.RawData...)
	c.StringData = make([][]byte, len(t.StringData))
	for i, s := range t.StringData {
		c.StringData[i] = append([]byte(nil), s...)
	}
	c.unknown = append([]byte(nil), t.unknown...)
	return &c
}

func (t *Tensor) clearData() {
	t.FloatData = nil
	t.Int32Data = nil
	t.Int64Data = nil
	t.DoubleData = nil
	t.Uint64Data = nil
	t.StringData = nil
	t.RawData = nil
}
