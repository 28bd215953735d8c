package quantize

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-deploy/onnx"
)

// quantized is a weight tensor in 8-bit form with its scale and zero point
// initializers.
type quantized struct {
	data      *onnx.Tensor
	scale     *onnx.Tensor
	zeroPoint *onnx.Tensor
}

// params computes a scale and zero point for values in [lo, hi].
func params(lo, hi float32, wt WeightType) (float32, int32) {
	// The representable range always contains zero so zero padding is exact.
	lo = math32.Min(lo, 0)
	hi = math32.Max(hi, 0)

	if wt == QInt8 {
		absMax := math32.Max(math32.Abs(lo), math32.Abs(hi))
		scale := absMax / 127
		if scale == 0 {
			scale = 1
		}
		return scale, 0
	}

	scale := (hi - lo) / 255
	if scale == 0 {
		scale = 1
	}
	zp := roundEven(-lo / scale)
	return scale, int32(clampFloat(zp, 0, 255))
}

// quantizeValues maps values to 8-bit integers with the given parameters.
func quantizeValues(values []float32, scale float32, zp int32, wt WeightType) []int32 {
	qmin, qmax := wt.bounds()
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(clampFloat(roundEven(v/scale)+float32(zp), float32(qmin), float32(qmax)))
	}
	return out
}

// quantizeTensor quantizes a float32 weight. With perChannel the tensor is
// split along axis 0 and each slice gets its own scale and zero point; the
// scale initializer then has scaleDims.
func quantizeTensor(t *onnx.Tensor, wt WeightType, perChannel bool, scaleDims []int64) (*quantized, error) {
	values, err := t.Floats()
	if err != nil {
		return nil, err
	}

	channels := 1
	if perChannel && len(t.Dims) > 0 && t.Dims[0] > 0 {
		channels = int(t.Dims[0])
	}
	stride := len(values) / channels

	q := make([]int32, 0, len(values))
	scales := make([]float32, channels)
	zps := make([]int32, channels)
	for c := 0; c < channels; c++ {
		slice := values[c*stride : (c+1)*stride]
		lo, hi := minMax(slice)
		scales[c], zps[c] = params(lo, hi, wt)
		q = append(q, quantizeValues(slice, scales[c], zps[c], wt)...)
	}

	var zpDims []int64
	if channels > 1 {
		zpDims = []int64{int64(channels)}
	} else {
		scaleDims = nil
	}

	return &quantized{
		data:      wt.tensor(t.Name+"_quantized", t.Dims, q),
		scale:     onnx.NewFloatTensor(t.Name+"_scale", scaleDims, scales),
		zeroPoint: wt.tensor(t.Name+"_zero_point", zpDims, zps),
	}, nil
}

// dequantize maps quantized values back to float32.
func dequantize(q []int32, scale float32, zp int32) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = float32(v-zp) * scale
	}
	return out
}

func minMax(values []float32) (float32, float32) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	return lo, hi
}

// roundEven rounds half to even, matching numpy.
func roundEven(v float32) float32 {
	return float32(math.RoundToEven(float64(v)))
}

func clampFloat(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
