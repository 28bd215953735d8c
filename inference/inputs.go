package inference

import (
	"image"
	"math/rand"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Distribution selects how generated inputs are filled.
type Distribution string

// Distribution constants.
const (
	// DistributionUniform draws from [Low, High).
	DistributionUniform Distribution = "uniform"
	// DistributionNormal draws from a standard normal.
	DistributionNormal Distribution = "normal"
	// DistributionFill sets every element to Fill.
	DistributionFill Distribution = "fill"
)

// InputSpec controls GenerateInputs.
type InputSpec struct {
	// Seed makes generated inputs reproducible.
	Seed int64 `json:"seed"         yaml:"seed"         default:"0"`
	// Distribution is uniform, normal or fill.
	Distribution Distribution `json:"distribution" yaml:"distribution" default:"uniform"`
	// Low and High bound uniform values.
	Low  float32 `json:"low"          yaml:"low"          default:"0"`
	High float32 `json:"high"         yaml:"high"         default:"1"`
	// Fill is the value used by the fill distribution.
	Fill float32 `json:"fill"         yaml:"fill"`
	// Shapes overrides declared input shapes by input name.
	Shapes map[string][]int64 `json:"shapes"       yaml:"shapes"`
	// DynamicDim replaces unknown dims that Shapes does not cover.
	DynamicDim int64 `json:"dynamic_dim"  yaml:"dynamic_dim"  default:"1"`
}

// DefaultInputSpec returns uniform [0, 1) inputs with seed 0.
func DefaultInputSpec() InputSpec {
	return InputSpec{Distribution: DistributionUniform, Low: 0, High: 1, DynamicDim: 1}
}

// ResolveShape returns the concrete shape GenerateInputs would use for info.
func (s InputSpec) ResolveShape(info TensorInfo) []int64 {
	if override, ok := s.Shapes[info.Name]; ok {
		return append([]int64(nil), override...)
	}
	dynamic := s.DynamicDim
	if dynamic <= 0 {
		dynamic = 1
	}
	shape := make([]int64, len(info.Shape))
	for i, d := range info.Shape {
		if d < 0 {
			d = dynamic
		}
		shape[i] = d
	}
	return shape
}

// GenerateInputs builds one input per info filled according to spec. The
// same seed always produces the same values.
//
// Arguments:
//   - infos: The session inputs.
//   - spec: Distribution, seed and shape overrides.
//
// Returns:
//   - []Input: One input per info, in order.
//   - error: An error if a shape cannot be resolved or the distribution is unknown.
func GenerateInputs(infos []TensorInfo, spec InputSpec) ([]Input, error) {
	rng := rand.New(rand.NewSource(spec.Seed)) //nolint:gosec

	var draw func() float32
	switch Distribution(strings.ToLower(string(spec.Distribution))) {
	case DistributionUniform, "":
		low, high := spec.Low, spec.High
		if high <= low {
			low, high = 0, 1
		}
		draw = func() float32 { return low + rng.Float32()*(high-low) }
	case DistributionNormal:
		draw = func() float32 { return float32(rng.NormFloat64()) }
	case DistributionFill:
		draw = func() float32 { return spec.Fill }
	default:
		return nil, errors.Errorf("unknown input distribution %q", spec.Distribution)
	}

	inputs := make([]Input, 0, len(infos))
	for _, info := range infos {
		shape := spec.ResolveShape(info)
		n, err := numElements(shape)
		if err != nil {
			return nil, errors.Wrap(err, info.Name)
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = draw()
		}
		inputs = append(inputs, Input{Name: info.Name, ElemType: info.ElemType, Shape: shape, Data: data})
	}
	return inputs, nil
}

// ImageOptions controls how an image file is fed to an NCHW input.
type ImageOptions struct {
	// Width and Height are used when the input dims are dynamic.
	Width  int `json:"width"  yaml:"width"  default:"640"`
	Height int `json:"height" yaml:"height" default:"640"`
	// Normalize scales pixels to [0, 1]; otherwise raw 0..255 values are fed,
	// as expected by models with normalization baked in.
	Normalize bool `json:"normalize" yaml:"normalize" default:"true"`
}

// PrepareInput resizes img with Lanczos3 and lays it out as planar RGB.
//
// Arguments:
//   - img: The image to prepare.
//   - width, height: The model input size.
//   - normalize: Divide pixel values by 255.
//
// Returns:
//   - []float32: 3*height*width values in CHW order.
func PrepareInput(img image.Image, width, height int, normalize bool) []float32 {
	img = resize.Resize(uint(width), uint(height), img, resize.Lanczos3)

	channelSize := width * height
	data := make([]float32, 3*channelSize)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	scale := float32(1)
	if normalize {
		scale = 1.0 / 255.0
	}

	bounds := img.Bounds()
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			red[i] = float32(r>>8) * scale
			green[i] = float32(g>>8) * scale
			blue[i] = float32(b>>8) * scale
			i++
		}
	}
	return data
}
