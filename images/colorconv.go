// Package images - OpenCV color space conversion of image files.
package images

import (
	"image"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrUnknownConversion is returned for conversion names without an OpenCV code.
var ErrUnknownConversion = errors.New("unknown color conversion")

// Conversion names a target color space. Sources are BGR, as OpenCV reads them.
type Conversion string

// Conversion constants.
const (
	ConversionYUV   Conversion = "yuv"
	ConversionHSV   Conversion = "hsv"
	ConversionLab   Conversion = "lab"
	ConversionYCrCb Conversion = "ycrcb"
	ConversionGray  Conversion = "gray"
	ConversionRGB   Conversion = "rgb"
)

var conversionCodes = map[Conversion]gocv.ColorConversionCode{ //nolint:gochecknoglobals
	ConversionYUV:   gocv.ColorBGRToYUV,
	ConversionHSV:   gocv.ColorBGRToHSV,
	ConversionLab:   gocv.ColorBGRToLab,
	ConversionYCrCb: gocv.ColorBGRToYCrCb,
	ConversionGray:  gocv.ColorBGRToGray,
	ConversionRGB:   gocv.ColorBGRToRGB,
}

// Conversions lists the supported conversion names in order.
func Conversions() []Conversion {
	out := make([]Conversion, 0, len(conversionCodes))
	for c := range conversionCodes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseConversion resolves a case-insensitive conversion name.
func ParseConversion(name string) (Conversion, error) {
	c := Conversion(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := conversionCodes[c]; !ok {
		return "", errors.Wrapf(ErrUnknownConversion, "%q", name)
	}
	return c, nil
}

// Channels returns the channel count of the converted image.
func (c Conversion) Channels() int {
	if c == ConversionGray {
		return 1
	}
	return 3
}

// ConvertColor converts a BGR Mat into dst.
//
// Arguments:
//   - src: A 3 channel BGR image.
//   - dst: Receives the converted image.
//   - conversion: The target color space.
//
// Returns:
//   - error: An error if src is not BGR or the conversion is unknown.
func ConvertColor(src gocv.Mat, dst *gocv.Mat, conversion Conversion) error {
	code, ok := conversionCodes[conversion]
	if !ok {
		return errors.Wrapf(ErrUnknownConversion, "%q", conversion)
	}
	if src.Empty() {
		return errors.New("source image is empty")
	}
	if src.Channels() != 3 {
		return errors.Errorf("source image has %d channels, want 3 (BGR)", src.Channels())
	}

	gocv.CvtColor(src, dst, code)
	if dst.Empty() {
		return errors.Errorf("conversion to %s produced an empty image", conversion)
	}
	return nil
}

// ConvertFile reads the image at input, converts it and writes it to output.
// The converted channels are written as is, so a YUV image saved as JPEG
// stores Y, U and V in the B, G and R slots.
//
// Arguments:
//   - input: The source image file.
//   - output: The destination file. The extension selects the format.
//   - conversion: The target color space.
//
// Returns:
//   - image.Point: The width and height of the written image.
//   - error: An error if reading, converting or writing fails.
func ConvertFile(input, output string, conversion Conversion) (image.Point, error) {
	src := gocv.IMRead(input, gocv.IMReadColor)
	if src.Empty() {
		return image.Point{}, errors.Errorf("failed to read image %s", input)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	if err := ConvertColor(src, &dst, conversion); err != nil {
		return image.Point{}, errors.Wrap(err, input)
	}

	if !gocv.IMWrite(output, dst) {
		return image.Point{}, errors.Errorf("failed to write image %s", output)
	}
	return image.Pt(dst.Cols(), dst.Rows()), nil
}
