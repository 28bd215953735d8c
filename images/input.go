package images

import (
	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ModelInput decodes an image file into a [1, 3, H, W] RGB input for info.
//
// Arguments:
//   - path: The image file.
//   - info: The model input the image feeds.
//   - opts: Fallback size and pixel scaling.
//
// Returns:
//   - inference.Input: The CHW input.
//   - error: An error if the image cannot be read or the input is not NCHW.
func ModelInput(path string, info inference.TensorInfo, opts inference.ImageOptions) (inference.Input, error) {
	if len(info.Shape) != 4 || (info.Shape[1] != 3 && info.Shape[1] >= 0) {
		return inference.Input{}, errors.Errorf("input %s is not a 3 channel NCHW tensor", info)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return inference.Input{}, errors.Errorf("failed to read image %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return inference.Input{}, errors.Wrapf(err, "convert %s", path)
	}

	height, width := info.Shape[2], info.Shape[3]
	if height < 0 {
		height = int64(opts.Height)
	}
	if width < 0 {
		width = int64(opts.Width)
	}

	return inference.Input{
		Name:     info.Name,
		ElemType: info.ElemType,
		Shape:    []int64{1, 3, height, width},
		Data:     inference.PrepareInput(img, int(width), int(height), opts.Normalize),
	}, nil
}
