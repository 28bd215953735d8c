package images

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// redImage returns a rows x cols pure red BGR image.
func redImage(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func TestParseConversion(t *testing.T) {
	c, err := ParseConversion(" YUV ")
	require.NoError(t, err)
	assert.Equal(t, ConversionYUV, c)

	_, err = ParseConversion("cmyk")
	assert.ErrorIs(t, err, ErrUnknownConversion)

	assert.Len(t, Conversions(), 6)
	assert.Equal(t, 1, ConversionGray.Channels())
	assert.Equal(t, 3, ConversionLab.Channels())
}

func TestConvertColorKeepsSize(t *testing.T) {
	src := redImage(10, 12)
	defer src.Close()

	for _, c := range Conversions() {
		dst := gocv.NewMat()
		require.NoError(t, ConvertColor(src, &dst, c), c)
		assert.Equal(t, 10, dst.Rows(), c)
		assert.Equal(t, 12, dst.Cols(), c)
		assert.Equal(t, c.Channels(), dst.Channels(), c)
		dst.Close()
	}

	gray := gocv.NewMat()
	defer gray.Close()
	require.NoError(t, ConvertColor(src, &gray, ConversionGray))
	assert.Equal(t, uint8(76), gray.GetUCharAt(0, 0))

	rgb := gocv.NewMat()
	defer rgb.Close()
	require.NoError(t, ConvertColor(src, &rgb, ConversionRGB))
	assert.Equal(t, uint8(255), rgb.GetVecbAt(0, 0)[0])
}

func TestConvertColorErrors(t *testing.T) {
	dst := gocv.NewMat()
	defer dst.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, ConvertColor(empty, &dst, ConversionYUV))

	src := redImage(4, 4)
	defer src.Close()
	assert.ErrorIs(t, ConvertColor(src, &dst, "cmyk"), ErrUnknownConversion)

	single := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1)
	defer single.Close()
	assert.Error(t, ConvertColor(single, &dst, ConversionYUV))
}

func TestConvertFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.png")

	src := redImage(24, 32)
	defer src.Close()
	require.True(t, gocv.IMWrite(input, src))

	output := filepath.Join(dir, "yuv.png")
	size, err := ConvertFile(input, output, ConversionYUV)
	require.NoError(t, err)
	assert.Equal(t, 32, size.X)
	assert.Equal(t, 24, size.Y)

	written := gocv.IMRead(output, gocv.IMReadUnchanged)
	require.False(t, written.Empty())
	defer written.Close()
	assert.Equal(t, 24, written.Rows())
	assert.Equal(t, 32, written.Cols())

	_, err = ConvertFile(filepath.Join(dir, "missing.png"), output, ConversionYUV)
	assert.Error(t, err)
}

func TestMatChecksum(t *testing.T) {
	a := redImage(8, 8)
	defer a.Close()
	b := redImage(8, 8)
	defer b.Close()

	assert.Equal(t, MatChecksum(a), MatChecksum(b))

	yuv := gocv.NewMat()
	defer yuv.Close()
	require.NoError(t, ConvertColor(a, &yuv, ConversionYUV))
	again := gocv.NewMat()
	defer again.Close()
	require.NoError(t, ConvertColor(a, &again, ConversionYUV))

	assert.Equal(t, MatChecksum(yuv), MatChecksum(again))
	assert.NotEqual(t, MatChecksum(a), MatChecksum(yuv))
	empty := gocv.NewMat()
	defer empty.Close()
	assert.Equal(t, "empty", MatChecksum(empty))
}
