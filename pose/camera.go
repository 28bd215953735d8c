package pose

import (
	"github.com/pkg/errors"
)

// ErrInvalidCamera is returned for a singular intrinsic matrix or an
// unsupported distortion vector.
var ErrInvalidCamera = errors.New("invalid camera")

// undistortIterations bounds the fixed point iteration in Undistort.
const undistortIterations = 20

// Camera holds pinhole intrinsics and the k1 k2 p1 p2 k3 distortion model.
type Camera struct {
	// Matrix is [fx s cx; 0 fy cy; 0 0 1].
	Matrix Mat3 `json:"matrix"     yaml:"matrix"`
	// Distortion is empty, or k1 k2 p1 p2 with an optional k3.
	Distortion []float64 `json:"distortion" yaml:"distortion"`
}

// NewCamera builds an undistorted camera without skew.
func NewCamera(fx, fy, cx, cy float64) Camera {
	return Camera{Matrix: Mat3{{fx, 0, cx}, {0, fy, cy}, {0, 0, 1}}}
}

// Validate checks the matrix is invertible and the distortion length is
// supported.
func (c Camera) Validate() error {
	if _, ok := c.Matrix.Inverse(); !ok {
		return errors.Wrap(ErrInvalidCamera, "camera matrix is singular")
	}
	switch len(c.Distortion) {
	case 0, 4, 5:
		return nil
	}
	return errors.Wrapf(ErrInvalidCamera, "%d distortion coefficients, want 0, 4 or 5", len(c.Distortion))
}

func (c Camera) coefficients() (k1, k2, p1, p2, k3 float64) {
	d := c.Distortion
	if len(d) >= 4 {
		k1, k2, p1, p2 = d[0], d[1], d[2], d[3]
	}
	if len(d) >= 5 {
		k3 = d[4]
	}
	return
}

// Project maps a point in the camera frame to pixels. It returns false for
// points on or behind the image plane.
func (c Camera) Project(p Vec3) (Vec2, bool) {
	if p[2] <= 1e-9 {
		return Vec2{}, false
	}
	x, y := p[0]/p[2], p[1]/p[2]

	k1, k2, p1, p2, k3 := c.coefficients()
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y

	m := c.Matrix
	return Vec2{
		m[0][0]*xd + m[0][1]*yd + m[0][2],
		m[1][1]*yd + m[1][2],
	}, true
}

// Undistort maps a pixel to normalized image coordinates (x/z, y/z) with the
// lens distortion removed.
//
// Arguments:
//   - pixel: The observed pixel.
//
// Returns:
//   - Vec2: The ideal normalized coordinates.
//   - error: ErrInvalidCamera if the matrix cannot be inverted.
func (c Camera) Undistort(pixel Vec2) (Vec2, error) {
	inv, ok := c.Matrix.Inverse()
	if !ok {
		return Vec2{}, errors.Wrap(ErrInvalidCamera, "camera matrix is singular")
	}
	h := inv.MulVec(Vec3{pixel[0], pixel[1], 1})
	x0, y0 := h[0]/h[2], h[1]/h[2]

	k1, k2, p1, p2, k3 := c.coefficients()
	if k1 == 0 && k2 == 0 && p1 == 0 && p2 == 0 && k3 == 0 {
		return Vec2{x0, y0}, nil
	}

	x, y := x0, y0
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		icdist := 1 / (1 + r2*(k1+r2*(k2+r2*k3)))
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (x0 - dx) * icdist
		y = (y0 - dy) * icdist
	}
	return Vec2{x, y}, nil
}
