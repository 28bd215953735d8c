// Package pose - Camera pose from planar point correspondences.
package pose

import (
	"math"
)

// Vec2 is a 2D point or vector.
type Vec2 [2]float64

// Vec3 is a 3D point or vector.
type Vec3 [3]float64

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity returns the 3x3 identity.
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Scale returns s * v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{s * v[0], s * v[1], s * v[2]} }

// Dot returns the inner product.
func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

// Cross returns v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

// Norm returns the Euclidean length.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Normalize returns v scaled to unit length. The zero vector is returned as is.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Mul returns m * o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return out
}

// MulVec returns m * v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// Transpose returns m transposed.
func (m Mat3) Transpose() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Scale returns s * m.
func (m Mat3) Scale(s float64) Mat3 {
	for i := range m {
		for j := range m[i] {
			m[i][j] *= s
		}
	}
	return m
}

// Column returns column j.
func (m Mat3) Column(j int) Vec3 { return Vec3{m[0][j], m[1][j], m[2][j]} }

// Det returns the determinant.
func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Inverse returns the inverse of m and false when m is singular.
func (m Mat3) Inverse() (Mat3, bool) {
	det := m.Det()
	if math.Abs(det) < 1e-300 || math.IsNaN(det) {
		return Mat3{}, false
	}
	inv := Mat3{
		{
			m[1][1]*m[2][2] - m[1][2]*m[2][1],
			m[0][2]*m[2][1] - m[0][1]*m[2][2],
			m[0][1]*m[1][2] - m[0][2]*m[1][1],
		},
		{
			m[1][2]*m[2][0] - m[1][0]*m[2][2],
			m[0][0]*m[2][2] - m[0][2]*m[2][0],
			m[0][2]*m[1][0] - m[0][0]*m[1][2],
		},
		{
			m[1][0]*m[2][1] - m[1][1]*m[2][0],
			m[0][1]*m[2][0] - m[0][0]*m[2][1],
			m[0][0]*m[1][1] - m[0][1]*m[1][0],
		},
	}
	return inv.Scale(1 / det), true
}

// Rodrigues converts a rotation vector (axis times angle in radians) into a
// rotation matrix.
func Rodrigues(rvec Vec3) Mat3 {
	theta := rvec.Norm()
	if theta < 1e-12 {
		return Identity()
	}
	k := rvec.Scale(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c

	return Mat3{
		{c + t*k[0]*k[0], t*k[0]*k[1] - s*k[2], t*k[0]*k[2] + s*k[1]},
		{t*k[1]*k[0] + s*k[2], c + t*k[1]*k[1], t*k[1]*k[2] - s*k[0]},
		{t*k[2]*k[0] - s*k[1], t*k[2]*k[1] + s*k[0], c + t*k[2]*k[2]},
	}
}

// RodriguesInverse converts a rotation matrix into a rotation vector with an
// angle in [0, pi].
func RodriguesInverse(r Mat3) Vec3 {
	cos := (r[0][0] + r[1][1] + r[2][2] - 1) / 2
	cos = math.Max(-1, math.Min(1, cos))
	theta := math.Acos(cos)

	axis := Vec3{r[2][1] - r[1][2], r[0][2] - r[2][0], r[1][0] - r[0][1]}
	sin := axis.Norm() / 2

	switch {
	case theta < 1e-12:
		return Vec3{}
	case sin > 1e-6:
		return axis.Scale(theta / (2 * sin))
	}

	// Near pi the skew part vanishes; recover the axis from the symmetric part.
	var k Vec3
	for i := 0; i < 3; i++ {
		k[i] = math.Sqrt(math.Max(0, (r[i][i]+1)/2))
	}
	largest := 0
	for i := 1; i < 3; i++ {
		if k[i] > k[largest] {
			largest = i
		}
	}
	for i := 0; i < 3; i++ {
		if i != largest && r[largest][i]+r[i][largest] < 0 {
			k[i] = -k[i]
		}
	}
	return k.Normalize().Scale(theta)
}

// Quaternion is a rotation in x, y, z, w order.
type Quaternion struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
	W float64 `json:"w" yaml:"w"`
}

// QuaternionFromMatrix converts a rotation matrix into a unit quaternion with
// a non-negative W.
func QuaternionFromMatrix(r Mat3) Quaternion {
	var q Quaternion
	trace := r[0][0] + r[1][1] + r[2][2]

	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = Quaternion{
			W: s / 4,
			X: (r[2][1] - r[1][2]) / s,
			Y: (r[0][2] - r[2][0]) / s,
			Z: (r[1][0] - r[0][1]) / s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = Quaternion{
			W: (r[2][1] - r[1][2]) / s,
			X: s / 4,
			Y: (r[0][1] + r[1][0]) / s,
			Z: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = Quaternion{
			W: (r[0][2] - r[2][0]) / s,
			X: (r[0][1] + r[1][0]) / s,
			Y: s / 4,
			Z: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = Quaternion{
			W: (r[1][0] - r[0][1]) / s,
			X: (r[0][2] + r[2][0]) / s,
			Y: (r[1][2] + r[2][1]) / s,
			Z: s / 4,
		}
	}

	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if q.W < 0 {
		n = -n
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Matrix converts the quaternion back into a rotation matrix.
func (q Quaternion) Matrix() Mat3 {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}
