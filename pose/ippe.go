package pose

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints is returned when fewer than four correspondences are given.
	ErrTooFewPoints = errors.New("planar pose needs at least 4 points")
	// ErrPointCount is returned when object and image point counts differ.
	ErrPointCount = errors.New("object and image point counts differ")
	// ErrNotPlanar is returned when the object points do not lie on a plane.
	ErrNotPlanar = errors.New("object points are not planar")
	// ErrDegenerate is returned for collinear points or a singular homography.
	ErrDegenerate = errors.New("degenerate point configuration")
)

// planarityTolerance is the largest ratio of the smallest to the largest
// singular value of the centered object points still treated as a plane.
const planarityTolerance = 1e-6

// Pose is the transform from the object frame to the camera frame:
// x_cam = Rotation * x_obj + Translation.
type Pose struct {
	Rotation    Mat3       `json:"rotation"`
	Translation Vec3       `json:"translation"`
	RVec        Vec3       `json:"rvec"`
	Quaternion  Quaternion `json:"quaternion"`
	// Error is the RMS reprojection error in pixels.
	Error float64 `json:"error"`
	// Success is set when every object point lies in front of the camera.
	Success bool `json:"success"`
	// Alternative is the second IPPE solution.
	Alternative *Pose `json:"alternative,omitempty"`
}

func newPose(r Mat3, t Vec3) Pose {
	return Pose{Rotation: r, Translation: t, RVec: RodriguesInverse(r), Quaternion: QuaternionFromMatrix(r)}
}

// Transform maps an object point into the camera frame.
func (p Pose) Transform(v Vec3) Vec3 {
	return p.Rotation.MulVec(v).Add(p.Translation)
}

// planarFrame is the canonical object frame: centered on the centroid with
// the plane at z = 0.
type planarFrame struct {
	points   []Vec2
	rotation Mat3
	centroid Vec3
}

// SolvePlanar estimates the camera pose of a planar target with IPPE
// (infinitesimal plane-based pose estimation).
//
// The object points are moved into a canonical frame, a homography to the
// undistorted image points is estimated with a normalized DLT, and the two
// rotations consistent with the homography Jacobian at the centroid are
// computed. Each rotation gets a least-squares translation; the solution with
// every point in front of the camera and the lower reprojection error wins.
//
// Arguments:
//   - objectPoints: Points of the target in its own frame, on one plane.
//   - imagePoints: The matching pixels.
//   - camera: Intrinsics and distortion.
//
// Returns:
//   - Pose: The selected solution with the other as Alternative. Success is
//     false when neither solution places the target in front of the camera.
//   - error: An error for invalid input or a degenerate configuration.
func SolvePlanar(objectPoints []Vec3, imagePoints []Vec2, camera Camera) (Pose, error) {
	if len(objectPoints) != len(imagePoints) {
		return Pose{}, errors.Wrapf(ErrPointCount, "%d object points, %d image points", len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < 4 {
		return Pose{}, errors.Wrapf(ErrTooFewPoints, "got %d", len(objectPoints))
	}
	if err := camera.Validate(); err != nil {
		return Pose{}, err
	}

	frame, err := canonicalize(objectPoints)
	if err != nil {
		return Pose{}, err
	}

	normalized := make([]Vec2, len(imagePoints))
	for i, p := range imagePoints {
		if normalized[i], err = camera.Undistort(p); err != nil {
			return Pose{}, err
		}
	}

	h, err := homography(frame.points, normalized)
	if err != nil {
		return Pose{}, err
	}
	if math.Abs(h[2][2]) < 1e-12 {
		return Pose{}, errors.Wrap(ErrDegenerate, "homography is singular")
	}
	h = h.Scale(1 / h[2][2])

	// Jacobian of the homography at the canonical origin.
	j00 := h[0][0] - h[2][0]*h[0][2]
	j01 := h[0][1] - h[2][1]*h[0][2]
	j10 := h[1][0] - h[2][0]*h[1][2]
	j11 := h[1][1] - h[2][1]*h[1][2]

	r1, r2, err := ippeRotations(j00, j01, j10, j11, h[0][2], h[1][2])
	if err != nil {
		return Pose{}, err
	}

	candidates := make([]Pose, 0, 2)
	for _, rc := range []Mat3{r1, r2} {
		tc, err := ippeTranslation(frame.points, normalized, rc)
		if err != nil {
			return Pose{}, err
		}
		// x_cam = rc * (M * (x - c)) + tc
		r := rc.Mul(frame.rotation)
		t := tc.Sub(r.MulVec(frame.centroid))

		p := newPose(r, t)
		p.Success = inFront(p, objectPoints)
		p.Error = reprojectionError(p, objectPoints, imagePoints, camera)
		candidates = append(candidates, p)
	}

	best, other := candidates[0], candidates[1]
	if better(other, best) {
		best, other = other, best
	}
	best.Alternative = &other
	return best, nil
}

// better orders solutions: valid before invalid, then lower error.
func better(a, b Pose) bool {
	if a.Success != b.Success {
		return a.Success
	}
	return a.Error < b.Error
}

// canonicalize centers the object points and rotates their plane onto z = 0.
func canonicalize(points []Vec3) (planarFrame, error) {
	n := len(points)
	var centroid Vec3
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Scale(1 / float64(n))

	data := make([]float64, 0, 3*n)
	flat := true
	for _, p := range points {
		d := p.Sub(centroid)
		data = append(data, d[0], d[1], d[2])
		if math.Abs(d[2]) > 1e-9 {
			flat = false
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(n, 3, data), mat.SVDThin); !ok {
		return planarFrame{}, errors.Wrap(ErrDegenerate, "object point decomposition failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[1] < 1e-9*values[0] {
		return planarFrame{}, errors.Wrap(ErrDegenerate, "object points are collinear")
	}

	rotation := Identity()
	if !flat {
		if values[2] > planarityTolerance*values[0] {
			return planarFrame{}, errors.Wrapf(ErrNotPlanar, "off-plane spread %.3g", values[2]/values[0])
		}
		var v mat.Dense
		svd.VTo(&v)
		e1 := Vec3{v.At(0, 0), v.At(1, 0), v.At(2, 0)}
		e2 := Vec3{v.At(0, 1), v.At(1, 1), v.At(2, 1)}
		rotation = Mat3{e1, e2, e1.Cross(e2)}
	}

	frame := planarFrame{points: make([]Vec2, n), rotation: rotation, centroid: centroid}
	for i, p := range points {
		q := rotation.MulVec(p.Sub(centroid))
		frame.points[i] = Vec2{q[0], q[1]}
	}
	return frame, nil
}

// normalize2D centers points and scales them to an RMS distance of sqrt(2).
// It returns the normalized points and the inverse of the normalizing
// transform.
func normalize2D(points []Vec2) ([]Vec2, Mat3, error) {
	n := float64(len(points))
	var cx, cy float64
	for _, p := range points {
		cx += p[0]
		cy += p[1]
	}
	cx, cy = cx/n, cy/n

	var kappa float64
	for _, p := range points {
		dx, dy := p[0]-cx, p[1]-cy
		kappa += dx*dx + dy*dy
	}
	if kappa < 1e-300 {
		return nil, Mat3{}, errors.Wrap(ErrDegenerate, "points coincide")
	}
	beta := math.Sqrt(2 * n / kappa)

	out := make([]Vec2, len(points))
	for i, p := range points {
		out[i] = Vec2{beta * (p[0] - cx), beta * (p[1] - cy)}
	}
	inverse := Mat3{{1 / beta, 0, cx}, {0, 1 / beta, cy}, {0, 0, 1}}
	return out, inverse, nil
}

// homography estimates H with dst ~ H * src by the normalized DLT.
func homography(src, dst []Vec2) (Mat3, error) {
	srcN, srcInv, err := normalize2D(src)
	if err != nil {
		return Mat3{}, err
	}
	dstN, dstInv, err := normalize2D(dst)
	if err != nil {
		return Mat3{}, err
	}

	rows := 2 * len(src)
	if rows < 9 {
		// Pad with a zero row so the null space is the last right singular vector.
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range srcN {
		x, y := srcN[i][0], srcN[i][1]
		u, v := dstN[i][0], dstN[i][1]
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return Mat3{}, errors.Wrap(ErrDegenerate, "homography decomposition failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn Mat3
	for k := 0; k < 9; k++ {
		hn[k/3][k%3] = v.At(k, 8)
	}

	// Undo the normalization: H = dstInv * Hn * srcT, srcT = srcInv^-1.
	srcT, ok := srcInv.Inverse()
	if !ok {
		return Mat3{}, errors.Wrap(ErrDegenerate, "object normalization is singular")
	}
	return dstInv.Mul(hn).Mul(srcT), nil
}

// rotateToZ returns the rotation taking the direction of v onto the z axis.
func rotateToZ(v Vec3) Mat3 {
	a := v.Normalize()
	axis := a.Cross(Vec3{0, 0, 1})
	s := axis.Norm()
	if s < 1e-12 {
		return Identity()
	}
	return Rodrigues(axis.Scale(math.Atan2(s, a[2]) / s))
}

// ippeRotations returns the two rotations whose first two columns match the
// homography Jacobian J at the point with normalized image coordinates (p, q).
func ippeRotations(j00, j01, j10, j11, p, q float64) (Mat3, Mat3, error) {
	rv := rotateToZ(Vec3{p, q, 1}).Transpose()

	b00 := rv[0][0] - p*rv[2][0]
	b01 := rv[0][1] - p*rv[2][1]
	b10 := rv[1][0] - q*rv[2][0]
	b11 := rv[1][1] - q*rv[2][1]

	det := b00*b11 - b01*b10
	if math.Abs(det) < 1e-300 {
		return Mat3{}, Mat3{}, errors.Wrap(ErrDegenerate, "singular rotation basis")
	}
	binv00, binv01 := b11/det, -b01/det
	binv10, binv11 := -b10/det, b00/det

	a00 := binv00*j00 + binv01*j10
	a01 := binv00*j01 + binv01*j11
	a10 := binv10*j00 + binv11*j10
	a11 := binv10*j01 + binv11*j11

	ata00 := a00*a00 + a01*a01
	ata01 := a00*a10 + a01*a11
	ata11 := a10*a10 + a11*a11

	gamma := math.Sqrt(0.5 * (ata00 + ata11 + math.Sqrt((ata00-ata11)*(ata00-ata11)+4*ata01*ata01)))
	if gamma == 0 || math.IsNaN(gamma) {
		return Mat3{}, Mat3{}, errors.Wrap(ErrDegenerate, "zero Jacobian")
	}

	r00, r01 := a00/gamma, a01/gamma
	r10, r11 := a10/gamma, a11/gamma

	b0 := math.Sqrt(math.Max(0, 1-r00*r00-r10*r10))
	b1 := math.Sqrt(math.Max(0, 1-r01*r01-r11*r11))
	if -(r00*r01 + r10*r11) < 0 {
		b1 = -b1
	}

	build := func(b0, b1 float64) Mat3 {
		c0 := Vec3{r00, r10, b0}
		c1 := Vec3{r01, r11, b1}
		c2 := c0.Cross(c1)
		tilde := Mat3{
			{c0[0], c1[0], c2[0]},
			{c0[1], c1[1], c2[1]},
			{c0[2], c1[2], c2[2]},
		}
		return rv.Mul(tilde)
	}
	return build(b0, b1), build(-b0, -b1), nil
}

// ippeTranslation solves the least-squares translation for rotation r given
// canonical object points and normalized image points.
func ippeTranslation(object, image []Vec2, r Mat3) (Vec3, error) {
	n := float64(len(object))
	ata := Mat3{{n, 0, 0}, {0, n, 0}, {0, 0, 0}}
	var atb Vec3

	for i, p := range object {
		u, v := image[i][0], image[i][1]
		rx := r[0][0]*p[0] + r[0][1]*p[1]
		ry := r[1][0]*p[0] + r[1][1]*p[1]
		rz := r[2][0]*p[0] + r[2][1]*p[1]

		ata[0][2] -= u
		ata[1][2] -= v
		ata[2][2] += u*u + v*v

		bx := u*rz - rx
		by := v*rz - ry
		atb[0] += bx
		atb[1] += by
		atb[2] += -u*bx - v*by
	}
	ata[2][0] = ata[0][2]
	ata[2][1] = ata[1][2]

	inv, ok := ata.Inverse()
	if !ok {
		return Vec3{}, errors.Wrap(ErrDegenerate, "translation system is singular")
	}
	return inv.MulVec(atb), nil
}

func inFront(p Pose, points []Vec3) bool {
	if p.Translation[2] <= 0 {
		return false
	}
	for _, v := range points {
		if p.Transform(v)[2] <= 0 {
			return false
		}
	}
	return true
}

// reprojectionError is the RMS pixel distance between the projected object
// points and the observations. Points behind the camera give +Inf.
func reprojectionError(p Pose, object []Vec3, image []Vec2, camera Camera) float64 {
	var sum float64
	for i, v := range object {
		px, ok := camera.Project(p.Transform(v))
		if !ok {
			return math.Inf(1)
		}
		dx, dy := px[0]-image[i][0], px[1]-image[i][1]
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(len(object)))
}
