package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMatrixNear(t *testing.T, want, got Mat3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[i][j], got[i][j], delta, "element %d,%d", i, j)
		}
	}
}

func assertVecNear(t *testing.T, want, got Vec3, delta float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want[i], got[i], delta, "element %d", i)
	}
}

// project renders object points with a known pose.
func project(t *testing.T, camera Camera, r Mat3, tr Vec3, points []Vec3) []Vec2 {
	t.Helper()
	out := make([]Vec2, len(points))
	for i, p := range points {
		px, ok := camera.Project(r.MulVec(p).Add(tr))
		require.True(t, ok)
		out[i] = px
	}
	return out
}

func TestRodrigues(t *testing.T) {
	assert.Equal(t, Identity(), Rodrigues(Vec3{}))
	assert.Equal(t, Vec3{}, RodriguesInverse(Identity()))

	z90 := Rodrigues(Vec3{0, 0, math.Pi / 2})
	assertMatrixNear(t, Mat3{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}}, z90, 1e-12)

	for _, rvec := range []Vec3{{0.2, -0.3, 0.1}, {1.5, 0.5, -2.0}, {0, 0, 3.0}} {
		r := Rodrigues(rvec)
		assert.InDelta(t, 1.0, r.Det(), 1e-12)
		assertMatrixNear(t, Identity(), r.Mul(r.Transpose()), 1e-12)
		assertVecNear(t, rvec, RodriguesInverse(r), 1e-9)
	}

	// A half turn has two equivalent vectors; both must give the same matrix.
	half := Rodrigues(Vec3{0, math.Pi, 0})
	assertMatrixNear(t, half, Rodrigues(RodriguesInverse(half)), 1e-9)
	assert.InDelta(t, math.Pi, RodriguesInverse(half).Norm(), 1e-9)
}

func TestQuaternionFromMatrix(t *testing.T) {
	q := QuaternionFromMatrix(Rodrigues(Vec3{0, 0, math.Pi / 2}))
	s := math.Sqrt(0.5)
	assert.InDelta(t, 0.0, q.X, 1e-12)
	assert.InDelta(t, 0.0, q.Y, 1e-12)
	assert.InDelta(t, s, q.Z, 1e-12)
	assert.InDelta(t, s, q.W, 1e-12)

	for _, rvec := range []Vec3{{0.2, -0.3, 0.1}, {3.0, 0, 0}, {0, 2.9, 0.4}, {0.1, 0.2, -3.0}} {
		r := Rodrigues(rvec)
		q := QuaternionFromMatrix(r)
		assert.GreaterOrEqual(t, q.W, 0.0)
		assert.InDelta(t, 1.0, q.X*q.X+q.Y*q.Y+q.Z*q.Z+q.W*q.W, 1e-12)
		assertMatrixNear(t, r, q.Matrix(), 1e-9)
	}
}

func TestMat3Inverse(t *testing.T) {
	m := Mat3{{2, 1, 0}, {0, 3, 1}, {1, 0, 4}}
	inv, ok := m.Inverse()
	require.True(t, ok)
	assertMatrixNear(t, Identity(), m.Mul(inv), 1e-12)

	_, ok = Mat3{{1, 2, 3}, {2, 4, 6}, {0, 0, 1}}.Inverse()
	assert.False(t, ok)
}

func TestCameraProjectUndistort(t *testing.T) {
	camera := NewCamera(800, 820, 320, 240)
	camera.Distortion = []float64{0.1, -0.05, 0.001, -0.002, 0.01}
	require.NoError(t, camera.Validate())

	for _, p := range []Vec3{{0, 0, 1000}, {120, -80, 900}, {-200, 150, 1200}} {
		px, ok := camera.Project(p)
		require.True(t, ok)
		n, err := camera.Undistort(px)
		require.NoError(t, err)
		assert.InDelta(t, p[0]/p[2], n[0], 1e-9)
		assert.InDelta(t, p[1]/p[2], n[1], 1e-9)
	}

	_, ok := camera.Project(Vec3{0, 0, -1})
	assert.False(t, ok)

	assert.ErrorIs(t, Camera{}.Validate(), ErrInvalidCamera)
	bad := NewCamera(1, 1, 0, 0)
	bad.Distortion = []float64{0.1}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidCamera)
}

func TestSolvePlanarRecoversPose(t *testing.T) {
	camera := DefaultCamera()
	r := Rodrigues(Vec3{0.2, -0.3, 0.1})
	tr := Vec3{50, -20, 3000}

	image := project(t, camera, r, tr, ArmorObjectPoints)
	pose, err := SolvePlanar(ArmorObjectPoints, image, camera)
	require.NoError(t, err)

	assert.True(t, pose.Success)
	assert.Less(t, pose.Error, 1e-6)
	assertMatrixNear(t, r, pose.Rotation, 1e-6)
	assertVecNear(t, tr, pose.Translation, 1e-3)
	assertVecNear(t, Vec3{0.2, -0.3, 0.1}, pose.RVec, 1e-6)
	assertMatrixNear(t, r, pose.Quaternion.Matrix(), 1e-6)

	require.NotNil(t, pose.Alternative)
	assert.GreaterOrEqual(t, pose.Alternative.Error, pose.Error)
	assert.Nil(t, pose.Alternative.Alternative)
}

func TestSolvePlanarWithDistortion(t *testing.T) {
	camera := NewCamera(900, 900, 320, 240)
	camera.Distortion = []float64{-0.12, 0.03, 0.0005, -0.0005}
	r := Rodrigues(Vec3{-0.1, 0.4, 0.05})
	tr := Vec3{-40, 30, 1500}

	image := project(t, camera, r, tr, ArmorObjectPoints)
	pose, err := SolvePlanar(ArmorObjectPoints, image, camera)
	require.NoError(t, err)
	assert.True(t, pose.Success)
	assertMatrixNear(t, r, pose.Rotation, 1e-5)
	assertVecNear(t, tr, pose.Translation, 1e-2)
}

func TestSolvePlanarTiltedPlane(t *testing.T) {
	// A 3x2 grid on the plane z = 0.5x + 20, off the origin.
	var object []Vec3
	for _, x := range []float64{100, 160, 220} {
		for _, y := range []float64{-30, 40} {
			object = append(object, Vec3{x, y, 0.5*x + 20})
		}
	}
	camera := NewCamera(1000, 1000, 320, 240)
	r := Rodrigues(Vec3{0.3, 0.1, -0.2})
	tr := Vec3{-150, 10, 2000}

	image := project(t, camera, r, tr, object)
	pose, err := SolvePlanar(object, image, camera)
	require.NoError(t, err)
	assert.True(t, pose.Success)
	assert.Less(t, pose.Error, 1e-6)
	assertMatrixNear(t, r, pose.Rotation, 1e-6)
	assertVecNear(t, tr, pose.Translation, 1e-3)
}

func TestSolvePlanarArmorDetections(t *testing.T) {
	camera := DefaultCamera()
	for i, image := range ArmorImagePoints {
		pose, err := SolvePlanar(ArmorObjectPoints, image, camera)
		require.NoError(t, err, "detection %d", i)
		assert.True(t, pose.Success, "detection %d", i)
		assert.Positive(t, pose.Translation[2], "detection %d", i)

		distance := pose.Translation.Norm()
		assert.Greater(t, distance, 2000.0, "detection %d", i)
		assert.Less(t, distance, 8000.0, "detection %d", i)
		assert.Less(t, pose.Error, 5.0, "detection %d", i)
		assert.InDelta(t, 1.0, pose.Rotation.Det(), 1e-9)
	}
}

func TestSolvePlanarErrors(t *testing.T) {
	camera := DefaultCamera()

	_, err := SolvePlanar(ArmorObjectPoints[:3], ArmorImagePoints[0][:3], camera)
	assert.ErrorIs(t, err, ErrTooFewPoints)

	_, err = SolvePlanar(ArmorObjectPoints, ArmorImagePoints[0][:3], camera)
	assert.ErrorIs(t, err, ErrPointCount)

	cube := []Vec3{{0, 0, 0}, {100, 0, 0}, {0, 100, 0}, {0, 0, 100}}
	_, err = SolvePlanar(cube, ArmorImagePoints[0], camera)
	assert.ErrorIs(t, err, ErrNotPlanar)

	line := []Vec3{{0, 0, 0}, {10, 0, 0}, {20, 0, 0}, {30, 0, 0}}
	_, err = SolvePlanar(line, ArmorImagePoints[0], camera)
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = SolvePlanar(ArmorObjectPoints, ArmorImagePoints[0], Camera{})
	assert.ErrorIs(t, err, ErrInvalidCamera)
}
