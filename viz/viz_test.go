package viz

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-deploy/pose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// decoded mirrors Record with raw archetype data.
type decoded struct {
	Sequence int64  `json:"sequence"`
	Entity   string `json:"entity"`
	Items    []struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	} `json:"items"`
}

func solveArmor(t *testing.T) pose.Pose {
	t.Helper()
	p, err := pose.SolvePlanar(pose.ArmorObjectPoints, pose.ArmorImagePoints[0], pose.DefaultCamera())
	require.NoError(t, err)
	require.True(t, p.Success)
	return p
}

func TestStreamRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewStreamRecorder(&buf)

	p := solveArmor(t)
	require.NoError(t, rec.Log("base_link", Identity(100)))
	require.NoError(t, rec.Log("armor_0",
		Boxes3D{HalfSizes: []pose.Vec3{pose.ArmorHalfSizes()}, Fill: FillSolid},
		TransformFromPose(p, 100),
	))
	assert.Error(t, rec.Log(""))
	assert.Error(t, rec.Log("armor_1", nil))
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Log("armor_1", Identity(1)), ErrClosed)

	var records []decoded
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var r decoded
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "base_link", records[0].Entity)
	assert.Equal(t, int64(1), records[1].Sequence)
	require.Len(t, records[1].Items, 2)
	assert.Equal(t, "Boxes3D", records[1].Items[0].Kind)
	assert.Equal(t, "Transform3D", records[1].Items[1].Kind)

	var transform Transform3D
	require.NoError(t, json.Unmarshal(records[1].Items[1].Data, &transform))
	assert.InDelta(t, p.Translation[2], transform.Translation[2], 1e-9)
	assert.InDelta(t, p.Quaternion.W, transform.Rotation.W, 1e-9)
}

type countingRecorder struct {
	logs, closes int
}

func (c *countingRecorder) Log(string, ...Archetype) error { c.logs++; return nil }
func (c *countingRecorder) Close() error                   { c.closes++; return nil }

func TestMulti(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	var buf bytes.Buffer
	stream := NewStreamRecorder(&buf)

	rec := Multi(a, stream, b)
	require.NoError(t, rec.Log("base_link", Identity(1)))
	require.NoError(t, stream.Close())

	assert.ErrorIs(t, rec.Log("base_link", Identity(1)), ErrClosed)
	assert.Equal(t, 2, a.logs)
	assert.Equal(t, 2, b.logs)
	require.NoError(t, rec.Close())
	assert.Equal(t, 1, b.closes)
}

func TestBoxCornersAndHull(t *testing.T) {
	corners := boxCorners(pose.Vec3{1, 2, 3}, pose.Vec3{1, 1, 1})
	assert.Equal(t, pose.Vec3{0, 1, 2}, corners[0])
	assert.Equal(t, pose.Vec3{2, 3, 4}, corners[7])
	for _, e := range boxEdges {
		diff := corners[e[0]].Sub(corners[e[1]])
		assert.InDelta(t, 2.0, diff.Norm(), 1e-12)
	}

	hull := convexHull([]image.Point{{0, 0}, {4, 0}, {2, 1}, {4, 4}, {0, 4}, {2, 2}})
	assert.ElementsMatch(t, []image.Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}}, hull)
}

func TestImageRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pose.png")
	camera := pose.DefaultCamera()
	rec, err := NewImageRecorder(path, camera, image.Pt(640, 384))
	require.NoError(t, err)

	p := solveArmor(t)
	green := color.RGBA{G: 200, A: 255}
	require.NoError(t, rec.Log("base_link", Identity(100)))
	require.NoError(t, rec.Log("armor_0",
		Boxes3D{HalfSizes: []pose.Vec3{pose.ArmorHalfSizes()}, Color: green, Fill: FillSolid},
		TransformFromPose(p, 0),
	))
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Log("armor_0", Identity(1)), ErrClosed)

	img := gocv.IMRead(path, gocv.IMReadColor)
	require.False(t, img.Empty())
	defer img.Close()
	assert.Equal(t, 384, img.Rows())
	assert.Equal(t, 640, img.Cols())

	center, ok := camera.Project(p.Translation)
	require.True(t, ok)
	pixel := img.GetVecbAt(int(center[1]), int(center[0]))
	assert.Equal(t, uint8(200), pixel[1])

	_, err = NewImageRecorder(path, camera, image.Pt(0, 10))
	assert.Error(t, err)
}
