package viz

import (
	"image"
	"image/color"
	"sort"
	"sync"

	"github.com/nvr-ai/go-ml-deploy/pose"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Axis colors follow the x red, y green, z blue convention.
var axisColors = [3]color.RGBA{ //nolint:gochecknoglobals
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
}

// boxEdges index the corners produced by boxCorners.
var boxEdges = [12][2]int{ //nolint:gochecknoglobals
	{0, 1}, {1, 3}, {3, 2}, {2, 0},
	{4, 5}, {5, 7}, {7, 6}, {6, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

type entityState struct {
	transform *Transform3D
	boxes     *Boxes3D
}

// ImageRecorder draws logged entities through a camera and writes the image
// on Close.
type ImageRecorder struct {
	mu       sync.Mutex
	path     string
	camera   pose.Camera
	size     image.Point
	entities map[string]*entityState
	closed   bool
}

// NewImageRecorder draws onto a black image of the given size.
//
// Arguments:
//   - path: The image file written on Close. The extension selects the format.
//   - camera: Projects camera-frame points to pixels.
//   - size: The image width and height.
//
// Returns:
//   - *ImageRecorder: The recorder.
//   - error: An error for an invalid camera or size.
func NewImageRecorder(path string, camera pose.Camera, size image.Point) (*ImageRecorder, error) {
	if err := camera.Validate(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid image size %v", size)
	}
	return &ImageRecorder{
		path:     path,
		camera:   camera,
		size:     size,
		entities: make(map[string]*entityState),
	}, nil
}

// Log implements Recorder.
func (r *ImageRecorder) Log(entity string, items ...Archetype) error {
	if err := validate(entity, items); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	state, ok := r.entities[entity]
	if !ok {
		state = &entityState{}
		r.entities[entity] = state
	}
	for _, item := range items {
		switch v := item.(type) {
		case Transform3D:
			state.transform = &v
		case *Transform3D:
			t := *v
			state.transform = &t
		case Boxes3D:
			state.boxes = &v
		case *Boxes3D:
			b := *v
			state.boxes = &b
		default:
			return errors.Errorf("image recorder cannot draw %s", item.Kind())
		}
	}
	return nil
}

// Render draws every entity in name order onto a new image. The caller closes
// the returned Mat.
func (r *ImageRecorder) Render() gocv.Mat {
	r.mu.Lock()
	defer r.mu.Unlock()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), r.size.Y, r.size.X, gocv.MatTypeCV8UC3)

	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := r.entities[name]
		rotation, translation := pose.Identity(), pose.Vec3{}
		if state.transform != nil {
			rotation = state.transform.Rotation.Matrix()
			translation = state.transform.Translation
		}
		toCamera := func(p pose.Vec3) pose.Vec3 { return rotation.MulVec(p).Add(translation) }

		if state.boxes != nil {
			r.drawBoxes(&img, *state.boxes, toCamera)
		}
		if state.transform != nil && state.transform.AxisLength > 0 {
			r.drawAxes(&img, state.transform.AxisLength, toCamera)
		}
		if origin, ok := r.project(translation); ok && state.transform != nil {
			gocv.PutText(&img, name, origin.Add(image.Pt(4, -4)), gocv.FontHersheyPlain, 1.0, color.RGBA{255, 255, 255, 0}, 1)
		}
	}
	return img
}

// Close renders the image and writes it to the recorder path.
func (r *ImageRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	img := r.Render()
	defer img.Close()

	if !gocv.IMWrite(r.path, img) {
		return errors.Errorf("failed to write image %s", r.path)
	}
	return nil
}

func (r *ImageRecorder) project(p pose.Vec3) (image.Point, bool) {
	px, ok := r.camera.Project(p)
	if !ok {
		return image.Point{}, false
	}
	return image.Pt(int(px[0]+0.5), int(px[1]+0.5)), true
}

func (r *ImageRecorder) drawAxes(img *gocv.Mat, length float64, toCamera func(pose.Vec3) pose.Vec3) {
	origin, ok := r.project(toCamera(pose.Vec3{}))
	if !ok {
		return
	}
	for i := 0; i < 3; i++ {
		var end pose.Vec3
		end[i] = length
		tip, ok := r.project(toCamera(end))
		if !ok {
			continue
		}
		gocv.Line(img, origin, tip, axisColors[i], 2)
	}
}

func (r *ImageRecorder) drawBoxes(img *gocv.Mat, boxes Boxes3D, toCamera func(pose.Vec3) pose.Vec3) {
	for i, half := range boxes.HalfSizes {
		corners := boxCorners(boxes.center(i), half)
		points := make([]image.Point, len(corners))
		visible := true
		for j, c := range corners {
			p, ok := r.project(toCamera(c))
			if !ok {
				visible = false
				break
			}
			points[j] = p
		}
		if !visible {
			continue
		}

		if boxes.Fill == FillSolid {
			hull := convexHull(points)
			pv := gocv.NewPointsVectorFromPoints([][]image.Point{hull})
			gocv.FillPoly(img, pv, boxes.Color)
			pv.Close()
			continue
		}
		for _, e := range boxEdges {
			gocv.Line(img, points[e[0]], points[e[1]], boxes.Color, 1)
		}
	}
}

// boxCorners lists the corners with bit 0 selecting x, bit 1 y and bit 2 z.
func boxCorners(center, half pose.Vec3) [8]pose.Vec3 {
	var corners [8]pose.Vec3
	for i := range corners {
		for axis := 0; axis < 3; axis++ {
			sign := -1.0
			if i&(1<<axis) != 0 {
				sign = 1
			}
			corners[i][axis] = center[axis] + sign*half[axis]
		}
	}
	return corners
}

// convexHull returns the hull of points in counter-clockwise order (monotone
// chain).
func convexHull(points []image.Point) []image.Point {
	pts := append([]image.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	if len(pts) < 3 {
		return pts
	}

	cross := func(o, a, b image.Point) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]image.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pts[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pts[i])
	}
	return hull[:len(hull)-1]
}
