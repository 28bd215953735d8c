package pose

// Armor plate light bar dimensions in millimetres.
const (
	ArmorWidth  = 135.0
	ArmorHeight = 55.0
	// ArmorDepth is the half thickness used when drawing the plate as a box.
	ArmorDepth = 10.0
)

// ArmorObjectPoints are the plate corners centered on the plate, in the order
// top-left, bottom-left, bottom-right, top-right.
var ArmorObjectPoints = []Vec3{ //nolint:gochecknoglobals
	{-ArmorWidth / 2, ArmorHeight / 2, 0},
	{-ArmorWidth / 2, -ArmorHeight / 2, 0},
	{ArmorWidth / 2, -ArmorHeight / 2, 0},
	{ArmorWidth / 2, ArmorHeight / 2, 0},
}

// ArmorImagePoints are two recorded detections of the plate corners in pixels.
var ArmorImagePoints = [][]Vec2{ //nolint:gochecknoglobals
	{{197.125, 203.125}, {191.25, 231.625}, {235.875, 236.375}, {241.5, 207.375}},
	{{361.5, 241.5}, {366.25, 270.0}, {416.5, 268.0}, {411.5, 239.5}},
}

// ArmorHalfSizes are the half extents of the plate drawn as a box.
func ArmorHalfSizes() Vec3 {
	return Vec3{ArmorWidth / 2, ArmorHeight / 2, ArmorDepth}
}

// DefaultCamera returns the intrinsics the armor detections were recorded
// with. The lens is treated as distortion free.
func DefaultCamera() Camera {
	camera := NewCamera(1600.0, 1705.7, 320.0, 192.0)
	camera.Distortion = make([]float64, 5)
	return camera
}
