// Package viz - Records solved poses as entities for visualization.
//
// An entity is a named path such as "armor_0". Logging archetypes to an
// entity replaces the archetypes of the same kind previously logged to it.
package viz

import (
	"image/color"

	"github.com/nvr-ai/go-ml-deploy/pose"
	"github.com/pkg/errors"
)

// Archetype is a loggable visual element.
type Archetype interface {
	// Kind names the archetype in recorded streams.
	Kind() string
}

// Transform3D places an entity relative to the camera.
type Transform3D struct {
	Translation pose.Vec3       `json:"translation"`
	Rotation    pose.Quaternion `json:"rotation"`
	// AxisLength draws the entity axes when positive.
	AxisLength float64 `json:"axis_length"`
}

// Kind implements Archetype.
func (Transform3D) Kind() string { return "Transform3D" }

// TransformFromPose converts a solved pose into a transform.
func TransformFromPose(p pose.Pose, axisLength float64) Transform3D {
	return Transform3D{Translation: p.Translation, Rotation: p.Quaternion, AxisLength: axisLength}
}

// Identity returns a transform at the origin with the given axis length.
func Identity(axisLength float64) Transform3D {
	return Transform3D{Rotation: pose.Quaternion{W: 1}, AxisLength: axisLength}
}

// FillMode selects how boxes are drawn.
type FillMode string

// FillMode constants.
const (
	FillWireframe FillMode = "wireframe"
	FillSolid     FillMode = "solid"
)

// Boxes3D are boxes centered in the entity frame.
type Boxes3D struct {
	HalfSizes []pose.Vec3 `json:"half_sizes"`
	// Centers offsets each box; missing entries are the origin.
	Centers []pose.Vec3 `json:"centers,omitempty"`
	Color   color.RGBA  `json:"color"`
	Fill    FillMode    `json:"fill"`
}

// Kind implements Archetype.
func (Boxes3D) Kind() string { return "Boxes3D" }

// center returns the center of box i.
func (b Boxes3D) center(i int) pose.Vec3 {
	if i < len(b.Centers) {
		return b.Centers[i]
	}
	return pose.Vec3{}
}

// Recorder receives logged entities.
type Recorder interface {
	Log(entity string, items ...Archetype) error
	Close() error
}

type multi []Recorder

// Multi fans every call out to each recorder. Errors are reported for the
// first recorder that fails; the remaining recorders are still called.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

func (m multi) Log(entity string, items ...Archetype) error {
	var first error
	for _, r := range m {
		if err := r.Log(entity, items...); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ErrClosed is returned when logging to a closed recorder.
var ErrClosed = errors.New("recorder is closed")

// validate rejects empty entity paths and nil archetypes.
func validate(entity string, items []Archetype) error {
	if entity == "" {
		return errors.New("entity path is empty")
	}
	for i, item := range items {
		if item == nil {
			return errors.Errorf("archetype %d of %s is nil", i, entity)
		}
	}
	return nil
}
