package dataset

import (
	"image"
	"strings"

	"github.com/pkg/errors"
)

// Shape is the scene geometry the mesh is generated for.
type Shape string

const (
	ShapeCircle   Shape = "CIRCLE"
	ShapeSphere   Shape = "SPHERE"
	ShapeCylinder Shape = "CYLINDER"
)

// Geometry describes the object the mesh is sized for.
type Geometry struct {
	Shape Shape
	// Cylinder height. Unused for circles and spheres.
	Height float64
	Radius float64
	// Number of mesh intersections wanted with the object.
	Intersections float64
	// Furthest distance at which the object should still be sampled.
	MaxDistance float64
}

// NewGeometry validates a geometry description. An unknown shape or missing
// parameter is a configuration error and must stop pipeline construction.
func NewGeometry(shape string, radius, intersections, maxDistance, height float64) (Geometry, error) {
	g := Geometry{
		Shape:         Shape(strings.ToUpper(strings.TrimSpace(shape))),
		Height:        height,
		Radius:        radius,
		Intersections: intersections,
		MaxDistance:   maxDistance,
	}
	return g, g.Validate()
}

func (g Geometry) Validate() error {
	switch g.Shape {
	case ShapeCircle, ShapeSphere:
	case ShapeCylinder:
		if g.Height <= 0 {
			return errors.Errorf("cylinder height must be positive, got %v", g.Height)
		}
	default:
		return errors.Wrapf(ErrUnknownGeometry, "%q", g.Shape)
	}
	if g.Radius <= 0 {
		return errors.Errorf("%s radius must be positive, got %v", g.Shape, g.Radius)
	}
	if g.Intersections <= 0 {
		return errors.Errorf("%s intersections must be positive, got %v", g.Shape, g.Intersections)
	}
	if g.MaxDistance <= 0 {
		return errors.Errorf("%s max distance must be positive, got %v", g.Shape, g.MaxDistance)
	}
	return nil
}

// Params packs the geometry in the fixed order the projector expects:
// [radius, intersections, max_distance] for circles and spheres and
// [height, radius, intersections, max_distance] for cylinders.
func (g Geometry) Params() []float64 {
	if g.Shape == ShapeCylinder {
		return []float64{g.Height, g.Radius, g.Intersections, g.MaxDistance}
	}
	return []float64{g.Radius, g.Intersections, g.MaxDistance}
}

// Projection is a lens model.
type Projection string

const (
	Equisolid   Projection = "EQUISOLID"
	Equidistant Projection = "EQUIDISTANT"
	Rectilinear Projection = "RECTILINEAR"
)

func ParseProjection(s string) (Projection, error) {
	p := Projection(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case Equisolid, Equidistant, Rectilinear:
		return p, nil
	}
	return "", errors.Wrapf(ErrUnknownProjection, "%q", s)
}

// Lens is the camera model of one record.
type Lens struct {
	Projection  Projection
	FocalLength float64
	FOV         float64
	// Image size in pixels.
	Dimensions image.Point
}
