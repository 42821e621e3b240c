package dataset

import "github.com/pkg/errors"

var (
	// ErrUnknownGeometry is returned for a geometry shape the projector cannot build.
	ErrUnknownGeometry = errors.New("unknown geometry type")
	// ErrUnknownProjection is returned for an unsupported lens projection.
	ErrUnknownProjection = errors.New("unknown lens projection")
	// ErrProjectorUnavailable is returned when the pipeline is built without a mesh projector.
	ErrProjectorUnavailable = errors.New("mesh projector unavailable")
	// ErrBadProjection is returned when projector output breaks its contract.
	ErrBadProjection = errors.New("projector output is inconsistent")
	// ErrBadExample is returned when an example's per-node arrays disagree.
	ErrBadExample = errors.New("example arrays are inconsistent")
	// ErrNoClasses is returned when no classes are configured.
	ErrNoClasses = errors.New("at least one class is required")
)
