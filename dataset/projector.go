package dataset

import (
	"context"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
)

// ProjectionRequest carries everything the mesh projector needs for one image.
type ProjectionRequest struct {
	Lens Lens
	// Camera to observation plane rotation, row major.
	Orientation [3][3]float64
	// Camera height above the observation plane.
	Height   float64
	Geometry Geometry
}

// Projected is the projector output for one image.
//
// Pixels holds the on-screen nodes as sub-pixel (x, y) coordinates.
// Neighbours has one more row than Pixels: the last row is the off-screen
// node, which neighbours itself in every slot. Slot 0 of every row is the
// node itself, and neighbours that fell off screen point at the off-screen
// node.
type Projected struct {
	Pixels     [][2]float64
	Neighbours []visualmesh.Neighbourhood
}

// Projector maps camera and geometry parameters to a projected mesh.
// The real implementation lives outside this module.
type Projector interface {
	Project(ctx context.Context, req ProjectionRequest) (Projected, error)
}

// ProjectorFunc adapts a function to Projector.
type ProjectorFunc func(ctx context.Context, req ProjectionRequest) (Projected, error)

func (f ProjectorFunc) Project(ctx context.Context, req ProjectionRequest) (Projected, error) {
	return f(ctx, req)
}

// Validate checks the projector output against its contract.
func (p Projected) Validate() error {
	n := len(p.Pixels)
	if len(p.Neighbours) != n+1 {
		return errors.Wrapf(ErrBadProjection, "%d pixels need %d neighbourhoods, got %d", n, n+1, len(p.Neighbours))
	}
	for i, nb := range p.Neighbours {
		for k, j := range nb {
			if j < 0 || int(j) > n {
				return errors.Wrapf(ErrBadProjection, "node %d slot %d points at %d of %d", i, k, j, n+1)
			}
		}
	}
	return nil
}
