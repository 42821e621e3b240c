// Package hexmesh is a dataset.Projector that lays a flat hexagonal lattice
// over the image. It ignores the camera pose and only uses the lens and the
// geometry to size the lattice, which is enough to drive the pipeline without
// the native mesh generator.
package hexmesh

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"github.com/setanarut/visualmesh/dataset"
)

// MinSpacing is the smallest lattice pitch in pixels.
const MinSpacing = 2.0

type Projector struct {
	// Spacing overrides the pitch derived from the geometry when positive.
	Spacing float64
}

func New() *Projector { return &Projector{} }

// spacing is the pixel pitch that puts Intersections nodes across the object
// when it sits at MaxDistance.
func (p *Projector) spacing(req dataset.ProjectionRequest) float64 {
	if p.Spacing > 0 {
		return p.Spacing
	}
	g := req.Geometry
	apparent := 2 * g.Radius * req.Lens.FocalLength / g.MaxDistance
	return max(MinSpacing, apparent/g.Intersections)
}

// visible reports whether a pixel falls inside the lens image circle.
func visible(l dataset.Lens, x, y float64) bool {
	if l.Projection == dataset.Rectilinear || l.FOV <= 0 {
		return true
	}
	half := l.FOV / 2
	var r float64
	switch l.Projection {
	case dataset.Equidistant:
		r = l.FocalLength * half
	case dataset.Equisolid:
		r = 2 * l.FocalLength * math.Sin(half/2)
	}
	cx, cy := float64(l.Dimensions.X-1)/2, float64(l.Dimensions.Y-1)/2
	return math.Hypot(x-cx, y-cy) <= r
}

// Offsets of the six lattice neighbours for even and odd rows, in the
// order east, west, north west, north east, south west, south east.
var (
	evenRow = [6][2]int{{1, 0}, {-1, 0}, {-1, -1}, {0, -1}, {-1, 1}, {0, 1}}
	oddRow  = [6][2]int{{1, 0}, {-1, 0}, {0, -1}, {1, -1}, {0, 1}, {1, 1}}
)

func (p *Projector) Project(ctx context.Context, req dataset.ProjectionRequest) (dataset.Projected, error) {
	if err := req.Geometry.Validate(); err != nil {
		return dataset.Projected{}, err
	}
	if req.Lens.FocalLength <= 0 {
		return dataset.Projected{}, errors.Errorf("focal length must be positive, got %v", req.Lens.FocalLength)
	}
	w, h := req.Lens.Dimensions.X, req.Lens.Dimensions.Y
	if w <= 0 || h <= 0 {
		return dataset.Projected{}, errors.Errorf("image dimensions %v are empty", req.Lens.Dimensions)
	}

	s := p.spacing(req)
	dy := s * math.Sqrt(3) / 2
	rows := int(float64(h-1)/dy) + 1
	cols := int(float64(w-1)/s) + 1

	// grid holds the node index of each lattice site, -1 when not sampled.
	grid := make([][]int32, rows)
	var pixels [][2]float64
	for j := range rows {
		if err := ctx.Err(); err != nil {
			return dataset.Projected{}, err
		}
		grid[j] = make([]int32, cols)
		shift := 0.0
		if j%2 == 1 {
			shift = s / 2
		}
		y := float64(j) * dy
		for i := range cols {
			x := float64(i)*s + shift
			if math.Round(x) > float64(w-1) || !visible(req.Lens, x, y) {
				grid[j][i] = -1
				continue
			}
			grid[j][i] = int32(len(pixels))
			pixels = append(pixels, [2]float64{x, y})
		}
	}

	n := int32(len(pixels))
	neighbours := make([]visualmesh.Neighbourhood, n+1)
	for j := range rows {
		offsets := evenRow
		if j%2 == 1 {
			offsets = oddRow
		}
		for i := range cols {
			self := grid[j][i]
			if self < 0 {
				continue
			}
			nb := &neighbours[self]
			nb[0] = self
			for k, o := range offsets {
				nb[k+1] = n
				ii, jj := i+o[0], j+o[1]
				if jj >= 0 && jj < rows && ii >= 0 && ii < cols && grid[jj][ii] >= 0 {
					nb[k+1] = grid[jj][ii]
				}
			}
		}
	}
	for k := range visualmesh.Degree {
		neighbours[n][k] = n
	}
	return dataset.Projected{Pixels: pixels, Neighbours: neighbours}, nil
}
