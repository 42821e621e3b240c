package dataset

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Record is one undecoded training sample.
type Record struct {
	Name string
	// Encoded colour image (png, jpeg, gif, bmp or webp).
	Image []byte
	// Encoded RGBA label mask of the same size as Image.
	Mask        []byte
	Projection  string
	FocalLength float64
	FOV         float64
	// Mesh orientation, row major.
	Orientation [3][3]float64
	Height      float64
}

// Example is one projected image. Every per-node slice has the same length;
// the last node is the off-screen node.
type Example struct {
	Name string
	X    [][3]uint8
	Y    [][4]uint8
	G    []visualmesh.Neighbourhood
	// Pixel each node was sampled from; (-1, -1) for the off-screen node.
	Px []image.Point
	// Encoded source image, kept for visualisation.
	Raw []byte
}

// Len is the example's node count including the off-screen node.
func (e Example) Len() int { return len(e.X) }

// Validate checks that the per-node arrays agree and that neighbour indices
// stay inside the example.
func (e Example) Validate() error {
	n := len(e.X)
	if len(e.Y) != n || len(e.G) != n || len(e.Px) != n {
		return errors.Wrapf(ErrBadExample, "%s: X=%d Y=%d G=%d Px=%d", e.Name, n, len(e.Y), len(e.G), len(e.Px))
	}
	for i, nb := range e.G {
		for k, j := range nb {
			if j < 0 || int(j) >= n {
				return errors.Wrapf(visualmesh.ErrIndexOutOfRange, "%s: node %d slot %d points at %d of %d", e.Name, i, k, j, n)
			}
		}
	}
	return nil
}

// OffscreenPixel marks the node that stands in for every off-screen neighbour.
var OffscreenPixel = image.Point{X: -1, Y: -1}

// ProjectRecord decodes a record, applies the geometric variants, projects
// the mesh and samples the image and mask at every node.
func ProjectRecord(ctx context.Context, p Projector, geo Geometry, mv MeshVariants, r Record, src rand.Source) (Example, error) {
	projection, err := ParseProjection(r.Projection)
	if err != nil {
		return Example{}, errors.Wrapf(err, "record %s", r.Name)
	}
	img, err := DecodeImage(r.Image)
	if err != nil {
		return Example{}, errors.Wrapf(err, "record %s: decoding image", r.Name)
	}
	mask, err := DecodeImage(r.Mask)
	if err != nil {
		return Example{}, errors.Wrapf(err, "record %s: decoding mask", r.Name)
	}
	size := img.Bounds().Size()
	if mask.Bounds().Size() != size {
		return Example{}, errors.Wrapf(visualmesh.ErrShapeMismatch, "record %s: image is %v but mask is %v",
			r.Name, size, mask.Bounds().Size())
	}

	height, orientation := mv.Apply(r.Height, r.Orientation, src)
	projected, err := p.Project(ctx, ProjectionRequest{
		Lens: Lens{
			Projection:  projection,
			FocalLength: r.FocalLength,
			FOV:         r.FOV,
			Dimensions:  size,
		},
		Orientation: orientation,
		Height:      height,
		Geometry:    geo,
	})
	if err != nil {
		return Example{}, errors.Wrapf(err, "record %s: projecting mesh", r.Name)
	}
	if err := projected.Validate(); err != nil {
		return Example{}, errors.Wrapf(err, "record %s", r.Name)
	}

	// One extra zero row for the off-screen node.
	n := len(projected.Pixels)
	ex := Example{
		Name: r.Name,
		X:    make([][3]uint8, n+1),
		Y:    make([][4]uint8, n+1),
		G:    projected.Neighbours,
		Px:   make([]image.Point, n+1),
		Raw:  r.Image,
	}
	ib, mb := img.Bounds(), mask.Bounds()
	for i, px := range projected.Pixels {
		pt := image.Point{X: int(math.Round(px[0])), Y: int(math.Round(px[1]))}
		if pt.X < 0 || pt.Y < 0 || pt.X >= size.X || pt.Y >= size.Y {
			return Example{}, errors.Wrapf(ErrBadProjection, "record %s: node %d at %v is outside %v", r.Name, i, pt, size)
		}
		c := img.NRGBAAt(ib.Min.X+pt.X, ib.Min.Y+pt.Y)
		m := mask.NRGBAAt(mb.Min.X+pt.X, mb.Min.Y+pt.Y)
		ex.X[i] = [3]uint8{c.R, c.G, c.B}
		ex.Y[i] = [4]uint8{m.R, m.G, m.B, m.A}
		ex.Px[i] = pt
	}
	ex.Px[n] = OffscreenPixel
	return ex, nil
}

// DecodeImage decodes a png, jpeg, gif, bmp or webp image into straight
// (non-premultiplied) RGBA, which the label weights are read from.
func DecodeImage(data []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}
