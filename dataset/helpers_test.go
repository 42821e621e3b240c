package dataset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/setanarut/visualmesh"
	"github.com/stretchr/testify/require"
)

var testClasses = Classes{
	{Name: "ball", Colour: [3]uint8{255, 0, 0}},
	{Name: "field", Colour: [3]uint8{0, 255, 0}},
	{Name: "environment", Colour: [3]uint8{0, 0, 0}},
}

func testGeometry() Geometry {
	return Geometry{Shape: ShapeSphere, Radius: 0.0949996, Intersections: 6, MaxDistance: 20}
}

// ringExample builds an example of n nodes, the last being the off-screen
// node, whose neighbourhoods walk forward around the ring.
func ringExample(name string, n int) Example {
	ex := Example{
		Name: name,
		X:    make([][3]uint8, n),
		Y:    make([][4]uint8, n),
		G:    make([]visualmesh.Neighbourhood, n),
		Px:   make([]image.Point, n),
		Raw:  []byte(name),
	}
	for i := range n {
		ex.X[i] = [3]uint8{uint8(i), uint8(10 + i), uint8(20 + i)}
		ex.Y[i] = [4]uint8{255, 0, 0, 255}
		ex.Px[i] = image.Point{X: i, Y: i}
		for k := range visualmesh.Degree {
			ex.G[i][k] = int32((i + k) % n)
		}
	}
	ex.Px[n-1] = OffscreenPixel
	return ex
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// testRecord is a w x h record: the image pixel at (x, y) is (x, y, 7) and
// the mask is the ball colour left of the centre line and field colour right
// of it, fully opaque.
func testRecord(t testing.TB, name string, w, h int) Record {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	mask := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
			if x < w/2 {
				mask.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				mask.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
			}
		}
	}
	return Record{
		Name:        name,
		Image:       encodePNG(t, img),
		Mask:        encodePNG(t, mask),
		Projection:  "RECTILINEAR",
		FocalLength: 100,
		FOV:         1.5,
		Orientation: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Height:      1,
	}
}

// gridProjector samples every pixel on a step grid and links each node to
// its right and lower neighbours, routing the rest to the off-screen node.
func gridProjector(step int) Projector {
	return ProjectorFunc(func(ctx context.Context, req ProjectionRequest) (Projected, error) {
		w, h := req.Lens.Dimensions.X, req.Lens.Dimensions.Y
		cols, rows := (w+step-1)/step, (h+step-1)/step
		n := int32(cols * rows)
		p := Projected{Neighbours: make([]visualmesh.Neighbourhood, n+1)}
		for j := range rows {
			for i := range cols {
				idx := int32(j*cols + i)
				p.Pixels = append(p.Pixels, [2]float64{float64(i * step), float64(j * step)})
				nb := visualmesh.Neighbourhood{idx, n, n, n, n, n, n}
				if i+1 < cols {
					nb[1] = idx + 1
				}
				if j+1 < rows {
					nb[2] = idx + int32(cols)
				}
				p.Neighbours[idx] = nb
			}
		}
		for k := range visualmesh.Degree {
			p.Neighbours[n][k] = n
		}
		return p, nil
	})
}
