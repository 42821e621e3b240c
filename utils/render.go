package utils

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"github.com/setanarut/visualmesh/dataset"
	"golang.org/x/image/draw"
)

// RenderOptions control how node predictions are drawn over the image.
type RenderOptions struct {
	// Half width of the square drawn per node.
	Radius int
	// Opacity of the class colour over the image, in [0, 1].
	Opacity float64
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Radius: 1, Opacity: 0.75}
}

// RenderPredictions paints every on-screen node with the class colours mixed
// by its probabilities. probs has one row per node in px and one column per
// class; the off-screen node is skipped.
func RenderPredictions(img image.Image, px []image.Point, probs visualmesh.Tensor, classes dataset.Classes, opt RenderOptions) (*image.NRGBA, error) {
	if probs.N != len(px) {
		return nil, errors.Wrapf(visualmesh.ErrShapeMismatch, "%d prediction rows for %d nodes", probs.N, len(px))
	}
	if probs.W != len(classes) {
		return nil, errors.Wrapf(visualmesh.ErrShapeMismatch, "%d prediction columns for %d classes", probs.W, len(classes))
	}

	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	palette := make([]colorful.Color, len(classes))
	for i, c := range classes {
		palette[i] = c.Color()
	}
	for i, p := range px {
		if p == dataset.OffscreenPixel {
			continue
		}
		var mix colorful.Color
		for c, prob := range probs.Row(i) {
			mix.R += prob * palette[c].R
			mix.G += prob * palette[c].G
			mix.B += prob * palette[c].B
		}
		mix = mix.Clamped()
		for y := p.Y - opt.Radius; y <= p.Y+opt.Radius; y++ {
			for x := p.X - opt.Radius; x <= p.X+opt.Radius; x++ {
				if !(image.Point{X: x, Y: y}).In(out.Rect) {
					continue
				}
				under := out.NRGBAAt(x, y)
				base := colorful.Color{R: float64(under.R) / 255, G: float64(under.G) / 255, B: float64(under.B) / 255}
				r, g, bl := base.BlendRgb(mix, opt.Opacity).Clamped().RGB255()
				out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: bl, A: 255})
			}
		}
	}
	return out, nil
}
