package dataset

import (
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
)

// Class is a label whose nodes are painted with one exact colour in the mask.
type Class struct {
	Name   string
	Colour [3]uint8
}

func (c Class) Color() colorful.Color {
	return colorful.Color{R: toFloat(c.Colour[0]), G: toFloat(c.Colour[1]), B: toFloat(c.Colour[2])}
}

// Classes is the ordered class set; a class's position is its output column.
type Classes []Class

func (cs Classes) Validate() error {
	if len(cs) == 0 {
		return ErrNoClasses
	}
	names := make(map[string]bool, len(cs))
	colours := make(map[[3]uint8]string, len(cs))
	for _, c := range cs {
		if c.Name == "" {
			return errors.New("class name must not be empty")
		}
		if names[c.Name] {
			return errors.Errorf("class %q is listed twice", c.Name)
		}
		if other, ok := colours[c.Colour]; ok {
			return errors.Errorf("classes %q and %q share colour %v", other, c.Name, c.Colour)
		}
		names[c.Name] = true
		colours[c.Colour] = c.Name
	}
	return nil
}

// Index returns the class whose colour is exactly rgb.
func (cs Classes) Index(rgb [3]uint8) (int, bool) {
	for i, c := range cs {
		if c.Colour == rgb {
			return i, true
		}
	}
	return -1, false
}

// Expand turns sampled mask values into one-hot class rows and alpha
// weights. A node whose colour matches no class gets an all-zero row and
// must be excluded from the loss through its weight.
func (cs Classes) Expand(y [][4]uint8) (visualmesh.Tensor, []float64) {
	labels := visualmesh.NewTensor(len(y), len(cs))
	weights := make([]float64, len(y))
	for i, v := range y {
		if c, ok := cs.Index([3]uint8{v[0], v[1], v[2]}); ok {
			labels.Row(i)[c] = 1
		}
		weights[i] = toFloat(v[3])
	}
	return labels, weights
}
