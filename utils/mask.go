package utils

import (
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/setanarut/visualmesh/dataset"
)

// MaskStats counts mask pixels per class. Transparent pixels carry no
// weight and are counted apart from opaque pixels that match no class.
type MaskStats struct {
	Total       int
	Transparent int
	Unmatched   int
	// Per class, in class order.
	Counts []int
	// Opaque colours that matched no class, with their pixel counts.
	Unknown map[[3]uint8]int
}

// CountMask tallies every pixel of a label mask against the classes.
func CountMask(mask image.Image, classes dataset.Classes) MaskStats {
	s := MaskStats{Counts: make([]int, len(classes)), Unknown: map[[3]uint8]int{}}
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			s.Total++
			c := color.NRGBAModel.Convert(mask.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				s.Transparent++
				continue
			}
			rgb := [3]uint8{c.R, c.G, c.B}
			if i, ok := classes.Index(rgb); ok {
				s.Counts[i]++
				continue
			}
			s.Unmatched++
			s.Unknown[rgb]++
		}
	}
	return s
}

// Merge adds other's counts into s.
func (s *MaskStats) Merge(other MaskStats) {
	s.Total += other.Total
	s.Transparent += other.Transparent
	s.Unmatched += other.Unmatched
	if len(s.Counts) < len(other.Counts) {
		s.Counts = append(s.Counts, make([]int, len(other.Counts)-len(s.Counts))...)
	}
	for i, n := range other.Counts {
		s.Counts[i] += n
	}
	if s.Unknown == nil {
		s.Unknown = map[[3]uint8]int{}
	}
	for c, n := range other.Unknown {
		s.Unknown[c] += n
	}
}

// PaletteMatch pairs a discovered mask colour with its nearest class.
type PaletteMatch struct {
	Colour colorful.Color
	Class  string
	// Lab distance to the class colour; 0 for an exact match.
	Distance float64
	Exact    bool
}

// MatchPalette finds the nearest class for each palette colour, sorted with
// the worst matches first.
func MatchPalette(palette []colorful.Color, classes dataset.Classes) []PaletteMatch {
	out := make([]PaletteMatch, 0, len(palette))
	for _, col := range palette {
		m := PaletteMatch{Colour: col, Distance: math.Inf(1)}
		r, g, b := col.RGB255()
		for _, c := range classes {
			if d := col.DistanceLab(c.Color()); d < m.Distance {
				m.Class, m.Distance = c.Name, d
			}
			if c.Colour == [3]uint8{r, g, b} {
				m.Class, m.Distance, m.Exact = c.Name, 0, true
				break
			}
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b PaletteMatch) int {
		switch {
		case a.Distance > b.Distance:
			return -1
		case a.Distance < b.Distance:
			return 1
		}
		return 0
	})
	return out
}
