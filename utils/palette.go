package utils

import (
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "dominantcolor", "":
		return PaletteMethodDominantColor, nil
	case "kmeans":
		return PaletteMethodKMeans, nil
	}
	return 0, errors.Errorf("unknown palette method %q", s)
}

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

// SortPaletteByBrightness orders colors from darkest to brightest.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortFunc(palette, func(a, b colorful.Color) int {
		ri, gi, bi := a.LinearRgb()
		rj, gj, bj := b.LinearRgb()
		yi := 0.2126*ri + 0.7152*gi + 0.0722*bi
		yj := 0.2126*rj + 0.7152*gj + 0.0722*bj
		switch {
		case yi < yj:
			return -1
		case yi > yj:
			return 1
		}
		return 0
	})
}

// ExtractDominantPalette finds up to k distinct colours weighted by coverage.
func ExtractDominantPalette(img image.Image, k int) []colorful.Color {
	if k <= 0 {
		return nil
	}
	candidates := dominantcolor.FindWeight(img, max(24, k*8))
	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: c.Weight})
	}
	return selectDiverse(weighted, k)
}

// selectDiverse picks k colours greedily: the heaviest first, then whichever
// candidate is furthest in Lab space from everything picked so far, biased
// towards heavier candidates.
func selectDiverse(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))
	maxW := 0.0
	for i := range cands {
		cands[i].Weight = max(cands[i].Weight, 1e-6)
		maxW = max(maxW, cands[i].Weight)
	}

	picked := make([]int, 0, k)
	used := make([]bool, len(cands))
	seed := 0
	for i, c := range cands {
		if c.Weight > cands[seed].Weight {
			seed = i
		}
	}
	picked = append(picked, seed)
	used[seed] = true

	for len(picked) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if used[i] {
				continue
			}
			nearest := math.MaxFloat64
			for _, s := range picked {
				nearest = min(nearest, c.Col.DistanceLab(cands[s].Col))
			}
			score := nearest * (0.55 + 0.45*math.Sqrt(c.Weight/maxW))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, best)
	}

	out := make([]colorful.Color, len(picked))
	for i, idx := range picked {
		out[i] = cands[idx].Col
	}
	return out
}

// maxKMeansSamples bounds the number of pixels clustered.
const maxKMeansSamples = 12000

// ExtractKMeansPalette clusters opaque pixels and returns up to k of the
// cluster centres, most populated first.
func ExtractKMeansPalette(img image.Image, k int) ([]colorful.Color, error) {
	if k <= 0 {
		return nil, nil
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil, nil
	}
	step := 1
	if width*height > maxKMeansSamples {
		step = int(math.Sqrt(float64(width*height)/maxKMeansSamples)) + 1
	}

	observations := make(clusters.Observations, 0, min(width*height, maxKMeansSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			observations = append(observations, clusters.Coordinates{
				float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255,
			})
		}
	}
	if len(observations) == 0 {
		return nil, nil
	}

	cc, err := kmeans.New().Partition(observations, min(max(k*4, k+2), len(observations)))
	if err != nil {
		return nil, errors.Wrap(err, "clustering palette")
	}
	slices.SortFunc(cc, func(a, b clusters.Cluster) int {
		return len(b.Observations) - len(a.Observations)
	})

	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: c.Center[0], G: c.Center[1], B: c.Center[2]}.Clamped()
		weighted = append(weighted, weightedColor{Col: col, Weight: float64(len(c.Observations))})
	}
	return selectDiverse(weighted, k), nil
}

// ExtractPalette runs the chosen method, falling back to dominant colours
// when clustering yields nothing.
func ExtractPalette(img image.Image, k int, method PaletteMethod, logger *zap.Logger) []colorful.Color {
	if logger == nil {
		logger = zap.NewNop()
	}
	if method == PaletteMethodKMeans {
		p, err := ExtractKMeansPalette(img, k)
		if err == nil && len(p) != 0 {
			return p
		}
		logger.Warn("KMeans palette empty, falling back to dominant colours", zap.Error(err))
	}
	return ExtractDominantPalette(img, k)
}
