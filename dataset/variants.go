package dataset

import (
	"math"
	"math/rand/v2"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/setanarut/visualmesh"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Variant is a random perturbation drawn from a truncated normal
// distribution. A nil Variant or a zero StdDev disables it.
type Variant struct {
	Mean   float64 `mapstructure:"mean" yaml:"mean"`
	StdDev float64 `mapstructure:"stddev" yaml:"stddev"`
}

func (v *Variant) Enabled() bool {
	return v != nil && v.StdDev > 0
}

func (v *Variant) draw(src rand.Source) float64 {
	return visualmesh.TruncatedNormal(v.Mean, v.StdDev, src)
}

// ============ GEOMETRIC ============

// MeshVariants perturb the projection inputs, so they run before the mesh is
// projected.
type MeshVariants struct {
	Height   *Variant `mapstructure:"height" yaml:"height"`
	Rotation *Variant `mapstructure:"rotation" yaml:"rotation"`
	// Use the second and third angles for their own sine terms. Off keeps the
	// rotation that existing trained weights were produced with.
	IndependentRotation bool `mapstructure:"independent_rotation" yaml:"independent_rotation"`
}

// Apply returns the perturbed mesh height and orientation.
func (m MeshVariants) Apply(height float64, orientation [3][3]float64, src rand.Source) (float64, [3][3]float64) {
	if m.Height.Enabled() {
		height += m.Height.draw(src)
	}
	if m.Rotation.Enabled() {
		angles := [3]float64{m.Rotation.draw(src), m.Rotation.draw(src), m.Rotation.draw(src)}
		var out mat.Dense
		out.Mul(RotationMatrix(angles, m.IndependentRotation), matrix3(orientation))
		for i := range 3 {
			for j := range 3 {
				orientation[i][j] = out.At(i, j)
			}
		}
	}
	return height, orientation
}

// RotationMatrix builds the small-angle perturbation rotation from three
// angles. Unless independent is set, the sines of the second and third
// terms reuse the first angle; trained models depend on that form.
func RotationMatrix(angles [3]float64, independent bool) *mat.Dense {
	ca, sa := math.Cos(angles[0]), math.Sin(angles[0])
	cb, sb := math.Cos(angles[1]), math.Sin(angles[0])
	cc, sc := math.Cos(angles[2]), math.Sin(angles[0])
	if independent {
		sb = math.Sin(angles[1])
		sc = math.Sin(angles[2])
	}
	return mat.NewDense(3, 3, []float64{
		cc * ca, -cc*sa*cb + sc*sb, cc*sa*sb + sc*cb,
		sa, ca * cb, -ca * sb,
		-sc * ca, sc*sa*cb + cc*sb, -sc*sa*sb + cc*cb,
	})
}

func matrix3(m [3][3]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// ============ PHOTOMETRIC ============

// ImageVariants perturb the sampled node colours after projection.
type ImageVariants struct {
	Brightness *Variant `mapstructure:"brightness" yaml:"brightness"`
	Contrast   *Variant `mapstructure:"contrast" yaml:"contrast"`
	Hue        *Variant `mapstructure:"hue" yaml:"hue"`
	Saturation *Variant `mapstructure:"saturation" yaml:"saturation"`
	Gamma      *Variant `mapstructure:"gamma" yaml:"gamma"`
}

func (v ImageVariants) Enabled() bool {
	return v.Brightness.Enabled() || v.Contrast.Enabled() || v.Hue.Enabled() ||
		v.Saturation.Enabled() || v.Gamma.Enabled()
}

// Apply returns a perturbed copy of one example's node colours. Each enabled
// adjustment takes a single fresh draw and is applied in the order
// brightness, contrast, hue, saturation, gamma.
func (v ImageVariants) Apply(x [][3]uint8, src rand.Source) [][3]uint8 {
	out := make([][3]uint8, len(x))
	if !v.Enabled() || len(x) == 0 {
		copy(out, x)
		return out
	}

	// Channel-major so each channel is one contiguous slice.
	var ch [3][]float64
	for c := range 3 {
		ch[c] = make([]float64, len(x))
		for i, px := range x {
			ch[c][i] = toFloat(px[c])
		}
	}

	if v.Brightness.Enabled() {
		delta := v.Brightness.draw(src)
		for c := range 3 {
			floats.AddConst(delta, ch[c])
		}
	}
	if v.Contrast.Enabled() {
		factor := v.Contrast.draw(src)
		for c := range 3 {
			mean := floats.Sum(ch[c]) / float64(len(x))
			for i, f := range ch[c] {
				ch[c][i] = (f-mean)*factor + mean
			}
		}
	}
	if v.Hue.Enabled() {
		delta := v.Hue.draw(src) * 360
		adjustHSV(ch, func(h, s, val float64) (float64, float64, float64) {
			h = math.Mod(h+delta, 360)
			if h < 0 {
				h += 360
			}
			return h, s, val
		})
	}
	if v.Saturation.Enabled() {
		factor := v.Saturation.draw(src)
		adjustHSV(ch, func(h, s, val float64) (float64, float64, float64) {
			return h, max(0, min(1, s*factor)), val
		})
	}
	if v.Gamma.Enabled() {
		gamma := v.Gamma.draw(src)
		for c := range 3 {
			for i, f := range ch[c] {
				ch[c][i] = math.Pow(max(f, 0), gamma)
			}
		}
	}

	for i := range out {
		out[i] = [3]uint8{toUint8(ch[0][i]), toUint8(ch[1][i]), toUint8(ch[2][i])}
	}
	return out
}

func adjustHSV(ch [3][]float64, fn func(h, s, v float64) (float64, float64, float64)) {
	for i := range ch[0] {
		h, s, v := colorful.Color{R: ch[0][i], G: ch[1][i], B: ch[2][i]}.Hsv()
		c := colorful.Hsv(fn(h, s, v))
		ch[0][i], ch[1][i], ch[2][i] = c.R, c.G, c.B
	}
}

// toFloat maps a channel value onto [0, 1].
func toFloat(v uint8) float64 {
	return float64(v) / 255
}

// toUint8 is the inverse of toFloat: it saturates to [0, 1] and scales by
// 255.5 before truncating, so toUint8(toFloat(v)) == v for every v.
func toUint8(f float64) uint8 {
	if math.IsNaN(f) {
		return 0
	}
	return uint8(min(255, max(0, min(1, f))*255.5))
}
