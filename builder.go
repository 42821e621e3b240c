package visualmesh

import (
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Standard SELU constants. Trained weights depend on these exact values.
const (
	seluAlpha = 1.6732632423543772848170429916717
	seluScale = 1.0507009873554804934193349852946
)

// Groups describes the network shape. Each group is one gather convolution
// followed by one dense sublayer per listed output width.
type Groups [][]int

// Validate rejects configurations that cannot produce a network.
func (g Groups) Validate() error {
	if len(g) == 0 {
		return ErrNoGroups
	}
	for i, group := range g {
		if len(group) == 0 {
			return errors.Wrapf(ErrEmptyGroup, "group %d", i)
		}
		for j, w := range group {
			if w <= 0 {
				return errors.Wrapf(ErrInvalidWidth, "group %d layer %d has width %d", i, j, w)
			}
		}
	}
	return nil
}

// OutputWidth is the width of the last sublayer of the last group.
func (g Groups) OutputWidth() int {
	if len(g) == 0 || len(g[len(g)-1]) == 0 {
		return 0
	}
	last := g[len(g)-1]
	return last[len(last)-1]
}

type Options struct {
	// Width of the node features entering the first group.
	// Raw pixel colour gives 3.
	InputWidth int
	// Seed for the truncated-normal weight initialisation.
	// The same seed and groups always produce the same weights.
	Seed uint64
	// Goroutines used by the gather step. <= 0 uses GOMAXPROCS.
	Workers int
}

func DefaultOptions() Options {
	return Options{
		InputWidth: InputWidth,
		Seed:       1,
		Workers:    runtime.GOMAXPROCS(0),
	}
}

// Layer is one dense sublayer shared by every node of every example.
type Layer struct {
	In, Out int
	Weights *mat.Dense // [In, Out]
	Biases  []float64  // [Out]
}

type Network struct {
	Groups Groups
	// Layers[g][l] is sublayer l of group g.
	Layers [][]*Layer
	opt    Options
}

// Output holds the per-node results of a forward pass.
type Output struct {
	// Activations of the final sublayer before the softmax.
	Logits Tensor
	// Softmax of Logits along the class axis; every row sums to 1.
	Probabilities Tensor
}

// Build validates groups and allocates every sublayer with freshly
// initialised weights. Shapes are fixed here, so a bad configuration never
// reaches a forward pass.
func Build(groups Groups, opt Options) (*Network, error) {
	if err := groups.Validate(); err != nil {
		return nil, err
	}
	if opt.InputWidth <= 0 {
		return nil, errors.Wrapf(ErrInvalidWidth, "input width %d", opt.InputWidth)
	}
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}

	src := rand.NewPCG(opt.Seed, uint64(len(groups)))
	n := &Network{
		Groups: groups,
		Layers: make([][]*Layer, len(groups)),
		opt:    opt,
	}
	prev := opt.InputWidth
	for g, group := range groups {
		in := Degree * prev
		for _, out := range group {
			n.Layers[g] = append(n.Layers[g], newLayer(in, out, src))
			in = out
		}
		prev = in
	}
	return n, nil
}

func newLayer(in, out int, src rand.Source) *Layer {
	wStd := math.Sqrt(2.0 / float64(in))
	bStd := math.Sqrt(2.0 / float64(out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = TruncatedNormal(0, wStd, src)
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = TruncatedNormal(0, bStd, src)
	}
	return &Layer{In: in, Out: out, Weights: mat.NewDense(in, out, w), Biases: b}
}

// SetWeights replaces the parameters of sublayer l in group g, for loading
// previously trained values. weights is row-major [In, Out].
func (n *Network) SetWeights(g, l int, weights, biases []float64) error {
	if g < 0 || g >= len(n.Layers) || l < 0 || l >= len(n.Layers[g]) {
		return errors.Errorf("no sublayer %d in group %d", l, g)
	}
	layer := n.Layers[g][l]
	if len(weights) != layer.In*layer.Out || len(biases) != layer.Out {
		return errors.Wrapf(ErrShapeMismatch, "group %d layer %d expects [%d, %d] weights and %d biases, got %d and %d",
			g, l, layer.In, layer.Out, layer.Out, len(weights), len(biases))
	}
	layer.Weights = mat.NewDense(layer.In, layer.Out, append([]float64(nil), weights...))
	layer.Biases = append([]float64(nil), biases...)
	return nil
}

func (n *Network) InputWidth() int  { return n.opt.InputWidth }
func (n *Network) OutputWidth() int { return n.Groups.OutputWidth() }

// Forward runs the network over a flattened batch: x is [N, InputWidth] and
// g holds each node's neighbourhood as indices into x.
func (n *Network) Forward(x Tensor, g []Neighbourhood) (Output, error) {
	if !x.valid() || x.W != n.opt.InputWidth {
		return Output{}, errors.Wrapf(ErrShapeMismatch, "input is [%d, %d] with %d values, network expects width %d",
			x.N, x.W, len(x.Data), n.opt.InputWidth)
	}
	if err := checkGraph(x.N, g); err != nil {
		return Output{}, err
	}

	logits := x
	for gi, layers := range n.Layers {
		logits = gather(logits, g, n.opt.Workers)
		for li, layer := range layers {
			var err error
			if logits, err = layer.forward(logits); err != nil {
				return Output{}, errors.Wrapf(err, "group %d layer %d", gi, li)
			}
		}
	}

	probs := logits.Clone()
	for i := range probs.N {
		Softmax(probs.Row(i))
	}
	return Output{Logits: logits, Probabilities: probs}, nil
}

// ForwardPadded runs the network over each example of a padded batch.
// Neighbour indices in g[b] are local to example b. The weights are shared
// across examples, so this matches Forward on the flattened batch.
func (n *Network) ForwardPadded(x []Tensor, g [][]Neighbourhood) ([]Output, error) {
	if len(x) != len(g) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d feature tensors but %d graphs", len(x), len(g))
	}
	out := make([]Output, len(x))
	for b := range x {
		o, err := n.Forward(x[b], g[b])
		if err != nil {
			return nil, errors.Wrapf(err, "example %d", b)
		}
		out[b] = o
	}
	return out, nil
}

func (l *Layer) forward(x Tensor) (Tensor, error) {
	if x.W != l.In {
		return Tensor{}, errors.Wrapf(ErrShapeMismatch, "layer expects width %d, got %d", l.In, x.W)
	}
	out := NewTensor(x.N, l.Out)
	if x.N == 0 {
		return out, nil
	}
	mat.NewDense(x.N, l.Out, out.Data).Mul(x.dense(), l.Weights)
	for i := range out.N {
		row := out.Row(i)
		floats.Add(row, l.Biases)
		for j, v := range row {
			row[j] = SELU(v)
		}
	}
	return out, nil
}

// ============ GATHER CONVOLUTION ============

// GatherConvolution builds each node's neighbourhood block: the feature rows
// of its Degree neighbours concatenated in slot order, giving [N, Degree*W].
func GatherConvolution(x Tensor, g []Neighbourhood) (Tensor, error) {
	if !x.valid() {
		return Tensor{}, errors.Wrapf(ErrShapeMismatch, "input is [%d, %d] with %d values", x.N, x.W, len(x.Data))
	}
	if err := checkGraph(x.N, g); err != nil {
		return Tensor{}, err
	}
	return gather(x, g, runtime.GOMAXPROCS(0)), nil
}

func checkGraph(n int, g []Neighbourhood) error {
	if len(g) != n {
		return errors.Wrapf(ErrShapeMismatch, "%d nodes but %d neighbourhoods", n, len(g))
	}
	for i, nb := range g {
		for k, j := range nb {
			if j < 0 || int(j) >= n {
				return errors.Wrapf(ErrIndexOutOfRange, "node %d slot %d points at %d of %d", i, k, j, n)
			}
		}
	}
	return nil
}

// gather assumes g was checked. Rows only read the previous layer, so
// chunks run in parallel without locking.
func gather(x Tensor, g []Neighbourhood, workers int) Tensor {
	w := x.W
	out := NewTensor(x.N, Degree*w)
	if x.N == 0 {
		return out
	}
	workers = max(1, min(workers, x.N))
	chunk := (x.N + workers - 1) / workers

	// Chunks write disjoint rows of out.
	var wg sync.WaitGroup
	for start := 0; start < x.N; start += chunk {
		end := min(start+chunk, x.N)
		wg.Go(func() {
			for i := start; i < end; i++ {
				dst := out.Row(i)
				for k, j := range g[i] {
					copy(dst[k*w:(k+1)*w], x.Row(int(j)))
				}
			}
		})
	}
	wg.Wait()
	return out
}

// ============ ACTIVATIONS ============

// SELU is the scaled exponential linear unit.
func SELU(v float64) float64 {
	if v > 0 {
		return seluScale * v
	}
	return seluScale * seluAlpha * math.Expm1(v)
}

// Softmax normalises row in place.
func Softmax(row []float64) {
	if len(row) == 0 {
		return
	}
	m := floats.Max(row)
	for i, v := range row {
		row[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(row), row)
}

// TruncatedNormal draws from N(mean, stddev²), redrawing values more than
// two standard deviations from the mean. stddev <= 0 returns mean.
func TruncatedNormal(mean, stddev float64, src rand.Source) float64 {
	if stddev <= 0 {
		return mean
	}
	d := distuv.Normal{Mu: mean, Sigma: stddev, Src: src}
	for {
		if v := d.Rand(); math.Abs(v-mean) <= 2*stddev {
			return v
		}
	}
}
