package dataset

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"gonum.org/v1/gonum/floats"
)

// PaddedBatch stacks examples padded to the largest node count. Neighbour
// indices are local to each example and M marks the real nodes.
type PaddedBatch struct {
	MaxNodes int
	X        [][][3]uint8                 // [B][MaxNodes]
	Y        [][][4]uint8                 // [B][MaxNodes]
	G        [][]visualmesh.Neighbourhood // [B][MaxNodes]
	Px       [][]image.Point              // [B][MaxNodes]
	M        [][]bool                     // [B][MaxNodes]
	N        []int                        // [B]
	Raw      [][]byte                     // [B]
	Names    []string                     // [B]
}

// PadBatch pads every example to the batch's largest node count. Padding
// nodes are zero valued, so their neighbour indices stay in range.
func PadBatch(examples []Example) (PaddedBatch, error) {
	p := PaddedBatch{
		X:     make([][][3]uint8, len(examples)),
		Y:     make([][][4]uint8, len(examples)),
		G:     make([][]visualmesh.Neighbourhood, len(examples)),
		Px:    make([][]image.Point, len(examples)),
		M:     make([][]bool, len(examples)),
		N:     make([]int, len(examples)),
		Raw:   make([][]byte, len(examples)),
		Names: make([]string, len(examples)),
	}
	for b, ex := range examples {
		if err := ex.Validate(); err != nil {
			return PaddedBatch{}, errors.Wrapf(err, "batch example %d", b)
		}
		p.MaxNodes = max(p.MaxNodes, ex.Len())
		p.N[b] = ex.Len()
	}
	if err := checkBatchNodes(p.N); err != nil {
		return PaddedBatch{}, err
	}
	for b, ex := range examples {
		n := p.N[b]
		p.X[b] = append(make([][3]uint8, 0, p.MaxNodes), ex.X...)[:p.MaxNodes]
		p.Y[b] = append(make([][4]uint8, 0, p.MaxNodes), ex.Y...)[:p.MaxNodes]
		p.G[b] = append(make([]visualmesh.Neighbourhood, 0, p.MaxNodes), ex.G...)[:p.MaxNodes]
		p.Px[b] = append(make([]image.Point, 0, p.MaxNodes), ex.Px...)[:p.MaxNodes]
		p.M[b] = make([]bool, p.MaxNodes)
		for i := range n {
			p.M[b][i] = true
		}
		p.Raw[b] = ex.Raw
		p.Names[b] = ex.Name
	}
	return p, nil
}

// checkBatchNodes rejects batches whose flattened indices would not fit in a
// Neighbourhood entry.
func checkBatchNodes(counts []int) error {
	total := 0
	for _, n := range counts {
		if n > math.MaxInt32-total {
			return errors.Wrapf(visualmesh.ErrIndexOutOfRange, "batch exceeds %d nodes", math.MaxInt32)
		}
		total += n
	}
	return nil
}

// Offsets is the exclusive prefix sum of the real node counts: the position
// of each example's first node once the batch is flattened.
func (p PaddedBatch) Offsets() []int {
	offsets := make([]int, len(p.N))
	total := 0
	for b, n := range p.N {
		offsets[b] = total
		total += n
	}
	return offsets
}

// OffsetGraph adds each example's offset to all of its neighbour indices,
// padding included, turning local indices into flattened ones.
func (p PaddedBatch) OffsetGraph() [][]visualmesh.Neighbourhood {
	offsets := p.Offsets()
	out := make([][]visualmesh.Neighbourhood, len(p.G))
	for b, g := range p.G {
		off := int32(offsets[b])
		out[b] = make([]visualmesh.Neighbourhood, len(g))
		for i, nb := range g {
			for k, j := range nb {
				out[b][i][k] = j + off
			}
		}
	}
	return out
}

// FlatBatch is the padding-free concatenation of a batch's examples.
// G indexes into the flattened node order.
type FlatBatch struct {
	X     [][3]uint8
	Y     [][4]uint8
	G     []visualmesh.Neighbourhood
	Px    []image.Point
	N     []int
	Raw   [][]byte
	Names []string
}

// Flatten keeps only the nodes marked in M, in batch then node order, with
// neighbour indices shifted by OffsetGraph.
func (p PaddedBatch) Flatten() FlatBatch {
	total := 0
	for _, n := range p.N {
		total += n
	}
	g := p.OffsetGraph()
	f := FlatBatch{
		X:     make([][3]uint8, 0, total),
		Y:     make([][4]uint8, 0, total),
		G:     make([]visualmesh.Neighbourhood, 0, total),
		Px:    make([]image.Point, 0, total),
		N:     p.N,
		Raw:   p.Raw,
		Names: p.Names,
	}
	for b, mask := range p.M {
		for i, ok := range mask {
			if !ok {
				continue
			}
			f.X = append(f.X, p.X[b][i])
			f.Y = append(f.Y, p.Y[b][i])
			f.G = append(f.G, g[b][i])
			f.Px = append(f.Px, p.Px[b][i])
		}
	}
	return f
}

// Batch is a flattened batch ready for the network.
type Batch struct {
	ID uuid.UUID
	// Node colours in [0, 1], [N, 3].
	X visualmesh.Tensor
	// One-hot class targets, [N, C].
	Y visualmesh.Tensor
	// Per-node loss weights from the mask alpha, [N]. Opaque nodes whose
	// colour matches no class keep their weight with an all-zero Y row, so a
	// loss must also check Labeled.
	W  []float64
	G  []visualmesh.Neighbourhood
	N  []int
	Px []image.Point
	// Encoded source images, [B].
	Raw   [][]byte
	Names []string
}

// Offsets returns the first flattened node of each example.
func (b Batch) Offsets() []int {
	offsets := make([]int, len(b.N))
	total := 0
	for i, n := range b.N {
		offsets[i] = total
		total += n
	}
	return offsets
}

// Split cuts a per-node tensor of this batch back into one tensor per example.
func (b Batch) Split(t visualmesh.Tensor) ([]visualmesh.Tensor, error) {
	offsets := b.Offsets()
	total := 0
	for _, n := range b.N {
		total += n
	}
	if t.N != total {
		return nil, errors.Wrapf(visualmesh.ErrShapeMismatch, "tensor has %d rows, batch has %d nodes", t.N, total)
	}
	out := make([]visualmesh.Tensor, len(b.N))
	for i, n := range b.N {
		out[i] = t.Slice(offsets[i], offsets[i]+n)
	}
	return out, nil
}

// Assemble pads, offsets and flattens examples, expands their classes and
// applies the photometric variants to each example with its own draws.
func Assemble(examples []Example, classes Classes, iv ImageVariants, src rand.Source) (Batch, error) {
	padded, err := PadBatch(examples)
	if err != nil {
		return Batch{}, err
	}
	flat := padded.Flatten()
	labels, weights := classes.Expand(flat.Y)

	x := visualmesh.NewTensor(len(flat.X), visualmesh.InputWidth)
	start := 0
	for _, n := range flat.N {
		colours := iv.Apply(flat.X[start:start+n], src)
		for i, c := range colours {
			row := x.Row(start + i)
			for ch := range 3 {
				row[ch] = toFloat(c[ch])
			}
		}
		start += n
	}

	return Batch{
		ID:    uuid.New(),
		X:     x,
		Y:     labels,
		W:     weights,
		G:     flat.G,
		N:     flat.N,
		Px:    flat.Px,
		Raw:   flat.Raw,
		Names: flat.Names,
	}, nil
}

// Labeled marks the nodes whose mask colour matched a class.
func (b Batch) Labeled() []bool {
	out := make([]bool, b.Y.N)
	for i := range out {
		out[i] = floats.Sum(b.Y.Row(i)) > 0
	}
	return out
}

// Unlabeled counts weighted nodes whose mask colour matched no class.
func (b Batch) Unlabeled() int {
	count := 0
	for i, labeled := range b.Labeled() {
		if !labeled && b.W[i] != 0 {
			count++
		}
	}
	return count
}
