package dataset

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"
	"github.com/setanarut/visualmesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadBatch(t *testing.T) {
	p, err := PadBatch([]Example{ringExample("a", 2), ringExample("b", 3)})
	require.NoError(t, err)

	assert.Equal(t, 3, p.MaxNodes)
	assert.Equal(t, []int{2, 3}, p.N)
	assert.Equal(t, []bool{true, true, false}, p.M[0])
	assert.Equal(t, []bool{true, true, true}, p.M[1])
	assert.Equal(t, [3]uint8{}, p.X[0][2], "padding is zero")
	assert.Equal(t, visualmesh.Neighbourhood{}, p.G[0][2])
	assert.Equal(t, []int{0, 2}, p.Offsets())
}

func TestFlattenOffsetsGraph(t *testing.T) {
	a, b := ringExample("a", 2), ringExample("b", 3)
	p, err := PadBatch([]Example{a, b})
	require.NoError(t, err)
	f := p.Flatten()

	require.Len(t, f.X, 5)
	require.Len(t, f.G, 5)
	assert.Equal(t, []int{2, 3}, f.N)
	// Node 0 of the second example lands at row 2 and its self-reference
	// moves with it.
	assert.Equal(t, visualmesh.Neighbourhood{2, 3, 4, 2, 3, 4, 2}, f.G[2])
	assert.Equal(t, visualmesh.Neighbourhood{0, 1, 0, 1, 0, 1, 0}, f.G[0])
	assert.Equal(t, b.X[0], f.X[2])
	assert.Equal(t, []string{"a", "b"}, f.Names)
}

func TestPadBatchRejectsBadExample(t *testing.T) {
	ex := ringExample("bad", 3)
	ex.G[1][4] = 9
	_, err := PadBatch([]Example{ex})
	assert.True(t, errors.Is(err, visualmesh.ErrIndexOutOfRange))

	ex = ringExample("short", 3)
	ex.Y = ex.Y[:2]
	_, err = PadBatch([]Example{ex})
	assert.True(t, errors.Is(err, ErrBadExample))
}

func TestFlattenEmptyExample(t *testing.T) {
	empty := Example{Name: "empty"}
	p, err := PadBatch([]Example{ringExample("a", 3), empty, ringExample("b", 2)})
	require.NoError(t, err)
	f := p.Flatten()

	assert.Equal(t, []int{0, 3, 3}, p.Offsets())
	require.Len(t, f.G, 5)
	assert.Equal(t, visualmesh.Neighbourhood{3, 4, 3, 4, 3, 4, 3}, f.G[3])
}

func TestAssemble(t *testing.T) {
	a, b := ringExample("a", 2), ringExample("b", 3)
	b.Y[2] = [4]uint8{1, 2, 3, 255}
	batch, err := Assemble([]Example{a, b}, testClasses, ImageVariants{}, rand.NewPCG(1, 2))
	require.NoError(t, err)

	assert.Equal(t, 5, batch.X.N)
	assert.Equal(t, visualmesh.InputWidth, batch.X.W)
	assert.Equal(t, 3, batch.Y.W)
	assert.InDelta(t, 10.0/255, batch.X.Row(0)[1], 1e-12)
	assert.Equal(t, []float64{1, 0, 0}, batch.Y.Row(3))
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, batch.W)
	assert.Equal(t, 1, batch.Unlabeled())
	assert.Equal(t, []bool{true, true, true, true, false}, batch.Labeled())
	assert.NotEqual(t, batch.ID.String(), "00000000-0000-0000-0000-000000000000")

	parts, err := batch.Split(batch.X)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 2, parts[0].N)
	assert.Equal(t, batch.X.Row(2), parts[1].Row(0))

	_, err = batch.Split(visualmesh.NewTensor(4, 3))
	assert.True(t, errors.Is(err, visualmesh.ErrShapeMismatch))
}

func greyExamples(count, n int) []Example {
	examples := make([]Example, count)
	for e := range examples {
		examples[e] = ringExample("grey", n)
		for i := range examples[e].X {
			examples[e].X[i] = [3]uint8{128, 128, 128}
		}
	}
	return examples
}

func TestAssembleDrawsPerExample(t *testing.T) {
	iv := ImageVariants{Brightness: &Variant{StdDev: 0.2}}
	const n = 3
	batch, err := Assemble(greyExamples(8, n), testClasses, iv, rand.NewPCG(11, 12))
	require.NoError(t, err)

	parts, err := batch.Split(batch.X)
	require.NoError(t, err)
	distinct := map[float64]bool{}
	for _, part := range parts {
		// One draw per example: every node of an example moves together.
		for i := 1; i < part.N; i++ {
			assert.Equal(t, part.Row(0), part.Row(i))
		}
		distinct[part.Row(0)[0]] = true
	}
	assert.Greater(t, len(distinct), 1, "identical examples got identical brightness")
	assert.NotEqual(t, batch.X.Row(0), batch.X.Row(n))
}

func TestAssembleDrawsPerInvocation(t *testing.T) {
	iv := ImageVariants{Brightness: &Variant{StdDev: 0.2}}
	first, err := Assemble(greyExamples(8, 2), testClasses, iv, rand.NewPCG(1, 1))
	require.NoError(t, err)
	second, err := Assemble(greyExamples(8, 2), testClasses, iv, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.NotEqual(t, first.X.Data, second.X.Data)

	again, err := Assemble(greyExamples(8, 2), testClasses, iv, rand.NewPCG(1, 1))
	require.NoError(t, err)
	assert.Equal(t, first.X.Data, again.X.Data, "the same stream reproduces the batch")
}

func TestCheckBatchNodes(t *testing.T) {
	require.NoError(t, checkBatchNodes([]int{math.MaxInt32 - 1, 1}))
	require.NoError(t, checkBatchNodes(nil))

	err := checkBatchNodes([]int{math.MaxInt32, 1})
	assert.True(t, errors.Is(err, visualmesh.ErrIndexOutOfRange), "got %v", err)
	err = checkBatchNodes([]int{1 << 30, 1 << 30, 1 << 30})
	assert.True(t, errors.Is(err, visualmesh.ErrIndexOutOfRange), "got %v", err)
}

func TestAssembleRunsNetwork(t *testing.T) {
	batch, err := Assemble([]Example{ringExample("a", 4), ringExample("b", 6)}, testClasses, ImageVariants{}, rand.NewPCG(3, 4))
	require.NoError(t, err)

	net, err := visualmesh.Build(visualmesh.Groups{{8}, {len(testClasses)}}, visualmesh.DefaultOptions())
	require.NoError(t, err)
	out, err := net.Forward(batch.X, batch.G)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Probabilities.N)
	assert.Equal(t, len(testClasses), out.Probabilities.W)
}

func TestFlattenProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("flattened neighbours equal local neighbours plus offset", prop.ForAll(
		func(sizes []int) bool {
			examples := make([]Example, len(sizes))
			for i, n := range sizes {
				examples[i] = ringExample("ex", n)
			}
			p, err := PadBatch(examples)
			if err != nil {
				return false
			}
			f := p.Flatten()
			offsets := p.Offsets()
			row := 0
			for b, ex := range examples {
				for i := range ex.Len() {
					if f.X[row] != ex.X[i] {
						return false
					}
					for k, j := range ex.G[i] {
						if f.G[row][k] != j+int32(offsets[b]) {
							return false
						}
					}
					row++
				}
			}
			return row == len(f.G)
		},
		gen.SliceOfN(6, gen.IntRange(1, 12)),
	))

	properties.Property("no neighbour leaves its example", prop.ForAll(
		func(sizes []int) bool {
			examples := make([]Example, len(sizes))
			for i, n := range sizes {
				examples[i] = ringExample("ex", n)
			}
			p, err := PadBatch(examples)
			if err != nil {
				return false
			}
			f := p.Flatten()
			offsets := p.Offsets()
			row := 0
			for b, n := range p.N {
				for range n {
					for _, j := range f.G[row] {
						if int(j) < offsets[b] || int(j) >= offsets[b]+n {
							return false
						}
					}
					row++
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(1, 20)),
	))

	properties.TestingRun(t)
}
