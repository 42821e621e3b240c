package visualmesh

import (
	"gonum.org/v1/gonum/mat"
)

const (
	// Degree is the size of every node's neighbourhood, self included.
	// Slot 0 is the node itself, slots 1..6 are its mesh neighbours.
	Degree = 7
	// InputWidth is the number of colour channels fed to the first group.
	InputWidth = 3
)

// Neighbourhood holds the node indices a mesh node gathers from, in slot order.
type Neighbourhood [Degree]int32

// Tensor is a row-major [N, W] buffer of per-node values.
type Tensor struct {
	N, W int
	Data []float64 // len = N*W
}

func NewTensor(n, w int) Tensor {
	return Tensor{N: n, W: w, Data: make([]float64, n*w)}
}

// Row returns node i's values, aliasing the tensor storage.
func (t Tensor) Row(i int) []float64 {
	return t.Data[i*t.W : (i+1)*t.W]
}

// Slice returns rows [from, to) as a tensor sharing storage with t.
func (t Tensor) Slice(from, to int) Tensor {
	return Tensor{N: to - from, W: t.W, Data: t.Data[from*t.W : to*t.W]}
}

func (t Tensor) Clone() Tensor {
	out := Tensor{N: t.N, W: t.W, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

func (t Tensor) valid() bool {
	return t.N >= 0 && t.W > 0 && len(t.Data) == t.N*t.W
}

// dense wraps the tensor storage as a gonum matrix. gonum rejects empty
// matrices, so callers must check N > 0 first.
func (t Tensor) dense() *mat.Dense {
	return mat.NewDense(t.N, t.W, t.Data)
}
