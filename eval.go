package visualmesh

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Score summarises predictions against weighted one-hot targets. Rows whose
// target is all zero are unlabeled and are left out.
type Score struct {
	// Weighted fraction of labeled nodes whose most probable class is the target.
	Accuracy float64
	// Weighted mean of -log p(target) over labeled nodes.
	CrossEntropy float64
	// Total weight of the labeled nodes.
	Weight float64
}

// minProbability keeps the log finite for confidently wrong predictions.
const minProbability = 1e-12

// Evaluate scores probabilities against targets with per-node weights.
func Evaluate(probs, targets Tensor, weights []float64) (Score, error) {
	if !probs.valid() || !targets.valid() {
		return Score{}, errors.Wrap(ErrShapeMismatch, "malformed tensor")
	}
	if probs.N != targets.N || probs.W != targets.W || len(weights) != probs.N {
		return Score{}, errors.Wrapf(ErrShapeMismatch, "probabilities %dx%d, targets %dx%d, %d weights",
			probs.N, probs.W, targets.N, targets.W, len(weights))
	}
	var s Score
	var correct, loss float64
	for i, w := range weights {
		target := targets.Row(i)
		if w <= 0 || floats.Sum(target) == 0 {
			continue
		}
		want := floats.MaxIdx(target)
		p := probs.Row(i)
		if floats.MaxIdx(p) == want {
			correct += w
		}
		loss -= w * math.Log(max(p[want], minProbability))
		s.Weight += w
	}
	if s.Weight > 0 {
		s.Accuracy = correct / s.Weight
		s.CrossEntropy = loss / s.Weight
	}
	return s, nil
}
