package match

import (
	"math"

	"github.com/banshee-data/ili.report/internal/ili"
)

// Label buckets a confidence score.
type Label string

const (
	High   Label = "High"
	Medium Label = "Medium"
	Low    Label = "Low"
)

const (
	highConfidence   = 0.7
	mediumConfidence = 0.4
)

// LabelFor maps a confidence score to its label; thresholds are inclusive.
func LabelFor(confidence float64) Label {
	switch {
	case confidence >= highConfidence:
		return High
	case confidence >= mediumConfidence:
		return Medium
	default:
		return Low
	}
}

// Probability is the Gaussian-likelihood match probability of a pair.
func Probability(a, b ili.Defect, d deltas, p Params) float64 {
	z := sq(d.distance / p.SigmaDistance)
	if d.clock.Valid {
		z += sq(d.clock.Value / p.SigmaClock)
	}
	if d.depth.Valid {
		z += sq(d.depth.Value / p.SigmaDepth)
	}
	prob := math.Exp(-z)
	if a.Type != b.Type {
		prob *= p.TypeMismatchFactor
	}
	if a.Orientation != b.Orientation {
		prob *= p.OrientationMismatchFactor
	}
	return prob
}

// Confidence is the logistic score of a paired assignment. It falls as the
// cost or the number of competing candidates rises and grows with the margin
// over the runner-up.
func Confidence(cost, margin float64, candidates int, p Params) float64 {
	z := p.Alpha*(-cost) + p.Beta*margin - p.Gamma*float64(candidates)
	return 1.0 / (1.0 + math.Exp(-z))
}

func sq(x float64) float64 { return x * x }
