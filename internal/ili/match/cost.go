package match

import (
	"fmt"
	"math"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
)

// Weights are the cost function coefficients.
type Weights struct {
	Distance    float64 `json:"distance"`
	Clock       float64 `json:"clock"`
	Depth       float64 `json:"depth"`
	Size        float64 `json:"size"`
	TypePenalty float64 `json:"type_penalty"`
}

// Params configures gating, cost, thresholding, and confidence.
type Params struct {
	DistTol       float64 `json:"dist_tol"`
	ClockTol      float64 `json:"clock_tol"`
	CostThreshold float64 `json:"cost_threshold"`
	Weights       Weights `json:"weights"`

	SigmaDistance             float64 `json:"sigma_distance"`
	SigmaClock                float64 `json:"sigma_clock"`
	SigmaDepth                float64 `json:"sigma_depth"`
	TypeMismatchFactor        float64 `json:"type_mismatch_factor"`
	OrientationMismatchFactor float64 `json:"orientation_mismatch_factor"`

	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	Gamma            float64 `json:"gamma"`
	NoRunnerUpMargin float64 `json:"no_runner_up_margin"`

	// Parallelism bounds concurrent segment solves. Zero or less means one
	// solve at a time.
	Parallelism int `json:"parallelism"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		DistTol:       10.0,
		ClockTol:      15.0,
		CostThreshold: 15.0,
		Weights: Weights{
			Distance:    1.0,
			Clock:       0.5,
			Depth:       0.1,
			Size:        0.05,
			TypePenalty: 10.0,
		},
		SigmaDistance:             5.0,
		SigmaClock:                15.0,
		SigmaDepth:                10.0,
		TypeMismatchFactor:        0.5,
		OrientationMismatchFactor: 0.5,
		Alpha:                     0.3,
		Beta:                      0.5,
		Gamma:                     0.05,
		NoRunnerUpMargin:          10.0,
		Parallelism:               4,
	}
}

// Validate rejects parameter sets the matcher cannot use.
func (p Params) Validate() error {
	if p.DistTol < 0 || p.ClockTol < 0 {
		return fmt.Errorf("tolerances must be non-negative (dist %.3f, clock %.3f)", p.DistTol, p.ClockTol)
	}
	if p.SigmaDistance <= 0 || p.SigmaClock <= 0 || p.SigmaDepth <= 0 {
		return fmt.Errorf("confidence sigmas must be positive")
	}
	w := p.Weights
	if w.Distance < 0 || w.Clock < 0 || w.Depth < 0 || w.Size < 0 || w.TypePenalty < 0 {
		return fmt.Errorf("cost weights must be non-negative")
	}
	return nil
}

// deltas holds the per-component differences between a candidate pair.
type deltas struct {
	distance float64 // corrected B minus A
	clock    ili.Measure
	depth    ili.Measure // B minus A
	size     ili.Measure // |Δlength| + |Δwidth| over known components
}

func computeDeltas(a ili.Defect, b align.CorrectedDefect) deltas {
	d := deltas{
		distance: b.Corrected.Value - a.Distance,
		clock:    ili.ClockDistance(a.Clock, b.Defect.Clock),
	}
	if a.Depth.Valid && b.Defect.Depth.Valid {
		d.depth = ili.Known(b.Defect.Depth.Value - a.Depth.Value)
	}
	dl := a.Length.Diff(b.Defect.Length)
	dw := a.Width.Diff(b.Defect.Width)
	if dl.Valid || dw.Valid {
		d.size = ili.Known(dl.Or(0) + dw.Or(0))
	}
	return d
}

// gate reports whether a and b may be paired at all.
func gate(a ili.Defect, b align.CorrectedDefect, d deltas, p Params) bool {
	if !b.Corrected.Valid {
		return false
	}
	if math.Abs(d.distance) > p.DistTol {
		return false
	}
	if d.clock.Valid && d.clock.Value > p.ClockTol {
		return false
	}
	if !ili.TypesCompatible(a.Type, b.Defect.Type) {
		return false
	}
	if a.Orientation.Known() && b.Defect.Orientation.Known() && a.Orientation != b.Defect.Orientation {
		return false
	}
	return true
}

// pairCost is the weighted mismatch of a gated pair. Unknown components
// contribute nothing.
func pairCost(a ili.Defect, b ili.Defect, d deltas, w Weights) float64 {
	cost := w.Distance * math.Abs(d.distance)
	if d.clock.Valid {
		cost += w.Clock * d.clock.Value
	}
	if d.depth.Valid {
		cost += w.Depth * math.Abs(d.depth.Value)
	}
	if d.size.Valid {
		cost += w.Size * d.size.Value
	}
	if a.Type != b.Type {
		cost += w.TypePenalty
	}
	return cost
}

// BuildMatrix gates every A×B pair and prices the feasible ones.
func BuildMatrix(as []ili.Defect, bs []align.CorrectedDefect, p Params) [][]Cell {
	matrix := make([][]Cell, len(as))
	for i, a := range as {
		row := make([]Cell, len(bs))
		for j, b := range bs {
			d := computeDeltas(a, b)
			if gate(a, b, d, p) {
				row[j] = Cell{Cost: pairCost(a, b.Defect, d, p.Weights), Feasible: true}
			}
		}
		matrix[i] = row
	}
	return matrix
}
