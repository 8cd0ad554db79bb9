// Package growth turns matched defect pairs into corrosion growth rates,
// remaining-life estimates, forecasts, and a dig-list severity ranking.
//
// Two-survey analysis works on match records directly. Three or more surveys
// are chained into lineages and fitted with a closed set of growth models,
// the best chosen by AIC.
package growth

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

// ErrInvalidInterval is returned when the time between surveys is not
// positive.
var ErrInvalidInterval = errors.New("years between surveys must be positive")

// Weights are the severity component weights. They are normalised by their
// sum, so only their ratios matter.
type Weights struct {
	Rate  float64 `json:"rate"`
	Depth float64 `json:"depth"`
	Life  float64 `json:"life"`
}

// Params configures the growth engine.
type Params struct {
	YearsBetween  float64 `json:"years_between"`
	CriticalDepth float64 `json:"critical_depth"`
	ForecastYears float64 `json:"forecast_years"`
	Weights       Weights `json:"weights"`

	// AccelerationThreshold is the percent change between the first and
	// last interval rates beyond which a lineage is flagged.
	AccelerationThreshold float64 `json:"acceleration_threshold"`
	// PowerLawOffset shifts time in the power-law model so t=0 is usable.
	PowerLawOffset float64 `json:"power_law_offset"`
}

// DefaultParams returns the production defaults with no survey interval set.
func DefaultParams() Params {
	return Params{
		CriticalDepth:         80.0,
		ForecastYears:         5.0,
		Weights:               Weights{Rate: 0.40, Depth: 0.35, Life: 0.25},
		AccelerationThreshold: 50.0,
		PowerLawOffset:        1.0,
	}
}

// Record is the growth outcome for one matched pair.
type Record struct {
	A         ili.Defect   `json:"a"`
	B         ili.Defect   `json:"b"`
	Status    match.Status `json:"match_status"`
	SegmentID int          `json:"segment_id"`

	DepthRate  ili.Measure `json:"depth_rate_pct_per_yr"`
	LengthRate ili.Measure `json:"length_rate_per_yr"`
	WidthRate  ili.Measure `json:"width_rate_per_yr"`

	NegativeGrowth  bool        `json:"negative_growth"`
	AlreadyCritical bool        `json:"already_critical"`
	RemainingLife   ili.Measure `json:"remaining_life_yr"`
	Severity        float64     `json:"severity"`
	ForecastDepth   ili.Measure `json:"forecast_depth_pct"`
	ForecastYears   float64     `json:"forecast_years"`
}

// Result is the output of Analyze.
type Result struct {
	Records []Record `json:"records"`
	Summary Summary  `json:"summary"`
}

// Analyze computes growth for every MATCHED and UNCERTAIN pair and ranks
// them by severity, highest first.
func Analyze(matches []match.Record, p Params) (*Result, error) {
	if !(p.YearsBetween > 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidInterval, p.YearsBetween)
	}

	var records []Record
	for _, m := range matches {
		if !m.Paired() || m.A == nil || m.B == nil {
			continue
		}
		a, b := *m.A, *m.B
		r := Record{
			A:             a,
			B:             b,
			Status:        m.Status,
			SegmentID:     m.SegmentID,
			DepthRate:     Rate(a.Depth, b.Depth, p.YearsBetween),
			LengthRate:    Rate(a.Length, b.Length, p.YearsBetween),
			WidthRate:     Rate(a.Width, b.Width, p.YearsBetween),
			ForecastYears: p.ForecastYears,
		}
		r.NegativeGrowth = r.DepthRate.Valid && r.DepthRate.Value <= 0
		r.AlreadyCritical = b.Depth.Valid && b.Depth.Value >= p.CriticalDepth
		r.RemainingLife = RemainingLife(b.Depth, r.DepthRate, p.CriticalDepth)
		r.ForecastDepth = Forecast(b.Depth, r.DepthRate, p.ForecastYears)
		records = append(records, r)
	}

	in := make([]severityInput, len(records))
	for i, r := range records {
		in[i] = severityInput{rate: r.DepthRate, depth: r.B.Depth, life: r.RemainingLife}
	}
	scores := severityScores(in, p.Weights)
	for i := range records {
		records[i].Severity = scores[i]
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Severity != records[j].Severity {
			return records[i].Severity > records[j].Severity
		}
		return records[i].A.ID < records[j].A.ID
	})

	res := &Result{Records: records, Summary: Summarize(records)}
	if res.Summary.Negative > 0 {
		opsf("%d of %d pairs show non-positive depth growth", res.Summary.Negative, len(records))
	}
	diagf("growth computed for %d pairs over %.2f years: %d already critical",
		len(records), p.YearsBetween, res.Summary.Critical)
	return res, nil
}

// Rate is (later - earlier) / years, unknown if either reading is unknown.
func Rate(earlier, later ili.Measure, years float64) ili.Measure {
	if !earlier.Valid || !later.Valid || !(years > 0) {
		return ili.Unknown()
	}
	return ili.Known((later.Value - earlier.Value) / years)
}

// RemainingLife estimates years until depth reaches critical. A defect
// already at or past critical has zero life; a non-growing defect has
// infinite life.
func RemainingLife(depth, rate ili.Measure, critical float64) ili.Measure {
	if !depth.Valid {
		return ili.Unknown()
	}
	if depth.Value >= critical {
		return ili.Known(0)
	}
	if !rate.Valid {
		return ili.Unknown()
	}
	if rate.Value <= 0 {
		return ili.Inf()
	}
	return ili.Known((critical - depth.Value) / rate.Value)
}

// Forecast projects depth linearly over years. Non-growing defects keep their
// current depth.
func Forecast(depth, rate ili.Measure, years float64) ili.Measure {
	if !depth.Valid || !rate.Valid {
		return ili.Unknown()
	}
	if rate.Value > 0 {
		return ili.Known(depth.Value + rate.Value*years)
	}
	return depth
}

type severityInput struct {
	rate  ili.Measure
	depth ili.Measure
	life  ili.Measure
}

// flatRange is the min-max span below which a component is treated as
// constant and contributes nothing.
const flatRange = 1e-12

// severityScores returns a 0..100 score per input. Each component is min-max
// normalised over the batch; unknown values count as zero.
func severityScores(in []severityInput, w Weights) []float64 {
	n := len(in)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}
	wsum := w.Rate + w.Depth + w.Life
	if wsum <= 0 {
		return scores
	}

	rates := make([]float64, n)
	depths := make([]float64, n)
	inverse := make([]float64, n)
	critical := make([]bool, n)
	maxInverse := math.Inf(-1)

	for i, s := range in {
		if s.rate.Valid {
			rates[i] = math.Max(s.rate.Value, 0)
		}
		depths[i] = s.depth.Or(0)
		switch {
		case !s.life.Valid || s.life.IsInf():
			inverse[i] = 0
		case s.life.Value <= 0:
			// Zero life is the 1/life limit, so it ranks with the batch's
			// shortest life instead of scoring 0 on this component.
			critical[i] = true
		default:
			inverse[i] = 1 / s.life.Value
			maxInverse = math.Max(maxInverse, inverse[i])
		}
	}
	if math.IsInf(maxInverse, -1) {
		maxInverse = 1
	}
	for i := range inverse {
		if critical[i] {
			inverse[i] = maxInverse
		}
	}

	nr := minMax(rates)
	nd := minMax(depths)
	nl := minMax(inverse)
	for i := range scores {
		scores[i] = 100 * (w.Rate*nr[i] + w.Depth*nd[i] + w.Life*nl[i]) / wsum
	}
	return scores
}

func minMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < flatRange {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
