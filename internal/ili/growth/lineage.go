package growth

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

// Step is the pairwise matching between two consecutive surveys.
type Step struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	FromTime float64        `json:"from_time"`
	ToTime   float64        `json:"to_time"`
	Matches  []match.Record `json:"-"`
	// ToReference maps a distance in the From survey's frame into the first
	// survey's frame. Nil is the identity.
	ToReference func(float64) float64 `json:"-"`
}

func (s Step) reference(d float64) float64 {
	if s.ToReference == nil {
		return d
	}
	return s.ToReference(d)
}

// Observation is one sighting of a defect within a lineage.
type Observation struct {
	Survey string      `json:"survey"`
	Time   float64     `json:"time"`
	ID     int         `json:"id"`
	Depth  ili.Measure `json:"depth_pct"`
	// Distance is in the reference survey's frame.
	Distance float64         `json:"distance"`
	Type     ili.FeatureType `json:"feature_type"`
}

// Lineage is one physical defect tracked across successive surveys.
type Lineage struct {
	ID           int           `json:"id"`
	Observations []Observation `json:"observations"`
}

// BuildLineages chains pairwise matches into lineages. Pairs from the first
// step seed lineages; later pairs extend the lineage whose latest
// observation is their Run A defect, or start a new one.
func BuildLineages(steps []Step) []Lineage {
	var lineages []Lineage
	type key struct {
		survey string
		id     int
	}
	tail := make(map[key]int)

	for _, step := range steps {
		for _, m := range step.Matches {
			if !m.Paired() || m.A == nil || m.B == nil {
				continue
			}
			bObs := Observation{
				Survey:   step.To,
				Time:     step.ToTime,
				ID:       m.B.ID,
				Depth:    m.B.Depth,
				Distance: step.reference(m.CorrectedDistanceB.Or(m.B.Distance)),
				Type:     m.B.Type,
			}
			if idx, ok := tail[key{step.From, m.A.ID}]; ok {
				lineages[idx].Observations = append(lineages[idx].Observations, bObs)
				delete(tail, key{step.From, m.A.ID})
				tail[key{step.To, m.B.ID}] = idx
				continue
			}
			aObs := Observation{
				Survey:   step.From,
				Time:     step.FromTime,
				ID:       m.A.ID,
				Depth:    m.A.Depth,
				Distance: step.reference(m.A.Distance),
				Type:     m.A.Type,
			}
			lineages = append(lineages, Lineage{
				ID:           len(lineages),
				Observations: []Observation{aObs, bObs},
			})
			tail[key{step.To, m.B.ID}] = len(lineages) - 1
		}
	}
	diagf("built %d lineages across %d steps", len(lineages), len(steps))
	return lineages
}

// Trend classifies how the depth rate changed over a lineage.
type Trend string

const (
	Accelerating Trend = "accelerating"
	Decelerating Trend = "decelerating"
	Stable       Trend = "stable"
)

// Acceleration compares the first and last interval growth rates.
type Acceleration struct {
	EarlyRate float64 `json:"early_rate"`
	LateRate  float64 `json:"late_rate"`
	ChangePct float64 `json:"change_pct"`
	Trend     Trend   `json:"trend"`
	Flag      bool    `json:"flag"`
}

// DetectAcceleration compares the first and last of the interval rates. It
// reports false when fewer than two rates exist or the early rate is not
// positive.
func DetectAcceleration(rates []float64, thresholdPct float64) (Acceleration, bool) {
	if len(rates) < 2 || !(rates[0] > 0) {
		return Acceleration{}, false
	}
	early, late := rates[0], rates[len(rates)-1]
	acc := Acceleration{
		EarlyRate: early,
		LateRate:  late,
		ChangePct: (late - early) / early * 100,
		Trend:     Stable,
	}
	switch {
	case acc.ChangePct > thresholdPct:
		acc.Trend = Accelerating
		acc.Flag = true
	case acc.ChangePct < -thresholdPct:
		acc.Trend = Decelerating
	}
	return acc, true
}

// LineageRecord is the growth outcome for one lineage.
type LineageRecord struct {
	Lineage Lineage `json:"lineage"`
	N       int     `json:"n_runs"`

	BestModel Model `json:"best_model,omitempty"`
	Models    []Fit `json:"models,omitempty"`

	DepthRate       ili.Measure   `json:"depth_rate_pct_per_yr"`
	NegativeGrowth  bool          `json:"negative_growth"`
	AlreadyCritical bool          `json:"already_critical"`
	RemainingLife   ili.Measure   `json:"remaining_life_yr"`
	ForecastDepth   ili.Measure   `json:"forecast_depth_pct"`
	ForecastYears   float64       `json:"forecast_years"`
	Severity        float64       `json:"severity"`
	Acceleration    *Acceleration `json:"acceleration,omitempty"`
}

// LineageResult is the output of AnalyzeLineages.
type LineageResult struct {
	Records      []LineageRecord `json:"records"`
	Accelerating int             `json:"accelerating"`
	FitFailures  int             `json:"fit_failures"`
}

// AnalyzeLineages fits growth models per lineage, derives rate, remaining
// life, forecast and acceleration, and ranks lineages by severity.
func AnalyzeLineages(lineages []Lineage, p Params) (*LineageResult, error) {
	res := &LineageResult{}
	for _, l := range lineages {
		t, y, err := knownSeries(l)
		if err != nil {
			return nil, fmt.Errorf("lineage %d: %w", l.ID, err)
		}
		rec := LineageRecord{Lineage: l, N: len(l.Observations), ForecastYears: p.ForecastYears}

		var depth ili.Measure
		if len(y) > 0 {
			depth = ili.Known(y[len(y)-1])
		}

		switch {
		case len(t) >= 3:
			failures := fitAll(&rec, t, y, p)
			res.FitFailures += failures
		case len(t) == 2:
			rec.BestModel = Linear2pt
			slope := (y[1] - y[0]) / (t[1] - t[0])
			rec.Models = []Fit{{Model: Linear2pt, Params: []float64{y[0] - slope*t[0], slope}}}
		}

		if rec.BestModel != "" {
			fit := rec.Models[0]
			for _, f := range rec.Models {
				if f.Model == rec.BestModel {
					fit = f
				}
			}
			tLast := t[len(t)-1]
			rate := rec.BestModel.Derivative(fit.Params, tLast, p.PowerLawOffset)
			rec.DepthRate = ili.Known(rate)
			rec.NegativeGrowth = rate <= 0
			if rate > 0 {
				rec.ForecastDepth = ili.Known(rec.BestModel.Eval(fit.Params, tLast+p.ForecastYears, p.PowerLawOffset))
			} else {
				rec.ForecastDepth = depth
			}
		}
		rec.AlreadyCritical = depth.Valid && depth.Value >= p.CriticalDepth
		rec.RemainingLife = RemainingLife(depth, rec.DepthRate, p.CriticalDepth)

		if acc, ok := DetectAcceleration(intervalRates(t, y), p.AccelerationThreshold); ok {
			rec.Acceleration = &acc
			if acc.Flag {
				res.Accelerating++
			}
		}
		res.Records = append(res.Records, rec)
	}

	in := make([]severityInput, len(res.Records))
	for i, r := range res.Records {
		var depth ili.Measure
		if obs := r.Lineage.Observations; len(obs) > 0 {
			depth = obs[len(obs)-1].Depth
		}
		in[i] = severityInput{rate: r.DepthRate, depth: depth, life: r.RemainingLife}
	}
	scores := severityScores(in, p.Weights)
	for i := range res.Records {
		res.Records[i].Severity = scores[i]
	}
	sort.SliceStable(res.Records, func(i, j int) bool {
		if res.Records[i].Severity != res.Records[j].Severity {
			return res.Records[i].Severity > res.Records[j].Severity
		}
		return res.Records[i].Lineage.ID < res.Records[j].Lineage.ID
	})

	if res.FitFailures > 0 {
		opsf("%d model fits excluded across %d lineages", res.FitFailures, len(lineages))
	}
	diagf("analysed %d lineages: %d accelerating", len(res.Records), res.Accelerating)
	return res, nil
}

// fitAll fits every variant, records the usable fits, and selects the best.
// When no variant is usable the endpoint line is used instead.
func fitAll(rec *LineageRecord, t, y []float64, p Params) int {
	failures := 0
	for _, m := range Variants {
		f, err := FitModel(m, t, y, p.PowerLawOffset)
		if err != nil {
			failures++
			tracef("lineage %d: %v", rec.Lineage.ID, err)
			continue
		}
		rec.Models = append(rec.Models, f)
	}
	if best, ok := SelectBest(rec.Models); ok {
		rec.BestModel = best.Model
		return failures
	}
	n := len(t) - 1
	slope := (y[n] - y[0]) / (t[n] - t[0])
	rec.BestModel = Linear2pt
	rec.Models = []Fit{{Model: Linear2pt, Params: []float64{y[0] - slope*t[0], slope}}}
	return failures
}

// knownSeries extracts observations with a known depth, with time measured
// from the lineage's first observation.
func knownSeries(l Lineage) ([]float64, []float64, error) {
	var t, y []float64
	if len(l.Observations) == 0 {
		return nil, nil, nil
	}
	t0 := l.Observations[0].Time
	prev := math.Inf(-1)
	for _, o := range l.Observations {
		if !(o.Time > prev) {
			return nil, nil, fmt.Errorf("observation times must increase (%v after %v)", o.Time, prev)
		}
		prev = o.Time
		if !o.Depth.Valid {
			continue
		}
		t = append(t, o.Time-t0)
		y = append(y, o.Depth.Value)
	}
	return t, y, nil
}

func intervalRates(t, y []float64) []float64 {
	if len(t) < 2 {
		return nil
	}
	rates := make([]float64, 0, len(t)-1)
	for i := 1; i < len(t); i++ {
		rates = append(rates, (y[i]-y[i-1])/(t[i]-t[i-1]))
	}
	return rates
}
