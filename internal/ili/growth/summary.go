package growth

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ili.report/internal/ili"
)

// TypeSummary describes depth growth rates for one feature type.
type TypeSummary struct {
	Type        ili.FeatureType `json:"feature_type"`
	Count       int             `json:"count"`
	MeanRate    float64         `json:"mean_rate"`
	MedianRate  float64         `json:"median_rate"`
	MaxRate     float64         `json:"max_rate"`
	StdRate     float64         `json:"std_rate"`
	// NegativePct counts rates <= 0, the same test as Record.NegativeGrowth.
	NegativePct float64         `json:"negative_pct"`
}

// Summary aggregates a batch of growth records.
type Summary struct {
	Pairs       int           `json:"pairs"`
	WithRate    int           `json:"with_rate"`
	Negative    int           `json:"negative"`
	Critical    int           `json:"critical"`
	MeanRate    float64       `json:"mean_rate"`
	MaxRate     float64       `json:"max_rate"`
	MaxSeverity float64       `json:"max_severity"`
	ByType      []TypeSummary `json:"by_type"`
}

// Summarize computes batch totals and per-type rate statistics. Records
// without a known depth rate are counted but excluded from the statistics.
func Summarize(records []Record) Summary {
	s := Summary{Pairs: len(records)}
	byType := make(map[ili.FeatureType][]float64)
	var all []float64
	for _, r := range records {
		if r.AlreadyCritical {
			s.Critical++
		}
		if r.NegativeGrowth {
			s.Negative++
		}
		if r.Severity > s.MaxSeverity {
			s.MaxSeverity = r.Severity
		}
		if !r.DepthRate.Valid {
			continue
		}
		all = append(all, r.DepthRate.Value)
		byType[r.A.Type] = append(byType[r.A.Type], r.DepthRate.Value)
	}
	s.WithRate = len(all)
	if len(all) > 0 {
		s.MeanRate = stat.Mean(all, nil)
		s.MaxRate = floats.Max(all)
	}

	types := make([]ili.FeatureType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		s.ByType = append(s.ByType, summarizeRates(t, byType[t]))
	}
	return s
}

func summarizeRates(t ili.FeatureType, rates []float64) TypeSummary {
	sorted := append([]float64(nil), rates...)
	sort.Float64s(sorted)

	ts := TypeSummary{
		Type:     t,
		Count:    len(sorted),
		MeanRate: stat.Mean(sorted, nil),
		MaxRate:  floats.Max(sorted),
	}
	ts.MedianRate = median(sorted)
	if len(sorted) > 1 {
		ts.StdRate = stat.StdDev(sorted, nil)
	}
	neg := 0
	for _, r := range sorted {
		if r <= 0 {
			neg++
		}
	}
	ts.NegativePct = 100 * float64(neg) / float64(len(sorted))
	return ts
}

// median averages the two middle values when the sample size is even.
// sorted must be ascending and non-empty.
func median(sorted []float64) float64 {
	lo := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	n := len(sorted)
	if n%2 == 1 {
		return lo
	}
	hi := stat.Quantile((float64(n/2)+0.5)/float64(n), stat.Empirical, sorted, nil)
	return (lo + hi) / 2
}
