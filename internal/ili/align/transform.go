package align

import (
	"sort"

	"github.com/banshee-data/ili.report/internal/ili"
)

// Segment is the affine map for Run B distances between two consecutive
// landmark pairs: a = Scale*b + Shift.
type Segment struct {
	ID         int     `json:"id"`
	StartB     float64 `json:"start_b"`
	EndB       float64 `json:"end_b"`
	StartA     float64 `json:"start_a"`
	EndA       float64 `json:"end_a"`
	Scale      float64 `json:"scale"`
	Shift      float64 `json:"shift"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// Apply maps a Run B distance into Run A's frame.
func (s Segment) Apply(b float64) float64 {
	return s.Scale*b + s.Shift
}

// Transform is an ordered, contiguous set of segments. A Global transform
// holds one offset-only segment applied everywhere.
type Transform struct {
	Segments []Segment `json:"segments"`
	Global   bool      `json:"global"`
}

// Correction is the outcome of mapping one distance.
type Correction struct {
	Distance     ili.Measure
	SegmentID    int
	Extrapolated bool
}

// DeriveTransform builds segments from landmark pairs sorted by distance.
// One pair yields a global offset. Pairs must be non-empty.
func DeriveTransform(pairs []LandmarkPair) Transform {
	if len(pairs) == 1 {
		p := pairs[0]
		return Transform{
			Global: true,
			Segments: []Segment{{
				ID:     0,
				StartB: p.DistanceB, EndB: p.DistanceB,
				StartA: p.DistanceA, EndA: p.DistanceA,
				Scale: 1.0,
				Shift: p.DistanceA - p.DistanceB,
			}},
		}
	}

	segs := make([]Segment, 0, len(pairs)-1)
	for i := 0; i+1 < len(pairs); i++ {
		a0, a1 := pairs[i].DistanceA, pairs[i+1].DistanceA
		b0, b1 := pairs[i].DistanceB, pairs[i+1].DistanceB
		seg := Segment{ID: i, StartB: b0, EndB: b1, StartA: a0, EndA: a1}
		span := b1 - b0
		if span < degenerateSpan && span > -degenerateSpan {
			seg.Scale = 1.0
			seg.Shift = a0 - b0
			seg.Degenerate = true
			opsf("segment %d: Run B span %.3g below %.0e, using offset only", i, span, degenerateSpan)
		} else {
			seg.Scale = (a1 - a0) / span
			seg.Shift = a0 - seg.Scale*b0
		}
		tracef("segment %d: B[%.3f,%.3f] -> A[%.3f,%.3f] scale=%.6f shift=%.4f",
			i, b0, b1, a0, a1, seg.Scale, seg.Shift)
		segs = append(segs, seg)
	}
	return Transform{Segments: segs}
}

// Locate returns the index of the segment whose boundaries contain b. When b
// lies outside every segment, the nearest segment index is returned with
// inside=false. An empty transform returns -1.
func (t Transform) Locate(b float64) (idx int, inside bool) {
	n := len(t.Segments)
	if n == 0 {
		return -1, false
	}
	if t.Global {
		return 0, true
	}
	if b < t.Segments[0].StartB {
		return 0, false
	}
	if b > t.Segments[n-1].EndB {
		return n - 1, false
	}
	i := sort.Search(n, func(i int) bool { return t.Segments[i].StartB > b }) - 1
	return i, true
}

// Correct maps one Run B distance into Run A's frame according to policy.
func (t Transform) Correct(b float64, policy OutOfRangePolicy) Correction {
	idx, inside := t.Locate(b)
	if idx < 0 {
		return Correction{SegmentID: -1}
	}
	if !inside && policy == Reject {
		return Correction{SegmentID: idx}
	}
	return Correction{
		Distance:     ili.Known(t.Segments[idx].Apply(b)),
		SegmentID:    idx,
		Extrapolated: !inside,
	}
}
