// Package align maps one survey's odometer distances onto a reference
// survey's distances using landmarks both surveys recorded.
//
// Landmarks are paired by joint number where possible and by spacing-checked
// sequence otherwise. Each consecutive landmark pair defines one segment with
// its own affine transform, exact at both ends, so odometer drift is absorbed
// piecewise rather than by a single global offset.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ili.report/internal/ili"
)

// Method identifies which landmark matching strategy produced the pairs.
type Method string

const (
	MethodJoint    Method = "joint"
	MethodSequence Method = "sequence"
)

// OutOfRangePolicy decides what happens to defects before the first or after
// the last matched landmark.
type OutOfRangePolicy string

const (
	// Extrapolate applies the nearest segment's transform.
	Extrapolate OutOfRangePolicy = "extrapolate"
	// Reject leaves the corrected distance unknown and flags the defect.
	Reject OutOfRangePolicy = "reject"
)

// ErrNoLandmarks is returned when not a single landmark could be paired.
var ErrNoLandmarks = errors.New("no landmarks matched between surveys")

// degenerateSpan is the smallest Run B landmark spacing that still yields a
// usable scale factor.
const degenerateSpan = 1e-9

// Params controls landmark extraction and matching.
type Params struct {
	// LandmarkTypes selects which records count as landmarks. Nil means
	// every landmark type.
	LandmarkTypes []ili.FeatureType
	// AnchorType is the landmark type used for pairing. Non-weld features
	// sharing a joint number are not reliable one-to-one matches.
	AnchorType ili.FeatureType
	// MaxSpacingDiff is the largest accepted fractional difference between
	// Run A and Run B landmark spacing in sequence matching.
	MaxSpacingDiff float64
	OutOfRange     OutOfRangePolicy
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		LandmarkTypes:  append([]ili.FeatureType(nil), ili.LandmarkTypes...),
		AnchorType:     ili.GirthWeld,
		MaxSpacingDiff: 0.20,
		OutOfRange:     Extrapolate,
	}
}

// LandmarkPair is one landmark observed in both surveys.
type LandmarkPair struct {
	Joint     *int            `json:"joint,omitempty"`
	Type      ili.FeatureType `json:"feature_type"`
	IDA       int             `json:"id_a"`
	IDB       int             `json:"id_b"`
	DistanceA float64         `json:"distance_a"`
	DistanceB float64         `json:"distance_b"`
}

// Residual is the post-correction error at one landmark pair.
type Residual struct {
	Pair       LandmarkPair `json:"pair"`
	CorrectedB float64      `json:"corrected_b"`
	Residual   float64      `json:"residual"`
}

// CorrectedDefect is a Run B record with its distance in Run A's frame.
type CorrectedDefect struct {
	Defect       ili.Defect  `json:"defect"`
	Corrected    ili.Measure `json:"corrected_distance"`
	SegmentID    int         `json:"segment_id"`
	Extrapolated bool        `json:"extrapolated,omitempty"`
	Unaligned    bool        `json:"unaligned,omitempty"`
}

// Report summarises alignment quality for downstream reporting.
type Report struct {
	Method           Method                  `json:"method"`
	Pairs            []LandmarkPair          `json:"pairs"`
	Segments         []Segment               `json:"segments"`
	Residuals        []Residual              `json:"residuals"`
	MatchedLandmarks int                     `json:"matched_landmarks"`
	DroppedPairs     int                     `json:"dropped_pairs"`
	MeanAbsResidual  float64                 `json:"mean_abs_residual"`
	MaxAbsResidual   float64                 `json:"max_abs_residual"`
	LandmarksA       map[ili.FeatureType]int `json:"landmarks_a"`
	LandmarksB       map[ili.FeatureType]int `json:"landmarks_b"`
	Extrapolated     int                     `json:"extrapolated"`
	Unaligned        int                     `json:"unaligned"`
	Flags            []string                `json:"flags,omitempty"`
}

// Result is the output of Align.
type Result struct {
	Report    Report            `json:"report"`
	Transform Transform         `json:"transform"`
	Corrected []CorrectedDefect `json:"corrected"`
}

// Boundaries returns the Run A landmark distances delimiting matching
// segments, in increasing order.
func (r *Result) Boundaries() []float64 {
	out := make([]float64, len(r.Report.Pairs))
	for i, p := range r.Report.Pairs {
		out[i] = p.DistanceA
	}
	return out
}

// Align pairs landmarks between runA (reference) and runB, derives the
// piecewise transform, and returns a corrected copy of every Run B record.
func Align(runA, runB []ili.Defect, p Params) (*Result, error) {
	if p.AnchorType == "" {
		p.AnchorType = ili.GirthWeld
	}
	if p.MaxSpacingDiff <= 0 {
		p.MaxSpacingDiff = DefaultParams().MaxSpacingDiff
	}
	if p.OutOfRange == "" {
		p.OutOfRange = Extrapolate
	}

	lmA := ili.Landmarks(runA, p.LandmarkTypes)
	lmB := ili.Landmarks(runB, p.LandmarkTypes)
	countsA := ili.CountByType(lmA)
	countsB := ili.CountByType(lmB)

	pairs, method := MatchLandmarks(lmA, lmB, p)
	pairs, dropped := dropNonMonotonic(pairs)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: anchor type %s; run A landmarks [%s]; run B landmarks [%s]",
			ErrNoLandmarks, p.AnchorType, describeCounts(countsA, p.LandmarkTypes),
			describeCounts(countsB, p.LandmarkTypes))
	}

	transform := DeriveTransform(pairs)

	report := Report{
		Method:           method,
		Pairs:            pairs,
		Segments:         transform.Segments,
		MatchedLandmarks: len(pairs),
		DroppedPairs:     dropped,
		LandmarksA:       countsA,
		LandmarksB:       countsB,
		Flags:            landmarkFlags(countsA, countsB, p.LandmarkTypes),
	}
	if transform.Global {
		report.Flags = append(report.Flags, "single landmark pair: global offset applied")
	}
	for _, s := range transform.Segments {
		if s.Degenerate {
			report.Flags = append(report.Flags, fmt.Sprintf("segment %d has zero Run B span: offset only", s.ID))
		}
	}

	report.Residuals = ComputeResiduals(pairs, transform)
	if len(report.Residuals) > 0 {
		abs := make([]float64, len(report.Residuals))
		for i, r := range report.Residuals {
			abs[i] = math.Abs(r.Residual)
		}
		report.MeanAbsResidual = stat.Mean(abs, nil)
		report.MaxAbsResidual = floats.Max(abs)
	}

	corrected := make([]CorrectedDefect, len(runB))
	for i, d := range runB {
		c := transform.Correct(d.Distance, p.OutOfRange)
		corrected[i] = CorrectedDefect{
			Defect:       d,
			Corrected:    c.Distance,
			SegmentID:    c.SegmentID,
			Extrapolated: c.Extrapolated,
			Unaligned:    !c.Distance.Valid,
		}
		if c.Extrapolated {
			report.Extrapolated++
		}
		if !c.Distance.Valid {
			report.Unaligned++
		}
	}
	if report.Unaligned > 0 {
		opsf("%d Run B records outside the landmark range were left unaligned", report.Unaligned)
	}

	diagf("aligned %d Run B records: method=%s pairs=%d segments=%d mean|res|=%.4f max|res|=%.4f",
		len(runB), method, len(pairs), len(transform.Segments), report.MeanAbsResidual, report.MaxAbsResidual)

	return &Result{Report: report, Transform: transform, Corrected: corrected}, nil
}

// MatchLandmarks pairs anchor landmarks by joint number, falling back to
// sequence matching when fewer than two joint pairs exist.
func MatchLandmarks(lmA, lmB []ili.Defect, p Params) ([]LandmarkPair, Method) {
	byJoint := MatchByJoint(lmA, lmB, p.AnchorType)
	if len(byJoint) >= 2 {
		diagf("matched %d %s landmarks by joint number", len(byJoint), p.AnchorType)
		return byJoint, MethodJoint
	}

	bySeq := MatchBySequence(lmA, lmB, p.AnchorType, p.MaxSpacingDiff)
	if len(bySeq) < len(byJoint) {
		return byJoint, MethodJoint
	}
	diagf("joint matching insufficient (%d); matched %d %s landmarks by sequence",
		len(byJoint), len(bySeq), p.AnchorType)
	return bySeq, MethodSequence
}

// MatchByJoint joins anchor landmarks sharing a joint number. Within a run,
// the first landmark (by distance) for each joint wins.
func MatchByJoint(lmA, lmB []ili.Defect, anchor ili.FeatureType) []LandmarkPair {
	firstByJoint := func(records []ili.Defect) map[int]ili.Defect {
		out := make(map[int]ili.Defect)
		for _, r := range records {
			if r.Type != anchor || r.Joint == nil {
				continue
			}
			if _, seen := out[*r.Joint]; !seen {
				out[*r.Joint] = r
			}
		}
		return out
	}
	a := firstByJoint(lmA)
	b := firstByJoint(lmB)

	joints := make([]int, 0, len(a))
	for j := range a {
		if _, ok := b[j]; ok {
			joints = append(joints, j)
		}
	}
	sort.Ints(joints)

	pairs := make([]LandmarkPair, 0, len(joints))
	for _, j := range joints {
		ra, rb := a[j], b[j]
		pairs = append(pairs, LandmarkPair{
			Joint:     ili.JointPtr(j),
			Type:      anchor,
			IDA:       ra.ID,
			IDB:       rb.ID,
			DistanceA: ra.Distance,
			DistanceB: rb.Distance,
		})
	}
	return pairs
}

// MatchBySequence pairs anchor landmarks by ordinal position. A candidate is
// accepted only when its spacing from the last accepted pair agrees between
// runs to within maxSpacingDiff; rejected candidates are skipped.
func MatchBySequence(lmA, lmB []ili.Defect, anchor ili.FeatureType, maxSpacingDiff float64) []LandmarkPair {
	a := filterType(lmA, anchor)
	b := filterType(lmB, anchor)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var pairs []LandmarkPair
	rejected := 0
	for i := 0; i < n; i++ {
		cand := LandmarkPair{
			Joint:     a[i].Joint,
			Type:      anchor,
			IDA:       a[i].ID,
			IDB:       b[i].ID,
			DistanceA: a[i].Distance,
			DistanceB: b[i].Distance,
		}
		if len(pairs) > 0 {
			last := pairs[len(pairs)-1]
			spacingA := cand.DistanceA - last.DistanceA
			spacingB := cand.DistanceB - last.DistanceB
			if spacingA > 0 && math.Abs(spacingB-spacingA)/spacingA >= maxSpacingDiff {
				rejected++
				tracef("sequence candidate %d rejected: spacing A=%.3f B=%.3f", i, spacingA, spacingB)
				continue
			}
		}
		pairs = append(pairs, cand)
	}
	if rejected > 0 {
		opsf("sequence matching rejected %d candidate pairs with spacing difference >= %.0f%%",
			rejected, maxSpacingDiff*100)
	}
	return pairs
}

func filterType(records []ili.Defect, t ili.FeatureType) []ili.Defect {
	var out []ili.Defect
	for _, r := range records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	ili.SortByDistance(out)
	return out
}

// dropNonMonotonic removes pairs that would make segment boundaries run
// backwards in either survey.
func dropNonMonotonic(pairs []LandmarkPair) ([]LandmarkPair, int) {
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].DistanceA < pairs[j].DistanceA })
	out := make([]LandmarkPair, 0, len(pairs))
	dropped := 0
	for _, p := range pairs {
		if len(out) > 0 && p.DistanceB < out[len(out)-1].DistanceB {
			dropped++
			opsf("dropping landmark pair A#%d/B#%d: Run B distance %.3f precedes previous pair", p.IDA, p.IDB, p.DistanceB)
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}

// ComputeResiduals corrects each pair's Run B distance and compares it with
// the Run A distance.
func ComputeResiduals(pairs []LandmarkPair, t Transform) []Residual {
	out := make([]Residual, len(pairs))
	for i, p := range pairs {
		c := t.Correct(p.DistanceB, Extrapolate)
		out[i] = Residual{
			Pair:       p,
			CorrectedB: c.Distance.Value,
			Residual:   c.Distance.Value - p.DistanceA,
		}
	}
	return out
}

func describeCounts(counts map[ili.FeatureType]int, types []ili.FeatureType) string {
	if types == nil {
		types = ili.LandmarkTypes
	}
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, counts[t]))
	}
	return strings.Join(parts, " ")
}

func landmarkFlags(countsA, countsB map[ili.FeatureType]int, types []ili.FeatureType) []string {
	if types == nil {
		types = ili.LandmarkTypes
	}
	var flags []string
	for _, t := range types {
		switch {
		case countsA[t] > 0 && countsB[t] == 0:
			flags = append(flags, fmt.Sprintf("run B has no %s landmarks", t))
		case countsB[t] > 0 && countsA[t] == 0:
			flags = append(flags, fmt.Sprintf("run A has no %s landmarks", t))
		}
	}
	return flags
}
