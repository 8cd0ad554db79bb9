// Package match pairs anomalies between a reference survey and an aligned
// later survey, one landmark-delimited segment at a time.
package match

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
)

// Status classifies a match record.
type Status string

const (
	Matched   Status = "MATCHED"
	Uncertain Status = "UNCERTAIN"
	Missing   Status = "MISSING"
	New       Status = "NEW"
)

// Record is the outcome for one defect, or one pair of defects.
//
// SegmentID is the matching bucket index: bucket k holds distances in
// (boundaries[k-1], boundaries[k]]. Unaligned Run B defects carry -1.
type Record struct {
	Status             Status      `json:"status"`
	A                  *ili.Defect `json:"a,omitempty"`
	B                  *ili.Defect `json:"b,omitempty"`
	CorrectedDistanceB ili.Measure `json:"corrected_distance_b"`
	SegmentID          int         `json:"segment_id"`

	DeltaDistance ili.Measure `json:"delta_distance"`
	DeltaClock    ili.Measure `json:"delta_clock"`
	DeltaDepth    ili.Measure `json:"delta_depth"`
	DeltaSize     ili.Measure `json:"delta_size"`

	Cost        ili.Measure `json:"cost"`
	Probability float64     `json:"probability,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
	Label       Label       `json:"label,omitempty"`
	Margin      ili.Measure `json:"margin"`
	Candidates  int         `json:"candidates"`
	Unaligned   bool        `json:"unaligned,omitempty"`
}

// Paired reports whether the record links an A and a B defect.
func (r Record) Paired() bool {
	return r.Status == Matched || r.Status == Uncertain
}

// Summary counts records by status.
type Summary struct {
	Matched   int `json:"matched"`
	Uncertain int `json:"uncertain"`
	Missing   int `json:"missing"`
	New       int `json:"new"`
	Unaligned int `json:"unaligned"`
	Segments  int `json:"segments"`
}

// Total is the number of records summarised.
func (s Summary) Total() int {
	return s.Matched + s.Uncertain + s.Missing + s.New
}

// Result is the output of Match.
type Result struct {
	Records []Record `json:"records"`
	Summary Summary  `json:"summary"`
}

type bucket struct {
	as []ili.Defect
	bs []align.CorrectedDefect
}

// Match assigns every non-landmark Run A defect and every non-landmark
// corrected Run B defect to exactly one record. boundaries are the Run A
// landmark distances in increasing order.
func Match(runA []ili.Defect, corrected []align.CorrectedDefect, boundaries []float64, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid match params: %w", err)
	}
	if !sort.Float64sAreSorted(boundaries) {
		return nil, fmt.Errorf("segment boundaries must be sorted ascending")
	}

	buckets := make([]bucket, len(boundaries)+1)

	as := ili.Anomalies(runA)
	ili.SortByDistance(as)
	for _, a := range as {
		k := segmentIndex(boundaries, a.Distance)
		buckets[k].as = append(buckets[k].as, a)
	}

	var unaligned []Record
	bs := make([]align.CorrectedDefect, 0, len(corrected))
	for _, c := range corrected {
		if c.Defect.IsLandmark() {
			continue
		}
		if !c.Corrected.Valid {
			b := c.Defect
			unaligned = append(unaligned, Record{
				Status:    New,
				B:         &b,
				SegmentID: -1,
				Unaligned: true,
			})
			continue
		}
		bs = append(bs, c)
	}
	sort.SliceStable(bs, func(i, j int) bool {
		if bs[i].Corrected.Value != bs[j].Corrected.Value {
			return bs[i].Corrected.Value < bs[j].Corrected.Value
		}
		return bs[i].Defect.ID < bs[j].Defect.ID
	})
	for _, b := range bs {
		k := segmentIndex(boundaries, b.Corrected.Value)
		buckets[k].bs = append(buckets[k].bs, b)
	}

	slots := make([][]Record, len(buckets))
	var g errgroup.Group
	limit := p.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for k := range buckets {
		if len(buckets[k].as) == 0 && len(buckets[k].bs) == 0 {
			continue
		}
		g.Go(func() error {
			slots[k] = solveSegment(k, buckets[k], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, recs := range slots {
		res.Records = append(res.Records, recs...)
	}
	res.Records = append(res.Records, unaligned...)
	res.Summary = Summarize(res.Records)
	res.Summary.Segments = len(buckets)

	if res.Summary.Unaligned > 0 {
		opsf("%d Run B defects were unaligned and reported as NEW", res.Summary.Unaligned)
	}
	diagf("matched %d segments: matched=%d uncertain=%d missing=%d new=%d",
		len(buckets), res.Summary.Matched, res.Summary.Uncertain, res.Summary.Missing, res.Summary.New)
	return res, nil
}

// segmentIndex returns k such that x lies in (b[k-1], b[k]].
func segmentIndex(boundaries []float64, x float64) int {
	return sort.SearchFloat64s(boundaries, x)
}

func solveSegment(k int, bk bucket, p Params) []Record {
	matrix := BuildMatrix(bk.as, bk.bs, p)
	assign := Assign(matrix)

	records := make([]Record, 0, len(bk.as)+len(bk.bs))
	taken := make([]bool, len(bk.bs))

	for i := range bk.as {
		a := bk.as[i]
		j := -1
		if assign != nil {
			j = assign[i]
		}
		if j < 0 {
			records = append(records, Record{
				Status:     Missing,
				A:          &a,
				SegmentID:  k,
				Candidates: countFeasible(matrix[i]),
			})
			continue
		}
		taken[j] = true
		records = append(records, pairedRecord(k, a, bk.bs[j], matrix[i], j, p))
	}

	for j := range bk.bs {
		if taken[j] {
			continue
		}
		b := bk.bs[j].Defect
		records = append(records, Record{
			Status:             New,
			B:                  &b,
			CorrectedDistanceB: bk.bs[j].Corrected,
			SegmentID:          k,
		})
	}

	tracef("segment %d: %d A x %d B -> %d records", k, len(bk.as), len(bk.bs), len(records))
	return records
}

func pairedRecord(k int, a ili.Defect, c align.CorrectedDefect, row []Cell, j int, p Params) Record {
	b := c.Defect
	d := computeDeltas(a, c)
	cost := row[j].Cost

	margin := p.NoRunnerUpMargin
	runnerUp := math.Inf(1)
	for jj, cell := range row {
		if jj != j && cell.Feasible && cell.Cost < runnerUp {
			runnerUp = cell.Cost
		}
	}
	if !math.IsInf(runnerUp, 1) {
		margin = runnerUp - cost
	}

	candidates := countFeasible(row)
	conf := Confidence(cost, margin, candidates, p)

	status := Matched
	if cost > p.CostThreshold {
		status = Uncertain
	}

	return Record{
		Status:             status,
		A:                  &a,
		B:                  &b,
		CorrectedDistanceB: c.Corrected,
		SegmentID:          k,
		DeltaDistance:      ili.Known(d.distance),
		DeltaClock:         d.clock,
		DeltaDepth:         d.depth,
		DeltaSize:          d.size,
		Cost:               ili.Known(cost),
		Probability:        Probability(a, b, d, p),
		Confidence:         conf,
		Label:              LabelFor(conf),
		Margin:             ili.Known(margin),
		Candidates:         candidates,
	}
}

func countFeasible(row []Cell) int {
	n := 0
	for _, c := range row {
		if c.Feasible {
			n++
		}
	}
	return n
}

// Summarize counts records by status.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Status {
		case Matched:
			s.Matched++
		case Uncertain:
			s.Uncertain++
		case Missing:
			s.Missing++
		case New:
			s.New++
		}
		if r.Unaligned {
			s.Unaligned++
		}
	}
	return s
}
