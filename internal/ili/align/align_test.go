package align

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ili.report/internal/ili"
)

func weld(id int, dist float64, joint int) ili.Defect {
	return ili.Defect{ID: id, Distance: dist, Type: ili.GirthWeld, Joint: ili.JointPtr(joint)}
}

func anomaly(id int, dist float64) ili.Defect {
	return ili.Defect{ID: id, Distance: dist, Type: ili.MetalLoss, Depth: ili.Known(20)}
}

func TestAlign_PiecewiseSegments(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 100, 1), weld(1, 250, 2), weld(2, 400, 3)}
	runB := []ili.Defect{weld(0, 98, 1), weld(1, 247, 2), weld(2, 399, 3), anomaly(3, 172.5)}

	res, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, MethodJoint, res.Report.Method)
	require.Len(t, res.Transform.Segments, 2)
	assert.InDelta(t, 150.0/149.0, res.Transform.Segments[0].Scale, 1e-12)
	assert.InDelta(t, 150.0/152.0, res.Transform.Segments[1].Scale, 1e-12)
	assert.InDelta(t, 0, res.Report.MaxAbsResidual, 1e-9)
	assert.InDelta(t, 0, res.Report.MeanAbsResidual, 1e-9)
	assert.Equal(t, []float64{100, 250, 400}, res.Boundaries())

	// Midpoint of the first Run B segment lands at the midpoint in Run A.
	c := res.Corrected[3]
	require.True(t, c.Corrected.Valid)
	assert.InDelta(t, 175, c.Corrected.Value, 1e-9)
	assert.Equal(t, 0, c.SegmentID)
	assert.False(t, c.Extrapolated)
}

func TestAlign_LandmarksMapExactly(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 10, 1), weld(1, 55.5, 2), weld(2, 140, 3), weld(3, 300.25, 4)}
	runB := []ili.Defect{weld(0, 12, 1), weld(1, 56, 2), weld(2, 138.7, 3), weld(3, 303, 4)}

	res, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)
	for i, c := range res.Corrected {
		assert.InDelta(t, runA[i].Distance, c.Corrected.Value, 1e-9, "landmark %d", i)
	}
}

func TestAlign_SinglePairGlobalOffset(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 100, 7)}
	runB := []ili.Defect{weld(0, 103, 7), anomaly(1, 500), anomaly(2, -20)}

	res, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)
	assert.True(t, res.Transform.Global)
	require.Len(t, res.Transform.Segments, 1)
	assert.Equal(t, 1.0, res.Transform.Segments[0].Scale)
	assert.Equal(t, -3.0, res.Transform.Segments[0].Shift)

	assert.InDelta(t, 497, res.Corrected[1].Corrected.Value, 1e-9)
	assert.InDelta(t, -23, res.Corrected[2].Corrected.Value, 1e-9)
	assert.False(t, res.Corrected[1].Extrapolated)
	assert.NotEmpty(t, res.Report.Flags)
}

func TestAlign_DegenerateSpan(t *testing.T) {
	t.Parallel()

	pairs := []LandmarkPair{
		{DistanceA: 100, DistanceB: 100},
		{DistanceA: 101, DistanceB: 100},
		{DistanceA: 200, DistanceB: 199},
	}
	tr := DeriveTransform(pairs)
	require.Len(t, tr.Segments, 2)
	assert.True(t, tr.Segments[0].Degenerate)
	assert.Equal(t, 1.0, tr.Segments[0].Scale)
	assert.Equal(t, 0.0, tr.Segments[0].Shift)
	assert.False(t, tr.Segments[1].Degenerate)

	// The boundary belongs to the later segment, which is exact there.
	c := tr.Correct(100, Extrapolate)
	assert.Equal(t, 1, c.SegmentID)
	assert.InDelta(t, 101, c.Distance.Value, 1e-9)
}

func TestTransform_BoundaryAssignment(t *testing.T) {
	t.Parallel()

	tr := DeriveTransform([]LandmarkPair{
		{DistanceA: 0, DistanceB: 0},
		{DistanceA: 100, DistanceB: 100},
		{DistanceA: 200, DistanceB: 200},
	})

	cases := []struct {
		b      float64
		seg    int
		inside bool
	}{
		{0, 0, true},
		{99.999, 0, true},
		{100, 1, true},
		{200, 1, true},
		{-1, 0, false},
		{201, 1, false},
	}
	for _, tc := range cases {
		idx, inside := tr.Locate(tc.b)
		assert.Equal(t, tc.seg, idx, "b=%v", tc.b)
		assert.Equal(t, tc.inside, inside, "b=%v", tc.b)
	}

	assert.Equal(t, -1, func() int { i, _ := Transform{}.Locate(5); return i }())
}

func TestAlign_OutOfRangePolicy(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 100, 1), weld(1, 200, 2)}
	runB := []ili.Defect{weld(0, 100, 1), weld(1, 210, 2), anomaly(2, 50), anomaly(3, 320)}

	ext, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)
	assert.True(t, ext.Corrected[2].Extrapolated)
	assert.True(t, ext.Corrected[2].Corrected.Valid)
	assert.InDelta(t, 100+(50-100)*100.0/110.0, ext.Corrected[2].Corrected.Value, 1e-9)
	assert.Equal(t, 2, ext.Report.Extrapolated)
	assert.Equal(t, 0, ext.Report.Unaligned)

	p := DefaultParams()
	p.OutOfRange = Reject
	rej, err := Align(runA, runB, p)
	require.NoError(t, err)
	assert.True(t, rej.Corrected[3].Unaligned)
	assert.False(t, rej.Corrected[3].Corrected.Valid)
	assert.Equal(t, 2, rej.Report.Unaligned)
}

func TestAlign_NoLandmarks(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{anomaly(0, 10), {ID: 1, Distance: 20, Type: ili.Valve}}
	runB := []ili.Defect{anomaly(0, 12)}

	_, err := Align(runA, runB, DefaultParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoLandmarks))
	assert.Contains(t, err.Error(), "girth_weld=0")
	assert.Contains(t, err.Error(), "valve=1")
}

func TestMatchLandmarks_SequenceFallback(t *testing.T) {
	t.Parallel()

	// No joint numbers: sequence matching with the spacing check.
	lmA := []ili.Defect{
		{ID: 0, Distance: 0, Type: ili.GirthWeld},
		{ID: 1, Distance: 40, Type: ili.GirthWeld},
		{ID: 2, Distance: 80, Type: ili.GirthWeld},
		{ID: 3, Distance: 120, Type: ili.GirthWeld},
	}
	lmB := []ili.Defect{
		{ID: 0, Distance: 1, Type: ili.GirthWeld},
		{ID: 1, Distance: 41, Type: ili.GirthWeld},
		{ID: 2, Distance: 70, Type: ili.GirthWeld}, // spurious spacing
		{ID: 3, Distance: 121, Type: ili.GirthWeld},
	}

	pairs, method := MatchLandmarks(lmA, lmB, DefaultParams())
	assert.Equal(t, MethodSequence, method)
	require.Len(t, pairs, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{pairs[0].IDB, pairs[1].IDB, pairs[2].IDB})
}

func TestMatchByJoint_DedupAndOrder(t *testing.T) {
	t.Parallel()

	lmA := []ili.Defect{weld(0, 300, 3), weld(1, 100, 1), weld(2, 105, 1), weld(3, 200, 2)}
	lmB := []ili.Defect{weld(0, 99, 1), weld(1, 301, 3), weld(2, 400, 4)}
	ili.SortByDistance(lmA)

	pairs := MatchByJoint(lmA, lmB, ili.GirthWeld)
	require.Len(t, pairs, 2)
	assert.Equal(t, 1, *pairs[0].Joint)
	assert.Equal(t, 100.0, pairs[0].DistanceA)
	assert.Equal(t, 3, *pairs[1].Joint)
}

func TestAlign_DropsNonMonotonicPairs(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 100, 1), weld(1, 200, 2), weld(2, 300, 3)}
	runB := []ili.Defect{weld(0, 100, 1), weld(1, 350, 2), weld(2, 300, 3)}

	res, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.DroppedPairs)
	assert.Len(t, res.Report.Pairs, 2)
}

func TestAlign_FlagsMissingLandmarkType(t *testing.T) {
	t.Parallel()

	runA := []ili.Defect{weld(0, 100, 1), weld(1, 200, 2), {ID: 2, Distance: 150, Type: ili.Valve}}
	runB := []ili.Defect{weld(0, 101, 1), weld(1, 199, 2)}

	res, err := Align(runA, runB, DefaultParams())
	require.NoError(t, err)
	assert.Contains(t, res.Report.Flags, "run B has no valve landmarks")
}
