package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

func weld(id int, dist float64, joint int) ili.Defect {
	return ili.Defect{ID: id, Distance: dist, Type: ili.GirthWeld, Joint: ili.JointPtr(joint)}
}

func metalLoss(id int, dist, clock, depth float64) ili.Defect {
	return ili.Defect{
		ID:       id,
		Distance: dist,
		Clock:    ili.Known(clock),
		Depth:    ili.Known(depth),
		Type:     ili.MetalLoss,
	}
}

func surveyPair() (Survey, Survey) {
	a := Survey{ID: "2015", Time: 2015, Records: []ili.Defect{
		weld(0, 100, 1), weld(1, 250, 2), weld(2, 400, 3),
		metalLoss(3, 150, 90, 34),
		metalLoss(4, 320, 180, 22),
	}}
	b := Survey{ID: "2022", Time: 2022, Records: []ili.Defect{
		weld(0, 98, 1), weld(1, 247, 2), weld(2, 399, 3),
		metalLoss(3, 148, 93, 38),
	}}
	return a, b
}

func TestRun_TwoSurveyScenario(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()
	res, err := Run(a, b, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 7.0, res.YearsBetween)
	assert.Equal(t, align.MethodJoint, res.Alignment.Method)
	assert.Len(t, res.Alignment.Segments, 2)
	assert.InDelta(t, 0, res.Alignment.MaxAbsResidual, 1e-9)

	require.Len(t, res.Matches, 2)
	m := res.Matches[0]
	assert.Equal(t, match.Matched, m.Status)
	assert.Equal(t, 3, m.A.ID)
	assert.InDelta(t, 150, m.CorrectedDistanceB.Value, 1.0)
	assert.Equal(t, "2022", m.B.Survey)

	missing := res.Matches[1]
	assert.Equal(t, match.Missing, missing.Status)
	assert.Equal(t, 4, missing.A.ID)

	// The lone MISSING defect produces no growth record.
	require.Len(t, res.Growth, 1)
	assert.Equal(t, 3, res.Growth[0].A.ID)
	assert.InDelta(t, 0.571, res.Growth[0].DepthRate.Value, 1e-3)
	assert.Nil(t, res.Clusters)
}

func TestRun_NegativeGrowthScenario(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()
	b.Records[3].Depth = ili.Known(30.5) // 34 -> 30.5 over 7 years

	res, err := Run(a, b, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Growth, 1)
	g := res.Growth[0]
	assert.InDelta(t, -0.5, g.DepthRate.Value, 1e-9)
	assert.True(t, g.NegativeGrowth)
	assert.True(t, g.RemainingLife.IsInf())
}

func TestRun_WithClustering(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()
	b.Records = append(b.Records, metalLoss(4, 170, 90, 12))
	cfg := DefaultConfig()
	cfg.Clustering = true

	res, err := Run(a, b, cfg)
	require.NoError(t, err)
	require.NotNil(t, res.Clusters)
	require.Len(t, res.Clusters.Clusters, 1)
	assert.Equal(t, 2, res.Clusters.Clusters[0].Count)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()

	_, err := Run(a, Survey{ID: "empty"}, DefaultConfig())
	assert.True(t, errors.Is(err, ErrEmptySurvey))

	noWelds := Survey{ID: "x", Time: 2022, Records: []ili.Defect{metalLoss(0, 10, 0, 10)}}
	_, err = Run(a, noWelds, DefaultConfig())
	assert.True(t, errors.Is(err, align.ErrNoLandmarks))

	sameTime := b
	sameTime.Time = a.Time
	_, err = Run(a, sameTime, DefaultConfig())
	assert.True(t, errors.Is(err, growth.ErrInvalidInterval))

	bad := b
	bad.Records = append([]ili.Defect(nil), b.Records...)
	bad.Records[3].Clock = ili.Known(400)
	_, err = Run(a, bad, DefaultConfig())
	assert.Error(t, err)
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()
	cfg := DefaultConfig()
	cfg.Clustering = true
	first, err := Run(a, b, cfg)
	require.NoError(t, err)
	second, err := Run(a, b, cfg)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Result{}, "Elapsed")); diff != "" {
		t.Errorf("repeat run differs (-first +second):\n%s", diff)
	}
}

func TestRunSeries_ThreeSurveys(t *testing.T) {
	t.Parallel()

	s1 := Survey{ID: "2010", Time: 2010, Records: []ili.Defect{
		weld(0, 100, 1), weld(1, 250, 2), weld(2, 400, 3),
		metalLoss(3, 150, 90, 20),
	}}
	s2 := Survey{ID: "2015", Time: 2015, Records: []ili.Defect{
		weld(0, 102, 1), weld(1, 254, 2), weld(2, 405, 3),
		metalLoss(3, 153, 91, 25),
	}}
	s3 := Survey{ID: "2020", Time: 2020, Records: []ili.Defect{
		weld(0, 97, 1), weld(1, 245, 2), weld(2, 396, 3),
		metalLoss(3, 146, 92, 33),
	}}

	res, err := RunSeries([]Survey{s1, s2, s3}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Pairs, 2)
	for _, pr := range res.Pairs {
		assert.Positive(t, pr.Elapsed, "pair %s -> %s", pr.SurveyB, pr.SurveyA)
	}
	require.Len(t, res.Lineages.Records, 1)

	lr := res.Lineages.Records[0]
	assert.Equal(t, 3, lr.N)
	assert.NotEmpty(t, lr.BestModel)
	for _, o := range lr.Lineage.Observations {
		assert.InDelta(t, 150, o.Distance, 1.5, "survey %s", o.Survey)
	}
	require.NotNil(t, lr.Acceleration)
	assert.InDelta(t, 1.0, lr.Acceleration.EarlyRate, 1e-9)
	assert.InDelta(t, 1.6, lr.Acceleration.LateRate, 1e-9)
	assert.Equal(t, growth.Accelerating, lr.Acceleration.Trend)
}

func TestRunSeries_Errors(t *testing.T) {
	t.Parallel()

	a, b := surveyPair()
	_, err := RunSeries([]Survey{a}, DefaultConfig())
	assert.True(t, errors.Is(err, ErrTooFewSurveys))

	_, err = RunSeries([]Survey{b, a}, DefaultConfig())
	assert.Error(t, err)
}
