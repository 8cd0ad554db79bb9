package monitoring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/cluster"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
)

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		SurveyA: "2015",
		SurveyB: "2022",
		Alignment: align.Report{
			MatchedLandmarks: 3,
			MeanAbsResidual:  0.25,
			MaxAbsResidual:   0.5,
			Extrapolated:     2,
		},
		Summary:       match.Summary{Matched: 4, Uncertain: 1, Missing: 2, New: 3},
		GrowthSummary: growth.Summary{Negative: 1, Critical: 1, MaxSeverity: 87.5},
		Clusters:      &cluster.Result{Clusters: []cluster.Cluster{{ID: 0}, {ID: 1}}},
	}
}

func TestObserveRun(t *testing.T) {
	SetLogger(nil)
	m := NewMetrics()

	m.ObserveRun(sampleResult(), 250*time.Millisecond, nil)
	m.ObserveRun(sampleResult(), 100*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.matchRecords.WithLabelValues("MATCHED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.matchRecords.WithLabelValues("UNCERTAIN")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.matchRecords.WithLabelValues("NEW")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.landmarks))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.maxResidual))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.extrapolated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.negative))
	assert.Equal(t, 87.5, testutil.ToFloat64(m.maxSeverity))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clusters))
}

func TestObserveRun_Error(t *testing.T) {
	m := NewMetrics(WithNamespace("test"))
	m.ObserveRun(nil, time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.matchRecords.WithLabelValues("MATCHED")))
}

func TestObserveSeries(t *testing.T) {
	m := NewMetrics()
	m.ObserveSeries(nil)
	m.ObserveSeries(&pipeline.SeriesResult{Lineages: &growth.LineageResult{
		Records:      make([]growth.LineageRecord, 5),
		Accelerating: 2,
		FitFailures:  3,
	}})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.lineages))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.accelerating))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.fitFailures))
}

func TestWriteTextfile(t *testing.T) {
	SetLogger(nil)
	m := NewMetrics()
	m.ObserveRun(sampleResult(), time.Second, nil)

	path := filepath.Join(t.TempDir(), "ili.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `ili_match_records_total{status="MATCHED"} 4`), text)
	assert.Contains(t, text, "ili_alignment_max_abs_residual_feet 0.5")
	assert.Contains(t, text, "ili_run_duration_seconds_bucket")
}
