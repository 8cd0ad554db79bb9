package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/match"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
	"github.com/banshee-data/ili.report/internal/monitoring"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(nil)
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func weld(id int, dist float64, joint int) ili.Defect {
	return ili.Defect{ID: id, Distance: dist, Type: ili.GirthWeld, Joint: ili.JointPtr(joint)}
}

func metalLoss(id int, dist, clock, depth float64) ili.Defect {
	return ili.Defect{ID: id, Distance: dist, Clock: ili.Known(clock), Depth: ili.Known(depth), Type: ili.MetalLoss}
}

func runPipeline(t *testing.T, clustering bool) (*pipeline.Result, pipeline.Config) {
	t.Helper()
	a := pipeline.Survey{ID: "2015", Time: 2015, Records: []ili.Defect{
		weld(0, 100, 1), weld(1, 250, 2), weld(2, 400, 3),
		metalLoss(3, 150, 90, 34),
		metalLoss(4, 320, 180, 22),
	}}
	b := pipeline.Survey{ID: "2022", Time: 2022, Records: []ili.Defect{
		weld(0, 98, 1), weld(1, 247, 2), weld(2, 399, 3),
		metalLoss(3, 148, 93, 38),
		metalLoss(4, 170, 90, 12),
	}}
	cfg := pipeline.DefaultConfig()
	cfg.Clustering = clustering
	res, err := pipeline.Run(a, b, cfg)
	require.NoError(t, err)
	return res, cfg
}

func TestOpen_MigratesSchema(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// A second migration pass is a no-op.
	require.NoError(t, db.MigrateUp())

	for _, table := range []string{"analysis_runs", "match_records", "growth_records", "clusters"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestAnalysisRunStore_RecordAndRead(t *testing.T) {
	db := setupTestDB(t)
	store := NewAnalysisRunStore(db.DB)

	res, cfg := runPipeline(t, true)
	run, err := store.RecordResult(res, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "2015", got.SurveyA)
	assert.Equal(t, "2022", got.SurveyB)
	assert.Equal(t, 7.0, got.YearsBetween)
	assert.Equal(t, "joint", got.Method)
	assert.Equal(t, 3, got.Landmarks)
	assert.Equal(t, res.Summary, got.Summary)
	assert.Positive(t, got.Summary.Segments)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, run.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())

	var params pipeline.Config
	require.NoError(t, json.Unmarshal(got.ParamsJSON, &params))
	assert.True(t, params.Clustering)
	assert.Equal(t, cfg.Match.DistTol, params.Match.DistTol)

	matches, err := store.GetMatches(run.RunID)
	require.NoError(t, err)
	require.Len(t, matches, len(res.Matches))
	first := matches[0]
	assert.Equal(t, match.Matched, first.Status)
	require.NotNil(t, first.IDA)
	assert.Equal(t, 3, *first.IDA)
	assert.InDelta(t, 150, first.CorrectedDistanceB.Value, 1.0)
	assert.True(t, first.Confidence.Valid)
	assert.Equal(t, ili.MetalLoss, first.Type)
	for _, m := range matches {
		if m.Status == match.Missing {
			assert.Nil(t, m.IDB)
			assert.False(t, m.Cost.Valid)
			assert.False(t, m.Confidence.Valid)
		}
	}

	growth, err := store.GetGrowth(run.RunID)
	require.NoError(t, err)
	require.Len(t, growth, 1)
	assert.InDelta(t, 0.571, growth[0].DepthRate.Value, 1e-3)
	assert.InDelta(t, res.Growth[0].RemainingLife.Value, growth[0].RemainingLife.Value, 1e-9)

	clusters, err := store.GetClusters(run.RunID)
	require.NoError(t, err)
	assert.Len(t, clusters, len(res.Clusters.Clusters))
}

func TestAnalysisRunStore_InfiniteLifeRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewAnalysisRunStore(db.DB)

	res, cfg := runPipeline(t, false)
	res.Growth[0].RemainingLife = ili.Inf()
	run, err := store.RecordResult(res, cfg)
	require.NoError(t, err)

	growth, err := store.GetGrowth(run.RunID)
	require.NoError(t, err)
	require.Len(t, growth, 1)
	assert.True(t, growth[0].RemainingLife.IsInf())

	clusters, err := store.GetClusters(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestAnalysisRunStore_ListAndDelete(t *testing.T) {
	db := setupTestDB(t)
	store := NewAnalysisRunStore(db.DB)

	res, cfg := runPipeline(t, false)
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := store.RecordResult(res, cfg)
		require.NoError(t, err)
		ids = append(ids, run.RunID)
	}

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	for _, r := range runs {
		assert.Positive(t, r.Summary.Segments, "run %s", r.RunID)
	}

	runs, err = store.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, store.DeleteRun(ids[0]))
	_, err = store.GetRun(ids[0])
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	matches, err := store.GetMatches(ids[0])
	require.NoError(t, err)
	assert.Empty(t, matches, "records cascade with the run")

	assert.True(t, errors.Is(store.DeleteRun(ids[0]), sql.ErrNoRows))
}
