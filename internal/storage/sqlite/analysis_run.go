package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/match"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
)

// AnalysisRun is the archived header of one survey pair reconciliation.
type AnalysisRun struct {
	RunID        string          `json:"run_id"`
	CreatedAt    time.Time       `json:"created_at"`
	SurveyA      string          `json:"survey_a"`
	SurveyB      string          `json:"survey_b"`
	YearsBetween float64         `json:"years_between"`
	ParamsJSON   json.RawMessage `json:"params_json"`
	// AlignmentJSON is the full alignment report.
	AlignmentJSON   json.RawMessage `json:"alignment_json"`
	Method          string          `json:"method"`
	Landmarks       int             `json:"landmarks"`
	MeanAbsResidual float64         `json:"mean_abs_residual"`
	MaxAbsResidual  float64         `json:"max_abs_residual"`
	Summary         match.Summary   `json:"summary"`
	Status          string          `json:"status"`
	Notes           string          `json:"notes,omitempty"`
}

// MatchRow is the archived form of one match record.
type MatchRow struct {
	Seq                int             `json:"seq"`
	Status             match.Status    `json:"status"`
	SegmentID          int             `json:"segment_id"`
	IDA                *int            `json:"id_a,omitempty"`
	IDB                *int            `json:"id_b,omitempty"`
	Type               ili.FeatureType `json:"feature_type"`
	DistanceA          ili.Measure     `json:"distance_a"`
	CorrectedDistanceB ili.Measure     `json:"corrected_distance_b"`
	Cost               ili.Measure     `json:"cost"`
	Confidence         ili.Measure     `json:"confidence"`
	Label              match.Label     `json:"label,omitempty"`
	Unaligned          bool            `json:"unaligned,omitempty"`
}

// GrowthRow is the archived form of one growth record.
type GrowthRow struct {
	Seq             int             `json:"seq"`
	IDA             int             `json:"id_a"`
	IDB             int             `json:"id_b"`
	Type            ili.FeatureType `json:"feature_type"`
	DepthRate       ili.Measure     `json:"depth_rate"`
	NegativeGrowth  bool            `json:"negative_growth"`
	AlreadyCritical bool            `json:"already_critical"`
	RemainingLife   ili.Measure     `json:"remaining_life"`
	Severity        float64         `json:"severity"`
}

// ClusterRow is the archived form of one cluster.
type ClusterRow struct {
	ClusterID      int         `json:"cluster_id"`
	Count          int         `json:"count"`
	Centroid       float64     `json:"centroid"`
	Span           float64     `json:"span"`
	MeanDepth      ili.Measure `json:"mean_depth"`
	TotalArea      float64     `json:"total_area"`
	MeanGrowthRate ili.Measure `json:"mean_growth_rate"`
}

// AnalysisRunStore provides persistence for reconciliation runs.
type AnalysisRunStore struct {
	db *sql.DB
}

// NewAnalysisRunStore creates a new AnalysisRunStore.
func NewAnalysisRunStore(db *sql.DB) *AnalysisRunStore {
	return &AnalysisRunStore{db: db}
}

// RecordResult archives a pipeline result and its records in one
// transaction, returning the new run header.
func (s *AnalysisRunStore) RecordResult(res *pipeline.Result, cfg pipeline.Config) (*AnalysisRun, error) {
	params, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	alignment, err := json.Marshal(res.Alignment)
	if err != nil {
		return nil, fmt.Errorf("marshal alignment report: %w", err)
	}

	run := &AnalysisRun{
		RunID:           uuid.New().String(),
		CreatedAt:       time.Now(),
		SurveyA:         res.SurveyA,
		SurveyB:         res.SurveyB,
		YearsBetween:    res.YearsBetween,
		ParamsJSON:      params,
		AlignmentJSON:   alignment,
		Method:          string(res.Alignment.Method),
		Landmarks:       res.Alignment.MatchedLandmarks,
		MeanAbsResidual: res.Alignment.MeanAbsResidual,
		MaxAbsResidual:  res.Alignment.MaxAbsResidual,
		Summary:         res.Summary,
		Status:          "completed",
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(tx, run); err != nil {
		return nil, err
	}
	if err := insertMatches(tx, run.RunID, res.Matches); err != nil {
		return nil, err
	}
	if err := insertGrowth(tx, run, res); err != nil {
		return nil, err
	}
	if res.Clusters != nil {
		if err := insertClusters(tx, run.RunID, res); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit archive transaction: %w", err)
	}
	return run, nil
}

func insertRun(tx *sql.Tx, run *AnalysisRun) error {
	query := `
		INSERT INTO analysis_runs (
			run_id, created_at, survey_a, survey_b, years_between,
			params_json, alignment_json, method, landmarks,
			mean_abs_residual, max_abs_residual,
			matched, uncertain, missing, new_count, unaligned, segments,
			status, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.Exec(query,
		run.RunID,
		run.CreatedAt.UnixNano(),
		run.SurveyA,
		run.SurveyB,
		run.YearsBetween,
		string(run.ParamsJSON),
		string(run.AlignmentJSON),
		run.Method,
		run.Landmarks,
		run.MeanAbsResidual,
		run.MaxAbsResidual,
		run.Summary.Matched,
		run.Summary.Uncertain,
		run.Summary.Missing,
		run.Summary.New,
		run.Summary.Unaligned,
		run.Summary.Segments,
		run.Status,
		nullString(run.Notes),
	)
	if err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

func insertMatches(tx *sql.Tx, runID string, records []match.Record) error {
	stmt, err := tx.Prepare(`
		INSERT INTO match_records (
			run_id, seq, status, segment_id, id_a, id_b, feature_type,
			distance_a, corrected_distance_b, cost, confidence, label, unaligned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare match insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		var idA, idB, distA interface{}
		var typ ili.FeatureType
		if r.A != nil {
			idA, distA, typ = r.A.ID, r.A.Distance, r.A.Type
		}
		if r.B != nil {
			idB = r.B.ID
			if typ == "" {
				typ = r.B.Type
			}
		}
		var confidence interface{}
		if r.Paired() {
			confidence = r.Confidence
		}
		_, err := stmt.Exec(
			runID, i, string(r.Status), r.SegmentID, idA, idB, string(typ),
			distA, nullMeasure(r.CorrectedDistanceB), nullMeasure(r.Cost),
			confidence, nullString(string(r.Label)), r.Unaligned,
		)
		if err != nil {
			return fmt.Errorf("insert match record %d: %w", i, err)
		}
	}
	return nil
}

func insertGrowth(tx *sql.Tx, run *AnalysisRun, res *pipeline.Result) error {
	stmt, err := tx.Prepare(`
		INSERT INTO growth_records (
			run_id, seq, id_a, id_b, feature_type, depth_rate,
			negative_growth, already_critical, remaining_life, life_unbounded, severity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare growth insert: %w", err)
	}
	defer stmt.Close()

	for i, g := range res.Growth {
		_, err := stmt.Exec(
			run.RunID, i, g.A.ID, g.B.ID, string(g.A.Type), nullMeasure(g.DepthRate),
			g.NegativeGrowth, g.AlreadyCritical, nullMeasure(g.RemainingLife),
			g.RemainingLife.IsInf(), g.Severity,
		)
		if err != nil {
			return fmt.Errorf("insert growth record %d: %w", i, err)
		}
	}
	return nil
}

func insertClusters(tx *sql.Tx, runID string, res *pipeline.Result) error {
	for _, c := range res.Clusters.Clusters {
		_, err := tx.Exec(`
			INSERT INTO clusters (
				run_id, cluster_id, member_count, centroid, span,
				mean_depth, total_area, mean_growth_rate
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, c.ID, c.Count, c.Centroid, c.Span,
			nullMeasure(c.MeanDepth), c.TotalArea, nullMeasure(c.MeanGrowthRate))
		if err != nil {
			return fmt.Errorf("insert cluster %d: %w", c.ID, err)
		}
	}
	return nil
}

const runColumns = `
	run_id, created_at, survey_a, survey_b, years_between,
	params_json, alignment_json, method, landmarks,
	mean_abs_residual, max_abs_residual,
	matched, uncertain, missing, new_count, unaligned, segments,
	status, notes
`

// GetRun returns one run header. It returns sql.ErrNoRows when the id is
// unknown.
func (s *AnalysisRunStore) GetRun(runID string) (*AnalysisRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM analysis_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("get analysis run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *AnalysisRunStore) ListRuns(limit int) ([]*AnalysisRun, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`SELECT `+runColumns+`
		FROM analysis_runs
		ORDER BY created_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*AnalysisRun, error) {
	run := &AnalysisRun{}
	var createdAt int64
	var params, alignment string
	var notes sql.NullString
	err := row.Scan(
		&run.RunID, &createdAt, &run.SurveyA, &run.SurveyB, &run.YearsBetween,
		&params, &alignment, &run.Method, &run.Landmarks,
		&run.MeanAbsResidual, &run.MaxAbsResidual,
		&run.Summary.Matched, &run.Summary.Uncertain, &run.Summary.Missing,
		&run.Summary.New, &run.Summary.Unaligned, &run.Summary.Segments,
		&run.Status, &notes,
	)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = time.Unix(0, createdAt)
	run.ParamsJSON = json.RawMessage(params)
	run.AlignmentJSON = json.RawMessage(alignment)
	if notes.Valid {
		run.Notes = notes.String
	}
	return run, nil
}

// GetMatches returns a run's match records in pipeline order.
func (s *AnalysisRunStore) GetMatches(runID string) ([]MatchRow, error) {
	rows, err := s.db.Query(`
		SELECT seq, status, segment_id, id_a, id_b, feature_type,
		       distance_a, corrected_distance_b, cost, confidence, label, unaligned
		FROM match_records
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list match records: %w", err)
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var m MatchRow
		var status, typ string
		var idA, idB sql.NullInt64
		var distA, corrB, cost, conf sql.NullFloat64
		var label sql.NullString
		if err := rows.Scan(&m.Seq, &status, &m.SegmentID, &idA, &idB, &typ,
			&distA, &corrB, &cost, &conf, &label, &m.Unaligned); err != nil {
			return nil, fmt.Errorf("scan match record: %w", err)
		}
		m.Status = match.Status(status)
		m.Type = ili.FeatureType(typ)
		m.IDA = intPtr(idA)
		m.IDB = intPtr(idB)
		m.DistanceA = measure(distA)
		m.CorrectedDistanceB = measure(corrB)
		m.Cost = measure(cost)
		m.Confidence = measure(conf)
		if label.Valid {
			m.Label = match.Label(label.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetGrowth returns a run's growth records in severity order.
func (s *AnalysisRunStore) GetGrowth(runID string) ([]GrowthRow, error) {
	rows, err := s.db.Query(`
		SELECT seq, id_a, id_b, feature_type, depth_rate, negative_growth,
		       already_critical, remaining_life, life_unbounded, severity
		FROM growth_records
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list growth records: %w", err)
	}
	defer rows.Close()

	var out []GrowthRow
	for rows.Next() {
		var g GrowthRow
		var typ string
		var rate, life sql.NullFloat64
		var unbounded bool
		if err := rows.Scan(&g.Seq, &g.IDA, &g.IDB, &typ, &rate, &g.NegativeGrowth,
			&g.AlreadyCritical, &life, &unbounded, &g.Severity); err != nil {
			return nil, fmt.Errorf("scan growth record: %w", err)
		}
		g.Type = ili.FeatureType(typ)
		g.DepthRate = measure(rate)
		g.RemainingLife = measure(life)
		if unbounded {
			g.RemainingLife = ili.Inf()
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetClusters returns a run's clusters in id order. Runs archived without
// clustering return an empty slice.
func (s *AnalysisRunStore) GetClusters(runID string) ([]ClusterRow, error) {
	rows, err := s.db.Query(`
		SELECT cluster_id, member_count, centroid, span, mean_depth, total_area, mean_growth_rate
		FROM clusters
		WHERE run_id = ?
		ORDER BY cluster_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []ClusterRow
	for rows.Next() {
		var c ClusterRow
		var depth, rate sql.NullFloat64
		if err := rows.Scan(&c.ClusterID, &c.Count, &c.Centroid, &c.Span,
			&depth, &c.TotalArea, &rate); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		c.MeanDepth = measure(depth)
		c.MeanGrowthRate = measure(rate)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, by cascade, its records.
func (s *AnalysisRunStore) DeleteRun(runID string) error {
	result, err := s.db.Exec("DELETE FROM analysis_runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete analysis run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis run rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Helper functions for nullable values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullMeasure stores unknown and infinite values as NULL.
func nullMeasure(m ili.Measure) interface{} {
	if !m.Valid || m.IsInf() {
		return nil
	}
	return m.Value
}

func measure(f sql.NullFloat64) ili.Measure {
	if !f.Valid {
		return ili.Unknown()
	}
	return ili.Known(f.Float64)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
