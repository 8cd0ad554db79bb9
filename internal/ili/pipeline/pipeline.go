// Package pipeline runs the reconciliation stages in order: alignment,
// matching, growth, and optionally clustering. Every stage is a pure
// function of its inputs and the Config.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/cluster"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

var (
	// ErrEmptySurvey is returned when a survey carries no records.
	ErrEmptySurvey = errors.New("survey has no records")
	// ErrTooFewSurveys is returned when a series has fewer than two surveys.
	ErrTooFewSurveys = errors.New("at least two surveys are required")
)

// Survey is one inspection run. Time is in decimal years.
type Survey struct {
	ID      string       `json:"id"`
	Time    float64      `json:"time"`
	Records []ili.Defect `json:"records"`
}

// Config bundles the per-stage parameters.
type Config struct {
	Align   align.Params   `json:"align"`
	Match   match.Params   `json:"match"`
	Growth  growth.Params  `json:"growth"`
	Cluster cluster.Params `json:"cluster"`
	// Clustering enables the clustering stage.
	Clustering bool `json:"clustering"`
}

// DefaultConfig returns every stage's defaults with clustering disabled.
func DefaultConfig() Config {
	return Config{
		Align:   align.DefaultParams(),
		Match:   match.DefaultParams(),
		Growth:  growth.DefaultParams(),
		Cluster: cluster.DefaultParams(),
	}
}

// Result is the outcome of reconciling two surveys.
type Result struct {
	SurveyA      string  `json:"survey_a"`
	SurveyB      string  `json:"survey_b"`
	YearsBetween float64 `json:"years_between"`

	Alignment     align.Report            `json:"alignment"`
	Corrected     []align.CorrectedDefect `json:"corrected"`
	Matches       []match.Record          `json:"matches"`
	Summary       match.Summary           `json:"summary"`
	Growth        []growth.Record         `json:"growth"`
	GrowthSummary growth.Summary          `json:"growth_summary"`
	Clusters      *cluster.Result         `json:"clusters,omitempty"`

	// Transform maps survey B distances into survey A's frame.
	Transform align.Transform `json:"-"`
	// Elapsed is the wall time Run spent on this pair.
	Elapsed time.Duration `json:"-"`
}

// Run reconciles survey b against reference survey a. When
// cfg.Growth.YearsBetween is not set it is taken from the survey times.
func Run(a, b Survey, cfg Config) (*Result, error) {
	start := time.Now()
	recA, err := prepare(a)
	if err != nil {
		return nil, err
	}
	recB, err := prepare(b)
	if err != nil {
		return nil, err
	}

	gp := cfg.Growth
	if !(gp.YearsBetween > 0) {
		gp.YearsBetween = b.Time - a.Time
	}

	al, err := align.Align(recA, recB, cfg.Align)
	if err != nil {
		return nil, fmt.Errorf("align %s -> %s: %w", b.ID, a.ID, err)
	}

	mr, err := match.Match(recA, al.Corrected, al.Boundaries(), cfg.Match)
	if err != nil {
		return nil, fmt.Errorf("match %s -> %s: %w", b.ID, a.ID, err)
	}

	gr, err := growth.Analyze(mr.Records, gp)
	if err != nil {
		return nil, fmt.Errorf("growth %s -> %s: %w", b.ID, a.ID, err)
	}

	res := &Result{
		SurveyA:       a.ID,
		SurveyB:       b.ID,
		YearsBetween:  gp.YearsBetween,
		Alignment:     al.Report,
		Corrected:     al.Corrected,
		Matches:       mr.Records,
		Summary:       mr.Summary,
		Growth:        gr.Records,
		GrowthSummary: gr.Summary,
		Transform:     al.Transform,
	}

	if cfg.Clustering {
		res.Clusters = cluster.Run(cluster.MembersFromMatches(mr.Records, gr.Records), cfg.Cluster)
	}

	diagf("%s -> %s: %d landmarks, %d matched, %d uncertain, %d missing, %d new",
		b.ID, a.ID, al.Report.MatchedLandmarks, mr.Summary.Matched, mr.Summary.Uncertain,
		mr.Summary.Missing, mr.Summary.New)
	res.Elapsed = time.Since(start)
	return res, nil
}

// prepare validates a survey and stamps its id onto records that lack one.
func prepare(s Survey) ([]ili.Defect, error) {
	if len(s.Records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySurvey, s.ID)
	}
	out := make([]ili.Defect, len(s.Records))
	for i, r := range s.Records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("survey %s: %w", s.ID, err)
		}
		if r.Survey == "" {
			r.Survey = s.ID
		}
		out[i] = r
	}
	tracef("survey %s: %d records (%d landmarks)", s.ID, len(out), len(out)-len(ili.Anomalies(out)))
	return out, nil
}
