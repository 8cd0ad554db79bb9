package pipeline

import (
	"fmt"

	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/growth"
)

// SeriesResult is the outcome of reconciling three or more surveys.
type SeriesResult struct {
	Pairs    []*Result             `json:"pairs"`
	Lineages *growth.LineageResult `json:"lineages"`
}

// RunSeries reconciles each consecutive pair of surveys, chains the matches
// into lineages in the first survey's distance frame, and fits growth models
// per lineage. Surveys must be in strictly increasing time order.
func RunSeries(surveys []Survey, cfg Config) (*SeriesResult, error) {
	if len(surveys) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewSurveys, len(surveys))
	}
	for i := 1; i < len(surveys); i++ {
		if !(surveys[i].Time > surveys[i-1].Time) {
			return nil, fmt.Errorf("survey %s (%.3f) does not follow %s (%.3f)",
				surveys[i].ID, surveys[i].Time, surveys[i-1].ID, surveys[i-1].Time)
		}
	}

	res := &SeriesResult{}
	steps := make([]growth.Step, 0, len(surveys)-1)
	toRef := func(d float64) float64 { return d }

	for i := 0; i+1 < len(surveys); i++ {
		pairCfg := cfg
		pairCfg.Growth.YearsBetween = 0
		pr, err := Run(surveys[i], surveys[i+1], pairCfg)
		if err != nil {
			return nil, err
		}
		res.Pairs = append(res.Pairs, pr)

		steps = append(steps, growth.Step{
			From:        surveys[i].ID,
			To:          surveys[i+1].ID,
			FromTime:    surveys[i].Time,
			ToTime:      surveys[i+1].Time,
			Matches:     pr.Matches,
			ToReference: toRef,
		})
		toRef = compose(toRef, pr.Transform)
	}

	lineages := growth.BuildLineages(steps)
	if len(lineages) == 0 {
		opsf("no defect was matched across consecutive surveys; lineage analysis is empty")
	}
	lr, err := growth.AnalyzeLineages(lineages, cfg.Growth)
	if err != nil {
		return nil, err
	}
	res.Lineages = lr

	diagf("series of %d surveys: %d lineages, %d accelerating",
		len(surveys), len(lr.Records), lr.Accelerating)
	return res, nil
}

// compose returns a map from the next survey's frame into the reference
// frame: t first, then prev. Out-of-range distances are extrapolated.
func compose(prev func(float64) float64, t align.Transform) func(float64) float64 {
	return func(d float64) float64 {
		c := t.Correct(d, align.Extrapolate)
		return prev(c.Distance.Value)
	}
}
