package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/banshee-data/ili.report/internal/ili"
	"github.com/banshee-data/ili.report/internal/ili/pipeline"
	"github.com/banshee-data/ili.report/internal/units"
)

// surveyFile is the on-disk survey: a canonical pipeline.Survey plus the
// units its distances and dimensions were exported in.
type surveyFile struct {
	pipeline.Survey
	DistanceUnit string `json:"distance_unit,omitempty"` // default ft
	SizeUnit     string `json:"size_unit,omitempty"`     // default in
}

const maxSurveyFileSize = 256 * 1024 * 1024

// loadSurvey reads a survey file and normalises it to feet and inches.
func loadSurvey(path string) (pipeline.Survey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Survey{}, fmt.Errorf("stat survey %s: %w", path, err)
	}
	if info.Size() > maxSurveyFileSize {
		return pipeline.Survey{}, fmt.Errorf("survey %s too large: %d bytes (max %d)", path, info.Size(), maxSurveyFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Survey{}, fmt.Errorf("read survey %s: %w", path, err)
	}

	var sf surveyFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return pipeline.Survey{}, fmt.Errorf("parse survey %s: %w", path, err)
	}
	if sf.ID == "" {
		return pipeline.Survey{}, fmt.Errorf("survey %s: missing id", path)
	}
	if sf.DistanceUnit == "" {
		sf.DistanceUnit = units.Feet
	}
	if sf.SizeUnit == "" {
		sf.SizeUnit = units.Inches
	}
	if !units.IsValidDistance(sf.DistanceUnit) {
		return pipeline.Survey{}, fmt.Errorf("survey %s: distance_unit %q not one of %s",
			sf.ID, sf.DistanceUnit, strings.Join(units.DistanceUnits, ", "))
	}
	if !units.IsValidSize(sf.SizeUnit) {
		return pipeline.Survey{}, fmt.Errorf("survey %s: size_unit %q not one of %s",
			sf.ID, sf.SizeUnit, strings.Join(units.SizeUnits, ", "))
	}

	for i := range sf.Records {
		if err := normalise(&sf.Records[i], sf.DistanceUnit, sf.SizeUnit); err != nil {
			return pipeline.Survey{}, fmt.Errorf("survey %s record %d: %w", sf.ID, sf.Records[i].ID, err)
		}
	}
	return sf.Survey, nil
}

func normalise(d *ili.Defect, distanceUnit, sizeUnit string) error {
	ft, err := units.ToFeet(d.Distance, distanceUnit)
	if err != nil {
		return err
	}
	d.Distance = ft

	for _, m := range []*ili.Measure{&d.Length, &d.Width, &d.WallThickness} {
		if !m.Valid {
			continue
		}
		in, err := units.ToInches(m.Value, sizeUnit)
		if err != nil {
			return err
		}
		m.Value = in
	}
	return nil
}
