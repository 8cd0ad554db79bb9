// Package ili defines the canonical in-line inspection record shared by the
// alignment, matching, growth, and clustering stages.
//
// Records are produced by an ingestion collaborator outside this module and
// are treated as read-only values here. Distances are odometer feet, clock
// positions are degrees clockwise from top dead centre, and depth is percent
// of nominal wall thickness.
package ili

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FeatureType is the normalised feature vocabulary.
type FeatureType string

const (
	GirthWeld            FeatureType = "girth_weld"
	Valve                FeatureType = "valve"
	Tee                  FeatureType = "tee"
	Tap                  FeatureType = "tap"
	Bend                 FeatureType = "bend"
	Flange               FeatureType = "flange"
	MetalLoss            FeatureType = "metal_loss"
	MetalLossCluster     FeatureType = "metal_loss_cluster"
	Dent                 FeatureType = "dent"
	ManufacturingAnomaly FeatureType = "manufacturing_anomaly"
	GirthWeldAnomaly     FeatureType = "girth_weld_anomaly"
	SeamWeldAnomaly      FeatureType = "seam_weld_anomaly"
	Other                FeatureType = "other"
	UnknownType          FeatureType = "unknown"
)

// LandmarkTypes are fixed, non-corroding structures usable as alignment
// control points.
var LandmarkTypes = []FeatureType{GirthWeld, Valve, Tee, Tap, Bend, Flange}

// compatibleTypes lists cross-type pairs that may be matched across surveys.
// The relation is symmetric; identical types are always compatible.
var compatibleTypes = map[FeatureType][]FeatureType{
	MetalLoss:        {MetalLossCluster},
	MetalLossCluster: {MetalLoss},
}

// IsLandmarkType reports whether t is a control-point type.
func IsLandmarkType(t FeatureType) bool {
	for _, lt := range LandmarkTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// TypesCompatible reports whether defects of types a and b may be paired.
func TypesCompatible(a, b FeatureType) bool {
	if a == b {
		return true
	}
	for _, c := range compatibleTypes[a] {
		if c == b {
			return true
		}
	}
	return false
}

// Orientation is the wall surface a defect was reported on.
type Orientation int

const (
	OrientationUnknown Orientation = iota
	Internal
	External
)

func (o Orientation) String() string {
	switch o {
	case Internal:
		return "internal"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// ParseOrientation accepts the canonical names as well as ID/OD.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal", "id", "int":
		return Internal, nil
	case "external", "od", "ext":
		return External, nil
	case "", "unknown":
		return OrientationUnknown, nil
	}
	return OrientationUnknown, fmt.Errorf("invalid orientation %q", s)
}

// Known reports whether the orientation was reported.
func (o Orientation) Known() bool { return o != OrientationUnknown }

func (o Orientation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Orientation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrientation(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Defect is one canonical record from one survey. Landmarks are Defects
// whose Type is a landmark type.
type Defect struct {
	Survey        string      `json:"survey"`
	ID            int         `json:"id"`
	FeatureID     string      `json:"feature_id,omitempty"`
	Distance      float64     `json:"distance"`
	Clock         Measure     `json:"clock_deg"`
	Depth         Measure     `json:"depth_pct"`
	Type          FeatureType `json:"feature_type"`
	Orientation   Orientation `json:"orientation"`
	Length        Measure     `json:"length"`
	Width         Measure     `json:"width"`
	WallThickness Measure     `json:"wall_thickness"`
	Joint         *int        `json:"joint,omitempty"`
}

// IsLandmark reports whether the record is a control point.
func (d Defect) IsLandmark() bool { return IsLandmarkType(d.Type) }

// Area returns length × width, unknown if either is unknown.
func (d Defect) Area() Measure {
	if !d.Length.Valid || !d.Width.Valid {
		return Unknown()
	}
	return Known(d.Length.Value * d.Width.Value)
}

// Validate checks the invariants the downstream stages rely on.
func (d Defect) Validate() error {
	if math.IsNaN(d.Distance) || math.IsInf(d.Distance, 0) {
		return fmt.Errorf("defect %d: distance must be finite", d.ID)
	}
	if d.Clock.Valid && (d.Clock.Value < 0 || d.Clock.Value >= 360) {
		return fmt.Errorf("defect %d: clock %.2f outside [0,360)", d.ID, d.Clock.Value)
	}
	if d.Depth.Valid && d.Depth.Value < 0 {
		return fmt.Errorf("defect %d: negative depth %.2f", d.ID, d.Depth.Value)
	}
	if d.Type == "" {
		return fmt.Errorf("defect %d: missing feature type", d.ID)
	}
	return nil
}

// ClockDistance returns the shortest arc between two clock positions in
// degrees (0..180), unknown if either side is unknown.
func ClockDistance(a, b Measure) Measure {
	if !a.Valid || !b.Valid {
		return Unknown()
	}
	diff := math.Mod(math.Abs(a.Value-b.Value), 360)
	return Known(math.Min(diff, 360-diff))
}

// Landmarks returns the landmark records of the given types sorted by
// distance. A nil types slice selects every landmark type.
func Landmarks(records []Defect, types []FeatureType) []Defect {
	if types == nil {
		types = LandmarkTypes
	}
	want := make(map[FeatureType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []Defect
	for _, r := range records {
		if want[r.Type] {
			out = append(out, r)
		}
	}
	SortByDistance(out)
	return out
}

// Anomalies returns the non-landmark records in input order.
func Anomalies(records []Defect) []Defect {
	var out []Defect
	for _, r := range records {
		if !r.IsLandmark() {
			out = append(out, r)
		}
	}
	return out
}

// SortByDistance orders records by distance, then ID, in place.
func SortByDistance(records []Defect) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Distance != records[j].Distance {
			return records[i].Distance < records[j].Distance
		}
		return records[i].ID < records[j].ID
	})
}

// CountByType tallies records per feature type.
func CountByType(records []Defect) map[FeatureType]int {
	counts := make(map[FeatureType]int)
	for _, r := range records {
		counts[r.Type]++
	}
	return counts
}

// JointPtr is a convenience for building records with a joint number.
func JointPtr(n int) *int { return &n }
