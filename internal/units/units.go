// Package units provides shared constants and conversion for the length
// units vendor reports use. The reconciliation stages work in feet for
// odometer distance and inches for defect length and width.
package units

import "fmt"

// Unit constants
const (
	Feet        = "ft"
	Meters      = "m"
	Inches      = "in"
	Millimeters = "mm"
)

// DistanceUnits are the accepted odometer distance units.
var DistanceUnits = []string{Feet, Meters}

// SizeUnits are the accepted defect length and width units.
var SizeUnits = []string{Inches, Millimeters}

const (
	metersPerFoot      = 0.3048
	millimetersPerInch = 25.4
)

// IsValidDistance checks if unit is an accepted distance unit.
func IsValidDistance(unit string) bool {
	return contains(DistanceUnits, unit)
}

// IsValidSize checks if unit is an accepted size unit.
func IsValidSize(unit string) bool {
	return contains(SizeUnits, unit)
}

func contains(list []string, unit string) bool {
	for _, u := range list {
		if unit == u {
			return true
		}
	}
	return false
}

// ToFeet converts a distance in unit to feet.
func ToFeet(v float64, unit string) (float64, error) {
	switch unit {
	case Feet:
		return v, nil
	case Meters:
		return v / metersPerFoot, nil
	default:
		return 0, fmt.Errorf("unknown distance unit %q (want ft or m)", unit)
	}
}

// ToInches converts a defect dimension in unit to inches.
func ToInches(v float64, unit string) (float64, error) {
	switch unit {
	case Inches:
		return v, nil
	case Millimeters:
		return v / millimetersPerInch, nil
	default:
		return 0, fmt.Errorf("unknown size unit %q (want in or mm)", unit)
	}
}
