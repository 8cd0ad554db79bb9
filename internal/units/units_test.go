package units

import (
	"math"
	"testing"
)

func TestToFeet(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		unit     string
		expected float64
		wantErr  bool
	}{
		{"feet unchanged", 150.0, Feet, 150.0, false},
		{"one meter", 1.0, Meters, 3.28084, false},
		{"joint length 12.2 m", 12.2, Meters, 40.026, false},
		{"zero", 0, Meters, 0, false},
		{"unknown unit", 10, "yd", 0, true},
		{"case sensitive", 10, "FT", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFeet(tt.value, tt.unit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToFeet(%f, %s) error = %v, wantErr %v", tt.value, tt.unit, err, tt.wantErr)
			}
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("ToFeet(%f, %s) = %f, want %f", tt.value, tt.unit, got, tt.expected)
			}
		})
	}
}

func TestListedUnitsConvert(t *testing.T) {
	for _, unit := range DistanceUnits {
		if _, err := ToFeet(1, unit); err != nil {
			t.Errorf("ToFeet(1, %s): %v", unit, err)
		}
	}
	for _, unit := range SizeUnits {
		if _, err := ToInches(1, unit); err != nil {
			t.Errorf("ToInches(1, %s): %v", unit, err)
		}
	}
}

func TestToInches(t *testing.T) {
	got, err := ToInches(25.4, Millimeters)
	if err != nil || math.Abs(got-1.0) > 1e-12 {
		t.Errorf("ToInches(25.4, mm) = %f, %v; want 1", got, err)
	}
	if _, err := ToInches(1, "cm"); err == nil {
		t.Error("expected error for cm")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		distance bool
		size     bool
	}{
		{Feet, true, false},
		{Meters, true, false},
		{Inches, false, true},
		{Millimeters, false, true},
		{"", false, false},
		{"M", false, false},
	}
	for _, tt := range tests {
		if got := IsValidDistance(tt.unit); got != tt.distance {
			t.Errorf("IsValidDistance(%q) = %v, want %v", tt.unit, got, tt.distance)
		}
		if got := IsValidSize(tt.unit); got != tt.size {
			t.Errorf("IsValidSize(%q) = %v, want %v", tt.unit, got, tt.size)
		}
	}
}
