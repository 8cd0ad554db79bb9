package ili

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Measure is an optional numeric reading. Vendor reports routinely omit
// clock, depth, and size columns; those readings are carried as unknown
// rather than defaulted to zero.
type Measure struct {
	Value float64
	Valid bool
}

// Known returns a valid Measure holding v.
func Known(v float64) Measure { return Measure{Value: v, Valid: true} }

// Unknown returns the unknown sentinel.
func Unknown() Measure { return Measure{} }

// Inf returns a valid Measure holding +Inf.
func Inf() Measure { return Measure{Value: math.Inf(1), Valid: true} }

// Or returns the value when known, otherwise fallback.
func (m Measure) Or(fallback float64) float64 {
	if !m.Valid {
		return fallback
	}
	return m.Value
}

// IsInf reports whether the measure is known and infinite.
func (m Measure) IsInf() bool {
	return m.Valid && math.IsInf(m.Value, 0)
}

func (m Measure) String() string {
	if !m.Valid {
		return "unknown"
	}
	return fmt.Sprintf("%g", m.Value)
}

// Diff returns |m - o|, unknown if either side is unknown.
func (m Measure) Diff(o Measure) Measure {
	if !m.Valid || !o.Valid {
		return Unknown()
	}
	return Known(math.Abs(m.Value - o.Value))
}

// MarshalJSON encodes unknown as null and infinities as "+Inf"/"-Inf"
// since JSON numbers cannot carry them.
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid || math.IsNaN(m.Value) {
		return []byte("null"), nil
	}
	if math.IsInf(m.Value, 1) {
		return []byte(`"+Inf"`), nil
	}
	if math.IsInf(m.Value, -1) {
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts null, numbers, and the infinity strings.
func (m *Measure) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Unknown()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "+Inf", "Inf":
			*m = Known(math.Inf(1))
		case "-Inf":
			*m = Known(math.Inf(-1))
		default:
			return fmt.Errorf("invalid measure %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid measure: %w", err)
	}
	*m = Known(v)
	return nil
}
