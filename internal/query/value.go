package query

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FilterValue is the selection for one filter key: either a set of values or
// a min/max range.
type FilterValue struct {
	Values []any
	Min    any
	Max    any
}

// ServerSideFilters maps filter keys to their selected values. Absent keys
// are unconstrained.
type ServerSideFilters map[string]FilterValue

// Values returns a FilterValue selecting the given values
func Values(values ...any) FilterValue {
	return FilterValue{Values: values}
}

// Between returns a FilterValue selecting an inclusive range
func Between(minValue, maxValue any) FilterValue {
	return FilterValue{Min: minValue, Max: maxValue}
}

// IsEmpty reports whether the selection constrains nothing
func (v FilterValue) IsEmpty() bool {
	return len(v.Values) == 0 && v.Min == nil && v.Max == nil
}

// IsRange reports whether the selection carries range bounds
func (v FilterValue) IsRange() bool {
	return v.Min != nil || v.Max != nil
}

type rangeJSON struct {
	Values []any `json:"values,omitempty"`
	Min    any   `json:"min,omitempty"`
	Max    any   `json:"max,omitempty"`
}

// UnmarshalJSON accepts a scalar, an array of scalars, or an object with
// min/max (or values) members.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = FilterValue{}
	case []any:
		*v = FilterValue{Values: t}
	case map[string]any:
		for k := range t {
			if k != "min" && k != "max" && k != "values" {
				return fmt.Errorf("unexpected member %q in filter value", k)
			}
		}
		out := FilterValue{Min: t["min"], Max: t["max"]}
		if vals, ok := t["values"]; ok {
			list, ok := vals.([]any)
			if !ok {
				return fmt.Errorf("filter value member \"values\" must be an array")
			}
			out.Values = list
		}
		*v = out
	default:
		*v = FilterValue{Values: []any{t}}
	}

	return nil
}

// MarshalJSON renders sets as arrays and ranges as {min, max} objects
func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.IsRange() {
		return json.Marshal(rangeJSON{Min: v.Min, Max: v.Max})
	}
	if v.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Values)
}
