package filters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayout is accepted for time values in addition to RFC3339
const dateLayout = "2006-01-02"

// CoerceValue converts a raw filter value (typically decoded from JSON) to the
// Go type used for comparisons of the given kind.
func CoerceValue(kind ValueKind, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("value is required")
	}

	switch kind {
	case KindString, "":
		switch t := v.(type) {
		case string:
			return t, nil
		case map[string]any, []any:
			return nil, fmt.Errorf("expected a string, got %T", v)
		default:
			return fmt.Sprint(t), nil
		}
	case KindNumber:
		f, ok := toFloat(v)
		if ok {
			return f, nil
		}
		if s, isString := v.(string); isString {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("expected a number, got %q", s)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected a number, got %T", v)
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return parseTime(t)
		default:
			return nil, fmt.Errorf("expected a timestamp, got %T", v)
		}
	case KindBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q", t)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected a boolean, got %T", v)
		}
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected an RFC3339 timestamp or YYYY-MM-DD date, got %q", s)
}

// toFloat converts any Go or JSON numeric representation to float64
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// CompareValues orders two values of possibly different dynamic types.
// Numbers compare numerically, times chronologically, booleans false before
// true and strings lexicographically. Mixed types fall back to comparing
// their string forms.
func CompareValues(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// CanonicalKey returns a string identifying a value independently of its
// dynamic numeric type, so 5, int64(5) and 5.0 share a key.
func CanonicalKey(v any) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
