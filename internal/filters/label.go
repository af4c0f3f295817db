package filters

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/versions"
)

// LabelCase is a case transform applied to rendered labels
type LabelCase string

const (
	// CaseNone leaves labels as rendered
	CaseNone LabelCase = ""
	// CaseUpper upper-cases labels
	CaseUpper LabelCase = "upper"
	// CaseLower lower-cases labels
	CaseLower LabelCase = "lower"
	// CaseTitle title-cases labels
	CaseTitle LabelCase = "title"
)

// LabelFormat turns a raw facet value into its display label. The zero value
// renders values with fmt.Sprint.
type LabelFormat struct {
	Case   LabelCase
	Format string
	Values map[string]string
}

func newLabelFormat(lc config.LabelConfig) (LabelFormat, error) {
	switch c := LabelCase(lc.Case); c {
	case CaseNone, CaseUpper, CaseLower, CaseTitle:
		return LabelFormat{
			Case:   c,
			Format: lc.Format,
			Values: maps.Clone(lc.Values),
		}, nil
	default:
		return LabelFormat{}, fmt.Errorf("unknown label case %q", lc.Case)
	}
}

// Render returns the display label of a raw value
func (l LabelFormat) Render(v any) string {
	key := CanonicalKey(v)
	if label, ok := l.Values[key]; ok {
		return label
	}

	var label string
	if l.Format != "" {
		label = fmt.Sprintf(l.Format, displayValue(l.Format, v))
	} else {
		label = key
	}

	switch l.Case {
	case CaseUpper:
		return strings.ToUpper(label)
	case CaseLower:
		return strings.ToLower(label)
	case CaseTitle:
		// cases.Caser is not safe for concurrent use, so build one per call.
		return cases.Title(language.English).String(label)
	default:
		return label
	}
}

// displayValue normalises numbers and timestamps for %v and %s verbs so they
// render as 4 and RFC 3339 rather than 4.0 or time.Time's String form. Other
// verbs get a float64 or the raw value.
func displayValue(format string, v any) any {
	plain := strings.Contains(format, "%v") || strings.Contains(format, "%s")
	if t, ok := v.(time.Time); ok {
		if plain {
			return CanonicalKey(t)
		}
		return t
	}
	f, ok := toFloat(v)
	if !ok {
		return v
	}
	if plain {
		return CanonicalKey(f)
	}
	return f
}

// CompareOptions orders two raw facet values according to the descriptor's
// natural order. OrderNone always reports equality so a stable sort keeps the
// store order.
func (d Descriptor) CompareOptions(a, b any) int {
	switch d.Order {
	case OrderNone:
		return 0
	case OrderDesc:
		return CompareValues(b, a)
	case OrderSemver:
		return versions.Compare(fmt.Sprint(a), fmt.Sprint(b))
	case OrderSemverDesc:
		return versions.Compare(fmt.Sprint(b), fmt.Sprint(a))
	default:
		return CompareValues(a, b)
	}
}
