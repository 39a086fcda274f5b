// Package filter turns raw user filter inputs into a typed, validated
// FilterSpec bound to one registered table. Nothing here touches the store;
// invalid input never survives past Build.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fiscaldata/treasury-query/src/schema"
)

const (
	// MaxTextLength caps text filter values to keep degenerate queries out.
	MaxTextLength = 200
	// MinSubstringLength is the minimum accepted search term length.
	MinSubstringLength = 2

	dateLayout = "2006-01-02"

	rangeStartSuffix = "_start"
	rangeEndSuffix   = "_end"
)

// Predicate is one validated constraint on a single column. The populated
// fields depend on Mode: Low/High for range, Term for substring, Value for
// enum equality.
type Predicate struct {
	Column string
	Mode   schema.MatchMode
	Low    any
	High   any
	Term   string
	Value  string
}

// FilterSpec is the validated filter set for one table. Predicates are
// ordered by column name so equal filter sets always compare and render
// identically.
type FilterSpec struct {
	Table      string
	Predicates []Predicate
}

// Empty reports whether the spec carries no predicates.
func (s *FilterSpec) Empty() bool {
	return len(s.Predicates) == 0
}

// Fingerprint returns a canonical rendering of the spec, suitable as cache
// key material. Equal filter sets produce equal fingerprints regardless of
// raw input order.
func (s *FilterSpec) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.Table)
	for _, p := range s.Predicates {
		b.WriteByte(';')
		b.WriteString(p.Column)
		b.WriteByte('=')
		b.WriteString(string(p.Mode))
		b.WriteByte(':')
		switch p.Mode {
		case schema.MatchRange:
			fmt.Fprintf(&b, "%v,%v", p.Low, p.High)
		case schema.MatchSubstring:
			b.WriteString(p.Term)
		case schema.MatchEnum:
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// InvalidFilterError reports a raw input that failed validation, naming the
// offending column and the reason.
type InvalidFilterError struct {
	Column string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter on %q: %s", e.Column, e.Reason)
}

// rangeDraft collects the raw halves of a range filter before parsing.
type rangeDraft struct {
	low, high       string
	hasLow, hasHigh bool
}

// Build validates raw inputs against the named table and returns a typed
// FilterSpec. Raw keys are either a filterable column name or a range half
// suffixed with "_start"/"_end"; a bare key on a range column means an exact
// match (both bounds equal). Inverted range bounds are normalized by swapping
// rather than rejected. Any other violation fails with InvalidFilterError;
// values are never dropped or coerced silently.
func Build(table string, raw map[string]string) (*FilterSpec, error) {
	desc, err := schema.Describe(table)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	spec := &FilterSpec{Table: table}
	drafts := make(map[string]*rangeDraft)

	for _, key := range keys {
		value := strings.TrimSpace(raw[key])

		if col, ok := desc.Column(key); ok {
			if !col.Filterable {
				return nil, &InvalidFilterError{Column: key, Reason: "column is not filterable"}
			}
			if value == "" {
				return nil, &InvalidFilterError{Column: key, Reason: "empty value"}
			}
			switch col.Match {
			case schema.MatchRange:
				// A bare key on a range column means an exact match.
				d := draftFor(drafts, key)
				d.low, d.high = value, value
				d.hasLow, d.hasHigh = true, true
			case schema.MatchSubstring:
				p, err := substringPredicate(col, value)
				if err != nil {
					return nil, err
				}
				spec.Predicates = append(spec.Predicates, p)
			case schema.MatchEnum:
				p, err := enumPredicate(col, value)
				if err != nil {
					return nil, err
				}
				spec.Predicates = append(spec.Predicates, p)
			default:
				return nil, &InvalidFilterError{Column: key, Reason: "column has no filter mode"}
			}
			continue
		}

		if base, half, ok := splitRangeKey(key); ok {
			col, found := desc.Column(base)
			if !found || !col.Filterable {
				return nil, &InvalidFilterError{Column: key, Reason: "unknown or non-filterable column"}
			}
			if col.Match != schema.MatchRange {
				return nil, &InvalidFilterError{Column: base, Reason: "column does not accept range bounds"}
			}
			if value == "" {
				return nil, &InvalidFilterError{Column: base, Reason: "empty value"}
			}
			d := draftFor(drafts, base)
			if half == rangeStartSuffix {
				d.low = value
				d.hasLow = true
			} else {
				d.high = value
				d.hasHigh = true
			}
			continue
		}

		return nil, &InvalidFilterError{Column: key, Reason: "unknown or non-filterable column"}
	}

	draftCols := make([]string, 0, len(drafts))
	for c := range drafts {
		draftCols = append(draftCols, c)
	}
	sort.Strings(draftCols)
	for _, c := range draftCols {
		col, _ := desc.Column(c)
		p, err := rangePredicate(col, drafts[c])
		if err != nil {
			return nil, err
		}
		spec.Predicates = append(spec.Predicates, p)
	}

	sort.Slice(spec.Predicates, func(i, j int) bool {
		return spec.Predicates[i].Column < spec.Predicates[j].Column
	})
	return spec, nil
}

func draftFor(drafts map[string]*rangeDraft, column string) *rangeDraft {
	d, ok := drafts[column]
	if !ok {
		d = &rangeDraft{}
		drafts[column] = d
	}
	return d
}

// splitRangeKey recognizes "<column>_start" and "<column>_end" keys.
func splitRangeKey(key string) (base, half string, ok bool) {
	if b, found := strings.CutSuffix(key, rangeStartSuffix); found && b != "" {
		return b, rangeStartSuffix, true
	}
	if b, found := strings.CutSuffix(key, rangeEndSuffix); found && b != "" {
		return b, rangeEndSuffix, true
	}
	return "", "", false
}

func substringPredicate(col *schema.ColumnDescriptor, value string) (Predicate, error) {
	if len(value) < MinSubstringLength {
		return Predicate{}, &InvalidFilterError{
			Column: col.Name,
			Reason: fmt.Sprintf("search term shorter than %d characters", MinSubstringLength),
		}
	}
	if len(value) > MaxTextLength {
		return Predicate{}, &InvalidFilterError{
			Column: col.Name,
			Reason: fmt.Sprintf("value longer than %d characters", MaxTextLength),
		}
	}
	return Predicate{Column: col.Name, Mode: schema.MatchSubstring, Term: value}, nil
}

func enumPredicate(col *schema.ColumnDescriptor, value string) (Predicate, error) {
	if len(value) > MaxTextLength {
		return Predicate{}, &InvalidFilterError{
			Column: col.Name,
			Reason: fmt.Sprintf("value longer than %d characters", MaxTextLength),
		}
	}
	return Predicate{Column: col.Name, Mode: schema.MatchEnum, Value: value}, nil
}

func rangePredicate(col *schema.ColumnDescriptor, d *rangeDraft) (Predicate, error) {
	switch col.Type {
	case schema.TypeInteger:
		return integerRange(col, d)
	case schema.TypeDecimal:
		return decimalRange(col, d)
	case schema.TypeDate:
		return dateRange(col, d)
	default:
		return Predicate{}, &InvalidFilterError{Column: col.Name, Reason: "range not supported for this column type"}
	}
}

func integerRange(col *schema.ColumnDescriptor, d *rangeDraft) (Predicate, error) {
	low := col.Min
	high := col.Max
	if !col.Bounded() && (!d.hasLow || !d.hasHigh) {
		return Predicate{}, &InvalidFilterError{Column: col.Name, Reason: "both range bounds required"}
	}
	if d.hasLow {
		v, err := parseInteger(col, d.low)
		if err != nil {
			return Predicate{}, err
		}
		low = v
	}
	if d.hasHigh {
		v, err := parseInteger(col, d.high)
		if err != nil {
			return Predicate{}, err
		}
		high = v
	}
	if low > high {
		low, high = high, low
	}
	return Predicate{Column: col.Name, Mode: schema.MatchRange, Low: low, High: high}, nil
}

func parseInteger(col *schema.ColumnDescriptor, value string) (int64, error) {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, &InvalidFilterError{Column: col.Name, Reason: fmt.Sprintf("value %q is not an integer", value)}
	}
	if col.Bounded() && (v < col.Min || v > col.Max) {
		return 0, &InvalidFilterError{
			Column: col.Name,
			Reason: fmt.Sprintf("value %d outside accepted range %d..%d", v, col.Min, col.Max),
		}
	}
	return v, nil
}

func decimalRange(col *schema.ColumnDescriptor, d *rangeDraft) (Predicate, error) {
	if !d.hasLow || !d.hasHigh {
		return Predicate{}, &InvalidFilterError{Column: col.Name, Reason: "both range bounds required"}
	}
	low, err := parseDecimal(col, d.low)
	if err != nil {
		return Predicate{}, err
	}
	high, err := parseDecimal(col, d.high)
	if err != nil {
		return Predicate{}, err
	}
	if low > high {
		low, high = high, low
	}
	return Predicate{Column: col.Name, Mode: schema.MatchRange, Low: low, High: high}, nil
}

func parseDecimal(col *schema.ColumnDescriptor, value string) (float64, error) {
	// strconv accepts "NaN" and "Inf", which would poison a BETWEEN bound.
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &InvalidFilterError{Column: col.Name, Reason: fmt.Sprintf("value %q is not a finite number", value)}
	}
	return v, nil
}

func dateRange(col *schema.ColumnDescriptor, d *rangeDraft) (Predicate, error) {
	if !d.hasLow || !d.hasHigh {
		return Predicate{}, &InvalidFilterError{Column: col.Name, Reason: "both range bounds required"}
	}
	low, err := parseDate(col, d.low)
	if err != nil {
		return Predicate{}, err
	}
	high, err := parseDate(col, d.high)
	if err != nil {
		return Predicate{}, err
	}
	// ISO dates compare correctly as strings.
	if low > high {
		low, high = high, low
	}
	return Predicate{Column: col.Name, Mode: schema.MatchRange, Low: low, High: high}, nil
}

func parseDate(col *schema.ColumnDescriptor, value string) (string, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", &InvalidFilterError{
			Column: col.Name,
			Reason: fmt.Sprintf("value %q is not a date in %s form", value, dateLayout),
		}
	}
	return t.Format(dateLayout), nil
}
