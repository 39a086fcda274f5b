package store

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const dateLayout = "2006-01-02"

// normalizeValue maps driver-level scan types onto plain Go values so rows
// serialize cleanly to JSON and CSV. Dates render in ISO form; numerics
// become float64.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(dateLayout)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Date:
		if !t.Valid {
			return nil
		}
		return t.Time.Format(dateLayout)
	default:
		return v
	}
}
