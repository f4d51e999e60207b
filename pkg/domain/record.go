package domain

import "time"

// Record is one stored object: a mapping of field name to value. Every
// persisted record carries an integer id plus created_at/updated_at
// timestamps stamped by the storage engine, never by the caller.
type Record map[string]any

// Engine-managed field names. They are always part of the allowed field set
// regardless of the entity schema.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldIsDefault = "is_default"
	FieldName      = "name"
	FieldShortForm = "short_form"
)

// TimeLayout is the fixed textual format for created_at/updated_at values.
// All timestamps are UTC.
const TimeLayout = "2006-01-02T15:04:05Z"

// ID returns the record's id. JSON decoding yields float64 for numbers, so
// both in-memory and round-tripped representations are accepted. Returns 0
// when the field is absent or malformed.
func (r Record) ID() int64 {
	v, ok := AsInt64(r[FieldID])
	if !ok {
		return 0
	}
	return v
}

// Name returns the record's name field, or "" when absent.
func (r Record) Name() string {
	s, _ := r[FieldName].(string)
	return s
}

// ShortForm returns the record's short_form field, or "" when absent.
func (r Record) ShortForm() string {
	s, _ := r[FieldShortForm].(string)
	return s
}

// IsDefault reports whether the record carries is_default = true.
func (r Record) IsDefault() bool {
	b, _ := r[FieldIsDefault].(bool)
	return b
}

// CreatedAt parses the record's created_at timestamp.
func (r Record) CreatedAt() (time.Time, bool) {
	return r.timeField(FieldCreatedAt)
}

// UpdatedAt parses the record's updated_at timestamp.
func (r Record) UpdatedAt() (time.Time, bool) {
	return r.timeField(FieldUpdatedAt)
}

func (r Record) timeField(field string) (time.Time, bool) {
	s, ok := r[field].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a deep copy of the record. Nested maps and slices are
// copied so callers can never mutate stored state through a returned record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// CloneRecords deep-copies a slice of records.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, nested := range val {
			cp[k] = cloneValue(nested)
		}
		return cp
	case Record:
		return cloneValue(map[string]any(val))
	case []any:
		cp := make([]any, len(val))
		for i, nested := range val {
			cp[i] = cloneValue(nested)
		}
		return cp
	default:
		return v
	}
}

// AsInt64 coerces the numeric representations JSON decoding and in-process
// writes produce into an int64. Fractional floats do not coerce.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
