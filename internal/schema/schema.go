// Package schema declares the closed per-entity field sets the store
// enforces. Stripping undeclared fields always runs before validation on
// create/update, which is what keeps derived or denormalized view data
// (an embedded related-object copy, a joined display field) from ever
// reaching durable storage.
package schema

import (
	"fmt"
	"sort"
	"time"

	"brewcore/pkg/domain"
)

// FieldType constrains the JSON representation of a declared field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	// TypeTime is a string holding a UTC timestamp in domain.TimeLayout.
	TypeTime FieldType = "time"
)

// Field declares one allowed field with its constraints.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string // TypeString only
	Min      *float64 // numeric types
	Max      *float64
}

// Schema is the closed declaration for one entity type. Fields outside the
// declared set (plus the engine-managed id/created_at/updated_at and, for
// lookups, is_default) are not permitted.
type Schema struct {
	Entity string
	fields map[string]Field
}

// New builds a schema from its field declarations.
func New(entity string, fields ...Field) *Schema {
	s := &Schema{Entity: entity, fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		s.fields[f.Name] = f
	}
	return s
}

// engineFields are always allowed; the engine owns their values.
var engineFields = map[string]struct{}{
	domain.FieldID:        {},
	domain.FieldCreatedAt: {},
	domain.FieldUpdatedAt: {},
	domain.FieldIsDefault: {},
}

// Allows reports whether the field may appear in a stored record.
func (s *Schema) Allows(field string) bool {
	if _, ok := engineFields[field]; ok {
		return true
	}
	_, ok := s.fields[field]
	return ok
}

// FieldNames returns the declared field names in stable order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StripUnknown returns a copy of the record with every undeclared field
// removed.
func (s *Schema) StripUnknown(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		if s.Allows(k) {
			out[k] = v
		}
	}
	return out.Clone()
}

// Validate checks required fields and per-field constraints, reporting
// every offending field in a single ValidationError.
func (s *Schema) Validate(rec domain.Record) error {
	var offending []domain.FieldError
	names := s.FieldNames()
	for _, name := range names {
		f := s.fields[name]
		v, present := rec[name]
		if !present || v == nil {
			if f.Required {
				offending = append(offending, domain.FieldError{Field: name, Reason: "required field missing"})
			}
			continue
		}
		if reason := checkField(f, v); reason != "" {
			offending = append(offending, domain.FieldError{Field: name, Reason: reason})
		}
	}
	if len(offending) > 0 {
		return &domain.ValidationError{Entity: s.Entity, Fields: offending}
	}
	return nil
}

func checkField(f Field, v any) string {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return fmt.Sprintf("value %q not in %v", s, f.Enum)
		}
	case TypeInt:
		n, ok := domain.AsInt64(v)
		if !ok {
			return fmt.Sprintf("expected integer, got %T", v)
		}
		if reason := checkRange(f, float64(n)); reason != "" {
			return reason
		}
	case TypeFloat:
		n, ok := asFloat64(v)
		if !ok {
			return fmt.Sprintf("expected number, got %T", v)
		}
		if reason := checkRange(f, n); reason != "" {
			return reason
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case TypeTime:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected timestamp string, got %T", v)
		}
		if _, err := time.Parse(domain.TimeLayout, s); err != nil {
			return fmt.Sprintf("timestamp %q does not match %s", s, domain.TimeLayout)
		}
	}
	return ""
}

func checkRange(f Field, n float64) string {
	if f.Min != nil && n < *f.Min {
		return fmt.Sprintf("value %v below minimum %v", n, *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("value %v above maximum %v", n, *f.Max)
	}
	return ""
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// Registry holds one schema per entity type. Entity types without a
// registered schema skip validation entirely; this is intentional, letting
// free-form collections opt out of strict checking.
type Registry struct {
	schemas map[string]*Schema
	lookups map[string]LookupConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*Schema),
		lookups: make(map[string]LookupConfig),
	}
}

// Register adds or replaces the schema for its entity type.
func (r *Registry) Register(s *Schema) {
	r.schemas[s.Entity] = s
}

// RegisterLookup declares an entity type as lookup-flavored with its
// smart-default configuration.
func (r *Registry) RegisterLookup(cfg LookupConfig) {
	r.lookups[cfg.Entity] = cfg
}

// Get returns the schema for an entity type, or ok=false for unmodeled
// types.
func (r *Registry) Get(entity string) (*Schema, bool) {
	s, ok := r.schemas[entity]
	return s, ok
}

// Lookup returns the lookup configuration for an entity type.
func (r *Registry) Lookup(entity string) (LookupConfig, bool) {
	cfg, ok := r.lookups[entity]
	return cfg, ok
}

// Entities returns every registered entity type in stable order.
func (r *Registry) Entities() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupConfig describes how a lookup collection's smart default is ranked:
// which collection's records reference it, through which field, and the
// weights/horizon applied to frequency and recency.
type LookupConfig struct {
	Entity          string
	UsageEntity     string
	UsageField      string
	HorizonDays     int
	FrequencyWeight float64
	RecencyWeight   float64
}
