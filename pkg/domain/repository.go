package domain

import "context"

// Repository is the per-entity-type storage contract exposed to the layers
// above the store. Absent records surface as nil results, not errors.
type Repository interface {
	// EntityType names the collection this repository owns.
	EntityType() string

	// Create strips undeclared fields, assigns the next id, stamps
	// timestamps, validates, and durably appends the record. The returned
	// record is a copy of what was stored.
	Create(ctx context.Context, input Record) (Record, error)

	// Update merges input over the stored record (input wins per field),
	// preserving id and created_at and restamping updated_at. Returns
	// (nil, nil) when no record has the given id.
	Update(ctx context.Context, id int64, input Record) (Record, error)

	// Delete removes the record with the given id. It reports whether a
	// record was removed; deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) (bool, error)

	// FindByID returns a deep copy of the matching record, or (nil, nil)
	// when absent.
	FindByID(ctx context.Context, id int64) (Record, error)

	// FindAll returns deep copies of every record in the collection.
	FindAll(ctx context.Context) ([]Record, error)

	// Invalidate unconditionally drops the repository's cache so the next
	// read observes the on-disk state. Used after migrations rewrite files
	// outside this instance.
	Invalidate()
}

// LookupRepository extends Repository for lookup-flavored collections:
// name-based dedup, an at-most-one default flag, and usage-ranked smart
// defaults.
type LookupRepository interface {
	Repository

	// FindByName matches case-insensitively, ignoring leading/trailing
	// whitespace. Returns (nil, nil) when nothing matches.
	FindByName(ctx context.Context, name string) (Record, error)

	// FindByShortForm matches the short_form field with the same semantics.
	FindByShortForm(ctx context.Context, code string) (Record, error)

	// FindByNameOrShortForm tries name first, then short_form.
	FindByNameOrShortForm(ctx context.Context, identifier string) (Record, error)

	// GetOrCreate returns the existing record matching name, creating one
	// from name plus extra fields otherwise.
	GetOrCreate(ctx context.Context, name string, extra Record) (Record, error)

	// Search returns records whose name or short_form contains the query,
	// case-insensitively.
	Search(ctx context.Context, query string) ([]Record, error)

	// SetDefault marks exactly the given record as the default, clearing
	// the flag on every other record within one locked write. Returns
	// ErrNotFound when the id is absent.
	SetDefault(ctx context.Context, id int64) (Record, error)

	// ClearDefault clears the flag on exactly the given record.
	ClearDefault(ctx context.Context, id int64) (Record, error)

	// GetSmartDefault returns the manual default when one exists, otherwise
	// the record ranked highest by usage frequency and recency. Empty
	// collections yield (nil, nil).
	GetSmartDefault(ctx context.Context) (Record, error)
}
