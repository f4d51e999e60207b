package storage

import (
	"context"
	"time"

	"brewcore/pkg/domain"
)

// Action names a committed mutation in the audit journal.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// JournalEntry records one committed write for the audit trail.
type JournalEntry struct {
	Entity   string
	RecordID int64
	Action   Action
	Payload  domain.Record
	At       time.Time
}

// Journal receives an entry after every committed create/update/delete.
// Appending is best effort: a failing journal is logged, never surfaced to
// the caller, and never rolls back the durable write.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}
