package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brewcore/internal/storage"
	"brewcore/pkg/domain"
)

func openTestJournal(t *testing.T) *SQLite {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndTail(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	entries := []storage.JournalEntry{
		{Entity: "grinders", RecordID: 1, Action: storage.ActionCreate,
			Payload: domain.Record{domain.FieldID: int64(1), domain.FieldName: "Encore"}, At: at},
		{Entity: "grinders", RecordID: 1, Action: storage.ActionUpdate,
			Payload: domain.Record{domain.FieldID: int64(1), "notes": "daily"}, At: at.Add(time.Minute)},
		{Entity: "brews", RecordID: 3, Action: storage.ActionDelete,
			Payload: domain.Record{domain.FieldID: int64(3)}, At: at.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	changes, err := j.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("Tail returned %d changes", len(changes))
	}
	// Newest first.
	if changes[0].Entity != "brews" || changes[0].Action != "delete" {
		t.Fatalf("newest change = %+v", changes[0])
	}
	if changes[2].Action != "create" || changes[2].Payload.Name() != "Encore" {
		t.Fatalf("oldest change = %+v", changes[2])
	}
	if !changes[2].At.Equal(at) {
		t.Fatalf("At = %v, want %v", changes[2].At, at)
	}
	if changes[0].Seq <= changes[2].Seq {
		t.Fatalf("sequence not monotonic: %d vs %d", changes[0].Seq, changes[2].Seq)
	}
}

func TestTailLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.Append(ctx, storage.JournalEntry{
			Entity: "brews", RecordID: int64(i + 1), Action: storage.ActionCreate,
			At: time.Now(),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	changes, err := j.Tail(ctx, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(changes) != 2 || changes[0].RecordID != 5 {
		t.Fatalf("Tail(2) = %+v", changes)
	}
}

func TestOpenReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.Append(context.Background(), storage.JournalEntry{
		Entity: "grinders", RecordID: 1, Action: storage.ActionCreate, At: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()
	changes, err := second.Tail(context.Background(), 10)
	if err != nil || len(changes) != 1 {
		t.Fatalf("Tail after reopen = (%v, %v)", changes, err)
	}
}
