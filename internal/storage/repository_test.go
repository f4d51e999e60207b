package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"brewcore/internal/filelock"
	"brewcore/internal/jsonfile"
	"brewcore/internal/schema"
	"brewcore/pkg/domain"
)

func testClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var fixedNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T, entity string) *Repository {
	t.Helper()
	repo, err := NewRepository(Options{
		Dir:     t.TempDir(),
		Entity:  entity,
		Schemas: schema.Builtin(),
		Locks:   filelock.NewManager(t.TempDir(), nil),
		Clock:   testClock(fixedNow),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo
}

func TestCreateStampsEngineFields(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()

	rec, err := repo.Create(ctx, domain.Record{
		domain.FieldName: "Baratza Encore",
		// Caller-supplied engine fields must be overridden.
		domain.FieldID:        int64(99),
		domain.FieldCreatedAt: "1999-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID() != 1 {
		t.Fatalf("first id = %d, want 1", rec.ID())
	}
	want := fixedNow.Format(domain.TimeLayout)
	if rec[domain.FieldCreatedAt] != want || rec[domain.FieldUpdatedAt] != want {
		t.Fatalf("timestamps not engine-stamped: %v", rec)
	}
}

func TestCreateStripsUnknownFields(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	rec, err := repo.Create(context.Background(), domain.Record{
		domain.FieldName: "Encore",
		"brew_count":     42,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := rec["brew_count"]; ok {
		t.Fatal("undeclared field persisted")
	}
	stored, err := repo.FindByID(context.Background(), rec.ID())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if _, ok := stored["brew_count"]; ok {
		t.Fatal("undeclared field reached disk")
	}
}

func TestCreateValidationFailureWritesNothing(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	_, err := repo.Create(ctx, domain.Record{"burr_type": "laser"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("failed create left %d records", len(all))
	}
}

func TestIDsAreMaxPlusOneAndNeverReused(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		rec, err := repo.Create(ctx, domain.Record{domain.FieldName: fmt.Sprintf("G%d", i)})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if rec.ID() != int64(i) {
			t.Fatalf("id = %d, want %d", rec.ID(), i)
		}
	}
	// Deleting id 2 must not free it: next id is max+1, not a gap fill.
	if removed, err := repo.Delete(ctx, 2); err != nil || !removed {
		t.Fatalf("Delete = (%v, %v)", removed, err)
	}
	rec, err := repo.Create(ctx, domain.Record{domain.FieldName: "G4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID() != 4 {
		t.Fatalf("id after delete = %d, want 4", rec.ID())
	}
	// Deleting the highest id does allow its value to be minted again.
	if _, err := repo.Delete(ctx, 4); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rec, err = repo.Create(ctx, domain.Record{domain.FieldName: "G5"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID() != 4 {
		t.Fatalf("id = %d, want 4 (max is 3 after deleting 4)", rec.ID())
	}
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	dir := t.TempDir()
	locks := filelock.NewManager(t.TempDir(), nil)
	early := fixedNow.Add(-48 * time.Hour)
	repo, err := NewRepository(Options{
		Dir: dir, Entity: "grinders", Schemas: schema.Builtin(),
		Locks: locks, Clock: testClock(early),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	ctx := context.Background()
	created, err := repo.Create(ctx, domain.Record{domain.FieldName: "Encore"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Advance the clock, update through a fresh repository on the same file.
	repo2, err := NewRepository(Options{
		Dir: dir, Entity: "grinders", Schemas: schema.Builtin(),
		Locks: locks, Clock: testClock(fixedNow),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	updated, err := repo2.Update(ctx, created.ID(), domain.Record{
		"burr_type":           "conical",
		domain.FieldCreatedAt: "2031-01-01T00:00:00Z", // must be ignored
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated == nil {
		t.Fatal("Update returned nil for existing record")
	}
	if updated[domain.FieldCreatedAt] != early.Format(domain.TimeLayout) {
		t.Fatalf("created_at changed on update: %v", updated[domain.FieldCreatedAt])
	}
	if updated[domain.FieldUpdatedAt] != fixedNow.Format(domain.TimeLayout) {
		t.Fatalf("updated_at not restamped: %v", updated[domain.FieldUpdatedAt])
	}
	if updated["burr_type"] != "conical" || updated.Name() != "Encore" {
		t.Fatalf("merge damaged fields: %v", updated)
	}
}

func TestUpdateMissingRecordReturnsNilNil(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	rec, err := repo.Update(context.Background(), 42, domain.Record{"notes": "x"})
	if err != nil || rec != nil {
		t.Fatalf("Update missing = (%v, %v), want (nil, nil)", rec, err)
	}
}

func TestDeleteMissingRecordReturnsFalse(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	removed, err := repo.Delete(context.Background(), 42)
	if err != nil || removed {
		t.Fatalf("Delete missing = (%v, %v), want (false, nil)", removed, err)
	}
}

func TestFindByIDMissingReturnsNilNil(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	rec, err := repo.FindByID(context.Background(), 42)
	if err != nil || rec != nil {
		t.Fatalf("FindByID missing = (%v, %v), want (nil, nil)", rec, err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	created, err := repo.Create(ctx, domain.Record{domain.FieldName: "Encore"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created[domain.FieldName] = "mutated"

	stored, err := repo.FindByID(ctx, 1)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Name() != "Encore" {
		t.Fatal("mutation of returned record leaked into storage")
	}
	stored[domain.FieldName] = "mutated again"
	again, _ := repo.FindByID(ctx, 1)
	if again.Name() != "Encore" {
		t.Fatal("mutation of read result leaked into cache")
	}
}

func TestSnapshotCacheSeesExternalWrites(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	if _, err := repo.Create(ctx, domain.Record{domain.FieldName: "Encore"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.FindAll(ctx); err != nil {
		t.Fatalf("FindAll: %v", err)
	}

	// Another process rewrites the file behind the repository's back.
	external := []domain.Record{
		{domain.FieldID: float64(1), domain.FieldName: "Encore"},
		{domain.FieldID: float64(2), domain.FieldName: "C40"},
	}
	if _, err := jsonfile.WriteRecords(repo.File(), external); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("stale cache served after external write: %d records", len(all))
	}
}

func TestInvalidateForcesReread(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	if _, err := repo.Create(ctx, domain.Record{domain.FieldName: "Encore"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repo.Invalidate()
	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll after invalidate: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records", len(all))
	}
}

func TestUnmodeledEntitySkipsValidation(t *testing.T) {
	repo, err := NewRepository(Options{
		Dir:     t.TempDir(),
		Entity:  "freeform",
		Schemas: schema.Builtin(),
		Locks:   filelock.NewManager(t.TempDir(), nil),
		Clock:   testClock(fixedNow),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	rec, err := repo.Create(context.Background(), domain.Record{"anything": "goes"})
	if err != nil {
		t.Fatalf("Create on unmodeled entity: %v", err)
	}
	if rec["anything"] != "goes" {
		t.Fatalf("field stripped despite no schema: %v", rec)
	}
}

func TestConcurrentCreatesMintUniqueIDs(t *testing.T) {
	repo := newTestRepo(t, "grinders")
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	ids := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := repo.Create(ctx, domain.Record{domain.FieldName: fmt.Sprintf("G%d", i)})
			if err != nil {
				errs <- err
				return
			}
			ids <- rec.ID()
		}(i)
	}
	wg.Wait()
	close(ids)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Create: %v", err)
	}
	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Fatalf("id %d never minted; got %v", want, seen)
		}
	}
}

func TestJournalReceivesMutations(t *testing.T) {
	var mu sync.Mutex
	var entries []JournalEntry
	jnl := journalFunc(func(_ context.Context, e JournalEntry) error {
		mu.Lock()
		defer mu.Unlock()
		entries = append(entries, e)
		return nil
	})
	repo, err := NewRepository(Options{
		Dir:     t.TempDir(),
		Entity:  "grinders",
		Schemas: schema.Builtin(),
		Locks:   filelock.NewManager(t.TempDir(), nil),
		Journal: jnl,
		Clock:   testClock(fixedNow),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	ctx := context.Background()
	rec, err := repo.Create(ctx, domain.Record{domain.FieldName: "Encore"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Update(ctx, rec.ID(), domain.Record{"notes": "daily driver"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := repo.Delete(ctx, rec.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(entries) != 3 {
		t.Fatalf("journal got %d entries, want 3", len(entries))
	}
	wantActions := []Action{ActionCreate, ActionUpdate, ActionDelete}
	for i, e := range entries {
		if e.Action != wantActions[i] || e.Entity != "grinders" || e.RecordID != rec.ID() {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
}

type journalFunc func(ctx context.Context, e JournalEntry) error

func (f journalFunc) Append(ctx context.Context, e JournalEntry) error { return f(ctx, e) }
