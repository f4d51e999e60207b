// Package storage implements the generic file-backed repository at the
// heart of the store: create/read/update/delete over one entity-type
// collection file, composing the cross-process lock manager, the mtime-keyed
// snapshot cache, and the closed-schema registry.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"brewcore/internal/filelock"
	"brewcore/internal/jsonfile"
	"brewcore/internal/schema"
	"brewcore/pkg/domain"
)

// DefaultLockTimeout bounds lock acquisition when Options leaves it unset.
const DefaultLockTimeout = 10 * time.Second

// Options configures a repository.
type Options struct {
	// Dir is the tenant data directory holding the collection files.
	Dir string
	// Entity names the collection; the file is <Dir>/<Entity>.json.
	Entity string
	// Schemas provides the closed field sets. Entity types without a
	// registered schema skip strip and validation entirely.
	Schemas *schema.Registry
	// Locks hands out the cross-process file locks.
	Locks *filelock.Manager
	// LockTimeout bounds every lock acquisition. Zero means
	// DefaultLockTimeout.
	LockTimeout time.Duration
	Logger      *slog.Logger
	Metrics     MetricsRecorder
	Journal     Journal
	// Clock injects time for tests. Nil means time.Now.
	Clock func() time.Time
}

// Repository is the generic storage engine for one entity-type collection.
// All returned records are deep copies; callers can never mutate cached or
// stored state through them.
type Repository struct {
	entity      string
	file        string
	schema      *schema.Schema
	lock        *filelock.Lock
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     MetricsRecorder
	journal     Journal
	clock       func() time.Time
	cache       snapshotCache
}

// NewRepository wires a repository for one entity type.
func NewRepository(opts Options) (*Repository, error) {
	if opts.Entity == "" {
		return nil, fmt.Errorf("storage: entity type required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("storage: data directory required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("storage: lock manager required")
	}
	file := filepath.Join(opts.Dir, opts.Entity+".json")
	lock, err := opts.Locks.ForFile(file)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		entity:      opts.Entity,
		file:        file,
		lock:        lock,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		journal:     opts.Journal,
		clock:       opts.Clock,
	}
	if opts.Schemas != nil {
		if s, ok := opts.Schemas.Get(opts.Entity); ok {
			r.schema = s
		}
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = DefaultLockTimeout
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.metrics == nil {
		r.metrics = NopMetrics{}
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r, nil
}

// EntityType implements domain.Repository.
func (r *Repository) EntityType() string { return r.entity }

// File returns the collection file path.
func (r *Repository) File() string { return r.file }

// Invalidate implements domain.Repository.
func (r *Repository) Invalidate() { r.cache.invalidate() }

// Create implements domain.Repository. The cross-process lock is held for
// the full read-compute-write cycle so concurrent creates from separate
// processes cannot mint duplicate ids.
func (r *Repository) Create(ctx context.Context, input domain.Record) (domain.Record, error) {
	start := time.Now()
	rec, err := r.create(ctx, input)
	r.metrics.Observe(r.entity, "create", err, time.Since(start))
	return rec, err
}

func (r *Repository) create(ctx context.Context, input domain.Record) (domain.Record, error) {
	if err := r.lock.Acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = r.lock.Release() }()

	records, err := r.loadLocked()
	if err != nil {
		return nil, err
	}

	rec := r.strip(input)
	var maxID int64
	for _, existing := range records {
		if id := existing.ID(); id > maxID {
			maxID = id
		}
	}
	now := r.now()
	rec[domain.FieldID] = maxID + 1
	rec[domain.FieldCreatedAt] = now
	rec[domain.FieldUpdatedAt] = now

	if err := r.validate(rec); err != nil {
		return nil, err
	}

	records = append(records, rec)
	if err := r.writeLocked(records); err != nil {
		return nil, err
	}
	r.journalAppend(ctx, ActionCreate, rec)
	return rec.Clone(), nil
}

// Update implements domain.Repository. A missing id yields (nil, nil), not
// an error, so the caller chooses the response.
func (r *Repository) Update(ctx context.Context, id int64, input domain.Record) (domain.Record, error) {
	start := time.Now()
	rec, err := r.update(ctx, id, input)
	r.metrics.Observe(r.entity, "update", err, time.Since(start))
	return rec, err
}

func (r *Repository) update(ctx context.Context, id int64, input domain.Record) (domain.Record, error) {
	if err := r.lock.Acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = r.lock.Release() }()

	records, err := r.loadLocked()
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, nil
	}

	existing := records[idx]
	createdAt := existing[domain.FieldCreatedAt]

	// Strip both sides so a stale denormalized field on disk cannot survive
	// the merge either.
	merged := r.strip(existing)
	for k, v := range r.strip(input) {
		merged[k] = v
	}
	merged[domain.FieldID] = id
	merged[domain.FieldCreatedAt] = createdAt
	merged[domain.FieldUpdatedAt] = r.now()

	if err := r.validate(merged); err != nil {
		return nil, err
	}

	records[idx] = merged
	if err := r.writeLocked(records); err != nil {
		return nil, err
	}
	r.journalAppend(ctx, ActionUpdate, merged)
	return merged.Clone(), nil
}

// Delete implements domain.Repository. The file is rewritten only when a
// record was actually removed.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	removed, err := r.remove(ctx, id)
	r.metrics.Observe(r.entity, "delete", err, time.Since(start))
	return removed, err
}

func (r *Repository) remove(ctx context.Context, id int64) (bool, error) {
	if err := r.lock.Acquire(ctx, r.lockTimeout); err != nil {
		return false, err
	}
	defer func() { _ = r.lock.Release() }()

	records, err := r.loadLocked()
	if err != nil {
		return false, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return false, nil
	}
	removed := records[idx]
	records = append(records[:idx], records[idx+1:]...)
	if err := r.writeLocked(records); err != nil {
		return false, err
	}
	r.journalAppend(ctx, ActionDelete, removed)
	return true, nil
}

// FindByID implements domain.Repository, returning (nil, nil) when absent.
func (r *Repository) FindByID(ctx context.Context, id int64) (domain.Record, error) {
	start := time.Now()
	records, err := r.snapshot(ctx)
	r.metrics.Observe(r.entity, "find_by_id", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if idx := indexOf(records, id); idx >= 0 {
		return records[idx], nil
	}
	return nil, nil
}

// FindAll implements domain.Repository.
func (r *Repository) FindAll(ctx context.Context) ([]domain.Record, error) {
	start := time.Now()
	records, err := r.snapshot(ctx)
	r.metrics.Observe(r.entity, "find_all", err, time.Since(start))
	return records, err
}

// snapshot serves reads through the cache: a matching mod time returns the
// cached copy without touching disk, anything else takes the lock and
// re-reads.
func (r *Repository) snapshot(ctx context.Context) ([]domain.Record, error) {
	modTime, exists, err := jsonfile.ModTime(r.file)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if records, ok := r.cache.get(modTime); ok {
		return records, nil
	}
	if err := r.lock.Acquire(ctx, r.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = r.lock.Release() }()
	return r.refreshLocked()
}

// loadLocked returns the current collection content for a mutation. The
// caller must hold the file lock.
func (r *Repository) loadLocked() ([]domain.Record, error) {
	modTime, exists, err := jsonfile.ModTime(r.file)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	if records, ok := r.cache.get(modTime); ok {
		return records, nil
	}
	return r.refreshLocked()
}

func (r *Repository) refreshLocked() ([]domain.Record, error) {
	records, modTime, err := jsonfile.ReadRecords(r.file)
	if err != nil {
		return nil, err
	}
	r.cache.set(records, modTime)
	r.logger.Debug("collection cache refreshed", "entity", r.entity, "records", len(records))
	return domain.CloneRecords(records), nil
}

// writeLocked persists the collection atomically and refreshes the cache to
// the just-written content, so the next read needs no disk I/O.
func (r *Repository) writeLocked(records []domain.Record) error {
	modTime, err := jsonfile.WriteRecords(r.file, records)
	if err != nil {
		return err
	}
	r.cache.set(records, modTime)
	return nil
}

func (r *Repository) strip(rec domain.Record) domain.Record {
	if r.schema == nil {
		return rec.Clone()
	}
	return r.schema.StripUnknown(rec)
}

func (r *Repository) validate(rec domain.Record) error {
	if r.schema == nil {
		return nil
	}
	return r.schema.Validate(rec)
}

func (r *Repository) now() string {
	return r.clock().UTC().Format(domain.TimeLayout)
}

func (r *Repository) journalAppend(ctx context.Context, action Action, rec domain.Record) {
	if r.journal == nil {
		return
	}
	entry := JournalEntry{
		Entity:   r.entity,
		RecordID: rec.ID(),
		Action:   action,
		Payload:  rec.Clone(),
		At:       r.clock().UTC(),
	}
	if err := r.journal.Append(ctx, entry); err != nil {
		r.logger.Warn("journal append failed", "entity", r.entity, "action", string(action), "error", err)
	}
}

func indexOf(records []domain.Record, id int64) int {
	for i, rec := range records {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}
