package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brewcore/internal/schema"
	"brewcore/pkg/domain"
)

// UsageSource reads the records of the collection whose entries reference a
// lookup collection, for smart-default ranking. Typically another
// repository's FindAll.
type UsageSource func(ctx context.Context) ([]domain.Record, error)

// LookupRepository specializes Repository for lookup collections: name
// dedup, the at-most-one is_default invariant, and usage-ranked smart
// defaults.
type LookupRepository struct {
	*Repository
	cfg   schema.LookupConfig
	usage UsageSource
}

// NewLookupRepository wraps a base repository with lookup semantics. usage
// may be nil, in which case smart defaults fall back to creation-order
// tie-breaking alone.
func NewLookupRepository(base *Repository, cfg schema.LookupConfig, usage UsageSource) *LookupRepository {
	return &LookupRepository{Repository: base, cfg: cfg, usage: usage}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindByName returns the record whose name matches, ignoring case and
// leading/trailing whitespace. (nil, nil) when nothing matches.
func (l *LookupRepository) FindByName(ctx context.Context, name string) (domain.Record, error) {
	return l.findByField(ctx, domain.FieldName, name)
}

// FindByShortForm matches the short_form field with the same semantics.
func (l *LookupRepository) FindByShortForm(ctx context.Context, code string) (domain.Record, error) {
	return l.findByField(ctx, domain.FieldShortForm, code)
}

// FindByNameOrShortForm tries the name, then the short form.
func (l *LookupRepository) FindByNameOrShortForm(ctx context.Context, identifier string) (domain.Record, error) {
	rec, err := l.FindByName(ctx, identifier)
	if err != nil || rec != nil {
		return rec, err
	}
	return l.FindByShortForm(ctx, identifier)
}

func (l *LookupRepository) findByField(ctx context.Context, field, value string) (domain.Record, error) {
	want := normalizeKey(value)
	if want == "" {
		return nil, nil
	}
	records, err := l.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if s, ok := rec[field].(string); ok && normalizeKey(s) == want {
			return rec, nil
		}
	}
	return nil, nil
}

// GetOrCreate returns the existing record matching name, creating one from
// name plus extra fields otherwise.
func (l *LookupRepository) GetOrCreate(ctx context.Context, name string, extra domain.Record) (domain.Record, error) {
	existing, err := l.FindByName(ctx, name)
	if err != nil || existing != nil {
		return existing, err
	}
	input := extra.Clone()
	if input == nil {
		input = domain.Record{}
	}
	input[domain.FieldName] = strings.TrimSpace(name)
	return l.Create(ctx, input)
}

// Search returns records whose name or short form contains the query,
// case-insensitively.
func (l *LookupRepository) Search(ctx context.Context, query string) ([]domain.Record, error) {
	q := normalizeKey(query)
	records, err := l.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return records, nil
	}
	var out []domain.Record
	for _, rec := range records {
		if strings.Contains(normalizeKey(rec.Name()), q) ||
			strings.Contains(normalizeKey(rec.ShortForm()), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SetDefault marks the given record as the single default. Clearing every
// other flag and setting the target happens inside one locked
// read-modify-write cycle, so no interleaving of concurrent calls can leave
// two records marked default.
func (l *LookupRepository) SetDefault(ctx context.Context, id int64) (domain.Record, error) {
	start := time.Now()
	rec, err := l.setDefault(ctx, id)
	l.metrics.Observe(l.entity, "set_default", err, time.Since(start))
	return rec, err
}

func (l *LookupRepository) setDefault(ctx context.Context, id int64) (domain.Record, error) {
	if err := l.lock.Acquire(ctx, l.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = l.lock.Release() }()

	records, err := l.loadLocked()
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("%s %d: %w", l.entity, id, domain.ErrNotFound)
	}
	now := l.now()
	for i, rec := range records {
		if i == idx {
			rec[domain.FieldIsDefault] = true
			rec[domain.FieldUpdatedAt] = now
		} else if rec.IsDefault() {
			rec[domain.FieldIsDefault] = false
			rec[domain.FieldUpdatedAt] = now
		}
	}
	if err := l.writeLocked(records); err != nil {
		return nil, err
	}
	l.journalAppend(ctx, ActionUpdate, records[idx])
	return records[idx].Clone(), nil
}

// ClearDefault clears the flag on exactly the given record.
func (l *LookupRepository) ClearDefault(ctx context.Context, id int64) (domain.Record, error) {
	start := time.Now()
	rec, err := l.clearDefault(ctx, id)
	l.metrics.Observe(l.entity, "clear_default", err, time.Since(start))
	return rec, err
}

func (l *LookupRepository) clearDefault(ctx context.Context, id int64) (domain.Record, error) {
	if err := l.lock.Acquire(ctx, l.lockTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = l.lock.Release() }()

	records, err := l.loadLocked()
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("%s %d: %w", l.entity, id, domain.ErrNotFound)
	}
	records[idx][domain.FieldIsDefault] = false
	records[idx][domain.FieldUpdatedAt] = l.now()
	if err := l.writeLocked(records); err != nil {
		return nil, err
	}
	l.journalAppend(ctx, ActionUpdate, records[idx])
	return records[idx].Clone(), nil
}

// GetSmartDefault returns the manual default when one exists. Otherwise
// every candidate is scored as
//
//	score = frequencyWeight*frequency + recencyWeight*recency
//
// where frequency counts referencing records in the usage collection and
// recency decays linearly from 1 to 0 over the configured horizon since the
// most recent referencing record's creation. An empty collection yields
// (nil, nil); a singleton always wins without scoring; ties break to the
// earliest-created record, then the lowest id.
func (l *LookupRepository) GetSmartDefault(ctx context.Context) (domain.Record, error) {
	start := time.Now()
	rec, err := l.smartDefault(ctx)
	l.metrics.Observe(l.entity, "get_smart_default", err, time.Since(start))
	return rec, err
}

func (l *LookupRepository) smartDefault(ctx context.Context) (domain.Record, error) {
	records, err := l.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	for _, rec := range records {
		if rec.IsDefault() {
			return rec, nil
		}
	}
	if len(records) == 1 {
		return records[0], nil
	}

	stats, err := l.usageStats(ctx)
	if err != nil {
		return nil, err
	}
	now := l.clock().UTC()

	best := records[0]
	bestScore := l.score(stats, best.ID(), now)
	for _, rec := range records[1:] {
		s := l.score(stats, rec.ID(), now)
		switch {
		case s > bestScore:
			best, bestScore = rec, s
		case s == bestScore && createdBefore(rec, best):
			best = rec
		}
	}
	return best, nil
}

type usageStat struct {
	count  int
	latest time.Time
}

func (l *LookupRepository) usageStats(ctx context.Context) (map[int64]usageStat, error) {
	stats := make(map[int64]usageStat)
	if l.usage == nil || l.cfg.UsageField == "" {
		return stats, nil
	}
	refs, err := l.usage(ctx)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		id, ok := domain.AsInt64(ref[l.cfg.UsageField])
		if !ok || id == 0 {
			continue
		}
		stat := stats[id]
		stat.count++
		if created, ok := ref.CreatedAt(); ok && created.After(stat.latest) {
			stat.latest = created
		}
		stats[id] = stat
	}
	return stats, nil
}

func (l *LookupRepository) score(stats map[int64]usageStat, id int64, now time.Time) float64 {
	stat, ok := stats[id]
	if !ok {
		return 0
	}
	recency := 0.0
	if horizon := float64(l.cfg.HorizonDays); horizon > 0 && !stat.latest.IsZero() {
		days := now.Sub(stat.latest).Hours() / 24
		if days < 0 {
			days = 0
		}
		if days < horizon {
			recency = 1 - days/horizon
		}
	}
	return l.cfg.FrequencyWeight*float64(stat.count) + l.cfg.RecencyWeight*recency
}

// createdBefore orders records by created_at, then id, for tie-breaks.
func createdBefore(a, b domain.Record) bool {
	at, aok := a.CreatedAt()
	bt, bok := b.CreatedAt()
	if aok && bok && !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.ID() < b.ID()
}
