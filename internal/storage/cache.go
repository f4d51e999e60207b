package storage

import (
	"sync"
	"time"

	"brewcore/pkg/domain"
)

// snapshotCache holds the last-parsed collection content keyed by the
// file's modification time at the moment it was read. The mutex is
// process-local and distinct from the cross-process file lock; it only
// guards the cached fields against concurrent goroutines.
type snapshotCache struct {
	mu      sync.Mutex
	records []domain.Record
	modTime time.Time
	valid   bool
}

// get returns a deep copy of the cached content when the file's current
// mod time matches the cached one.
func (c *snapshotCache) get(modTime time.Time) ([]domain.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || !c.modTime.Equal(modTime) {
		return nil, false
	}
	return domain.CloneRecords(c.records), true
}

// set replaces the cache with the just-read or just-written content.
func (c *snapshotCache) set(records []domain.Record, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = domain.CloneRecords(records)
	c.modTime = modTime
	c.valid = true
}

// invalidate drops the cache unconditionally.
func (c *snapshotCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.modTime = time.Time{}
	c.valid = false
}
