// Package migration evolves a tenant's on-disk data between schema
// generations. It compares the tenant's data version marker against the
// program's target schema version, snapshots the tenant directory unless
// every step is declared additive, and executes registered direct
// version-to-version edges in order. Multi-hop chaining is not implemented:
// only a single registered "from->to" edge is ever resolved.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/mod/semver"

	"brewcore/internal/jsonfile"
	"brewcore/internal/schema"
	"brewcore/pkg/domain"
)

// BaselineVersion is the implied data version when a tenant carries no
// marker file.
const BaselineVersion = "1.0"

// Env is what a migration function sees: the tenant directory plus helpers
// for reading and writing collections the same way the engine does.
type Env struct {
	TenantDir string
	Schemas   *schema.Registry
	Logger    *slog.Logger
}

// CollectionPath returns the file backing an entity type in this tenant.
func (e Env) CollectionPath(entity string) string {
	return collectionPath(e.TenantDir, entity)
}

// ReadCollection loads an entity type's records. A missing file reads as an
// empty collection so migrations tolerate freshly provisioned tenants.
func (e Env) ReadCollection(entity string) ([]domain.Record, error) {
	records, _, err := jsonfile.ReadRecords(e.CollectionPath(entity))
	return records, err
}

// WriteCollection atomically replaces an entity type's records.
func (e Env) WriteCollection(entity string, records []domain.Record) error {
	_, err := jsonfile.WriteRecords(e.CollectionPath(entity), records)
	return err
}

// EnsureCollection creates an empty collection file when none exists.
// Already-present files are left untouched, so the helper is safe to
// reapply.
func (e Env) EnsureCollection(entity string) error {
	path := e.CollectionPath(entity)
	if _, exists, err := jsonfile.ModTime(path); err != nil || exists {
		return err
	}
	_, err := jsonfile.WriteRecords(path, nil)
	return err
}

// Migration is one registered edge between two adjacent schema versions.
// Run must detect "already applied" and no-op, and must tolerate missing or
// empty source collections; the manager imposes this contract on authors
// rather than verifying it.
type Migration struct {
	From        string
	To          string
	Description string
	// Additive marks a migration that only creates new, empty structures.
	// The pre-run backup is skipped only when every edge on the path is
	// additive.
	Additive bool
	Run      func(ctx context.Context, env Env) error
}

// Key returns the edge's registry key.
func (m Migration) Key() string { return m.From + "->" + m.To }

// Registry holds the registered migration edges.
type Registry struct {
	edges map[string]Migration
}

// NewRegistry creates an empty migration registry.
func NewRegistry() *Registry {
	return &Registry{edges: make(map[string]Migration)}
}

// Register adds an edge, replacing any previous registration of the same
// version pair.
func (r *Registry) Register(m Migration) error {
	if m.From == "" || m.To == "" || m.Run == nil {
		return fmt.Errorf("migration %q incomplete", m.Key())
	}
	if Compare(m.From, m.To) >= 0 {
		return fmt.Errorf("migration %q does not advance the version", m.Key())
	}
	r.edges[m.Key()] = m
	return nil
}

// Path resolves the direct edge from one version to another. Only a single
// registered edge is considered; an unregistered pair yields an empty path.
func (r *Registry) Path(from, to string) []Migration {
	if m, ok := r.edges[from+"->"+to]; ok {
		return []Migration{m}
	}
	return nil
}

// Compare orders two versions semantically. Inputs are the bare "1.4" style
// markers stored on disk.
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

func canonical(v string) string {
	if v == "" {
		return ""
	}
	return "v" + v
}

func collectionPath(dir, entity string) string {
	return filepath.Join(dir, entity+".json")
}
