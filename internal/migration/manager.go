package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"brewcore/internal/archive"
	"brewcore/internal/jsonfile"
	"brewcore/internal/schema"
	"brewcore/pkg/domain"
)

const (
	// DataVersionFile is the per-tenant marker declaring the on-disk data's
	// version. Advanced only by a fully successful migration run.
	DataVersionFile = "version.json"
	// SchemaVersionFile is the program-side declaration of the target
	// schema version, placed in the store root. Absent means no migration
	// is ever required.
	SchemaVersionFile = "schema_version.json"
	// BackupPrefix names the timestamped backup directories created inside
	// a tenant directory before a non-additive migration.
	BackupPrefix = "backup_"

	backupTimestampLayout = "20060102T150405"
)

// ErrNoPath reports that no direct migration edge bridges the data and
// schema versions.
var ErrNoPath = errors.New("no migration path found")

// versionMarker is the on-disk shape of both version files.
type versionMarker struct {
	Version     string `json:"version"`
	MigratedAt  string `json:"migrated_at,omitempty"`
	Description string `json:"description,omitempty"`
}

// Manager runs migrations for one tenant directory. It is constructed per
// tenant at process start, ahead of any repository use.
type Manager struct {
	root      string // store root holding the schema version declaration
	tenantDir string
	tenant    string
	registry  *Registry
	schemas   *schema.Registry
	archive   archive.Store // optional offsite copy of backups
	logger    *slog.Logger
	clock     func() time.Time
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Root      string
	TenantDir string
	Tenant    string
	Registry  *Registry
	Schemas   *schema.Registry
	Archive   archive.Store
	Logger    *slog.Logger
	Clock     func() time.Time
}

// NewManager wires a migration manager for one tenant.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.TenantDir == "" {
		return nil, fmt.Errorf("migration: tenant directory required")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Root == "" {
		opts.Root = filepath.Dir(opts.TenantDir)
	}
	return &Manager{
		root:      opts.Root,
		tenantDir: opts.TenantDir,
		tenant:    opts.Tenant,
		registry:  opts.Registry,
		schemas:   opts.Schemas,
		archive:   opts.Archive,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}, nil
}

// DataVersion reads the tenant's current data version, defaulting to the
// implied baseline when no marker exists.
func (m *Manager) DataVersion() (string, error) {
	var marker versionMarker
	found, err := jsonfile.ReadJSON(filepath.Join(m.tenantDir, DataVersionFile), &marker)
	if err != nil {
		return "", err
	}
	if !found || marker.Version == "" {
		return BaselineVersion, nil
	}
	return marker.Version, nil
}

// SchemaVersion reads the program's target schema version. An absent
// declaration file means no migration is required.
func (m *Manager) SchemaVersion() (string, error) {
	var marker versionMarker
	found, err := jsonfile.ReadJSON(filepath.Join(m.root, SchemaVersionFile), &marker)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return marker.Version, nil
}

// NeedsMigration reports whether the data version is semantically older
// than the schema version.
func (m *Manager) NeedsMigration() (bool, error) {
	data, err := m.DataVersion()
	if err != nil {
		return false, err
	}
	target, err := m.SchemaVersion()
	if err != nil {
		return false, err
	}
	if target == "" {
		return false, nil
	}
	return Compare(data, target) < 0, nil
}

// RunMigrations brings the tenant's data up to the target schema version.
// No-op success when nothing is needed. On any step failure the run aborts
// immediately and the data version marker is left unchanged, so a retry
// resumes from the same state; the backup, if taken, remains available for
// manual recovery.
func (m *Manager) RunMigrations(ctx context.Context) error {
	data, err := m.DataVersion()
	if err != nil {
		return err
	}
	target, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	if target == "" || Compare(data, target) >= 0 {
		m.logger.Debug("no migration needed", "tenant", m.tenant, "data_version", data, "schema_version", target)
		return nil
	}

	path := m.registry.Path(data, target)
	if len(path) == 0 {
		m.logger.Warn("no migration path found", "tenant", m.tenant, "from", data, "to", target)
		return &domain.MigrationError{From: data, To: target, Err: ErrNoPath}
	}

	if needsBackup(path) {
		if err := m.backup(ctx); err != nil {
			return &domain.MigrationError{From: data, To: target, Err: err}
		}
	} else {
		m.logger.Info("skipping backup for additive migration", "tenant", m.tenant, "from", data, "to", target)
	}

	env := Env{TenantDir: m.tenantDir, Schemas: m.schemas, Logger: m.logger}
	for _, step := range path {
		m.logger.Info("running migration", "tenant", m.tenant, "step", step.Key(), "description", step.Description)
		if err := step.Run(ctx, env); err != nil {
			m.logger.Error("migration failed", "tenant", m.tenant, "step", step.Key(), "error", err)
			return &domain.MigrationError{From: step.From, To: step.To, Err: err}
		}
	}

	last := path[len(path)-1]
	marker := versionMarker{
		Version:     target,
		MigratedAt:  m.clock().UTC().Format(domain.TimeLayout),
		Description: last.Description,
	}
	if err := jsonfile.WriteJSON(filepath.Join(m.tenantDir, DataVersionFile), marker); err != nil {
		return &domain.MigrationError{From: data, To: target, Err: err}
	}
	m.logger.Info("migration complete", "tenant", m.tenant, "version", target)
	return nil
}

// needsBackup is false only when every edge on the path declares itself
// additive.
func needsBackup(path []Migration) bool {
	for _, step := range path {
		if !step.Additive {
			return true
		}
	}
	return false
}

// backup snapshots the entire tenant directory into a timestamped sibling
// backup directory, skipping prior backups, then optionally exports a
// tar.gz of the snapshot to the archive store.
func (m *Manager) backup(ctx context.Context) error {
	stamp := m.clock().UTC().Format(backupTimestampLayout)
	dst := filepath.Join(m.tenantDir, BackupPrefix+stamp)
	if err := copyTree(m.tenantDir, dst, BackupPrefix); err != nil {
		return fmt.Errorf("backup tenant dir: %w", err)
	}
	m.logger.Info("created migration backup", "tenant", m.tenant, "backup", dst)

	if m.archive == nil {
		return nil
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.TarGzDir(dst, BackupPrefix, pw))
	}()
	key := fmt.Sprintf("%s/%s%s.tar.gz", m.tenant, BackupPrefix, stamp)
	if _, err := m.archive.Put(ctx, key, pr); err != nil {
		// Offsite export is best effort; the local backup already exists.
		m.logger.Warn("backup archive export failed", "tenant", m.tenant, "key", key, "error", err)
	} else {
		m.logger.Info("exported backup archive", "tenant", m.tenant, "key", key)
	}
	return nil
}

// copyTree recursively copies src into dst, skipping top-level entries
// whose name carries skipPrefix.
func copyTree(src, dst, skipPrefix string) error {
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if skipPrefix != "" && strings.HasPrefix(entry.Name(), skipPrefix) {
			continue
		}
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyTree(from, to, ""); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to, entry); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
