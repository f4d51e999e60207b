// Package tenant creates and caches repository instances per
// (tenant, entity type) pair and manages tenant directory lifecycle. A
// tenant is a namespace isolating one full set of collections under its own
// directory beneath the store root.
package tenant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brewcore/internal/archive"
	"brewcore/internal/filelock"
	"brewcore/internal/journal"
	"brewcore/internal/migration"
	"brewcore/internal/schema"
	"brewcore/internal/storage"
	"brewcore/pkg/domain"
)

// EphemeralPrefix is the naming convention reserved for throwaway tenants
// removed by CleanupEphemeralTenants.
const EphemeralPrefix = "tmp-"

const (
	mkdirAttempts  = 3
	removeAttempts = 3
	retryBackoff   = 10 * time.Millisecond
)

// tenantIDPattern is the sole defense against path traversal via tenant id:
// identifiers are restricted to letters, digits, dash, and underscore
// before ever being joined into a filesystem path.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateTenantID rejects empty, whitespace-only, path-separator-carrying,
// or traversal-attempting identifiers.
func ValidateTenantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("tenant id must not be empty")
	}
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("invalid tenant id %q: only letters, digits, dash, and underscore are allowed", id)
	}
	return nil
}

// EphemeralTenantID mints a fresh id under the ephemeral naming convention.
func EphemeralTenantID() string {
	return EphemeralPrefix + uuid.NewString()
}

// Options configures a Factory.
type Options struct {
	// Root is the store's data directory; each tenant gets a subdirectory.
	Root string
	// Schemas is shared by every repository the factory constructs.
	Schemas *schema.Registry
	// TemplateDir optionally holds the baseline dataset for
	// InitializeFromTemplate.
	TemplateDir string
	// Migrations registers the shipped migration edges.
	Migrations *migration.Registry
	// Archive optionally receives tar.gz exports of migration backups.
	Archive archive.Store
	// EnableJournal turns on the per-tenant SQLite audit journal.
	EnableJournal bool
	LockDir       string
	LockTimeout   time.Duration
	Logger        *slog.Logger
	Metrics       storage.MetricsRecorder
	Clock         func() time.Time
}

// Factory hands out cached repository singletons and owns tenant lifecycle.
type Factory struct {
	root        string
	schemas     *schema.Registry
	templateDir string
	migrations  *migration.Registry
	archive     archive.Store
	useJournal  bool
	locks       *filelock.Manager
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     storage.MetricsRecorder
	clock       func() time.Time

	mu       sync.Mutex
	repos    map[string]*storage.Repository
	lookups  map[string]*storage.LookupRepository
	journals map[string]*journal.SQLite
}

// New constructs a factory rooted at opts.Root, creating the root directory
// if needed.
func New(opts Options) (*Factory, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("tenant: store root required")
	}
	if err := os.MkdirAll(opts.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", opts.Root, err)
	}
	if opts.Schemas == nil {
		opts.Schemas = schema.Builtin()
	}
	if opts.Migrations == nil {
		opts.Migrations = migration.Builtin()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = storage.NopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = storage.DefaultLockTimeout
	}
	return &Factory{
		root:        opts.Root,
		schemas:     opts.Schemas,
		templateDir: opts.TemplateDir,
		migrations:  opts.Migrations,
		archive:     opts.Archive,
		useJournal:  opts.EnableJournal,
		locks:       filelock.NewManager(opts.LockDir, opts.Logger),
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		repos:       make(map[string]*storage.Repository),
		lookups:     make(map[string]*storage.LookupRepository),
		journals:    make(map[string]*journal.SQLite),
	}, nil
}

// Root returns the store's data directory.
func (f *Factory) Root() string { return f.root }

// TenantDir validates the id and returns the tenant's directory path
// without creating it.
func (f *Factory) TenantDir(tenant string) (string, error) {
	if err := ValidateTenantID(tenant); err != nil {
		return "", err
	}
	return filepath.Join(f.root, tenant), nil
}

// ensureTenantDir lazily creates the tenant directory on first use,
// retrying with backoff when creation races another process.
func (f *Factory) ensureTenantDir(tenant string) (string, error) {
	dir, err := f.TenantDir(tenant)
	if err != nil {
		return "", err
	}
	var lastErr error
	for attempt := 0; attempt < mkdirAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff << attempt)
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			lastErr = err
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("create tenant dir %s: %w", dir, lastErr)
}

// Repository returns the cached singleton repository for the pair,
// constructing it lazily.
func (f *Factory) Repository(tenant, entity string) (domain.Repository, error) {
	return f.repository(tenant, entity)
}

func (f *Factory) repository(tenant, entity string) (*storage.Repository, error) {
	if entity == "" {
		return nil, fmt.Errorf("entity type required")
	}
	dir, err := f.ensureTenantDir(tenant)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenant + "/" + entity
	if repo, ok := f.repos[key]; ok {
		return repo, nil
	}
	jnl, err := f.journalLocked(tenant, dir)
	if err != nil {
		return nil, err
	}
	repo, err := storage.NewRepository(storage.Options{
		Dir:         dir,
		Entity:      entity,
		Schemas:     f.schemas,
		Locks:       f.locks,
		LockTimeout: f.lockTimeout,
		Logger:      f.logger.With("tenant", tenant),
		Metrics:     f.metrics,
		Journal:     jnl,
		Clock:       f.clock,
	})
	if err != nil {
		return nil, err
	}
	f.repos[key] = repo
	return repo, nil
}

// Lookup returns the cached lookup repository for a lookup-flavored entity
// type.
func (f *Factory) Lookup(tenant, entity string) (domain.LookupRepository, error) {
	cfg, ok := f.schemas.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("entity type %s is not a lookup type", entity)
	}
	base, err := f.repository(tenant, entity)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := tenant + "/" + entity
	if repo, ok := f.lookups[key]; ok {
		return repo, nil
	}
	var usage storage.UsageSource
	if cfg.UsageEntity != "" {
		usage = func(ctx context.Context) ([]domain.Record, error) {
			ref, err := f.repository(tenant, cfg.UsageEntity)
			if err != nil {
				return nil, err
			}
			return ref.FindAll(ctx)
		}
	}
	repo := storage.NewLookupRepository(base, cfg, usage)
	f.lookups[key] = repo
	return repo, nil
}

// journalLocked opens (once per tenant) the audit journal. Caller holds
// f.mu.
func (f *Factory) journalLocked(tenant, dir string) (storage.Journal, error) {
	if !f.useJournal {
		return nil, nil
	}
	if jnl, ok := f.journals[tenant]; ok {
		return jnl, nil
	}
	jnl, err := journal.Open(filepath.Join(dir, journal.FileName))
	if err != nil {
		return nil, err
	}
	f.journals[tenant] = jnl
	return jnl, nil
}

// Journal exposes a tenant's audit journal, or nil when journaling is off.
func (f *Factory) Journal(tenant string) (*journal.SQLite, error) {
	if !f.useJournal {
		return nil, nil
	}
	dir, err := f.ensureTenantDir(tenant)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	jnl, err := f.journalLocked(tenant, dir)
	if err != nil {
		return nil, err
	}
	return jnl.(*journal.SQLite), nil
}

// Migrator builds the migration manager for a tenant.
func (f *Factory) Migrator(tenant string) (*migration.Manager, error) {
	dir, err := f.ensureTenantDir(tenant)
	if err != nil {
		return nil, err
	}
	return migration.NewManager(migration.ManagerOptions{
		Root:      f.root,
		TenantDir: dir,
		Tenant:    tenant,
		Registry:  f.migrations,
		Schemas:   f.schemas,
		Archive:   f.archive,
		Logger:    f.logger,
		Clock:     f.clock,
	})
}

// MigrateTenant runs pending migrations for one tenant and drops every
// affected repository cache afterward, since the migration rewrote files
// outside the owning repository instances.
func (f *Factory) MigrateTenant(ctx context.Context, tenant string) error {
	mgr, err := f.Migrator(tenant)
	if err != nil {
		return err
	}
	if err := mgr.RunMigrations(ctx); err != nil {
		return err
	}
	f.InvalidateAllCaches(tenant)
	return nil
}

// InitializeFromTemplate copies the baseline dataset into a tenant
// directory.
func (f *Factory) InitializeFromTemplate(tenant string) error {
	if f.templateDir == "" {
		return fmt.Errorf("no template directory configured")
	}
	dir, err := f.ensureTenantDir(tenant)
	if err != nil {
		return err
	}
	if err := copyDir(f.templateDir, dir); err != nil {
		return fmt.Errorf("initialize tenant %s from template: %w", tenant, err)
	}
	f.InvalidateAllCaches(tenant)
	f.logger.Info("initialized tenant from template", "tenant", tenant)
	return nil
}

// DeleteTenant removes the tenant's directory tree and evicts every cached
// repository for it. Removal retries on transient failures (a concurrently
// held file keeping the directory busy).
func (f *Factory) DeleteTenant(tenant string) error {
	dir, err := f.TenantDir(tenant)
	if err != nil {
		return err
	}

	f.mu.Lock()
	prefix := tenant + "/"
	for key := range f.repos {
		if strings.HasPrefix(key, prefix) {
			delete(f.repos, key)
		}
	}
	for key := range f.lookups {
		if strings.HasPrefix(key, prefix) {
			delete(f.lookups, key)
		}
	}
	if jnl, ok := f.journals[tenant]; ok {
		_ = jnl.Close()
		delete(f.journals, tenant)
	}
	f.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < removeAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff << attempt)
		}
		if lastErr = os.RemoveAll(dir); lastErr == nil {
			f.logger.Info("deleted tenant", "tenant", tenant)
			return nil
		}
	}
	return fmt.Errorf("delete tenant %s: %w", tenant, lastErr)
}

// CleanupEphemeralTenants removes every tenant directory under the
// reserved ephemeral prefix, returning the ids it deleted.
func (f *Factory) CleanupEphemeralTenants() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), EphemeralPrefix) {
			continue
		}
		if err := f.DeleteTenant(entry.Name()); err != nil {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}
	return removed, nil
}

// InvalidateAllCaches forces every cached repository for the tenant (or
// all tenants when tenant is empty) to drop its snapshot cache.
func (f *Factory) InvalidateAllCaches(tenant string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := ""
	if tenant != "" {
		prefix = tenant + "/"
	}
	for key, repo := range f.repos {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			repo.Invalidate()
		}
	}
}

// Tenants lists the tenant ids present under the store root.
func (f *Factory) Tenants() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && ValidateTenantID(entry.Name()) == nil {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

// ClearLookupReferences is the cascading-delete helper: after a lookup
// record is removed, every referencing record in the usage collection has
// its reference nulled. The steps are an ordered sequence of independent
// single-file writes, not one atomic unit; a crash mid-sequence leaves a
// partial cascade.
func (f *Factory) ClearLookupReferences(ctx context.Context, tenant, entity string, id int64) (int, error) {
	cfg, ok := f.schemas.Lookup(entity)
	if !ok || cfg.UsageEntity == "" {
		return 0, nil
	}
	repo, err := f.repository(tenant, cfg.UsageEntity)
	if err != nil {
		return 0, err
	}
	refs, err := repo.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, ref := range refs {
		refID, ok := domain.AsInt64(ref[cfg.UsageField])
		if !ok || refID != id {
			continue
		}
		if _, err := repo.Update(ctx, ref.ID(), domain.Record{cfg.UsageField: nil}); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := os.MkdirAll(to, 0o750); err != nil {
				return err
			}
			if err := copyDir(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
