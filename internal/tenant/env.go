package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"brewcore/internal/archive"
)

// Environment variables configuring OpenFromEnv.
const (
	EnvDataDir     = "BREWCORE_DATA_DIR"
	EnvLockDir     = "BREWCORE_LOCK_DIR"
	EnvLockTimeout = "BREWCORE_LOCK_TIMEOUT"
	EnvTemplateDir = "BREWCORE_TEMPLATE_DIR"
	EnvJournal     = "BREWCORE_JOURNAL"
)

// DefaultDataDir is used when BREWCORE_DATA_DIR is unset.
const DefaultDataDir = "./data"

// OpenFromEnv constructs a Factory from environment configuration. Archive
// selection is delegated to archive.Open (BREWCORE_ARCHIVE_* variables).
//
//	BREWCORE_DATA_DIR: store root (default ./data)
//	BREWCORE_LOCK_DIR: lock file directory (default OS temp dir)
//	BREWCORE_LOCK_TIMEOUT: lock acquisition bound, Go duration (default 10s)
//	BREWCORE_TEMPLATE_DIR: baseline dataset for tenant initialization
//	BREWCORE_JOURNAL: "1" or "true" enables the per-tenant audit journal
func OpenFromEnv(ctx context.Context, logger *slog.Logger) (*Factory, error) {
	root := os.Getenv(EnvDataDir)
	if root == "" {
		root = DefaultDataDir
	}
	var timeout time.Duration
	if raw := os.Getenv(EnvLockTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvLockTimeout, err)
		}
		timeout = d
	}
	journal := false
	switch os.Getenv(EnvJournal) {
	case "1", "true":
		journal = true
	}
	store, err := archive.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open archive store: %w", err)
	}
	return New(Options{
		Root:          root,
		TemplateDir:   os.Getenv(EnvTemplateDir),
		Archive:       store,
		EnableJournal: journal,
		LockDir:       os.Getenv(EnvLockDir),
		LockTimeout:   timeout,
		Logger:        logger,
	})
}
