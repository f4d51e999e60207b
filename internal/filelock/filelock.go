// Package filelock provides per-file cross-process mutual exclusion using
// flock(2). Every collection file read and write in the store goes through
// the same exclusive lock, bounded by an explicit acquisition timeout.
package filelock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"brewcore/pkg/domain"
)

// retryInterval is the polling step while waiting for a contended lock.
const retryInterval = 5 * time.Millisecond

// Manager hands out one Lock per target file. Lock files live in a shared
// system temp location, named from the target's filename plus a stable hash
// of its canonical path, and are reused for the process lifetime (never
// deleted).
type Manager struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*Lock
}

// NewManager creates a lock manager placing lock files under dir. An empty
// dir falls back to the OS temp directory.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*Lock),
	}
}

// ForFile returns the Lock guarding the given file, creating it on first
// use. The same *Lock is returned for every canonicalization of the path so
// in-process callers serialize on one semaphore.
func (m *Manager) ForFile(target string) (*Lock, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve lock target %s: %w", target, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[abs]; ok {
		return l, nil
	}
	sum := sha256.Sum256([]byte(abs))
	name := fmt.Sprintf("%s.%s.lock", filepath.Base(abs), hex.EncodeToString(sum[:8]))
	l := &Lock{
		target:   abs,
		lockPath: filepath.Join(m.dir, name),
		logger:   m.logger,
		sem:      make(chan struct{}, 1),
	}
	m.locks[abs] = l
	return l, nil
}

// Lock is an exclusive, named, cross-process lock for one target file.
// Within a process a one-slot semaphore serializes goroutines; across
// processes flock(2) on the shared lock file serializes everyone else.
type Lock struct {
	target   string
	lockPath string
	logger   *slog.Logger

	sem chan struct{}

	fileMu sync.Mutex
	file   *os.File
}

// Path returns the lock file's location.
func (l *Lock) Path() string { return l.lockPath }

// Acquire obtains the exclusive lock, blocking up to timeout. On expiry it
// fails with a LockTimeoutError instead of hanging. Context cancellation
// aborts the wait early.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-timer.C:
		return l.timeoutErr(timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.flockUntil(ctx, deadline, timeout); err != nil {
		<-l.sem
		return err
	}
	return nil
}

func (l *Lock) flockUntil(ctx context.Context, deadline time.Time, timeout time.Duration) error {
	f, err := l.open()
	if err != nil {
		return err
	}
	waited := false
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			if waited {
				l.logger.Debug("acquired contended lock", "target", l.target)
			}
			return nil
		}
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("flock %s: %w", l.lockPath, err)
		}
		if !time.Now().Add(retryInterval).Before(deadline) {
			l.logger.Warn("lock acquisition timed out", "target", l.target, "timeout", timeout)
			return l.timeoutErr(timeout)
		}
		waited = true
		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// open creates the lock file on first use and keeps the descriptor for the
// process lifetime.
func (l *Lock) open() (*os.File, error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file != nil {
		return l.file, nil
	}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", l.lockPath, err)
	}
	l.file = f
	return f, nil
}

// Release drops the cross-process lock and frees the in-process slot. The
// lock file stays on disk for reuse.
func (l *Lock) Release() error {
	l.fileMu.Lock()
	f := l.file
	l.fileMu.Unlock()

	var err error
	if f != nil {
		if uerr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); uerr != nil {
			err = fmt.Errorf("funlock %s: %w", l.lockPath, uerr)
		}
	}
	select {
	case <-l.sem:
	default:
	}
	return err
}

func (l *Lock) timeoutErr(timeout time.Duration) error {
	return &domain.LockTimeoutError{Path: l.target, Timeout: timeout}
}
