package filelock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"brewcore/pkg/domain"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	target := filepath.Join(t.TempDir(), "brews.json")
	l, err := m.ForFile(target)
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, time.Second); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if err := l.Release(); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}
}

func TestForFileReturnsSameLockPerPath(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(t.TempDir(), nil)
	a, err := m.ForFile(filepath.Join(dir, "brews.json"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	b, err := m.ForFile(filepath.Join(dir, "sub", "..", "brews.json"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	if a != b {
		t.Fatal("distinct locks for the same canonical path")
	}
	c, err := m.ForFile(filepath.Join(dir, "beans.json"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	if a == c {
		t.Fatal("same lock for different files")
	}
}

func TestLockFileNameEncodesTarget(t *testing.T) {
	lockDir := t.TempDir()
	m := NewManager(lockDir, nil)
	l, err := m.ForFile(filepath.Join(t.TempDir(), "brews.json"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	name := filepath.Base(l.Path())
	if filepath.Dir(l.Path()) != lockDir {
		t.Fatalf("lock file not in lock dir: %s", l.Path())
	}
	if len(name) == 0 || name[:5] != "brews" {
		t.Fatalf("lock name %q should start with target base name", name)
	}
}

func TestAcquireTimesOutWhenHeldElsewhere(t *testing.T) {
	lockDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "brews.json")
	ctx := context.Background()

	// Two managers simulate two processes: separate Lock instances, separate
	// descriptors, contending via flock on the shared lock file.
	holder, err := NewManager(lockDir, nil).ForFile(target)
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	waiter, err := NewManager(lockDir, nil).ForFile(target)
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}

	if err := holder.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	defer func() { _ = holder.Release() }()

	start := time.Now()
	err = waiter.Acquire(ctx, 50*time.Millisecond)
	if !domain.IsLockTimeout(err) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v, bound not honored", elapsed)
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	lockDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "brews.json")
	ctx := context.Background()

	holder, _ := NewManager(lockDir, nil).ForFile(target)
	waiter, _ := NewManager(lockDir, nil).ForFile(target)

	if err := holder.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- waiter.Acquire(ctx, 5*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	if err := holder.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("waiter Acquire after release: %v", err)
	}
	_ = waiter.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	lockDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "brews.json")

	holder, _ := NewManager(lockDir, nil).ForFile(target)
	waiter, _ := NewManager(lockDir, nil).ForFile(target)

	if err := holder.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}
	defer func() { _ = holder.Release() }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := waiter.Acquire(ctx, 10*time.Second); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInProcessSerialization(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	l, err := m.ForFile(filepath.Join(t.TempDir(), "brews.json"))
	if err != nil {
		t.Fatalf("ForFile: %v", err)
	}
	ctx := context.Background()
	if err := l.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// A second goroutine on the same Lock must wait on the semaphore even
	// though flock would not contend within one process.
	err = l.Acquire(ctx, 50*time.Millisecond)
	if !domain.IsLockTimeout(err) {
		t.Fatalf("expected in-process timeout, got %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Acquire(ctx, time.Second); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = l.Release()
}
