package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewS3MockForTests(),
	}
}

func TestStorePutGetList(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			body := []byte("backup payload")
			info, err := store.Put(ctx, "house/backup_20260701T080000.tar.gz", bytes.NewReader(body))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if info.Size != int64(len(body)) {
				t.Fatalf("Size = %d, want %d", info.Size, len(body))
			}

			rc, err := store.Get(ctx, "house/backup_20260701T080000.tar.gz")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			got, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil || !bytes.Equal(got, body) {
				t.Fatalf("Get round trip = (%q, %v)", got, err)
			}

			if _, err := store.Put(ctx, "office/other.tar.gz", strings.NewReader("x")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			infos, err := store.List(ctx, "house/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(infos) != 1 || infos[0].Key != "house/backup_20260701T080000.tar.gz" {
				t.Fatalf("List(house/) = %v", infos)
			}
			all, err := store.List(ctx, "")
			if err != nil {
				t.Fatalf("List all: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("List(\"\") = %v", all)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "absent/key")
			if err == nil {
				t.Fatal("Get on missing key succeeded")
			}
			// The HTTP-backed mock surfaces its own 404 error type; the local
			// drivers wrap ErrNotFound.
			if name != "s3" && !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSanitizeKey(t *testing.T) {
	bad := []string{"", "  ", "../escape", "a/../../b", "/absolute"}
	for _, key := range bad {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) accepted", key)
		}
	}
	got, err := sanitizeKey("house/backup.tar.gz")
	if err != nil || got != "house/backup.tar.gz" {
		t.Fatalf("sanitizeKey = (%q, %v)", got, err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("BREWCORE_ARCHIVE_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("Driver = %s", store.Driver())
	}

	t.Setenv("BREWCORE_ARCHIVE_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestTarGzDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "brews.json"), []byte("[]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "backup_old"), 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "backup_old", "stale.json"), []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var buf bytes.Buffer
	if err := TarGzDir(dir, "backup_", &buf); err != nil {
		t.Fatalf("TarGzDir: %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar.Next: %v", err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 1 || names[0] != "brews.json" {
		t.Fatalf("tar entries = %v, want only brews.json", names)
	}
}
