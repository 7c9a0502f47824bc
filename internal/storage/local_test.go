package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	key := "url/2026-08-28/abc.wav"
	data := []byte("RIFF fake audio payload")

	if err := s.Save(ctx, key, data, "audio/wav"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !s.Exists(ctx, key) {
		t.Error("Exists() = false after Save")
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != string(data) {
		t.Errorf("Open() = %q, want %q", got, data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Exists(ctx, key) {
		t.Error("Exists() = true after Delete")
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete() missing key error = %v, want nil", err)
	}
}

func TestLocalStoreNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)

	if err := s.Save(context.Background(), "file/2026-08-28/x.wav", []byte("data"), "audio/wav"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "file", "2026-08-28"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestJanitorPrunes(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()

	oldKey := "url/2026-01-01/old.wav"
	newKey := "url/2026-08-28/new.wav"
	reportKey := "reports/run1.txt"
	for _, k := range []string{oldKey, newKey, reportKey} {
		if err := s.Save(ctx, k, []byte("x"), "application/octet-stream"); err != nil {
			t.Fatalf("Save(%s) error = %v", k, err)
		}
	}

	// Age the old blob past retention.
	oldPath := filepath.Join(dir, filepath.FromSlash(oldKey))
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	reportPath := filepath.Join(dir, filepath.FromSlash(reportKey))
	if err := os.Chtimes(reportPath, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	j := NewJanitor(dir, 24*time.Hour, zerolog.Nop())
	j.prune()

	if s.Exists(ctx, oldKey) {
		t.Error("old blob survived prune")
	}
	if !s.Exists(ctx, newKey) {
		t.Error("fresh blob was pruned")
	}
	if !s.Exists(ctx, reportKey) {
		t.Error("report was pruned; reports are kept")
	}

	// Empty date dir removed.
	if _, err := os.Stat(filepath.Join(dir, "url", "2026-01-01")); !os.IsNotExist(err) {
		t.Error("empty date directory not removed")
	}
}
