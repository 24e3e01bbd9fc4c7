package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/sync/exclude"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScanLocal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "aaa")
	writeFile(t, root, "docs/b.txt", "bbbb")
	writeFile(t, root, "docs/cache.tmp", "x")
	writeFile(t, root, ".git/config", "x")

	matcher := exclude.New([]string{"*.tmp", ".git/"})
	entries, err := ScanLocal(context.Background(), root, matcher)
	if err != nil {
		t.Fatalf("ScanLocal: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %v", len(entries), entries)
	}
	if entries["a.txt"].Size != 3 {
		t.Errorf("Expected a.txt size 3, got %d", entries["a.txt"].Size)
	}
	got := entries["docs/b.txt"]
	if got.Size != 4 {
		t.Errorf("Expected docs/b.txt size 4, got %d", got.Size)
	}
	if got.MTime.IsZero() {
		t.Error("Expected mtime to be set")
	}
	if _, ok := entries["docs/cache.tmp"]; ok {
		t.Error("Excluded file must not appear in snapshot")
	}
}

func TestScanLocalMissingRoot(t *testing.T) {
	entries, err := ScanLocal(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil {
		t.Fatalf("ScanLocal: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty snapshot, got %d entries", len(entries))
	}
}

func TestScanRemote(t *testing.T) {
	store := remote.NewMemoryStore()
	store.PutString("backups", "laptop/a.txt", "aaa")
	store.PutString("backups", "laptop/docs/b.txt", "bbbb")
	store.PutString("backups", "laptop/cache.tmp", "x")
	store.PutString("backups", "other/ignored.txt", "x")

	matcher := exclude.New([]string{"*.tmp"})
	entries, err := ScanRemote(context.Background(), store, "backups", "laptop", matcher)
	if err != nil {
		t.Fatalf("ScanRemote: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %v", len(entries), entries)
	}
	got := entries["docs/b.txt"]
	if got.Key != "laptop/docs/b.txt" {
		t.Errorf("Unexpected key: %s", got.Key)
	}
	if got.ETag == "" {
		t.Error("Expected etag to be set")
	}
	if _, ok := entries["cache.tmp"]; ok {
		t.Error("Excluded object must not appear in snapshot")
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"laptop", "laptop/"},
		{"laptop/", "laptop/"},
		{"a/b", "a/b/"},
	}
	for _, tt := range tests {
		if got := NormalizePrefix(tt.in); got != tt.want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeRelativePath(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"a.txt", false},
		{"docs/b.txt", false},
		{"../escape.txt", true},
		{"docs/../../escape.txt", true},
		{"/abs/path.txt", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := SafeRelativePath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafeRelativePath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
