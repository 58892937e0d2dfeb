package vfs

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOSFSWriteReadRoundTrip(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "data")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sf, err := fs.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(sf)
	_ = sf.Close()
	if err != nil || string(data) != "hello world" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}

	rf, err := fs.OpenRandomAccess(path)
	if err != nil {
		t.Fatalf("OpenRandomAccess: %v", err)
	}
	defer rf.Close()
	if rf.Size() != 11 {
		t.Errorf("Size = %d", rf.Size())
	}
	buf := make([]byte, 5)
	if _, err := rf.ReadAt(buf, 6); err != nil || string(buf) != "world" {
		t.Errorf("ReadAt = %q, %v", buf, err)
	}
}

func TestOSFSDirectoryOperations(t *testing.T) {
	fs := Default()
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"x", "y"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := fs.Rename(filepath.Join(dir, "y"), filepath.Join(dir, "z")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	names, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"x", "z"}) {
		t.Errorf("ListDir = %v", names)
	}
	if err := fs.SyncDir(dir); err != nil {
		t.Errorf("SyncDir: %v", err)
	}
	if err := fs.Remove(filepath.Join(dir, "x")); err != nil || fs.Exists(filepath.Join(dir, "x")) {
		t.Errorf("Remove: %v", err)
	}
}

func TestOSFSLockIsExclusive(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "LOCK")
	l, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if l2, err := fs.Lock(path); err == nil {
		_ = l2.Close()
		t.Fatal("second Lock succeeded")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	l3, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = l3.Close()
}
