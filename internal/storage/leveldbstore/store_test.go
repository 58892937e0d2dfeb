package leveldbstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/storage"
)

func testOptions() storage.Options {
	return storage.Options{
		Logger:               logging.Discard,
		Comparator:           dbformat.Bytewise,
		CreateIfMissing:      true,
		WriteBufferSize:      64 << 10,
		MaxOpenFiles:         100,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          compression.SnappyCompression,
	}
}

func openStore(t *testing.T, dir string, opts storage.Options) *Store {
	t.Helper()
	s, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Recover(func([]byte) error { return nil }); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	return s
}

// apply writes a batch of "put k v" / "del k" ops at version v.
func apply(t *testing.T, s *Store, v dbformat.Version, ops ...string) {
	t.Helper()
	wb := batch.New()
	for _, op := range ops {
		f := strings.Fields(op)
		switch f[0] {
		case "put":
			wb.Put([]byte(f[1]), []byte(f[2]))
		case "del":
			wb.Delete([]byte(f[1]))
		}
	}
	wb.SetVersion(v)
	if err := s.ApplyBatch(wb.Data(), v, false); err != nil {
		t.Fatalf("ApplyBatch(v%d): %v", v, err)
	}
}

func lookup(t *testing.T, s *Store, key string, v dbformat.Version) string {
	t.Helper()
	value, kind, found, err := s.Get([]byte(key), v, storage.ReadOptions{FillCache: true})
	if err != nil {
		t.Fatalf("Get(%q, %d): %v", key, v, err)
	}
	switch {
	case !found:
		return "<absent>"
	case kind == dbformat.KindDeletion:
		return "<deleted>"
	}
	return string(value)
}

// contents lists every internal key as key@version.
func contents(t *testing.T, s *Store) string {
	t.Helper()
	it, release, err := s.NewIterator(storage.ReadOptions{})
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer release()
	var parts []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		p, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			t.Fatalf("ParseInternalKey: %v", err)
		}
		parts = append(parts, fmt.Sprintf("%s@%d", p.UserKey, p.Version))
	}
	if err := it.Close(); err != nil {
		t.Fatalf("iterator: %v", err)
	}
	return strings.Join(parts, " ")
}

// threeVersions writes a=1,b=2 at v1, deletes a at v2 and puts a=3 at v3.
func threeVersions(t *testing.T, s *Store) {
	t.Helper()
	apply(t, s, 1, "put a 1", "put b 2")
	apply(t, s, 2, "del a")
	apply(t, s, 3, "put a 3")
}

// =============================================================================
// Open
// =============================================================================

func TestOpenMissingWithoutCreate(t *testing.T) {
	opts := testOptions()
	opts.CreateIfMissing = false
	_, err := Open(filepath.Join(t.TempDir(), "db"), opts)
	if !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Open = %v, want ErrNotExist", err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	opts := testOptions()
	opts.ErrorIfExists = true
	if _, err := Open(dir, opts); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("Open = %v, want ErrExists", err)
	}
}

type reverseComparator struct{}

func (reverseComparator) Compare(a, b []byte) int { return -strings.Compare(string(a), string(b)) }
func (reverseComparator) Name() string            { return "test.Reverse" }

func TestOpenComparatorMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	apply(t, s, 1, "put a 1")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	opts := testOptions()
	opts.Comparator = reverseComparator{}
	if _, err := Open(dir, opts); !errors.Is(err, storage.ErrComparatorMismatch) {
		t.Fatalf("Open = %v, want ErrComparatorMismatch", err)
	}
}

// =============================================================================
// Reads and writes
// =============================================================================

func TestGetAtVersions(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	threeVersions(t, s)

	tests := []struct {
		key  string
		v    dbformat.Version
		want string
	}{
		{"a", 0, "<absent>"},
		{"a", 1, "1"},
		{"a", 2, "<deleted>"},
		{"a", 3, "3"},
		{"a", 100, "3"},
		{"b", 3, "2"},
		{"c", 3, "<absent>"},
		{"", 3, "<absent>"},
	}
	for _, tt := range tests {
		if got := lookup(t, s, tt.key, tt.v); got != tt.want {
			t.Errorf("Get(%q, %d) = %q, want %q", tt.key, tt.v, got, tt.want)
		}
	}
}

func TestBatchCollapsesOps(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	apply(t, s, 1, "put k x", "put k y", "del k", "put j z")

	if got := lookup(t, s, "k", 1); got != "<deleted>" {
		t.Fatalf("k = %q, want <deleted>", got)
	}
	if got := contents(t, s); got != "j@1 k@1" {
		t.Fatalf("contents = %q", got)
	}
}

func TestRecoverReturnsLastVersion(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	threeVersions(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	last, err := s.Recover(func([]byte) error {
		t.Fatal("goleveldb store replayed a record")
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if last != 3 {
		t.Fatalf("last version = %d, want 3", last)
	}
	if got := lookup(t, s, "a", 3); got != "3" {
		t.Fatalf("a = %q after reopen", got)
	}
}

func TestIteratorHidesMetaRecords(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	threeVersions(t, s)

	if got, want := contents(t, s), "a@3 a@2 a@1 b@1"; got != want {
		t.Fatalf("contents = %q, want %q", got, want)
	}

	it, release, err := s.NewIterator(storage.ReadOptions{})
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer release()
	defer it.Close()

	it.SeekToLast()
	if !it.Valid() || string(dbformat.ExtractUserKey(it.Key())) != "b" {
		t.Fatalf("SeekToLast did not land on b")
	}
	it.Seek(dbformat.LookupKey([]byte("a"), 2))
	if !it.Valid() || dbformat.ExtractTrailer(it.Key()) != dbformat.PackTrailer(2, dbformat.KindDeletion) {
		t.Fatalf("Seek(a@2) did not land on the tombstone")
	}
	it.Prev()
	if !it.Valid() || string(it.Value()) != "3" {
		t.Fatalf("Prev did not land on a@3")
	}
	it.Prev()
	if it.Valid() {
		t.Fatalf("Prev before the first entry is valid")
	}
}

// =============================================================================
// Compaction
// =============================================================================

func TestCompactDropsInvisibleEntries(t *testing.T) {
	tests := []struct {
		oldest dbformat.Version
		want   string
	}{
		{1, "a@3 a@2 a@1 b@1"},
		{2, "a@3 b@1"},
		{3, "a@3 b@1"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("oldest=%d", tt.oldest), func(t *testing.T) {
			s := openStore(t, t.TempDir(), testOptions())
			defer s.Close()
			threeVersions(t, s)

			if err := s.Compact(tt.oldest, true); err != nil {
				t.Fatalf("Compact: %v", err)
			}
			if got := contents(t, s); got != tt.want {
				t.Fatalf("contents = %q, want %q", got, tt.want)
			}
			if got := lookup(t, s, "a", 3); got != "3" {
				t.Fatalf("a@3 = %q", got)
			}
		})
	}
}

func TestCompactDropsLoneTombstone(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	apply(t, s, 1, "put a 1")
	apply(t, s, 2, "del a")

	if err := s.Compact(2, true); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := contents(t, s); got != "" {
		t.Fatalf("contents = %q, want empty", got)
	}
}

func TestCompactWithoutForceWaitsForTrigger(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	threeVersions(t, s)

	if err := s.Compact(3, false); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := contents(t, s); got != "a@3 a@2 a@1 b@1" {
		t.Fatalf("contents = %q, want untouched", got)
	}
}

// =============================================================================
// Management
// =============================================================================

func TestPropertiesAndSize(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	threeVersions(t, s)

	if _, ok := s.Property("leveldb.stats"); !ok {
		t.Error("leveldb.stats is absent")
	}
	if _, ok := s.Property("leveldb.no-such-property"); ok {
		t.Error("unknown property is present")
	}
	if got := s.ApproximateSize([]byte("x"), []byte("z")); got != 0 {
		t.Errorf("ApproximateSize of an empty range = %d", got)
	}
}

func TestClosedStore(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, _, err := s.Get([]byte("a"), 1, storage.ReadOptions{}); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("Get after Close = %v", err)
	}
	if err := s.ApplyBatch(batch.New().Data(), 1, false); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("ApplyBatch after Close = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dir, testOptions())
	threeVersions(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Destroy(dir, testOptions()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory still exists: %v", err)
	}
	if err := Destroy(dir, testOptions()); err != nil {
		t.Fatalf("Destroy of a missing store: %v", err)
	}
}

func TestRepair(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	threeVersions(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Repair(dir, testOptions()); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	s = openStore(t, dir, testOptions())
	defer s.Close()
	if got := lookup(t, s, "b", 3); got != "2" {
		t.Fatalf("b = %q after repair", got)
	}

	missing := filepath.Join(t.TempDir(), "missing")
	if err := Repair(missing, testOptions()); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Repair(missing) = %v, want ErrNotExist", err)
	}
}
