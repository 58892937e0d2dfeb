package tablestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/cache"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/vfs"
)

func testOptions() storage.Options {
	return storage.Options{
		FS:                   vfs.Default(),
		Logger:               logging.Discard,
		Comparator:           dbformat.Bytewise,
		CreateIfMissing:      true,
		MaxOpenFiles:         100,
		BlockSize:            1024,
		BlockRestartInterval: 16,
		Compression:          compression.SnappyCompression,
		BlockCache:           cache.NewLRUCache(1 << 20),
	}
}

// openStore opens and recovers a store, discarding replayed records.
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

type entry struct {
	key   string
	value string
	v     dbformat.Version
	kind  dbformat.Kind
}

func put(key, value string, v dbformat.Version) entry {
	return entry{key: key, value: value, v: v, kind: dbformat.KindValue}
}

func del(key string, v dbformat.Version) entry {
	return entry{key: key, v: v, kind: dbformat.KindDeletion}
}

func flush(t *testing.T, s *Store, entries ...entry) {
	t.Helper()
	mem := memtable.New(dbformat.NewInternalKeyComparator(dbformat.Bytewise))
	var last dbformat.Version
	for _, e := range entries {
		mem.Add(e.v, e.kind, []byte(e.key), []byte(e.value))
		last = max(last, e.v)
	}
	if err := s.Flush(mem, last); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func mustGet(t *testing.T, s *Store, key string, v dbformat.Version) (string, dbformat.Kind, bool) {
	t.Helper()
	value, kind, found, err := s.Get([]byte(key), v, storage.ReadOptions{FillCache: true})
	if err != nil {
		t.Fatalf("Get(%q, %d): %v", key, v, err)
	}
	return string(value), kind, found
}

func expectValue(t *testing.T, s *Store, key string, v dbformat.Version, want string) {
	t.Helper()
	got, kind, found := mustGet(t, s, key, v)
	if !found || kind != dbformat.KindValue || got != want {
		t.Errorf("Get(%q, %d) = %q, %v, %v; want %q", key, v, got, kind, found, want)
	}
}

func expectTombstone(t *testing.T, s *Store, key string, v dbformat.Version) {
	t.Helper()
	if _, kind, found := mustGet(t, s, key, v); !found || kind != dbformat.KindDeletion {
		t.Errorf("Get(%q, %d) = %v, %v; want tombstone", key, v, kind, found)
	}
}

func expectAbsent(t *testing.T, s *Store, key string, v dbformat.Version) {
	t.Helper()
	if got, kind, found := mustGet(t, s, key, v); found {
		t.Errorf("Get(%q, %d) = %q, %v; want absent", key, v, got, kind)
	}
}

func property(t *testing.T, s *Store, name string) string {
	t.Helper()
	v, ok := s.Property(name)
	if !ok {
		t.Fatalf("Property(%q) missing", name)
	}
	return v
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
		t.Fatal(err)
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
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.Comparator = reverseComparator{}
	_, err := Open(dir, opts)
	if !errors.Is(err, storage.ErrComparatorMismatch) {
		t.Fatalf("Open = %v, want ErrComparatorMismatch", err)
	}
}

func TestOpenLocksDirectory(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	defer s.Close()
	if _, err := Open(dir, testOptions()); err == nil {
		t.Fatal("second Open of a locked store succeeded")
	}
}

// =============================================================================
// Log recovery
// =============================================================================

func TestRecoverReplaysLoggedBatches(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	for v := dbformat.Version(1); v <= 3; v++ {
		wb := batch.New()
		wb.Put(fmt.Appendf(nil, "k%d", v), []byte("v"))
		wb.SetVersion(v)
		if err := s.ApplyBatch(wb.Data(), v, v == 3); err != nil {
			t.Fatalf("ApplyBatch(%d): %v", v, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var versions []dbformat.Version
	last, err := s.Recover(func(data []byte) error {
		wb, err := batch.NewFromData(data)
		if err != nil {
			return err
		}
		versions = append(versions, wb.Version())
		return nil
	})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if last != 3 || len(versions) != 3 || versions[0] != 1 || versions[2] != 3 {
		t.Fatalf("Recover = %d, replayed %v", last, versions)
	}
}

func TestFlushRetiresLogs(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	wb := batch.New()
	wb.Put([]byte("a"), []byte("1"))
	wb.SetVersion(1)
	if err := s.ApplyBatch(wb.Data(), 1, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Rotate(); err != nil {
		t.Fatal(err)
	}
	flush(t, s, put("a", "1", 1))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	replayed := 0
	last, err := s.Recover(func([]byte) error { replayed++; return nil })
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 0 || last != 1 {
		t.Fatalf("replayed %d records, last %d; want 0, 1", replayed, last)
	}
	expectValue(t, s, "a", 1, "1")
}

func TestRecoverParanoidRejectsCorruptLog(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	wb := batch.New()
	wb.Put([]byte("a"), []byte("1"))
	wb.SetVersion(1)
	if err := s.ApplyBatch(wb.Data(), 1, true); err != nil {
		t.Fatal(err)
	}
	logPath := storage.LogFileName(dir, s.logFileNum)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(logPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	// Lenient recovery drops the record.
	s, err = Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	replayed := 0
	if _, err := s.Recover(func([]byte) error { replayed++; return nil }); err != nil || replayed != 0 {
		t.Fatalf("lenient Recover = %v, replayed %d", err, replayed)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.ParanoidChecks = true
	s, err = Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Recover(func([]byte) error { return nil }); !errors.Is(err, storage.ErrCorruption) {
		t.Fatalf("paranoid Recover = %v, want ErrCorruption", err)
	}
}

// =============================================================================
// Reads
// =============================================================================

func TestGetAcrossTables(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()

	flush(t, s, put("a", "a1", 1), put("b", "b1", 2))
	flush(t, s, put("a", "a2", 3), del("b", 4))

	expectValue(t, s, "a", 4, "a2")
	expectValue(t, s, "a", 2, "a1")
	expectAbsent(t, s, "a", 0)
	expectTombstone(t, s, "b", 4)
	expectValue(t, s, "b", 3, "b1")
	expectAbsent(t, s, "c", 4)
}

func TestGetSkipsTablesByFilter(t *testing.T) {
	opts := testOptions()
	opts.FilterBitsPerKey = 10
	dir := t.TempDir()
	s := openStore(t, dir, opts)
	flush(t, s, put("a", "1", 1), put("z", "2", 2))

	for i := range 20 {
		expectAbsent(t, s, fmt.Sprintf("m%02d", i), 2)
	}
	expectValue(t, s, "a", 2, "1")
	expectValue(t, s, "z", 2, "2")
	if got := property(t, s, PropertyFilterUseful); got == "0" {
		t.Errorf("%s = 0 after lookups of absent keys inside the table range", PropertyFilterUseful)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// A store reopened without filters still reads the filtered tables.
	s = openStore(t, dir, testOptions())
	defer s.Close()
	expectValue(t, s, "z", 2, "2")
	expectAbsent(t, s, "m00", 2)
}

func TestIteratorMergesTables(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	flush(t, s, put("a", "a1", 1), put("c", "c1", 2))
	flush(t, s, put("b", "b1", 3), put("a", "a2", 4))

	it, release, err := s.NewIterator(storage.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		p, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, fmt.Sprintf("%s@%d", p.UserKey, p.Version))
	}
	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	release()

	want := "a@4 a@1 b@3 c@2"
	if strings.Join(got, " ") != want {
		t.Fatalf("iteration = %v, want %s", got, want)
	}
}

// =============================================================================
// Compaction
// =============================================================================

func fourTables(t *testing.T, s *Store) {
	t.Helper()
	flush(t, s, put("a", "a1", 1), put("b", "b1", 2))
	flush(t, s, put("a", "a2", 3), del("b", 4))
	flush(t, s, put("c", "c1", 5))
	flush(t, s, put("d", "d1", 6))
}

func TestCompactDropsInvisibleEntries(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	fourTables(t, s)

	if err := s.Compact(6, false); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if got := property(t, s, "leveldb.num-files-at-level0"); got != "0" {
		t.Errorf("level0 files = %s", got)
	}
	if got := property(t, s, "leveldb.num-files-at-level1"); got != "1" {
		t.Errorf("level1 files = %s", got)
	}

	expectValue(t, s, "a", 6, "a2")
	expectAbsent(t, s, "a", 2) // shadowed by a@3
	expectAbsent(t, s, "b", 6) // tombstone and value dropped
	expectAbsent(t, s, "b", 2)
	expectValue(t, s, "c", 6, "c1")
	expectValue(t, s, "d", 6, "d1")
}

func TestCompactKeepsVersionsAboveOldest(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	fourTables(t, s)

	if err := s.Compact(2, false); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	expectValue(t, s, "a", 1, "a1")
	expectValue(t, s, "a", 3, "a2")
	expectValue(t, s, "b", 2, "b1")
	expectTombstone(t, s, "b", 4)
}

func TestCompactBelowTriggerIsNoop(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	flush(t, s, put("a", "1", 1))
	flush(t, s, put("a", "2", 2))

	if err := s.Compact(2, false); err != nil {
		t.Fatal(err)
	}
	if got := property(t, s, "leveldb.num-files-at-level0"); got != "2" {
		t.Fatalf("level0 files = %s, want 2", got)
	}
	if err := s.Compact(2, true); err != nil {
		t.Fatal(err)
	}
	if got := property(t, s, "leveldb.num-files-at-level1"); got != "1" {
		t.Fatalf("level1 files after forced compaction = %s", got)
	}
	expectAbsent(t, s, "a", 1)
	expectValue(t, s, "a", 2, "2")
}

func TestCompactSplitsOutput(t *testing.T) {
	opts := testOptions()
	opts.MaxFileSize = 4 << 10
	opts.Compression = compression.NoCompression
	s := openStore(t, t.TempDir(), opts)
	defer s.Close()

	value := strings.Repeat("x", 200)
	var entries []entry
	for i := range 200 {
		entries = append(entries, put(fmt.Sprintf("key%04d", i), value, dbformat.Version(i+1)))
	}
	flush(t, s, entries...)
	if err := s.Compact(200, true); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Property("leveldb.num-files-at-level1")
	if v == "0" || v == "1" {
		t.Fatalf("level1 files = %s, want several", v)
	}
	for i := 0; i < 200; i += 37 {
		expectValue(t, s, fmt.Sprintf("key%04d", i), 200, value)
	}
}

func TestIteratorKeepsCompactedTablesAlive(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	defer s.Close()
	flush(t, s, put("a", "1", 1))
	flush(t, s, put("b", "2", 2))
	old := []string{storage.TableFileName(dir, s.current.levels[0][0].Number), storage.TableFileName(dir, s.current.levels[0][1].Number)}

	it, release, err := s.NewIterator(storage.ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(2, true); err != nil {
		t.Fatal(err)
	}
	for _, path := range old {
		if !s.fs.Exists(path) {
			t.Fatalf("%s deleted while an iterator uses it", path)
		}
	}
	n := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		n++
	}
	if n != 2 || it.Error() != nil {
		t.Fatalf("iterated %d entries, err %v", n, it.Error())
	}
	_ = it.Close()
	release()

	for _, path := range old {
		if s.fs.Exists(path) {
			t.Errorf("%s survived its last reader", path)
		}
	}
}

// =============================================================================
// Sizes and properties
// =============================================================================

func TestApproximateSize(t *testing.T) {
	opts := testOptions()
	opts.Compression = compression.NoCompression
	s := openStore(t, t.TempDir(), opts)
	defer s.Close()

	value := strings.Repeat("v", 100)
	var entries []entry
	for i := range 1000 {
		entries = append(entries, put(fmt.Sprintf("k%04d", i), value, dbformat.Version(i+1)))
	}
	flush(t, s, entries...)

	all := s.ApproximateSize([]byte("k0000"), []byte("k9999"))
	half := s.ApproximateSize([]byte("k0000"), []byte("k0500"))
	if all < 100_000 || half == 0 || half >= all {
		t.Fatalf("sizes: all=%d half=%d", all, half)
	}
	if got := s.ApproximateSize([]byte("z"), []byte("zz")); got != 0 {
		t.Fatalf("size past the end = %d", got)
	}
}

func TestProperties(t *testing.T) {
	s := openStore(t, t.TempDir(), testOptions())
	defer s.Close()
	flush(t, s, put("a", "1", 1))

	if got := property(t, s, "leveldb.num-files-at-level0"); got != "1" {
		t.Errorf("level0 = %s", got)
	}
	if got := property(t, s, "leveldb.sstables"); !strings.Contains(got, "--- level 0 ---") || !strings.Contains(got, `"a"@1`) {
		t.Errorf("sstables = %q", got)
	}
	if got := property(t, s, "leveldb.stats"); !strings.Contains(got, "Compactions") {
		t.Errorf("stats = %q", got)
	}
	for _, name := range []string{"leveldb.num-files-at-level2", "leveldb.num-files-at-levelx", "leveldb.bogus", "other"} {
		if _, ok := s.Property(name); ok {
			t.Errorf("Property(%q) present", name)
		}
	}
}

// =============================================================================
// Destroy and repair
// =============================================================================

func TestDestroy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s := openStore(t, dir, testOptions())
	flush(t, s, put("a", "1", 1))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := Destroy(dir, testOptions()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory still present: %v", err)
	}
	if err := Destroy(dir, testOptions()); err != nil {
		t.Fatalf("Destroy of a missing store: %v", err)
	}
}

func TestRepairRebuildsManifest(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	flush(t, s, put("a", "1", 1))
	wb := batch.New()
	wb.Put([]byte("b"), []byte("2"))
	wb.Delete([]byte("a"))
	wb.SetVersion(2)
	if err := s.ApplyBatch(wb.Data(), 2, true); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	names, _ := os.ReadDir(dir)
	for _, e := range names {
		if strings.HasPrefix(e.Name(), "MANIFEST-") || e.Name() == "CURRENT" {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				t.Fatal(err)
			}
		}
	}
	noCreate := testOptions()
	noCreate.CreateIfMissing = false
	if _, err := Open(dir, noCreate); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Open without a manifest = %v", err)
	}

	if err := Repair(dir, testOptions()); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	s = openStore(t, dir, testOptions())
	defer s.Close()
	expectValue(t, s, "b", 2, "2")
	expectTombstone(t, s, "a", 2)
	expectValue(t, s, "a", 1, "1")
}

func TestRepairArchivesBrokenTable(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, testOptions())
	flush(t, s, put("a", "1", 1))
	broken := storage.TableFileName(dir, s.current.levels[0][0].Number)
	flush(t, s, put("b", "2", 2))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(broken, []byte("not a table"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Repair(dir, testOptions()); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "lost", filepath.Base(broken))); err != nil {
		t.Fatalf("broken table not archived: %v", err)
	}
	s = openStore(t, dir, testOptions())
	defer s.Close()
	expectAbsent(t, s, "a", 2)
	expectValue(t, s, "b", 2, "2")
}
