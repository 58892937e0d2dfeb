// db_snapshot_test.go - Snapshot isolation and version pinning.

package db

import (
	"fmt"
	"strings"
	"testing"

	"github.com/aalhour/cobblekv/internal/dbformat"
)

// =============================================================================
// Isolation Tests
// =============================================================================

func TestSnapshotOfEmptyStore(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opts *Options) {
		d := openDB(t, t.TempDir(), opts)
		s0 := d.GetSnapshot()
		defer d.ReleaseSnapshot(s0)

		mustPut(t, d, "x", "y")

		if got := get(t, d, &ReadOptions{Snapshot: s0}, "x"); got != "<absent>" {
			t.Errorf("Get(x, S0) = %q, want absent", got)
		}
		if got := get(t, d, nil, "x"); got != "y" {
			t.Errorf("Get(x) = %q, want y", got)
		}
		if s0.Version() != 0 {
			t.Errorf("S0.Version() = %d, want 0", s0.Version())
		}
	})
}

func TestSnapshotIsolation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opts *Options) {
		d := openDB(t, t.TempDir(), opts)
		mustPut(t, d, "a", "1")
		mustPut(t, d, "b", "1")
		snap := d.GetSnapshot()
		defer d.ReleaseSnapshot(snap)

		mustPut(t, d, "a", "2")
		mustDelete(t, d, "b")
		mustPut(t, d, "c", "2")

		ro := &ReadOptions{Snapshot: snap}
		for key, want := range map[string]string{"a": "1", "b": "1", "c": "<absent>"} {
			if got := get(t, d, ro, key); got != want {
				t.Errorf("Get(%s, snap) = %q, want %q", key, got, want)
			}
		}
		if got := scan(t, d, ro); got != "a=1 b=1" {
			t.Errorf("scan(snap) = %q", got)
		}
		if got := scan(t, d, nil); got != "a=2 c=2" {
			t.Errorf("scan(current) = %q", got)
		}
	})
}

func TestSnapshotSurvivesFlushAndCompaction(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opts *Options) {
		opts.WriteBufferSize = 64 << 10
		d := openDB(t, t.TempDir(), opts)

		value := strings.Repeat("s", 100)
		for i := range 500 {
			mustPut(t, d, fmt.Sprintf("key%03d", i), "old"+value)
		}
		snap := d.GetSnapshot()
		defer d.ReleaseSnapshot(snap)

		for round := range 3 {
			for i := range 500 {
				key := fmt.Sprintf("key%03d", i)
				if i%5 == 0 {
					mustDelete(t, d, key)
				} else {
					mustPut(t, d, key, fmt.Sprintf("new%d%s", round, value))
				}
			}
			if err := d.CompactRange(nil, nil); err != nil {
				t.Fatalf("CompactRange() error = %v", err)
			}
		}

		ro := &ReadOptions{Snapshot: snap}
		for _, i := range []int{0, 1, 250, 499} {
			key := fmt.Sprintf("key%03d", i)
			if got := get(t, d, ro, key); got != "old"+value {
				t.Errorf("Get(%s, snap) = %.10q, want old value", key, got)
			}
		}
		if got := get(t, d, nil, "key000"); got != "<absent>" {
			t.Errorf("Get(key000) = %q, want absent", got)
		}
		if got := get(t, d, nil, "key001"); got != "new2"+value {
			t.Errorf("Get(key001) = %.10q, want the newest value", got)
		}
	})
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestReleaseSnapshotTwice(t *testing.T) {
	d := openDB(t, t.TempDir(), testOptions())
	s1 := d.GetSnapshot()
	s2 := d.GetSnapshot()

	d.ReleaseSnapshot(s1)
	d.ReleaseSnapshot(s1)
	d.ReleaseSnapshot(nil)
	if got, _ := d.GetProperty(PropertyNumSnapshots); got != "1" {
		t.Errorf("num snapshots = %q, want 1", got)
	}
	d.ReleaseSnapshot(s2)
	if got, _ := d.GetProperty(PropertyNumSnapshots); got != "0" {
		t.Errorf("num snapshots = %q, want 0", got)
	}
}

func TestSnapshotsShareVersion(t *testing.T) {
	d := openDB(t, t.TempDir(), testOptions())
	mustPut(t, d, "a", "1")
	s1 := d.GetSnapshot()
	s2 := d.GetSnapshot()
	if s1.Version() != s2.Version() {
		t.Fatalf("versions %d and %d differ", s1.Version(), s2.Version())
	}
	mustPut(t, d, "a", "2")

	d.ReleaseSnapshot(s1)
	if got, _ := d.GetProperty(PropertyOldestSnapshotVersion); got != "1" {
		t.Errorf("oldest version with s2 live = %q, want 1", got)
	}
	if got := get(t, d, &ReadOptions{Snapshot: s2}, "a"); got != "1" {
		t.Errorf("Get(a, s2) = %q, want 1", got)
	}
	d.ReleaseSnapshot(s2)
	if got, _ := d.GetProperty(PropertyOldestSnapshotVersion); got != "2" {
		t.Errorf("oldest version with no snapshots = %q, want 2", got)
	}
}

func TestIteratorPinsVersion(t *testing.T) {
	d := openDB(t, t.TempDir(), testOptions())
	mustPut(t, d, "a", "1")
	it := d.NewIterator(nil)
	mustPut(t, d, "a", "2")

	if got, _ := d.GetProperty(PropertyOldestSnapshotVersion); got != "1" {
		t.Errorf("oldest version with an open iterator = %q, want 1", got)
	}
	if got, _ := d.GetProperty(PropertyNumSnapshots); got != "0" {
		t.Errorf("iterators counted as snapshots: %q", got)
	}
	it.Close()
	if got, _ := d.GetProperty(PropertyOldestSnapshotVersion); got != "2" {
		t.Errorf("oldest version after close = %q, want 2", got)
	}
}

func TestSnapshotList(t *testing.T) {
	l := newSnapshotList()
	var last uint64 = 10
	current := func() dbformat.Version { return dbformat.Version(last) }

	if got := l.oldest(current); got != 10 {
		t.Errorf("oldest() empty = %d, want 10", got)
	}
	l.pin(4)
	l.pin(4)
	l.pin(7)
	if got := l.oldest(current); got != 4 {
		t.Errorf("oldest() = %d, want 4", got)
	}
	if l.pinned() != 2 {
		t.Errorf("pinned() = %d, want 2", l.pinned())
	}
	l.unpin(4)
	if got := l.oldest(current); got != 4 {
		t.Errorf("oldest() with one ref left on 4 = %d", got)
	}
	l.unpin(4)
	l.unpin(4)
	if got := l.oldest(current); got != 7 {
		t.Errorf("oldest() = %d, want 7", got)
	}
	l.unpin(7)
	if l.pinned() != 0 {
		t.Errorf("pinned() = %d, want 0", l.pinned())
	}
}
