package db

// snapshot.go implements snapshot management.
//
// Snapshots provide consistent point-in-time views of the database.
// All reads from a snapshot see the database state at creation time.
//
// Reference: LevelDB db/snapshot.h

import (
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/aalhour/cobblekv/internal/dbformat"
)

// Snapshot is a handle on the database state at one version. Release it
// with DB.ReleaseSnapshot.
type Snapshot struct {
	version  dbformat.Version
	list     *snapshotList
	released atomic.Bool
}

// Version returns the version the snapshot reads at.
func (s *Snapshot) Version() uint64 { return uint64(s.version) }

// snapshotList is the ordered multiset of pinned versions: explicit
// snapshots, iterators and in-flight reads. Compaction keeps everything
// a pinned version can see.
type snapshotList struct {
	// mu orders pinning the current version against computing the oldest
	// one, so a new pin is never below an oldest already handed out.
	mu   sync.Mutex
	refs *skipmap.OrderedMap[uint64, int]

	numSnapshots atomic.Int64
}

func newSnapshotList() *snapshotList {
	return &snapshotList{refs: skipmap.New[uint64, int]()}
}

// pinCurrent pins the version returned by current.
func (l *snapshotList) pinCurrent(current func() dbformat.Version) dbformat.Version {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := current()
	l.pinLocked(v)
	return v
}

// pin adds a reference to v, which must already be pinned or be at least
// the oldest version.
func (l *snapshotList) pin(v dbformat.Version) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pinLocked(v)
}

func (l *snapshotList) pinLocked(v dbformat.Version) {
	n, _ := l.refs.Load(uint64(v))
	l.refs.Store(uint64(v), n+1)
}

func (l *snapshotList) unpin(v dbformat.Version) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.refs.Load(uint64(v))
	switch {
	case !ok:
	case n <= 1:
		l.refs.Delete(uint64(v))
	default:
		l.refs.Store(uint64(v), n-1)
	}
}

// oldest returns the smallest pinned version, or current() when nothing
// is pinned.
func (l *snapshotList) oldest(current func() dbformat.Version) dbformat.Version {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := current()
	l.refs.Range(func(pinned uint64, _ int) bool {
		v = min(v, dbformat.Version(pinned))
		return false
	})
	return v
}

// pinned returns the number of distinct pinned versions.
func (l *snapshotList) pinned() int { return l.refs.Len() }

func (l *snapshotList) newSnapshot(current func() dbformat.Version) *Snapshot {
	v := l.pinCurrent(current)
	l.numSnapshots.Add(1)
	return &Snapshot{version: v, list: l}
}

// release drops s. Releasing twice is a no-op.
func (l *snapshotList) release(s *Snapshot) {
	if s == nil || s.list != l || !s.released.CompareAndSwap(false, true) {
		return
	}
	l.numSnapshots.Add(-1)
	l.unpin(s.version)
}
