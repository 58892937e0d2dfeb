package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/cobblekv/internal/dbformat"
)

// nodeOverhead approximates the per-entry bookkeeping of the skiplist.
const nodeOverhead = 64

// MemTable is the mutable in-memory index of recent writes, keyed by
// internal key. A memtable is append-only: entries are never modified or
// removed, so readers filter by version instead of locking.
type MemTable struct {
	list  *SkipList
	icmp  *dbformat.InternalKeyComparator
	mu    sync.Mutex
	usage atomic.Int64
	refs  atomic.Int32

	maxVersion atomic.Uint64
}

// New returns an empty memtable with one reference held by the caller.
func New(icmp *dbformat.InternalKeyComparator) *MemTable {
	mt := &MemTable{list: NewSkipList(icmp.Compare), icmp: icmp}
	mt.refs.Store(1)
	return mt
}

// Ref adds a reference.
func (mt *MemTable) Ref() { mt.refs.Add(1) }

// Unref drops a reference and reports whether it was the last.
func (mt *MemTable) Unref() bool { return mt.refs.Add(-1) == 0 }

// Add inserts an entry. key and value are copied.
func (mt *MemTable) Add(v dbformat.Version, kind dbformat.Kind, key, value []byte) {
	ikey := dbformat.MakeInternalKey(key, v, kind)
	var val []byte
	if kind == dbformat.KindValue {
		val = append(make([]byte, 0, len(value)), value...)
	}

	mt.mu.Lock()
	mt.list.Insert(ikey, val)
	mt.mu.Unlock()

	mt.usage.Add(int64(len(ikey) + len(val) + nodeOverhead))
	for {
		cur := mt.maxVersion.Load()
		if uint64(v) <= cur || mt.maxVersion.CompareAndSwap(cur, uint64(v)) {
			break
		}
	}
}

// Get looks up the newest entry for key with version <= v. found reports
// whether such an entry exists; kind tells a value from a tombstone. The
// returned value aliases memtable memory and must not be modified.
func (mt *MemTable) Get(key []byte, v dbformat.Version) (value []byte, kind dbformat.Kind, found bool) {
	it := mt.list.NewIterator()
	it.Seek(dbformat.LookupKey(key, v))
	if !it.Valid() {
		return nil, 0, false
	}
	p, err := dbformat.ParseInternalKey(it.Key())
	if err != nil || mt.icmp.User.Compare(p.UserKey, key) != 0 {
		return nil, 0, false
	}
	return it.Value(), p.Kind, true
}

// ApproximateMemoryUsage returns the bytes held by entries.
func (mt *MemTable) ApproximateMemoryUsage() int64 { return mt.usage.Load() }

// Count returns the number of entries.
func (mt *MemTable) Count() int64 { return mt.list.Count() }

// Empty reports whether the memtable holds no entries.
func (mt *MemTable) Empty() bool { return mt.list.Count() == 0 }

// MaxVersion returns the largest version added.
func (mt *MemTable) MaxVersion() dbformat.Version { return dbformat.Version(mt.maxVersion.Load()) }

// NewIterator returns an iterator over internal keys. It satisfies the
// internal iterator contract and never reports an error.
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{ListIterator: mt.list.NewIterator()}
}

// Iterator adapts ListIterator to the internal iterator interface.
type Iterator struct {
	*ListIterator
}

// Error always returns nil; memory reads cannot fail.
func (it *Iterator) Error() error { return nil }

// Close is a no-op.
func (it *Iterator) Close() error { return nil }
