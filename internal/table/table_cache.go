package table

import (
	"container/list"
	"sync"

	"github.com/aalhour/cobblekv/internal/vfs"
)

// TableCache keeps a bounded set of open Readers keyed by file number.
// Readers are reference counted: one evicted while still in use is closed
// when its last user releases it.
type TableCache struct {
	fs       vfs.FS
	pathOf   func(fileNum uint64) string
	opts     ReaderOptions
	capacity int

	mu      sync.Mutex
	entries map[uint64]*list.Element
	lru     *list.List // front is most recently used
}

type tableEntry struct {
	fileNum uint64
	reader  *Reader
	refs    int // users plus one for residency
}

// NewTableCache returns a cache holding at most capacity open tables.
// pathOf maps a file number to its path; opts.FileNumber is filled per
// table.
func NewTableCache(fs vfs.FS, pathOf func(uint64) string, opts ReaderOptions, capacity int) *TableCache {
	if capacity < 1 {
		capacity = 1
	}
	return &TableCache{
		fs:       fs,
		pathOf:   pathOf,
		opts:     opts,
		capacity: capacity,
		entries:  make(map[uint64]*list.Element),
		lru:      list.New(),
	}
}

func entryOf(e *list.Element) *tableEntry {
	te, _ := e.Value.(*tableEntry)
	return te
}

// Get returns the Reader for fileNum, opening it if needed. release must be
// called exactly once when the caller is done with the Reader.
func (tc *TableCache) Get(fileNum uint64) (r *Reader, release func(), err error) {
	tc.mu.Lock()
	if e, ok := tc.entries[fileNum]; ok {
		tc.lru.MoveToFront(e)
		te := entryOf(e)
		te.refs++
		tc.mu.Unlock()
		return te.reader, tc.releaser(te), nil
	}
	tc.mu.Unlock()

	// Open outside the lock; a racing opener of the same file loses and
	// closes its copy below.
	f, err := tc.fs.OpenRandomAccess(tc.pathOf(fileNum))
	if err != nil {
		return nil, nil, err
	}
	opts := tc.opts
	opts.FileNumber = fileNum
	reader, err := Open(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if e, ok := tc.entries[fileNum]; ok {
		_ = reader.Close()
		te := entryOf(e)
		te.refs++
		return te.reader, tc.releaser(te), nil
	}
	te := &tableEntry{fileNum: fileNum, reader: reader, refs: 2}
	tc.entries[fileNum] = tc.lru.PushFront(te)
	for tc.lru.Len() > tc.capacity {
		tc.drop(tc.lru.Back())
	}
	return reader, tc.releaser(te), nil
}

func (tc *TableCache) releaser(te *tableEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			tc.mu.Lock()
			tc.unref(te)
			tc.mu.Unlock()
		})
	}
}

// REQUIRES: tc.mu held.
func (tc *TableCache) unref(te *tableEntry) {
	te.refs--
	if te.refs == 0 {
		_ = te.reader.Close()
	}
}

// REQUIRES: tc.mu held.
func (tc *TableCache) drop(e *list.Element) {
	te := entryOf(e)
	tc.lru.Remove(e)
	delete(tc.entries, te.fileNum)
	tc.unref(te)
}

// Evict forgets fileNum, typically because the file is being deleted.
func (tc *TableCache) Evict(fileNum uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if e, ok := tc.entries[fileNum]; ok {
		tc.drop(e)
	}
}

// Len returns the number of resident tables.
func (tc *TableCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.lru.Len()
}

// Close evicts every table. Readers still in use close on release.
func (tc *TableCache) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for tc.lru.Len() > 0 {
		tc.drop(tc.lru.Back())
	}
}
