package cobblekv

// db.go implements the database handle.
//
// Reference: LevelDB include/leveldb/c.h, db/c.cc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aalhour/cobblekv/db"
	"github.com/aalhour/cobblekv/internal/handle"
)

var errStaleSnapshot = fmt.Errorf("%w: snapshot was released or belongs to another database", db.ErrInvalidArgument)

// closerFunc adapts a release function to io.Closer for the handle
// registry.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// DB is an open database.
type DB struct {
	db      db.DB
	handles *handle.Registry
	cache   *Cache
	env     *Env
	closed  atomic.Bool
}

// Open opens the database at name. On failure it returns nil and stores
// the reason in *errptr.
func Open(options *Options, name string, errptr *string) *DB {
	d, err := db.Open(name, options.build())
	if saveError(errptr, err) {
		return nil
	}
	h := &DB{db: d, handles: handle.NewRegistry()}
	if options != nil {
		h.cache, h.env = options.cache, options.env
	}
	if h.cache != nil {
		h.cache.refs.ref()
	}
	if h.env != nil {
		h.env.refs.ref()
	}
	return h
}

// Close releases the database together with every iterator and snapshot
// still derived from it. Later calls on those handles do nothing.
func (d *DB) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	_ = d.handles.CloseAll()
	// A failed close has already lost nothing a reopen would not recover.
	_ = d.db.Close()
	if d.cache != nil {
		d.cache.refs.unref()
	}
	if d.env != nil {
		d.env.refs.unref()
	}
}

// Put sets key to value.
func (d *DB) Put(options *WriteOptions, key, value []byte, errptr *string) {
	saveError(errptr, d.db.Put(options.build(), key, value))
}

// Delete removes key. Removing a missing key succeeds.
func (d *DB) Delete(options *WriteOptions, key []byte, errptr *string) {
	saveError(errptr, d.db.Delete(options.build(), key))
}

// Write applies batch atomically.
func (d *DB) Write(options *WriteOptions, batch *WriteBatch, errptr *string) {
	saveError(errptr, d.db.Write(options.build(), batch.wb))
}

// Get returns a copy of the value of key. A missing key yields nil without
// touching *errptr; an empty value yields an empty non-nil slice.
func (d *DB) Get(options *ReadOptions, key []byte, errptr *string) []byte {
	ro, err := d.readOptions(options)
	if saveError(errptr, err) {
		return nil
	}
	value, err := d.db.Get(ro, key)
	if errors.Is(err, db.ErrNotFound) || saveError(errptr, err) {
		return nil
	}
	return value
}

func (d *DB) readOptions(o *ReadOptions) (*db.ReadOptions, error) {
	if o == nil {
		return db.DefaultReadOptions(), nil
	}
	ro := &db.ReadOptions{VerifyChecksums: o.verifyChecksums, FillCache: o.fillCache}
	if s := o.snapshot; s != nil {
		if s.owner != d || s.released.Load() {
			return nil, errStaleSnapshot
		}
		ro.Snapshot = s.s
	}
	return ro, nil
}

// CreateIterator returns an iterator over the current state, or over the
// snapshot in options. Release it with Iterator.Destroy.
func (d *DB) CreateIterator(options *ReadOptions) *Iterator {
	ro, err := d.readOptions(options)
	if err != nil {
		return deadIterator(err)
	}
	it := &Iterator{it: d.db.NewIterator(ro), owner: d}
	id, err := d.handles.Register(closerFunc(it.closeFromDB))
	if err != nil {
		_ = it.it.Close()
		return deadIterator(db.ErrDBClosed)
	}
	it.id = id
	return it
}

// CreateSnapshot captures the current state. Release it with
// ReleaseSnapshot.
func (d *DB) CreateSnapshot() *Snapshot {
	s := &Snapshot{s: d.db.GetSnapshot(), owner: d}
	id, err := d.handles.Register(closerFunc(s.release))
	if err != nil {
		_ = s.release()
		return s
	}
	s.id = id
	return s
}

// ReleaseSnapshot releases s. Releasing twice does nothing.
func (d *DB) ReleaseSnapshot(s *Snapshot) {
	if s == nil || s.owner != d {
		return
	}
	d.handles.Unregister(s.id)
	_ = s.release()
}

// PropertyValue returns the value of a named property such as
// "leveldb.stats" or "cobblekv.last-version".
func (d *DB) PropertyValue(name string) (string, bool) {
	return d.db.GetProperty(name)
}

// ApproximateSizes estimates the bytes used by each range
// [starts[i], limits[i]).
func (d *DB) ApproximateSizes(starts, limits [][]byte) []uint64 {
	ranges := make([]db.Range, min(len(starts), len(limits)))
	for i := range ranges {
		ranges[i] = db.Range{Start: starts[i], Limit: limits[i]}
	}
	sizes, err := d.db.GetApproximateSizes(ranges)
	if err != nil {
		return make([]uint64, len(ranges))
	}
	return sizes
}

// CompactRange flushes the memtable and compacts the stored data. Nil
// bounds stand for the whole key space.
func (d *DB) CompactRange(start, limit []byte, errptr *string) {
	saveError(errptr, d.db.CompactRange(start, limit))
}

// DestroyDB removes the database at name. A missing database is not an
// error.
func DestroyDB(options *Options, name string, errptr *string) {
	saveError(errptr, db.DestroyDB(name, options.build()))
}

// RepairDB salvages what it can of a damaged database at name.
func RepairDB(options *Options, name string, errptr *string) {
	saveError(errptr, db.RepairDB(name, options.build()))
}

// MajorVersion returns the major version of the library.
func MajorVersion() int { return db.MajorVersion }

// MinorVersion returns the minor version of the library.
func MinorVersion() int { return db.MinorVersion }
