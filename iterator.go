package cobblekv

import (
	"sync/atomic"

	"github.com/aalhour/cobblekv/db"
)

// Iterator walks the entries of a DB in comparator order. Key and Value
// return slices that stay valid only until the next move.
type Iterator struct {
	it    db.Iterator
	owner *DB
	id    uint64
	err   atomic.Pointer[error]
	dead  atomic.Bool
}

func deadIterator(err error) *Iterator {
	it := &Iterator{}
	it.err.Store(&err)
	it.dead.Store(true)
	return it
}

// Destroy releases the iterator. Destroying twice does nothing.
func (it *Iterator) Destroy() {
	if it.owner != nil {
		it.owner.handles.Unregister(it.id)
	}
	it.kill()
}

func (it *Iterator) closeFromDB() error {
	err := error(db.ErrDBClosed)
	it.err.CompareAndSwap(nil, &err)
	it.kill()
	return nil
}

func (it *Iterator) kill() {
	if it.dead.CompareAndSwap(false, true) {
		_ = it.it.Close()
	}
}

func (it *Iterator) live() bool { return !it.dead.Load() }

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.live() && it.it.Valid() }

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	if it.live() {
		it.it.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	if it.live() {
		it.it.SeekToLast()
	}
}

// Seek positions the iterator at the first entry at or after target.
func (it *Iterator) Seek(target []byte) {
	if it.live() {
		it.it.Seek(target)
	}
}

// Next moves to the next entry. The iterator must be valid.
func (it *Iterator) Next() {
	if it.Valid() {
		it.it.Next()
	}
}

// Prev moves to the previous entry. The iterator must be valid.
func (it *Iterator) Prev() {
	if it.Valid() {
		it.it.Prev()
	}
}

// Key returns the current key, or nil when the iterator is not valid.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.it.Key()
}

// Value returns the current value, or nil when the iterator is not valid.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.it.Value()
}

// GetError stores the first error the iterator met in *errptr. A clean
// iterator leaves *errptr alone.
func (it *Iterator) GetError(errptr *string) {
	if p := it.err.Load(); p != nil {
		saveError(errptr, *p)
		return
	}
	if it.live() {
		saveError(errptr, it.it.Error())
	}
}
