package db

// iterator.go implements the database iterator.
//
// dbIterator turns the merged stream of internal keys from the memtables
// and the storage engine into user entries at one version: entries above
// the version, shadowed versions and tombstones are skipped.
//
// Reference: LevelDB db/db_iter.cc

import (
	"sync/atomic"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/iterator"
)

// Iterator is a cursor over the user entries visible at one version.
//
// A new iterator is unpositioned. Key and Value are valid until the next
// call that moves the cursor or Close. After an error Valid is false,
// repositioning does nothing and Error keeps reporting it.
type Iterator interface {
	// Valid reports whether the cursor is at an entry.
	Valid() bool

	SeekToFirst()
	SeekToLast()

	// Seek positions at the first key >= target.
	Seek(target []byte)

	// Next and Prev move one entry.
	// REQUIRES: Valid()
	Next()
	Prev()

	// REQUIRES: Valid()
	Key() []byte
	// REQUIRES: Valid()
	Value() []byte

	Error() error

	// Close releases the iterator. It is idempotent.
	Close() error
}

// NewIterator implements DB.
func (db *DBImpl) NewIterator(opts *ReadOptions) Iterator {
	if db.closed.Load() {
		return iterator.Empty(ErrDBClosed)
	}
	if opts == nil {
		opts = DefaultReadOptions()
	}
	rs := db.acquireReadState(opts.Snapshot)
	engineIter, release, err := db.engine.NewIterator(toStorageReadOptions(opts))
	if err != nil {
		db.releaseReadState(rs)
		return iterator.Empty(classify(err))
	}

	children := []iterator.Iterator{rs.mem.NewIterator()}
	if rs.imm != nil {
		children = append(children, rs.imm.NewIterator())
	}
	children = append(children, engineIter)

	it := &dbIterator{
		db:      db,
		ucmp:    db.icmp.User,
		iter:    iterator.NewMergingIterator(db.icmp.Compare, children...),
		rs:      rs,
		release: release,
	}
	id, err := db.iterators.Register(it)
	if err != nil {
		_ = it.Close()
		return iterator.Empty(ErrDBClosed)
	}
	it.id = id
	return it
}

type direction int8

const (
	// forward: iter is positioned at the entry that yields Key.
	forward direction = iota
	// reverse: iter is positioned before all entries of Key, which is
	// cached in savedKey and savedValue.
	reverse
)

type dbIterator struct {
	db      *DBImpl
	ucmp    Comparator
	iter    iterator.Iterator
	rs      *readState
	release func()
	id      uint64

	dir        direction
	valid      bool
	err        error
	savedKey   []byte
	savedValue []byte

	closed atomic.Bool
}

func (it *dbIterator) Valid() bool { return it.valid }

func (it *dbIterator) Key() []byte {
	if !it.valid {
		return nil
	}
	if it.dir == forward {
		return dbformat.ExtractUserKey(it.iter.Key())
	}
	return it.savedKey
}

func (it *dbIterator) Value() []byte {
	if !it.valid {
		return nil
	}
	if it.dir == forward {
		return it.iter.Value()
	}
	return it.savedValue
}

func (it *dbIterator) Error() error { return it.err }

// usable reports whether the cursor may be repositioned.
func (it *dbIterator) usable() bool {
	return it.err == nil && !it.closed.Load()
}

func (it *dbIterator) setError(err error) {
	it.err = err
	it.valid = false
	it.savedKey = it.savedKey[:0]
	it.savedValue = it.savedValue[:0]
}

// checkChildError records the error of the merged stream, if any, after it
// ran out of entries.
func (it *dbIterator) checkChildError() {
	if err := it.iter.Error(); err != nil {
		it.setError(classify(err))
	}
}

func (it *dbIterator) parseKey() (dbformat.ParsedKey, bool) {
	pk, err := dbformat.ParseInternalKey(it.iter.Key())
	if err != nil {
		it.setError(classify(err))
		return dbformat.ParsedKey{}, false
	}
	return pk, true
}

func (it *dbIterator) SeekToFirst() {
	if !it.usable() {
		return
	}
	it.dir = forward
	it.savedValue = it.savedValue[:0]
	it.iter.SeekToFirst()
	it.startForward()
}

func (it *dbIterator) Seek(target []byte) {
	if !it.usable() {
		return
	}
	it.dir = forward
	it.savedValue = it.savedValue[:0]
	it.iter.Seek(dbformat.LookupKey(target, it.rs.version))
	it.startForward()
}

func (it *dbIterator) startForward() {
	if it.iter.Valid() {
		it.findNextUserEntry(false)
		return
	}
	it.valid = false
	it.checkChildError()
}

func (it *dbIterator) SeekToLast() {
	if !it.usable() {
		return
	}
	it.dir = reverse
	it.savedValue = it.savedValue[:0]
	it.iter.SeekToLast()
	it.findPrevUserEntry()
}

func (it *dbIterator) Next() {
	if !it.valid || !it.usable() {
		return
	}
	if it.dir == reverse {
		it.dir = forward
		// iter is before the entries of savedKey. Step into them; the skip
		// below moves past them.
		if it.iter.Valid() {
			it.iter.Next()
		} else {
			it.iter.SeekToFirst()
		}
		if !it.iter.Valid() {
			it.valid = false
			it.savedKey = it.savedKey[:0]
			it.checkChildError()
			return
		}
	} else {
		it.savedKey = append(it.savedKey[:0], dbformat.ExtractUserKey(it.iter.Key())...)
		it.iter.Next()
		if !it.iter.Valid() {
			it.valid = false
			it.savedKey = it.savedKey[:0]
			it.checkChildError()
			return
		}
	}
	it.findNextUserEntry(true)
}

// findNextUserEntry moves iter forward to the newest visible value of the
// next user key. With skipping, entries for keys <= savedKey are hidden.
func (it *dbIterator) findNextUserEntry(skipping bool) {
	for ; it.iter.Valid(); it.iter.Next() {
		pk, ok := it.parseKey()
		if !ok {
			return
		}
		if pk.Version > it.rs.version {
			continue
		}
		switch pk.Kind {
		case dbformat.KindDeletion:
			// Hide every older entry of this key.
			it.savedKey = append(it.savedKey[:0], pk.UserKey...)
			skipping = true
		case dbformat.KindValue:
			if skipping && it.ucmp.Compare(pk.UserKey, it.savedKey) <= 0 {
				continue
			}
			it.valid = true
			it.savedKey = it.savedKey[:0]
			return
		}
	}
	it.savedKey = it.savedKey[:0]
	it.valid = false
	it.checkChildError()
}

func (it *dbIterator) Prev() {
	if !it.valid || !it.usable() {
		return
	}
	if it.dir == forward {
		// iter is at the current entry. Back up until it is before every
		// entry of the current key.
		it.savedKey = append(it.savedKey[:0], dbformat.ExtractUserKey(it.iter.Key())...)
		for {
			it.iter.Prev()
			if !it.iter.Valid() {
				it.valid = false
				it.savedKey = it.savedKey[:0]
				it.savedValue = it.savedValue[:0]
				it.checkChildError()
				return
			}
			if it.ucmp.Compare(dbformat.ExtractUserKey(it.iter.Key()), it.savedKey) < 0 {
				break
			}
		}
		it.dir = reverse
	}
	it.findPrevUserEntry()
}

// findPrevUserEntry moves iter backward past the entries of the previous
// visible user key, caching that key and its value.
func (it *dbIterator) findPrevUserEntry() {
	kind := dbformat.KindDeletion
	for it.iter.Valid() {
		pk, ok := it.parseKey()
		if !ok {
			return
		}
		if pk.Version <= it.rs.version {
			if kind != dbformat.KindDeletion && it.ucmp.Compare(pk.UserKey, it.savedKey) < 0 {
				// A live value of a later key is cached.
				break
			}
			kind = pk.Kind
			if kind == dbformat.KindDeletion {
				it.savedKey = it.savedKey[:0]
				it.savedValue = it.savedValue[:0]
			} else {
				it.savedKey = append(it.savedKey[:0], pk.UserKey...)
				it.savedValue = append(it.savedValue[:0], it.iter.Value()...)
			}
		}
		it.iter.Prev()
	}

	if kind == dbformat.KindDeletion {
		it.valid = false
		it.savedKey = it.savedKey[:0]
		it.savedValue = it.savedValue[:0]
		it.dir = forward
		it.checkChildError()
		return
	}
	it.valid = true
}

// Close unregisters the iterator and drops its references. It may run
// from DB.Close while the owner still holds the iterator.
func (it *dbIterator) Close() error {
	if !it.closed.CompareAndSwap(false, true) {
		return nil
	}
	it.valid = false
	it.db.iterators.Unregister(it.id)
	err := it.iter.Close()
	it.release()
	it.db.releaseReadState(it.rs)
	return classify(err)
}
