package table

import (
	"fmt"

	"github.com/aalhour/cobblekv/internal/block"
)

// Iterator walks a table by pairing an index iterator with an iterator over
// the data block the index currently points at. Errors are sticky.
type Iterator struct {
	r     *Reader
	ro    ReadOptions
	index *block.Iterator

	data        *block.Iterator
	dataHandle  block.Handle
	releaseData func()

	err error
}

func (it *Iterator) Valid() bool   { return it.err == nil && it.data != nil && it.data.Valid() }
func (it *Iterator) Key() []byte   { return it.data.Key() }
func (it *Iterator) Value() []byte { return it.data.Value() }
func (it *Iterator) Error() error  { return it.err }

// Close releases the current data block.
func (it *Iterator) Close() error {
	it.setData(nil, block.Handle{}, nil)
	return it.err
}

func (it *Iterator) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.index.SeekToFirst()
	it.initData()
	if it.data != nil {
		it.data.SeekToFirst()
	}
	it.skipEmptyForward()
}

func (it *Iterator) SeekToLast() {
	if it.err != nil {
		return
	}
	it.index.SeekToLast()
	it.initData()
	if it.data != nil {
		it.data.SeekToLast()
	}
	it.skipEmptyBackward()
}

func (it *Iterator) Seek(target []byte) {
	if it.err != nil {
		return
	}
	it.index.Seek(target)
	it.initData()
	if it.data != nil {
		it.data.Seek(target)
	}
	it.skipEmptyForward()
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.data.Next()
	it.skipEmptyForward()
}

func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	it.data.Prev()
	it.skipEmptyBackward()
}

func (it *Iterator) fail(err error) {
	if it.err == nil {
		it.err = err
	}
	it.setData(nil, block.Handle{}, nil)
}

func (it *Iterator) setData(data *block.Iterator, h block.Handle, release func()) {
	if it.releaseData != nil {
		it.releaseData()
	}
	it.data, it.dataHandle, it.releaseData = data, h, release
}

// initData points the data iterator at the block under the index cursor.
func (it *Iterator) initData() {
	if !it.index.Valid() {
		if err := it.index.Error(); err != nil {
			it.fail(err)
			return
		}
		it.setData(nil, block.Handle{}, nil)
		return
	}
	h, _, err := block.DecodeHandle(it.index.Value())
	if err != nil {
		it.fail(fmt.Errorf("%w: %v", ErrCorrupted, err))
		return
	}
	if it.data != nil && h == it.dataHandle {
		return
	}
	b, release, err := it.r.dataBlock(h, it.ro)
	if err != nil {
		it.fail(err)
		return
	}
	it.setData(b.NewIterator(it.r.opts.Compare), h, release)
}

func (it *Iterator) checkData() bool {
	if it.data != nil {
		if err := it.data.Error(); err != nil {
			it.fail(fmt.Errorf("%w: %v", ErrCorrupted, err))
			return false
		}
	}
	return it.err == nil
}

func (it *Iterator) skipEmptyForward() {
	for it.err == nil && (it.data == nil || !it.data.Valid()) {
		if !it.checkData() {
			return
		}
		if !it.index.Valid() {
			it.setData(nil, block.Handle{}, nil)
			return
		}
		it.index.Next()
		it.initData()
		if it.data != nil {
			it.data.SeekToFirst()
		}
	}
}

func (it *Iterator) skipEmptyBackward() {
	for it.err == nil && (it.data == nil || !it.data.Valid()) {
		if !it.checkData() {
			return
		}
		if !it.index.Valid() {
			it.setData(nil, block.Handle{}, nil)
			return
		}
		it.index.Prev()
		it.initData()
		if it.data != nil {
			it.data.SeekToLast()
		}
	}
}
