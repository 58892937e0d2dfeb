package leveldbstore

import (
	lvliter "github.com/syndtr/goleveldb/leveldb/iterator"

	"github.com/aalhour/cobblekv/internal/iterator"
)

// dataIterator exposes the data namespace of a goleveldb iterator as
// internal keys. goleveldb pins its own snapshot for the iterator's
// lifetime.
type dataIterator struct {
	it    lvliter.Iterator
	valid bool
	seek  []byte
}

var _ iterator.Iterator = (*dataIterator)(nil)

func newDataIterator(it lvliter.Iterator) *dataIterator {
	return &dataIterator{it: it}
}

func (d *dataIterator) Valid() bool { return d.valid }

func (d *dataIterator) Key() []byte {
	if !d.valid {
		return nil
	}
	return d.it.Key()[1:]
}

func (d *dataIterator) Value() []byte {
	if !d.valid {
		return nil
	}
	return d.it.Value()
}

func (d *dataIterator) SeekToFirst() { d.valid = d.it.First() }
func (d *dataIterator) SeekToLast()  { d.valid = d.it.Last() }

func (d *dataIterator) Seek(target []byte) {
	d.seek = append(append(d.seek[:0], dataPrefix), target...)
	d.valid = d.it.Seek(d.seek)
}

func (d *dataIterator) Next() { d.valid = d.it.Next() }
func (d *dataIterator) Prev() { d.valid = d.it.Prev() }

func (d *dataIterator) Error() error { return d.it.Error() }

func (d *dataIterator) Close() error {
	err := d.it.Error()
	d.it.Release()
	d.valid = false
	return err
}
