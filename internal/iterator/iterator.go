// Package iterator defines the internal cursor contract and the iterators
// that combine cursors from memtables and table files.
package iterator

// Iterator is a cursor over internal keys in ascending internal-key order.
// Key and Value are valid until the next positioning call.
type Iterator interface {
	// Valid reports whether the cursor is at an entry. It is false after an
	// error.
	Valid() bool

	Key() []byte
	Value() []byte

	SeekToFirst()
	SeekToLast()

	// Seek positions at the first entry with key >= target.
	Seek(target []byte)

	Next()
	Prev()

	// Error returns the first error encountered, if any.
	Error() error

	// Close releases resources held by the cursor.
	Close() error
}

// Empty returns an iterator with no entries that reports err.
func Empty(err error) Iterator { return &emptyIterator{err: err} }

type emptyIterator struct {
	err error
}

func (e *emptyIterator) Valid() bool   { return false }
func (e *emptyIterator) Key() []byte   { return nil }
func (e *emptyIterator) Value() []byte { return nil }
func (e *emptyIterator) SeekToFirst()  {}
func (e *emptyIterator) SeekToLast()   {}
func (e *emptyIterator) Seek([]byte)   {}
func (e *emptyIterator) Next()         {}
func (e *emptyIterator) Prev()         {}
func (e *emptyIterator) Error() error  { return e.err }
func (e *emptyIterator) Close() error  { return nil }
