package db

// write_batch.go implements atomic multi-key updates.
//
// Reference: LevelDB include/leveldb/write_batch.h

import "github.com/aalhour/cobblekv/internal/batch"

// WriteBatchHandler receives the operations of a batch, in insertion
// order, from WriteBatch.Iterate.
type WriteBatchHandler interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// WriteBatch is an ordered list of puts and deletes applied atomically by
// DB.Write. It is not safe for concurrent mutation. A batch may be cleared
// and reused after it was written.
type WriteBatch struct {
	rep *batch.WriteBatch
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{rep: batch.New()}
}

// Put appends a put of key to value. Both are copied.
func (wb *WriteBatch) Put(key, value []byte) { wb.rep.Put(key, value) }

// Delete appends a delete of key.
func (wb *WriteBatch) Delete(key []byte) { wb.rep.Delete(key) }

// Clear removes every operation.
func (wb *WriteBatch) Clear() { wb.rep.Clear() }

// Count returns the number of operations.
func (wb *WriteBatch) Count() int { return int(wb.rep.Count()) }

// Append copies the operations of src after those of wb.
func (wb *WriteBatch) Append(src *WriteBatch) { wb.rep.Append(src.rep) }

// ApproximateSize returns the size of the encoded batch in bytes.
func (wb *WriteBatch) ApproximateSize() int { return wb.rep.Size() }

// Iterate replays the operations to h in insertion order. It only fails
// when the batch encoding is damaged, which cannot happen through this API.
func (wb *WriteBatch) Iterate(h WriteBatchHandler) error {
	return classify(wb.rep.Iterate(handlerAdapter{h}))
}

type handlerAdapter struct {
	h WriteBatchHandler
}

func (a handlerAdapter) Put(key, value []byte) error {
	a.h.Put(key, value)
	return nil
}

func (a handlerAdapter) Delete(key []byte) error {
	a.h.Delete(key)
	return nil
}
