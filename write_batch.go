package cobblekv

import "github.com/aalhour/cobblekv/db"

// WriteBatch collects puts and deletes that DB.Write applies atomically.
type WriteBatch struct {
	wb *db.WriteBatch
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch { return &WriteBatch{wb: db.NewWriteBatch()} }

// Destroy releases the batch.
func (b *WriteBatch) Destroy() { b.wb = nil }

// Clear removes every operation so the batch can be reused.
func (b *WriteBatch) Clear() { b.wb.Clear() }

// Put appends a put. key and value are copied.
func (b *WriteBatch) Put(key, value []byte) { b.wb.Put(key, value) }

// Delete appends a delete. key is copied.
func (b *WriteBatch) Delete(key []byte) { b.wb.Delete(key) }

// Count returns the number of operations.
func (b *WriteBatch) Count() int { return b.wb.Count() }

// Append adds the operations of src after those of b.
func (b *WriteBatch) Append(src *WriteBatch) { b.wb.Append(src.wb) }

// Iterate calls put or deleted for every operation in insertion order.
func (b *WriteBatch) Iterate(put func(key, value []byte), deleted func(key []byte)) {
	_ = b.wb.Iterate(funcHandler{put: put, deleted: deleted})
}

type funcHandler struct {
	put     func(key, value []byte)
	deleted func(key []byte)
}

func (h funcHandler) Put(key, value []byte) {
	if h.put != nil {
		h.put(key, value)
	}
}

func (h funcHandler) Delete(key []byte) {
	if h.deleted != nil {
		h.deleted(key)
	}
}
