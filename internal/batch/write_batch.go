// Package batch implements the write batch representation.
//
// Format:
//
//	Header (12 bytes):
//	  - 8 bytes: version (little-endian uint64), stamped when the batch is written
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: tag (dbformat.KindValue or dbformat.KindDeletion)
//	  - length-prefixed key
//	  - length-prefixed value (puts only)
//
// The same bytes are the payload of a write-ahead log record.
package batch

import (
	"errors"
	"slices"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/encoding"
)

// HeaderSize is the size of the version + count header.
const HeaderSize = 12

var (
	// ErrCorrupted indicates a malformed batch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is shorter than its header.
	ErrTooSmall = errors.New("batch: too small")
)

// Handler receives the operations of a batch in insertion order.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// WriteBatch is an ordered list of puts and deletes applied as one unit.
type WriteBatch struct {
	data []byte
}

// New returns an empty batch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an encoded batch, typically read back from the log.
// The data is not copied.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear empties the batch so it can be reused.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	clear(wb.data)
}

// Data returns the encoded batch.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Size returns the encoded size in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of operations.
func (wb *WriteBatch) Count() uint32 { return encoding.DecodeFixed32(wb.data[8:HeaderSize]) }

func (wb *WriteBatch) setCount(n uint32) { encoding.EncodeFixed32(wb.data[8:HeaderSize], n) }

// Version returns the version stamped into the header.
func (wb *WriteBatch) Version() dbformat.Version {
	return dbformat.Version(encoding.DecodeFixed64(wb.data[:8]))
}

// SetVersion stamps the header with v.
func (wb *WriteBatch) SetVersion(v dbformat.Version) {
	encoding.EncodeFixed64(wb.data[:8], uint64(v))
}

// Put appends a put of key -> value.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, byte(dbformat.KindValue))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.setCount(wb.Count() + 1)
}

// Delete appends a delete of key.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, byte(dbformat.KindDeletion))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.setCount(wb.Count() + 1)
}

// Append copies the operations of src after those of wb. The version of
// src is ignored.
func (wb *WriteBatch) Append(src *WriteBatch) {
	if src.Count() == 0 {
		return
	}
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.setCount(wb.Count() + src.Count())
}

// Iterate replays the operations to h in insertion order. It stops at the
// first handler error and returns it.
func (wb *WriteBatch) Iterate(h Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}
	r := encoding.NewReader(wb.data[HeaderSize:])
	var found uint32
	for r.Len() > 0 {
		tag, _ := r.Byte()
		key, ok := r.LengthPrefixed()
		if !ok {
			return ErrCorrupted
		}
		switch dbformat.Kind(tag) {
		case dbformat.KindValue:
			value, ok := r.LengthPrefixed()
			if !ok {
				return ErrCorrupted
			}
			if err := h.Put(key, value); err != nil {
				return err
			}
		case dbformat.KindDeletion:
			if err := h.Delete(key); err != nil {
				return err
			}
		default:
			return ErrCorrupted
		}
		found++
	}
	if found != wb.Count() {
		return ErrCorrupted
	}
	return nil
}

// -----------------------------------------------------------------------------
// Collapsing
// -----------------------------------------------------------------------------

// Op is a single decoded operation. Key and Value alias the batch data.
type Op struct {
	Kind  dbformat.Kind
	Key   []byte
	Value []byte
}

type opCollector struct {
	ops []Op
}

func (c *opCollector) Put(key, value []byte) error {
	c.ops = append(c.ops, Op{Kind: dbformat.KindValue, Key: key, Value: value})
	return nil
}

func (c *opCollector) Delete(key []byte) error {
	c.ops = append(c.ops, Op{Kind: dbformat.KindDeletion, Key: key})
	return nil
}

// Collapse decodes the batch and keeps only the last operation for each
// key, where keys are equal when cmp reports 0. All operations of a batch
// share one version, so earlier operations on a key must not survive. The
// result is sorted by cmp.
func (wb *WriteBatch) Collapse(cmp dbformat.Comparator) ([]Op, error) {
	c := &opCollector{ops: make([]Op, 0, wb.Count())}
	if err := wb.Iterate(c); err != nil {
		return nil, err
	}
	ops := c.ops
	slices.SortStableFunc(ops, func(a, b Op) int { return cmp.Compare(a.Key, b.Key) })

	out := ops[:0]
	for i := range ops {
		if i+1 < len(ops) && cmp.Compare(ops[i].Key, ops[i+1].Key) == 0 {
			continue
		}
		out = append(out, ops[i])
	}
	return out, nil
}
