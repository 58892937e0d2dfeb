// Package encoding holds the little-endian fixed-width and varint
// primitives shared by the batch, log, block and manifest formats.
//
// Varints use 7 bits per byte with the high bit as continuation flag,
// the same layout LevelDB uses in util/coding.h.
package encoding

import (
	"encoding/binary"
	"errors"
)

const (
	// MaxVarint32Length is the maximum number of bytes a varint32 occupies.
	MaxVarint32Length = 5

	// MaxVarint64Length is the maximum number of bytes a varint64 occupies.
	MaxVarint64Length = 10
)

var (
	// ErrBufferTooSmall is returned when src ends before the encoded value.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint does not fit its width.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when src ends inside a varint.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// -----------------------------------------------------------------------------
// Fixed width
// -----------------------------------------------------------------------------

// EncodeFixed32 writes value into dst[:4].
func EncodeFixed32(dst []byte, value uint32) { binary.LittleEndian.PutUint32(dst, value) }

// DecodeFixed32 reads a uint32 from src[:4].
func DecodeFixed32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// EncodeFixed64 writes value into dst[:8].
func EncodeFixed64(dst []byte, value uint64) { binary.LittleEndian.PutUint64(dst, value) }

// DecodeFixed64 reads a uint64 from src[:8].
func DecodeFixed64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// AppendFixed32 appends value to dst.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends value to dst.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// -----------------------------------------------------------------------------
// Varints
// -----------------------------------------------------------------------------

// AppendVarint32 appends value as a varint.
func AppendVarint32(dst []byte, value uint32) []byte {
	return AppendVarint64(dst, uint64(value))
}

// AppendVarint64 appends value as a varint.
func AppendVarint64(dst []byte, value uint64) []byte {
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from the front of src and returns the
// value and the number of bytes consumed.
func DecodeVarint32(src []byte) (uint32, int, error) {
	var result uint32
	for i, shift := 0, uint(0); shift < 35; i, shift = i+1, shift+7 {
		if i >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[i]
		if b < 0x80 {
			if shift == 28 && b > 0x0f {
				return 0, 0, ErrVarintOverflow
			}
			return result | uint32(b)<<shift, i + 1, nil
		}
		result |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// DecodeVarint64 decodes a varint64 from the front of src.
func DecodeVarint64(src []byte) (uint64, int, error) {
	var result uint64
	for i, shift := 0, uint(0); shift < 70; i, shift = i+1, shift+7 {
		if i >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[i]
		if b < 0x80 {
			if shift == 63 && b > 1 {
				return 0, 0, ErrVarintOverflow
			}
			return result | uint64(b)<<shift, i + 1, nil
		}
		result |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLength returns the encoded size of v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// -----------------------------------------------------------------------------
// Length-prefixed slices
// -----------------------------------------------------------------------------

// AppendLengthPrefixedSlice appends varint32(len(value)) followed by value.
func AppendLengthPrefixedSlice(dst, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes a length-prefixed slice. The returned
// slice aliases src.
func DecodeLengthPrefixedSlice(src []byte) ([]byte, int, error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(length)
	if end > len(src) || end < n {
		return nil, 0, ErrBufferTooSmall
	}
	return src[n:end], end, nil
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader consumes values from the front of a byte slice. Each getter
// reports false once the input is exhausted or malformed and leaves the
// position unchanged in that case.
type Reader struct {
	data []byte
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) }

// Fixed32 reads a little-endian uint32.
func (r *Reader) Fixed32() (uint32, bool) {
	if len(r.data) < 4 {
		return 0, false
	}
	v := DecodeFixed32(r.data)
	r.data = r.data[4:]
	return v, true
}

// Fixed64 reads a little-endian uint64.
func (r *Reader) Fixed64() (uint64, bool) {
	if len(r.data) < 8 {
		return 0, false
	}
	v := DecodeFixed64(r.data)
	r.data = r.data[8:]
	return v, true
}

// Varint32 reads a varint32.
func (r *Reader) Varint32() (uint32, bool) {
	v, n, err := DecodeVarint32(r.data)
	if err != nil {
		return 0, false
	}
	r.data = r.data[n:]
	return v, true
}

// Varint64 reads a varint64.
func (r *Reader) Varint64() (uint64, bool) {
	v, n, err := DecodeVarint64(r.data)
	if err != nil {
		return 0, false
	}
	r.data = r.data[n:]
	return v, true
}

// LengthPrefixed reads a length-prefixed slice aliasing the input.
func (r *Reader) LengthPrefixed() ([]byte, bool) {
	v, n, err := DecodeLengthPrefixedSlice(r.data)
	if err != nil {
		return nil, false
	}
	r.data = r.data[n:]
	return v, true
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, bool) {
	if len(r.data) == 0 {
		return 0, false
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b, true
}
