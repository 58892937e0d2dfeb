// Package block implements the prefix-compressed block format of table
// files.
//
// A block is a run of entries followed by an array of restart offsets:
//
//	entry:        shared varint32 | unshared varint32 | value_len varint32 | key_delta | value
//	restarts:     uint32[num_restarts]
//	num_restarts: uint32
//
// Each entry stores only the suffix of its key that differs from the
// previous key, except at restart points, where the full key is stored.
// Seek binary-searches the restart points and then scans linearly.
package block

import (
	"errors"

	"github.com/aalhour/cobblekv/internal/encoding"
)

// TrailerSize is the size of the trailer that follows every stored block:
// a one-byte compression tag and a four-byte checksum.
const TrailerSize = 5

// MaxHandleLength is the largest encoding of a Handle.
const MaxHandleLength = 2 * encoding.MaxVarint64Length

var (
	// ErrBadHandle is returned when a block handle cannot be decoded.
	ErrBadHandle = errors.New("block: bad block handle")

	// ErrBadBlock is returned when block contents are malformed.
	ErrBadBlock = errors.New("block: corrupted block")
)

// Handle locates a stored block inside a file. Size excludes the trailer.
type Handle struct {
	Offset uint64
	Size   uint64
}

// AppendTo appends the encoding of h to dst.
func (h Handle) AppendTo(dst []byte) []byte {
	dst = encoding.AppendVarint64(dst, h.Offset)
	return encoding.AppendVarint64(dst, h.Size)
}

// DecodeHandle decodes a handle from the front of data.
func DecodeHandle(data []byte) (Handle, int, error) {
	off, n1, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, 0, ErrBadHandle
	}
	size, n2, err := encoding.DecodeVarint64(data[n1:])
	if err != nil {
		return Handle{}, 0, ErrBadHandle
	}
	return Handle{Offset: off, Size: size}, n1 + n2, nil
}
