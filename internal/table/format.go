// Package table implements immutable sorted table files.
//
// File layout:
//
//	[data block 1][trailer]
//	...
//	[data block N][trailer]
//	[filter block][trailer]   (optional)
//	[index block][trailer]
//	[footer]
//
// Every block is followed by a five-byte trailer: the compression tag and a
// checksum of the stored bytes plus that tag. Index entries map the last key
// of each data block to the block's handle. The filter block is a Bloom
// filter over the filter keys of every entry. The fixed-size footer holds
// the index and filter handles, the checksum algorithm and a magic number.
// A zero-sized filter handle means the table has no filter.
package table

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/cobblekv/internal/block"
	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/encoding"
)

// FooterSize is the encoded size of a footer.
const FooterSize = 2*block.MaxHandleLength + 4 + 8

// Magic marks the end of every table file ("cobblekv" in ASCII).
const Magic uint64 = 0x636f62626c656b76

var (
	// ErrCorrupted is the root of every table format failure.
	ErrCorrupted = errors.New("table: corrupted")

	// ErrInvalidTable is returned when a file is not a table.
	ErrInvalidTable = fmt.Errorf("%w: not a table file", ErrCorrupted)

	// ErrChecksumMismatch is returned when a block fails verification.
	ErrChecksumMismatch = fmt.Errorf("%w: block checksum mismatch", ErrCorrupted)
)

type footer struct {
	index        block.Handle
	filter       block.Handle
	checksumType checksum.Type
}

func (f footer) encode() []byte {
	buf := make([]byte, FooterSize)
	f.index.AppendTo(buf[:0])
	f.filter.AppendTo(buf[block.MaxHandleLength:block.MaxHandleLength])
	buf[2*block.MaxHandleLength] = byte(f.checksumType)
	encoding.EncodeFixed64(buf[FooterSize-8:], Magic)
	return buf
}

func decodeFooter(data []byte) (footer, error) {
	if len(data) != FooterSize {
		return footer{}, fmt.Errorf("%w: footer is %d bytes", ErrInvalidTable, len(data))
	}
	if encoding.DecodeFixed64(data[FooterSize-8:]) != Magic {
		return footer{}, fmt.Errorf("%w: bad magic number", ErrInvalidTable)
	}
	index, _, err := block.DecodeHandle(data[:block.MaxHandleLength])
	if err != nil {
		return footer{}, fmt.Errorf("%w: index handle: %v", ErrInvalidTable, err)
	}
	filter, _, err := block.DecodeHandle(data[block.MaxHandleLength : 2*block.MaxHandleLength])
	if err != nil {
		return footer{}, fmt.Errorf("%w: filter handle: %v", ErrInvalidTable, err)
	}
	return footer{index: index, filter: filter, checksumType: checksum.Type(data[2*block.MaxHandleLength])}, nil
}

// readBlock reads the block at h and its trailer, optionally verifies the
// checksum, and returns the uncompressed contents.
func readBlock(f io.ReaderAt, h block.Handle, ct checksum.Type, verify bool) ([]byte, error) {
	buf := make([]byte, h.Size+block.TrailerSize)
	n, err := f.ReadAt(buf, int64(h.Offset))
	if n < len(buf) {
		if err == nil {
			err = fmt.Errorf("%w: truncated block read at %d", ErrCorrupted, h.Offset)
		}
		return nil, err
	}
	data := buf[:h.Size]
	tag := buf[h.Size]
	if verify {
		want := encoding.DecodeFixed32(buf[h.Size+1:])
		if got := checksum.Block(ct, data, tag); got != want {
			return nil, fmt.Errorf("%w at offset %d", ErrChecksumMismatch, h.Offset)
		}
	}
	out, err := compression.Decompress(compression.Type(tag), data)
	if err != nil {
		return nil, fmt.Errorf("%w: block at %d: %v", ErrCorrupted, h.Offset, err)
	}
	return out, nil
}
