package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/encoding"
)

// Reporter is told about bytes dropped because of corruption.
type Reporter func(bytes int, err error)

// Reader reads logical records from a log. Corrupt records are reported
// and skipped. A record cut short by the end of the file is the normal
// result of a crash during a write and is silently dropped.
type Reader struct {
	src    io.Reader
	report Reporter
	verify bool

	block  []byte
	buffer []byte
	eof    bool

	record []byte
}

// NewReader returns a Reader over src. report may be nil.
func NewReader(src io.Reader, report Reporter, verifyChecksums bool) *Reader {
	return &Reader{src: src, report: report, verify: verifyChecksums, block: make([]byte, BlockSize)}
}

func (r *Reader) corruption(n int, err error) {
	if r.report != nil {
		r.report(n, err)
	}
}

// ReadRecord returns the next record, or io.EOF at the end of the log. The
// result is valid until the next call.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.record = r.record[:0]
	inFragment := false
	for {
		t, payload, err := r.readPhysical()
		if err != nil {
			// A partial record at the end of the log is a torn write.
			return nil, err
		}
		switch t {
		case fullType:
			if inFragment {
				r.corruption(len(r.record), ErrBadFragment)
			}
			r.record = append(r.record[:0], payload...)
			return r.record, nil
		case firstType:
			if inFragment {
				r.corruption(len(r.record), ErrBadFragment)
			}
			r.record = append(r.record[:0], payload...)
			inFragment = true
		case middleType:
			if !inFragment {
				r.corruption(len(payload), ErrBadFragment)
				continue
			}
			r.record = append(r.record, payload...)
		case lastType:
			if !inFragment {
				r.corruption(len(payload), ErrBadFragment)
				continue
			}
			r.record = append(r.record, payload...)
			return r.record, nil
		default:
			r.corruption(len(payload)+len(r.record), fmt.Errorf("%w: unknown type %d", ErrCorrupted, t))
			inFragment = false
			r.record = r.record[:0]
		}
	}
}

func (r *Reader) readPhysical() (recordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				// Trailing bytes shorter than a header are a torn write.
				r.buffer = nil
				return 0, nil, io.EOF
			}
			n, err := io.ReadFull(r.src, r.block)
			switch {
			case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
				r.eof = true
			case err != nil:
				return 0, nil, err
			}
			r.buffer = r.block[:n]
			continue
		}

		header := r.buffer[:HeaderSize]
		length := int(header[4]) | int(header[5])<<8
		t := recordType(header[6])
		if HeaderSize+length > len(r.buffer) {
			drop := len(r.buffer)
			r.buffer = nil
			if !r.eof {
				r.corruption(drop, fmt.Errorf("%w: bad record length", ErrCorrupted))
			}
			continue
		}
		if t == zeroType && length == 0 {
			// Preallocated or padded region.
			r.buffer = nil
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]
		r.buffer = r.buffer[HeaderSize+length:]
		if r.verify {
			want := checksum.Unmask(encoding.DecodeFixed32(header[:4]))
			if got := checksum.Extend(checksum.Value([]byte{byte(t)}), payload); got != want {
				// The length may be corrupt too; drop the rest of the block.
				r.corruption(len(r.buffer)+HeaderSize+length, fmt.Errorf("%w: checksum mismatch", ErrCorrupted))
				r.buffer = nil
				continue
			}
		}
		return t, payload, nil
	}
}
