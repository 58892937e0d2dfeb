package wal

import (
	"io"

	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/encoding"
)

// Writer appends records to a log.
type Writer struct {
	dest        io.Writer
	blockOffset int
	typeCRC     [lastType + 1]uint32
	buf         []byte
}

// NewWriter returns a Writer appending to dest, which must be positioned at
// offset 0 of a new log.
func NewWriter(dest io.Writer) *Writer {
	w := &Writer{dest: dest}
	for t := range w.typeCRC {
		w.typeCRC[t] = checksum.Value([]byte{byte(t)})
	}
	return w
}

// AddRecord appends data as one logical record. All fragments are written
// with a single call to the destination. Empty records are legal.
func (w *Writer) AddRecord(data []byte) error {
	w.buf = w.buf[:0]
	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			w.buf = append(w.buf, make([]byte, leftover)...)
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		n := min(len(data), avail)
		end := n == len(data)

		var t recordType
		switch {
		case begin && end:
			t = fullType
		case begin:
			t = firstType
		case end:
			t = lastType
		default:
			t = middleType
		}
		w.appendPhysical(t, data[:n])

		data = data[n:]
		begin = false
		if end {
			break
		}
	}
	_, err := w.dest.Write(w.buf)
	return err
}

func (w *Writer) appendPhysical(t recordType, payload []byte) {
	var header [HeaderSize]byte
	crc := checksum.Mask(checksum.Extend(w.typeCRC[t], payload))
	encoding.EncodeFixed32(header[:4], crc)
	header[4] = byte(len(payload))
	header[5] = byte(len(payload) >> 8)
	header[6] = byte(t)
	w.buf = append(w.buf, header[:]...)
	w.buf = append(w.buf, payload...)
	w.blockOffset += HeaderSize + len(payload)
}

// Sync syncs the destination if it supports it.
func (w *Writer) Sync() error {
	if s, ok := w.dest.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
