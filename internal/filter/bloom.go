// Package filter implements the Bloom filters stored in table files.
//
// A filter is an array of 64-byte lines followed by a five-byte trailer:
//
//	[line 0]...[line N-1][0xff][0x00][probes][0x00][0x00]
//
// The low half of a key's 64-bit XXH3 hash selects a line and the high half
// drives every probe inside it, so a lookup reads one cache line.
//
// Reference: RocksDB util/bloom_impl.h (FastLocalBloomImpl)
package filter

import "github.com/zeebo/xxh3"

const (
	lineBytes  = 64
	lineBits   = lineBytes * 8
	trailerLen = 5

	markerLocalBloom = 0xff
	subLocalBloom    = 0x00
)

// Builder collects key hashes and encodes the filter.
type Builder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBuilder returns a Builder sizing the filter at bitsPerKey bits per
// distinct key. Ten bits give about one percent false positives.
func NewBuilder(bitsPerKey int) *Builder {
	return &Builder{bitsPerKey: max(bitsPerKey, 1)}
}

// Add records key. Adding the key of the previous call again is free.
func (b *Builder) Add(key []byte) {
	h := xxh3.Hash(key)
	if n := len(b.hashes); n > 0 && b.hashes[n-1] == h {
		return
	}
	b.hashes = append(b.hashes, h)
}

// Len returns the number of hashes recorded.
func (b *Builder) Len() int { return len(b.hashes) }

// Finish encodes the filter and resets the Builder.
func (b *Builder) Finish() []byte {
	if len(b.hashes) == 0 {
		return []byte{markerLocalBloom, subLocalBloom, 0, 0, 0}
	}
	lines := max((len(b.hashes)*b.bitsPerKey+lineBits-1)/lineBits, 1)
	size := lines * lineBytes
	data := make([]byte, size+trailerLen)
	probes := numProbes(b.bitsPerKey * 1000)
	for _, h := range b.hashes {
		setProbes(lineOf(data, uint32(h), uint32(size)), uint32(h>>32), probes)
	}
	data[size] = markerLocalBloom
	data[size+1] = subLocalBloom
	data[size+2] = byte(probes)
	b.hashes = b.hashes[:0]
	return data
}

// Reader answers membership queries against an encoded filter.
type Reader struct {
	data   []byte
	size   uint32
	probes int
}

// NewReader parses data. It returns nil for an encoding it does not know;
// a nil Reader matches every key.
func NewReader(data []byte) *Reader {
	if len(data) < trailerLen {
		return nil
	}
	size := len(data) - trailerLen
	if data[size] != markerLocalBloom || data[size+1] != subLocalBloom || size%lineBytes != 0 {
		return nil
	}
	return &Reader{data: data, size: uint32(size), probes: int(data[size+2])}
}

// MayContain reports whether key may have been added. False is definite.
func (r *Reader) MayContain(key []byte) bool {
	if r == nil {
		return true
	}
	if r.size == 0 || r.probes == 0 {
		return false
	}
	h := xxh3.Hash(key)
	return testProbes(lineOf(r.data, uint32(h), r.size), uint32(h>>32), r.probes)
}

func lineOf(data []byte, h, size uint32) []byte {
	// (h * lines) >> 32 maps h onto [0, lines) without a division.
	off := uint32((uint64(h)*uint64(size/lineBytes))>>32) * lineBytes
	return data[off : off+lineBytes]
}

func setProbes(line []byte, h uint32, probes int) {
	for range probes {
		bit := h >> (32 - 9)
		line[bit>>3] |= 1 << (bit & 7)
		h *= 0x9e3779b9
	}
}

func testProbes(line []byte, h uint32, probes int) bool {
	for range probes {
		bit := h >> (32 - 9)
		if line[bit>>3]&(1<<(bit&7)) == 0 {
			return false
		}
		h *= 0x9e3779b9
	}
	return true
}

// numProbes picks the probe count that minimises the false positive rate
// of a cache-local filter at the given millibits per key.
func numProbes(millibitsPerKey int) int {
	switch {
	case millibitsPerKey <= 2080:
		return 1
	case millibitsPerKey <= 3580:
		return 2
	case millibitsPerKey <= 5100:
		return 3
	case millibitsPerKey <= 6640:
		return 4
	case millibitsPerKey <= 8300:
		return 5
	case millibitsPerKey <= 10070:
		return 6
	case millibitsPerKey <= 11720:
		return 7
	case millibitsPerKey <= 14001:
		return 8
	case millibitsPerKey <= 16050:
		return 9
	case millibitsPerKey <= 18300:
		return 10
	case millibitsPerKey <= 22001:
		return 11
	case millibitsPerKey <= 25501:
		return 12
	case millibitsPerKey > 50000:
		return 24
	default:
		return (millibitsPerKey-1)/2000 - 1
	}
}
