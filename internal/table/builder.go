package table

import (
	"errors"
	"io"

	"github.com/aalhour/cobblekv/internal/block"
	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/encoding"
	"github.com/aalhour/cobblekv/internal/filter"
	"github.com/aalhour/cobblekv/internal/mempool"
)

// ErrFinished is returned by a Builder after Finish or Abandon.
var ErrFinished = errors.New("table: builder already finished")

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// BlockSize is the target uncompressed size of a data block.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points.
	BlockRestartInterval int

	// Compression is applied to data blocks when it saves at least 1/8.
	Compression compression.Type

	// ChecksumType selects the block checksum.
	ChecksumType checksum.Type

	// FilterBitsPerKey sizes the Bloom filter block. Zero writes no filter.
	FilterBitsPerKey int

	// FilterKey maps an entry key to the key added to the filter. Nil adds
	// the whole key.
	FilterKey func(key []byte) []byte
}

// DefaultBuilderOptions returns LevelDB's defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          compression.SnappyCompression,
		ChecksumType:         checksum.TypeCRC32C,
	}
}

// Builder writes a table file. Keys must be added in increasing order of
// the comparator the table will be read with.
type Builder struct {
	w    io.Writer
	opts BuilderOptions

	data   *block.Builder
	index  *block.Builder
	filter *filter.Builder

	pendingIndex  bool
	pendingHandle block.Handle
	lastKey       []byte
	firstKey      []byte

	offset     uint64
	numEntries uint64
	finished   bool
	err        error
}

// NewBuilder returns a Builder writing to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	if opts.ChecksumType == 0 {
		opts.ChecksumType = checksum.TypeCRC32C
	}
	b := &Builder{
		w:     w,
		opts:  opts,
		data:  block.NewBuilder(opts.BlockRestartInterval),
		index: block.NewBuilder(1),
	}
	if opts.FilterBitsPerKey > 0 {
		b.filter = filter.NewBuilder(opts.FilterBitsPerKey)
	}
	return b
}

// Add appends an entry.
func (b *Builder) Add(key, value []byte) error {
	if b.finished {
		return ErrFinished
	}
	if b.err != nil {
		return b.err
	}
	if b.pendingIndex {
		b.index.Add(b.lastKey, b.pendingHandle.AppendTo(nil))
		b.pendingIndex = false
	}
	if b.numEntries == 0 {
		b.firstKey = append(b.firstKey[:0], key...)
	}
	if b.filter != nil {
		if b.opts.FilterKey != nil {
			b.filter.Add(b.opts.FilterKey(key))
		} else {
			b.filter.Add(key)
		}
	}
	b.data.Add(key, value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++

	if b.data.EstimatedSize() >= b.opts.BlockSize {
		b.err = b.flush()
	}
	return b.err
}

func (b *Builder) flush() error {
	if b.data.Empty() {
		return nil
	}
	h, err := b.writeBlock(b.data.Finish(), b.opts.Compression)
	if err != nil {
		return err
	}
	b.data.Reset()
	b.pendingHandle = h
	b.pendingIndex = true
	return nil
}

func (b *Builder) writeBlock(raw []byte, ct compression.Type) (block.Handle, error) {
	stored, tag := raw, compression.NoCompression
	if ct != compression.NoCompression {
		scratch := mempool.Default.Get(len(raw) + len(raw)/6 + 64)
		defer mempool.Default.Put(scratch)
		if c, err := compression.CompressTo(ct, scratch, raw); err == nil && len(c) < len(raw)-len(raw)/8 {
			stored, tag = c, ct
		}
	}
	h := block.Handle{Offset: b.offset, Size: uint64(len(stored))}

	var trailer [block.TrailerSize]byte
	trailer[0] = byte(tag)
	encoding.EncodeFixed32(trailer[1:], checksum.Block(b.opts.ChecksumType, stored, byte(tag)))

	if _, err := b.w.Write(stored); err != nil {
		return block.Handle{}, err
	}
	if _, err := b.w.Write(trailer[:]); err != nil {
		return block.Handle{}, err
	}
	b.offset += uint64(len(stored)) + block.TrailerSize
	return h, nil
}

// Finish writes the filter block, the index block and the footer. The Builder cannot be used
// afterwards.
func (b *Builder) Finish() error {
	if b.finished {
		return ErrFinished
	}
	if b.err != nil {
		return b.err
	}
	b.finished = true

	if err := b.flush(); err != nil {
		b.err = err
		return err
	}
	if b.pendingIndex {
		b.index.Add(b.lastKey, b.pendingHandle.AppendTo(nil))
		b.pendingIndex = false
	}
	var fh block.Handle
	if b.filter != nil {
		h, err := b.writeBlock(b.filter.Finish(), compression.NoCompression)
		if err != nil {
			b.err = err
			return err
		}
		fh = h
	}
	ih, err := b.writeBlock(b.index.Finish(), compression.NoCompression)
	if err != nil {
		b.err = err
		return err
	}
	ft := footer{index: ih, filter: fh, checksumType: b.opts.ChecksumType}
	if _, err := b.w.Write(ft.encode()); err != nil {
		b.err = err
		return err
	}
	b.offset += FooterSize
	return nil
}

// Abandon marks the builder finished without writing the index or footer.
func (b *Builder) Abandon() { b.finished = true }

// NumEntries returns the number of entries added.
func (b *Builder) NumEntries() uint64 { return b.numEntries }

// FileSize returns the bytes written so far; after Finish, the file size.
func (b *Builder) FileSize() uint64 { return b.offset }

// EstimatedSize includes the unflushed data block.
func (b *Builder) EstimatedSize() uint64 { return b.offset + uint64(b.data.EstimatedSize()) }

// Smallest returns the first key added.
func (b *Builder) Smallest() []byte { return b.firstKey }

// Largest returns the last key added.
func (b *Builder) Largest() []byte { return b.lastKey }
