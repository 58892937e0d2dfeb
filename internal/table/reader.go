package table

import (
	"fmt"

	"github.com/aalhour/cobblekv/internal/block"
	"github.com/aalhour/cobblekv/internal/cache"
	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/filter"
	"github.com/aalhour/cobblekv/internal/vfs"
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// Compare orders the keys of the table.
	Compare func(a, b []byte) int

	// BlockCache, when set, caches parsed data blocks under
	// (CacheID, FileNumber, offset).
	BlockCache *cache.LRUCache
	CacheID    uint64
	FileNumber uint64

	// Paranoid verifies every block read, not only those requested with
	// ReadOptions.VerifyChecksums.
	Paranoid bool

	// FilterKey must match BuilderOptions.FilterKey of the writer.
	FilterKey func(key []byte) []byte
}

// ReadOptions controls a single lookup or iterator.
type ReadOptions struct {
	VerifyChecksums bool
	FillCache       bool
}

// Reader serves lookups from an open table file. It is safe for concurrent
// use.
type Reader struct {
	file         vfs.RandomAccessFile
	opts         ReaderOptions
	checksumType checksum.Type
	indexHandle  block.Handle
	index        *block.Block
	filter       *filter.Reader
}

// Open reads the footer and index block of file. On success the Reader
// owns file.
func Open(file vfs.RandomAccessFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < FooterSize {
		return nil, fmt.Errorf("%w: file is %d bytes", ErrInvalidTable, size)
	}
	buf := make([]byte, FooterSize)
	if _, err := file.ReadAt(buf, size-FooterSize); err != nil {
		return nil, err
	}
	ft, err := decodeFooter(buf)
	if err != nil {
		return nil, err
	}
	if ft.index.Offset+ft.index.Size+block.TrailerSize > uint64(size-FooterSize) {
		return nil, fmt.Errorf("%w: index handle out of range", ErrInvalidTable)
	}
	// The index is always verified: a bad index misroutes every lookup.
	data, err := readBlock(file, ft.index, ft.checksumType, true)
	if err != nil {
		return nil, err
	}
	index, err := block.New(data)
	if err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrCorrupted, err)
	}
	r := &Reader{
		file:         file,
		opts:         opts,
		checksumType: ft.checksumType,
		indexHandle:  ft.index,
		index:        index,
	}
	if ft.filter.Size > 0 {
		if ft.filter.Offset+ft.filter.Size+block.TrailerSize > ft.index.Offset {
			return nil, fmt.Errorf("%w: filter handle out of range", ErrInvalidTable)
		}
		data, err := readBlock(file, ft.filter, ft.checksumType, true)
		if err != nil {
			return nil, err
		}
		r.filter = filter.NewReader(data)
	}
	return r, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// ChecksumType returns the checksum algorithm recorded in the footer.
func (r *Reader) ChecksumType() checksum.Type { return r.checksumType }

// dataBlock loads the block at h through the block cache. The returned
// release func must be called once the block is no longer used.
func (r *Reader) dataBlock(h block.Handle, ro ReadOptions) (*block.Block, func(), error) {
	c := r.opts.BlockCache
	key := cache.Key{ID: r.opts.CacheID, FileNumber: r.opts.FileNumber, Offset: h.Offset}
	if c != nil {
		if ch := c.Lookup(key); ch != nil {
			if b, ok := ch.Value().(*block.Block); ok {
				return b, func() { c.Release(ch) }, nil
			}
			c.Release(ch)
		}
	}

	data, err := readBlock(r.file, h, r.checksumType, ro.VerifyChecksums || r.opts.Paranoid)
	if err != nil {
		return nil, nil, err
	}
	b, err := block.New(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if c != nil && ro.FillCache {
		ch := c.Insert(key, b, uint64(b.Size()))
		return b, func() { c.Release(ch) }, nil
	}
	return b, func() {}, nil
}

// MayContain reports whether an entry with the filter key of key may be
// stored. Tables without a filter match every key.
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	if r.opts.FilterKey != nil {
		key = r.opts.FilterKey(key)
	}
	return r.filter.MayContain(key)
}

// HasFilter reports whether the table carries a filter block.
func (r *Reader) HasFilter() bool { return r.filter != nil }

// Get returns the first entry whose key is >= key. found is false when
// every key in the table is smaller. The caller decides whether the entry
// matches.
func (r *Reader) Get(key []byte, ro ReadOptions) (k, v []byte, found bool, err error) {
	ii := r.index.NewIterator(r.opts.Compare)
	ii.Seek(key)
	if !ii.Valid() {
		return nil, nil, false, ii.Error()
	}
	h, _, err := block.DecodeHandle(ii.Value())
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	b, release, err := r.dataBlock(h, ro)
	if err != nil {
		return nil, nil, false, err
	}
	defer release()

	di := b.NewIterator(r.opts.Compare)
	di.Seek(key)
	if !di.Valid() {
		return nil, nil, false, di.Error()
	}
	return di.Key(), di.Value(), true, nil
}

// ApproximateOffsetOf returns the file offset at which key would be
// stored. Keys past the last block map to the start of the index.
func (r *Reader) ApproximateOffsetOf(key []byte) uint64 {
	ii := r.index.NewIterator(r.opts.Compare)
	ii.Seek(key)
	if ii.Valid() {
		if h, _, err := block.DecodeHandle(ii.Value()); err == nil {
			return h.Offset
		}
	}
	return r.indexHandle.Offset
}

// NewIterator returns a two-level iterator over the table.
func (r *Reader) NewIterator(ro ReadOptions) *Iterator {
	return &Iterator{r: r, ro: ro, index: r.index.NewIterator(r.opts.Compare)}
}
