package block

import "github.com/aalhour/cobblekv/internal/encoding"

// Block is a parsed, immutable block.
type Block struct {
	data        []byte
	restarts    int // offset of the restart array
	numRestarts int
}

// New parses block contents. data is retained, not copied.
func New(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrBadBlock
	}
	n := int(encoding.DecodeFixed32(data[len(data)-4:]))
	if n == 0 || (n+1)*4 > len(data) {
		return nil, ErrBadBlock
	}
	return &Block{data: data, restarts: len(data) - (n+1)*4, numRestarts: n}, nil
}

// Size returns the size of the block contents.
func (b *Block) Size() int { return len(b.data) }

func (b *Block) restartPoint(i int) int {
	return int(encoding.DecodeFixed32(b.data[b.restarts+4*i:]))
}

// NewIterator returns a cursor over the block's entries ordered by cmp.
func (b *Block) NewIterator(cmp func(a, b []byte) int) *Iterator {
	return &Iterator{block: b, cmp: cmp, current: b.restarts, next: b.restarts}
}

// Iterator walks the entries of a block.
type Iterator struct {
	block   *Block
	cmp     func(a, b []byte) int
	current int // offset of the current entry; restarts when invalid
	next    int // offset just past the current entry
	key     []byte
	value   []byte
	err     error
}

// Valid reports whether the cursor is at an entry.
func (it *Iterator) Valid() bool { return it.err == nil && it.current < it.block.restarts }

// Key returns the current key. It is reused by the next move.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value, aliasing the block.
func (it *Iterator) Value() []byte { return it.value }

// Error returns the corruption error, if any.
func (it *Iterator) Error() error { return it.err }

// Close is a no-op; blocks are owned by the table reader or cache.
func (it *Iterator) Close() error { return nil }

func (it *Iterator) invalidate() {
	it.current = it.block.restarts
	it.next = it.block.restarts
}

func (it *Iterator) seekToRestart(i int) {
	it.key = it.key[:0]
	off := it.block.restartPoint(i)
	it.current = off
	it.next = off
}

// parseNext decodes the entry at it.next and reports whether one was read.
func (it *Iterator) parseNext() bool {
	it.current = it.next
	if it.current >= it.block.restarts {
		it.invalidate()
		return false
	}
	r := encoding.NewReader(it.block.data[it.current:it.block.restarts])
	start := r.Len()
	shared, ok1 := r.Varint32()
	unshared, ok2 := r.Varint32()
	vlen, ok3 := r.Varint32()
	if !ok1 || !ok2 || !ok3 || int(shared) > len(it.key) {
		it.corrupt()
		return false
	}
	hdr := start - r.Len()
	body := it.block.data[it.current+hdr : it.block.restarts]
	if len(body) < int(unshared)+int(vlen) {
		it.corrupt()
		return false
	}
	it.key = append(it.key[:shared], body[:unshared]...)
	it.value = body[unshared : unshared+vlen]
	it.next = it.current + hdr + int(unshared) + int(vlen)
	return true
}

func (it *Iterator) corrupt() {
	it.err = ErrBadBlock
	it.invalidate()
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.seekToRestart(0)
	it.parseNext()
}

// SeekToLast positions at the last entry.
func (it *Iterator) SeekToLast() {
	if it.err != nil {
		return
	}
	it.seekToRestart(it.block.numRestarts - 1)
	for it.parseNext() && it.next < it.block.restarts {
	}
}

// Next moves to the following entry.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.parseNext()
}

// Prev moves to the preceding entry by rescanning from the nearest
// restart point before it.
func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	original := it.current
	i := it.block.numRestarts - 1
	for i > 0 && it.block.restartPoint(i) >= original {
		i--
	}
	if it.block.restartPoint(i) >= original {
		// Already at the first entry.
		it.invalidate()
		return
	}
	it.seekToRestart(i)
	for it.parseNext() && it.next < original {
	}
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	if it.err != nil {
		return
	}
	// Find the last restart point whose key is < target.
	left, right := 0, it.block.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		it.seekToRestart(mid)
		if !it.parseNext() {
			return
		}
		if it.cmp(it.key, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}
	it.seekToRestart(left)
	for it.parseNext() {
		if it.cmp(it.key, target) >= 0 {
			return
		}
	}
}
