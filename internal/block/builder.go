package block

import "github.com/aalhour/cobblekv/internal/encoding"

// Builder accumulates sorted entries into a block.
type Builder struct {
	buf             []byte
	restarts        []uint32
	counter         int
	restartInterval int
	lastKey         []byte
	finished        bool
}

// NewBuilder returns a builder that stores a full key every
// restartInterval entries.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &Builder{
		buf:             make([]byte, 0, 4096),
		restarts:        []uint32{0},
		restartInterval: restartInterval,
	}
}

// Reset clears the builder for the next block.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// Add appends an entry.
// REQUIRES: key sorts after every key added since Reset, Finish not called.
func (b *Builder) Add(key, value []byte) {
	if b.finished {
		panic("block: Add called after Finish")
	}
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLength(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	b.buf = encoding.AppendVarint32(b.buf, uint32(shared))
	b.buf = encoding.AppendVarint32(b.buf, uint32(len(key)-shared))
	b.buf = encoding.AppendVarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// EstimatedSize returns the size the block would have if finished now.
func (b *Builder) EstimatedSize() int {
	return len(b.buf) + 4*len(b.restarts) + 4
}

// Empty reports whether no entries were added since Reset.
func (b *Builder) Empty() bool { return len(b.buf) == 0 }

// Finish appends the restart array and returns the block contents, which
// stay valid until Reset.
func (b *Builder) Finish() []byte {
	for _, r := range b.restarts {
		b.buf = encoding.AppendFixed32(b.buf, r)
	}
	b.buf = encoding.AppendFixed32(b.buf, uint32(len(b.restarts)))
	b.finished = true
	return b.buf
}

func sharedPrefixLength(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
