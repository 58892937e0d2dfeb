// Package mempool recycles the scratch buffers table builders compress
// blocks into.
//
// Reference: RocksDB memory/arena.h
package mempool

import "sync"

// bucketSizes are the capacities handed out. Larger requests are
// allocated directly and never pooled.
var bucketSizes = [...]int{4 << 10, 16 << 10, 64 << 10, 256 << 10}

// Pool hands out byte slices of a few fixed capacities.
type Pool struct {
	buckets [len(bucketSizes)]sync.Pool
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	for i, size := range bucketSizes {
		p.buckets[i].New = func() any {
			buf := make([]byte, 0, size)
			return &buf
		}
	}
	return p
}

// Get returns an empty slice with capacity of at least n.
func (p *Pool) Get(n int) []byte {
	i := bucketFor(n)
	if i < 0 {
		return make([]byte, 0, n)
	}
	return (*p.buckets[i].Get().(*[]byte))[:0]
}

// Put returns buf for reuse. Slices whose capacity is not a bucket size
// are dropped, so a buffer grown by append never lands in a smaller
// bucket.
func (p *Pool) Put(buf []byte) {
	for i, size := range bucketSizes {
		if cap(buf) == size {
			buf = buf[:0]
			p.buckets[i].Put(&buf)
			return
		}
	}
}

func bucketFor(n int) int {
	for i, size := range bucketSizes {
		if n <= size {
			return i
		}
	}
	return -1
}

// Default is shared by every table builder in the process.
var Default = NewPool()
