package iterator

import (
	"container/heap"
	"errors"
)

type direction int

const (
	forward direction = iota
	reverse
)

// MergingIterator yields the union of its children in order. Equal keys
// from different children are all surfaced; the child listed first wins
// ties so callers put newer sources first.
type MergingIterator struct {
	children []Iterator
	cmp      func(a, b []byte) int
	h        *iterHeap
	dir      direction
	err      error
}

// NewMergingIterator merges children under cmp, which orders internal keys.
func NewMergingIterator(cmp func(a, b []byte) int, children ...Iterator) *MergingIterator {
	mi := &MergingIterator{children: children, cmp: cmp}
	mi.h = &iterHeap{cmp: cmp, children: children}
	return mi
}

// Valid reports whether the merged cursor is at an entry.
func (mi *MergingIterator) Valid() bool {
	return mi.err == nil && mi.h.Len() > 0
}

func (mi *MergingIterator) current() Iterator { return mi.children[mi.h.items[0]] }

// Key returns the current key.
func (mi *MergingIterator) Key() []byte { return mi.current().Key() }

// Value returns the current value.
func (mi *MergingIterator) Value() []byte { return mi.current().Value() }

// SeekToFirst positions every child at its first entry.
func (mi *MergingIterator) SeekToFirst() {
	for _, c := range mi.children {
		c.SeekToFirst()
	}
	mi.rebuild(forward)
}

// SeekToLast positions every child at its last entry.
func (mi *MergingIterator) SeekToLast() {
	for _, c := range mi.children {
		c.SeekToLast()
	}
	mi.rebuild(reverse)
}

// Seek positions every child at target.
func (mi *MergingIterator) Seek(target []byte) {
	for _, c := range mi.children {
		c.Seek(target)
	}
	mi.rebuild(forward)
}

// Next advances to the next entry in merged order.
func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	if mi.dir != forward {
		// Move every other child to the first entry after the current key.
		cur := mi.h.items[0]
		key := append([]byte(nil), mi.Key()...)
		for i, c := range mi.children {
			if i == cur {
				continue
			}
			c.Seek(key)
			if c.Valid() && mi.cmp(key, c.Key()) == 0 {
				c.Next()
			}
		}
		mi.children[cur].Next()
		mi.rebuild(forward)
		return
	}
	c := mi.current()
	c.Next()
	mi.advanced(c)
}

// Prev moves to the previous entry in merged order.
func (mi *MergingIterator) Prev() {
	if !mi.Valid() {
		return
	}
	if mi.dir != reverse {
		// Move every other child to the last entry before the current key.
		cur := mi.h.items[0]
		key := append([]byte(nil), mi.Key()...)
		for i, c := range mi.children {
			if i == cur {
				continue
			}
			c.Seek(key)
			if c.Valid() {
				c.Prev()
			} else if c.Error() == nil {
				c.SeekToLast()
			}
		}
		mi.children[cur].Prev()
		mi.rebuild(reverse)
		return
	}
	c := mi.current()
	c.Prev()
	mi.advanced(c)
}

// Error returns the first child error.
func (mi *MergingIterator) Error() error { return mi.err }

// Close closes every child.
func (mi *MergingIterator) Close() error {
	var errs []error
	for _, c := range mi.children {
		errs = append(errs, c.Close())
	}
	mi.h.items = nil
	return errors.Join(errs...)
}

func (mi *MergingIterator) rebuild(dir direction) {
	mi.dir = dir
	mi.h.reverse = dir == reverse
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		if err := c.Error(); err != nil {
			mi.err = err
			mi.h.items = mi.h.items[:0]
			return
		}
		if c.Valid() {
			mi.h.items = append(mi.h.items, i)
		}
	}
	heap.Init(mi.h)
}

func (mi *MergingIterator) advanced(c Iterator) {
	if err := c.Error(); err != nil {
		mi.err = err
		mi.h.items = mi.h.items[:0]
		return
	}
	if c.Valid() {
		heap.Fix(mi.h, 0)
	} else {
		heap.Pop(mi.h)
	}
}

// iterHeap orders child indexes by their current key. Ties go to the
// lower index in both directions.
type iterHeap struct {
	items    []int
	children []Iterator
	cmp      func(a, b []byte) int
	reverse  bool
}

func (h *iterHeap) Len() int { return len(h.items) }

func (h *iterHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	r := h.cmp(h.children[a].Key(), h.children[b].Key())
	if r == 0 {
		return a < b
	}
	if h.reverse {
		return r > 0
	}
	return r < 0
}

func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *iterHeap) Push(x any) { h.items = append(h.items, x.(int)) }

func (h *iterHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}
