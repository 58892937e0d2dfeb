// Package memtable holds recent writes in a sorted in-memory structure.
//
// The SkipList supports lock-free reads concurrently with a single writer.
// Writers must be serialized externally. Nodes are never removed, so a
// reader that loaded a node pointer can keep following it safely.
package memtable

import (
	"math/rand/v2"
	"sync/atomic"
)

const (
	maxHeight = 12
	branching = 4
)

type node struct {
	key   []byte
	value []byte
	next  []atomic.Pointer[node]
}

func newNode(key, value []byte, height int) *node {
	return &node{key: key, value: value, next: make([]atomic.Pointer[node], height)}
}

// SkipList is an ordered set of unique keys, each carrying a value.
type SkipList struct {
	head    *node
	height  atomic.Int32
	compare func(a, b []byte) int
	rng     *rand.Rand
	count   atomic.Int64
}

// NewSkipList returns an empty list ordered by compare.
func NewSkipList(compare func(a, b []byte) int) *SkipList {
	sl := &SkipList{
		head:    newNode(nil, nil, maxHeight),
		compare: compare,
		rng:     rand.New(rand.NewPCG(0xdeadbeef, 0xcafebabe)),
	}
	sl.height.Store(1)
	return sl
}

// Insert adds key -> value. It reports false if an equal key is already
// present, leaving the list unchanged.
// REQUIRES: external synchronization with other writers.
func (sl *SkipList) Insert(key, value []byte) bool {
	var prev [maxHeight]*node
	x := sl.findGreaterOrEqual(key, &prev)
	if x != nil && sl.compare(key, x.key) == 0 {
		return false
	}

	h := sl.randomHeight()
	if cur := int(sl.height.Load()); h > cur {
		for i := cur; i < h; i++ {
			prev[i] = sl.head
		}
		// Readers that see the new height before the links find nil
		// from head at those levels and drop down, which is harmless.
		sl.height.Store(int32(h))
	}

	n := newNode(key, value, h)
	for i := range h {
		n.next[i].Store(prev[i].next[i].Load())
		prev[i].next[i].Store(n)
	}
	sl.count.Add(1)
	return true
}

// Count returns the number of keys.
func (sl *SkipList) Count() int64 { return sl.count.Load() }

func (sl *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rng.IntN(branching) == 0 {
		h++
	}
	return h
}

func (sl *SkipList) findGreaterOrEqual(key []byte, prev *[maxHeight]*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.compare(next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (sl *SkipList) findLessThan(key []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		if next := x.next[level].Load(); next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// ListIterator walks a SkipList. It observes keys inserted after its
// creation; callers that need a fixed view filter by version.
type ListIterator struct {
	list *SkipList
	n    *node
}

// NewIterator returns an unpositioned iterator.
func (sl *SkipList) NewIterator() *ListIterator { return &ListIterator{list: sl} }

func (it *ListIterator) Valid() bool        { return it.n != nil }
func (it *ListIterator) Key() []byte        { return it.n.key }
func (it *ListIterator) Value() []byte      { return it.n.value }
func (it *ListIterator) SeekToFirst()       { it.n = it.list.head.next[0].Load() }
func (it *ListIterator) SeekToLast()        { it.n = it.list.findLast() }
func (it *ListIterator) Seek(target []byte) { it.n = it.list.findGreaterOrEqual(target, nil) }

func (it *ListIterator) Next() {
	if it.n != nil {
		it.n = it.n.next[0].Load()
	}
}

func (it *ListIterator) Prev() {
	if it.n != nil {
		it.n = it.list.findLessThan(it.n.key)
	}
}
