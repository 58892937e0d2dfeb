package cobblekv

// env.go implements the shared collaborators: block caches and
// environments. Both are reference counted. The creator holds one
// reference until Destroy and every DB opened with the object holds one
// until Close.

import (
	"sync/atomic"

	"github.com/aalhour/cobblekv/db"
)

// refCount releases a resource when the last reference is dropped.
type refCount struct {
	refs      atomic.Int32
	destroyed atomic.Bool
	release   func()
}

func (r *refCount) init(release func()) {
	r.refs.Store(1)
	r.release = release
}

func (r *refCount) ref() { r.refs.Add(1) }

func (r *refCount) unref() {
	if r.refs.Add(-1) == 0 && r.release != nil {
		r.release()
	}
}

// destroy drops the creator's reference once.
func (r *refCount) destroy() {
	if r.destroyed.CompareAndSwap(false, true) {
		r.unref()
	}
}

// Cache is a block cache that several databases may share.
type Cache struct {
	c    *db.Cache
	refs refCount
}

// NewLRUCache returns a cache holding up to capacity bytes of blocks.
func NewLRUCache(capacity uint64) *Cache {
	c := &Cache{c: db.NewLRUCache(capacity)}
	c.refs.init(c.c.Purge)
	return c
}

// Destroy releases the creator's reference. The cached blocks are dropped
// once no open DB uses the cache any more.
func (c *Cache) Destroy() { c.refs.destroy() }

// Env is the file system and info log a database runs against.
type Env struct {
	env  *db.Env
	refs refCount
}

// NewDefaultEnv returns an Env on the operating system file system.
func NewDefaultEnv() *Env {
	e := &Env{env: db.DefaultEnv()}
	e.refs.init(nil)
	return e
}

// Destroy releases the creator's reference.
func (e *Env) Destroy() { e.refs.destroy() }
