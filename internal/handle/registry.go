// Package handle tracks the live handles derived from an owning resource,
// so that closing the owner can release everything still outstanding.
package handle

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// ErrClosed is returned by Register after CloseAll.
var ErrClosed = errors.New("handle: registry closed")

// Registry is a concurrent set of io.Closers keyed by registration order.
type Registry struct {
	next   atomic.Uint64
	closed atomic.Bool
	live   *skipmap.OrderedMap[uint64, io.Closer]
}

// NewRegistry returns an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{live: skipmap.New[uint64, io.Closer]()}
}

// Register adds c and returns its id. It fails once CloseAll has started;
// the caller still owns c in that case.
func (r *Registry) Register(c io.Closer) (uint64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	id := r.next.Add(1)
	r.live.Store(id, c)
	// CloseAll may have swept the map between the check and the store.
	if r.closed.Load() {
		if _, ok := r.live.LoadAndDelete(id); ok {
			return 0, ErrClosed
		}
	}
	return id, nil
}

// Unregister removes id. It reports whether id was still registered, which
// makes a double release detectable.
func (r *Registry) Unregister(id uint64) bool {
	_, ok := r.live.LoadAndDelete(id)
	return ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int { return r.live.Len() }

// Closed reports whether CloseAll has been called.
func (r *Registry) Closed() bool { return r.closed.Load() }

// CloseAll closes every live handle in registration order and refuses
// further registrations. It is idempotent.
func (r *Registry) CloseAll() error {
	r.closed.Store(true)
	var ids []uint64
	r.live.Range(func(id uint64, _ io.Closer) bool {
		ids = append(ids, id)
		return true
	})
	var errs []error
	for _, id := range ids {
		if c, ok := r.live.LoadAndDelete(id); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
