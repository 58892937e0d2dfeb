package cobblekv

import (
	"sync"

	"github.com/aalhour/cobblekv/db"
)

// Comparator is a user-defined key order.
type Comparator struct {
	name       string
	compare    func(a, b []byte) int
	destructor func()
	once       sync.Once
}

// NewComparator returns a comparator named name that orders keys with
// compare. The name is stored with every database created with the
// comparator and must match when the database is opened again. destructor,
// if not nil, runs once on Destroy.
func NewComparator(name string, compare func(a, b []byte) int, destructor func()) *Comparator {
	return &Comparator{name: name, compare: compare, destructor: destructor}
}

// Destroy runs the destructor. Every DB using the comparator must be
// closed first.
func (c *Comparator) Destroy() {
	c.once.Do(func() {
		if c.destructor != nil {
			c.destructor()
		}
	})
}

// Compare implements db.Comparator.
func (c *Comparator) Compare(a, b []byte) int { return c.compare(a, b) }

// Name implements db.Comparator.
func (c *Comparator) Name() string { return c.name }

var _ db.Comparator = (*Comparator)(nil)
