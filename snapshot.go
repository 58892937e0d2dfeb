package cobblekv

import (
	"sync/atomic"

	"github.com/aalhour/cobblekv/db"
)

// Snapshot is a consistent read-only view of a DB.
type Snapshot struct {
	s        *db.Snapshot
	owner    *DB
	id       uint64
	released atomic.Bool
}

// Version returns the last write version the snapshot sees.
func (s *Snapshot) Version() uint64 { return s.s.Version() }

func (s *Snapshot) release() error {
	if s.released.CompareAndSwap(false, true) {
		s.owner.db.ReleaseSnapshot(s.s)
	}
	return nil
}
