// Package storage defines the boundary between the database core and the
// persistent storage engines.
//
// The core owns versions, memtables, snapshots and the write ordering. An
// Engine owns everything on disk: the write-ahead log, the persisted key
// space and its reclamation. Engines see only internal keys (user key plus
// version and kind trailer) and never decide visibility.
package storage

import (
	"errors"

	"github.com/aalhour/cobblekv/internal/cache"
	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/iterator"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/vfs"
)

// Errors shared by engines. Engine-specific failures wrap these so the core
// can classify them.
var (
	// ErrNotExist is returned by Open when the store is missing and
	// CreateIfMissing is false.
	ErrNotExist = errors.New("storage: store does not exist")

	// ErrExists is returned by Open when the store exists and ErrorIfExists
	// is set.
	ErrExists = errors.New("storage: store already exists")

	// ErrComparatorMismatch is returned when a store was created with a
	// different comparator.
	ErrComparatorMismatch = errors.New("storage: comparator mismatch")

	// ErrCorruption marks persisted data that failed validation.
	ErrCorruption = errors.New("storage: corruption")

	// ErrClosed is returned by calls on a closed engine.
	ErrClosed = errors.New("storage: engine closed")
)

// Options configures an engine. The core sanitizes the values before
// handing them over.
type Options struct {
	FS         vfs.FS
	Logger     logging.Logger
	Comparator dbformat.Comparator

	CreateIfMissing bool
	ErrorIfExists   bool
	ParanoidChecks  bool

	WriteBufferSize      int
	MaxOpenFiles         int
	BlockSize            int
	BlockRestartInterval int
	MaxFileSize          uint64
	Compression          compression.Type
	ChecksumType         checksum.Type

	// FilterBitsPerKey sizes per-table Bloom filters. Zero disables them.
	FilterBitsPerKey int

	// BlockCache may be shared between engines. Nil disables caching.
	BlockCache *cache.LRUCache
}

// ReadOptions are the per-read knobs an engine honours.
type ReadOptions struct {
	VerifyChecksums bool
	FillCache       bool
}

// Engine is a persistent store of internal keys.
//
// All methods are safe for concurrent use with these caller guarantees:
// ApplyBatch and Rotate are serialized, and Flush never overlaps Rotate or
// another Flush.
type Engine interface {
	// Name identifies the engine kind, e.g. "table".
	Name() string

	// Recover feeds every write-ahead log record that is not yet part of
	// the persisted key space to replay, oldest first, and returns the last
	// version the engine knows about.
	Recover(replay func(data []byte) error) (dbformat.Version, error)

	// ApplyBatch makes an encoded batch at version v durable in the log.
	// With sync the call returns only after the data reached stable
	// storage.
	ApplyBatch(data []byte, v dbformat.Version, sync bool) error

	// Get returns the newest entry for key with version <= v from the
	// persisted key space. kind distinguishes values from tombstones.
	Get(key []byte, v dbformat.Version, opts ReadOptions) (value []byte, kind dbformat.Kind, found bool, err error)

	// NewIterator returns an iterator over the internal keys of the current
	// persisted state. release must be called after the iterator is closed;
	// until then the state the iterator reads stays on disk.
	NewIterator(opts ReadOptions) (it iterator.Iterator, release func(), err error)

	// Rotate starts a new log. Batches applied afterwards belong to the next
	// memtable.
	Rotate() error

	// Flush persists an immutable memtable whose versions are <= last and
	// retires the logs that covered it.
	Flush(mem *memtable.MemTable, last dbformat.Version) error

	// Compact reclaims space. Entries above oldest are kept, as is the
	// newest entry at or below oldest for every key unless it is a
	// tombstone. Without force the engine may decide there is nothing to
	// do.
	Compact(oldest dbformat.Version, force bool) error

	// ApproximateSize estimates the bytes used by user keys in [start, limit).
	ApproximateSize(start, limit []byte) uint64

	// Property reports engine-specific statistics.
	Property(name string) (string, bool)

	// Close releases every resource. In-flight iterators must be released
	// first.
	Close() error
}
