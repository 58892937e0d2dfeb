// Package manifest encodes the version edits persisted in MANIFEST files.
//
// A MANIFEST is a write-ahead log whose records are encoded VersionEdits.
// Replaying them in order rebuilds the table set, the comparator name and
// the counters of a store. Each field is written as a varint tag followed by
// its payload.
package manifest

// Tag identifies a VersionEdit field. The values are persisted.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastVersion    Tag = 4
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7

	// TagSafeIgnoreMask marks tags an older reader may skip. Such fields
	// carry a length-prefixed payload.
	TagSafeIgnoreMask Tag = 1 << 13
)

// IsSafeToIgnore reports whether an unknown tag can be skipped.
func (t Tag) IsSafeToIgnore() bool { return t&TagSafeIgnoreMask != 0 }
