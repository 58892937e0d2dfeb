package db

// errors.go maps failures from the storage layers onto the public error
// taxonomy. Every error returned by this package matches at most one of
// ErrInvalidArgument, ErrCorruption, ErrIOError or ErrDBClosed, and its
// message starts the way LevelDB status strings do.

import (
	"errors"
	"fmt"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/block"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/encoding"
	"github.com/aalhour/cobblekv/internal/manifest"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/table"
	"github.com/aalhour/cobblekv/internal/wal"
)

var (
	// ErrNotFound is returned by Get when no live value exists. It is an
	// outcome, not a failure.
	ErrNotFound = errors.New("NotFound")

	// ErrInvalidArgument covers bad options, a missing or already existing
	// database and comparator mismatches.
	ErrInvalidArgument = errors.New("Invalid argument")

	// ErrCorruption marks persisted data that failed a checksum or format
	// check.
	ErrCorruption = errors.New("Corruption")

	// ErrIOError marks a failure of the file system.
	ErrIOError = errors.New("IO error")

	// ErrComparatorMismatch is returned by Open when the database was
	// created with a differently named comparator. It also matches
	// ErrInvalidArgument.
	ErrComparatorMismatch = storage.ErrComparatorMismatch

	// ErrDBClosed is returned by calls on a closed database.
	ErrDBClosed = errors.New("db: database is closed")
)

// corruptionErrors are the sentinels of the internal packages that denote
// bad persisted bytes.
var corruptionErrors = []error{
	storage.ErrCorruption,
	batch.ErrCorrupted,
	batch.ErrTooSmall,
	block.ErrBadBlock,
	block.ErrBadHandle,
	table.ErrCorrupted,
	wal.ErrCorrupted,
	wal.ErrBadFragment,
	manifest.ErrCorrupted,
	dbformat.ErrKeyTooSmall,
	dbformat.ErrInvalidKind,
	encoding.ErrBufferTooSmall,
	encoding.ErrVarintOverflow,
	encoding.ErrVarintTermination,
	compression.ErrUnsupported,
}

// classify wraps err with the taxonomy sentinel it belongs to. Already
// classified errors are returned unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrCorruption), errors.Is(err, ErrIOError), errors.Is(err, ErrDBClosed):
		return err
	case errors.Is(err, storage.ErrClosed):
		return ErrDBClosed
	case errors.Is(err, storage.ErrComparatorMismatch),
		errors.Is(err, storage.ErrNotExist),
		errors.Is(err, storage.ErrExists):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	for _, target := range corruptionErrors {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", ErrCorruption, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrIOError, err)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
