package db

// options.go implements database configuration options.
//
// Reference: LevelDB include/leveldb/options.h, db/db_impl.cc SanitizeOptions

import (
	"github.com/aalhour/cobblekv/internal/cache"
	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/storage/leveldbstore"
	"github.com/aalhour/cobblekv/internal/storage/tablestore"
	"github.com/aalhour/cobblekv/internal/vfs"
)

// Logger is the info log interface.
type Logger = logging.Logger

// CompressionType selects the block codec.
type CompressionType = compression.Type

// Compression types. LZ4 and Zstd are only understood by the table engine.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	LZ4Compression    = compression.LZ4Compression
	ZstdCompression   = compression.ZstdCompression
)

// ChecksumType selects the block checksum of table files.
type ChecksumType = checksum.Type

// Checksum types.
const (
	ChecksumCRC32C = checksum.TypeCRC32C
	ChecksumXXH3   = checksum.TypeXXH3
)

// Storage engine names for Options.Engine.
const (
	EngineTable   = tablestore.Name
	EngineLevelDB = leveldbstore.Name
)

// Cache is a capacity-bounded block cache that may be shared by several
// databases.
type Cache = cache.LRUCache

// NewLRUCache returns a block cache holding up to capacity bytes.
func NewLRUCache(capacity uint64) *Cache { return cache.NewLRUCache(capacity) }

// defaultBlockCacheSize is the size of the private cache a database gets
// when Options.BlockCache is nil.
const defaultBlockCacheSize = 8 << 20

// Env bundles the file system and the info log a database runs against.
type Env struct {
	FS     vfs.FS
	Logger Logger
}

// DefaultEnv returns an Env on the operating system file system.
func DefaultEnv() *Env {
	return &Env{FS: vfs.Default()}
}

// Options configures Open, DestroyDB and RepairDB.
type Options struct {
	// CreateIfMissing creates the database when it does not exist.
	CreateIfMissing bool

	// ErrorIfExists makes Open fail when the database already exists.
	ErrorIfExists bool

	// ParanoidChecks turns corrupt log records into open failures and
	// verifies every block read by background work.
	ParanoidChecks bool

	// Comparator orders keys. Nil means BytewiseComparator.
	Comparator Comparator

	// Env supplies the file system. Nil means DefaultEnv().
	Env *Env

	// InfoLog receives progress and error messages. Nil falls back to
	// Env.Logger and then to a WARN-level stderr logger.
	InfoLog Logger

	// WriteBufferSize is the memtable size that triggers a flush.
	// Default: 4MB, clamped to [64KB, 1GB].
	WriteBufferSize int

	// MaxOpenFiles bounds the open file handles. Default: 1000, clamped to
	// [74, 50000].
	MaxOpenFiles int

	// BlockCache caches uncompressed blocks. Nil gives the database a
	// private 8MB cache.
	BlockCache *Cache

	// BlockSize is the approximate uncompressed size of a data block.
	// Default: 4KB, clamped to [1KB, 4MB].
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points.
	// Default: 16, at least 1.
	BlockRestartInterval int

	// MaxFileSize is the size at which compaction starts a new table file.
	// Default: 2MB, clamped to [1MB, 1GB].
	MaxFileSize uint64

	// Compression is the block codec. Default: SnappyCompression.
	Compression CompressionType

	// FilterBitsPerKey adds a Bloom filter over the user keys of every
	// table file, sized at this many bits per key. Ten gives about one
	// percent false positives. Zero, the default, writes no filters. Only
	// the table engine uses filters.
	FilterBitsPerKey int

	// ChecksumType is the block checksum of table files. Default: CRC32C.
	ChecksumType ChecksumType

	// Engine selects the storage engine: EngineTable (default) or
	// EngineLevelDB.
	Engine string
}

// DefaultOptions returns Options with the default values.
func DefaultOptions() *Options {
	return &Options{
		WriteBufferSize:      4 << 20,
		MaxOpenFiles:         1000,
		BlockSize:            4 << 10,
		BlockRestartInterval: 16,
		MaxFileSize:          2 << 20,
		Compression:          SnappyCompression,
		ChecksumType:         ChecksumCRC32C,
		Engine:               EngineTable,
	}
}

// ReadOptions configures Get and NewIterator.
type ReadOptions struct {
	// VerifyChecksums verifies the checksum of every block read.
	VerifyChecksums bool

	// FillCache adds blocks read to the block cache. Bulk scans may turn
	// it off.
	FillCache bool

	// Snapshot reads the state captured by GetSnapshot. Nil reads the
	// current state.
	Snapshot *Snapshot
}

// DefaultReadOptions returns ReadOptions with FillCache set.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{FillCache: true}
}

// WriteOptions configures Put, Delete and Write.
type WriteOptions struct {
	// Sync waits until the write reached stable storage. Without it a
	// process crash loses nothing, but a machine crash may lose the most
	// recent writes.
	Sync bool
}

// DefaultWriteOptions returns WriteOptions without Sync.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

func clampInt(v *int, lo, hi int) {
	*v = min(max(*v, lo), hi)
}

// sanitize returns a copy of opts with defaults filled in and ranges
// clamped. It fails only for values that cannot be repaired.
func sanitize(opts *Options) (*Options, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Comparator == nil {
		o.Comparator = BytewiseComparator
	}
	env := Env{FS: vfs.Default()}
	if o.Env != nil {
		env = *o.Env
		if env.FS == nil {
			env.FS = vfs.Default()
		}
	}
	o.Env = &env
	if logging.IsNil(o.InfoLog) {
		o.InfoLog = logging.OrDefault(env.Logger)
	}

	clampInt(&o.MaxOpenFiles, 64+10, 50000)
	clampInt(&o.WriteBufferSize, 64<<10, 1<<30)
	clampInt(&o.BlockSize, 1<<10, 4<<20)
	o.BlockRestartInterval = max(o.BlockRestartInterval, 1)
	o.MaxFileSize = min(max(o.MaxFileSize, 1<<20), 1<<30)
	clampInt(&o.FilterBitsPerKey, 0, 64)
	if o.ChecksumType == 0 {
		o.ChecksumType = ChecksumCRC32C
	}
	if o.Engine == "" {
		o.Engine = EngineTable
	}

	switch o.Engine {
	case EngineTable, EngineLevelDB:
	default:
		return nil, invalidArgument("unknown storage engine %q", o.Engine)
	}
	if !o.Compression.IsSupported() {
		return nil, invalidArgument("unsupported compression %s", o.Compression)
	}
	if _, err := checksum.ParseType(o.ChecksumType.String()); err != nil {
		return nil, invalidArgument("unsupported checksum type %d", uint8(o.ChecksumType))
	}
	if o.BlockCache == nil {
		o.BlockCache = cache.NewLRUCache(defaultBlockCacheSize)
	}
	return &o, nil
}

// storageOptions converts sanitized options for an engine.
func (o *Options) storageOptions() storage.Options {
	return storage.Options{
		FS:                   o.Env.FS,
		Logger:               o.InfoLog,
		Comparator:           o.Comparator,
		CreateIfMissing:      o.CreateIfMissing,
		ErrorIfExists:        o.ErrorIfExists,
		ParanoidChecks:       o.ParanoidChecks,
		WriteBufferSize:      o.WriteBufferSize,
		MaxOpenFiles:         o.MaxOpenFiles,
		BlockSize:            o.BlockSize,
		BlockRestartInterval: o.BlockRestartInterval,
		MaxFileSize:          o.MaxFileSize,
		Compression:          o.Compression,
		ChecksumType:         o.ChecksumType,
		FilterBitsPerKey:     o.FilterBitsPerKey,
		BlockCache:           o.BlockCache,
	}
}
