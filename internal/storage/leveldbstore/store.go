// Package leveldbstore is a storage engine that keeps internal keys in a
// goleveldb database.
//
// goleveldb brings its own journal, tables and compaction, so Rotate and
// Flush have nothing to do: a batch is durable once ApplyBatch returns.
// Old versions are reclaimed by Compact, which deletes every entry no live
// reader can see and then asks goleveldb to compact the key space.
package leveldbstore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/encoding"
	"github.com/aalhour/cobblekv/internal/iterator"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/vfs"
)

// Name identifies this engine in options.
const Name = "leveldb"

// Compact without force scans the key space only after this many bytes
// of batches were applied since the last scan, in multiples of the write
// buffer.
const compactionTriggerBuffers = 4

// deleteBatchSize bounds the number of deletes per goleveldb batch during
// a compaction scan.
const deleteBatchSize = 1024

// Store is a storage.Engine on top of goleveldb.
type Store struct {
	dir  string
	opts storage.Options
	log  logging.Logger
	icmp *dbformat.InternalKeyComparator
	ldb  *leveldb.DB

	// applied counts batch bytes since the last compaction scan.
	applied atomic.Uint64

	// compactMu serializes Compact and Close.
	compactMu sync.Mutex
	closed    atomic.Bool
}

var _ storage.Engine = (*Store)(nil)

// Open opens or creates the goleveldb database in dir. The engine always
// uses the operating system file system; opts.FS is only consulted for
// existence checks.
func Open(dir string, opts storage.Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	if opts.Comparator == nil {
		opts.Comparator = dbformat.Bytewise
	}
	opts.Logger = logging.OrDefault(opts.Logger)

	exists := opts.FS.Exists(storage.CurrentFileName(dir))
	switch {
	case !exists && !opts.CreateIfMissing:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, dir)
	case exists && opts.ErrorIfExists:
		return nil, fmt.Errorf("%w: %s", storage.ErrExists, dir)
	}

	s := &Store{
		dir:  dir,
		opts: opts,
		log:  opts.Logger,
		icmp: dbformat.NewInternalKeyComparator(opts.Comparator),
	}
	ldb, err := leveldb.OpenFile(dir, s.levelOptions())
	if err != nil {
		return nil, translateError(err)
	}
	s.ldb = ldb

	if err := s.checkComparator(exists); err != nil {
		_ = ldb.Close()
		return nil, err
	}
	s.log.Infof(logging.NSDB+"opened goleveldb store %s", dir)
	return s, nil
}

func (s *Store) levelOptions() *opt.Options {
	o := &opt.Options{
		Comparer:               keyComparer{icmp: s.icmp},
		ErrorIfMissing:         !s.opts.CreateIfMissing,
		ErrorIfExist:           s.opts.ErrorIfExists,
		WriteBuffer:            s.opts.WriteBufferSize,
		OpenFilesCacheCapacity: s.opts.MaxOpenFiles,
		BlockSize:              s.opts.BlockSize,
		BlockRestartInterval:   s.opts.BlockRestartInterval,
		BlockCacheCapacity:     -1,
		Compression:            opt.NoCompression,
	}
	if s.opts.BlockCache != nil {
		o.BlockCacheCapacity = int(s.opts.BlockCache.Capacity())
	}
	switch s.opts.Compression {
	case compression.NoCompression:
	case compression.SnappyCompression:
		o.Compression = opt.SnappyCompression
	default:
		s.log.Warnf(logging.NSDB+"compression %v is not supported by goleveldb, using snappy", s.opts.Compression)
		o.Compression = opt.SnappyCompression
	}
	if s.opts.ParanoidChecks {
		o.Strict = opt.StrictAll
	}
	return o
}

// checkComparator records the comparator name in a new store and compares
// it on reopen. goleveldb checks the same name in its manifest; the meta
// record also covers stores repaired without one.
func (s *Store) checkComparator(existed bool) error {
	name, err := s.ldb.Get(metaComparator, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		if existed {
			s.log.Warnf(logging.NSDB+"%s: no comparator record, assuming %s", s.dir, s.icmp.Name())
		}
		return translateError(s.ldb.Put(metaComparator, []byte(s.icmp.Name()), &opt.WriteOptions{Sync: true}))
	case err != nil:
		return translateError(err)
	case string(name) != s.icmp.Name():
		return fmt.Errorf("%w: %s does not match existing comparator %s",
			storage.ErrComparatorMismatch, s.icmp.Name(), name)
	}
	return nil
}

// translateError maps goleveldb failures onto the storage errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var corrupted *lvlerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		var mc *leveldb.ErrManifestCorrupted
		if errors.As(corrupted.Err, &mc) && mc.Field == "comparer" {
			return fmt.Errorf("%w: %s", storage.ErrComparatorMismatch, mc.Reason)
		}
		return fmt.Errorf("%w: %v", storage.ErrCorruption, err)
	}
	if lvlerrors.IsCorrupted(err) {
		return fmt.Errorf("%w: %v", storage.ErrCorruption, err)
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return storage.ErrClosed
	}
	return err
}

// Name implements storage.Engine.
func (s *Store) Name() string { return Name }

// Recover implements storage.Engine. goleveldb replays its own journal on
// open, so there is nothing to hand back; only the last version is read.
func (s *Store) Recover(replay func(data []byte) error) (dbformat.Version, error) {
	data, err := s.ldb.Get(metaLastVersion, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, translateError(err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: last version record has %d bytes", storage.ErrCorruption, len(data))
	}
	v := dbformat.Version(encoding.DecodeFixed64(data))
	s.log.Infof(logging.NSRecovery+"last version %d", v)
	return v, nil
}

// ApplyBatch writes every collapsed op of the batch plus the last version
// record in one goleveldb batch.
func (s *Store) ApplyBatch(data []byte, v dbformat.Version, sync bool) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	wb, err := batch.NewFromData(data)
	if err != nil {
		return err
	}
	ops, err := wb.Collapse(s.icmp.User)
	if err != nil {
		return err
	}
	lb := new(leveldb.Batch)
	for _, op := range ops {
		lb.Put(dataKey(dbformat.MakeInternalKey(op.Key, v, op.Kind)), op.Value)
	}
	lb.Put(metaLastVersion, encoding.AppendFixed64(nil, uint64(v)))
	if err := s.ldb.Write(lb, &opt.WriteOptions{Sync: sync}); err != nil {
		return translateError(err)
	}
	s.applied.Add(uint64(len(data)))
	return nil
}

func readOptions(opts storage.ReadOptions) *opt.ReadOptions {
	ro := &opt.ReadOptions{DontFillCache: !opts.FillCache}
	if opts.VerifyChecksums {
		ro.Strict = opt.StrictOverride | opt.StrictBlockChecksum | opt.StrictReader
	}
	return ro
}

// Get implements storage.Engine.
func (s *Store) Get(key []byte, v dbformat.Version, opts storage.ReadOptions) ([]byte, dbformat.Kind, bool, error) {
	if s.closed.Load() {
		return nil, 0, false, storage.ErrClosed
	}
	it := s.ldb.NewIterator(&util.Range{Start: dataStart, Limit: dataLimit}, readOptions(opts))
	defer it.Release()

	if !it.Seek(dataKey(dbformat.LookupKey(key, v))) {
		return nil, 0, false, translateError(it.Error())
	}
	p, err := dbformat.ParseInternalKey(it.Key()[1:])
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", storage.ErrCorruption, err)
	}
	if s.icmp.User.Compare(p.UserKey, key) != 0 {
		return nil, 0, false, nil
	}
	return append([]byte(nil), it.Value()...), p.Kind, true, nil
}

// NewIterator implements storage.Engine.
func (s *Store) NewIterator(opts storage.ReadOptions) (iterator.Iterator, func(), error) {
	if s.closed.Load() {
		return nil, nil, storage.ErrClosed
	}
	it := s.ldb.NewIterator(&util.Range{Start: dataStart, Limit: dataLimit}, readOptions(opts))
	return newDataIterator(it), func() {}, nil
}

// Rotate implements storage.Engine.
func (s *Store) Rotate() error { return nil }

// Flush implements storage.Engine. The data is already in goleveldb.
func (s *Store) Flush(mem *memtable.MemTable, last dbformat.Version) error {
	s.log.Debugf(logging.NSFlush+"%d entries up to version %d already persisted", mem.Count(), last)
	return nil
}

// Compact deletes shadowed entries at or below oldest and tombstones that
// hide nothing, then compacts the whole key space.
func (s *Store) Compact(oldest dbformat.Version, force bool) error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	if s.closed.Load() {
		return storage.ErrClosed
	}
	trigger := uint64(compactionTriggerBuffers * max(s.opts.WriteBufferSize, 1))
	if !force && s.applied.Load() < trigger {
		return nil
	}
	s.applied.Store(0)

	it := s.ldb.NewIterator(&util.Range{Start: dataStart, Limit: dataLimit}, nil)
	defer it.Release()

	var (
		lb         = new(leveldb.Batch)
		userKey    []byte
		seenForKey bool
		lastVer    dbformat.Version
		dropped    int
	)
	flushDeletes := func() error {
		if lb.Len() == 0 {
			return nil
		}
		err := s.ldb.Write(lb, nil)
		lb.Reset()
		return translateError(err)
	}
	for it.Next() {
		p, err := dbformat.ParseInternalKey(it.Key()[1:])
		if err != nil {
			return fmt.Errorf("compact: %w: %v", storage.ErrCorruption, err)
		}
		if !seenForKey || s.icmp.User.Compare(p.UserKey, userKey) != 0 {
			// A tombstone and the entries it hides go in the same batch.
			if lb.Len() >= deleteBatchSize {
				if err := flushDeletes(); err != nil {
					return fmt.Errorf("compact: %w", err)
				}
			}
			userKey = append(userKey[:0], p.UserKey...)
			seenForKey = false
		}
		drop := (seenForKey && lastVer <= oldest) ||
			(p.Kind == dbformat.KindDeletion && p.Version <= oldest)
		lastVer = p.Version
		seenForKey = true
		if !drop {
			continue
		}
		lb.Delete(append([]byte(nil), it.Key()...))
		dropped++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("compact: %w", translateError(err))
	}
	if err := flushDeletes(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	if err := s.ldb.CompactRange(util.Range{}); err != nil {
		return fmt.Errorf("compact: %w", translateError(err))
	}
	s.log.Infof(logging.NSCompact+"dropped %d entries, oldest version %d", dropped, oldest)
	return nil
}

// ApproximateSize implements storage.Engine.
func (s *Store) ApproximateSize(start, limit []byte) uint64 {
	if s.closed.Load() {
		return 0
	}
	r := util.Range{
		Start: dataKey(dbformat.MakeInternalKey(start, dbformat.MaxVersion, dbformat.KindForSeek)),
		Limit: dataKey(dbformat.MakeInternalKey(limit, dbformat.MaxVersion, dbformat.KindForSeek)),
	}
	sizes, err := s.ldb.SizeOf([]util.Range{r})
	if err != nil || len(sizes) == 0 || sizes[0] < 0 {
		return 0
	}
	return uint64(sizes[0])
}

// Property passes leveldb.* names through to goleveldb.
func (s *Store) Property(name string) (string, bool) {
	if s.closed.Load() {
		return "", false
	}
	v, err := s.ldb.GetProperty(name)
	if err != nil {
		return "", false
	}
	return v, true
}

// Close implements storage.Engine.
func (s *Store) Close() error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return translateError(s.ldb.Close())
}

// Destroy removes the store in dir.
func Destroy(dir string, opts storage.Options) error {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	return storage.DestroyDir(opts.FS, dir)
}

// Repair rebuilds the goleveldb manifest from the tables and journals in
// dir.
func Repair(dir string, opts storage.Options) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", storage.ErrNotExist, dir)
		}
		return err
	}
	if opts.Comparator == nil {
		opts.Comparator = dbformat.Bytewise
	}
	opts.Logger = logging.OrDefault(opts.Logger)
	s := &Store{dir: dir, opts: opts, log: opts.Logger, icmp: dbformat.NewInternalKeyComparator(opts.Comparator)}
	o := s.levelOptions()
	o.ErrorIfMissing, o.ErrorIfExist = false, false

	ldb, err := leveldb.RecoverFile(dir, o)
	if err != nil {
		return fmt.Errorf("repair: %w", translateError(err))
	}
	s.log.Infof(logging.NSRepair+"recovered goleveldb store %s", dir)
	return translateError(ldb.Close())
}
