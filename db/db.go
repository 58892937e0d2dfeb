package db

// db.go implements the database core: open, the write path, point reads
// and the management operations.
//
// Reference: LevelDB db/db_impl.cc

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/handle"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/storage/leveldbstore"
	"github.com/aalhour/cobblekv/internal/storage/tablestore"
)

// DB is an open database.
type DB interface {
	// Put sets key to value.
	Put(opts *WriteOptions, key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(opts *WriteOptions, key []byte) error

	// Write applies every operation of wb atomically under one new
	// version. An empty batch succeeds without consuming a version.
	Write(opts *WriteOptions, wb *WriteBatch) error

	// Get returns a copy of the value of key, or ErrNotFound.
	Get(opts *ReadOptions, key []byte) ([]byte, error)

	// NewIterator returns an iterator bound to the current version, or to
	// opts.Snapshot. Failures are reported by the iterator's Error.
	NewIterator(opts *ReadOptions) Iterator

	// GetSnapshot captures the current version.
	GetSnapshot() *Snapshot

	// ReleaseSnapshot releases s. Releasing twice is a no-op.
	ReleaseSnapshot(s *Snapshot)

	// GetProperty returns the value of a named property.
	GetProperty(name string) (string, bool)

	// GetApproximateSizes estimates the bytes used by each range.
	GetApproximateSizes(ranges []Range) ([]uint64, error)

	// CompactRange flushes the memtable and compacts the storage engine.
	// Nil bounds stand for the whole key space.
	CompactRange(start, limit []byte) error

	// LatestVersion returns the version of the last applied batch.
	LatestVersion() uint64

	// Close releases the database and every iterator still open on it.
	Close() error
}

// Range is the user key interval [Start, Limit).
type Range struct {
	Start []byte
	Limit []byte
}

// Property names served by the core. Every other name is forwarded to the
// storage engine.
const (
	PropertyApproximateMemoryUsage = "leveldb.approximate-memory-usage"
	PropertyLastVersion            = "cobblekv.last-version"
	PropertyNumSnapshots           = "cobblekv.num-snapshots"
	PropertyOldestSnapshotVersion  = "cobblekv.oldest-snapshot-version"
	PropertyEngine                 = "cobblekv.engine"
)

// DBImpl implements DB.
type DBImpl struct {
	name   string
	opts   *Options
	icmp   *dbformat.InternalKeyComparator
	engine storage.Engine
	log    logging.Logger

	// writeMu serializes writers: version assignment, log append and
	// memtable insertion happen in one critical section.
	writeMu sync.Mutex

	// mu guards the fields below. mem is only replaced with both writeMu
	// and mu held, so writers may read it under writeMu alone.
	mu      sync.RWMutex
	bgCond  *sync.Cond
	mem     *memtable.MemTable
	imm     *memtable.MemTable
	bgErr   error
	closing bool
	bgWork  bool
	bgDone  chan struct{}

	lastVersion atomic.Uint64
	snapshots   *snapshotList
	iterators   *handle.Registry
	closed      atomic.Bool
}

var _ DB = (*DBImpl)(nil)

// Open opens the database at path.
func Open(path string, opts *Options) (DB, error) {
	o, err := sanitize(opts)
	if err != nil {
		return nil, err
	}
	engine, err := openEngine(path, o)
	if err != nil {
		return nil, classify(err)
	}

	icmp := dbformat.NewInternalKeyComparator(o.Comparator)
	db := &DBImpl{
		name:      path,
		opts:      o,
		icmp:      icmp,
		engine:    engine,
		log:       o.InfoLog,
		mem:       memtable.New(icmp),
		bgDone:    make(chan struct{}),
		snapshots: newSnapshotList(),
		iterators: handle.NewRegistry(),
	}
	db.bgCond = sync.NewCond(&db.mu)

	last, err := engine.Recover(db.replayBatch)
	if err != nil {
		_ = engine.Close()
		return nil, classify(err)
	}
	db.lastVersion.Store(uint64(max(last, db.mem.MaxVersion())))

	if err := writeOptionsFile(o.Env.FS, path, o); err != nil {
		db.log.Warnf(logging.NSDB+"writing OPTIONS file: %v", err)
	}
	db.log.Infof(logging.NSDB+"opened %s: engine %s, last version %d, %d recovered entries",
		path, engine.Name(), db.lastVersion.Load(), db.mem.Count())

	go db.backgroundLoop()
	return db, nil
}

func openEngine(path string, o *Options) (storage.Engine, error) {
	so := o.storageOptions()
	if o.Engine == EngineLevelDB {
		return leveldbstore.Open(path, so)
	}
	return tablestore.Open(path, so)
}

// replayBatch inserts a recovered log record into the memtable.
func (db *DBImpl) replayBatch(data []byte) error {
	rep, err := batch.NewFromData(data)
	if err != nil {
		return err
	}
	ops, err := rep.Collapse(db.icmp.User)
	if err != nil {
		return err
	}
	v := rep.Version()
	for _, op := range ops {
		db.mem.Add(v, op.Kind, op.Key, op.Value)
	}
	return nil
}

func (db *DBImpl) currentVersion() dbformat.Version {
	return dbformat.Version(db.lastVersion.Load())
}

// LatestVersion implements DB.
func (db *DBImpl) LatestVersion() uint64 { return db.lastVersion.Load() }

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Put implements DB.
func (db *DBImpl) Put(opts *WriteOptions, key, value []byte) error {
	wb := NewWriteBatch()
	wb.Put(key, value)
	return db.Write(opts, wb)
}

// Delete implements DB.
func (db *DBImpl) Delete(opts *WriteOptions, key []byte) error {
	wb := NewWriteBatch()
	wb.Delete(key)
	return db.Write(opts, wb)
}

// Write implements DB.
func (db *DBImpl) Write(opts *WriteOptions, wb *WriteBatch) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if wb == nil || wb.Count() == 0 {
		return nil
	}
	if opts == nil {
		opts = DefaultWriteOptions()
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.makeRoom(false); err != nil {
		return err
	}

	v := db.currentVersion() + 1
	if v > dbformat.MaxVersion {
		return invalidArgument("version space exhausted")
	}
	wb.rep.SetVersion(v)
	ops, err := wb.rep.Collapse(db.icmp.User)
	if err != nil {
		return classify(err)
	}

	if err := db.engine.ApplyBatch(wb.rep.Data(), v, opts.Sync); err != nil {
		// The log may hold part of the record. Later batches must not be
		// appended behind it under the same version.
		err = classify(err)
		db.mu.Lock()
		db.setBackgroundErrorLocked(err)
		db.mu.Unlock()
		return err
	}

	mem := db.mem
	for _, op := range ops {
		mem.Add(v, op.Kind, op.Key, op.Value)
	}
	db.lastVersion.Store(uint64(v))
	return nil
}

// makeRoom ensures the memtable has space for a write. With force a
// non-empty memtable is rotated regardless of its size.
//
// REQUIRES: db.writeMu held.
func (db *DBImpl) makeRoom(force bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for {
		switch {
		case db.bgErr != nil:
			return db.bgErr
		case db.closing:
			return ErrDBClosed
		case force && db.mem.Empty():
			return nil
		case !force && db.mem.ApproximateMemoryUsage() < int64(db.opts.WriteBufferSize):
			return nil
		case db.imm != nil:
			db.log.Debugf(logging.NSDB + "memtable full, waiting for flush")
			db.bgCond.Wait()
		default:
			if err := db.engine.Rotate(); err != nil {
				err = classify(err)
				db.setBackgroundErrorLocked(err)
				return err
			}
			db.imm = db.mem
			db.mem = memtable.New(db.icmp)
			db.bgWork = true
			db.bgCond.Broadcast()
			force = false
		}
	}
}

// REQUIRES: db.mu held.
func (db *DBImpl) setBackgroundErrorLocked(err error) {
	if db.bgErr == nil {
		db.log.Errorf(logging.NSDB+"writes disabled: %v", err)
		db.bgErr = err
		db.bgCond.Broadcast()
	}
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// readState pins the version a read runs at and references the memtables
// that may hold entries up to it.
type readState struct {
	version dbformat.Version
	pinned  bool
	mem     *memtable.MemTable
	imm     *memtable.MemTable
}

// acquireReadState resolves the read version before referencing the
// memtables: an entry at or below that version is then in mem, imm or
// already in the engine.
func (db *DBImpl) acquireReadState(snap *Snapshot) *readState {
	rs := &readState{}
	if snap != nil {
		rs.version = snap.version
		db.snapshots.pin(rs.version)
	} else {
		rs.version = db.snapshots.pinCurrent(db.currentVersion)
	}
	rs.pinned = true

	db.mu.RLock()
	rs.mem, rs.imm = db.mem, db.imm
	rs.mem.Ref()
	if rs.imm != nil {
		rs.imm.Ref()
	}
	db.mu.RUnlock()
	return rs
}

func (db *DBImpl) releaseReadState(rs *readState) {
	rs.mem.Unref()
	if rs.imm != nil {
		rs.imm.Unref()
	}
	if rs.pinned {
		db.snapshots.unpin(rs.version)
	}
}

func toStorageReadOptions(opts *ReadOptions) storage.ReadOptions {
	return storage.ReadOptions{VerifyChecksums: opts.VerifyChecksums, FillCache: opts.FillCache}
}

// Get implements DB.
func (db *DBImpl) Get(opts *ReadOptions, key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if opts == nil {
		opts = DefaultReadOptions()
	}
	rs := db.acquireReadState(opts.Snapshot)
	defer db.releaseReadState(rs)

	for _, mem := range []*memtable.MemTable{rs.mem, rs.imm} {
		if mem == nil {
			continue
		}
		if value, kind, found := mem.Get(key, rs.version); found {
			if kind == dbformat.KindDeletion {
				return nil, ErrNotFound
			}
			return append([]byte{}, value...), nil
		}
	}

	value, kind, found, err := db.engine.Get(key, rs.version, toStorageReadOptions(opts))
	switch {
	case err != nil:
		return nil, classify(err)
	case !found || kind == dbformat.KindDeletion:
		return nil, ErrNotFound
	case value == nil:
		return []byte{}, nil
	}
	return value, nil
}

// GetSnapshot implements DB.
func (db *DBImpl) GetSnapshot() *Snapshot {
	return db.snapshots.newSnapshot(db.currentVersion)
}

// ReleaseSnapshot implements DB.
func (db *DBImpl) ReleaseSnapshot(s *Snapshot) {
	db.snapshots.release(s)
}

// -----------------------------------------------------------------------------
// Management
// -----------------------------------------------------------------------------

// GetProperty implements DB.
func (db *DBImpl) GetProperty(name string) (string, bool) {
	if db.closed.Load() {
		return "", false
	}
	switch name {
	case PropertyApproximateMemoryUsage:
		db.mu.RLock()
		usage := db.mem.ApproximateMemoryUsage()
		if db.imm != nil {
			usage += db.imm.ApproximateMemoryUsage()
		}
		db.mu.RUnlock()
		usage += int64(db.opts.BlockCache.Usage())
		return strconv.FormatInt(usage, 10), true
	case PropertyLastVersion:
		return strconv.FormatUint(db.lastVersion.Load(), 10), true
	case PropertyNumSnapshots:
		return strconv.FormatInt(db.snapshots.numSnapshots.Load(), 10), true
	case PropertyOldestSnapshotVersion:
		return strconv.FormatUint(uint64(db.snapshots.oldest(db.currentVersion)), 10), true
	case PropertyEngine:
		return db.engine.Name(), true
	}
	return db.engine.Property(name)
}

// GetApproximateSizes implements DB. Data still in memtables is not
// counted.
func (db *DBImpl) GetApproximateSizes(ranges []Range) ([]uint64, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	sizes := make([]uint64, len(ranges))
	for i, r := range ranges {
		sizes[i] = db.engine.ApproximateSize(r.Start, r.Limit)
	}
	return sizes, nil
}

// CompactRange implements DB. Both engines rewrite their whole key space,
// so the bounds only have to be ordered.
func (db *DBImpl) CompactRange(start, limit []byte) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	if start != nil && limit != nil && db.icmp.User.Compare(start, limit) > 0 {
		return invalidArgument("compact range start is after limit")
	}

	db.writeMu.Lock()
	err := db.makeRoom(true)
	db.writeMu.Unlock()
	if err != nil {
		return err
	}

	db.mu.Lock()
	for db.imm != nil && db.bgErr == nil && !db.closing {
		db.bgCond.Wait()
	}
	err = db.bgErr
	if db.closing {
		err = ErrDBClosed
	}
	db.mu.Unlock()
	if err != nil {
		return err
	}

	oldest := db.snapshots.oldest(db.currentVersion)
	db.log.Infof(logging.NSCompact+"manual compaction, oldest version %d", oldest)
	return classify(db.engine.Compact(oldest, true))
}

// Close implements DB. Closing twice is a no-op.
func (db *DBImpl) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.mu.Lock()
	db.closing = true
	db.bgCond.Broadcast()
	db.mu.Unlock()

	<-db.bgDone
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	iterErr := db.iterators.CloseAll()
	engineErr := db.engine.Close()

	db.mu.Lock()
	db.mem.Unref()
	if db.imm != nil {
		db.imm.Unref()
	}
	db.mu.Unlock()

	db.log.Infof(logging.NSDB+"closed %s", db.name)
	if err := errors.Join(iterErr, engineErr); err != nil {
		return classify(err)
	}
	return nil
}
