// Package tablestore is the native storage engine: a write-ahead log,
// sorted table files in two levels and a MANIFEST recording the live table
// set.
//
// Flushes add tables to level 0, where they may overlap. A compaction
// merges every table into non-overlapping level-1 tables, dropping entries
// no live version can see.
package tablestore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/cache"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/iterator"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/manifest"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/table"
	"github.com/aalhour/cobblekv/internal/vfs"
	"github.com/aalhour/cobblekv/internal/wal"
)

// Name selects this engine in the database options.
const Name = "table"

const (
	// compactionTrigger is the table count at which an unforced Compact
	// does work.
	compactionTrigger = 4

	// numNonTableCacheFiles is the share of MaxOpenFiles kept for logs, the
	// manifest and the lock.
	numNonTableCacheFiles = 10
)

// Store implements storage.Engine on top of table files.
type Store struct {
	dir         string
	opts        storage.Options
	fs          vfs.FS
	log         logging.Logger
	icmp        *dbformat.InternalKeyComparator
	lock        io.Closer
	tables      *table.TableCache
	builderOpts table.BuilderOptions

	compactMu sync.Mutex

	logMu      sync.Mutex
	logFile    vfs.WritableFile
	logWriter  *wal.Writer
	logFileNum uint64

	mu           sync.Mutex
	current      *tableVersion
	live         map[*tableVersion]struct{}
	pending      map[uint64]struct{}
	nextFile     uint64
	logNumber    uint64
	lastVersion  dbformat.Version
	manifestNum  uint64
	manifestFile vfs.WritableFile
	manifestLog  *wal.Writer
	stats        [manifest.NumLevels]levelStats
	closed       bool

	// filterUseful counts table reads a Bloom filter avoided.
	filterUseful atomic.Uint64
}

var _ storage.Engine = (*Store)(nil)

type levelStats struct {
	duration time.Duration
	read     uint64
	written  uint64
}

// Open opens or creates the store in dir. Recover must be called before
// the first ApplyBatch.
func Open(dir string, opts storage.Options) (*Store, error) {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	if opts.Comparator == nil {
		opts.Comparator = dbformat.Bytewise
	}
	opts.Logger = logging.OrDefault(opts.Logger)

	s := &Store{
		dir:     dir,
		opts:    opts,
		fs:      opts.FS,
		log:     opts.Logger,
		icmp:    dbformat.NewInternalKeyComparator(opts.Comparator),
		live:    make(map[*tableVersion]struct{}),
		pending: make(map[uint64]struct{}),
		builderOpts: table.BuilderOptions{
			BlockSize:            opts.BlockSize,
			BlockRestartInterval: opts.BlockRestartInterval,
			Compression:          opts.Compression,
			ChecksumType:         opts.ChecksumType,
			FilterBitsPerKey:     opts.FilterBitsPerKey,
			FilterKey:            dbformat.ExtractUserKey,
		},
	}
	if s.opts.MaxFileSize == 0 {
		s.opts.MaxFileSize = 2 << 20
	}

	if opts.CreateIfMissing {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	} else if !s.fs.Exists(dir) {
		return nil, fmt.Errorf("%w: %s (create_if_missing is false)", storage.ErrNotExist, dir)
	}
	lock, err := s.fs.Lock(storage.LockFileName(dir))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", storage.LockFileName(dir), err)
	}
	s.lock = lock

	s.tables = table.NewTableCache(s.fs, func(num uint64) string { return storage.TableFileName(dir, num) },
		table.ReaderOptions{
			Compare:    s.icmp.Compare,
			BlockCache: opts.BlockCache,
			CacheID:    cache.NewID(),
			Paranoid:   opts.ParanoidChecks,
			FilterKey:  dbformat.ExtractUserKey,
		}, opts.MaxOpenFiles-numNonTableCacheFiles)

	if err := s.open(); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	if !s.fs.Exists(storage.CurrentFileName(s.dir)) {
		if !s.opts.CreateIfMissing {
			return fmt.Errorf("%w: %s (create_if_missing is false)", storage.ErrNotExist, s.dir)
		}
		if err := s.create(); err != nil {
			return err
		}
	} else if s.opts.ErrorIfExists {
		return fmt.Errorf("%w: %s (error_if_exists is true)", storage.ErrExists, s.dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recoverManifest(); err != nil {
		return err
	}
	// Start a fresh manifest holding a snapshot of the recovered state.
	return s.logAndApply(&manifest.VersionEdit{})
}

// Name implements storage.Engine.
func (s *Store) Name() string { return Name }

// Recover replays the logs that are not yet covered by tables and starts a
// new log.
func (s *Store) Recover(replay func(data []byte) error) (dbformat.Version, error) {
	s.mu.Lock()
	minLog, last := s.logNumber, s.lastVersion
	s.mu.Unlock()

	names, err := s.fs.ListDir(s.dir)
	if err != nil {
		return 0, err
	}
	present := make(map[uint64]bool)
	var logs []uint64
	s.mu.Lock()
	for _, name := range names {
		t, num, ok := storage.ParseFileName(name)
		if !ok {
			continue
		}
		s.markFileNumberUsed(num)
		switch t {
		case storage.FileTable:
			present[num] = true
		case storage.FileLog:
			if num >= minLog {
				logs = append(logs, num)
			}
		}
	}
	var missing []uint64
	for _, files := range s.current.levels {
		for _, f := range files {
			if !present[f.Number] {
				missing = append(missing, f.Number)
			}
		}
	}
	s.mu.Unlock()
	if len(missing) > 0 {
		return 0, fmt.Errorf("%w: %d missing table files, e.g. %s", storage.ErrCorruption,
			len(missing), filepath.Base(storage.TableFileName(s.dir, missing[0])))
	}

	slices.Sort(logs)
	for _, num := range logs {
		v, err := s.replayLog(num, replay)
		if err != nil {
			return 0, err
		}
		last = max(last, v)
	}

	s.mu.Lock()
	num := s.newFileNumber()
	s.mu.Unlock()
	if err := s.openLog(num); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastVersion = max(s.lastVersion, last)
	s.removeObsoleteFiles()
	s.mu.Unlock()
	s.log.Infof(logging.NSRecovery+"replayed %d logs, last version %d", len(logs), last)
	return last, nil
}

func (s *Store) replayLog(num uint64, replay func([]byte) error) (dbformat.Version, error) {
	f, err := s.fs.Open(storage.LogFileName(s.dir, num))
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var corrupt error
	r := wal.NewReader(f, func(n int, err error) {
		s.log.Warnf(logging.NSRecovery+"log #%d: dropping %d bytes: %v", num, n, err)
		if s.opts.ParanoidChecks && corrupt == nil {
			corrupt = err
		}
	}, true)

	var last dbformat.Version
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read log #%d: %w", num, err)
		}
		if corrupt != nil {
			break
		}
		if err := replay(rec); err != nil {
			return 0, err
		}
		if b, err := batch.NewFromData(rec); err == nil {
			last = max(last, b.Version())
		}
	}
	if corrupt != nil {
		return 0, fmt.Errorf("%w: log #%d: %v", storage.ErrCorruption, num, corrupt)
	}
	return last, nil
}

func (s *Store) openLog(num uint64) error {
	f, err := s.fs.Create(storage.LogFileName(s.dir, num))
	if err != nil {
		return fmt.Errorf("create log #%d: %w", num, err)
	}
	s.logMu.Lock()
	old := s.logFile
	s.logFile, s.logWriter, s.logFileNum = f, wal.NewWriter(f), num
	s.logMu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warnf(logging.NSWAL+"close previous log: %v", err)
		}
	}
	return nil
}

// ApplyBatch appends the batch to the current log.
func (s *Store) ApplyBatch(data []byte, v dbformat.Version, sync bool) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.logWriter == nil {
		return storage.ErrClosed
	}
	if err := s.logWriter.AddRecord(data); err != nil {
		return fmt.Errorf("append version %d to log #%d: %w", v, s.logFileNum, err)
	}
	if sync {
		if err := s.logWriter.Sync(); err != nil {
			return fmt.Errorf("sync log #%d: %w", s.logFileNum, err)
		}
	}
	return nil
}

// Rotate switches to a new log.
func (s *Store) Rotate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	num := s.newFileNumber()
	s.mu.Unlock()
	return s.openLog(num)
}

// Flush writes mem to a level-0 table and retires the logs before the
// current one.
func (s *Store) Flush(mem *memtable.MemTable, last dbformat.Version) error {
	start := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	num := s.newFileNumber()
	s.pending[num] = struct{}{}
	s.mu.Unlock()

	s.logMu.Lock()
	logNum := s.logFileNum
	s.logMu.Unlock()

	edit := &manifest.VersionEdit{}
	var meta manifest.FileMeta
	if !mem.Empty() {
		it := mem.NewIterator()
		it.SeekToFirst()
		out, err := s.newOutput(num)
		if err == nil {
			for ; it.Valid(); it.Next() {
				if err = out.add(it.Key(), it.Value()); err != nil {
					break
				}
			}
			if err == nil {
				meta, err = out.finish()
			} else {
				out.abandon()
			}
		}
		if err == nil {
			err = s.verifyTable(num)
		}
		if err != nil {
			s.mu.Lock()
			delete(s.pending, num)
			s.mu.Unlock()
			return fmt.Errorf("flush table #%d: %w", num, err)
		}
		edit.AddFile(0, meta)
	}
	edit.SetLogNumber(logNum)
	edit.SetLastVersion(last)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, num)
	if err := s.logAndApply(edit); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	s.stats[0].duration += time.Since(start)
	s.stats[0].written += meta.Size
	s.log.Infof(logging.NSFlush+"table #%d: %d entries, %d bytes, log #%d", num, mem.Count(), meta.Size, logNum)
	s.removeObsoleteFiles()
	return nil
}

// verifyTable opens a freshly written table through the cache.
func (s *Store) verifyTable(num uint64) error {
	_, release, err := s.tables.Get(num)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Get implements storage.Engine.
func (s *Store) Get(key []byte, v dbformat.Version, opts storage.ReadOptions) ([]byte, dbformat.Kind, bool, error) {
	cur, err := s.refCurrent()
	if err != nil {
		return nil, 0, false, err
	}
	defer s.unref(cur)

	lookup := dbformat.LookupKey(key, v)
	ro := table.ReadOptions{VerifyChecksums: opts.VerifyChecksums, FillCache: opts.FillCache}

	// Level-0 tables may overlap, so the newest matching entry wins.
	var (
		best      []byte
		bestKind  dbformat.Kind
		bestVer   dbformat.Version
		bestFound bool
	)
	for _, f := range cur.levels[0] {
		if !overlaps(s.icmp.User, f, key) {
			continue
		}
		p, value, found, err := s.getFromTable(f.Number, lookup, key, ro)
		if err != nil {
			return nil, 0, false, err
		}
		if found && (!bestFound || p.Version > bestVer) {
			best, bestKind, bestVer, bestFound = value, p.Kind, p.Version, true
		}
	}
	if bestFound {
		return best, bestKind, true, nil
	}

	files := cur.levels[1]
	if i := findFile(s.icmp, files, lookup); i < len(files) && overlaps(s.icmp.User, files[i], key) {
		p, value, found, err := s.getFromTable(files[i].Number, lookup, key, ro)
		if err != nil || !found {
			return nil, 0, false, err
		}
		return value, p.Kind, true, nil
	}
	return nil, 0, false, nil
}

func (s *Store) getFromTable(num uint64, lookup, userKey []byte, ro table.ReadOptions) (dbformat.ParsedKey, []byte, bool, error) {
	r, release, err := s.tables.Get(num)
	if err != nil {
		return dbformat.ParsedKey{}, nil, false, fmt.Errorf("table #%d: %w", num, err)
	}
	defer release()

	if !r.MayContain(lookup) {
		s.filterUseful.Add(1)
		return dbformat.ParsedKey{}, nil, false, nil
	}
	k, value, found, err := r.Get(lookup, ro)
	if err != nil {
		return dbformat.ParsedKey{}, nil, false, fmt.Errorf("table #%d: %w", num, err)
	}
	if !found {
		return dbformat.ParsedKey{}, nil, false, nil
	}
	p, err := dbformat.ParseInternalKey(k)
	if err != nil {
		return dbformat.ParsedKey{}, nil, false, fmt.Errorf("%w: table #%d: %v", storage.ErrCorruption, num, err)
	}
	if s.icmp.User.Compare(p.UserKey, userKey) != 0 {
		return dbformat.ParsedKey{}, nil, false, nil
	}
	return p, bytes.Clone(value), true, nil
}

// NewIterator merges one iterator per live table.
func (s *Store) NewIterator(opts storage.ReadOptions) (iterator.Iterator, func(), error) {
	cur, err := s.refCurrent()
	if err != nil {
		return nil, nil, err
	}
	ro := table.ReadOptions{VerifyChecksums: opts.VerifyChecksums, FillCache: opts.FillCache}
	children, err := s.tableIterators(cur, ro)
	if err != nil {
		s.unref(cur)
		return nil, nil, err
	}
	var once sync.Once
	return iterator.NewMergingIterator(s.icmp.Compare, children...), func() { once.Do(func() { s.unref(cur) }) }, nil
}

func (s *Store) tableIterators(v *tableVersion, ro table.ReadOptions) ([]iterator.Iterator, error) {
	var children []iterator.Iterator
	for _, files := range v.levels {
		for _, f := range files {
			r, release, err := s.tables.Get(f.Number)
			if err != nil {
				for _, c := range children {
					_ = c.Close()
				}
				return nil, fmt.Errorf("table #%d: %w", f.Number, err)
			}
			children = append(children, &tableIterator{Iterator: r.NewIterator(ro), release: release})
		}
	}
	return children, nil
}

// tableIterator returns its table to the cache on Close.
type tableIterator struct {
	*table.Iterator
	release func()
}

func (it *tableIterator) Close() error {
	err := it.Iterator.Close()
	it.release()
	return err
}

// ApproximateSize sums the table bytes between start and limit.
func (s *Store) ApproximateSize(start, limit []byte) uint64 {
	cur, err := s.refCurrent()
	if err != nil {
		return 0
	}
	defer s.unref(cur)

	a := s.approximateOffsetOf(cur, dbformat.MakeInternalKey(start, dbformat.MaxVersion, dbformat.KindForSeek))
	b := s.approximateOffsetOf(cur, dbformat.MakeInternalKey(limit, dbformat.MaxVersion, dbformat.KindForSeek))
	if b < a {
		return 0
	}
	return b - a
}

func (s *Store) approximateOffsetOf(v *tableVersion, ikey []byte) uint64 {
	var result uint64
	for _, files := range v.levels {
		for _, f := range files {
			switch {
			case s.icmp.Compare(f.Largest, ikey) <= 0:
				result += f.Size
			case s.icmp.Compare(f.Smallest, ikey) > 0:
				// Entirely after ikey.
			default:
				r, release, err := s.tables.Get(f.Number)
				if err != nil {
					continue
				}
				result += r.ApproximateOffsetOf(ikey)
				release()
			}
		}
	}
	return result
}

// Property answers the level statistics of the store.
func (s *Store) Property(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.property(name)
}

// Close releases the log, the manifest, the table cache and the lock.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.compactMu.Lock()
	defer s.compactMu.Unlock()
	return s.closeFiles()
}

func (s *Store) closeFiles() error {
	var errs []error
	s.logMu.Lock()
	if s.logFile != nil {
		errs = append(errs, s.logFile.Close())
		s.logFile, s.logWriter = nil, nil
	}
	s.logMu.Unlock()

	s.mu.Lock()
	if s.manifestFile != nil {
		errs = append(errs, s.manifestFile.Close())
		s.manifestFile, s.manifestLog = nil, nil
	}
	s.mu.Unlock()

	if s.tables != nil {
		s.tables.Close()
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Close())
		s.lock = nil
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Versions and files
// -----------------------------------------------------------------------------

func (s *Store) refCurrent() (*tableVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	s.current.refs++
	return s.current, nil
}

func (s *Store) unref(v *tableVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unrefLocked(v) && !s.closed {
		s.removeObsoleteFiles()
	}
}

// unrefLocked drops a reference and reports whether v was retired.
// REQUIRES: s.mu held.
func (s *Store) unrefLocked(v *tableVersion) bool {
	v.refs--
	if v.refs > 0 {
		return false
	}
	delete(s.live, v)
	return true
}

// REQUIRES: s.mu held.
func (s *Store) newFileNumber() uint64 {
	n := s.nextFile
	s.nextFile++
	return n
}

// REQUIRES: s.mu held.
func (s *Store) markFileNumberUsed(num uint64) {
	if s.nextFile <= num {
		s.nextFile = num + 1
	}
}

// removeObsoleteFiles deletes tables no live version references, logs
// older than the log number and superseded manifests.
// REQUIRES: s.mu held.
func (s *Store) removeObsoleteFiles() {
	keep := make(map[uint64]bool, len(s.pending))
	for num := range s.pending {
		keep[num] = true
	}
	for v := range s.live {
		for _, files := range v.levels {
			for _, f := range files {
				keep[f.Number] = true
			}
		}
	}

	names, err := s.fs.ListDir(s.dir)
	if err != nil {
		s.log.Warnf(logging.NSDB+"list %s: %v", s.dir, err)
		return
	}
	for _, name := range names {
		t, num, ok := storage.ParseFileName(name)
		if !ok {
			continue
		}
		var obsolete bool
		switch t {
		case storage.FileLog:
			obsolete = num < s.logNumber
		case storage.FileManifest:
			obsolete = num < s.manifestNum
		case storage.FileTable, storage.FileTemp:
			obsolete = !keep[num] && num != s.manifestNum
		}
		if !obsolete {
			continue
		}
		if t == storage.FileTable {
			s.tables.Evict(num)
		}
		s.log.Debugf(logging.NSDB+"delete %s #%d", t, num)
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
			s.log.Warnf(logging.NSDB+"delete %s: %v", name, err)
		}
	}
}

// -----------------------------------------------------------------------------
// Table output
// -----------------------------------------------------------------------------

type tableOutput struct {
	fs   vfs.FS
	path string
	num  uint64
	file vfs.WritableFile
	buf  *bufio.Writer
	b    *table.Builder
}

func (s *Store) newOutput(num uint64) (*tableOutput, error) {
	return newTableOutput(s.fs, s.dir, num, s.builderOpts)
}

func newTableOutput(fs vfs.FS, dir string, num uint64, opts table.BuilderOptions) (*tableOutput, error) {
	path := storage.TableFileName(dir, num)
	f, err := fs.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriterSize(f, 64<<10)
	return &tableOutput{fs: fs, path: path, num: num, file: f, buf: buf, b: table.NewBuilder(buf, opts)}, nil
}

func (o *tableOutput) add(key, value []byte) error { return o.b.Add(key, value) }

func (o *tableOutput) finish() (manifest.FileMeta, error) {
	err := o.b.Finish()
	if err == nil {
		err = o.buf.Flush()
	}
	if err == nil {
		err = o.file.Sync()
	}
	if cerr := o.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = o.fs.Remove(o.path)
		return manifest.FileMeta{}, err
	}
	return manifest.FileMeta{
		Number:   o.num,
		Size:     o.b.FileSize(),
		Smallest: bytes.Clone(o.b.Smallest()),
		Largest:  bytes.Clone(o.b.Largest()),
	}, nil
}

func (o *tableOutput) abandon() {
	o.b.Abandon()
	_ = o.file.Close()
	_ = o.fs.Remove(o.path)
}
