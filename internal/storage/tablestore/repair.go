package tablestore

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/manifest"
	"github.com/aalhour/cobblekv/internal/memtable"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/table"
	"github.com/aalhour/cobblekv/internal/vfs"
	"github.com/aalhour/cobblekv/internal/wal"
)

// Destroy removes the store in dir.
func Destroy(dir string, opts storage.Options) error {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	return storage.DestroyDir(opts.FS, dir)
}

// Repair rebuilds the manifest of the store in dir from whatever can be
// read. Every log is converted into a table, every readable table is kept
// at level 0 and unreadable files are moved to dir/lost. Corrupt log
// records are dropped.
func Repair(dir string, opts storage.Options) error {
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	if opts.Comparator == nil {
		opts.Comparator = dbformat.Bytewise
	}
	opts.Logger = logging.OrDefault(opts.Logger)

	lock, err := opts.FS.Lock(storage.LockFileName(dir))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Close() }()

	r := &repairer{
		dir:  dir,
		opts: opts,
		fs:   opts.FS,
		log:  opts.Logger,
		icmp: dbformat.NewInternalKeyComparator(opts.Comparator),
		builderOpts: table.BuilderOptions{
			BlockSize:            opts.BlockSize,
			BlockRestartInterval: opts.BlockRestartInterval,
			Compression:          opts.Compression,
			ChecksumType:         opts.ChecksumType,
			FilterBitsPerKey:     opts.FilterBitsPerKey,
			FilterKey:            dbformat.ExtractUserKey,
		},
	}
	return r.run()
}

type repairer struct {
	dir         string
	opts        storage.Options
	fs          vfs.FS
	log         logging.Logger
	icmp        *dbformat.InternalKeyComparator
	builderOpts table.BuilderOptions

	nextFile    uint64
	lastVersion dbformat.Version
	tables      []manifest.FileMeta
}

func (r *repairer) run() error {
	names, err := r.fs.ListDir(r.dir)
	if err != nil {
		return err
	}
	var logs, tables []uint64
	for _, name := range names {
		t, num, ok := storage.ParseFileName(name)
		if !ok {
			continue
		}
		r.nextFile = max(r.nextFile, num+1)
		switch t {
		case storage.FileLog:
			logs = append(logs, num)
		case storage.FileTable:
			tables = append(tables, num)
		}
	}
	if len(logs) == 0 && len(tables) == 0 && !r.fs.Exists(storage.CurrentFileName(r.dir)) {
		return fmt.Errorf("%w: %s: no database files", storage.ErrNotExist, r.dir)
	}
	r.nextFile = max(r.nextFile, 2)

	slices.Sort(logs)
	for _, num := range logs {
		if err := r.convertLog(num); err != nil {
			r.log.Warnf(logging.NSRepair+"log #%d: %v", num, err)
		}
		r.archive(storage.LogFileName(r.dir, num))
	}
	slices.Sort(tables)
	for _, num := range tables {
		r.scanTable(num)
	}
	return r.writeManifest()
}

// convertLog replays a log into a memtable and writes it out as a table.
func (r *repairer) convertLog(num uint64) error {
	f, err := r.fs.Open(storage.LogFileName(r.dir, num))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	dropped := 0
	reader := wal.NewReader(f, func(n int, err error) {
		dropped += n
		r.log.Warnf(logging.NSRepair+"log #%d: dropping %d bytes: %v", num, n, err)
	}, true)

	mem := memtable.New(r.icmp)
	records := 0
	for {
		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		wb, err := batch.NewFromData(rec)
		if err == nil {
			var ops []batch.Op
			if ops, err = wb.Collapse(r.icmp.User); err == nil {
				v := wb.Version()
				for _, op := range ops {
					mem.Add(v, op.Kind, op.Key, op.Value)
				}
				r.lastVersion = max(r.lastVersion, v)
				records++
			}
		}
		if err != nil {
			r.log.Warnf(logging.NSRepair+"log #%d: dropping record: %v", num, err)
		}
	}
	if mem.Empty() {
		return nil
	}

	tnum := r.nextFile
	r.nextFile++
	out, err := newTableOutput(r.fs, r.dir, tnum, r.builderOpts)
	if err != nil {
		return err
	}
	it := mem.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := out.add(it.Key(), it.Value()); err != nil {
			out.abandon()
			return err
		}
	}
	meta, err := out.finish()
	if err != nil {
		return err
	}
	r.tables = append(r.tables, meta)
	r.log.Infof(logging.NSRepair+"log #%d: %d records -> table #%d, %d bytes dropped", num, records, tnum, dropped)
	return nil
}

// scanTable keeps a readable table and salvages the readable prefix of a
// damaged one.
func (r *repairer) scanTable(num uint64) {
	path := storage.TableFileName(r.dir, num)
	meta, count, err := r.readTable(num, path, nil)
	if err == nil {
		r.tables = append(r.tables, meta)
		return
	}
	r.log.Warnf(logging.NSRepair+"table #%d: %v", num, err)
	if count > 0 {
		if out, err := newTableOutput(r.fs, r.dir, r.nextFile, r.builderOpts); err == nil {
			r.nextFile++
			_, _, _ = r.readTable(num, path, out)
			if out.b.NumEntries() == 0 {
				out.abandon()
			} else if meta, err := out.finish(); err == nil {
				r.tables = append(r.tables, meta)
				r.log.Infof(logging.NSRepair+"table #%d: salvaged %d entries into #%d", num, out.b.NumEntries(), meta.Number)
			}
		}
	}
	r.archive(path)
}

// readTable iterates every entry of a table, copying them to out when it
// is non-nil. count is the number of entries read before any error.
func (r *repairer) readTable(num uint64, path string, out *tableOutput) (manifest.FileMeta, int, error) {
	f, err := r.fs.OpenRandomAccess(path)
	if err != nil {
		return manifest.FileMeta{}, 0, err
	}
	size := f.Size()
	reader, err := table.Open(f, table.ReaderOptions{Compare: r.icmp.Compare, FileNumber: num})
	if err != nil {
		_ = f.Close()
		return manifest.FileMeta{}, 0, err
	}
	defer func() { _ = reader.Close() }()

	meta := manifest.FileMeta{Number: num, Size: uint64(size)}
	count := 0
	it := reader.NewIterator(table.ReadOptions{VerifyChecksums: true})
	defer func() { _ = it.Close() }()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		p, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			return meta, count, fmt.Errorf("%w: %v", storage.ErrCorruption, err)
		}
		if out != nil {
			if err := out.add(it.Key(), it.Value()); err != nil {
				return meta, count, err
			}
		}
		if count == 0 {
			meta.Smallest = append([]byte(nil), it.Key()...)
		}
		meta.Largest = append(meta.Largest[:0], it.Key()...)
		r.lastVersion = max(r.lastVersion, p.Version)
		count++
	}
	if err := it.Error(); err != nil {
		return meta, count, err
	}
	if count == 0 {
		return meta, 0, fmt.Errorf("%w: empty table", storage.ErrCorruption)
	}
	return meta, count, nil
}

func (r *repairer) writeManifest() error {
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(r.icmp.Name())
	edit.SetLogNumber(0)
	edit.SetLastVersion(r.lastVersion)
	for _, meta := range r.tables {
		edit.AddFile(0, meta)
	}
	num := r.nextFile
	edit.SetNextFileNumber(num + 1)

	path := storage.ManifestFileName(r.dir, num)
	f, err := r.fs.Create(path)
	if err != nil {
		return err
	}
	w := wal.NewWriter(f)
	err = w.AddRecord(edit.EncodeTo(nil))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = setCurrentFile(r.fs, r.dir, num)
	}
	if err != nil {
		_ = r.fs.Remove(path)
		return fmt.Errorf("repair: %w", err)
	}
	r.log.Infof(logging.NSRepair+"%s: %d tables, last version %d", filepath.Base(path), len(r.tables), r.lastVersion)
	return nil
}

// archive moves a file into dir/lost.
func (r *repairer) archive(path string) {
	lost := filepath.Join(r.dir, "lost")
	if err := r.fs.MkdirAll(lost, 0o755); err != nil {
		r.log.Warnf(logging.NSRepair+"archive %s: %v", path, err)
		return
	}
	if err := r.fs.Rename(path, filepath.Join(lost, filepath.Base(path))); err != nil {
		r.log.Warnf(logging.NSRepair+"archive %s: %v", path, err)
	}
}
