package tablestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/manifest"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/vfs"
	"github.com/aalhour/cobblekv/internal/wal"
)

// create writes the manifest of an empty store and points CURRENT at it.
func (s *Store) create() error {
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(s.icmp.Name())
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(2)
	edit.SetLastVersion(0)

	const num = 1
	f, err := s.fs.Create(storage.ManifestFileName(s.dir, num))
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
		err = setCurrentFile(s.fs, s.dir, num)
	}
	if err != nil {
		_ = s.fs.Remove(storage.ManifestFileName(s.dir, num))
		return fmt.Errorf("create store: %w", err)
	}
	s.log.Infof(logging.NSManifest+"created store %s", s.dir)
	return nil
}

// recoverManifest loads the state named by CURRENT. Any damage to the
// manifest is fatal: without it the table set cannot be trusted.
func (s *Store) recoverManifest() error {
	data, err := readFile(s.fs, storage.CurrentFileName(s.dir))
	if err != nil {
		return fmt.Errorf("read CURRENT: %w", err)
	}
	name := strings.TrimSpace(string(data))
	t, num, ok := storage.ParseFileName(name)
	if !ok || t != storage.FileManifest || !bytes.HasSuffix(data, []byte("\n")) {
		return fmt.Errorf("%w: CURRENT names %q", storage.ErrCorruption, name)
	}

	f, err := s.fs.Open(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var corrupt error
	r := wal.NewReader(f, func(_ int, err error) {
		if corrupt == nil {
			corrupt = err
		}
	}, true)

	v := &tableVersion{}
	var hasComparator, hasLogNumber, hasNextFile, hasLastVersion bool
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if corrupt != nil {
			break
		}

		var edit manifest.VersionEdit
		if err := edit.DecodeFrom(rec); err != nil {
			return fmt.Errorf("%w: %s: %v", storage.ErrCorruption, name, err)
		}
		if edit.HasComparator {
			hasComparator = true
			if edit.Comparator != s.icmp.Name() {
				return fmt.Errorf("%w: store uses %q, opened with %q",
					storage.ErrComparatorMismatch, edit.Comparator, s.icmp.Name())
			}
		}
		if v, err = v.apply(&edit, s.icmp); err != nil {
			return fmt.Errorf("%w: %s: %v", storage.ErrCorruption, name, err)
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			s.logNumber = edit.LogNumber
		}
		if edit.HasNextFileNumber {
			hasNextFile = true
			s.nextFile = edit.NextFileNumber
		}
		if edit.HasLastVersion {
			hasLastVersion = true
			s.lastVersion = max(s.lastVersion, edit.LastVersion)
		}
		for _, nf := range edit.NewFiles {
			s.markFileNumberUsed(nf.Meta.Number)
		}
	}
	if corrupt != nil {
		return fmt.Errorf("%w: %s: %v", storage.ErrCorruption, name, corrupt)
	}
	switch {
	case !hasComparator:
		return fmt.Errorf("%w: %s: no comparator entry", storage.ErrCorruption, name)
	case !hasLogNumber:
		return fmt.Errorf("%w: %s: no log number entry", storage.ErrCorruption, name)
	case !hasNextFile:
		return fmt.Errorf("%w: %s: no next file entry", storage.ErrCorruption, name)
	case !hasLastVersion:
		return fmt.Errorf("%w: %s: no last version entry", storage.ErrCorruption, name)
	}

	s.markFileNumberUsed(num)
	s.markFileNumberUsed(s.logNumber)
	s.installVersion(v)
	s.log.Infof(logging.NSManifest+"recovered %s: %d tables, log #%d, last version %d",
		name, v.numFiles(), s.logNumber, s.lastVersion)
	return nil
}

// snapshotEdit describes the whole current state. It starts every new
// manifest.
// REQUIRES: s.mu held.
func (s *Store) snapshotEdit() *manifest.VersionEdit {
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(s.icmp.Name())
	for level, files := range s.current.levels {
		for _, f := range files {
			edit.AddFile(level, *f)
		}
	}
	return edit
}

// logAndApply persists edit and installs the resulting version. The first
// call after open starts a new manifest.
// REQUIRES: s.mu held.
func (s *Store) logAndApply(edit *manifest.VersionEdit) error {
	if !edit.HasLogNumber {
		edit.SetLogNumber(s.logNumber)
	}
	if edit.LogNumber < s.logNumber {
		return fmt.Errorf("log number went backwards: %d < %d", edit.LogNumber, s.logNumber)
	}
	last := s.lastVersion
	if edit.HasLastVersion {
		last = max(last, edit.LastVersion)
	}
	edit.SetLastVersion(last)

	next, err := s.current.apply(edit, s.icmp)
	if err != nil {
		return err
	}

	created := false
	if s.manifestLog == nil {
		num := s.nextFile
		s.nextFile++
		f, err := s.fs.Create(storage.ManifestFileName(s.dir, num))
		if err != nil {
			return err
		}
		w := wal.NewWriter(f)
		if err := w.AddRecord(s.snapshotEdit().EncodeTo(nil)); err != nil {
			_ = f.Close()
			_ = s.fs.Remove(storage.ManifestFileName(s.dir, num))
			return err
		}
		s.manifestFile, s.manifestLog, s.manifestNum = f, w, num
		created = true
	}
	edit.SetNextFileNumber(s.nextFile)

	err = s.manifestLog.AddRecord(edit.EncodeTo(nil))
	if err == nil {
		err = s.manifestLog.Sync()
	}
	if err == nil && created {
		err = setCurrentFile(s.fs, s.dir, s.manifestNum)
	}
	if err != nil {
		s.log.Errorf(logging.NSManifest+"MANIFEST-%06d: %v", s.manifestNum, err)
		// The next edit starts a fresh manifest rather than appending to
		// one whose tail is unknown.
		_ = s.manifestFile.Close()
		if created {
			_ = s.fs.Remove(storage.ManifestFileName(s.dir, s.manifestNum))
		}
		s.manifestFile, s.manifestLog = nil, nil
		return err
	}

	s.logNumber = edit.LogNumber
	s.lastVersion = last
	s.installVersion(next)
	return nil
}

// installVersion makes v current.
// REQUIRES: s.mu held.
func (s *Store) installVersion(v *tableVersion) {
	v.refs = 1
	s.live[v] = struct{}{}
	old := s.current
	s.current = v
	if old != nil {
		s.unrefLocked(old)
	}
}

// setCurrentFile atomically points CURRENT at manifest num.
func setCurrentFile(fs vfs.FS, dir string, num uint64) error {
	tmp := storage.TempFileName(dir, num)
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	content := filepath.Base(storage.ManifestFileName(dir, num)) + "\n"
	_, err = io.WriteString(f, content)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fs.Rename(tmp, storage.CurrentFileName(dir))
	}
	if err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("set CURRENT: %w", err)
	}
	return fs.SyncDir(dir)
}

func readFile(fs vfs.FS, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
