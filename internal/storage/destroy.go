package storage

import (
	"errors"
	iofs "io/fs"
	"path/filepath"

	"github.com/aalhour/cobblekv/internal/vfs"
)

// DestroyDir removes every database file in dir and then dir itself if it
// is empty. A missing directory is not an error. Files the database did not
// create are left alone.
func DestroyDir(fs vfs.FS, dir string) error {
	names, err := fs.ListDir(dir)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil
		}
		return err
	}

	lockName := LockFileName(dir)
	lock, err := fs.Lock(lockName)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		t, _, ok := ParseFileName(name)
		if !ok || t == FileLock {
			continue
		}
		if err := fs.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, lock.Close())
	_ = fs.Remove(lockName)
	_ = fs.Remove(dir)
	return errors.Join(errs...)
}
