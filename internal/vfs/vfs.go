// Package vfs is the file-system boundary of the storage engines.
//
// Engines never touch package os directly. Production code uses Default;
// tests wrap it in a FaultInjectionFS to fail writes and syncs on demand.
package vfs

import (
	"io"
	"os"
)

// FS is the set of file operations the engines need.
type FS interface {
	// Create creates or truncates a file for writing.
	Create(name string) (WritableFile, error)

	// Open opens a file for sequential reading.
	Open(name string) (SequentialFile, error)

	// OpenRandomAccess opens a file for positional reads.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// Rename atomically replaces newname with oldname.
	Rename(oldname, newname string) error

	Remove(name string) error
	RemoveAll(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Exists(name string) bool

	// ListDir returns the base names of the entries in path.
	ListDir(path string) ([]string, error)

	// Lock takes an exclusive advisory lock on name, creating it if needed.
	// Closing the returned value releases the lock.
	Lock(name string) (io.Closer, error)

	// SyncDir makes renames and creations in path durable.
	SyncDir(path string) error
}

// WritableFile is an append-only file.
type WritableFile interface {
	io.Writer
	io.Closer

	// Sync flushes written data to stable storage.
	Sync() error
}

// SequentialFile is read front to back.
type SequentialFile interface {
	io.Reader
	io.Closer
}

// RandomAccessFile supports concurrent positional reads.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer

	// Size returns the file size at open time.
	Size() int64
}

type osFS struct{}

// Default returns the operating-system file system.
func Default() FS { return osFS{} }

func (osFS) Create(name string) (WritableFile, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) Open(name string) (SequentialFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRandomAccessFile{File: f, size: info.Size()}, nil
}

func (osFS) Rename(oldname, newname string) error         { return os.Rename(oldname, newname) }
func (osFS) Remove(name string) error                     { return os.Remove(name) }
func (osFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (osFS) Lock(name string) (io.Closer, error)          { return lockFile(name) }

func (osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (osFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (osFS) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

type osRandomAccessFile struct {
	*os.File
	size int64
}

func (f *osRandomAccessFile) Size() int64 { return f.size }
