package vfs

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	// ErrInjectedRead is returned by opens and reads while a read fault is armed.
	ErrInjectedRead = errors.New("vfs: injected read error")

	// ErrInjectedWrite is returned by creates and writes while a write fault
	// is armed or the file system is inactive.
	ErrInjectedWrite = errors.New("vfs: injected write error")

	// ErrInjectedSync is returned by Sync while a sync fault is armed.
	ErrInjectedSync = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and fails selected operations. Faults are
// armed per file-name suffix, so "" matches every file and ".log" only the
// write-ahead logs. It also tracks how much of each file was synced, which
// lets tests simulate a crash with DropUnsyncedData.
type FaultInjectionFS struct {
	base FS

	mu         sync.Mutex
	inactive   bool
	readFault  *string
	writeFault *string
	syncFault  *string
	files      map[string]*syncState
}

type syncState struct {
	written int64
	synced  int64
}

// NewFaultInjectionFS wraps base with no faults armed.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{base: base, files: make(map[string]*syncState)}
}

// SetFilesystemActive toggles a global write failure.
func (fs *FaultInjectionFS) SetFilesystemActive(active bool) {
	fs.mu.Lock()
	fs.inactive = !active
	fs.mu.Unlock()
}

// InjectReadError fails opens of files whose names end in suffix.
func (fs *FaultInjectionFS) InjectReadError(suffix string) {
	fs.mu.Lock()
	fs.readFault = &suffix
	fs.mu.Unlock()
}

// InjectWriteError fails creates and writes of files whose names end in suffix.
func (fs *FaultInjectionFS) InjectWriteError(suffix string) {
	fs.mu.Lock()
	fs.writeFault = &suffix
	fs.mu.Unlock()
}

// InjectSyncError fails syncs of files whose names end in suffix.
func (fs *FaultInjectionFS) InjectSyncError(suffix string) {
	fs.mu.Lock()
	fs.syncFault = &suffix
	fs.mu.Unlock()
}

// ClearErrors disarms every fault and reactivates the file system.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	fs.inactive = false
	fs.readFault, fs.writeFault, fs.syncFault = nil, nil, nil
	fs.mu.Unlock()
}

func armed(fault *string, name string) bool {
	return fault != nil && strings.HasSuffix(name, *fault)
}

func (fs *FaultInjectionFS) writeFailure(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.inactive || armed(fs.writeFault, name) {
		return ErrInjectedWrite
	}
	return nil
}

func (fs *FaultInjectionFS) readFailure(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if armed(fs.readFault, name) {
		return ErrInjectedRead
	}
	return nil
}

// SyncedSize reports the written and synced sizes of a file created
// through fs.
func (fs *FaultInjectionFS) SyncedSize(name string) (written, synced int64, ok bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	st, ok := fs.files[name]
	if !ok {
		return 0, 0, false
	}
	return st.written, st.synced, true
}

// DropUnsyncedData truncates every tracked file to its last synced size,
// as a power failure would.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var errs []error
	for name, st := range fs.files {
		if st.synced >= st.written {
			continue
		}
		if err := os.Truncate(name, st.synced); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		st.written = st.synced
	}
	return errors.Join(errs...)
}

func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	if err := fs.writeFailure(name); err != nil {
		return nil, err
	}
	f, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	fs.files[name] = &syncState{}
	fs.mu.Unlock()
	return &faultFile{WritableFile: f, fs: fs, name: name}, nil
}

func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	if err := fs.readFailure(name); err != nil {
		return nil, err
	}
	return fs.base.Open(name)
}

func (fs *FaultInjectionFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	if err := fs.readFailure(name); err != nil {
		return nil, err
	}
	return fs.base.OpenRandomAccess(name)
}

func (fs *FaultInjectionFS) Rename(oldname, newname string) error {
	if err := fs.writeFailure(newname); err != nil {
		return err
	}
	if err := fs.base.Rename(oldname, newname); err != nil {
		return err
	}
	fs.mu.Lock()
	if st, ok := fs.files[oldname]; ok {
		fs.files[newname] = st
		delete(fs.files, oldname)
	}
	fs.mu.Unlock()
	return nil
}

func (fs *FaultInjectionFS) Remove(name string) error {
	if err := fs.base.Remove(name); err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.files, name)
	fs.mu.Unlock()
	return nil
}

func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	if err := fs.writeFailure(path); err != nil {
		return err
	}
	return fs.base.MkdirAll(path, perm)
}

func (fs *FaultInjectionFS) RemoveAll(path string) error           { return fs.base.RemoveAll(path) }
func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) { return fs.base.Stat(name) }
func (fs *FaultInjectionFS) Exists(name string) bool               { return fs.base.Exists(name) }
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) { return fs.base.ListDir(path) }
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error)   { return fs.base.Lock(name) }
func (fs *FaultInjectionFS) SyncDir(path string) error             { return fs.base.SyncDir(path) }

type faultFile struct {
	WritableFile
	fs   *FaultInjectionFS
	name string
}

func (f *faultFile) Write(p []byte) (int, error) {
	if err := f.fs.writeFailure(f.name); err != nil {
		return 0, err
	}
	n, err := f.WritableFile.Write(p)
	f.fs.mu.Lock()
	if st, ok := f.fs.files[f.name]; ok {
		st.written += int64(n)
	}
	f.fs.mu.Unlock()
	return n, err
}

func (f *faultFile) Sync() error {
	f.fs.mu.Lock()
	fail := armed(f.fs.syncFault, f.name)
	f.fs.mu.Unlock()
	if fail {
		return ErrInjectedSync
	}
	if err := f.WritableFile.Sync(); err != nil {
		return err
	}
	f.fs.mu.Lock()
	if st, ok := f.fs.files[f.name]; ok {
		st.synced = st.written
	}
	f.fs.mu.Unlock()
	return nil
}
