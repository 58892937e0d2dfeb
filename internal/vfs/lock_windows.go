//go:build windows

package vfs

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

// lockFile opens name exclusively. Windows refuses a second open with
// sharing disabled, which is enough for a single-process lock.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error { return l.f.Close() }
