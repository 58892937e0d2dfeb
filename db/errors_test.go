package db

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/aalhour/cobblekv/internal/batch"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/table"
	"github.com/aalhour/cobblekv/internal/vfs"
	"github.com/aalhour/cobblekv/internal/wal"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   error
		prefix string
	}{
		{"missing store", fmt.Errorf("open: %w", storage.ErrNotExist), ErrInvalidArgument, "Invalid argument"},
		{"existing store", storage.ErrExists, ErrInvalidArgument, "Invalid argument"},
		{"comparator", storage.ErrComparatorMismatch, ErrComparatorMismatch, "Invalid argument"},
		{"engine corruption", storage.ErrCorruption, ErrCorruption, "Corruption"},
		{"bad batch", batch.ErrCorrupted, ErrCorruption, "Corruption"},
		{"bad table", fmt.Errorf("table #7: %w", table.ErrCorrupted), ErrCorruption, "Corruption"},
		{"bad log", wal.ErrCorrupted, ErrCorruption, "Corruption"},
		{"file system", fs.ErrPermission, ErrIOError, "IO error"},
		{"injected sync", vfs.ErrInjectedSync, ErrIOError, "IO error"},
		{"closed engine", storage.ErrClosed, ErrDBClosed, "db: database is closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !strings.HasPrefix(got.Error(), tt.prefix) {
				t.Errorf("message %q does not start with %q", got, tt.prefix)
			}
			if tt.want != ErrDBClosed && !errors.Is(got, tt.err) {
				t.Errorf("classify(%v) lost the cause", tt.err)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
	once := classify(vfs.ErrInjectedWrite)
	if twice := classify(once); twice != once {
		t.Errorf("classify(classify(err)) = %v, want %v", twice, once)
	}
	if got := classify(ErrNotFound); got != ErrNotFound {
		t.Errorf("classify(ErrNotFound) = %v", got)
	}
}

func TestClassifiedErrorsAreExclusive(t *testing.T) {
	kinds := []error{ErrInvalidArgument, ErrCorruption, ErrIOError, ErrDBClosed}
	for _, cause := range []error{storage.ErrExists, storage.ErrCorruption, fs.ErrNotExist, storage.ErrClosed} {
		got := classify(cause)
		n := 0
		for _, k := range kinds {
			if errors.Is(got, k) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("classify(%v) = %v matches %d categories", cause, got, n)
		}
	}
}
