package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FileType classifies the files found in a database directory.
type FileType int

const (
	FileUnknown FileType = iota
	FileLog
	FileTable
	FileManifest
	FileCurrent
	FileLock
	FileOptions
	FileTemp
	FileInfoLog
)

func (t FileType) String() string {
	switch t {
	case FileLog:
		return "log"
	case FileTable:
		return "table"
	case FileManifest:
		return "manifest"
	case FileCurrent:
		return "current"
	case FileLock:
		return "lock"
	case FileOptions:
		return "options"
	case FileTemp:
		return "temp"
	case FileInfoLog:
		return "info-log"
	default:
		return "unknown"
	}
}

func LogFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", num))
}

func TableFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.ldb", num))
}

func ManifestFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("MANIFEST-%06d", num))
}

func OptionsFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("OPTIONS-%06d", num))
}

func TempFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.dbtmp", num))
}

func CurrentFileName(dir string) string { return filepath.Join(dir, "CURRENT") }
func LockFileName(dir string) string    { return filepath.Join(dir, "LOCK") }

// ParseFileName classifies a base name. num is zero for unnumbered files.
// Names written by goleveldb (".sst", ".tmp", "LOG") are recognized too.
func ParseFileName(name string) (t FileType, num uint64, ok bool) {
	switch name {
	case "CURRENT", "CURRENT.bak":
		return FileCurrent, 0, true
	case "LOCK":
		return FileLock, 0, true
	case "LOG", "LOG.old":
		return FileInfoLog, 0, true
	}
	if rest, found := strings.CutPrefix(name, "MANIFEST-"); found {
		return parseNumber(FileManifest, rest)
	}
	if rest, found := strings.CutPrefix(name, "OPTIONS-"); found {
		return parseNumber(FileOptions, rest)
	}
	if rest, found := strings.CutPrefix(name, "CURRENT."); found {
		return parseNumber(FileTemp, rest)
	}
	dot := strings.IndexByte(name, '.')
	if dot <= 0 {
		return FileUnknown, 0, false
	}
	switch name[dot+1:] {
	case "log":
		return parseNumber(FileLog, name[:dot])
	case "ldb", "sst":
		return parseNumber(FileTable, name[:dot])
	case "dbtmp", "tmp":
		return parseNumber(FileTemp, name[:dot])
	}
	return FileUnknown, 0, false
}

func parseNumber(t FileType, s string) (FileType, uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return FileUnknown, 0, false
	}
	return t, n, true
}
