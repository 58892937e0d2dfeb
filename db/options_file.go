package db

// options_file.go implements OPTIONS file persistence.
//
// Every Open writes the options in effect to OPTIONS-NNNNNN in the
// database directory as YAML and removes older OPTIONS files:
//
//	version: "1.0"
//	db_options:
//	  create_if_missing: true
//	  comparator: leveldb.BytewiseComparator
//	  write_buffer_size: 4194304
//	  compression: snappy
//	  engine: table
//	  ...
//
// The same db_options mapping is accepted by ParseOptions, which the ldb
// tool uses for its --config file.

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/aalhour/cobblekv/internal/checksum"
	"github.com/aalhour/cobblekv/internal/compression"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/vfs"
)

type optionsFile struct {
	Version   string        `yaml:"version"`
	DBOptions optionsRecord `yaml:"db_options"`
}

type optionsRecord struct {
	CreateIfMissing      bool   `yaml:"create_if_missing"`
	ErrorIfExists        bool   `yaml:"error_if_exists"`
	ParanoidChecks       bool   `yaml:"paranoid_checks"`
	Comparator           string `yaml:"comparator"`
	WriteBufferSize      int    `yaml:"write_buffer_size"`
	MaxOpenFiles         int    `yaml:"max_open_files"`
	BlockCacheSize       uint64 `yaml:"block_cache_size"`
	BlockSize            int    `yaml:"block_size"`
	BlockRestartInterval int    `yaml:"block_restart_interval"`
	MaxFileSize          uint64 `yaml:"max_file_size"`
	Compression          string `yaml:"compression"`
	FilterBitsPerKey     int    `yaml:"filter_bits_per_key"`
	ChecksumType         string `yaml:"checksum_type"`
	Engine               string `yaml:"engine"`
}

func recordFromOptions(o *Options) optionsRecord {
	r := optionsRecord{
		CreateIfMissing:      o.CreateIfMissing,
		ErrorIfExists:        o.ErrorIfExists,
		ParanoidChecks:       o.ParanoidChecks,
		Comparator:           BytewiseComparator.Name(),
		WriteBufferSize:      o.WriteBufferSize,
		MaxOpenFiles:         o.MaxOpenFiles,
		BlockSize:            o.BlockSize,
		BlockRestartInterval: o.BlockRestartInterval,
		MaxFileSize:          o.MaxFileSize,
		Compression:          o.Compression.String(),
		FilterBitsPerKey:     o.FilterBitsPerKey,
		ChecksumType:         o.ChecksumType.String(),
		Engine:               o.Engine,
	}
	if o.Comparator != nil {
		r.Comparator = o.Comparator.Name()
	}
	if o.BlockCache != nil {
		r.BlockCacheSize = o.BlockCache.Capacity()
	}
	return r
}

// ParseOptions decodes a YAML options document. Keys that are absent keep
// their DefaultOptions value. A comparator other than the bytewise one is
// resolved by name among comparators.
func ParseOptions(data []byte, comparators ...Comparator) (*Options, error) {
	f := optionsFile{DBOptions: recordFromOptions(DefaultOptions())}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, invalidArgument("options: %v", err)
	}
	r := f.DBOptions

	o := DefaultOptions()
	o.CreateIfMissing = r.CreateIfMissing
	o.ErrorIfExists = r.ErrorIfExists
	o.ParanoidChecks = r.ParanoidChecks
	o.WriteBufferSize = r.WriteBufferSize
	o.MaxOpenFiles = r.MaxOpenFiles
	o.BlockSize = r.BlockSize
	o.BlockRestartInterval = r.BlockRestartInterval
	o.MaxFileSize = r.MaxFileSize
	o.FilterBitsPerKey = r.FilterBitsPerKey
	o.Engine = r.Engine
	if r.BlockCacheSize > 0 {
		o.BlockCache = NewLRUCache(r.BlockCacheSize)
	}

	var err error
	if o.Compression, err = compression.Parse(r.Compression); err != nil {
		return nil, invalidArgument("options: %v", err)
	}
	if o.ChecksumType, err = checksum.ParseType(r.ChecksumType); err != nil {
		return nil, invalidArgument("options: %v", err)
	}

	switch r.Comparator {
	case "", BytewiseComparator.Name():
	default:
		i := slices.IndexFunc(comparators, func(c Comparator) bool { return c.Name() == r.Comparator })
		if i < 0 {
			return nil, invalidArgument("options: comparator %q is not available", r.Comparator)
		}
		o.Comparator = comparators[i]
	}
	return o, nil
}

// LoadOptionsFile reads an OPTIONS file or a config file with the same
// schema.
func LoadOptionsFile(path string, comparators ...Comparator) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, classify(err)
	}
	return ParseOptions(data, comparators...)
}

// LatestOptionsFile returns the path of the newest OPTIONS file in dir.
func LatestOptionsFile(fs vfs.FS, dir string) (string, error) {
	num, ok, err := latestOptionsNumber(fs, dir)
	if err != nil {
		return "", classify(err)
	}
	if !ok {
		return "", invalidArgument("%s: no OPTIONS file", dir)
	}
	return storage.OptionsFileName(dir, num), nil
}

func latestOptionsNumber(fs vfs.FS, dir string) (num uint64, found bool, err error) {
	names, err := fs.ListDir(dir)
	if err != nil {
		return 0, false, err
	}
	for _, name := range names {
		if t, n, ok := storage.ParseFileName(name); ok && t == storage.FileOptions {
			num = max(num, n)
			found = true
		}
	}
	return num, found, nil
}

// writeOptionsFile persists o as the next OPTIONS file and removes the
// older ones.
func writeOptionsFile(fs vfs.FS, dir string, o *Options) error {
	prev, found, err := latestOptionsNumber(fs, dir)
	if err != nil {
		return err
	}
	num := uint64(1)
	if found {
		num = prev + 1
	}

	data, err := yaml.Marshal(optionsFile{Version: fmt.Sprintf("%d.%d", MajorVersion, MinorVersion), DBOptions: recordFromOptions(o)})
	if err != nil {
		return err
	}
	path := storage.OptionsFileName(dir, num)
	tmp := path + ".dbtmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fs.Rename(tmp, path)
	}
	if err != nil {
		_ = fs.Remove(tmp)
		return err
	}

	if found {
		names, _ := fs.ListDir(dir)
		for _, name := range names {
			if t, n, ok := storage.ParseFileName(name); ok && t == storage.FileOptions && n < num {
				_ = fs.Remove(filepath.Join(dir, name))
			}
		}
	}
	return nil
}
