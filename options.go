package cobblekv

// options.go implements the option handles.
//
// Reference: LevelDB include/leveldb/c.h

import "github.com/aalhour/cobblekv/db"

// Compression selects the block codec.
type Compression = db.CompressionType

// Block codecs. LZ4 and Zstd are only available with the table engine.
const (
	NoCompression     = db.NoCompression
	SnappyCompression = db.SnappyCompression
	LZ4Compression    = db.LZ4Compression
	ZstdCompression   = db.ZstdCompression
)

// Checksum selects the block checksum of table files.
type Checksum = db.ChecksumType

// Block checksums.
const (
	ChecksumCRC32C = db.ChecksumCRC32C
	ChecksumXXH3   = db.ChecksumXXH3
)

// Storage engines.
const (
	EngineTable   = db.EngineTable
	EngineLevelDB = db.EngineLevelDB
)

// Logger receives the info log of a database.
type Logger = db.Logger

// Options configures Open, DestroyDB and RepairDB.
type Options struct {
	opts       db.Options
	comparator *Comparator
	cache      *Cache
	env        *Env
}

// NewOptions returns options with the default values. CreateIfMissing is
// off.
func NewOptions() *Options {
	return &Options{opts: *db.DefaultOptions()}
}

// Destroy releases the options. Databases opened with them are not
// affected.
func (o *Options) Destroy() {}

func (o *Options) SetComparator(c *Comparator)   { o.comparator = c }
func (o *Options) SetCreateIfMissing(v bool)     { o.opts.CreateIfMissing = v }
func (o *Options) SetErrorIfExists(v bool)       { o.opts.ErrorIfExists = v }
func (o *Options) SetParanoidChecks(v bool)      { o.opts.ParanoidChecks = v }
func (o *Options) SetEnv(e *Env)                 { o.env = e }
func (o *Options) SetInfoLog(l Logger)           { o.opts.InfoLog = l }
func (o *Options) SetWriteBufferSize(n int)      { o.opts.WriteBufferSize = n }
func (o *Options) SetMaxOpenFiles(n int)         { o.opts.MaxOpenFiles = n }
func (o *Options) SetCache(c *Cache)             { o.cache = c }
func (o *Options) SetBlockSize(n int)            { o.opts.BlockSize = n }
func (o *Options) SetBlockRestartInterval(n int) { o.opts.BlockRestartInterval = n }
func (o *Options) SetMaxFileSize(n uint64)       { o.opts.MaxFileSize = n }
func (o *Options) SetCompression(c Compression)  { o.opts.Compression = c }
func (o *Options) SetChecksumType(c Checksum)    { o.opts.ChecksumType = c }
func (o *Options) SetEngine(name string)         { o.opts.Engine = name }

// SetFilterPolicy adds the Bloom filter of p to every table file written.
// Nil writes no filters.
func (o *Options) SetFilterPolicy(p *FilterPolicy) {
	o.opts.FilterBitsPerKey = 0
	if p != nil {
		o.opts.FilterBitsPerKey = p.bitsPerKey
	}
}

// FilterPolicy is a Bloom filter configuration that lets reads skip table
// files without the key.
type FilterPolicy struct {
	bitsPerKey int
}

// NewBloomFilterPolicy returns a policy sized at bitsPerKey bits per key.
// Ten bits give about one percent false positives.
func NewBloomFilterPolicy(bitsPerKey int) *FilterPolicy {
	return &FilterPolicy{bitsPerKey: bitsPerKey}
}

// Destroy releases the policy. Options it was set on keep their copy.
func (p *FilterPolicy) Destroy() {}

// LoadOptions reads options from a YAML file in the OPTIONS file format.
// comparators lists the comparators the file may name.
func LoadOptions(path string, errptr *string, comparators ...*Comparator) *Options {
	cmps := make([]db.Comparator, len(comparators))
	byName := make(map[string]*Comparator, len(comparators))
	for i, c := range comparators {
		cmps[i] = c
		byName[c.Name()] = c
	}
	loaded, err := db.LoadOptionsFile(path, cmps...)
	if saveError(errptr, err) {
		return nil
	}
	o := &Options{opts: *loaded}
	if loaded.Comparator != nil {
		o.comparator = byName[loaded.Comparator.Name()]
		o.opts.Comparator = nil
	}
	if loaded.BlockCache != nil {
		o.cache = &Cache{c: loaded.BlockCache}
		o.cache.refs.init(loaded.BlockCache.Purge)
		o.opts.BlockCache = nil
	}
	return o
}

// build resolves the handles into db.Options.
func (o *Options) build() *db.Options {
	if o == nil {
		return db.DefaultOptions()
	}
	opts := o.opts
	if o.comparator != nil {
		opts.Comparator = o.comparator
	}
	if o.cache != nil {
		opts.BlockCache = o.cache.c
	}
	if o.env != nil {
		opts.Env = o.env.env
	}
	return &opts
}

// ReadOptions configures Get and CreateIterator.
type ReadOptions struct {
	verifyChecksums bool
	fillCache       bool
	snapshot        *Snapshot
}

// NewReadOptions returns read options with FillCache on.
func NewReadOptions() *ReadOptions { return &ReadOptions{fillCache: true} }

// Destroy releases the options.
func (o *ReadOptions) Destroy() {}

func (o *ReadOptions) SetVerifyChecksums(v bool) { o.verifyChecksums = v }
func (o *ReadOptions) SetFillCache(v bool)       { o.fillCache = v }

// SetSnapshot makes reads see the state captured by s. Nil reads the
// current state.
func (o *ReadOptions) SetSnapshot(s *Snapshot) { o.snapshot = s }

// WriteOptions configures Put, Delete and Write.
type WriteOptions struct {
	sync bool
}

// NewWriteOptions returns write options with Sync off.
func NewWriteOptions() *WriteOptions { return &WriteOptions{} }

// Destroy releases the options.
func (o *WriteOptions) Destroy() {}

// SetSync makes writes wait for stable storage.
func (o *WriteOptions) SetSync(v bool) { o.sync = v }

func (o *WriteOptions) build() *db.WriteOptions {
	if o == nil {
		return db.DefaultWriteOptions()
	}
	return &db.WriteOptions{Sync: o.sync}
}
