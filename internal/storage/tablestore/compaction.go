package tablestore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/iterator"
	"github.com/aalhour/cobblekv/internal/logging"
	"github.com/aalhour/cobblekv/internal/manifest"
	"github.com/aalhour/cobblekv/internal/storage"
	"github.com/aalhour/cobblekv/internal/table"
)

// Compact merges every live table into non-overlapping level-1 tables.
// Without force it runs only once compactionTrigger tables exist.
func (s *Store) Compact(oldest dbformat.Version, force bool) error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	cur := s.current
	n := cur.numFiles()
	if n == 0 || (!force && n < compactionTrigger) {
		s.mu.Unlock()
		return nil
	}
	cur.refs++
	s.mu.Unlock()
	defer s.unref(cur)

	start := time.Now()
	children, err := s.tableIterators(cur, table.ReadOptions{VerifyChecksums: s.opts.ParanoidChecks})
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	it := iterator.NewMergingIterator(s.icmp.Compare, children...)
	defer func() { _ = it.Close() }()

	c := &compaction{s: s, oldest: oldest}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := c.add(it.Key(), it.Value()); err != nil {
			c.abandon()
			return fmt.Errorf("compact: %w", err)
		}
	}
	if err := it.Error(); err != nil {
		c.abandon()
		return fmt.Errorf("compact: %w", err)
	}
	if err := c.finish(); err != nil {
		c.abandon()
		return fmt.Errorf("compact: %w", err)
	}

	edit := &manifest.VersionEdit{}
	var read, written uint64
	for level, files := range cur.levels {
		for _, f := range files {
			edit.DeleteFile(level, f.Number)
			read += f.Size
		}
	}
	for _, out := range c.outputs {
		edit.AddFile(1, out)
		written += out.Size
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range c.outputs {
		delete(s.pending, out.Number)
	}
	if err := s.logAndApply(edit); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	st := &s.stats[1]
	st.duration += time.Since(start)
	st.read += read
	st.written += written
	s.log.Infof(logging.NSCompact+"%d tables (%d bytes) -> %d tables (%d bytes), dropped %d entries, oldest version %d",
		n, read, len(c.outputs), written, c.dropped, oldest)
	s.removeObsoleteFiles()
	return nil
}

// compaction writes the surviving entries of a merged input, splitting the
// output at MaxFileSize on user key boundaries.
type compaction struct {
	s      *Store
	oldest dbformat.Version

	out     *tableOutput
	outputs []manifest.FileMeta
	numbers []uint64 // every file number taken, finished or not
	dropped uint64

	userKey     []byte
	hasUserKey  bool
	lastVersion dbformat.Version // of the previous entry for userKey
	seenForKey  bool
}

func (c *compaction) add(ikey, value []byte) error {
	p, err := dbformat.ParseInternalKey(ikey)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorruption, err)
	}
	if !c.hasUserKey || c.s.icmp.User.Compare(p.UserKey, c.userKey) != 0 {
		if c.out != nil && c.out.b.EstimatedSize() >= c.s.opts.MaxFileSize {
			if err := c.finishOutput(); err != nil {
				return err
			}
		}
		c.userKey = append(c.userKey[:0], p.UserKey...)
		c.hasUserKey = true
		c.seenForKey = false
	}

	var drop bool
	switch {
	case c.seenForKey && c.lastVersion <= c.oldest:
		// Shadowed by a newer entry that every live reader sees.
		drop = true
	case c.seenForKey && c.lastVersion == p.Version:
		// The same entry from two inputs, e.g. after a repair.
		drop = true
	case p.Kind == dbformat.KindDeletion && p.Version <= c.oldest:
		// Every input takes part, so nothing older can resurface.
		drop = true
	}
	c.lastVersion = p.Version
	c.seenForKey = true
	if drop {
		c.dropped++
		return nil
	}

	if c.out == nil {
		c.s.mu.Lock()
		num := c.s.newFileNumber()
		c.s.pending[num] = struct{}{}
		c.s.mu.Unlock()
		c.numbers = append(c.numbers, num)
		out, err := c.s.newOutput(num)
		if err != nil {
			return err
		}
		c.out = out
	}
	return c.out.add(ikey, value)
}

func (c *compaction) finishOutput() error {
	out := c.out
	c.out = nil
	meta, err := out.finish()
	if err != nil {
		return err
	}
	c.outputs = append(c.outputs, meta)
	return c.s.verifyTable(meta.Number)
}

func (c *compaction) finish() error {
	if c.out == nil {
		return nil
	}
	return c.finishOutput()
}

// abandon drops the outputs; the next sweep deletes their files.
func (c *compaction) abandon() {
	if c.out != nil {
		c.out.abandon()
		c.out = nil
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, num := range c.numbers {
		delete(c.s.pending, num)
	}
	c.outputs = nil
}

// -----------------------------------------------------------------------------
// Properties
// -----------------------------------------------------------------------------

// PropertyFilterUseful counts the table reads that a Bloom filter avoided.
const PropertyFilterUseful = "cobblekv.filter-useful"

// REQUIRES: s.mu held.
func (s *Store) property(name string) (string, bool) {
	if name == PropertyFilterUseful {
		return strconv.FormatUint(s.filterUseful.Load(), 10), true
	}
	p, ok := strings.CutPrefix(name, "leveldb.")
	if !ok {
		return "", false
	}
	const numFilesPrefix = "num-files-at-level"
	switch {
	case strings.HasPrefix(p, numFilesPrefix):
		level, err := strconv.Atoi(p[len(numFilesPrefix):])
		if err != nil || level < 0 || level >= manifest.NumLevels {
			return "", false
		}
		return strconv.Itoa(len(s.current.levels[level])), true

	case p == "stats":
		var sb strings.Builder
		sb.WriteString("                               Compactions\n")
		sb.WriteString("Level  Files Size(MB) Time(sec) Read(MB) Write(MB)\n")
		sb.WriteString("--------------------------------------------------\n")
		for level, files := range s.current.levels {
			st := s.stats[level]
			if len(files) == 0 && st.duration == 0 {
				continue
			}
			fmt.Fprintf(&sb, "%3d %8d %8.0f %9.0f %8.0f %9.0f\n",
				level, len(files),
				float64(s.current.levelSize(level))/1048576.0,
				st.duration.Seconds(),
				float64(st.read)/1048576.0,
				float64(st.written)/1048576.0)
		}
		return sb.String(), true

	case p == "sstables":
		var sb strings.Builder
		for level, files := range s.current.levels {
			fmt.Fprintf(&sb, "--- level %d ---\n", level)
			for _, f := range files {
				fmt.Fprintf(&sb, " %d:%d[%s .. %s]\n", f.Number, f.Size, debugKey(f.Smallest), debugKey(f.Largest))
			}
		}
		return sb.String(), true
	}
	return "", false
}

func debugKey(ikey []byte) string {
	p, err := dbformat.ParseInternalKey(ikey)
	if err != nil {
		return fmt.Sprintf("(bad)%x", ikey)
	}
	return p.String()
}
