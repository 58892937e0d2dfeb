package tablestore

import (
	"fmt"
	"slices"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/manifest"
)

// tableVersion is an immutable set of table files. Level 0 is ordered by
// file number, newest first; level 1 by smallest key and never overlaps.
// Readers hold a reference so the files stay on disk while in use.
type tableVersion struct {
	levels [manifest.NumLevels][]*manifest.FileMeta
	refs   int // guarded by Store.mu
}

func (v *tableVersion) numFiles() int {
	n := 0
	for _, files := range v.levels {
		n += len(files)
	}
	return n
}

func (v *tableVersion) levelSize(level int) uint64 {
	var size uint64
	for _, f := range v.levels[level] {
		size += f.Size
	}
	return size
}

// apply returns a new version with edit's deletions and additions applied.
func (v *tableVersion) apply(edit *manifest.VersionEdit, icmp *dbformat.InternalKeyComparator) (*tableVersion, error) {
	deleted := make(map[manifest.DeletedFile]bool, len(edit.DeletedFiles))
	for _, d := range edit.DeletedFiles {
		deleted[d] = true
	}

	next := &tableVersion{}
	for level, files := range v.levels {
		for _, f := range files {
			if !deleted[manifest.DeletedFile{Level: level, Number: f.Number}] {
				next.levels[level] = append(next.levels[level], f)
			}
		}
	}
	for _, nf := range edit.NewFiles {
		meta := nf.Meta
		next.levels[nf.Level] = append(next.levels[nf.Level], &meta)
	}

	slices.SortFunc(next.levels[0], func(a, b *manifest.FileMeta) int {
		switch {
		case a.Number > b.Number:
			return -1
		case a.Number < b.Number:
			return 1
		}
		return 0
	})
	l1 := next.levels[1]
	slices.SortFunc(l1, func(a, b *manifest.FileMeta) int { return icmp.Compare(a.Smallest, b.Smallest) })
	for i := 1; i < len(l1); i++ {
		if icmp.Compare(l1[i-1].Largest, l1[i].Smallest) >= 0 {
			return nil, fmt.Errorf("%w: overlapping level-1 tables %d and %d",
				manifest.ErrCorrupted, l1[i-1].Number, l1[i].Number)
		}
	}
	return next, nil
}

// findFile returns the index of the first level-1 file whose largest key is
// >= ikey, or len(files) if there is none.
func findFile(icmp *dbformat.InternalKeyComparator, files []*manifest.FileMeta, ikey []byte) int {
	i, _ := slices.BinarySearchFunc(files, ikey, func(f *manifest.FileMeta, k []byte) int {
		return icmp.Compare(f.Largest, k)
	})
	return i
}

// overlaps reports whether f may contain userKey.
func overlaps(ucmp dbformat.Comparator, f *manifest.FileMeta, userKey []byte) bool {
	return ucmp.Compare(userKey, dbformat.ExtractUserKey(f.Smallest)) >= 0 &&
		ucmp.Compare(userKey, dbformat.ExtractUserKey(f.Largest)) <= 0
}
