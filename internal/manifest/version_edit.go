package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/encoding"
)

var (
	// ErrCorrupted is returned for edits that cannot be decoded.
	ErrCorrupted = errors.New("manifest: corrupted version edit")

	// ErrUnknownTag is returned for tags that are neither known nor
	// marked safe to ignore.
	ErrUnknownTag = fmt.Errorf("%w: unknown tag", ErrCorrupted)
)

// NumLevels is the number of table levels. Flushes add to level 0, where
// tables may overlap; compactions write level 1, where they do not.
const NumLevels = 2

// FileMeta describes one table file.
type FileMeta struct {
	Number   uint64
	Size     uint64
	Smallest []byte // internal key
	Largest  []byte // internal key
}

// NewFile is an added table.
type NewFile struct {
	Level int
	Meta  FileMeta
}

// DeletedFile is a removed table.
type DeletedFile struct {
	Level  int
	Number uint64
}

// VersionEdit is one change to the persisted state of a store.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	LogNumber    uint64
	HasLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastVersion    dbformat.Version
	HasLastVersion bool

	DeletedFiles []DeletedFile
	NewFiles     []NewFile
}

func (ve *VersionEdit) SetComparatorName(name string) {
	ve.Comparator, ve.HasComparator = name, true
}

func (ve *VersionEdit) SetLogNumber(n uint64) {
	ve.LogNumber, ve.HasLogNumber = n, true
}

func (ve *VersionEdit) SetNextFileNumber(n uint64) {
	ve.NextFileNumber, ve.HasNextFileNumber = n, true
}

func (ve *VersionEdit) SetLastVersion(v dbformat.Version) {
	ve.LastVersion, ve.HasLastVersion = v, true
}

// AddFile records a new table at level.
func (ve *VersionEdit) AddFile(level int, meta FileMeta) {
	ve.NewFiles = append(ve.NewFiles, NewFile{Level: level, Meta: meta})
}

// DeleteFile records the removal of table number from level.
func (ve *VersionEdit) DeleteFile(level int, number uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, DeletedFile{Level: level, Number: number})
}

// EncodeTo appends the encoded edit to dst.
func (ve *VersionEdit) EncodeTo(dst []byte) []byte {
	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasLastVersion {
		dst = encoding.AppendVarint32(dst, uint32(TagLastVersion))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastVersion))
	}
	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.Number)
	}
	for _, nf := range ve.NewFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagNewFile))
		dst = encoding.AppendVarint32(dst, uint32(nf.Level))
		dst = encoding.AppendVarint64(dst, nf.Meta.Number)
		dst = encoding.AppendVarint64(dst, nf.Meta.Size)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Largest)
	}
	return dst
}

// DecodeFrom replaces ve with the edit encoded in data.
func (ve *VersionEdit) DecodeFrom(data []byte) error {
	*ve = VersionEdit{}
	r := encoding.NewReader(data)
	for r.Len() > 0 {
		tag, ok := r.Varint32()
		if !ok {
			return fmt.Errorf("%w: bad tag", ErrCorrupted)
		}
		if err := ve.decodeField(Tag(tag), r); err != nil {
			return err
		}
	}
	return nil
}

func (ve *VersionEdit) decodeField(tag Tag, r *encoding.Reader) error {
	field := func(name string) error { return fmt.Errorf("%w: %s", ErrCorrupted, name) }
	switch tag {
	case TagComparator:
		name, ok := r.LengthPrefixed()
		if !ok {
			return field("comparator name")
		}
		ve.SetComparatorName(string(name))
	case TagLogNumber:
		n, ok := r.Varint64()
		if !ok {
			return field("log number")
		}
		ve.SetLogNumber(n)
	case TagNextFileNumber:
		n, ok := r.Varint64()
		if !ok {
			return field("next file number")
		}
		ve.SetNextFileNumber(n)
	case TagLastVersion:
		n, ok := r.Varint64()
		if !ok || n > uint64(dbformat.MaxVersion) {
			return field("last version")
		}
		ve.SetLastVersion(dbformat.Version(n))
	case TagDeletedFile:
		level, ok1 := r.Varint32()
		num, ok2 := r.Varint64()
		if !ok1 || !ok2 || level >= NumLevels {
			return field("deleted file")
		}
		ve.DeleteFile(int(level), num)
	case TagNewFile:
		level, ok1 := r.Varint32()
		num, ok2 := r.Varint64()
		size, ok3 := r.Varint64()
		smallest, ok4 := r.LengthPrefixed()
		largest, ok5 := r.LengthPrefixed()
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || level >= NumLevels {
			return field("new file")
		}
		ve.AddFile(int(level), FileMeta{
			Number:   num,
			Size:     size,
			Smallest: append([]byte(nil), smallest...),
			Largest:  append([]byte(nil), largest...),
		})
	default:
		if !tag.IsSafeToIgnore() {
			return fmt.Errorf("%w %d", ErrUnknownTag, tag)
		}
		if _, ok := r.LengthPrefixed(); !ok {
			return field("ignorable field")
		}
	}
	return nil
}

// String renders the edit for debugging.
func (ve *VersionEdit) String() string {
	var sb strings.Builder
	sb.WriteString("VersionEdit {")
	if ve.HasComparator {
		fmt.Fprintf(&sb, "\n  Comparator: %s", ve.Comparator)
	}
	if ve.HasLogNumber {
		fmt.Fprintf(&sb, "\n  LogNumber: %d", ve.LogNumber)
	}
	if ve.HasNextFileNumber {
		fmt.Fprintf(&sb, "\n  NextFile: %d", ve.NextFileNumber)
	}
	if ve.HasLastVersion {
		fmt.Fprintf(&sb, "\n  LastVersion: %d", ve.LastVersion)
	}
	for _, df := range ve.DeletedFiles {
		fmt.Fprintf(&sb, "\n  DeleteFile: %d %d", df.Level, df.Number)
	}
	for _, nf := range ve.NewFiles {
		fmt.Fprintf(&sb, "\n  AddFile: %d %d %d", nf.Level, nf.Meta.Number, nf.Meta.Size)
	}
	sb.WriteString("\n}")
	return sb.String()
}
