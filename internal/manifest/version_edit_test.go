package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aalhour/cobblekv/internal/dbformat"
	"github.com/aalhour/cobblekv/internal/encoding"
)

func TestVersionEditRoundTrip(t *testing.T) {
	var ve VersionEdit
	ve.SetComparatorName("leveldb.BytewiseComparator")
	ve.SetLogNumber(12)
	ve.SetNextFileNumber(40)
	ve.SetLastVersion(dbformat.MaxVersion)
	ve.DeleteFile(0, 7)
	ve.DeleteFile(1, 9)
	ve.AddFile(1, FileMeta{
		Number:   33,
		Size:     4096,
		Smallest: dbformat.MakeInternalKey([]byte("a"), 5, dbformat.KindValue),
		Largest:  dbformat.MakeInternalKey([]byte("z"), 1, dbformat.KindDeletion),
	})

	var got VersionEdit
	if err := got.DecodeFrom(ve.EncodeTo(nil)); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if got.Comparator != ve.Comparator || got.LogNumber != 12 || got.NextFileNumber != 40 ||
		got.LastVersion != dbformat.MaxVersion || !got.HasLastVersion {
		t.Fatalf("scalars = %+v", got)
	}
	if len(got.DeletedFiles) != 2 || got.DeletedFiles[1] != (DeletedFile{Level: 1, Number: 9}) {
		t.Fatalf("DeletedFiles = %+v", got.DeletedFiles)
	}
	if len(got.NewFiles) != 1 {
		t.Fatalf("NewFiles = %+v", got.NewFiles)
	}
	nf := got.NewFiles[0]
	if nf.Level != 1 || nf.Meta.Number != 33 || nf.Meta.Size != 4096 ||
		!bytes.Equal(nf.Meta.Smallest, ve.NewFiles[0].Meta.Smallest) ||
		!bytes.Equal(nf.Meta.Largest, ve.NewFiles[0].Meta.Largest) {
		t.Fatalf("NewFile = %+v", nf)
	}
}

func TestVersionEditEmpty(t *testing.T) {
	var ve VersionEdit
	if enc := ve.EncodeTo(nil); len(enc) != 0 {
		t.Fatalf("empty edit encodes to %d bytes", len(enc))
	}
	if err := ve.DecodeFrom(nil); err != nil {
		t.Fatal(err)
	}
}

func TestVersionEditTruncated(t *testing.T) {
	var ve VersionEdit
	ve.SetComparatorName("cmp")
	ve.AddFile(0, FileMeta{Number: 1, Size: 2, Smallest: []byte("aaaaaaaaa"), Largest: []byte("bbbbbbbbb")})
	enc := ve.EncodeTo(nil)
	for cut := 1; cut < len(enc); cut++ {
		var got VersionEdit
		err := got.DecodeFrom(enc[:cut])
		if err == nil {
			// Some prefixes end on a field boundary.
			continue
		}
		if !errors.Is(err, ErrCorrupted) {
			t.Fatalf("cut %d: err = %v", cut, err)
		}
	}
}

func TestVersionEditUnknownTags(t *testing.T) {
	ignorable := encoding.AppendVarint32(nil, uint32(TagSafeIgnoreMask|42))
	ignorable = encoding.AppendLengthPrefixedSlice(ignorable, []byte("future"))
	ignorable = encoding.AppendVarint32(ignorable, uint32(TagLogNumber))
	ignorable = encoding.AppendVarint64(ignorable, 3)

	var ve VersionEdit
	if err := ve.DecodeFrom(ignorable); err != nil || ve.LogNumber != 3 {
		t.Fatalf("ignorable tag: %v, log %d", err, ve.LogNumber)
	}

	required := encoding.AppendVarint32(nil, 99)
	if err := ve.DecodeFrom(required); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("required unknown tag err = %v", err)
	}
}

func TestVersionEditRejectsBadLevel(t *testing.T) {
	var ve VersionEdit
	ve.DeleteFile(NumLevels, 1)
	var got VersionEdit
	if err := got.DecodeFrom(ve.EncodeTo(nil)); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v", err)
	}
}
