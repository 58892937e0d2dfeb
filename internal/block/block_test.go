package block

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func buildBlock(t *testing.T, interval int, keys ...string) *Block {
	t.Helper()
	b := NewBuilder(interval)
	for _, k := range keys {
		b.Add([]byte(k), []byte("v-"+k))
	}
	blk, err := New(append([]byte(nil), b.Finish()...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return blk
}

func keysOf(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("key%04d", i*2)
	}
	return out
}

// =============================================================================
// Iteration
// =============================================================================

func TestBlockIterateBothDirections(t *testing.T) {
	for _, interval := range []int{1, 2, 16} {
		t.Run(fmt.Sprintf("interval=%d", interval), func(t *testing.T) {
			keys := keysOf(37)
			it := buildBlock(t, interval, keys...).NewIterator(bytes.Compare)

			i := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				if string(it.Key()) != keys[i] || string(it.Value()) != "v-"+keys[i] {
					t.Fatalf("entry %d = %q/%q", i, it.Key(), it.Value())
				}
				i++
			}
			if i != len(keys) {
				t.Fatalf("forward visited %d, want %d", i, len(keys))
			}

			i = len(keys) - 1
			for it.SeekToLast(); it.Valid(); it.Prev() {
				if string(it.Key()) != keys[i] {
					t.Fatalf("reverse entry %d = %q", i, it.Key())
				}
				i--
			}
			if i != -1 {
				t.Fatalf("reverse stopped at %d", i)
			}
		})
	}
}

func TestBlockSeek(t *testing.T) {
	keys := keysOf(50) // key0000, key0002, ...
	it := buildBlock(t, 4, keys...).NewIterator(bytes.Compare)

	tests := []struct {
		target string
		want   string
	}{
		{"", "key0000"},
		{"key0000", "key0000"},
		{"key0001", "key0002"},
		{"key0050", "key0050"},
		{"key0051", "key0052"},
		{"key0098", "key0098"},
	}
	for _, tt := range tests {
		it.Seek([]byte(tt.target))
		if !it.Valid() || string(it.Key()) != tt.want {
			t.Errorf("Seek(%q) = %q valid=%v, want %q", tt.target, it.Key(), it.Valid(), tt.want)
		}
	}
	it.Seek([]byte("key0099"))
	if it.Valid() {
		t.Errorf("Seek past end positioned at %q", it.Key())
	}
}

func TestBlockEmpty(t *testing.T) {
	it := buildBlock(t, 16).NewIterator(bytes.Compare)
	it.SeekToFirst()
	if it.Valid() {
		t.Fatal("empty block has entries")
	}
	it.SeekToLast()
	if it.Valid() {
		t.Fatal("empty block has a last entry")
	}
}

// =============================================================================
// Corruption
// =============================================================================

func TestBlockRejectsBadRestartCount(t *testing.T) {
	if _, err := New([]byte{1, 2}); !errors.Is(err, ErrBadBlock) {
		t.Fatalf("short block err = %v", err)
	}
	if _, err := New([]byte{0, 0, 0, 0}); !errors.Is(err, ErrBadBlock) {
		t.Fatalf("zero restarts err = %v", err)
	}
	if _, err := New([]byte{0xff, 0, 0, 0}); !errors.Is(err, ErrBadBlock) {
		t.Fatalf("oversized restarts err = %v", err)
	}
}

func TestBlockCorruptEntryIsSticky(t *testing.T) {
	b := NewBuilder(16)
	b.Add([]byte("a"), []byte("1"))
	b.Add([]byte("b"), []byte("2"))
	data := append([]byte(nil), b.Finish()...)
	data[1] = 0x7f // unshared length far beyond the block

	blk, err := New(data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	it := blk.NewIterator(bytes.Compare)
	it.SeekToFirst()
	if it.Valid() || !errors.Is(it.Error(), ErrBadBlock) {
		t.Fatalf("Valid=%v Error=%v", it.Valid(), it.Error())
	}
	it.SeekToLast()
	if it.Valid() {
		t.Fatal("iterator recovered from corruption")
	}
}

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{Offset: 1 << 40, Size: 4096}
	enc := h.AppendTo(nil)
	got, n, err := DecodeHandle(enc)
	if err != nil || got != h || n != len(enc) {
		t.Fatalf("DecodeHandle = %+v, %d, %v", got, n, err)
	}
	if _, _, err := DecodeHandle(enc[:1]); !errors.Is(err, ErrBadHandle) {
		t.Fatalf("truncated handle err = %v", err)
	}
}
