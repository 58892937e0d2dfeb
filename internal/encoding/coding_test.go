package encoding

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// -----------------------------------------------------------------------------
// Fixed width
// -----------------------------------------------------------------------------

func TestFixed32LittleEndian(t *testing.T) {
	got := AppendFixed32(nil, 0x12345678)
	want := []byte{0x78, 0x56, 0x34, 0x12}
	if !bytes.Equal(got, want) {
		t.Fatalf("AppendFixed32 = %x, want %x", got, want)
	}
	if v := DecodeFixed32(got); v != 0x12345678 {
		t.Fatalf("DecodeFixed32 = %#x", v)
	}
}

func TestFixed64LittleEndian(t *testing.T) {
	got := AppendFixed64(nil, 0x0102030405060708)
	want := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	if !bytes.Equal(got, want) {
		t.Fatalf("AppendFixed64 = %x, want %x", got, want)
	}
}

// -----------------------------------------------------------------------------
// Varints
// -----------------------------------------------------------------------------

func TestVarint64Values(t *testing.T) {
	tests := []struct {
		value uint64
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint32, 5},
		{math.MaxUint64, 10},
	}
	for _, tt := range tests {
		buf := AppendVarint64(nil, tt.value)
		if len(buf) != tt.size || VarintLength(tt.value) != tt.size {
			t.Errorf("value %d: encoded %d bytes, VarintLength %d, want %d",
				tt.value, len(buf), VarintLength(tt.value), tt.size)
		}
		got, n, err := DecodeVarint64(buf)
		if err != nil || got != tt.value || n != tt.size {
			t.Errorf("DecodeVarint64(%x) = %d, %d, %v", buf, got, n, err)
		}
	}
}

func TestDecodeVarint32Truncated(t *testing.T) {
	buf := AppendVarint32(nil, 1<<20)
	_, _, err := DecodeVarint32(buf[:len(buf)-1])
	if !errors.Is(err, ErrVarintTermination) {
		t.Fatalf("err = %v, want ErrVarintTermination", err)
	}
}

func TestDecodeVarint32Overflow(t *testing.T) {
	_, _, err := DecodeVarint32([]byte{0xff, 0xff, 0xff, 0xff, 0x7f})
	if !errors.Is(err, ErrVarintOverflow) {
		t.Fatalf("err = %v, want ErrVarintOverflow", err)
	}
}

// -----------------------------------------------------------------------------
// Length-prefixed slices and Reader
// -----------------------------------------------------------------------------

func TestLengthPrefixedSlice(t *testing.T) {
	buf := AppendLengthPrefixedSlice(nil, []byte("hello"))
	buf = AppendLengthPrefixedSlice(buf, nil)

	r := NewReader(buf)
	first, ok := r.LengthPrefixed()
	if !ok || string(first) != "hello" {
		t.Fatalf("first = %q, %v", first, ok)
	}
	second, ok := r.LengthPrefixed()
	if !ok || len(second) != 0 {
		t.Fatalf("second = %q, %v", second, ok)
	}
	if _, ok := r.LengthPrefixed(); ok {
		t.Fatal("read past end")
	}
}

func TestDecodeLengthPrefixedSliceShort(t *testing.T) {
	buf := AppendLengthPrefixedSlice(nil, []byte("hello"))
	if _, _, err := DecodeLengthPrefixedSlice(buf[:3]); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestReaderLeavesPositionOnFailure(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	if _, ok := r.Fixed32(); ok {
		t.Fatal("Fixed32 succeeded on 3 bytes")
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d after failed read", r.Len())
	}
	b, ok := r.Byte()
	if !ok || b != 1 {
		t.Fatalf("Byte = %d, %v", b, ok)
	}
}
