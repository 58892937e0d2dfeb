package checksum

import "testing"

func TestCRC32CKnownValues(t *testing.T) {
	// Test vectors from the CRC32C (Castagnoli) reference.
	zeros := make([]byte, 32)
	if got := Value(zeros); got != 0x8a9136aa {
		t.Fatalf("Value(zeros) = %#x", got)
	}
	ones := make([]byte, 32)
	for i := range ones {
		ones[i] = 0xff
	}
	if got := Value(ones); got != 0x62a8ab43 {
		t.Fatalf("Value(ones) = %#x", got)
	}
}

func TestExtendMatchesWholeValue(t *testing.T) {
	data := []byte("hello world")
	if Extend(Value(data[:5]), data[5:]) != Value(data) {
		t.Fatal("Extend(A, B) != Value(A||B)")
	}
}

func TestMaskRoundTrip(t *testing.T) {
	crc := Value([]byte("foo"))
	if Mask(crc) == crc {
		t.Fatal("Mask is identity")
	}
	if Mask(Mask(crc)) == crc {
		t.Fatal("double mask is identity")
	}
	if Unmask(Mask(crc)) != crc {
		t.Fatal("Unmask(Mask(crc)) != crc")
	}
}

func TestBlockChecksumDependsOnLastByte(t *testing.T) {
	data := []byte("block contents")
	for _, typ := range []Type{TypeCRC32C, TypeXXH3} {
		t.Run(typ.String(), func(t *testing.T) {
			a := Block(typ, data, 0)
			b := Block(typ, data, 1)
			if a == b {
				t.Fatal("checksum ignores trailing byte")
			}
			if a != Block(typ, data, 0) {
				t.Fatal("checksum not deterministic")
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{TypeCRC32C, TypeXXH3} {
		got, err := ParseType(typ.String())
		if err != nil || got != typ {
			t.Fatalf("ParseType(%q) = %v, %v", typ, got, err)
		}
	}
	if _, err := ParseType("md5"); err == nil {
		t.Fatal("ParseType(md5) succeeded")
	}
}
