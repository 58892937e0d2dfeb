package wal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, data []byte, verify bool) ([]string, []error) {
	t.Helper()
	var reported []error
	r := NewReader(bytes.NewReader(data), func(_ int, err error) { reported = append(reported, err) }, verify)
	var out []string
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return out, reported
		}
		if err != nil {
			t.Fatalf("ReadRecord: %v", err)
		}
		out = append(out, string(rec))
	}
}

func writeAll(t *testing.T, records ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range records {
		if err := w.AddRecord([]byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// =============================================================================
// Round trip
// =============================================================================

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records []string
	}{
		{"empty log", nil},
		{"empty record", []string{""}},
		{"small", []string{"foo", "bar", "", "baz"}},
		{"exact block", []string{strings.Repeat("x", BlockSize-HeaderSize)}},
		{"spans blocks", []string{"a", strings.Repeat("y", 3*BlockSize), "b"}},
		{"trailer padding", []string{strings.Repeat("z", BlockSize-HeaderSize-3), "after"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reported := readAll(t, writeAll(t, tt.records...), true)
			if len(reported) != 0 {
				t.Fatalf("reported corruption: %v", reported)
			}
			if len(got) != len(tt.records) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.records))
			}
			for i := range got {
				if got[i] != tt.records[i] {
					t.Fatalf("record %d: len %d, want %d", i, len(got[i]), len(tt.records[i]))
				}
			}
		})
	}
}

// =============================================================================
// Damage
// =============================================================================

func TestTornTailIsSilentlyDropped(t *testing.T) {
	data := writeAll(t, "first", strings.Repeat("s", 100))
	for cut := len(data) - 1; cut > len(data)-100; cut -= 17 {
		got, reported := readAll(t, data[:cut], true)
		if len(got) != 1 || got[0] != "first" || len(reported) != 0 {
			t.Fatalf("cut %d: got %q, reported %v", cut, got, reported)
		}
	}
}

func TestTornMultiBlockRecordIsDropped(t *testing.T) {
	data := writeAll(t, "first", strings.Repeat("m", 2*BlockSize))
	got, reported := readAll(t, data[:BlockSize+100], true)
	if len(got) != 1 || len(reported) != 0 {
		t.Fatalf("got %d records, reported %v", len(got), reported)
	}
}

func TestChecksumMismatchIsReportedAndSkipped(t *testing.T) {
	data := writeAll(t, "good", "bad!")
	second := HeaderSize + len("good")
	data[second+HeaderSize] ^= 0x01

	got, reported := readAll(t, data, true)
	if len(got) != 1 || got[0] != "good" {
		t.Fatalf("got %q", got)
	}
	if len(reported) != 1 || !errors.Is(reported[0], ErrCorrupted) {
		t.Fatalf("reported %v", reported)
	}

	got, reported = readAll(t, data, false)
	if len(got) != 2 || len(reported) != 0 {
		t.Fatalf("unverified: got %q reported %v", got, reported)
	}
}

func TestCorruptBlockDoesNotHideLaterBlocks(t *testing.T) {
	big := strings.Repeat("p", BlockSize-HeaderSize)
	data := writeAll(t, big, "next")
	data[HeaderSize+10] ^= 0xff

	got, reported := readAll(t, data, true)
	if len(got) != 1 || got[0] != "next" {
		t.Fatalf("got %d records", len(got))
	}
	if len(reported) == 0 {
		t.Fatal("corruption not reported")
	}
}

type syncBuffer struct {
	bytes.Buffer
	syncs int
}

func (s *syncBuffer) Sync() error {
	s.syncs++
	return nil
}

func TestWriterSync(t *testing.T) {
	var dest syncBuffer
	w := NewWriter(&dest)
	if err := w.AddRecord([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil || dest.syncs != 1 {
		t.Fatalf("Sync err=%v syncs=%d", err, dest.syncs)
	}
}
