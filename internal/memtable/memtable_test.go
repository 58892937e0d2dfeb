package memtable

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/aalhour/cobblekv/internal/dbformat"
)

func newTestMemTable() *MemTable {
	return New(dbformat.NewInternalKeyComparator(dbformat.Bytewise))
}

// =============================================================================
// Point lookups
// =============================================================================

func TestMemTableGetVisibility(t *testing.T) {
	mt := newTestMemTable()
	mt.Add(1, dbformat.KindValue, []byte("k"), []byte("v1"))
	mt.Add(3, dbformat.KindValue, []byte("k"), []byte("v3"))
	mt.Add(5, dbformat.KindDeletion, []byte("k"), nil)

	tests := []struct {
		version dbformat.Version
		found   bool
		kind    dbformat.Kind
		value   string
	}{
		{0, false, 0, ""},
		{1, true, dbformat.KindValue, "v1"},
		{2, true, dbformat.KindValue, "v1"},
		{3, true, dbformat.KindValue, "v3"},
		{4, true, dbformat.KindValue, "v3"},
		{5, true, dbformat.KindDeletion, ""},
		{100, true, dbformat.KindDeletion, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("v%d", tt.version), func(t *testing.T) {
			value, kind, found := mt.Get([]byte("k"), tt.version)
			if found != tt.found {
				t.Fatalf("found = %v, want %v", found, tt.found)
			}
			if !found {
				return
			}
			if kind != tt.kind || string(value) != tt.value {
				t.Fatalf("got %s %q, want %s %q", kind, value, tt.kind, tt.value)
			}
		})
	}
}

func TestMemTableGetDistinguishesPrefixKeys(t *testing.T) {
	mt := newTestMemTable()
	mt.Add(1, dbformat.KindValue, []byte("ab"), []byte("long"))

	if _, _, found := mt.Get([]byte("a"), 10); found {
		t.Fatal("prefix key a should not match ab")
	}
	if _, _, found := mt.Get([]byte("abc"), 10); found {
		t.Fatal("abc should not match ab")
	}
}

func TestMemTableCopiesInput(t *testing.T) {
	mt := newTestMemTable()
	key := []byte("key")
	val := []byte{0, 1, 2}
	mt.Add(1, dbformat.KindValue, key, val)
	key[0] = 'X'
	val[0] = 9

	got, _, found := mt.Get([]byte("key"), 1)
	if !found || !bytes.Equal(got, []byte{0, 1, 2}) {
		t.Fatalf("Get = %v, %v", got, found)
	}
}

// =============================================================================
// Iteration
// =============================================================================

func TestMemTableIteratorOrder(t *testing.T) {
	mt := newTestMemTable()
	mt.Add(2, dbformat.KindValue, []byte("b"), []byte("b2"))
	mt.Add(1, dbformat.KindValue, []byte("a"), []byte("a1"))
	mt.Add(3, dbformat.KindValue, []byte("a"), []byte("a3"))

	it := mt.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		p, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, p.String())
	}
	want := []string{`"a"@3:val`, `"a"@1:val`, `"b"@2:val`}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	var back []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		p, _ := dbformat.ParseInternalKey(it.Key())
		back = append(back, p.String())
	}
	if len(back) != 3 || back[0] != want[2] || back[2] != want[0] {
		t.Fatalf("reverse = %v", back)
	}
}

func TestSkipListRejectsDuplicate(t *testing.T) {
	sl := NewSkipList(bytes.Compare)
	if !sl.Insert([]byte("a"), []byte("1")) {
		t.Fatal("first insert failed")
	}
	if sl.Insert([]byte("a"), []byte("2")) {
		t.Fatal("duplicate insert succeeded")
	}
	if sl.Count() != 1 {
		t.Fatalf("Count = %d", sl.Count())
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestMemTableConcurrentReadersSingleWriter(t *testing.T) {
	mt := newTestMemTable()
	const n = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				it := mt.NewIterator()
				var prev []byte
				for it.SeekToFirst(); it.Valid(); it.Next() {
					if prev != nil && mt.icmp.Compare(prev, it.Key()) >= 0 {
						t.Errorf("out of order: %q then %q", prev, it.Key())
						return
					}
					prev = it.Key()
				}
			}
		}()
	}

	for i := range n {
		mt.Add(dbformat.Version(i+1), dbformat.KindValue, fmt.Appendf(nil, "key%05d", i%500), []byte("v"))
	}
	close(stop)
	wg.Wait()

	if mt.Count() != n {
		t.Fatalf("Count = %d, want %d", mt.Count(), n)
	}
	if mt.MaxVersion() != n {
		t.Fatalf("MaxVersion = %d", mt.MaxVersion())
	}
}
