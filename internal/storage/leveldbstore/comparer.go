package leveldbstore

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb/comparer"

	"github.com/aalhour/cobblekv/internal/dbformat"
)

// Every goleveldb key starts with a namespace byte. Meta records sort
// before all data.
const (
	metaPrefix byte = 0x00
	dataPrefix byte = 0x01
)

var (
	metaLastVersion = []byte{metaPrefix, 'l', 'a', 's', 't', '-', 'v', 'e', 'r', 's', 'i', 'o', 'n'}
	metaComparator  = []byte{metaPrefix, 'c', 'o', 'm', 'p', 'a', 'r', 'a', 't', 'o', 'r'}

	dataStart = []byte{dataPrefix}
	dataLimit = []byte{dataPrefix + 1}
)

func dataKey(ikey []byte) []byte {
	k := make([]byte, 0, len(ikey)+1)
	k = append(k, dataPrefix)
	return append(k, ikey...)
}

// keyComparer orders goleveldb keys by namespace, then data keys by
// internal key order and meta keys bytewise.
type keyComparer struct {
	icmp *dbformat.InternalKeyComparator
}

var _ comparer.Comparer = keyComparer{}

func (c keyComparer) Compare(a, b []byte) int {
	if len(a) == 0 || len(b) == 0 {
		return len(a) - len(b)
	}
	if a[0] != b[0] {
		if a[0] < b[0] {
			return -1
		}
		return +1
	}
	if a[0] == dataPrefix && len(a) > dbformat.TrailerSize && len(b) > dbformat.TrailerSize {
		return c.icmp.Compare(a[1:], b[1:])
	}
	return bytes.Compare(a[1:], b[1:])
}

// Name is the user comparator's name, so goleveldb's own manifest check
// catches a comparator change.
func (c keyComparer) Name() string { return c.icmp.Name() }

// Separator and Successor never shorten keys; a shortened key would not
// carry a valid trailer.
func (keyComparer) Separator(dst, a, b []byte) []byte { return nil }
func (keyComparer) Successor(dst, b []byte) []byte    { return nil }
