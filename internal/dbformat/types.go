// Package dbformat defines versions, entry kinds and the internal key
// layout shared by the memtable, the table files and the log.
//
// An internal key is the user key followed by an 8-byte little-endian
// trailer holding (version << 8) | kind. Internal keys sort by user key
// ascending under the user comparator, then by trailer descending, so the
// newest entry for a key comes first.
package dbformat

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/aalhour/cobblekv/internal/encoding"
)

// Version identifies a point-in-time state of the store. Every applied
// write batch advances it by exactly one.
type Version uint64

// MaxVersion is the largest version that fits in a trailer.
const MaxVersion Version = (1 << 56) - 1

// TrailerSize is the size of the (version, kind) suffix of an internal key.
const TrailerSize = 8

// Kind tags an entry as a live value or a tombstone. The values are part
// of the on-disk format.
type Kind uint8

const (
	KindDeletion Kind = 0x0
	KindValue    Kind = 0x1
)

// KindForSeek is the kind with the largest tag. Lookup keys use it so a
// seek lands on the newest entry at or below the lookup version.
const KindForSeek = KindValue

func (k Kind) String() string {
	switch k {
	case KindDeletion:
		return "del"
	case KindValue:
		return "val"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrKeyTooSmall is returned for internal keys shorter than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidKind is returned when a trailer carries an unknown kind.
	ErrInvalidKind = errors.New("dbformat: invalid entry kind")
)

// PackTrailer combines a version and kind into a trailer value.
func PackTrailer(v Version, k Kind) uint64 {
	return uint64(v)<<8 | uint64(k)
}

// UnpackTrailer splits a trailer value.
func UnpackTrailer(t uint64) (Version, Kind) {
	return Version(t >> 8), Kind(t & 0xff)
}

// ParsedKey is a decoded internal key. UserKey aliases the encoded key.
type ParsedKey struct {
	UserKey []byte
	Version Version
	Kind    Kind
}

func (p ParsedKey) String() string {
	return fmt.Sprintf("%q@%d:%s", p.UserKey, p.Version, p.Kind)
}

// AppendInternalKey appends the internal key for (userKey, v, k) to dst.
func AppendInternalKey(dst, userKey []byte, v Version, k Kind) []byte {
	dst = append(dst, userKey...)
	return encoding.AppendFixed64(dst, PackTrailer(v, k))
}

// MakeInternalKey returns a freshly allocated internal key.
func MakeInternalKey(userKey []byte, v Version, k Kind) []byte {
	return AppendInternalKey(make([]byte, 0, len(userKey)+TrailerSize), userKey, v, k)
}

// LookupKey returns the key that seeks to the newest entry for userKey
// visible at version v.
func LookupKey(userKey []byte, v Version) []byte {
	return MakeInternalKey(userKey, v, KindForSeek)
}

// ParseInternalKey decodes an internal key.
func ParseInternalKey(ikey []byte) (ParsedKey, error) {
	n := len(ikey)
	if n < TrailerSize {
		return ParsedKey{}, ErrKeyTooSmall
	}
	v, k := UnpackTrailer(encoding.DecodeFixed64(ikey[n-TrailerSize:]))
	if k > KindValue {
		return ParsedKey{}, ErrInvalidKind
	}
	return ParsedKey{UserKey: ikey[:n-TrailerSize], Version: v, Kind: k}, nil
}

// ExtractUserKey returns the user key portion of an internal key.
func ExtractUserKey(ikey []byte) []byte {
	if len(ikey) < TrailerSize {
		return ikey
	}
	return ikey[:len(ikey)-TrailerSize]
}

// ExtractTrailer returns the packed trailer of an internal key.
func ExtractTrailer(ikey []byte) uint64 {
	if len(ikey) < TrailerSize {
		return 0
	}
	return encoding.DecodeFixed64(ikey[len(ikey)-TrailerSize:])
}

// -----------------------------------------------------------------------------
// Comparators
// -----------------------------------------------------------------------------

// Comparator is a total order over user keys. Name is persisted with the
// store and must not change while the order stays the same.
type Comparator interface {
	Compare(a, b []byte) int
	Name() string
}

// BytewiseComparatorName is the persisted name of the default order.
const BytewiseComparatorName = "leveldb.BytewiseComparator"

type bytewise struct{}

func (bytewise) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (bytewise) Name() string            { return BytewiseComparatorName }

// Bytewise orders keys lexicographically by unsigned byte value.
var Bytewise Comparator = bytewise{}

// InternalKeyComparator orders internal keys: user key ascending under
// User, then trailer descending.
type InternalKeyComparator struct {
	User Comparator
}

// NewInternalKeyComparator wraps a user comparator.
func NewInternalKeyComparator(user Comparator) *InternalKeyComparator {
	if user == nil {
		user = Bytewise
	}
	return &InternalKeyComparator{User: user}
}

// Compare orders two internal keys.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	if r := c.User.Compare(ExtractUserKey(a), ExtractUserKey(b)); r != 0 {
		return r
	}
	ta, tb := ExtractTrailer(a), ExtractTrailer(b)
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return 0
}

// Name reports the user comparator's name.
func (c *InternalKeyComparator) Name() string { return c.User.Name() }
