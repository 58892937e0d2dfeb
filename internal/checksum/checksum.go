// Package checksum computes the integrity checks stored with log records
// and table blocks.
//
// CRC32C values are masked before being stored, as LevelDB does, so that
// computing the CRC of data that embeds CRCs stays well distributed.
package checksum

import (
	"fmt"
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// Value returns the CRC32C of data.
func Value(data []byte) uint32 { return crc32.Checksum(data, castagnoli) }

// Extend returns the CRC32C of A ‖ data given crc = Value(A).
func Extend(crc uint32, data []byte) uint32 { return crc32.Update(crc, castagnoli, data) }

// Mask returns the stored form of crc.
func Mask(crc uint32) uint32 { return ((crc >> 15) | (crc << 17)) + maskDelta }

// Unmask inverts Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}

// Type selects the block checksum algorithm. The values are persisted in
// table footers.
type Type uint8

const (
	TypeCRC32C Type = 1
	TypeXXH3   Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeCRC32C:
		return "crc32c"
	case TypeXXH3:
		return "xxh3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType maps a name back to its Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "crc32c", "":
		return TypeCRC32C, nil
	case "xxh3":
		return TypeXXH3, nil
	}
	return 0, fmt.Errorf("checksum: unknown type %q", name)
}

// Block returns the checksum of data followed by the single byte last,
// which for table blocks is the compression tag.
func Block(t Type, data []byte, last byte) uint32 {
	switch t {
	case TypeXXH3:
		h := xxh3.New()
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{last})
		return uint32(h.Sum64())
	default:
		return Mask(Extend(Value(data), []byte{last}))
	}
}
