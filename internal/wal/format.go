// Package wal implements the write-ahead log record format.
//
// A log is a sequence of 32 KiB blocks. A logical record is split into one
// or more physical records, none of which crosses a block boundary:
//
//	+-----------+------------+---------+---------+
//	| CRC (4B)  | Length(2B) | Type(1) | Payload |
//	+-----------+------------+---------+---------+
//
// CRC is the masked CRC32C of the type byte and payload. A block tail too
// short for a header is zero filled.
package wal

import "errors"

// BlockSize is the size of a log block.
const BlockSize = 32768

// HeaderSize is the size of a physical record header.
const HeaderSize = 7

type recordType uint8

const (
	zeroType   recordType = 0
	fullType   recordType = 1
	firstType  recordType = 2
	middleType recordType = 3
	lastType   recordType = 4
)

var (
	// ErrCorrupted is reported for checksum failures and malformed records.
	ErrCorrupted = errors.New("wal: corrupted record")

	// ErrBadFragment is reported when fragments arrive out of order.
	ErrBadFragment = errors.New("wal: fragment out of sequence")
)
