package db

// comparator.go defines key ordering.
//
// Reference: LevelDB include/leveldb/comparator.h

import "github.com/aalhour/cobblekv/internal/dbformat"

// Comparator defines a total order over keys.
//
// Compare returns a negative number when a < b, zero when a == b and a
// positive number when a > b. Name is stored with the database when it is
// created; opening it later with a comparator of a different name fails
// with ErrComparatorMismatch. Change the name whenever the order changes.
type Comparator = dbformat.Comparator

// BytewiseComparator orders keys lexicographically by unsigned byte value.
// It is the default and is named "leveldb.BytewiseComparator".
var BytewiseComparator Comparator = dbformat.Bytewise

// ComparatorFunc adapts a named comparison function to a Comparator.
type ComparatorFunc struct {
	ComparatorName string
	CompareFunc    func(a, b []byte) int
}

// Compare calls CompareFunc.
func (c ComparatorFunc) Compare(a, b []byte) int { return c.CompareFunc(a, b) }

// Name returns ComparatorName.
func (c ComparatorFunc) Name() string { return c.ComparatorName }
