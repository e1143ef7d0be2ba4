package storage

import "fmt"

// DType identifies the element type of a variable or attribute.
// The codes follow the numpy-style short names used by the dataset format.
type DType string

const (
	Int8    DType = "i1"
	Int16   DType = "i2"
	Int32   DType = "i4"
	Int64   DType = "i8"
	Uint8   DType = "u1"
	Uint16  DType = "u2"
	Uint32  DType = "u4"
	Uint64  DType = "u8"
	Float32 DType = "f4"
	Float64 DType = "f8"
	Char    DType = "S1"
)

var dtypeSizes = map[DType]int{
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
	Char:    1,
}

// Size returns the size of one element in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Valid reports whether d is a known type code.
func (d DType) Valid() bool {
	_, ok := dtypeSizes[d]
	return ok
}

// Numeric reports whether values of this type can be compared numerically.
func (d DType) Numeric() bool {
	return d.Valid() && d != Char
}

// ParseDType parses a type code such as "f8".
func ParseDType(s string) (DType, error) {
	d := DType(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown dtype %q", s)
	}
	return d, nil
}
