package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a dense row-major block of values held as little-endian bytes.
// The engine never interprets values; it moves Data between datasets as is.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// NewArray returns a zero-filled array of the given type and shape.
func NewArray(dt DType, shape []int) Array {
	s := append([]int(nil), shape...)
	return Array{DType: dt, Shape: s, Data: make([]byte, product(s)*dt.Size())}
}

// Len returns the number of elements. A scalar has one element.
func (a Array) Len() int {
	return product(a.Shape)
}

// Bytes returns the size of the data in bytes.
func (a Array) Bytes() int64 {
	return int64(len(a.Data))
}

// Validate checks that Data matches DType and Shape.
func (a Array) Validate() error {
	if !a.DType.Valid() {
		return fmt.Errorf("unknown dtype %q", a.DType)
	}
	for _, n := range a.Shape {
		if n < 0 {
			return fmt.Errorf("negative extent in shape %v", a.Shape)
		}
	}
	if want := a.Len() * a.DType.Size(); len(a.Data) != want {
		return fmt.Errorf("array data is %d bytes, shape %v of %s needs %d", len(a.Data), a.Shape, a.DType, want)
	}
	return nil
}

// Float64s builds an f8 array.
func Float64s(shape []int, vals []float64) Array {
	a := NewArray(Float64, shape)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.Data[i*8:], math.Float64bits(v))
	}
	return a
}

// Float32s builds an f4 array.
func Float32s(shape []int, vals []float32) Array {
	a := NewArray(Float32, shape)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.Data[i*4:], math.Float32bits(v))
	}
	return a
}

// Int32s builds an i4 array.
func Int32s(shape []int, vals []int32) Array {
	a := NewArray(Int32, shape)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.Data[i*4:], uint32(v))
	}
	return a
}

// Text builds a one-dimensional character array, the usual form of a text attribute.
func Text(s string) Array {
	return Array{DType: Char, Shape: []int{len(s)}, Data: []byte(s)}
}

// String returns the contents of a character array.
func (a Array) String() string {
	if a.DType == Char {
		return string(a.Data)
	}
	vals, err := a.AsFloat64s()
	if err != nil {
		return fmt.Sprintf("<%s %v>", a.DType, a.Shape)
	}
	return fmt.Sprint(vals)
}

// AsFloat64s widens every element to float64. It is meant for inspecting
// coordinate values, not for copying data.
func (a Array) AsFloat64s() ([]float64, error) {
	if !a.DType.Numeric() {
		return nil, fmt.Errorf("dtype %s is not numeric", a.DType)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := a.Len()
	out := make([]float64, n)
	le := binary.LittleEndian
	for i := 0; i < n; i++ {
		switch a.DType {
		case Int8:
			out[i] = float64(int8(a.Data[i]))
		case Uint8:
			out[i] = float64(a.Data[i])
		case Int16:
			out[i] = float64(int16(le.Uint16(a.Data[i*2:])))
		case Uint16:
			out[i] = float64(le.Uint16(a.Data[i*2:]))
		case Int32:
			out[i] = float64(int32(le.Uint32(a.Data[i*4:])))
		case Uint32:
			out[i] = float64(le.Uint32(a.Data[i*4:]))
		case Int64:
			out[i] = float64(int64(le.Uint64(a.Data[i*8:])))
		case Uint64:
			out[i] = float64(le.Uint64(a.Data[i*8:]))
		case Float32:
			out[i] = float64(math.Float32frombits(le.Uint32(a.Data[i*4:])))
		case Float64:
			out[i] = math.Float64frombits(le.Uint64(a.Data[i*8:]))
		}
	}
	return out, nil
}
