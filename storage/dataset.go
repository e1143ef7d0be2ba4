package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a dataset path does not exist.
	ErrNotFound = errors.New("dataset not found")
	// ErrExists is returned when Create targets an existing path.
	ErrExists = errors.New("dataset already exists")
	// ErrNoVariable is returned when a named variable is absent.
	ErrNoVariable = errors.New("no such variable")
	// ErrReadOnly is returned for writes through a read-only handle.
	ErrReadOnly = errors.New("dataset opened read-only")
	// ErrDType is returned when written data does not match the variable type.
	ErrDType = errors.New("dtype mismatch")
)

// Dimension is a named axis of a dataset. At most one dimension per dataset
// is unlimited; its length grows as records are written.
type Dimension struct {
	Name      string `json:"name"`
	Length    int    `json:"length"`
	Unlimited bool   `json:"unlimited"`
}

// Attribute is a named typed value attached to a dataset or a variable.
type Attribute struct {
	Name  string
	Value Array
}

// Variable describes a stored variable. Shape reflects the current
// dimension lengths when the description was taken.
type Variable struct {
	Name       string
	DType      DType
	Dimensions []string
	Shape      []int
	Chunks     []int
	Attributes []Attribute
}

// DimIndex returns the position of the named dimension, or -1.
func (v *Variable) DimIndex(name string) int {
	for i, d := range v.Dimensions {
		if d == name {
			return i
		}
	}
	return -1
}

// Bytes returns the size of the full variable in bytes.
func (v *Variable) Bytes() int64 {
	return int64(product(v.Shape) * v.DType.Size())
}

// Attribute returns the named attribute.
func (v *Variable) Attribute(name string) (Attribute, bool) {
	return findAttribute(v.Attributes, name)
}

// VariableDef is the definition passed to Dataset.DefineVariable. A nil or
// short Chunks slice uses the full fixed dimension length, and 1 along the
// unlimited dimension.
type VariableDef struct {
	Name       string
	DType      DType
	Dimensions []string
	Chunks     []int
	Attributes []Attribute
}

// Reader is a read-only view of a dataset.
type Reader interface {
	Path() string
	Dimensions() []Dimension
	// Unlimited returns the unlimited dimension, if the dataset has one.
	Unlimited() (Dimension, bool)
	Attributes() []Attribute
	// Variables returns variable names in definition order.
	Variables() []string
	Variable(name string) (*Variable, error)
	// Read returns the hyperslab of count elements starting at start.
	Read(name string, start, count []int) (Array, error)
	// ChunkShapes returns the stored shape of every chunk of the variable,
	// ordered by chunk coordinate.
	ChunkShapes(name string) ([][]int, error)
	Close() error
}

// Dataset is a writable dataset handle.
type Dataset interface {
	Reader
	DefineDimension(d Dimension) error
	SetAttributes(attrs []Attribute) error
	DefineVariable(def VariableDef) error
	// Write stores data at start. Writes may extend the unlimited dimension.
	Write(name string, start []int, data Array) error
}

// CreateOptions control new datasets.
type CreateOptions struct {
	// Compression is a zlib level from 0 (none) to 9.
	Compression int
}

// Opener opens and creates datasets by path.
type Opener interface {
	Open(path string) (Reader, error)
	// Create fails with ErrExists if the path exists.
	Create(path string, opts CreateOptions) (Dataset, error)
	// OpenAppend opens an existing dataset for writing.
	OpenAppend(path string) (Dataset, error)
	Exists(path string) (bool, error)
	Remove(path string) error
}

// ReadAll reads the whole variable.
func ReadAll(r Reader, name string) (Array, error) {
	v, err := r.Variable(name)
	if err != nil {
		return Array{}, err
	}
	return r.Read(name, make([]int, len(v.Shape)), v.Shape)
}

// FindDimension returns the named dimension.
func FindDimension(dims []Dimension, name string) (Dimension, bool) {
	for _, d := range dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// FindAttribute returns the named attribute.
func FindAttribute(attrs []Attribute, name string) (Attribute, bool) {
	return findAttribute(attrs, name)
}

func findAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

func checkSlab(v *Variable, start, count []int, fixedOnly bool, unlimited string) error {
	if len(start) != len(v.Shape) || len(count) != len(v.Shape) {
		return fmt.Errorf("variable %q has %d dimensions, got start %v count %v", v.Name, len(v.Shape), start, count)
	}
	for d := range start {
		if start[d] < 0 || count[d] < 0 {
			return fmt.Errorf("variable %q: negative index in start %v count %v", v.Name, start, count)
		}
		if fixedOnly && v.Dimensions[d] == unlimited {
			continue
		}
		if start[d]+count[d] > v.Shape[d] {
			return fmt.Errorf("variable %q: slab %v+%v exceeds shape %v", v.Name, start, count, v.Shape)
		}
	}
	return nil
}
