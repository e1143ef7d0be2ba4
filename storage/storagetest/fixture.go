// Package storagetest builds small synthetic time-slice datasets for tests.
package storagetest

import (
	"fmt"
	"path/filepath"
	"testing"

	"slice2series/storage"

	"github.com/stretchr/testify/require"
)

// Variables written into every slice file.
var (
	SeriesVariables = []string{"T", "U"}
	TimeVariant     = []string{"time", "time_bnds"}
	TimeInvariant   = []string{"area", "P0"}
)

// SliceOptions shape the generated slices.
type SliceOptions struct {
	Files int
	Steps int
	Lat   int
	Lon   int
	// Blocks sets the time block of each file. File i covers times
	// Blocks[i]*Steps to Blocks[i]*Steps+Steps-1. Defaults to i.
	Blocks []int
	// DType overrides the element type of a series variable in one file.
	DType func(file int, variable string) storage.DType
	// Omit drops a variable from one file.
	Omit func(file int, variable string) bool
	// ExtraSeries adds float32 series variables after T and U.
	ExtraSeries []string
}

func (o *SliceOptions) defaults() {
	if o.Files == 0 {
		o.Files = 3
	}
	if o.Steps == 0 {
		o.Steps = 4
	}
	if o.Lat == 0 {
		o.Lat = 2
	}
	if o.Lon == 0 {
		o.Lon = 3
	}
}

// WriteSlices writes opts.Files slice datasets into dir and returns their paths.
func WriteSlices(t testing.TB, dir string, opts SliceOptions) []string {
	t.Helper()
	opts.defaults()

	opener := storage.NewSQLiteOpener()
	paths := make([]string, opts.Files)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("hist.%04d.db", i))
		block := i
		if i < len(opts.Blocks) {
			block = opts.Blocks[i]
		}
		writeSlice(t, opener, paths[i], i, block, opts)
	}
	return paths
}

func writeSlice(t testing.TB, opener storage.Opener, path string, file, block int, opts SliceOptions) {
	t.Helper()
	ds, err := opener.Create(path, storage.CreateOptions{})
	require.NoError(t, err)
	defer func() { require.NoError(t, ds.Close()) }()

	for _, d := range []storage.Dimension{
		{Name: "time", Unlimited: true},
		{Name: "lat", Length: opts.Lat},
		{Name: "lon", Length: opts.Lon},
		{Name: "nbnd", Length: 2},
	} {
		require.NoError(t, ds.DefineDimension(d))
	}
	require.NoError(t, ds.SetAttributes([]storage.Attribute{
		{Name: "title", Value: storage.Text("synthetic history")},
		{Name: "source", Value: storage.Text("storagetest")},
	}))

	omit := func(name string) bool { return opts.Omit != nil && opts.Omit(file, name) }
	dtype := func(name string, def storage.DType) storage.DType {
		if opts.DType != nil {
			if dt := opts.DType(file, name); dt != "" {
				return dt
			}
		}
		return def
	}

	grid := opts.Lat * opts.Lon
	first := block * opts.Steps

	defs := []struct {
		def  storage.VariableDef
		data storage.Array
	}{
		{
			def: storage.VariableDef{Name: "time", DType: storage.Float64, Dimensions: []string{"time"},
				Attributes: []storage.Attribute{{Name: "units", Value: storage.Text("days since 0001-01-01")}}},
			data: floats(storage.Float64, []int{opts.Steps}, func(i int) float64 { return float64(first + i) }),
		},
		{
			def: storage.VariableDef{Name: "time_bnds", DType: storage.Float64, Dimensions: []string{"time", "nbnd"}},
			data: floats(storage.Float64, []int{opts.Steps, 2}, func(i int) float64 { return float64(first + i/2 + i%2) }),
		},
		{
			def:  storage.VariableDef{Name: "area", DType: storage.Float32, Dimensions: []string{"lat", "lon"}},
			data: floats(storage.Float32, []int{opts.Lat, opts.Lon}, func(i int) float64 { return float64(i) * 0.5 }),
		},
		{
			def:  storage.VariableDef{Name: "P0", DType: storage.Float64},
			data: storage.Float64s(nil, []float64{1e5}),
		},
		{
			def: storage.VariableDef{Name: "T", DType: dtype("T", storage.Float32), Dimensions: []string{"time", "lat", "lon"},
				Attributes: []storage.Attribute{{Name: "units", Value: storage.Text("K")}}},
			data: floats(dtype("T", storage.Float32), []int{opts.Steps, opts.Lat, opts.Lon}, func(i int) float64 {
				return float64((first+i/grid)*100 + i%grid)
			}),
		},
		{
			def: storage.VariableDef{Name: "U", DType: dtype("U", storage.Float64), Dimensions: []string{"time", "lat", "lon"},
				Attributes: []storage.Attribute{{Name: "units", Value: storage.Text("m/s")}}},
			data: floats(dtype("U", storage.Float64), []int{opts.Steps, opts.Lat, opts.Lon}, func(i int) float64 {
				return -float64((first+i/grid)*100 + i%grid)
			}),
		},
	}

	for n, name := range opts.ExtraSeries {
		offset := float64(n+1) * 1e4
		defs = append(defs, struct {
			def  storage.VariableDef
			data storage.Array
		}{
			def: storage.VariableDef{Name: name, DType: storage.Float32, Dimensions: []string{"time", "lat", "lon"}},
			data: floats(storage.Float32, []int{opts.Steps, opts.Lat, opts.Lon}, func(i int) float64 {
				return offset + float64((first+i/grid)*100+i%grid)
			}),
		})
	}

	for _, d := range defs {
		if omit(d.def.Name) {
			continue
		}
		require.NoError(t, ds.DefineVariable(d.def))
		require.NoError(t, ds.Write(d.def.Name, make([]int, len(d.data.Shape)), d.data))
	}
}

func floats(dt storage.DType, shape []int, f func(i int) float64) storage.Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	switch dt {
	case storage.Float32:
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = float32(f(i))
		}
		return storage.Float32s(shape, vals)
	case storage.Int32:
		vals := make([]int32, n)
		for i := range vals {
			vals[i] = int32(f(i))
		}
		return storage.Int32s(shape, vals)
	default:
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = f(i)
		}
		return storage.Float64s(shape, vals)
	}
}

// Concat reads the named variable from every path and joins the data along
// the leading dimension.
func Concat(t testing.TB, paths []string, variable string) []byte {
	t.Helper()
	opener := storage.NewSQLiteOpener()
	var out []byte
	for _, p := range paths {
		r, err := opener.Open(p)
		require.NoError(t, err)
		arr, err := storage.ReadAll(r, variable)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		out = append(out, arr.Data...)
	}
	return out
}

// ReadVariable reads a whole variable from the dataset at path.
func ReadVariable(t testing.TB, path, variable string) storage.Array {
	t.Helper()
	r, err := storage.NewSQLiteOpener().Open(path)
	require.NoError(t, err)
	defer r.Close()
	arr, err := storage.ReadAll(r, variable)
	require.NoError(t, err)
	return arr
}
