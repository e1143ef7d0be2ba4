package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataset(t *testing.T, compression int) (*SQLiteOpener, string, Dataset) {
	t.Helper()
	opener := NewSQLiteOpener()
	path := filepath.Join(t.TempDir(), "out.db")
	ds, err := opener.Create(path, CreateOptions{Compression: compression})
	require.NoError(t, err)
	require.NoError(t, ds.DefineDimension(Dimension{Name: "time", Unlimited: true}))
	require.NoError(t, ds.DefineDimension(Dimension{Name: "x", Length: 3}))
	return opener, path, ds
}

func seq(n int, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + float64(i)
	}
	return out
}

func TestSQLiteOpener_CreateAndRead(t *testing.T) {
	for _, level := range []int{0, 4} {
		opener, path, ds := newTestDataset(t, level)

		require.NoError(t, ds.SetAttributes([]Attribute{{Name: "title", Value: Text("test")}}))
		require.NoError(t, ds.DefineVariable(VariableDef{
			Name:       "v",
			DType:      Float64,
			Dimensions: []string{"time", "x"},
			Chunks:     []int{4, 2},
			Attributes: []Attribute{{Name: "units", Value: Text("K")}},
		}))

		// Two writes along the unlimited dimension.
		require.NoError(t, ds.Write("v", []int{0, 0}, Float64s([]int{6, 3}, seq(18, 0))))
		require.NoError(t, ds.Write("v", []int{6, 0}, Float64s([]int{4, 3}, seq(12, 18))))
		require.NoError(t, ds.Close())

		r, err := opener.Open(path)
		require.NoError(t, err)
		defer r.Close()

		unlim, ok := r.Unlimited()
		require.True(t, ok)
		assert.Equal(t, 10, unlim.Length)

		title, ok := FindAttribute(r.Attributes(), "title")
		require.True(t, ok)
		assert.Equal(t, "test", title.Value.String())

		v, err := r.Variable("v")
		require.NoError(t, err)
		assert.Equal(t, []int{10, 3}, v.Shape)
		assert.Equal(t, []int{4, 2}, v.Chunks)
		units, ok := v.Attribute("units")
		require.True(t, ok)
		assert.Equal(t, "K", units.Value.String())

		all, err := ReadAll(r, "v")
		require.NoError(t, err)
		got, err := all.AsFloat64s()
		require.NoError(t, err)
		assert.Equal(t, seq(30, 0), got)

		slab, err := r.Read("v", []int{3, 1}, []int{5, 2})
		require.NoError(t, err)
		vals, err := slab.AsFloat64s()
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 11, 13, 14, 16, 17, 19, 20, 22, 23}, vals)
	}
}

func TestSQLiteOpener_ChunkShapes(t *testing.T) {
	opener, path, ds := newTestDataset(t, 0)
	require.NoError(t, ds.DefineVariable(VariableDef{
		Name:       "v",
		DType:      Float32,
		Dimensions: []string{"time", "x"},
		Chunks:     []int{4, 5},
	}))
	for step := 0; step < 10; step++ {
		require.NoError(t, ds.Write("v", []int{step, 0}, Float32s([]int{1, 3}, []float32{1, 2, 3})))
	}
	require.NoError(t, ds.Close())

	r, err := opener.Open(path)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.Variable("v")
	require.NoError(t, err)
	// Fixed dimension chunks are clamped to the dimension length.
	assert.Equal(t, []int{4, 3}, v.Chunks)

	shapes, err := r.ChunkShapes("v")
	require.NoError(t, err)
	assert.Equal(t, [][]int{{4, 3}, {4, 3}, {2, 3}}, shapes)
}

func TestSQLiteOpener_Errors(t *testing.T) {
	opener, path, ds := newTestDataset(t, 0)
	require.NoError(t, ds.DefineVariable(VariableDef{Name: "v", DType: Int32, Dimensions: []string{"time", "x"}}))

	t.Run("create over existing", func(t *testing.T) {
		_, err := opener.Create(path, CreateOptions{})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		err := ds.Write("v", []int{0, 0}, Float64s([]int{1, 3}, seq(3, 0)))
		assert.ErrorIs(t, err, ErrDType)
	})

	t.Run("fixed dimension overflow", func(t *testing.T) {
		err := ds.Write("v", []int{0, 1}, Int32s([]int{1, 3}, []int32{1, 2, 3}))
		assert.Error(t, err)
	})

	t.Run("missing variable", func(t *testing.T) {
		_, err := ds.Variable("w")
		assert.ErrorIs(t, err, ErrNoVariable)
	})

	t.Run("read past end", func(t *testing.T) {
		_, err := ds.Read("v", []int{0, 0}, []int{1, 3})
		assert.Error(t, err)
	})

	t.Run("second unlimited dimension", func(t *testing.T) {
		err := ds.DefineDimension(Dimension{Name: "other", Unlimited: true})
		assert.Error(t, err)
	})

	require.NoError(t, ds.Close())

	t.Run("open missing", func(t *testing.T) {
		_, err := opener.Open(filepath.Join(t.TempDir(), "nope.db"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("read-only handle", func(t *testing.T) {
		r, err := opener.Open(path)
		require.NoError(t, err)
		defer r.Close()
		ds, ok := r.(Dataset)
		require.True(t, ok)
		assert.ErrorIs(t, ds.Write("v", []int{0, 0}, Int32s([]int{1, 3}, []int32{1, 2, 3})), ErrReadOnly)
	})
}

func TestSQLiteOpener_AppendAndRemove(t *testing.T) {
	opener, path, ds := newTestDataset(t, 0)
	require.NoError(t, ds.DefineVariable(VariableDef{Name: "v", DType: Float64, Dimensions: []string{"time", "x"}, Chunks: []int{2}}))
	require.NoError(t, ds.Write("v", []int{0, 0}, Float64s([]int{3, 3}, seq(9, 0))))
	require.NoError(t, ds.Close())

	ds, err := opener.OpenAppend(path)
	require.NoError(t, err)
	unlim, _ := ds.Unlimited()
	require.Equal(t, 3, unlim.Length)
	require.NoError(t, ds.Write("v", []int{3, 0}, Float64s([]int{2, 3}, seq(6, 9))))

	all, err := ReadAll(ds, "v")
	require.NoError(t, err)
	vals, err := all.AsFloat64s()
	require.NoError(t, err)
	assert.Equal(t, seq(15, 0), vals)
	require.NoError(t, ds.Close())

	exists, err := opener.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, opener.Remove(path))
	exists, err = opener.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteOpener_ScalarVariable(t *testing.T) {
	opener, path, ds := newTestDataset(t, 0)
	require.NoError(t, ds.DefineVariable(VariableDef{Name: "p", DType: Float64}))
	require.NoError(t, ds.Write("p", nil, Float64s(nil, []float64{42})))
	require.NoError(t, ds.Close())

	r, err := opener.Open(path)
	require.NoError(t, err)
	defer r.Close()
	arr, err := ReadAll(r, "p")
	require.NoError(t, err)
	vals, err := arr.AsFloat64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, vals)
}
