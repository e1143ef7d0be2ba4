package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyBlock(t *testing.T) {
	// 3x4 source, values 0..11.
	src := make([]byte, 12)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 6)

	copyBlock(dst, []int{2, 3}, []int{0, 0}, src, []int{3, 4}, []int{1, 1}, []int{2, 3}, 1)

	assert.Equal(t, []byte{5, 6, 7, 9, 10, 11}, dst)
}

func TestCopyBlock_ZeroCount(t *testing.T) {
	dst := []byte{1, 1}
	copyBlock(dst, []int{2}, []int{0}, []byte{9, 9}, []int{2}, []int{0}, []int{0}, 1)
	assert.Equal(t, []byte{1, 1}, dst)
}

func TestForEachChunk(t *testing.T) {
	var got [][]int
	err := forEachChunk([]int{0, 1}, []int{1, 2}, func(c []int) error {
		got = append(got, append([]int(nil), c...))
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}, {0, 2}, {1, 1}, {1, 2}}, got)
}

func TestChunkRange(t *testing.T) {
	lo, hi := chunkRange([]int{3, 0}, []int{6, 3}, []int{4, 2})
	assert.Equal(t, []int{0, 0}, lo)
	assert.Equal(t, []int{2, 1}, hi)
}

func TestArray_AsFloat64s(t *testing.T) {
	arr := Int32s([]int{3}, []int32{-1, 0, 7})
	vals, err := arr.AsFloat64s()
	assert.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 7}, vals)

	_, err = Text("abc").AsFloat64s()
	assert.Error(t, err)
}
