package storage

import (
	"fmt"
	"strconv"
	"strings"
)

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// strides returns row-major element strides for shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// copyBlock copies the count-shaped region at srcStart in src into dst at
// dstStart. Both buffers are row-major with elements of size bytes.
func copyBlock(dst []byte, dstShape, dstStart []int, src []byte, srcShape, srcStart []int, count []int, size int) {
	n := len(count)
	if n == 0 {
		copy(dst[:size], src[:size])
		return
	}
	for _, c := range count {
		if c == 0 {
			return
		}
	}
	ds, ss := strides(dstShape), strides(srcShape)
	run := count[n-1] * size
	idx := make([]int, n-1)
	for {
		doff, soff := dstStart[n-1], srcStart[n-1]
		for d := 0; d < n-1; d++ {
			doff += (dstStart[d] + idx[d]) * ds[d]
			soff += (srcStart[d] + idx[d]) * ss[d]
		}
		copy(dst[doff*size:doff*size+run], src[soff*size:soff*size+run])

		d := n - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// forEachChunk calls fn for every chunk coordinate in the inclusive box [lo, hi].
func forEachChunk(lo, hi []int, fn func(coord []int) error) error {
	n := len(lo)
	coord := append([]int(nil), lo...)
	for {
		if err := fn(coord); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		d := n - 1
		for ; d >= 0; d-- {
			coord[d]++
			if coord[d] <= hi[d] {
				break
			}
			coord[d] = lo[d]
		}
		if d < 0 {
			return nil
		}
	}
}

// chunkRange returns the inclusive chunk coordinate box covering [start, start+count).
func chunkRange(start, count, chunks []int) (lo, hi []int) {
	lo = make([]int, len(start))
	hi = make([]int, len(start))
	for d := range start {
		lo[d] = start[d] / chunks[d]
		hi[d] = (start[d] + count[d] - 1) / chunks[d]
	}
	return lo, hi
}

func formatInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func parseInts(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		x, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad index list %q: %w", s, err)
		}
		out[i] = x
	}
	return out, nil
}

func lessInts(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
