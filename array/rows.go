package array

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Rows is an ordered set of row positions within an Array. A Rows is either a
// contiguous range [start, stop) or an explicit list of positions, which may be
// unordered and may contain duplicates.
type Rows struct {
	start int
	stop  int
	index []int // nil for a contiguous range
}

// RowRange returns the contiguous rows [start, stop)
func RowRange(start, stop int) Rows {
	if stop < start {
		stop = start
	}
	return Rows{start: start, stop: stop}
}

// RowIndex returns the rows at the given positions. The slice is retained and must not be modified afterwards.
func RowIndex(index []int) Rows {
	if index == nil {
		index = []int{}
	}
	return Rows{index: index}
}

// IsRange returns true iff these Rows are a contiguous range
func (r Rows) IsRange() bool {
	return r.index == nil
}

// Len returns the number of rows
func (r Rows) Len() int {
	if r.index == nil {
		return r.stop - r.start
	}
	return len(r.index)
}

// At returns the i-th row position
func (r Rows) At(i int) int {
	if r.index == nil {
		return r.start + i
	}
	return r.index[i]
}

// Bounds returns the smallest and one-past-largest row positions. Empty Rows return (0, 0).
func (r Rows) Bounds() (lo int, hi int) {
	if r.index == nil {
		return r.start, r.stop
	}
	if len(r.index) == 0 {
		return 0, 0
	}
	lo, hi = r.index[0], r.index[0]
	for _, v := range r.index {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi + 1
}

// Sub returns positions [i, j) of these Rows
func (r Rows) Sub(i, j int) Rows {
	if r.index == nil {
		return RowRange(r.start+i, r.start+j)
	}
	return RowIndex(r.index[i:j])
}

// Shift returns these Rows offset by a constant
func (r Rows) Shift(offset int) Rows {
	if r.index == nil {
		return RowRange(r.start+offset, r.stop+offset)
	}
	shifted := make([]int, len(r.index))
	for i, v := range r.index {
		shifted[i] = v + offset
	}
	return RowIndex(shifted)
}

// Map composes two row sets: outer holds positions into r, and the result holds
// the corresponding positions of r. Two ranges compose into a range.
func (r Rows) Map(outer Rows) Rows {
	if r.index == nil && outer.index == nil {
		return RowRange(r.start+outer.start, r.start+outer.stop)
	}
	mapped := make([]int, outer.Len())
	for i := range mapped {
		mapped[i] = r.At(outer.At(i))
	}
	return RowIndex(mapped)
}

// Indices materializes these Rows as a slice of positions
func (r Rows) Indices() []int {
	result := make([]int, r.Len())
	for i := range result {
		result[i] = r.At(i)
	}
	return result
}

// Validate ensures every position lies within [0, length)
func (r Rows) Validate(length int) error {
	if r.Len() == 0 {
		return nil
	}
	lo, hi := r.Bounds()
	if lo < 0 || hi > length {
		return fmt.Errorf("rows [%d, %d) out of bounds for length %d", lo, hi, length)
	}
	return nil
}

// Runs returns the maximal contiguous [start, stop) runs covering the distinct
// positions of these Rows, in ascending order
func (r Rows) Runs() [][2]int {
	if r.index == nil {
		if r.stop == r.start {
			return nil
		}
		return [][2]int{{r.start, r.stop}}
	}
	if len(r.index) == 0 {
		return nil
	}
	sorted := make([]int, len(r.index))
	copy(sorted, r.index)
	sort.Ints(sorted)
	runs := [][2]int{{sorted[0], sorted[0] + 1}}
	for _, v := range sorted[1:] {
		last := &runs[len(runs)-1]
		switch {
		case v < last[1]:
			// duplicate
		case v == last[1]:
			last[1]++
		default:
			runs = append(runs, [2]int{v, v + 1})
		}
	}
	return runs
}

// Hash returns a stable hash of these Rows, suitable for use in cache keys
func (r Rows) Hash() uint64 {
	h := xxhash.New()
	buf := make([]byte, 8)
	if r.index == nil {
		_, _ = h.Write([]byte{'r'})
		binary.LittleEndian.PutUint64(buf, uint64(r.start))
		_, _ = h.Write(buf)
		binary.LittleEndian.PutUint64(buf, uint64(r.stop))
		_, _ = h.Write(buf)
		return h.Sum64()
	}
	_, _ = h.Write([]byte{'i'})
	for _, v := range r.index {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

// String returns a short description of these Rows
func (r Rows) String() string {
	if r.index == nil {
		return fmt.Sprintf("[%d:%d]", r.start, r.stop)
	}
	if len(r.index) > 6 {
		return fmt.Sprintf("%v... (%d rows)", r.index[:6], len(r.index))
	}
	return fmt.Sprintf("%v", r.index)
}
