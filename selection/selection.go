// Package selection describes subsets of the rows of a catalog, and composes
// them such that consecutive selections collapse into a single one.
package selection

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
)

// None marks an omitted bound of a Range, like an empty slot in a slice expression
const None = math.MinInt

// Kind distinguishes the variants of a Selection
type Kind int

const (
	// KindAll selects every row
	KindAll Kind = iota
	// KindMask selects the rows at which a boolean mask is true
	KindMask
	// KindIndex selects rows by position, in any order and possibly repeated
	KindIndex
	// KindRange selects rows start:stop:step
	KindRange
)

// Selection is an immutable description of a subset of rows
type Selection struct {
	kind       Kind
	mask       *roaring.Bitmap
	maskLength int
	index      []int
	start      int
	stop       int
	step       int
}

// All selects every row
func All() Selection {
	return Selection{kind: KindAll}
}

// Mask selects the rows at which mask is true. The mask must have the length of the selected domain.
func Mask(mask []bool) Selection {
	bm := roaring.New()
	for i, v := range mask {
		if v {
			bm.Add(uint32(i))
		}
	}
	return Selection{kind: KindMask, mask: bm, maskLength: len(mask)}
}

// MaskBitmap selects the rows contained in a bitmap over a domain of the given length
func MaskBitmap(bm *roaring.Bitmap, length int) Selection {
	return Selection{kind: KindMask, mask: bm.Clone(), maskLength: length}
}

// Index selects the rows at the given positions, in order
func Index(index []int) Selection {
	idx := make([]int, len(index))
	copy(idx, index)
	return Selection{kind: KindIndex, index: idx}
}

// Range selects rows start:stop:step. Negative bounds count from the end of the
// domain, and None stands for an omitted bound. A step of None means 1.
func Range(start, stop, step int) Selection {
	if step == None {
		step = 1
	}
	return Selection{kind: KindRange, start: start, stop: stop, step: step}
}

// Kind returns the variant of this Selection
func (s Selection) Kind() Kind {
	return s.kind
}

// IsAll returns true iff this Selection selects every row
func (s Selection) IsAll() bool {
	return s.kind == KindAll
}

// Resolve produces the selected rows of a domain of length n
func (s Selection) Resolve(n int) (array.Rows, error) {
	switch s.kind {
	case KindAll:
		return array.RowRange(0, n), nil
	case KindMask:
		if s.maskLength != n {
			return array.Rows{}, errors.InvalidSelectorError{Reason: fmt.Sprintf("mask of length %d does not match size %d", s.maskLength, n)}
		}
		positions := s.mask.ToArray()
		index := make([]int, len(positions))
		for i, p := range positions {
			index[i] = int(p)
		}
		return array.RowIndex(index), nil
	case KindIndex:
		for _, v := range s.index {
			if v < 0 || v >= n {
				return array.Rows{}, errors.InvalidSelectorError{Reason: fmt.Sprintf("index %d out of bounds for size %d", v, n)}
			}
		}
		return array.RowIndex(s.index), nil
	case KindRange:
		start, stop, step, err := s.indices(n)
		if err != nil {
			return array.Rows{}, err
		}
		if step == 1 {
			return array.RowRange(start, stop), nil
		}
		count := rangeCount(start, stop, step)
		index := make([]int, count)
		for i := range index {
			index[i] = start + i*step
		}
		return array.RowIndex(index), nil
	default:
		return array.Rows{}, fmt.Errorf("unknown selection kind %d", s.kind)
	}
}

// Count returns the number of rows selected from a domain of length n
func (s Selection) Count(n int) (int, error) {
	switch s.kind {
	case KindAll:
		return n, nil
	case KindMask:
		if s.maskLength != n {
			return 0, errors.InvalidSelectorError{Reason: fmt.Sprintf("mask of length %d does not match size %d", s.maskLength, n)}
		}
		return int(s.mask.GetCardinality()), nil
	case KindRange:
		start, stop, step, err := s.indices(n)
		if err != nil {
			return 0, err
		}
		return rangeCount(start, stop, step), nil
	default:
		rows, err := s.Resolve(n)
		if err != nil {
			return 0, err
		}
		return rows.Len(), nil
	}
}

// indices clamps a Range to a domain of length n, following slice expression rules
func (s Selection) indices(n int) (start, stop, step int, err error) {
	step = s.step
	if step == 0 {
		return 0, 0, 0, errors.InvalidSelectorError{Reason: "slice step cannot be zero"}
	}
	clamp := func(v, def, lower, upper int) int {
		if v == None {
			return def
		}
		if v < 0 {
			v += n
			if v < lower {
				return lower
			}
			return v
		}
		if v > upper {
			return upper
		}
		return v
	}
	if step > 0 {
		start = clamp(s.start, 0, 0, n)
		stop = clamp(s.stop, n, 0, n)
	} else {
		start = clamp(s.start, n-1, -1, n-1)
		stop = clamp(s.stop, -1, -1, n-1)
	}
	return start, stop, step, nil
}

func rangeCount(start, stop, step int) int {
	if step > 0 && start < stop {
		return (stop - start + step - 1) / step
	}
	if step < 0 && stop < start {
		return (start - stop - step - 1) / -step
	}
	return 0
}

// Compose produces a single Selection equivalent to applying inner to a domain
// of length n, and then outer to the rows inner produced. Neither input is
// modified. Two ranges with positive steps compose into a range; any other
// combination becomes an index.
func Compose(inner, outer Selection, n int) (Selection, error) {
	if inner.IsAll() {
		return outer, nil
	}
	innerRows, err := inner.Resolve(n)
	if err != nil {
		return Selection{}, err
	}
	if outer.IsAll() {
		return inner, nil
	}
	if inner.kind == KindRange && outer.kind == KindRange && inner.step > 0 && outer.step > 0 {
		start, _, step, err := inner.indices(n)
		if err != nil {
			return Selection{}, err
		}
		oStart, oStop, oStep, err := outer.indices(innerRows.Len())
		if err != nil {
			return Selection{}, err
		}
		count := rangeCount(oStart, oStop, oStep)
		newStart := start + oStart*step
		return Range(newStart, newStart+count*step*oStep, step*oStep), nil
	}
	outerRows, err := outer.Resolve(innerRows.Len())
	if err != nil {
		return Selection{}, err
	}
	return Index(innerRows.Map(outerRows).Indices()), nil
}

// Parse builds a Selection from a user-provided selector: a Selection, an
// integer list, a boolean mask, or a Bool or Int64 Buffer. Floating point
// selectors are rejected rather than coerced.
func Parse(v any) (Selection, error) {
	switch sel := v.(type) {
	case nil:
		return All(), nil
	case Selection:
		return sel, nil
	case []int:
		return Index(sel), nil
	case []int64:
		index := make([]int, len(sel))
		for i, x := range sel {
			index[i] = int(x)
		}
		return Index(index), nil
	case []bool:
		return Mask(sel), nil
	case *array.Buffer:
		if sel.Width() != 1 {
			return Selection{}, errors.InvalidSelectorError{Reason: fmt.Sprintf("selector must be one-dimensional, got width %d", sel.Width())}
		}
		switch sel.DType() {
		case array.Bool:
			return Mask(sel.Bools()), nil
		case array.Int64:
			return Parse(sel.Int64s())
		default:
			return Selection{}, errors.InvalidSelectorError{Reason: "floating point values cannot select rows"}
		}
	case []float64, []float32:
		return Selection{}, errors.InvalidSelectorError{Reason: "floating point values cannot select rows"}
	default:
		return Selection{}, errors.InvalidSelectorError{Reason: fmt.Sprintf("unsupported selector of type %T", v)}
	}
}

// String returns a short description of this Selection
func (s Selection) String() string {
	switch s.kind {
	case KindAll:
		return "all"
	case KindMask:
		return fmt.Sprintf("mask(%d of %d)", s.mask.GetCardinality(), s.maskLength)
	case KindIndex:
		if len(s.index) > 6 {
			return fmt.Sprintf("index(%v... %d rows)", s.index[:6], len(s.index))
		}
		return fmt.Sprintf("index(%v)", s.index)
	default:
		bound := func(v int) string {
			if v == None {
				return ""
			}
			return fmt.Sprint(v)
		}
		return fmt.Sprintf("range(%s:%s:%d)", bound(s.start), bound(s.stop), s.step)
	}
}
