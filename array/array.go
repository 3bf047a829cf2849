// Package array implements lazily-evaluated columnar arrays. An Array is an
// immutable description of a computation over row-aligned inputs; nothing is
// evaluated until Compute is called, and then only for the rows requested.
//
// Row selections are pushed through every distributive node (element-wise
// arithmetic, row-wise maps, component picks, selections, concatenations) so
// that leaves fetch or generate only the surviving rows. Non-distributive
// nodes (cumulative sums, whole-array transforms) evaluate their full input
// and apply selections to their own output instead.
package array

import (
	"context"
	"fmt"

	uuid "github.com/gofrs/uuid"
)

// Array is a lazy, row-aligned column of data
type Array interface {
	ID() string         // ID uniquely identifies this node
	Name() string       // Name is the kind of this node followed by a short identifier, e.g. "selection-1a2b3c4d"
	Len() int           // Len returns the number of rows
	Width() int         // Width returns the number of components per row
	DType() DType       // DType returns the element type
	Distributive() bool // Distributive is true iff selecting rows of the output equals computing from selected rows of the inputs
	Inputs() []Array    // Inputs returns the nodes this Array is computed from
	eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error)
}

// node holds the metadata common to all Arrays
type node struct {
	id     string
	name   string
	length int
	width  int
	dtype  DType
}

func newNode(kind string, length, width int, dtype DType) node {
	id := uuid.Must(uuid.NewV4()).String()
	if width < 1 {
		width = 1
	}
	return node{id: id, name: kind + "-" + id[:8], length: length, width: width, dtype: dtype}
}

func (n *node) ID() string      { return n.id }
func (n *node) Name() string    { return n.name }
func (n *node) Len() int        { return n.length }
func (n *node) Width() int      { return n.width }
func (n *node) DType() DType    { return n.dtype }
func (n *node) Inputs() []Array { return nil }

// FetchFunc loads rows [start, stop) of a data source
type FetchFunc func(ctx context.Context, start, stop int) (*Buffer, error)

// sourceArray is a leaf reading rows from an external data source
type sourceArray struct {
	node
	fetch FetchFunc
}

// FromSource creates a leaf Array backed by a data source of the given length.
// When evaluated, fetch is only asked for the contiguous runs of rows which are
// actually requested.
func FromSource(kind string, length, width int, dtype DType, fetch FetchFunc) Array {
	return &sourceArray{node: newNode(kind, length, width, dtype), fetch: fetch}
}

func (a *sourceArray) Distributive() bool { return true }

func (a *sourceArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	if rows.IsRange() {
		start, stop := rows.Bounds()
		if start == stop {
			return NewBuffer(a.dtype, a.width, 0), nil
		}
		return a.fetchRun(ctx, ev, start, stop)
	}
	runs := rows.Runs()
	parts := make([]*Buffer, 0, len(runs))
	// position of each fetched row within the concatenation of all runs
	offsets := make(map[int]int, rows.Len())
	pos := 0
	for _, run := range runs {
		buf, err := a.fetchRun(ctx, ev, run[0], run[1])
		if err != nil {
			return nil, err
		}
		for r := run[0]; r < run[1]; r++ {
			offsets[r] = pos + r - run[0]
		}
		pos += run[1] - run[0]
		parts = append(parts, buf)
	}
	fetched, err := Concatenate(parts...)
	if err != nil {
		return nil, err
	}
	gather := make([]int, rows.Len())
	for i := range gather {
		gather[i] = offsets[rows.At(i)]
	}
	return fetched.Take(RowIndex(gather)), nil
}

func (a *sourceArray) fetchRun(ctx context.Context, ev *evaluator, start, stop int) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := a.fetch(ctx, start, stop)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching rows [%d, %d): %w", a.name, start, stop, err)
	}
	if buf.Len() != stop-start || buf.Width() != a.width {
		return nil, fmt.Errorf("%s: fetch of rows [%d, %d) returned %d rows of width %d", a.name, start, stop, buf.Len(), buf.Width())
	}
	ev.observeFetch(stop - start)
	return buf, nil
}

// RowGenerator writes the components of one row, identified by its position, into out
type RowGenerator func(row int, out []float64) error

// funcArray is a leaf computing each row from its position
type funcArray struct {
	node
	gen RowGenerator
}

// FromFunc creates a procedural leaf Array: every row is a pure function of its position
func FromFunc(kind string, length, width int, dtype DType, gen RowGenerator) Array {
	return &funcArray{node: newNode(kind, length, width, dtype), gen: gen}
}

func (a *funcArray) Distributive() bool { return true }

func (a *funcArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	out := NewBuffer(a.dtype, a.width, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		if err := a.gen(rows.At(i), out.Row(i)); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", a.name, rows.At(i), err)
		}
	}
	ev.observeGenerated(rows.Len())
	return out, nil
}

// bufferArray is a leaf wrapping already materialized data
type bufferArray struct {
	node
	buf *Buffer
}

// FromBuffer wraps a materialized Buffer as an Array
func FromBuffer(buf *Buffer) Array {
	return &bufferArray{node: newNode("array", buf.Len(), buf.Width(), buf.DType()), buf: buf}
}

func (a *bufferArray) Distributive() bool { return true }

func (a *bufferArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	return a.buf.Take(rows), nil
}

// FromFloat64s wraps a slice of scalar values as an Array
func FromFloat64s(values []float64) Array {
	data := make([]float64, len(values))
	copy(data, values)
	return FromBuffer(&Buffer{dtype: Float64, width: 1, data: data})
}

// FromInt64s wraps a slice of integers as an Array. Integers are held as
// float64 elements, so values beyond MaxExactInt are rejected.
func FromInt64s(values []int64) (Array, error) {
	data := make([]float64, len(values))
	for i, v := range values {
		f, err := ExactInt64(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		data[i] = f
	}
	return FromBuffer(&Buffer{dtype: Int64, width: 1, data: data}), nil
}

// FromBools wraps a slice of booleans as an Array
func FromBools(values []bool) Array {
	data := make([]float64, len(values))
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return FromBuffer(&Buffer{dtype: Bool, width: 1, data: data})
}

// FromVectors wraps equal-length rows (e.g. 3-vectors) as an Array
func FromVectors(rows [][]float64) (Array, error) {
	if len(rows) == 0 {
		return FromBuffer(NewBuffer(Float64, 1, 0)), nil
	}
	width := len(rows[0])
	buf := NewBuffer(Float64, width, len(rows))
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d components, expected %d", i, len(row), width)
		}
		copy(buf.Row(i), row)
	}
	return FromBuffer(buf), nil
}

// constArray repeats a single row
type constArray struct {
	node
	value []float64
}

// Full creates an Array of the given length in which every row equals value
func Full(length int, dtype DType, value ...float64) Array {
	if len(value) == 0 {
		value = []float64{0}
	}
	return &constArray{node: newNode("full", length, len(value), dtype), value: value}
}

// Scalar creates a single-row Array, which broadcasts against Arrays of any length in binary operations
func Scalar(v float64) Array {
	return Full(1, Float64, v)
}

func (a *constArray) Distributive() bool { return true }

func (a *constArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	out := NewBuffer(a.dtype, a.width, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		copy(out.Row(i), a.value)
	}
	return out, nil
}
