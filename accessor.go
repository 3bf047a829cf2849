package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/selection"
)

// ColumnAccessor is a lazy column of a Catalog. It stays pure for as long
// as its array is the Catalog's current definition of its name.
type ColumnAccessor struct {
	cat  *Catalog
	name string
	arr  array.Array
}

func newColumnAccessor(cat *Catalog, name string, arr array.Array) *ColumnAccessor {
	return &ColumnAccessor{cat: cat, name: name, arr: arr}
}

// Name returns the name of this column
func (a *ColumnAccessor) Name() string {
	return a.name
}

// Array returns the lazy array of this column, for use in array expressions
func (a *ColumnAccessor) Array() array.Array {
	return a.arr
}

// Catalog returns the Catalog this column was read from
func (a *ColumnAccessor) Catalog() *Catalog {
	return a.cat
}

// Len returns the number of rows of this column
func (a *ColumnAccessor) Len() int {
	return a.arr.Len()
}

// Width returns the number of components per row
func (a *ColumnAccessor) Width() int {
	return a.arr.Width()
}

// DType returns the element type of this column
func (a *ColumnAccessor) DType() array.DType {
	return a.arr.DType()
}

// IsPure returns true iff this accessor still holds the Catalog's current definition of its column
func (a *ColumnAccessor) IsPure() bool {
	e, err := a.cat.graph.Get(a.name)
	if err != nil {
		return false
	}
	return e.Array.ID() == a.arr.ID()
}

// Compute materializes this column on this rank. Pure columns are memoized
// when the Catalog's cache is enabled.
func (a *ColumnAccessor) Compute(ctx context.Context) (*array.Buffer, error) {
	key, ok := a.cat.cacheKey(a)
	if !ok {
		bufs, err := a.cat.ComputeArrays(ctx, a.arr)
		if err != nil {
			return nil, err
		}
		return bufs[0], nil
	}
	return a.cat.fam.cache.GetOrCompute(key, func() (*array.Buffer, error) {
		bufs, err := a.cat.ComputeArrays(ctx, a.arr)
		if err != nil {
			return nil, err
		}
		return bufs[0], nil
	})
}

// Index selects rows of this column. indexer may be anything Slice accepts,
// or a lazy Bool or Int64 column, which is computed first. The result is a
// plain array.Array, unrelated to the Catalog's name table.
func (a *ColumnAccessor) Index(ctx context.Context, indexer any) (array.Array, error) {
	switch ix := indexer.(type) {
	case *ColumnAccessor:
		indexer = ix.Array()
	}
	if lazy, ok := indexer.(array.Array); ok {
		bufs, err := a.cat.ComputeArrays(ctx, lazy)
		if err != nil {
			return nil, err
		}
		indexer = bufs[0]
	}
	sel, err := selection.Parse(indexer)
	if err != nil {
		return nil, err
	}
	rows, err := sel.Resolve(a.arr.Len())
	if err != nil {
		return nil, err
	}
	return array.Select(a.arr, rows), nil
}

// With returns an accessor of the same Catalog and name holding another array.
// Set(name, accessor.With(...)) is the usual way to redefine a column from its current value.
func (a *ColumnAccessor) With(arr array.Array) (*ColumnAccessor, error) {
	if arr.Len() != a.arr.Len() {
		return nil, errors.IncompatibleValueError{Name: a.name, Reason: fmt.Sprintf("length %d does not match column length %d", arr.Len(), a.arr.Len())}
	}
	return newColumnAccessor(a.cat, a.name, arr), nil
}

// String describes this column, computing its first and last rows
func (a *ColumnAccessor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<ColumnAccessor column=%s shape=(%d, %d)>", a.name, a.arr.Len(), a.arr.Width())
	n := a.arr.Len()
	if n == 0 {
		return b.String()
	}
	rows := array.RowIndex([]int{0, n - 1})
	buf, err := array.ComputeRows(context.Background(), a.arr, rows, a.cat.computeOptions())
	if err != nil {
		fmt.Fprintf(&b, " error: %s", err)
		return b.String()
	}
	fmt.Fprintf(&b, " first: %v last: %v", buf.Row(0), buf.Row(1))
	return b.String()
}
