// Package transform provides common column transformations of catalogs:
// sky to cartesian coordinates, stacking of scalar columns, distances, and the
// concatenation of catalogs. Every transformation is lazy; nothing is computed
// until the resulting column is.
package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/go-sif/catalog"
	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
)

// lazy unwraps a column argument, rejecting anything which is not a lazy array
func lazy(name string, v any) (array.Array, error) {
	switch col := v.(type) {
	case *catalog.ColumnAccessor:
		return col.Array(), nil
	case array.Array:
		return col, nil
	default:
		return nil, errors.IncompatibleValueError{Name: name, Reason: fmt.Sprintf("requires lazy array, got %T", v)}
	}
}

func lazyAll(values []any) ([]array.Array, error) {
	arrays := make([]array.Array, len(values))
	for i, v := range values {
		a, err := lazy(fmt.Sprintf("argument %d", i), v)
		if err != nil {
			return nil, err
		}
		arrays[i] = a
	}
	return arrays, nil
}

func sameLength(arrays ...array.Array) error {
	for _, a := range arrays[1:] {
		if a.Len() != arrays[0].Len() {
			return errors.IncompatibleValueError{Reason: fmt.Sprintf("columns have mismatched lengths %d and %d", arrays[0].Len(), a.Len())}
		}
	}
	return nil
}

// StackColumns joins scalar columns side by side into one vector column
func StackColumns(columns ...any) (array.Array, error) {
	if len(columns) == 0 {
		return nil, errors.IncompatibleValueError{Reason: "nothing to stack"}
	}
	arrays, err := lazyAll(columns)
	if err != nil {
		return nil, err
	}
	if err := sameLength(arrays...); err != nil {
		return nil, err
	}
	return array.Stack(arrays...), nil
}

// LinearDistance computes the euclidean distance between the rows of two vector columns
func LinearDistance(a, b any) (array.Array, error) {
	arrays, err := lazyAll([]any{a, b})
	if err != nil {
		return nil, err
	}
	if err := sameLength(arrays...); err != nil {
		return nil, err
	}
	if arrays[0].Width() != arrays[1].Width() {
		return nil, errors.IncompatibleValueError{Reason: fmt.Sprintf("columns have mismatched widths %d and %d", arrays[0].Width(), arrays[1].Width())}
	}
	return array.RowMap("distance", 1, array.Float64, func(in [][]float64, out []float64) error {
		var sum float64
		for k := range in[0] {
			d := in[0][k] - in[1][k]
			sum += d * d
		}
		out[0] = math.Sqrt(sum)
		return nil
	}, arrays...), nil
}

// Concatenate joins the rows of several catalogs, rank by rank. The result
// holds the given columns, or the columns common to every catalog, and the
// attrs of the first catalog. It is a collective operation.
func Concatenate(ctx context.Context, cats []*catalog.Catalog, columns ...string) (*catalog.Catalog, error) {
	if len(cats) == 0 {
		return nil, errors.ConfigurationError{Missing: []string{"catalogs"}, Reason: "nothing to concatenate"}
	}
	if len(columns) == 0 {
		columns = commonColumns(cats)
	}
	joined := make(map[string]array.Array, len(columns))
	for _, name := range columns {
		parts := make([]array.Array, len(cats))
		for i, cat := range cats {
			col, err := cat.Get(name)
			if err != nil {
				return nil, err
			}
			parts[i] = col.Array()
		}
		if err := sameShape(name, parts); err != nil {
			return nil, err
		}
		joined[name] = array.Concat(parts...)
	}
	result, err := catalog.FromArrays(ctx, joined, cats[0].Options())
	if err != nil {
		return nil, err
	}
	result.Attrs().Update(cats[0].Attrs().Clone())
	return result, nil
}

func commonColumns(cats []*catalog.Catalog) []string {
	var common []string
	for _, name := range cats[0].Columns() {
		everywhere := true
		for _, cat := range cats[1:] {
			if !cat.Has(name) {
				everywhere = false
				break
			}
		}
		if everywhere {
			common = append(common, name)
		}
	}
	return common
}

func sameShape(name string, parts []array.Array) error {
	for _, p := range parts[1:] {
		if p.Width() != parts[0].Width() {
			return errors.IncompatibleValueError{
				Name:   name,
				Reason: fmt.Sprintf("cannot concatenate %s[%d] with %s[%d]", parts[0].DType(), parts[0].Width(), p.DType(), p.Width()),
			}
		}
	}
	return nil
}
