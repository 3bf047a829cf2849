package array

import (
	"context"
	"fmt"
	"math"

	"github.com/go-sif/catalog/internal/util"
)

// evalBroadcast evaluates an operand which may be a single row broadcast against any length
func evalBroadcast(ctx context.Context, ev *evaluator, a Array, rows Rows) (*Buffer, bool, error) {
	if a.Len() == 1 {
		buf, err := ev.eval(ctx, a, RowRange(0, 1))
		return buf, true, err
	}
	buf, err := ev.eval(ctx, a, rows)
	return buf, false, err
}

// rowOf returns row i of buf, or its only row when buf is broadcast
func rowOf(buf *Buffer, broadcast bool, i int) []float64 {
	if broadcast {
		return buf.Row(0)
	}
	return buf.Row(i)
}

// unaryArray applies a function to every element of its input
type unaryArray struct {
	node
	in Array
	fn util.ElementFunction
}

// Map creates an Array applying fn to every element of a
func Map(kind string, a Array, dtype DType, fn util.ElementFunction) Array {
	return &unaryArray{
		node: newNode(kind, a.Len(), a.Width(), dtype),
		in:   a,
		fn:   util.SafeElementFunction(kind, fn),
	}
}

func (a *unaryArray) Distributive() bool { return true }
func (a *unaryArray) Inputs() []Array    { return []Array{a.in} }

func (a *unaryArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	in, err := ev.eval(ctx, a.in, rows)
	if err != nil {
		return nil, err
	}
	out := NewBuffer(a.dtype, a.width, in.Len())
	for i, v := range in.data {
		if out.data[i], err = a.fn(v); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", a.name, rows.At(i/a.width), err)
		}
	}
	return out, nil
}

// Neg negates every element
func Neg(a Array) Array {
	return Map("negative", a, a.DType(), func(v float64) (float64, error) { return -v, nil })
}

// Abs takes the absolute value of every element
func Abs(a Array) Array {
	return Map("absolute", a, a.DType(), func(v float64) (float64, error) { return math.Abs(v), nil })
}

// Sqrt takes the square root of every element
func Sqrt(a Array) Array {
	return Map("sqrt", a, Float64, func(v float64) (float64, error) { return math.Sqrt(v), nil })
}

// Not inverts a boolean Array
func Not(a Array) Array {
	return Map("invert", a, Bool, func(v float64) (float64, error) { return boolToFloat(v == 0), nil })
}

// AsType converts the elements of a to another DType
func AsType(a Array, dtype DType) Array {
	if a.DType() == dtype {
		return a
	}
	return Map("astype", a, dtype, func(v float64) (float64, error) {
		switch dtype {
		case Bool:
			return boolToFloat(v != 0), nil
		case Int64:
			return math.Trunc(v), nil
		default:
			return v, nil
		}
	})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ShapeError is the panic value of the Array constructors in this package
// when their operands cannot be combined. Use Build to receive it as an error.
type ShapeError struct {
	Op     string
	Reason string
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Build calls construct and returns the Array it creates, or the ShapeError
// raised by any constructor it calls. Other panics propagate.
func Build(construct func() Array) (a Array, err error) {
	defer func() {
		if r := recover(); r != nil {
			shapeErr, ok := r.(ShapeError)
			if !ok {
				panic(r)
			}
			a, err = nil, shapeErr
		}
	}()
	return construct(), nil
}

// BinaryFunction combines two elements
type BinaryFunction func(x, y float64) float64

// binaryArray combines two inputs element-wise, broadcasting single rows and single components
type binaryArray struct {
	node
	x, y Array
	fn   BinaryFunction
}

// Binary creates an element-wise combination of x and y. Operands must have
// equal lengths unless one of them has length 1, and equal widths unless one
// of them has width 1. Mismatched shapes panic with a ShapeError, as do those
// of every element-wise operation built on Binary (Add, Sub, Greater, And and
// the others below).
func Binary(kind string, x, y Array, dtype DType, fn BinaryFunction) Array {
	length := x.Len()
	switch {
	case x.Len() == y.Len():
	case x.Len() == 1:
		length = y.Len()
	case y.Len() == 1:
	default:
		panic(ShapeError{Op: kind, Reason: fmt.Sprintf("operands have mismatched lengths %d and %d", x.Len(), y.Len())})
	}
	width := x.Width()
	switch {
	case x.Width() == y.Width():
	case x.Width() == 1:
		width = y.Width()
	case y.Width() == 1:
	default:
		panic(ShapeError{Op: kind, Reason: fmt.Sprintf("operands have mismatched widths %d and %d", x.Width(), y.Width())})
	}
	return &binaryArray{node: newNode(kind, length, width, dtype), x: x, y: y, fn: fn}
}

func (a *binaryArray) Distributive() bool { return true }
func (a *binaryArray) Inputs() []Array    { return []Array{a.x, a.y} }

func (a *binaryArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	xb, xBroadcast, err := evalBroadcast(ctx, ev, a.x, rows)
	if err != nil {
		return nil, err
	}
	yb, yBroadcast, err := evalBroadcast(ctx, ev, a.y, rows)
	if err != nil {
		return nil, err
	}
	out := NewBuffer(a.dtype, a.width, rows.Len())
	for i := 0; i < rows.Len(); i++ {
		xr, yr, or := rowOf(xb, xBroadcast, i), rowOf(yb, yBroadcast, i), out.Row(i)
		for k := range or {
			xv, yv := xr[0], yr[0]
			if len(xr) > 1 {
				xv = xr[k]
			}
			if len(yr) > 1 {
				yv = yr[k]
			}
			or[k] = a.fn(xv, yv)
		}
	}
	return out, nil
}

func arithmeticType(x, y Array) DType {
	if x.DType() == Float64 || y.DType() == Float64 {
		return Float64
	}
	return Int64
}

// Add sums two Arrays element-wise
func Add(x, y Array) Array {
	return Binary("add", x, y, arithmeticType(x, y), func(a, b float64) float64 { return a + b })
}

// Sub subtracts y from x element-wise
func Sub(x, y Array) Array {
	return Binary("subtract", x, y, arithmeticType(x, y), func(a, b float64) float64 { return a - b })
}

// Mul multiplies two Arrays element-wise
func Mul(x, y Array) Array {
	return Binary("multiply", x, y, arithmeticType(x, y), func(a, b float64) float64 { return a * b })
}

// Div divides x by y element-wise
func Div(x, y Array) Array {
	return Binary("truediv", x, y, Float64, func(a, b float64) float64 { return a / b })
}

// Pow raises x to the power y element-wise
func Pow(x, y Array) Array {
	return Binary("power", x, y, Float64, math.Pow)
}

// Mod computes the floored remainder of x and y element-wise
func Mod(x, y Array) Array {
	return Binary("mod", x, y, arithmeticType(x, y), func(a, b float64) float64 {
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m
	})
}

// Greater compares x > y element-wise
func Greater(x, y Array) Array {
	return Binary("greater", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a > b) })
}

// GreaterEqual compares x >= y element-wise
func GreaterEqual(x, y Array) Array {
	return Binary("greater_equal", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a >= b) })
}

// Less compares x < y element-wise
func Less(x, y Array) Array {
	return Binary("less", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a < b) })
}

// LessEqual compares x <= y element-wise
func LessEqual(x, y Array) Array {
	return Binary("less_equal", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a <= b) })
}

// Equal compares x == y element-wise
func Equal(x, y Array) Array {
	return Binary("equal", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a == b) })
}

// NotEqual compares x != y element-wise
func NotEqual(x, y Array) Array {
	return Binary("not_equal", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a != b) })
}

// And combines two boolean Arrays
func And(x, y Array) Array {
	return Binary("and", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a != 0 && b != 0) })
}

// Or combines two boolean Arrays
func Or(x, y Array) Array {
	return Binary("or", x, y, Bool, func(a, b float64) float64 { return boolToFloat(a != 0 || b != 0) })
}

// rowMapArray computes each output row from the corresponding rows of several inputs
type rowMapArray struct {
	node
	in []Array
	fn util.RowFunction
}

// RowMap creates an Array whose rows are computed by fn from the matching rows
// of every input. Inputs must share a length (or have length 1); otherwise, or
// without inputs, RowMap panics with a ShapeError. fn may fail; failures are
// only reported for rows which are actually evaluated.
func RowMap(kind string, width int, dtype DType, fn util.RowFunction, inputs ...Array) Array {
	if len(inputs) == 0 {
		panic(ShapeError{Op: kind, Reason: "row map requires at least one input"})
	}
	length := 1
	for _, in := range inputs {
		if in.Len() == 1 {
			continue
		}
		if length != 1 && in.Len() != length {
			panic(ShapeError{Op: kind, Reason: fmt.Sprintf("inputs have mismatched lengths %d and %d", length, in.Len())})
		}
		length = in.Len()
	}
	return &rowMapArray{
		node: newNode(kind, length, width, dtype),
		in:   inputs,
		fn:   util.SafeRowFunction(kind, fn),
	}
}

func (a *rowMapArray) Distributive() bool { return true }
func (a *rowMapArray) Inputs() []Array    { return a.in }

func (a *rowMapArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	bufs := make([]*Buffer, len(a.in))
	broadcast := make([]bool, len(a.in))
	for j, in := range a.in {
		var err error
		if bufs[j], broadcast[j], err = evalBroadcast(ctx, ev, in, rows); err != nil {
			return nil, err
		}
	}
	out := NewBuffer(a.dtype, a.width, rows.Len())
	args := make([][]float64, len(a.in))
	for i := 0; i < rows.Len(); i++ {
		for j := range bufs {
			args[j] = rowOf(bufs[j], broadcast[j], i)
		}
		if err := a.fn(args, out.Row(i)); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", a.name, rows.At(i), err)
		}
	}
	return out, nil
}

// componentArray picks one component out of a vector Array
type componentArray struct {
	node
	in Array
	k  int
}

// Component selects component k of every row of a. It panics with a
// ShapeError if k is out of range.
func Component(a Array, k int) Array {
	if k < 0 || k >= a.Width() {
		panic(ShapeError{Op: "getitem", Reason: fmt.Sprintf("component %d out of range for width %d", k, a.Width())})
	}
	return &componentArray{node: newNode("getitem", a.Len(), 1, a.DType()), in: a, k: k}
}

func (a *componentArray) Distributive() bool { return true }
func (a *componentArray) Inputs() []Array    { return []Array{a.in} }

func (a *componentArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	in, err := ev.eval(ctx, a.in, rows)
	if err != nil {
		return nil, err
	}
	out := NewBuffer(a.dtype, 1, in.Len())
	for i := range out.data {
		out.data[i] = in.At(i, a.k)
	}
	return out, nil
}

// Stack joins several Arrays of equal length side by side into one vector
// Array. Mismatched lengths panic with a ShapeError.
func Stack(arrays ...Array) Array {
	width := 0
	dtype := Int64
	for _, a := range arrays {
		width += a.Width()
		if a.DType() == Float64 {
			dtype = Float64
		}
	}
	return RowMap("stack", width, dtype, func(in [][]float64, out []float64) error {
		pos := 0
		for _, row := range in {
			pos += copy(out[pos:], row)
		}
		return nil
	}, arrays...)
}

// selectArray takes a subset of rows of its input
type selectArray struct {
	node
	in   Array
	rows Rows
}

// Select creates an Array holding the given rows of a. Selecting from a
// selection composes both row sets into a single node. Rows outside a panic
// with a ShapeError.
func Select(a Array, rows Rows) Array {
	if err := rows.Validate(a.Len()); err != nil {
		panic(ShapeError{Op: "selection", Reason: err.Error()})
	}
	if inner, ok := a.(*selectArray); ok {
		return &selectArray{
			node: newNode("selection", rows.Len(), a.Width(), a.DType()),
			in:   inner.in,
			rows: inner.rows.Map(rows),
		}
	}
	return &selectArray{node: newNode("selection", rows.Len(), a.Width(), a.DType()), in: a, rows: rows}
}

// SelectedRows returns the input and row set of a selection node
func SelectedRows(a Array) (Array, Rows, bool) {
	if s, ok := a.(*selectArray); ok {
		return s.in, s.rows, true
	}
	return nil, Rows{}, false
}

func (a *selectArray) Distributive() bool { return true }
func (a *selectArray) Inputs() []Array    { return []Array{a.in} }

func (a *selectArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	return ev.eval(ctx, a.in, a.rows.Map(rows))
}

// concatArray joins Arrays end to end
type concatArray struct {
	node
	parts   []Array
	offsets []int
}

// Concat joins Arrays of identical width end to end. It panics with a
// ShapeError when given no Arrays or Arrays of different widths.
func Concat(arrays ...Array) Array {
	if len(arrays) == 0 {
		panic(ShapeError{Op: "concatenate", Reason: "requires at least one array"})
	}
	offsets := make([]int, len(arrays)+1)
	dtype := arrays[0].DType()
	for i, a := range arrays {
		if a.Width() != arrays[0].Width() {
			panic(ShapeError{Op: "concatenate", Reason: fmt.Sprintf("width %d does not match %d", a.Width(), arrays[0].Width())})
		}
		if a.DType() != dtype {
			dtype = Float64
		}
		offsets[i+1] = offsets[i] + a.Len()
	}
	return &concatArray{
		node:    newNode("concatenate", offsets[len(arrays)], arrays[0].Width(), dtype),
		parts:   arrays,
		offsets: offsets,
	}
}

func (a *concatArray) Distributive() bool { return true }
func (a *concatArray) Inputs() []Array    { return a.parts }

func (a *concatArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	// requested rows belonging to each part, and where they land in the output
	local := make([][]int, len(a.parts))
	dest := make([][]int, len(a.parts))
	for i := 0; i < rows.Len(); i++ {
		r := rows.At(i)
		p := a.partOf(r)
		local[p] = append(local[p], r-a.offsets[p])
		dest[p] = append(dest[p], i)
	}
	out := NewBuffer(a.dtype, a.width, rows.Len())
	for p, part := range a.parts {
		if len(local[p]) == 0 {
			continue
		}
		buf, err := ev.eval(ctx, part, RowIndex(local[p]))
		if err != nil {
			return nil, err
		}
		for j, d := range dest[p] {
			copy(out.Row(d), buf.Row(j))
		}
	}
	return out, nil
}

func (a *concatArray) partOf(row int) int {
	lo, hi := 0, len(a.parts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.offsets[mid] <= row {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// WindowFunction transforms a whole materialized input into an output
type WindowFunction func(in *Buffer) (*Buffer, error)

// windowArray is a non-distributive transform: every output row may depend on every input row
type windowArray struct {
	node
	in Array
	fn WindowFunction
}

// Window creates a non-distributive Array computed by fn from the entirety of
// a. Selections applied to a Window are applied to its output, never pushed
// into its input.
func Window(kind string, a Array, length, width int, dtype DType, fn WindowFunction) Array {
	return &windowArray{node: newNode(kind, length, width, dtype), in: a, fn: fn}
}

func (a *windowArray) Distributive() bool { return false }
func (a *windowArray) Inputs() []Array    { return []Array{a.in} }

func (a *windowArray) eval(ctx context.Context, ev *evaluator, rows Rows) (*Buffer, error) {
	full, err := ev.memoized(ctx, a.id, func() (*Buffer, error) {
		in, err := ev.eval(ctx, a.in, RowRange(0, a.in.Len()))
		if err != nil {
			return nil, err
		}
		out, err := a.fn(in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if out.Len() != a.length || out.Width() != a.width {
			return nil, fmt.Errorf("%s: produced %d rows of width %d, expected %d rows of width %d", a.name, out.Len(), out.Width(), a.length, a.width)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return full.Take(rows), nil
}

// CumSum computes the running sum of every component of a
func CumSum(a Array) Array {
	return Window("cumsum", a, a.Len(), a.Width(), arithmeticType(a, a), func(in *Buffer) (*Buffer, error) {
		out := NewBuffer(in.DType(), in.Width(), in.Len())
		for i := 0; i < in.Len(); i++ {
			for k, v := range in.Row(i) {
				if i > 0 {
					v += out.At(i-1, k)
				}
				out.Row(i)[k] = v
			}
		}
		return out, nil
	})
}

// Center subtracts the per-component mean of a from every row
func Center(a Array) Array {
	return Window("center", a, a.Len(), a.Width(), Float64, func(in *Buffer) (*Buffer, error) {
		out := NewBuffer(Float64, in.Width(), in.Len())
		if in.Len() == 0 {
			return out, nil
		}
		mean := make([]float64, in.Width())
		for i := 0; i < in.Len(); i++ {
			for k, v := range in.Row(i) {
				mean[k] += v
			}
		}
		for k := range mean {
			mean[k] /= float64(in.Len())
		}
		for i := 0; i < in.Len(); i++ {
			for k, v := range in.Row(i) {
				out.Row(i)[k] = v - mean[k]
			}
		}
		return out, nil
	})
}
