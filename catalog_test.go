package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/comm"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/filestack/memory"
	"github.com/go-sif/catalog/schema"
	"github.com/go-sif/catalog/selection"
	catalogtesting "github.com/go-sif/catalog/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var rankCounts = []int{1, 4}

func quietOptions(c comm.Comm) *Options {
	logger := zerolog.Nop()
	return &Options{Comm: c, Logger: &logger}
}

// countingStack records how many rows are fetched from it
type countingStack struct {
	*memory.FileStack
	fetched int64
}

func (s *countingStack) Fetch(ctx context.Context, column string, start, stop int64) (*array.Buffer, error) {
	atomic.AddInt64(&s.fetched, stop-start)
	return s.FileStack.Fetch(ctx, column, start, stop)
}

// particles creates a FileStack of n rows: x holds the global row, Position holds (row, row, row)
func particles(n int) (*countingStack, error) {
	sch := schema.CreateSchema()
	if err := sch.CreateColumn("x", schema.ColumnType{DType: array.Float64, Width: 1}); err != nil {
		return nil, err
	}
	if err := sch.CreateColumn("Position", schema.ColumnType{DType: array.Float64, Width: 3}); err != nil {
		return nil, err
	}
	x := array.NewBuffer(array.Float64, 1, n)
	pos := array.NewBuffer(array.Float64, 3, n)
	for i := 0; i < n; i++ {
		x.Row(i)[0] = float64(i)
		copy(pos.Row(i), []float64{float64(i), float64(i), float64(i)})
	}
	fs, err := memory.Create(sch, map[string]*array.Buffer{"x": x, "Position": pos}, map[string]any{"BoxSize": 100.0})
	if err != nil {
		return nil, err
	}
	return &countingStack{FileStack: fs}, nil
}

func compute(ctx context.Context) func(col *ColumnAccessor, err error) ([]float64, error) {
	return func(col *ColumnAccessor, err error) ([]float64, error) {
		if err != nil {
			return nil, err
		}
		buf, err := col.Compute(ctx)
		if err != nil {
			return nil, err
		}
		return buf.Data(), nil
	}
}

func TestFromFileStack(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		fs, err := particles(100)
		if err != nil {
			return err
		}
		cat, err := FromFileStack(ctx, fs, quietOptions(c))
		if err != nil {
			return err
		}
		start, stop := cat.LocalRange()
		if cat.Size() != int(stop-start) || cat.GlobalSize() != 100 {
			return fmt.Errorf("unexpected sizes %d, %d", cat.Size(), cat.GlobalSize())
		}
		if got := fmt.Sprint(cat.Columns()); got != "[x Position Selection Value Weight]" {
			return fmt.Errorf("unexpected columns %s", got)
		}
		if v, ok := cat.Attrs().GetFloat64("BoxSize"); !ok || v != 100 {
			return fmt.Errorf("attrs were not broadcast")
		}
		csize, err := cat.CSize(ctx)
		if err != nil {
			return err
		}
		if csize != 100 {
			return fmt.Errorf("csize %d", csize)
		}
		// nothing is read until a column is computed
		if atomic.LoadInt64(&fs.fetched) != 0 {
			return fmt.Errorf("rows fetched eagerly")
		}
		x, err := compute(ctx)(cat.Get("x"))
		if err != nil {
			return err
		}
		if len(x) != cat.Size() || (len(x) > 0 && x[0] != float64(start)) {
			return fmt.Errorf("rank %d read rows %v", c.Rank(), x)
		}
		return nil
	})
}

func TestSelectionPushdown(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		fs, err := particles(100)
		if err != nil {
			return err
		}
		cat, err := FromFileStack(ctx, fs, quietOptions(c))
		if err != nil {
			return err
		}
		start, _ := cat.LocalRange()
		first, err := cat.Slice([]int{3, 1})
		if err != nil {
			return err
		}
		second, err := first.Slice([]int{1})
		if err != nil {
			return err
		}
		col, err := second.Get("x")
		if err != nil {
			return err
		}
		if !col.IsPure() {
			return fmt.Errorf("column of a double slice is not pure")
		}
		buf, err := col.Compute(ctx)
		if err != nil {
			return err
		}
		if buf.Len() != 1 || buf.At(0, 0) != float64(start+1) {
			return fmt.Errorf("unexpected rows %s", buf)
		}
		if n := atomic.LoadInt64(&fs.fetched); n != 1 {
			return fmt.Errorf("fetched %d rows for a single selected row", n)
		}
		if n := cat.Statistics().GetNumRowsFetched(); n != 1 {
			return fmt.Errorf("statistics report %d rows fetched", n)
		}

		// redefining the column makes older accessors impure
		if err := second.Set("x", array.Mul(col.Array(), array.Scalar(2))); err != nil {
			return err
		}
		if col.IsPure() {
			return fmt.Errorf("stale accessor is still pure")
		}
		return nil
	})
}

func TestReassignmentFixedPoint(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		n := 5 + c.Rank()
		cat, err := FromArrays(ctx, map[string]array.Array{
			"Position": array.Full(n, array.Float64, 1, 1, 1),
			"Velocity": array.Full(n, array.Float64, 1, 1, 1),
		}, quietOptions(c))
		if err != nil {
			return err
		}
		get := func(name string) *ColumnAccessor {
			col, err := cat.Get(name)
			if err != nil {
				panic(err)
			}
			return col
		}
		if err := cat.Set("Velocity", array.Add(get("Position").Array(), get("Velocity").Array())); err != nil {
			return err
		}
		if err := cat.Set("Position", array.Add(get("Position").Array(), get("Velocity").Array())); err != nil {
			return err
		}
		pos, err := compute(ctx)(cat.Get("Position"))
		if err != nil {
			return err
		}
		for _, v := range pos {
			if v != 3 {
				return fmt.Errorf("position %v", pos)
			}
		}
		// the hard backing is untouched
		hard, err := compute(ctx)(cat.GetHardColumn("Position"))
		if err != nil {
			return err
		}
		for _, v := range hard {
			if v != 1 {
				return fmt.Errorf("hard position %v", hard)
			}
		}
		var protected errors.ProtectedColumnError
		if err := cat.Delete("Position"); !stderrors.As(err, &protected) {
			return fmt.Errorf("overridden hard column was deleted: %v", err)
		}
		return nil
	})
}

func TestFilterBeforeFailingTransform(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"z": array.FromFloat64s([]float64{0.5, -1, 0.1, -0.2}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)
	z, err := cat.Get("z")
	require.Nil(t, err)
	checked := array.RowMap("checked", 1, array.Float64, func(in [][]float64, out []float64) error {
		if in[0][0] < 0 {
			return fmt.Errorf("negative redshift %f", in[0][0])
		}
		out[0] = math.Sqrt(in[0][0])
		return nil
	}, z.Array())
	require.Nil(t, cat.Set("sqrtz", checked))
	_, err = compute(ctx)(cat.Get("sqrtz"))
	require.NotNil(t, err)

	positive, err := cat.Filter(ctx, array.GreaterEqual(z.Array(), array.Scalar(0)))
	require.Nil(t, err)
	require.Equal(t, 2, positive.Size())
	values, err := compute(ctx)(positive.Get("sqrtz"))
	require.Nil(t, err)
	require.InDeltaSlice(t, []float64{math.Sqrt(0.5), math.Sqrt(0.1)}, values, 1e-12)
}

func TestCopyAndViewIndependence(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"x": array.FromFloat64s([]float64{1, 2, 3}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)
	cat.Attrs().Set("title", "original")

	cp, err := cat.Copy()
	require.Nil(t, err)
	require.Nil(t, cp.Set("y", array.Full(3, array.Float64, 7)))
	cp.Attrs().Set("title", "copy")
	require.False(t, cat.Has("y"))
	title, _ := cat.Attrs().Get("title")
	require.Equal(t, "original", title)
	require.Nil(t, cp.Base())

	view := cat.View()
	require.Same(t, cat, view.Base())
	view.Attrs().Set("title", "view")
	title, _ = cat.Attrs().Get("title")
	require.Equal(t, "original", title)
	// views share column storage
	require.Nil(t, view.Set("z", array.Full(3, array.Float64, 2)))
	require.True(t, cat.Has("z"))

	sliced, err := cat.Slice(selection.Range(1, selection.None, 1))
	require.Nil(t, err)
	require.Nil(t, sliced.Set("w", array.Full(2, array.Float64, 1)))
	require.False(t, cat.Has("w"))
	x, err := compute(ctx)(sliced.Get("x"))
	require.Nil(t, err)
	require.Equal(t, []float64{2, 3}, x)
}

func TestSelectColumns(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"a": array.FromFloat64s([]float64{1, 2}),
		"b": array.FromFloat64s([]float64{3, 4}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)
	a, err := cat.Get("a")
	require.Nil(t, err)
	require.Nil(t, cat.Set("c", array.Add(a.Array(), array.Scalar(1))))

	sub, err := cat.Select("c", "b")
	require.Nil(t, err)
	require.Equal(t, []string{"b", "Selection", "Value", "Weight", "c"}, sub.Columns())
	require.Same(t, cat, sub.Base())
	c, err := compute(ctx)(sub.Get("c"))
	require.Nil(t, err)
	require.Equal(t, []float64{2, 3}, c)

	var missing errors.MissingColumnError
	_, err = cat.Select("a", "nope")
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "nope", missing.Name)
}

func TestMalformedOperations(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"x": array.FromFloat64s([]float64{1, 2, 3}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)

	var protected errors.ProtectedColumnError
	require.ErrorAs(t, cat.Delete("x"), &protected)
	require.ErrorAs(t, cat.Delete("Weight"), &protected)
	var missing errors.MissingColumnError
	require.ErrorAs(t, cat.Delete("nothing"), &missing)
	_, err = cat.Get("nothing")
	require.ErrorAs(t, err, &missing)

	var selector errors.InvalidSelectorError
	_, err = cat.Slice([]float64{0, 1})
	require.ErrorAs(t, err, &selector)
	_, err = cat.Slice([]bool{true})
	require.ErrorAs(t, err, &selector)
	_, err = cat.Slice([]int{5})
	require.ErrorAs(t, err, &selector)

	var incompatible errors.IncompatibleValueError
	buf, err := array.BufferOf(array.Float64, 1, []float64{1, 2, 3})
	require.Nil(t, err)
	require.ErrorAs(t, cat.Set("y", buf), &incompatible)
	require.ErrorAs(t, cat.Set("y", []float64{1, 2}), &incompatible)
	require.ErrorAs(t, cat.Set("y", "text"), &incompatible)
	require.Nil(t, cat.Set("y", []int{4, 5, 6}))
	require.Nil(t, cat.Set("flag", true))

	var notHard errors.AttributeProbeError
	_, err = cat.GetHardColumn("y")
	require.ErrorAs(t, err, &notHard)

	empty, err := New(quietOptions(comm.Self()))
	require.Nil(t, err)
	require.Equal(t, Unresolved, empty.Size())
	var conf errors.ConfigurationError
	require.ErrorAs(t, empty.Set("w", 1.0), &conf)
	_, err = empty.CSize(ctx)
	require.ErrorAs(t, err, &conf)
	_, err = empty.Slice([]int{0})
	require.ErrorAs(t, err, &conf)
	require.Contains(t, empty.String(), "size=unresolved")

	// the first column fixes the size
	require.Nil(t, empty.Set("v", [][]float64{{1, 2}, {3, 4}}))
	require.Equal(t, 2, empty.Size())
	require.Equal(t, int64(2), empty.GlobalSize())
	start, stop := empty.LocalRange()
	require.Equal(t, [2]int64{0, 2}, [2]int64{start, stop})
	require.True(t, empty.Has("Selection"))
	require.ErrorAs(t, empty.Set("u", []bool{true}), &incompatible)
}

func TestResolveSetSizes(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		cat, err := New(quietOptions(c))
		if err != nil {
			return err
		}
		var conf errors.ConfigurationError
		if err := cat.Resolve(ctx); !stderrors.As(err, &conf) {
			return fmt.Errorf("resolved an empty catalog: %v", err)
		}
		n := c.Rank() + 2
		if err := cat.Set("x", make([]float64, n)); err != nil {
			return err
		}
		if start, stop := cat.LocalRange(); start != 0 || stop != int64(n) {
			return fmt.Errorf("local range [%d, %d) before resolving", start, stop)
		}
		if err := cat.Resolve(ctx); err != nil {
			return err
		}
		// ranks hold 2, 3, 4, ... rows
		var want int64
		for r := 0; r < c.Rank(); r++ {
			want += int64(r + 2)
		}
		if start, stop := cat.LocalRange(); start != want || stop != want+int64(n) {
			return fmt.Errorf("local range [%d, %d), expected start %d", start, stop, want)
		}
		var total int64
		for r := 0; r < c.Size(); r++ {
			total += int64(r + 2)
		}
		if cat.GlobalSize() != total {
			return fmt.Errorf("global size %d, expected %d", cat.GlobalSize(), total)
		}
		// resolving again changes nothing
		if err := cat.Resolve(ctx); err != nil {
			return err
		}
		if start, _ := cat.LocalRange(); start != want {
			return fmt.Errorf("local range moved to %d", start)
		}
		return nil
	})
}

func TestSetLargeIntegers(t *testing.T) {
	cat, err := New(quietOptions(comm.Self()))
	require.Nil(t, err)
	var incompatible errors.IncompatibleValueError
	err = cat.Set("id", []int64{1, array.MaxExactInt + 1})
	require.True(t, stderrors.As(err, &incompatible), err)
	require.Equal(t, "id", incompatible.Name)
	require.False(t, cat.Has("id"))

	require.Nil(t, cat.Set("id", []int64{1, array.MaxExactInt}))
	err = cat.Set("big", int64(array.MaxExactInt+1))
	require.True(t, stderrors.As(err, &incompatible), err)
	require.Nil(t, cat.Set("small", int64(-array.MaxExactInt)))

	col, err := cat.Get("id")
	require.Nil(t, err)
	buf, err := col.Compute(context.Background())
	require.Nil(t, err)
	require.Equal(t, int64(array.MaxExactInt), int64(buf.At(1, 0)))
}

func TestColumnAccessor(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"x": array.FromFloat64s([]float64{10, 20, 30, 40}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)
	x, err := cat.Get("x")
	require.Nil(t, err)
	require.Equal(t, "x", x.Name())
	require.Equal(t, 4, x.Len())
	require.Equal(t, array.Float64, x.DType())
	require.Contains(t, x.String(), "first: [10] last: [40]")

	picked, err := x.Index(ctx, []int{3, 0, 3})
	require.Nil(t, err)
	buf, err := array.Compute(ctx, picked, nil)
	require.Nil(t, err)
	require.Equal(t, []float64{40, 10, 40}, buf.Data())

	masked, err := x.Index(ctx, array.Greater(x.Array(), array.Scalar(15)))
	require.Nil(t, err)
	buf, err = array.Compute(ctx, masked, nil)
	require.Nil(t, err)
	require.Equal(t, []float64{20, 30, 40}, buf.Data())

	doubled, err := x.With(array.Mul(x.Array(), array.Scalar(2)))
	require.Nil(t, err)
	require.False(t, doubled.IsPure())
	require.Nil(t, cat.Set("x", doubled))
	require.True(t, doubled.IsPure())
}

func TestCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	fs, err := particles(10)
	require.Nil(t, err)
	opts := quietOptions(comm.Self())
	opts.UseCache = true
	cat, err := FromFileStack(ctx, fs, opts)
	require.Nil(t, err)

	x, err := cat.Get("x")
	require.Nil(t, err)
	first, err := x.Compute(ctx)
	require.Nil(t, err)
	second, err := x.Compute(ctx)
	require.Nil(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 10, atomic.LoadInt64(&fs.fetched))
	require.Equal(t, 1, cat.fam.cache.CurrentSize())

	// batch compute serves cached columns too
	bufs, err := cat.Compute(ctx, x)
	require.Nil(t, err)
	require.Same(t, first, bufs[0])
	require.EqualValues(t, 10, atomic.LoadInt64(&fs.fetched))

	require.Nil(t, cat.Set("x", array.Mul(x.Array(), array.Scalar(2))))
	require.Equal(t, 0, cat.fam.cache.CurrentSize())
	doubled, err := compute(ctx)(cat.Get("x"))
	require.Nil(t, err)
	require.Equal(t, 18.0, doubled[9])
}

func TestViewsShareInvalidationHook(t *testing.T) {
	ctx := context.Background()
	fs, err := particles(10)
	require.Nil(t, err)
	opts := quietOptions(comm.Self())
	opts.UseCache = true
	cat, err := FromFileStack(ctx, fs, opts)
	require.Nil(t, err)
	require.Equal(t, 1, cat.graph.NumHooks())

	views := make([]*Catalog, 100)
	for i := range views {
		views[i] = cat.View()
	}
	require.Equal(t, 1, cat.graph.NumHooks())

	x, err := views[99].Get("x")
	require.Nil(t, err)
	_, err = x.Compute(ctx)
	require.Nil(t, err)
	require.Equal(t, 1, cat.fam.cache.CurrentSize())
	require.Nil(t, views[0].Set("x", 1.0))
	require.Equal(t, 0, cat.fam.cache.CurrentSize())

	// a copy owns a new graph with its own hook
	cp, err := cat.Copy()
	require.Nil(t, err)
	require.Equal(t, 1, cp.graph.NumHooks())
}

func TestAllGather(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		values := make([]int64, c.Rank()+1)
		for i := range values {
			values[i] = int64(c.Rank())
		}
		ranks, err := array.FromInt64s(values)
		if err != nil {
			return err
		}
		cat, err := FromArrays(ctx, map[string]array.Array{"rank": ranks}, quietOptions(c))
		if err != nil {
			return err
		}
		start, stop := cat.LocalRange()
		if want := int64(c.Rank() * (c.Rank() + 1) / 2); start != want || stop != want+int64(len(values)) {
			return fmt.Errorf("local range [%d, %d)", start, stop)
		}
		all, err := cat.AllGather(ctx, "rank")
		if err != nil {
			return err
		}
		if int64(all.Len()) != cat.GlobalSize() || all.DType() != array.Int64 {
			return fmt.Errorf("gathered %s", all)
		}
		if last := all.At(all.Len()-1, 0); last != float64(c.Size()-1) {
			return fmt.Errorf("last gathered row %f", last)
		}
		// a missing column fails on every rank
		if _, err := cat.AllGather(ctx, "nothing"); err == nil {
			return fmt.Errorf("gathering a missing column succeeded")
		}
		return nil
	})
}
