package transform

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"testing"

	"github.com/go-sif/catalog"
	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/comm"
	errors "github.com/go-sif/catalog/errors"
	catalogtesting "github.com/go-sif/catalog/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func options(c comm.Comm) *catalog.Options {
	logger := zerolog.Nop()
	return &catalog.Options{Comm: c, Logger: &logger}
}

func TestSkyToCartesian(t *testing.T) {
	catalogtesting.RunRanks(t, []int{1, 4}, func(c comm.Comm) error {
		ctx := context.Background()
		s, err := catalog.Random(ctx, 100, 42, options(c))
		if err != nil {
			return err
		}
		for name, col := range map[string]array.Array{
			"z":   s.Rng().Uniform(0.3, 0.7, 1),
			"ra":  s.Rng().Uniform(110, 260, 1),
			"dec": s.Rng().Uniform(-3.6, 60, 1),
		} {
			if err := s.Set(name, col); err != nil {
				return err
			}
		}
		ra, _ := s.Get("ra")
		dec, _ := s.Get("dec")
		z, _ := s.Get("z")
		exact, err := SkyToCartesian(ra, dec, z, Planck15, nil)
		if err != nil {
			return err
		}
		interpolated, err := SkyToCartesian(ra, dec, z, Planck15, &SkyOptions{Interpolate: true})
		if err != nil {
			return err
		}
		if err := s.Set("Position1", exact); err != nil {
			return err
		}
		if err := s.Set("Position2", interpolated); err != nil {
			return err
		}
		p1, err := s.AllGather(ctx, "Position1")
		if err != nil {
			return err
		}
		p2, err := s.AllGather(ctx, "Position2")
		if err != nil {
			return err
		}
		for i, v := range p1.Data() {
			if math.Abs(v-p2.Data()[i]) > 1e-5*math.Abs(v)+1e-8 {
				return fmt.Errorf("component %d: %f vs %f", i, v, p2.Data()[i])
			}
		}

		// materialized buffers are rejected
		buf, err := ra.Compute(ctx)
		if err != nil {
			return err
		}
		var incompatible errors.IncompatibleValueError
		if _, err := SkyToCartesian(buf, dec, z, Planck15, nil); !stderrors.As(err, &incompatible) {
			return fmt.Errorf("a buffer was accepted: %v", err)
		}
		return nil
	})
}

func TestComovingDistance(t *testing.T) {
	require.Equal(t, 0.0, Planck15.ComovingDistance(0))
	d := Planck15.ComovingDistance(0.5)
	require.InDelta(t, 1318.62, d, 0.01)
	table := newDistanceTable(Planck15)
	require.InEpsilon(t, d, table.at(0.5), 1e-6)
	require.InEpsilon(t, Planck15.ComovingDistance(12), table.at(12), 1e-12)
}

func TestSkyToCartesianRejectsNegativeRedshift(t *testing.T) {
	ctx := context.Background()
	coords, err := SkyToCartesian(
		array.FromFloat64s([]float64{0, 90}),
		array.FromFloat64s([]float64{0, 0}),
		array.FromFloat64s([]float64{0.1, -0.1}),
		Planck15, nil,
	)
	require.Nil(t, err)
	_, err = array.Compute(ctx, coords, nil)
	require.NotNil(t, err)
	first, err := array.ComputeRows(ctx, coords, array.RowRange(0, 1), nil)
	require.Nil(t, err)
	require.InDelta(t, Planck15.ComovingDistance(0.1), first.At(0, 0), 1e-9)
	require.InDelta(t, 0, first.At(0, 2), 1e-9)
}

func TestStackColumns(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.FromArrays(ctx, map[string]array.Array{
		"x": array.FromFloat64s([]float64{1, 2}),
		"y": array.FromFloat64s([]float64{3, 4}),
		"z": array.FromFloat64s([]float64{5, 6}),
	}, options(comm.Self()))
	require.Nil(t, err)
	x, _ := cat.Get("x")
	y, _ := cat.Get("y")
	z, _ := cat.Get("z")
	pos, err := StackColumns(x, y, z)
	require.Nil(t, err)
	require.Nil(t, cat.Set("Position", pos))
	col, err := cat.Get("Position")
	require.Nil(t, err)
	buf, err := col.Compute(ctx)
	require.Nil(t, err)
	require.Equal(t, []float64{1, 3, 5, 2, 4, 6}, buf.Data())

	xs, err := x.Compute(ctx)
	require.Nil(t, err)
	_, err = StackColumns(xs, y, z)
	var incompatible errors.IncompatibleValueError
	require.ErrorAs(t, err, &incompatible)
	_, err = StackColumns([]float64{1, 2}, y)
	require.ErrorAs(t, err, &incompatible)

	d, err := LinearDistance(pos, array.Full(2, array.Float64, 1, 3, 5))
	require.Nil(t, err)
	dist, err := array.Compute(ctx, d, nil)
	require.Nil(t, err)
	require.InDeltaSlice(t, []float64{0, math.Sqrt(3)}, dist.Data(), 1e-12)
}

func TestConcatenate(t *testing.T) {
	catalogtesting.RunRanks(t, []int{1, 4}, func(c comm.Comm) error {
		ctx := context.Background()
		s1, err := catalog.Uniform(ctx, 3e-6, 600, 1, options(c))
		if err != nil {
			return err
		}
		s2, err := catalog.Uniform(ctx, 3e-6, 600, 2, options(c))
		if err != nil {
			return err
		}
		cat, err := Concatenate(ctx, []*catalog.Catalog{s1, s2})
		if err != nil {
			return err
		}
		if cat.Size() != s1.Size()+s2.Size() {
			return fmt.Errorf("size %d, expected %d", cat.Size(), s1.Size()+s2.Size())
		}
		if fmt.Sprint(cat.Columns()) != "[Position Selection Value Velocity Weight]" {
			return fmt.Errorf("columns %v", cat.Columns())
		}
		if box, ok := cat.Attrs().GetFloat64s("BoxSize", 3); !ok || box[0] != 600 {
			return fmt.Errorf("attrs %s", cat.Attrs())
		}

		only, err := Concatenate(ctx, []*catalog.Catalog{s1, s2}, "Position")
		if err != nil {
			return err
		}
		p1, err := s1.Get("Position")
		if err != nil {
			return err
		}
		p2, err := s2.Get("Position")
		if err != nil {
			return err
		}
		bufs, err := s1.Compute(ctx, p1)
		if err != nil {
			return err
		}
		second, err := s2.Compute(ctx, p2)
		if err != nil {
			return err
		}
		want, err := array.Concatenate(bufs[0], second[0])
		if err != nil {
			return err
		}
		pos, err := only.Get("Position")
		if err != nil {
			return err
		}
		got, err := pos.Compute(ctx)
		if err != nil {
			return err
		}
		if !got.Equal(want) {
			return fmt.Errorf("concatenated positions differ")
		}

		var missing errors.MissingColumnError
		_, err = Concatenate(ctx, []*catalog.Catalog{s1, s2}, "InvalidColumn")
		if !stderrors.As(err, &missing) {
			return fmt.Errorf("an invalid column was concatenated: %v", err)
		}
		return nil
	})
}
