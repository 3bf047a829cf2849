package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/datastore"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/filestack/bigfile"
	"github.com/go-sif/catalog/partition"
	catalogtesting "github.com/go-sif/catalog/testing"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoverage(t *testing.T) {
	const csize = 103
	catalogtesting.RunRanks(t, []int{1, 2, 4, 7}, func(c comm.Comm) error {
		ctx := context.Background()
		cat, err := Random(ctx, csize, 42, quietOptions(c))
		if err != nil {
			return err
		}
		start, stop := cat.LocalRange()
		if want := partition.Ranges(csize, c.Size())[c.Rank()]; start != want[0] || stop != want[1] {
			return fmt.Errorf("local range [%d, %d), expected %v", start, stop, want)
		}
		starts, err := comm.GatherInt64(ctx, c, start)
		if err != nil {
			return err
		}
		stops, err := comm.GatherInt64(ctx, c, stop)
		if err != nil {
			return err
		}
		if starts[0] != 0 || stops[len(stops)-1] != csize {
			return fmt.Errorf("ranges %v %v do not cover the catalog", starts, stops)
		}
		for i := 1; i < len(starts); i++ {
			if starts[i] != stops[i-1] {
				return fmt.Errorf("ranges %v %v are not contiguous", starts, stops)
			}
		}
		total, err := cat.CSize(ctx)
		if err != nil {
			return err
		}
		if total != csize {
			return fmt.Errorf("csize %d", total)
		}
		return nil
	})
}

func TestRandomColumnsIndependentOfRanks(t *testing.T) {
	const csize = 50
	reference, err := array.Compute(context.Background(), NewRng(7, 0, csize).Uniform(-1, 1, 2), nil)
	require.Nil(t, err)
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		cat, err := Random(ctx, csize, 7, quietOptions(c))
		if err != nil {
			return err
		}
		if err := cat.Set("u", cat.Rng().Uniform(-1, 1, 2)); err != nil {
			return err
		}
		all, err := cat.AllGather(ctx, "u")
		if err != nil {
			return err
		}
		if !all.Equal(reference) {
			return fmt.Errorf("rank %d generated different values", c.Rank())
		}
		for _, v := range all.Data() {
			if v < -1 || v >= 1 {
				return fmt.Errorf("value %f out of range", v)
			}
		}
		return nil
	})
}

func TestRngDistributions(t *testing.T) {
	ctx := context.Background()
	rng := NewRng(3, 0, 20000)
	normal, err := array.Compute(ctx, rng.Normal(2, 0.5, 1), nil)
	require.Nil(t, err)
	var mean float64
	for _, v := range normal.Data() {
		mean += v
	}
	mean /= float64(normal.Len())
	require.InDelta(t, 2, mean, 0.02)

	ints, err := array.Compute(ctx, rng.Integers(3, 6, 1), nil)
	require.Nil(t, err)
	require.Equal(t, array.Int64, ints.DType())
	for _, v := range ints.Data() {
		require.True(t, v >= 3 && v < 6)
	}
}

func TestUniform(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		cat, err := Uniform(ctx, 3e-4, 100, 11, quietOptions(c))
		if err != nil {
			return err
		}
		csize, err := cat.CSize(ctx)
		if err != nil {
			return err
		}
		// the Poisson mean is 300
		if csize < 200 || csize > 400 {
			return fmt.Errorf("drew %d particles", csize)
		}
		pos, err := compute(ctx)(cat.Get("Position"))
		if err != nil {
			return err
		}
		for _, v := range pos {
			if v < 0 || v >= 100 {
				return fmt.Errorf("position %f outside the box", v)
			}
		}
		if !cat.Has("Velocity") || !cat.Has("Weight") {
			return fmt.Errorf("missing columns %v", cat.Columns())
		}
		box, ok := cat.Attrs().GetFloat64s("BoxSize", 3)
		if !ok || box[2] != 100 {
			return fmt.Errorf("BoxSize attr %v", box)
		}
		return nil
	})
	var conf errors.ConfigurationError
	_, err := Uniform(context.Background(), 0, 100, 1, nil)
	require.ErrorAs(t, err, &conf)
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		store, err := datastore.NewDiskDataStore(filepath.Join(root, strconv.Itoa(c.Size())))
		if err != nil {
			return err
		}
		n := 3 + c.Rank()
		x := make([]float64, n)
		ids := make([]int64, n)
		for i := range x {
			x[i] = float64(c.Rank()*100 + i)
			ids[i] = int64(c.Rank())
		}
		idArray, err := array.FromInt64s(ids)
		if err != nil {
			return err
		}
		cat, err := FromArrays(ctx, map[string]array.Array{
			"x":  array.FromFloat64s(x),
			"id": idArray,
		}, quietOptions(c))
		if err != nil {
			return err
		}
		xcol, err := cat.Get("x")
		if err != nil {
			return err
		}
		if err := cat.Set("x2", array.Mul(xcol.Array(), array.Scalar(2))); err != nil {
			return err
		}
		cat.Attrs().Set("title", "round trip")
		cat.Attrs().Set("unknown", nil)
		cat.Attrs().Set("BoxSize", []any{1.0, 2.0, 3.0})

		if err := cat.Save(ctx, store, []string{"x", "id", "x2"}, &SaveOptions{Compression: bigfile.CompressionZstd}); err != nil {
			return err
		}
		loaded, err := FromBigFile(ctx, store, quietOptions(c))
		if err != nil {
			return err
		}
		if got := fmt.Sprint(loaded.HardColumns()); got != "[x id x2 Selection Value Weight]" {
			return fmt.Errorf("loaded columns %s", got)
		}
		if loaded.GlobalSize() != cat.GlobalSize() {
			return fmt.Errorf("loaded %d rows, saved %d", loaded.GlobalSize(), cat.GlobalSize())
		}
		if got := fmt.Sprint(loaded.Attrs().Keys()); got != "[title unknown BoxSize]" {
			return fmt.Errorf("loaded attrs %s", got)
		}
		if v, ok := loaded.Attrs().Get("unknown"); !ok || v != nil {
			return fmt.Errorf("null attr was not preserved")
		}
		for _, name := range []string{"x", "id", "x2"} {
			saved, err := cat.AllGather(ctx, name)
			if err != nil {
				return err
			}
			restored, err := loaded.AllGather(ctx, name)
			if err != nil {
				return err
			}
			if !saved.Equal(restored) {
				return fmt.Errorf("column %s differs after a round trip: %s vs %s", name, saved, restored)
			}
		}
		return nil
	})
}

// headerCountingStore counts the reads of header objects
type headerCountingStore struct {
	datastore.DataStore
	headerReads atomic.Int64
}

func (s *headerCountingStore) ReadFile(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, "Header/") {
		s.headerReads.Add(1)
	}
	return s.DataStore.ReadFile(ctx, key)
}

func (s *headerCountingStore) Exists(ctx context.Context, key string) (bool, error) {
	if strings.HasPrefix(key, "Header/") {
		s.headerReads.Add(1)
	}
	return s.DataStore.Exists(ctx, key)
}

func TestFromBigFileReadsHeadersOnRankZero(t *testing.T) {
	ctx := context.Background()
	disk, err := datastore.NewDiskDataStore(t.TempDir())
	require.Nil(t, err)
	cat, err := FromArrays(ctx, map[string]array.Array{"x": array.FromFloat64s([]float64{1, 2, 3, 4, 5})}, quietOptions(comm.Self()))
	require.Nil(t, err)
	cat.Attrs().Set("BoxSize", 10.0)
	require.Nil(t, cat.Save(ctx, disk, nil, nil))

	store := &headerCountingStore{DataStore: disk}
	err = catalogtesting.RunLocal(4, func(c comm.Comm) error {
		loaded, err := FromBigFile(ctx, store, quietOptions(c))
		if err != nil {
			return err
		}
		if box, ok := loaded.Attrs().GetFloat64("BoxSize"); !ok || box != 10 {
			return fmt.Errorf("attrs %s", loaded.Attrs())
		}
		size, err := loaded.CSize(ctx)
		if err != nil {
			return err
		}
		if size != 5 {
			return fmt.Errorf("loaded %d rows", size)
		}
		return nil
	})
	require.Nil(t, err)
	// one schema read and one attrs read, on rank 0
	require.Equal(t, int64(2), store.headerReads.Load())

	// ranks fail together when rank 0 cannot read the header
	empty, err := datastore.NewDiskDataStore(t.TempDir())
	require.Nil(t, err)
	err = catalogtesting.RunLocal(3, func(c comm.Comm) error {
		_, err := FromBigFile(ctx, empty, quietOptions(c))
		if err == nil {
			return fmt.Errorf("rank %d opened a missing bigfile", c.Rank())
		}
		return nil
	})
	require.Nil(t, err)
}

func TestSaveMissingColumn(t *testing.T) {
	ctx := context.Background()
	store, err := datastore.NewDiskDataStore(t.TempDir())
	require.Nil(t, err)
	cat, err := FromArrays(ctx, map[string]array.Array{"x": array.FromFloat64s([]float64{1})}, quietOptions(comm.Self()))
	require.Nil(t, err)
	var missing errors.MissingColumnError
	require.ErrorAs(t, cat.Save(ctx, store, []string{"y"}, nil), &missing)
	exists, err := store.Exists(ctx, bigfile.SchemaKey)
	require.Nil(t, err)
	require.False(t, exists)

	_, err = FromBigFile(ctx, store, quietOptions(comm.Self()))
	require.NotNil(t, err)
}

func TestMeshConfiguration(t *testing.T) {
	ctx := context.Background()
	cat, err := FromArrays(ctx, map[string]array.Array{
		"Position": array.Full(2, array.Float64, 1, 1, 1),
		"x":        array.FromFloat64s([]float64{1, 2}),
	}, quietOptions(comm.Self()))
	require.Nil(t, err)

	var conf errors.ConfigurationError
	_, err = cat.ToMesh(nil)
	require.ErrorAs(t, err, &conf)
	require.Equal(t, []string{"Nmesh", "BoxSize"}, conf.Missing)
	_, err = cat.ToMesh(&MeshOptions{Nmesh: []int{8}})
	require.ErrorAs(t, err, &conf)
	require.Equal(t, []string{"BoxSize"}, conf.Missing)
	_, err = cat.ToMesh(&MeshOptions{Nmesh: []int{8}, BoxSize: []float64{10}, Window: "tsc"})
	require.ErrorAs(t, err, &conf)

	var missing errors.MissingColumnError
	_, err = cat.ToMesh(&MeshOptions{Nmesh: []int{8}, BoxSize: []float64{10}, Weight: "Mass"})
	require.ErrorAs(t, err, &missing)
	var incompatible errors.IncompatibleValueError
	_, err = cat.ToMesh(&MeshOptions{Nmesh: []int{8}, BoxSize: []float64{10}, Position: "x"})
	require.ErrorAs(t, err, &incompatible)

	// BoxSize falls back to attrs
	cat.Attrs().Set("BoxSize", 10.0)
	mesh, err := cat.ToMesh(&MeshOptions{Nmesh: []int{4, 4, 8}, Window: "ngp"})
	require.Nil(t, err)
	require.Equal(t, [3]float64{10, 10, 10}, mesh.BoxSize())
	require.Equal(t, [3]int{4, 4, 8}, mesh.Nmesh())
	field, err := mesh.Paint(ctx)
	require.Nil(t, err)
	require.Equal(t, 2.0, field.Sum())
	require.Equal(t, 2.0, field.At(0, 0, 1))
}

func TestPaintConservesMass(t *testing.T) {
	catalogtesting.RunRanks(t, rankCounts, func(c comm.Comm) error {
		ctx := context.Background()
		cat, err := Uniform(ctx, 1e-3, 50, 5, quietOptions(c))
		if err != nil {
			return err
		}
		if err := cat.Set("Weight", 2.0); err != nil {
			return err
		}
		mesh, err := cat.ToMesh(&MeshOptions{Nmesh: []int{8}})
		if err != nil {
			return err
		}
		if mesh.Window() != "cic" {
			return fmt.Errorf("default window %s", mesh.Window())
		}
		field, err := mesh.Paint(ctx)
		if err != nil {
			return err
		}
		csize, err := cat.CSize(ctx)
		if err != nil {
			return err
		}
		if diff := field.Sum() - 2*float64(csize); diff > 1e-6 || diff < -1e-6 {
			return fmt.Errorf("painted mass %f for %d particles", field.Sum(), csize)
		}
		return nil
	})
}
