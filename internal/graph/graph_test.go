package graph

import (
	"context"
	"testing"

	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/selection"
	"github.com/stretchr/testify/require"
)

func ones(n int) array.Array {
	return array.Full(n, array.Float64, 1)
}

func compute(t *testing.T, a array.Array) []float64 {
	buf, err := array.Compute(context.Background(), a, nil)
	require.Nil(t, err)
	return buf.Data()
}

func TestSnapshotAssignment(t *testing.T) {
	g := New(4)
	require.Nil(t, g.SetHard("Position", Hard, ones(4)))
	require.Nil(t, g.SetHard("Velocity", Hard, ones(4)))

	get := func(name string) array.Array {
		e, err := g.Get(name)
		require.Nil(t, err)
		return e.Array
	}
	require.Nil(t, g.Set("Velocity", array.Add(get("Position"), get("Velocity"))))
	require.Nil(t, g.Set("Position", array.Add(get("Position"), get("Velocity"))))
	require.Equal(t, []float64{3, 3, 3, 3}, compute(t, get("Position")))
	require.Equal(t, []float64{2, 2, 2, 2}, compute(t, get("Velocity")))

	// the hard backing is untouched by overrides
	hard, err := g.GetHard("Position")
	require.Nil(t, err)
	require.Equal(t, []float64{1, 1, 1, 1}, compute(t, hard.Array))
	e, err := g.Get("Position")
	require.Nil(t, err)
	require.True(t, e.Protected)
	require.Equal(t, Virtual, e.Kind)
}

func TestDeleteRules(t *testing.T) {
	g := New(2)
	require.Nil(t, g.SetHard("Mass", Hard, ones(2)))
	require.Nil(t, g.Set("Mass", array.Mul(ones(2), array.Scalar(2))))
	require.Nil(t, g.Set("Energy", ones(2)))

	var protected errors.ProtectedColumnError
	require.ErrorAs(t, g.Delete("Mass"), &protected)
	var missing errors.MissingColumnError
	require.ErrorAs(t, g.Delete("Nothing"), &missing)
	require.Nil(t, g.Delete("Energy"))
	require.ErrorAs(t, g.Delete("Energy"), &missing)
	_, err := g.Get("Energy")
	require.ErrorAs(t, err, &missing)

	var notHard errors.AttributeProbeError
	_, err = g.GetHard("Energy")
	require.ErrorAs(t, err, &notHard)
}

func TestNamesOrder(t *testing.T) {
	g := New(1)
	require.Nil(t, g.SetHard("b", Hard, ones(1)))
	require.Nil(t, g.SetHard("a", Procedural, ones(1)))
	require.Nil(t, g.Set("z", ones(1)))
	require.Nil(t, g.Set("y", ones(1)))
	require.Nil(t, g.Set("a", ones(1)))
	require.Equal(t, []string{"b", "a", "z", "y"}, g.Names())
	require.Equal(t, []string{"b", "a"}, g.HardNames())
	require.Equal(t, []string{"z", "y"}, g.VirtualNames())
	require.True(t, g.IsHard("a"))
	require.False(t, g.IsHard("z"))
}

func TestLengthChecks(t *testing.T) {
	g := New(-1)
	require.Equal(t, -1, g.Len())
	_, err := g.Layer(selection.All())
	var conf errors.ConfigurationError
	require.ErrorAs(t, err, &conf)
	require.Nil(t, g.Set("x", ones(3)))
	require.Equal(t, 3, g.Len())
	require.NotNil(t, g.Set("y", ones(4)))
	require.NotNil(t, g.SetHard("y", Virtual, ones(3)))
}

func TestLayerInheritsAndShares(t *testing.T) {
	root := New(10)
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i)
	}
	require.Nil(t, root.SetHard("x", Hard, array.FromFloat64s(values)))
	layer, err := root.Layer(selection.Range(2, 6, 1))
	require.Nil(t, err)
	require.Equal(t, 4, layer.Len())

	e1, err := layer.Get("x")
	require.Nil(t, err)
	e2, err := layer.Get("x")
	require.Nil(t, err)
	require.Equal(t, e1.Array.ID(), e2.Array.ID())
	require.Equal(t, []float64{2, 3, 4, 5}, compute(t, e1.Array))

	// redefinitions in the parent are visible through the layer
	rootX, err := root.Get("x")
	require.Nil(t, err)
	require.Nil(t, root.Set("y", array.Mul(rootX.Array, array.Scalar(10))))
	y, err := layer.Get("y")
	require.Nil(t, err)
	require.Equal(t, []float64{20, 30, 40, 50}, compute(t, y.Array))

	// definitions in the layer stay in the layer
	require.Nil(t, layer.Set("z", ones(4)))
	require.False(t, root.Has("z"))
	require.Equal(t, []string{"x"}, layer.HardNames())
	require.Equal(t, []string{"y", "z"}, layer.VirtualNames())

	// deleting an inherited column hides it in the layer only
	require.Nil(t, layer.Delete("y"))
	require.False(t, layer.Has("y"))
	require.True(t, root.Has("y"))
	var protected errors.ProtectedColumnError
	require.ErrorAs(t, layer.Delete("x"), &protected)
}

func TestConsecutiveLayersCompose(t *testing.T) {
	root := New(100)
	require.Nil(t, root.SetHard("x", Hard, ones(100)))
	first, err := root.Layer(selection.Range(selection.None, 20, 1))
	require.Nil(t, err)
	second, err := first.Layer(selection.Range(selection.None, 10, 1))
	require.Nil(t, err)
	require.Equal(t, 1, second.Depth())
	require.Same(t, root, second.Parent())
	require.Equal(t, 10, second.Len())
	require.True(t, second.Rows().IsRange())

	// a layer with its own definitions is not collapsed
	require.Nil(t, first.Set("w", ones(20)))
	third, err := first.Layer(selection.Index([]int{1, 2}))
	require.Nil(t, err)
	require.Equal(t, 2, third.Depth())
	require.True(t, third.Has("w"))
}

func TestFlatten(t *testing.T) {
	root := New(4)
	require.Nil(t, root.SetHard("x", Hard, array.FromFloat64s([]float64{1, 2, 3, 4})))
	layer, err := root.Layer(selection.Mask([]bool{true, false, true, false}))
	require.Nil(t, err)
	x, err := layer.Get("x")
	require.Nil(t, err)
	require.Nil(t, layer.Set("x", array.Add(x.Array, array.Scalar(1))))
	require.Nil(t, layer.Set("v", ones(2)))

	flat, err := layer.Flatten()
	require.Nil(t, err)
	require.Nil(t, flat.Parent())
	require.Equal(t, 2, flat.Len())
	require.Equal(t, []string{"x", "v"}, flat.Names())
	fx, err := flat.Get("x")
	require.Nil(t, err)
	require.Equal(t, []float64{2, 4}, compute(t, fx.Array))
	hx, err := flat.GetHard("x")
	require.Nil(t, err)
	require.Equal(t, []float64{1, 3}, compute(t, hx.Array))

	// the flattened graph is independent
	require.Nil(t, flat.Set("v", array.Full(2, array.Float64, 5)))
	lv, err := layer.Get("v")
	require.Nil(t, err)
	require.Equal(t, []float64{1, 1}, compute(t, lv.Array))
}

func TestInvalidationHook(t *testing.T) {
	g := New(1)
	var names []string
	require.True(t, g.OnInvalidate("names", func(name string) { names = append(names, name) }))
	require.False(t, g.OnInvalidate("names", func(name string) { names = append(names, name) }))
	require.Equal(t, 1, g.NumHooks())
	v := g.Version()
	require.Nil(t, g.SetHard("a", Hard, ones(1)))
	require.Nil(t, g.Set("b", ones(1)))
	require.Nil(t, g.Delete("b"))
	require.Equal(t, []string{"a", "b", "b"}, names)
	require.Equal(t, v+3, g.Version())
}
