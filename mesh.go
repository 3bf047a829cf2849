package catalog

import (
	"context"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/go-sif/catalog/comm"
	errors "github.com/go-sif/catalog/errors"
)

// MeshOptions configure the binning of a Catalog onto a regular mesh.
// Nmesh and BoxSize fall back to the attrs of the same names; a single value
// applies to all three dimensions.
type MeshOptions struct {
	Nmesh     []int     `validate:"omitempty,max=3,dive,gt=0"`
	BoxSize   []float64 `validate:"omitempty,max=3,dive,gt=0"`
	Position  string    // position column (defaults to Position)
	Weight    string    // weight column (defaults to Weight)
	Value     string    // value column (defaults to Value)
	Selection string    // selection column (defaults to Selection)
	Window    string    `validate:"omitempty,oneof=ngp cic"` // mass assignment window (defaults to cic)
}

// Mesh is a validated binning configuration of a Catalog
type Mesh struct {
	cat       *Catalog
	nmesh     [3]int
	boxSize   [3]float64
	position  string
	weight    string
	value     string
	selection string
	window    string
}

// MeshField is a painted mesh, in row-major (x, y, z) order
type MeshField struct {
	Nmesh   [3]int
	BoxSize [3]float64
	Data    []float64
}

// At returns the value of cell (i, j, k)
func (f *MeshField) At(i, j, k int) float64 {
	return f.Data[(i*f.Nmesh[1]+j)*f.Nmesh[2]+k]
}

// Sum returns the total painted mass
func (f *MeshField) Sum() float64 {
	var total float64
	for _, v := range f.Data {
		total += v
	}
	return total
}

func expand3[T any](values []T) ([3]T, bool) {
	var out [3]T
	switch len(values) {
	case 1:
		out = [3]T{values[0], values[0], values[0]}
	case 3:
		copy(out[:], values)
	default:
		return out, false
	}
	return out, true
}

func orDefault(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// ToMesh validates a mesh configuration against this Catalog. Nothing is computed until Paint.
func (c *Catalog) ToMesh(opts *MeshOptions) (*Mesh, error) {
	if opts == nil {
		opts = &MeshOptions{}
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, errors.ConfigurationError{Reason: err.Error()}
	}
	m := &Mesh{
		cat:       c,
		position:  orDefault(opts.Position, "Position"),
		weight:    orDefault(opts.Weight, "Weight"),
		value:     orDefault(opts.Value, "Value"),
		selection: orDefault(opts.Selection, "Selection"),
		window:    orDefault(opts.Window, "cic"),
	}

	var missing []string
	nmesh := opts.Nmesh
	if len(nmesh) == 0 {
		if v, ok := c.attrs.GetFloat64s("Nmesh", 3); ok {
			nmesh = []int{int(v[0]), int(v[1]), int(v[2])}
		}
	}
	if n, ok := expand3(nmesh); ok && n[0] > 0 && n[1] > 0 && n[2] > 0 {
		m.nmesh = n
	} else {
		missing = append(missing, "Nmesh")
	}
	boxSize := opts.BoxSize
	if len(boxSize) == 0 {
		boxSize, _ = c.attrs.GetFloat64s("BoxSize", 3)
	}
	if l, ok := expand3(boxSize); ok && l[0] > 0 && l[1] > 0 && l[2] > 0 {
		m.boxSize = l
	} else {
		missing = append(missing, "BoxSize")
	}
	if len(missing) > 0 {
		return nil, errors.ConfigurationError{Missing: missing, Reason: "mesh resolution and box size must be given as options or attrs"}
	}

	for _, name := range []string{m.position, m.weight, m.value, m.selection} {
		if !c.Has(name) {
			return nil, errors.MissingColumnError{Name: name}
		}
	}
	pos, err := c.Get(m.position)
	if err != nil {
		return nil, err
	}
	if pos.Width() != 3 {
		return nil, errors.IncompatibleValueError{Name: m.position, Reason: fmt.Sprintf("positions must have 3 components, got %d", pos.Width())}
	}
	return m, nil
}

// Nmesh returns the number of cells per dimension
func (m *Mesh) Nmesh() [3]int {
	return m.nmesh
}

// BoxSize returns the periodic box size
func (m *Mesh) BoxSize() [3]float64 {
	return m.boxSize
}

// Window returns the mass assignment window
func (m *Mesh) Window() string {
	return m.window
}

// Paint bins the selected rows of every rank onto the mesh, assigning each
// row a mass of Weight*Value. The box is periodic. It is a collective operation.
func (m *Mesh) Paint(ctx context.Context) (*MeshField, error) {
	field := &MeshField{Nmesh: m.nmesh, BoxSize: m.boxSize, Data: make([]float64, m.nmesh[0]*m.nmesh[1]*m.nmesh[2])}
	err := m.paintLocal(ctx, field)
	if err := agree(ctx, m.cat.Comm(), err); err != nil {
		return nil, err
	}
	total, err := comm.SumFloat64s(ctx, m.cat.Comm(), field.Data)
	if err != nil {
		return nil, err
	}
	field.Data = total
	return field, nil
}

func (m *Mesh) paintLocal(ctx context.Context, field *MeshField) error {
	cols := make([]*ColumnAccessor, 4)
	for i, name := range []string{m.position, m.weight, m.value, m.selection} {
		col, err := m.cat.Get(name)
		if err != nil {
			return err
		}
		cols[i] = col
	}
	bufs, err := m.cat.Compute(ctx, cols...)
	if err != nil {
		return err
	}
	pos, weight, value, sel := bufs[0], bufs[1], bufs[2], bufs[3]
	for i := 0; i < pos.Len(); i++ {
		if sel.At(i, 0) == 0 {
			continue
		}
		mass := weight.At(i, 0) * value.At(i, 0)
		if m.window == "ngp" {
			m.paintNGP(field, pos.Row(i), mass)
		} else {
			m.paintCIC(field, pos.Row(i), mass)
		}
	}
	return nil
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func (m *Mesh) paintNGP(field *MeshField, x []float64, mass float64) {
	var cell [3]int
	for d := 0; d < 3; d++ {
		cell[d] = wrap(int(math.Floor(x[d]/m.boxSize[d]*float64(m.nmesh[d])+0.5)), m.nmesh[d])
	}
	field.Data[(cell[0]*m.nmesh[1]+cell[1])*m.nmesh[2]+cell[2]] += mass
}

func (m *Mesh) paintCIC(field *MeshField, x []float64, mass float64) {
	var lo [3]int
	var frac [3]float64
	for d := 0; d < 3; d++ {
		u := x[d] / m.boxSize[d] * float64(m.nmesh[d])
		f := math.Floor(u)
		lo[d] = int(f)
		frac[d] = u - f
	}
	for corner := 0; corner < 8; corner++ {
		w := mass
		var cell [3]int
		for d := 0; d < 3; d++ {
			if corner&(1<<d) != 0 {
				cell[d] = wrap(lo[d]+1, m.nmesh[d])
				w *= frac[d]
			} else {
				cell[d] = wrap(lo[d], m.nmesh[d])
				w *= 1 - frac[d]
			}
		}
		field.Data[(cell[0]*m.nmesh[1]+cell[1])*m.nmesh[2]+cell[2]] += w
	}
}
