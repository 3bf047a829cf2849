package transform

import (
	"fmt"
	"math"

	"github.com/go-sif/catalog/array"
	errors "github.com/go-sif/catalog/errors"
)

// speedOfLight in km/s
const speedOfLight = 299792.458

// Cosmology is a background cosmology with matter and dark energy densities.
// Distances are in Mpc/h.
type Cosmology struct {
	Om0  float64 // matter density today
	Ode0 float64 // dark energy density today
}

// Planck15 is the flat cosmology of the Planck 2015 results
var Planck15 = Cosmology{Om0: 0.3075, Ode0: 0.6925}

// Efunc returns H(z)/H0
func (c Cosmology) Efunc(z float64) float64 {
	a := 1 + z
	ok := 1 - c.Om0 - c.Ode0
	return math.Sqrt(c.Om0*a*a*a + ok*a*a + c.Ode0)
}

// ComovingDistance returns the line-of-sight comoving distance to redshift z, in Mpc/h
func (c Cosmology) ComovingDistance(z float64) float64 {
	if z <= 0 {
		return 0
	}
	// simpson's rule over an even number of intervals
	n := 2 * int(math.Ceil(z*256))
	h := z / float64(n)
	sum := 1/c.Efunc(0) + 1/c.Efunc(z)
	for i := 1; i < n; i++ {
		w := 2.0
		if i%2 == 1 {
			w = 4
		}
		sum += w / c.Efunc(float64(i)*h)
	}
	return speedOfLight / 100 * sum * h / 3
}

// distanceTable interpolates comoving distances linearly on a regular redshift grid
type distanceTable struct {
	cosmo Cosmology
	step  float64
	dist  []float64
}

const (
	tableMaxRedshift = 10
	tableSize        = 1 << 14
)

func newDistanceTable(cosmo Cosmology) *distanceTable {
	t := &distanceTable{cosmo: cosmo, step: tableMaxRedshift / float64(tableSize-1), dist: make([]float64, tableSize)}
	for i := 1; i < tableSize; i++ {
		// accumulate the integral interval by interval
		z0, z1 := float64(i-1)*t.step, float64(i)*t.step
		mid := (z0 + z1) / 2
		inc := t.step / 6 * (1/cosmo.Efunc(z0) + 4/cosmo.Efunc(mid) + 1/cosmo.Efunc(z1))
		t.dist[i] = t.dist[i-1] + speedOfLight/100*inc
	}
	return t
}

func (t *distanceTable) at(z float64) float64 {
	if z >= tableMaxRedshift {
		return t.cosmo.ComovingDistance(z)
	}
	u := z / t.step
	i := int(u)
	frac := u - float64(i)
	return t.dist[i]*(1-frac) + t.dist[i+1]*frac
}

// SkyOptions configure SkyToCartesian
type SkyOptions struct {
	Radians     bool // ra and dec are in radians rather than degrees
	Interpolate bool // interpolate distances from a precomputed table rather than integrating every row
}

// SkyToCartesian converts right ascension, declination and redshift columns
// into comoving cartesian positions, in Mpc/h. The arguments must be lazy
// columns. Negative redshifts fail the rows that hold them.
func SkyToCartesian(ra, dec, redshift any, cosmo Cosmology, opts *SkyOptions) (array.Array, error) {
	if opts == nil {
		opts = &SkyOptions{}
	}
	if cosmo.Om0 <= 0 {
		return nil, errors.ConfigurationError{Missing: []string{"Om0"}, Reason: "cosmology requires a positive matter density"}
	}
	arrays, err := lazyAll([]any{ra, dec, redshift})
	if err != nil {
		return nil, err
	}
	if err := sameLength(arrays...); err != nil {
		return nil, err
	}
	for _, a := range arrays {
		if a.Width() != 1 {
			return nil, errors.IncompatibleValueError{Reason: fmt.Sprintf("sky coordinates must be scalar columns, got width %d", a.Width())}
		}
	}
	distance := cosmo.ComovingDistance
	if opts.Interpolate {
		distance = newDistanceTable(cosmo).at
	}
	scale := math.Pi / 180
	if opts.Radians {
		scale = 1
	}
	return array.RowMap("sky-to-cartesian", 3, array.Float64, func(in [][]float64, out []float64) error {
		z := in[2][0]
		if z < 0 || math.IsNaN(z) {
			return fmt.Errorf("invalid redshift %g", z)
		}
		r := distance(z)
		phi, theta := in[0][0]*scale, in[1][0]*scale
		out[0] = r * math.Cos(theta) * math.Cos(phi)
		out[1] = r * math.Cos(theta) * math.Sin(phi)
		out[2] = r * math.Sin(theta)
		return nil
	}, arrays...), nil
}
