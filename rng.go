package catalog

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-sif/catalog/array"
)

// Rng generates procedural random columns. Every value is a hash of the
// seed, the generator stream, the global row and the component, so columns
// are identical however the rows are divided among ranks. Each call opens a
// new stream; ranks must make the same calls in the same order.
type Rng struct {
	seed   uint64
	start  int64
	size   int
	lock   sync.Mutex
	stream uint64
}

// NewRng creates a generator for the size rows starting at global row start
func NewRng(seed uint64, start int64, size int) *Rng {
	return &Rng{seed: seed, start: start, size: size}
}

// Seed returns the seed of this generator
func (r *Rng) Seed() uint64 {
	return r.seed
}

func (r *Rng) next() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.stream++
	return r.stream
}

func (r *Rng) bits(stream uint64, row int64, k int) uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], r.seed)
	binary.LittleEndian.PutUint64(buf[8:], stream)
	binary.LittleEndian.PutUint64(buf[16:], uint64(row))
	binary.LittleEndian.PutUint64(buf[24:], uint64(k))
	return xxhash.Sum64(buf[:])
}

// unit maps 64 random bits onto [0, 1)
func unit(u uint64) float64 {
	return float64(u>>11) / (1 << 53)
}

func (r *Rng) column(kind string, width int, dtype array.DType, fill func(stream uint64, row int64, out []float64)) array.Array {
	stream := r.next()
	return array.FromFunc(kind, r.size, width, dtype, func(row int, out []float64) error {
		fill(stream, r.start+int64(row), out)
		return nil
	})
}

// Uniform generates values uniformly distributed in [low, high)
func (r *Rng) Uniform(low, high float64, width int) array.Array {
	return r.column("uniform", width, array.Float64, func(stream uint64, row int64, out []float64) {
		for k := range out {
			out[k] = low + (high-low)*unit(r.bits(stream, row, k))
		}
	})
}

// Normal generates normally distributed values
func (r *Rng) Normal(loc, scale float64, width int) array.Array {
	return r.column("normal", width, array.Float64, func(stream uint64, row int64, out []float64) {
		for k := range out {
			u1 := 1 - unit(r.bits(stream, row, 2*k))
			u2 := unit(r.bits(stream, row, 2*k+1))
			out[k] = loc + scale*math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
		}
	})
}

// Integers generates integers uniformly distributed in [low, high). Bounds
// are clamped to +/-array.MaxExactInt so that every draw is stored exactly.
func (r *Rng) Integers(low, high int64, width int) array.Array {
	low = max(low, -array.MaxExactInt)
	high = min(high, array.MaxExactInt+1)
	span := uint64(high - low)
	if high <= low {
		span = 1
	}
	return r.column("integers", width, array.Int64, func(stream uint64, row int64, out []float64) {
		for k := range out {
			out[k] = float64(low + int64(r.bits(stream, row, k)%span))
		}
	})
}
