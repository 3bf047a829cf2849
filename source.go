package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/attrs"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/datastore"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/filestack/bigfile"
	"github.com/go-sif/catalog/internal/graph"
	"github.com/go-sif/catalog/partition"
	"github.com/go-sif/catalog/schema"
)

// defaultColumnNames are the procedural columns every sized Catalog carries
var defaultColumnNames = []string{"Selection", "Value", "Weight"}

// addDefaultColumns defines Selection (true), Value (1) and Weight (1) where they are not yet defined
func addDefaultColumns(g *graph.Graph) error {
	n := g.Len()
	if n < 0 {
		return nil
	}
	defaults := map[string]array.Array{
		"Selection": array.Full(n, array.Bool, 1),
		"Value":     array.Full(n, array.Float64, 1),
		"Weight":    array.Full(n, array.Float64, 1),
	}
	for _, name := range defaultColumnNames {
		if g.Has(name) {
			continue
		}
		if err := g.SetHard(name, graph.Procedural, defaults[name]); err != nil {
			return err
		}
	}
	return nil
}

// FromFileStack creates a Catalog whose hard columns are read from a FileStack.
// The header of the FileStack is read on rank 0 and broadcast; each rank then
// fetches only rows of its own partition, and only when a column is computed.
// It is a collective operation.
func FromFileStack(ctx context.Context, fs FileStack, opts *Options) (*Catalog, error) {
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	return fromFileStack(ctx, fam, fs)
}

func fromFileStack(ctx context.Context, fam *family, fs FileStack) (*Catalog, error) {
	c := fam.opts.Comm
	sch, total, a, err := broadcastHeader(ctx, c, fs)
	if err != nil {
		return nil, err
	}
	start, stop := partition.Range(total, c.Rank(), c.Size())
	n := int(stop - start)
	logger := fam.logger
	g := graph.New(n)
	err = sch.ForEachColumn(func(name string, col *schema.Column) error {
		t := col.Type()
		fetch := func(ctx context.Context, lo, hi int) (*array.Buffer, error) {
			logger.Debug().Str("column", name).Int64("start", start+int64(lo)).Int64("stop", start+int64(hi)).Msg("fetching rows")
			buf, err := fs.Fetch(ctx, name, start+int64(lo), start+int64(hi))
			if err != nil {
				return nil, fmt.Errorf("unable to fetch rows [%d, %d) of column %s: %w", start+int64(lo), start+int64(hi), name, err)
			}
			return buf, nil
		}
		return g.SetHard(name, graph.Hard, array.FromSource("filestack", n, t.Width, t.DType, fetch))
	})
	if err != nil {
		return nil, err
	}
	if err := addDefaultColumns(g); err != nil {
		return nil, err
	}
	cat := newCatalog(fam, "FileStackCatalog", g, a, total, start, stop)
	if c.Rank() == 0 {
		logger.Info().Int64("rows", total).Int("columns", sch.NumColumns()).Int("ranks", c.Size()).Msg("opened file stack")
	}
	return cat, nil
}

// FromBigFile opens a bigfile written by Save and creates a Catalog over it.
// It is a collective operation.
func FromBigFile(ctx context.Context, store datastore.DataStore, opts *Options) (*Catalog, error) {
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	c := fam.opts.Comm
	// only rank 0 reads the header; the others build their FileStack from its copy
	var data []byte
	var readErr error
	if c.Rank() == 0 {
		var header *bigfile.Header
		if header, readErr = bigfile.ReadHeader(ctx, store); readErr == nil {
			data, readErr = json.Marshal(header)
		}
	}
	if err := agree(ctx, c, readErr); err != nil {
		return nil, fmt.Errorf("unable to open bigfile %s: %w", store, err)
	}
	data, err = c.Broadcast(ctx, 0, data)
	if err != nil {
		return nil, err
	}
	header := &bigfile.Header{}
	err = header.UnmarshalJSON(data)
	var fs *bigfile.FileStack
	if err == nil {
		fs, err = bigfile.FromHeader(store, header, &fam.logger)
	}
	if err := agree(ctx, c, err); err != nil {
		return nil, fmt.Errorf("unable to open bigfile %s: %w", store, err)
	}
	return fromFileStack(ctx, fam, fs)
}

// FromArrays creates a Catalog from columns already held by each rank. Every
// column must have the same number of rows on a given rank; ranks may hold
// different numbers of rows. It is a collective operation.
func FromArrays(ctx context.Context, columns map[string]array.Array, opts *Options) (*Catalog, error) {
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	c := fam.opts.Comm
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	n := Unresolved
	var localErr error
	for _, name := range names {
		if n == Unresolved {
			n = columns[name].Len()
		} else if columns[name].Len() != n {
			localErr = errors.IncompatibleValueError{Name: name, Reason: fmt.Sprintf("length %d does not match length %d of column %s", columns[name].Len(), n, names[0])}
			break
		}
	}
	if n == Unresolved {
		n = 0
	}
	if err := agree(ctx, c, localErr); err != nil {
		return nil, err
	}
	sizes, err := comm.GatherInt64(ctx, c, int64(n))
	if err != nil {
		return nil, err
	}
	var start, total int64
	for rank, size := range sizes {
		if rank < c.Rank() {
			start += size
		}
		total += size
	}

	g := graph.New(n)
	for _, name := range names {
		if err := g.SetHard(name, graph.Hard, columns[name]); err != nil {
			return nil, err
		}
	}
	if err := addDefaultColumns(g); err != nil {
		return nil, err
	}
	return newCatalog(fam, "ArrayCatalog", g, attrs.New(), total, start, start+int64(n)), nil
}

// New creates an empty Catalog of unresolved size. The local size is fixed by
// the first column Set on each rank; Resolve then fixes the global size.
func New(opts *Options) (*Catalog, error) {
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	return newCatalog(fam, "Catalog", graph.New(Unresolved), attrs.New(), Unresolved, 0, 0), nil
}

// Random creates a Catalog of csize rows, divided among the ranks, with a
// deterministic random generator: generated columns depend on the seed and
// the global row, never on the number of ranks. It is a collective operation.
func Random(ctx context.Context, csize int64, seed uint64, opts *Options) (*Catalog, error) {
	if csize < 0 {
		return nil, errors.ConfigurationError{Missing: []string{"csize"}, Reason: fmt.Sprintf("catalog size must be non-negative, got %d", csize)}
	}
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	return random(ctx, fam, csize, seed)
}

func random(ctx context.Context, fam *family, csize int64, seed uint64) (*Catalog, error) {
	c := fam.opts.Comm
	// the seed of rank 0 wins, so that ranks agree on generated columns
	s, err := comm.BroadcastInt64(ctx, c, 0, int64(seed))
	if err != nil {
		return nil, err
	}
	seed = uint64(s)
	start, stop := partition.Range(csize, c.Rank(), c.Size())
	n := int(stop - start)
	g := graph.New(n)
	if err := addDefaultColumns(g); err != nil {
		return nil, err
	}
	a := attrs.New()
	a.Set("seed", seed)
	cat := newCatalog(fam, "RandomCatalog", g, a, csize, start, stop)
	cat.rng = NewRng(seed, start, n)
	return cat, nil
}

// Uniform creates a Catalog of particles uniformly distributed in a periodic
// box of side boxSize, with number density nbar. The total number of
// particles is a Poisson draw made on rank 0. Position and Velocity are
// procedural columns. It is a collective operation.
func Uniform(ctx context.Context, nbar, boxSize float64, seed uint64, opts *Options) (*Catalog, error) {
	if nbar <= 0 || boxSize <= 0 {
		return nil, errors.ConfigurationError{Missing: []string{"nbar", "BoxSize"}, Reason: "number density and box size must be positive"}
	}
	fam, err := newFamily(opts)
	if err != nil {
		return nil, err
	}
	c := fam.opts.Comm
	var draw int64
	if c.Rank() == 0 {
		draw = poisson(rand.New(rand.NewSource(int64(seed))), nbar*boxSize*boxSize*boxSize)
	}
	csize, err := comm.BroadcastInt64(ctx, c, 0, draw)
	if err != nil {
		return nil, err
	}
	cat, err := random(ctx, fam, csize, seed)
	if err != nil {
		return nil, err
	}
	cat.kind = "UniformCatalog"
	if err := cat.graph.SetHard("Position", graph.Procedural, cat.rng.Uniform(0, boxSize, 3)); err != nil {
		return nil, err
	}
	if err := cat.graph.SetHard("Velocity", graph.Procedural, cat.rng.Uniform(0, 0.01*boxSize, 3)); err != nil {
		return nil, err
	}
	cat.attrs.Set("nbar", nbar)
	cat.attrs.Set("BoxSize", []any{boxSize, boxSize, boxSize})
	if c.Rank() == 0 {
		cat.fam.logger.Info().Int64("rows", csize).Float64("nbar", nbar).Float64("box_size", boxSize).Msg("generated uniform catalog")
	}
	return cat, nil
}

// poisson draws from a Poisson distribution of mean lambda
func poisson(r *rand.Rand, lambda float64) int64 {
	if lambda > 64 {
		v := math.Round(lambda + math.Sqrt(lambda)*r.NormFloat64())
		if v < 0 {
			return 0
		}
		return int64(v)
	}
	limit := math.Exp(-lambda)
	var k int64
	for p := r.Float64(); p > limit; p *= r.Float64() {
		k++
	}
	return k
}
