package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/attrs"
	"github.com/go-sif/catalog/comm"
	errors "github.com/go-sif/catalog/errors"
	"github.com/go-sif/catalog/internal/graph"
	"github.com/go-sif/catalog/internal/pcache"
	"github.com/go-sif/catalog/internal/stats"
	"github.com/go-sif/catalog/logging"
	"github.com/go-sif/catalog/selection"
	uuid "github.com/gofrs/uuid"
	"github.com/rs/zerolog"
)

// Unresolved is the size of a Catalog which has no hard or procedural backing yet
const Unresolved = -1

// family holds the state shared by a Catalog and every catalog derived from it
type family struct {
	opts    *Options
	logger  zerolog.Logger
	cache   pcache.BufferCache // nil unless Options.UseCache
	metrics *stats.Metrics
}

func newFamily(opts *Options) (*family, error) {
	opts, err := ensureDefaultOptions(opts)
	if err != nil {
		return nil, err
	}
	metrics, err := stats.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("unable to register catalog metrics: %w", err)
	}
	fam := &family{
		opts:    opts,
		logger:  logging.ForRank(*opts.Logger, opts.Comm.Rank(), opts.Comm.Size()),
		metrics: metrics,
	}
	if opts.UseCache {
		fam.cache, err = pcache.NewLRU(&pcache.LRUConfig{
			Size:               opts.CacheSize,
			CompressedFraction: opts.CacheCompressedFraction,
			Observer:           metrics,
		})
		if err != nil {
			return nil, err
		}
	}
	return fam, nil
}

// Catalog is a distributed collection of named, row-aligned, lazily-evaluated columns
type Catalog struct {
	id         string
	kind       string
	fam        *family
	globalSize int64
	start      int64
	stop       int64
	graph      *graph.Graph
	attrs      *attrs.Attrs
	base       *Catalog
	rng        *Rng
}

func newCatalog(fam *family, kind string, g *graph.Graph, a *attrs.Attrs, globalSize, start, stop int64) *Catalog {
	c := &Catalog{
		id:         uuid.Must(uuid.NewV4()).String(),
		kind:       kind,
		fam:        fam,
		globalSize: globalSize,
		start:      start,
		stop:       stop,
		graph:      g,
		attrs:      a,
	}
	c.watch(g)
	return c
}

// watch evicts cached buffers of a column whenever its definition changes in
// g. Catalogs of one family sharing a graph share a single hook.
func (c *Catalog) watch(g *graph.Graph) {
	cache := c.fam.cache
	if cache == nil {
		return
	}
	logger := c.fam.logger
	g.OnInvalidate(c.fam, func(name string) {
		if n := cache.InvalidateColumn(name); n > 0 {
			logger.Debug().Str("column", name).Int("buffers", n).Msg("invalidated cached column")
		}
	})
}

// derive creates a catalog over a graph, sharing this catalog's family and partitioning
func (c *Catalog) derive(g *graph.Graph, a *attrs.Attrs) *Catalog {
	d := newCatalog(c.fam, c.kind, g, a, c.globalSize, c.start, c.stop)
	d.rng = c.rng
	return d
}

// ID uniquely identifies this Catalog
func (c *Catalog) ID() string {
	return c.id
}

// Comm returns the communicator shared by the ranks of this Catalog
func (c *Catalog) Comm() comm.Comm {
	return c.fam.opts.Comm
}

// Options returns a copy of the options this Catalog was constructed with
func (c *Catalog) Options() *Options {
	return CloneOptions(c.fam.opts)
}

// Logger returns the logger of this Catalog, annotated with the rank
func (c *Catalog) Logger() *zerolog.Logger {
	return &c.fam.logger
}

// Statistics returns the compute statistics of this Catalog and the catalogs derived from it
func (c *Catalog) Statistics() *stats.ComputeStatistics {
	return c.fam.metrics.Statistics()
}

// Size returns the number of selected rows on this rank, or Unresolved
func (c *Catalog) Size() int {
	return c.graph.Len()
}

// GlobalSize returns the number of rows of the data backing this Catalog
// across all ranks, before any selection, or Unresolved
func (c *Catalog) GlobalSize() int64 {
	return c.globalSize
}

// LocalRange returns the global rows [start, stop) backing this rank
func (c *Catalog) LocalRange() (start, stop int64) {
	return c.start, c.stop
}

// CSize returns the number of selected rows across all ranks. It is a collective operation.
func (c *Catalog) CSize(ctx context.Context) (int64, error) {
	size := c.Size()
	if size == Unresolved {
		return 0, errors.ConfigurationError{Missing: []string{"size"}, Reason: "catalog has no hard or procedural columns"}
	}
	return comm.SumInt64(ctx, c.Comm(), int64(size))
}

// Attrs returns the metadata of this Catalog. Mutations are local to this rank.
func (c *Catalog) Attrs() *attrs.Attrs {
	return c.attrs
}

// Base returns the catalog this one is a View of, or nil
func (c *Catalog) Base() *Catalog {
	return c.base
}

// Rng returns the random generator of a catalog created by Random or Uniform, or nil
func (c *Catalog) Rng() *Rng {
	return c.rng
}

// Get returns the current definition of a column
func (c *Catalog) Get(name string) (*ColumnAccessor, error) {
	e, err := c.graph.Get(name)
	if err != nil {
		return nil, err
	}
	return newColumnAccessor(c, name, e.Array), nil
}

// GetHardColumn returns the hard or procedural backing of a column, ignoring
// virtual overrides. It fails with an AttributeProbeError for other names.
func (c *Catalog) GetHardColumn(name string) (*ColumnAccessor, error) {
	e, err := c.graph.GetHard(name)
	if err != nil {
		return nil, err
	}
	return newColumnAccessor(c, name, e.Array), nil
}

// Has returns true iff a column is defined
func (c *Catalog) Has(name string) bool {
	return c.graph.Has(name)
}

// Columns enumerates hard columns in schema order, then virtual columns in insertion order
func (c *Catalog) Columns() []string {
	return c.graph.Names()
}

// HardColumns enumerates hard and procedural columns in schema order
func (c *Catalog) HardColumns() []string {
	return c.graph.HardNames()
}

// Set defines or overrides a column. value may be a lazy array.Array or
// *ColumnAccessor, a scalar broadcast to every row, or a Go slice with one
// element (or one []float64 row) per row of this rank. Materialized
// *array.Buffers are rejected; wrap them with array.FromBuffer.
func (c *Catalog) Set(name string, value any) error {
	a, err := c.toArray(name, value)
	if err != nil {
		return err
	}
	wasUnresolved := c.Size() == Unresolved
	if err := c.graph.Set(name, a); err != nil {
		return errors.IncompatibleValueError{Name: name, Reason: err.Error()}
	}
	if wasUnresolved {
		c.resolveLocal()
		return addDefaultColumns(c.graph)
	}
	return nil
}

// resolveLocal fixes the local range once the first column establishes the
// size on this rank. With several ranks the global size stays Unresolved until
// Resolve gathers the sizes of every rank.
func (c *Catalog) resolveLocal() {
	n := int64(c.Size())
	c.start, c.stop = 0, n
	if c.Comm().Size() == 1 {
		c.globalSize = n
	}
}

// Resolve fixes the global size and local range of a catalog whose size was
// established by Set, offsetting the rows of each rank by those of the ranks
// before it. It is a no-op on catalogs whose global size is known. It is a
// collective operation.
func (c *Catalog) Resolve(ctx context.Context) error {
	var err error
	if c.Size() == Unresolved {
		err = errors.ConfigurationError{Missing: []string{"size"}, Reason: "catalog has no columns to resolve its size from"}
	}
	if err := agree(ctx, c.Comm(), err); err != nil {
		return err
	}
	sizes, err := comm.GatherInt64(ctx, c.Comm(), int64(c.Size()))
	if err != nil {
		return err
	}
	if c.globalSize != Unresolved {
		return nil
	}
	var start, total int64
	for rank, size := range sizes {
		if rank < c.Comm().Rank() {
			start += size
		}
		total += size
	}
	c.globalSize, c.start, c.stop = total, start, start+int64(c.Size())
	return nil
}

func (c *Catalog) toArray(name string, value any) (array.Array, error) {
	size := c.Size()
	var a array.Array
	switch v := value.(type) {
	case *ColumnAccessor:
		a = v.Array()
	case array.Array:
		a = v
	case *array.Buffer:
		return nil, errors.IncompatibleValueError{Name: name, Reason: "requires lazy array, got a materialized buffer"}
	case float64, float32, int, int32, int64, bool:
		if size == Unresolved {
			return nil, errors.ConfigurationError{
				Missing: []string{"size"},
				Reason:  fmt.Sprintf("cannot broadcast a scalar to column %s of a catalog of unresolved size", name),
			}
		}
		var err error
		if a, err = scalarColumn(size, v); err != nil {
			return nil, errors.IncompatibleValueError{Name: name, Reason: err.Error()}
		}
	case []float64:
		a = array.FromFloat64s(v)
	case []int64, []int:
		ints, ok := v.([]int64)
		if !ok {
			ints = make([]int64, len(v.([]int)))
			for i, x := range v.([]int) {
				ints[i] = int64(x)
			}
		}
		var err error
		if a, err = array.FromInt64s(ints); err != nil {
			return nil, errors.IncompatibleValueError{Name: name, Reason: err.Error()}
		}
	case []bool:
		a = array.FromBools(v)
	case [][]float64:
		var err error
		if a, err = array.FromVectors(v); err != nil {
			return nil, errors.IncompatibleValueError{Name: name, Reason: err.Error()}
		}
	default:
		return nil, errors.IncompatibleValueError{Name: name, Reason: fmt.Sprintf("requires lazy array, got %T", value)}
	}
	if size != Unresolved && a.Len() != size {
		return nil, errors.IncompatibleValueError{Name: name, Reason: fmt.Sprintf("length %d does not match catalog size %d", a.Len(), size)}
	}
	return a, nil
}

func scalarColumn(size int, v any) (array.Array, error) {
	var i int64
	switch x := v.(type) {
	case float64:
		return array.Full(size, array.Float64, x), nil
	case float32:
		return array.Full(size, array.Float64, float64(x)), nil
	case int:
		i = int64(x)
	case int32:
		i = int64(x)
	case int64:
		i = x
	default:
		if v.(bool) {
			return array.Full(size, array.Bool, 1), nil
		}
		return array.Full(size, array.Bool, 0), nil
	}
	f, err := array.ExactInt64(i)
	if err != nil {
		return nil, err
	}
	return array.Full(size, array.Int64, f), nil
}

// Delete removes a virtual column. Hard and procedural columns cannot be deleted.
func (c *Catalog) Delete(name string) error {
	return c.graph.Delete(name)
}

// Select produces a catalog holding only the named columns (and the default
// columns). Either every name exists, or a MissingColumnError is returned.
func (c *Catalog) Select(names ...string) (*Catalog, error) {
	for _, name := range names {
		if !c.Has(name) {
			return nil, errors.MissingColumnError{Name: name}
		}
	}
	include := append([]string{}, names...)
	for _, name := range defaultColumnNames {
		if c.Has(name) && !contains(names, name) {
			include = append(include, name)
		}
	}
	sub := graph.New(c.graph.Len())
	for _, name := range include {
		if c.graph.IsHard(name) {
			h, err := c.graph.GetHard(name)
			if err != nil {
				return nil, err
			}
			if err := sub.SetHard(name, h.Kind, h.Array); err != nil {
				return nil, err
			}
		}
		e, err := c.graph.Get(name)
		if err != nil {
			return nil, err
		}
		if e.Kind == graph.Virtual {
			if err := sub.Set(name, e.Array); err != nil {
				return nil, err
			}
		}
	}
	d := c.derive(sub, c.attrs.Clone())
	d.base = c
	return d, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Slice produces a catalog holding the rows of this one chosen by a selector:
// a selection.Selection, a []int or []int64 index, a []bool mask, or a Bool or
// Int64 *array.Buffer. The result shares column storage with this catalog;
// slicing a slice composes both selections.
func (c *Catalog) Slice(selector any) (*Catalog, error) {
	sel, err := selection.Parse(selector)
	if err != nil {
		return nil, err
	}
	layer, err := c.graph.Layer(sel)
	if err != nil {
		return nil, err
	}
	c.fam.logger.Debug().Stringer("selection", layer.Selection()).Int("rows", layer.Len()).Int("depth", layer.Depth()).Msg("sliced catalog")
	return c.derive(layer, c.attrs.Clone()), nil
}

// Filter computes a boolean column (an array.Array or *ColumnAccessor) and slices this catalog with it
func (c *Catalog) Filter(ctx context.Context, mask any) (*Catalog, error) {
	var a array.Array
	switch m := mask.(type) {
	case *ColumnAccessor:
		a = m.Array()
	case array.Array:
		a = m
	default:
		return c.Slice(mask)
	}
	if a.DType() != array.Bool || a.Width() != 1 {
		return nil, errors.InvalidSelectorError{Reason: fmt.Sprintf("filter must be a boolean column, got %s of width %d", a.DType(), a.Width())}
	}
	bufs, err := c.ComputeArrays(ctx, a)
	if err != nil {
		return nil, err
	}
	return c.Slice(bufs[0])
}

// Copy produces an independent catalog holding the current definitions of every column
func (c *Catalog) Copy() (*Catalog, error) {
	flat, err := c.graph.Flatten()
	if err != nil {
		return nil, err
	}
	return c.derive(flat, c.attrs.Clone()), nil
}

// View produces a catalog sharing this catalog's columns, with its own copy of the attrs
func (c *Catalog) View() *Catalog {
	v := newCatalog(c.fam, c.kind, c.graph, c.attrs.Clone(), c.globalSize, c.start, c.stop)
	v.rng = c.rng
	v.base = c
	return v
}

func (c *Catalog) computeOptions() *array.ComputeOptions {
	return &array.ComputeOptions{
		ChunkSize:   c.fam.opts.ChunkSize,
		Concurrency: c.fam.opts.Concurrency,
		Observer:    c.fam.metrics,
	}
}

// rowsHash identifies the rows of the data backing this catalog which it selects
func (c *Catalog) rowsHash() uint64 {
	if c.graph.Parent() == nil {
		return array.RowRange(0, c.Size()).Hash()
	}
	return c.graph.Rows().Hash()
}

func (c *Catalog) cacheKey(col *ColumnAccessor) (pcache.Key, bool) {
	if c.fam.cache == nil || col.cat != c || !col.IsPure() {
		return pcache.Key{}, false
	}
	return pcache.Key{Column: col.name, Definition: col.arr.ID(), Rows: c.rowsHash()}, true
}

// Compute materializes several columns in one computation, serving pure
// columns from the cache when it is enabled. Cached buffers are shared and
// must not be modified.
func (c *Catalog) Compute(ctx context.Context, columns ...*ColumnAccessor) ([]*array.Buffer, error) {
	c.fam.metrics.Statistics().ComputeStarted()
	results := make([]*array.Buffer, len(columns))
	var pending []int
	var arrays []array.Array
	for i, col := range columns {
		if key, ok := c.cacheKey(col); ok {
			if buf, ok := c.fam.cache.Get(key); ok {
				results[i] = buf
				continue
			}
		}
		pending = append(pending, i)
		arrays = append(arrays, col.arr)
	}
	if len(arrays) == 0 {
		return results, nil
	}
	bufs, err := array.ComputeAll(ctx, arrays, c.computeOptions())
	if err != nil {
		return nil, err
	}
	for j, i := range pending {
		results[i] = bufs[j]
		if key, ok := c.cacheKey(columns[i]); ok {
			c.fam.cache.Add(key, bufs[j])
		}
	}
	return results, nil
}

// CachedBuffers returns the number of computed buffers held by the cache
// shared by this catalog and the catalogs derived from it
func (c *Catalog) CachedBuffers() int {
	if c.fam.cache == nil {
		return 0
	}
	return c.fam.cache.CurrentSize()
}

// ShrinkCache evicts the least recently used buffers until the cache holds
// frac of its current buffers. It returns false if the cache is disabled or too small to shrink.
func (c *Catalog) ShrinkCache(frac float64) bool {
	if c.fam.cache == nil {
		return false
	}
	before := c.fam.cache.CurrentSize()
	if !c.fam.cache.Resize(frac) {
		return false
	}
	c.fam.logger.Debug().Int("before", before).Int("after", c.fam.cache.CurrentSize()).Msg("shrank cache")
	return true
}

// Close releases the cache of this catalog family. Catalogs of the family
// must not be computed afterwards.
func (c *Catalog) Close() {
	if c.fam.cache != nil {
		c.fam.cache.Destroy()
	}
}

// ComputeArrays materializes arbitrary lazy arrays with this catalog's compute options
func (c *Catalog) ComputeArrays(ctx context.Context, arrays ...array.Array) ([]*array.Buffer, error) {
	c.fam.metrics.Statistics().ComputeStarted()
	return array.ComputeAll(ctx, arrays, c.computeOptions())
}

// agree is a collective returning an error on every rank if err is non-nil on any rank
func agree(ctx context.Context, c comm.Comm, err error) error {
	status := []byte{0}
	if err != nil {
		status = append([]byte{1}, err.Error()...)
	}
	all, cerr := c.AllGather(ctx, status)
	if cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}
	for rank, s := range all {
		if len(s) > 0 && s[0] != 0 {
			return fmt.Errorf("rank %d failed: %s", rank, s[1:])
		}
	}
	return nil
}

// AllGather materializes a column on every rank and returns the rows of all ranks, in rank order.
// It is a collective operation.
func (c *Catalog) AllGather(ctx context.Context, name string) (*array.Buffer, error) {
	var local []byte
	col, err := c.Get(name)
	if err == nil {
		var bufs []*array.Buffer
		if bufs, err = c.Compute(ctx, col); err == nil {
			local, err = bufs[0].MarshalBinary()
		}
	}
	if err := agree(ctx, c.Comm(), err); err != nil {
		return nil, err
	}
	all, err := c.Comm().AllGather(ctx, local)
	if err != nil {
		return nil, err
	}
	parts := make([]*array.Buffer, len(all))
	for i, data := range all {
		parts[i] = &array.Buffer{}
		if err := parts[i].UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("unable to decode rows of rank %d: %w", i, err)
		}
	}
	out, err := array.Concatenate(parts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// String summarizes this Catalog without computing anything
func (c *Catalog) String() string {
	size := "unresolved"
	if c.Size() != Unresolved {
		size = fmt.Sprintf("%d", c.Size())
	}
	return fmt.Sprintf("%s(size=%s, columns=[%s])", c.kind, size, strings.Join(c.Columns(), ", "))
}
