package catalog

import (
	"github.com/go-playground/validator/v10"
	"github.com/go-sif/catalog/array"
	"github.com/go-sif/catalog/comm"
	"github.com/go-sif/catalog/internal/util"
	"github.com/go-sif/catalog/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Options configure the construction of a Catalog. Derived catalogs (slices,
// views, copies) inherit the options of the catalog they are derived from.
type Options struct {
	Comm                    comm.Comm             // the ranks sharing this catalog (defaults to a single rank)
	UseCache                bool                  // memoize computed columns
	CacheSize               int                   `validate:"gte=0"`          // number of computed columns held by the cache (defaults to 64)
	CacheCompressedFraction float32               `validate:"gte=0,lte=1"`    // share of the cache held zstd-compressed (defaults to 0.5)
	ChunkSize               int                   `validate:"gte=0"`          // rows per evaluated chunk (defaults to CATALOG_CHUNK_SIZE, or array.DefaultChunkSize)
	Concurrency             int                   `validate:"gte=0,lte=1024"` // chunks evaluated concurrently (defaults to CATALOG_CONCURRENCY, or array.DefaultConcurrency)
	Logger                  *zerolog.Logger       // logger for catalog events (defaults to logging.NewLogger())
	Registerer              prometheus.Registerer // registers compute and cache metrics, if set
}

// CloneOptions makes a copy of Options
func CloneOptions(opts *Options) *Options {
	clone := *opts
	return &clone
}

func ensureDefaultOptions(opts *Options) (*Options, error) {
	if opts == nil {
		opts = &Options{}
	} else {
		opts = CloneOptions(opts)
	}
	if opts.Comm == nil {
		opts.Comm = comm.Self()
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 64
	}
	if opts.CacheCompressedFraction == 0 {
		opts.CacheCompressedFraction = 0.5
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = util.GetEnvOrDefaultInt("CATALOG_CHUNK_SIZE", array.DefaultChunkSize)
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = util.GetEnvOrDefaultInt("CATALOG_CONCURRENCY", array.DefaultConcurrency)
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		logger := logging.NewLogger()
		opts.Logger = &logger
	}
	return opts, nil
}
