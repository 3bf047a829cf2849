package stats

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports compute and cache activity to prometheus. It satisfies both
// array.Observer and pcache.Observer.
type Metrics struct {
	rowsFetched   prometheus.Counter
	rowsGenerated prometheus.Counter
	chunkDuration prometheus.Histogram
	chunkErrors   prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheEvicted  prometheus.Counter
	stats         *ComputeStatistics
}

// NewMetrics creates and registers catalog metrics. A nil Registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rowsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "rows_fetched_total",
			Help:      "Rows read from backing file stacks",
		}),
		rowsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "rows_generated_total",
			Help:      "Rows produced by procedural generators",
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "catalog",
			Name:      "chunk_duration_seconds",
			Help:      "Time spent evaluating one chunk of rows",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		chunkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "chunk_errors_total",
			Help:      "Chunks whose evaluation failed",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "cache_hits_total",
			Help:      "Computed column buffers served from the cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "cache_misses_total",
			Help:      "Computed column buffers missing from the cache",
		}),
		cacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "cache_evictions_total",
			Help:      "Computed column buffers evicted from the cache",
		}),
		stats: &ComputeStatistics{},
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []*prometheus.Counter{
		&m.rowsFetched, &m.rowsGenerated, &m.chunkErrors,
		&m.cacheHits, &m.cacheMisses, &m.cacheEvicted,
	} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	if err := register(reg, &m.chunkDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds a collector to reg, or adopts the equivalent collector already
// registered by another catalog
func register[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return err
	}
	*c = existing
	return nil
}

// Statistics returns the running totals behind these metrics
func (m *Metrics) Statistics() *ComputeStatistics {
	return m.stats
}

// RowsFetched implements array.Observer
func (m *Metrics) RowsFetched(n int) {
	m.rowsFetched.Add(float64(n))
	m.stats.RowsFetched(n)
}

// RowsGenerated implements array.Observer
func (m *Metrics) RowsGenerated(n int) {
	m.rowsGenerated.Add(float64(n))
	m.stats.RowsGenerated(n)
}

// ChunkComputed implements array.Observer
func (m *Metrics) ChunkComputed(d time.Duration, err error) {
	m.chunkDuration.Observe(d.Seconds())
	if err != nil {
		m.chunkErrors.Inc()
	}
	m.stats.ChunkComputed(d, err)
}

// CacheHit implements pcache.Observer
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss implements pcache.Observer
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// CacheEviction implements pcache.Observer
func (m *Metrics) CacheEviction() { m.cacheEvicted.Inc() }
