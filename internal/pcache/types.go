package pcache

import (
	"fmt"

	"github.com/go-sif/catalog/array"
)

// Key identifies a computed column buffer: the column it was computed for, the
// definition it was computed from, and the rows that were computed
type Key struct {
	Column     string
	Definition string
	Rows       uint64
}

// String returns a textual form of this Key, suitable for per-key locking
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%x", k.Column, k.Definition, k.Rows)
}

// Observer is notified of cache activity
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

// BufferCache memoizes computed column buffers
type BufferCache interface {
	Destroy()
	Add(key Key, value *array.Buffer)
	Get(key Key) (value *array.Buffer, ok bool) // returns the buffer if present, without removing it
	// GetOrCompute returns a cached buffer, or computes and caches it. Concurrent callers for one key compute it once.
	GetOrCompute(key Key, compute func() (*array.Buffer, error)) (*array.Buffer, error)
	InvalidateColumn(column string) int // removes every buffer computed for a column, returning the number removed
	CurrentSize() int
	Resize(frac float64) bool // resize by a fraction RELATIVE TO THE CURRENT NUMBER OF ITEMS IN THE CACHE
}
