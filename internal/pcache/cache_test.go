package pcache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-sif/catalog/array"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	hits, misses, evictions int64
}

func (o *countingObserver) CacheHit()      { atomic.AddInt64(&o.hits, 1) }
func (o *countingObserver) CacheMiss()     { atomic.AddInt64(&o.misses, 1) }
func (o *countingObserver) CacheEviction() { atomic.AddInt64(&o.evictions, 1) }

func buffer(t *testing.T, v float64) *array.Buffer {
	buf, err := array.BufferOf(array.Float64, 1, []float64{v, v + 1})
	require.Nil(t, err)
	return buf
}

func key(column string, i int) Key {
	return Key{Column: column, Definition: fmt.Sprintf("def-%d", i), Rows: uint64(i)}
}

func TestCacheTiers(t *testing.T) {
	obs := &countingObserver{}
	cache, err := NewLRU(&LRUConfig{Size: 10, CompressedFraction: 0.5, Observer: obs})
	require.Nil(t, err)
	defer cache.Destroy()
	iCache, ok := cache.(*lru)
	require.True(t, ok)

	for i := 0; i < 20; i++ {
		cache.Add(key("x", i), buffer(t, float64(i)))
	}
	require.Equal(t, 5, len(iCache.pmap))
	require.Equal(t, 5, iCache.recentUncompressedList.Len())
	require.Equal(t, 5, len(iCache.compressedPmap))
	require.Equal(t, 10, cache.CurrentSize())
	require.EqualValues(t, 10, obs.evictions)

	// the compressed tier round-trips buffers
	value, ok := cache.Get(key("x", 11))
	require.True(t, ok)
	require.Equal(t, []float64{11, 12}, value.Data())
	_, ok = cache.Get(key("x", 0))
	require.False(t, ok)
	require.EqualValues(t, 1, obs.hits)
	require.EqualValues(t, 1, obs.misses)
}

func TestCacheResize(t *testing.T) {
	cache, err := NewLRU(&LRUConfig{Size: 10, CompressedFraction: 0})
	require.Nil(t, err)
	defer cache.Destroy()
	iCache := cache.(*lru)
	for i := 0; i < 20; i++ {
		cache.Add(key("x", i), buffer(t, float64(i)))
	}
	require.Equal(t, 10, len(iCache.pmap))
	require.True(t, cache.Resize(0.5))
	require.Equal(t, 5, len(iCache.pmap))
	require.Equal(t, 5, iCache.recentUncompressedList.Len())
	require.False(t, cache.Resize(0.1))
}

func TestInvalidateColumn(t *testing.T) {
	cache, err := NewLRU(&LRUConfig{Size: 10, CompressedFraction: 0.5})
	require.Nil(t, err)
	defer cache.Destroy()
	for i := 0; i < 8; i++ {
		cache.Add(key("x", i), buffer(t, float64(i)))
		cache.Add(key("y", i), buffer(t, float64(i)))
	}
	require.Equal(t, 10, cache.CurrentSize())
	removed := cache.InvalidateColumn("y")
	require.True(t, removed > 0)
	for i := 0; i < 8; i++ {
		_, ok := cache.Get(key("y", i))
		require.False(t, ok)
	}
	require.Equal(t, 0, cache.InvalidateColumn("y"))
}

func TestGetOrComputeOnce(t *testing.T) {
	cache, err := NewLRU(&LRUConfig{Size: 4})
	require.Nil(t, err)
	defer cache.Destroy()
	var computed int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := cache.GetOrCompute(key("x", 1), func() (*array.Buffer, error) {
				atomic.AddInt64(&computed, 1)
				return buffer(t, 1), nil
			})
			require.Nil(t, err)
			require.Equal(t, 2, value.Len())
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, computed)

	_, err = cache.GetOrCompute(key("x", 2), func() (*array.Buffer, error) {
		return nil, fmt.Errorf("boom")
	})
	require.NotNil(t, err)
	_, ok := cache.Get(key("x", 2))
	require.False(t, ok)
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewLRU(&LRUConfig{Size: 1})
	require.NotNil(t, err)
	_, err = NewLRU(&LRUConfig{Size: 10, CompressedFraction: 2})
	require.NotNil(t, err)
}
