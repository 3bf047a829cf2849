package pcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/docker/docker/pkg/locker"
	"github.com/go-sif/catalog/array"
	"github.com/klauspost/compress/zstd"
)

// lru is a two-tier LRU cache for computed buffers. Buffers evicted from the
// uncompressed tier are compressed with zstd and kept in a second tier until
// that one fills up too.
type lru struct {
	config                 *LRUConfig
	compressor             *zstd.Encoder
	decompressor           *zstd.Decoder
	plocks                 *locker.Locker
	lock                   sync.Mutex
	pmap                   map[Key]*list.Element
	compressedPmap         map[Key]*list.Element
	recentUncompressedList *list.List // back is oldest, front is newest
	recentCompressedList   *list.List // back is oldest, front is newest
	maxUncompressed        int
	maxCompressed          int
}

type cachedBuffer struct {
	key   Key
	value *array.Buffer
}

type cachedCompressedBuffer struct {
	key   Key
	value []byte
}

// LRUConfig configures an LRU BufferCache
type LRUConfig struct {
	Size               int     // Size is the total number of buffers held by both tiers
	CompressedFraction float32 // CompressedFraction is the share of Size held compressed
	Observer           Observer
}

type nopObserver struct{}

func (nopObserver) CacheHit()      {}
func (nopObserver) CacheMiss()     {}
func (nopObserver) CacheEviction() {}

// NewLRU produces an LRU BufferCache
func NewLRU(config *LRUConfig) (BufferCache, error) {
	if config.Size < 2 {
		return nil, fmt.Errorf("LRUConfig.Size %d must be at least 2", config.Size)
	}
	if config.CompressedFraction < 0 || config.CompressedFraction > 1 {
		return nil, fmt.Errorf("LRUConfig.CompressedFraction %f must be between 0 and 1", config.CompressedFraction)
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}
	// init compressor/decompressor
	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("unable to initialize compressor: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize decompressor: %w", err)
	}
	c := &lru{
		compressor:             compressor,
		decompressor:           decompressor,
		config:                 config,
		plocks:                 locker.New(),
		pmap:                   make(map[Key]*list.Element),
		compressedPmap:         make(map[Key]*list.Element),
		recentUncompressedList: list.New(),
		recentCompressedList:   list.New(),
	}
	c.setLimits(config.Size)
	return c, nil
}

func (c *lru) setLimits(size int) {
	c.maxUncompressed = int(float32(size) * (1 - c.config.CompressedFraction))
	if c.maxUncompressed < 1 {
		c.maxUncompressed = 1
	}
	c.maxCompressed = size - c.maxUncompressed
}

func (c *lru) Destroy() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.pmap = make(map[Key]*list.Element)
	c.compressedPmap = make(map[Key]*list.Element)
	c.recentUncompressedList.Init()
	c.recentCompressedList.Init()
	c.compressor.Close()
	c.decompressor.Close()
}

func (c *lru) Add(key Key, value *array.Buffer) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.removeLocked(key)
	c.pmap[key] = c.recentUncompressedList.PushFront(&cachedBuffer{key: key, value: value})
	c.evictLocked()
}

// Get returns a buffer from either tier, promoting it to the front of the uncompressed tier
func (c *lru) Get(key Key) (*array.Buffer, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.pmap[key]; ok {
		c.recentUncompressedList.MoveToFront(e)
		c.config.Observer.CacheHit()
		return e.Value.(*cachedBuffer).value, true
	}
	if e, ok := c.compressedPmap[key]; ok {
		value, err := c.decompress(e.Value.(*cachedCompressedBuffer).value)
		delete(c.compressedPmap, key)
		c.recentCompressedList.Remove(e)
		if err != nil {
			c.config.Observer.CacheMiss()
			return nil, false
		}
		c.pmap[key] = c.recentUncompressedList.PushFront(&cachedBuffer{key: key, value: value})
		c.evictLocked()
		c.config.Observer.CacheHit()
		return value, true
	}
	c.config.Observer.CacheMiss()
	return nil, false
}

func (c *lru) GetOrCompute(key Key, compute func() (*array.Buffer, error)) (*array.Buffer, error) {
	c.plocks.Lock(key.String())
	defer c.plocks.Unlock(key.String())
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := compute()
	if err != nil {
		return nil, err
	}
	c.Add(key, value)
	return value, nil
}

func (c *lru) InvalidateColumn(column string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	removed := 0
	for key := range c.pmap {
		if key.Column == column {
			c.removeLocked(key)
			removed++
		}
	}
	for key := range c.compressedPmap {
		if key.Column == column {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

func (c *lru) CurrentSize() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pmap) + len(c.compressedPmap)
}

// Resize changes the capacity of the cache relative to the number of buffers it holds, evicting as necessary
func (c *lru) Resize(frac float64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	current := len(c.pmap) + len(c.compressedPmap)
	size := int(float64(current) * frac)
	if size < 2 {
		return false
	}
	c.setLimits(size)
	c.evictLocked()
	return true
}

func (c *lru) removeLocked(key Key) {
	if e, ok := c.pmap[key]; ok {
		delete(c.pmap, key)
		c.recentUncompressedList.Remove(e)
	}
	if e, ok := c.compressedPmap[key]; ok {
		delete(c.compressedPmap, key)
		c.recentCompressedList.Remove(e)
	}
}

// evictLocked moves the oldest uncompressed buffers into the compressed tier, and drops the oldest compressed ones
func (c *lru) evictLocked() {
	for c.recentUncompressedList.Len() > c.maxUncompressed {
		oldest := c.recentUncompressedList.Back()
		c.recentUncompressedList.Remove(oldest)
		cb := oldest.Value.(*cachedBuffer)
		delete(c.pmap, cb.key)
		if c.maxCompressed == 0 {
			c.config.Observer.CacheEviction()
			continue
		}
		compressed, err := c.compress(cb.value)
		if err != nil {
			c.config.Observer.CacheEviction()
			continue
		}
		c.compressedPmap[cb.key] = c.recentCompressedList.PushFront(&cachedCompressedBuffer{key: cb.key, value: compressed})
	}
	for c.recentCompressedList.Len() > c.maxCompressed {
		oldest := c.recentCompressedList.Back()
		c.recentCompressedList.Remove(oldest)
		delete(c.compressedPmap, oldest.Value.(*cachedCompressedBuffer).key)
		c.config.Observer.CacheEviction()
	}
}

func (c *lru) compress(buf *array.Buffer) ([]byte, error) {
	data, err := buf.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return c.compressor.EncodeAll(data, nil), nil
}

func (c *lru) decompress(data []byte) (*array.Buffer, error) {
	raw, err := c.decompressor.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	buf := &array.Buffer{}
	if err := buf.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return buf, nil
}
