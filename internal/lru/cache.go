package lru

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

type OnEvict func(k uint64, v interface{})

// Cache is an LRU cache bounded by entry count and split into shards
// so that concurrent lookups of different keys rarely contend.
type Cache struct {
	capacity int
	shardCnt uint64
	count    int64
	shards   []*lruShard
}

func NewCache(shards int, capacity int, onEvict OnEvict) (*Cache, error) {
	if shards < 1 {
		return nil, ErrInvalidSharding
	}

	if capacity < shards {
		return nil, errors.Wrapf(ErrIllegalCapacity, "capacity %d is less than %d shards", capacity, shards)
	}

	c := Cache{
		capacity: capacity,
		shardCnt: uint64(shards),
		shards:   make([]*lruShard, shards),
	}

	perShard := capacity / shards
	for i := range c.shards {
		c.shards[i] = newLruShard(perShard, c.trackEvict(onEvict))
	}

	return &c, nil
}

func (c *Cache) trackEvict(onEvict OnEvict) OnEvict {
	return func(k uint64, v interface{}) {
		atomic.AddInt64(&c.count, -1)
		if onEvict != nil {
			onEvict(k, v)
		}
	}
}

// Add value to cache under key and returns true if eviction happened
func (c *Cache) Add(key uint64, value interface{}) bool {
	shard := c.getShard(key)
	evicted, inserted := shard.add(key, value)

	if inserted {
		atomic.AddInt64(&c.count, 1)
	}

	return evicted
}

func (c *Cache) Get(key uint64) (interface{}, bool) {
	shard := c.getShard(key)
	return shard.get(key)
}

func (c *Cache) Remove(key uint64) {
	shard := c.getShard(key)
	if _, ok := shard.remove(key); ok {
		atomic.AddInt64(&c.count, -1)
	}
}

func (c *Cache) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(i int) {
			defer wg.Done()
			c.shards[i].purge()
		}(i)
	}

	wg.Wait()
	atomic.StoreInt64(&c.count, 0)
}

func (c *Cache) Count() int {
	return int(atomic.LoadInt64(&c.count))
}

func (c *Cache) Keys() []uint64 {
	count := atomic.LoadInt64(&c.count)
	keys := make([]uint64, 0, count)

	for i := range c.shards {
		keys = append(keys, c.shards[i].keys()...)
	}

	return keys
}

func (c *Cache) getShard(key uint64) *lruShard {
	bs := make([]byte, 8)
	binary.LittleEndian.PutUint64(bs, key)
	hash := xxhash.Sum64(bs)
	return c.shards[hash%c.shardCnt]
}
