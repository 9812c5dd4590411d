package counter

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// CacheClient is the slice of the memcached protocol the Cache counter
// depends on. *memcache.Client satisfies it as-is; tests substitute fakes.
type CacheClient interface {
	// Increment atomically adds delta to an existing key and returns the new
	// value. It must report a cache miss when the key does not exist rather
	// than creating it.
	Increment(key string, delta uint64) (uint64, error)
	// Add stores an item only if the key does not already exist.
	Add(item *memcache.Item) error
}

// Cache counts requests in a memcached-style store. The store's increment
// primitive does not create missing keys, so the first request of a window
// has to race to create the counter; see Increment for the ordering that
// keeps concurrent first requests from losing updates.
type Cache struct {
	client CacheClient
	name   string
	period time.Duration
}

// NewCache returns a Cache counter for the named limiter. Keys created by
// this counter expire period seconds after the window's first request.
func NewCache(client CacheClient, name string, period time.Duration) *Cache {
	return &Cache{
		client: client,
		name:   name,
		period: period,
	}
}

var _ Counter = (*Cache)(nil)

// Increment adds one request to the window's counter and returns the running
// count. Three steps, in order:
//
//  1. Increment the key. If it exists, done.
//  2. On a miss, add the key with value 1 and the window's expiry. If the add
//     is stored, this caller created the counter and the count is 1.
//  3. If the add is rejected, a concurrent caller created the key between
//     steps 1 and 2; increment the key it stored.
//
// Skipping straight to step 2 would let two racing first requests both
// believe they created the counter, losing an increment.
//
// The memcached client carries its own dial and read timeouts; ctx is
// accepted for interface parity but cancellation is governed by the client.
func (c *Cache) Increment(ctx context.Context, classification string, epoch time.Time) (int64, error) {
	key := Key(c.name, classification, epoch)

	count, err := c.client.Increment(key, 1)
	switch {
	case err == nil:
		return int64(count), nil
	case !errors.Is(err, memcache.ErrCacheMiss):
		return 0, err
	}

	err = c.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte("1"),
		Expiration: int32(c.period / time.Second),
	})
	switch {
	case err == nil:
		return 1, nil
	case !errors.Is(err, memcache.ErrNotStored):
		return 0, err
	}

	// Lost the creation race; the winner's key is there to increment now.
	count, err = c.client.Increment(key, 1)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}
