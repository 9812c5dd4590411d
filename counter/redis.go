package counter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts requests in a Redis store. Each increment runs INCR and EXPIRE
// in one transaction, so the key always carries a TTL even in the instant
// between its implicit creation and the expiry command.
type Redis struct {
	client redis.UniversalClient
	name   string
	period time.Duration
}

// NewRedis returns a Redis counter for the named limiter. Keys expire period
// seconds after their most recent increment; refreshing the TTL on every hit
// rather than only on creation lets a key recover from a previously missed
// expiry.
func NewRedis(client redis.UniversalClient, name string, period time.Duration) *Redis {
	return &Redis{
		client: client,
		name:   name,
		period: period,
	}
}

var _ Counter = (*Redis)(nil)

// Increment adds one request to the window's counter and returns the running
// count. INCR creates missing keys at zero, so no creation race exists here;
// the transaction only has to guarantee the expiry lands with the increment.
func (c *Redis) Increment(ctx context.Context, classification string, epoch time.Time) (int64, error) {
	key := Key(c.name, classification, epoch)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
