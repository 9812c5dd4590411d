// Package counter provides the window counters that back a rate limiter.
//
// A counter tracks how many requests a classification has made in the fixed
// time window ending at a given epoch. The package ships three
// implementations: Cache for memcached-style stores, Redis for transactional
// stores, and Memory for single-process use. All of them key their state the
// same way, so a limiter can be moved between backends without changing its
// counting behavior.
package counter

import (
	"context"
	"strconv"
	"time"
)

// keyPrefix namespaces every counter key in a shared store.
const keyPrefix = "ratelimit:"

// Counter is the capability a rate limiter needs from its backing store: an
// atomic per-key increment whose keys expire on their own once the window has
// passed. Implementations must be safe for concurrent use; every call for the
// same (classification, epoch) pair observes a monotonically increasing
// running count for that window.
type Counter interface {
	// Increment adds one request to the counter for classification in the
	// window ending at epoch and returns the resulting count.
	Increment(ctx context.Context, classification string, epoch time.Time) (int64, error)
}

// Key builds the storage key for one (limiter, classification, window)
// triple. The epoch is the window's end as a unix timestamp, so a new window
// always starts under a fresh key.
func Key(name, classification string, epoch time.Time) string {
	return keyPrefix + name + ":" + classification + ":" + strconv.FormatInt(epoch.Unix(), 10)
}
