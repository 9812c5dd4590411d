package counter

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory counts requests in process memory. State is local to the process and
// is not shared across replicas; use Cache or Redis when several instances
// must agree on one count. It is safe for concurrent use: a plain map is not
// an atomic counter, so increments are serialized by a mutex here rather than
// left to the caller.
//
// Entries expire period seconds after their last increment, and maxEntries
// bounds how many windows are tracked at once so hostile classifications
// (spoofed addresses, generated tokens) cannot grow memory without bound.
// Evicting a live window under that pressure resets its count, trading strict
// enforcement for a memory ceiling.
type Memory struct {
	mu     sync.Mutex
	counts *expirable.LRU[string, int64]
	name   string
}

// NewMemory returns an in-process counter for the named limiter. maxEntries
// <= 0 means no bound on tracked windows.
func NewMemory(name string, period time.Duration, maxEntries int) *Memory {
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &Memory{
		counts: expirable.NewLRU[string, int64](maxEntries, nil, period),
		name:   name,
	}
}

var _ Counter = (*Memory)(nil)

// Increment adds one request to the window's counter and returns the running
// count. The epoch in the key isolates windows from each other, so an expired
// or evicted entry simply restarts its window's count at one.
func (m *Memory) Increment(ctx context.Context, classification string, epoch time.Time) (int64, error) {
	key := Key(m.name, classification, epoch)

	m.mu.Lock()
	defer m.mu.Unlock()

	count, _ := m.counts.Get(key)
	count++
	m.counts.Add(key, count)
	return count, nil
}
