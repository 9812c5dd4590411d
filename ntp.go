package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"github.com/jpillora/backoff"
	"golang.org/x/exp/slog"
)

// NTPClock is a Clock that corrects the local clock by the offset reported by
// an NTP server. Fixed windows only line up across a fleet when every node
// agrees what time it is; pointing each limiter at the same NTP pool keeps
// their epochs aligned without trusting the hosts' own clocks.
//
// Until the first successful sync the offset is zero and Now behaves like the
// system clock.
type NTPClock struct {
	server   string
	interval time.Duration

	backoff *backoff.Backoff
	offset  atomic.Int64 // nanoseconds
}

// NewNTPClock returns a clock synced against the given NTP server, e.g.
// "pool.ntp.org". Call Start to begin syncing.
func NewNTPClock(server string, opts ...func(*NTPClock)) *NTPClock {
	// Create an exponential backoff configuration for failed syncs
	b := backoff.Backoff{
		//These are the defaults
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: false,
	}

	c := &NTPClock{
		server:   server,
		interval: 5 * time.Minute,
		backoff:  &b,
	}

	// Apply all provided options
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithSyncInterval sets how often the clock re-queries the NTP server.
// default: 5m
func WithSyncInterval(interval time.Duration) func(*NTPClock) {
	return func(c *NTPClock) {
		c.interval = interval
	}
}

// Start begins syncing in the background until ctx is cancelled.
func (c *NTPClock) Start(ctx context.Context) {
	go func() {
		if err := c.run(ctx); err != nil {
			slog.Error("ntp clock stopped", slog.Any("error", err.Error()))
		}
	}()
}

// Now returns the local time corrected by the last known NTP offset.
func (c *NTPClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

// Offset reports the correction currently applied by Now.
func (c *NTPClock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

func (c *NTPClock) run(ctx context.Context) error {
	for {
		if err := c.sync(); err != nil {
			slog.Error("ntp sync failed",
				slog.String("server", c.server),
				slog.Any("error", err.Error()))
			select {
			case <-time.After(c.backoff.Duration()):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		c.backoff.Reset()

		select {
		case <-time.After(c.interval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *NTPClock) sync() error {
	resp, err := ntp.Query(c.server)
	if err != nil {
		return err
	}
	if err := resp.Validate(); err != nil {
		return err
	}
	c.offset.Store(int64(resp.ClockOffset))
	return nil
}
