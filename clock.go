package ratelimit

import "time"

// Clock supplies the current time to a limiter. The default is the system
// clock; tests substitute fixed clocks, and multi-node deployments can share
// an NTPClock so every node computes the same window boundaries.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
