package ratelimit

import "errors"

var (
	// ErrNoCounter is returned by New when no counter backend is configured:
	// no custom counter, no cache client, and no redis client.
	ErrNoCounter = errors.New("no counter backend configured")
	// ErrMissingRate is returned by New when neither a fixed rate nor a rate
	// resolver is configured.
	ErrMissingRate = errors.New("no rate configured")
	// ErrInvalidRate is returned by New when a fixed rate has a non-positive
	// max or a period that is not a positive whole number of seconds. A rate
	// resolver that produces such a rate panics at request time instead.
	ErrInvalidRate = errors.New("invalid rate")
)
