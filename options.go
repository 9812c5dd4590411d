package ratelimit

import (
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"github.com/parkerroan/ratelimit/counter"
)

// Option configures a Limiter at construction.
type Option func(*Limiter)

// WithName labels the limiter in headers, logs and error messages. Distinct
// names keep stacked limiters' counters apart even when they share a backend.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithRate sets a fixed allowance of max requests per period. Period must be
// a positive whole number of seconds.
func WithRate(max int, period time.Duration) Option {
	return func(l *Limiter) {
		l.rate = Rate{Max: max, Period: period}
	}
}

// WithRateFunc resolves the allowance per request instead of fixing it up
// front. It takes precedence over WithRate. The resolved rate is validated on
// every request; an unusable result panics, since it is a programming error
// no request could recover from.
func WithRateFunc(fn RateFunc) Option {
	return func(l *Limiter) {
		l.rateFunc = fn
	}
}

// WithStatus overrides the response status for rejected requests, 429 by
// default.
func WithStatus(status int) Option {
	return func(l *Limiter) {
		l.status = status
	}
}

// WithCache counts requests in memcached via the given client.
func WithCache(client counter.CacheClient) Option {
	return func(l *Limiter) {
		l.cache = client
	}
}

// WithRedis counts requests in Redis via the given client.
func WithRedis(client redis.UniversalClient) Option {
	return func(l *Limiter) {
		l.redis = client
	}
}

// WithCounter counts requests in a caller-supplied implementation. It takes
// precedence over WithCache and WithRedis.
func WithCounter(c counter.Counter) Option {
	return func(l *Limiter) {
		l.custom = c
	}
}

// WithConditions appends predicates that must all hold for the limiter to
// apply to a request.
func WithConditions(preds ...Predicate) Option {
	return func(l *Limiter) {
		l.conditions = append(l.conditions, preds...)
	}
}

// WithExceptions appends predicates any one of which exempts a request from
// the limiter.
func WithExceptions(preds ...Predicate) Option {
	return func(l *Limiter) {
		l.exceptions = append(l.exceptions, preds...)
	}
}

// WithLogger enables logging of first overages per window and of counter
// failures. Without it the limiter is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithErrorMessage overrides the rejection body. One optional %d is
// interpolated with the seconds until the window rolls over.
func WithErrorMessage(msg string) Option {
	return func(l *Limiter) {
		l.errorMessage = msg
	}
}

// WithClassifier groups requests into separately counted classes, such as per
// client IP or per API key. Returning ok == false exempts the request.
func WithClassifier(fn ClassifierFunc) Option {
	return func(l *Limiter) {
		l.classifier = fn
	}
}

// WithClock substitutes the limiter's time source. Useful in tests and for
// aligning windows across nodes, see NTPClock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithRecorder publishes allow/deny/skip counts and backend latency to the
// given recorder.
func WithRecorder(rec MetricsRecorder) Option {
	return func(l *Limiter) {
		l.recorder = rec
	}
}
