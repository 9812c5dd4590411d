package ratelimit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"github.com/parkerroan/ratelimit/counter"
)

// RateLimitHeader is the response header carrying one informational value per
// limiter the request passed through, innermost limiter first.
const RateLimitHeader = "X-Ratelimit"

// DefaultName identifies a limiter that was not given a name of its own.
const DefaultName = "HTTP"

// defaultClassification groups every request under a single counter when no
// classifier is configured.
const defaultClassification = "request"

// Rate is the allowance a limiter enforces: at most Max requests per fixed
// window of Period. Period must be a positive whole number of seconds.
type Rate struct {
	Max    int
	Period time.Duration
}

func (r Rate) validate() error {
	switch {
	case r.Max <= 0:
		return fmt.Errorf("%w: max must be positive, got %d", ErrInvalidRate, r.Max)
	case r.Period < time.Second || r.Period%time.Second != 0:
		return fmt.Errorf("%w: period must be a whole number of seconds, got %s", ErrInvalidRate, r.Period)
	}
	return nil
}

// RateFunc resolves a Rate per request, letting one limiter enforce different
// allowances for different callers (plans, API keys, internal traffic).
type RateFunc func(*http.Request) Rate

// Predicate inspects a request for condition and exception lists.
type Predicate func(*http.Request) bool

// ClassifierFunc derives the counter key a request is grouped under. A false
// ok exempts the request from limiting entirely, the same way an exception
// does.
type ClassifierFunc func(*http.Request) (string, bool)

// Limiter is an http.Handler that rate-limits the handler it wraps using
// fixed time windows. Requests are grouped by a classifier, counted in a
// pluggable backend, and rejected with a configurable status once the count
// for the current window passes the limit.
//
// Limiters compose: wrapping one limiter in another stacks independent
// limits, each annotating the response with its own X-Ratelimit value. If the
// counter backend fails, the limiter fails open and the request proceeds as
// if no limit were configured.
type Limiter struct {
	next http.Handler

	name         string
	rate         Rate
	rateFunc     RateFunc
	status       int
	errorMessage string
	classifier   ClassifierFunc
	conditions   []Predicate
	exceptions   []Predicate
	logger       *slog.Logger
	clock        Clock
	recorder     MetricsRecorder
	tags         map[string]string

	// counter is resolved at construction for fixed-rate limiters and custom
	// counters; dynamic-rate limiters rebuild the store adapter per request
	// from the client reference below so the expiry tracks the resolved
	// period.
	counter counter.Counter
	custom  counter.Counter
	cache   counter.CacheClient
	redis   redis.UniversalClient
}

// New wraps next in a rate limiter. A rate (WithRate or WithRateFunc) and a
// backend (WithCounter, WithCache or WithRedis) are required; everything else
// has defaults. Configuration problems are reported here rather than
// surfacing per request.
func New(next http.Handler, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		next:       next,
		name:       DefaultName,
		status:     http.StatusTooManyRequests,
		classifier: func(*http.Request) (string, bool) { return defaultClassification, true },
		clock:      systemClock{},
		recorder:   NoOpMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.errorMessage == "" {
		l.errorMessage = fmt.Sprintf("%s rate limit exceeded. Please wait %%d seconds then retry your request.", l.name)
	}
	l.tags = map[string]string{"limiter": l.name}

	if l.rateFunc == nil {
		if l.rate == (Rate{}) {
			return nil, ErrMissingRate
		}
		if err := l.rate.validate(); err != nil {
			return nil, err
		}
	}

	switch {
	case l.custom != nil:
		l.counter = l.custom
	case l.cache != nil:
		if l.rateFunc == nil {
			l.counter = counter.NewCache(l.cache, l.name, l.rate.Period)
		}
	case l.redis != nil:
		if l.rateFunc == nil {
			l.counter = counter.NewRedis(l.redis, l.name, l.rate.Period)
		}
	default:
		return nil, ErrNoCounter
	}

	return l, nil
}

// AddCondition appends a predicate that must hold for this limiter to apply.
// Appends are not synchronized with requests in flight; finish configuring
// before serving traffic.
func (l *Limiter) AddCondition(p Predicate) {
	l.conditions = append(l.conditions, p)
}

// AddException appends a predicate that exempts matching requests from this
// limiter.
func (l *Limiter) AddException(p Predicate) {
	l.exceptions = append(l.exceptions, p)
}

// ServeHTTP applies the limit and delegates to the wrapped handler. Requests
// that are exempt (exception matched, condition failed, or no classification)
// pass through untouched, with no counter traffic and no header annotation.
func (l *Limiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := l.instant(r)
	rate, ctr := l.resolve(r)

	if !l.applies(r) {
		l.recorder.Add(MetricSkipped, 1, l.tags)
		l.next.ServeHTTP(w, r)
		return
	}
	classification, ok := l.classifier(r)
	if !ok {
		l.recorder.Add(MetricSkipped, 1, l.tags)
		l.next.ServeHTTP(w, r)
		return
	}

	epoch := windowEpoch(now, rate.Period)

	start := time.Now()
	count, err := ctr.Increment(r.Context(), classification, epoch)
	l.recorder.Observe(MetricBackendLatency, time.Since(start).Seconds(), l.tags)
	if err != nil {
		// Fail open: an unhealthy counter store must not take the protected
		// application down with it. The request proceeds unlimited and
		// unannotated; the failure is only visible in logs and metrics.
		l.recorder.Add(MetricFailOpen, 1, l.tags)
		if l.logger != nil {
			l.logger.Error("rate limit counter failed, allowing request",
				slog.String("limiter", l.name),
				slog.Any("error", err))
		}
		l.next.ServeHTTP(w, r)
		return
	}

	remaining := int64(rate.Max) - count
	if remaining < 0 {
		// Only the request that pushes the window exactly one past its limit
		// sees remaining == -1, so the first overage logs once per window
		// with no bookkeeping.
		if remaining == -1 && l.logger != nil {
			l.logger.Info("rate limit exceeded",
				slog.String("limiter", l.name),
				slog.String("classification", classification),
				slog.Int("limit", rate.Max),
				slog.Time("until", epoch.UTC()))
		}
		l.recorder.Add(MetricLimited, 1, l.tags)
		l.reject(w, rate, remaining, epoch)
		return
	}

	l.recorder.Add(MetricAllowed, 1, l.tags)
	aw := &annotatingWriter{ResponseWriter: w, line: headerLine(l.name, rate, remaining, epoch)}
	l.next.ServeHTTP(aw, r)
	aw.finish()
}

// instant is the request's position in time: either pinned upstream via
// ContextWithTimestamp or read from the limiter's clock.
func (l *Limiter) instant(r *http.Request) time.Time {
	if t, ok := TimestampFromContext(r.Context()); ok {
		return t
	}
	return l.clock.Now()
}

// resolve returns the rate and counter in force for this request. A rate
// resolver that yields an unusable rate is a programming error and panics,
// matching how misconfiguration is reported by New.
func (l *Limiter) resolve(r *http.Request) (Rate, counter.Counter) {
	if l.rateFunc == nil {
		return l.rate, l.counter
	}
	rate := l.rateFunc(r)
	if err := rate.validate(); err != nil {
		panic(fmt.Sprintf("ratelimit: %s rate resolver returned an unusable rate: %v", l.name, err))
	}
	if l.counter != nil {
		// Custom counters manage their own expiry and serve any period.
		return rate, l.counter
	}
	if l.cache != nil {
		return rate, counter.NewCache(l.cache, l.name, rate.Period)
	}
	return rate, counter.NewRedis(l.redis, l.name, rate.Period)
}

// applies reports whether limiting is in force: no exception may match and
// every condition must hold.
func (l *Limiter) applies(r *http.Request) bool {
	for _, exception := range l.exceptions {
		if exception(r) {
			return false
		}
	}
	for _, condition := range l.conditions {
		if !condition(r) {
			return false
		}
	}
	return true
}

// reject writes the refusal response. The inner handler is never invoked.
func (l *Limiter) reject(w http.ResponseWriter, rate Rate, remaining int64, epoch time.Time) {
	retry := retryAfter(epoch, l.clock.Now())
	w.Header().Add(RateLimitHeader, headerLine(l.name, rate, remaining, epoch))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(l.status)
	if strings.Contains(l.errorMessage, "%d") {
		fmt.Fprintf(w, l.errorMessage, retry)
		return
	}
	io.WriteString(w, l.errorMessage)
}

// rateLimitInfo is the JSON payload of one X-Ratelimit value.
type rateLimitInfo struct {
	Name      string `json:"name"`
	Period    int64  `json:"period"`
	Limit     int    `json:"limit"`
	Remaining int64  `json:"remaining"`
	Until     string `json:"until"`
}

// headerLine renders the informational header value for one limiter, with
// remaining clamped to zero so clients never see a negative allowance.
func headerLine(name string, rate Rate, remaining int64, epoch time.Time) string {
	if remaining < 0 {
		remaining = 0
	}
	line, _ := json.Marshal(rateLimitInfo{
		Name:      name,
		Period:    int64(rate.Period / time.Second),
		Limit:     rate.Max,
		Remaining: remaining,
		Until:     epoch.UTC().Format(time.RFC3339),
	})
	return string(line)
}

// windowEpoch returns the end of the fixed window containing the instant: the
// smallest multiple of period at or after it. Windows are the half-open
// intervals (epoch-period, epoch], so an instant exactly on a boundary
// belongs to the window ending there.
func windowEpoch(instant time.Time, period time.Duration) time.Time {
	p := period.Nanoseconds()
	n := instant.UnixNano()
	return time.Unix(0, (n+p-1)/p*p)
}

// retryAfter is the whole number of seconds until the window rolls over,
// clamped to zero in case the window elapsed between the increment and now.
func retryAfter(epoch, now time.Time) int {
	d := epoch.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
