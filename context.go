package ratelimit

import (
	"context"
	"time"
)

type timestampKey struct{}

// ContextWithTimestamp returns a context carrying an explicit request
// instant. Every limiter the request passes through uses that instant instead
// of reading its clock, so stacked limiters agree on the window even when the
// request straddles a boundary, and upstream proxies can pin the time a
// request actually arrived.
func ContextWithTimestamp(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timestampKey{}, t)
}

// TimestampFromContext reports the instant set by ContextWithTimestamp, if
// any.
func TimestampFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(timestampKey{}).(time.Time)
	return t, ok
}
