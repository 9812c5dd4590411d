package ratelimit

import (
	"fmt"
	"net/http"
)

// Middleware adapts the limiter to the func(next http.Handler) http.Handler
// shape used by mux.Use and similar routers. The options are the same ones
// New takes.
//
// Because the middleware signature leaves nowhere to return an error,
// configuration problems panic here instead. Construct with New directly to
// handle them.
func Middleware(opts ...Option) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		l, err := New(next, opts...)
		if err != nil {
			panic(fmt.Sprintf("ratelimit: %v", err))
		}
		return l
	}
}
