/*
Package ratelimit provides HTTP middleware that enforces a limit on the number
of requests each client may make within a fixed time window.

Requests are grouped into classifications (per IP, per API key, per anything a
classifier derives from the request) and counted in a shared backend, so one
limit holds across every process pointed at the same store.

# A limiter needs a rate and a counter backend

Example:

	import (
		"net/http"
		"time"

		"github.com/bradfitz/gomemcache/memcache"
		"github.com/parkerroan/ratelimit"
	)

	// Allow 20 requests per client IP every 30 seconds
	limited, err := ratelimit.New(app,
		ratelimit.WithName("API"),
		ratelimit.WithRate(20, 30*time.Second),
		ratelimit.WithCache(memcache.New("localhost:11211")),
		ratelimit.WithClassifier(func(r *http.Request) (string, bool) {
			return r.RemoteAddr, true
		}),
	)

The repo provides 3 counter backends and each can be swapped for a custom
implementation via WithCounter:
- memcached (https://github.com/parkerroan/ratelimit/counter#Cache) via WithCache
- Redis (https://github.com/parkerroan/ratelimit/counter#Redis) via WithRedis
- in-process memory (https://github.com/parkerroan/ratelimit/counter#Memory)
for single-node deployments and tests

Limiters nest: wrap an already-limited handler in another limiter to stack
independent limits. Each layer annotates responses with its own X-Ratelimit
value and rejects on its own, so the strictest limit wins.
*/
package ratelimit
