package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"

	"github.com/parkerroan/ratelimit"
	"github.com/parkerroan/ratelimit/counter"
)

func TestMiddleware_WrapsHandler(t *testing.T) {
	mw := ratelimit.Middleware(
		ratelimit.WithName("API"),
		ratelimit.WithRate(2, 10*time.Second),
		ratelimit.WithCounter(counter.NewMemory("API", 10*time.Second, 0)),
	)

	h := mw(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get(ratelimit.RateLimitHeader), `"name":"API"`)
}

func TestMiddleware_PanicsOnMisconfiguration(t *testing.T) {
	assert.Panics(t, func() {
		// No rate and no backend.
		ratelimit.Middleware()(okHandler())
	}, "middleware has no way to return a configuration error")
}

// ExampleMiddleware shows how to attach a limiter to a mux router. The
// middleware shape also works with plain net/http by wrapping handlers
// directly.
func ExampleMiddleware() {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	// This function derives the key the limiter groups requests under, here
	// the client's IP address.
	classifier := func(r *http.Request) (string, bool) {
		// You might want to improve this to handle IP-forwarding, etc.
		return r.RemoteAddr, true
	}

	r := mux.NewRouter() // or http.NewServeMux()

	r.Use(ratelimit.Middleware(
		ratelimit.WithName("API"),
		ratelimit.WithRate(100, 30*time.Second),
		ratelimit.WithRedis(rdb),
		ratelimit.WithClassifier(classifier),
		ratelimit.WithLogger(slog.Default()),
	))
}

// ExampleNew_memcached shows a limiter counting in memcached.
func ExampleNew_memcached() {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	limited, err := ratelimit.New(app,
		ratelimit.WithName("API"),
		ratelimit.WithRate(20, 30*time.Second),
		ratelimit.WithCache(memcache.New("localhost:11211")),
	)
	if err != nil {
		panic(err)
	}

	http.ListenAndServe(":8080", limited)
}

// ExampleNew_stacked shows two independent limits on one handler: a strict
// limit on writes inside a broader one on all API traffic. Each response
// carries one X-Ratelimit value per layer it passed through.
func ExampleNew_stacked() {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	writes, err := ratelimit.New(app,
		ratelimit.WithName("Writes"),
		ratelimit.WithRate(10, time.Minute),
		ratelimit.WithRedis(rdb),
		ratelimit.WithConditions(func(r *http.Request) bool {
			return r.Method == http.MethodPost || r.Method == http.MethodPut
		}),
	)
	if err != nil {
		panic(err)
	}

	api, err := ratelimit.New(writes,
		ratelimit.WithName("API"),
		ratelimit.WithRate(100, time.Minute),
		ratelimit.WithRedis(rdb),
	)
	if err != nil {
		panic(err)
	}

	http.ListenAndServe(":8080", api)
}

// ExampleNew_dynamicRate shows resolving the allowance per request, so one
// limiter can give different plans different limits.
func ExampleNew_dynamicRate() {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	limited, err := ratelimit.New(app,
		ratelimit.WithName("API"),
		ratelimit.WithRateFunc(func(r *http.Request) ratelimit.Rate {
			if r.Header.Get("X-Plan") == "pro" {
				return ratelimit.Rate{Max: 1000, Period: time.Minute}
			}
			return ratelimit.Rate{Max: 60, Period: time.Minute}
		}),
		ratelimit.WithClassifier(func(r *http.Request) (string, bool) {
			key := r.Header.Get("X-Api-Key")
			return key, key != ""
		}),
		ratelimit.WithRedis(rdb),
	)
	if err != nil {
		panic(err)
	}

	http.ListenAndServe(":8080", limited)
}
