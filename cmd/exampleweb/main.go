package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"github.com/parkerroan/ratelimit"
)

type Config struct {
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	RedisURL     string        `envconfig:"REDIS_URL" default:"localhost:6379"`
	APIMax       int           `envconfig:"API_MAX_REQUESTS" default:"100"`
	APIWindow    time.Duration `envconfig:"API_WINDOW" default:"30s"`
	WritesMax    int           `envconfig:"WRITES_MAX_REQUESTS" default:"10"`
	WritesWindow time.Duration `envconfig:"WRITES_WINDOW" default:"60s"`
	NTPServer    string        `envconfig:"NTP_SERVER"` // optional, e.g. pool.ntp.org
}

func main() {
	// Load .env file from given path. We're assuming it's in the current directory.
	loadEnvFile()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL, // "localhost:6379"
	})

	recorder := newPromRecorder()

	// The broad limit on all API traffic and the strict one on writes share
	// the classifier, the Redis store and the recorder; distinct names keep
	// their counts apart.
	apiOpts := []ratelimit.Option{
		ratelimit.WithName("API"),
		ratelimit.WithRate(cfg.APIMax, cfg.APIWindow),
		ratelimit.WithRedis(rdb),
		ratelimit.WithClassifier(classifyByClient),
		ratelimit.WithExceptions(isExempt),
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(recorder),
	}
	writesOpts := []ratelimit.Option{
		ratelimit.WithName("Writes"),
		ratelimit.WithRate(cfg.WritesMax, cfg.WritesWindow),
		ratelimit.WithRedis(rdb),
		ratelimit.WithClassifier(classifyByClient),
		ratelimit.WithConditions(isWrite),
		ratelimit.WithExceptions(isExempt),
		ratelimit.WithLogger(logger),
		ratelimit.WithRecorder(recorder),
	}

	// With several replicas behind a load balancer, syncing every node's
	// clock against the same NTP pool keeps their windows aligned.
	if cfg.NTPServer != "" {
		clock := ratelimit.NewNTPClock(cfg.NTPServer)
		clock.Start(context.Background())
		apiOpts = append(apiOpts, ratelimit.WithClock(clock))
		writesOpts = append(writesOpts, ratelimit.WithClock(clock))
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		log.Fatalf("Error creating cache: %v", err)
	}

	// Create a new router
	r := mux.NewRouter() // or http.NewServeMux()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Middleware runs in the order added, so the API limit wraps the Writes
	// limit and denied write traffic still counts against the API budget.
	r.Use(ratelimit.Middleware(apiOpts...))
	r.Use(ratelimit.Middleware(writesOpts...))

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Handle the request, i.e., serve content, call other functions, etc.
		w.Write([]byte("Hello, World!"))
	})
	r.HandleFunc("/reports/{id}", reportHandler(cache)).Methods(http.MethodGet)
	r.HandleFunc("/widgets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, "widget %s created\n", uuid.NewString())
	}).Methods(http.MethodPost)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("listening", slog.String("addr", addr))
	log.Fatal(http.ListenAndServe(addr, r))
}

// classifyByClient prefers an explicit client id header and falls back to the
// peer address.
func classifyByClient(r *http.Request) (string, bool) {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id, true
	}
	// You might want to improve this method to handle IP-forwarding, etc.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, true
	}
	return host, true
}

func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isExempt(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

// reportHandler serves a deliberately slow endpoint fronted by a ristretto
// cache, the usual companion to rate limiting when the expensive work, not
// the traffic itself, is the problem.
func reportHandler(cache *ristretto.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if v, ok := cache.Get(id); ok {
			w.Header().Set("X-Cache", "hit")
			w.Write(v.([]byte))
			return
		}

		// Stand-in for an expensive query.
		time.Sleep(150 * time.Millisecond)
		body := []byte(fmt.Sprintf("report %s generated at %s\n", id, time.Now().UTC().Format(time.RFC3339)))

		cache.SetWithTTL(id, body, int64(len(body)), time.Minute)
		w.Header().Set("X-Cache", "miss")
		w.Write(body)
	}
}

// promRecorder bridges the limiter's metrics to prometheus, served at
// /metrics.
type promRecorder struct {
	decisions *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newPromRecorder() *promRecorder {
	return &promRecorder{
		decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Requests seen by each limiter, by decision.",
		}, []string{"limiter", "decision"}),
		latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_backend_seconds",
			Help:    "Counter backend round-trip time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"limiter"}),
	}
}

func (p *promRecorder) Add(name string, value float64, tags map[string]string) {
	decision := strings.TrimPrefix(name, "ratelimit.")
	p.decisions.WithLabelValues(tags["limiter"], decision).Add(value)
}

func (p *promRecorder) Observe(name string, value float64, tags map[string]string) {
	p.latency.WithLabelValues(tags["limiter"]).Observe(value)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and writes it to the response.
func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Create a new status recorder.
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 OK if WriteHeader is not called.
		}

		start := time.Now()

		// Continue to the next middleware or handler.
		next.ServeHTTP(recorder, r)

		// Now that the handler has finished, the status code is set.
		slog.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.RequestURI),
			slog.Int("status", recorder.statusCode),
			slog.String("remote", r.RemoteAddr),
			slog.String("request_id", r.Header.Get("X-Request-Id")),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// RequestIDMiddleware tags every request and response with an id, minting one
// when the client did not send its own.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		r.Header.Set("X-Request-Id", id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		// The file exists, now let's try to load it
		if err := godotenv.Load(); err != nil {
			// The file couldn't be loaded, log the error
			log.Fatalf("Error loading .env file: %s", err)
		}
	} else if !os.IsNotExist(err) {
		// There's an error other than "file does not exist", let's log it
		slog.Warn(fmt.Sprintf("Unexpected error looking for .env file: %s", err))
	}
}
