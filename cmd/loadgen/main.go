package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jpillora/backoff"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// loadgen drives a rate-limited endpoint with several paced clients, each
// under its own X-Client-Id, and tallies how the limiter treated them. Useful
// for watching limits, headers and metrics behave under real traffic.

type Config struct {
	TargetURL string        `envconfig:"TARGET_URL" default:"http://localhost:8080/"`
	Clients   int           `envconfig:"CLIENTS" default:"5"`
	RPS       float64       `envconfig:"REQUESTS_PER_SECOND" default:"10"` // per client
	Duration  time.Duration `envconfig:"DURATION" default:"30s"`
}

type tally struct {
	sent    atomic.Int64
	allowed atomic.Int64
	limited atomic.Int64
	failed  atomic.Int64
}

func main() {
	loadEnvFile()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("starting load run",
		slog.String("target", cfg.TargetURL),
		slog.Int("clients", cfg.Clients),
		slog.Float64("rps_per_client", cfg.RPS),
		slog.Duration("duration", cfg.Duration))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var counts tally
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Clients; i++ {
		g.Go(func() error {
			return runClient(ctx, cfg, &counts)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("load run aborted", slog.Any("error", err.Error()))
	}

	fmt.Printf("sent=%d allowed=%d limited=%d failed=%d\n",
		counts.sent.Load(), counts.allowed.Load(), counts.limited.Load(), counts.failed.Load())
}

func runClient(ctx context.Context, cfg Config, counts *tally) error {
	clientID := uuid.NewString()
	pacer := rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := pacer.Wait(ctx); err != nil {
			return nil // run is over
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.TargetURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Client-Id", clientID)

		counts.sent.Add(1)
		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			counts.failed.Add(1)
			slog.Warn("request failed",
				slog.String("client", clientID),
				slog.Any("error", err.Error()))
			select {
			case <-time.After(b.Duration()):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		b.Reset()

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			counts.limited.Add(1)
			slog.Info("limited",
				slog.String("client", clientID),
				slog.String("retry_after", resp.Header.Get("Retry-After")),
				slog.String("ratelimit", resp.Header.Get("X-Ratelimit")))
			continue
		}
		counts.allowed.Add(1)
	}
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
