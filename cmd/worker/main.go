package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("role", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("ping redis")
	}
	cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	notifier := refreshNotifier{Client: client, Logger: logger}

	workers := []queue.Worker{
		{
			R:           redisClient,
			Prefix:      cfg.QueuePrefix,
			Kind:        queue.KindStockRefresh,
			Concurrency: cfg.RefreshWorkerCount,
			Handler: func(ctx context.Context, task queue.Task) error {
				var payload queue.StockRefresh
				if err := json.Unmarshal(task.Payload, &payload); err != nil {
					return fmt.Errorf("decode stock refresh: %w", err)
				}
				return notifier.post(ctx, cfg.StockRefreshURL, "stock_refresh", payload)
			},
		},
		{
			R:           redisClient,
			Prefix:      cfg.QueuePrefix,
			Kind:        queue.KindCustomerStatsRefresh,
			Concurrency: cfg.RefreshWorkerCount,
			Handler: func(ctx context.Context, task queue.Task) error {
				var payload queue.CustomerStatsRefresh
				if err := json.Unmarshal(task.Payload, &payload); err != nil {
					return fmt.Errorf("decode customer stats refresh: %w", err)
				}
				return notifier.post(ctx, cfg.CustomerStatsRefreshURL, "customer_stats_refresh", payload)
			},
		},
	}

	logger.Info().Int("workers", len(workers)).Msg("worker starting")
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w queue.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("worker exited")
				stop()
			}
		}(w)
	}
	wg.Wait()
	logger.Info().Msg("worker stopped")
}

// refreshNotifier delivers refresh payloads to the configured downstream. A
// kind without a URL is logged and acknowledged; the queue is not a parking
// lot for undeliverable work.
type refreshNotifier struct {
	Client *http.Client
	Logger zerolog.Logger
}

func (n refreshNotifier) post(ctx context.Context, url, kind string, payload any) error {
	if url == "" {
		n.Logger.Info().Str("kind", kind).Interface("payload", payload).Msg("refresh_logged")
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver %s: unexpected status %d", kind, resp.StatusCode)
	}
	return nil
}
