package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-kasir/internal/checkout"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/invoicing"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/queue"
	"github.com/noah-isme/backend-kasir/internal/resilience"
	"github.com/noah-isme/backend-kasir/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("kasir", nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "kasir-api",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

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

	mode := pricing.ParseTaxMode(cfg.TaxMode)
	store := session.NewStore(mode, cfg.LoyaltyPointValue, session.RedisPersister{R: redisClient}, logger)
	store.Restore(ctx)

	var invoicer invoicing.Client
	if cfg.InvoicingMock {
		invoicer = invoicing.MockClient{}
		logger.Warn().Msg("using mock invoicing client")
	} else {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget("invoicing").
			WithLogger(logger)
		invoicer = &invoicing.HTTPClient{
			BaseURL: cfg.InvoicingBaseURL,
			APIKey:  cfg.InvoicingAPIKey,
			Client:  &http.Client{Timeout: cfg.InvoicingTimeout},
			Breaker: breaker,
			Logger:  logger,
		}
	}

	enqueuer := &queue.Enqueuer{R: redisClient, Prefix: cfg.QueuePrefix}
	checkoutSvc := &checkout.Service{
		Store:    store,
		Invoicer: invoicer,
		Tasks:    enqueuer,
		Logger:   logger,
	}

	sessionHandler := &session.Handler{Store: store, Validate: validator.New()}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	httpMetrics := obs.NewHTTPMetrics("kasir", obs.ParseBucketsCSV(cfg.MetricsBucketsCSV), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker: health.RedisChecker{Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/tabs", sessionHandler.List)
		v.Get("/tabs/active", sessionHandler.Active)

		v.Group(func(g chi.Router) {
			g.Use(idem.Middleware)
			g.Post("/tabs", sessionHandler.Create)
			g.Post("/tabs/{id}/activate", sessionHandler.Activate)
			g.Delete("/tabs/{id}", sessionHandler.Close)

			g.Post("/tabs/active/items", sessionHandler.AddItem)
			g.Patch("/tabs/active/items", sessionHandler.UpdateItem)
			g.Delete("/tabs/active/items", sessionHandler.RemoveItem)
			g.Post("/tabs/active/items/discount", sessionHandler.ItemDiscount)
			g.Post("/tabs/active/bill-discount", sessionHandler.BillDiscount)
			g.Post("/tabs/active/charges", sessionHandler.Charges)
			g.Post("/tabs/active/loyalty", sessionHandler.Loyalty)
			g.Put("/tabs/active/customer", sessionHandler.Customer)
			g.Put("/tabs/active/payment", sessionHandler.Payment)
			g.Put("/tabs/active/remarks", sessionHandler.Remarks)

			g.Post("/checkout", checkoutHandler.Submit)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("tax_mode", mode.String()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
