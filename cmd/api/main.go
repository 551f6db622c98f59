package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/amoria-lab/backend-amoria/internal/auth"
	"github.com/amoria-lab/backend-amoria/internal/cache"
	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/amoria-lab/backend-amoria/internal/config"
	"github.com/amoria-lab/backend-amoria/internal/contact"
	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/health"
	"github.com/amoria-lab/backend-amoria/internal/lock"
	"github.com/amoria-lab/backend-amoria/internal/notify"
	"github.com/amoria-lab/backend-amoria/internal/obs"
	"github.com/amoria-lab/backend-amoria/internal/payment"
	"github.com/amoria-lab/backend-amoria/internal/queue"
	"github.com/amoria-lab/backend-amoria/internal/ratelimit"
	"github.com/amoria-lab/backend-amoria/internal/resilience"
	"github.com/amoria-lab/backend-amoria/internal/security"
	"github.com/amoria-lab/backend-amoria/internal/settings"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger("json", cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("amoria", nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "amoria-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      "otlp",
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "amoria-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()

	settingsSvc := settings.NewService(settings.NewStore(pool), redisClient, logger)

	dlqStore := queue.NewPGDLQStore(pool)
	notifyQueue := queue.New(redisClient, cfg.QueueName, logger,
		queue.WithDLQ(dlqStore),
		queue.WithMaxDeliveries(cfg.QueueMaxDeliveries),
		queue.WithPollInterval(cfg.QueuePollInterval),
	)
	bus := events.NewBus(events.NewPGStore(pool), logger, notify.NewQueueNotifier(notifyQueue))

	newHTTPClient := func(target string) resilience.HTTPClient {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget(target).
			WithLogger(logger)
		return resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   cfg.HTTPTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     breaker,
			BaseBackoff: cfg.HTTPBackoffBase,
			MaxAttempts: cfg.HTTPMaxAttempts,
			Jitter:      cfg.HTTPBackoffJitter,
			Timeout:     cfg.HTTPTimeout,
		}
	}

	gateways := map[payment.Provider]payment.Gateway{
		payment.ProviderYooKassa:      payment.NewYooKassaGateway(newHTTPClient("yookassa"), "", settingsSvc),
		payment.ProviderAlfabank:      payment.NewAlfabankGateway(settingsSvc),
		payment.ProviderRobokassa:     payment.NewRobokassaGateway(),
		payment.ProviderCloudPayments: payment.NewCloudPaymentsGateway(),
	}

	sessions := payment.NewSessionStore(redisClient, cfg.PaymentSessionTTL)
	phases := payment.NewPhaseStore(redisClient, cfg.PaymentSessionTTL)
	locker := lock.New(redisClient, 2*time.Minute)
	poller := payment.NewPoller(phases, sessions, locker, bus, logger, cfg.PollDelay, cfg.PaymentSessionGrace)
	paymentSvc := payment.NewService(gateways, sessions, phases, poller, bus, settingsSvc, asynqClient, logger, payment.ServiceConfig{
		WidgetBudget:   cfg.PollWidgetAttempts,
		RecoveryBudget: cfg.PollRecoveryAttempts,
		ReconcileDelay: cfg.ReconcileDelay,
	})
	paymentHandler := payment.NewHandler(paymentSvc, logger)
	webhookHandler := payment.NewWebhookHandler(settingsSvc, sessions, phases, poller, redisClient, logger)

	authSvc := auth.NewService(auth.NewStore(pool), redisClient, cfg.JWTSecret, cfg.SessionTTL, logger)
	authHandler := auth.NewHandler(authSvc, logger)
	settingsHandler := settings.NewHandler(settingsSvc, logger)
	contactHandler := contact.NewHandler(bus, logger)

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	limiter := ratelimit.NewSlidingWindow(redisClient, cache.RateLimitPrefix(), cfg.RateLimitRequests, cfg.RateLimitWindow)
	httpMetrics := obs.NewHTTPMetrics("amoria", obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers)
	r.Use(security.BodyLimit(cfg.MaxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOriginList(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.NewHandler(pool, redisClient)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Route("/public", func(pub chi.Router) {
			pub.Use(ratelimit.Middleware(limiter, logger))
			pub.Route("/payments", paymentHandler.Routes(idem.Middleware))
			pub.Route("/contact", contactHandler.Routes)
		})
		api.Route("/auth", func(a chi.Router) {
			a.Group(authHandler.PublicRoutes)
			a.Group(func(protected chi.Router) {
				protected.Use(auth.RequireAuth(authSvc))
				authHandler.ProtectedRoutes(protected)
			})
		})
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireAuth(authSvc))
			admin.Route("/settings", settingsHandler.Routes)
		})
		api.Route("/webhooks", webhookHandler.Routes)
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}
