package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/amoria-lab/backend-amoria/internal/config"
	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/lock"
	"github.com/amoria-lab/backend-amoria/internal/notify"
	"github.com/amoria-lab/backend-amoria/internal/obs"
	"github.com/amoria-lab/backend-amoria/internal/payment"
	"github.com/amoria-lab/backend-amoria/internal/queue"
	"github.com/amoria-lab/backend-amoria/internal/resilience"
	"github.com/amoria-lab/backend-amoria/internal/settings"
)

// The worker owns everything that must not run on the request path: delayed
// payment reconciliation and Telegram delivery.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger("json", cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("role", "worker").Logger()
	obs.MustRegisterDomainMetrics("amoria", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
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
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	settingsSvc := settings.NewService(settings.NewStore(pool), redisClient, logger)

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

	dlqStore := queue.NewPGDLQStore(pool)
	notifyQueue := queue.New(redisClient, cfg.QueueName, logger,
		queue.WithDLQ(dlqStore),
		queue.WithMaxDeliveries(cfg.QueueMaxDeliveries),
		queue.WithPollInterval(cfg.QueuePollInterval),
	)
	sender := notify.NewTelegramSender(newHTTPClient("telegram"), cfg.TelegramAPIBase, settingsSvc, logger)
	notify.RegisterQueueHandler(notifyQueue, sender)

	bus := events.NewBus(events.NewPGStore(pool), logger, notify.NewQueueNotifier(notifyQueue))

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
	paymentSvc := payment.NewService(gateways, sessions, phases, poller, bus, settingsSvc, nil, logger, payment.ServiceConfig{
		WidgetBudget:   cfg.PollWidgetAttempts,
		RecoveryBudget: cfg.PollRecoveryAttempts,
		ReconcileDelay: cfg.ReconcileDelay,
	})

	mux := asynq.NewServeMux()
	payment.NewTaskHandler(paymentSvc, logger).Register(mux)

	asynqSrv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{Concurrency: 5},
	)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notifyQueue.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error().Err(err).Msg("notify queue stopped")
		}
	}()

	logger.Info().Msg("worker starting")
	if err := asynqSrv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start asynq server")
	}
	<-runCtx.Done()
	asynqSrv.Shutdown()
	logger.Info().Msg("worker stopped")
}
