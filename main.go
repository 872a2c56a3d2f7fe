package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BatmanBruc/club-subscription-bot/internal/broadcast"
	"github.com/BatmanBruc/club-subscription-bot/internal/config"
	"github.com/BatmanBruc/club-subscription-bot/internal/delivery"
	"github.com/BatmanBruc/club-subscription-bot/internal/events"
	"github.com/BatmanBruc/club-subscription-bot/internal/handlers"
	"github.com/BatmanBruc/club-subscription-bot/internal/httpserver"
	"github.com/BatmanBruc/club-subscription-bot/internal/jobs"
	"github.com/BatmanBruc/club-subscription-bot/internal/logging"
	"github.com/BatmanBruc/club-subscription-bot/internal/metrics"
	"github.com/BatmanBruc/club-subscription-bot/internal/middleware"
	"github.com/BatmanBruc/club-subscription-bot/internal/payments"
	"github.com/BatmanBruc/club-subscription-bot/internal/scenario"
	"github.com/BatmanBruc/club-subscription-bot/internal/scheduler"
	"github.com/BatmanBruc/club-subscription-bot/internal/subscription"
	"github.com/BatmanBruc/club-subscription-bot/internal/webhook"
	"github.com/BatmanBruc/club-subscription-bot/store"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// broadcastPause keeps mass sends under the Bot API flood limit.
	broadcastPause = 40 * time.Millisecond

	// broadcastTimeout bounds a single task run; broadcasts are the longest.
	broadcastTimeout = 30 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("bot: %v", err)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPrefix)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	scenarios := store.NewCachedScenarioStore(pg, rdb, cfg.ScenarioCacheTTL)
	if err := seedScenarios(ctx, scenarios, cfg.ScenarioSeedDir, logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.MetricsNamespace, registry)

	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.TelegramBotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	sink := delivery.NewTelegramSink(b, cfg.DeliveryTimeout, m, logger)
	queue := store.NewRedisTaskQueue(rdb, cfg.TaskVisibility)

	policy, err := store.PolicyByName(cfg.IdempotencyPolicy)
	if err != nil {
		return err
	}
	guard := store.NewRedisIdempotencyGuard(rdb, policy, cfg.IdempotencyTTL)
	ledger := subscription.NewLedger(pg, logger)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	processor := payments.NewProcessor(payments.Deps{
		Guard:     guard,
		Billing:   pg,
		Ledger:    ledger,
		Queue:     queue,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
	})

	engine := scenario.NewEngine(scenario.EngineDeps{
		Scenarios:   scenarios,
		Progress:    pg,
		Entitlement: ledger,
		Sender:      sink,
		Queue:       queue,
		Fence:       store.NewRedisResumeFence(rdb, 0),
		Metrics:     m,
		Logger:      logger,
	})

	broadcasts := broadcast.NewService(pg, queue, sink, broadcastPause, logger)

	taskScheduler := scheduler.NewScheduler(
		queue,
		scheduler.Config{
			Workers:      cfg.Workers,
			PollInterval: cfg.TaskPollInterval,
			MaxAttempts:  cfg.TaskMaxAttempts,
			RetryBase:    cfg.TaskRetryBase,
			TaskTimeout:  broadcastTimeout,
		},
		m,
		logger,
	)
	jobs.NewJobs(jobs.Deps{
		PrivateGroupID: cfg.PrivateGroupID,
		Group:          sink,
		Sender:         sink,
		Entitlement:    ledger,
		Steps:          engine,
		Broadcasts:     broadcasts,
		Logger:         logger,
	}).Register(taskScheduler)

	taskScheduler.Start(ctx)
	defer taskScheduler.Stop()

	sweeper := subscription.NewSweeper(pg, ledger, queue, publisher, m, logger)
	cron := scheduler.NewCron(logger)
	if err := cron.Add("expiry_sweep", cfg.ExpirySchedule, sweeper.Job); err != nil {
		return err
	}
	cron.Start()
	defer func() { <-cron.Stop().Done() }()

	server := httpserver.New(
		cfg.Addr(),
		logger,
		registry,
		webhook.NewPaymentHandler(cfg.PaymentProvider, processor, m, logger),
		map[string]httpserver.Pinger{"redis": rdb, "postgres": pg},
	)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
	}()

	middlewares := middleware.NewMiddlewares(pg, cfg.IsAdmin, logger)
	h := handlers.NewHandlers(handlers.Deps{
		API:           b,
		Users:         pg,
		Scenarios:     engine,
		Broadcasts:    broadcasts,
		StartScenario: cfg.StartScenario,
		Logger:        logger,
	})

	handlerChain := middlewares.EnsureUser(
		middlewares.AnalyzeMessageMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	logger.Info("bot started", "env", cfg.AppEnv, "addr", cfg.Addr())
	b.Start(ctx)
	logger.Info("bot stopping")
	return nil
}

// seedScenarios upserts every scenario file found in dir.
func seedScenarios(ctx context.Context, scenarios types.ScenarioStore, dir string, logger *slog.Logger) error {
	if dir == "" {
		return nil
	}
	seeds, err := scenario.LoadSeeds(os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("load scenario seeds: %w", err)
	}
	for i := range seeds {
		sc, err := scenarios.UpsertScenario(ctx, &seeds[i])
		if err != nil {
			return fmt.Errorf("seed scenario %q: %w", seeds[i].Name, err)
		}
		logger.Info("scenario seeded", "id", sc.ID, "name", sc.Name)
	}
	return nil
}
