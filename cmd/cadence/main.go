package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hray3182/Cadence/internal/ai"
	"github.com/hray3182/Cadence/internal/bot"
	"github.com/hray3182/Cadence/internal/cache"
	"github.com/hray3182/Cadence/internal/config"
	"github.com/hray3182/Cadence/internal/database"
	"github.com/hray3182/Cadence/internal/delivery"
	"github.com/hray3182/Cadence/internal/expansion"
	"github.com/hray3182/Cadence/internal/jobs"
	"github.com/hray3182/Cadence/internal/notifier"
	"github.com/hray3182/Cadence/internal/repository"
	"github.com/hray3182/Cadence/internal/scheduler"
	"github.com/hray3182/Cadence/internal/service"
	"github.com/hray3182/Cadence/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if cfg.DatabaseURI == "" {
		log.Fatal().Msg("DATABASE_URI is required")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("database ready")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, prefetch cache disabled")
			redisClient = nil
		}
	}
	prefetchCache := cache.New(redisClient, cfg.PrefetchInterval, log)

	templateRepo := repository.NewTemplateRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)

	var notify notifier.Notifier = notifier.Nop{}
	if cfg.TelegramToken != "" {
		tg, err := notifier.NewTelegram(cfg.TelegramToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create telegram notifier")
		}
		notify = tg
	} else {
		log.Warn().Msg("TELEGRAM_TOKEN not set, notifications are discarded")
	}

	worker := delivery.NewWorker(instanceRepo, prefetchCache, notify, cfg.PrefetchInterval, log)
	bridge := scheduler.NewBridge(instanceRepo, worker.Deliver, log)
	expander := expansion.New(templateRepo, instanceRepo, bridge, loc, log)

	// Regeneration pipeline: NATS JetStream when configured, otherwise an
	// in-process channel so a single-node deployment needs no broker.
	wmLogger := stream.NewLoggerAdapter(log)
	var publisher message.Publisher
	var subscriber message.Subscriber
	if cfg.NatsURL != "" {
		natsCfg := stream.DefaultNatsConfig(cfg.NatsURL)
		publisher, err = stream.NewNatsPublisher(natsCfg, wmLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create nats publisher")
		}
		subscriber, err = stream.NewNatsSubscriber(natsCfg, wmLogger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create nats subscriber")
		}
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		publisher, subscriber = ch, ch
	}

	handler := stream.NewHandler(templateRepo, instanceRepo, expander, log)
	router, err := stream.NewRouter(stream.DefaultRouterConfig(), subscriber, publisher, handler, wmLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stream router")
	}

	reminders := service.NewReminders(
		templateRepo, instanceRepo, bridge, expander,
		stream.NewPublisher(publisher), prefetchCache, cfg.MonthsAhead, log)

	var aiClient *ai.Client
	if cfg.AIAPIKey != "" {
		aiClient = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		log.Info().Str("model", cfg.AIModel).Msg("rule assistant enabled")
	}

	if err := bridge.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore timers")
	}
	defer bridge.StopAll()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(ctx) })
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return jobs.NewPrefetchJob(instanceRepo, prefetchCache, cfg.PrefetchInterval, log).Run(ctx) })
	g.Go(func() error { return jobs.NewCleanupJob(prefetchCache, log).Run(ctx) })

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken, reminders, aiClient, loc, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create bot")
		}
		g.Go(func() error { return b.Start(ctx) })
	}

	log.Info().Msg("cadence started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("shutdown with error")
	}
	log.Info().Msg("shutdown complete")
}
