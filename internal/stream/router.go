package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// RouterConfig tunes the consumer side of the pipeline.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonQueueTopic receives events that still fail after all retries,
	// keeping them operator-visible instead of silently dropped.
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "dlq.reminders",
	}
}

// Router wires the template-changed subscription through panic recovery,
// retry with backoff, and the poison queue into the regeneration handler.
type Router struct {
	router *message.Router
}

func NewRouter(
	cfg RouterConfig,
	subscriber message.Subscriber,
	poisonPublisher message.Publisher,
	handler *Handler,
	logger watermill.LoggerAdapter,
) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("cadence/stream: create router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poison, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("cadence/stream: create poison queue: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	wmRouter.AddNoPublisherHandler(
		"template_regeneration",
		TopicTemplateChanged,
		subscriber,
		handler.Handle,
	)

	return &Router{router: wmRouter}, nil
}

// Run blocks until the context is cancelled.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once the router has started all handlers.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
