package stream

import (
	"fmt"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/ThreeDotsLabs/watermill"
)

// NatsConfig holds the JetStream transport settings for the pipeline.
type NatsConfig struct {
	URL           string
	QueueGroup    string
	DurableName   string
	MaxReconnects int
	ReconnectWait time.Duration
	AckWait       time.Duration
	CloseTimeout  time.Duration
}

// DefaultNatsConfig returns production defaults for the given server URL.
func DefaultNatsConfig(url string) NatsConfig {
	return NatsConfig{
		URL:           url,
		QueueGroup:    "cadence",
		DurableName:   "cadence",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		AckWait:       30 * time.Second,
		CloseTimeout:  30 * time.Second,
	}
}

// NewNatsSubscriber creates the durable JetStream subscriber. One consumer
// group per deployment; load balances across replicas while preserving
// per-subject ordering.
func NewNatsSubscriber(cfg NatsConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOptions(cfg, logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverNew(),
			},
			DurablePrefix: cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("cadence/stream: create nats subscriber: %w", err)
	}
	return sub, nil
}

// NewNatsPublisher creates the JetStream publisher used for both the
// template-changed topic and the poison queue.
func NewNatsPublisher(cfg NatsConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("cadence/stream: create nats publisher: %w", err)
	}
	return pub, nil
}

func natsOptions(cfg NatsConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("nats disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("nats reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}
