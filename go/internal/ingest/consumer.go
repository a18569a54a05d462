package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/push"
	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// SyncPublisher is the slice of the sync service the consumer needs
type SyncPublisher interface {
	PublishToUser(userID string, eventType realtime.EventType, payload interface{}, excludeConnID string) string
	PublishToTopic(topicID string, eventType realtime.EventType, payload interface{}) string
	IsOnline(userID string) bool
}

// OfflineNotifier hands user-scoped events for offline users to the push layer
type OfflineNotifier interface {
	Dispatch(ctx context.Context, userID string, notification push.Notification) push.DispatchResult
}

// ConsumerConfig holds configuration for the JetStream consumer
type ConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string        // e.g., "gameon.sync.>"
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns default JetStream consumer configuration
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "GAMEON_SYNC",
		ConsumerName:  "sync-gateway",
		SubjectFilter: "gameon.sync.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// syncEnvelope is the wire format the GameOn backend publishes after
// committing a database write
type syncEnvelope struct {
	EventID      string          `json:"eventId"`
	EventType    string          `json:"eventType"`
	Scope        string          `json:"scope"` // "user" or "tournament"
	UserID       string          `json:"userId,omitempty"`
	TournamentID string          `json:"tournamentId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// Consumer consumes backend sync events from JetStream and feeds the
// dispatcher; user-scoped events for offline users fall through to push
type Consumer struct {
	publisher SyncPublisher
	notifier  OfflineNotifier
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	config    ConsumerConfig
}

// Connect dials NATS with reconnect handling suitable for the gateway
func Connect(config ConsumerConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewConsumer creates a JetStream sync event consumer over an existing
// connection. The consumer does not own the connection.
func NewConsumer(publisher SyncPublisher, notifier OfflineNotifier, nc *nats.Conn, config ConsumerConfig) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{
		publisher: publisher,
		notifier:  notifier,
		js:        js,
		config:    config,
	}

	if err := c.ensureConsumer(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return c, nil
}

// ensureConsumer creates or gets the durable JetStream consumer
func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Sync gateway WebSocket consumer",
		FilterSubject: c.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	c.consumer = consumer
	return nil
}

// Start begins consuming events from JetStream
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Msg("starting JetStream sync consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := c.processMessage(ctx, msg.Data()); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process message")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
			} else {
				if ackErr := msg.Ack(); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to ACK message")
				}
			}
		}
	}
}

// processMessage converts one backend envelope into a sync publish
func (c *Consumer) processMessage(ctx context.Context, data []byte) error {
	var envelope syncEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal sync envelope: %w", err)
	}

	eventType, ok := realtime.ParseEventType(envelope.EventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", envelope.EventType)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("event_type", envelope.EventType).
		Str("scope", envelope.Scope).
		Msg("processing sync event")

	switch envelope.Scope {
	case "tournament":
		if envelope.TournamentID == "" {
			return fmt.Errorf("tournament-scoped event without tournamentId")
		}
		c.publisher.PublishToTopic(envelope.TournamentID, eventType, envelope.Payload)
		return nil

	case "user":
		if envelope.UserID == "" {
			return fmt.Errorf("user-scoped event without userId")
		}
		c.publisher.PublishToUser(envelope.UserID, eventType, envelope.Payload, "")

		// Offline users get a best-effort push instead of a live update
		if c.notifier != nil && !c.publisher.IsOnline(envelope.UserID) {
			c.notifier.Dispatch(ctx, envelope.UserID, notificationFor(eventType))
		}
		return nil

	default:
		return fmt.Errorf("unknown event scope: %s", envelope.Scope)
	}
}

// notificationFor maps a sync event type to a generic push notification
func notificationFor(eventType realtime.EventType) push.Notification {
	switch eventType {
	case realtime.EventTypeWalletSync:
		return push.Notification{
			Title: "Wallet updated",
			Body:  "Your GameOn wallet balance changed.",
			Data:  map[string]string{"type": string(eventType)},
		}
	default:
		return push.Notification{
			Title: "GameOn update",
			Body:  "Something changed on your account.",
			Data:  map[string]string{"type": string(eventType)},
		}
	}
}
