package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Notification is the content handed to the push provider
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Provider delivers a notification to a set of device tokens. It returns the
// tokens the provider rejected as invalid so the caller can evict them.
type Provider interface {
	Send(ctx context.Context, tokens []string, notification Notification) (invalid []string, err error)
}

// LogProvider is a stub provider that only logs the delivery attempt.
// Default in development when no NATS relay is configured.
type LogProvider struct{}

func NewLogProvider() *LogProvider {
	return &LogProvider{}
}

func (p *LogProvider) Send(ctx context.Context, tokens []string, notification Notification) ([]string, error) {
	log.Info().
		Int("tokens", len(tokens)).
		Str("title", notification.Title).
		Msg("push delivery (log provider)")
	return nil, nil
}

// NATSProvider relays notification requests to a downstream notification
// worker over NATS. The worker owns the actual FCM/APNs calls.
type NATSProvider struct {
	nc      *nats.Conn
	subject string
}

// NewNATSProvider creates a provider publishing to the given subject
func NewNATSProvider(nc *nats.Conn, subject string) *NATSProvider {
	return &NATSProvider{
		nc:      nc,
		subject: subject,
	}
}

func (p *NATSProvider) Send(ctx context.Context, tokens []string, notification Notification) ([]string, error) {
	envelope := map[string]interface{}{
		"requestId": uuid.New().String(),
		"tokens":    tokens,
		"title":     notification.Title,
		"body":      notification.Body,
		"data":      notification.Data,
		"timestamp": time.Now().UTC(),
	}

	messageBytes, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification request: %w", err)
	}

	if err := p.nc.Publish(p.subject, messageBytes); err != nil {
		return nil, fmt.Errorf("failed to publish notification request: %w", err)
	}

	log.Debug().
		Str("subject", p.subject).
		Int("tokens", len(tokens)).
		Int("size", len(messageBytes)).
		Msg("notification request published")

	return nil, nil
}
