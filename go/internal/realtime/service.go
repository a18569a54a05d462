package realtime

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config holds tuning for the sync service
type Config struct {
	// IdleTimeout is the last-activity age at which a connection is
	// forcibly unregistered by the sweep
	IdleTimeout time.Duration
	// SweepInterval is how often the idle sweep runs
	SweepInterval time.Duration
	// AutoJoinTopics joins newly registered connections to the rooms of
	// topics their user already subscribed to. Off by default: a connection
	// opened after Subscribe is otherwise not part of the topic's broadcast
	// group until subscription is re-applied.
	AutoJoinTopics bool
}

// DefaultConfig returns default sync service configuration
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   5 * time.Minute,
		SweepInterval: 1 * time.Minute,
	}
}

// Service is the session and sync registry: it tracks connected clients,
// maintains tournament-interest groups and fans sync events out to the right
// connection sets. All state is in process memory.
type Service struct {
	registry   *Registry
	topics     *Topics
	dispatcher *Dispatcher
	transport  Transport
	config     Config
	clock      clockwork.Clock
}

// NewService creates a sync service over the given transport
func NewService(config Config, transport Transport, clock clockwork.Clock) *Service {
	registry := NewRegistry(clock)
	return &Service{
		registry:   registry,
		topics:     NewTopics(),
		dispatcher: NewDispatcher(registry, transport, clock),
		transport:  transport,
		config:     config,
		clock:      clock,
	}
}

// Start runs the periodic idle sweep until the context is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().
		Dur("idle_timeout", s.config.IdleTimeout).
		Dur("sweep_interval", s.config.SweepInterval).
		Msg("sync service started")

	ticker := s.clock.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync service shutting down")
			return
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

// HandleConnect registers a new connection and notifies the user's other
// open sessions that a new session joined. The sibling snapshot comes from
// Register itself so simultaneous connects for one user each see the other.
func (s *Service) HandleConnect(connID, userID string, platform Platform) {
	conn, others, first := s.registry.Register(connID, userID, platform)

	if s.config.AutoJoinTopics {
		for _, topicID := range s.topics.TopicsOf(userID) {
			s.transport.JoinRoom(topicRoom(topicID), connID)
		}
	}

	if first {
		log.Info().
			Str("user_id", userID).
			Str("platform", string(platform)).
			Msg("user online")
	}

	if len(others) > 0 {
		s.dispatcher.PublishToUser(userID, EventTypeSessionConnected, SessionPayload{
			ConnectionID: connID,
			Platform:     platform,
			At:           conn.ConnectedAt,
		}, connID)
	}
}

// HandleDisconnect unregisters a connection. Unknown IDs (already cleaned up
// by a sweep or a racing close) are a no-op.
func (s *Service) HandleDisconnect(connID string) {
	conn, ok := s.registry.Unregister(connID)
	if !ok {
		return
	}

	if !s.registry.IsOnline(conn.UserID) {
		log.Info().Str("user_id", conn.UserID).Msg("user offline")
		return
	}

	s.dispatcher.PublishToUser(conn.UserID, EventTypeSessionDisconnected, SessionPayload{
		ConnectionID: connID,
		Platform:     conn.Platform,
		At:           s.clock.Now(),
	}, "")
}

// HandleActivity refreshes a connection's last-activity timestamp
func (s *Service) HandleActivity(connID string) {
	s.registry.Touch(connID)
}

// Subscribe adds the user to the topic's interest set and joins every one of
// the user's currently open connections to the topic's broadcast group.
// Idempotent.
func (s *Service) Subscribe(userID, topicID string) {
	s.topics.Subscribe(userID, topicID)
	for _, conn := range s.registry.Connections(userID) {
		s.transport.JoinRoom(topicRoom(topicID), conn.ID)
	}
}

// Unsubscribe removes the user from the topic's interest set and leaves the
// broadcast group for all of the user's open connections.
func (s *Service) Unsubscribe(userID, topicID string) {
	s.topics.Unsubscribe(userID, topicID)
	for _, conn := range s.registry.Connections(userID) {
		s.transport.LeaveRoom(topicRoom(topicID), conn.ID)
	}
}

// PublishToUser delivers an event to all of the user's open connections,
// optionally excluding one. Returns the generated sync ID.
func (s *Service) PublishToUser(userID string, eventType EventType, payload interface{}, excludeConnID string) string {
	return s.dispatcher.PublishToUser(userID, eventType, payload, excludeConnID)
}

// PublishToTopic delivers an event to the topic's broadcast group as a single
// group-send. Returns the generated sync ID.
func (s *Service) PublishToTopic(topicID string, eventType EventType, payload interface{}) string {
	return s.dispatcher.PublishToTopic(topicID, eventType, payload)
}

// IsOnline reports whether the user has at least one open connection
func (s *Service) IsOnline(userID string) bool {
	return s.registry.IsOnline(userID)
}

// ActivePlatforms returns the platforms the user is currently connected on
func (s *Service) ActivePlatforms(userID string) []Platform {
	return s.registry.ActivePlatforms(userID)
}

// Stats returns counters about the current registry state
func (s *Service) Stats() map[string]interface{} {
	conns, users := s.registry.Stats()
	return map[string]interface{}{
		"total_connections": conns,
		"online_users":      users,
		"active_topics":     s.topics.TopicCount(),
	}
}

// sweep unregisters idle connections and force-closes their transport links
func (s *Service) sweep() {
	removed := s.registry.SweepIdle(s.config.IdleTimeout)
	for _, conn := range removed {
		s.transport.CloseConnection(conn.ID)
		if s.registry.IsOnline(conn.UserID) {
			s.dispatcher.PublishToUser(conn.UserID, EventTypeSessionDisconnected, SessionPayload{
				ConnectionID: conn.ID,
				Platform:     conn.Platform,
				At:           s.clock.Now(),
			}, "")
		} else {
			log.Info().Str("user_id", conn.UserID).Msg("user offline")
		}
	}
}
