package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Transport is the room/broadcast primitive supplied by the websocket layer.
// Send failures to individual connections are the transport's problem; the
// dispatcher never retries.
type Transport interface {
	// Send delivers data to one connection. Closed or unknown connections
	// return an error that callers may ignore.
	Send(connID string, data []byte) error
	// JoinRoom adds a connection to a broadcast group
	JoinRoom(room, connID string)
	// LeaveRoom removes a connection from a broadcast group
	LeaveRoom(room, connID string)
	// BroadcastRoom delivers data to every connection in a broadcast group
	// as a single group-send
	BroadcastRoom(room string, data []byte)
	// CloseConnection force-closes a connection's underlying link
	CloseConnection(connID string)
}

// topicRoom maps a tournament ID to its transport-level broadcast group name
func topicRoom(topicID string) string {
	return "tournament:" + topicID
}

// Dispatcher constructs sync events and delivers them to the right set of
// connections. Delivery is fire-and-forget; every event gets a unique sync ID
// for client-side deduplication.
type Dispatcher struct {
	registry  *Registry
	transport Transport
	clock     clockwork.Clock
}

// NewDispatcher creates a dispatcher over the given registry and transport
func NewDispatcher(registry *Registry, transport Transport, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		transport: transport,
		clock:     clock,
	}
}

// PublishToUser delivers an event to every currently open connection owned by
// the user, except excludeConnID when set (used to avoid echoing a sender's
// own action back to itself). Publishing to a user with no sessions is a
// no-op. Returns the generated sync ID for logging and correlation.
func (d *Dispatcher) PublishToUser(userID string, eventType EventType, payload interface{}, excludeConnID string) string {
	event, err := d.buildEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal sync event")
		return ""
	}
	event.UserID = userID

	encoded, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal sync envelope")
		return ""
	}

	conns := d.registry.Connections(userID)
	delivered := 0
	for _, conn := range conns {
		if conn.ID == excludeConnID {
			continue
		}
		// Fire-and-forget: a closed connection's failure is swallowed
		if err := d.transport.Send(conn.ID, encoded); err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", conn.ID).
				Str("user_id", userID).
				Msg("dropped sync event for closed connection")
			continue
		}
		delivered++
	}

	log.Debug().
		Str("sync_id", event.SyncID).
		Str("event_type", string(eventType)).
		Str("user_id", userID).
		Int("delivered", delivered).
		Msg("user event published")

	return event.SyncID
}

// PublishToTopic delivers an event to the topic's broadcast group as a single
// group-send. All receivers observe the same sync ID.
func (d *Dispatcher) PublishToTopic(topicID string, eventType EventType, payload interface{}) string {
	event, err := d.buildEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal sync event")
		return ""
	}
	event.TournamentID = topicID

	encoded, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal sync envelope")
		return ""
	}

	d.transport.BroadcastRoom(topicRoom(topicID), encoded)

	log.Debug().
		Str("sync_id", event.SyncID).
		Str("event_type", string(eventType)).
		Str("topic_id", topicID).
		Msg("topic event published")

	return event.SyncID
}

// buildEvent assembles the immutable envelope with a fresh sync ID
func (d *Dispatcher) buildEvent(eventType EventType, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: d.clock.Now(),
		SyncID:    uuid.New().String(),
	}, nil
}
