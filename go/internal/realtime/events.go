package realtime

import (
	"encoding/json"
	"time"
)

// Event is the envelope delivered to clients describing a state change.
// TournamentID is set for topic-scoped events, UserID for user-scoped ones.
// The sync ID is unique per event and lets clients deduplicate.
type Event struct {
	Type         EventType       `json:"type"`
	TournamentID string          `json:"tournamentId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
	SyncID       string          `json:"syncId"`
}

// EventType represents the type of sync event
type EventType string

const (
	EventTypeTournamentSync      EventType = "tournament_sync"
	EventTypeSlotSync            EventType = "slot_sync"
	EventTypeUserSync            EventType = "user_sync"
	EventTypeWalletSync          EventType = "wallet_sync"
	EventTypeSessionConnected    EventType = "user_session_connected"
	EventTypeSessionDisconnected EventType = "user_session_disconnected"
)

// Platform tags the kind of client that owns a connection or device token
type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformMobile Platform = "mobile"
)

// ParseEventType maps a wire-level type tag to a known EventType
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeTournamentSync,
		EventTypeSlotSync,
		EventTypeUserSync,
		EventTypeWalletSync,
		EventTypeSessionConnected,
		EventTypeSessionDisconnected:
		return EventType(s), true
	default:
		return "", false
	}
}

// ParsePlatform maps a wire-level platform tag to a known Platform.
// Unknown values fall back to web, matching how clients that predate the
// platform tag are treated.
func ParsePlatform(s string) Platform {
	if Platform(s) == PlatformMobile {
		return PlatformMobile
	}
	return PlatformWeb
}

// TournamentSyncPayload describes a tournament document change
type TournamentSyncPayload struct {
	Status      string `json:"status,omitempty"`
	Name        string `json:"name,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	RoomPass    string `json:"roomPass,omitempty"`
	TotalSlots  int    `json:"totalSlots,omitempty"`
	FilledSlots int    `json:"filledSlots,omitempty"`
}

// SlotSyncPayload describes a single slot change within a tournament lobby
type SlotSyncPayload struct {
	Slot     int    `json:"slot"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Action   string `json:"action,omitempty"` // joined, left, moved
}

// WalletSyncPayload describes a wallet balance change
type WalletSyncPayload struct {
	Balance float64 `json:"balance"`
	Delta   float64 `json:"delta,omitempty"`
	TxType  string  `json:"txType,omitempty"`
	TxID    string  `json:"txId,omitempty"`
}

// UserSyncPayload describes a user profile change
type UserSyncPayload struct {
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// SessionPayload carries multi-device awareness data for session
// connected/disconnected events
type SessionPayload struct {
	ConnectionID string    `json:"connectionId"`
	Platform     Platform  `json:"platform"`
	At           time.Time `json:"at"`
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *Event) (interface{}, error) {
	switch event.Type {
	case EventTypeTournamentSync:
		var payload TournamentSyncPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSlotSync:
		var payload SlotSyncPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeUserSync:
		var payload UserSyncPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeWalletSync:
		var payload WalletSyncPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionConnected, EventTypeSessionDisconnected:
		var payload SessionPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
