package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(config Config) (*Service, *fakeTransport, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	transport := newFakeTransport()
	return NewService(config, transport, clock), transport, clock
}

func TestService_SecondSessionNotifiesExistingOnes(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())

	s.HandleConnect("conn-web", "user-1", PlatformWeb)
	assert.Empty(t, transport.sentTo("conn-web"), "first session has nobody to notify")

	s.HandleConnect("conn-mobile", "user-1", PlatformMobile)

	event := transport.lastEventTo(t, "conn-web")
	assert.Equal(t, EventTypeSessionConnected, event.Type)
	assert.Equal(t, "user-1", event.UserID)

	var payload SessionPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "conn-mobile", payload.ConnectionID)
	assert.Equal(t, PlatformMobile, payload.Platform)

	assert.Empty(t, transport.sentTo("conn-mobile"), "the new session is excluded from its own announcement")
}

func TestService_DisconnectNotifiesRemainingSessions(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())
	s.HandleConnect("conn-a", "user-1", PlatformWeb)
	s.HandleConnect("conn-b", "user-1", PlatformMobile)

	s.HandleDisconnect("conn-b")

	event := transport.lastEventTo(t, "conn-a")
	assert.Equal(t, EventTypeSessionDisconnected, event.Type)

	var payload SessionPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, "conn-b", payload.ConnectionID)

	// Last disconnect has nobody left to tell
	s.HandleDisconnect("conn-a")
	assert.False(t, s.IsOnline("user-1"))
}

func TestService_DisconnectUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())
	s.HandleDisconnect("never-seen")
	assert.Empty(t, transport.sends)
}

func TestService_SubscribeJoinsOpenConnections(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())
	s.HandleConnect("conn-a", "user-1", PlatformWeb)
	s.HandleConnect("conn-b", "user-1", PlatformMobile)

	s.Subscribe("user-1", "t1")
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, transport.roomMembers("tournament:t1"))

	s.Unsubscribe("user-1", "t1")
	assert.Empty(t, transport.roomMembers("tournament:t1"))
}

func TestService_LateConnectionIsNotAutoJoined(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())
	s.HandleConnect("conn-a", "user-1", PlatformWeb)
	s.Subscribe("user-1", "t1")

	s.HandleConnect("conn-late", "user-1", PlatformMobile)
	assert.NotContains(t, transport.roomMembers("tournament:t1"), "conn-late")
}

func TestService_AutoJoinTopicsJoinsLateConnections(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.AutoJoinTopics = true
	s, transport, _ := newTestService(config)

	s.HandleConnect("conn-a", "user-1", PlatformWeb)
	s.Subscribe("user-1", "t1")

	s.HandleConnect("conn-late", "user-1", PlatformMobile)
	assert.Contains(t, transport.roomMembers("tournament:t1"), "conn-late")
}

func TestService_TopicEventReachesEveryJoinedConnectionOnce(t *testing.T) {
	t.Parallel()

	s, transport, _ := newTestService(DefaultConfig())

	// User A on two devices, subscribed to tournament T1
	s.HandleConnect("conn-web", "user-a", PlatformWeb)
	s.HandleConnect("conn-mobile", "user-a", PlatformMobile)
	s.Subscribe("user-a", "t1")

	// Bystander connected but not subscribed
	s.HandleConnect("conn-other", "user-b", PlatformWeb)

	syncID := s.PublishToTopic("t1", EventTypeSlotSync, SlotSyncPayload{Slot: 3})
	require.NotEmpty(t, syncID)

	for _, connID := range []string{"conn-web", "conn-mobile"} {
		sends := transport.sentTo(connID)
		// Only the slot event: session announcements went to conn-web earlier,
		// so filter to slot_sync payloads
		var slotEvents []Event
		for _, raw := range sends {
			var event Event
			require.NoError(t, json.Unmarshal(raw, &event))
			if event.Type == EventTypeSlotSync {
				slotEvents = append(slotEvents, event)
			}
		}
		require.Len(t, slotEvents, 1, "connection %s must observe the event exactly once", connID)
		assert.Equal(t, "t1", slotEvents[0].TournamentID)
		assert.Equal(t, syncID, slotEvents[0].SyncID, "group send shares one sync ID")

		var payload SlotSyncPayload
		require.NoError(t, json.Unmarshal(slotEvents[0].Data, &payload))
		assert.Equal(t, 3, payload.Slot)
	}

	assert.Empty(t, transport.sentTo("conn-other"), "unsubscribed users receive nothing")
}

func TestService_SweepClosesIdleConnections(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.IdleTimeout = 5 * time.Minute
	s, transport, clock := newTestService(config)

	s.HandleConnect("conn-idle", "user-1", PlatformWeb)
	s.HandleConnect("conn-busy", "user-1", PlatformMobile)

	clock.Advance(4 * time.Minute)
	s.HandleActivity("conn-busy")
	clock.Advance(1 * time.Minute)

	s.sweep()

	assert.Equal(t, []string{"conn-idle"}, transport.closed)
	assert.True(t, s.IsOnline("user-1"), "the active connection survives")

	event := transport.lastEventTo(t, "conn-busy")
	assert.Equal(t, EventTypeSessionDisconnected, event.Type)
}

func TestService_StatsCounters(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestService(DefaultConfig())
	s.HandleConnect("conn-a", "user-1", PlatformWeb)
	s.Subscribe("user-1", "t1")

	stats := s.Stats()
	assert.Equal(t, 1, stats["total_connections"])
	assert.Equal(t, 1, stats["online_users"])
	assert.Equal(t, 1, stats["active_topics"])
}
