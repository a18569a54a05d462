package realtime

import (
	"encoding/json"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *Registry, *fakeTransport) {
	clock := clockwork.NewFakeClock()
	registry := NewRegistry(clock)
	transport := newFakeTransport()
	return NewDispatcher(registry, transport, clock), registry, transport
}

func TestDispatcher_PublishToUserExcludesSender(t *testing.T) {
	t.Parallel()

	d, registry, transport := newTestDispatcher()
	registry.Register("conn-1", "user-1", PlatformWeb)
	registry.Register("conn-2", "user-1", PlatformMobile)

	syncID := d.PublishToUser("user-1", EventTypeWalletSync, WalletSyncPayload{Balance: 150}, "conn-1")
	require.NotEmpty(t, syncID)

	assert.Empty(t, transport.sentTo("conn-1"), "excluded connection must not receive the event")

	event := transport.lastEventTo(t, "conn-2")
	assert.Equal(t, EventTypeWalletSync, event.Type)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, syncID, event.SyncID)

	var payload WalletSyncPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, float64(150), payload.Balance)
}

func TestDispatcher_PublishToUserWithoutSessionsIsNoOp(t *testing.T) {
	t.Parallel()

	d, _, transport := newTestDispatcher()

	syncID := d.PublishToUser("ghost", EventTypeUserSync, UserSyncPayload{Field: "name"}, "")
	assert.NotEmpty(t, syncID)
	assert.Empty(t, transport.sends)
}

func TestDispatcher_PublishToUserSwallowsSendFailures(t *testing.T) {
	t.Parallel()

	d, registry, transport := newTestDispatcher()
	registry.Register("conn-dead", "user-1", PlatformWeb)
	registry.Register("conn-live", "user-1", PlatformWeb)
	transport.failSends["conn-dead"] = true

	syncID := d.PublishToUser("user-1", EventTypeUserSync, UserSyncPayload{}, "")
	require.NotEmpty(t, syncID)

	assert.Empty(t, transport.sentTo("conn-dead"))
	assert.Len(t, transport.sentTo("conn-live"), 1)
}

func TestDispatcher_PublishToTopicIsSingleGroupSend(t *testing.T) {
	t.Parallel()

	d, registry, transport := newTestDispatcher()
	registry.Register("conn-1", "user-1", PlatformWeb)
	transport.JoinRoom("tournament:t1", "conn-1")

	syncID := d.PublishToTopic("t1", EventTypeSlotSync, SlotSyncPayload{Slot: 3, Action: "joined"})
	require.NotEmpty(t, syncID)

	require.Len(t, transport.broadcasts, 1)
	assert.Equal(t, "tournament:t1", transport.broadcasts[0].Room)

	var event Event
	require.NoError(t, json.Unmarshal(transport.broadcasts[0].Data, &event))
	assert.Equal(t, EventTypeSlotSync, event.Type)
	assert.Equal(t, "t1", event.TournamentID)
	assert.Equal(t, syncID, event.SyncID)
}

func TestDispatcher_UnmarshalablePayloadYieldsNoEvent(t *testing.T) {
	t.Parallel()

	d, registry, transport := newTestDispatcher()
	registry.Register("conn-1", "user-1", PlatformWeb)

	syncID := d.PublishToUser("user-1", EventTypeUserSync, func() {}, "")
	assert.Empty(t, syncID)
	assert.Empty(t, transport.sentTo("conn-1"))
}
