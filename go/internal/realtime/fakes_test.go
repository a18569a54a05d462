package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errSendFailed = errors.New("send failed")

type roomMessage struct {
	Room string
	Data []byte
}

// fakeTransport records every transport call for assertions
type fakeTransport struct {
	mu         sync.Mutex
	sends      map[string][][]byte // connection ID -> payloads
	rooms      map[string]map[string]bool
	broadcasts []roomMessage
	closed     []string
	failSends  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sends:     make(map[string][][]byte),
		rooms:     make(map[string]map[string]bool),
		failSends: make(map[string]bool),
	}
}

func (f *fakeTransport) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends[connID] {
		return errSendFailed
	}
	f.sends[connID] = append(f.sends[connID], data)
	return nil
}

func (f *fakeTransport) JoinRoom(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]bool)
	}
	f.rooms[room][connID] = true
}

func (f *fakeTransport) LeaveRoom(room, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
	if len(f.rooms[room]) == 0 {
		delete(f.rooms, room)
	}
}

func (f *fakeTransport) BroadcastRoom(room string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, roomMessage{Room: room, Data: data})
	// Mirror a real group-send: every room member receives the payload
	for connID := range f.rooms[room] {
		f.sends[connID] = append(f.sends[connID], data)
	}
}

func (f *fakeTransport) CloseConnection(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connID)
}

func (f *fakeTransport) sentTo(connID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sends[connID]))
	copy(out, f.sends[connID])
	return out
}

func (f *fakeTransport) roomMembers(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []string
	for connID := range f.rooms[room] {
		members = append(members, connID)
	}
	return members
}

func (f *fakeTransport) lastEventTo(t *testing.T, connID string) Event {
	t.Helper()
	sends := f.sentTo(connID)
	require.NotEmpty(t, sends, "expected at least one event for %s", connID)

	var event Event
	require.NoError(t, json.Unmarshal(sends[len(sends)-1], &event))
	return event
}
