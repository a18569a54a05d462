package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// ErrConnectionClosed is returned by Send for unknown or evicted connections
var ErrConnectionClosed = errors.New("connection closed")

// SessionHooks receives connection lifecycle callbacks from the transport.
// Implemented by the sync service.
type SessionHooks interface {
	HandleConnect(connID, userID string, platform realtime.Platform)
	HandleDisconnect(connID string)
	HandleActivity(connID string)
}

// ConnectionManager owns the WebSocket connections and their room membership.
// It implements realtime.Transport for the sync dispatcher.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection            // connection ID -> connection
	rooms map[string]map[string]*Connection // room -> connection ID -> connection

	upgrader websocket.Upgrader
	config   ConnectionConfig
	hooks    SessionHooks

	// Room broadcasts flow through a buffered channel so fan-out happens on
	// one goroutine, decoupled from publishers
	broadcastCh chan roomBroadcast
}

// Connection represents a WebSocket connection to a client.
// The Send channel is never closed; teardown is signalled through done so
// senders racing a disconnect select against it instead of panicking.
type Connection struct {
	ID       string
	UserID   string
	Platform realtime.Platform
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	done        chan struct{}
	ConnectedAt time.Time
}

type roomBroadcast struct {
	Room string
	Data []byte
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan roomBroadcast, 1000),
	}
}

// SetHooks wires the session lifecycle callbacks. Must be called before the
// first connection is accepted.
func (cm *ConnectionManager) SetHooks(hooks SessionHooks) {
	cm.hooks = hooks
}

// Start begins processing room broadcasts
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and registers it
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string, platform realtime.Platform) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Platform:    platform,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.conns[connection.ID] = connection
	cm.mu.Unlock()

	if cm.hooks != nil {
		cm.hooks.HandleConnect(connection.ID, userID, platform)
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("platform", string(platform)).
		Msg("WebSocket connection established")

	return nil
}

// Send delivers data to a single connection. Implements realtime.Transport.
func (cm *ConnectionManager) Send(connID string, data []byte) error {
	cm.mu.RLock()
	conn, ok := cm.conns[connID]
	cm.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}

	select {
	case conn.Send <- data:
		return nil
	case <-conn.done:
		return ErrConnectionClosed
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
		return ErrConnectionClosed
	}
}

// JoinRoom adds a connection to a broadcast group. Implements realtime.Transport.
func (cm *ConnectionManager) JoinRoom(room, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.conns[connID]
	if !ok {
		return
	}
	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[string]*Connection)
	}
	cm.rooms[room][connID] = conn
}

// LeaveRoom removes a connection from a broadcast group. Implements realtime.Transport.
func (cm *ConnectionManager) LeaveRoom(room, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.leaveRoomLocked(room, connID)
}

// BroadcastRoom enqueues a group-send to every connection in a room.
// Implements realtime.Transport.
func (cm *ConnectionManager) BroadcastRoom(room string, data []byte) {
	select {
	case cm.broadcastCh <- roomBroadcast{Room: room, Data: data}:
	default:
		log.Warn().Str("room", room).Msg("broadcast channel full, dropping message")
	}
}

// CloseConnection force-closes a connection's underlying link. Implements
// realtime.Transport. Used by the idle sweep.
func (cm *ConnectionManager) CloseConnection(connID string) {
	cm.mu.RLock()
	conn, ok := cm.conns[connID]
	cm.mu.RUnlock()
	if !ok {
		return
	}
	cm.unregisterConnection(conn)
	conn.Conn.Close()
}

// handleBroadcast fans a room message out to a snapshot of its members
func (cm *ConnectionManager) handleBroadcast(message roomBroadcast) {
	cm.mu.RLock()
	members, exists := cm.rooms[message.Room]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.Data:
		case <-conn.done:
			// Member disconnected after the snapshot, skip it
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("room", message.Room).
		Int("connections", len(targets)).
		Msg("room broadcast delivered")
}

// unregisterConnection removes a connection from the manager and all rooms,
// then notifies the session hooks. Safe to call from both pumps.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.conns[conn.ID]
	if exists {
		delete(cm.conns, conn.ID)
		for room := range cm.rooms {
			cm.leaveRoomLocked(room, conn.ID)
		}
		close(conn.done)
	}
	cm.mu.Unlock()

	if !exists {
		return
	}

	if cm.hooks != nil {
		cm.hooks.HandleDisconnect(conn.ID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) leaveRoomLocked(room, connID string) {
	members, ok := cm.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	// Clean up empty rooms
	if len(members) == 0 {
		delete(cm.rooms, room)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int)
	for room, members := range cm.rooms {
		roomCounts[room] = len(members)
	}

	return map[string]interface{}{
		"total_connections": len(cm.conns),
		"active_rooms":      len(cm.rooms),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-c.done:
			// Manager unregistered the connection
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		if c.Manager.hooks != nil {
			c.Manager.hooks.HandleActivity(c.ID)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		// Any client message counts as activity
		if c.Manager.hooks != nil {
			c.Manager.hooks.HandleActivity(c.ID)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Int("bytes", len(message)).
			Msg("received client message")
	}
}
