package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/auth"
	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// WebSocketHandler handles WebSocket upgrade requests for sync connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          *auth.Verifier
	allowAnonymous    bool
}

// NewWebSocketHandler creates a new WebSocket handler. When verifier is nil
// or allowAnonymous is set, connections without a valid token fall back to
// query-parameter identity (development mode).
func NewWebSocketHandler(cm *ConnectionManager, verifier *auth.Verifier, allowAnonymous bool) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
		allowAnonymous:    allowAnonymous,
	}
}

// HandleSyncConnection handles WebSocket connections for sync clients
func (h *WebSocketHandler) HandleSyncConnection(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.identify(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, userID, platform); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
		// Upgrade already wrote the HTTP error response
		return
	}
}

// identify resolves the connecting user from the handshake token, or from
// query parameters when anonymous access is allowed
func (h *WebSocketHandler) identify(r *http.Request) (string, realtime.Platform, bool) {
	tokenString := r.URL.Query().Get("token")
	if tokenString != "" && h.verifier != nil {
		claims, err := h.verifier.ValidateConnectToken(tokenString)
		if err != nil {
			log.Warn().Err(err).Msg("rejected WebSocket handshake token")
			return "", "", false
		}
		return claims.Subject, realtime.ParsePlatform(claims.Platform), true
	}

	if !h.allowAnonymous {
		return "", "", false
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	return userID, realtime.ParsePlatform(r.URL.Query().Get("platform")), true
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/sync", h.HandleSyncConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
