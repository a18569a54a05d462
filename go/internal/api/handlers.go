package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/push"
	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// Handler exposes the internal HTTP surface the GameOn backend calls after
// committing a database write
type Handler struct {
	sync       *realtime.Service
	tokens     *push.TokenStore
	dispatcher *push.Dispatcher
}

// NewHandler creates the API handler
func NewHandler(sync *realtime.Service, tokens *push.TokenStore, dispatcher *push.Dispatcher) *Handler {
	return &Handler{
		sync:       sync,
		tokens:     tokens,
		dispatcher: dispatcher,
	}
}

// RegisterRoutes registers the API routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/publish/user", h.handlePublishUser)
	mux.HandleFunc("POST /v1/publish/tournament", h.handlePublishTournament)
	mux.HandleFunc("POST /v1/subscriptions", h.handleSubscribe)
	mux.HandleFunc("DELETE /v1/subscriptions", h.handleUnsubscribe)
	mux.HandleFunc("POST /v1/devices", h.handleRegisterDevice)
	mux.HandleFunc("DELETE /v1/devices", h.handleUnregisterDevice)
	mux.HandleFunc("POST /v1/notify", h.handleNotify)
	mux.HandleFunc("GET /v1/presence/{userId}", h.handlePresence)
}

type publishUserRequest struct {
	UserID              string          `json:"userId"`
	Type                string          `json:"type"`
	Data                json.RawMessage `json:"data"`
	ExcludeConnectionID string          `json:"excludeConnectionId,omitempty"`
}

func (h *Handler) handlePublishUser(w http.ResponseWriter, r *http.Request) {
	var req publishUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	eventType, ok := realtime.ParseEventType(req.Type)
	if !ok {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	syncID := h.sync.PublishToUser(req.UserID, eventType, req.Data, req.ExcludeConnectionID)
	writeJSON(w, http.StatusOK, map[string]string{"syncId": syncID})
}

type publishTournamentRequest struct {
	TournamentID string          `json:"tournamentId"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
}

func (h *Handler) handlePublishTournament(w http.ResponseWriter, r *http.Request) {
	var req publishTournamentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TournamentID == "" {
		http.Error(w, "tournamentId is required", http.StatusBadRequest)
		return
	}
	eventType, ok := realtime.ParseEventType(req.Type)
	if !ok {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	syncID := h.sync.PublishToTopic(req.TournamentID, eventType, req.Data)
	writeJSON(w, http.StatusOK, map[string]string{"syncId": syncID})
}

type subscriptionRequest struct {
	UserID       string `json:"userId"`
	TournamentID string `json:"tournamentId"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.TournamentID == "" {
		http.Error(w, "userId and tournamentId are required", http.StatusBadRequest)
		return
	}

	h.sync.Subscribe(req.UserID, req.TournamentID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.TournamentID == "" {
		http.Error(w, "userId and tournamentId are required", http.StatusBadRequest)
		return
	}

	h.sync.Unsubscribe(req.UserID, req.TournamentID)
	w.WriteHeader(http.StatusNoContent)
}

type deviceRequest struct {
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

func (h *Handler) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Token == "" {
		http.Error(w, "userId and token are required", http.StatusBadRequest)
		return
	}

	h.tokens.RegisterToken(req.UserID, req.Token, realtime.ParsePlatform(req.Platform))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Token == "" {
		http.Error(w, "userId and token are required", http.StatusBadRequest)
		return
	}

	h.tokens.UnregisterToken(req.UserID, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

type notifyRequest struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

type notifyResponse struct {
	Sent     int  `json:"sent"`
	NoTokens bool `json:"noTokens"`
	Evicted  int  `json:"evicted"`
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), req.UserID, push.Notification{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	})

	writeJSON(w, http.StatusOK, notifyResponse{
		Sent:     result.Sent,
		NoTokens: result.NoTokens,
		Evicted:  result.Evicted,
	})
}

type presenceResponse struct {
	Online    bool                `json:"online"`
	Platforms []realtime.Platform `json:"platforms"`
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	platforms := h.sync.ActivePlatforms(userID)
	if platforms == nil {
		platforms = []realtime.Platform{}
	}
	writeJSON(w, http.StatusOK, presenceResponse{
		Online:    h.sync.IsOnline(userID),
		Platforms: platforms,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
