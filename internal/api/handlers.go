package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pvpserver/internal/stats"
)

// Services is the set of game subsystems the HTTP API reads from and
// dispatches requests into. Kept minimal and interface-shaped so the
// router can be exercised with fakes in tests, without a running session.
type Services interface {
	TopLeaderboard(n int) []stats.LeaderboardEntry
	GetProfile(id string) (stats.Profile, bool)
	Enqueue(playerID string, rating int, region string)
	CancelMatchmaking(playerID string) bool
	QueueSize() int
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	services Services
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, h.services.TopLeaderboard(limit))
}

func (h *routerHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	profile, ok := h.services.GetProfile(id)
	if !ok {
		writeError(w, "profile not found", http.StatusNotFound)
		return
	}
	writeJSON(w, profile)
}

func (h *routerHandlers) handleMatchmakingEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
		Rating   int    `json:"rating"`
		Region   string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		writeError(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if req.Rating <= 0 {
		req.Rating = 1200
	}
	if req.Region == "" {
		req.Region = "any"
	}
	h.services.Enqueue(req.PlayerID, req.Rating, req.Region)
	writeJSON(w, map[string]interface{}{"queued": true, "queueSize": h.services.QueueSize()})
}

func (h *routerHandlers) handleMatchmakingCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	ok := h.services.CancelMatchmaking(req.PlayerID)
	writeJSON(w, map[string]bool{"cancelled": ok})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
