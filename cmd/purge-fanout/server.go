package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/openwiki/flaggedrevs/common/logger"
	"github.com/openwiki/flaggedrevs/common/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Cache purgers connect from internal networks only
		return true
	},
}

// Server handles WebSocket connections and manual purge requests
type Server struct {
	hub   *Hub
	redis *redis.Client
	log   *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redisClient *redis.Client, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		redis: redisClient,
		log:   log,
	}
}

// HandleWebSocket handles WebSocket upgrade and registration.
// URL: /ws?pages=7,12,31 (no pages parameter subscribes to all events)
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	pages, err := parsePageFilter(r.URL.Query().Get("pages"))
	if err != nil {
		http.Error(w, "invalid pages parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, pages, s.log)
	s.hub.register <- client

	s.log.Info("new websocket connection",
		"remote", r.RemoteAddr,
		"page_filter", len(pages))

	go client.writePump()
	go client.readPump()
}

// parsePageFilter parses a comma-separated page id list. Empty input means
// no filter (all pages).
func parsePageFilter(raw string) (map[int64]struct{}, error) {
	if raw == "" {
		return nil, nil
	}
	pages := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, strconv.ErrSyntax
		}
		pages[id] = struct{}{}
	}
	return pages, nil
}

// PurgeRequest is a manual purge injected by an operator or internal service
type PurgeRequest struct {
	PageID      int64 `json:"page_id"`
	OldRev      int64 `json:"old_rev,omitempty"`
	NewRev      int64 `json:"new_rev,omitempty"`
	FileChanged bool  `json:"file_changed,omitempty"`
}

// HandlePurge accepts a manual purge and republishes it over the shared
// channel so every fanout replica delivers it.
// POST /api/purge
func (s *Server) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !isInternalRequest(r) {
		http.Error(w, "X-Internal-Service header required", http.StatusForbidden)
		return
	}

	var req PurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PageID <= 0 {
		http.Error(w, "page_id is required", http.StatusBadRequest)
		return
	}

	change := models.StableChange{
		PageID:      req.PageID,
		OldRev:      req.OldRev,
		NewRev:      req.NewRev,
		FileChanged: req.FileChanged,
	}
	payload, err := json.Marshal(change)
	if err != nil {
		http.Error(w, "Failed to encode purge", http.StatusInternalServerError)
		return
	}

	if err := s.redis.Publish(r.Context(), purgeChannel, payload).Err(); err != nil {
		s.log.Error("failed to publish manual purge", "page_id", req.PageID, "error", err)
		http.Error(w, "Failed to publish purge", http.StatusInternalServerError)
		return
	}

	s.log.Info("manual purge published", "page_id", req.PageID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"page_id": req.PageID,
	})
}

// isInternalRequest verifies the shared internal-service secret
func isInternalRequest(r *http.Request) bool {
	internalHeader := r.Header.Get("X-Internal-Service")
	if internalHeader == "" {
		return false
	}
	expectedSecret := os.Getenv("INTERNAL_SERVICE_SECRET")
	if expectedSecret == "" {
		expectedSecret = "default-internal-secret-change-in-prod"
	}
	return internalHeader == expectedSecret
}
