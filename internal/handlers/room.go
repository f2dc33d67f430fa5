// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/quizroyale/quizroyale/internal/models"
	"github.com/quizroyale/quizroyale/internal/room"
)

// CreateRoomHandler handles POST /room/create with a JSON body carrying the
// host display name and the quiz. Responds with the created room; the
// session cookie is set if the caller had none.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := s.EnsureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		HostName string       `json:"hostName"`
		Quiz     *models.Quiz `json:"quiz"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.HostName == "" {
		req.HostName = "Host"
	}

	created, err := s.Rooms.CreateRoom(r.Context(), identity, req.HostName, req.Quiz)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"room": created})
}

// JoinRoomHandler handles POST /room/join with {"code", "name"}. Joining is
// idempotent for the same identity, so a page reload re-joins cleanly.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity, err := s.EnsureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	p, err := s.Rooms.JoinRoom(r.Context(), req.Code, identity, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	roomDoc, err := s.Rooms.Room(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"player": p, "room": roomDoc})
}

// GetRoomHandler handles GET /room/{code}: a one-shot read of the room
// document plus its ranked roster, for clients that poll instead of
// subscribing.
func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/room/")
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	roomDoc, err := s.Rooms.Room(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	players, err := s.Rooms.Players(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":    roomDoc,
		"players": room.Scoreboard(players),
	})
}
