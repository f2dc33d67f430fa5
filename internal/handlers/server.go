// internal/handlers/server.go

// Package handlers exposes the room service over HTTP and WebSocket. Each
// WebSocket connection owns a session context: its identity, its snapshot
// subscriptions and its outbound queue. There are no process-wide session
// singletons.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/quizroyale/quizroyale/internal/auth"
	"github.com/quizroyale/quizroyale/internal/room"
)

const sessionCookie = "session_token"

// Server bundles the room service with the logger the handlers share.
type Server struct {
	Rooms *room.Service
	Log   *logrus.Logger
}

// NewServer builds the handler set.
func NewServer(rooms *room.Service, logger *logrus.Logger) *Server {
	return &Server{Rooms: rooms, Log: logger}
}

// EnsureIdentity returns the caller's session identity, minting a fresh one
// (and setting the session cookie) when none is presented or the token fails
// verification. Must run before any response body or upgrade is written.
func (s *Server) EnsureIdentity(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if identity, err := auth.VerifySessionToken(cookie.Value); err == nil {
			return identity, nil
		}
	}

	identity := auth.NewIdentity()
	token, err := auth.CreateSessionToken(identity)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return identity, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

// errorStatus maps the room error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, room.ErrAuthPending):
		return http.StatusUnauthorized
	case errors.Is(err, room.ErrInvalidQuiz):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrWrongState):
		return http.StatusConflict
	case errors.Is(err, room.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, room.ErrSync):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
