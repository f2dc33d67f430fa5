// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/quizroyale/quizroyale/internal/middleware"
	"github.com/quizroyale/quizroyale/internal/models"
	"github.com/quizroyale/quizroyale/internal/room"
	"github.com/quizroyale/quizroyale/internal/store"
)

// sessionConn is one player's live attachment to a room: their identity,
// their outbound queue and the cancel that tears down every goroutine the
// connection spawned.
type sessionConn struct {
	Identity string
	Code     string
	OutChan  chan map[string]interface{}
	Cancel   context.CancelFunc
	limiter  *rate.Limiter
}

// push queues a payload; a full queue drops it (the next snapshot supersedes
// anything dropped, since snapshots are complete ground truth).
func (sc *sessionConn) push(payload map[string]interface{}) {
	select {
	case sc.OutChan <- payload:
	default:
	}
}

func (sc *sessionConn) pushError(msg string) {
	sc.push(map[string]interface{}{"type": "error", "error": msg})
}

// RoomWSHandler upgrades /room/ws/{code} connections and drives the session:
// a snapshot pump streaming room and roster state, a write pump serializing
// to the socket, and a read pump dispatching client commands.
func (s *Server) RoomWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		code := room.NormalizeCode(strings.TrimPrefix(r.URL.Path, "/room/ws/"))
		if code == "" || strings.Contains(code, "/") {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Identity must be settled before the upgrade writes the response.
		identity, err := s.EnsureIdentity(w, r)
		if err != nil {
			http.Error(w, "could not establish session", http.StatusInternalServerError)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"quiz"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "quiz" {
			c.Close(BadSubprotocolError, "client must speak the quiz subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if _, err := s.Rooms.Room(ctx, code); err != nil {
			c.Close(InvalidRoomCodeError, "room does not exist")
			return
		}

		roomWatch, err := s.Rooms.WatchRoom(ctx, code)
		if err != nil {
			s.Log.WithError(err).Warn("room watch failed")
			c.Close(websocket.StatusInternalError, "subscription failed")
			return
		}
		defer roomWatch.Cancel()
		playersWatch, err := s.Rooms.WatchPlayers(ctx, code)
		if err != nil {
			s.Log.WithError(err).Warn("roster watch failed")
			c.Close(websocket.StatusInternalError, "subscription failed")
			return
		}
		defer playersWatch.Cancel()

		conn := &sessionConn{
			Identity: identity,
			Code:     code,
			OutChan:  make(chan map[string]interface{}, 16),
			Cancel:   cancel,
			limiter:  rate.NewLimiter(rate.Limit(10), 20),
		}

		middleware.LogSessionConnect(s.Log, remoteAddr, code, identity)

		go s.snapshotPump(ctx, conn, roomWatch, playersWatch)
		go s.writePump(ctx, c, conn)

		readErr := s.readPump(ctx, c, conn, roomWatch, playersWatch)

		middleware.LogSessionDisconnect(s.Log, remoteAddr, code, readErr)
	}
}

// snapshotPump forwards store snapshots to the connection. Every payload is
// a complete view; a deleted room document closes the session.
func (s *Server) snapshotPump(ctx context.Context, conn *sessionConn, rw *store.DocWatch, pw *store.CollectionWatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-rw.C:
			if !ok {
				return
			}
			if !snap.Exists {
				conn.push(map[string]interface{}{"type": "room_closed"})
				conn.Cancel()
				return
			}
			var r models.Room
			if err := json.Unmarshal(snap.Data, &r); err != nil {
				s.Log.WithError(err).Warn("bad room snapshot")
				continue
			}
			conn.push(map[string]interface{}{"type": "room_snapshot", "room": &r})
		case snap, ok := <-pw.C:
			if !ok {
				return
			}
			players, err := room.DecodePlayers(snap.Docs)
			if err != nil {
				s.Log.WithError(err).Warn("bad roster snapshot")
				continue
			}
			conn.push(map[string]interface{}{
				"type":    "players_snapshot",
				"players": room.Scoreboard(players),
			})
		}
	}
}

// writePump serializes queued payloads onto the socket and keeps the
// connection alive with pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *sessionConn) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-conn.OutChan:
			data, err := json.Marshal(payload)
			if err != nil {
				s.Log.WithError(err).Warn("marshal outbound payload")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.Cancel()
				return
			}
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Cancel()
				return
			}
		}
	}
}

// readPump consumes client commands until the connection drops or the
// session context is cancelled. A disconnect without leave_room keeps the
// player record so the same identity can rejoin.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *sessionConn, rw *store.DocWatch, pw *store.CollectionWatch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if !conn.limiter.Allow() {
			conn.pushError("too many messages, slow down")
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			conn.pushError("invalid JSON format")
			continue
		}

		if s.handleSessionMessage(ctx, c, conn, rw, pw, packet) {
			return nil
		}
	}
}

// handleSessionMessage dispatches one command. Errors surface only to the
// acting connection; state changes reach everyone else through snapshots.
// Returns true when the session should end.
func (s *Server) handleSessionMessage(ctx context.Context, c *websocket.Conn, conn *sessionConn, rw *store.DocWatch, pw *store.CollectionWatch, packet map[string]interface{}) bool {
	action, _ := packet["type"].(string)

	switch action {
	case "join_room":
		name, _ := packet["name"].(string)
		if strings.TrimSpace(name) == "" {
			conn.pushError("name is required")
			return false
		}
		if _, err := s.Rooms.JoinRoom(ctx, conn.Code, conn.Identity, name); err != nil {
			conn.pushError(err.Error())
		}

	case "start_session":
		if _, err := s.Rooms.StartSession(ctx, conn.Code, conn.Identity); err != nil {
			conn.pushError(err.Error())
		}

	case "advance_question":
		if _, err := s.Rooms.AdvanceQuestion(ctx, conn.Code, conn.Identity); err != nil {
			conn.pushError(err.Error())
		}

	case "submit_answer":
		questionIndex, ok := packetInt(packet, "question")
		if !ok {
			conn.pushError("missing question index")
			return false
		}
		selectedIndex, ok := packetInt(packet, "selected")
		if !ok {
			selectedIndex = -1 // timeout submission, always incorrect
		}
		clientTs, ok := packetInt64(packet, "ts")
		if !ok {
			clientTs = time.Now().UnixMilli()
		}
		res, err := s.Rooms.SubmitAnswer(ctx, conn.Code, conn.Identity, questionIndex, selectedIndex, clientTs)
		if err != nil {
			conn.pushError(err.Error())
			return false
		}
		conn.push(map[string]interface{}{"type": "answer_result", "result": res})

	case "rebattle":
		var newQuiz *models.Quiz
		if raw, ok := packet["quiz"]; ok && raw != nil {
			data, err := json.Marshal(raw)
			if err != nil {
				conn.pushError("invalid quiz payload")
				return false
			}
			newQuiz = &models.Quiz{}
			if err := json.Unmarshal(data, newQuiz); err != nil {
				conn.pushError("invalid quiz payload")
				return false
			}
		}
		if _, err := s.Rooms.Rebattle(ctx, conn.Code, conn.Identity, newQuiz); err != nil {
			conn.pushError(err.Error())
		}

	case "leave_room":
		deleteRoom, _ := packet["delete"].(bool)
		// Unsubscribe before the deletion writes so this connection never
		// reacts to its own teardown.
		rw.Cancel()
		pw.Cancel()
		if err := s.Rooms.LeaveRoom(ctx, conn.Code, conn.Identity, deleteRoom); err != nil {
			s.Log.WithError(err).Warn("leave room failed")
		}
		c.Close(websocket.StatusNormalClosure, "left room")
		conn.Cancel()
		return true

	default:
		conn.pushError("unknown message type: " + action)
	}
	return false
}

// packetInt pulls an integer field out of a decoded JSON object.
func packetInt(packet map[string]interface{}, key string) (int, bool) {
	v, ok := packet[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func packetInt64(packet map[string]interface{}, key string) (int64, bool) {
	v, ok := packet[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}
