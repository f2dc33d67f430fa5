// internal/room/service.go

// Package room implements the room registry, the session lifecycle
// controller and the scoring transaction on top of the shared document
// store. No single coordinator serializes actions: every operation is either
// a single-document atomic read-modify-write or a batch of independent ones,
// and races between host-driven and auto-triggered transitions resolve by
// comparing the current question index inside the transaction.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizroyale/quizroyale/internal/models"
	"github.com/quizroyale/quizroyale/internal/quiz"
	"github.com/quizroyale/quizroyale/internal/scoring"
	"github.com/quizroyale/quizroyale/internal/store"
)

const (
	roomsCollection = "rooms"

	// codeAttempts bounds regenerate-and-retry on room-code collisions.
	codeAttempts = 5

	// ChatLogLimit caps the per-room chat log the store keeps for the
	// (external) chat collaborator.
	ChatLogLimit = 50
)

func playersCollection(code string) string { return "players:" + code }

// ChatLogName is the store log the chat collaborator appends to; the room
// service only provisions and tears it down with the room.
func ChatLogName(code string) string { return "chat:" + code }

// Finisher is notified once a session transitions to finished, with the
// final ranked roster. Failures are logged and dropped; they never block or
// roll back the transition.
type Finisher interface {
	SessionFinished(ctx context.Context, r *models.Room, ranked []*models.Player) error
}

// Service coordinates all room operations over a shared document store.
type Service struct {
	store     store.Store
	log       *logrus.Logger
	finishers []Finisher
}

// NewService builds a Service on the given store. Finishers run after every
// transition to the finished state.
func NewService(st store.Store, logger *logrus.Logger, finishers ...Finisher) *Service {
	return &Service{store: st, log: logger, finishers: finishers}
}

// SubmitResult reports what one answer submission did.
type SubmitResult struct {
	Correct       bool `json:"correct"`
	Points        int  `json:"points"`
	Streak        int  `json:"streak"`
	AlreadyScored bool `json:"alreadyScored"`
	Advanced      bool `json:"advanced"`
	Finished      bool `json:"finished"`
}

// CreateRoom validates and shuffles the quiz, allocates a fresh code and
// writes the room in the lobby state with the host as its first player.
func (s *Service) CreateRoom(ctx context.Context, identity, hostName string, q *models.Quiz) (*models.Room, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	if err := quiz.Validate(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
	}
	quiz.Shuffle(q)

	var created *models.Room
	for attempt := 0; attempt < codeAttempts; attempt++ {
		r := &models.Room{
			Code:      NewCode(),
			HostID:    identity,
			HostName:  hostName,
			Quiz:      *q,
			State:     models.StateLobby,
			Answered:  []string{},
			CreatedAt: time.Now().UnixMilli(),
		}
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode room: %w", err)
		}
		err = s.store.Create(ctx, roomsCollection, r.Code, data)
		if errors.Is(err, store.ErrExists) {
			continue // code collision, regenerate
		}
		if err != nil {
			return nil, fmt.Errorf("%w: create room: %v", ErrSync, err)
		}
		created = r
		break
	}
	if created == nil {
		return nil, fmt.Errorf("%w: could not allocate a room code after %d attempts", ErrSync, codeAttempts)
	}

	host := &models.Player{ID: identity, Name: hostName, IsHost: true}
	if err := s.putPlayer(ctx, created.Code, host); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"room":      created.Code,
		"host":      identity,
		"questions": len(created.Quiz.Questions),
	}).Info("room created")
	return created, nil
}

// JoinRoom idempotently creates or overwrites the caller's player record.
// Only rooms still in the lobby accept joins.
func (s *Service) JoinRoom(ctx context.Context, code, identity, name string) (*models.Player, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	code = NormalizeCode(code)
	r, err := s.Room(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.State != models.StateLobby {
		return nil, fmt.Errorf("%w: game already started or finished", ErrWrongState)
	}
	p := &models.Player{ID: identity, Name: name, IsHost: r.HostID == identity}
	if err := s.putPlayer(ctx, code, p); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room": code, "player": identity}).Info("player joined")
	return p, nil
}

// StartSession moves the room from lobby to playing at question zero.
// Host-only.
func (s *Service) StartSession(ctx context.Context, code, identity string) (*models.Room, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	code = NormalizeCode(code)
	r, _, err := s.updateRoom(ctx, code, func(r *models.Room) error {
		if r.HostID != identity {
			return ErrNotHost
		}
		if r.State != models.StateLobby {
			return fmt.Errorf("%w: session already started", ErrWrongState)
		}
		r.State = models.StatePlaying
		r.CurrentQuestion = 0
		r.QuestionStart = time.Now().UnixMilli()
		r.Answered = []string{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"room": code, "host": identity}).Info("session started")
	return r, nil
}

// AdvanceQuestion moves the room to the next question, or to finished when
// the current question is the last. Host-only. If the index moved between
// the read and the write (an auto-advance won the race) the call is a no-op.
func (s *Service) AdvanceQuestion(ctx context.Context, code, identity string) (*models.Room, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	code = NormalizeCode(code)
	current, err := s.Room(ctx, code)
	if err != nil {
		return nil, err
	}
	if current.HostID != identity {
		return nil, ErrNotHost
	}
	if current.State != models.StatePlaying {
		return nil, fmt.Errorf("%w: room is not playing", ErrWrongState)
	}
	r, applied, err := s.advance(ctx, code, identity, current.CurrentQuestion)
	if err != nil {
		return nil, err
	}
	if applied && r.State == models.StateFinished {
		s.finishSession(code)
	}
	return r, nil
}

// Rebattle returns the room to the lobby for another run: index zero, no
// start timestamp, cleared answered set, optionally a new quiz, and every
// player's score/streak/progress reset. Host-only. The roster reset is a
// batch of independent single-record transactions.
func (s *Service) Rebattle(ctx context.Context, code, identity string, newQuiz *models.Quiz) (*models.Room, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	code = NormalizeCode(code)
	if newQuiz != nil {
		if err := quiz.Validate(newQuiz); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
		}
		quiz.Shuffle(newQuiz)
	}

	r, _, err := s.updateRoom(ctx, code, func(r *models.Room) error {
		if r.HostID != identity {
			return ErrNotHost
		}
		r.State = models.StateLobby
		r.CurrentQuestion = 0
		r.QuestionStart = 0
		r.Answered = []string{}
		if newQuiz != nil {
			r.Quiz = *newQuiz
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs, err := s.store.List(ctx, playersCollection(code))
	if err != nil {
		return nil, fmt.Errorf("%w: list players: %v", ErrSync, err)
	}
	for key := range docs {
		err := s.store.Update(ctx, playersCollection(code), key, func(cur []byte) ([]byte, error) {
			var p models.Player
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, fmt.Errorf("decode player %s: %w", key, err)
			}
			p.ResetForRebattle()
			return json.Marshal(p)
		})
		if err != nil {
			// Independent resets: one failure leaves that record stale but
			// never blocks the rest of the roster.
			s.log.WithFields(logrus.Fields{"room": code, "player": key}).
				WithError(err).Warn("rebattle reset failed for player")
		}
	}
	s.log.WithFields(logrus.Fields{"room": code, "newQuiz": newQuiz != nil}).Info("rebattle")
	return r, nil
}

// LeaveRoom removes the caller's player record. A host leaving with
// deleteRoom tears down the room, its roster and its chat log; a host
// leaving without it orphans the room.
func (s *Service) LeaveRoom(ctx context.Context, code, identity string, deleteRoom bool) error {
	if identity == "" {
		return ErrAuthPending
	}
	code = NormalizeCode(code)
	r, err := s.Room(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, playersCollection(code), identity); err != nil {
		return fmt.Errorf("%w: remove player: %v", ErrSync, err)
	}

	if r.HostID != identity {
		return nil
	}
	if !deleteRoom {
		// Known gap: no host migration exists, so the room stays alive
		// without anyone able to drive it.
		s.log.WithField("room", code).Warn("host left without deleting the room; room is orphaned")
		return nil
	}
	if err := s.store.DropCollection(ctx, playersCollection(code)); err != nil {
		return fmt.Errorf("%w: drop roster: %v", ErrSync, err)
	}
	if err := s.store.DropCollection(ctx, ChatLogName(code)); err != nil {
		return fmt.Errorf("%w: drop chat log: %v", ErrSync, err)
	}
	if err := s.store.Delete(ctx, roomsCollection, code); err != nil {
		return fmt.Errorf("%w: delete room: %v", ErrSync, err)
	}
	s.log.WithField("room", code).Info("room deleted by host")
	return nil
}

// SubmitAnswer scores one answer submission. The flow is read-then-transact:
// the room is read once for the question start timestamp, the award is
// applied in the player record's atomic transaction (guarded by progress, so
// resubmission is a no-op), and the submitter joins the room's answered set.
// When the answered set covers the live roster the room auto-advances
// through the same index-guarded transition a host advance uses.
func (s *Service) SubmitAnswer(ctx context.Context, code, identity string, questionIndex, selectedIndex int, clientTs int64) (*SubmitResult, error) {
	if identity == "" {
		return nil, ErrAuthPending
	}
	code = NormalizeCode(code)
	r, err := s.Room(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.State != models.StatePlaying {
		return nil, fmt.Errorf("%w: room is not playing", ErrWrongState)
	}
	if questionIndex != r.CurrentQuestion {
		return nil, fmt.Errorf("%w: submission for question %d but room is on %d", ErrWrongState, questionIndex, r.CurrentQuestion)
	}

	question := r.Quiz.Questions[questionIndex]
	correct := selectedIndex >= 0 && selectedIndex < len(question.Options) && selectedIndex == question.Correct
	timeTaken := clientTs - r.QuestionStart
	if timeTaken < 0 {
		timeTaken = 0
	}

	res := &SubmitResult{Correct: correct}
	err = s.store.Update(ctx, playersCollection(code), identity, func(cur []byte) ([]byte, error) {
		*res = SubmitResult{Correct: correct}
		var p models.Player
		if err := json.Unmarshal(cur, &p); err != nil {
			return nil, fmt.Errorf("decode player %s: %w", identity, err)
		}
		if p.Progress >= questionIndex+1 {
			// Already scored this question.
			res.AlreadyScored = true
			res.Streak = p.Streak
			return nil, store.ErrUnchanged
		}
		points, streak := scoring.Award(correct, p.Streak, timeTaken)
		p.Score += points
		p.Streak = streak
		p.Progress = questionIndex + 1
		p.LastAnswer = clientTs
		res.Points = points
		res.Streak = streak
		return json.Marshal(p)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no player record for %s", ErrRoomNotFound, identity)
	}
	if err != nil {
		// Transaction atomicity: nothing was committed; the score simply
		// lags until a later attempt.
		s.log.WithFields(logrus.Fields{"room": code, "player": identity}).
			WithError(err).Error("scoring transaction failed")
		return nil, fmt.Errorf("%w: scoring transaction: %v", ErrSync, err)
	}

	updated, _, err := s.updateRoom(ctx, code, func(r *models.Room) error {
		if r.State != models.StatePlaying || r.CurrentQuestion != questionIndex {
			return store.ErrUnchanged // question already moved on
		}
		if !r.MarkAnswered(identity) {
			return store.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	roster, err := s.store.List(ctx, playersCollection(code))
	if err != nil {
		return nil, fmt.Errorf("%w: list players: %v", ErrSync, err)
	}
	if updated.State == models.StatePlaying &&
		updated.CurrentQuestion == questionIndex &&
		len(updated.Answered) >= len(roster) {
		adv, applied, err := s.advance(ctx, code, "", questionIndex)
		if err != nil {
			return nil, err
		}
		if applied {
			res.Advanced = true
			res.Finished = adv.State == models.StateFinished
			if res.Finished {
				s.finishSession(code)
			}
		}
	}
	return res, nil
}

// Room returns the current room document.
func (s *Service) Room(ctx context.Context, code string) (*models.Room, error) {
	data, err := s.store.Get(ctx, roomsCollection, NormalizeCode(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read room: %v", ErrSync, err)
	}
	var r models.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &r, nil
}

// Players returns the room's current roster, unranked.
func (s *Service) Players(ctx context.Context, code string) ([]*models.Player, error) {
	docs, err := s.store.List(ctx, playersCollection(NormalizeCode(code)))
	if err != nil {
		return nil, fmt.Errorf("%w: list players: %v", ErrSync, err)
	}
	return DecodePlayers(docs)
}

// WatchRoom subscribes to full snapshots of the room document.
func (s *Service) WatchRoom(ctx context.Context, code string) (*store.DocWatch, error) {
	w, err := s.store.Watch(ctx, roomsCollection, NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("%w: watch room: %v", ErrSync, err)
	}
	return w, nil
}

// WatchPlayers subscribes to full snapshots of the room's roster.
func (s *Service) WatchPlayers(ctx context.Context, code string) (*store.CollectionWatch, error) {
	w, err := s.store.WatchCollection(ctx, playersCollection(NormalizeCode(code)))
	if err != nil {
		return nil, fmt.Errorf("%w: watch players: %v", ErrSync, err)
	}
	return w, nil
}

// DecodePlayers converts a roster collection snapshot into player records.
func DecodePlayers(docs map[string][]byte) ([]*models.Player, error) {
	players := make([]*models.Player, 0, len(docs))
	for key, data := range docs {
		var p models.Player
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode player %s: %w", key, err)
		}
		players = append(players, &p)
	}
	return players, nil
}

// advance applies the shared index-guarded transition: at the last question
// the room finishes, otherwise the index increments with a fresh start
// timestamp and a cleared answered set. requester == "" marks the
// auto-advance path, which skips the host check and degrades every guard
// failure to a no-op so racing writers settle on last-index-matching-wins.
func (s *Service) advance(ctx context.Context, code, requester string, fromIndex int) (*models.Room, bool, error) {
	return s.updateRoom(ctx, code, func(r *models.Room) error {
		if requester != "" && r.HostID != requester {
			return ErrNotHost
		}
		if r.State != models.StatePlaying || r.CurrentQuestion != fromIndex {
			return store.ErrUnchanged
		}
		if r.LastQuestion() {
			r.State = models.StateFinished
			return nil
		}
		r.CurrentQuestion++
		r.QuestionStart = time.Now().UnixMilli()
		r.Answered = []string{}
		return nil
	})
}

// updateRoom runs mutate inside the room document's atomic transaction.
// A store.ErrUnchanged from mutate aborts the write; the returned room is
// then the observed state and applied is false.
func (s *Service) updateRoom(ctx context.Context, code string, mutate func(*models.Room) error) (*models.Room, bool, error) {
	var out models.Room
	applied := false
	err := s.store.Update(ctx, roomsCollection, code, func(cur []byte) ([]byte, error) {
		applied = false
		var r models.Room
		if err := json.Unmarshal(cur, &r); err != nil {
			return nil, fmt.Errorf("decode room %s: %w", code, err)
		}
		if err := mutate(&r); err != nil {
			out = r
			return nil, err
		}
		out = r
		applied = true
		return json.Marshal(r)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, ErrRoomNotFound
	}
	if err != nil {
		if errors.Is(err, ErrNotHost) || errors.Is(err, ErrWrongState) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: update room: %v", ErrSync, err)
	}
	return &out, applied, nil
}

func (s *Service) putPlayer(ctx context.Context, code string, p *models.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player: %w", err)
	}
	if err := s.store.Set(ctx, playersCollection(code), p.ID, data); err != nil {
		return fmt.Errorf("%w: write player: %v", ErrSync, err)
	}
	return nil
}

// finishSession notifies finishers with the final ranked roster. Best
// effort and off the caller's path; failures are logged and dropped.
func (s *Service) finishSession(code string) {
	if len(s.finishers) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r, err := s.Room(ctx, code)
		if err != nil {
			s.log.WithField("room", code).WithError(err).Warn("finisher: room read failed")
			return
		}
		players, err := s.Players(ctx, code)
		if err != nil {
			s.log.WithField("room", code).WithError(err).Warn("finisher: roster read failed")
			return
		}
		ranked := Scoreboard(players)
		for _, f := range s.finishers {
			if err := f.SessionFinished(ctx, r, ranked); err != nil {
				s.log.WithField("room", code).WithError(err).Warn("session finisher failed")
			}
		}
	}()
}
