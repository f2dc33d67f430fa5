// internal/room/service_test.go
package room

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizroyale/quizroyale/internal/models"
	"github.com/quizroyale/quizroyale/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testQuiz(questions int) *models.Quiz {
	q := &models.Quiz{Title: "Capitals"}
	for i := 0; i < questions; i++ {
		q.Questions = append(q.Questions, models.Question{
			Text:    "Capital of France?",
			Options: []string{"Paris", "Lyon", "Nice", "Lille"},
			Correct: 0,
		})
	}
	return q
}

func newTestService(t *testing.T, finishers ...Finisher) *Service {
	t.Helper()
	return NewService(store.NewMemory(), testLogger(), finishers...)
}

// correctIndex returns the right option for a question after shuffling.
func correctIndex(r *models.Room, question int) int {
	return r.Quiz.Questions[question].Correct
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	r, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(3))
	require.NoError(t, err)
	assert.Len(t, r.Code, 6)
	assert.Equal(t, models.StateLobby, r.State)
	assert.Equal(t, "host-1", r.HostID)
	assert.Zero(t, r.QuestionStart)
	assert.Empty(t, r.Answered)

	players, err := svc.Players(ctx, r.Code)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.True(t, players[0].IsHost)
	assert.Equal(t, "Ada", players[0].Name)
}

func TestCreateRoomRejectsBadQuiz(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.CreateRoom(ctx, "host-1", "Ada", &models.Quiz{})
	require.ErrorIs(t, err, ErrInvalidQuiz)

	_, err = svc.CreateRoom(ctx, "host-1", "Ada", &models.Quiz{
		Questions: []models.Question{{Text: "?", Options: []string{"only"}, Correct: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuiz)
}

func TestCreateRoomRequiresIdentity(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateRoom(context.Background(), "", "Ada", testQuiz(1))
	require.ErrorIs(t, err, ErrAuthPending)
}

func TestJoinRoom(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	r, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)

	// Codes are matched case-insensitively.
	p, err := svc.JoinRoom(ctx, " "+NormalizeCode(r.Code)+" ", "player-1", "Grace")
	require.NoError(t, err)
	assert.False(t, p.IsHost)

	// Joining again with the same identity overwrites, never duplicates.
	_, err = svc.JoinRoom(ctx, r.Code, "player-1", "Grace H")
	require.NoError(t, err)
	players, err := svc.Players(ctx, r.Code)
	require.NoError(t, err)
	assert.Len(t, players, 2)

	// The host rejoining keeps the host flag.
	hp, err := svc.JoinRoom(ctx, r.Code, "host-1", "Ada")
	require.NoError(t, err)
	assert.True(t, hp.IsHost)

	_, err = svc.JoinRoom(ctx, "ZZZZZZ", "player-2", "Alan")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomLobbyOnly(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	r, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, r.Code, "host-1")
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, r.Code, "late-1", "Latecomer")
	require.ErrorIs(t, err, ErrWrongState)
}

func TestStartSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	r, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)

	_, err = svc.StartSession(ctx, r.Code, "player-1")
	require.ErrorIs(t, err, ErrNotHost)
	unchanged, err := svc.Room(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.StateLobby, unchanged.State)

	started, err := svc.StartSession(ctx, r.Code, "host-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePlaying, started.State)
	assert.Equal(t, 0, started.CurrentQuestion)
	assert.NotZero(t, started.QuestionStart)
	assert.Empty(t, started.Answered)

	_, err = svc.StartSession(ctx, r.Code, "host-1")
	require.ErrorIs(t, err, ErrWrongState)
}

func TestSubmitAnswerScoring(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, created.Code, "player-1", "Grace")
	require.NoError(t, err)
	r, err := svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	// Instant correct answer: full speed bonus, streak starts at 1.
	res, err := svc.SubmitAnswer(ctx, r.Code, "player-1", 0, correctIndex(r, 0), r.QuestionStart)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 150, res.Points)
	assert.Equal(t, 1, res.Streak)
	assert.False(t, res.AlreadyScored)
	assert.False(t, res.Advanced, "half the roster has not answered yet")

	// Resubmitting the same question is a no-op.
	again, err := svc.SubmitAnswer(ctx, r.Code, "player-1", 0, correctIndex(r, 0), r.QuestionStart)
	require.NoError(t, err)
	assert.True(t, again.AlreadyScored)
	assert.Zero(t, again.Points)

	players, err := svc.Players(ctx, r.Code)
	require.NoError(t, err)
	for _, p := range players {
		if p.ID == "player-1" {
			assert.Equal(t, 150, p.Score, "resubmission must not double-score")
			assert.Equal(t, 1, p.Streak)
		}
	}

	// Host answers wrong half-way through the window: zero points, roster is
	// now fully answered so the room advances.
	wrong := (correctIndex(r, 0) + 1) % len(r.Quiz.Questions[0].Options)
	res, err = svc.SubmitAnswer(ctx, r.Code, "host-1", 0, wrong, r.QuestionStart+5000)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Zero(t, res.Points)
	assert.Zero(t, res.Streak)
	assert.True(t, res.Advanced)
	assert.False(t, res.Finished)

	advanced, err := svc.Room(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced.CurrentQuestion)
	assert.Empty(t, advanced.Answered, "answered set resets on every index change")
	assert.Greater(t, advanced.QuestionStart, int64(0))
}

func TestSubmitAnswerGuards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)

	// Lobby rooms accept no answers.
	_, err = svc.SubmitAnswer(ctx, created.Code, "host-1", 0, 0, 0)
	require.ErrorIs(t, err, ErrWrongState)

	r, err := svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	// Submissions for a question the room is not on are rejected.
	_, err = svc.SubmitAnswer(ctx, r.Code, "host-1", 1, 0, r.QuestionStart)
	require.ErrorIs(t, err, ErrWrongState)

	// An out-of-range selection counts as incorrect, not an error.
	res, err := svc.SubmitAnswer(ctx, r.Code, "host-1", 0, -1, r.QuestionStart)
	require.NoError(t, err)
	assert.False(t, res.Correct)

	// Unknown identities have no player record to score.
	_, err = svc.SubmitAnswer(ctx, r.Code, "stranger", 0, 0, r.QuestionStart)
	require.Error(t, err)
}

// TestConcurrentSubmitSingleAdvance races a full roster's submissions and
// checks that the question index moves exactly once.
func TestConcurrentSubmitSingleAdvance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(2))
	require.NoError(t, err)
	ids := []string{"host-1", "player-1", "player-2", "player-3"}
	for _, id := range ids[1:] {
		_, err = svc.JoinRoom(ctx, created.Code, id, "P "+id)
		require.NoError(t, err)
	}
	r, err := svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	advanced := make(chan bool, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(identity string) {
			defer wg.Done()
			res, err := svc.SubmitAnswer(ctx, r.Code, identity, 0, correctIndex(r, 0), r.QuestionStart)
			if assert.NoError(t, err) {
				advanced <- res.Advanced
			}
		}(id)
	}
	wg.Wait()
	close(advanced)

	count := 0
	for a := range advanced {
		if a {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one submission observes the advance")

	after, err := svc.Room(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, after.CurrentQuestion)
	assert.Equal(t, models.StatePlaying, after.State)
}

func TestAdvanceQuestion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(3))
	require.NoError(t, err)

	_, err = svc.AdvanceQuestion(ctx, created.Code, "host-1")
	require.ErrorIs(t, err, ErrWrongState, "cannot advance from the lobby")

	_, err = svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	_, err = svc.AdvanceQuestion(ctx, created.Code, "player-1")
	require.ErrorIs(t, err, ErrNotHost)

	r, err := svc.AdvanceQuestion(ctx, created.Code, "host-1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.CurrentQuestion)

	r, err = svc.AdvanceQuestion(ctx, created.Code, "host-1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.CurrentQuestion)

	// Advancing past the last question finishes the session.
	r, err = svc.AdvanceQuestion(ctx, created.Code, "host-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFinished, r.State)

	_, err = svc.AdvanceQuestion(ctx, created.Code, "host-1")
	require.ErrorIs(t, err, ErrWrongState)
}

type captureFinisher struct {
	done chan []*models.Player
}

func (c *captureFinisher) SessionFinished(ctx context.Context, r *models.Room, ranked []*models.Player) error {
	c.done <- ranked
	return nil
}

// TestFinisherRunsOnFinish drives a one-question session to completion and
// checks the finisher receives the ranked roster.
func TestFinisherRunsOnFinish(t *testing.T) {
	ctx := context.Background()
	fin := &captureFinisher{done: make(chan []*models.Player, 1)}
	svc := newTestService(t, fin)

	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(1))
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, created.Code, "player-1", "Grace")
	require.NoError(t, err)
	r, err := svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	res, err := svc.SubmitAnswer(ctx, r.Code, "player-1", 0, correctIndex(r, 0), r.QuestionStart)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	res, err = svc.SubmitAnswer(ctx, r.Code, "host-1", 0, correctIndex(r, 0), r.QuestionStart+2000)
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.True(t, res.Finished)

	select {
	case ranked := <-fin.done:
		require.Len(t, ranked, 2)
		assert.Equal(t, "player-1", ranked[0].ID, "faster correct answer ranks first")
	case <-time.After(2 * time.Second):
		t.Fatal("finisher never ran")
	}

	after, err := svc.Room(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.StateFinished, after.State)
}

func TestRebattle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(1))
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, created.Code, "player-1", "Grace")
	require.NoError(t, err)
	r, err := svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(ctx, r.Code, "player-1", 0, correctIndex(r, 0), r.QuestionStart)
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(ctx, r.Code, "host-1", 0, correctIndex(r, 0), r.QuestionStart)
	require.NoError(t, err)

	_, err = svc.Rebattle(ctx, created.Code, "player-1", nil)
	require.ErrorIs(t, err, ErrNotHost)

	reset, err := svc.Rebattle(ctx, created.Code, "host-1", testQuiz(3))
	require.NoError(t, err)
	assert.Equal(t, models.StateLobby, reset.State)
	assert.Equal(t, 0, reset.CurrentQuestion)
	assert.Zero(t, reset.QuestionStart)
	assert.Empty(t, reset.Answered)
	assert.Len(t, reset.Quiz.Questions, 3, "new quiz replaces the old one")

	players, err := svc.Players(ctx, created.Code)
	require.NoError(t, err)
	require.Len(t, players, 2)
	for _, p := range players {
		assert.Zero(t, p.Score, "player %s score survives rebattle", p.ID)
		assert.Zero(t, p.Streak)
		assert.Zero(t, p.Progress)
		assert.Zero(t, p.LastAnswer)
	}
	hostStillHost := false
	for _, p := range players {
		if p.ID == "host-1" && p.IsHost {
			hostStillHost = true
		}
	}
	assert.True(t, hostStillHost)
}

func TestLeaveRoom(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(1))
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, created.Code, "player-1", "Grace")
	require.NoError(t, err)

	require.NoError(t, svc.LeaveRoom(ctx, created.Code, "player-1", false))
	players, err := svc.Players(ctx, created.Code)
	require.NoError(t, err)
	assert.Len(t, players, 1)

	// Host teardown removes the room, its roster and its chat log.
	require.NoError(t, svc.LeaveRoom(ctx, created.Code, "host-1", true))
	_, err = svc.Room(ctx, created.Code)
	require.ErrorIs(t, err, ErrRoomNotFound)
	players, err = svc.Players(ctx, created.Code)
	require.NoError(t, err)
	assert.Empty(t, players)
}

func TestLeaveRoomOrphansWithoutDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(1))
	require.NoError(t, err)

	require.NoError(t, svc.LeaveRoom(ctx, created.Code, "host-1", false))
	r, err := svc.Room(ctx, created.Code)
	require.NoError(t, err, "room stays alive when the host leaves without deleting")
	assert.Equal(t, models.StateLobby, r.State)
}

func TestWatchRoomStreamsTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	created, err := svc.CreateRoom(ctx, "host-1", "Ada", testQuiz(1))
	require.NoError(t, err)

	w, err := svc.WatchRoom(ctx, created.Code)
	require.NoError(t, err)
	defer w.Cancel()

	// Initial snapshot arrives without any writes.
	select {
	case snap := <-w.C:
		assert.True(t, snap.Exists)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = svc.StartSession(ctx, created.Code, "host-1")
	require.NoError(t, err)

	select {
	case snap := <-w.C:
		assert.True(t, snap.Exists)
		assert.Contains(t, string(snap.Data), `"state":"playing"`)
	case <-time.After(time.Second):
		t.Fatal("start transition never surfaced")
	}
}

func TestScoreboardOrdering(t *testing.T) {
	players := []*models.Player{
		{ID: "a", Score: 100, Streak: 2, LastAnswer: 50},
		{ID: "b", Score: 300, Streak: 0, LastAnswer: 10},
		{ID: "c", Score: 100, Streak: 2, LastAnswer: 20},
		{ID: "d", Score: 100, Streak: 5, LastAnswer: 99},
	}
	ranked := Scoreboard(players)

	var order []string
	for _, p := range ranked {
		order = append(order, p.ID)
	}
	// Score first, then streak, then earlier final answer.
	assert.Equal(t, []string{"b", "d", "c", "a"}, order)
	assert.Equal(t, "a", players[0].ID, "input slice is not reordered")
}

func TestNewCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code := NewCode()
		require.Len(t, code, 6)
		for _, c := range code {
			assert.NotContains(t, "0O1I", string(c), "ambiguous characters are excluded")
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 150, "codes should rarely collide")
}
