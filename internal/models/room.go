// internal/models/room.go
package models

// RoomState is the lifecycle state of a trivia room.
type RoomState string

const (
	StateLobby    RoomState = "lobby"
	StatePlaying  RoomState = "playing"
	StateFinished RoomState = "finished"
)

// Question is a single quiz question. Correct always indexes into Options;
// when options are shuffled at room creation the index is re-pointed.
type Question struct {
	Text        string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz is the validated payload a host uploads to seed a room.
type Quiz struct {
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Room is the root document of one trivia session. Player records and the
// answered set live and die with it.
type Room struct {
	Code     string    `json:"roomId"`
	HostID   string    `json:"hostId"`
	HostName string    `json:"hostName"`
	Quiz     Quiz      `json:"quiz"`
	State    RoomState `json:"state"`

	// CurrentQuestion is non-decreasing within one playing run; only
	// StartSession and Rebattle reset it to zero.
	CurrentQuestion int `json:"currentQuestionIndex"`

	// QuestionStart is the unix-ms timestamp the current question was shown,
	// 0 while the room is in the lobby.
	QuestionStart int64 `json:"questionStartTime"`

	// Answered holds the identities that have answered the current question.
	// It is cleared on every question-index change and on entering playing.
	Answered []string `json:"playersAnswered"`

	CreatedAt int64 `json:"createdAt"`
}

// HasAnswered reports whether identity is in the answered set.
func (r *Room) HasAnswered(identity string) bool {
	for _, id := range r.Answered {
		if id == identity {
			return true
		}
	}
	return false
}

// MarkAnswered adds identity to the answered set. The insert is idempotent;
// it reports whether the set actually grew.
func (r *Room) MarkAnswered(identity string) bool {
	if r.HasAnswered(identity) {
		return false
	}
	r.Answered = append(r.Answered, identity)
	return true
}

// LastQuestion reports whether the current question is the final one.
func (r *Room) LastQuestion() bool {
	return r.CurrentQuestion >= len(r.Quiz.Questions)-1
}
