// internal/models/player.go
package models

// Player is one participant's record in a room. There is exactly one record
// per (room, identity); joining again overwrites it in place.
type Player struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`

	// Streak counts consecutive correct answers; any incorrect answer
	// resets it to zero.
	Streak int `json:"streak"`

	// Progress is the highest question index answered plus one. The scoring
	// transaction uses it as its idempotency guard.
	Progress int `json:"progress"`

	IsHost bool `json:"isHost"`

	// LastAnswer is the unix-ms timestamp of the most recent submission,
	// used as the final ranking tiebreak (earlier wins).
	LastAnswer int64 `json:"lastAnswerTime"`
}

// ResetForRebattle zeroes the per-session counters while preserving
// identity, name and the host flag.
func (p *Player) ResetForRebattle() {
	p.Score = 0
	p.Streak = 0
	p.Progress = 0
	p.LastAnswer = 0
}
