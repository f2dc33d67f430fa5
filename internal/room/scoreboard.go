// internal/room/scoreboard.go
package room

import (
	"sort"

	"github.com/quizroyale/quizroyale/internal/models"
)

// Scoreboard returns the roster in rank order. The ordering is always
// recomputed, never stored: score descending, then streak descending, then
// earlier last answer ranks higher.
func Scoreboard(players []*models.Player) []*models.Player {
	ranked := make([]*models.Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Streak != b.Streak {
			return a.Streak > b.Streak
		}
		return a.LastAnswer < b.LastAnswer
	})
	return ranked
}
