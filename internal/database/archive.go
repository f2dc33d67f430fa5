// internal/database/archive.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizroyale/quizroyale/internal/models"
)

// Archive writes one row per session plus one per ranked player when a room
// finishes. It implements room.Finisher.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wraps an already-connected pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// SessionFinished upserts the session row and its per-player results in one
// transaction. Rebattles of the same room produce a new session row keyed by
// (code, finished_at).
func (a *Archive) SessionFinished(ctx context.Context, r *models.Room, ranked []*models.Player) error {
	finishedAt := time.Now().UTC()
	err := pgx.BeginTxFunc(ctx, a.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var sessionID int64
		insertSession := `
			INSERT INTO sessions (room_code, host_id, quiz_title, question_count, finished_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		if err := tx.QueryRow(ctx, insertSession,
			r.Code, r.HostID, r.Quiz.Title, len(r.Quiz.Questions), finishedAt,
		).Scan(&sessionID); err != nil {
			return err
		}

		insertResult := `
			INSERT INTO session_results (session_id, player_id, player_name, score, streak, rank)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, player_id)
			DO UPDATE SET score=$4, streak=$5, rank=$6
		`
		for rank, p := range ranked {
			if _, err := tx.Exec(ctx, insertResult,
				sessionID, p.ID, p.Name, p.Score, p.Streak, rank+1,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive session %s: %w", r.Code, err)
	}
	return nil
}
