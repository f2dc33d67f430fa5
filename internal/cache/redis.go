// internal/cache/redis.go

// Package cache publishes completed-session records to a Redis queue for a
// downstream stats consumer. Like the Postgres archive it is best effort
// and never blocks the session protocol.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizroyale/quizroyale/internal/models"
)

// DefaultQueueName is the Redis list completed sessions are pushed onto.
const DefaultQueueName = "quizroyale_sessions"

// SessionRecord is the queue payload for one finished session.
type SessionRecord struct {
	RoomCode      string         `json:"room_code"`
	HostID        string         `json:"host_id"`
	QuizTitle     string         `json:"quiz_title,omitempty"`
	QuestionCount int            `json:"question_count"`
	Results       []PlayerResult `json:"results"`
	FinishedAt    int64          `json:"finished_at"`
}

// PlayerResult is one player's final line in a SessionRecord.
type PlayerResult struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Streak   int    `json:"streak"`
	Rank     int    `json:"rank"`
}

// Connect initializes a Redis client from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func Connect(ctx context.Context) (*redis.Client, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Queue pushes finished sessions onto the Redis list. It implements
// room.Finisher.
type Queue struct {
	rdb *redis.Client
}

// NewQueue wraps an already-connected client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// SessionFinished serializes the session outcome and RPUSHes it onto the
// queue named by SESSION_QUEUE_NAME (or the default).
func (q *Queue) SessionFinished(ctx context.Context, r *models.Room, ranked []*models.Player) error {
	record := SessionRecord{
		RoomCode:      r.Code,
		HostID:        r.HostID,
		QuizTitle:     r.Quiz.Title,
		QuestionCount: len(r.Quiz.Questions),
		FinishedAt:    time.Now().UnixMilli(),
	}
	for rank, p := range ranked {
		record.Results = append(record.Results, PlayerResult{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
			Streak:   p.Streak,
			Rank:     rank + 1,
		})
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal SessionRecord: %w", err)
	}
	queueName := getEnv("SESSION_QUEUE_NAME", DefaultQueueName)
	if err := q.rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("RPush to Redis list %q: %w", queueName, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
