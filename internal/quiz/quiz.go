// internal/quiz/quiz.go

// Package quiz validates uploaded quiz payloads and applies the one-time
// option shuffle a room performs at creation.
package quiz

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/quizroyale/quizroyale/internal/models"
)

// Parse decodes and validates an uploaded quiz payload.
func Parse(data []byte) (*models.Quiz, error) {
	var q models.Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("decode quiz: %w", err)
	}
	if err := Validate(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Validate checks the structural invariants of a quiz: at least one
// question, every question with at least two options, and a correct index
// that points into them.
func Validate(q *models.Quiz) error {
	if q == nil || len(q.Questions) == 0 {
		return fmt.Errorf("quiz has no questions")
	}
	for i, question := range q.Questions {
		if len(question.Options) < 2 {
			return fmt.Errorf("question %d needs at least two options", i)
		}
		if question.Correct < 0 || question.Correct >= len(question.Options) {
			return fmt.Errorf("question %d correct index %d out of range", i, question.Correct)
		}
	}
	return nil
}

// Shuffle permutes each question's options once, re-pointing the correct
// index to follow its answer through the permutation.
func Shuffle(q *models.Quiz) {
	for i := range q.Questions {
		question := &q.Questions[i]
		answer := question.Options[question.Correct]

		shuffled := make([]string, len(question.Options))
		copy(shuffled, question.Options)
		rand.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		question.Options = shuffled
		for idx, opt := range shuffled {
			if opt == answer {
				question.Correct = idx
				break
			}
		}
	}
}
