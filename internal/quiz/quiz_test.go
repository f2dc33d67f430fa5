// internal/quiz/quiz_test.go
package quiz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizroyale/quizroyale/internal/models"
)

func sampleQuiz() *models.Quiz {
	return &models.Quiz{
		Questions: []models.Question{
			{Text: "capital of France?", Options: []string{"Paris", "Lyon", "Nice", "Lille"}, Correct: 0},
			{Text: "2+2?", Options: []string{"3", "4"}, Correct: 1, Explanation: "basic arithmetic"},
		},
	}
}

func TestParseValid(t *testing.T) {
	q, err := Parse([]byte(`{"questions":[{"question":"q","options":["a","b"],"correct":1}]}`))
	require.NoError(t, err)
	require.Len(t, q.Questions, 1)
	assert.Equal(t, 1, q.Questions[0].Correct)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty questions":     `{"questions":[]}`,
		"missing questions":   `{}`,
		"non-array options":   `{"questions":[{"question":"q","options":"ab","correct":0}]}`,
		"single option":       `{"questions":[{"question":"q","options":["a"],"correct":0}]}`,
		"correct out of range": `{"questions":[{"question":"q","options":["a","b"],"correct":5}]}`,
		"negative correct":    `{"questions":[{"question":"q","options":["a","b"],"correct":-1}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestShuffleKeepsCorrectAnswer(t *testing.T) {
	for i := 0; i < 50; i++ {
		q := sampleQuiz()
		Shuffle(q)
		require.NoError(t, Validate(q))
		assert.Equal(t, "Paris", q.Questions[0].Options[q.Questions[0].Correct])
		assert.Equal(t, "4", q.Questions[1].Options[q.Questions[1].Correct])
		assert.ElementsMatch(t, []string{"Paris", "Lyon", "Nice", "Lille"}, q.Questions[0].Options)
	}
}
