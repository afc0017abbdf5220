package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	short := EstimateTokens([]Message{{Role: "user", Content: "привет"}})
	long := EstimateTokens([]Message{
		{Role: "system", Content: "Ты — помощник по кадровым вопросам."},
		{Role: "user", Content: "Сколько дней отпуска положено в первый год работы?"},
	})

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short, "more content means more tokens")
}

func TestEstimateUsage(t *testing.T) {
	usage := EstimateUsage([]Message{{Role: "user", Content: "вопрос"}}, "ответ модели")

	assert.Greater(t, usage.PromptTokens, 0)
	assert.Greater(t, usage.CompletionTokens, 0)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}
