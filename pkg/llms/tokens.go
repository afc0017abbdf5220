package llms

import (
	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens approximates the prompt token count of a conversation
// for step logs and budgeting when the provider omits usage data. Falls
// back to a bytes/4 heuristic if the encoding is unavailable offline.
func EstimateTokens(messages []Message) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		total := 0
		for _, msg := range messages {
			total += len(msg.Content) / 4
		}
		return total
	}

	total := 0
	for _, msg := range messages {
		// 4 tokens of per-message framing, matching the chat format overhead.
		total += 4 + len(enc.Encode(msg.Content, nil, nil))
	}
	return total
}

// EstimateUsage fills the usage counters from local estimates. Some
// OpenAI-compatible endpoints omit the usage block entirely.
func EstimateUsage(messages []Message, output string) Usage {
	prompt := EstimateTokens(messages)
	completion := EstimateTokens([]Message{{Content: output}})
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
