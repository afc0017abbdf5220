package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/logger"
)

const (
	rerankDocPreviewChars = 500
	rerankMaxTokens       = 500
)

var scoresArrayRe = regexp.MustCompile(`\[[\d\s.,]+\]`)

// LLMCaller is the completion surface the reranker needs.
type LLMCaller interface {
	Generate(ctx context.Context, req llms.GenerateRequest) (*llms.Completion, error)
}

// ChatCompletionsReranker scores candidates with a prompt against an
// OpenAI-compatible completions endpoint. The final score blends the
// retrieval score with the model's relevance judgment.
type ChatCompletionsReranker struct {
	llm   LLMCaller
	model string
}

func NewChatCompletionsReranker(llm LLMCaller, model string) *ChatCompletionsReranker {
	return &ChatCompletionsReranker{llm: llm, model: model}
}

func (r *ChatCompletionsReranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk, topK int) ([]RetrievedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(chunks) {
		topK = len(chunks)
	}

	completion, err := r.llm.Generate(ctx, llms.GenerateRequest{
		Model: r.model,
		Messages: []llms.Message{
			{Role: "user", Content: rerankPrompt(query, chunks)},
		},
		Temperature: 0,
		MaxTokens:   rerankMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	scores := parseScores(completion.Content)
	if len(scores) != len(chunks) {
		return nil, apperr.Newf(apperr.CodeProviderError,
			"reranker returned %d scores for %d documents", len(scores), len(chunks))
	}

	reranked := make([]RetrievedChunk, len(chunks))
	for i, chunk := range chunks {
		chunk.RerankScore = scores[i]
		chunk.Score = chunk.Score*0.3 + scores[i]*0.7
		reranked[i] = chunk
	}
	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	logger.GetLogger().Debug("rerank complete", "documents", len(chunks), "top_k", topK)
	return reranked[:topK], nil
}

func rerankPrompt(query string, chunks []RetrievedChunk) string {
	var docs strings.Builder
	for i, chunk := range chunks {
		text := chunk.Text
		if len(text) > rerankDocPreviewChars {
			text = text[:rerankDocPreviewChars] + "..."
		}
		fmt.Fprintf(&docs, "Document %d:\n%s\n\n", i+1, text)
	}

	return fmt.Sprintf(`Ты - эксперт по оценке релевантности документов к запросу.

Запрос: %s

Документы для оценки:
%s
Оцени релевантность каждого документа к запросу по шкале от 0.0 до 1.0, где:
- 1.0 = полностью релевантен
- 0.5 = частично релевантен
- 0.0 = не релевантен

Верни только JSON массив с оценками в том же порядке, что и документы.
Формат: [0.95, 0.72, 0.45, ...]

Оценки:`, query, docs.String())
}

// parseScores pulls a JSON score array out of model output, tolerating
// surrounding prose. Scores clamp to [0, 1].
func parseScores(content string) []float64 {
	match := scoresArrayRe.FindString(content)
	if match == "" {
		return nil
	}
	var scores []float64
	if err := json.Unmarshal([]byte(match), &scores); err != nil {
		return nil
	}
	for i, score := range scores {
		if score < 0 {
			scores[i] = 0
		} else if score > 1 {
			scores[i] = 1
		}
	}
	return scores
}
