package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/rag"
	"github.com/smartrag/smartrag/pkg/search"
)

func TestSchemaForReasoning(t *testing.T) {
	schema := SchemaFor(&Reasoning{})

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, field := range []string{
		"reasoning_steps", "current_situation", "plan_status",
		"enough_data", "remaining_steps", "task_completed",
	} {
		assert.Contains(t, props, field)
	}

	required, ok := schema["required"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, required, "enough_data")

	assert.NotContains(t, schema, "$schema")
	assert.NotContains(t, schema, "$defs")
}

func TestDecodeArgsWeakTyping(t *testing.T) {
	var params ragArgs
	err := DecodeArgs(map[string]interface{}{
		"reasoning":   "need policy details",
		"query":       "сроки отпуска",
		"max_results": float64(3), // JSON numbers arrive as float64
	}, &params)

	require.NoError(t, err)
	assert.Equal(t, "сроки отпуска", params.Query)
	assert.Equal(t, 3, params.MaxResults)
}

func TestDecodeArgsInvalid(t *testing.T) {
	var params ragArgs
	err := DecodeArgs(map[string]interface{}{
		"query": map[string]interface{}{"nested": true},
	}, &params)

	require.Error(t, err)
	assert.Equal(t, apperr.CodeBadRequest, apperr.CodeOf(err))
}

func TestRegistryExecute(t *testing.T) {
	registry, err := NewRegistry(NewReasoningTool(), NewFinalAnswerTool())
	require.NoError(t, err)

	assert.Equal(t, []string{ToolNameReasoning, ToolNameFinalAnswer}, registry.Names())

	defs := registry.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, ToolNameReasoning, defs[0].Name)

	result, err := registry.ExecuteTool(context.Background(), ToolNameFinalAnswer, map[string]interface{}{
		"answer":     "Отпуск согласован.",
		"chat_title": "Вопрос про отпуск",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Отпуск согласован.", result.Content)

	answer, ok := result.Metadata["final_answer"].(FinalAnswer)
	require.True(t, ok)
	assert.Equal(t, "Вопрос про отпуск", answer.ChatTitle)
}

func TestRegistryUnknownTool(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	_, err = registry.ExecuteTool(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAgentExecutionError, apperr.CodeOf(err))
}

func TestReasoningNextStep(t *testing.T) {
	r := Reasoning{RemainingSteps: []string{"search the knowledge base", "draft the answer"}}
	assert.Equal(t, "search the knowledge base", r.NextStep())

	assert.Equal(t, "Completing", Reasoning{}.NextStep())
}

func TestReasoningToolExecute(t *testing.T) {
	tool := NewReasoningTool()

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"reasoning_steps":   []interface{}{"checked the request", "planned a search"},
		"current_situation": "nothing retrieved yet",
		"plan_status":       "on track",
		"enough_data":       false,
		"remaining_steps":   []interface{}{"search documents"},
		"task_completed":    false,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Content, "Next step: search documents")

	reasoning, ok := result.Metadata["reasoning"].(Reasoning)
	require.True(t, ok)
	assert.False(t, reasoning.EnoughData)
	assert.Len(t, reasoning.ReasoningSteps, 2)
}

type stubProvider struct {
	sources []search.Source
	err     error

	lastQuery      string
	lastMaxResults int
	lastRaw        bool
}

func (p *stubProvider) Search(_ context.Context, query string, maxResults int, includeRaw bool) ([]search.Source, error) {
	p.lastQuery = query
	p.lastMaxResults = maxResults
	p.lastRaw = includeRaw
	return p.sources, p.err
}

func (p *stubProvider) Extract(context.Context, []string) ([]search.Source, error) {
	return nil, errors.New("not implemented")
}

func TestWebSearchToolExecute(t *testing.T) {
	provider := &stubProvider{sources: []search.Source{
		{Number: 1, Title: "Labor code", URL: "https://example.com/labor", Snippet: "vacation rules", FullContent: strings.Repeat("x", 5000)},
	}}
	tool := NewWebSearchTool(provider)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"reasoning": "need current regulations",
		"query":     "annual leave duration",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, "annual leave duration", provider.lastQuery)
	assert.Equal(t, defaultSearchResults, provider.lastMaxResults)
	assert.True(t, provider.lastRaw)

	assert.Contains(t, result.Content, "[1] Labor code")
	assert.Contains(t, result.Content, "https://example.com/labor")
	// full content truncated to the limit plus ellipsis
	assert.Contains(t, result.Content, strings.Repeat("x", defaultContentLimit)+"...")
	assert.NotContains(t, result.Content, strings.Repeat("x", defaultContentLimit+1))
}

func TestWebSearchToolMissingQuery(t *testing.T) {
	tool := NewWebSearchTool(&stubProvider{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"reasoning": "no query given",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ToolNameWebSearch, result.ToolName)
}

type stubRetriever struct {
	chunks []rag.RetrievedChunk
	err    error

	lastQuery     string
	lastTopK      int
	lastDocuments []string
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, topK int, documentIDs []string) ([]rag.RetrievedChunk, error) {
	r.lastQuery = query
	r.lastTopK = topK
	r.lastDocuments = documentIDs
	return r.chunks, r.err
}

func TestRAGToolExecute(t *testing.T) {
	retriever := &stubRetriever{chunks: []rag.RetrievedChunk{
		{
			ID:    "c1",
			Text:  "Отпуск составляет 28 календарных дней.",
			Score: 0.91,
			Metadata: map[string]interface{}{
				"document_name": "Регламент отпусков",
				"section_title": "Сроки",
			},
		},
	}}
	tool := NewRAGTool(retriever)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"reasoning":   "the policy lives in the knowledge base",
		"query":       "сколько дней отпуска",
		"document_id": "doc-42",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, "сколько дней отпуска", retriever.lastQuery)
	assert.Equal(t, defaultRAGResults, retriever.lastTopK)
	assert.Equal(t, []string{"doc-42"}, retriever.lastDocuments)

	assert.Contains(t, result.Content, "Регламент отпусков")
	assert.Contains(t, result.Content, "28 календарных дней")
}

func TestRAGToolClampsMaxResults(t *testing.T) {
	retriever := &stubRetriever{}
	tool := NewRAGTool(retriever)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":       "regulations",
		"max_results": 50,
	})
	require.NoError(t, err)
	assert.Equal(t, defaultRAGResults, retriever.lastTopK)
}

func TestRAGToolDocumentScope(t *testing.T) {
	retriever := &stubRetriever{}
	tool := NewRAGTool(retriever, WithDocumentScope([]string{"irv-1", "irv-2"}))

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "regulations",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"irv-1", "irv-2"}, retriever.lastDocuments)

	// an explicit document from the model overrides the request scope
	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"query":       "regulations",
		"document_id": "irv-9",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"irv-9"}, retriever.lastDocuments)
}

func TestRAGToolNoResults(t *testing.T) {
	tool := NewRAGTool(&stubRetriever{})

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "nothing here",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Content, "No relevant fragments")
}

func TestToolResultTiming(t *testing.T) {
	tool := NewFinalAnswerTool()

	result, err := tool.Execute(context.Background(), map[string]interface{}{"answer": "done"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ExecutionTime, time.Duration(0))
}
