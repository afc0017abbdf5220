package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/config"
	"github.com/smartrag/smartrag/pkg/embedders"
	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/platform"
	"github.com/smartrag/smartrag/pkg/search"
	"github.com/smartrag/smartrag/pkg/tools"
)

type scriptedProvider struct {
	completions []*llms.Completion
	errs        []error
	requests    []llms.GenerateRequest
}

func (p *scriptedProvider) Generate(_ context.Context, req llms.GenerateRequest) (*llms.Completion, error) {
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.completions) {
		return p.completions[i], nil
	}
	return nil, apperr.New(apperr.CodeLLMAPIError, "script exhausted")
}

type fakeTranscripts struct {
	history []platform.ChatMessage
	saved   *platform.SaveRequest
	saveErr error
}

func (f *fakeTranscripts) Load(context.Context, string) ([]platform.ChatMessage, bool) {
	return f.history, f.history != nil
}

func (f *fakeTranscripts) Save(_ context.Context, req platform.SaveRequest) (*platform.ObjectVersion, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = &req
	return &platform.ObjectVersion{ID: "irv-new", Name: "Диалог#20260825120000"}, nil
}

type fakeUsers struct {
	info *platform.UserInfo
	err  error
}

func (f *fakeUsers) GetCurrentUser(context.Context) (*platform.UserInfo, error) {
	return f.info, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (fakeEmbedder) Dimension() int { return 2 }

func (fakeEmbedder) ModelName() string { return "fake" }

func newService(provider *scriptedProvider) *Service {
	s := New(config.Default())
	s.llmFor = func(string, string) LLMProvider { return provider }
	s.searchFor = func(string, string) search.Provider { return search.NewClient("key", "") }
	s.embedderFor = func(string, string, string) (embedders.EmbedderProvider, error) {
		return fakeEmbedder{}, nil
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestGenerateMissingCurrentMessage(t *testing.T) {
	s := newService(&scriptedProvider{})

	_, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "  "}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMissingCurrentMessage, apperr.CodeOf(err))
}

func TestGenerateSingleShotPlainText(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{{Content: "Привет! Чем помочь?"}}}
	s := newService(provider)
	transcripts := &fakeTranscripts{}

	resp, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "Привет",
		SystemPrompt:   "Ты — помощник.",
		IRVID:          "doc-1",
	}, Session{Transcripts: transcripts})
	require.NoError(t, err)

	assert.Equal(t, "Привет! Чем помочь?", resp["answer"])

	descriptor, ok := resp["chat_history"].(*ChatHistoryDescriptor)
	require.True(t, ok)
	assert.Equal(t, "irv-new", descriptor.IRVID)

	require.NotNil(t, transcripts.saved)
	require.Len(t, transcripts.saved.Messages, 2)
	assert.Equal(t, "user", transcripts.saved.Messages[0].Role)
	assert.Equal(t, "Привет", transcripts.saved.Messages[0].Content)
	assert.Equal(t, "assistant", transcripts.saved.Messages[1].Role)

	// system prompt rides in front of the user turn
	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Messages, 2)
	assert.Equal(t, "system", provider.requests[0].Messages[0].Role)
}

func TestGenerateSingleShotStructured(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: "```json\n{\"answer\": \"28 дней\", \"chat_title\": \"Отпуск\"}\n```"},
	}}
	s := newService(provider)

	resp, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "сколько дней отпуска?"}, Session{})
	require.NoError(t, err)
	assert.Equal(t, "28 дней", resp["answer"])
	assert.Equal(t, "Отпуск", resp["chat_title"])
}

func TestGenerateSingleShotRetriesMissingAnswer(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: `{"result": "no answer key"}`},
		{Content: `{"answer": "наконец-то"}`},
	}}
	s := newService(provider)

	resp, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "вопрос"}, Session{})
	require.NoError(t, err)
	assert.Equal(t, "наконец-то", resp["answer"])
	assert.Len(t, provider.requests, 2)
}

func TestGenerateSingleShotMissingAnswerExhausted(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: `{"x": 1}`},
		{Content: `{"x": 2}`},
		{Content: `{"x": 3}`},
	}}
	s := newService(provider)

	_, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "вопрос"}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMissingAnswerField, apperr.CodeOf(err))
	assert.Len(t, provider.requests, 3)
}

func TestGenerateUserPostSubstitution(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{{Content: "ok"}}}
	s := newService(provider)
	users := &fakeUsers{info: &platform.UserInfo{ID: "u-1", Post: "ведущий инженер"}}

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "важный вопрос",
		SystemPrompt:   "Ты отвечаешь сотруднику в должности {userPost}.",
	}, Session{Users: users})
	require.NoError(t, err)

	msgs := provider.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "ведущий инженер")
	assert.NotContains(t, msgs[0].Content, "{userPost}")
	assert.Equal(t, "важный вопрос", msgs[1].Content)
}

func TestGenerateUserPostWithoutSession(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{{Content: "ok"}}}
	s := newService(provider)

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "вопрос",
		SystemPrompt:   "Должность: {userPost}.",
	}, Session{})
	require.NoError(t, err)

	// placeholder substitutes as empty when the profile is unavailable
	assert.Equal(t, "Должность: .", provider.requests[0].Messages[0].Content)
}

func TestGenerateHistoryIncluded(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{{Content: "ответ"}}}
	s := newService(provider)
	transcripts := &fakeTranscripts{history: []platform.ChatMessage{
		{Role: "user", Content: "первый вопрос"},
		{Role: "assistant", Content: "первый ответ"},
	}}

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage:   "второй вопрос",
		ChatHistoryIRVID: "irv-old",
		SystemPrompt:     "Ты — помощник.",
	}, Session{Transcripts: transcripts})
	require.NoError(t, err)

	// with prior history the system prompt is dropped
	msgs := provider.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "первый вопрос", msgs[0].Content)
	assert.Equal(t, "второй вопрос", msgs[2].Content)

	// the saved transcript carries prior turns plus the new exchange
	require.Len(t, transcripts.saved.Messages, 4)
}

func TestGenerateTranscriptFailureNonFatal(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{{Content: "ответ"}}}
	s := newService(provider)
	transcripts := &fakeTranscripts{saveErr: errors.New("platform down")}

	resp, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "вопрос"}, Session{Transcripts: transcripts})
	require.NoError(t, err)
	assert.Equal(t, "ответ", resp["answer"])
	assert.NotContains(t, resp, "chat_history")
}

func TestGenerateInternetRequiresSearchKey(t *testing.T) {
	s := newService(&scriptedProvider{})

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "погода в Москве",
		Internet:       true,
	}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationError, apperr.CodeOf(err))
	assert.Contains(t, err.Error(), "search_api_key")
}

func TestGenerateKnowledgeBaseValidation(t *testing.T) {
	s := newService(&scriptedProvider{})

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "вопрос",
		KnowledgeBase:  true,
	}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMissingVDBURL, apperr.CodeOf(err))

	_, err = s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "вопрос",
		KnowledgeBase:  true,
		VDBURL:         "http://qdrant:6333",
	}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeMissingEmbedAPIKey, apperr.CodeOf(err))

	_, err = s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "вопрос",
		KnowledgeBase:  true,
		VDBURL:         "http://qdrant:6333",
		EmbedAPIKey:    strPtr("  "),
	}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeEmptyEmbedAPIKey, apperr.CodeOf(err))
}

func TestGenerateAgentMode(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{{Name: tools.ToolNameReasoning, Args: map[string]interface{}{
			"enough_data":     true,
			"remaining_steps": []interface{}{"ответить"},
		}}}},
		{ToolCalls: []llms.ToolCall{{Name: tools.ToolNameFinalAnswer, Args: map[string]interface{}{
			"answer":       "Обеды предоставляются бесплатно.",
			"chat_title":   "Питание работников",
			"chat_summary": "Вопрос о питании",
		}}}},
	}}
	s := newService(provider)
	transcripts := &fakeTranscripts{}

	resp, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "чем кормят работников",
		KnowledgeBase:  true,
		VDBURL:         "http://qdrant:6333",
		EmbedAPIKey:    strPtr("auth-key"),
		IRVID:          "doc-7",
	}, Session{Transcripts: transcripts})
	require.NoError(t, err)
	assert.Equal(t, "Обеды предоставляются бесплатно.", resp["answer"])

	// the agent toolkit includes the rag tool
	require.NotEmpty(t, provider.requests)
	last := provider.requests[len(provider.requests)-1]
	names := make([]string, 0, len(last.Tools))
	for _, def := range last.Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, tools.ToolNameRAG)
	assert.NotContains(t, names, tools.ToolNameWebSearch)

	require.NotNil(t, transcripts.saved)
	assert.Equal(t, "Питание работников", transcripts.saved.ChatTitle)
	assert.Equal(t, "doc-7", transcripts.saved.DocumentID)
}

func TestGenerateAgentIncomplete(t *testing.T) {
	provider := &scriptedProvider{completions: []*llms.Completion{
		{ToolCalls: []llms.ToolCall{{Name: tools.ToolNameReasoning, Args: map[string]interface{}{"enough_data": true}}}},
		{ToolCalls: []llms.ToolCall{{Name: tools.ToolNameFinalAnswer, Args: map[string]interface{}{"answer": ""}}}},
	}}
	s := newService(provider)

	_, err := s.Generate(context.Background(), GenerateRequest{
		CurrentMessage: "вопрос",
		Internet:       true,
		SearchAPIKey:   "tvly-key",
	}, Session{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAgentIncomplete, apperr.CodeOf(err))
}

type switchableConfig struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (s *switchableConfig) Current() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *switchableConfig) set(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func TestConfigReloadObserved(t *testing.T) {
	strict := config.Default()
	strict.LLM.MaxRetryCount = 1
	src := &switchableConfig{cfg: strict}

	provider := &scriptedProvider{completions: []*llms.Completion{
		{Content: `{"x": 1}`},
		{Content: `{"x": 2}`},
		{Content: `{"answer": "ok"}`},
	}}
	s := New(config.Default(), WithConfigSource(src))
	s.llmFor = func(string, string) LLMProvider { return provider }

	// one attempt allowed: the missing answer field is fatal
	_, err := s.Generate(context.Background(), GenerateRequest{CurrentMessage: "вопрос"}, Session{})
	require.Error(t, err)
	assert.Len(t, provider.requests, 1)

	// a reloaded retry cap takes effect without rebuilding the service
	relaxed := config.Default()
	relaxed.LLM.MaxRetryCount = 2
	src.set(relaxed)

	_, err = s.Generate(context.Background(), GenerateRequest{CurrentMessage: "вопрос"}, Session{})
	require.NoError(t, err)
	assert.Len(t, provider.requests, 3)
}

func TestStringifyAnswer(t *testing.T) {
	assert.Equal(t, "plain", stringifyAnswer("plain"))
	assert.Equal(t, "", stringifyAnswer(nil))
	assert.Equal(t, `{"a":1}`, stringifyAnswer(map[string]interface{}{"a": 1}))
}
