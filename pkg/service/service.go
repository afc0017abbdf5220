// Package service orchestrates the request path: mode dispatch between
// single-shot generation and the agent loop, transcript persistence,
// index management and cache administration.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartrag/smartrag/pkg/agent"
	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/chunker"
	"github.com/smartrag/smartrag/pkg/config"
	"github.com/smartrag/smartrag/pkg/embedders"
	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/platform"
	"github.com/smartrag/smartrag/pkg/rag"
	"github.com/smartrag/smartrag/pkg/search"
	"github.com/smartrag/smartrag/pkg/tools"
	"github.com/smartrag/smartrag/pkg/vectordb"
)

// userPostPlaceholder in a caller-supplied system prompt is replaced
// with the calling user's job title from the platform profile. Plain
// replacement, not a format string: JSON braces in prompts survive.
const userPostPlaceholder = "{userPost}"

// Transcripts is the persistence seam for chat history.
// *platform.TranscriptStore satisfies it.
type Transcripts interface {
	Load(ctx context.Context, chatHistoryID string) ([]platform.ChatMessage, bool)
	Save(ctx context.Context, req platform.SaveRequest) (*platform.ObjectVersion, error)
}

// UserDirectory resolves the calling user's profile.
// *platform.Client satisfies it.
type UserDirectory interface {
	GetCurrentUser(ctx context.Context) (*platform.UserInfo, error)
}

// Session bundles the per-request platform collaborators. The zero
// value means the caller has no platform session: answers are still
// served, transcripts and profile lookups are skipped.
type Session struct {
	Transcripts Transcripts
	Users       UserDirectory
}

// LLMProvider is the completion seam shared by single-shot calls, the
// agent loop and the reranker.
type LLMProvider interface {
	Generate(ctx context.Context, req llms.GenerateRequest) (*llms.Completion, error)
}

// ConfigSource yields the current configuration snapshot.
// *config.Watcher satisfies it, so retrieval and retry tunables follow
// file edits without a restart.
type ConfigSource interface {
	Current() *config.Config
}

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

// Service owns the process-lifetime resources: client caches and the
// chunker. Per-request collaborators (platform client, transcripts)
// are passed into each call; tunables are re-read from the config
// source on every call.
type Service struct {
	source   ConfigSource
	llmCache *llms.ClientCache
	vdbCache *vectordb.ClientCache
	chunker  chunker.Chunker

	// factory seams for tests
	llmFor      func(apiKey, baseURL string) LLMProvider
	searchFor   func(apiKey, baseURL string) search.Provider
	embedderFor func(authKey, apiURL, model string) (embedders.EmbedderProvider, error)
}

type Option func(*Service)

// WithConfigSource swaps the static config for a live snapshot
// provider, such as the fsnotify watcher.
func WithConfigSource(src ConfigSource) Option {
	return func(s *Service) { s.source = src }
}

func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		source: staticConfig{cfg},
		// cache transports are process-lifetime; their timeouts come
		// from the startup snapshot
		llmCache: llms.NewClientCache(cfg.LLMTimeout(), cfg.LLM.MaxRetries),
		vdbCache: vectordb.NewClientCache(cfg.QdrantTimeout()),
		chunker:  chunker.New(),
	}
	s.llmFor = func(apiKey, baseURL string) LLMProvider {
		return s.llmCache.Get(apiKey, baseURL)
	}
	s.searchFor = func(apiKey, baseURL string) search.Provider {
		return search.NewClient(apiKey, baseURL)
	}
	s.embedderFor = func(authKey, apiURL, model string) (embedders.EmbedderProvider, error) {
		current := s.config()
		opts := []embedders.GigaChatOption{
			embedders.WithBatchSize(current.Embeddings.BatchSize),
			embedders.WithTimeout(current.EmbeddingsTimeout()),
			embedders.WithDimension(current.Qdrant.VectorSize),
		}
		if apiURL != "" {
			opts = append(opts, embedders.WithAPIURL(apiURL))
		}
		if model != "" {
			opts = append(opts, embedders.WithModel(model))
		}
		return embedders.NewGigaChatEmbedder(authKey, opts...)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) config() *config.Config { return s.source.Current() }

// Generate answers one user message: plain single-shot when both mode
// flags are off, the agent loop otherwise. The transcript is persisted
// afterwards; persistence failures never fail the request.
func (s *Service) Generate(ctx context.Context, req GenerateRequest, sess Session) (map[string]interface{}, error) {
	if strings.TrimSpace(req.CurrentMessage) == "" {
		return nil, apperr.New(apperr.CodeMissingCurrentMessage, "поле current_message отсутствует или пусто")
	}

	var history []platform.ChatMessage
	if sess.Transcripts != nil {
		history, _ = sess.Transcripts.Load(ctx, req.ChatHistoryIRVID)
	}

	var (
		response    map[string]interface{}
		answerText  string
		chatTitle   string
		chatSummary string
		err         error
	)
	if req.Internet || req.KnowledgeBase {
		response, answerText, chatTitle, chatSummary, err = s.runAgent(ctx, req, history)
	} else {
		response, answerText, err = s.singleShot(ctx, req, history, sess.Users)
	}
	if err != nil {
		return nil, err
	}

	if sess.Transcripts != nil {
		if descriptor := s.saveTranscript(ctx, sess.Transcripts, req, history, answerText, chatTitle, chatSummary); descriptor != nil {
			response["chat_history"] = descriptor
		}
	}
	return response, nil
}

// singleShot performs one direct LLM call with structured-output
// retries on a missing answer field. With prior history the system
// prompt is dropped: the conversation continues on its own terms.
func (s *Service) singleShot(ctx context.Context, req GenerateRequest, history []platform.ChatMessage, users UserDirectory) (map[string]interface{}, string, error) {
	client := s.llmFor(req.LLMAPIKey, req.LLMURL)

	var messages []llms.Message
	switch {
	case len(history) > 0:
		messages = append(toLLMMessages(history), llms.Message{Role: "user", Content: req.CurrentMessage})
	case req.SystemPrompt != "":
		prompt := req.SystemPrompt
		if strings.Contains(prompt, userPostPlaceholder) {
			prompt = strings.ReplaceAll(prompt, userPostPlaceholder, s.lookupUserPost(ctx, users))
		}
		messages = []llms.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: req.CurrentMessage},
		}
	default:
		messages = []llms.Message{{Role: "user", Content: req.CurrentMessage}}
	}

	genReq := llms.GenerateRequest{
		Model:       req.LLMModelName,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           req.N,
	}

	maxAttempts := s.config().LLM.MaxRetryCount
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		completion, err := client.Generate(ctx, genReq)
		if err != nil {
			if !apperr.Retryable(err) {
				return nil, "", err
			}
			lastErr = err
			logger.GetLogger().Warn("single-shot LLM call failed, retrying",
				"attempt", attempt, "error", err)
			continue
		}

		content := completion.Content
		parsed, ok := llms.ParseStructured(content)
		if !ok {
			// plain text answers are valid as-is
			return map[string]interface{}{"answer": content}, content, nil
		}
		if llms.HasFields(parsed, "answer") {
			return parsed, stringifyAnswer(parsed["answer"]), nil
		}
		lastErr = apperr.New(apperr.CodeMissingAnswerField, "ответ модели не содержит поле answer")
		logger.GetLogger().Warn("structured output missing answer field, retrying", "attempt", attempt)
	}
	return nil, "", lastErr
}

// runAgent assembles the toolkit from the mode flags and drives the
// reasoning loop to a final answer.
func (s *Service) runAgent(ctx context.Context, req GenerateRequest, history []platform.ChatMessage) (map[string]interface{}, string, string, string, error) {
	client := s.llmFor(req.LLMAPIKey, req.LLMURL)

	toolkit := []tools.Tool{tools.NewReasoningTool(), tools.NewFinalAnswerTool()}

	if req.Internet {
		if strings.TrimSpace(req.SearchAPIKey) == "" {
			return nil, "", "", "", apperr.New(apperr.CodeValidationError,
				"Для использования интернет-поиска необходимо указать search_api_key")
		}
		toolkit = append(toolkit, tools.NewWebSearchTool(s.searchFor(req.SearchAPIKey, req.SearchURL)))
	}

	if req.KnowledgeBase {
		retriever, err := s.buildRetriever(req, client)
		if err != nil {
			return nil, "", "", "", err
		}
		toolkit = append(toolkit, tools.NewRAGTool(retriever,
			tools.WithDocumentScope(req.FileIRVIDs)))
	}

	registry, err := tools.NewRegistry(toolkit...)
	if err != nil {
		return nil, "", "", "", apperr.Wrap(apperr.CodeAgentCreationError, "не удалось собрать набор инструментов", err)
	}

	cfg := s.config()
	taskMessages := append(toLLMMessages(history), llms.Message{Role: "user", Content: req.CurrentMessage})
	runner := agent.New("researcher", client, registry, agent.Config{
		Model:             req.LLMModelName,
		Temperature:       req.Temperature,
		MaxTokens:         req.MaxTokens,
		MaxIterations:     cfg.Execution.MaxIterations,
		MaxClarifications: cfg.Execution.MaxClarifications,
		MaxRetries:        cfg.LLM.MaxRetries,
		LogsDir:           cfg.Execution.LogsDir,
	}, taskMessages)

	result, err := runner.Execute(ctx)
	if err != nil {
		return nil, "", "", "", err
	}
	if strings.TrimSpace(result.Answer) == "" {
		return nil, "", "", "", apperr.New(apperr.CodeAgentIncomplete, "агент завершился без финального ответа")
	}

	response, ok := llms.ParseStructured(result.Answer)
	if !ok {
		response = map[string]interface{}{"answer": result.Answer}
	}
	return response, result.Answer, result.ChatTitle, result.ChatSummary, nil
}

// buildRetriever wires the knowledge-base branch: embedder, vector
// store client, and optionally the LLM reranker.
func (s *Service) buildRetriever(req GenerateRequest, client LLMProvider) (*rag.HybridRetriever, error) {
	if strings.TrimSpace(req.VDBURL) == "" {
		return nil, apperr.New(apperr.CodeMissingVDBURL, "Для поиска по базе знаний необходимо указать vdb_url")
	}
	embedder, err := s.buildEmbedder(req.EmbedAPIKey, req.EmbedURL, req.EmbedModelName)
	if err != nil {
		return nil, err
	}
	cfg := s.config()
	store := s.vdbCache.Get(req.VDBURL, cfg.Qdrant.CollectionName, cfg.Qdrant.VectorSize)

	opts := []rag.RetrieverOption{
		rag.WithTopK(cfg.RAG.TopK),
		rag.WithCandidateBudget(cfg.RAG.HybridSearch.VectorTopK, cfg.RAG.HybridSearch.TextTopK),
		rag.WithLexicalSearch(cfg.RAG.HybridSearch.Enabled),
	}
	if cfg.RAG.Reranker.Enabled {
		opts = append(opts, rag.WithReranker(rag.NewChatCompletionsReranker(client, req.LLMModelName)))
	}
	return rag.NewHybridRetriever(embedder, store, opts...), nil
}

func (s *Service) buildEmbedder(authKey *string, apiURL, model string) (embedders.EmbedderProvider, error) {
	if authKey == nil {
		return nil, apperr.New(apperr.CodeMissingEmbedAPIKey, "embed_api_key не задан")
	}
	if strings.TrimSpace(*authKey) == "" {
		return nil, apperr.New(apperr.CodeEmptyEmbedAPIKey, "embed_api_key пуст")
	}
	return s.embedderFor(*authKey, apiURL, model)
}

// lookupUserPost resolves the caller's job title for prompt
// substitution. Without a session, or when the lookup fails, the
// placeholder substitutes as empty.
func (s *Service) lookupUserPost(ctx context.Context, users UserDirectory) string {
	if users == nil {
		return ""
	}
	info, err := users.GetCurrentUser(ctx)
	if err != nil {
		logger.GetLogger().Warn("user profile lookup failed", "error", err)
		return ""
	}
	return info.Post
}

// saveTranscript appends the new exchange to the history and persists
// it. Failures are logged and swallowed.
func (s *Service) saveTranscript(ctx context.Context, transcripts Transcripts, req GenerateRequest,
	history []platform.ChatMessage, answerText, chatTitle, chatSummary string) *ChatHistoryDescriptor {

	messages := make([]platform.ChatMessage, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages,
		platform.ChatMessage{Role: "user", Content: req.CurrentMessage},
		platform.ChatMessage{Role: "assistant", Content: answerText},
	)

	version, err := transcripts.Save(ctx, platform.SaveRequest{
		ChatHistoryID: req.ChatHistoryIRVID,
		DocumentID:    req.IRVID,
		ChatTitle:     chatTitle,
		ChatSummary:   chatSummary,
		Messages:      messages,
	})
	if err != nil {
		logger.GetLogger().Warn("transcript save failed", "error", err)
		return nil
	}
	return &ChatHistoryDescriptor{IRVID: version.ID, Name: version.Name}
}

func toLLMMessages(history []platform.ChatMessage) []llms.Message {
	messages := make([]llms.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llms.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages
}

func stringifyAnswer(answer interface{}) string {
	switch v := answer.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
