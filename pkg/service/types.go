package service

// GenerateRequest is the body of POST /v1/generate. Credentials travel
// per request; the process config only carries tunables.
type GenerateRequest struct {
	CurrentMessage   string  `json:"current_message"`
	ChatHistoryIRVID string  `json:"chat_history_irv_id,omitempty"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty"`
	N                int     `json:"n,omitempty"`

	LLMAPIKey    string `json:"llm_api_key,omitempty"`
	LLMURL       string `json:"llm_url,omitempty"`
	LLMModelName string `json:"llm_model_name,omitempty"`

	EmbedAPIKey    *string `json:"embed_api_key,omitempty"`
	EmbedURL       string  `json:"embed_url,omitempty"`
	EmbedModelName string  `json:"embed_model_name,omitempty"`

	SearchAPIKey string `json:"search_api_key,omitempty"`
	SearchURL    string `json:"search_url,omitempty"`

	VDBURL     string   `json:"vdb_url,omitempty"`
	FileIRVIDs []string `json:"file_irv_ids,omitempty"`

	Internet      bool   `json:"internet,omitempty"`
	KnowledgeBase bool   `json:"knowledge_base,omitempty"`
	IRVID         string `json:"irv_id,omitempty"`
}

// RAGManageRequest is the body of POST /v1/rag/manage.
type RAGManageRequest struct {
	Action         string  `json:"action"`
	IRVID          string  `json:"irv_id"`
	VDBURL         string  `json:"vdb_url"`
	CollectionName string  `json:"collection_name,omitempty"`
	EmbedAPIKey    *string `json:"embed_api_key,omitempty"`
	EmbedURL       string  `json:"embed_url,omitempty"`
	EmbedModelName string  `json:"embed_model_name,omitempty"`
}

// RAGHealthRequest is the body of POST /v1/rag/health and
// POST /v1/rag/collections.
type RAGHealthRequest struct {
	VDBURL string `json:"vdb_url"`
}

// ChatHistoryDescriptor points the client at the transcript version
// created for this exchange.
type ChatHistoryDescriptor struct {
	IRVID string `json:"irv_id"`
	Name  string `json:"name"`
}

// CacheStats merges the LLM and vector-store client cache statistics.
type CacheStats struct {
	CacheSize int      `json:"cache_size"`
	Keys      []string `json:"keys"`
	VDBSize   int      `json:"vdb_cache_size"`
}

// CacheClearResult reports how many clients were evicted.
type CacheClearResult struct {
	Cleared    int `json:"cleared"`
	VDBCleared int `json:"vdb_cleared"`
}
