package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Per-request credentials
// (LLM/embedding keys, vector store URL) arrive in request bodies; this
// holds the process-level tunables only.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	LLM        LLMConfig        `yaml:"llm"`
	Execution  ExecutionConfig  `yaml:"execution"`
	RAG        RAGConfig        `yaml:"rag"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type LLMConfig struct {
	// MaxRetries caps LLM calls inside the agent loop.
	MaxRetries int `yaml:"max_retries"`
	// MaxRetryCount caps single-shot calls retried on a missing answer field.
	MaxRetryCount int `yaml:"max_retry_count"`
	// Timeout is the per-call HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

type ExecutionConfig struct {
	MaxIterations     int    `yaml:"max_iterations"`
	MaxClarifications int    `yaml:"max_clarifications"`
	LogsDir           string `yaml:"logs_dir"`
}

type RAGConfig struct {
	TopK         int                `yaml:"top_k"`
	HybridSearch HybridSearchConfig `yaml:"hybrid_search"`
	Reranker     RerankerConfig     `yaml:"reranker"`
}

type HybridSearchConfig struct {
	Enabled    bool `yaml:"enabled"`
	VectorTopK int  `yaml:"vector_top_k"`
	TextTopK   int  `yaml:"text_top_k"`
}

type RerankerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type QdrantConfig struct {
	CollectionName string `yaml:"collection_name"`
	VectorSize     int    `yaml:"vector_size"`
	Timeout        int    `yaml:"timeout"`
}

type EmbeddingsConfig struct {
	BatchSize int `yaml:"batch_size"`
	Timeout   int `yaml:"timeout"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	EndpointURL string  `yaml:"endpoint_url"`
	Sampling    float64 `yaml:"sampling_rate"`
	ServiceName string  `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8000},
		Logging: LoggingConfig{Level: "info", Format: "simple"},
		LLM: LLMConfig{
			MaxRetries:    3,
			MaxRetryCount: 3,
			Timeout:       60,
		},
		Execution: ExecutionConfig{
			MaxIterations:     10,
			MaxClarifications: 0,
		},
		RAG: RAGConfig{
			TopK: 5,
			HybridSearch: HybridSearchConfig{
				Enabled:    true,
				VectorTopK: 20,
				TextTopK:   20,
			},
			Reranker: RerankerConfig{Enabled: false},
		},
		Qdrant: QdrantConfig{
			CollectionName: "smart_rag_documents",
			VectorSize:     1024,
			Timeout:        30,
		},
		Embeddings: EmbeddingsConfig{
			BatchSize: 10,
			Timeout:   60,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Sampling:    1.0,
			ServiceName: "smartrag",
		},
	}
}

// Load reads the optional .env file, the YAML config at path (if any),
// then applies SMARTRAG_* environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SMARTRAG_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SMARTRAG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SMARTRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SMARTRAG_COLLECTION_NAME"); v != "" {
		c.Qdrant.CollectionName = v
	}
	if v := os.Getenv("SMARTRAG_LOGS_DIR"); v != "" {
		c.Execution.LogsDir = v
	}
	if v := os.Getenv("SMARTRAG_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Execution.MaxIterations = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Execution.MaxIterations <= 0 {
		return fmt.Errorf("execution.max_iterations must be positive")
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive")
	}
	if c.RAG.HybridSearch.VectorTopK <= 0 || c.RAG.HybridSearch.TextTopK <= 0 {
		return fmt.Errorf("hybrid_search candidate pools must be positive")
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("qdrant.vector_size must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive")
	}
	if strings.TrimSpace(c.Qdrant.CollectionName) == "" {
		return fmt.Errorf("qdrant.collection_name cannot be empty")
	}
	return nil
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.Timeout) * time.Second
}

func (c *Config) QdrantTimeout() time.Duration {
	return time.Duration(c.Qdrant.Timeout) * time.Second
}

func (c *Config) EmbeddingsTimeout() time.Duration {
	return time.Duration(c.Embeddings.Timeout) * time.Second
}
