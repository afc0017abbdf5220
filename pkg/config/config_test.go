package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "smart_rag_documents", cfg.Qdrant.CollectionName)
	assert.Equal(t, 1024, cfg.Qdrant.VectorSize)
	assert.Equal(t, 10, cfg.Embeddings.BatchSize)
	assert.Equal(t, 20, cfg.RAG.HybridSearch.VectorTopK)
	assert.Equal(t, 20, cfg.RAG.HybridSearch.TextTopK)
	assert.Equal(t, 0, cfg.Execution.MaxClarifications)
	assert.False(t, cfg.RAG.Reranker.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9100
rag:
  top_k: 8
  reranker:
    enabled: true
qdrant:
  collection_name: custom_docs
  vector_size: 768
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 8, cfg.RAG.TopK)
	assert.True(t, cfg.RAG.Reranker.Enabled)
	assert.Equal(t, "custom_docs", cfg.Qdrant.CollectionName)
	assert.Equal(t, 768, cfg.Qdrant.VectorSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Embeddings.BatchSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag:\n  top_k: -1\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SMARTRAG_PORT", "9555")
	t.Setenv("SMARTRAG_COLLECTION_NAME", "env_docs")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9555, cfg.Server.Port)
	assert.Equal(t, "env_docs", cfg.Qdrant.CollectionName)
}
