package service

import (
	"context"
	"strings"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/rag"
	"github.com/smartrag/smartrag/pkg/vectordb"
)

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// ManageRAG adds a document's files to the vector store or removes
// them. The document source is the per-request platform client.
func (s *Service) ManageRAG(ctx context.Context, req RAGManageRequest, source rag.DocumentSource) (map[string]interface{}, error) {
	if req.Action != ActionAdd && req.Action != ActionRemove {
		return nil, apperr.Newf(apperr.CodeInvalidAction, "недопустимое действие: %q", req.Action)
	}
	if strings.TrimSpace(req.IRVID) == "" {
		return nil, apperr.New(apperr.CodeValidationError, "поле irv_id отсутствует или пусто")
	}
	if strings.TrimSpace(req.VDBURL) == "" {
		return nil, apperr.New(apperr.CodeMissingVDBURL, "Для управления индексом необходимо указать vdb_url")
	}

	store := s.vdbCache.Get(req.VDBURL, s.collectionName(req.CollectionName), s.config().Qdrant.VectorSize)

	switch req.Action {
	case ActionAdd:
		embedder, err := s.buildEmbedder(req.EmbedAPIKey, req.EmbedURL, req.EmbedModelName)
		if err != nil {
			return nil, err
		}
		indexer := rag.NewIndexer(source, s.chunker, embedder, store)
		result, err := indexer.Add(ctx, req.IRVID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":             "indexed",
			"files_processed":    result.FilesProcessed,
			"chunks_saved":       result.ChunksSaved,
			"toc_chunks_saved":   result.TOCChunksSaved,
			"table_chunks_saved": result.TableChunksSaved,
			"files":              result.Files,
		}, nil

	case ActionRemove:
		indexer := rag.NewIndexer(source, s.chunker, nil, store)
		result, err := indexer.Remove(ctx, req.IRVID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"status":         "removed",
			"chunks_deleted": result.ChunksDeleted,
		}, nil

	default:
		return nil, apperr.Newf(apperr.CodeInvalidAction, "недопустимое действие: %q", req.Action)
	}
}

// RAGHealth probes the vector store within its configured timeout.
func (s *Service) RAGHealth(ctx context.Context, req RAGHealthRequest) (vectordb.HealthStatus, error) {
	if strings.TrimSpace(req.VDBURL) == "" {
		return vectordb.HealthStatus{}, apperr.New(apperr.CodeMissingVDBURL, "поле vdb_url отсутствует или пусто")
	}
	cfg := s.config()
	client := s.vdbCache.Get(req.VDBURL, cfg.Qdrant.CollectionName, cfg.Qdrant.VectorSize)
	return client.CheckConnection(ctx), nil
}

// ListCollections enumerates the collections of the vector store.
func (s *Service) ListCollections(ctx context.Context, req RAGHealthRequest) ([]vectordb.CollectionInfo, error) {
	if strings.TrimSpace(req.VDBURL) == "" {
		return nil, apperr.New(apperr.CodeMissingVDBURL, "поле vdb_url отсутствует или пусто")
	}
	cfg := s.config()
	client := s.vdbCache.Get(req.VDBURL, cfg.Qdrant.CollectionName, cfg.Qdrant.VectorSize)
	return client.ListCollections(ctx)
}

// DeleteCollection drops one collection by name.
func (s *Service) DeleteCollection(ctx context.Context, vdbURL, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.New(apperr.CodeMissingCollectionName, "имя коллекции не задано")
	}
	if strings.TrimSpace(vdbURL) == "" {
		return apperr.New(apperr.CodeMissingVDBURL, "поле vdb_url отсутствует или пусто")
	}
	cfg := s.config()
	client := s.vdbCache.Get(vdbURL, cfg.Qdrant.CollectionName, cfg.Qdrant.VectorSize)
	return client.DeleteCollection(ctx, name)
}

// CacheInfo reports client cache statistics.
func (s *Service) CacheInfo() CacheStats {
	info := s.llmCache.Info()
	return CacheStats{
		CacheSize: info.Size,
		Keys:      info.Keys,
		VDBSize:   s.vdbCache.Size(),
	}
}

// CacheClear evicts every cached LLM and vector-store client.
func (s *Service) CacheClear() CacheClearResult {
	return CacheClearResult{
		Cleared:    s.llmCache.Clear(),
		VDBCleared: s.vdbCache.Clear(),
	}
}

func (s *Service) collectionName(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return s.config().Qdrant.CollectionName
}
