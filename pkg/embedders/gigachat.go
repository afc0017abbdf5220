package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/logger"
)

const (
	DefaultTokenURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultAPIURL   = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultScope    = "GIGACHAT_API_PERS"
	DefaultModel    = "Embeddings"

	// Issued tokens are trusted for 30 minutes; past that the next call
	// refreshes before hitting the embeddings endpoint.
	tokenValidity = 30 * time.Minute
)

// GigaChatEmbedder implements EmbedderProvider against an OAuth2
// client-credentials embedding endpoint. The authorization key is the
// base64 of "client_id:client_secret".
type GigaChatEmbedder struct {
	authKey   string
	tokenURL  string
	apiURL    string
	scope     string
	model     string
	dimension int
	batchSize int

	maxRetries int
	baseDelay  time.Duration

	client *http.Client

	tokenMu  sync.Mutex
	token    string
	issuedAt time.Time
}

type GigaChatOption func(*GigaChatEmbedder)

func WithAPIURL(url string) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if url != "" {
			e.apiURL = strings.TrimRight(url, "/")
		}
	}
}

func WithTokenURL(url string) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if url != "" {
			e.tokenURL = url
		}
	}
}

func WithScope(scope string) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if scope != "" {
			e.scope = scope
		}
	}
}

func WithModel(model string) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if model != "" {
			e.model = model
		}
	}
}

func WithBatchSize(size int) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

func WithDimension(dim int) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if dim > 0 {
			e.dimension = dim
		}
	}
}

func WithTimeout(timeout time.Duration) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		if timeout > 0 {
			e.client.Timeout = timeout
		}
	}
}

func WithRetries(max int, baseDelay time.Duration) GigaChatOption {
	return func(e *GigaChatEmbedder) {
		e.maxRetries = max
		e.baseDelay = baseDelay
	}
}

func NewGigaChatEmbedder(authKey string, opts ...GigaChatOption) (*GigaChatEmbedder, error) {
	if strings.TrimSpace(authKey) == "" {
		return nil, apperr.New(apperr.CodeMissingEmbedAPIKey, "embedding authorization key is required")
	}

	e := &GigaChatEmbedder{
		authKey:    authKey,
		tokenURL:   DefaultTokenURL,
		apiURL:     DefaultAPIURL,
		scope:      DefaultScope,
		model:      DefaultModel,
		dimension:  1024,
		batchSize:  10,
		maxRetries: 3,
		baseDelay:  time.Second,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *GigaChatEmbedder) Dimension() int {
	return e.dimension
}

func (e *GigaChatEmbedder) ModelName() string {
	return e.model
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// getToken returns the cached bearer token, fetching a fresh one when
// missing or older than the validity window.
func (e *GigaChatEmbedder) getToken(ctx context.Context, force bool) (string, error) {
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()

	if !force && e.token != "" && time.Since(e.issuedAt) < tokenValidity {
		return e.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL,
		strings.NewReader("scope="+e.scope))
	if err != nil {
		return "", apperr.Wrap(apperr.CodeEmbeddingError, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+e.authKey)
	req.Header.Set("RqUID", uuid.NewString())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeConnectionError, "failed to reach token endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeEmbeddingError, "failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", apperr.WithDetail(apperr.CodeEmbeddingError,
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), string(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return "", apperr.WithDetail(apperr.CodeEmbeddingError, "malformed token response", string(body))
	}

	e.token = token.AccessToken
	e.issuedAt = time.Now()
	logger.GetLogger().Debug("embedding token refreshed", "scope", e.scope)

	return e.token, nil
}

func (e *GigaChatEmbedder) invalidateToken() {
	e.tokenMu.Lock()
	e.token = ""
	e.tokenMu.Unlock()
}

// EmbedQuery embeds a single text.
func (e *GigaChatEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed processes texts in batches of batchSize, fanning out within each
// batch. Any single failure aborts the whole call; partial results are
// never returned.
func (e *GigaChatEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vector, err := e.embedOne(gctx, texts[i])
				if err != nil {
					return err
				}
				vectors[i] = vector
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return vectors, nil
}

// embedOne issues one single-input request with backoff on timeouts and
// 5xx. A 401 invalidates the cached token, refreshes once and retries;
// a second 401 surfaces.
func (e *GigaChatEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.CodeTimeout, "embedding cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		vector, retryable, err := e.attemptEmbed(ctx, text, false)
		if err == nil {
			return vector, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// attemptEmbed performs one request. refreshed guards the single
// refresh-and-retry allowed per failing call.
func (e *GigaChatEmbedder) attemptEmbed(ctx context.Context, text string, refreshed bool) ([]float32, bool, error) {
	token, err := e.getToken(ctx, refreshed)
	if err != nil {
		return nil, false, err
	}

	reqBody, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeEmbeddingError, "failed to marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeEmbeddingError, "failed to create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, true, apperr.Wrap(apperr.CodeTimeout, "embedding request timed out", err)
		}
		return nil, true, apperr.Wrap(apperr.CodeConnectionError, "failed to reach embedding endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, apperr.Wrap(apperr.CodeEmbeddingError, "failed to read embed response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if refreshed {
			return nil, false, apperr.WithDetail(apperr.CodeEmbeddingError,
				"embedding authorization failed after token refresh", string(body))
		}
		e.invalidateToken()
		return e.attemptEmbed(ctx, text, true)
	case resp.StatusCode >= 500:
		return nil, true, apperr.WithDetail(apperr.CodeEmbeddingError,
			fmt.Sprintf("embedding endpoint returned status %d", resp.StatusCode), string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, false, apperr.WithDetail(apperr.CodeEmbeddingError,
			fmt.Sprintf("embedding endpoint returned status %d", resp.StatusCode), string(body))
	}

	var response embedResponse
	if err := json.Unmarshal(body, &response); err != nil || len(response.Data) == 0 {
		return nil, false, apperr.WithDetail(apperr.CodeEmbeddingError, "malformed embedding response", string(body))
	}

	return response.Data[0].Embedding, false, nil
}
