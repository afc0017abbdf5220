// Package search is a REST client for a Tavily-compatible web search
// provider: query search with optional raw page content, and bulk
// content extraction for known URLs.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/httpclient"
	"github.com/smartrag/smartrag/pkg/logger"
)

const (
	DefaultBaseURL    = "https://api.tavily.com"
	DefaultMaxResults = 5
	defaultTimeout    = 30 * time.Second
)

// Source is one search hit or extracted page.
type Source struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	FullContent string `json:"full_content,omitempty"`
	CharCount   int    `json:"char_count,omitempty"`
}

// Provider is the contract the web search tool consumes.
type Provider interface {
	Search(ctx context.Context, query string, maxResults int, includeRawContent bool) ([]Source, error)
	Extract(ctx context.Context, urls []string) ([]Source, error)
}

type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *httpclient.Client
}

type Option func(*Client)

func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = httpclient.New(
			httpclient.WithTimeout(timeout),
			httpclient.WithMaxRetries(2),
		)
	}
}

func NewClient(apiKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: DefaultMaxResults,
		httpClient: httpclient.New(
			httpclient.WithTimeout(defaultTimeout),
			httpclient.WithMaxRetries(2),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Results []struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		Content    string `json:"content"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	FailedResults []interface{} `json:"failed_results"`
}

func (c *Client) Search(ctx context.Context, query string, maxResults int, includeRawContent bool) ([]Source, error) {
	if maxResults <= 0 {
		maxResults = c.maxResults
	}
	logger.GetLogger().Info("web search", "query", query, "max_results", maxResults)

	body := map[string]interface{}{
		"query":               query,
		"max_results":         maxResults,
		"include_raw_content": includeRawContent,
	}
	resp, err := c.post(ctx, "/search", body)
	if err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(resp.Results))
	for i, result := range resp.Results {
		if result.URL == "" {
			continue
		}
		source := Source{
			Number:  i,
			Title:   result.Title,
			URL:     result.URL,
			Snippet: result.Content,
		}
		if result.RawContent != "" {
			source.FullContent = result.RawContent
			source.CharCount = len(result.RawContent)
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func (c *Client) Extract(ctx context.Context, urls []string) ([]Source, error) {
	logger.GetLogger().Info("web content extraction", "urls", len(urls))

	resp, err := c.post(ctx, "/extract", map[string]interface{}{"urls": urls})
	if err != nil {
		return nil, err
	}

	var sources []Source
	for i, result := range resp.Results {
		if result.URL == "" {
			continue
		}
		title := result.URL[strings.LastIndex(result.URL, "/")+1:]
		if title == "" {
			title = "Extracted Content"
		}
		sources = append(sources, Source{
			Number:      i,
			Title:       title,
			URL:         result.URL,
			FullContent: result.RawContent,
			CharCount:   len(result.RawContent),
		})
	}
	if len(resp.FailedResults) > 0 {
		logger.GetLogger().Warn("some urls failed to extract", "failed", len(resp.FailedResults))
	}
	return sources, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "failed to encode search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "failed to build search request", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.CodeTimeout, "search provider timed out", err)
		}
		return nil, apperr.Wrap(apperr.CodeConnectionError, "search provider unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionError, "failed to read search response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.New(apperr.CodeLLMAuthError, "search provider rejected the API key")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.CodeRateLimit, "search provider rate limit exceeded")
	case resp.StatusCode != http.StatusOK:
		return nil, apperr.WithDetail(apperr.CodeProviderError,
			fmt.Sprintf("search provider returned status %d", resp.StatusCode), string(data))
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodeProviderError, "failed to decode search response", err)
	}
	return &parsed, nil
}
