package vectordb

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
	DefaultURL = "http://localhost:6333"

	// deleteBatchSize caps ids per delete request.
	deleteBatchSize = 1000
)

// ErrTextQueryUnsupported signals that the backend rejected the full-text
// query; callers fall back to the scroll-and-substring strategy.
var ErrTextQueryUnsupported = errors.New("backend does not support full-text query")

// Client is a Qdrant REST adapter bound to one collection.
type Client struct {
	baseURL    string
	collection string
	vectorSize int
	httpClient *httpclient.Client
	probe      *http.Client
}

// NormalizeURL applies the default endpoint, strips trailing slashes and
// prefixes a scheme when missing.
func NormalizeURL(rawURL string) string {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		url = DefaultURL
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return url
}

func NewClient(rawURL, collection string, vectorSize int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    NormalizeURL(rawURL),
		collection: collection,
		vectorSize: vectorSize,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
		probe: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Collection() string {
	return c.collection
}

func (c *Client) VectorSize() int {
	return c.vectorSize
}

// request performs one REST call and decodes the standard Qdrant envelope
// {"result": ..., "status": ...} into out when out is non-nil.
func (c *Client) request(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.CodeQdrantError, "failed to marshal request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.CodeQdrantError, "failed to create request", err)
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
	}

	resp, err := c.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.CodeQdrantTimeout, "vector store request timed out", err)
		}
		if resp == nil {
			return apperr.Wrap(apperr.CodeQdrantConnectionError, "failed to reach vector store", err)
		}
	}

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return apperr.Wrap(apperr.CodeQdrantError, "failed to read response", readErr)
	}

	if resp.StatusCode == http.StatusNotFound {
		return apperr.WithDetail(apperr.CodeCollectionNotFound,
			fmt.Sprintf("resource not found: %s", path), string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.WithDetail(apperr.CodeQdrantError,
			fmt.Sprintf("vector store returned status %d", resp.StatusCode), string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperr.Wrap(apperr.CodeQdrantError, "failed to decode response", err)
		}
	}
	return nil
}

type collectionDetail struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the collection when absent. With recreate the
// existing collection is dropped first.
func (c *Client) EnsureCollection(ctx context.Context, recreate bool) error {
	exists := true
	var detail collectionDetail
	if err := c.request(ctx, http.MethodGet, "/collections/"+c.collection, nil, &detail); err != nil {
		if apperr.CodeOf(err) != apperr.CodeCollectionNotFound {
			return err
		}
		exists = false
	}

	if exists && !recreate {
		return nil
	}
	if exists && recreate {
		if err := c.request(ctx, http.MethodDelete, "/collections/"+c.collection, nil, nil); err != nil {
			return err
		}
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.vectorSize,
			"distance": "Cosine",
		},
	}
	if err := c.request(ctx, http.MethodPut, "/collections/"+c.collection, body, nil); err != nil {
		return err
	}

	logger.GetLogger().Info("collection ready",
		"collection", c.collection, "vector_size", c.vectorSize, "recreated", recreate)
	return nil
}

func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	wire := make([]map[string]interface{}, len(points))
	for i, p := range points {
		wire[i] = map[string]interface{}{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}

	return c.request(ctx, http.MethodPut,
		"/collections/"+c.collection+"/points?wait=true",
		map[string]interface{}{"points": wire}, nil)
}

// DeleteByIDs removes points in batches of at most 1000 ids.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		err := c.request(ctx, http.MethodPost,
			"/collections/"+c.collection+"/points/delete?wait=true",
			map[string]interface{}{"points": ids[start:end]}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

type scrollResponse struct {
	Result struct {
		Points         []wirePoint `json:"points"`
		NextPageOffset interface{} `json:"next_page_offset"`
	} `json:"result"`
}

type wirePoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (p wirePoint) id() string {
	return fmt.Sprintf("%v", p.ID)
}

// Scroll fetches up to limit points matching the filter and the offset
// for the next page (nil when exhausted).
func (c *Client) Scroll(ctx context.Context, filter Filter, limit int, withPayload, withVectors bool) ([]Point, interface{}, error) {
	return c.scrollPage(ctx, filter, limit, nil, withPayload, withVectors)
}

// ScrollAll pages through every point matching the filter. maxPoints
// caps the total (0 means unlimited).
func (c *Client) ScrollAll(ctx context.Context, filter Filter, pageSize int, withPayload bool, maxPoints int) ([]Point, error) {
	var all []Point
	var offset interface{}
	for {
		points, next, err := c.scrollPage(ctx, filter, pageSize, offset, withPayload, false)
		if err != nil {
			return nil, err
		}
		all = append(all, points...)
		if maxPoints > 0 && len(all) >= maxPoints {
			return all[:maxPoints], nil
		}
		if next == nil || len(points) == 0 {
			return all, nil
		}
		offset = next
	}
}

func (c *Client) scrollPage(ctx context.Context, filter Filter, limit int, offset interface{}, withPayload, withVectors bool) ([]Point, interface{}, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": withPayload,
		"with_vector":  withVectors,
	}
	if offset != nil {
		body["offset"] = offset
	}
	if f := filter.qdrantFilter(); f != nil {
		body["filter"] = f
	}

	var resp scrollResponse
	if err := c.request(ctx, http.MethodPost,
		"/collections/"+c.collection+"/points/scroll", body, &resp); err != nil {
		return nil, nil, err
	}

	points := make([]Point, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		points[i] = Point{ID: p.id(), Vector: p.Vector, Payload: p.Payload}
	}
	return points, resp.Result.NextPageOffset, nil
}

type searchResponse struct {
	Result []wirePoint `json:"result"`
}

// Search runs a dense nearest-neighbor query.
func (c *Client) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := filter.qdrantFilter(); f != nil {
		body["filter"] = f
	}

	var resp searchResponse
	if err := c.request(ctx, http.MethodPost,
		"/collections/"+c.collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}

	results := make([]ScoredPoint, len(resp.Result))
	for i, p := range resp.Result {
		results[i] = ScoredPoint{ID: p.id(), Score: p.Score, Payload: p.Payload}
	}
	return results, nil
}

type queryResponse struct {
	Result struct {
		Points []wirePoint `json:"points"`
	} `json:"result"`
}

// QueryText runs the backend full-text query. Backends without a text
// index reject it; that surfaces as ErrTextQueryUnsupported.
func (c *Client) QueryText(ctx context.Context, text string, filter Filter, limit int) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"query":        text,
		"limit":        limit,
		"with_payload": true,
	}
	if f := filter.qdrantFilter(); f != nil {
		body["filter"] = f
	}

	var resp queryResponse
	if err := c.request(ctx, http.MethodPost,
		"/collections/"+c.collection+"/points/query", body, &resp); err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeQdrantConnectionError, apperr.CodeQdrantTimeout:
			return nil, err
		}
		return nil, ErrTextQueryUnsupported
	}

	results := make([]ScoredPoint, len(resp.Result.Points))
	for i, p := range resp.Result.Points {
		results[i] = ScoredPoint{ID: p.id(), Score: p.Score, Payload: p.Payload}
	}
	return results, nil
}

type collectionsListResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

// ListCollections returns every collection with point count and vector
// parameters.
func (c *Client) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var listResp collectionsListResponse
	if err := c.request(ctx, http.MethodGet, "/collections", nil, &listResp); err != nil {
		return nil, err
	}

	infos := make([]CollectionInfo, 0, len(listResp.Result.Collections))
	for _, col := range listResp.Result.Collections {
		info := CollectionInfo{Name: col.Name}

		var detail collectionDetail
		if err := c.request(ctx, http.MethodGet, "/collections/"+col.Name, nil, &detail); err != nil {
			logger.GetLogger().Warn("failed to fetch collection detail", "collection", col.Name, "error", err)
		} else {
			info.PointsCount = detail.Result.PointsCount
			info.Status = detail.Result.Status
			info.VectorSize = detail.Result.Config.Params.Vectors.Size
			info.Distance = detail.Result.Config.Params.Vectors.Distance
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteCollection drops a collection after verifying it exists.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	var detail collectionDetail
	if err := c.request(ctx, http.MethodGet, "/collections/"+name, nil, &detail); err != nil {
		return err
	}
	return c.request(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

// CheckConnection probes the service root with a short timeout.
func (c *Client) CheckConnection(ctx context.Context) HealthStatus {
	status := HealthStatus{URL: c.baseURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	resp, err := c.probe.Do(req)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status.Available = true
	} else {
		status.Error = fmt.Sprintf("vector store returned status %d", resp.StatusCode)
	}
	return status
}
