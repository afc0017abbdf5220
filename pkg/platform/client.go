// Package platform is the session-cookie-authenticated REST client for
// the document-management system: information-object versions, attached
// file blobs, and folder structure. Credentials are per request; a
// client is built from the inbound HTTP request's referer and
// JSESSIONID cookie.
package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/apperr"
)

const (
	apiPrefix      = "/siu-star/services/api"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
}

// NewClient builds a client for an explicit base URL and session id.
// Empty inputs map to the credential-specific error codes so the edge
// can surface them verbatim.
func NewClient(baseURL, sessionID string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, apperr.WithDetail(apperr.CodeMissingReferer,
			"Недостаточно информации для выполнения запроса к СИУ",
			"В заголовках запроса отсутствует или пуст referer.")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.WithDetail(apperr.CodeMissingJSessionID,
			"Недостаточно информации для запроса к СИУ",
			"В cookie отсутствует JSESSIONID.")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessionID:  sessionID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// NewClientFromRequest extracts credentials from an inbound request:
// the referer header supplies the platform origin, the JSESSIONID
// cookie the session.
func NewClientFromRequest(r *http.Request) (*Client, error) {
	referer := strings.TrimSpace(r.Header.Get("Referer"))
	baseURL := ""
	if referer != "" {
		if u, err := url.Parse(referer); err == nil && u.Scheme != "" && u.Host != "" {
			baseURL = u.Scheme + "://" + u.Host
		}
	}

	sessionID := ""
	if cookie, err := r.Cookie("JSESSIONID"); err == nil {
		sessionID = cookie.Value
	}

	return NewClient(baseURL, sessionID)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "failed to build platform request", err)
	}
	req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: c.sessionID})
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionError, "Ошибка соединения с сервисом СИУ", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionError, "Ошибка соединения с сервисом СИУ", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(data)
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return nil, apperr.WithDetail(apperr.CodePlatformError,
			"Ошибка сервиса СИУ",
			fmt.Sprintf("Сервис вернул %d: %s", resp.StatusCode, detail))
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.CodePlatformError, "Некорректный JSON в ответе сервиса СИУ", err)
	}
	return nil
}

// GetCurrentUser fetches the authenticated user; the job post feeds
// prompt substitution.
func (c *Client) GetCurrentUser(ctx context.Context) (*UserInfo, error) {
	var raw map[string]interface{}
	if err := c.getJSON(ctx, "/user/current", &raw); err != nil {
		return nil, err
	}
	return &UserInfo{
		ID:       stringField(raw, "id"),
		Login:    stringField(raw, "login"),
		FullName: firstString(raw, "fullName", "full_name", "name"),
		Post:     firstString(raw, "userPost", "post"),
	}, nil
}

// GetObjectVersion fetches an information-object version and normalizes
// it into the typed record, including the parent resource identity.
func (c *Client) GetObjectVersion(ctx context.Context, id string) (*ObjectVersion, error) {
	var raw map[string]interface{}
	if err := c.getJSON(ctx, "/irv/"+url.PathEscape(id), &raw); err != nil {
		return nil, err
	}

	version := &ObjectVersion{
		ID:          id,
		Name:        stringField(raw, "name"),
		Description: stringField(raw, "description"),
	}
	if meta, ok := raw["meta"].(map[string]interface{}); ok {
		version.Meta = meta
	} else if data, ok := raw["data"].(map[string]interface{}); ok {
		if meta, ok := data["meta"].(map[string]interface{}); ok {
			version.Meta = meta
		}
	}
	if ir, ok := raw["ir"].(map[string]interface{}); ok {
		version.ObjectID = stringField(ir, "id")
		version.ParentFolderID = firstString(ir, "parentId", "parent_id")
		version.NamingAuthorityID = firstString(ir, "nauId", "nau_id")
	}
	return version, nil
}

// GetObjectFiles lists files attached to an object version. The
// upstream answers either with a bare array or a {contents: [...]}
// envelope; both normalize to descriptors with an id and a name.
func (c *Client) GetObjectFiles(ctx context.Context, id string) ([]FileDescriptor, error) {
	data, err := c.do(ctx, http.MethodGet, "/irv/"+url.PathEscape(id)+"/files", nil)
	if err != nil {
		return nil, err
	}

	items, err := envelopeList(data)
	if err != nil {
		return nil, err
	}

	var files []FileDescriptor
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if nested, ok := entry["data"].(map[string]interface{}); ok {
			entry = nested
		}
		file := FileDescriptor{
			ID:   firstString(entry, "irvfId", "id"),
			Name: firstString(entry, "name", "fileName"),
		}
		if file.ID == "" && file.Name == "" {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// GetFileContent downloads one attached file. Content arrives either as
// raw bytes, as a JSON envelope {content: "..."} or as base64 text;
// all shapes normalize to the decoded bytes.
func (c *Client) GetFileContent(ctx context.Context, file FileDescriptor) ([]byte, error) {
	data, err := c.do(ctx, http.MethodGet, "/irvf/"+url.PathEscape(file.ID)+"/content", nil)
	if err != nil {
		return nil, err
	}
	return normalizeContent(data), nil
}

// PutFileContent uploads the file body for an existing attachment slot.
func (c *Client) PutFileContent(ctx context.Context, file FileDescriptor, content []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/irvf/"+url.PathEscape(file.ID)+"/content", content)
	return err
}

// ListFolderChildren lists the entries directly under a folder.
func (c *Client) ListFolderChildren(ctx context.Context, folderID string) ([]FolderEntry, error) {
	data, err := c.do(ctx, http.MethodGet, "/folder/"+url.PathEscape(folderID)+"/children", nil)
	if err != nil {
		return nil, err
	}

	items, err := envelopeList(data)
	if err != nil {
		return nil, err
	}

	var entries []FolderEntry
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entries = append(entries, FolderEntry{
			ID:   stringField(entry, "id"),
			Name: firstString(entry, "name", "fileName"),
		})
	}
	return entries, nil
}

// CreateFolder creates a child folder and returns its id.
func (c *Client) CreateFolder(ctx context.Context, name, parentID, description string) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"name":        name,
		"parentId":    parentID,
		"description": description,
	})
	data, err := c.do(ctx, http.MethodPost, "/folder", payload)
	if err != nil {
		return "", err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", apperr.Wrap(apperr.CodePlatformError, "Некорректный JSON в ответе сервиса СИУ", err)
	}
	id := stringField(raw, "id")
	if id == "" {
		return "", apperr.New(apperr.CodePlatformError, "Сервис СИУ не вернул id созданной папки")
	}
	return id, nil
}

// CreateObject creates an information object with one attached file
// slot and returns the new object version. With ObjectID set, the call
// spawns a new version of that object instead.
func (c *Client) CreateObject(ctx context.Context, req CreateObjectRequest) (*ObjectVersion, error) {
	body := map[string]string{
		"name":           req.Name,
		"parentFolderId": req.ParentFolderID,
		"nauId":          req.NamingAuthorityID,
		"description":    req.Description,
		"fileName":       req.FileName,
	}
	if req.ObjectID != "" {
		body["ioId"] = req.ObjectID
	}
	payload, _ := json.Marshal(body)

	data, err := c.do(ctx, http.MethodPost, "/ir", payload)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(apperr.CodePlatformError, "Некорректный JSON в ответе сервиса СИУ", err)
	}
	id := stringField(raw, "id")
	if id == "" {
		return nil, apperr.New(apperr.CodePlatformError, "Сервис СИУ не вернул id созданной версии ИО")
	}
	return &ObjectVersion{
		ID:   id,
		Name: stringField(raw, "name"),
	}, nil
}

// envelopeList accepts either a bare JSON array or an object carrying
// the array under "contents".
func envelopeList(data []byte) ([]interface{}, error) {
	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodePlatformError, "Некорректный JSON в ответе сервиса СИУ", err)
	}
	switch v := parsed.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		if contents, ok := v["contents"].([]interface{}); ok {
			return contents, nil
		}
		if len(v) > 0 {
			return []interface{}{v}, nil
		}
	}
	return nil, nil
}

// normalizeContent unwraps the file-content envelopes: a JSON object
// with a "content" field, base64 text, or raw bytes.
func normalizeContent(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope map[string]interface{}
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if inner, ok := envelope["content"].(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(inner); err == nil {
					return decoded
				}
				return []byte(inner)
			}
			return trimmed
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil && len(trimmed) > 0 {
		return decoded
	}
	return data
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v := stringField(m, key); v != "" {
			return v
		}
	}
	return ""
}
