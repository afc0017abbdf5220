package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/httpclient"
	"github.com/smartrag/smartrag/pkg/observability"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Client talks to any OpenAI-compatible chat-completions endpoint.
// Instances are cached per credential pair (see cache.go) and safe for
// concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.Client
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout    time.Duration
	maxRetries int
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

func WithMaxRetries(max int) ClientOption {
	return func(o *clientOptions) {
		o.maxRetries = max
	}
}

func NewClient(apiKey, baseURL string, opts ...ClientOption) *Client {
	options := &clientOptions{
		timeout:    60 * time.Second,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(options)
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: options.timeout}),
			httpclient.WithMaxRetries(options.maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeaders),
		),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Wire types for the chat-completions protocol.

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	N           int             `json:"n,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  interface{}     `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *Usage               `json:"usage,omitempty"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Generate performs a non-streaming chat-completions call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Completion, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("smartrag.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, req.Model),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	response, err := c.makeRequest(ctx, c.buildRequest(req, false))
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, req.Model, duration, 0, 0, err)
		}
		return nil, err
	}

	if response.Error != nil {
		apiErr := apperr.Newf(apperr.CodeLLMAPIError, "LLM API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, req.Model, duration, 0, 0, apiErr)
		}
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		emptyErr := apperr.New(apperr.CodeEmptyResponse, "LLM returned no choices")
		span.RecordError(emptyErr)
		span.SetStatus(codes.Error, "no choices")
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, req.Model, duration, 0, 0, emptyErr)
		}
		return nil, emptyErr
	}

	completion := &Completion{
		Content:      response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		Usage:        response.Usage,
	}
	for _, choice := range response.Choices {
		completion.Contents = append(completion.Contents, choice.Message.Content)
	}

	if len(response.Choices[0].Message.ToolCalls) > 0 {
		completion.ToolCalls, err = parseToolCalls(response.Choices[0].Message.ToolCalls)
		if err != nil {
			span.RecordError(err)
			return completion, err
		}
	}

	if completion.Usage.PromptTokens == 0 && completion.Usage.CompletionTokens == 0 {
		completion.Usage = EstimateUsage(req.Messages, completion.Content)
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, completion.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, completion.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(completion.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "success")

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, req.Model, duration, completion.Usage.PromptTokens, completion.Usage.CompletionTokens, nil)
	}

	return completion, nil
}

// GenerateStreaming starts a streaming call and emits chunks on the
// returned channel. The channel closes after the "done" (or "error") chunk.
func (c *Client) GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := c.makeStreamingRequest(ctx, c.buildRequest(req, true), outputCh); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: err}
		}
	}()

	return outputCh, nil
}

// Aggregate drains a stream into a Completion. Used where streaming is an
// internal detail and only the final result leaves the component.
func Aggregate(ch <-chan StreamChunk) (*Completion, error) {
	completion := &Completion{}
	var content bytes.Buffer

	for chunk := range ch {
		switch chunk.Type {
		case "text":
			content.WriteString(chunk.Text)
		case "tool_call":
			if chunk.ToolCall != nil {
				completion.ToolCalls = append(completion.ToolCalls, *chunk.ToolCall)
			}
		case "done":
			completion.Usage.TotalTokens = chunk.Tokens
		case "error":
			return nil, chunk.Error
		}
	}

	completion.Content = content.String()
	completion.Contents = []string{completion.Content}
	return completion, nil
}

func (c *Client) buildRequest(req GenerateRequest, stream bool) openAIRequest {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := openAIMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		messages = append(messages, m)
	}

	request := openAIRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}

	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		request.MaxTokens = &maxTokens
	}
	if req.N > 1 {
		request.N = req.N
	}

	if len(req.Tools) > 0 {
		request.Tools = make([]openAITool, len(req.Tools))
		for i, tool := range req.Tools {
			request.Tools[i] = openAITool{
				Type:     "function",
				Function: openAIToolFunction(tool),
			}
		}
		request.ToolChoice = "auto"
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "function":
			request.ToolChoice = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name": req.ToolChoice.Function,
				},
			}
		default:
			request.ToolChoice = req.ToolChoice.Mode
		}
	}

	return request
}

func (c *Client) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	resp, err := c.postCompletions(ctx, request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConnectionError, "failed to read LLM response", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, apperr.Wrap(apperr.CodeLLMAPIError, "failed to decode LLM response", err)
	}

	return &response, nil
}

func (c *Client) postCompletions(ctx context.Context, request openAIRequest) (*http.Response, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "failed to marshal LLM request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "failed to create LLM request", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, body)
	}
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp == nil {
		return nil, apperr.New(apperr.CodeConnectionError, "no response received from LLM endpoint")
	}
	return resp, nil
}

// classifyStatus maps provider HTTP failures onto the error taxonomy,
// keeping the provider's own message as detail when it parses.
func classifyStatus(status int, body []byte) *apperr.Error {
	detail := string(body)
	var errorResp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		detail = errorResp.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.WithDetail(apperr.CodeLLMAuthError, "LLM authentication failed", detail)
	case http.StatusTooManyRequests:
		return apperr.WithDetail(apperr.CodeRateLimit, "LLM rate limit exceeded", detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.WithDetail(apperr.CodeBadRequest, "LLM rejected the request", detail)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return apperr.WithDetail(apperr.CodeTimeout, "LLM request timed out", detail)
	default:
		return apperr.WithDetail(apperr.CodeLLMAPIError,
			fmt.Sprintf("LLM request failed with status %d", status), detail)
	}
}

func classifyTransport(err error) *apperr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, "LLM request timed out", err)
	}
	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) {
		switch retryErr.StatusCode {
		case http.StatusTooManyRequests:
			return apperr.Wrap(apperr.CodeRateLimit, "LLM rate limit exceeded", err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return apperr.Wrap(apperr.CodeTimeout, "LLM request timed out", err)
		}
		return apperr.Wrap(apperr.CodeLLMAPIError, "LLM request failed after retries", err)
	}
	return apperr.Wrap(apperr.CodeConnectionError, "failed to reach LLM endpoint", err)
}

func (c *Client) makeStreamingRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamChunk) error {
	resp, err := c.postCompletions(ctx, request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	toolCalls := make([]*openAIToolCall, 0)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return apperr.Wrap(apperr.CodeConnectionError, "failed to read LLM stream", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return apperr.Newf(apperr.CodeLLMAPIError, "LLM API error: %s", streamResp.Error.Message)
		}
		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]

		if choice.Delta.Content != "" {
			outputCh <- StreamChunk{Type: "text", Text: choice.Delta.Content}
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			if deltaCall.ID != "" {
				call := deltaCall
				toolCalls = append(toolCalls, &call)
			} else if len(toolCalls) > 0 {
				toolCalls[len(toolCalls)-1].Function.Arguments += deltaCall.Function.Arguments
			}
		}
	}

	for _, tc := range toolCalls {
		parsed, err := parseToolCall(*tc)
		if err != nil {
			return err
		}
		outputCh <- StreamChunk{Type: "tool_call", ToolCall: &parsed}
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	return nil
}

func parseToolCalls(raw []openAIToolCall) ([]ToolCall, error) {
	result := make([]ToolCall, len(raw))
	for i, tc := range raw {
		parsed, err := parseToolCall(tc)
		if err != nil {
			return nil, err
		}
		result[i] = parsed
	}
	return result, nil
}

func parseToolCall(tc openAIToolCall) (ToolCall, error) {
	var args map[string]interface{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return ToolCall{}, apperr.Wrap(apperr.CodeLLMAPIError, "failed to parse tool arguments", err)
		}
	}
	return ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}, nil
}
