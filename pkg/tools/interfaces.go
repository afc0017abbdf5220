// Package tools defines the tool contract the agent loop drives, the
// tool registry, and the built-in toolkit: schema-guided reasoning,
// final answer, web search and knowledge-base search.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/llms"
)

const (
	ToolNameReasoning   = "reasoning"
	ToolNameFinalAnswer = "final_answer"
	ToolNameWebSearch   = "web_search"
	ToolNameRAG         = "rag"
)

// Tool is one callable capability exposed to the LLM.
type Tool interface {
	GetInfo() ToolInfo
	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)
	GetName() string
	GetDescription() string
}

// ToolInfo describes a tool for function-calling. Schema carries the
// full JSON schema of the arguments, reflected from the argument
// struct.
type ToolInfo struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Success       bool                   `json:"success"`
	Content       string                 `json:"content"`
	Error         string                 `json:"error,omitempty"`
	ToolName      string                 `json:"tool_name"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Definition converts tool metadata to the wire shape of the LLM
// client.
func Definition(info ToolInfo) llms.ToolDefinition {
	params := info.Schema
	if params == nil {
		params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return llms.ToolDefinition{
		Name:        info.Name,
		Description: info.Description,
		Parameters:  params,
	}
}

// SchemaFor reflects the JSON schema of an argument struct. Schemas
// are inlined (no $ref) so any function-calling backend accepts them.
func SchemaFor(v interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeArgs maps loosely typed tool-call arguments onto the typed
// argument struct.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeInternalError, "failed to build argument decoder", err)
	}
	if err := decoder.Decode(args); err != nil {
		return apperr.Wrap(apperr.CodeBadRequest, "invalid tool arguments", err)
	}
	return nil
}

func failure(name string, start time.Time, err error) (ToolResult, error) {
	return ToolResult{
		Success:       false,
		Error:         err.Error(),
		ToolName:      name,
		ExecutionTime: time.Since(start),
	}, err
}
