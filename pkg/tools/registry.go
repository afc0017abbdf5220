package tools

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/registry"
)

// Registry holds the toolkit of one agent run.
type Registry struct {
	tools *registry.BaseRegistry[Tool]
	names []string
}

func NewRegistry(toolkit ...Tool) (*Registry, error) {
	r := &Registry{tools: registry.NewBaseRegistry[Tool]()}
	for _, tool := range toolkit {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(tool Tool) error {
	if err := r.tools.Register(tool.GetName(), tool); err != nil {
		return err
	}
	r.names = append(r.names, tool.GetName())
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	return r.tools.Get(name)
}

// Names preserves registration order, which also fixes the order of
// definitions sent to the LLM.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Definitions renders the full toolkit for a function-calling request.
func (r *Registry) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		if tool, ok := r.tools.Get(name); ok {
			defs = append(defs, Definition(tool.GetInfo()))
		}
	}
	return defs
}

// ExecuteTool dispatches one tool call with tracing and metrics.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	tool, ok := r.tools.Get(name)
	if !ok {
		return ToolResult{}, apperr.Newf(apperr.CodeAgentExecutionError, "unknown tool: %s", name)
	}

	tracer := observability.GetTracer("tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution)
	span.SetAttributes(attribute.String(observability.AttrToolName, name))
	defer span.End()

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.GetGlobalMetrics().RecordToolExecution(ctx, name, time.Since(start), err)
	return result, err
}
