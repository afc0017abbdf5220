// Package agent runs the schema-guided reasoning loop: every iteration
// the LLM is first forced through the reasoning tool, then chooses one
// action tool, until final_answer terminates the run.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/observability"
	"github.com/smartrag/smartrag/pkg/tools"
)

// State is the lifecycle of one run.
type State string

const (
	StateResearching             State = "researching"
	StateWaitingForClarification State = "waiting_for_clarification"
	StateCompleted               State = "completed"
	StateFailed                  State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Config are the per-run knobs of the loop.
type Config struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	MaxIterations     int
	MaxClarifications int
	MaxRetries        int
	LogsDir           string
}

func (c *Config) defaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8000
	}
}

// LLMClient is the completion seam; *llms.Client satisfies it.
type LLMClient interface {
	Generate(ctx context.Context, req llms.GenerateRequest) (*llms.Completion, error)
}

// Result is what a finished run produced.
type Result struct {
	Answer      string
	ChatTitle   string
	ChatSummary string
	State       State
	Iterations  int
}

// Agent holds the conversation and state of one run. Not safe for
// concurrent use; each request builds its own agent.
type Agent struct {
	id       string
	llm      LLMClient
	registry *tools.Registry
	config   Config

	conversation       []llms.Message
	taskMessages       []llms.Message
	steps              []StepLog
	state              State
	iteration          int
	clarificationsUsed int
	finalAnswer        *tools.FinalAnswer
}

// New builds an agent over the given toolkit. Task messages are the
// prior chat history plus the current user message; the system prompt
// is rendered from the toolkit and prepended.
func New(name string, llm LLMClient, registry *tools.Registry, cfg Config, taskMessages []llms.Message) *Agent {
	cfg.defaults()

	summaries := make([]ToolSummary, 0, len(registry.Names()))
	for _, toolName := range registry.Names() {
		if tool, ok := registry.Get(toolName); ok {
			summaries = append(summaries, ToolSummary{Name: toolName, Description: tool.GetDescription()})
		}
	}

	conversation := make([]llms.Message, 0, len(taskMessages)+1)
	conversation = append(conversation, llms.Message{
		Role:    "system",
		Content: RenderSystemPrompt(time.Now(), summaries),
	})
	conversation = append(conversation, taskMessages...)

	return &Agent{
		id:           fmt.Sprintf("%s_%s", name, uuid.NewString()),
		llm:          llm,
		registry:     registry,
		config:       cfg,
		conversation: conversation,
		taskMessages: taskMessages,
		state:        StateResearching,
	}
}

func (a *Agent) ID() string     { return a.id }
func (a *Agent) State() State   { return a.state }
func (a *Agent) Iteration() int { return a.iteration }

// Execute drives the loop until a terminal state. The step log is
// written to LogsDir regardless of outcome.
func (a *Agent) Execute(ctx context.Context) (*Result, error) {
	log := logger.GetLogger()

	tracer := observability.GetTracer("agent")
	ctx, span := tracer.Start(ctx, "agent.execute")
	span.SetAttributes(attribute.String("agent.id", a.id))
	defer span.End()

	var runErr error
	for !a.state.Terminal() {
		a.iteration++
		if a.iteration > a.config.MaxIterations {
			runErr = apperr.Newf(apperr.CodeAgentExecutionError,
				"Max iterations reached: %d", a.config.MaxIterations)
			a.state = StateFailed
			break
		}

		log.Debug("agent iteration started", "agent_id", a.id, "iteration", a.iteration)

		reasoning, err := a.reasoningPhase(ctx)
		if err != nil {
			runErr = err
			a.state = StateFailed
			break
		}

		if err := a.actionPhase(ctx, reasoning); err != nil {
			runErr = err
			a.state = StateFailed
			break
		}
	}

	a.saveLog()

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Error("agent run failed", "agent_id", a.id, "iteration", a.iteration, "error", runErr)
		return nil, runErr
	}

	result := &Result{State: a.state, Iterations: a.iteration}
	if a.finalAnswer != nil {
		result.Answer = a.finalAnswer.Answer
		result.ChatTitle = a.finalAnswer.ChatTitle
		result.ChatSummary = a.finalAnswer.ChatSummary
	}
	log.Info("agent run completed", "agent_id", a.id, "iterations", a.iteration)
	return result, nil
}

// reasoningPhase forces the reasoning tool and reads the structured
// plan back. Retries transient LLM failures up to MaxRetries.
func (a *Agent) reasoningPhase(ctx context.Context) (*tools.Reasoning, error) {
	reasoningTool, ok := a.registry.Get(tools.ToolNameReasoning)
	if !ok {
		return nil, apperr.New(apperr.CodeAgentExecutionError, "reasoning tool is not registered")
	}

	req := llms.GenerateRequest{
		Model:       a.config.Model,
		Messages:    a.conversation,
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
		Tools:       []llms.ToolDefinition{tools.Definition(reasoningTool.GetInfo())},
		ToolChoice:  llms.ToolChoiceFunction(tools.ToolNameReasoning),
	}

	completion, err := a.generateWithRetries(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(completion.ToolCalls) == 0 {
		return nil, apperr.New(apperr.CodeAgentExecutionError, "LLM returned no reasoning tool call")
	}

	call := completion.ToolCalls[0]
	var reasoning tools.Reasoning
	if err := tools.DecodeArgs(call.Args, &reasoning); err != nil {
		return nil, apperr.Wrap(apperr.CodeAgentExecutionError, "failed to parse reasoning", err)
	}

	callID := fmt.Sprintf("%d-reasoning", a.iteration)
	a.conversation = append(a.conversation,
		llms.Message{
			Role: "assistant",
			ToolCalls: []llms.ToolCall{{
				ID:   callID,
				Name: tools.ToolNameReasoning,
				Args: call.Args,
			}},
		},
		llms.Message{
			Role:       "tool",
			Content:    fmt.Sprintf("Reasoning accepted. Enough data: %t. Next step: %s", reasoning.EnoughData, reasoning.NextStep()),
			ToolCallID: callID,
		},
	)

	a.logReasoning(reasoning)
	return &reasoning, nil
}

// actionPhase lets the model pick one action tool and executes it.
func (a *Agent) actionPhase(ctx context.Context, reasoning *tools.Reasoning) error {
	req := llms.GenerateRequest{
		Model:       a.config.Model,
		Messages:    a.conversation,
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
		Tools:       a.registry.Definitions(),
		ToolChoice:  llms.ToolChoiceRequired,
	}

	completion, err := a.generateWithRetries(ctx, req)
	if err != nil {
		return err
	}
	if len(completion.ToolCalls) == 0 {
		return apperr.New(apperr.CodeAgentExecutionError, "LLM returned no tool call in action phase")
	}

	call := completion.ToolCalls[0]
	callID := fmt.Sprintf("%d-action", a.iteration)
	a.conversation = append(a.conversation, llms.Message{
		Role:    "assistant",
		Content: reasoning.NextStep(),
		ToolCalls: []llms.ToolCall{{
			ID:   callID,
			Name: call.Name,
			Args: call.Args,
		}},
	})

	result, execErr := a.registry.ExecuteTool(ctx, call.Name, call.Args)

	content := result.Content
	if execErr != nil {
		content = fmt.Sprintf("Tool %s failed: %s", call.Name, execErr)
	}
	a.conversation = append(a.conversation, llms.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: callID,
	})
	a.logToolExecution(call, result, execErr)

	// tool failures are fed back to the model, not fatal to the run
	if execErr == nil && call.Name == tools.ToolNameFinalAnswer {
		if answer, ok := result.Metadata["final_answer"].(tools.FinalAnswer); ok {
			a.finalAnswer = &answer
		}
		a.state = StateCompleted
	}
	return nil
}

// generateWithRetries retries transient LLM failures. Auth, rate-limit
// and bad-request errors abort immediately.
func (a *Agent) generateWithRetries(ctx context.Context, req llms.GenerateRequest) (*llms.Completion, error) {
	log := logger.GetLogger()

	var lastErr error
	for attempt := 1; attempt <= a.config.MaxRetries; attempt++ {
		completion, err := a.llm.Generate(ctx, req)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return nil, err
		}
		log.Warn("LLM call failed, retrying",
			"agent_id", a.id, "attempt", attempt, "max_retries", a.config.MaxRetries, "error", err)
	}
	return nil, lastErr
}

// ProvideClarification resumes a run that paused for clarification:
// the new messages are appended and the loop restarts.
func (a *Agent) ProvideClarification(messages []llms.Message) error {
	if a.clarificationsUsed >= a.config.MaxClarifications {
		return apperr.New(apperr.CodeAgentExecutionError, "clarification limit exhausted")
	}
	a.conversation = append(a.conversation, messages...)
	a.conversation = append(a.conversation, llms.Message{
		Role:    "user",
		Content: ClarificationTemplate,
	})
	a.clarificationsUsed++
	a.state = StateResearching
	return nil
}
