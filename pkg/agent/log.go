package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smartrag/smartrag/pkg/llms"
	"github.com/smartrag/smartrag/pkg/logger"
	"github.com/smartrag/smartrag/pkg/tools"
)

const (
	stepTypeReasoning     = "reasoning"
	stepTypeToolExecution = "tool_execution"
)

// StepLog is one recorded step of the run, written to the run log file
// for offline inspection.
type StepLog struct {
	StepNumber int       `json:"step_number"`
	Timestamp  time.Time `json:"timestamp"`
	StepType   string    `json:"step_type"`

	AgentReasoning *tools.Reasoning `json:"agent_reasoning,omitempty"`

	ToolName                 string                 `json:"tool_name,omitempty"`
	AgentToolContext         map[string]interface{} `json:"agent_tool_context,omitempty"`
	AgentToolExecutionResult string                 `json:"agent_tool_execution_result,omitempty"`
}

// runLog is the JSON document persisted per run. The API key never
// appears in the model config.
type runLog struct {
	ID           string                 `json:"id"`
	ModelConfig  map[string]interface{} `json:"model_config"`
	TaskMessages []llms.Message         `json:"task_messages"`
	Toolkit      []string               `json:"toolkit"`
	Log          []StepLog              `json:"log"`
}

func (a *Agent) logReasoning(reasoning tools.Reasoning) {
	a.steps = append(a.steps, StepLog{
		StepNumber:     len(a.steps) + 1,
		Timestamp:      time.Now(),
		StepType:       stepTypeReasoning,
		AgentReasoning: &reasoning,
	})
}

func (a *Agent) logToolExecution(call llms.ToolCall, result tools.ToolResult, execErr error) {
	outcome := result.Content
	if execErr != nil {
		outcome = execErr.Error()
	}
	a.steps = append(a.steps, StepLog{
		StepNumber:               len(a.steps) + 1,
		Timestamp:                time.Now(),
		StepType:                 stepTypeToolExecution,
		ToolName:                 call.Name,
		AgentToolContext:         call.Args,
		AgentToolExecutionResult: outcome,
	})
}

// saveLog writes the run log file. A blank LogsDir disables logging;
// write failures are reported but never fail the run.
func (a *Agent) saveLog() {
	if a.config.LogsDir == "" {
		return
	}
	log := logger.GetLogger()

	if err := os.MkdirAll(a.config.LogsDir, 0o755); err != nil {
		log.Warn("failed to create agent logs directory", "dir", a.config.LogsDir, "error", err)
		return
	}

	doc := runLog{
		ID: a.id,
		ModelConfig: map[string]interface{}{
			"model":       a.config.Model,
			"temperature": a.config.Temperature,
			"max_tokens":  a.config.MaxTokens,
		},
		TaskMessages: a.taskMessages,
		Toolkit:      a.registry.Names(),
		Log:          a.steps,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Warn("failed to marshal agent log", "agent_id", a.id, "error", err)
		return
	}

	name := fmt.Sprintf("%s-%s-log.json", time.Now().Format("20060102-150405"), a.id)
	path := filepath.Join(a.config.LogsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("failed to write agent log", "path", path, "error", err)
		return
	}
	log.Debug("agent log saved", "path", path)
}
