package tools

import (
	"context"
	"fmt"
	"time"
)

// Reasoning is the schema-guided reasoning state the LLM fills in at
// the start of every iteration.
type Reasoning struct {
	ReasoningSteps   []string `json:"reasoning_steps" jsonschema:"minItems=2,maxItems=4" jsonschema_description:"Step-by-step reasoning about the current state of the task"`
	CurrentSituation string   `json:"current_situation" jsonschema_description:"Summary of what is known and what was just learned"`
	PlanStatus       string   `json:"plan_status" jsonschema_description:"Status of the original plan and any adaptations made"`
	EnoughData       bool     `json:"enough_data" jsonschema_description:"Whether enough data is collected to produce the final answer"`
	RemainingSteps   []string `json:"remaining_steps" jsonschema:"minItems=1,maxItems=3" jsonschema_description:"Next 1-3 concrete steps to take"`
	TaskCompleted    bool     `json:"task_completed" jsonschema_description:"Whether the task is fully completed"`
}

// NextStep names the upcoming action, falling back to completion when
// the plan is exhausted.
func (r Reasoning) NextStep() string {
	if len(r.RemainingSteps) > 0 {
		return r.RemainingSteps[0]
	}
	return "Completing"
}

// ReasoningTool records the model's plan. It carries no side effects;
// its value is the structured state the agent loop reads back.
type ReasoningTool struct{}

func NewReasoningTool() *ReasoningTool { return &ReasoningTool{} }

func (t *ReasoningTool) GetName() string { return ToolNameReasoning }

func (t *ReasoningTool) GetDescription() string {
	return "Structured reasoning about the task: analyze the current situation, adapt the plan and decide the next step. Must be called before every action."
}

func (t *ReasoningTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        ToolNameReasoning,
		Description: t.GetDescription(),
		Schema:      SchemaFor(&Reasoning{}),
	}
}

func (t *ReasoningTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	var reasoning Reasoning
	if err := DecodeArgs(args, &reasoning); err != nil {
		return failure(ToolNameReasoning, start, err)
	}

	content := fmt.Sprintf("Reasoning accepted. Enough data: %t. Next step: %s",
		reasoning.EnoughData, reasoning.NextStep())
	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      ToolNameReasoning,
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"reasoning": reasoning},
	}, nil
}
