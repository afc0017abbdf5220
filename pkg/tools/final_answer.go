package tools

import (
	"context"
	"time"
)

// FinalAnswer carries the completed response plus the dialog metadata
// used when persisting the transcript.
type FinalAnswer struct {
	Answer      string `json:"answer" jsonschema_description:"Complete final answer to the user's request, in the user's language"`
	ChatTitle   string `json:"chat_title" jsonschema_description:"Short dialog title (up to 80 characters) in the user's language"`
	ChatSummary string `json:"chat_summary" jsonschema_description:"One-paragraph summary of the dialog in the user's language"`
}

// FinalAnswerTool terminates the agent run. The agent loop watches for
// this tool name and switches to the completed state.
type FinalAnswerTool struct{}

func NewFinalAnswerTool() *FinalAnswerTool { return &FinalAnswerTool{} }

func (t *FinalAnswerTool) GetName() string { return ToolNameFinalAnswer }

func (t *FinalAnswerTool) GetDescription() string {
	return "Deliver the final answer once enough data is collected. Ends the task."
}

func (t *FinalAnswerTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        ToolNameFinalAnswer,
		Description: t.GetDescription(),
		Schema:      SchemaFor(&FinalAnswer{}),
	}
}

func (t *FinalAnswerTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	var answer FinalAnswer
	if err := DecodeArgs(args, &answer); err != nil {
		return failure(ToolNameFinalAnswer, start, err)
	}

	return ToolResult{
		Success:       true,
		Content:       answer.Answer,
		ToolName:      ToolNameFinalAnswer,
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"final_answer": answer,
		},
	}, nil
}
