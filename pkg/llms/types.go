package llms

// Message is one chat turn. Tool calls ride on assistant turns; tool
// results carry the id of the call they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolDefinition is a function schema exposed to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolChoice constrains which tool the model must call.
// Mode is one of "auto", "none", "required" or "function"; Function names
// the forced tool when Mode is "function".
type ToolChoice struct {
	Mode     string
	Function string
}

var (
	ToolChoiceAuto     = &ToolChoice{Mode: "auto"}
	ToolChoiceRequired = &ToolChoice{Mode: "required"}
)

func ToolChoiceFunction(name string) *ToolChoice {
	return &ToolChoice{Mode: "function", Function: name}
}

type GenerateRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	N           int
	Tools       []ToolDefinition
	ToolChoice  *ToolChoice
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the aggregated result of one chat-completions call.
// Contents holds every returned choice; Content mirrors the first one.
type Completion struct {
	Content      string
	Contents     []string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

type StreamChunk struct {
	Type     string // "text", "tool_call", "done", "error"
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}
