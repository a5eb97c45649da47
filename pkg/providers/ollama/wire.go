package ollama

// Wire types for the /api/chat endpoint. The stream is NDJSON: one
// frame per line, the last one marked done with generation stats.

type request struct {
	Model    string                 `json:"model"`
	Messages []message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []tool                 `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// toolCall carries a complete call; the server does not stream partial
// arguments and provides no call ids.
type toolCall struct {
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"`
}

type responseFrame struct {
	Model      string   `json:"model"`
	CreatedAt  string   `json:"created_at"`
	Message    *message `json:"message,omitempty"`
	Done       bool     `json:"done"`
	DoneReason string   `json:"done_reason,omitempty"`

	// only on the done frame
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`

	Error string `json:"error,omitempty"`
}
