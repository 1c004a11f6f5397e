// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is one operation request from the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolDef describes an operation the model may request.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one model turn's input.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// Response is the model's next step: operation requests, or a final answer
// when ToolCalls is empty.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Model is the language model handle. Implementations must be safe for
// concurrent use.
type Model interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) (Response, error)

// Chat calls f.
func (f ModelFunc) Chat(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
