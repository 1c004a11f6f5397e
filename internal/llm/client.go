// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm adapts an OpenAI-compatible chat-completions endpoint to the
// agent.Model interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/agent"
	"github.com/pdiddy/knowledge-gardener/internal/httputil"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []tool        `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name string `json:"name"`
	// Arguments is a JSON-encoded object.
	Arguments string `json:"arguments"`
}

type tool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Client calls <endpoint>/chat/completions.
type Client struct {
	http        *httputil.Client
	model       string
	temperature float64
	log         *zap.Logger
}

// New builds a Client. The API key, when set, is sent as a bearer token.
func New(cfg types.ModelConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := httputil.NewClient(cfg.HTTPConfig, cfg.Endpoint, log)
	if cfg.APIKey != "" {
		c.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Client{http: c, model: cfg.Model, temperature: cfg.Temperature, log: log.Named("llm")}
}

// Chat sends one turn and maps the first choice back to an agent.Response.
func (c *Client) Chat(ctx context.Context, req agent.Request) (agent.Response, error) {
	body := chatRequest{Model: c.model, Messages: toWire(req)}
	if c.temperature > 0 {
		t := c.temperature
		body.Temperature = &t
	}
	for _, td := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type:     "function",
			Function: functionDef{Name: td.Name, Description: td.Description, Parameters: td.Parameters},
		})
	}

	var resp chatResponse
	if err := c.http.JSON(ctx, http.MethodPost, "/chat/completions", nil, body, &resp); err != nil {
		return agent.Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp.Error != nil {
		return agent.Response{}, fmt.Errorf("chat completion: %s (%s)", resp.Error.Message, resp.Error.Type)
	}
	if len(resp.Choices) == 0 {
		return agent.Response{}, errors.New("chat completion: no choices in response")
	}

	msg := resp.Choices[0].Message
	out := agent.Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: c.parseArgs(tc.Function.Name, tc.Function.Arguments),
		})
	}
	return out, nil
}

// parseArgs decodes tool arguments, repairing malformed JSON. Arguments that
// cannot be decoded become nil so schema validation reports them to the model.
func (c *Client) parseArgs(name, raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.RepairJSON(raw)
	if err == nil && json.Unmarshal([]byte(repaired), &args) == nil {
		return args
	}
	c.log.Warn("undecodable tool arguments", zap.String("operation", name), zap.String("arguments", raw))
	return nil
}

func toWire(req agent.Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: agent.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		wm := chatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil || tc.Args == nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: functionCall{Name: tc.Name, Arguments: string(args)},
			})
		}
		msgs = append(msgs, wm)
	}
	return msgs
}
