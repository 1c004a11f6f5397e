// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stagetest provides a scripted model and recording operations for
// testing stages and the pipeline without a language model or network.
package stagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pdiddy/knowledge-gardener/internal/agent"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Handler produces the model's next step for one loop.
type Handler func(req agent.Request) (agent.Response, error)

// Model dispatches each request to the handler registered for its system
// prompt. Use it with Prompts so each loop's system prompt is its name.
type Model struct {
	mu       sync.Mutex
	handlers map[string]Handler
	requests map[string]int
}

// NewModel returns a model with handlers keyed by prompt name.
func NewModel(handlers map[string]Handler) *Model {
	return &Model{handlers: handlers, requests: make(map[string]int)}
}

// Chat implements agent.Model.
func (m *Model) Chat(_ context.Context, req agent.Request) (agent.Response, error) {
	m.mu.Lock()
	h, ok := m.handlers[req.System]
	m.requests[req.System]++
	m.mu.Unlock()
	if !ok {
		return agent.Response{}, fmt.Errorf("no handler for prompt %q", req.System)
	}
	return h(req)
}

// Requests returns how many model calls the named prompt received.
func (m *Model) Requests(prompt string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[prompt]
}

// Prompts maps every name to itself, so the system prompt identifies the loop.
func Prompts(names ...string) map[string]string {
	p := make(map[string]string, len(names))
	for _, n := range names {
		p[n] = n
	}
	return p
}

// Answer replies with text at once.
func Answer(text string) Handler {
	return func(agent.Request) (agent.Response, error) {
		return agent.Response{Content: text}, nil
	}
}

// Fail makes every call fail.
func Fail(msg string) Handler {
	return func(agent.Request) (agent.Response, error) {
		return agent.Response{}, errors.New(msg)
	}
}

// CallThen requests calls on the first turn and answers text once their
// observations are in the conversation.
func CallThen(calls []agent.ToolCall, text string) Handler {
	return func(req agent.Request) (agent.Response, error) {
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == agent.RoleTool {
			return agent.Response{Content: text}, nil
		}
		return agent.Response{ToolCalls: calls}, nil
	}
}

// ByTask picks a handler by a substring of the loop's task message.
func ByTask(routes map[string]Handler, fallback Handler) Handler {
	return func(req agent.Request) (agent.Response, error) {
		task := ""
		if len(req.Messages) > 0 {
			task = req.Messages[0].Content
		}
		for key, h := range routes {
			if strings.Contains(task, key) {
				return h(req)
			}
		}
		return fallback(req)
	}
}

// Call builds a tool call.
func Call(id, name string, args map[string]any) agent.ToolCall {
	return agent.ToolCall{ID: id, Name: name, Args: args}
}

// Ops is a full operation set with canned results. It records every call.
type Ops struct {
	// FailFetch lists URLs whose fetch fails.
	FailFetch map[string]bool

	// Approve is the human_approval answer.
	Approve bool

	mu    sync.Mutex
	calls []string
}

// Calls returns "<operation>" or "<operation>:<url>" for every invocation.
func (o *Ops) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

// Called reports whether the named operation was invoked.
func (o *Ops) Called(name string) bool {
	for _, c := range o.Calls() {
		if c == name || strings.HasPrefix(c, name+":") {
			return true
		}
	}
	return false
}

func (o *Ops) record(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, s)
}

func (o *Ops) fixed(k ops.Kind, result any) ops.Operation {
	return &ops.Func{K: k, Desc: k.String(), Fn: func(context.Context, map[string]any) (any, error) {
		o.record(k.String())
		return result, nil
	}}
}

// Set returns every operation kind.
func (o *Ops) Set() *ops.Set {
	hits := []types.SearchHit{{URL: "http://a", Title: "A"}}
	return ops.NewSet(
		o.fixed(ops.KindQuery, "the knowledge base covers X"),
		o.fixed(ops.KindGraphsGet, map[string]any{"nodes": []any{}, "edges": []any{}}),
		o.fixed(ops.KindGraphLabels, []string{"X"}),
		o.fixed(ops.KindWebSearch, hits),
		o.fixed(ops.KindScholarSearch, hits),
		&ops.Func{
			K:      ops.KindFetch,
			Desc:   "fetch",
			Params: map[string]any{"type": "object", "required": []any{"url"}, "properties": map[string]any{"url": map[string]any{"type": "string"}}},
			Fn: func(_ context.Context, args map[string]any) (any, error) {
				u, _ := args["url"].(string)
				o.record("fetch:" + u)
				if o.FailFetch[u] {
					return nil, errors.New("connection reset by peer")
				}
				return map[string]any{"url": u, "text": "content of " + u}, nil
			},
		},
		o.fixed(ops.KindDocumentsInsertText, map[string]any{"status": "success"}),
		o.fixed(ops.KindDocumentsPipelineStatus, map[string]any{"busy": false}),
		o.fixed(ops.KindGraphUpdateEntity, map[string]any{"status": "success"}),
		o.fixed(ops.KindDocumentsDeleteEntity, map[string]any{"status": "success"}),
		o.fixed(ops.KindGraphUpdateRelation, map[string]any{"status": "success"}),
		o.fixed(ops.KindDocumentsDeleteRelation, map[string]any{"status": "success"}),
		o.fixed(ops.KindGraphEntityExists, map[string]any{"exists": true}),
		o.fixed(ops.KindListDirectory, []ops.DirEntry{}),
		o.fixed(ops.KindReadTextFile, ""),
		o.fixed(ops.KindLoadReport, json.RawMessage(`{}`)),
		&ops.Func{
			K:    ops.KindHumanApproval,
			Desc: "approval",
			Fn: func(context.Context, map[string]any) (any, error) {
				o.record("human_approval")
				resp := "n"
				if o.Approve {
					resp = "y"
				}
				return ops.ApprovalResult{Approved: o.Approve, Response: resp}, nil
			},
		},
	)
}
