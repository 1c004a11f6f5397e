// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent runs the bounded tool-calling conversation between a language
// model and a fixed operation set.
//
// The loop alternates between AWAITING_MODEL and EXECUTING_OPERATIONS until
// the model answers without requesting operations (DONE) or the iteration cap,
// a model failure, or context cancellation ends it (FAILED). Operation
// failures never end the loop; they are fed back to the model as
// "error: ..." observations.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
)

// State is the loop's position in its state machine.
type State string

const (
	StateAwaitingModel       State = "AWAITING_MODEL"
	StateExecutingOperations State = "EXECUTING_OPERATIONS"
	StateDone                State = "DONE"
	StateFailed              State = "FAILED"
)

// ErrIterationsExhausted is returned when the cap is reached without a final answer.
var ErrIterationsExhausted = errors.New("iteration cap reached without a final answer")

const (
	defaultMaxIterations   = 50
	defaultMaxObservation  = 16000
	defaultMaxModelRetries = 2
)

// Loop configures one tool-calling conversation.
type Loop struct {
	// Name labels the loop in logs (e.g. "researcher/g1").
	Name string

	// Instructions is the fixed system prompt.
	Instructions string

	Ops   *ops.Set
	Model Model

	// MaxIterations caps model turns (default 50).
	MaxIterations int

	// MaxModelRetries bounds retries of one failed model call (default 2).
	MaxModelRetries int

	// MaxObservation truncates tool observations (default 16000 bytes).
	MaxObservation int

	Logger *zap.Logger
}

// CallRecord is one executed operation request.
type CallRecord struct {
	Turn   int
	ID     string
	Name   string
	Args   map[string]any
	Result any
	Err    error
}

// Outcome is the result of Run.
type Outcome struct {
	State      State
	Final      string
	Transcript []Message
	Calls      []CallRecord
	Iterations int
	Err        error
}

// CallsTo returns the records of calls to the named operation.
func (o *Outcome) CallsTo(name string) []CallRecord {
	var out []CallRecord
	for _, c := range o.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Run drives the conversation for task. The returned Outcome is never nil;
// the error is non-nil exactly when the outcome is FAILED.
func (l *Loop) Run(ctx context.Context, task string) (*Outcome, error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("loop", l.Name))

	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	retries := l.MaxModelRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxModelRetries
	}

	tools := toolDefs(l.Ops)
	out := &Outcome{
		State:      StateAwaitingModel,
		Transcript: []Message{{Role: RoleUser, Content: task}},
	}
	fail := func(err error) (*Outcome, error) {
		out.State = StateFailed
		out.Err = err
		log.Warn("loop failed", zap.Int("iterations", out.Iterations), zap.Error(err))
		return out, err
	}

	log.Debug("loop starting", zap.Strings("operations", l.Ops.Names()), zap.Int("max_iterations", maxIter))

	for out.Iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		out.Iterations++
		out.State = StateAwaitingModel

		req := Request{System: l.Instructions, Messages: append([]Message(nil), out.Transcript...), Tools: tools}
		resp, err := extract.Retry(ctx, retries, func(ctx context.Context) (Response, error) {
			return l.Model.Chat(ctx, req)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			return fail(fmt.Errorf("model call: %w", err))
		}

		if len(resp.ToolCalls) == 0 {
			out.Transcript = append(out.Transcript, Message{Role: RoleAssistant, Content: resp.Content})
			out.State = StateDone
			out.Final = resp.Content
			log.Debug("loop done", zap.Int("iterations", out.Iterations), zap.Int("calls", len(out.Calls)))
			return out, nil
		}

		calls := uniqueCalls(assignIDs(resp.ToolCalls), log)
		out.Transcript = append(out.Transcript, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: calls})
		out.State = StateExecutingOperations

		for _, call := range calls {
			result, err := l.invoke(ctx, call)
			out.Calls = append(out.Calls, CallRecord{
				Turn:   out.Iterations,
				ID:     call.ID,
				Name:   call.Name,
				Args:   call.Args,
				Result: result,
				Err:    err,
			})

			var obs string
			if err != nil {
				log.Debug("operation failed", zap.String("operation", call.Name), zap.Error(err))
				obs = "error: " + err.Error()
			} else {
				obs = l.observe(result)
			}
			out.Transcript = append(out.Transcript, Message{
				Role:       RoleTool,
				Content:    obs,
				ToolCallID: call.ID,
				Name:       call.Name,
			})

			if err := ctx.Err(); err != nil {
				return fail(err)
			}
		}
	}

	return fail(fmt.Errorf("%s after %d iterations: %w", l.Name, out.Iterations, ErrIterationsExhausted))
}

// invoke runs one call. Panics inside an operation become errors.
func (l *Loop) invoke(ctx context.Context, call ToolCall) (result any, err error) {
	op, ok := l.Ops.Lookup(call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown operation %q; available: %s", call.Name, strings.Join(l.Ops.Names(), ", "))
	}
	if err := ops.Validate(op, call.Args); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("operation %s panicked: %v", call.Name, r)
		}
	}()
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return op.Invoke(ctx, args)
}

// observe renders a result as the tool message content.
func (l *Loop) observe(result any) string {
	var s string
	switch v := result.(type) {
	case nil:
		s = "ok"
	case string:
		s = v
	case json.RawMessage:
		s = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(data)
		}
	}
	limit := l.MaxObservation
	if limit <= 0 {
		limit = defaultMaxObservation
	}
	if len(s) > limit {
		s = strings.ToValidUTF8(s[:limit], "") + "\n[truncated]"
	}
	return s
}

func assignIDs(calls []ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		out[i] = c
	}
	return out
}

// uniqueCalls drops repeated call IDs, keeping the first. Every call left has
// exactly one tool message in the transcript.
func uniqueCalls(calls []ToolCall, log *zap.Logger) []ToolCall {
	seen := make(map[string]bool, len(calls))
	out := calls[:0]
	for _, c := range calls {
		if seen[c.ID] {
			log.Debug("skipping duplicate call", zap.String("id", c.ID), zap.String("operation", c.Name))
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func toolDefs(set *ops.Set) []ToolDef {
	var defs []ToolDef
	for _, op := range set.Ops() {
		defs = append(defs, ToolDef{
			Name:        op.Kind().String(),
			Description: op.Description(),
			Parameters:  op.Schema(),
		})
	}
	return defs
}
