// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ApprovalResult is the human_approval operation's result.
type ApprovalResult struct {
	Approved bool   `json:"approved"`
	Response string `json:"response"`
}

// Approval is the synchronous human-approval gate. It writes the plan to out
// and blocks until a line is read from in.
//
// One goroutine reads in for the gate's lifetime, so a cancelled Ask leaves
// no reader behind. A line typed after its prompt was cancelled answers the
// next prompt.
type Approval struct {
	mu             sync.Mutex
	in             *bufio.Reader
	out            io.Writer
	nonInteractive bool

	start sync.Once
	lines chan answer
}

type answer struct {
	line string
	err  error
}

// NewApproval builds the gate. With nonInteractive set every plan is denied
// without prompting.
func NewApproval(in io.Reader, out io.Writer, nonInteractive bool) *Approval {
	return &Approval{in: bufio.NewReader(in), out: out, nonInteractive: nonInteractive, lines: make(chan answer)}
}

// Operation returns the human_approval operation.
func (a *Approval) Operation() Operation {
	return &Func{
		K:      KindHumanApproval,
		Desc:   "Show a correction plan to a human and wait for yes/no approval. Call this before any change to the knowledge graph.",
		Params: object(map[string]any{"plan": str("the step-by-step plan to approve")}, "plan"),
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			plan, err := stringArg(args, "plan")
			if err != nil {
				return nil, err
			}
			return a.Ask(ctx, plan)
		},
	}
}

// Ask prompts for approval of plan. Only "y" or "yes" approve.
func (a *Approval) Ask(ctx context.Context, plan string) (ApprovalResult, error) {
	if a.nonInteractive {
		return ApprovalResult{Approved: false, Response: "denied: non-interactive run"}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.start.Do(func() { go a.read() })

	fmt.Fprintf(a.out, "\n--- plan for approval ---\n%s\n-------------------------\nApprove? [y/N]: ", plan)

	select {
	case <-ctx.Done():
		return ApprovalResult{}, ctx.Err()
	case ans, ok := <-a.lines:
		if !ok {
			ans.err = io.EOF
		}
		if ans.err != nil && ans.err != io.EOF {
			return ApprovalResult{}, fmt.Errorf("reading approval: %w", ans.err)
		}
		resp := strings.ToLower(strings.TrimSpace(ans.line))
		approved := resp == "y" || resp == "yes"
		return ApprovalResult{Approved: approved, Response: resp}, nil
	}
}

// read feeds lines to Ask until in fails. The channel is closed after the
// final line.
func (a *Approval) read() {
	defer close(a.lines)
	for {
		line, err := a.in.ReadString('\n')
		a.lines <- answer{line, err}
		if err != nil {
			return
		}
	}
}
