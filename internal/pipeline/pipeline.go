// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences the stage nodes. The orchestrator is a small
// state machine: run(stage) hands its outcome to persist(stage), which must
// complete before the next stage's run begins; after the last persist, or
// when the halt policy stops the chain, it reaches done.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/stage"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Task selects the full chain or one stage.
type Task struct {
	// Stage is empty for the full chain.
	Stage types.Stage
}

// Full is the task running every stage in order.
var Full = Task{}

// ParseTask accepts "full" (or "") and stage names.
func ParseTask(name string) (Task, error) {
	if name == "" || name == "full" {
		return Full, nil
	}
	s, err := types.ParseStage(name)
	if err != nil {
		return Task{}, err
	}
	return Task{Stage: s}, nil
}

// IsFull reports whether t runs the whole chain.
func (t Task) IsFull() bool { return t.Stage == "" }

func (t Task) String() string {
	if t.IsFull() {
		return "full"
	}
	return string(t.Stage)
}

// State is the orchestrator's position.
type State string

const (
	StateRun     State = "run"
	StatePersist State = "persist"
	StateDone    State = "done"
)

// Summary is what a run produced.
type Summary struct {
	Task    Task
	RunID   string
	Results []stage.Result
	// Halted is set when the halt policy or cancellation cut the chain short.
	Halted bool
}

// Failed reports whether any stage failed.
func (s Summary) Failed() bool {
	for _, r := range s.Results {
		if r.Failed() {
			return true
		}
	}
	return false
}

// Status concatenates the per-stage status lines.
func (s Summary) Status() string {
	lines := make([]string, 0, len(s.Results)+1)
	for _, r := range s.Results {
		lines = append(lines, statusLine(r))
	}
	if s.Halted {
		lines = append(lines, "pipeline halted")
	}
	return strings.Join(lines, "\n")
}

func statusLine(r stage.Result) string {
	line := fmt.Sprintf("%s: %s", r.Stage, r.Status)
	if r.ReportID != "" {
		line += " [" + r.ReportID + "]"
	}
	return line
}

// Orchestrator runs tasks over a fixed list of nodes.
type Orchestrator struct {
	// Nodes is the chain in order; nil means stage.Nodes().
	Nodes []stage.Node

	// HaltOnFailure stops the chain after a failed stage.
	HaltOnFailure bool

	Logger *zap.Logger

	mu     sync.Mutex
	status string
}

// Status returns the orchestrator's single observable status string.
func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s string) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) plan(t Task) ([]stage.Node, error) {
	nodes := o.Nodes
	if nodes == nil {
		nodes = stage.Nodes()
	}
	if t.IsFull() {
		return nodes, nil
	}
	for _, n := range nodes {
		if n.Stage() == t.Stage {
			return []stage.Node{n}, nil
		}
	}
	return nil, fmt.Errorf("no node for stage %q", t.Stage)
}

// Run executes task. The returned error is non-nil only for an unknown task
// or a cancelled context; stage failures are reported in the Summary.
func (o *Orchestrator) Run(ctx context.Context, rc *stage.RunContext, task Task) (Summary, error) {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", rc.RunID), zap.String("task", task.String()))

	sum := Summary{Task: task, RunID: rc.RunID}
	plan, err := o.plan(task)
	if err != nil {
		return sum, err
	}

	state := StateRun
	var (
		i   int
		out stage.Outcome
	)
	for state != StateDone {
		switch state {
		case StateRun:
			if i >= len(plan) {
				state = StateDone
				continue
			}
			if ctx.Err() != nil {
				sum.Halted = true
				state = StateDone
				continue
			}
			node := plan[i]
			o.setStatus(fmt.Sprintf("running %s", node.Stage()))
			log.Info("stage starting", zap.String("stage", string(node.Stage())))
			out = runStep(ctx, rc, node)
			state = StatePersist

		case StatePersist:
			node := plan[i]
			res := persistStep(ctx, rc, node, out)
			sum.Results = append(sum.Results, res)
			o.setStatus(statusLine(res))
			if res.Failed() {
				log.Warn("stage failed", zap.String("stage", string(res.Stage)), zap.String("status", res.Status), zap.Error(res.Err))
			} else {
				log.Info("stage finished", zap.String("stage", string(res.Stage)), zap.String("report_id", res.ReportID), zap.String("status", res.Status))
			}

			i++
			state = StateRun
			if res.Failed() && o.HaltOnFailure && i < len(plan) {
				sum.Halted = true
				state = StateDone
			}
		}
	}

	o.setStatus(sum.Status())
	log.Info("pipeline finished", zap.Int("stages", len(sum.Results)), zap.Bool("failed", sum.Failed()), zap.Bool("halted", sum.Halted))
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("pipeline cancelled: %w", err)
	}
	return sum, nil
}

// runStep runs a node, turning a panic into a failed outcome.
func runStep(ctx context.Context, rc *stage.RunContext, n stage.Node) (out stage.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s panicked: %v", n.Stage(), r)
			out = stage.Outcome{Stage: n.Stage(), Status: "failed: " + err.Error(), Err: err}
		}
	}()
	out = n.Run(ctx, rc)
	if out.Stage == "" {
		out.Stage = n.Stage()
	}
	return out
}

func persistStep(ctx context.Context, rc *stage.RunContext, n stage.Node, out stage.Outcome) (res stage.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("persisting %s panicked: %v", n.Stage(), r)
			res = stage.Result{Stage: n.Stage(), ReportID: out.ReportID, State: types.StateInProgress, Status: "failed: " + err.Error(), Err: err}
		}
	}()
	return n.Persist(ctx, rc, out)
}
