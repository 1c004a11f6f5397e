// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage implements the six pipeline stages. Each node runs one or
// more tool-calling loops against its slice of the operation set, recovers
// structured output from the model's answers, and records its progress in
// the report store one unit of work at a time.
//
// Nodes never return errors to the orchestrator. A failed stage persists a
// status beginning with "failed:" (when the report exists) and carries the
// cause in Result.Err.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/agent"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// ErrPredecessorMissing is returned when a stage's input report does not exist.
var ErrPredecessorMissing = errors.New("predecessor report missing")

// persistTimeout bounds the final status write, which runs even after the
// run's context is cancelled.
const persistTimeout = 30 * time.Second

// RunContext is the immutable state shared by every stage of one run.
type RunContext struct {
	RunID     string
	Timestamp time.Time
	Model     agent.Model
	Ops       *ops.Set
	Store     report.Store
	Logger    *zap.Logger
	Settings  types.StageConfig

	// StoreRetries bounds retries of one unit of persistence work.
	StoreRetries int

	Prompts Prompts
}

func (rc *RunContext) log(stage types.Stage) *zap.Logger {
	l := rc.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("run_id", rc.RunID), zap.String("stage", string(stage)))
}

// retry runs one unit of persistence work with backoff.
func (rc *RunContext) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := rc.StoreRetries
	if attempts <= 0 {
		attempts = 1
	}
	return report.WithRetry(ctx, attempts, fn)
}

// loop builds a tool-calling loop restricted to kinds.
func (rc *RunContext) loop(name, instructions string, log *zap.Logger, kinds ...ops.Kind) *agent.Loop {
	return &agent.Loop{
		Name:            name,
		Instructions:    instructions,
		Ops:             rc.Ops.Select(kinds...),
		Model:           rc.Model,
		MaxIterations:   rc.Settings.MaxIterations,
		MaxModelRetries: rc.Settings.MaxModelRetries,
		Logger:          log,
	}
}

// Outcome is what a node's run step hands to its persist step.
type Outcome struct {
	Stage    types.Stage
	ReportID string

	// Patches are applied together with the final state and status.
	Patches []report.Patch

	Status string
	Err    error
}

// Result is a stage's observable result after its persist step.
type Result struct {
	Stage    types.Stage
	ReportID string
	State    types.ReportState
	Status   string
	Err      error
}

// Failed reports whether the stage failed.
func (r Result) Failed() bool { return r.Err != nil }

// Node is one pipeline stage. The orchestrator calls Run then Persist.
type Node interface {
	Stage() types.Stage
	Run(ctx context.Context, rc *RunContext) Outcome
	Persist(ctx context.Context, rc *RunContext, out Outcome) Result
}

// base provides Stage and the shared persist step.
type base struct {
	stage types.Stage
}

func (b base) Stage() types.Stage { return b.stage }

// Persist writes the final patches, state and status of the stage's report.
// It uses a context detached from cancellation so a cancelled run still
// records why it stopped.
func (b base) Persist(ctx context.Context, rc *RunContext, out Outcome) Result {
	res := Result{Stage: b.stage, ReportID: out.ReportID, Status: out.Status, Err: out.Err}
	if out.ReportID == "" {
		res.State = types.StateNotStarted
		return res
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	patches := append(append([]report.Patch(nil), out.Patches...),
		report.Set("state", types.StateDone),
		report.Set("status", out.Status),
	)
	err := rc.retry(pctx, func(ctx context.Context) error {
		return rc.Store.Update(ctx, b.stage, out.ReportID, patches...)
	})
	if err != nil {
		err = fmt.Errorf("persisting %s report %s: %w", b.stage, out.ReportID, err)
		rc.log(b.stage).Error("persist failed", zap.Error(err))
		res.State = types.StateInProgress
		res.Status = "failed: " + err.Error()
		res.Err = errors.Join(out.Err, err)
		return res
	}
	res.State = types.StateDone
	return res
}

// failure builds the outcome of a stage that could not finish.
func failure(stage types.Stage, reportID string, err error) Outcome {
	return Outcome{Stage: stage, ReportID: reportID, Status: "failed: " + err.Error(), Err: err}
}

// begin resumes the latest unfinished report of stage when resumable
// accepts it, and otherwise creates a fresh in_progress report from fresh.
func begin(ctx context.Context, rc *RunContext, stage types.Stage, fresh map[string]any, resumable func(*report.Document) bool) (*report.Document, bool, error) {
	latest, err := rc.Store.Latest(ctx, stage)
	switch {
	case err == nil:
		if latest.State() == types.StateInProgress && (resumable == nil || resumable(latest)) {
			return latest, true, nil
		}
	case !errors.Is(err, report.ErrNotFound):
		return nil, false, fmt.Errorf("loading latest %s report: %w", stage, err)
	}

	fresh["report_id"] = report.NewID(stage, rc.Timestamp)
	fresh["state"] = types.StateInProgress
	fresh["status"] = "started"

	var id string
	err = rc.retry(ctx, func(ctx context.Context) error {
		var cerr error
		id, cerr = rc.Store.Create(ctx, stage, fresh)
		return cerr
	})
	if err != nil {
		return nil, false, fmt.Errorf("creating %s report: %w", stage, err)
	}
	doc, err := rc.Store.Get(ctx, stage, id)
	if err != nil {
		return nil, false, fmt.Errorf("reading new %s report: %w", stage, err)
	}
	return doc, false, nil
}

// predecessor returns the latest report of stage, mapping absence to
// ErrPredecessorMissing.
func predecessor(ctx context.Context, rc *RunContext, stage types.Stage) (*report.Document, error) {
	doc, err := rc.Store.Latest(ctx, stage)
	if errors.Is(err, report.ErrNotFound) {
		return nil, fmt.Errorf("%w: no %s report", ErrPredecessorMissing, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s report: %w", stage, err)
	}
	return doc, nil
}

// Capabilities lists the operations each stage's loops may use.
var Capabilities = map[types.Stage][]ops.Kind{
	types.StageAnalyst:    analystOps,
	types.StageResearcher: researcherOps,
	types.StageCurator:    append(append([]ops.Kind(nil), rankerOps...), ingesterOps...),
	types.StageAuditor:    auditorOps,
	types.StageFixer:      fixerOps,
	types.StageAdvisor:    advisorOps,
}

// CheckCapabilities reports, per stage, the operations the set lacks.
func CheckCapabilities(set *ops.Set, stages ...types.Stage) map[types.Stage]error {
	missing := make(map[types.Stage]error)
	for _, s := range stages {
		if err := set.Require(Capabilities[s]...); err != nil {
			missing[s] = err
		}
	}
	return missing
}

// Nodes returns the six stage nodes in chain order.
func Nodes() []Node {
	return []Node{
		&Analyst{base{types.StageAnalyst}},
		&Researcher{base{types.StageResearcher}},
		&Curator{base{types.StageCurator}},
		&Auditor{base{types.StageAuditor}},
		&Fixer{base{types.StageFixer}},
		&Advisor{base{types.StageAdvisor}},
	}
}

// ForStage returns the node for one stage.
func ForStage(s types.Stage) (Node, error) {
	for _, n := range Nodes() {
		if n.Stage() == s {
			return n, nil
		}
	}
	return nil, fmt.Errorf("no node for stage %q", s)
}
