// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var fixerOps = []ops.Kind{
	ops.KindHumanApproval,
	ops.KindLoadReport,
	ops.KindGraphEntityExists,
	ops.KindGraphUpdateEntity,
	ops.KindDocumentsDeleteEntity,
	ops.KindGraphUpdateRelation,
	ops.KindDocumentsDeleteRelation,
}

// Status strings for fixer runs that change nothing.
const (
	StatusPlanDenied = "plan denied, no changes made"
	StatusNoActions  = "no actions taken"
)

var errNotApproved = errors.New("no approved plan: call human_approval with your plan and wait for approval before changing the graph")

// Fixer corrects the auditor's issues behind a human-approval gate.
type Fixer struct{ base }

func (f *Fixer) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(f.stage)

	aud, err := predecessor(ctx, rc, types.StageAuditor)
	if err != nil {
		return failure(f.stage, "", err)
	}

	doc, resumed, err := begin(ctx, rc, f.stage, map[string]any{
		"auditor_report_id": aud.ReportID,
		"plan":              "",
		"approval":          types.Approval{},
		"actions":           []any{},
	}, func(d *report.Document) bool {
		return d.Field("auditor_report_id").String() == aud.ReportID
	})
	if err != nil {
		return failure(f.stage, "", err)
	}
	id := doc.ReportID
	log.Info("fixer starting", zap.String("report_id", id), zap.String("auditor_report_id", aud.ReportID), zap.Bool("resumed", resumed))

	issues := aud.Field("issues").Array()
	if len(issues) == 0 {
		return Outcome{Stage: f.stage, ReportID: id, Status: StatusNoActions}
	}

	var prior struct {
		Actions []types.FixAction `json:"actions"`
	}
	if resumed {
		if err := doc.Decode(&prior); err != nil {
			return failure(f.stage, id, fmt.Errorf("decoding fixer report %s: %w", id, err))
		}
	}
	gate := &approvalGate{actions: prior.Actions, record: func(ctx context.Context, patches ...report.Patch) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		err := rc.retry(pctx, func(ctx context.Context) error {
			return rc.Store.Update(ctx, f.stage, id, patches...)
		})
		if err != nil {
			log.Error("recording fixer progress failed", zap.String("report_id", id), zap.Error(err))
		}
	}}
	loop := rc.loop("fixer", rc.Prompts.get(PromptFixer), log, fixerOps...)
	loop.Ops = loop.Ops.Map(gate.wrap)

	task := fmt.Sprintf("Fix the %d issues in auditor report %s. Your report ID is %s.", len(issues), aud.ReportID, id)
	out, loopErr := loop.Run(ctx, task)

	approval, plan, actions := gate.snapshot()
	var parsed struct {
		Plan string `json:"plan"`
	}
	var parseErr error
	if loopErr == nil {
		parseErr = extract.Into(out.Final, extract.Fix, &parsed)
	}
	if plan == "" {
		plan = parsed.Plan
	}

	res := Outcome{
		Stage:    f.stage,
		ReportID: id,
		Patches: []report.Patch{
			report.Set("plan", plan),
			report.Set("approval", approval),
			report.Set("actions", actions),
		},
	}
	switch {
	case loopErr != nil:
		res.Err = fmt.Errorf("fixer loop: %w", loopErr)
	case parseErr != nil:
		res.Err = parseErr
	}

	applied := 0
	for _, a := range actions {
		if a.Outcome == "ok" {
			applied++
		}
	}
	switch {
	case approval.Requested && !approval.Approved:
		res.Status = StatusPlanDenied
	case len(actions) == 0:
		res.Status = StatusNoActions
	default:
		res.Status = fmt.Sprintf("executed %d of %d actions", applied, len(actions))
	}
	if res.Err != nil {
		log.Error("fixer failed", zap.Error(res.Err))
		res.Status = "failed: " + res.Err.Error() + " (" + res.Status + ")"
	}
	log.Info("fixer finished", zap.Bool("approved", approval.Approved), zap.Int("actions", len(actions)))
	return res
}

// approvalGate lets mutating operations run only after human_approval
// returned approved in the same loop, and records what they did. Each answer
// and each action is written to the in-progress report as soon as it happens,
// so an interrupted run still shows what changed the graph.
type approvalGate struct {
	mu       sync.Mutex
	approval types.Approval
	plan     string
	actions  []types.FixAction

	// record writes patches to the fixer report. Nil records nothing.
	record func(ctx context.Context, patches ...report.Patch)
}

func (g *approvalGate) wrap(op ops.Operation) ops.Operation {
	switch {
	case op.Kind() == ops.KindHumanApproval:
		return &ops.Func{K: op.Kind(), Desc: op.Description(), Params: op.Schema(),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				res, err := op.Invoke(ctx, args)
				approval, plan := g.recordApproval(args, res, err)
				g.persist(ctx, report.Set("plan", plan), report.Set("approval", approval))
				return res, err
			}}
	case op.Kind().Mutating():
		return &ops.Func{K: op.Kind(), Desc: op.Description(), Params: op.Schema(),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				if !g.approved() {
					return nil, errNotApproved
				}
				res, err := op.Invoke(ctx, args)
				g.persist(ctx, report.Append("actions", g.recordAction(op.Kind(), args, err)))
				return res, err
			}}
	default:
		return op
	}
}

func (g *approvalGate) approved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approval.Approved
}

// recordApproval keeps the latest answer; a later denial revokes an earlier
// approval.
func (g *approvalGate) recordApproval(args map[string]any, res any, err error) (types.Approval, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approval.Requested = true
	if plan, ok := args["plan"].(string); ok {
		g.plan = plan
	}
	switch data, merr := json.Marshal(res); {
	case err != nil:
		g.approval.Approved = false
		g.approval.Response = "error: " + err.Error()
	case merr != nil:
		g.approval.Approved = false
	default:
		g.approval.Approved = gjson.GetBytes(data, "approved").Bool()
		g.approval.Response = gjson.GetBytes(data, "response").String()
	}
	return g.approval, g.plan
}

func (g *approvalGate) recordAction(k ops.Kind, args map[string]any, err error) types.FixAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error: " + err.Error()
	}
	a := types.FixAction{Operation: k.String(), Arguments: args, Outcome: outcome}
	g.actions = append(g.actions, a)
	return a
}

func (g *approvalGate) persist(ctx context.Context, patches ...report.Patch) {
	if g.record != nil {
		g.record(ctx, patches...)
	}
}

func (g *approvalGate) snapshot() (types.Approval, string, []types.FixAction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approval, g.plan, append([]types.FixAction{}, g.actions...)
}
