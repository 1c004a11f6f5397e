// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var auditorOps = []ops.Kind{ops.KindGraphsGet, ops.KindGraphLabels, ops.KindQuery}

// Auditor scans the knowledge store for quality issues.
type Auditor struct{ base }

func (a *Auditor) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(a.stage)

	doc, resumed, err := begin(ctx, rc, a.stage, map[string]any{"summary": "", "issues": []any{}}, nil)
	if err != nil {
		return failure(a.stage, "", err)
	}
	id := doc.ReportID
	log.Info("auditor starting", zap.String("report_id", id), zap.Bool("resumed", resumed))

	task := fmt.Sprintf("Audit the knowledge graph for data quality issues. Your report ID is %s.", id)
	out, err := rc.loop("auditor", rc.Prompts.get(PromptAuditor), log, auditorOps...).Run(ctx, task)
	if err != nil {
		return failure(a.stage, id, fmt.Errorf("auditor loop: %w", err))
	}

	var parsed struct {
		Summary string        `json:"summary"`
		Issues  []types.Issue `json:"issues"`
	}
	if err := extract.Into(out.Final, extract.Audit, &parsed); err != nil {
		log.Error("auditor output unrecoverable", zap.Error(err))
		return failure(a.stage, id, err)
	}
	issues := make([]types.Issue, 0, len(parsed.Issues))
	for i, is := range parsed.Issues {
		if is.IssueID == "" {
			is.IssueID = fmt.Sprintf("i%d", i+1)
		}
		issues = append(issues, is)
	}

	log.Info("auditor finished", zap.Int("issues", len(issues)))
	return Outcome{
		Stage:    a.stage,
		ReportID: id,
		Patches: []report.Patch{
			report.Set("summary", parsed.Summary),
			report.Set("issues", issues),
		},
		Status: fmt.Sprintf("found %d issues", len(issues)),
	}
}
