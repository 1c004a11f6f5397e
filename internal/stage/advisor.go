// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var advisorOps = []ops.Kind{ops.KindLoadReport, ops.KindListDirectory, ops.KindReadTextFile}

// Advisor turns the audit and fix history into systemic recommendations.
type Advisor struct{ base }

func (a *Advisor) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(a.stage)

	aud, err := predecessor(ctx, rc, types.StageAuditor)
	if err != nil {
		return failure(a.stage, "", err)
	}
	fixerID := ""
	if fix, err := predecessor(ctx, rc, types.StageFixer); err == nil {
		fixerID = fix.ReportID
	} else if !errors.Is(err, ErrPredecessorMissing) {
		return failure(a.stage, "", err)
	}

	doc, resumed, err := begin(ctx, rc, a.stage, map[string]any{
		"auditor_report_id": aud.ReportID,
		"fixer_report_id":   fixerID,
		"recommendations":   []any{},
	}, func(d *report.Document) bool {
		return d.Field("auditor_report_id").String() == aud.ReportID
	})
	if err != nil {
		return failure(a.stage, "", err)
	}
	id := doc.ReportID
	log.Info("advisor starting", zap.String("report_id", id), zap.Bool("resumed", resumed))

	task := fmt.Sprintf("Review auditor report %s", aud.ReportID)
	if fixerID != "" {
		task += fmt.Sprintf(" and fixer report %s", fixerID)
	}
	task += fmt.Sprintf(" and recommend at most %d systemic improvements.", types.MaxRecommendations)

	out, err := rc.loop("advisor", rc.Prompts.get(PromptAdvisor), log, advisorOps...).Run(ctx, task)
	if err != nil {
		return failure(a.stage, id, fmt.Errorf("advisor loop: %w", err))
	}
	var parsed struct {
		Recommendations []types.Recommendation `json:"recommendations"`
	}
	if err := extract.Into(out.Final, extract.Advice, &parsed); err != nil {
		log.Error("advisor output unrecoverable", zap.Error(err))
		return failure(a.stage, id, err)
	}
	recs := parsed.Recommendations
	if recs == nil {
		recs = []types.Recommendation{}
	}
	if len(recs) > types.MaxRecommendations {
		log.Debug("recommendations capped", zap.Int("returned", len(recs)))
		recs = recs[:types.MaxRecommendations]
	}

	return Outcome{
		Stage:    a.stage,
		ReportID: id,
		Patches:  []report.Patch{report.Set("recommendations", recs)},
		Status:   fmt.Sprintf("made %d recommendations", len(recs)),
	}
}
