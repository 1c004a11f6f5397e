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

var analystOps = []ops.Kind{ops.KindQuery, ops.KindGraphsGet, ops.KindGraphLabels, ops.KindWebSearch, ops.KindFetch}

// Analyst identifies gaps in the knowledge base.
type Analyst struct{ base }

// Run runs one loop over the knowledge base and records its gaps.
func (a *Analyst) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(a.stage)

	doc, resumed, err := begin(ctx, rc, a.stage, map[string]any{
		"knowledge_base_summary": "",
		"gaps":                   []any{},
	}, nil)
	if err != nil {
		return failure(a.stage, "", err)
	}
	id := doc.ReportID
	log.Info("analyst starting", zap.String("report_id", id), zap.Bool("resumed", resumed))

	task := fmt.Sprintf("Analyze the knowledge base and identify its gaps. Your report ID is %s.", id)
	out, err := rc.loop("analyst", rc.Prompts.get(PromptAnalyst), log, analystOps...).Run(ctx, task)
	if err != nil {
		return failure(a.stage, id, fmt.Errorf("analyst loop: %w", err))
	}

	var parsed struct {
		KnowledgeBaseSummary string      `json:"knowledge_base_summary"`
		Gaps                 []types.Gap `json:"gaps"`
	}
	if err := extract.Into(out.Final, extract.Analyst, &parsed); err != nil {
		log.Error("analyst output unrecoverable", zap.Error(err))
		return failure(a.stage, id, err)
	}
	gaps := normalizeGaps(parsed.Gaps)

	log.Info("analyst finished", zap.Int("gaps", len(gaps)), zap.Int("iterations", out.Iterations))
	return Outcome{
		Stage:    a.stage,
		ReportID: id,
		Patches: []report.Patch{
			report.Set("knowledge_base_summary", parsed.KnowledgeBaseSummary),
			report.Set("gaps", gaps),
		},
		Status: fmt.Sprintf("identified %d gaps", len(gaps)),
	}
}

// normalizeGaps gives every gap a unique ID and an empty search list.
func normalizeGaps(gaps []types.Gap) []types.Gap {
	out := make([]types.Gap, 0, len(gaps))
	seen := make(map[string]bool, len(gaps))
	for i, g := range gaps {
		if g.GapID == "" || seen[g.GapID] {
			for n := i + 1; ; n++ {
				g.GapID = fmt.Sprintf("g%d", n)
				if !seen[g.GapID] {
					break
				}
			}
		}
		seen[g.GapID] = true
		if g.ResearchTopic == "" {
			g.ResearchTopic = g.Description
		}
		if g.Searches == nil {
			g.Searches = []types.Search{}
		}
		g.Complete = false
		out = append(out, g)
	}
	return out
}
