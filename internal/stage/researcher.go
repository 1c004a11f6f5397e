// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var researcherOps = []ops.Kind{ops.KindWebSearch, ops.KindScholarSearch}

// Researcher runs one search loop per analyst gap and merges each gap's
// searches into the researcher report as soon as that gap finishes.
type Researcher struct{ base }

// Run researches every gap not yet marked complete.
func (r *Researcher) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(r.stage)

	ana, err := predecessor(ctx, rc, types.StageAnalyst)
	if err != nil {
		return failure(r.stage, "", err)
	}
	var analyst types.AnalystReport
	if err := ana.Decode(&analyst); err != nil {
		return failure(r.stage, "", fmt.Errorf("decoding analyst report %s: %w", ana.ReportID, err))
	}

	doc, resumed, err := begin(ctx, rc, r.stage, map[string]any{
		"analyst_report_id": ana.ReportID,
		"gaps":              normalizeGaps(analyst.Gaps),
	}, func(d *report.Document) bool {
		return d.Field("analyst_report_id").String() == ana.ReportID
	})
	if err != nil {
		return failure(r.stage, "", err)
	}
	id := doc.ReportID

	var current types.ResearcherReport
	if err := doc.Decode(&current); err != nil {
		return failure(r.stage, id, fmt.Errorf("decoding researcher report %s: %w", id, err))
	}
	var todo []types.Gap
	for _, g := range current.Gaps {
		if !g.Complete {
			todo = append(todo, g)
		}
	}
	log.Info("researcher starting",
		zap.String("report_id", id),
		zap.String("analyst_report_id", ana.ReportID),
		zap.Bool("resumed", resumed),
		zap.Int("gaps", len(current.Gaps)),
		zap.Int("todo", len(todo)))

	workers := rc.Settings.ResearcherWorkers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		done   int
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, gap := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, err := r.researchGap(gctx, rc, log, id, gap)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("gap skipped", zap.String("gap_id", gap.GapID), zap.Error(err))
				failed = append(failed, gap.GapID)
				return nil
			}
			log.Info("gap complete", zap.String("gap_id", gap.GapID), zap.Int("searches", n))
			done++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failure(r.stage, id, fmt.Errorf("researcher interrupted after %d of %d gaps: %w", done, len(todo), err))
	}
	if err := ctx.Err(); err != nil {
		return failure(r.stage, id, err)
	}

	complete := len(current.Gaps) - len(todo) + done
	status := fmt.Sprintf("researched %d of %d gaps", complete, len(current.Gaps))
	if len(failed) > 0 {
		status += fmt.Sprintf(" (skipped %s)", strings.Join(failed, ", "))
	}
	if len(todo) > 0 && done == 0 {
		return failure(r.stage, id, fmt.Errorf("every gap failed: %s", strings.Join(failed, ", ")))
	}
	return Outcome{Stage: r.stage, ReportID: id, Status: status}
}

// researchGap runs the search loop for one gap and merges its searches.
func (r *Researcher) researchGap(ctx context.Context, rc *RunContext, log *zap.Logger, reportID string, gap types.Gap) (int, error) {
	task := "Research topic: " + gap.ResearchTopic
	if gap.Description != "" && gap.Description != gap.ResearchTopic {
		task += "\nWhat is missing: " + gap.Description
	}

	out, err := rc.loop("researcher/"+gap.GapID, rc.Prompts.get(PromptSearcher), log.With(zap.String("gap_id", gap.GapID)), researcherOps...).Run(ctx, task)
	if err != nil {
		return 0, fmt.Errorf("search loop: %w", err)
	}

	var parsed struct {
		Searches []types.Search `json:"searches"`
	}
	if err := extract.Into(out.Final, extract.Searches, &parsed); err != nil {
		return 0, err
	}
	searches := normalizeSearches(gap.GapID, parsed.Searches)

	sel := fmt.Sprintf("gaps[gap_id=%s]", gap.GapID)
	err = rc.retry(ctx, func(ctx context.Context) error {
		return rc.Store.Update(ctx, types.StageResearcher, reportID,
			report.Append(sel+".searches", searches),
			report.Set(sel+".complete", true),
		)
	})
	if err != nil {
		if errors.Is(err, report.ErrBadPath) {
			return 0, fmt.Errorf("gap %s not in report %s: %w", gap.GapID, reportID, err)
		}
		return 0, fmt.Errorf("merging searches: %w", err)
	}
	return len(searches), nil
}

// normalizeSearches gives every search an ID unique within its gap and drops
// results without a URL.
func normalizeSearches(gapID string, searches []types.Search) []types.Search {
	out := make([]types.Search, 0, len(searches))
	seen := make(map[string]bool, len(searches))
	for i, s := range searches {
		if s.SearchID == "" || seen[s.SearchID] {
			s.SearchID = fmt.Sprintf("%s_s%d", gapID, i+1)
		}
		seen[s.SearchID] = true
		hits := make([]types.SearchHit, 0, len(s.Results))
		for _, h := range s.Results {
			if h.URL != "" {
				hits = append(hits, h)
			}
		}
		s.Results = hits
		if s.Parameters == nil {
			s.Parameters = map[string]any{}
		}
		out = append(out, s)
	}
	return out
}
