// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// ReportReader is the read side of the report store.
type ReportReader interface {
	Get(ctx context.Context, stage types.Stage, id string) (*report.Document, error)
	Latest(ctx context.Context, stage types.Stage) (*report.Document, error)
}

// ReportLookup returns the load_report operation backed by store.
func ReportLookup(store ReportReader) Operation {
	return &Func{
		K:    KindLoadReport,
		Desc: "Load a pipeline report. Give report_id for a specific report, or stage (analyst, researcher, curator, auditor, fixer, advisor) for its latest report.",
		Params: object(map[string]any{
			"stage":     str("stage whose latest report to load"),
			"report_id": str("identifier of a specific report, e.g. aud_20250101_120000"),
		}),
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			if id := optString(args, "report_id", ""); id != "" {
				stage, _, err := report.ParseID(id)
				if err != nil {
					return nil, err
				}
				doc, err := store.Get(ctx, stage, id)
				if err != nil {
					return nil, err
				}
				return json.RawMessage(doc.Body), nil
			}

			name := optString(args, "stage", "")
			if name == "" {
				return nil, fmt.Errorf("give either stage or report_id")
			}
			stage, err := types.ParseStage(stageFromName(name))
			if err != nil {
				return nil, err
			}
			doc, err := store.Latest(ctx, stage)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(doc.Body), nil
		},
	}
}

// stageFromName accepts "auditor", "auditor_report" and "auditor_report.json".
func stageFromName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".json")
	return strings.TrimSuffix(name, "_report")
}
