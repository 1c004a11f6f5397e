// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// exportDoc is the exported history of one stage.
type exportDoc struct {
	Stage   types.Stage `json:"stage" yaml:"stage"`
	Count   int         `json:"count" yaml:"count"`
	Reports []any       `json:"reports" yaml:"reports"`
}

// Export writes a stage's full report history to w as YAML or JSON.
func Export(ctx context.Context, store Store, stage types.Stage, format string, w io.Writer) error {
	docs, err := store.List(ctx, stage)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}

	out := exportDoc{Stage: stage, Count: len(docs), Reports: make([]any, 0, len(docs))}
	for _, d := range docs {
		var v any
		if err := d.Decode(&v); err != nil {
			return err
		}
		out.Reports = append(out.Reports, v)
	}

	switch format {
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q: use json or yaml", format)
	}
}
