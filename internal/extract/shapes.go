// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import "regexp"

// searchRecordRe matches one search record, e.g.
// {"search_id": "s1", "rationale": "...", "parameters": {...}, "results": [...]}.
var searchRecordRe = regexp.MustCompile(`(?s)\{\s*"(?:search_id|rationale)"\s*:.*?"results"\s*:\s*\[.*?\]\s*\}`)

func listOf(field string, item map[string]any) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{field},
		"properties": map[string]any{
			field: map[string]any{"type": "array", "items": item},
		},
	}
}

var objectItem = map[string]any{"type": "object"}

// Analyst is the analyst's gap report. Models sometimes name the list
// identified_gaps; it is accepted and renamed to gaps.
var Analyst = Shape{
	Name:  "analyst",
	Field: "gaps",
	Schema: map[string]any{
		"type": "object",
		"anyOf": []any{
			map[string]any{"required": []any{"gaps"}},
			map[string]any{"required": []any{"identified_gaps"}},
		},
		"properties": map[string]any{
			"gaps":            map[string]any{"type": "array", "items": objectItem},
			"identified_gaps": map[string]any{"type": "array", "items": objectItem},
		},
	},
	Aliases: map[string]string{"identified_gaps": "gaps"},
}

// Searches is one gap's research output. Finding nothing is a valid answer.
var Searches = Shape{
	Name:          "searches",
	Field:         "searches",
	RecordPattern: searchRecordRe,
	EmptyOnMiss:   true,
	Schema:        listOf("searches", objectItem),
}

// RankedURLs is the curator's ranking of one search's results.
var RankedURLs = Shape{
	Name:        "ranked urls",
	Field:       "urls_for_ingestion",
	EmptyOnMiss: true,
	Schema:      listOf("urls_for_ingestion", map[string]any{"type": "string"}),
}

// IngestionStatus is the curator's per-URL ingestion outcome list.
var IngestionStatus = Shape{
	Name:          "ingestion status",
	Field:         "url_ingestion_status",
	RecordPattern: regexp.MustCompile(`(?s)\{\s*"url"\s*:\s*"[^"]*"\s*,\s*"status"\s*:\s*"[^"]*"[^{}]*\}`),
	EmptyOnMiss:   true,
	Schema: listOf("url_ingestion_status", map[string]any{
		"type":     "object",
		"required": []any{"url", "status"},
	}),
}

// Audit is the auditor's issue list.
var Audit = Shape{
	Name:   "audit",
	Field:  "issues",
	Schema: listOf("issues", objectItem),
}

// Fix is the fixer's plan and action record.
var Fix = Shape{
	Name: "fix",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan":    map[string]any{"type": "string"},
			"actions": map[string]any{"type": "array", "items": objectItem},
		},
	},
}

// Advice is the advisor's recommendation list.
var Advice = Shape{
	Name:   "advice",
	Field:  "recommendations",
	Schema: listOf("recommendations", objectItem),
}
