// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/httputil"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// LightRAG exposes the knowledge graph/document server's REST API as operations.
type LightRAG struct {
	client *httputil.Client
}

// NewLightRAG builds the adapter. The API key, when set, is sent as X-API-Key.
func NewLightRAG(cfg types.LightRAGConfig, log *zap.Logger) *LightRAG {
	c := httputil.NewClient(cfg.HTTPConfig, cfg.BaseURL, log)
	if cfg.APIKey != "" {
		c.Header.Set("X-API-Key", cfg.APIKey)
	}
	return &LightRAG{client: c}
}

// PipelineStatus is the subset of the server's pipeline status used for polling.
type PipelineStatus struct {
	Busy          bool   `json:"busy"`
	JobName       string `json:"job_name,omitempty"`
	Docs          int    `json:"docs,omitempty"`
	Batchs        int    `json:"batchs,omitempty"`
	CurBatch      int    `json:"cur_batch,omitempty"`
	LatestMessage string `json:"latest_message,omitempty"`
}

// Status fetches the ingestion pipeline status.
func (l *LightRAG) Status(ctx context.Context) (PipelineStatus, error) {
	var st PipelineStatus
	err := l.client.JSON(ctx, http.MethodGet, "/documents/pipeline_status", nil, nil, &st)
	return st, err
}

// Operations returns one operation per server endpoint.
func (l *LightRAG) Operations() []Operation {
	return []Operation{
		&Func{
			K:    KindQuery,
			Desc: "Ask the knowledge base a question. Modes: local, global, hybrid, naive, mix.",
			Params: object(map[string]any{
				"query": str("question to answer from the knowledge base"),
				"mode":  map[string]any{"type": "string", "enum": []any{"local", "global", "hybrid", "naive", "mix"}},
				"top_k": integer("number of entities or relations to retrieve"),
			}, "query"),
			Fn: l.query,
		},
		&Func{
			K:    KindGraphsGet,
			Desc: "Get the subgraph around a label, up to max_depth hops and max_nodes nodes. Use label \"*\" for the whole graph.",
			Params: object(map[string]any{
				"label":     str("entity label to center on"),
				"max_depth": integer("maximum traversal depth (default 3)"),
				"max_nodes": integer("maximum nodes returned (default 1000)"),
			}, "label"),
			Fn: l.graphsGet,
		},
		&Func{
			K:      KindGraphLabels,
			Desc:   "List every entity label in the knowledge graph.",
			Params: object(map[string]any{}),
			Fn: func(ctx context.Context, _ map[string]any) (any, error) {
				var out any
				err := l.client.JSON(ctx, http.MethodGet, "/graph/label/list", nil, nil, &out)
				return out, err
			},
		},
		&Func{
			K:    KindDocumentsInsertText,
			Desc: "Insert a text document into the knowledge base for ingestion.",
			Params: object(map[string]any{
				"text":        str("document text"),
				"file_source": str("source URL or name recorded with the document"),
			}, "text"),
			Fn: l.insertText,
		},
		&Func{
			K:      KindDocumentsPipelineStatus,
			Desc:   "Get the document ingestion pipeline status. busy=true means ingestion is still running.",
			Params: object(map[string]any{}),
			Fn: func(ctx context.Context, _ map[string]any) (any, error) {
				return l.Status(ctx)
			},
		},
		&Func{
			K:    KindGraphUpdateEntity,
			Desc: "Update an entity's properties, optionally renaming it.",
			Params: object(map[string]any{
				"entity_name":  str("current entity name"),
				"updated_data": map[string]any{"type": "object", "description": "properties to set"},
				"allow_rename": map[string]any{"type": "boolean"},
			}, "entity_name", "updated_data"),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				name, err := stringArg(args, "entity_name")
				if err != nil {
					return nil, err
				}
				body := map[string]any{
					"entity_name":  name,
					"updated_data": optObject(args, "updated_data"),
					"allow_rename": optBool(args, "allow_rename", false),
				}
				var out any
				err = l.client.JSON(ctx, http.MethodPost, "/graph/entity/edit", nil, body, &out)
				return out, err
			},
		},
		&Func{
			K:      KindDocumentsDeleteEntity,
			Desc:   "Delete an entity and its relations from the knowledge graph.",
			Params: object(map[string]any{"entity_name": str("entity to delete")}, "entity_name"),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				name, err := stringArg(args, "entity_name")
				if err != nil {
					return nil, err
				}
				var out any
				err = l.client.JSON(ctx, http.MethodDelete, "/documents/delete_entity", nil, map[string]any{"entity_name": name}, &out)
				return out, err
			},
		},
		&Func{
			K:    KindGraphUpdateRelation,
			Desc: "Update the properties of the relation between two entities.",
			Params: object(map[string]any{
				"source_id":    str("source entity name"),
				"target_id":    str("target entity name"),
				"updated_data": map[string]any{"type": "object", "description": "properties to set"},
			}, "source_id", "target_id", "updated_data"),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				src, err := stringArg(args, "source_id")
				if err != nil {
					return nil, err
				}
				dst, err := stringArg(args, "target_id")
				if err != nil {
					return nil, err
				}
				body := map[string]any{
					"source_id":    src,
					"target_id":    dst,
					"updated_data": optObject(args, "updated_data"),
				}
				var out any
				err = l.client.JSON(ctx, http.MethodPost, "/graph/relation/edit", nil, body, &out)
				return out, err
			},
		},
		&Func{
			K:    KindDocumentsDeleteRelation,
			Desc: "Delete the relation between two entities.",
			Params: object(map[string]any{
				"source_entity": str("source entity name"),
				"target_entity": str("target entity name"),
			}, "source_entity", "target_entity"),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				src, err := stringArg(args, "source_entity")
				if err != nil {
					return nil, err
				}
				dst, err := stringArg(args, "target_entity")
				if err != nil {
					return nil, err
				}
				var out any
				err = l.client.JSON(ctx, http.MethodDelete, "/documents/delete_relation", nil,
					map[string]any{"source_entity": src, "target_entity": dst}, &out)
				return out, err
			},
		},
		&Func{
			K:      KindGraphEntityExists,
			Desc:   "Check whether an entity exists in the knowledge graph.",
			Params: object(map[string]any{"name": str("entity name")}, "name"),
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				name, err := stringArg(args, "name")
				if err != nil {
					return nil, err
				}
				var out any
				err = l.client.JSON(ctx, http.MethodGet, "/graph/entity/exists", url.Values{"name": {name}}, nil, &out)
				return out, err
			},
		},
	}
}

func (l *LightRAG) query(ctx context.Context, args map[string]any) (any, error) {
	q, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"query": q,
		"mode":  optString(args, "mode", "hybrid"),
	}
	if k := optInt(args, "top_k", 0); k > 0 {
		body["top_k"] = k
	}
	var out any
	err = l.client.JSON(ctx, http.MethodPost, "/query", nil, body, &out)
	return out, err
}

func (l *LightRAG) graphsGet(ctx context.Context, args map[string]any) (any, error) {
	label, err := stringArg(args, "label")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"label":     {label},
		"max_depth": {strconv.Itoa(optInt(args, "max_depth", 3))},
		"max_nodes": {strconv.Itoa(optInt(args, "max_nodes", 1000))},
	}
	var out any
	err = l.client.JSON(ctx, http.MethodGet, "/graphs", params, nil, &out)
	return out, err
}

func (l *LightRAG) insertText(ctx context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	body := map[string]any{"text": text}
	if src := optString(args, "file_source", ""); src != "" {
		body["file_source"] = src
	}
	var out any
	err = l.client.JSON(ctx, http.MethodPost, "/documents/text", nil, body, &out)
	return out, err
}
