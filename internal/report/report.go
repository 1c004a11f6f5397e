// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report is the durable store for stage reports. Each stage owns one
// collection of JSON documents kept in creation order; the latest report is
// the most recently created one. In-progress reports are changed only through
// field-level patches applied inside the store's critical section, so
// concurrent writers never overwrite each other's fields.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var (
	// ErrNotFound is returned when no report matches.
	ErrNotFound = errors.New("report not found")

	// ErrDuplicate is returned by Create when the report_id already exists.
	ErrDuplicate = errors.New("duplicate report id")

	// ErrBadPath is returned when a patch path does not resolve.
	ErrBadPath = errors.New("bad patch path")
)

// idLayout is the compact timestamp used in report identifiers.
const idLayout = "20060102_150405"

// Store persists stage reports.
type Store interface {
	// Create appends record to the stage's collection and returns its
	// report_id. A missing report_id is minted from the current time and a
	// missing created_at is filled in.
	Create(ctx context.Context, stage types.Stage, record any) (string, error)

	Get(ctx context.Context, stage types.Stage, id string) (*Document, error)

	// Latest returns the most recently created report of the stage.
	Latest(ctx context.Context, stage types.Stage) (*Document, error)

	// List returns every report of the stage in creation order.
	List(ctx context.Context, stage types.Stage) ([]*Document, error)

	// Update applies patches to one report atomically.
	Update(ctx context.Context, stage types.Stage, id string, patches ...Patch) error

	Close() error
}

// Document is one stored report.
type Document struct {
	ReportID  string
	Seq       int64
	CreatedAt time.Time
	Body      json.RawMessage
}

// Decode unmarshals the report body into v.
func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decoding report %s: %w", d.ReportID, err)
	}
	return nil
}

// Field returns the value at a gjson path, e.g. "gaps.0.searches".
func (d *Document) Field(path string) gjson.Result {
	return gjson.GetBytes(d.Body, path)
}

// State returns the document's resumption marker. Reports written before
// the marker existed count as done.
func (d *Document) State() types.ReportState {
	s := d.Field("state").String()
	if s == "" {
		return types.StateDone
	}
	return types.ReportState(s)
}

// NewID mints the report identifier "<prefix>_<YYYYMMDD_HHMMSS>" from t in UTC.
func NewID(stage types.Stage, t time.Time) string {
	return stage.Prefix() + "_" + t.UTC().Format(idLayout)
}

// ParseID splits a report identifier into its stage and timestamp.
func ParseID(id string) (types.Stage, time.Time, error) {
	prefix, rest, ok := strings.Cut(id, "_")
	if !ok {
		return "", time.Time{}, fmt.Errorf("invalid report id %q", id)
	}
	stage, ok := types.StageForPrefix(prefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("invalid report id %q: unknown prefix %q", id, prefix)
	}
	t, err := time.ParseInLocation(idLayout, rest, time.UTC)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid report id %q: %w", id, err)
	}
	return stage, t, nil
}

// prepare encodes record for Create, filling report_id and created_at.
func prepare(stage types.Stage, record any, now time.Time) (string, []byte, time.Time, error) {
	var body []byte
	switch r := record.(type) {
	case json.RawMessage:
		body = append([]byte(nil), r...)
	case []byte:
		body = append([]byte(nil), r...)
	default:
		var err error
		if body, err = json.Marshal(record); err != nil {
			return "", nil, time.Time{}, fmt.Errorf("encoding %s report: %w", stage, err)
		}
	}
	body, err := compact(body)
	if err != nil {
		return "", nil, time.Time{}, fmt.Errorf("encoding %s report: %w", stage, err)
	}
	if !gjson.ParseBytes(body).IsObject() {
		return "", nil, time.Time{}, fmt.Errorf("encoding %s report: record must be a JSON object", stage)
	}

	id := gjson.GetBytes(body, "report_id").String()
	if id == "" {
		id = NewID(stage, now)
		if body, err = setRaw(body, "report_id", id); err != nil {
			return "", nil, time.Time{}, err
		}
	}

	created := now.UTC()
	if s := gjson.GetBytes(body, "created_at").String(); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			created = t
		}
	} else if body, err = setRaw(body, "created_at", created.Format(time.RFC3339)); err != nil {
		return "", nil, time.Time{}, err
	}
	return id, body, created, nil
}
