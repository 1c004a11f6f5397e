// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// FileStore keeps one JSON document per stage, <dir>/<stage>_report.json,
// holding {"reports": [...]} in creation order. A single mutex serializes
// every read-modify-write, and each write replaces the file atomically.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

type fileDoc struct {
	Reports []json.RawMessage `json:"reports"`
}

// NewFileStore opens (creating if needed) a file-backed store under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(stage types.Stage) string {
	return filepath.Join(s.dir, string(stage)+"_report.json")
}

// load reads the stage document. A missing file is an empty collection.
func (s *FileStore) load(stage types.Stage) ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path(stage))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s reports: %w", stage, err)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s reports: %w", stage, err)
	}
	for i, r := range doc.Reports {
		c, err := compact(r)
		if err != nil {
			return nil, fmt.Errorf("parsing %s report %d: %w", stage, i, err)
		}
		doc.Reports[i] = c
	}
	return doc.Reports, nil
}

// save writes the stage document to a temp file and renames it into place.
func (s *FileStore) save(stage types.Stage, reports []json.RawMessage) error {
	if reports == nil {
		reports = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(fileDoc{Reports: reports}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s reports: %w", stage, err)
	}

	tmp, err := os.CreateTemp(s.dir, string(stage)+"_report.*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s reports: %w", stage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s reports: %w", stage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s reports: %w", stage, err)
	}
	if err := os.Rename(tmpName, s.path(stage)); err != nil {
		return fmt.Errorf("replacing %s reports: %w", stage, err)
	}
	return nil
}

func toDocument(seq int, body json.RawMessage) *Document {
	d := &Document{
		ReportID: gjson.GetBytes(body, "report_id").String(),
		Seq:      int64(seq),
		Body:     body,
	}
	if t, err := time.Parse(time.RFC3339, gjson.GetBytes(body, "created_at").String()); err == nil {
		d.CreatedAt = t
	}
	return d
}

func indexOf(reports []json.RawMessage, id string) int {
	for i, r := range reports {
		if gjson.GetBytes(r, "report_id").String() == id {
			return i
		}
	}
	return -1
}

// Create appends record to the stage file.
func (s *FileStore) Create(ctx context.Context, stage types.Stage, record any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, body, _, err := prepare(stage, record, s.now())
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(stage)
	if err != nil {
		return "", err
	}
	if indexOf(reports, id) >= 0 {
		return "", fmt.Errorf("creating %s report %s: %w", stage, id, ErrDuplicate)
	}
	if err := s.save(stage, append(reports, body)); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the report with the given id.
func (s *FileStore) Get(ctx context.Context, stage types.Stage, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(stage)
	if err != nil {
		return nil, err
	}
	i := indexOf(reports, id)
	if i < 0 {
		return nil, fmt.Errorf("%s report %s: %w", stage, id, ErrNotFound)
	}
	return toDocument(i+1, reports[i]), nil
}

// Latest returns the last report in the stage file.
func (s *FileStore) Latest(ctx context.Context, stage types.Stage) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(stage)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("latest %s report: %w", stage, ErrNotFound)
	}
	n := len(reports)
	return toDocument(n, reports[n-1]), nil
}

// List returns every report in the stage file.
func (s *FileStore) List(ctx context.Context, stage types.Stage) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(stage)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, len(reports))
	for i, r := range reports {
		docs[i] = toDocument(i+1, r)
	}
	return docs, nil
}

// Update re-reads the stage file, patches one report, and rewrites the file.
func (s *FileStore) Update(ctx context.Context, stage types.Stage, id string, patches ...Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.load(stage)
	if err != nil {
		return err
	}
	i := indexOf(reports, id)
	if i < 0 {
		return fmt.Errorf("updating %s report %s: %w", stage, id, ErrNotFound)
	}
	body, err := apply(reports[i], patches)
	if err != nil {
		return fmt.Errorf("updating %s report %s: %w", stage, id, err)
	}
	reports[i] = body
	return s.save(stage, reports)
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }
