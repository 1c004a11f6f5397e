// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

func stub(k Kind) Operation {
	return &Func{K: k, Desc: k.String(), Fn: func(context.Context, map[string]any) (any, error) { return k.String(), nil }}
}

func TestSet_SelectIsOrderedFilter(t *testing.T) {
	first := stub(KindQuery)
	set := NewSet(first, stub(KindFetch), stub(KindWebSearch), stub(KindQuery))
	require.Equal(t, 3, set.Len(), "first operation per kind wins")
	op, ok := set.Lookup("query")
	require.True(t, ok)
	assert.Same(t, first, op)

	sub := set.Select(KindWebSearch, KindQuery, KindQuery, KindListDirectory)
	assert.Equal(t, []string{"query", "web_search"}, sub.Names())
	assert.Equal(t, 3, set.Len(), "Select leaves the source set alone")

	assert.Zero(t, set.Select().Len())
	var empty *Set
	assert.Zero(t, empty.Select(KindQuery).Len())

	named, unknown := set.SelectNames("fetch", "google_search", "teleport")
	assert.Equal(t, []string{"fetch", "web_search"}, named.Names())
	assert.Equal(t, []string{"teleport"}, unknown)
}

func TestSet_Require(t *testing.T) {
	set := NewSet(stub(KindFetch), stub(KindLoadReport))
	require.NoError(t, set.Require(KindFetch, KindLoadReport))

	err := set.Require(KindFetch, KindHumanApproval, KindGraphUpdateEntity)
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []Kind{KindHumanApproval, KindGraphUpdateEntity}, missing.Kinds)
	assert.EqualError(t, err, "missing operations: human_approval, graph_update_entity")
}

func TestSet_LookupAliases(t *testing.T) {
	set := NewSet(stub(KindWebSearch), stub(KindLoadReport))
	for _, name := range []string{"web_search", "google_search", "load_latest_report"} {
		_, ok := set.Lookup(name)
		assert.True(t, ok, name)
	}
	_, ok := set.Lookup("graphs_get")
	assert.False(t, ok)
	_, ok = set.Lookup("nope")
	assert.False(t, ok)
}

func TestSet_Map(t *testing.T) {
	set := NewSet(stub(KindFetch), stub(KindGraphUpdateEntity))
	wrapped := set.Map(func(op Operation) Operation {
		if !op.Kind().Mutating() {
			return op
		}
		return &Func{K: op.Kind(), Fn: func(context.Context, map[string]any) (any, error) { return "wrapped", nil }}
	})
	op, _ := wrapped.Lookup("graph_update_entity")
	got, err := op.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "wrapped", got)
	assert.Equal(t, set.Names(), wrapped.Names())
}

func TestValidate(t *testing.T) {
	op := NewFetcher(types.FetchConfig{}, nil).Operation()
	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"url": "http://a", "max_bytes": float64(10)}, true},
		{"missing required", map[string]any{}, false},
		{"nil args", nil, false},
		{"wrong type", map[string]any{"url": 3}, false},
		{"fractional integer", map[string]any{"url": "http://a", "max_bytes": 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(op, tt.args)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid arguments for fetch")
		})
	}
	assert.NoError(t, Validate(stub(KindQuery), map[string]any{"any": "thing"}), "no schema accepts anything")
}

func TestFiles_StaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello files"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("no"), 0o644))

	f, err := NewFiles(root)
	require.NoError(t, err)

	entries, err := f.List(".")
	require.NoError(t, err)
	assert.ElementsMatch(t, []DirEntry{{Name: "notes.txt", Size: 11}, {Name: "sub", IsDir: true}}, entries)

	set := NewSet(f.Operations()...)
	read, _ := set.Lookup("read_text_file")
	got, err := read.Invoke(context.Background(), map[string]any{"path": "notes.txt", "max_bytes": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	for _, p := range []string{"../secret.txt", outside, "sub/../../secret.txt"} {
		_, err := f.Read(p, 0)
		assert.ErrorContains(t, err, "outside the allowed directory", p)
	}
	_, err = f.List("..")
	assert.Error(t, err)
}

func TestFiles_SymlinksCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("no"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("yes"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "secret.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "notes.txt"), filepath.Join(root, "sub", "notes.txt")))

	f, err := NewFiles(root)
	require.NoError(t, err)

	for _, p := range []string{"link/secret.txt", "secret.txt"} {
		_, err := f.Read(p, 0)
		assert.ErrorContains(t, err, "outside the allowed directory", p)
	}
	_, err = f.List("link")
	assert.ErrorContains(t, err, "outside the allowed directory")

	got, err := f.Read("sub/notes.txt", 0)
	require.NoError(t, err, "links that stay inside the root are followed")
	assert.Equal(t, "yes", got)

	_, err = f.Read("missing.txt", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetcher_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title>Graph notes</title><script>var x = 1;</script></head>`+
			`<body><nav>menu</nav><h1>Heading</h1><p>Hello <b>world</b></p></body></html>`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "plain text body")
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	f := NewFetcher(types.FetchConfig{HTTPConfig: types.HTTPConfig{Timeout: time.Second}}, zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := f.Fetch(ctx, ts.URL+"/page", 0)
	require.NoError(t, err)
	assert.Equal(t, "Graph notes", res.Title)
	assert.Equal(t, "Heading\nHello world", res.Text)
	assert.Equal(t, "text/html", res.ContentType)
	assert.False(t, res.Truncated)

	res, err = f.Fetch(ctx, ts.URL+"/plain", 5)
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text)
	assert.True(t, res.Truncated)

	_, err = f.Fetch(ctx, ts.URL+"/image", 0)
	assert.ErrorContains(t, err, "unsupported content type")
	_, err = f.Fetch(ctx, ts.URL+"/missing", 0)
	assert.ErrorContains(t, err, "HTTP 404")
	_, err = f.Fetch(ctx, "ftp://example.com/x", 0)
	assert.ErrorContains(t, err, "invalid URL")
}

func TestApproval_Ask(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		approved bool
	}{
		{"yes", "yes\n", true},
		{"y without newline", "y", true},
		{"uppercase", "  Y \n", true},
		{"no", "n\n", false},
		{"anything else", "sure\n", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			res, err := NewApproval(strings.NewReader(tt.input), &out, false).Ask(context.Background(), "delete entity X")
			require.NoError(t, err)
			assert.Equal(t, tt.approved, res.Approved)
			assert.Contains(t, out.String(), "delete entity X")
		})
	}
}

func TestApproval_NonInteractiveDenies(t *testing.T) {
	var out bytes.Buffer
	res, err := NewApproval(strings.NewReader("y\n"), &out, true).Ask(context.Background(), "plan")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Empty(t, out.String(), "nothing is prompted")
}

func TestApproval_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewApproval(pr, io.Discard, false).Ask(ctx, "plan")
	assert.ErrorIs(t, err, context.Canceled)
}

// promptWriter reports each prompt written by Ask.
type promptWriter chan string

func (w promptWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestApproval_AskAfterCancelledAsk(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	prompts := make(promptWriter, 4)
	gate := NewApproval(pr, prompts, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gate.Ask(ctx, "first plan")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, <-prompts, "first plan")

	type result struct {
		res ApprovalResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := gate.Ask(context.Background(), "second plan")
		done <- result{res, err}
	}()
	assert.Contains(t, <-prompts, "second plan")

	_, err = io.WriteString(pw, "y\n")
	require.NoError(t, err)
	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.True(t, got.res.Approved)
		assert.Equal(t, "y", got.res.Response)
	case <-time.After(5 * time.Second):
		t.Fatal("second Ask did not receive the answer")
	}

	require.NoError(t, pw.Close())
	res, err := gate.Ask(context.Background(), "third plan")
	require.NoError(t, err)
	assert.False(t, res.Approved, "closed input denies")
}

func TestSearch_ScholarSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "graph databases", r.URL.Query().Get("search"))
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		assert.Equal(t, "me@example.com", r.URL.Query().Get("mailto"))
		io.WriteString(w, `{"results":[
			{"id":"https://openalex.org/W1","title":"Open","doi":"https://doi.org/10.1/a",
			 "abstract_inverted_index":{"Graphs":[0],"are":[1],"useful":[2]},
			 "open_access":{"is_oa":true,"oa_url":"https://oa.example/a.pdf"}},
			{"id":"https://openalex.org/W2","title":"Closed","doi":"https://doi.org/10.1/b"},
			{"title":"No link"}
		]}`)
	}))
	defer ts.Close()

	old := openAlexSearchBase
	openAlexSearchBase = ts.URL
	t.Cleanup(func() { openAlexSearchBase = old })

	s := NewSearch(types.SearchConfig{OpenAlexEmail: "me@example.com"}, nil)
	set := NewSet(s.Operations()...)
	assert.Equal(t, []string{"scholar_search"}, set.Names(), "web_search needs credentials")

	op, _ := set.Lookup("scholar_search")
	got, err := op.Invoke(context.Background(), map[string]any{"query": "graph databases", "num_results": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, []types.SearchHit{
		{URL: "https://oa.example/a.pdf", Title: "Open", Snippet: "Graphs are useful"},
		{URL: "https://doi.org/10.1/b", Title: "Closed"},
	}, got)
}

func TestSearch_WebSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "cx", q.Get("cx"))
		assert.Equal(t, "10", q.Get("num"), "capped at the API maximum")
		io.WriteString(w, `{"items":[{"link":"http://a","title":"A","snippet":"about a"}]}`)
	}))
	defer ts.Close()

	old := googleSearchBase
	googleSearchBase = ts.URL
	t.Cleanup(func() { googleSearchBase = old })

	s := NewSearch(types.SearchConfig{GoogleAPIKey: "k", GoogleCSEID: "cx"}, nil)
	op, ok := NewSet(s.Operations()...).Lookup("google_search")
	require.True(t, ok)
	got, err := op.Invoke(context.Background(), map[string]any{"query": "x", "num_results": float64(50)})
	require.NoError(t, err)
	assert.Equal(t, []types.SearchHit{{URL: "http://a", Title: "A", Snippet: "about a"}}, got)
}

func TestReconstructAbstract(t *testing.T) {
	assert.Empty(t, reconstructAbstract(nil))
	assert.Equal(t, "a b a", reconstructAbstract(map[string][]int{"a": {0, 2}, "b": {1}}))

	long := map[string][]int{}
	for i := 0; i < maxSnippetWords+5; i++ {
		long["w"+strings.Repeat("x", i)] = []int{i}
	}
	text := reconstructAbstract(long)
	assert.True(t, strings.HasSuffix(text, " ..."))
	assert.Len(t, strings.Fields(text), maxSnippetWords+1)
}

func TestReportLookup(t *testing.T) {
	store, err := report.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"ana_20250101_120000", "ana_20250102_120000"} {
		_, err := store.Create(ctx, types.StageAnalyst, map[string]any{"report_id": id, "state": "done"})
		require.NoError(t, err)
	}
	op := ReportLookup(store)

	reportID := func(v any) string {
		raw, ok := v.(json.RawMessage)
		require.True(t, ok)
		var doc struct {
			ReportID string `json:"report_id"`
		}
		require.NoError(t, json.Unmarshal(raw, &doc))
		return doc.ReportID
	}

	got, err := op.Invoke(ctx, map[string]any{"report_id": "ana_20250101_120000"})
	require.NoError(t, err)
	assert.Equal(t, "ana_20250101_120000", reportID(got))

	for _, name := range []string{"analyst", "analyst_report", "analyst_report.json"} {
		got, err = op.Invoke(ctx, map[string]any{"stage": name})
		require.NoError(t, err, name)
		assert.Equal(t, "ana_20250102_120000", reportID(got), name)
	}

	_, err = op.Invoke(ctx, map[string]any{})
	assert.Error(t, err)
	_, err = op.Invoke(ctx, map[string]any{"stage": "auditor"})
	assert.ErrorIs(t, err, report.ErrNotFound)
}

func TestLightRAG_Operations(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/query":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hybrid", body["mode"])
			io.WriteString(w, `{"response":"answer"}`)
		case "/documents/pipeline_status":
			io.WriteString(w, `{"busy":true,"job_name":"indexing","docs":2}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	l := NewLightRAG(types.LightRAGConfig{BaseURL: ts.URL, APIKey: "secret", HTTPConfig: types.HTTPConfig{Timeout: time.Second}}, nil)
	set := NewSet(l.Operations()...)
	require.NoError(t, set.Require(KindQuery, KindGraphsGet, KindGraphLabels, KindDocumentsInsertText,
		KindDocumentsPipelineStatus, KindGraphEntityExists, KindGraphUpdateEntity, KindDocumentsDeleteEntity,
		KindGraphUpdateRelation, KindDocumentsDeleteRelation))

	op, _ := set.Lookup("query")
	got, err := op.Invoke(context.Background(), map[string]any{"query": "what is X?"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response": "answer"}, got)

	st, err := l.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Busy)
	assert.Equal(t, 2, st.Docs)
}
