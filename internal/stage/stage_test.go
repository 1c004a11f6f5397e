// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/knowledge-gardener/internal/agent"
	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/internal/stage/stagetest"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

func TestMain(m *testing.M) {
	restore := extract.SetBackoffBase(time.Millisecond)
	code := m.Run()
	restore()
	os.Exit(code)
}

var testTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newRC(t *testing.T, handlers map[string]stagetest.Handler, fake *stagetest.Ops) (*RunContext, *stagetest.Model) {
	t.Helper()
	store, err := report.NewFileStore(t.TempDir())
	require.NoError(t, err)
	model := stagetest.NewModel(handlers)
	settings := types.Defaults().Stage
	settings.MaxModelRetries = 1
	settings.PollInterval = time.Millisecond
	return &RunContext{
		RunID:        "test-run",
		Timestamp:    testTime,
		Model:        model,
		Ops:          fake.Set(),
		Store:        store,
		Logger:       zaptest.NewLogger(t),
		Settings:     settings,
		StoreRetries: 2,
		Prompts:      Prompts(stagetest.Prompts(PromptNames...)),
	}, model
}

func runNode(t *testing.T, n Node, rc *RunContext) Result {
	t.Helper()
	ctx := context.Background()
	return n.Persist(ctx, rc, n.Run(ctx, rc))
}

func seed(t *testing.T, rc *RunContext, s types.Stage, record map[string]any) string {
	t.Helper()
	record["state"] = types.StateDone
	id, err := rc.Store.Create(context.Background(), s, record)
	require.NoError(t, err)
	return id
}

func latest(t *testing.T, rc *RunContext, s types.Stage) *report.Document {
	t.Helper()
	doc, err := rc.Store.Latest(context.Background(), s)
	require.NoError(t, err)
	return doc
}

func TestAnalyst_PersistsGaps(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptAnalyst: stagetest.CallThen(
			[]agent.ToolCall{stagetest.Call("1", "graph_labels", nil)},
			"Here is my report:\n```json\n"+`{"knowledge_base_summary":"covers X","identified_gaps":[{"research_topic":"Y"},{"gap_id":"g9","research_topic":"Z"}]}`+"\n```",
		),
	}, &stagetest.Ops{})

	res := runNode(t, &Analyst{base{types.StageAnalyst}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, types.StateDone, res.State)
	assert.Equal(t, "identified 2 gaps", res.Status)
	assert.True(t, strings.HasPrefix(res.ReportID, "ana_"))

	doc := latest(t, rc, types.StageAnalyst)
	var rep types.AnalystReport
	require.NoError(t, doc.Decode(&rep))
	assert.Equal(t, types.StateDone, rep.State)
	assert.Equal(t, "covers X", rep.KnowledgeBaseSummary)
	require.Len(t, rep.Gaps, 2)
	assert.Equal(t, "g1", rep.Gaps[0].GapID)
	assert.Equal(t, "g9", rep.Gaps[1].GapID)
	assert.Equal(t, "[]", doc.Field("gaps.0.searches").Raw)
}

func TestAnalyst_MalformedOutputPersistsFailure(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptAnalyst: stagetest.Answer("I was unable to inspect the graph."),
	}, &stagetest.Ops{})

	res := runNode(t, &Analyst{base{types.StageAnalyst}}, rc)
	var malformed *extract.MalformedOutputError
	require.ErrorAs(t, res.Err, &malformed)
	assert.Equal(t, types.StateDone, res.State)
	assert.True(t, strings.HasPrefix(res.Status, "failed: "), res.Status)

	doc := latest(t, rc, types.StageAnalyst)
	assert.Equal(t, res.Status, doc.Field("status").String())
}

func TestAnalyst_NumericGapIDs(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptAnalyst: stagetest.Answer(`{"knowledge_base_summary":"kb","identified_gaps":[{"gap_id":1,"research_topic":"X"},{"gap_id":"1","research_topic":"Y"}]}`),
	}, &stagetest.Ops{})

	res := runNode(t, &Analyst{base{types.StageAnalyst}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, "identified 2 gaps", res.Status)

	doc := latest(t, rc, types.StageAnalyst)
	assert.Equal(t, "1", doc.Field("gaps.0.gap_id").String())
	assert.Equal(t, "g2", doc.Field("gaps.1.gap_id").String(), "duplicate IDs are renumbered")
}

func TestResearcher_PredecessorMissing(t *testing.T) {
	rc, _ := newRC(t, nil, &stagetest.Ops{})
	res := runNode(t, &Researcher{base{types.StageResearcher}}, rc)
	require.ErrorIs(t, res.Err, ErrPredecessorMissing)
	assert.Equal(t, types.StateNotStarted, res.State)
	assert.Empty(t, res.ReportID)

	_, err := rc.Store.Latest(context.Background(), types.StageResearcher)
	assert.ErrorIs(t, err, report.ErrNotFound)
}

func analystWithGaps(topics ...string) map[string]any {
	gaps := make([]map[string]any, len(topics))
	for i, tp := range topics {
		gaps[i] = map[string]any{"gap_id": "g" + string(rune('1'+i)), "research_topic": tp, "searches": []any{}}
	}
	return map[string]any{"report_id": "ana_20250101_000000", "gaps": gaps}
}

func TestResearcher_OneLoopPerGapSkippingFailures(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run("workers="+string(rune('0'+workers)), func(t *testing.T) {
			searches := `{"searches":[{"rationale":"r","parameters":{"query":"q"},"results":["http://a",{"link":"http://b","title":"B"}]}]}`
			rc, model := newRC(t, map[string]stagetest.Handler{
				PromptSearcher: stagetest.ByTask(map[string]stagetest.Handler{
					"topic-broken": stagetest.Fail("model unavailable"),
				}, stagetest.Answer(searches)),
			}, &stagetest.Ops{})
			rc.Settings.ResearcherWorkers = workers
			seed(t, rc, types.StageAnalyst, analystWithGaps("topic-ok", "topic-broken", "topic-fine"))

			res := runNode(t, &Researcher{base{types.StageResearcher}}, rc)
			require.NoError(t, res.Err)
			assert.Equal(t, "researched 2 of 3 gaps (skipped g2)", res.Status)
			assert.GreaterOrEqual(t, model.Requests(PromptSearcher), 3)

			doc := latest(t, rc, types.StageResearcher)
			assert.Equal(t, "ana_20250101_000000", doc.Field("analyst_report_id").String())
			assert.True(t, doc.Field("gaps.0.complete").Bool())
			assert.False(t, doc.Field("gaps.1.complete").Bool())
			assert.True(t, doc.Field("gaps.2.complete").Bool())
			assert.Equal(t, "g1_s1", doc.Field("gaps.0.searches.0.search_id").String())
			assert.Equal(t, `"http://a"`, doc.Field("gaps.0.searches.0.results.0").Raw)
			assert.Equal(t, "http://b", doc.Field("gaps.0.searches.0.results.1.url").String())
			assert.Equal(t, "[]", doc.Field("gaps.1.searches").Raw)
		})
	}
}

func TestResearcher_ResumesUnfinishedReport(t *testing.T) {
	rc, model := newRC(t, map[string]stagetest.Handler{
		PromptSearcher: stagetest.Answer(`nothing more to add`),
	}, &stagetest.Ops{})
	anaID := seed(t, rc, types.StageAnalyst, analystWithGaps("A", "B"))
	_, err := rc.Store.Create(context.Background(), types.StageResearcher, map[string]any{
		"report_id":         "res_20250101_000000",
		"state":             types.StateInProgress,
		"analyst_report_id": anaID,
		"gaps": []map[string]any{
			{"gap_id": "g1", "research_topic": "A", "complete": true, "searches": []any{map[string]any{"search_id": "s1", "results": []any{}}}},
			{"gap_id": "g2", "research_topic": "B", "searches": []any{}},
		},
	})
	require.NoError(t, err)

	res := runNode(t, &Researcher{base{types.StageResearcher}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, "res_20250101_000000", res.ReportID)
	assert.Equal(t, 1, model.Requests(PromptSearcher), "only the unfinished gap is researched")

	doc := latest(t, rc, types.StageResearcher)
	assert.Equal(t, types.StateDone, doc.State())
	assert.Equal(t, "s1", doc.Field("gaps.0.searches.0.search_id").String())
	assert.True(t, doc.Field("gaps.1.complete").Bool())
	assert.Equal(t, "[]", doc.Field("gaps.1.searches").Raw, "empty extraction is success")
}

func TestResearcher_StringParameters(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptSearcher: stagetest.Answer(`{"searches":[{"search_id":1,"rationale":"r","parameters":"query=X","results":["http://a"]}]}`),
	}, &stagetest.Ops{})
	seed(t, rc, types.StageAnalyst, analystWithGaps("X"))

	res := runNode(t, &Researcher{base{types.StageResearcher}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, "researched 1 of 1 gaps", res.Status)

	doc := latest(t, rc, types.StageResearcher)
	assert.True(t, doc.Field("gaps.0.complete").Bool())
	assert.Equal(t, "1", doc.Field("gaps.0.searches.0.search_id").String())
	assert.Equal(t, "query=X", doc.Field("gaps.0.searches.0.parameters.query").String())
}

func researcherWith(results ...string) map[string]any {
	hits := make([]any, len(results))
	for i, r := range results {
		hits[i] = r
	}
	return map[string]any{
		"report_id": "res_20250101_000000",
		"gaps": []map[string]any{{
			"gap_id":   "g1",
			"complete": true,
			"searches": []any{map[string]any{"search_id": "s1", "rationale": "about X", "results": hits}},
		}},
	}
}

func TestCurator_FetchFailureMidCuration(t *testing.T) {
	fake := &stagetest.Ops{FailFetch: map[string]bool{"http://bad": true}}
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptRanker: stagetest.Answer(`{"urls_for_ingestion":["http://a","http://bad","http://c","http://a"]}`),
		PromptIngester: stagetest.CallThen([]agent.ToolCall{
			stagetest.Call("1", "fetch", map[string]any{"url": "http://a"}),
			stagetest.Call("2", "documents_insert_text", map[string]any{"text": "a"}),
			stagetest.Call("3", "fetch", map[string]any{"url": "http://bad"}),
			stagetest.Call("4", "fetch", map[string]any{"url": "http://c"}),
			stagetest.Call("5", "documents_insert_text", map[string]any{"text": "c"}),
		}, `{"url_ingestion_status":[{"url":"http://a","status":"success"},{"url":"http://bad","status":"success"},{"url":"http://c","status":"success"}]}`),
	}, fake)
	seed(t, rc, types.StageResearcher, researcherWith("http://a", "http://bad", "http://c"))

	res := runNode(t, &Curator{base{types.StageCurator}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, types.StateDone, res.State)
	assert.Contains(t, res.Status, "2 ingested, 1 failed")

	doc := latest(t, rc, types.StageCurator)
	var rep types.CuratorReport
	require.NoError(t, doc.Decode(&rep))
	assert.Equal(t, "res_20250101_000000", rep.ResearcherReportID)
	assert.Equal(t, []string{"g1/s1"}, rep.RankedSearchIDs)
	assert.Equal(t, []string{"http://a", "http://bad", "http://c"}, rep.URLsForIngestion)
	require.Len(t, rep.URLIngestionStatus, 3)
	assert.Equal(t, types.IngestSuccess, rep.URLIngestionStatus[0].Status)
	assert.Equal(t, types.IngestFailure, rep.URLIngestionStatus[1].Status)
	assert.Contains(t, rep.URLIngestionStatus[1].Detail, "connection reset")
	assert.Equal(t, types.IngestSuccess, rep.URLIngestionStatus[2].Status)
	assert.True(t, fake.Called("documents_pipeline_status"))
}

func TestCurator_IngestsInBatches(t *testing.T) {
	rc, model := newRC(t, map[string]stagetest.Handler{
		PromptRanker:   stagetest.Answer(`{"urls_for_ingestion":["http://a","http://b"]}`),
		PromptIngester: stagetest.Answer(`{"url_ingestion_status":[{"url":"http://a","status":"success"},{"url":"http://b","status":"success"}]}`),
	}, &stagetest.Ops{})
	rc.Settings.IngestBatchSize = 1
	seed(t, rc, types.StageResearcher, researcherWith("http://a", "http://b"))

	res := runNode(t, &Curator{base{types.StageCurator}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, model.Requests(PromptIngester))
	assert.Len(t, latest(t, rc, types.StageCurator).Field("url_ingestion_status").Array(), 2)
}

func TestCurator_UnreportedURLsFail(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptRanker:   stagetest.Answer(`{"urls_for_ingestion":["http://a","http://b"]}`),
		PromptIngester: stagetest.Answer(`done, ingested http://a`),
	}, &stagetest.Ops{})
	seed(t, rc, types.StageResearcher, researcherWith("http://a", "http://b"))

	res := runNode(t, &Curator{base{types.StageCurator}}, rc)
	require.NoError(t, res.Err)
	doc := latest(t, rc, types.StageCurator)
	for _, st := range doc.Field("url_ingestion_status").Array() {
		assert.Equal(t, types.IngestFailure, st.Get("status").String())
		assert.Equal(t, "no ingestion status reported", st.Get("detail").String())
	}
}

func TestCurator_SameSearchIDInTwoGaps(t *testing.T) {
	rc, model := newRC(t, map[string]stagetest.Handler{
		PromptRanker: stagetest.ByTask(map[string]stagetest.Handler{
			"http://a": stagetest.Answer(`{"urls_for_ingestion":["http://a"]}`),
			"http://b": stagetest.Answer(`{"urls_for_ingestion":["http://b"]}`),
		}, stagetest.Fail("unexpected search")),
		PromptIngester: stagetest.Answer(`{"url_ingestion_status":[{"url":"http://a","status":"success"},{"url":"http://b","status":"success"}]}`),
	}, &stagetest.Ops{})
	seed(t, rc, types.StageResearcher, map[string]any{
		"report_id": "res_20250101_000000",
		"gaps": []map[string]any{
			{"gap_id": "g1", "complete": true, "searches": []any{map[string]any{"search_id": "s1", "results": []any{"http://a"}}}},
			{"gap_id": "g2", "complete": true, "searches": []any{map[string]any{"search_id": "s1", "results": []any{"http://b"}}}},
		},
	})

	res := runNode(t, &Curator{base{types.StageCurator}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, model.Requests(PromptRanker))

	doc := latest(t, rc, types.StageCurator)
	var rep types.CuratorReport
	require.NoError(t, doc.Decode(&rep))
	assert.Equal(t, []string{"g1/s1", "g2/s1"}, rep.RankedSearchIDs)
	assert.Equal(t, []string{"http://a", "http://b"}, rep.URLsForIngestion)
}

func TestAuditor_LooseIssueFields(t *testing.T) {
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptAuditor: stagetest.Answer(`{"summary":"s","issues":[{"issue_id":1,"kind":"duplicate","entities":[{"name":"A"},{"name":"a"}],"severity":3},{"kind":"orphan","entities":"B"}]}`),
	}, &stagetest.Ops{})

	res := runNode(t, &Auditor{base{types.StageAuditor}}, rc)
	require.NoError(t, res.Err)

	doc := latest(t, rc, types.StageAuditor)
	var rep types.AuditorReport
	require.NoError(t, doc.Decode(&rep))
	require.Len(t, rep.Issues, 2)
	assert.Equal(t, types.Issue{IssueID: "1", Kind: "duplicate", Entities: []string{"A", "a"}, Severity: "3"}, rep.Issues[0])
	assert.Equal(t, types.Issue{IssueID: "i2", Kind: "orphan", Entities: []string{"B"}}, rep.Issues[1])
}

func auditorWithIssues(n int) map[string]any {
	issues := make([]any, n)
	for i := range issues {
		issues[i] = map[string]any{"issue_id": "i1", "kind": "duplicate", "description": "X and x"}
	}
	return map[string]any{"report_id": "aud_20250101_000000", "summary": "s", "issues": issues}
}

func fixerHandler() stagetest.Handler {
	return stagetest.CallThen([]agent.ToolCall{
		stagetest.Call("1", "graph_update_entity", map[string]any{"entity_name": "x"}),
		stagetest.Call("2", "human_approval", map[string]any{"plan": "merge x into X"}),
		stagetest.Call("3", "graph_update_entity", map[string]any{"entity_name": "x"}),
	}, `{"plan":"merge x into X","actions":[]}`)
}

func TestFixer_DeniedPlanChangesNothing(t *testing.T) {
	fake := &stagetest.Ops{Approve: false}
	rc, _ := newRC(t, map[string]stagetest.Handler{PromptFixer: fixerHandler()}, fake)
	seed(t, rc, types.StageAuditor, auditorWithIssues(1))

	res := runNode(t, &Fixer{base{types.StageFixer}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusPlanDenied, res.Status)
	assert.False(t, fake.Called("graph_update_entity"))

	doc := latest(t, rc, types.StageFixer)
	var rep types.FixerReport
	require.NoError(t, doc.Decode(&rep))
	assert.Equal(t, "aud_20250101_000000", rep.AuditorReportID)
	assert.True(t, rep.Approval.Requested)
	assert.False(t, rep.Approval.Approved)
	assert.Equal(t, "merge x into X", rep.Plan)
	assert.Empty(t, rep.Actions)
}

func TestFixer_ApprovedPlanRunsAfterApprovalOnly(t *testing.T) {
	fake := &stagetest.Ops{Approve: true}
	rc, _ := newRC(t, map[string]stagetest.Handler{PromptFixer: fixerHandler()}, fake)
	seed(t, rc, types.StageAuditor, auditorWithIssues(1))

	res := runNode(t, &Fixer{base{types.StageFixer}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, "executed 1 of 1 actions", res.Status)
	assert.Equal(t, []string{"human_approval", "graph_update_entity"}, fake.Calls(),
		"the mutation requested before approval is refused")

	doc := latest(t, rc, types.StageFixer)
	assert.True(t, doc.Field("approval.approved").Bool())
	assert.Equal(t, "graph_update_entity", doc.Field("actions.0.operation").String())
	assert.Equal(t, "ok", doc.Field("actions.0.outcome").String())
}

func TestFixer_RecordsProgressWhileRunning(t *testing.T) {
	var rc *RunContext
	var during *report.Document
	script := fixerHandler()
	handler := func(req agent.Request) (agent.Response, error) {
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == agent.RoleTool {
			doc, err := rc.Store.Latest(context.Background(), types.StageFixer)
			if err != nil {
				return agent.Response{}, err
			}
			during = doc
		}
		return script(req)
	}
	fake := &stagetest.Ops{Approve: true}
	rc, _ = newRC(t, map[string]stagetest.Handler{PromptFixer: handler}, fake)
	seed(t, rc, types.StageAuditor, auditorWithIssues(1))

	res := runNode(t, &Fixer{base{types.StageFixer}}, rc)
	require.NoError(t, res.Err)

	require.NotNil(t, during)
	assert.Equal(t, types.StateInProgress, during.State())
	assert.Equal(t, "merge x into X", during.Field("plan").String())
	assert.True(t, during.Field("approval.requested").Bool())
	assert.True(t, during.Field("approval.approved").Bool())
	require.Len(t, during.Field("actions").Array(), 1)
	assert.Equal(t, "graph_update_entity", during.Field("actions.0.operation").String())
	assert.Equal(t, "ok", during.Field("actions.0.outcome").String())

	assert.Len(t, latest(t, rc, types.StageFixer).Field("actions").Array(), 1)
}

func TestFixer_ResumeKeepsRecordedActions(t *testing.T) {
	fake := &stagetest.Ops{Approve: true}
	rc, _ := newRC(t, map[string]stagetest.Handler{PromptFixer: fixerHandler()}, fake)
	audID := seed(t, rc, types.StageAuditor, auditorWithIssues(1))
	_, err := rc.Store.Create(context.Background(), types.StageFixer, map[string]any{
		"report_id":         "fix_20250101_000000",
		"state":             types.StateInProgress,
		"auditor_report_id": audID,
		"plan":              "merge x into X",
		"approval":          types.Approval{Requested: true, Approved: true, Response: "y"},
		"actions":           []types.FixAction{{Operation: "documents_delete_entity", Arguments: map[string]any{"entity_name": "y"}, Outcome: "ok"}},
	})
	require.NoError(t, err)

	res := runNode(t, &Fixer{base{types.StageFixer}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, "fix_20250101_000000", res.ReportID)
	assert.Equal(t, "executed 2 of 2 actions", res.Status)

	doc := latest(t, rc, types.StageFixer)
	assert.Equal(t, "documents_delete_entity", doc.Field("actions.0.operation").String())
	assert.Equal(t, "graph_update_entity", doc.Field("actions.1.operation").String())
}

func TestFixer_NoIssuesNoActions(t *testing.T) {
	rc, model := newRC(t, nil, &stagetest.Ops{})
	seed(t, rc, types.StageAuditor, auditorWithIssues(0))

	res := runNode(t, &Fixer{base{types.StageFixer}}, rc)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusNoActions, res.Status)
	assert.Zero(t, model.Requests(PromptFixer))
}

func TestAdvisor_CapsRecommendations(t *testing.T) {
	var recs []string
	for i := 0; i < 8; i++ {
		recs = append(recs, `{"title":"t","rationale":"r"}`)
	}
	rc, _ := newRC(t, map[string]stagetest.Handler{
		PromptAdvisor: stagetest.Answer(`{"recommendations":[` + strings.Join(recs, ",") + `]}`),
	}, &stagetest.Ops{})
	seed(t, rc, types.StageAuditor, auditorWithIssues(0))

	res := runNode(t, &Advisor{base{types.StageAdvisor}}, rc)
	require.NoError(t, res.Err)
	doc := latest(t, rc, types.StageAdvisor)
	assert.Len(t, doc.Field("recommendations").Array(), types.MaxRecommendations)
	assert.Equal(t, "aud_20250101_000000", doc.Field("auditor_report_id").String())
	assert.Empty(t, doc.Field("fixer_report_id").String())
}

func TestPersist_CancelledRunStillRecordsStatus(t *testing.T) {
	rc, _ := newRC(t, nil, &stagetest.Ops{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := &Auditor{base{types.StageAuditor}}
	out := n.Run(context.Background(), rc)
	require.Error(t, out.Err, "no auditor handler")

	res := n.Persist(ctx, rc, out)
	assert.Equal(t, types.StateDone, res.State)
	assert.True(t, strings.HasPrefix(latest(t, rc, types.StageAuditor).Field("status").String(), "failed: "))
}

func TestCheckCapabilities(t *testing.T) {
	full := (&stagetest.Ops{}).Set()
	assert.Empty(t, CheckCapabilities(full, types.Stages...))

	partial := full.Select(ops.KindQuery, ops.KindFetch)
	missing := CheckCapabilities(partial, types.StageAnalyst, types.StageAdvisor)
	require.Len(t, missing, 2)
	var me *ops.MissingError
	require.True(t, errors.As(missing[types.StageAnalyst], &me))
	assert.ElementsMatch(t, []ops.Kind{ops.KindGraphsGet, ops.KindGraphLabels, ops.KindWebSearch}, me.Kinds)
}

func TestLoadPrompts(t *testing.T) {
	def, err := LoadPrompts("")
	require.NoError(t, err)
	for _, name := range PromptNames {
		assert.NotEmpty(t, def[name], name)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts.yaml"), []byte("analyst: from yaml\nauditor: yaml auditor\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auditor.txt"), []byte("  from file\n"), 0o644))

	p, err := LoadPrompts(dir)
	require.NoError(t, err)
	assert.Equal(t, "from yaml", p[PromptAnalyst])
	assert.Equal(t, "from file", p[PromptAuditor])
	assert.Equal(t, def[PromptFixer], p[PromptFixer])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts.yaml"), []byte("nonsense: x\n"), 0o644))
	_, err = LoadPrompts(dir)
	assert.Error(t, err)
}

func TestForStage(t *testing.T) {
	for _, s := range types.Stages {
		n, err := ForStage(s)
		require.NoError(t, err)
		assert.Equal(t, s, n.Stage())
	}
	_, err := ForStage("gardener")
	assert.Error(t, err)
}
