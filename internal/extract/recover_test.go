// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

func TestRecover_StrictJSONUnchanged(t *testing.T) {
	text := "  {\"gaps\": [ {\"gap_id\": \"g1\"} ]}\n"
	got, err := Recover(text, Analyst)
	require.NoError(t, err)
	assert.Equal(t, `{"gaps": [ {"gap_id": "g1"} ]}`, string(got))
}

func TestRecover_Deterministic(t *testing.T) {
	inputs := []string{
		`{"issues": []}`,
		"Here you go:\n```json\n{\"issues\": [{\"issue_id\": \"i1\"}]}\n```",
		"nothing to see",
	}
	for _, in := range inputs {
		first, err1 := Recover(in, Searches)
		second, err2 := Recover(in, Searches)
		assert.Equal(t, first, second, in)
		assert.Equal(t, err1, err2, in)
	}
}

func TestRecover_EmbeddedObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "fenced block",
			text: "Here is the audit:\n```json\n{\"summary\": \"ok\", \"issues\": []}\n```\nDone.",
			want: "ok",
		},
		{
			name: "prose around object",
			text: `The report is {"summary": "fine", "issues": []} as requested.`,
			want: "fine",
		},
		{
			name: "brace inside string",
			text: `Result: {"summary": "uses } brace", "issues": []} then {junk`,
			want: "uses } brace",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Recover(tt.text, Audit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, gjson.GetBytes(got, "summary").String())
		})
	}
}

func TestRecover_RepairsTruncatedObject(t *testing.T) {
	text := `Audit complete: {"issues": [{"issue_id": "i1", "kind": "duplicate"}`
	got, err := Recover(text, Audit)
	require.NoError(t, err)
	assert.Equal(t, "i1", gjson.GetBytes(got, "issues.0.issue_id").String())
}

func TestRecover_EmptyIsSuccess(t *testing.T) {
	got, err := Recover("I could not think of any further searches.", Searches)
	require.NoError(t, err)
	assert.JSONEq(t, `{"searches": []}`, string(got))

	got, err = Recover("", RankedURLs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"urls_for_ingestion": []}`, string(got))
}

func TestRecover_RecordPattern(t *testing.T) {
	text := `First I tried {"search_id": "s1", "rationale": "r", "results": ["http://a"]}
and then {"search_id": "s2", "rationale": "q", "results": []} which found nothing.`

	got, err := Recover(text, Searches)
	require.NoError(t, err)

	searches := gjson.GetBytes(got, "searches").Array()
	require.Len(t, searches, 2)
	assert.Equal(t, "s1", searches[0].Get("search_id").String())
	assert.Equal(t, "http://a", searches[0].Get("results.0").String())
	assert.Equal(t, "s2", searches[1].Get("search_id").String())
}

func TestRecover_Malformed(t *testing.T) {
	text := "the model rambled and produced no structure"
	_, err := Recover(text, Audit)
	require.Error(t, err)

	var mErr *MalformedOutputError
	require.True(t, errors.As(err, &mErr))
	assert.Equal(t, "audit", mErr.Shape)
	assert.Equal(t, text, mErr.Text)
	assert.Contains(t, err.Error(), "malformed audit output")
}

func TestRecover_SchemaMismatchFallsThrough(t *testing.T) {
	_, err := Recover(`{"foo": 1}`, Audit)
	var mErr *MalformedOutputError
	require.ErrorAs(t, err, &mErr)
	assert.Contains(t, mErr.Cause.Error(), "schema")
}

func TestInto_AnalystAlias(t *testing.T) {
	text := `Analysis done.
{"knowledge_base_summary": "kb", "identified_gaps": [{"gap_id": "g1", "research_topic": "X"}]}`

	var rep types.AnalystReport
	require.NoError(t, Into(text, Analyst, &rep))
	assert.Equal(t, "kb", rep.KnowledgeBaseSummary)
	require.Len(t, rep.Gaps, 1)
	assert.Equal(t, "g1", rep.Gaps[0].GapID)
	assert.Equal(t, "X", rep.Gaps[0].ResearchTopic)
}

func TestInto_CanonicalNameWins(t *testing.T) {
	text := `{"gaps": [{"gap_id": "a"}], "identified_gaps": [{"gap_id": "b"}]}`
	var rep types.AnalystReport
	require.NoError(t, Into(text, Analyst, &rep))
	require.Len(t, rep.Gaps, 1)
	assert.Equal(t, "a", rep.Gaps[0].GapID)
}

func TestInto_SearchHitForms(t *testing.T) {
	text := `{"searches": [{"search_id": "s1", "results": ["http://a", {"link": "http://b", "title": "B"}]}]}`
	var out struct {
		Searches []types.Search `json:"searches"`
	}
	require.NoError(t, Into(text, Searches, &out))
	require.Len(t, out.Searches, 1)
	hits := out.Searches[0].Results
	require.Len(t, hits, 2)
	assert.Equal(t, "http://a", hits[0].URL)
	assert.Equal(t, "http://b", hits[1].URL)
	assert.Equal(t, "B", hits[1].Title)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), 3, func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", fmt.Errorf("transient error (call %d)", calls)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_Exhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 2, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 3, func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
