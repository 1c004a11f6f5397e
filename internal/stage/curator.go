// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/agent"
	"github.com/pdiddy/knowledge-gardener/internal/extract"
	"github.com/pdiddy/knowledge-gardener/internal/ops"
	"github.com/pdiddy/knowledge-gardener/internal/report"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

var (
	rankerOps   = []ops.Kind{ops.KindWebSearch, ops.KindFetch}
	ingesterOps = []ops.Kind{ops.KindFetch, ops.KindDocumentsInsertText, ops.KindDocumentsPipelineStatus}
)

const (
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// Curator ranks the researcher's search results into URLs worth ingesting,
// then ingests them in batches and records a status for every URL.
type Curator struct{ base }

// Run ranks every unranked search, then ingests every queued URL without a
// recorded status.
func (c *Curator) Run(ctx context.Context, rc *RunContext) Outcome {
	log := rc.log(c.stage)

	res, err := predecessor(ctx, rc, types.StageResearcher)
	if err != nil {
		return failure(c.stage, "", err)
	}
	var researcher types.ResearcherReport
	if err := res.Decode(&researcher); err != nil {
		return failure(c.stage, "", fmt.Errorf("decoding researcher report %s: %w", res.ReportID, err))
	}

	doc, resumed, err := begin(ctx, rc, c.stage, map[string]any{
		"researcher_report_id": res.ReportID,
		"ranked_search_ids":    []any{},
		"urls_for_ingestion":   []any{},
		"url_ingestion_status": []any{},
	}, func(d *report.Document) bool {
		return d.Field("researcher_report_id").String() == res.ReportID
	})
	if err != nil {
		return failure(c.stage, "", err)
	}
	id := doc.ReportID

	var current types.CuratorReport
	if err := doc.Decode(&current); err != nil {
		return failure(c.stage, id, fmt.Errorf("decoding curator report %s: %w", id, err))
	}
	log.Info("curator starting", zap.String("report_id", id), zap.String("researcher_report_id", res.ReportID), zap.Bool("resumed", resumed))

	ranked := make(map[string]bool, len(current.RankedSearchIDs))
	for _, s := range current.RankedSearchIDs {
		ranked[s] = true
	}
	queue := newURLQueue(current.URLsForIngestion)

	var rankedCount, rankFailed int
	for _, gap := range researcher.Gaps {
		for i, s := range gap.Searches {
			key := rankKey(gap.GapID, s.SearchID, i)
			if ranked[key] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return failure(c.stage, id, err)
			}

			urls, err := c.rank(ctx, rc, log.With(zap.String("search_id", key)), s)
			if err != nil {
				log.Warn("search ranking skipped", zap.String("search_id", key), zap.Error(err))
				rankFailed++
				continue
			}
			fresh := queue.fresh(urls)
			err = rc.retry(ctx, func(ctx context.Context) error {
				return rc.Store.Update(ctx, c.stage, id,
					report.Append("urls_for_ingestion", fresh),
					report.Append("ranked_search_ids", key),
				)
			})
			if err != nil {
				log.Error("recording ranked URLs failed", zap.String("search_id", key), zap.Error(err))
				rankFailed++
				continue
			}
			queue.add(fresh)
			ranked[key] = true
			rankedCount++
			log.Debug("search ranked", zap.String("search_id", key), zap.Int("urls", len(fresh)))
		}
	}

	recorded := make(map[string]bool, len(current.URLIngestionStatus))
	for _, st := range current.URLIngestionStatus {
		recorded[st.URL] = true
	}
	var pending []string
	for _, u := range queue.urls {
		if !recorded[u] {
			pending = append(pending, u)
		}
	}

	var succeeded, failed int
	var persistErr error
	for n, batch := range batches(pending, rc.Settings.IngestBatchSize) {
		if err := ctx.Err(); err != nil {
			return failure(c.stage, id, err)
		}
		blog := log.With(zap.Int("batch", n+1), zap.Int("urls", len(batch)))
		statuses := c.ingest(ctx, rc, blog, batch)

		err := rc.retry(ctx, func(ctx context.Context) error {
			return rc.Store.Update(ctx, c.stage, id, report.Append("url_ingestion_status", statuses))
		})
		if err != nil {
			blog.Error("recording ingestion status failed", zap.Error(err))
			persistErr = errors.Join(persistErr, fmt.Errorf("recording batch %d: %w", n+1, err))
			continue
		}
		for _, st := range statuses {
			if st.Succeeded() {
				succeeded++
			} else {
				failed++
			}
		}

		if err := c.waitForPipeline(ctx, rc, blog); err != nil {
			return failure(c.stage, id, err)
		}
	}

	status := fmt.Sprintf("ranked %d searches (%d skipped), %d URLs queued, %d ingested, %d failed",
		rankedCount, rankFailed, len(queue.urls), succeeded, failed)
	if persistErr != nil {
		return failure(c.stage, id, persistErr)
	}
	log.Info("curator finished", zap.String("status", status))
	return Outcome{Stage: c.stage, ReportID: id, Status: status}
}

// rank runs the ranking loop for one search. Searches without results are
// ranked without consulting the model.
func (c *Curator) rank(ctx context.Context, rc *RunContext, log *zap.Logger, s types.Search) ([]string, error) {
	if len(s.Results) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search rationale: %s\n\nSearch results:\n", s.Rationale)
	for _, h := range s.Results {
		b.WriteString("- " + h.URL)
		if h.Title != "" {
			b.WriteString(" (" + h.Title + ")")
		}
		b.WriteString("\n")
	}

	out, err := rc.loop("curator/rank", rc.Prompts.get(PromptRanker), log, rankerOps...).Run(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("ranking loop: %w", err)
	}
	var parsed struct {
		URLs []string `json:"urls_for_ingestion"`
	}
	if err := extract.Into(out.Final, extract.RankedURLs, &parsed); err != nil {
		return nil, err
	}
	return parsed.URLs, nil
}

// ingest runs the ingestion loop over one batch and reconciles the model's
// report with the loop's call log. It always returns one status per URL.
func (c *Curator) ingest(ctx context.Context, rc *RunContext, log *zap.Logger, urls []string) []types.IngestionStatus {
	task := "Ingest these URLs into the knowledge base:\n- " + strings.Join(urls, "\n- ")
	out, err := rc.loop("curator/ingest", rc.Prompts.get(PromptIngester), log, ingesterOps...).Run(ctx, task)

	var reported []types.IngestionStatus
	fallback := "no ingestion status reported"
	if err != nil {
		fallback = "ingestion loop: " + err.Error()
	} else {
		var parsed struct {
			Statuses []types.IngestionStatus `json:"url_ingestion_status"`
		}
		if perr := extract.Into(out.Final, extract.IngestionStatus, &parsed); perr != nil {
			log.Warn("ingestion report unrecoverable", zap.Error(perr))
			fallback = "unreadable ingestion report"
		}
		reported = parsed.Statuses
	}
	return reconcile(urls, reported, out.Calls, fallback)
}

// reconcile builds one status per URL. A URL whose last fetch in the call
// log failed is a failure whatever the model reported, and a URL the model
// did not report is a failure with the fallback detail.
func reconcile(urls []string, reported []types.IngestionStatus, calls []agent.CallRecord, fallback string) []types.IngestionStatus {
	fetchErr := make(map[string]error)
	for _, call := range calls {
		if k, ok := ops.ParseKind(call.Name); !ok || k != ops.KindFetch {
			continue
		}
		u, _ := call.Args["url"].(string)
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if call.Err != nil {
			fetchErr[u] = call.Err
		} else {
			delete(fetchErr, u)
		}
	}

	byURL := make(map[string]types.IngestionStatus, len(reported))
	for _, st := range reported {
		st.URL = strings.TrimSpace(st.URL)
		if _, dup := byURL[st.URL]; st.URL != "" && !dup {
			byURL[st.URL] = st
		}
	}

	out := make([]types.IngestionStatus, 0, len(urls))
	for _, u := range urls {
		st, ok := byURL[u]
		switch {
		case fetchErr[u] != nil:
			st = types.IngestionStatus{URL: u, Status: types.IngestFailure, Detail: "fetch failed: " + fetchErr[u].Error()}
		case !ok:
			st = types.IngestionStatus{URL: u, Status: types.IngestFailure, Detail: fallback}
		case !st.Succeeded():
			st.Status = types.IngestFailure
		}
		out = append(out, st)
	}
	return out
}

// waitForPipeline polls the document pipeline until it is idle. A timeout
// is logged and tolerated; cancellation of ctx is returned.
func (c *Curator) waitForPipeline(ctx context.Context, rc *RunContext, log *zap.Logger) error {
	op, ok := rc.Ops.Lookup(ops.KindDocumentsPipelineStatus.String())
	if !ok {
		return nil
	}
	interval := rc.Settings.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := rc.Settings.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		busy, err := pipelineBusy(pctx, op)
		switch {
		case err != nil:
			log.Warn("pipeline status check failed", zap.Error(err))
		case !busy:
			return nil
		}
		select {
		case <-pctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Warn("ingestion pipeline still busy; continuing", zap.Duration("timeout", timeout))
			return nil
		case <-ticker.C:
		}
	}
}

func pipelineBusy(ctx context.Context, op ops.Operation) (bool, error) {
	res, err := op.Invoke(ctx, map[string]any{})
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return false, fmt.Errorf("encoding pipeline status: %w", err)
	}
	return gjson.GetBytes(data, "busy").Bool(), nil
}

// rankKey identifies a search across the whole researcher report. Search
// IDs are only unique within their gap.
func rankKey(gapID, searchID string, i int) string {
	if searchID == "" {
		searchID = fmt.Sprintf("%s_s%d", gapID, i+1)
	}
	return gapID + "/" + searchID
}

// urlQueue is the ordered, duplicate-free list of URLs for ingestion.
type urlQueue struct {
	urls []string
	seen map[string]bool
}

func newURLQueue(initial []string) *urlQueue {
	q := &urlQueue{seen: make(map[string]bool)}
	q.add(initial)
	return q
}

// fresh returns the URLs not already queued, trimmed and deduplicated.
func (q *urlQueue) fresh(urls []string) []string {
	out := []string{}
	local := make(map[string]bool)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || q.seen[u] || local[u] {
			continue
		}
		local[u] = true
		out = append(out, u)
	}
	return out
}

func (q *urlQueue) add(urls []string) {
	for _, u := range urls {
		if !q.seen[u] {
			q.seen[u] = true
			q.urls = append(q.urls, u)
		}
	}
}

// batches splits urls into chunks of size n; n <= 0 means one batch.
func batches(urls []string, n int) [][]string {
	if len(urls) == 0 {
		return nil
	}
	if n <= 0 || n >= len(urls) {
		return [][]string{urls}
	}
	var out [][]string
	for start := 0; start < len(urls); start += n {
		end := min(start+n, len(urls))
		out = append(out, urls[start:end])
	}
	return out
}
