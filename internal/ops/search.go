// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/internal/httputil"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// Search endpoints. Declared as vars so tests can substitute an httptest server.
var (
	googleSearchBase   = "https://www.googleapis.com/customsearch/v1"
	openAlexSearchBase = "https://api.openalex.org/works"
)

// Google Custom Search returns at most 10 items per request.
const googleMaxNum = 10

// Search implements web_search (Google Custom Search) and scholar_search (OpenAlex).
type Search struct {
	cfg    types.SearchConfig
	client *httputil.Client
}

// NewSearch builds the search adapter.
func NewSearch(cfg types.SearchConfig, log *zap.Logger) *Search {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Search{cfg: cfg, client: httputil.NewClient(cfg.HTTPConfig, "", log)}
}

// Operations returns web_search when Google credentials are configured, and
// scholar_search always.
func (s *Search) Operations() []Operation {
	params := object(map[string]any{
		"query":       str("search query"),
		"num_results": integer("number of results to return"),
	}, "query")

	var out []Operation
	if s.cfg.GoogleAPIKey != "" && s.cfg.GoogleCSEID != "" {
		out = append(out, &Func{
			K:      KindWebSearch,
			Desc:   "Search the web. Returns a list of {url, title, snippet}.",
			Params: params,
			Fn:     s.webSearch,
		})
	}
	out = append(out, &Func{
		K:      KindScholarSearch,
		Desc:   "Search scholarly works on OpenAlex. Returns a list of {url, title, snippet}.",
		Params: params,
		Fn:     s.scholarSearch,
	})
	return out
}

func (s *Search) limit(args map[string]any, max int) int {
	n := optInt(args, "num_results", s.cfg.MaxResults)
	if n <= 0 {
		n = s.cfg.MaxResults
	}
	if n > max {
		n = max
	}
	return n
}

func (s *Search) webSearch(ctx context.Context, args map[string]any) (any, error) {
	q, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"key": {s.cfg.GoogleAPIKey},
		"cx":  {s.cfg.GoogleCSEID},
		"q":   {q},
		"num": {strconv.Itoa(s.limit(args, googleMaxNum))},
	}

	var resp struct {
		Items []struct {
			Link    string `json:"link"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := s.client.JSON(ctx, http.MethodGet, googleSearchBase, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	hits := make([]types.SearchHit, 0, len(resp.Items))
	for _, item := range resp.Items {
		hits = append(hits, types.SearchHit{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	return hits, nil
}

func (s *Search) scholarSearch(ctx context.Context, args map[string]any) (any, error) {
	q, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"search":   {q},
		"per_page": {strconv.Itoa(s.limit(args, 200))},
		"page":     {"1"},
	}
	if s.cfg.OpenAlexEmail != "" {
		params.Set("mailto", s.cfg.OpenAlexEmail)
	}

	var resp openAlexResponse
	if err := s.client.JSON(ctx, http.MethodGet, openAlexSearchBase, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("OpenAlex search: %w", err)
	}

	hits := make([]types.SearchHit, 0, len(resp.Results))
	for _, work := range resp.Results {
		hit := types.SearchHit{Title: work.Title, Snippet: reconstructAbstract(work.AbstractInvertedIndex)}
		// Prefer an open-access copy, then the DOI, then the OpenAlex page.
		switch {
		case work.OpenAccess.OAURL != "":
			hit.URL = work.OpenAccess.OAURL
		case work.DOI != "":
			hit.URL = work.DOI
		default:
			hit.URL = work.ID
		}
		if hit.URL == "" {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// maxSnippetWords bounds the abstract text returned as a snippet.
const maxSnippetWords = 60

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text, truncated to maxSnippetWords.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}
	size := 0
	for _, positions := range invertedIndex {
		for _, p := range positions {
			if p+1 > size {
				size = p + 1
			}
		}
	}
	words := make([]string, size)
	for word, positions := range invertedIndex {
		for _, p := range positions {
			if p >= 0 {
				words[p] = word
			}
		}
	}
	truncated := len(words) > maxSnippetWords
	if truncated {
		words = words[:maxSnippetWords]
	}
	text := strings.Join(strings.Fields(strings.Join(words, " ")), " ")
	if truncated {
		text += " ..."
	}
	return text
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string             `json:"id"`
	Title                 string             `json:"title"`
	DOI                   string             `json:"doi"`
	AbstractInvertedIndex map[string][]int   `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess `json:"open_access"`
}

type openAlexOpenAccess struct {
	IsOA  bool   `json:"is_oa"`
	OAURL string `json:"oa_url"`
}
