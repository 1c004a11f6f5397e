// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ops

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/pdiddy/knowledge-gardener/internal/httputil"
	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// maxFetchBody bounds how much of a response is read before reduction to text.
const maxFetchBody = 8 << 20

// FetchResult is the text content of one fetched URL.
type FetchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"content_type"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher implements the fetch operation.
type Fetcher struct {
	cfg    types.FetchConfig
	client *http.Client
	log    *zap.Logger
}

// NewFetcher builds the fetch adapter.
func NewFetcher(cfg types.FetchConfig, log *zap.Logger) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Operation returns the fetch operation.
func (f *Fetcher) Operation() Operation {
	return &Func{
		K:    KindFetch,
		Desc: "Fetch a URL and return its text content. HTML is reduced to readable text.",
		Params: object(map[string]any{
			"url":       str("absolute http or https URL"),
			"max_bytes": integer("maximum characters of text to return"),
		}, "url"),
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			u, err := stringArg(args, "url")
			if err != nil {
				return nil, err
			}
			return f.Fetch(ctx, u, optInt(args, "max_bytes", f.cfg.MaxBytes))
		},
	}
}

// Fetch retrieves rawURL and returns at most maxBytes of its text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxBytes int) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	if maxBytes <= 0 || maxBytes > f.cfg.MaxBytes {
		maxBytes = f.cfg.MaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, f.client, req, f.cfg.MaxRetries, f.log)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	res := &FetchResult{URL: rawURL, ContentType: mediaType}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		res.Title, res.Text = htmlToText(string(body))
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" || mediaType == "":
		res.Text = string(body)
	default:
		return nil, fmt.Errorf("fetching %s: unsupported content type %q", rawURL, mediaType)
	}

	if len(res.Text) > maxBytes {
		res.Text = strings.ToValidUTF8(res.Text[:maxBytes], "")
		res.Truncated = true
	}
	return res, nil
}

// skippedElements hold no readable text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"nav": true, "footer": true, "iframe": true,
}

// blockElements end a line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// htmlToText returns the document title and its visible text, one block per line.
func htmlToText(doc string) (title, text string) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(title), collapseLines(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			tag := tt.Data
			if tag == "title" && tt.Type == html.StartTagToken {
				inTitle = true
			}
			if skippedElements[tag] && tt.Type == html.StartTagToken {
				skip++
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
			}
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			t := string(z.Text())
			if inTitle {
				title += t
				continue
			}
			if skip > 0 {
				continue
			}
			b.WriteString(t)
			b.WriteByte(' ')
		}
	}
}

func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
