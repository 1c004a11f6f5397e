// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client sends JSON requests to one service.
type Client struct {
	HTTP       *http.Client
	BaseURL    string
	Header     http.Header
	MaxRetries int
	Log        *zap.Logger
}

// NewClient builds a Client from shared HTTP settings.
func NewClient(cfg types.HTTPConfig, baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	h := http.Header{}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
	return &Client{
		HTTP:       &http.Client{Timeout: cfg.Timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Header:     h,
		MaxRetries: cfg.MaxRetries,
		Log:        log,
	}
}

// JSON sends a request with in encoded as the JSON body (when non-nil) and
// decodes a 2xx response into out (when non-nil). path is joined to BaseURL
// unless it is already absolute.
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, err := c.send(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, in any) (*http.Response, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.BaseURL + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := DoWithRetry(ctx, c.HTTP, req, c.MaxRetries, c.Log)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method: method,
			URL:    path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	return resp, nil
}
