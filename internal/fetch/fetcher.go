// Package fetch downloads source pages for knowledge ingestion.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"
	"golang.org/x/sync/errgroup"
)

// ErrUpstreamFetch is returned when a source URL is unreachable or answers
// with a non-success status.
var ErrUpstreamFetch = errors.New("upstream fetch failure")

const (
	// DefaultMaxChars bounds the text handed to the extractor per source.
	DefaultMaxChars = 10000

	maxBodyBytes   = 4 << 20 // 4MB
	maxParallel    = 4
	userAgentValue = "hostbot-ingest/1.0"
)

// Document is a fetched source, already converted to text and truncated.
type Document struct {
	URL  string
	Text string
}

// Fetcher downloads sources over HTTP.
type Fetcher struct {
	client   *http.Client
	maxChars int
}

// New creates a Fetcher. A nil client uses http.DefaultClient; maxChars <= 0
// uses DefaultMaxChars.
func New(client *http.Client, maxChars int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Fetcher{client: client, maxChars: maxChars}
}

// FetchAll downloads every URL concurrently. Results keep input order. The
// first failure cancels the remaining downloads and no partial result is
// returned.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) ([]Document, error) {
	docs := make([]Document, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, u := range urls {
		g.Go(func() error {
			doc, err := f.Fetch(gctx, u)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Fetch downloads a single URL and returns its text content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Document{}, fmt.Errorf("%w: %s: invalid URL", ErrUpstreamFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s: create request: %v", ErrUpstreamFetch, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgentValue)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s: %v", ErrUpstreamFetch, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Document{}, fmt.Errorf("%w: %s: status %d", ErrUpstreamFetch, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s: read body: %v", ErrUpstreamFetch, rawURL, err)
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type"), text) {
		converted, err := html2text.FromString(text, html2text.Options{OmitLinks: true, TextOnly: true})
		if err == nil {
			text = converted
		}
	}

	return Document{URL: rawURL, Text: Truncate(strings.TrimSpace(text), f.maxChars)}, nil
}

// Truncate cuts s to at most maxChars runes. It may cut mid-sentence.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

func isHTML(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	if contentType != "" {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html")
}
