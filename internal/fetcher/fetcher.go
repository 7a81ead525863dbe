// Package fetcher handles feed downloading and parsing, with
// conditional GET so unchanged documents are never re-parsed.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"feedrelay/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Status reports how a fetch concluded.
type Status int

// Fetch statuses.
const (
	// StatusUpdated means the document changed and was parsed.
	StatusUpdated Status = iota
	// StatusUnchanged means the validation token still matches (HTTP
	// 304); this counts as a successful poll with no entries.
	StatusUnchanged
)

// Request identifies the feed to fetch and carries the validation
// tokens from its previous successful fetch.
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

// Result holds the outcome of a successful fetch.
type Result struct {
	Status       Status
	Title        string
	Entries      []model.Entry
	ETag         string
	LastModified string
}

// Fetcher downloads and parses syndication feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads the feed, honoring its validation tokens. A parse
// failure or a document with zero entries is reported as an error, not
// as an empty result: a feed whose format temporarily broke must not
// look like a feed with nothing new.
func (f *Fetcher) Fetch(ctx context.Context, r Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "FeedRelayBot/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if r.ETag != "" {
		req.Header.Set("If-None-Match", r.ETag)
	}
	if r.LastModified != "" {
		req.Header.Set("If-Modified-Since", r.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			Status:       StatusUnchanged,
			ETag:         r.ETag,
			LastModified: r.LastModified,
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if len(feed.Items) == 0 {
		return nil, fmt.Errorf("feed %s has no entries", r.URL)
	}

	entries := make([]model.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, model.Entry{
			ID:        EntryID(item),
			Title:     item.Title,
			Link:      item.Link,
			Published: item.PublishedParsed,
		})
	}

	return &Result{
		Status:       StatusUpdated,
		Title:        feed.Title,
		Entries:      entries,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// EntryID returns the stable identifier for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func EntryID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
