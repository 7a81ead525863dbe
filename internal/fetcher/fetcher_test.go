package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"
)

type mockTransport struct {
	body       string
	statusCode int
	headers    http.Header
	err        error
	lastReq    *http.Request
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	h := m.headers
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t)

	tests := []struct {
		name       string
		transport  *mockTransport
		wantStatus Status
		wantTitle  string
		wantItems  int
		wantErr    bool
	}{
		{
			name:       "successful fetch",
			transport:  &mockTransport{body: xml, statusCode: 200},
			wantStatus: StatusUpdated,
			wantTitle:  "Infra Digest",
			wantItems:  5,
		},
		{
			name:       "not modified",
			transport:  &mockTransport{statusCode: 304},
			wantStatus: StatusUnchanged,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
		{
			name:      "empty document is a fetch failure",
			transport: &mockTransport{body: "<rss version=\"2.0\"><channel><title>Empty</title></channel></rss>", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.transport)
			res, err := f.Fetch(context.Background(), Request{URL: "https://example.com/rss"})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantStatus, res.Status); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantTitle, res.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(res.Entries)); diff != "" {
				t.Errorf("entry count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchSendsConditionalHeaders(t *testing.T) {
	transport := &mockTransport{statusCode: 304}
	f := New(transport)

	res, err := f.Fetch(context.Background(), Request{
		URL:          "https://example.com/rss",
		ETag:         `"etag-1"`,
		LastModified: "Mon, 17 Mar 2025 09:00:00 GMT",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := transport.lastReq.Header.Get("If-None-Match"); got != `"etag-1"` {
		t.Errorf("If-None-Match = %q, want %q", got, `"etag-1"`)
	}
	if got := transport.lastReq.Header.Get("If-Modified-Since"); got != "Mon, 17 Mar 2025 09:00:00 GMT" {
		t.Errorf("If-Modified-Since = %q", got)
	}

	// Unchanged responses keep the previous validation tokens.
	if res.ETag != `"etag-1"` {
		t.Errorf("etag = %q, want carried over", res.ETag)
	}
}

func TestFetchCapturesValidationTokens(t *testing.T) {
	xml := loadFixture(t)
	headers := http.Header{}
	headers.Set("ETag", `"etag-2"`)
	headers.Set("Last-Modified", "Fri, 21 Mar 2025 09:00:00 GMT")

	f := New(&mockTransport{body: xml, statusCode: 200, headers: headers})
	res, err := f.Fetch(context.Background(), Request{URL: "https://example.com/rss"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ETag != `"etag-2"` {
		t.Errorf("etag = %q, want %q", res.ETag, `"etag-2"`)
	}
	if res.LastModified != "Fri, 21 Mar 2025 09:00:00 GMT" {
		t.Errorf("last-modified = %q", res.LastModified)
	}
}

func TestFetchEntryOrderAndIDs(t *testing.T) {
	xml := loadFixture(t)
	f := New(&mockTransport{body: xml, statusCode: 200})

	res, err := f.Fetch(context.Background(), Request{URL: "https://example.com/rss"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotIDs []string
	for _, e := range res.Entries {
		gotIDs = append(gotIDs, e.ID)
	}
	// Document order, newest first; the last item has no GUID and falls
	// back to a content hash.
	want := []string{"item-5", "item-4", "item-3", "item-2"}
	if diff := cmp.Diff(want, gotIDs[:4]); diff != "" {
		t.Errorf("entry ids mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(gotIDs[4], "sha256:") {
		t.Errorf("expected hash fallback for item without GUID, got %q", gotIDs[4])
	}
}

func TestEntryID(t *testing.T) {
	tests := []struct {
		name    string
		item    *gofeed.Item
		wantID  string
		hasHash bool
	}{
		{
			name:   "with guid",
			item:   &gofeed.Item{GUID: "abc-123"},
			wantID: "abc-123",
		},
		{
			name:    "without guid generates hash",
			item:    &gofeed.Item{Title: "Post Without GUID", Link: "https://example.com/post-1"},
			hasHash: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EntryID(tt.item)
			if tt.hasHash {
				if !strings.HasPrefix(got, "sha256:") {
					t.Errorf("expected sha256 prefix, got %q", got)
				}
				return
			}
			if diff := cmp.Diff(tt.wantID, got); diff != "" {
				t.Errorf("ID mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
