package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Container news</title>
<item>
<guid>entry-1</guid>
<title>First item</title>
<link>https://example.org/1</link>
<description>Body one</description>
<pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
</item>
<item>
<guid>entry-2</guid>
<title>Second item</title>
<link>https://example.org/2</link>
<description>Body two</description>
<pubDate>not a parseable date</pubDate>
</item>
<item>
<title>No id at all</title>
<description>Skipped</description>
</item>
</channel>
</rss>`

func rssServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetchParsesEntries(t *testing.T) {
	srv := rssServer(t, sampleRSS)

	fixedNow := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f := NewFetcher(slog.Default())
	f.now = func() time.Time { return fixedNow }

	entries, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (id-less item skipped), got %d", len(entries))
	}

	first := entries[0]
	if first.ExternalID != "entry-1" || first.Title != "First item" || first.Link != "https://example.org/1" {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Fatalf("expected published time %v, got %v", want, first.PublishedAt)
	}

	if !entries[1].PublishedAt.Equal(fixedNow) {
		t.Fatalf("expected unparsable date to default to now, got %v", entries[1].PublishedAt)
	}
}

func TestFetchMalformedDocument(t *testing.T) {
	srv := rssServer(t, "this is not XML at all")

	f := NewFetcher(slog.Default())

	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected fetch error for malformed document")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}

	if fetchErr.URL != srv.URL {
		t.Fatalf("expected URL %q in error, got %q", srv.URL, fetchErr.URL)
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	f := NewFetcher(slog.Default())

	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/feed.xml")

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError for network failure, got %T: %v", err, err)
	}
}
