// Package feed retrieves remote syndication documents and reconciles
// their entries with the local message store.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const fetchTimeout = 20 * time.Second

// Entry is one parsed item from a remote syndication document.
type Entry struct {
	ExternalID  string
	Title       string
	Body        string
	Link        string
	PublishedAt time.Time
}

// FetchError wraps network, timeout and parse failures. It is
// non-fatal to callers: the error text is recorded on the feed and the
// feed is retried on its next due cycle.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	parser *gofeed.Parser
	now    func() time.Time
	log    *slog.Logger
}

func NewFetcher(log *slog.Logger) *Fetcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: fetchTimeout}

	return &Fetcher{
		parser: parser,
		now:    time.Now,
		log:    log,
	}
}

// Fetch retrieves the feed at feedURL and maps its items to entries.
// Items with unparsable dates default to now; items without any usable
// external id are skipped.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}

	now := f.now().UTC()

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		externalID := strings.TrimSpace(item.GUID)
		if externalID == "" {
			externalID = strings.TrimSpace(item.Link)
		}
		if externalID == "" {
			f.log.WarnContext(ctx, "Skipping feed item without external id",
				"feedURL", feedURL,
				"itemTitle", strings.TrimSpace(item.Title))

			continue
		}

		publishedAt := now
		if item.PublishedParsed != nil {
			publishedAt = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			publishedAt = item.UpdatedParsed.UTC()
		}

		body := item.Content
		if strings.TrimSpace(body) == "" {
			body = item.Description
		}

		entries = append(entries, Entry{
			ExternalID:  externalID,
			Title:       strings.TrimSpace(item.Title),
			Body:        body,
			Link:        strings.TrimSpace(item.Link),
			PublishedAt: publishedAt,
		})
	}

	return entries, nil
}
