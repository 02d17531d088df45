package adapters

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/mmcdole/gofeed"
)

// RSSAdapter handles RSS and Atom feeds.
type RSSAdapter struct {
	base
}

// NewRSSAdapter builds an adapter for an rss/atom source.
func NewRSSAdapter(source *config.Source) *RSSAdapter {
	return &RSSAdapter{base: newBase(source)}
}

func (a *RSSAdapter) Version() string { return "rss/1.0" }

func (a *RSSAdapter) Fetch(ctx context.Context, sinceHours int) (*FetchResponse, error) {
	statusCode, body, _, err := a.get(ctx, "")
	if err != nil {
		return nil, err
	}

	items, err := parseFeedItems(body, a.maxItems, sinceHours)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", a.source.URL, err)
	}
	return &FetchResponse{
		Items:           items,
		StatusCode:      statusCode,
		BytesDownloaded: len(body),
	}, nil
}

// parseFeedItems converts feed entries to candidates, newest entries
// first as the feed provides them, truncated to maxItems and optionally
// windowed on publication time.
func parseFeedItems(body []byte, maxItems, sinceHours int) ([]RawItemCandidate, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	cutoff := cutoffUnix(sinceHours)
	var candidates []RawItemCandidate
	for _, entry := range feed.Items {
		if len(candidates) >= maxItems {
			break
		}

		var publishedAt string
		if entry.PublishedParsed != nil {
			if cutoff > 0 && entry.PublishedParsed.Unix() < cutoff {
				continue
			}
			publishedAt = timeutil.ToUTCZ(*entry.PublishedParsed)
		}

		canonicalID := entry.GUID
		if canonicalID == "" {
			canonicalID = entry.Link
		}

		tags := append([]string{}, entry.Categories...)

		candidates = append(candidates, RawItemCandidate{
			CanonicalID:    canonicalID,
			Title:          entry.Title,
			URL:            entry.Link,
			PublishedAtUTC: publishedAt,
			Payload: map[string]any{
				"title":     entry.Title,
				"link":      entry.Link,
				"summary":   entry.Description,
				"content":   entry.Content,
				"published": entry.Published,
				"tags":      tags,
			},
		})
	}
	return candidates, nil
}
