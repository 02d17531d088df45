package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// FEMAAdapter handles FEMA/IPAWS feeds, which may serve RSS/Atom or JSON.
// The content type decides the parser.
type FEMAAdapter struct {
	base
}

// NewFEMAAdapter builds an adapter for a fema/ipaws source.
func NewFEMAAdapter(source *config.Source) *FEMAAdapter {
	return &FEMAAdapter{base: newBase(source)}
}

func (a *FEMAAdapter) Version() string { return "fema/1.0" }

func (a *FEMAAdapter) Fetch(ctx context.Context, sinceHours int) (*FetchResponse, error) {
	statusCode, body, contentType, err := a.get(ctx, "")
	if err != nil {
		return nil, err
	}

	ct := strings.ToLower(contentType)
	var items []RawItemCandidate
	if strings.Contains(ct, "xml") || strings.Contains(ct, "rss") || strings.Contains(ct, "atom") {
		items, err = parseFeedItems(body, a.maxItems, sinceHours)
		if err != nil {
			return nil, fmt.Errorf("parse FEMA feed %s: %w", a.source.URL, err)
		}
	} else {
		items, err = a.parseJSON(body, sinceHours)
		if err != nil {
			return nil, fmt.Errorf("parse FEMA response %s: %w", a.source.URL, err)
		}
	}

	return &FetchResponse{
		Items:           items,
		StatusCode:      statusCode,
		BytesDownloaded: len(body),
	}, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := item[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// parseJSON handles either a bare array or an object wrapping the list
// under items/data/results.
func (a *FEMAAdapter) parseJSON(body []byte, sinceHours int) ([]RawItemCandidate, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, err
	}

	var rawItems []any
	switch v := root.(type) {
	case []any:
		rawItems = v
	case map[string]any:
		for _, key := range []string{"items", "data", "results"} {
			if list, ok := v[key].([]any); ok {
				rawItems = list
				break
			}
		}
	}

	cutoff := cutoffUnix(sinceHours)
	var candidates []RawItemCandidate
	for _, raw := range rawItems {
		if len(candidates) >= a.maxItems {
			break
		}
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		var publishedAt string
		skip := false
		for _, field := range []string{"published", "sent", "created", "date", "timestamp"} {
			v, present := item[field]
			if !present {
				continue
			}
			switch date := v.(type) {
			case string:
				if t, err := timeutil.ParseZ(date); err == nil {
					publishedAt = timeutil.ToUTCZ(t)
					if cutoff > 0 && t.Unix() < cutoff {
						skip = true
					}
				}
			case float64:
				t := timeFromUnix(int64(date))
				publishedAt = timeutil.ToUTCZ(t)
				if cutoff > 0 && t.Unix() < cutoff {
					skip = true
				}
			}
			break
		}
		if skip {
			continue
		}

		candidates = append(candidates, RawItemCandidate{
			CanonicalID:    firstString(item, "id", "guid", "url"),
			Title:          firstString(item, "title", "headline", "name"),
			URL:            firstString(item, "url", "link", "web_url"),
			PublishedAtUTC: publishedAt,
			Payload:        item,
		})
	}
	return candidates, nil
}
