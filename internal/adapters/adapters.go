// Package adapters fetches and parses items from configured upstream
// sources: RSS/Atom feeds, the NWS alerts API, and FEMA/IPAWS feeds.
package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
)

// RawItemCandidate is one parsed upstream item before persistence.
type RawItemCandidate struct {
	CanonicalID    string
	Title          string
	URL            string
	PublishedAtUTC string
	Payload        map[string]any
}

// FetchResponse carries parsed items plus transfer diagnostics.
type FetchResponse struct {
	Items           []RawItemCandidate
	StatusCode      int
	BytesDownloaded int
}

// SourceAdapter fetches one configured source. Zero items is a success;
// quiet feeds are normal.
type SourceAdapter interface {
	SourceID() string
	Version() string
	Fetch(ctx context.Context, sinceHours int) (*FetchResponse, error)
	SetMaxItems(n int)
}

// HTTPError preserves the upstream status code for SourceRun records.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

const (
	defaultTimeoutSeconds = 20
	defaultMaxItems       = 50
	defaultUserAgent      = "hardstop/1.0"
)

// base carries what every adapter needs from the source config.
type base struct {
	source    *config.Source
	client    *http.Client
	maxItems  int
	userAgent string
}

func newBase(source *config.Source) base {
	timeout := source.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	maxItems := source.MaxItemsPerFetch
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	userAgent := source.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return base{
		source:    source,
		client:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxItems:  maxItems,
		userAgent: userAgent,
	}
}

func (b *base) SourceID() string { return b.source.ID }

func (b *base) SetMaxItems(n int) {
	if n > 0 {
		b.maxItems = n
	}
}

// get downloads the source URL. Non-2xx responses become *HTTPError so the
// caller can persist the status code.
func (b *base) get(ctx context.Context, accept string) (int, []byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.source.URL, nil)
	if err != nil {
		return 0, nil, "", fmt.Errorf("build request for %s: %w", b.source.URL, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	if accept == "" {
		accept = "*/*"
	}
	req.Header.Set("Accept", accept)

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("fetch %s: %w", b.source.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, "", fmt.Errorf("read response from %s: %w", b.source.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, "", &HTTPError{URL: b.source.URL, StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, body, resp.Header.Get("Content-Type"), nil
}

// cutoffUnix returns the publication cutoff, or zero when no window applies.
func cutoffUnix(sinceHours int) int64 {
	if sinceHours <= 0 {
		return 0
	}
	return time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour).Unix()
}
