package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource(typ, url string) *config.Source {
	return &config.Source{
		ID:   "test-source",
		Type: typ,
		Tier: "local",
		Name: "Test Source",
		URL:  url,
	}
}

func rssBody(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test Feed</title>` + items + `</channel></rss>`
}

const rssTwoItems = `
<item>
  <title>Chemical spill near Avon plant</title>
  <link>https://example.org/spill</link>
  <guid>item-1</guid>
  <pubDate>Mon, 29 Dec 2025 15:00:00 +0000</pubDate>
  <description>Hazmat crews on scene</description>
  <category>incidents</category>
</item>
<item>
  <title>Bridge closure on US-36</title>
  <link>https://example.org/closure</link>
  <pubDate>Mon, 29 Dec 2025 14:00:00 +0000</pubDate>
  <description>Eastbound lanes shut</description>
</item>`

func TestFactory(t *testing.T) {
	for typ, want := range map[string]string{
		"rss":        "rss/1.0",
		"atom":       "rss/1.0",
		"nws_alerts": "nws_alerts/1.0",
		"fema":       "fema/1.0",
		"ipaws":      "fema/1.0",
	} {
		adapter, err := New(testSource(typ, "https://example.org/feed"))
		require.NoError(t, err, typ)
		assert.Equal(t, want, adapter.Version())
		assert.Equal(t, "test-source", adapter.SourceID())
	}

	_, err := New(testSource("carrier_pigeon", "https://example.org/feed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source type: "carrier_pigeon"`)
}

func TestRSSAdapterFetch(t *testing.T) {
	var gotUserAgent string
	body := rssBody(rssTwoItems)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	src := testSource("rss", srv.URL)
	src.UserAgent = "hardstop-test/1.0"
	resp, err := NewRSSAdapter(src).Fetch(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, "hardstop-test/1.0", gotUserAgent)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, len(body), resp.BytesDownloaded)
	require.Len(t, resp.Items, 2)

	first := resp.Items[0]
	assert.Equal(t, "item-1", first.CanonicalID)
	assert.Equal(t, "Chemical spill near Avon plant", first.Title)
	assert.Equal(t, "https://example.org/spill", first.URL)
	assert.Equal(t, "2025-12-29T15:00:00.000000Z", first.PublishedAtUTC)
	assert.Equal(t, "Hazmat crews on scene", first.Payload["summary"])
	assert.Equal(t, []string{"incidents"}, first.Payload["tags"])

	// No guid falls back to the link.
	assert.Equal(t, "https://example.org/closure", resp.Items[1].CanonicalID)
}

func TestRSSAdapterMaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(rssTwoItems))
	}))
	t.Cleanup(srv.Close)

	adapter := NewRSSAdapter(testSource("rss", srv.URL))
	adapter.SetMaxItems(1)
	resp, err := adapter.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "item-1", resp.Items[0].CanonicalID)
}

func TestRSSAdapterSinceWindow(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z)
	items := fmt.Sprintf(`
<item><title>Fresh</title><link>https://example.org/fresh</link><guid>fresh</guid><pubDate>%s</pubDate></item>
<item><title>Stale</title><link>https://example.org/stale</link><guid>stale</guid><pubDate>Wed, 01 Jan 2020 00:00:00 +0000</pubDate></item>`, recent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssBody(items))
	}))
	t.Cleanup(srv.Close)

	resp, err := NewRSSAdapter(testSource("rss", srv.URL)).Fetch(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "fresh", resp.Items[0].CanonicalID)
}

func TestGetPreservesHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := NewRSSAdapter(testSource("rss", srv.URL)).Fetch(context.Background(), 0)
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "http 502")
}

func TestNWSAdapterFetch(t *testing.T) {
	var gotAccept string
	doc := `{"features":[
		{"properties":{"id":"nws-1","headline":"Winter Storm Warning","event":"Winter Storm",
			"severity":"Severe","areaDesc":"Hendricks, IN","sent":"2025-12-29T10:00:00Z"}},
		{"properties":{"id":"nws-2","event":"Flood Watch"}},
		{"properties":{"id":"nws-3"}}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewNWSAlertsAdapter(testSource("nws_alerts", srv.URL)).Fetch(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "application/geo+json", gotAccept)
	require.Len(t, resp.Items, 3)

	assert.Equal(t, "nws-1", resp.Items[0].CanonicalID)
	assert.Equal(t, "Winter Storm Warning", resp.Items[0].Title)
	assert.Equal(t, "2025-12-29T10:00:00.000000Z", resp.Items[0].PublishedAtUTC)
	assert.Equal(t, "Hendricks, IN", resp.Items[0].Payload["areaDesc"])

	// Headline falls back to event, then to a generic title.
	assert.Equal(t, "Flood Watch", resp.Items[1].Title)
	assert.Equal(t, "NWS Alert", resp.Items[2].Title)
}

func TestFEMAAdapterParsesJSONByContentType(t *testing.T) {
	doc := `{"items":[
		{"id":"fema-1","headline":"Flood declaration","url":"https://example.org/fema-1","sent":"2025-12-29T08:00:00Z"},
		{"guid":"fema-2","name":"Fire declaration","timestamp":1767000000}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewFEMAAdapter(testSource("fema", srv.URL)).Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	assert.Equal(t, "fema-1", resp.Items[0].CanonicalID)
	assert.Equal(t, "Flood declaration", resp.Items[0].Title)
	assert.Equal(t, "2025-12-29T08:00:00.000000Z", resp.Items[0].PublishedAtUTC)

	assert.Equal(t, "fema-2", resp.Items[1].CanonicalID)
	assert.Equal(t, "Fire declaration", resp.Items[1].Title)
	assert.NotEmpty(t, resp.Items[1].PublishedAtUTC)
}

func TestFEMAAdapterParsesFeedByContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssBody(rssTwoItems))
	}))
	t.Cleanup(srv.Close)

	resp, err := NewFEMAAdapter(testSource("ipaws", srv.URL)).Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "item-1", resp.Items[0].CanonicalID)
}
