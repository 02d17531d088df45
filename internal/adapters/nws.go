package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/timeutil"
)

// NWSAlertsAdapter handles the National Weather Service alerts API
// (GeoJSON).
type NWSAlertsAdapter struct {
	base
}

// NewNWSAlertsAdapter builds an adapter for an nws_alerts source.
func NewNWSAlertsAdapter(source *config.Source) *NWSAlertsAdapter {
	return &NWSAlertsAdapter{base: newBase(source)}
}

func (a *NWSAlertsAdapter) Version() string { return "nws_alerts/1.0" }

type nwsFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type nwsDocument struct {
	Features []nwsFeature `json:"features"`
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func (a *NWSAlertsAdapter) Fetch(ctx context.Context, sinceHours int) (*FetchResponse, error) {
	statusCode, body, _, err := a.get(ctx, "application/geo+json")
	if err != nil {
		return nil, err
	}

	var doc nwsDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse NWS alerts from %s: %w", a.source.URL, err)
	}

	cutoff := cutoffUnix(sinceHours)
	var candidates []RawItemCandidate
	for _, feature := range doc.Features {
		if len(candidates) >= a.maxItems {
			break
		}
		props := feature.Properties
		if props == nil {
			continue
		}

		var publishedAt string
		if sent := propString(props, "sent"); sent != "" {
			if t, err := timeutil.ParseZ(sent); err == nil {
				if cutoff > 0 && t.Unix() < cutoff {
					continue
				}
				publishedAt = timeutil.ToUTCZ(t)
			}
		}

		canonicalID := propString(props, "id")
		title := propString(props, "headline")
		if title == "" {
			title = propString(props, "event")
		}
		if title == "" {
			title = "NWS Alert"
		}
		url := propString(props, "web_url")
		if url == "" {
			url = propString(props, "url")
		}

		var geometry any
		if len(feature.Geometry) > 0 {
			json.Unmarshal(feature.Geometry, &geometry)
		}

		candidates = append(candidates, RawItemCandidate{
			CanonicalID:    canonicalID,
			Title:          title,
			URL:            url,
			PublishedAtUTC: publishedAt,
			Payload: map[string]any{
				"id":          canonicalID,
				"headline":    props["headline"],
				"event":       props["event"],
				"severity":    props["severity"],
				"urgency":     props["urgency"],
				"certainty":   props["certainty"],
				"areaDesc":    props["areaDesc"],
				"description": props["description"],
				"instruction": props["instruction"],
				"sent":        props["sent"],
				"effective":   props["effective"],
				"expires":     props["expires"],
				"status":      props["status"],
				"messageType": props["messageType"],
				"web_url":     props["web_url"],
				"geometry":    geometry,
			},
		})
	}

	return &FetchResponse{
		Items:           candidates,
		StatusCode:      statusCode,
		BytesDownloaded: len(body),
	}, nil
}
