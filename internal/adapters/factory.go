package adapters

import (
	"fmt"
	"time"

	"github.com/hardstop-io/hardstop/internal/config"
)

// New returns the adapter matching the source's type.
func New(source *config.Source) (SourceAdapter, error) {
	switch source.Type {
	case "rss", "atom":
		return NewRSSAdapter(source), nil
	case "nws_alerts":
		return NewNWSAlertsAdapter(source), nil
	case "fema", "ipaws":
		return NewFEMAAdapter(source), nil
	}
	return nil, fmt.Errorf("unknown source type: %q", source.Type)
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
