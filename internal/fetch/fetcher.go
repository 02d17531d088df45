// Package fetch drives source adapters with per-host rate limiting.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Result is the outcome of fetching one source.
type Result struct {
	SourceID        string
	Tier            string
	TrustTier       int
	FetchedAtUTC    string
	Status          string // SUCCESS | FAILURE
	StatusCode      *int
	Error           string
	DurationSeconds float64
	Items           []adapters.RawItemCandidate
	BytesDownloaded int
}

// Fetcher runs adapters against configured sources. Outbound requests to
// the same host are paced by a minimum interval plus jitter; strict mode
// zeroes the jitter and pins the seed so runs are reproducible.
type Fetcher struct {
	sources *config.SourcesConfig
	logger  *logrus.Logger

	strict        bool
	seed          int64
	rng           *rand.Rand
	jitterSeconds int
	perHostMin    time.Duration

	limiters        map[string]*rate.Limiter
	adapterVersions map[string]struct{}
}

// Option adjusts fetcher construction.
type Option func(*Fetcher)

// Strict disables jitter and pins the rng seed to zero.
func Strict() Option {
	return func(f *Fetcher) { f.strict = true }
}

// WithSeed pins the jitter rng seed.
func WithSeed(seed int64) Option {
	return func(f *Fetcher) { f.seed = seed }
}

// New builds a fetcher over the sources document.
func New(sources *config.SourcesConfig, logger *logrus.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		sources:         sources,
		logger:          logger,
		seed:            -1,
		jitterSeconds:   1,
		perHostMin:      2 * time.Second,
		limiters:        map[string]*rate.Limiter{},
		adapterVersions: map[string]struct{}{},
	}
	if rl := sources.Defaults.RateLimit; rl.PerHostMinSeconds != nil {
		f.perHostMin = time.Duration(*rl.PerHostMinSeconds) * time.Second
	}
	if rl := sources.Defaults.RateLimit; rl.JitterSeconds != nil {
		f.jitterSeconds = *rl.JitterSeconds
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.strict {
		f.jitterSeconds = 0
		if f.seed < 0 {
			f.seed = 0
		}
	}
	if f.seed < 0 {
		f.seed = rand.Int63()
	}
	f.rng = rand.New(rand.NewSource(f.seed))
	return f
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// waitForHost blocks until the host's minimum interval allows another
// request, then adds jitter.
func (f *Fetcher) waitForHost(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(f.perHostMin), 1)
		f.limiters[host] = limiter
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if f.jitterSeconds > 0 {
		jitter := time.Duration(f.rng.Float64() * float64(f.jitterSeconds) * float64(time.Second))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// BestEffortMetadata describes nondeterministic inputs for RunRecords.
// Strict runs carry none.
func (f *Fetcher) BestEffortMetadata() map[string]any {
	if f.strict {
		return map[string]any{}
	}
	notes := fmt.Sprintf("jitter_seconds=%d", f.jitterSeconds)
	if f.jitterSeconds <= 0 {
		notes = "jitter_disabled"
	}
	inputsVersion := "adapters:unknown"
	if len(f.adapterVersions) > 0 {
		versions := make([]string, 0, len(f.adapterVersions))
		for v := range f.adapterVersions {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		inputsVersion = strings.Join(versions, ",")
	}
	return map[string]any{
		"seed":           f.seed,
		"inputs_version": inputsVersion,
		"notes":          notes,
	}
}

// Options filters a FetchAll pass.
type Options struct {
	Tier              string
	EnabledOnly       bool
	MaxItemsPerSource int
	Since             string
	FailFast          bool
}

func (f *Fetcher) sinceHours(since string) int {
	if since == "" {
		return 0
	}
	hours, ok := timeutil.ParseSince(since)
	if !ok {
		f.logger.WithField("since", since).Warn("invalid --since value, ignoring")
		return 0
	}
	return hours
}

// FetchAll fetches every matching source in tier order, one Result per
// source. Failures are recorded per source unless FailFast is set.
func (f *Fetcher) FetchAll(ctx context.Context, opts Options) ([]Result, error) {
	var selected []*config.Source
	for _, source := range f.sources.AllSources() {
		if opts.Tier != "" && source.Tier != opts.Tier {
			continue
		}
		if opts.EnabledOnly && !source.Enabled {
			continue
		}
		selected = append(selected, source)
	}
	f.logger.WithField("count", len(selected)).Info("fetching sources")

	sinceHours := f.sinceHours(opts.Since)
	fetchedAt := timeutil.UTCNowZ()

	var results []Result
	for _, source := range selected {
		result := f.fetchSource(ctx, source, sinceHours, opts.MaxItemsPerSource, fetchedAt)
		results = append(results, result)
		if result.Status == "FAILURE" && opts.FailFast {
			return results, fmt.Errorf("failed to fetch from %s: %s", source.ID, result.Error)
		}
	}

	failed := 0
	for _, r := range results {
		if r.Status == "FAILURE" {
			failed++
		}
	}
	if failed > 0 {
		f.logger.WithField("failed", failed).Warn("some sources failed to fetch")
	}
	return results, nil
}

// FetchOne fetches a single source by id. Unknown ids are an error; so is
// a fetch failure, though the failed Result is still returned.
func (f *Fetcher) FetchOne(ctx context.Context, sourceID, since string, maxItems int) (*Result, error) {
	source := f.sources.FindSource(sourceID)
	if source == nil {
		return nil, fmt.Errorf("source %q not found in configuration", sourceID)
	}
	result := f.fetchSource(ctx, source, f.sinceHours(since), maxItems, timeutil.UTCNowZ())
	if result.Status == "FAILURE" {
		return &result, fmt.Errorf("failed to fetch from %s: %s", sourceID, result.Error)
	}
	return &result, nil
}

func (f *Fetcher) fetchSource(ctx context.Context, source *config.Source, sinceHours, maxItems int, fetchedAt string) Result {
	result := Result{
		SourceID:     source.ID,
		Tier:         source.Tier,
		TrustTier:    source.TrustTier,
		FetchedAtUTC: fetchedAt,
		Status:       "SUCCESS",
	}
	start := time.Now()
	defer func() {
		result.DurationSeconds = time.Since(start).Seconds()
	}()

	fail := func(err error) Result {
		result.Status = "FAILURE"
		result.Error = err.Error()
		var httpErr *adapters.HTTPError
		if errors.As(err, &httpErr) {
			code := httpErr.StatusCode
			result.StatusCode = &code
		}
		f.logger.WithError(err).WithField("source_id", source.ID).Error("fetch failed")
		return result
	}

	if err := f.waitForHost(ctx, source.URL); err != nil {
		return fail(err)
	}

	adapter, err := adapters.New(source)
	if err != nil {
		return fail(err)
	}
	f.adapterVersions[source.ID+":"+adapter.Version()] = struct{}{}
	if maxItems > 0 {
		adapter.SetMaxItems(maxItems)
	}

	f.logger.WithFields(logrus.Fields{"source_id": source.ID, "tier": source.Tier}).Info("fetching")
	resp, err := adapter.Fetch(ctx, sinceHours)
	if err != nil {
		return fail(err)
	}

	result.Items = resp.Items
	if resp.StatusCode != 0 {
		code := resp.StatusCode
		result.StatusCode = &code
	}
	result.BytesDownloaded = resp.BytesDownloaded
	f.logger.WithFields(logrus.Fields{"source_id": source.ID, "items": len(resp.Items)}).Info("fetched")
	return result
}
