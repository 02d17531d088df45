// Package ingest drains NEW raw items into events and alerts. Each source
// batch is isolated: item failures mark the item FAILED and continue, and
// every (source, run group) pair gets exactly one INGEST SourceRun row.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/hardstop-io/hardstop/internal/correlate"
	"github.com/hardstop-io/hardstop/internal/linker"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/hardstop-io/hardstop/internal/normalize"
	"github.com/hardstop-io/hardstop/internal/store"
	"github.com/hardstop-io/hardstop/internal/suppression"
	"github.com/hardstop-io/hardstop/internal/timeutil"
	"github.com/sirupsen/logrus"
)

const maxStoredErrorLen = 1000

// Runner processes pending raw items for every configured source.
type Runner struct {
	st          *store.Store
	sources     *config.SourcesConfig
	suppression *config.SuppressionConfig
	builder     *correlate.Builder
	logger      *logrus.Logger
}

// NewRunner wires an ingest runner. The suppression config may be nil when
// no suppression document exists.
func NewRunner(st *store.Store, sources *config.SourcesConfig, suppressionCfg *config.SuppressionConfig, builder *correlate.Builder, logger *logrus.Logger) *Runner {
	return &Runner{
		st:          st,
		sources:     sources,
		suppression: suppressionCfg,
		builder:     builder,
		logger:      logger,
	}
}

// Options filters and shapes one ingest pass.
type Options struct {
	Limit             int
	MinTier           string
	SourceID          string
	SinceHours        int
	NoSuppress        bool
	ExplainSuppress   bool
	RunGroupID        string
	FailFast          bool
	AllowIngestErrors bool
	MaxShipments      int
	Now               time.Time
}

// Stats counts one ingest pass.
type Stats struct {
	Processed  int `json:"processed"`
	Events     int `json:"events"`
	Alerts     int `json:"alerts"`
	Errors     int `json:"errors"`
	Suppressed int `json:"suppressed"`
}

// Outcome is the full result of a Run call.
type Outcome struct {
	Stats        Stats
	RunGroupID   string
	AlertResults []*correlate.Result
}

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}

// preflight validates a source batch before any item is touched. Empty
// batches are normal; quiet feeds must not fail.
func preflight(sourceID string, items []models.RawItem) error {
	if strings.TrimSpace(sourceID) == "" {
		return fmt.Errorf("invalid source_id: %q", sourceID)
	}
	if items == nil {
		return fmt.Errorf("source items cannot be nil")
	}
	return nil
}

func (r *Runner) globalRules(noSuppress bool) []config.SuppressionRule {
	if noSuppress || r.suppression == nil || !r.suppression.IsEnabled() {
		return nil
	}
	return r.suppression.Rules
}

func (r *Runner) sourceFor(raw *models.RawItem) *config.Source {
	if src := r.sources.FindSource(raw.SourceID); src != nil {
		return src
	}
	// Source dropped from config since fetch; fall back to the raw row's
	// captured tier and trust.
	return &config.Source{
		ID:        raw.SourceID,
		Tier:      raw.Tier,
		TrustTier: raw.TrustTier,
	}
}

// Run drains pending raw items grouped by source. Item-level failures mark
// the item FAILED and keep the batch going; the batch's SourceRun is
// SUCCESS only when the loop completed without item errors, unless
// AllowIngestErrors downgrades item errors to diagnostics. FailFast stops
// at the first item failure after persisting the batch's FAILURE SourceRun.
func (r *Runner) Run(opts Options) (*Outcome, error) {
	runGroupID := opts.RunGroupID
	if runGroupID == "" {
		runGroupID = uuid.NewString()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	globalRules := r.globalRules(opts.NoSuppress)

	rawItems, err := r.st.RawItemsForIngest(store.IngestQuery{
		Limit:      opts.Limit,
		MinTier:    opts.MinTier,
		SourceID:   opts.SourceID,
		SinceHours: opts.SinceHours,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}
	r.logger.WithField("count", len(rawItems)).Info("processing raw items for ingestion")

	bySource := map[string][]models.RawItem{}
	var sourceOrder []string
	for _, item := range rawItems {
		if _, ok := bySource[item.SourceID]; !ok {
			sourceOrder = append(sourceOrder, item.SourceID)
		}
		bySource[item.SourceID] = append(bySource[item.SourceID], item)
	}

	outcome := &Outcome{RunGroupID: runGroupID}

	for _, sourceID := range sourceOrder {
		if err := r.runSourceBatch(sourceID, bySource[sourceID], globalRules, runGroupID, opts, now, outcome); err != nil {
			return outcome, err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"processed": outcome.Stats.Processed, "events": outcome.Stats.Events,
		"alerts": outcome.Stats.Alerts, "suppressed": outcome.Stats.Suppressed,
		"errors": outcome.Stats.Errors,
	}).Info("ingestion complete")
	return outcome, nil
}

func (r *Runner) runSourceBatch(
	sourceID string,
	items []models.RawItem,
	globalRules []config.SuppressionRule,
	runGroupID string,
	opts Options,
	now time.Time,
	outcome *Outcome,
) error {
	var processed, suppressed, events, alerts, errCount int
	reasonCounts := map[string]int{}
	start := time.Now()
	runWritten := false
	var firstError string

	persistRun := func(status, errMsg string) {
		if runWritten {
			return
		}
		runWritten = true
		duration := time.Since(start).Seconds()
		params := store.SourceRunParams{
			RunGroupID:         runGroupID,
			SourceID:           sourceID,
			Phase:              models.PhaseIngest,
			RunAtUTC:           timeutil.ToUTCZ(now),
			Status:             status,
			Error:              truncateError(errMsg),
			DurationSeconds:    &duration,
			ItemsProcessed:     processed,
			ItemsSuppressed:    suppressed,
			ItemsEventsCreated: events,
			ItemsAlertsTouched: alerts,
		}
		diagnostics := map[string]any{}
		if len(reasonCounts) > 0 {
			diagnostics["suppression_reason_counts"] = reasonCounts
		}
		if errCount > 0 {
			diagnostics["errors"] = errCount
		}
		if len(diagnostics) > 0 {
			params.Diagnostics = diagnostics
		}
		if _, err := r.st.CreateSourceRun(params); err != nil {
			r.logger.WithError(err).WithField("source_id", sourceID).
				Error("failed to persist ingest source run")
		}
	}

	batchErr := func() error {
		if err := preflight(sourceID, items); err != nil {
			return err
		}
		for i := range items {
			raw := &items[i]
			itemErr := r.processItem(raw, globalRules, opts, now, outcome, &suppressed, &events, &alerts, reasonCounts)
			processed++
			outcome.Stats.Processed++
			if itemErr != nil {
				errCount++
				outcome.Stats.Errors++
				msg := truncateError(itemErr.Error())
				if firstError == "" {
					firstError = msg
				}
				r.logger.WithError(itemErr).WithField("raw_id", raw.RawID).
					Error("failed to process raw item")
				if markErr := r.st.MarkRawItemStatus(raw.RawID, models.RawStatusFailed, msg); markErr != nil {
					return fmt.Errorf("mark raw item failed: %w", markErr)
				}
				if opts.FailFast {
					return itemErr
				}
			}
		}
		return nil
	}()

	if batchErr != nil {
		persistRun(models.StatusFailure, batchErr.Error())
		r.logger.WithError(batchErr).WithField("source_id", sourceID).Error("source batch failed")
		if opts.FailFast {
			return fmt.Errorf("ingest failed for source %s: %w", sourceID, batchErr)
		}
	} else if errCount > 0 && !opts.AllowIngestErrors {
		aggregated := firstError
		if aggregated == "" {
			aggregated = fmt.Sprintf("%d error(s) during processing", errCount)
		}
		persistRun(models.StatusFailure, aggregated)
	} else {
		persistRun(models.StatusSuccess, "")
	}

	r.logger.WithFields(logrus.Fields{
		"source_id": sourceID, "processed": processed, "events": events,
		"alerts": alerts, "suppressed": suppressed, "errors": errCount,
	}).Info("source batch complete")
	return nil
}

func (r *Runner) processItem(
	raw *models.RawItem,
	globalRules []config.SuppressionRule,
	opts Options,
	now time.Time,
	outcome *Outcome,
	suppressed, events, alerts *int,
	reasonCounts map[string]int,
) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parse raw payload: %w", err)
	}

	source := r.sourceFor(raw)
	event := normalize.External(adapterCandidate(raw, payload), source, raw.RawID)

	if !opts.NoSuppress {
		result := suppression.Evaluate(raw.SourceID, raw.Tier, suppression.Item{
			Title:     event.Title,
			Summary:   payloadString(payload, "summary"),
			RawText:   event.RawText,
			URL:       event.URL,
			EventType: event.EventType,
		}, globalRules, source.Suppress)

		if result.Suppressed {
			suppressedAt := timeutil.ToUTCZ(now)
			primary := result.PrimaryRuleID
			if primary == "" {
				primary = "unknown"
			}
			if err := r.st.MarkRawItemSuppressed(raw.RawID, primary, result.MatchedRuleIDs,
				suppressedAt, "INGEST_EXTERNAL", result.PrimaryReasonCode); err != nil {
				return err
			}

			row := event.ToModel()
			row.SuppressionPrimaryRuleID = models.StrPtr(result.PrimaryRuleID)
			if len(result.MatchedRuleIDs) > 0 {
				data, _ := json.Marshal(result.MatchedRuleIDs)
				row.SuppressionRuleIDsJSON = models.StrPtr(string(data))
			}
			row.SuppressedAtUTC = models.StrPtr(suppressedAt)
			row.SuppressionReasonCode = models.StrPtr(result.PrimaryReasonCode)
			if _, err := r.st.SaveEvent(row); err != nil {
				return err
			}

			reason := result.PrimaryReasonCode
			if reason == "" {
				reason = primary
			}
			reasonCounts[reason]++
			*suppressed++
			*events++
			outcome.Stats.Suppressed++
			outcome.Stats.Events++
			if opts.ExplainSuppress {
				r.logger.WithFields(logrus.Fields{
					"raw_id": raw.RawID, "rule": result.PrimaryRuleID,
					"matched": result.MatchedRuleIDs,
				}).Info("suppressed raw item")
			}
			return nil
		}
	}

	if _, err := r.st.SaveEvent(event.ToModel()); err != nil {
		return err
	}
	*events++
	outcome.Stats.Events++

	if err := linker.Link(event, r.st, opts.MaxShipments); err != nil {
		return err
	}

	result, err := r.builder.BuildAlert(event, now)
	if err != nil {
		return err
	}
	*alerts++
	outcome.Stats.Alerts++
	outcome.AlertResults = append(outcome.AlertResults, result)

	if err := r.st.MarkRawItemStatus(raw.RawID, models.RawStatusNormalized, ""); err != nil {
		return err
	}
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func adapterCandidate(raw *models.RawItem, payload map[string]any) adapters.RawItemCandidate {
	return adapters.RawItemCandidate{
		CanonicalID:    models.Deref(raw.CanonicalID),
		Title:          models.Deref(raw.Title),
		URL:            models.Deref(raw.URL),
		PublishedAtUTC: models.Deref(raw.PublishedAtUTC),
		Payload:        payload,
	}
}
