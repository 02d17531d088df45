package runstatus

import (
	"testing"

	"github.com/hardstop-io/hardstop/internal/adapters"
	"github.com/hardstop-io/hardstop/internal/fetch"
	"github.com/hardstop-io/hardstop/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okFetch(items int) fetch.Result {
	return fetch.Result{
		SourceID: "src",
		Status:   models.StatusSuccess,
		Items:    make([]adapters.RawItemCandidate, items),
	}
}

func failedFetch() fetch.Result {
	return fetch.Result{SourceID: "src", Status: models.StatusFailure, Error: "boom"}
}

func ingestRun(status string, diagnosticsJSON string) models.SourceRun {
	run := models.SourceRun{SourceID: "src", Phase: models.PhaseIngest, Status: status}
	if diagnosticsJSON != "" {
		run.DiagnosticsJSON = models.StrPtr(diagnosticsJSON)
	}
	return run
}

func healthyInput() Input {
	return Input{
		FetchResults: []fetch.Result{okFetch(3)},
		IngestRuns:   []models.SourceRun{ingestRun(models.StatusSuccess, "")},
		Doctor:       &DoctorFindings{EnabledSourcesCount: 2},
	}
}

func TestEvaluateHealthy(t *testing.T) {
	code, messages := Evaluate(healthyInput())
	assert.Equal(t, ExitHealthy, code)
	assert.Equal(t, []string{"All systems healthy"}, messages)
}

func TestEvaluateBrokenOrder(t *testing.T) {
	t.Run("config error wins", func(t *testing.T) {
		in := healthyInput()
		in.Doctor.ConfigError = "sources.yaml: bad yaml"
		in.Doctor.SchemaDrift = "missing table"
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		require.Len(t, messages, 1)
		assert.Contains(t, messages[0], "Config error")
	})

	t.Run("schema drift", func(t *testing.T) {
		in := healthyInput()
		in.Doctor.SchemaDrift = "missing table: alerts"
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		assert.Contains(t, messages[0], "Schema drift")
	})

	t.Run("no enabled sources", func(t *testing.T) {
		in := healthyInput()
		in.Doctor.EnabledSourcesCount = 0
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		assert.Equal(t, []string{"No enabled sources configured"}, messages)
	})

	t.Run("budget blockers", func(t *testing.T) {
		in := healthyInput()
		in.Doctor.HealthBudgetBlockers = []string{"dead-feed"}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		assert.Contains(t, messages[0], "exhausted failure budget")
	})

	t.Run("all fetches failed", func(t *testing.T) {
		in := healthyInput()
		in.FetchResults = []fetch.Result{failedFetch(), failedFetch()}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		assert.Equal(t, []string{"All 2 sources failed to fetch"}, messages)
	})

	t.Run("ingest crashed before any source", func(t *testing.T) {
		in := healthyInput()
		in.IngestRuns = []models.SourceRun{}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitBroken, code)
		assert.Equal(t, []string{"Ingest crashed before processing any source"}, messages)
	})

	t.Run("nil ingest runs means ingest never ran", func(t *testing.T) {
		in := healthyInput()
		in.IngestRuns = nil
		code, _ := Evaluate(in)
		assert.Equal(t, ExitHealthy, code)
	})
}

func TestEvaluateWarnings(t *testing.T) {
	t.Run("partial fetch failures", func(t *testing.T) {
		in := healthyInput()
		in.FetchResults = []fetch.Result{okFetch(3), failedFetch()}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitWarning, code)
		assert.Contains(t, messages[0], "1 source(s) failed to fetch")
	})

	t.Run("stale sources", func(t *testing.T) {
		in := healthyInput()
		in.StaleSources = []string{"indiana-deq"}
		in.StaleThresholdHours = 72
		code, messages := Evaluate(in)
		assert.Equal(t, ExitWarning, code)
		assert.Equal(t, []string{"1 source(s) stale (no success in 72h)"}, messages)
	})

	t.Run("ingest failures and errors", func(t *testing.T) {
		in := healthyInput()
		in.IngestRuns = []models.SourceRun{
			ingestRun(models.StatusFailure, ""),
			ingestRun(models.StatusSuccess, `{"errors":2}`),
		}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitWarning, code)
		require.Len(t, messages, 2)
		assert.Contains(t, messages[0], "failed during ingest")
		assert.Contains(t, messages[1], "1 source(s) had ingest errors (2 total)")
	})

	t.Run("allow ingest errors suppresses the error warning", func(t *testing.T) {
		in := healthyInput()
		in.IngestRuns = []models.SourceRun{ingestRun(models.StatusSuccess, `{"errors":2}`)}
		in.AllowIngestErrors = true
		code, _ := Evaluate(in)
		assert.Equal(t, ExitHealthy, code)
	})

	t.Run("top three warnings surface", func(t *testing.T) {
		in := healthyInput()
		in.FetchResults = []fetch.Result{okFetch(3), failedFetch()}
		in.StaleSources = []string{"a"}
		in.IngestRuns = []models.SourceRun{ingestRun(models.StatusFailure, "")}
		in.Doctor.SuppressionWarnings = []string{"duplicate rule id: promo"}
		code, messages := Evaluate(in)
		assert.Equal(t, ExitWarning, code)
		assert.Len(t, messages, 3)
	})
}

func TestEvaluateStrictEscalatesWarnings(t *testing.T) {
	in := healthyInput()
	in.FetchResults = []fetch.Result{okFetch(3), failedFetch()}
	in.Strict = true
	code, _ := Evaluate(in)
	assert.Equal(t, ExitBroken, code)
}

func TestEvaluateQuietRuns(t *testing.T) {
	t.Run("no fetch results", func(t *testing.T) {
		in := healthyInput()
		in.FetchResults = nil
		in.IngestRuns = nil
		code, messages := Evaluate(in)
		assert.Equal(t, ExitWarning, code)
		assert.Equal(t, []string{"No fetch results available"}, messages)
	})

	t.Run("quiet successful run", func(t *testing.T) {
		in := healthyInput()
		in.FetchResults = []fetch.Result{okFetch(0)}
		in.IngestRuns = []models.SourceRun{}
		code, _ := Evaluate(in)
		// Fetch succeeded with zero items, so an empty ingest pass is
		// normal, not a crash.
		assert.Equal(t, ExitHealthy, code)
	})
}
