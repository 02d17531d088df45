package suppression

import (
	"testing"

	"github.com/hardstop-io/hardstop/internal/config"
	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluateKeywordRule(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "promo", Kind: "keyword", Field: "title", Pattern: "sponsored", ReasonCode: "PROMO"},
	}

	res := Evaluate("src-1", "local", Item{Title: "Sponsored: new warehouse opens"}, rules, nil)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "promo", res.PrimaryRuleID)
	assert.Equal(t, "PROMO", res.PrimaryReasonCode)

	res = Evaluate("src-1", "local", Item{Title: "Warehouse fire reported"}, rules, nil)
	assert.False(t, res.Suppressed)
}

func TestEvaluateCaseSensitivity(t *testing.T) {
	insensitive := []config.SuppressionRule{
		{ID: "r1", Kind: "keyword", Field: "title", Pattern: "SPONSORED"},
	}
	assert.True(t, Evaluate("s", "t", Item{Title: "sponsored post"}, insensitive, nil).Suppressed)

	sensitive := []config.SuppressionRule{
		{ID: "r2", Kind: "keyword", Field: "title", Pattern: "SPONSORED", CaseSensitive: true},
	}
	assert.False(t, Evaluate("s", "t", Item{Title: "sponsored post"}, sensitive, nil).Suppressed)
}

func TestEvaluateRegexAndExact(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "scores", Kind: "regex", Field: "title", Pattern: `\b(vs\.?|defeats)\b`},
		{ID: "exact", Kind: "exact", Field: "event_type", Pattern: "other"},
	}

	res := Evaluate("s", "t", Item{Title: "Tigers vs. Lions tonight"}, rules, nil)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "scores", res.PrimaryRuleID)

	res = Evaluate("s", "t", Item{Title: "quiet day", EventType: "OTHER"}, rules, nil)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "exact", res.PrimaryRuleID)
}

func TestEvaluateInvalidRegexNeverMatches(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "broken", Kind: "regex", Field: "title", Pattern: "("},
	}
	assert.False(t, Evaluate("s", "t", Item{Title: "anything ("}, rules, nil).Suppressed)
}

func TestEvaluateGlobalRulesRunBeforeSourceRules(t *testing.T) {
	global := []config.SuppressionRule{
		{ID: "global-rule", Kind: "keyword", Field: "title", Pattern: "closure"},
	}
	source := []config.SuppressionRule{
		{ID: "source-rule", Kind: "keyword", Field: "title", Pattern: "closure", Note: "local noise"},
	}

	res := Evaluate("src-1", "local", Item{Title: "Bridge closure announced"}, global, source)
	assert.True(t, res.Suppressed)
	assert.Equal(t, "global-rule", res.PrimaryRuleID)
	assert.Equal(t, []string{"global-rule", "source-rule"}, res.MatchedRuleIDs)
	assert.Equal(t, []string{"local noise"}, res.Notes)
}

func TestEvaluateDisabledRuleSkipped(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "off", Kind: "keyword", Field: "title", Pattern: "closure", Enabled: boolPtr(false)},
	}
	assert.False(t, Evaluate("s", "t", Item{Title: "Bridge closure"}, rules, nil).Suppressed)
}

func TestEvaluateSourceAndTierFields(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "mute-src", Kind: "exact", Field: "source_id", Pattern: "noisy-feed"},
	}
	assert.True(t, Evaluate("noisy-feed", "local", Item{Title: "x"}, rules, nil).Suppressed)
	assert.False(t, Evaluate("other-feed", "local", Item{Title: "x"}, rules, nil).Suppressed)
}

func TestReasonCodeFallsBackToRuleID(t *testing.T) {
	rules := []config.SuppressionRule{
		{ID: "no-code", Kind: "keyword", Field: "title", Pattern: "test"},
	}
	res := Evaluate("s", "t", Item{Title: "this is a test"}, rules, nil)
	assert.Equal(t, "no-code", res.PrimaryReasonCode)
}
