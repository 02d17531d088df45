// Package suppression evaluates configured rules against normalized items
// before they reach alerting.
package suppression

import (
	"regexp"
	"strings"

	"github.com/hardstop-io/hardstop/internal/config"
)

// Item carries the normalized fields a rule may match against.
type Item struct {
	Title     string
	Summary   string
	RawText   string
	URL       string
	EventType string
}

// Result reports the outcome of evaluating all rules against one item.
// PrimaryRuleID is the first match in evaluation order, which makes the
// outcome deterministic; all matches are kept for audit.
type Result struct {
	Suppressed        bool
	PrimaryRuleID     string
	MatchedRuleIDs    []string
	Notes             []string
	PrimaryReasonCode string
	ReasonCodes       []string
}

func fieldValue(item Item, sourceID, tier, field string) string {
	switch field {
	case "any":
		for _, v := range []string{item.Title, item.Summary, item.RawText, item.URL} {
			if v != "" {
				return v
			}
		}
		return ""
	case "title":
		return item.Title
	case "summary":
		return item.Summary
	case "raw_text":
		return item.RawText
	case "url":
		return item.URL
	case "event_type":
		return item.EventType
	case "source_id":
		return sourceID
	case "tier":
		return tier
	}
	return ""
}

func matches(rule *config.SuppressionRule, item Item, sourceID, tier string) bool {
	if !rule.IsEnabled() {
		return false
	}
	text := fieldValue(item, sourceID, tier, rule.Field)
	if text == "" {
		return false
	}
	pattern := rule.Pattern
	switch rule.Kind {
	case "keyword":
		if !rule.CaseSensitive {
			return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
		}
		return strings.Contains(text, pattern)
	case "exact":
		if !rule.CaseSensitive {
			return strings.EqualFold(text, pattern)
		}
		return text == pattern
	case "regex":
		if !rule.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Invalid regex never matches.
			return false
		}
		return re.MatchString(text)
	}
	// Unknown kind never matches.
	return false
}

// Evaluate runs global rules first, then source rules, each in document
// order. The first matching rule becomes the primary.
func Evaluate(sourceID, tier string, item Item, globalRules, sourceRules []config.SuppressionRule) Result {
	var matched []*config.SuppressionRule
	for i := range globalRules {
		if matches(&globalRules[i], item, sourceID, tier) {
			matched = append(matched, &globalRules[i])
		}
	}
	for i := range sourceRules {
		if matches(&sourceRules[i], item, sourceID, tier) {
			matched = append(matched, &sourceRules[i])
		}
	}
	if len(matched) == 0 {
		return Result{}
	}

	res := Result{
		Suppressed:    true,
		PrimaryRuleID: matched[0].ID,
	}
	for _, rule := range matched {
		res.MatchedRuleIDs = append(res.MatchedRuleIDs, rule.ID)
		res.ReasonCodes = append(res.ReasonCodes, rule.GetReasonCode())
		if rule.Note != "" {
			res.Notes = append(res.Notes, rule.Note)
		}
	}
	res.PrimaryReasonCode = res.ReasonCodes[0]
	return res
}
