package store

import "sort"

func sortStrings(s []string) {
	sort.Strings(s)
}

// sortReasonsByCount orders descending by count, stable so ties keep
// recency order.
func sortReasonsByCount(reasons []SuppressionReason) {
	sort.SliceStable(reasons, func(i, j int) bool {
		return reasons[i].Count > reasons[j].Count
	})
}
