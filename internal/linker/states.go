package linker

import "strings"

// usStates maps full state names (plus DC and territories) to postal codes.
var usStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "district of columbia": "DC",
	"puerto rico": "PR", "guam": "GU", "american samoa": "AS",
	"u.s. virgin islands": "VI", "northern mariana islands": "MP",
}

var stateNamesByAbbr = func() map[string]string {
	m := make(map[string]string, len(usStates))
	for name, abbr := range usStates {
		m[abbr] = name
	}
	return m
}()

// normalizeState resolves a state name or two-letter code to a postal
// code, or "" when unrecognized.
func normalizeState(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if abbr, ok := usStates[strings.ToLower(v)]; ok {
		return abbr
	}
	if len(v) == 2 {
		upper := strings.ToUpper(v)
		if _, ok := stateNamesByAbbr[upper]; ok {
			return upper
		}
	}
	return ""
}

// stateFullName returns the title-cased full name for a postal code, or "".
func stateFullName(abbr string) string {
	name, ok := stateNamesByAbbr[strings.ToUpper(abbr)]
	if !ok {
		return ""
	}
	words := strings.Fields(name)
	for i, w := range words {
		if w == "of" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
