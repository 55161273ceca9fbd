package fhir

import (
	"fmt"
	"strings"
	"time"
)

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact    SearchModifier = "exact"
	ModifierContains SearchModifier = "contains"
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "2023" -> (eq, "2023")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// TokenSearchClause handles a single token value. System and code are each
// optional, but a token with neither, or with a system when systemCol is
// empty, is rejected rather than matching every row.
func TokenSearchClause(systemCol, codeCol string, token TokenParam, argIdx int) (string, []interface{}, int, error) {
	if token.System != "" && systemCol == "" {
		return "", nil, argIdx, NewInvalidRequest("token %s|%s: a system is not supported here", token.System, token.Code)
	}
	switch {
	case token.System != "" && token.Code != "":
		clause := fmt.Sprintf("(%s = $%d AND %s = $%d)", systemCol, argIdx, codeCol, argIdx+1)
		return clause, []interface{}{token.System, token.Code}, argIdx + 2, nil
	case token.Code != "":
		return fmt.Sprintf("%s = $%d", codeCol, argIdx), []interface{}{token.Code}, argIdx + 1, nil
	case token.System != "":
		return fmt.Sprintf("%s = $%d", systemCol, argIdx), []interface{}{token.System}, argIdx + 1, nil
	}
	return "", nil, argIdx, NewInvalidRequest("empty token")
}

// StringSearchClause handles string search parameters with modifier support.
func StringSearchClause(column string, value string, modifier SearchModifier, argIdx int) (string, []interface{}, int) {
	switch modifier {
	case ModifierExact:
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{value}, argIdx + 1
	case ModifierContains:
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{"%" + value + "%"}, argIdx + 1
	default:
		// Default string search: case-insensitive prefix match
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{value + "%"}, argIdx + 1
	}
}

// DatePrecision is the granularity a date search value was written with.
type DatePrecision int

const (
	PrecisionYear DatePrecision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionSecond
)

// parseFlexDate parses a date string in the FHIR-supported formats and
// reports the precision it was written with.
func parseFlexDate(s string) (time.Time, DatePrecision, error) {
	formats := []struct {
		layout    string
		precision DatePrecision
	}{
		{time.RFC3339, PrecisionSecond},
		{"2006-01-02T15:04:05", PrecisionSecond},
		{"2006-01-02", PrecisionDay},
		{"2006-01", PrecisionMonth},
		{"2006", PrecisionYear},
	}
	for _, f := range formats {
		if t, err := time.Parse(f.layout, s); err == nil {
			return t, f.precision, nil
		}
	}
	return time.Time{}, 0, fmt.Errorf("unable to parse date: %s", s)
}
