package fhir

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ReferenceParam is one value of a reference search parameter. Chain names a
// property of the referenced resource ("identifier", "given", ...); when it is
// empty Value is the referenced resource's id. Modifier applies to string
// chains only.
type ReferenceParam struct {
	ResourceType string
	Chain        string
	Modifier     SearchModifier
	Value        string
}

// ReferenceOrList is a set of alternatives, any of which may match.
type ReferenceOrList []ReferenceParam

// ReferenceAndListParam requires every OR-list to match. A nil value places no
// constraint on the search.
type ReferenceAndListParam []ReferenceOrList

// NewReferenceAndList builds a param with a single AND clause of the given alternatives.
func NewReferenceAndList(refs ...ReferenceParam) ReferenceAndListParam {
	return ReferenceAndListParam{ReferenceOrList(refs)}
}

// TokenParam is a system|code token. Either part may be empty.
type TokenParam struct {
	System string
	Code   string
}

type TokenOrList []TokenParam

// TokenAndListParam requires every OR-list to match. A nil value places no
// constraint on the search.
type TokenAndListParam []TokenOrList

// NewTokenAndList builds a param with a single AND clause of the given alternatives.
func NewTokenAndList(tokens ...TokenParam) TokenAndListParam {
	return TokenAndListParam{TokenOrList(tokens)}
}

// ParseToken parses "system|code", "|code", "system|" or "code".
func ParseToken(raw string) TokenParam {
	if system, code, ok := strings.Cut(raw, "|"); ok {
		return TokenParam{System: system, Code: code}
	}
	return TokenParam{Code: raw}
}

// DateParam is a single prefixed date search value.
type DateParam struct {
	Prefix    SearchPrefix
	Value     time.Time
	Precision DatePrecision
}

// ParseDateParam parses values such as "ge2020-09-03" or "2020-09".
func ParseDateParam(raw string) (DateParam, error) {
	parsed := ParseSearchValue(raw)
	t, precision, err := parseFlexDate(parsed.Value)
	if err != nil {
		return DateParam{}, err
	}
	return DateParam{Prefix: parsed.Prefix, Value: t, Precision: precision}, nil
}

// End returns the first instant after the period the value covers, so that
// "2020-09-03" spans [2020-09-03T00:00, 2020-09-04T00:00).
func (d DateParam) End() time.Time {
	switch d.Precision {
	case PrecisionYear:
		return d.Value.AddDate(1, 0, 0)
	case PrecisionMonth:
		return d.Value.AddDate(0, 1, 0)
	case PrecisionDay:
		return d.Value.AddDate(0, 0, 1)
	default:
		return d.Value.Add(time.Second)
	}
}

// DateRangeParam bounds a date column. Either bound may be nil.
type DateRangeParam struct {
	Lower *DateParam
	Upper *DateParam
}

// ParseDateRange folds repeated date values into a range. ge/gt/sa set the
// lower bound, le/lt/eb the upper bound, and eq (or no prefix) sets both to
// the period the value covers.
func ParseDateRange(values []string) (*DateRangeParam, error) {
	if len(values) == 0 {
		return nil, nil
	}
	r := &DateRangeParam{}
	for _, raw := range values {
		if raw == "" {
			continue
		}
		d, err := ParseDateParam(raw)
		if err != nil {
			return nil, NewInvalidRequest("invalid date %q: %v", raw, err)
		}
		switch d.Prefix {
		case PrefixGe, PrefixGt, PrefixSa:
			p := d
			r.Lower = &p
		case PrefixLe, PrefixLt, PrefixEb:
			p := d
			r.Upper = &p
		case PrefixEq, PrefixAp:
			lower, upper := d, d
			lower.Prefix, upper.Prefix = PrefixGe, PrefixLe
			r.Lower, r.Upper = &lower, &upper
		default:
			return nil, NewInvalidRequest("unsupported date prefix %q", d.Prefix)
		}
	}
	if r.Lower == nil && r.Upper == nil {
		return nil, nil
	}
	return r, nil
}

// ParseTokenAndList reads a token parameter. Repeated parameters are ANDed
// and comma-separated values within one parameter are ORed.
func ParseTokenAndList(values []string) TokenAndListParam {
	var and TokenAndListParam
	for _, v := range values {
		var or TokenOrList
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				or = append(or, ParseToken(part))
			}
		}
		if len(or) > 0 {
			and = append(and, or)
		}
	}
	return and
}

// ParseReferenceAndList collects the reference parameter name from the query.
// Keys take the form name[:Type][.chain[:modifier]], e.g. "patient",
// "subject:Patient", "patient.identifier" or "subject:Patient.name:exact".
// Only the listed chains are accepted. Any other chain, a modifier the server
// does not support, or a reference to a type other than resourceType is an
// invalid request.
func ParseReferenceAndList(q url.Values, name, resourceType string, chains ...string) (ReferenceAndListParam, error) {
	allowed := make(map[string]bool, len(chains))
	for _, c := range chains {
		allowed[c] = true
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var and ReferenceAndListParam
	for _, key := range keys {
		head, chainPart, _ := strings.Cut(key, ".")
		param, typeModifier, _ := strings.Cut(head, ":")
		if param != name {
			continue
		}
		chain, modifier, _ := strings.Cut(chainPart, ":")
		if typeModifier != "" && !isResourceTypeName(typeModifier) {
			return nil, NewInvalidRequest("unsupported modifier in %s", key)
		}
		if chain != "" && !allowed[chain] {
			return nil, NewInvalidRequest("unsupported chained parameter %s", key)
		}
		switch SearchModifier(modifier) {
		case "", ModifierExact, ModifierContains:
		default:
			return nil, NewInvalidRequest("unsupported modifier in %s", key)
		}

		refType := resourceType
		if typeModifier != "" {
			refType = typeModifier
		}
		for _, v := range q[key] {
			var or ReferenceOrList
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				ref := ReferenceParam{ResourceType: refType, Chain: chain, Modifier: SearchModifier(modifier), Value: part}
				if chain == "" {
					if t, id := ParseReference(part); t != "" {
						ref.ResourceType, ref.Value = t, id
					}
				}
				if resourceType != "" && ref.ResourceType != resourceType {
					return nil, NewInvalidRequest("%s: %s is not a %s reference", key, ref.String(), resourceType)
				}
				or = append(or, ref)
			}
			if len(or) > 0 {
				and = append(and, or)
			}
		}
	}
	return and, nil
}

// isResourceTypeName reports whether s looks like a FHIR resource type, which
// is how a ":Type" modifier is told apart from ":missing" and friends.
func isResourceTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

func (r ReferenceParam) String() string {
	if r.Chain != "" {
		return fmt.Sprintf("%s.%s=%s", r.ResourceType, r.Chain, r.Value)
	}
	return FormatReference(r.ResourceType, r.Value)
}
