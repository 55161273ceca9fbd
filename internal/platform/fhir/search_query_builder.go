package fhir

import (
	"fmt"
	"strings"
)

// SearchParamType defines the FHIR search parameter type of a chain target.
type SearchParamType int

const (
	SearchParamToken  SearchParamType = iota // Token: exact match or system|code
	SearchParamString                        // String: case-insensitive prefix match, or :exact / :contains
)

// ChainConfig maps a chained reference parameter (e.g. patient.identifier) to
// a subquery returning the ids of the referenced resources. Subquery holds a
// single %[1]s verb that receives the match predicate.
type ChainConfig struct {
	Type     SearchParamType
	Subquery string
	// Columns are matched by string chains; any one of them may match.
	Columns []string
	// SystemColumn and CodeColumn are matched by token chains. SystemColumn
	// is empty when the target has no system.
	SystemColumn string
	CodeColumn   string
}

// ReferenceConfig maps a reference search parameter onto the column holding
// the referenced id and the chains it supports. References typed as anything
// other than ResourceType are rejected.
type ReferenceConfig struct {
	ResourceType string
	Column       string
	Chains       map[string]ChainConfig
}

// SearchQuery builds SQL WHERE clauses from FHIR search parameters.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewSearchQuery creates a new SearchQuery for the given table and columns.
func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// Idx returns the next available parameter index.
func (q *SearchQuery) Idx() int { return q.idx }

// Add appends a raw WHERE clause fragment (without leading "AND").
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// AddTokenAndList ANDs together one OR-group per entry of tokens.
// sysCol may be empty for tokens that carry no system (e.g. _id).
func (q *SearchQuery) AddTokenAndList(sysCol, codeCol string, tokens TokenAndListParam) error {
	for _, or := range tokens {
		var parts []string
		for _, tok := range or {
			clause, err := q.tokenClause(sysCol, codeCol, tok)
			if err != nil {
				return err
			}
			parts = append(parts, clause)
		}
		if len(parts) > 0 {
			q.where += " AND " + orGroup(parts)
		}
	}
	return nil
}

func (q *SearchQuery) tokenClause(sysCol, codeCol string, tok TokenParam) (string, error) {
	clause, args, nextIdx, err := TokenSearchClause(sysCol, codeCol, tok, q.idx)
	if err != nil {
		return "", err
	}
	q.args = append(q.args, args...)
	q.idx = nextIdx
	return clause, nil
}

// AddDateRange bounds column by r. Bounds are expanded to the precision the
// value was written with, so le2020-09-03 includes the whole day.
func (q *SearchQuery) AddDateRange(column string, r *DateRangeParam) {
	if r == nil {
		return
	}
	if r.Lower != nil {
		switch {
		case r.Lower.Prefix != PrefixGt && r.Lower.Prefix != PrefixSa:
			q.Add(fmt.Sprintf("%s >= $%d", column, q.idx), r.Lower.Value)
		case r.Lower.Precision == PrecisionSecond:
			// stored timestamps carry sub-second parts
			q.Add(fmt.Sprintf("%s > $%d", column, q.idx), r.Lower.Value)
		default:
			q.Add(fmt.Sprintf("%s >= $%d", column, q.idx), r.Lower.End())
		}
	}
	if r.Upper != nil {
		switch r.Upper.Prefix {
		case PrefixLt, PrefixEb:
			q.Add(fmt.Sprintf("%s < $%d", column, q.idx), r.Upper.Value)
		default:
			q.Add(fmt.Sprintf("%s < $%d", column, q.idx), r.Upper.End())
		}
	}
}

// AddReferenceAndList ANDs together one OR-group per entry of refs. Chained
// values are resolved through cfg.Chains; an unknown chain or a reference to
// another resource type is an invalid request.
func (q *SearchQuery) AddReferenceAndList(cfg ReferenceConfig, refs ReferenceAndListParam) error {
	for _, or := range refs {
		var parts []string
		for _, ref := range or {
			if ref.ResourceType != "" && cfg.ResourceType != "" && ref.ResourceType != cfg.ResourceType {
				return NewInvalidRequest("%s is not a %s reference", ref.String(), cfg.ResourceType)
			}
			if ref.Chain == "" {
				if ref.Modifier != "" {
					return NewInvalidRequest("modifier :%s requires a chained parameter", ref.Modifier)
				}
				parts = append(parts, fmt.Sprintf("%s = $%d", cfg.Column, q.idx))
				q.args = append(q.args, ref.Value)
				q.idx++
				continue
			}
			chain, ok := cfg.Chains[ref.Chain]
			if !ok {
				return NewInvalidRequest("unsupported chained parameter %s", ref.Chain)
			}
			pred, err := q.chainPredicate(chain, ref)
			if err != nil {
				return err
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", cfg.Column, fmt.Sprintf(chain.Subquery, pred)))
		}
		if len(parts) > 0 {
			q.where += " AND " + orGroup(parts)
		}
	}
	return nil
}

func (q *SearchQuery) chainPredicate(chain ChainConfig, ref ReferenceParam) (string, error) {
	if chain.Type == SearchParamString {
		preds := make([]string, 0, len(chain.Columns))
		for _, col := range chain.Columns {
			clause, args, nextIdx := StringSearchClause(col, ref.Value, ref.Modifier, q.idx)
			preds = append(preds, clause)
			q.args = append(q.args, args...)
			q.idx = nextIdx
		}
		return orGroup(preds), nil
	}
	if ref.Modifier != "" {
		return "", NewInvalidRequest("modifier :%s is not supported on %s", ref.Modifier, ref.Chain)
	}
	return q.tokenClause(chain.SystemColumn, chain.CodeColumn, ParseToken(ref.Value))
}

func orGroup(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// CountSQL returns the count query SQL.
func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// CountArgs returns the arguments for the count query.
func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the arguments for the data query (search args + limit + offset).
func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
