package fhir

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofhir/fhirpath"
)

// Constraint is a FHIRPath invariant a resource must satisfy.
type Constraint struct {
	Key        string
	Human      string
	Expression string
}

// ConstraintValidator evaluates FHIRPath invariants against resources.
// Compiled expressions are cached and shared across goroutines.
type ConstraintValidator struct {
	constraints []Constraint

	exprCache   map[string]*fhirpath.Expression
	exprCacheMu sync.RWMutex
}

func NewConstraintValidator(constraints ...Constraint) *ConstraintValidator {
	return &ConstraintValidator{
		constraints: constraints,
		exprCache:   make(map[string]*fhirpath.Expression),
	}
}

// Validate returns one error issue per violated constraint. A nil slice
// means the resource satisfied every constraint.
func (v *ConstraintValidator) Validate(resource interface{}) ([]OperationOutcomeIssue, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}

	var issues []OperationOutcomeIssue
	for _, c := range v.constraints {
		expr, err := v.compiled(c.Expression)
		if err != nil {
			return nil, fmt.Errorf("compile constraint %s: %w", c.Key, err)
		}
		result, err := expr.Evaluate(data)
		if err != nil {
			return nil, fmt.Errorf("evaluate constraint %s: %w", c.Key, err)
		}
		if !passed(result) {
			issues = append(issues, OperationOutcomeIssue{
				Severity:    IssueSeverityError,
				Code:        IssueTypeInvariant,
				Diagnostics: fmt.Sprintf("Constraint failed: %s: '%s'", c.Key, c.Human),
				Expression:  []string{c.Expression},
			})
		}
	}
	return issues, nil
}

func (v *ConstraintValidator) compiled(expr string) (*fhirpath.Expression, error) {
	v.exprCacheMu.RLock()
	compiled, ok := v.exprCache[expr]
	v.exprCacheMu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := fhirpath.Compile(expr)
	if err != nil {
		return nil, err
	}

	v.exprCacheMu.Lock()
	v.exprCache[expr] = compiled
	v.exprCacheMu.Unlock()
	return compiled, nil
}

// passed applies FHIRPath truthiness: a single boolean is its value, an empty
// collection fails, anything else passes.
func passed(result fhirpath.Collection) bool {
	if result.Empty() {
		return false
	}
	b, err := result.ToBoolean()
	if err != nil {
		return true
	}
	return b
}
