package fhir

import "fmt"

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4.
const (
	IssueTypeInvalid       = "invalid"
	IssueTypeRequired      = "required"
	IssueTypeValue         = "value"
	IssueTypeInvariant     = "invariant"
	IssueTypeNotFound      = "not-found"
	IssueTypeProcessing    = "processing"
	IssueTypeNotSupported  = "not-supported"
	IssueTypeException     = "exception"
	IssueTypeDeleted       = "deleted"
	IssueTypeInformational = "informational"
	IssueTypeTooCostly     = "too-costly"
	IssueTypeTimeout       = "timeout"
	IssueTypeThrottled     = "throttled"
	IssueTypeForbidden     = "forbidden"
)

// OperationOutcomeCodeSystem is the HL7 code system for outcome message codes
// such as MSG_DELETED.
const OperationOutcomeCodeSystem = "http://terminology.hl7.org/CodeSystem/operation-outcome"

// OutcomeBuilder provides a fluent API for constructing OperationOutcome resources.
type OutcomeBuilder struct {
	outcome *OperationOutcome
}

// NewOutcomeBuilder creates a new OutcomeBuilder.
func NewOutcomeBuilder() *OutcomeBuilder {
	return &OutcomeBuilder{
		outcome: &OperationOutcome{
			ResourceType: "OperationOutcome",
		},
	}
}

// WithID sets the logical id of the outcome.
func (b *OutcomeBuilder) WithID(id string) *OutcomeBuilder {
	b.outcome.ID = id
	return b
}

// AddIssue adds a single issue to the OperationOutcome.
func (b *OutcomeBuilder) AddIssue(severity, code, diagnostics string) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
	})
	return b
}

// AddIssueWithDetails adds an issue with a CodeableConcept details field.
func (b *OutcomeBuilder) AddIssueWithDetails(severity, code, diagnostics string, details *CodeableConcept) *OutcomeBuilder {
	b.outcome.Issue = append(b.outcome.Issue, OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
		Details:     details,
	})
	return b
}

// AddIssueWithLocation adds an issue including an expression/location path.
func (b *OutcomeBuilder) AddIssueWithLocation(severity, code, diagnostics, location string) *OutcomeBuilder {
	issue := OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
	}
	if location != "" {
		issue.Expression = []string{location}
	}
	b.outcome.Issue = append(b.outcome.Issue, issue)
	return b
}

// Build returns the constructed OperationOutcome.
func (b *OutcomeBuilder) Build() *OperationOutcome {
	return b.outcome
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// ValidationOutcome creates an OperationOutcome for a single validation error.
func ValidationOutcome(field, message string) *OperationOutcome {
	return NewOutcomeBuilder().
		AddIssueWithLocation(IssueSeverityError, IssueTypeInvalid, fmt.Sprintf("%s: %s", field, message), field).
		Build()
}

// NotSupportedOutcome creates an OperationOutcome for unsupported operations.
func NotSupportedOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotSupported, diagnostics)
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}
