package fhir

import "fmt"

// MsgDeleted is the operation-outcome code reported after a successful delete.
const MsgDeleted = "MSG_DELETED"

// DeletedOutcome is returned by delete interactions that removed a resource.
// It carries a single informational issue whose details are coded
// MSG_DELETED in the HL7 operation-outcome code system.
func DeletedOutcome(resourceType, id string) *OperationOutcome {
	return NewOutcomeBuilder().
		WithID(id).
		AddIssueWithDetails(
			IssueSeverityInformation,
			IssueTypeInformational,
			fmt.Sprintf("%s/%s deleted successfully", resourceType, id),
			&CodeableConcept{
				Coding: []Coding{{
					System:  OperationOutcomeCodeSystem,
					Code:    MsgDeleted,
					Display: "This resource has been deleted",
				}},
			},
		).
		Build()
}

// MethodOutcome is the result of a create or update interaction.
type MethodOutcome struct {
	ID       string
	Created  bool
	Resource interface{}
}
