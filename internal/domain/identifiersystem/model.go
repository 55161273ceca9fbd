package identifiersystem

import "github.com/google/uuid"

// PatientIdentifierType is a kind of patient identifier, such as a national
// ID or a medical record number, as defined by the clinical record system.
type PatientIdentifierType struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FHIRID      string    `db:"fhir_id" json:"fhir_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
}
