package medicationrequest

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

const ResourceType = "MedicationRequest"

// MedicationRequest is the stored form of an order for a medication.
// References to other resources hold the referenced resource's FHIR id.
type MedicationRequest struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	FHIRID               string     `db:"fhir_id" json:"fhir_id"`
	Status               string     `db:"status" json:"status"`
	Intent               string     `db:"intent" json:"intent"`
	Priority             *string    `db:"priority" json:"priority,omitempty"`
	MedicationRef        *string    `db:"medication_ref" json:"medication_ref,omitempty"`
	MedicationCodeSystem *string    `db:"medication_code_system" json:"medication_code_system,omitempty"`
	MedicationCode       *string    `db:"medication_code" json:"medication_code,omitempty"`
	MedicationDisplay    *string    `db:"medication_display" json:"medication_display,omitempty"`
	PatientRef           string     `db:"patient_ref" json:"patient_ref"`
	EncounterRef         *string    `db:"encounter_ref" json:"encounter_ref,omitempty"`
	RequesterRef         *string    `db:"requester_ref" json:"requester_ref,omitempty"`
	AuthoredOn           *time.Time `db:"authored_on" json:"authored_on,omitempty"`
	DosageText           *string    `db:"dosage_text" json:"dosage_text,omitempty"`
	Note                 *string    `db:"note" json:"note,omitempty"`
	VersionID            int        `db:"version_id" json:"version_id"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// Resource is the FHIR R4 MedicationRequest exchanged with clients.
type Resource struct {
	ResourceType              string                `json:"resourceType"`
	ID                        string                `json:"id,omitempty"`
	Meta                      *fhir.Meta            `json:"meta,omitempty"`
	Status                    string                `json:"status,omitempty"`
	Intent                    string                `json:"intent,omitempty"`
	Priority                  string                `json:"priority,omitempty"`
	MedicationReference       *fhir.Reference       `json:"medicationReference,omitempty"`
	MedicationCodeableConcept *fhir.CodeableConcept `json:"medicationCodeableConcept,omitempty"`
	Subject                   *fhir.Reference       `json:"subject,omitempty"`
	Encounter                 *fhir.Reference       `json:"encounter,omitempty"`
	Requester                 *fhir.Reference       `json:"requester,omitempty"`
	AuthoredOn                string                `json:"authoredOn,omitempty"`
	DosageInstruction         []fhir.Dosage         `json:"dosageInstruction,omitempty"`
	Note                      []fhir.Annotation     `json:"note,omitempty"`
}

func (mr *MedicationRequest) ToFHIR() *Resource {
	r := &Resource{
		ResourceType: ResourceType,
		ID:           mr.FHIRID,
		Meta: &fhir.Meta{
			VersionID:   strconv.Itoa(mr.VersionID),
			LastUpdated: mr.UpdatedAt,
		},
		Status:  mr.Status,
		Intent:  mr.Intent,
		Subject: &fhir.Reference{Reference: fhir.FormatReference("Patient", mr.PatientRef)},
	}
	if mr.Priority != nil {
		r.Priority = *mr.Priority
	}
	if mr.MedicationRef != nil {
		r.MedicationReference = &fhir.Reference{Reference: fhir.FormatReference("Medication", *mr.MedicationRef)}
	}
	if mr.MedicationCode != nil {
		r.MedicationCodeableConcept = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  strVal(mr.MedicationCodeSystem),
				Code:    *mr.MedicationCode,
				Display: strVal(mr.MedicationDisplay),
			}},
		}
	}
	if mr.EncounterRef != nil {
		r.Encounter = &fhir.Reference{Reference: fhir.FormatReference("Encounter", *mr.EncounterRef)}
	}
	if mr.RequesterRef != nil {
		r.Requester = &fhir.Reference{Reference: fhir.FormatReference("Practitioner", *mr.RequesterRef)}
	}
	if mr.AuthoredOn != nil {
		r.AuthoredOn = mr.AuthoredOn.UTC().Format(time.RFC3339)
	}
	if mr.DosageText != nil {
		r.DosageInstruction = []fhir.Dosage{{Text: *mr.DosageText}}
	}
	if mr.Note != nil {
		r.Note = []fhir.Annotation{{Text: *mr.Note}}
	}
	return r
}

// FromFHIR converts r into its stored form. Bookkeeping fields (ID,
// VersionID, timestamps) are left for the repository to fill in.
func FromFHIR(r *Resource) (*MedicationRequest, error) {
	mr := &MedicationRequest{
		FHIRID: r.ID,
		Status: r.Status,
		Intent: r.Intent,
	}
	if r.Priority != "" {
		mr.Priority = strPtr(r.Priority)
	}

	if r.Subject != nil {
		id, err := referencedID(r.Subject, "subject", "Patient")
		if err != nil {
			return nil, err
		}
		mr.PatientRef = id
	}
	if r.Encounter != nil {
		id, err := referencedID(r.Encounter, "encounter", "Encounter")
		if err != nil {
			return nil, err
		}
		mr.EncounterRef = strPtr(id)
	}
	if r.Requester != nil {
		id, err := referencedID(r.Requester, "requester", "Practitioner")
		if err != nil {
			return nil, err
		}
		mr.RequesterRef = strPtr(id)
	}
	if r.MedicationReference != nil {
		id, err := referencedID(r.MedicationReference, "medicationReference", "Medication")
		if err != nil {
			return nil, err
		}
		mr.MedicationRef = strPtr(id)
	}
	if cc := r.MedicationCodeableConcept; cc != nil && len(cc.Coding) > 0 {
		coding := cc.Coding[0]
		mr.MedicationCode = strPtr(coding.Code)
		if coding.System != "" {
			mr.MedicationCodeSystem = strPtr(coding.System)
		}
		if coding.Display != "" {
			mr.MedicationDisplay = strPtr(coding.Display)
		} else if cc.Text != "" {
			mr.MedicationDisplay = strPtr(cc.Text)
		}
	}

	if r.AuthoredOn != "" {
		t, err := parseDateTime(r.AuthoredOn)
		if err != nil {
			return nil, fhir.NewInvalidRequest("invalid authoredOn %q", r.AuthoredOn)
		}
		mr.AuthoredOn = &t
	}
	if len(r.DosageInstruction) > 0 && r.DosageInstruction[0].Text != "" {
		mr.DosageText = strPtr(r.DosageInstruction[0].Text)
	}
	if len(r.Note) > 0 && r.Note[0].Text != "" {
		mr.Note = strPtr(r.Note[0].Text)
	}
	return mr, nil
}

// referencedID accepts "Type/id" where Type must be want, or a bare id.
func referencedID(ref *fhir.Reference, element, want string) (string, error) {
	refType, id := fhir.ParseReference(ref.Reference)
	if refType == "" {
		refType = ref.Type
	}
	if refType != "" && refType != want {
		return "", fhir.NewInvalidRequest("%s must reference a %s, got %s", element, want, refType)
	}
	if id == "" {
		return "", fhir.NewInvalidRequest("%s reference is empty", element)
	}
	return id, nil
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339, s)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
