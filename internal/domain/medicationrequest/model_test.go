package medicationrequest

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

func TestToFHIR(t *testing.T) {
	authored := time.Date(2020, 9, 3, 10, 30, 0, 0, time.UTC)
	mr := &MedicationRequest{
		ID:                   uuid.New(),
		FHIRID:               medicationRequestUUID,
		Status:               "active",
		Intent:               "order",
		Priority:             strPtr("urgent"),
		MedicationCodeSystem: strPtr("http://www.nlm.nih.gov/research/umls/rxnorm"),
		MedicationCode:       strPtr("1085"),
		MedicationDisplay:    strPtr("Aspirin"),
		PatientRef:           "p-1",
		EncounterRef:         strPtr("enc-1"),
		RequesterRef:         strPtr("pr-1"),
		AuthoredOn:           &authored,
		DosageText:           strPtr("1 tablet daily"),
		VersionID:            3,
		UpdatedAt:            authored,
	}

	r := mr.ToFHIR()
	if r.ResourceType != ResourceType || r.ID != medicationRequestUUID {
		t.Errorf("unexpected identity %s/%s", r.ResourceType, r.ID)
	}
	if r.Meta.VersionID != "3" || !r.Meta.LastUpdated.Equal(authored) {
		t.Errorf("unexpected meta %+v", r.Meta)
	}
	if r.Subject.Reference != "Patient/p-1" || r.Encounter.Reference != "Encounter/enc-1" || r.Requester.Reference != "Practitioner/pr-1" {
		t.Errorf("unexpected references %+v %+v %+v", r.Subject, r.Encounter, r.Requester)
	}
	if r.MedicationReference != nil {
		t.Error("expected no medicationReference")
	}
	if c := r.MedicationCodeableConcept.Coding[0]; c.Code != "1085" || c.Display != "Aspirin" {
		t.Errorf("unexpected medication coding %+v", c)
	}
	if r.AuthoredOn != "2020-09-03T10:30:00Z" || r.DosageInstruction[0].Text != "1 tablet daily" {
		t.Errorf("unexpected authoredOn/dosage %s %+v", r.AuthoredOn, r.DosageInstruction)
	}
}

func TestFromFHIR(t *testing.T) {
	r := &Resource{
		ResourceType:        ResourceType,
		ID:                  medicationRequestUUID,
		Status:              "active",
		Intent:              "order",
		Subject:             &fhir.Reference{Reference: "Patient/p-1"},
		Requester:           &fhir.Reference{Reference: "pr-1", Type: "Practitioner"},
		MedicationReference: &fhir.Reference{Reference: "Medication/med-1"},
		AuthoredOn:          "2020-09-03",
		Note:                []fhir.Annotation{{Text: "take with food"}},
	}
	mr, err := FromFHIR(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.FHIRID != medicationRequestUUID || mr.PatientRef != "p-1" {
		t.Errorf("unexpected row %+v", mr)
	}
	if strVal(mr.RequesterRef) != "pr-1" || strVal(mr.MedicationRef) != "med-1" || strVal(mr.Note) != "take with food" {
		t.Errorf("unexpected optional fields %+v", mr)
	}
	if mr.AuthoredOn == nil || !mr.AuthoredOn.Equal(time.Date(2020, 9, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected authoredOn %v", mr.AuthoredOn)
	}
}

func TestFromFHIR_Errors(t *testing.T) {
	tests := []struct {
		name string
		r    *Resource
	}{
		{"typed reference mismatch", &Resource{Encounter: &fhir.Reference{Reference: "Patient/p-1"}}},
		{"reference type field mismatch", &Resource{Requester: &fhir.Reference{Reference: "x", Type: "Organization"}}},
		{"empty reference", &Resource{Subject: &fhir.Reference{Reference: "Patient/"}}},
		{"bad authoredOn", &Resource{AuthoredOn: "03/09/2020"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromFHIR(tt.r); !fhir.IsInvalidRequest(err) {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}
}
