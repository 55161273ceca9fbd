package fhir

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestResource_JSON(t *testing.T) {
	r := Resource{
		ResourceType: "MedicationRequest",
		ID:           "c0938432-1691-11df-97a5-7038c432aaba",
		Meta: &Meta{
			VersionID:   "2",
			LastUpdated: time.Date(2020, 9, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"resourceType":"MedicationRequest"`, `"versionId":"2"`, `"lastUpdated":"2020-09-03T00:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
}

func TestReference_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Reference{Reference: "Patient/abc"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"reference":"Patient/abc"}` {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestFormatReference(t *testing.T) {
	if ref := FormatReference("Medication", "abc-123"); ref != "Medication/abc-123" {
		t.Errorf("expected Medication/abc-123, got %s", ref)
	}
}
