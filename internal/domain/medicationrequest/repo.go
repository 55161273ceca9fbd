package medicationrequest

import (
	"context"
	"errors"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

// ErrNotFound is returned by a Dao when no medication request has the
// requested FHIR id.
var ErrNotFound = errors.New("medication request not found")

// SearchParams are the filters of a MedicationRequest search. A nil field
// places no constraint on the results.
type SearchParams struct {
	Patient     fhir.ReferenceAndListParam
	Encounter   fhir.ReferenceAndListParam
	Code        fhir.TokenAndListParam
	Participant fhir.ReferenceAndListParam
	Medication  fhir.ReferenceAndListParam
	ID          fhir.TokenAndListParam
	LastUpdated *fhir.DateRangeParam
}

type Dao interface {
	Get(ctx context.Context, fhirID string) (*MedicationRequest, error)
	Create(ctx context.Context, mr *MedicationRequest) error
	// Update replaces the stored request and bumps its version.
	Update(ctx context.Context, mr *MedicationRequest) error
	// Delete removes the request and returns what was removed.
	Delete(ctx context.Context, fhirID string) (*MedicationRequest, error)
	// Search returns a provider over the matching requests rendered as
	// *Resource. No rows are read until the provider is used.
	Search(ctx context.Context, params SearchParams) (fhir.BundleProvider, error)
}
