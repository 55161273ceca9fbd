package medicationrequest

import (
	"context"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

// FhirService is the part of Service the resource provider depends on.
type FhirService interface {
	Get(ctx context.Context, id string) (*Resource, error)
	Create(ctx context.Context, r *Resource) (*Resource, error)
	Update(ctx context.Context, id string, r *Resource) (*Resource, error)
	Delete(ctx context.Context, id string) (*Resource, error)
	SearchForMedicationRequests(ctx context.Context, params SearchParams) (fhir.BundleProvider, error)
}

// ResourceProvider implements the FHIR REST interactions for
// MedicationRequest on top of a FhirService.
type ResourceProvider struct {
	svc FhirService
}

func NewResourceProvider(svc FhirService) *ResourceProvider {
	return &ResourceProvider{svc: svc}
}

func (p *ResourceProvider) ResourceType() string {
	return ResourceType
}

func (p *ResourceProvider) GetMedicationRequestByUUID(ctx context.Context, id string) (*Resource, error) {
	r, err := p.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fhir.NewResourceNotFound(ResourceType, id)
	}
	return r, nil
}

func (p *ResourceProvider) CreateMedicationRequest(ctx context.Context, r *Resource) (*fhir.MethodOutcome, error) {
	created, err := p.svc.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	return &fhir.MethodOutcome{ID: created.ID, Created: true, Resource: created}, nil
}

func (p *ResourceProvider) UpdateMedicationRequest(ctx context.Context, id string, r *Resource) (*fhir.MethodOutcome, error) {
	updated, err := p.svc.Update(ctx, id, r)
	if err != nil {
		return nil, err
	}
	return &fhir.MethodOutcome{ID: updated.ID, Resource: updated}, nil
}

func (p *ResourceProvider) DeleteMedicationRequest(ctx context.Context, id string) (*fhir.OperationOutcome, error) {
	deleted, err := p.svc.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, fhir.NewResourceNotFound(ResourceType, id)
	}
	return fhir.DeletedOutcome(ResourceType, id), nil
}

// SearchForMedicationRequests returns the requests matching params. subject
// is an alias of patient and is only consulted when params.Patient is nil.
func (p *ResourceProvider) SearchForMedicationRequests(ctx context.Context, params SearchParams, subject fhir.ReferenceAndListParam) (fhir.BundleProvider, error) {
	if params.Patient == nil {
		params.Patient = subject
	}
	return p.svc.SearchForMedicationRequests(ctx, params)
}
