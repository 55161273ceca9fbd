package medicationrequest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

const (
	medicationRequestUUID      = "c0938432-1691-11df-97a5-7038c432aaba"
	wrongMedicationRequestUUID = "6f8b4e2a-0c1d-4a3b-9e7f-2d5c8a1b3e90"
	lastUpdatedDate            = "2020-09-03"
)

// mockService records the parameters of the last search and answers every
// search with the single stored resource.
type mockService struct {
	resources  map[string]*Resource
	lastSearch *SearchParams
}

func newMockService() *mockService {
	return &mockService{resources: map[string]*Resource{
		medicationRequestUUID: {ResourceType: ResourceType, ID: medicationRequestUUID, Status: "active", Intent: "order"},
	}}
}

func (m *mockService) Get(_ context.Context, id string) (*Resource, error) {
	return m.resources[id], nil
}

func (m *mockService) Create(_ context.Context, r *Resource) (*Resource, error) {
	m.resources[r.ID] = r
	return r, nil
}

func (m *mockService) Update(_ context.Context, id string, r *Resource) (*Resource, error) {
	if r.ID == "" {
		r.ID = id
	}
	if r.ID != id {
		return nil, fhir.NewInvalidRequest("id mismatch")
	}
	if _, ok := m.resources[id]; !ok {
		return nil, fhir.NewMethodNotAllowed("%s does not exist", id)
	}
	m.resources[id] = r
	return r, nil
}

func (m *mockService) Delete(_ context.Context, id string) (*Resource, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, nil
	}
	delete(m.resources, id)
	return r, nil
}

func (m *mockService) SearchForMedicationRequests(_ context.Context, params SearchParams) (fhir.BundleProvider, error) {
	m.lastSearch = &params
	return fhir.NewSimpleBundleProvider(m.resources[medicationRequestUUID]), nil
}

func newTestProvider() (*ResourceProvider, *mockService) {
	svc := newMockService()
	return NewResourceProvider(svc), svc
}

// searchOne runs a search and checks it yields exactly the known request.
func searchOne(t *testing.T, p *ResourceProvider, params SearchParams, subject fhir.ReferenceAndListParam) {
	t.Helper()
	ctx := context.Background()
	results, err := p.SearchForMedicationRequests(ctx, params, subject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil {
		t.Fatal("expected a bundle provider")
	}
	resources, err := results.Resources(ctx, 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
	r, ok := resources[0].(*Resource)
	if !ok || r == nil {
		t.Fatalf("expected *Resource, got %T", resources[0])
	}
	if r.ResourceType != ResourceType || r.ID != medicationRequestUUID {
		t.Errorf("unexpected resource %s/%s", r.ResourceType, r.ID)
	}
}

func TestProvider_ResourceType(t *testing.T) {
	p, _ := newTestProvider()
	if p.ResourceType() != "MedicationRequest" {
		t.Errorf("unexpected resource type %s", p.ResourceType())
	}
}

func TestProvider_GetMedicationRequestByUUID(t *testing.T) {
	p, _ := newTestProvider()
	r, err := p.GetMedicationRequestByUUID(context.Background(), medicationRequestUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r == nil || r.ID != medicationRequestUUID {
		t.Errorf("unexpected resource %+v", r)
	}
}

func TestProvider_GetMedicationRequestByUUID_NotFound(t *testing.T) {
	p, _ := newTestProvider()
	r, err := p.GetMedicationRequestByUUID(context.Background(), wrongMedicationRequestUUID)
	if !fhir.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if r != nil {
		t.Errorf("expected no resource, got %+v", r)
	}
	if err.Error() != "Could not find MedicationRequest with Id "+wrongMedicationRequestUUID {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestProvider_SearchByCode(t *testing.T) {
	p, svc := newTestProvider()
	code := fhir.NewTokenAndList(fhir.TokenParam{Code: "d1b98543-10ff-4911-83a2-b7f5fafe2751"})

	searchOne(t, p, SearchParams{Code: code}, nil)
	if len(svc.lastSearch.Code) != 1 || svc.lastSearch.Code[0][0].Code != "d1b98543-10ff-4911-83a2-b7f5fafe2751" {
		t.Errorf("code not passed through: %+v", svc.lastSearch.Code)
	}
}

func TestProvider_SearchByPatient(t *testing.T) {
	p, svc := newTestProvider()
	patient := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Patient", Chain: "identifier", Value: "1234"})

	searchOne(t, p, SearchParams{Patient: patient}, nil)
	if got := svc.lastSearch.Patient[0][0]; got.Chain != "identifier" || got.Value != "1234" {
		t.Errorf("patient not passed through: %+v", got)
	}
}

func TestProvider_SearchBySubjectAlias(t *testing.T) {
	p, svc := newTestProvider()
	subject := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Patient", Chain: "given", Value: "Clement"})

	searchOne(t, p, SearchParams{}, subject)
	if svc.lastSearch.Patient == nil || svc.lastSearch.Patient[0][0].Value != "Clement" {
		t.Errorf("expected subject to be used as patient, got %+v", svc.lastSearch.Patient)
	}

	patient := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Patient", Value: "p-1"})
	searchOne(t, p, SearchParams{Patient: patient}, subject)
	if svc.lastSearch.Patient[0][0].Value != "p-1" {
		t.Errorf("expected patient to win over subject, got %+v", svc.lastSearch.Patient)
	}
}

func TestProvider_SearchByMedication(t *testing.T) {
	p, svc := newTestProvider()
	med := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Medication", Chain: "identifier", Value: "med-1"})

	searchOne(t, p, SearchParams{Medication: med}, nil)
	if svc.lastSearch.Medication[0][0].Value != "med-1" {
		t.Errorf("medication not passed through: %+v", svc.lastSearch.Medication)
	}
}

func TestProvider_SearchByParticipant(t *testing.T) {
	p, svc := newTestProvider()
	participant := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Practitioner", Chain: "name", Value: "Super"})

	searchOne(t, p, SearchParams{Participant: participant}, nil)
	if svc.lastSearch.Participant[0][0].Chain != "name" {
		t.Errorf("participant not passed through: %+v", svc.lastSearch.Participant)
	}
}

func TestProvider_SearchByEncounter(t *testing.T) {
	p, svc := newTestProvider()
	encounter := fhir.NewReferenceAndList(fhir.ReferenceParam{ResourceType: "Encounter", Chain: "identifier", Value: "enc-1"})

	searchOne(t, p, SearchParams{Encounter: encounter}, nil)
	if svc.lastSearch.Encounter[0][0].Value != "enc-1" {
		t.Errorf("encounter not passed through: %+v", svc.lastSearch.Encounter)
	}
}

func TestProvider_SearchByUUID(t *testing.T) {
	p, svc := newTestProvider()
	id := fhir.NewTokenAndList(fhir.TokenParam{Code: medicationRequestUUID})

	searchOne(t, p, SearchParams{ID: id}, nil)
	if svc.lastSearch.ID[0][0].Code != medicationRequestUUID {
		t.Errorf("_id not passed through: %+v", svc.lastSearch.ID)
	}
}

func TestProvider_SearchByLastUpdated(t *testing.T) {
	p, svc := newTestProvider()
	lastUpdated, err := fhir.ParseDateRange([]string{"ge" + lastUpdatedDate, "le" + lastUpdatedDate})
	if err != nil {
		t.Fatalf("parse date range: %v", err)
	}

	searchOne(t, p, SearchParams{LastUpdated: lastUpdated}, nil)
	want := time.Date(2020, 9, 3, 0, 0, 0, 0, time.UTC)
	if got := svc.lastSearch.LastUpdated; got == nil || !got.Lower.Value.Equal(want) || !got.Upper.Value.Equal(want) {
		t.Errorf("_lastUpdated not passed through: %+v", got)
	}
}

func TestProvider_CreateMedicationRequest(t *testing.T) {
	p, _ := newTestProvider()
	mr := &Resource{ResourceType: ResourceType, ID: "new-request", Status: "active", Intent: "order"}

	outcome, err := p.CreateMedicationRequest(context.Background(), mr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Created {
		t.Error("expected Created to be true")
	}
	if outcome.ID != mr.ID || outcome.Resource.(*Resource).ID != mr.ID {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestProvider_UpdateMedicationRequest(t *testing.T) {
	p, _ := newTestProvider()
	mr := &Resource{ResourceType: ResourceType, ID: medicationRequestUUID, Status: "completed", Intent: "order"}

	outcome, err := p.UpdateMedicationRequest(context.Background(), medicationRequestUUID, mr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Created {
		t.Error("expected Created to be false for an update")
	}
	if outcome.Resource == nil || outcome.Resource.(*Resource).ID != medicationRequestUUID {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestProvider_UpdateMedicationRequest_IDMismatch(t *testing.T) {
	p, _ := newTestProvider()
	mr := &Resource{ResourceType: ResourceType, ID: medicationRequestUUID}

	_, err := p.UpdateMedicationRequest(context.Background(), wrongMedicationRequestUUID, mr)
	if !fhir.IsInvalidRequest(err) {
		t.Errorf("expected invalid request, got %v", err)
	}
}

func TestProvider_UpdateMedicationRequest_DoesNotExist(t *testing.T) {
	p, _ := newTestProvider()
	mr := &Resource{ResourceType: ResourceType, ID: wrongMedicationRequestUUID}

	_, err := p.UpdateMedicationRequest(context.Background(), wrongMedicationRequestUUID, mr)
	if !fhir.IsMethodNotAllowed(err) {
		t.Errorf("expected method not allowed, got %v", err)
	}
}

func TestProvider_DeleteMedicationRequest(t *testing.T) {
	p, _ := newTestProvider()
	outcome, err := p.DeleteMedicationRequest(context.Background(), medicationRequestUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Issue) == 0 {
		t.Fatal("expected an issue")
	}
	issue := outcome.Issue[0]
	if issue.Severity != fhir.IssueSeverityInformation {
		t.Errorf("expected severity information, got %s", issue.Severity)
	}
	if issue.Details == nil || issue.Details.Coding[0].Code != "MSG_DELETED" {
		t.Errorf("expected MSG_DELETED details, got %+v", issue.Details)
	}
}

func TestProvider_DeleteMedicationRequest_NotFound(t *testing.T) {
	p, _ := newTestProvider()
	_, err := p.DeleteMedicationRequest(context.Background(), wrongMedicationRequestUUID)
	if !fhir.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

type failingService struct{ mockService }

func (failingService) Get(context.Context, string) (*Resource, error) {
	return nil, errors.New("database unavailable")
}

func TestProvider_ServiceErrorsPropagate(t *testing.T) {
	p := NewResourceProvider(&failingService{})
	_, err := p.GetMedicationRequestByUUID(context.Background(), medicationRequestUUID)
	if err == nil || fhir.IsNotFound(err) {
		t.Errorf("expected service error to propagate, got %v", err)
	}
}
