package medicationrequest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

var validStatuses = map[string]bool{
	"active": true, "on-hold": true, "cancelled": true, "completed": true,
	"entered-in-error": true, "stopped": true, "draft": true, "unknown": true,
}

var validIntents = map[string]bool{
	"proposal": true, "plan": true, "order": true, "original-order": true,
	"reflex-order": true, "filler-order": true, "instance-order": true, "option": true,
}

var validPriorities = map[string]bool{
	"routine": true, "urgent": true, "asap": true, "stat": true,
}

// Invariants every stored MedicationRequest must satisfy.
var invariants = []fhir.Constraint{
	{Key: "mr-status", Human: "MedicationRequest.status is required", Expression: "status.exists()"},
	{Key: "mr-intent", Human: "MedicationRequest.intent is required", Expression: "intent.exists()"},
	{Key: "mr-subject", Human: "MedicationRequest.subject is required", Expression: "subject.exists()"},
	{Key: "mr-medication", Human: "Only one medication[x] may be given", Expression: "medicationReference.empty() or medicationCodeableConcept.empty()"},
}

// Service translates between FHIR MedicationRequest resources and their
// stored form.
type Service struct {
	dao       Dao
	validator *fhir.ConstraintValidator
	logger    zerolog.Logger
}

func NewService(dao Dao, logger zerolog.Logger) *Service {
	return &Service{
		dao:       dao,
		validator: fhir.NewConstraintValidator(invariants...),
		logger:    logger.With().Str("resource", ResourceType).Logger(),
	}
}

// Get returns nil, nil when no request has the given id.
func (s *Service) Get(ctx context.Context, id string) (*Resource, error) {
	mr, err := s.dao.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return mr.ToFHIR(), nil
}

func (s *Service) Create(ctx context.Context, r *Resource) (*Resource, error) {
	if r == nil {
		return nil, fhir.NewInvalidRequest("%s body is required", ResourceType)
	}
	if r.Status == "" {
		r.Status = "active"
	}
	if r.Intent == "" {
		r.Intent = "order"
	}
	mr, err := s.toStored(r)
	if err != nil {
		return nil, err
	}
	if err := s.dao.Create(ctx, mr); err != nil {
		return nil, err
	}
	s.logger.Info().Str("id", mr.FHIRID).Msg("medication request created")
	return mr.ToFHIR(), nil
}

// Update replaces the request stored under id. A body without an id takes
// the one from the URL; a different id is rejected. Updating a request that
// does not exist is not allowed.
func (s *Service) Update(ctx context.Context, id string, r *Resource) (*Resource, error) {
	if id == "" {
		return nil, fhir.NewInvalidRequest("%s id must be specified to update", ResourceType)
	}
	if r == nil {
		return nil, fhir.NewInvalidRequest("%s body is required", ResourceType)
	}
	if r.ID == "" {
		r.ID = id
	}
	if r.ID != id {
		return nil, fhir.NewInvalidRequest("%s id and URL id do not match", ResourceType)
	}

	if _, err := s.dao.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fhir.NewMethodNotAllowed("%s with id %s does not exist and cannot be updated", ResourceType, id)
		}
		return nil, err
	}

	mr, err := s.toStored(r)
	if err != nil {
		return nil, err
	}
	if err := s.dao.Update(ctx, mr); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fhir.NewMethodNotAllowed("%s with id %s does not exist and cannot be updated", ResourceType, id)
		}
		return nil, err
	}
	s.logger.Info().Str("id", id).Int("version", mr.VersionID).Msg("medication request updated")
	return mr.ToFHIR(), nil
}

// Delete returns the removed request, or nil, nil when there was none.
func (s *Service) Delete(ctx context.Context, id string) (*Resource, error) {
	mr, err := s.dao.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("id", id).Msg("medication request deleted")
	return mr.ToFHIR(), nil
}

func (s *Service) SearchForMedicationRequests(ctx context.Context, params SearchParams) (fhir.BundleProvider, error) {
	return s.dao.Search(ctx, params)
}

// toStored validates r and converts it to its stored form.
func (s *Service) toStored(r *Resource) (*MedicationRequest, error) {
	if r.ResourceType == "" {
		r.ResourceType = ResourceType
	}
	if r.ResourceType != ResourceType {
		return nil, fhir.NewInvalidRequest("expected resourceType %s, got %s", ResourceType, r.ResourceType)
	}
	if r.Status != "" && !validStatuses[r.Status] {
		return nil, fhir.NewInvalidRequest("invalid status: %s", r.Status)
	}
	if r.Intent != "" && !validIntents[r.Intent] {
		return nil, fhir.NewInvalidRequest("invalid intent: %s", r.Intent)
	}
	if r.Priority != "" && !validPriorities[r.Priority] {
		return nil, fhir.NewInvalidRequest("invalid priority: %s", r.Priority)
	}

	issues, err := s.validator.Validate(r)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", ResourceType, err)
	}
	if len(issues) > 0 {
		return nil, &fhir.InvalidRequestError{
			Msg:    fmt.Sprintf("%s failed %d constraint(s)", ResourceType, len(issues)),
			Issues: issues,
		}
	}
	return FromFHIR(r)
}
