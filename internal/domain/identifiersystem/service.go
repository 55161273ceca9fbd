package identifiersystem

import (
	"context"
	"net/url"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

type Service struct {
	dao Dao
}

func NewService(dao Dao) *Service {
	return &Service{dao: dao}
}

// GetURLByPatientIdentifierType returns the system URL configured for t, or
// "" when there is none.
func (s *Service) GetURLByPatientIdentifierType(ctx context.Context, t *PatientIdentifierType) (string, error) {
	return s.dao.GetURLByPatientIdentifierType(ctx, t)
}

func (s *Service) SetURLForPatientIdentifierType(ctx context.Context, t *PatientIdentifierType, rawURL string) error {
	if t == nil {
		return fhir.NewInvalidRequest("patient identifier type is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return fhir.NewInvalidRequest("identifier system must be an absolute URI, got %q", rawURL)
	}
	return s.dao.SaveURL(ctx, t, rawURL)
}

func (s *Service) GetPatientIdentifierType(ctx context.Context, fhirID string) (*PatientIdentifierType, error) {
	if fhirID == "" {
		return nil, fhir.NewInvalidRequest("patient identifier type id is required")
	}
	return s.dao.GetTypeByFHIRID(ctx, fhirID)
}
