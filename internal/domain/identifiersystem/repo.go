package identifiersystem

import (
	"context"
	"errors"
)

// ErrTypeNotFound is returned when no patient identifier type has the
// requested FHIR id.
var ErrTypeNotFound = errors.New("patient identifier type not found")

// Dao stores the URL configured for each patient identifier type.
// GetURLByPatientIdentifierType returns "" and a nil error when no URL has
// been configured.
type Dao interface {
	GetURLByPatientIdentifierType(ctx context.Context, t *PatientIdentifierType) (string, error)
	SaveURL(ctx context.Context, t *PatientIdentifierType, url string) error
	GetTypeByFHIRID(ctx context.Context, fhirID string) (*PatientIdentifierType, error)
}
