package identifiersystem

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type daoPG struct{ pool *pgxpool.Pool }

func NewDaoPG(pool *pgxpool.Pool) Dao {
	return &daoPG{pool: pool}
}

func (r *daoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *daoPG) GetURLByPatientIdentifierType(ctx context.Context, t *PatientIdentifierType) (string, error) {
	if t == nil {
		return "", nil
	}
	var url string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT url FROM fhir_patient_identifier_system WHERE patient_identifier_type_id = $1`,
		t.ID).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get identifier system for %s: %w", t.FHIRID, err)
	}
	return url, nil
}

func (r *daoPG) SaveURL(ctx context.Context, t *PatientIdentifierType, url string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO fhir_patient_identifier_system (id, patient_identifier_type_id, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_identifier_type_id)
		DO UPDATE SET url = EXCLUDED.url, updated_at = NOW()`,
		uuid.New(), t.ID, url)
	if err != nil {
		return fmt.Errorf("save identifier system for %s: %w", t.FHIRID, err)
	}
	return nil
}

func (r *daoPG) GetTypeByFHIRID(ctx context.Context, fhirID string) (*PatientIdentifierType, error) {
	var t PatientIdentifierType
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, fhir_id, name, description FROM patient_identifier_type WHERE fhir_id = $1`,
		fhirID).Scan(&t.ID, &t.FHIRID, &t.Name, &t.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient identifier type %s: %w", fhirID, err)
	}
	return &t, nil
}
