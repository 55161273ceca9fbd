package medicationrequest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/db"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
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

const mrCols = `id, fhir_id, status, intent, priority,
	medication_ref, medication_code_system, medication_code, medication_display,
	patient_ref, encounter_ref, requester_ref, authored_on, dosage_text, note,
	version_id, created_at, updated_at`

func scanMR(row pgx.Row) (*MedicationRequest, error) {
	var mr MedicationRequest
	err := row.Scan(&mr.ID, &mr.FHIRID, &mr.Status, &mr.Intent, &mr.Priority,
		&mr.MedicationRef, &mr.MedicationCodeSystem, &mr.MedicationCode, &mr.MedicationDisplay,
		&mr.PatientRef, &mr.EncounterRef, &mr.RequesterRef, &mr.AuthoredOn, &mr.DosageText, &mr.Note,
		&mr.VersionID, &mr.CreatedAt, &mr.UpdatedAt)
	return &mr, err
}

func (r *daoPG) Get(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	mr, err := scanMR(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mrCols+` FROM medication_request WHERE fhir_id = $1`, fhirID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get medication request %s: %w", fhirID, err)
	}
	return mr, nil
}

func (r *daoPG) Create(ctx context.Context, mr *MedicationRequest) error {
	mr.ID = uuid.New()
	if mr.FHIRID == "" {
		mr.FHIRID = mr.ID.String()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_request (id, fhir_id, status, intent, priority,
			medication_ref, medication_code_system, medication_code, medication_display,
			patient_ref, encounter_ref, requester_ref, authored_on, dosage_text, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING version_id, created_at, updated_at`,
		mr.ID, mr.FHIRID, mr.Status, mr.Intent, mr.Priority,
		mr.MedicationRef, mr.MedicationCodeSystem, mr.MedicationCode, mr.MedicationDisplay,
		mr.PatientRef, mr.EncounterRef, mr.RequesterRef, mr.AuthoredOn, mr.DosageText, mr.Note,
	).Scan(&mr.VersionID, &mr.CreatedAt, &mr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create medication request: %w", err)
	}
	return nil
}

func (r *daoPG) Update(ctx context.Context, mr *MedicationRequest) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE medication_request SET status=$2, intent=$3, priority=$4,
			medication_ref=$5, medication_code_system=$6, medication_code=$7, medication_display=$8,
			patient_ref=$9, encounter_ref=$10, requester_ref=$11, authored_on=$12,
			dosage_text=$13, note=$14, version_id=version_id+1, updated_at=NOW()
		WHERE fhir_id = $1
		RETURNING id, version_id, created_at, updated_at`,
		mr.FHIRID, mr.Status, mr.Intent, mr.Priority,
		mr.MedicationRef, mr.MedicationCodeSystem, mr.MedicationCode, mr.MedicationDisplay,
		mr.PatientRef, mr.EncounterRef, mr.RequesterRef, mr.AuthoredOn,
		mr.DosageText, mr.Note,
	).Scan(&mr.ID, &mr.VersionID, &mr.CreatedAt, &mr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update medication request %s: %w", mr.FHIRID, err)
	}
	return nil
}

func (r *daoPG) Delete(ctx context.Context, fhirID string) (*MedicationRequest, error) {
	mr, err := scanMR(r.conn(ctx).QueryRow(ctx,
		`DELETE FROM medication_request WHERE fhir_id = $1 RETURNING `+mrCols, fhirID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete medication request %s: %w", fhirID, err)
	}
	return mr, nil
}

var (
	patientSearch = fhir.ReferenceConfig{
		ResourceType: "Patient",
		Column:       "patient_ref",
		Chains: map[string]fhir.ChainConfig{
			// The identifier system is the URL configured for the identifier's type.
			"identifier": {
				Type: fhir.SearchParamToken,
				Subquery: `SELECT pi.patient_fhir_id FROM patient_identifier pi
					LEFT JOIN fhir_patient_identifier_system pis ON pis.patient_identifier_type_id = pi.patient_identifier_type_id
					WHERE %[1]s`,
				SystemColumn: "pis.url",
				CodeColumn:   "pi.identifier",
			},
			"given":  {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM patient WHERE %[1]s`, Columns: []string{"given_name"}},
			"family": {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM patient WHERE %[1]s`, Columns: []string{"family_name"}},
			"name":   {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM patient WHERE %[1]s`, Columns: []string{"given_name", "family_name"}},
		},
	}
	encounterSearch = fhir.ReferenceConfig{
		ResourceType: "Encounter",
		Column:       "encounter_ref",
		Chains: map[string]fhir.ChainConfig{
			"identifier": {Type: fhir.SearchParamToken, Subquery: `SELECT fhir_id FROM encounter WHERE %[1]s`, CodeColumn: "fhir_id"},
		},
	}
	participantSearch = fhir.ReferenceConfig{
		ResourceType: "Practitioner",
		Column:       "requester_ref",
		Chains: map[string]fhir.ChainConfig{
			"identifier": {Type: fhir.SearchParamToken, Subquery: `SELECT fhir_id FROM practitioner WHERE %[1]s`, CodeColumn: "identifier"},
			"given":      {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM practitioner WHERE %[1]s`, Columns: []string{"given_name"}},
			"family":     {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM practitioner WHERE %[1]s`, Columns: []string{"family_name"}},
			"name":       {Type: fhir.SearchParamString, Subquery: `SELECT fhir_id FROM practitioner WHERE %[1]s`, Columns: []string{"given_name", "family_name"}},
		},
	}
	medicationSearch = fhir.ReferenceConfig{
		ResourceType: "Medication",
		Column:       "medication_ref",
		Chains: map[string]fhir.ChainConfig{
			"identifier": {Type: fhir.SearchParamToken, Subquery: `SELECT fhir_id FROM medication WHERE %[1]s`, CodeColumn: "fhir_id"},
			"code":       {Type: fhir.SearchParamToken, Subquery: `SELECT fhir_id FROM medication WHERE %[1]s`, SystemColumn: "code_system", CodeColumn: "code"},
		},
	}
)

// buildSearchQuery translates params into SQL. It performs no I/O.
func buildSearchQuery(params SearchParams) (*fhir.SearchQuery, error) {
	q := fhir.NewSearchQuery("medication_request", mrCols)

	refs := []struct {
		cfg  fhir.ReferenceConfig
		list fhir.ReferenceAndListParam
	}{
		{patientSearch, params.Patient},
		{encounterSearch, params.Encounter},
		{participantSearch, params.Participant},
		{medicationSearch, params.Medication},
	}
	for _, ref := range refs {
		if err := q.AddReferenceAndList(ref.cfg, ref.list); err != nil {
			return nil, err
		}
	}
	if err := q.AddTokenAndList("medication_code_system", "medication_code", params.Code); err != nil {
		return nil, err
	}
	if err := q.AddTokenAndList("", "fhir_id", params.ID); err != nil {
		return nil, err
	}
	q.AddDateRange("updated_at", params.LastUpdated)
	q.OrderBy("updated_at DESC, fhir_id")
	return q, nil
}

func (r *daoPG) Search(_ context.Context, params SearchParams) (fhir.BundleProvider, error) {
	q, err := buildSearchQuery(params)
	if err != nil {
		return nil, err
	}
	return &searchProvider{dao: r, query: q}, nil
}

// searchProvider counts matches once and reads only the requested window of
// rows on each Resources call.
type searchProvider struct {
	dao   *daoPG
	query *fhir.SearchQuery

	mu    sync.Mutex
	size  int
	sized bool
}

func (p *searchProvider) Size(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sized {
		return p.size, nil
	}
	if err := p.dao.conn(ctx).QueryRow(ctx, p.query.CountSQL(), p.query.CountArgs()...).Scan(&p.size); err != nil {
		return 0, fmt.Errorf("count medication requests: %w", err)
	}
	p.sized = true
	return p.size, nil
}

func (p *searchProvider) Resources(ctx context.Context, from, to int) ([]interface{}, error) {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return []interface{}{}, nil
	}
	rows, err := p.dao.conn(ctx).Query(ctx, p.query.DataSQL(), p.query.DataArgs(to-from, from)...)
	if err != nil {
		return nil, fmt.Errorf("search medication requests: %w", err)
	}
	defer rows.Close()

	resources := []interface{}{}
	for rows.Next() {
		mr, err := scanMR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication request: %w", err)
		}
		resources = append(resources, mr.ToFHIR())
	}
	return resources, rows.Err()
}
