package medicationrequest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

const basePath = "/fhir/MedicationRequest"

func newTestHandler() (*Handler, *mockDao) {
	svc, dao := newTestService()
	return NewHandler(NewResourceProvider(svc), basePath), dao
}

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func seed(t *testing.T, dao *mockDao) *Resource {
	t.Helper()
	svc := NewService(dao, zerolog.Nop())
	created, err := svc.Create(context.Background(), validResource())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return created
}

func TestHandler_Create(t *testing.T) {
	h, dao := newTestHandler()
	body, _ := json.Marshal(validResource())

	c, rec := newContext(http.MethodPost, basePath, string(body))
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if loc := rec.Header().Get(echo.HeaderLocation); loc != basePath+"/"+created.ID {
		t.Errorf("unexpected Location %q", loc)
	}
	if rec.Header().Get("ETag") != `W/"1"` {
		t.Errorf("unexpected ETag %q", rec.Header().Get("ETag"))
	}
	if len(dao.store) != 1 {
		t.Errorf("expected one stored request, got %d", len(dao.store))
	}
}

func TestHandler_Create_Invalid(t *testing.T) {
	h, _ := newTestHandler()
	for _, body := range []string{`{"resourceType":`, `{"resourceType":"MedicationRequest","status":"active","intent":"order"}`} {
		c, rec := newContext(http.MethodPost, basePath, body)
		if err := h.Create(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", body, rec.Code)
		}
		var outcome fhir.OperationOutcome
		if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil || outcome.ResourceType != "OperationOutcome" {
			t.Errorf("expected an OperationOutcome, got %s", rec.Body.String())
		}
	}
}

type tooLargeBody struct{}

func (tooLargeBody) Read([]byte) (int, error) {
	return 0, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
}

func TestHandler_Create_BodyTooLarge(t *testing.T) {
	h, dao := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, basePath, tooLargeBody{})
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
	if len(dao.store) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestHandler_Read(t *testing.T) {
	h, dao := newTestHandler()
	created := seed(t, dao)

	c, rec := newContext(http.MethodGet, basePath+"/"+created.ID, "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.Read(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != created.ID || got.Subject == nil || got.Subject.Reference != "Patient/5946f880-b197-400b-9caa-a3c661d23041" {
		t.Errorf("unexpected resource %+v", got)
	}
}

func TestHandler_Read_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	c, rec := newContext(http.MethodGet, basePath+"/"+wrongMedicationRequestUUID, "")
	c.SetParamNames("id")
	c.SetParamValues(wrongMedicationRequestUUID)
	if err := h.Read(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Update(t *testing.T) {
	h, dao := newTestHandler()
	created := seed(t, dao)

	tests := []struct {
		name string
		id   string
		body *Resource
		code int
	}{
		{"ok", created.ID, func() *Resource { r := validResource(); r.ID = created.ID; return r }(), http.StatusOK},
		{"id mismatch", created.ID, func() *Resource { r := validResource(); r.ID = wrongMedicationRequestUUID; return r }(), http.StatusBadRequest},
		{"does not exist", wrongMedicationRequestUUID, validResource(), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			c, rec := newContext(http.MethodPut, basePath+"/"+tt.id, string(body))
			c.SetParamNames("id")
			c.SetParamValues(tt.id)
			if err := h.Update(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Delete(t *testing.T) {
	h, dao := newTestHandler()
	created := seed(t, dao)

	c, rec := newContext(http.MethodDelete, basePath+"/"+created.ID, "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var outcome fhir.OperationOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if outcome.Issue[0].Details.Coding[0].Code != fhir.MsgDeleted {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	c, rec = newContext(http.MethodDelete, basePath+"/"+created.ID, "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestHandler_Search(t *testing.T) {
	h, dao := newTestHandler()
	seed(t, dao)

	c, rec := newContext(http.MethodGet, basePath+"?patient.identifier=1234&code=http://loinc.org|1085&_count=5", "")
	if err := h.Search(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bundle.Type != "searchset" || bundle.Total == nil || *bundle.Total != 1 || len(bundle.Entry) != 1 {
		t.Errorf("unexpected bundle %+v", bundle)
	}
	self := bundle.Link[0].URL
	if !strings.Contains(self, "patient.identifier=1234") || !strings.Contains(self, "_count=5") {
		t.Errorf("unexpected self link %s", self)
	}

	got := dao.lastSearch
	if got.Patient[0][0].Chain != "identifier" || got.Patient[0][0].Value != "1234" {
		t.Errorf("unexpected patient param %+v", got.Patient)
	}
	if got.Code[0][0].System != "http://loinc.org" || got.Code[0][0].Code != "1085" {
		t.Errorf("unexpected code param %+v", got.Code)
	}
}

func TestHandler_Search_PostForm(t *testing.T) {
	h, dao := newTestHandler()
	seed(t, dao)

	form := url.Values{"subject:Patient": {"p-1"}, "_lastUpdated": {"ge2020-09-03"}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, basePath+"/_search", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	if err := h.Search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if p := dao.lastSearch.Patient; len(p) != 1 || p[0][0].Value != "p-1" {
		t.Errorf("expected subject to be searched as patient, got %+v", p)
	}
	if dao.lastSearch.LastUpdated == nil || dao.lastSearch.LastUpdated.Lower == nil {
		t.Errorf("expected _lastUpdated lower bound, got %+v", dao.lastSearch.LastUpdated)
	}
}

func TestHandler_Search_InvalidParams(t *testing.T) {
	h, _ := newTestHandler()
	for _, q := range []string{
		"patient.birthdate=2000",
		"_lastUpdated=ne2020-09-03",
		"_lastUpdated=notadate",
		"patient=Practitioner/abc",
		"subject:Group=x",
		"participant=Patient/p-1",
		"subject:Patient.name:below=Cle",
	} {
		c, rec := newContext(http.MethodGet, basePath+"?"+q, "")
		if err := h.Search(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", q, rec.Code)
		}
	}
}

func TestParseSearchParams(t *testing.T) {
	q := url.Values{
		"requester.family": {"Doe"},
		"participant":      {"Practitioner/pr-1"},
		"encounter":        {"enc-1,enc-2"},
		"medication.code":  {"1085"},
		"_id":              {medicationRequestUUID},
		"subject.name":     {"Clement"},
		"_lastUpdated":     {lastUpdatedDate},
		"unrelated":        {"x"},
	}
	params, subject, err := ParseSearchParams(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Patient != nil {
		t.Errorf("expected no patient param, got %+v", params.Patient)
	}
	if len(subject) != 1 || subject[0][0].Chain != "name" {
		t.Errorf("unexpected subject %+v", subject)
	}
	if len(params.Participant) != 2 {
		t.Errorf("expected requester and participant to be combined, got %+v", params.Participant)
	}
	if len(params.Encounter) != 1 || len(params.Encounter[0]) != 2 {
		t.Errorf("expected one OR-list of two encounters, got %+v", params.Encounter)
	}
	if params.Medication[0][0].Chain != "code" {
		t.Errorf("unexpected medication %+v", params.Medication)
	}
	if params.ID[0][0].Code != medicationRequestUUID {
		t.Errorf("unexpected _id %+v", params.ID)
	}
	if params.LastUpdated == nil || params.LastUpdated.Lower == nil || params.LastUpdated.Upper == nil {
		t.Errorf("expected an eq date to bound both sides, got %+v", params.LastUpdated)
	}
}

func TestParseSearchParams_TypedChains(t *testing.T) {
	q := url.Values{
		"subject:Patient.identifier":           {"MRN-1"},
		"medication:Medication.code":           {"1085"},
		"requester:Practitioner.name:contains": {"oe"},
	}
	params, subject, err := ParseSearchParams(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subject) != 1 {
		t.Fatalf("expected one subject group, got %+v", subject)
	}
	if ref := subject[0][0]; ref.ResourceType != "Patient" || ref.Chain != "identifier" || ref.Value != "MRN-1" {
		t.Errorf("unexpected subject %+v", ref)
	}
	if ref := params.Medication[0][0]; ref.ResourceType != "Medication" || ref.Chain != "code" || ref.Value != "1085" {
		t.Errorf("unexpected medication %+v", ref)
	}
	if ref := params.Participant[0][0]; ref.Chain != "name" || ref.Modifier != fhir.ModifierContains {
		t.Errorf("unexpected participant %+v", ref)
	}

	// the chain reaches the query instead of being compared to patient_ref
	sq, err := buildSearchQuery(SearchParams{Patient: subject, Medication: params.Medication})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql := sq.CountSQL()
	if strings.Contains(sql, "patient_ref = $") || !strings.Contains(sql, "pi.identifier = $1") {
		t.Errorf("expected identifier chain subquery, got %s", sql)
	}
	if !strings.Contains(sql, "medication_ref IN (SELECT fhir_id FROM medication WHERE code = $2)") {
		t.Errorf("expected medication code chain subquery, got %s", sql)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	h.RegisterRoutes(e.Group("/fhir"))

	want := map[string]bool{
		"GET /fhir/MedicationRequest":          false,
		"POST /fhir/MedicationRequest":         false,
		"POST /fhir/MedicationRequest/_search": false,
		"GET /fhir/MedicationRequest/:id":      false,
		"PUT /fhir/MedicationRequest/:id":      false,
		"DELETE /fhir/MedicationRequest/:id":   false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("missing route %s", route)
		}
	}
}

func TestHandler_RoutesRequireScope(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	g := e.Group("/fhir", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// A nurse holding only read scopes.
			ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, []string{"nurse"})
			ctx = context.WithValue(ctx, auth.UserScopesKey, []string{"user/MedicationRequest.read"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(g)

	req := httptest.NewRequest(http.MethodGet, "/fhir/MedicationRequest", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected search to be allowed, got %d", rec.Code)
	}

	body, _ := json.Marshal(validResource())
	req = httptest.NewRequest(http.MethodPost, "/fhir/MedicationRequest", strings.NewReader(string(body)))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected create to be forbidden, got %d", rec.Code)
	}
}

func TestCapability(t *testing.T) {
	h, _ := newTestHandler()
	res := h.Capability()
	if res.Type != ResourceType || len(res.SearchParam) == 0 || len(res.SearchChain) == 0 {
		t.Errorf("unexpected capability %+v", res)
	}
}
