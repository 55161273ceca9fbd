package medicationrequest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
	"github.com/icrc-loliveira/openmrs-module-fhir2/pkg/pagination"
)

var (
	personChains    = []string{"identifier", "given", "family", "name"}
	encounterChains = []string{"identifier"}
	medChains       = []string{"identifier", "code"}
)

// searchParamNames are the query parameters a search understands, besides
// their chained and typed forms.
var searchParamNames = map[string]bool{
	"patient": true, "subject": true, "encounter": true, "code": true,
	"participant": true, "requester": true, "medication": true,
	"_id": true, "_lastUpdated": true,
}

type Handler struct {
	provider *ResourceProvider
	basePath string
}

// NewHandler serves provider under basePath, e.g. "/fhir/MedicationRequest".
func NewHandler(provider *ResourceProvider, basePath string) *Handler {
	return &Handler{provider: provider, basePath: basePath}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	res := "/" + h.provider.ResourceType()

	read := fhirGroup.Group("",
		auth.RequireRole("admin", "physician", "nurse", "pharmacist"),
		auth.RequireScope(h.provider.ResourceType(), "read"))
	read.GET(res, h.Search)
	read.POST(res+"/_search", h.Search)
	read.GET(res+"/:id", h.Read)

	write := fhirGroup.Group("",
		auth.RequireRole("admin", "physician", "pharmacist"),
		auth.RequireScope(h.provider.ResourceType(), "write"))
	write.POST(res, h.Create)
	write.PUT(res+"/:id", h.Update)
	write.DELETE(res+"/:id", h.Delete)
}

// Capability describes the interactions and search parameters served.
func (h *Handler) Capability() fhir.CSResource {
	return fhir.ResourceCapability(h.provider.ResourceType(),
		[]fhir.CSSearchParam{
			{Name: "patient", Type: "reference"},
			{Name: "subject", Type: "reference"},
			{Name: "encounter", Type: "reference"},
			{Name: "code", Type: "token"},
			{Name: "requester", Type: "reference"},
			{Name: "participant", Type: "reference"},
			{Name: "medication", Type: "reference"},
			{Name: "_id", Type: "token"},
			{Name: "_lastUpdated", Type: "date"},
		},
		"patient.identifier", "patient.given", "patient.family", "patient.name",
		"encounter.identifier",
		"requester.identifier", "requester.given", "requester.family", "requester.name",
		"medication.identifier", "medication.code",
	)
}

func (h *Handler) Read(c echo.Context) error {
	r, err := h.provider.GetMedicationRequestByUUID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fhir.WriteError(c, err)
	}
	setVersionHeaders(c, r)
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Create(c echo.Context) error {
	r, err := decodeResource(c)
	if err != nil {
		return fhir.WriteError(c, err)
	}
	outcome, err := h.provider.CreateMedicationRequest(c.Request().Context(), r)
	if err != nil {
		return fhir.WriteError(c, err)
	}
	created := outcome.Resource.(*Resource)
	c.Response().Header().Set(echo.HeaderLocation, h.basePath+"/"+outcome.ID)
	setVersionHeaders(c, created)
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Update(c echo.Context) error {
	r, err := decodeResource(c)
	if err != nil {
		return fhir.WriteError(c, err)
	}
	outcome, err := h.provider.UpdateMedicationRequest(c.Request().Context(), c.Param("id"), r)
	if err != nil {
		return fhir.WriteError(c, err)
	}
	updated := outcome.Resource.(*Resource)
	setVersionHeaders(c, updated)
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c echo.Context) error {
	outcome, err := h.provider.DeleteMedicationRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fhir.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) Search(c echo.Context) error {
	values, err := searchValues(c)
	if err != nil {
		return fhir.WriteError(c, fhir.NewInvalidRequest("invalid search parameters: %v", err))
	}
	params, subject, err := ParseSearchParams(values)
	if err != nil {
		return fhir.WriteError(c, err)
	}

	ctx := c.Request().Context()
	results, err := h.provider.SearchForMedicationRequests(ctx, params, subject)
	if err != nil {
		return fhir.WriteError(c, err)
	}

	pg := pagination.FromContext(c)
	bundle, err := fhir.NewSearchBundleFromProvider(ctx, results, fhir.SearchBundleParams{
		BaseURL:  h.basePath,
		QueryStr: filterQuery(values),
		Count:    pg.Limit,
		Offset:   pg.Offset,
	})
	if err != nil {
		return fhir.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, bundle)
}

// ParseSearchParams reads the MedicationRequest search parameters from q.
// The subject alias is returned separately so the provider can decide
// whether it applies.
func ParseSearchParams(q url.Values) (SearchParams, fhir.ReferenceAndListParam, error) {
	var params SearchParams
	var err error

	if params.Patient, err = fhir.ParseReferenceAndList(q, "patient", "Patient", personChains...); err != nil {
		return params, nil, err
	}
	subject, err := fhir.ParseReferenceAndList(q, "subject", "Patient", personChains...)
	if err != nil {
		return params, nil, err
	}
	if params.Encounter, err = fhir.ParseReferenceAndList(q, "encounter", "Encounter", encounterChains...); err != nil {
		return params, nil, err
	}

	requester, err := fhir.ParseReferenceAndList(q, "requester", "Practitioner", personChains...)
	if err != nil {
		return params, nil, err
	}
	participant, err := fhir.ParseReferenceAndList(q, "participant", "Practitioner", personChains...)
	if err != nil {
		return params, nil, err
	}
	params.Participant = append(requester, participant...)

	if params.Medication, err = fhir.ParseReferenceAndList(q, "medication", "Medication", medChains...); err != nil {
		return params, nil, err
	}

	params.Code = fhir.ParseTokenAndList(q["code"])
	params.ID = fhir.ParseTokenAndList(q["_id"])
	if params.LastUpdated, err = fhir.ParseDateRange(q["_lastUpdated"]); err != nil {
		return params, nil, err
	}
	return params, subject, nil
}

// searchValues merges the query string with a form-encoded body, which is
// how POST _search carries its parameters.
func searchValues(c echo.Context) (url.Values, error) {
	if c.Request().Method != http.MethodPost {
		return c.QueryParams(), nil
	}
	return c.FormParams()
}

// filterQuery re-encodes the search parameters for bundle links, leaving
// out paging parameters.
func filterQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if searchParamNames[baseParamName(k)] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := url.Values{}
	for _, k := range keys {
		out[k] = q[k]
	}
	return out.Encode()
}

// baseParamName strips the ":Type" modifier and ".chain" suffix from a
// parameter key.
func baseParamName(key string) string {
	if i := strings.IndexAny(key, ":."); i >= 0 {
		return key[:i]
	}
	return key
}

func decodeResource(c echo.Context) (*Resource, error) {
	var r Resource
	if err := json.NewDecoder(c.Request().Body).Decode(&r); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, err
		}
		return nil, fhir.NewInvalidRequest("invalid %s body: %v", ResourceType, err)
	}
	return &r, nil
}

func setVersionHeaders(c echo.Context, r *Resource) {
	if r.Meta == nil {
		return
	}
	if r.Meta.VersionID != "" {
		c.Response().Header().Set("ETag", `W/"`+r.Meta.VersionID+`"`)
	}
	if !r.Meta.LastUpdated.IsZero() {
		c.Response().Header().Set(echo.HeaderLastModified, r.Meta.LastUpdated.UTC().Format(http.TimeFormat))
	}
}
