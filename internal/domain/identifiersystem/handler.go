package identifiersystem

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/auth"
	"github.com/icrc-loliveira/openmrs-module-fhir2/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SystemResponse is the body of the identifier system endpoints.
type SystemResponse struct {
	PatientIdentifierType string `json:"patient_identifier_type"`
	URL                   string `json:"url"`
}

type setSystemRequest struct {
	URL string `json:"url"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patient-identifier-types/:id/system", h.GetSystem,
		auth.RequireRole("admin", "physician", "nurse", "registrar"))
	api.PUT("/patient-identifier-types/:id/system", h.SetSystem,
		auth.RequireRole("admin"))
}

func (h *Handler) GetSystem(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := h.svc.GetPatientIdentifierType(ctx, c.Param("id"))
	if err != nil {
		return lookupError(c, err)
	}
	u, err := h.svc.GetURLByPatientIdentifierType(ctx, t)
	if err != nil {
		return fhir.WriteError(c, err)
	}
	if u == "" {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound,
			"no identifier system configured for patient identifier type "+t.FHIRID))
	}
	return c.JSON(http.StatusOK, SystemResponse{PatientIdentifierType: t.FHIRID, URL: u})
}

func (h *Handler) SetSystem(c echo.Context) error {
	var req setSystemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("invalid request body"))
	}
	t, err := h.svc.GetPatientIdentifierType(c.Request().Context(), c.Param("id"))
	if err != nil {
		return lookupError(c, err)
	}
	if err := h.svc.SetURLForPatientIdentifierType(c.Request().Context(), t, req.URL); err != nil {
		return fhir.WriteError(c, err)
	}
	return c.JSON(http.StatusOK, SystemResponse{PatientIdentifierType: t.FHIRID, URL: req.URL})
}

func lookupError(c echo.Context, err error) error {
	if errors.Is(err, ErrTypeNotFound) {
		return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("PatientIdentifierType", c.Param("id")))
	}
	return fhir.WriteError(c, err)
}
