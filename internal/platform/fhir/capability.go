package fhir

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// CapabilityStatement represents the FHIR CapabilityStatement (metadata).
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Implementation *CSImplementation `json:"implementation,omitempty"`
	Rest           []CSRest          `json:"rest"`
}

type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type CSRest struct {
	Mode     string       `json:"mode"`
	Resource []CSResource `json:"resource"`
}

type CSResource struct {
	Type        string          `json:"type"`
	Interaction []CSInteraction `json:"interaction"`
	SearchParam []CSSearchParam `json:"searchParam,omitempty"`
	SearchChain []string        `json:"searchChain,omitempty"`
}

type CSInteraction struct {
	Code string `json:"code"`
}

type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CapabilityRegistry collects the resources served so /metadata can
// describe them.
type CapabilityRegistry struct {
	baseURL   string
	resources []CSResource
}

func NewCapabilityRegistry(baseURL string) *CapabilityRegistry {
	return &CapabilityRegistry{baseURL: baseURL}
}

// Register records a resource type and the search parameters it accepts.
func (r *CapabilityRegistry) Register(res CSResource) {
	r.resources = append(r.resources, res)
}

// Statement builds the server's capability statement.
func (r *CapabilityRegistry) Statement() *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format("2006-01-02"),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"json"},
		Implementation: &CSImplementation{
			Description: "OpenMRS FHIR2 R4 Server",
			URL:         r.baseURL,
		},
		Rest: []CSRest{{Mode: "server", Resource: r.resources}},
	}
}

// Handler serves GET /metadata.
func (r *CapabilityRegistry) Handler(c echo.Context) error {
	return c.JSON(http.StatusOK, r.Statement())
}

// ResourceCapability creates a CSResource with standard CRUD interactions.
func ResourceCapability(resourceType string, searchParams []CSSearchParam, chains ...string) CSResource {
	return CSResource{
		Type: resourceType,
		Interaction: []CSInteraction{
			{Code: "read"},
			{Code: "search-type"},
			{Code: "create"},
			{Code: "update"},
			{Code: "delete"},
		},
		SearchParam: searchParams,
		SearchChain: chains,
	}
}
