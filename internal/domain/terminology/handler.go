package terminology

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/nlq/internal/platform/fhir"
)

// Handler provides read-only REST endpoints over the condition table.
type Handler struct {
	mapper *Mapper
}

// NewHandler creates a new terminology handler.
func NewHandler(mapper *Mapper) *Handler {
	return &Handler{mapper: mapper}
}

// RegisterRoutes registers terminology routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/terminology")
	g.GET("/conditions", h.ListConditions)
	g.GET("/conditions/lookup", h.LookupCondition)
}

// ListConditions handles GET /api/v1/terminology/conditions
func (h *Handler) ListConditions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mapper.Entries())
}

// LookupCondition handles GET /api/v1/terminology/conditions/lookup?phrase=...
func (h *Handler) LookupCondition(c echo.Context) error {
	phrase := c.QueryParam("phrase")
	if phrase == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeRequired, "query parameter 'phrase' is required"))
	}
	term, ok := h.mapper.Lookup(phrase)
	if !ok {
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeNotFound, "no condition matches '"+phrase+"'"))
	}
	return c.JSON(http.StatusOK, term)
}
