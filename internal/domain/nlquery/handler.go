package nlquery

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/nlq/internal/platform/fhir"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query string `json:"query"`
}

// Handler exposes the pipeline over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the query routes at the server root.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/query", mw...)
	g.POST("", h.ProcessQuery)
	g.POST("/translate", h.TranslateQuery)
}

// ProcessQuery handles POST /query. Fetch failures do not change the
// status; the body then holds the records received before the failure.
func (h *Handler) ProcessQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	result, err := h.svc.ProcessQuery(c.Request().Context(), req.Query)
	if err != nil {
		return queryError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// TranslateQuery handles POST /query/translate.
func (h *Handler) TranslateQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	t, err := h.svc.Translate(c.Request().Context(), req.Query)
	if err != nil {
		return queryError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func invalidBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, fhir.ValidationOutcome("query", "request body must be a JSON object with a string query"))
}

func queryError(c echo.Context, err error) error {
	if errors.Is(err, ErrEmptyQuery) {
		return c.JSON(http.StatusBadRequest, fhir.RequiredFieldOutcome("query"))
	}
	return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
}
