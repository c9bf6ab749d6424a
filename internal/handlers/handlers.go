package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mauv0809/screener/internal/ingest"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/rs/zerolog"
)

const autocompleteLimit = 10

type Handler struct {
	store store.Store
}

func New(s store.Store) *Handler {
	return &Handler{store: s}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health returns application health status
// @Summary Health check
// @Description Returns the health status of the application
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// CompanyResponse is the header data of a company page.
type CompanyResponse struct {
	Company      models.Company                `json:"company"`
	Fundamentals *models.CompanyFundamental    `json:"fundamentals"`
	Snapshot     *models.CompanyMarketSnapshot `json:"snapshot"`
}

// Company handles GET /api/companies/:ticker
// A company without computed fundamentals is reported as not found.
func (h *Handler) Company(c echo.Context) error {
	ctx := c.Request().Context()

	company, err := h.store.GetCompanyByTicker(ctx, c.Param("ticker"))
	if err != nil {
		return errorJSON(c, err)
	}
	fundamentals, err := h.store.GetFundamental(ctx, company.ID)
	if err != nil {
		return errorJSON(c, err)
	}
	snapshot, err := h.store.GetMarketSnapshot(ctx, company.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, CompanyResponse{
		Company:      *company,
		Fundamentals: fundamentals,
		Snapshot:     snapshot,
	})
}

// History handles GET /api/companies/:ticker/history
// Query params:
// - since: YYYY-MM-DD (optional, defaults to one year ago)
func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()

	since := time.Now().AddDate(-1, 0, 0)
	if s := c.QueryParam("since"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be YYYY-MM-DD"})
		}
		since = t
	}

	company, err := h.store.GetCompanyByTicker(ctx, c.Param("ticker"))
	if err != nil {
		return errorJSON(c, err)
	}
	history, err := h.store.ListHistory(ctx, company.ID, since)
	if err != nil {
		return errorJSON(c, err)
	}
	if history == nil {
		history = []models.CompanyHistory{}
	}
	return c.JSON(http.StatusOK, history)
}

// Autocomplete handles GET /api/autocomplete?q=
func (h *Handler) Autocomplete(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return c.JSON(http.StatusOK, []models.Company{})
	}

	companies, err := h.store.SearchCompanies(c.Request().Context(), q, autocompleteLimit)
	if err != nil {
		return errorJSON(c, err)
	}
	if companies == nil {
		companies = []models.Company{}
	}
	return c.JSON(http.StatusOK, companies)
}

// errorJSON maps domain errors onto status codes.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ingest.ErrMalformedInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).
			Str("uri", c.Request().RequestURI).
			Msg("request failed")
	}
	return c.JSON(status, ErrorResponse{Error: err.Error()})
}
