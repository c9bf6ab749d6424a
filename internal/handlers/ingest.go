package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mauv0809/screener/internal/fundamentals"
	"github.com/mauv0809/screener/internal/ingest"
	"github.com/mauv0809/screener/internal/market"
	"github.com/mauv0809/screener/internal/store"
	"github.com/rs/zerolog"
)

// IngestHandler handles the admin endpoints that load and refresh data.
type IngestHandler struct {
	store     store.Store
	importer  *ingest.Importer
	engine    *fundamentals.Engine
	refresher *market.Refresher
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(s store.Store, importer *ingest.Importer, engine *fundamentals.Engine, refresher *market.Refresher) *IngestHandler {
	return &IngestHandler{
		store:     s,
		importer:  importer,
		engine:    engine,
		refresher: refresher,
	}
}

// IngestResponse is the JSON response for ingestion endpoints.
type IngestResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Count   int               `json:"count,omitempty"`
	Elapsed string            `json:"elapsed,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// ImportResponse reports a committed spreadsheet import.
type ImportResponse struct {
	IngestResponse
	ImportID          string `json:"import_id"`
	Ticker            string `json:"ticker"`
	HistoryRows       int    `json:"history_rows"`
	FundamentalsError string `json:"fundamentals_error,omitempty"`
	HistoryError      string `json:"history_error,omitempty"`
}

// Import handles POST /admin/import
// Multipart form fields:
// - file: the xlsx workbook holding a "Data Sheet" worksheet
// - ticker: company ticker
func (h *IngestHandler) Import(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	ticker := strings.TrimSpace(c.FormValue("ticker"))
	if ticker == "" {
		return c.JSON(http.StatusBadRequest, IngestResponse{
			Success: false,
			Message: "ticker form field is required",
		})
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("file form field is required: %v", err),
		})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to open upload: %v", err),
		})
	}
	defer f.Close()

	res, err := h.importer.Import(ctx, f, ticker)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrMalformedInput) {
			status = http.StatusBadRequest
		}
		return c.JSON(status, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("Import failed: %v", err),
		})
	}

	resp := ImportResponse{
		IngestResponse: IngestResponse{
			Success: true,
			Message: fmt.Sprintf("Imported %d values for %s", res.Facts, res.Company.Ticker),
			Count:   res.Facts,
			Elapsed: time.Since(start).String(),
		},
		ImportID:    res.ImportID,
		Ticker:      res.Company.Ticker,
		HistoryRows: res.HistoryRows,
	}
	if res.FundamentalsErr != nil {
		resp.FundamentalsError = res.FundamentalsErr.Error()
	}
	if res.HistoryErr != nil {
		resp.HistoryError = res.HistoryErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// RegenerateFundamentals handles POST /admin/fundamentals/regenerate
func (h *IngestHandler) RegenerateFundamentals(c echo.Context) error {
	start := time.Now()
	res, err := h.engine.RegenerateAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to regenerate fundamentals: %v", err),
		})
	}
	return c.JSON(http.StatusOK, IngestResponse{
		Success: len(res.Failed) == 0,
		Message: fmt.Sprintf("Regenerated fundamentals for %d companies", res.Processed),
		Count:   res.Processed,
		Elapsed: time.Since(start).String(),
		Failed:  res.Failed,
	})
}

// RefreshSnapshots handles POST /admin/market/snapshots
func (h *IngestHandler) RefreshSnapshots(c echo.Context) error {
	return h.marketJob(c, h.refresher.RefreshSnapshots)
}

// WeeklyUpdate handles POST /admin/market/weekly
func (h *IngestHandler) WeeklyUpdate(c echo.Context) error {
	return h.marketJob(c, h.refresher.WeeklyUpdate)
}

// BackfillHistories handles POST /admin/market/history
func (h *IngestHandler) BackfillHistories(c echo.Context) error {
	return h.marketJob(c, h.refresher.BackfillHistories)
}

func (h *IngestHandler) marketJob(c echo.Context, job func(context.Context) (*market.BatchResult, error)) error {
	start := time.Now()
	res, err := job(c.Request().Context())
	if err != nil {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("market job failed")
		return c.JSON(http.StatusInternalServerError, IngestResponse{
			Success: false,
			Message: fmt.Sprintf("Market job failed: %v", err),
		})
	}
	return c.JSON(http.StatusOK, IngestResponse{
		Success: len(res.Failed) == 0,
		Message: fmt.Sprintf("%s refresh processed %d companies", res.Job, res.Processed),
		Count:   res.Processed,
		Elapsed: time.Since(start).String(),
		Failed:  res.Failed,
	})
}

// IngestStatus handles GET /admin/status
// Returns current row counts.
func (h *IngestHandler) IngestStatus(c echo.Context) error {
	counts, err := h.store.Counts(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}
