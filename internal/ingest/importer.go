package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mauv0809/screener/internal/metrics"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/rs/zerolog"
)

// FundamentalsGenerator recomputes the derived ratios of one company.
type FundamentalsGenerator interface {
	Generate(ctx context.Context, company models.Company) (*models.CompanyFundamental, error)
}

// HistoryBackfiller loads a company's full price history.
type HistoryBackfiller interface {
	BackfillHistory(ctx context.Context, company models.Company) (int, error)
}

// Result describes a committed import. The post-import steps run after the
// commit, so their errors are reported here instead of failing the import.
type Result struct {
	ImportID        string         `json:"import_id"`
	Company         models.Company `json:"company"`
	Facts           int            `json:"facts"`
	HistoryRows     int            `json:"history_rows"`
	FundamentalsErr error          `json:"-"`
	HistoryErr      error          `json:"-"`
}

// Importer loads Data Sheet workbooks into the store.
type Importer struct {
	store        store.Store
	fundamentals FundamentalsGenerator
	history      HistoryBackfiller
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

type Option func(*Importer)

// WithHistory backfills price history after each import.
func WithHistory(h HistoryBackfiller) Option {
	return func(i *Importer) { i.history = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

func NewImporter(s store.Store, fundamentals FundamentalsGenerator, opts ...Option) *Importer {
	i := &Importer{
		store:        s,
		fundamentals: fundamentals,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportFile imports the workbook at path.
func (i *Importer) ImportFile(ctx context.Context, path, ticker string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrMalformedInput, path, err)
	}
	defer f.Close()
	return i.Import(ctx, f, ticker)
}

// Import reads the Data Sheet of an xlsx workbook and upserts every fact it
// holds for ticker in one transaction. Nothing is written when it fails.
func (i *Importer) Import(ctx context.Context, r io.Reader, ticker string) (*Result, error) {
	start := time.Now()
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	res := &Result{ImportID: uuid.NewString()}
	logger := i.logger.With().Str("import_id", res.ImportID).Str("ticker", ticker).Logger()

	err := i.load(logger.WithContext(ctx), r, ticker, res)
	i.metrics.ObserveImport(err, res.Facts, time.Since(start))
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return nil, err
	}
	logger.Info().Int("facts", res.Facts).Dur("elapsed", time.Since(start)).Msg("import committed")

	if i.fundamentals != nil {
		if _, err := i.fundamentals.Generate(ctx, res.Company); err != nil {
			res.FundamentalsErr = err
			logger.Error().Err(err).Msg("generating fundamentals after import")
		}
	}
	if i.history != nil {
		n, err := i.history.BackfillHistory(ctx, res.Company)
		res.HistoryRows = n
		if err != nil {
			res.HistoryErr = err
			logger.Error().Err(err).Msg("backfilling price history after import")
		}
	}
	return res, nil
}

func (i *Importer) load(ctx context.Context, r io.Reader, ticker string, res *Result) error {
	if ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrMalformedInput)
	}

	// parse before the transaction opens so unreadable files never touch the store
	grid, err := LoadWorkbook(r)
	if err != nil {
		return err
	}

	return i.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.LockCompany(ctx, ticker); err != nil {
			return fmt.Errorf("locking %s: %w", ticker, err)
		}
		company, err := tx.EnsureCompany(ctx, NewCompany(ticker))
		if err != nil {
			return fmt.Errorf("ensuring company %s: %w", ticker, err)
		}

		facts := 0
		refs := newResolver(tx)
		for fact := range Parse(grid) {
			metric, err := refs.metric(ctx, fact.Metric, fact.Category)
			if err != nil {
				return err
			}
			period, err := refs.period(ctx, fact)
			if err != nil {
				return fmt.Errorf("%s: %w", fact.Metric, err)
			}
			err = tx.UpsertFinancialValue(ctx, models.FinancialValue{
				CompanyID:    company.ID,
				MetricID:     metric.ID,
				TimePeriodID: period.ID,
				Value:        fact.Value,
			})
			if err != nil {
				return err
			}
			facts++
		}

		res.Company = *company
		res.Facts = facts
		return nil
	})
}

// NewCompany returns the placeholder record created on a ticker's first import.
func NewCompany(ticker string) models.Company {
	return models.Company{
		Ticker:      ticker,
		Name:        ticker,
		Exchange:    "nse",
		Sector:      "Unknown",
		Industry:    "Unknown",
		ListingDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
}
