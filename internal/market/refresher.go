package market

import (
	"context"
	"fmt"
	"time"

	"github.com/mauv0809/screener/internal/metrics"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/rs/zerolog"
)

// Job names used in logs and metrics.
const (
	JobSnapshot = "snapshot"
	JobWeekly   = "weekly"
	JobHistory  = "history"
)

// DefaultHistorySince is the start of a full history backfill.
var DefaultHistorySince = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Refresher copies market data from a Source into the store.
type Refresher struct {
	store   store.Store
	source  Source
	since   time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type RefresherOption func(*Refresher)

// WithHistorySince sets where BackfillHistory starts.
func WithHistorySince(t time.Time) RefresherOption {
	return func(r *Refresher) { r.since = t }
}

func WithMetrics(m *metrics.Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func WithRefresherLogger(l zerolog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = l }
}

func NewRefresher(s store.Store, source Source, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:  s,
		source: source,
		since:  DefaultHistorySince,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefreshSnapshot replaces the company's market snapshot with a live quote.
// The snapshot is left unchanged when the quote cannot be fetched.
func (r *Refresher) RefreshSnapshot(ctx context.Context, company models.Company) error {
	q, err := r.source.GetQuote(ctx, company.Ticker)
	if err != nil {
		return err
	}
	return r.store.InTx(ctx, func(tx store.Store) error {
		return tx.UpsertMarketSnapshot(ctx, models.CompanyMarketSnapshot{
			CompanyID:     company.ID,
			Price:         q.Price,
			MarketCap:     q.MarketCap,
			PE:            q.PE,
			PB:            q.PB,
			DividendYield: q.DividendYield,
			High52W:       q.High52W,
			Low52W:        q.Low52W,
		})
	})
}

// UpdateWeekly appends the latest daily bar to the company's history.
func (r *Refresher) UpdateWeekly(ctx context.Context, company models.Company) error {
	bar, err := r.source.GetDailyBar(ctx, company.Ticker)
	if err != nil {
		return err
	}
	return r.store.InTx(ctx, func(tx store.Store) error {
		_, err := tx.AppendHistory(ctx, []models.CompanyHistory{historyRow(company.ID, *bar)})
		return err
	})
}

// BackfillHistory loads every daily bar since the configured start. Dates
// already recorded are kept. It returns the number of rows added.
func (r *Refresher) BackfillHistory(ctx context.Context, company models.Company) (int, error) {
	bars, err := r.source.GetHistory(ctx, company.Ticker, r.since)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}
	rows := make([]models.CompanyHistory, len(bars))
	for i, b := range bars {
		rows[i] = historyRow(company.ID, b)
	}

	var n int
	err = r.store.InTx(ctx, func(tx store.Store) error {
		var err error
		n, err = tx.AppendHistory(ctx, rows)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("storing history for %s: %w", company.Ticker, err)
	}
	return n, nil
}

func historyRow(companyID int64, b Bar) models.CompanyHistory {
	return models.CompanyHistory{
		CompanyID:    companyID,
		Date:         b.Date,
		ClosingPrice: b.Close,
		Volume:       b.Volume,
	}
}

// BatchResult summarises a run over all active companies.
type BatchResult struct {
	Job       string            `json:"job"`
	Processed int               `json:"processed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RefreshSnapshots refreshes every active company's snapshot.
func (r *Refresher) RefreshSnapshots(ctx context.Context) (*BatchResult, error) {
	return r.each(ctx, JobSnapshot, r.RefreshSnapshot)
}

// WeeklyUpdate appends the latest bar for every active company.
func (r *Refresher) WeeklyUpdate(ctx context.Context) (*BatchResult, error) {
	return r.each(ctx, JobWeekly, r.UpdateWeekly)
}

// BackfillHistories backfills the history of every active company.
func (r *Refresher) BackfillHistories(ctx context.Context) (*BatchResult, error) {
	return r.each(ctx, JobHistory, func(ctx context.Context, c models.Company) error {
		_, err := r.BackfillHistory(ctx, c)
		return err
	})
}

// each runs fn per active company. A failing company is logged and the
// batch moves on.
func (r *Refresher) each(ctx context.Context, job string, fn func(context.Context, models.Company) error) (*BatchResult, error) {
	companies, err := r.store.ListActiveCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}

	start := time.Now()
	res := &BatchResult{Job: job, Failed: map[string]string{}}
	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := fn(ctx, c)
		r.metrics.ObserveMarketRefresh(job, err)
		if err != nil {
			r.logger.Error().Err(err).Str("job", job).Str("ticker", c.Ticker).Msg("market refresh failed")
			res.Failed[c.Ticker] = err.Error()
			continue
		}
		res.Processed++
	}

	r.logger.Info().
		Str("job", job).
		Int("processed", res.Processed).
		Int("failed", len(res.Failed)).
		Dur("elapsed", time.Since(start)).
		Msg("market refresh complete")
	return res, nil
}
