// Package fundamentals derives per-company ratios from imported statements.
package fundamentals

import (
	"context"
	"errors"
	"fmt"

	"github.com/mauv0809/screener/internal/metrics"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Metric codes the ratios read.
const (
	Sales              = "SALES"
	NetProfit          = "NET_PROFIT"
	OperatingProfit    = "OPERATING_PROFIT"
	EquityShareCapital = "EQUITY_SHARE_CAPITAL"
	Reserves           = "RESERVES"
	Borrowings         = "BORROWINGS"
)

const cagrYears = 5

type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewEngine(s store.Store, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{store: s, metrics: m, logger: logger}
}

// Generate recomputes and overwrites the fundamentals of company.
func (e *Engine) Generate(ctx context.Context, company models.Company) (*models.CompanyFundamental, error) {
	f, err := e.generate(ctx, company)
	e.metrics.ObserveFundamentals(err)
	if err != nil {
		return nil, fmt.Errorf("generating fundamentals for %s: %w", company.Ticker, err)
	}
	return f, nil
}

func (e *Engine) generate(ctx context.Context, company models.Company) (*models.CompanyFundamental, error) {
	in, err := e.inputs(ctx, company.ID)
	if err != nil {
		return nil, err
	}
	f := Compute(in)
	f.CompanyID = company.ID
	if err := e.store.UpsertFundamental(ctx, f); err != nil {
		return nil, err
	}
	return &f, nil
}

// BatchResult summarises a RegenerateAll run.
type BatchResult struct {
	Processed int               `json:"processed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RegenerateAll recomputes every active company. A failing company is logged
// and recorded; the batch carries on.
func (e *Engine) RegenerateAll(ctx context.Context) (*BatchResult, error) {
	companies, err := e.store.ListActiveCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}

	res := &BatchResult{Failed: map[string]string{}}
	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := e.Generate(ctx, c); err != nil {
			e.logger.Error().Err(err).Str("ticker", c.Ticker).Msg("fundamentals failed")
			res.Failed[c.Ticker] = err.Error()
			continue
		}
		res.Processed++
	}
	e.logger.Info().Int("processed", res.Processed).Int("failed", len(res.Failed)).Msg("fundamentals regenerated")
	return res, nil
}

func (e *Engine) inputs(ctx context.Context, companyID int64) (Inputs, error) {
	var in Inputs
	latest := []struct {
		code string
		dst  **decimal.Decimal
	}{
		{Sales, &in.Sales},
		{NetProfit, &in.NetProfit},
		{OperatingProfit, &in.OperatingProfit},
		{EquityShareCapital, &in.EquityShareCapital},
		{Reserves, &in.Reserves},
		{Borrowings, &in.Borrowings},
	}
	for _, l := range latest {
		v, err := e.latestValue(ctx, companyID, l.code)
		if err != nil {
			return in, err
		}
		*l.dst = v
	}

	var err error
	if in.SalesStart, in.SalesEnd, err = e.growthSpan(ctx, companyID, Sales); err != nil {
		return in, err
	}
	if in.ProfitStart, in.ProfitEnd, err = e.growthSpan(ctx, companyID, NetProfit); err != nil {
		return in, err
	}
	return in, nil
}

func (e *Engine) metric(ctx context.Context, code string) (*models.Metric, error) {
	m, err := e.store.GetMetricByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up metric %s: %w", code, err)
	}
	return m, nil
}

func (e *Engine) latestValue(ctx context.Context, companyID int64, code string) (*decimal.Decimal, error) {
	m, err := e.metric(ctx, code)
	if err != nil || m == nil {
		return nil, err
	}
	return e.store.LatestValue(ctx, companyID, m.ID)
}

// growthSpan returns the annual values at the latest fiscal year holding the
// metric and cagrYears before it.
func (e *Engine) growthSpan(ctx context.Context, companyID int64, code string) (start, end *decimal.Decimal, err error) {
	m, err := e.metric(ctx, code)
	if err != nil || m == nil {
		return nil, nil, err
	}
	periods, err := e.store.RecentPeriods(ctx, companyID, models.PeriodAnnual, 0)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range periods {
		end, err = e.store.AnnualValue(ctx, companyID, m.ID, p.Year)
		if err != nil {
			return nil, nil, err
		}
		if end == nil {
			continue
		}
		start, err = e.store.AnnualValue(ctx, companyID, m.ID, p.Year-cagrYears)
		if err != nil {
			return nil, nil, err
		}
		return start, end, nil
	}
	return nil, nil, nil
}
