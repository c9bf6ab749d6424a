// Package store defines the record store the screener persists into.
// internal/db implements it on PostgreSQL and internal/store/memstore in memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

type CompanyStore interface {
	// GetCompanyByTicker matches the ticker case-insensitively.
	GetCompanyByTicker(ctx context.Context, ticker string) (*models.Company, error)
	// EnsureCompany returns the company with c.Ticker, inserting c if none exists.
	EnsureCompany(ctx context.Context, c models.Company) (*models.Company, error)
	ListActiveCompanies(ctx context.Context) ([]models.Company, error)
	// SearchCompanies matches name or ticker substrings case-insensitively, ordered by ticker.
	SearchCompanies(ctx context.Context, q string, limit int) ([]models.Company, error)
	SetCompanyActive(ctx context.Context, companyID int64, active bool) error
}

type ReferenceStore interface {
	GetMetricCategory(ctx context.Context, code string) (*models.MetricCategory, error)
	// SeedMetricCategories inserts any missing category; safe to call repeatedly.
	SeedMetricCategories(ctx context.Context, categories []models.MetricCategory) error
	// EnsureMetric returns the metric with m.Code, inserting m if none exists.
	// An existing metric is returned unchanged.
	EnsureMetric(ctx context.Context, m models.Metric) (*models.Metric, error)
	GetMetricByCode(ctx context.Context, code string) (*models.Metric, error)
	ListMetricsByCategory(ctx context.Context, categoryCode string) ([]models.Metric, error)
	// EnsureTimePeriod returns the period for key, inserting it if none exists.
	EnsureTimePeriod(ctx context.Context, key models.PeriodKey) (*models.TimePeriod, error)
}

type ValueStore interface {
	UpsertFinancialValue(ctx context.Context, v models.FinancialValue) error
	// LatestValue orders by year desc then quarter desc with annual periods first
	// within a year. Returns nil when the company has no value for the metric.
	LatestValue(ctx context.Context, companyID, metricID int64) (*decimal.Decimal, error)
	// AnnualValue returns the annual value for the fiscal year, or nil.
	AnnualValue(ctx context.Context, companyID, metricID int64, year int) (*decimal.Decimal, error)
	// RecentPeriods lists up to limit (0 for all) periods of kind that hold values for the
	// company, most recent first.
	RecentPeriods(ctx context.Context, companyID int64, kind models.PeriodKind, limit int) ([]models.TimePeriod, error)
	ListFinancialValues(ctx context.Context, companyID int64, metricIDs, periodIDs []int64) ([]models.FinancialValue, error)
}

type FundamentalStore interface {
	UpsertFundamental(ctx context.Context, f models.CompanyFundamental) error
	GetFundamental(ctx context.Context, companyID int64) (*models.CompanyFundamental, error)
}

type MarketStore interface {
	UpsertMarketSnapshot(ctx context.Context, s models.CompanyMarketSnapshot) error
	GetMarketSnapshot(ctx context.Context, companyID int64) (*models.CompanyMarketSnapshot, error)
	// AppendHistory inserts rows, ignoring dates already recorded. Returns rows inserted.
	AppendHistory(ctx context.Context, rows []models.CompanyHistory) (int, error)
	ListHistory(ctx context.Context, companyID int64, since time.Time) ([]models.CompanyHistory, error)
}

// Store is the full record store.
type Store interface {
	CompanyStore
	ReferenceStore
	ValueStore
	FundamentalStore
	MarketStore

	// InTx runs fn inside one transaction. Returning an error from fn rolls back
	// everything fn wrote. Calls nested inside fn join the outer transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
	// LockCompany serialises transactions touching the ticker until the
	// surrounding transaction ends. It is a no-op outside InTx.
	LockCompany(ctx context.Context, ticker string) error
	Counts(ctx context.Context) (models.Counts, error)
}
