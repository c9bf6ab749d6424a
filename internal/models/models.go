package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PeriodKind distinguishes annual statements from quarterly ones.
type PeriodKind string

const (
	PeriodAnnual    PeriodKind = "annual"
	PeriodQuarterly PeriodKind = "quarterly"
)

// Metric category codes. The set is fixed and seeded at startup.
const (
	CategoryPNL = "PNL"
	CategoryBS  = "BS"
	CategoryCF  = "CF"
)

// Categories lists every seeded category with its display name.
var Categories = []MetricCategory{
	{Code: CategoryPNL, Name: "Profit & Loss"},
	{Code: CategoryBS, Name: "Balance Sheet"},
	{Code: CategoryCF, Name: "Cash Flow"},
}

type Company struct {
	ID          int64     `json:"id"`
	Ticker      string    `json:"ticker"`
	Name        string    `json:"name"`
	Exchange    string    `json:"exchange"` // nse, bse
	Sector      string    `json:"sector"`
	Industry    string    `json:"industry"`
	ListingDate time.Time `json:"listing_date"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PeriodKey is the natural key of a TimePeriod.
type PeriodKey struct {
	Year    int        `json:"year"`
	Quarter *int       `json:"quarter"`
	Kind    PeriodKind `json:"kind"`
}

// Equal reports whether two keys name the same fiscal period.
func (k PeriodKey) Equal(o PeriodKey) bool {
	if k.Year != o.Year || k.Kind != o.Kind {
		return false
	}
	if k.Quarter == nil || o.Quarter == nil {
		return k.Quarter == nil && o.Quarter == nil
	}
	return *k.Quarter == *o.Quarter
}

type TimePeriod struct {
	ID int64 `json:"id"`
	PeriodKey
}

// Label renders the period the way the company page shows it.
func (p TimePeriod) Label() string {
	if p.Kind == PeriodQuarterly && p.Quarter != nil {
		return fmt.Sprintf("FY%d Q%d", p.Year, *p.Quarter)
	}
	return fmt.Sprintf("FY%d ANNUAL", p.Year)
}

type MetricCategory struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Metric struct {
	ID           int64   `json:"id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	CategoryID   int64   `json:"category_id"`
	CategoryCode string  `json:"category_code"`
	Formula      *string `json:"formula,omitempty"`
}

type FinancialValue struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	MetricID     int64           `json:"metric_id"`
	TimePeriodID int64           `json:"time_period_id"`
	Value        decimal.Decimal `json:"value"`
}

// CompanyFundamental is the derived snapshot; nil fields are unknown.
type CompanyFundamental struct {
	CompanyID       int64            `json:"company_id"`
	Revenue         *decimal.Decimal `json:"revenue"`
	OperatingMargin *decimal.Decimal `json:"operating_margin"`
	NetMargin       *decimal.Decimal `json:"net_margin"`
	ROE             *decimal.Decimal `json:"roe"`
	ROCE            *decimal.Decimal `json:"roce"`
	DebtToEquity    *decimal.Decimal `json:"debt_to_equity"`
	SalesCAGR5Y     *decimal.Decimal `json:"sales_cagr_5y"`
	ProfitCAGR5Y    *decimal.Decimal `json:"profit_cagr_5y"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type CompanyMarketSnapshot struct {
	CompanyID     int64            `json:"company_id"`
	Price         decimal.Decimal  `json:"price"`
	MarketCap     *decimal.Decimal `json:"market_cap"`
	PE            *decimal.Decimal `json:"pe"`
	PB            *decimal.Decimal `json:"pb"`
	DividendYield *decimal.Decimal `json:"dividend_yield"`
	High52W       *decimal.Decimal `json:"high_52w"`
	Low52W        *decimal.Decimal `json:"low_52w"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type CompanyHistory struct {
	CompanyID    int64           `json:"company_id"`
	Date         time.Time       `json:"date"`
	ClosingPrice decimal.Decimal `json:"closing_price"`
	Volume       int64           `json:"volume"`
}

// Counts summarises table sizes for the admin status endpoint.
type Counts struct {
	Companies       int `json:"companies"`
	Metrics         int `json:"metrics"`
	TimePeriods     int `json:"time_periods"`
	FinancialValues int `json:"financial_values"`
	Fundamentals    int `json:"fundamentals"`
	Snapshots       int `json:"snapshots"`
	HistoryRows     int `json:"history_rows"`
}
