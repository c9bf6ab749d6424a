package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/shopspring/decimal"
)

const (
	quarterlyPeriods = 8
	annualPeriods    = 12
)

// StatementRow is one metric aligned to the table's periods. Gaps are null.
type StatementRow struct {
	Metric string             `json:"metric"`
	Code   string             `json:"code"`
	Values []*decimal.Decimal `json:"values"`
}

// StatementTable lists periods oldest first.
type StatementTable struct {
	Periods []string       `json:"periods"`
	Rows    []StatementRow `json:"rows"`
}

type StatementsResponse struct {
	Ticker       string         `json:"ticker"`
	Quarterly    StatementTable `json:"quarterly"`
	ProfitLoss   StatementTable `json:"profit_loss"`
	BalanceSheet StatementTable `json:"balance_sheet"`
	CashFlow     StatementTable `json:"cash_flow"`
}

// Statements handles GET /api/companies/:ticker/statements
func (h *Handler) Statements(c echo.Context) error {
	ctx := c.Request().Context()

	company, err := h.store.GetCompanyByTicker(ctx, c.Param("ticker"))
	if err != nil {
		return errorJSON(c, err)
	}

	resp := StatementsResponse{Ticker: company.Ticker}
	tables := []struct {
		dst      *StatementTable
		kind     models.PeriodKind
		category string
		limit    int
	}{
		{&resp.Quarterly, models.PeriodQuarterly, models.CategoryPNL, quarterlyPeriods},
		{&resp.ProfitLoss, models.PeriodAnnual, models.CategoryPNL, annualPeriods},
		{&resp.BalanceSheet, models.PeriodAnnual, models.CategoryBS, annualPeriods},
		{&resp.CashFlow, models.PeriodAnnual, models.CategoryCF, annualPeriods},
	}
	for _, t := range tables {
		table, err := statementTable(ctx, h.store, company.ID, t.kind, t.category, t.limit)
		if err != nil {
			return errorJSON(c, err)
		}
		*t.dst = *table
	}
	return c.JSON(http.StatusOK, resp)
}

// statementTable builds the most recent limit periods of kind for one
// category. Metrics without any value in those periods are omitted.
func statementTable(ctx context.Context, s store.Store, companyID int64, kind models.PeriodKind, category string, limit int) (*StatementTable, error) {
	table := &StatementTable{Periods: []string{}, Rows: []StatementRow{}}

	periods, err := s.RecentPeriods(ctx, companyID, kind, limit)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return table, nil
	}
	slices.Reverse(periods)

	metrics, err := s.ListMetricsByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return table, nil
	}

	metricIDs := make([]int64, len(metrics))
	for i, m := range metrics {
		metricIDs[i] = m.ID
	}
	column := make(map[int64]int, len(periods))
	periodIDs := make([]int64, len(periods))
	for i, p := range periods {
		column[p.ID] = i
		periodIDs[i] = p.ID
		table.Periods = append(table.Periods, p.Label())
	}

	values, err := s.ListFinancialValues(ctx, companyID, metricIDs, periodIDs)
	if err != nil {
		return nil, err
	}
	byMetric := map[int64][]*decimal.Decimal{}
	for _, v := range values {
		row, ok := byMetric[v.MetricID]
		if !ok {
			row = make([]*decimal.Decimal, len(periods))
			byMetric[v.MetricID] = row
		}
		value := v.Value
		row[column[v.TimePeriodID]] = &value
	}

	for _, m := range metrics {
		row, ok := byMetric[m.ID]
		if !ok {
			continue
		}
		table.Rows = append(table.Rows, StatementRow{Metric: m.Name, Code: m.Code, Values: row})
	}
	return table, nil
}
