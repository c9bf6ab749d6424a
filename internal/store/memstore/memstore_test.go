package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) (*Store, *models.Company, *models.Metric) {
	t.Helper()
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SeedMetricCategories(ctx, models.Categories))
	c, err := s.EnsureCompany(ctx, models.Company{Ticker: "ACME", Name: "Acme", Active: true})
	require.NoError(t, err)
	cat, err := s.GetMetricCategory(ctx, models.CategoryPNL)
	require.NoError(t, err)
	m, err := s.EnsureMetric(ctx, models.Metric{Code: "SALES", Name: "Sales", CategoryID: cat.ID})
	require.NoError(t, err)
	return s, c, m
}

func quarter(q int) *int { return &q }

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s, c, _ := seeded(t)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Store) error {
		_, err := tx.EnsureCompany(ctx, models.Company{Ticker: "NEW", Name: "New"})
		require.NoError(t, err)
		require.NoError(t, tx.SetCompanyActive(ctx, c.ID, false))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetCompanyByTicker(ctx, "NEW")
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err := s.GetCompanyByTicker(ctx, "ACME")
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	s, _, _ := seeded(t)

	require.NoError(t, s.InTx(ctx, func(tx store.Store) error {
		_, err := tx.EnsureCompany(ctx, models.Company{Ticker: "NEW", Name: "New"})
		return err
	}))
	_, err := s.GetCompanyByTicker(ctx, "new")
	assert.NoError(t, err)
}

func TestEnsureIsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s, c, m := seeded(t)

	again, err := s.EnsureCompany(ctx, models.Company{Ticker: "ACME", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "Acme", again.Name)

	bs, err := s.GetMetricCategory(ctx, models.CategoryBS)
	require.NoError(t, err)
	metric, err := s.EnsureMetric(ctx, models.Metric{Code: "SALES", Name: "Sales (BS)", CategoryID: bs.ID})
	require.NoError(t, err)
	assert.Equal(t, m.ID, metric.ID)
	assert.Equal(t, models.CategoryPNL, metric.CategoryCode)

	_, err = s.EnsureCompany(ctx, models.Company{Ticker: "OTHER", Name: "Acme"})
	assert.Error(t, err, "company names are unique")

	_, err = s.EnsureMetric(ctx, models.Metric{Code: "X", Name: "X", CategoryID: 999})
	assert.Error(t, err)
}

func TestEnsureTimePeriod(t *testing.T) {
	ctx := context.Background()
	s := New()

	annual, err := s.EnsureTimePeriod(ctx, models.PeriodKey{Year: 2020, Kind: models.PeriodAnnual})
	require.NoError(t, err)
	q1, err := s.EnsureTimePeriod(ctx, models.PeriodKey{Year: 2020, Quarter: quarter(1), Kind: models.PeriodQuarterly})
	require.NoError(t, err)
	again, err := s.EnsureTimePeriod(ctx, models.PeriodKey{Year: 2020, Quarter: quarter(1), Kind: models.PeriodQuarterly})
	require.NoError(t, err)

	assert.NotEqual(t, annual.ID, q1.ID)
	assert.Equal(t, q1.ID, again.ID)
}

func TestLatestValueOrdering(t *testing.T) {
	ctx := context.Background()
	s, c, m := seeded(t)

	set := func(key models.PeriodKey, v string) {
		p, err := s.EnsureTimePeriod(ctx, key)
		require.NoError(t, err)
		require.NoError(t, s.UpsertFinancialValue(ctx, models.FinancialValue{
			CompanyID: c.ID, MetricID: m.ID, TimePeriodID: p.ID, Value: decimal.RequireFromString(v),
		}))
	}

	set(models.PeriodKey{Year: 2019, Kind: models.PeriodAnnual}, "1")
	set(models.PeriodKey{Year: 2020, Quarter: quarter(2), Kind: models.PeriodQuarterly}, "2")
	set(models.PeriodKey{Year: 2020, Quarter: quarter(3), Kind: models.PeriodQuarterly}, "3")

	got, err := s.LatestValue(ctx, c.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", got.String())

	set(models.PeriodKey{Year: 2020, Kind: models.PeriodAnnual}, "4")
	got, err = s.LatestValue(ctx, c.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "4", got.String())

	annual, err := s.AnnualValue(ctx, c.ID, m.ID, 2019)
	require.NoError(t, err)
	assert.Equal(t, "1", annual.String())

	missing, err := s.AnnualValue(ctx, c.ID, m.ID, 2015)
	require.NoError(t, err)
	assert.Nil(t, missing)

	periods, err := s.RecentPeriods(ctx, c.ID, models.PeriodQuarterly, 1)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, 3, *periods[0].Quarter)

	periods, err = s.RecentPeriods(ctx, c.ID, models.PeriodAnnual, 0)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestUpsertFinancialValueOverwrites(t *testing.T) {
	ctx := context.Background()
	s, c, m := seeded(t)
	p, err := s.EnsureTimePeriod(ctx, models.PeriodKey{Year: 2020, Kind: models.PeriodAnnual})
	require.NoError(t, err)

	for _, v := range []string{"10", "12"} {
		require.NoError(t, s.UpsertFinancialValue(ctx, models.FinancialValue{
			CompanyID: c.ID, MetricID: m.ID, TimePeriodID: p.ID, Value: decimal.RequireFromString(v),
		}))
	}

	values, err := s.ListFinancialValues(ctx, c.ID, []int64{m.ID}, []int64{p.ID})
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "12", values[0].Value.String())
}

func TestSearchCompanies(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, c := range []models.Company{
		{Ticker: "TCS", Name: "Tata Consultancy Services"},
		{Ticker: "TATAMOTORS", Name: "Tata Motors"},
		{Ticker: "INFY", Name: "Infosys"},
	} {
		_, err := s.EnsureCompany(ctx, c)
		require.NoError(t, err)
	}

	got, err := s.SearchCompanies(ctx, "TATA", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "TATAMOTORS", got[0].Ticker)
	assert.Equal(t, "TCS", got[1].Ticker)

	got, err = s.SearchCompanies(ctx, "tata", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshotKeepsDividendYield(t *testing.T) {
	ctx := context.Background()
	s, c, _ := seeded(t)

	yield := decimal.RequireFromString("1.2")
	require.NoError(t, s.UpsertMarketSnapshot(ctx, models.CompanyMarketSnapshot{
		CompanyID: c.ID, Price: decimal.NewFromInt(100), DividendYield: &yield,
	}))
	require.NoError(t, s.UpsertMarketSnapshot(ctx, models.CompanyMarketSnapshot{
		CompanyID: c.ID, Price: decimal.NewFromInt(110),
	}))

	snap, err := s.GetMarketSnapshot(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "110", snap.Price.String())
	require.NotNil(t, snap.DividendYield)
	assert.Equal(t, "1.2", snap.DividendYield.String())
}

func TestAppendHistoryIgnoresDuplicateDays(t *testing.T) {
	ctx := context.Background()
	s, c, _ := seeded(t)

	day := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	n, err := s.AppendHistory(ctx, []models.CompanyHistory{
		{CompanyID: c.ID, Date: day, ClosingPrice: decimal.NewFromInt(10)},
		{CompanyID: c.ID, Date: day.AddDate(0, 0, 1), ClosingPrice: decimal.NewFromInt(11)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AppendHistory(ctx, []models.CompanyHistory{
		{CompanyID: c.ID, Date: day.Add(time.Hour), ClosingPrice: decimal.NewFromInt(99)},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := s.ListHistory(ctx, c.ID, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "11", rows[0].ClosingPrice.String())

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.HistoryRows)
}

func TestMissingRowsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetCompanyByTicker(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetFundamental(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMetricByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetCompanyActive(ctx, 1, false), store.ErrNotFound)
}

func TestEnsureCompanyTickerIgnoresCase(t *testing.T) {
	ctx := context.Background()
	s := New()

	manual, err := s.EnsureCompany(ctx, models.Company{Ticker: "acme", Name: "Acme Industries"})
	require.NoError(t, err)
	imported, err := s.EnsureCompany(ctx, models.Company{Ticker: "ACME", Name: "ACME"})
	require.NoError(t, err)

	assert.Equal(t, manual.ID, imported.ID)
	assert.Equal(t, "acme", imported.Ticker, "first writer keeps its spelling")

	got, err := s.GetCompanyByTicker(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, manual.ID, got.ID)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Companies)
}
