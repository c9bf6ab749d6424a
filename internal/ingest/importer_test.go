package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/mauv0809/screener/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFundamentals struct {
	calls []string
	err   error
}

func (f *fakeFundamentals) Generate(ctx context.Context, c models.Company) (*models.CompanyFundamental, error) {
	f.calls = append(f.calls, c.Ticker)
	if f.err != nil {
		return nil, f.err
	}
	return &models.CompanyFundamental{CompanyID: c.ID}, nil
}

type fakeHistory struct {
	rows int
	err  error
}

func (f *fakeHistory) BackfillHistory(ctx context.Context, c models.Company) (int, error) {
	return f.rows, f.err
}

var acmeRows = [][]any{
	{"PROFIT & LOSS"},
	{"REPORT DATE", date(2020, 3, 31), date(2021, 3, 31)},
	{"Sales", 100, 120},
	{"TOTAL", 999, 999},
}

func salesValues(t *testing.T, s *memstore.Store, ticker string) map[int]string {
	t.Helper()
	ctx := context.Background()

	company, err := s.GetCompanyByTicker(ctx, ticker)
	require.NoError(t, err)
	sales, err := s.GetMetricByCode(ctx, "SALES")
	require.NoError(t, err)
	periods, err := s.RecentPeriods(ctx, company.ID, models.PeriodAnnual, 0)
	require.NoError(t, err)

	out := map[int]string{}
	for _, p := range periods {
		v, err := s.AnnualValue(ctx, company.ID, sales.ID, p.Year)
		require.NoError(t, err)
		if v != nil {
			out[p.Year] = v.String()
		}
	}
	return out
}

func TestImportEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	fund := &fakeFundamentals{}
	imp := NewImporter(s, fund, WithHistory(&fakeHistory{rows: 3}))

	res, err := imp.Import(ctx, workbook(t, DataSheet, acmeRows), " acme ")
	require.NoError(t, err)

	assert.Equal(t, "ACME", res.Company.Ticker)
	assert.Equal(t, "ACME", res.Company.Name)
	assert.Equal(t, "nse", res.Company.Exchange)
	assert.Equal(t, "Unknown", res.Company.Sector)
	assert.Equal(t, 2000, res.Company.ListingDate.Year())
	assert.True(t, res.Company.Active)
	assert.Equal(t, 2, res.Facts)
	assert.Equal(t, 3, res.HistoryRows)
	assert.NotEmpty(t, res.ImportID)
	assert.Equal(t, []string{"ACME"}, fund.calls)

	assert.Equal(t, map[int]string{2019: "100", 2020: "120"}, salesValues(t, s, "ACME"))

	_, err = s.GetMetricByCode(ctx, "TOTAL")
	assert.ErrorIs(t, err, store.ErrNotFound)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Companies)
	assert.Equal(t, 2, counts.FinancialValues)
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	imp := NewImporter(s, nil)

	_, err := imp.Import(ctx, workbook(t, DataSheet, acmeRows), "ACME")
	require.NoError(t, err)
	before, err := s.Counts(ctx)
	require.NoError(t, err)

	_, err = imp.Import(ctx, workbook(t, DataSheet, acmeRows), "acme")
	require.NoError(t, err)
	after, err := s.Counts(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, map[int]string{2019: "100", 2020: "120"}, salesValues(t, s, "ACME"))
}

func TestImportOverwritesValues(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	imp := NewImporter(s, nil)

	_, err := imp.Import(ctx, workbook(t, DataSheet, acmeRows), "ACME")
	require.NoError(t, err)

	revised := [][]any{
		{"PROFIT & LOSS"},
		{"REPORT DATE", date(2021, 3, 31)},
		{"Sales", 125},
	}
	_, err = imp.Import(ctx, workbook(t, DataSheet, revised), "ACME")
	require.NoError(t, err)

	assert.Equal(t, map[int]string{2019: "100", 2020: "125"}, salesValues(t, s, "ACME"))
}

func TestImportRollsBackOnBadQuarter(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	fund := &fakeFundamentals{}
	imp := NewImporter(s, fund)

	rows := [][]any{
		{"PROFIT & LOSS"},
		{"REPORT DATE", date(2021, 3, 31)},
		{"Sales", 100},
		{"QUARTERS"},
		{"REPORT DATE", date(2020, 6, 30), date(2020, 5, 31)},
		{"Sales", 20, 25},
	}
	_, err := imp.Import(ctx, workbook(t, DataSheet, rows), "ACME")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Empty(t, fund.calls, "post-import steps do not run")

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Companies)
	assert.Zero(t, counts.FinancialValues)
	assert.Zero(t, counts.Metrics)
	assert.Zero(t, counts.TimePeriods)
}

func TestImportUnseededCategoryIsConfigurationError(t *testing.T) {
	s := memstore.New()
	imp := NewImporter(s, nil)

	_, err := imp.Import(context.Background(), workbook(t, DataSheet, acmeRows), "ACME")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Companies)
}

func TestImportRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	imp := NewImporter(s, nil)

	_, err := imp.Import(ctx, workbook(t, "Sheet1", acmeRows), "ACME")
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = imp.Import(ctx, workbook(t, DataSheet, acmeRows), "   ")
	assert.ErrorIs(t, err, ErrMalformedInput)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Companies)
}

func TestImportReportsPostImportFailures(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	fund := &fakeFundamentals{err: errors.New("ratio store down")}
	imp := NewImporter(s, fund, WithHistory(&fakeHistory{err: errors.New("market unavailable")}))

	res, err := imp.Import(ctx, workbook(t, DataSheet, acmeRows), "ACME")
	require.NoError(t, err, "the import itself is committed")
	assert.EqualError(t, res.FundamentalsErr, "ratio store down")
	assert.EqualError(t, res.HistoryErr, "market unavailable")

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.FinancialValues)
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	imp := NewImporter(s, nil)

	path := filepath.Join(t.TempDir(), "acme.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, DataSheet, acmeRows).Bytes(), 0o600))

	res, err := imp.ImportFile(ctx, path, "ACME")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Facts)

	_, err = imp.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.xlsx"), "ACME")
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConcurrentImportsShareReferenceData(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	imp := NewImporter(s, nil)

	tickers := []string{"ACME", "BETA", "GAMMA", "DELTA", "acme", "beta", "gamma", "delta"}
	books := make([]*bytes.Buffer, len(tickers))
	for i := range tickers {
		books[i] = workbook(t, DataSheet, acmeRows)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(tickers))
	for i, ticker := range tickers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = imp.Import(ctx, books[i], ticker)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, tickers[i])
	}

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Companies)
	assert.Equal(t, 1, counts.Metrics)
	assert.Equal(t, 2, counts.TimePeriods)
	assert.Equal(t, 8, counts.FinancialValues)

	for _, ticker := range tickers[:4] {
		assert.Equal(t, map[int]string{2019: "100", 2020: "120"}, salesValues(t, s, ticker))
	}
}
