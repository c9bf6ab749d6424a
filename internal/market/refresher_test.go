package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/mauv0809/screener/internal/store/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	quotes  map[string]*Quote
	history map[string][]Bar
	since   time.Time
}

func (f *fakeSource) GetQuote(ctx context.Context, ticker string) (*Quote, error) {
	q, ok := f.quotes[ticker]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrEmptyQuote, ticker)
	}
	return q, nil
}

func (f *fakeSource) GetDailyBar(ctx context.Context, ticker string) (*Bar, error) {
	bars := f.history[ticker]
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrEmptyQuote, ticker)
	}
	return &bars[len(bars)-1], nil
}

func (f *fakeSource) GetHistory(ctx context.Context, ticker string, since time.Time) ([]Bar, error) {
	f.since = since
	bars, ok := f.history[ticker]
	if !ok {
		return nil, fmt.Errorf("no history for %s", ticker)
	}
	return bars, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func companies(t *testing.T, s *memstore.Store, tickers ...string) map[string]models.Company {
	t.Helper()
	out := map[string]models.Company{}
	for _, ticker := range tickers {
		c, err := s.EnsureCompany(context.Background(), models.Company{Ticker: ticker, Name: ticker, Active: true})
		require.NoError(t, err)
		out[ticker] = *c
	}
	return out
}

func TestRefreshSnapshotsContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cs := companies(t, s, "AAA", "BBB", "CCC")

	yield := d("1.5")
	src := &fakeSource{quotes: map[string]*Quote{
		"AAA": {Price: d("100")},
		"CCC": {Price: d("300"), DividendYield: &yield},
	}}
	r := NewRefresher(s, src)

	res, err := r.RefreshSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobSnapshot, res.Job)
	assert.Equal(t, 2, res.Processed)
	require.Contains(t, res.Failed, "BBB")
	assert.Contains(t, res.Failed["BBB"], "empty quote")

	snap, err := s.GetMarketSnapshot(ctx, cs["AAA"].ID)
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(d("100")))

	_, err = s.GetMarketSnapshot(ctx, cs["BBB"].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	snap, err = s.GetMarketSnapshot(ctx, cs["CCC"].ID)
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(d("300")))
}

func TestRefreshSnapshotKeepsOldSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cs := companies(t, s, "AAA")

	src := &fakeSource{quotes: map[string]*Quote{"AAA": {Price: d("100")}}}
	r := NewRefresher(s, src)
	require.NoError(t, r.RefreshSnapshot(ctx, cs["AAA"]))

	delete(src.quotes, "AAA")
	assert.ErrorIs(t, r.RefreshSnapshot(ctx, cs["AAA"]), ErrEmptyQuote)

	snap, err := s.GetMarketSnapshot(ctx, cs["AAA"].ID)
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(d("100")))
}

func TestBackfillHistoryIgnoresKnownDates(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cs := companies(t, s, "AAA")

	src := &fakeSource{history: map[string][]Bar{
		"AAA": {
			{Date: day(2024, 1, 2), Close: d("10"), Volume: 100},
			{Date: day(2024, 1, 3), Close: d("11"), Volume: 110},
		},
	}}
	since := day(2000, 1, 1)
	r := NewRefresher(s, src, WithHistorySince(since))

	n, err := r.BackfillHistory(ctx, cs["AAA"])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, since, src.since)

	src.history["AAA"] = append(src.history["AAA"], Bar{Date: day(2024, 1, 4), Close: d("12"), Volume: 120})
	n, err = r.BackfillHistory(ctx, cs["AAA"])
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.ListHistory(ctx, cs["AAA"].ID, day(1900, 1, 1))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[2].ClosingPrice.Equal(d("12")))
}

func TestWeeklyUpdateAppendsLatestBar(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cs := companies(t, s, "AAA", "BBB")

	src := &fakeSource{history: map[string][]Bar{
		"AAA": {
			{Date: day(2024, 1, 2), Close: d("10")},
			{Date: day(2024, 1, 5), Close: d("13"), Volume: 50},
		},
	}}
	r := NewRefresher(s, src)

	res, err := r.WeeklyUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Contains(t, res.Failed, "BBB")

	rows, err := s.ListHistory(ctx, cs["AAA"].ID, day(2024, 1, 1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, day(2024, 1, 5), rows[0].Date)
	assert.Equal(t, int64(50), rows[0].Volume)
}

func TestBatchSkipsInactiveCompanies(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	cs := companies(t, s, "AAA", "OLD")
	require.NoError(t, s.SetCompanyActive(ctx, cs["OLD"].ID, false))

	src := &fakeSource{history: map[string][]Bar{"AAA": {{Date: day(2024, 1, 2), Close: d("10")}}}}
	res, err := NewRefresher(s, src).BackfillHistories(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Failed)
}
