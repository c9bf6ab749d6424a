// Package memstore is an in-process store.Store. Transactions run one at a
// time against a copy of the data that replaces the committed state on success.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/shopspring/decimal"
)

type valueKey struct {
	companyID, metricID, periodID int64
}

type state struct {
	nextID       int64
	companies    map[int64]models.Company
	categories   map[string]models.MetricCategory
	metrics      map[string]models.Metric
	periods      map[int64]models.TimePeriod
	values       map[valueKey]models.FinancialValue
	fundamentals map[int64]models.CompanyFundamental
	snapshots    map[int64]models.CompanyMarketSnapshot
	history      map[int64]map[time.Time]models.CompanyHistory
}

func newState() *state {
	return &state{
		companies:    map[int64]models.Company{},
		categories:   map[string]models.MetricCategory{},
		metrics:      map[string]models.Metric{},
		periods:      map[int64]models.TimePeriod{},
		values:       map[valueKey]models.FinancialValue{},
		fundamentals: map[int64]models.CompanyFundamental{},
		snapshots:    map[int64]models.CompanyMarketSnapshot{},
		history:      map[int64]map[time.Time]models.CompanyHistory{},
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:       s.nextID,
		companies:    maps.Clone(s.companies),
		categories:   maps.Clone(s.categories),
		metrics:      maps.Clone(s.metrics),
		periods:      maps.Clone(s.periods),
		values:       maps.Clone(s.values),
		fundamentals: maps.Clone(s.fundamentals),
		snapshots:    maps.Clone(s.snapshots),
		history:      make(map[int64]map[time.Time]models.CompanyHistory, len(s.history)),
	}
	for id, days := range s.history {
		c.history[id] = maps.Clone(days)
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type shared struct {
	txMu  sync.Mutex // held by the single writer
	mu    sync.Mutex // guards committed
	state *state
}

// Store is safe for concurrent use.
type Store struct {
	sh *shared
	tx *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{sh: &shared{state: newState()}}
}

func (m *Store) read(fn func(s *state) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	m.sh.mu.Lock()
	defer m.sh.mu.Unlock()
	return fn(m.sh.state)
}

// write outside a transaction behaves as an autocommitted single statement.
func (m *Store) write(fn func(s *state) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	m.sh.txMu.Lock()
	defer m.sh.txMu.Unlock()
	m.sh.mu.Lock()
	defer m.sh.mu.Unlock()
	return fn(m.sh.state)
}

func (m *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if m.tx != nil {
		return fn(m)
	}

	m.sh.txMu.Lock()
	defer m.sh.txMu.Unlock()

	m.sh.mu.Lock()
	working := m.sh.state.clone()
	m.sh.mu.Unlock()

	if err := fn(&Store{sh: m.sh, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.sh.mu.Lock()
	m.sh.state = working
	m.sh.mu.Unlock()
	return nil
}

// LockCompany is a no-op: transactions are already serialised.
func (m *Store) LockCompany(ctx context.Context, ticker string) error {
	return nil
}

func (m *Store) GetCompanyByTicker(ctx context.Context, ticker string) (*models.Company, error) {
	var out *models.Company
	err := m.read(func(s *state) error {
		for _, c := range s.companies {
			if strings.EqualFold(c.Ticker, ticker) {
				out = &c
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (m *Store) EnsureCompany(ctx context.Context, c models.Company) (*models.Company, error) {
	var out *models.Company
	err := m.write(func(s *state) error {
		for _, existing := range s.companies {
			if strings.EqualFold(existing.Ticker, c.Ticker) {
				out = &existing
				return nil
			}
		}
		for _, existing := range s.companies {
			if existing.Name == c.Name {
				return fmt.Errorf("ensuring company %s: name %q already taken by %s", c.Ticker, c.Name, existing.Ticker)
			}
		}
		now := time.Now()
		c.ID = s.id()
		c.CreatedAt, c.UpdatedAt = now, now
		s.companies[c.ID] = c
		out = &c
		return nil
	})
	return out, err
}

func (m *Store) ListActiveCompanies(ctx context.Context) ([]models.Company, error) {
	var out []models.Company
	err := m.read(func(s *state) error {
		for _, c := range s.companies {
			if c.Active {
				out = append(out, c)
			}
		}
		return nil
	})
	sortByTicker(out)
	return out, err
}

func (m *Store) SearchCompanies(ctx context.Context, q string, limit int) ([]models.Company, error) {
	needle := strings.ToLower(q)
	var out []models.Company
	err := m.read(func(s *state) error {
		for _, c := range s.companies {
			if strings.Contains(strings.ToLower(c.Name), needle) || strings.Contains(strings.ToLower(c.Ticker), needle) {
				out = append(out, c)
			}
		}
		return nil
	})
	sortByTicker(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (m *Store) SetCompanyActive(ctx context.Context, companyID int64, active bool) error {
	return m.write(func(s *state) error {
		c, ok := s.companies[companyID]
		if !ok {
			return store.ErrNotFound
		}
		c.Active = active
		c.UpdatedAt = time.Now()
		s.companies[companyID] = c
		return nil
	})
}

func sortByTicker(companies []models.Company) {
	slices.SortFunc(companies, func(a, b models.Company) int { return strings.Compare(a.Ticker, b.Ticker) })
}

func (m *Store) GetMetricCategory(ctx context.Context, code string) (*models.MetricCategory, error) {
	var out *models.MetricCategory
	err := m.read(func(s *state) error {
		c, ok := s.categories[code]
		if !ok {
			return store.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (m *Store) SeedMetricCategories(ctx context.Context, categories []models.MetricCategory) error {
	return m.write(func(s *state) error {
		for _, c := range categories {
			if _, ok := s.categories[c.Code]; ok {
				continue
			}
			c.ID = s.id()
			s.categories[c.Code] = c
		}
		return nil
	})
}

func (m *Store) EnsureMetric(ctx context.Context, metric models.Metric) (*models.Metric, error) {
	var out *models.Metric
	err := m.write(func(s *state) error {
		if existing, ok := s.metrics[metric.Code]; ok {
			out = &existing
			return nil
		}
		var category *models.MetricCategory
		for _, c := range s.categories {
			if c.ID == metric.CategoryID {
				category = &c
				break
			}
		}
		if category == nil {
			return fmt.Errorf("ensuring metric %s: category %d does not exist", metric.Code, metric.CategoryID)
		}
		metric.ID = s.id()
		metric.CategoryCode = category.Code
		s.metrics[metric.Code] = metric
		out = &metric
		return nil
	})
	return out, err
}

func (m *Store) GetMetricByCode(ctx context.Context, code string) (*models.Metric, error) {
	var out *models.Metric
	err := m.read(func(s *state) error {
		metric, ok := s.metrics[code]
		if !ok {
			return store.ErrNotFound
		}
		out = &metric
		return nil
	})
	return out, err
}

func (m *Store) ListMetricsByCategory(ctx context.Context, categoryCode string) ([]models.Metric, error) {
	var out []models.Metric
	err := m.read(func(s *state) error {
		for _, metric := range s.metrics {
			if metric.CategoryCode == categoryCode {
				out = append(out, metric)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.Metric) int { return int(a.ID - b.ID) })
	return out, err
}

func (m *Store) EnsureTimePeriod(ctx context.Context, key models.PeriodKey) (*models.TimePeriod, error) {
	var out *models.TimePeriod
	err := m.write(func(s *state) error {
		for _, p := range s.periods {
			if p.PeriodKey.Equal(key) {
				out = &p
				return nil
			}
		}
		p := models.TimePeriod{ID: s.id(), PeriodKey: key}
		s.periods[p.ID] = p
		out = &p
		return nil
	})
	return out, err
}

func (m *Store) UpsertFinancialValue(ctx context.Context, v models.FinancialValue) error {
	return m.write(func(s *state) error {
		if _, ok := s.companies[v.CompanyID]; !ok {
			return fmt.Errorf("upserting financial value: company %d does not exist", v.CompanyID)
		}
		if _, ok := s.periods[v.TimePeriodID]; !ok {
			return fmt.Errorf("upserting financial value: time period %d does not exist", v.TimePeriodID)
		}
		k := valueKey{v.CompanyID, v.MetricID, v.TimePeriodID}
		if existing, ok := s.values[k]; ok {
			v.ID = existing.ID
		} else {
			v.ID = s.id()
		}
		s.values[k] = v
		return nil
	})
}

// comparePeriods orders most recent first: year desc, annual before quarters, quarter desc.
func comparePeriods(a, b models.TimePeriod) int {
	if a.Year != b.Year {
		return b.Year - a.Year
	}
	switch {
	case a.Quarter == nil && b.Quarter == nil:
		return 0
	case a.Quarter == nil:
		return -1
	case b.Quarter == nil:
		return 1
	}
	return *b.Quarter - *a.Quarter
}

func (m *Store) LatestValue(ctx context.Context, companyID, metricID int64) (*decimal.Decimal, error) {
	var out *decimal.Decimal
	err := m.read(func(s *state) error {
		var best *models.TimePeriod
		for k, v := range s.values {
			if k.companyID != companyID || k.metricID != metricID {
				continue
			}
			p := s.periods[k.periodID]
			if best == nil || comparePeriods(p, *best) < 0 {
				best = &p
				out = &v.Value
			}
		}
		return nil
	})
	return out, err
}

func (m *Store) AnnualValue(ctx context.Context, companyID, metricID int64, year int) (*decimal.Decimal, error) {
	var out *decimal.Decimal
	err := m.read(func(s *state) error {
		for k, v := range s.values {
			if k.companyID != companyID || k.metricID != metricID {
				continue
			}
			p := s.periods[k.periodID]
			if p.Kind == models.PeriodAnnual && p.Year == year {
				out = &v.Value
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (m *Store) RecentPeriods(ctx context.Context, companyID int64, kind models.PeriodKind, limit int) ([]models.TimePeriod, error) {
	var out []models.TimePeriod
	err := m.read(func(s *state) error {
		seen := map[int64]bool{}
		for k := range s.values {
			p := s.periods[k.periodID]
			if k.companyID != companyID || p.Kind != kind || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
		return nil
	})
	slices.SortFunc(out, comparePeriods)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (m *Store) ListFinancialValues(ctx context.Context, companyID int64, metricIDs, periodIDs []int64) ([]models.FinancialValue, error) {
	var out []models.FinancialValue
	err := m.read(func(s *state) error {
		for k, v := range s.values {
			if k.companyID == companyID && slices.Contains(metricIDs, k.metricID) && slices.Contains(periodIDs, k.periodID) {
				out = append(out, v)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.FinancialValue) int { return int(a.ID - b.ID) })
	return out, err
}

func (m *Store) UpsertFundamental(ctx context.Context, f models.CompanyFundamental) error {
	return m.write(func(s *state) error {
		if _, ok := s.companies[f.CompanyID]; !ok {
			return fmt.Errorf("upserting fundamentals: company %d does not exist", f.CompanyID)
		}
		f.UpdatedAt = time.Now()
		s.fundamentals[f.CompanyID] = f
		return nil
	})
}

func (m *Store) GetFundamental(ctx context.Context, companyID int64) (*models.CompanyFundamental, error) {
	var out *models.CompanyFundamental
	err := m.read(func(s *state) error {
		f, ok := s.fundamentals[companyID]
		if !ok {
			return store.ErrNotFound
		}
		out = &f
		return nil
	})
	return out, err
}

func (m *Store) UpsertMarketSnapshot(ctx context.Context, snap models.CompanyMarketSnapshot) error {
	return m.write(func(s *state) error {
		if _, ok := s.companies[snap.CompanyID]; !ok {
			return fmt.Errorf("upserting market snapshot: company %d does not exist", snap.CompanyID)
		}
		if prev, ok := s.snapshots[snap.CompanyID]; ok && snap.DividendYield == nil {
			snap.DividendYield = prev.DividendYield
		}
		snap.UpdatedAt = time.Now()
		s.snapshots[snap.CompanyID] = snap
		return nil
	})
}

func (m *Store) GetMarketSnapshot(ctx context.Context, companyID int64) (*models.CompanyMarketSnapshot, error) {
	var out *models.CompanyMarketSnapshot
	err := m.read(func(s *state) error {
		snap, ok := s.snapshots[companyID]
		if !ok {
			return store.ErrNotFound
		}
		out = &snap
		return nil
	})
	return out, err
}

func (m *Store) AppendHistory(ctx context.Context, rows []models.CompanyHistory) (int, error) {
	inserted := 0
	err := m.write(func(s *state) error {
		for _, h := range rows {
			if _, ok := s.companies[h.CompanyID]; !ok {
				return fmt.Errorf("appending history: company %d does not exist", h.CompanyID)
			}
			day := truncateDay(h.Date)
			days := s.history[h.CompanyID]
			if days == nil {
				days = map[time.Time]models.CompanyHistory{}
				s.history[h.CompanyID] = days
			}
			if _, ok := days[day]; ok {
				continue
			}
			h.Date = day
			days[day] = h
			inserted++
		}
		return nil
	})
	return inserted, err
}

func (m *Store) ListHistory(ctx context.Context, companyID int64, since time.Time) ([]models.CompanyHistory, error) {
	var out []models.CompanyHistory
	from := truncateDay(since)
	err := m.read(func(s *state) error {
		for day, h := range s.history[companyID] {
			if !day.Before(from) {
				out = append(out, h)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.CompanyHistory) int { return a.Date.Compare(b.Date) })
	return out, err
}

func (m *Store) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	err := m.read(func(s *state) error {
		c.Companies = len(s.companies)
		c.Metrics = len(s.metrics)
		c.TimePeriods = len(s.periods)
		c.FinancialValues = len(s.values)
		c.Fundamentals = len(s.fundamentals)
		c.Snapshots = len(s.snapshots)
		for _, days := range s.history {
			c.HistoryRows += len(days)
		}
		return nil
	})
	return c, err
}

func truncateDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
