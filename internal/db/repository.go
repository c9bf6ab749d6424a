package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository is the PostgreSQL implementation of store.Store.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Create-if-absent upserts rely on
// that level: ON CONFLICT DO UPDATE returns rows committed by concurrent writers.
func (r *Repository) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&Repository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LockCompany takes a transaction-scoped advisory lock keyed on the ticker.
func (r *Repository) LockCompany(ctx context.Context, ticker string) error {
	if !r.inTx {
		return nil
	}
	if _, err := r.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('company:' || UPPER($1)))", ticker); err != nil {
		return fmt.Errorf("locking company %s: %w", ticker, err)
	}
	return nil
}

const companyColumns = `id, ticker, name, exchange, sector, industry, listing_date, active, created_at, updated_at`

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	err := row.Scan(&c.ID, &c.Ticker, &c.Name, &c.Exchange, &c.Sector, &c.Industry,
		&c.ListingDate, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repository) GetCompanyByTicker(ctx context.Context, ticker string) (*models.Company, error) {
	return scanCompany(r.q.QueryRow(ctx,
		"SELECT "+companyColumns+" FROM companies WHERE UPPER(ticker) = UPPER($1)", ticker))
}

func (r *Repository) EnsureCompany(ctx context.Context, c models.Company) (*models.Company, error) {
	company, err := scanCompany(r.q.QueryRow(ctx, `
		INSERT INTO companies (ticker, name, exchange, sector, industry, listing_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ((UPPER(ticker))) DO UPDATE SET ticker = companies.ticker
		RETURNING `+companyColumns,
		c.Ticker, c.Name, c.Exchange, c.Sector, c.Industry, c.ListingDate, c.Active))
	if err != nil {
		return nil, fmt.Errorf("ensuring company %s: %w", c.Ticker, err)
	}
	return company, nil
}

func (r *Repository) ListActiveCompanies(ctx context.Context) ([]models.Company, error) {
	return r.queryCompanies(ctx, "SELECT "+companyColumns+" FROM companies WHERE active = true ORDER BY ticker")
}

func (r *Repository) SearchCompanies(ctx context.Context, q string, limit int) ([]models.Company, error) {
	return r.queryCompanies(ctx, `
		SELECT `+companyColumns+` FROM companies
		WHERE name ILIKE '%' || $1 || '%' OR ticker ILIKE '%' || $1 || '%'
		ORDER BY ticker
		LIMIT $2`, escapeLike(q), limit)
}

func (r *Repository) SetCompanyActive(ctx context.Context, companyID int64, active bool) error {
	tag, err := r.q.Exec(ctx, "UPDATE companies SET active = $2, updated_at = NOW() WHERE id = $1", companyID, active)
	if err != nil {
		return fmt.Errorf("updating company %d: %w", companyID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) queryCompanies(ctx context.Context, query string, args ...any) ([]models.Company, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *c)
	}
	return companies, rows.Err()
}

func (r *Repository) GetMetricCategory(ctx context.Context, code string) (*models.MetricCategory, error) {
	var c models.MetricCategory
	err := r.q.QueryRow(ctx, "SELECT id, code, name FROM metric_categories WHERE code = $1", code).
		Scan(&c.ID, &c.Code, &c.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repository) SeedMetricCategories(ctx context.Context, categories []models.MetricCategory) error {
	batch := &pgx.Batch{}
	for _, c := range categories {
		batch.Queue(`INSERT INTO metric_categories (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`, c.Code, c.Name)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for range categories {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("seeding metric category: %w", err)
		}
	}
	return nil
}

const metricSelect = `
	SELECT m.id, m.code, m.name, m.category_id, c.code, m.formula
	FROM metrics m JOIN metric_categories c ON c.id = m.category_id`

func scanMetric(row pgx.Row) (*models.Metric, error) {
	var m models.Metric
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.CategoryID, &m.CategoryCode, &m.Formula); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *Repository) EnsureMetric(ctx context.Context, m models.Metric) (*models.Metric, error) {
	metric, err := scanMetric(r.q.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO metrics (code, name, category_id, formula)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
			RETURNING id, code, name, category_id, formula
		)
		SELECT m.id, m.code, m.name, m.category_id, c.code, m.formula
		FROM m JOIN metric_categories c ON c.id = m.category_id`,
		m.Code, m.Name, m.CategoryID, m.Formula))
	if err != nil {
		return nil, fmt.Errorf("ensuring metric %s: %w", m.Code, err)
	}
	return metric, nil
}

func (r *Repository) GetMetricByCode(ctx context.Context, code string) (*models.Metric, error) {
	return scanMetric(r.q.QueryRow(ctx, metricSelect+" WHERE m.code = $1", code))
}

func (r *Repository) ListMetricsByCategory(ctx context.Context, categoryCode string) ([]models.Metric, error) {
	rows, err := r.q.Query(ctx, metricSelect+" WHERE c.code = $1 ORDER BY m.id", categoryCode)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, *m)
	}
	return metrics, rows.Err()
}

func scanPeriod(row pgx.Row) (*models.TimePeriod, error) {
	var p models.TimePeriod
	var kind string
	if err := row.Scan(&p.ID, &p.Year, &p.Quarter, &kind); err != nil {
		return nil, notFound(err)
	}
	p.Kind = models.PeriodKind(kind)
	return &p, nil
}

func (r *Repository) EnsureTimePeriod(ctx context.Context, key models.PeriodKey) (*models.TimePeriod, error) {
	period, err := scanPeriod(r.q.QueryRow(ctx, `
		INSERT INTO time_periods (year, quarter, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (year, quarter, kind) DO UPDATE SET year = EXCLUDED.year
		RETURNING id, year, quarter, kind`,
		key.Year, key.Quarter, string(key.Kind)))
	if err != nil {
		return nil, fmt.Errorf("ensuring time period %d/%v/%s: %w", key.Year, key.Quarter, key.Kind, err)
	}
	return period, nil
}

func (r *Repository) UpsertFinancialValue(ctx context.Context, v models.FinancialValue) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO financial_values (company_id, metric_id, time_period_id, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (company_id, metric_id, time_period_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`,
		v.CompanyID, v.MetricID, v.TimePeriodID, v.Value)
	if err != nil {
		return fmt.Errorf("upserting financial value: %w", err)
	}
	return nil
}

func (r *Repository) LatestValue(ctx context.Context, companyID, metricID int64) (*decimal.Decimal, error) {
	return r.queryValue(ctx, `
		SELECT fv.value FROM financial_values fv
		JOIN time_periods tp ON tp.id = fv.time_period_id
		WHERE fv.company_id = $1 AND fv.metric_id = $2
		ORDER BY tp.year DESC, tp.quarter DESC NULLS FIRST
		LIMIT 1`, companyID, metricID)
}

func (r *Repository) AnnualValue(ctx context.Context, companyID, metricID int64, year int) (*decimal.Decimal, error) {
	return r.queryValue(ctx, `
		SELECT fv.value FROM financial_values fv
		JOIN time_periods tp ON tp.id = fv.time_period_id
		WHERE fv.company_id = $1 AND fv.metric_id = $2 AND tp.kind = 'annual' AND tp.year = $3`,
		companyID, metricID, year)
}

func (r *Repository) queryValue(ctx context.Context, query string, args ...any) (*decimal.Decimal, error) {
	var v decimal.NullDecimal
	err := r.q.QueryRow(ctx, query, args...).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying value: %w", err)
	}
	return nullDecimal(v), nil
}

func (r *Repository) RecentPeriods(ctx context.Context, companyID int64, kind models.PeriodKind, limit int) ([]models.TimePeriod, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT tp.id, tp.year, tp.quarter, tp.kind
		FROM time_periods tp
		JOIN financial_values fv ON fv.time_period_id = tp.id
		WHERE fv.company_id = $1 AND tp.kind = $2
		ORDER BY tp.year DESC, tp.quarter DESC NULLS FIRST
		LIMIT NULLIF($3, 0)`, companyID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("querying periods: %w", err)
	}
	defer rows.Close()

	var periods []models.TimePeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func (r *Repository) ListFinancialValues(ctx context.Context, companyID int64, metricIDs, periodIDs []int64) ([]models.FinancialValue, error) {
	if len(metricIDs) == 0 || len(periodIDs) == 0 {
		return nil, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, company_id, metric_id, time_period_id, value
		FROM financial_values
		WHERE company_id = $1 AND metric_id = ANY($2) AND time_period_id = ANY($3)
		  AND value IS NOT NULL`, companyID, metricIDs, periodIDs)
	if err != nil {
		return nil, fmt.Errorf("querying financial values: %w", err)
	}
	defer rows.Close()

	var values []models.FinancialValue
	for rows.Next() {
		var v models.FinancialValue
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.MetricID, &v.TimePeriodID, &v.Value); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *Repository) UpsertFundamental(ctx context.Context, f models.CompanyFundamental) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO company_fundamentals (
			company_id, revenue, operating_margin, net_margin,
			roe, roce, debt_to_equity, sales_cagr_5y, profit_cagr_5y, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (company_id) DO UPDATE SET
			revenue = EXCLUDED.revenue,
			operating_margin = EXCLUDED.operating_margin,
			net_margin = EXCLUDED.net_margin,
			roe = EXCLUDED.roe,
			roce = EXCLUDED.roce,
			debt_to_equity = EXCLUDED.debt_to_equity,
			sales_cagr_5y = EXCLUDED.sales_cagr_5y,
			profit_cagr_5y = EXCLUDED.profit_cagr_5y,
			updated_at = NOW()`,
		f.CompanyID, decimalPtr(f.Revenue), decimalPtr(f.OperatingMargin), decimalPtr(f.NetMargin),
		decimalPtr(f.ROE), decimalPtr(f.ROCE), decimalPtr(f.DebtToEquity),
		decimalPtr(f.SalesCAGR5Y), decimalPtr(f.ProfitCAGR5Y))
	if err != nil {
		return fmt.Errorf("upserting fundamentals: %w", err)
	}
	return nil
}

func (r *Repository) GetFundamental(ctx context.Context, companyID int64) (*models.CompanyFundamental, error) {
	var f models.CompanyFundamental
	var revenue, opm, npm, roe, roce, de, salesCAGR, profitCAGR decimal.NullDecimal
	err := r.q.QueryRow(ctx, `
		SELECT company_id, revenue, operating_margin, net_margin, roe, roce,
		       debt_to_equity, sales_cagr_5y, profit_cagr_5y, updated_at
		FROM company_fundamentals WHERE company_id = $1`, companyID).
		Scan(&f.CompanyID, &revenue, &opm, &npm, &roe, &roce, &de, &salesCAGR, &profitCAGR, &f.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	f.Revenue = nullDecimal(revenue)
	f.OperatingMargin = nullDecimal(opm)
	f.NetMargin = nullDecimal(npm)
	f.ROE = nullDecimal(roe)
	f.ROCE = nullDecimal(roce)
	f.DebtToEquity = nullDecimal(de)
	f.SalesCAGR5Y = nullDecimal(salesCAGR)
	f.ProfitCAGR5Y = nullDecimal(profitCAGR)
	return &f, nil
}

func (r *Repository) UpsertMarketSnapshot(ctx context.Context, s models.CompanyMarketSnapshot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO company_market_snapshots (
			company_id, price, market_cap, pe, pb, dividend_yield, high_52w, low_52w, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (company_id) DO UPDATE SET
			price = EXCLUDED.price,
			market_cap = EXCLUDED.market_cap,
			pe = EXCLUDED.pe,
			pb = EXCLUDED.pb,
			dividend_yield = COALESCE(EXCLUDED.dividend_yield, company_market_snapshots.dividend_yield),
			high_52w = EXCLUDED.high_52w,
			low_52w = EXCLUDED.low_52w,
			updated_at = NOW()`,
		s.CompanyID, s.Price, decimalPtr(s.MarketCap), decimalPtr(s.PE), decimalPtr(s.PB),
		decimalPtr(s.DividendYield), decimalPtr(s.High52W), decimalPtr(s.Low52W))
	if err != nil {
		return fmt.Errorf("upserting market snapshot: %w", err)
	}
	return nil
}

func (r *Repository) GetMarketSnapshot(ctx context.Context, companyID int64) (*models.CompanyMarketSnapshot, error) {
	var s models.CompanyMarketSnapshot
	var marketCap, pe, pb, dy, high, low decimal.NullDecimal
	err := r.q.QueryRow(ctx, `
		SELECT company_id, price, market_cap, pe, pb, dividend_yield, high_52w, low_52w, updated_at
		FROM company_market_snapshots WHERE company_id = $1`, companyID).
		Scan(&s.CompanyID, &s.Price, &marketCap, &pe, &pb, &dy, &high, &low, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.MarketCap = nullDecimal(marketCap)
	s.PE = nullDecimal(pe)
	s.PB = nullDecimal(pb)
	s.DividendYield = nullDecimal(dy)
	s.High52W = nullDecimal(high)
	s.Low52W = nullDecimal(low)
	return &s, nil
}

// AppendHistory inserts daily rows, skipping dates already stored.
func (r *Repository) AppendHistory(ctx context.Context, history []models.CompanyHistory) (int, error) {
	if len(history) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, h := range history {
		batch.Queue(`
			INSERT INTO company_history (company_id, date, closing_price, volume)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (company_id, date) DO NOTHING`,
			h.CompanyID, h.Date, h.ClosingPrice, h.Volume)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	count := 0
	for range history {
		tag, err := br.Exec()
		if err != nil {
			return count, fmt.Errorf("appending history: %w", err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (r *Repository) ListHistory(ctx context.Context, companyID int64, since time.Time) ([]models.CompanyHistory, error) {
	rows, err := r.q.Query(ctx, `
		SELECT company_id, date, closing_price, volume FROM company_history
		WHERE company_id = $1 AND date >= $2
		ORDER BY date`, companyID, since)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var history []models.CompanyHistory
	for rows.Next() {
		var h models.CompanyHistory
		if err := rows.Scan(&h.CompanyID, &h.Date, &h.ClosingPrice, &h.Volume); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// Counts returns table sizes for the status endpoint.
func (r *Repository) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts
	err := r.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM companies),
			(SELECT COUNT(*) FROM metrics),
			(SELECT COUNT(*) FROM time_periods),
			(SELECT COUNT(*) FROM financial_values),
			(SELECT COUNT(*) FROM company_fundamentals),
			(SELECT COUNT(*) FROM company_market_snapshots),
			(SELECT COUNT(*) FROM company_history)`).
		Scan(&c.Companies, &c.Metrics, &c.TimePeriods, &c.FinancialValues, &c.Fundamentals, &c.Snapshots, &c.HistoryRows)
	if err != nil {
		return c, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}

// decimalPtr converts a *decimal.Decimal to interface{} for database insertion.
func decimalPtr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}

func nullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
