package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
)

var codeReplacer = strings.NewReplacer(
	"&", "AND",
	"%", "PERCENT",
	"(", "",
	")", "",
	"/", "_",
	"-", "_",
	" ", "_",
)

// NormalizeCode derives a metric code from its display name.
func NormalizeCode(name string) string {
	return codeReplacer.Replace(strings.ToUpper(name))
}

// ResolveMetric returns the metric for a label, creating it under categoryCode
// if no metric has the derived code yet. An existing metric keeps its name
// and category.
func ResolveMetric(ctx context.Context, refs store.ReferenceStore, label, categoryCode string) (*models.Metric, error) {
	category, err := refs.GetMetricCategory(ctx, categoryCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: metric category %q is not seeded", ErrConfiguration, categoryCode)
		}
		return nil, fmt.Errorf("looking up category %s: %w", categoryCode, err)
	}
	return refs.EnsureMetric(ctx, models.Metric{
		Code:       NormalizeCode(label),
		Name:       label,
		CategoryID: category.ID,
	})
}

// resolver memoises metric and period lookups for a single import. It must
// not outlive the transaction it was built on.
type resolver struct {
	refs    store.ReferenceStore
	metrics map[string]*models.Metric
	periods map[periodCacheKey]*models.TimePeriod
}

func newResolver(refs store.ReferenceStore) *resolver {
	return &resolver{
		refs:    refs,
		metrics: map[string]*models.Metric{},
		periods: map[periodCacheKey]*models.TimePeriod{},
	}
}

func (r *resolver) metric(ctx context.Context, label, categoryCode string) (*models.Metric, error) {
	key := categoryCode + "\x00" + label
	if m, ok := r.metrics[key]; ok {
		return m, nil
	}
	m, err := ResolveMetric(ctx, r.refs, label, categoryCode)
	if err != nil {
		return nil, err
	}
	r.metrics[key] = m
	return m, nil
}

func (r *resolver) period(ctx context.Context, f Fact) (*models.TimePeriod, error) {
	key, err := PeriodKeyFor(f.Period, f.Kind)
	if err != nil {
		return nil, err
	}
	ck := periodCacheKey{year: key.Year, kind: key.Kind}
	if key.Quarter != nil {
		ck.quarter = *key.Quarter
	}
	if p, ok := r.periods[ck]; ok {
		return p, nil
	}
	p, err := r.refs.EnsureTimePeriod(ctx, key)
	if err != nil {
		return nil, err
	}
	r.periods[ck] = p
	return p, nil
}

type periodCacheKey struct {
	year, quarter int
	kind          models.PeriodKind
}
