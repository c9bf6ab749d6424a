package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/mauv0809/screener/internal/store"
)

// quarterByMonth maps a quarter's closing month to its fiscal quarter.
// The fiscal year runs April to March.
var quarterByMonth = map[time.Month]int{
	time.June:      1,
	time.September: 2,
	time.December:  3,
	time.March:     4,
}

// PeriodKeyFor converts a report date into the fiscal period it closes.
// Annual periods and the fourth quarter belong to the previous year.
func PeriodKeyFor(date time.Time, kind models.PeriodKind) (models.PeriodKey, error) {
	switch kind {
	case models.PeriodAnnual:
		return models.PeriodKey{Year: date.Year() - 1, Kind: kind}, nil
	case models.PeriodQuarterly:
		quarter, ok := quarterByMonth[date.Month()]
		if !ok {
			return models.PeriodKey{}, fmt.Errorf("%w: invalid quarter month %d in %s", ErrMalformedInput, int(date.Month()), date.Format("2006-01-02"))
		}
		year := date.Year()
		if quarter == 4 {
			year--
		}
		return models.PeriodKey{Year: year, Quarter: &quarter, Kind: kind}, nil
	}
	return models.PeriodKey{}, fmt.Errorf("%w: invalid report kind %q", ErrMalformedInput, kind)
}

// ResolvePeriod returns the time period for a report date, creating it if absent.
func ResolvePeriod(ctx context.Context, refs store.ReferenceStore, date time.Time, kind models.PeriodKind) (*models.TimePeriod, error) {
	key, err := PeriodKeyFor(date, kind)
	if err != nil {
		return nil, err
	}
	return refs.EnsureTimePeriod(ctx, key)
}
