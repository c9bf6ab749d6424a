package ingest

import "errors"

var (
	// ErrMalformedInput marks spreadsheets the importer cannot interpret:
	// unreadable workbooks, a missing data sheet, or periods that fall outside
	// the fiscal calendar.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConfiguration means reference data the importer depends on is missing,
	// usually because the metric category seed never ran.
	ErrConfiguration = errors.New("configuration error")
)
