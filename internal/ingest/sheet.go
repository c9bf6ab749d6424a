package ingest

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// DataSheet is the only worksheet the importer reads.
const DataSheet = "Data Sheet"

// CellKind classifies a spreadsheet cell.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellDate
)

// Cell is one typed spreadsheet cell.
type Cell struct {
	Kind   CellKind
	Text   string // display text, trimmed
	Number decimal.Decimal
	Time   time.Time
}

// Grid is a worksheet as rows of cells. Rows may be ragged.
type Grid [][]Cell

func TextCell(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: CellText, Text: s}
}

func NumberCell(v float64) Cell {
	d := decimal.NewFromFloat(v)
	return Cell{Kind: CellNumber, Text: d.String(), Number: d}
}

func DateCell(t time.Time) Cell {
	return Cell{Kind: CellDate, Text: t.Format("2006-01-02"), Time: t}
}

// Label is the trimmed text the parser matches against headers.
func (c Cell) Label() string {
	return strings.TrimSpace(c.Text)
}

// Decimal returns the numeric value of the cell. Text that parses as a number
// counts; dates and empty cells do not.
func (c Cell) Decimal() (decimal.Decimal, bool) {
	switch c.Kind {
	case CellNumber:
		return c.Number, true
	case CellText:
		d, err := decimal.NewFromString(strings.ReplaceAll(c.Text, ",", ""))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

// Date returns the calendar date held by the cell.
func (c Cell) Date() (time.Time, bool) {
	switch c.Kind {
	case CellDate:
		return c.Time, true
	case CellText:
		if t := parseDateText(c.Text); t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}

// parseDateText accepts the ISO layouts spreadsheets export dates as text.
func parseDateText(s string) *time.Time {
	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}
	return nil
}

// LoadWorkbook reads the Data Sheet of an xlsx workbook into a Grid.
func LoadWorkbook(r io.Reader) (Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading workbook: %w", ErrMalformedInput, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(DataSheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: workbook has no %q sheet", ErrMalformedInput, DataSheet)
	}

	raw, err := f.GetRows(DataSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %w", ErrMalformedInput, DataSheet, err)
	}
	formatted, err := f.GetRows(DataSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %w", ErrMalformedInput, DataSheet, err)
	}

	l := &sheetLoader{f: f, dateStyles: map[int]bool{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		l.date1904 = *props.Date1904
	}

	grid := make(Grid, len(raw))
	for r, row := range raw {
		cells := make([]Cell, len(row))
		for c, value := range row {
			display := value
			if r < len(formatted) && c < len(formatted[r]) {
				display = formatted[r][c]
			}
			cells[c] = l.cell(c+1, r+1, value, display)
		}
		grid[r] = cells
	}
	return grid, nil
}

type sheetLoader struct {
	f          *excelize.File
	date1904   bool
	dateStyles map[int]bool
}

// cell types one raw value. col and row are 1-based.
func (l *sheetLoader) cell(col, row int, raw, display string) Cell {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cell{}
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return TextCell(display)
	}

	cellType, _ := l.f.GetCellType(DataSheet, axis)
	switch cellType {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeBool, excelize.CellTypeError:
		return TextCell(raw)
	case excelize.CellTypeDate:
		if t := parseDateText(raw); t != nil {
			return DateCell(*t)
		}
		return TextCell(display)
	}

	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return TextCell(raw)
	}
	if l.isDateStyled(axis) {
		if t, err := excelize.ExcelDateToTime(serial, l.date1904); err == nil {
			return DateCell(t)
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return TextCell(display)
	}
	return Cell{Kind: CellNumber, Text: strings.TrimSpace(display), Number: d}
}

func (l *sheetLoader) isDateStyled(axis string) bool {
	styleID, err := l.f.GetCellStyle(DataSheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	if isDate, ok := l.dateStyles[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := l.f.GetStyle(styleID); err == nil && style != nil {
		isDate = isDateNumFmt(style.NumFmt, style.CustomNumFmt)
	}
	l.dateStyles[styleID] = isDate
	return isDate
}

var (
	quotedLiteral = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]|\\.`)
	dateTokens    = regexp.MustCompile(`[yYdD]|[mM]{3,}`)
)

// isDateNumFmt reports whether an xlsx number format renders a date.
func isDateNumFmt(id int, custom *string) bool {
	switch {
	case id >= 14 && id <= 17, id == 22:
		return true
	case id >= 27 && id <= 36, id >= 50 && id <= 58:
		return true
	}
	if custom == nil {
		return false
	}
	format := quotedLiteral.ReplaceAllString(*custom, "")
	return dateTokens.MatchString(format)
}
