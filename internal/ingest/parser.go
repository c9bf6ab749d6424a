package ingest

import (
	"iter"
	"strings"
	"time"

	"github.com/mauv0809/screener/internal/models"
	"github.com/shopspring/decimal"
)

// Fact is one value read from a statement section.
type Fact struct {
	Category string
	Kind     models.PeriodKind
	Metric   string // metric label as written in the sheet
	Period   time.Time
	Value    decimal.Decimal
}

type section struct {
	Category string
	Kind     models.PeriodKind
}

var sections = map[string]section{
	"PROFIT & LOSS": {Category: models.CategoryPNL, Kind: models.PeriodAnnual},
	"QUARTERS":      {Category: models.CategoryPNL, Kind: models.PeriodQuarterly},
	"BALANCE SHEET": {Category: models.CategoryBS, Kind: models.PeriodAnnual},
	"CASH FLOW:":    {Category: models.CategoryCF, Kind: models.PeriodAnnual},
}

var ignoredSections = map[string]bool{
	"META":     true,
	"PRICE:":   true,
	"DERIVED:": true,
	"RATIOS":   true,
	"TRENDS":   true,
}

const (
	reportDateHeader = "REPORT DATE"
	totalRow         = "TOTAL"
)

type parserState int

const (
	stateScanning parserState = iota
	stateSectionOpen
	stateEmitting
)

func (s parserState) String() string {
	switch s {
	case stateScanning:
		return "scanning"
	case stateSectionOpen:
		return "section-open"
	case stateEmitting:
		return "emitting"
	}
	return "unknown"
}

// parser walks a grid row by row. Column 0 drives every transition.
type parser struct {
	state   parserState
	current section
	periods []Cell
}

// Parse yields the facts of every recognised section in row order.
// Facts are produced lazily; stopping the iteration stops the parse.
func Parse(grid Grid) iter.Seq[Fact] {
	return func(yield func(Fact) bool) {
		p := &parser{}
		for _, row := range grid {
			if !p.row(row, yield) {
				return
			}
		}
	}
}

// row applies one row. It returns false once the consumer stops.
func (p *parser) row(row []Cell, yield func(Fact) bool) bool {
	if len(row) == 0 {
		return true
	}
	label := row[0].Label()
	if label == "" {
		return true
	}
	header := strings.ToUpper(label)

	if ignoredSections[header] {
		p.close()
		return true
	}
	if s, ok := sections[header]; ok {
		p.open(s)
		return true
	}

	switch p.state {
	case stateScanning:
		return true
	case stateSectionOpen, stateEmitting:
		if header == reportDateHeader {
			p.periods = append([]Cell(nil), row[1:]...)
			if len(p.periods) > 0 {
				p.state = stateEmitting
			}
			return true
		}
	}

	if p.state != stateEmitting || header == totalRow {
		return true
	}

	for i, period := range p.periods {
		date, ok := period.Date()
		if !ok {
			continue
		}
		col := i + 1
		if col >= len(row) {
			break
		}
		value, ok := row[col].Decimal()
		if !ok {
			continue
		}
		fact := Fact{
			Category: p.current.Category,
			Kind:     p.current.Kind,
			Metric:   label,
			Period:   date,
			Value:    value,
		}
		if !yield(fact) {
			return false
		}
	}
	return true
}

func (p *parser) open(s section) {
	p.state = stateSectionOpen
	p.current = s
	p.periods = nil
}

func (p *parser) close() {
	p.state = stateScanning
	p.current = section{}
	p.periods = nil
}
