package feed

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

// ErrSchemaDrift means the listing page was reachable but its markup no
// longer matches the expected table layout.
var ErrSchemaDrift = errors.New("listing markup does not match the expected table layout")

// TimestampLayout is the listing's day-first "DD/MM/YYYY HH:MM" format.
const TimestampLayout = "02/01/2006 15:04"

// Listing columns, in page order.
const (
	colStatus = iota
	colTimestamp
	colType
	colID
	colOperator
	colDescription
	colAddress
	columnCount
)

// Parser extracts incident records from the listing's HTML table.
type Parser struct {
	rowSelector string
	openMarker  string
	location    *time.Location
}

// NewParser creates a parser. rowSelector picks listing rows; a row is open
// when its first cell contains an element matching openMarker. Timestamps are
// interpreted in location.
func NewParser(rowSelector, openMarker string, location *time.Location) *Parser {
	if location == nil {
		location = time.UTC
	}
	return &Parser{rowSelector: rowSelector, openMarker: openMarker, location: location}
}

// ParseResult holds the parsed rows and the number of malformed rows dropped.
type ParseResult struct {
	Records []domain.IncidentRecord
	Skipped int
}

// Parse reads the listing HTML. Rows without table cells (headers) are
// ignored; rows with too few cells, an unparseable timestamp, or no id are
// skipped and counted. ErrSchemaDrift is returned, together with the partial
// result, when the row selector matches nothing, when no full-width row parses,
// or when multi-cell rows exist but none is full width (a column was removed).
// A lone single-cell row, such as a colspan "no data" notice, is not drift.
func (p *Parser) Parse(r io.Reader) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ParseResult{}, fmt.Errorf("parse listing html: %w", err)
	}

	rows := doc.Find(p.rowSelector)
	if rows.Length() == 0 {
		return ParseResult{}, fmt.Errorf("%w: selector %q matched no rows", ErrSchemaDrift, p.rowSelector)
	}

	var (
		res       ParseResult
		fullWidth int
		narrow    int
	)
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		switch n := cells.Length(); {
		case n == 0:
			return
		case n < columnCount:
			if n > 1 {
				narrow++
			}
			res.Skipped++
			return
		}

		fullWidth++
		rec, ok := p.parseRow(cells)
		if !ok {
			res.Skipped++
			return
		}
		res.Records = append(res.Records, rec)
	})

	if fullWidth == 0 && narrow > 0 {
		return res, fmt.Errorf("%w: %d rows have fewer than %d cells", ErrSchemaDrift, narrow, columnCount)
	}
	if fullWidth > 0 && len(res.Records) == 0 {
		return res, fmt.Errorf("%w: none of %d rows parsed", ErrSchemaDrift, fullWidth)
	}
	return res, nil
}

func (p *Parser) parseRow(cells *goquery.Selection) (domain.IncidentRecord, bool) {
	text := func(i int) string {
		return strings.Join(strings.Fields(cells.Eq(i).Text()), " ")
	}

	occurredAt, err := time.ParseInLocation(TimestampLayout, text(colTimestamp), p.location)
	if err != nil {
		return domain.IncidentRecord{}, false
	}
	id := text(colID)
	if id == "" {
		return domain.IncidentRecord{}, false
	}

	status := domain.StatusClosed
	if cells.Eq(colStatus).Find(p.openMarker).Length() > 0 {
		status = domain.StatusOpen
	}

	return domain.IncidentRecord{
		ID:          id,
		OccurredAt:  occurredAt,
		Type:        text(colType),
		OperatorID:  text(colOperator),
		Description: text(colDescription),
		Address:     text(colAddress),
		Status:      status,
	}, true
}
