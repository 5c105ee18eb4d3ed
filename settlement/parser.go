/*
parser.go - Settlement file normalization

PURPOSE:
  Turns an uploaded settlement file (XLSX or delimited text) into a
  canonical row shape. External files arrive with unpredictable column
  naming ("Monto", "TOTAL", "valor"...) and locale-formatted values, so
  each logical field is resolved by trying an ordered list of header
  aliases case-insensitively, amounts are parsed locale-tolerantly, and
  dates permissively - including spreadsheet serial-date integers.

ROW FILTERING:
  Rows whose amount parses to <= 0 are discarded before matching.
  Unparseable dates fall back to "now" rather than rejecting the row;
  the raw row is kept verbatim for audit and manual reconciliation.

ERRORS:
  Unreadable files and files missing the required columns fail before any
  matching, with detected column names included to aid diagnosis.
*/
package settlement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Row is one normalized settlement entry. Raw keeps the original cells
// keyed by header for audit display.
type Row struct {
	Date    time.Time
	Amount  decimal.Decimal
	Project string
	Unit    string
	Raw     map[string]string
}

// ErrUnreadableFile is returned when the file cannot be decoded at all.
var ErrUnreadableFile = errors.New("unreadable settlement file")

// MissingColumnsError reports which logical fields could not be resolved,
// alongside the column names actually present in the file.
type MissingColumnsError struct {
	Missing  []string
	Detected []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns %v (detected: %v)", e.Missing, e.Detected)
}

// Header aliases per logical field, tried in order, case-insensitive.
var (
	dateAliases    = []string{"fecha contrato", "fecha_contrato", "fechacontrato", "contract date", "fecha", "date"}
	amountAliases  = []string{"monto", "total", "valor", "amount", "importe"}
	projectAliases = []string{"proyecto", "edificio", "building", "project"}
	unitAliases    = []string{"unidad", "unit", "numero", "codigo", "code"}
)

// excelEpochOffset is the day count between the spreadsheet epoch
// (1899-12-30, as serialized) and 1970-01-01.
const excelEpochOffset = 25569

// Parser normalizes settlement files. Now is overridable for tests and is
// the fallback for unparseable dates.
type Parser struct {
	Now func() time.Time
}

func NewParser() *Parser {
	return &Parser{Now: time.Now}
}

// Parse decodes a settlement file into normalized rows. filename selects
// the decoding path: ".csv" (or ".txt") is treated as delimited text,
// everything else as a spreadsheet.
func (p *Parser) Parse(filename string, data []byte) ([]Row, error) {
	var records [][]string
	var err error

	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".txt") {
		records, err = readCSV(data)
	} else {
		records, err = readXLSX(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: file has no rows", ErrUnreadableFile)
	}

	header := records[0]
	cols := resolveColumns(header)
	if len(cols.missing) > 0 {
		return nil, &MissingColumnsError{Missing: cols.missing, Detected: header}
	}

	var rows []Row
	for _, record := range records[1:] {
		raw := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				raw[h] = record[i]
			}
		}

		amount := parseAmount(cell(record, cols.amount))
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		date := p.Now()
		if cols.date >= 0 {
			if d, ok := parseDate(cell(record, cols.date)); ok {
				date = d
			}
		}

		rows = append(rows, Row{
			Date:    date,
			Amount:  amount,
			Project: strings.TrimSpace(cell(record, cols.project)),
			Unit:    strings.TrimSpace(cell(record, cols.unit)),
			Raw:     raw,
		})
	}
	return rows, nil
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

// columnIndexes holds the resolved position of each logical field.
// date is optional (-1 when absent); the rest are required.
type columnIndexes struct {
	date, amount, project, unit int
	missing                     []string
}

func resolveColumns(header []string) columnIndexes {
	find := func(aliases []string) int {
		for _, alias := range aliases {
			for i, h := range header {
				if strings.EqualFold(strings.TrimSpace(h), alias) {
					return i
				}
			}
		}
		return -1
	}

	cols := columnIndexes{
		date:    find(dateAliases),
		amount:  find(amountAliases),
		project: find(projectAliases),
		unit:    find(unitAliases),
	}
	if cols.amount < 0 {
		cols.missing = append(cols.missing, "amount")
	}
	if cols.project < 0 {
		cols.missing = append(cols.missing, "project")
	}
	if cols.unit < 0 {
		cols.missing = append(cols.missing, "unit")
	}
	return cols
}

func readCSV(data []byte) ([][]string, error) {
	// Strip a UTF-8 BOM; exports from spreadsheet tools often carry one.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.Comma = sniffDelimiter(data)
	return r.ReadAll()
}

// sniffDelimiter picks the delimiter with the most occurrences in the
// first line; regional CSV exports commonly use semicolons.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// parseAmount reads a locale-tolerant number: currency symbols and spaces
// are stripped, and both "1.234,56" and "1,234.56" conventions are
// handled. Unparseable values return zero (the row is then discarded).
func parseAmount(s string) decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if cleaned == "" {
		return decimal.Zero
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator appears last is the decimal mark.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		// A lone comma is a decimal mark when followed by 1-2 digits,
		// a thousands separator otherwise.
		if len(cleaned)-lastComma-1 <= 2 && strings.Count(cleaned, ",") == 1 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastDot >= 0:
		// Same heuristic for dots: "2.500.000" is thousands-grouped,
		// "1500.50" is already a canonical decimal.
		if len(cleaned)-lastDot-1 > 2 || strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"2/1/2006",
	"01/02/2006 15:04",
}

// parseDate reads a date permissively. Bare numbers are spreadsheet serial
// dates: epoch + (serial - 25569) days.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		// Plausible serial range: years ~1970-2200.
		if serial > excelEpochOffset && serial < 110000 {
			secs := (serial - excelEpochOffset) * 86400
			return time.Unix(int64(secs), 0).UTC(), true
		}
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
