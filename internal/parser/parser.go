package parser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

// StatementParser turns a raw statement into CanonicalRecords.
// Row problems are collected in Result.Errors; a returned error is always a *domain.StructuralError
// or a context error.
type StatementParser interface {
	Parse(ctx context.Context, r io.Reader) (*Result, error)
}

// Options bounds and parameterizes parsing
type Options struct {
	MaxRows          int
	CurrencyExponent int32
	// DefaultAccountRef is used when the file has no account column (single-account statements).
	DefaultAccountRef string
}

// Result holds the parsed records and the row-level errors
type Result struct {
	Records []domain.CanonicalRecord
	Errors  []domain.ImportError
	Rows    int
}

// New returns the parser for the declared format
func New(format domain.FileFormat, opts Options) (StatementParser, error) {
	switch domain.FileFormat(strings.ToUpper(string(format))) {
	case domain.FormatCSV:
		return NewCSVStatementParser(opts), nil
	case domain.FormatXLSX:
		return NewXLSXStatementParser(opts), nil
	case domain.FormatXML:
		return NewXMLStatementParser(opts), nil
	}
	return nil, domain.NewStructuralError(fmt.Sprintf("unsupported file format %q", format), nil)
}

const (
	colSourceID    = "source_id"
	colDate        = "date"
	colAmount      = "amount"
	colDirection   = "direction"
	colDescription = "description"
	colAccount     = "account"
	colVoucherType = "voucher_type"
	colReference   = "reference"
)

var columnAliases = map[string]string{
	"source_id":            colSourceID,
	"id":                   colSourceID,
	"trx_ref_id":           colSourceID,
	"transaction_id":       colSourceID,
	"date":                 colDate,
	"value_date":           colDate,
	"transaction_date":     colDate,
	"amount":               colAmount,
	"direction":            colDirection,
	"type":                 colDirection,
	"dr_cr":                colDirection,
	"description":          colDescription,
	"narration":            colDescription,
	"details":              colDescription,
	"account":              colAccount,
	"account_ref":          colAccount,
	"account_number":       colAccount,
	"external_account_ref": colAccount,
	"voucher_type":         colVoucherType,
	"voucher":              colVoucherType,
	"reference":            colReference,
	"ref":                  colReference,
}

func mapColumns(header []string) map[string]int {
	columnMap := make(map[string]int)
	for i, col := range header {
		normalized := strings.ToLower(strings.TrimSpace(col))
		normalized = strings.ReplaceAll(normalized, " ", "_")
		normalized = strings.TrimPrefix(normalized, "\ufeff")
		if canonical, ok := columnAliases[normalized]; ok {
			if _, seen := columnMap[canonical]; !seen {
				columnMap[canonical] = i
			}
		}
	}
	return columnMap
}

func validateColumns(columnMap map[string]int, opts Options) error {
	var missing []string
	for _, col := range []string{colDate, colAmount} {
		if _, exists := columnMap[col]; !exists {
			missing = append(missing, col)
		}
	}
	if _, exists := columnMap[colAccount]; !exists && opts.DefaultAccountRef == "" {
		missing = append(missing, colAccount)
	}
	if len(missing) > 0 {
		return domain.NewStructuralError("missing required columns ("+strings.Join(missing, ", ")+")", nil)
	}
	return nil
}

// rowDecoder converts one row, addressed by canonical column name, into a CanonicalRecord
type rowDecoder struct {
	opts      Options
	hasColumn func(col string) bool
	parseDate func(s string) (time.Time, error)
}

func newRowDecoder(opts Options, hasColumn func(col string) bool) *rowDecoder {
	return &rowDecoder{opts: opts, hasColumn: hasColumn, parseDate: parseDate}
}

func (d *rowDecoder) decode(get func(col string) string, row int) (domain.CanonicalRecord, *domain.ImportError) {
	rec := domain.CanonicalRecord{Row: row}
	fail := func(field, format string, args ...interface{}) *domain.ImportError {
		return &domain.ImportError{
			Kind:     domain.KindParseError,
			Stage:    domain.ImportParsing,
			Row:      row,
			SourceID: rec.SourceID,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
		}
	}

	if d.hasColumn(colSourceID) {
		rec.SourceID = strings.TrimSpace(get(colSourceID))
		if rec.SourceID == "" {
			return rec, fail(colSourceID, "empty source_id at row %d", row)
		}
	} else {
		rec.SourceID = fmt.Sprintf("ROW-%d", row)
	}

	dateStr := strings.TrimSpace(get(colDate))
	date, err := d.parseDate(dateStr)
	if err != nil {
		return rec, fail(colDate, "invalid date '%s' at row %d", dateStr, row)
	}
	rec.Date = domain.DateOf(date)

	amountStr := normalizeAmount(get(colAmount))
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return rec, fail(colAmount, "invalid amount '%s' at row %d", amountStr, row)
	}
	minor, err := domain.ToMinorUnits(amount, d.opts.CurrencyExponent)
	if err != nil {
		return rec, fail(colAmount, "%v at row %d", err, row)
	}

	if d.hasColumn(colDirection) {
		direction, err := domain.ParseDirection(get(colDirection))
		if err != nil {
			return rec, fail(colDirection, "%v at row %d", err, row)
		}
		// Sign is kept so validation can reject non-positive amounts.
		rec.Direction = direction
		rec.Amount = minor
	} else if minor < 0 {
		rec.Direction = domain.Debit
		rec.Amount = -minor
	} else {
		rec.Direction = domain.Credit
		rec.Amount = minor
	}

	rec.Description = strings.TrimSpace(get(colDescription))
	rec.ExternalAccountRef = strings.TrimSpace(get(colAccount))
	if rec.ExternalAccountRef == "" {
		rec.ExternalAccountRef = d.opts.DefaultAccountRef
	}
	if rec.ExternalAccountRef == "" {
		return rec, fail(colAccount, "empty account at row %d", row)
	}
	rec.ExternalVoucherType = strings.TrimSpace(get(colVoucherType))
	rec.Reference = strings.TrimSpace(get(colReference))

	return rec, nil
}

// normalizeAmount strips thousands separators and accounting parentheses: "(1,250.00)" -> "-1250.00"
func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	return s
}

func parseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"02/01/2006",
		"01/02/2006",
		"2006/01/02",
		"02-Jan-2006",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

func rowCeilingError(max int) error {
	return domain.NewStructuralError(fmt.Sprintf("file has more than %d rows", max), domain.ErrRowCeilingExceeded)
}
