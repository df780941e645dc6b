package parser

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// XLSXStatementParser reads the first sheet of a workbook; the first row is the header
type XLSXStatementParser struct {
	opts Options
}

func NewXLSXStatementParser(opts Options) *XLSXStatementParser {
	return &XLSXStatementParser{opts: opts}
}

func (p *XLSXStatementParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to open workbook")
		return nil, domain.NewStructuralError("unreadable workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.NewStructuralError("workbook has no sheets", nil)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, domain.NewStructuralError("unreadable sheet "+sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, domain.NewStructuralError("empty file", nil)
	}

	columnMap := mapColumns(rows[0])
	if err := validateColumns(columnMap, p.opts); err != nil {
		return nil, err
	}

	decoder := newRowDecoder(p.opts, func(col string) bool {
		_, ok := columnMap[col]
		return ok
	})
	decoder.parseDate = parseCellDate

	result := &Result{}
	for i, cells := range rows[1:] {
		lineNumber := i + 2
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isBlank(cells) {
			continue
		}

		result.Rows++
		if p.opts.MaxRows > 0 && result.Rows > p.opts.MaxRows {
			return nil, rowCeilingError(p.opts.MaxRows)
		}

		rec, rowErr := decoder.decode(func(col string) string {
			idx, ok := columnMap[col]
			// GetRows trims trailing empty cells
			if !ok || idx >= len(cells) {
				return ""
			}
			return cells[idx]
		}, lineNumber)
		if rowErr != nil {
			logger.GetLogger().WithField("row", lineNumber).Warn(rowErr.Message)
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

// parseCellDate accepts Excel serial dates as well as text dates
func parseCellDate(s string) (time.Time, error) {
	if !strings.ContainsAny(s, "-/: ") {
		if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
			return excelize.ExcelDateToTime(serial, false)
		}
	}
	return parseDate(s)
}
