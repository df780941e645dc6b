package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// CSVStatementParser implements a streaming CSV parser
type CSVStatementParser struct {
	opts Options
}

func NewCSVStatementParser(opts Options) *CSVStatementParser {
	return &CSVStatementParser{opts: opts}
}

// Parse reads the CSV row by row; bad rows become PARSE_ERRORs and parsing continues
func (p *CSVStatementParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	// Read header
	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.NewStructuralError("empty file", nil)
	}
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to read CSV header")
		return nil, &domain.StructuralError{Reason: "unreadable header", Line: 1, Err: err}
	}

	columnMap := mapColumns(header)
	if err := validateColumns(columnMap, p.opts); err != nil {
		return nil, err
	}

	decoder := newRowDecoder(p.opts, func(col string) bool {
		_, ok := columnMap[col]
		return ok
	})

	result := &Result{}
	lineNumber := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNumber++

		if lineNumber%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var parseErr *csv.ParseError
		if err != nil {
			if !errors.As(err, &parseErr) {
				return nil, &domain.StructuralError{Reason: "unreadable file", Line: lineNumber, Err: err}
			}
			logger.GetLogger().WithError(err).WithField("line", lineNumber).Warn("Failed to read CSV row, skipping")
			result.Rows++
			result.Errors = append(result.Errors, domain.ImportError{
				Kind:    domain.KindParseError,
				Stage:   domain.ImportParsing,
				Row:     lineNumber,
				Message: fmt.Sprintf("malformed row: %v", parseErr.Err),
			})
			continue
		}

		if isBlank(record) {
			continue
		}

		result.Rows++
		if p.opts.MaxRows > 0 && result.Rows > p.opts.MaxRows {
			return nil, rowCeilingError(p.opts.MaxRows)
		}

		rec, rowErr := decoder.decode(func(col string) string {
			idx, ok := columnMap[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}, lineNumber)
		if rowErr != nil {
			logger.GetLogger().WithField("line", lineNumber).Warn(rowErr.Message)
			result.Errors = append(result.Errors, *rowErr)
			continue
		}

		result.Records = append(result.Records, rec)
	}

	return result, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if field != "" {
			return false
		}
	}
	return true
}
