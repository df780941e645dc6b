package parser

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

// XMLStatementParser reads statements of the form
//
//	<statement account="ACC-1">
//	  <transaction><sourceId/><date/><amount/><direction/><description/>
//	    <account/><voucherType/><reference/></transaction>
//	</statement>
//
// A malformed document is a structural error; bad field values are row errors.
type XMLStatementParser struct {
	opts Options
}

func NewXMLStatementParser(opts Options) *XMLStatementParser {
	return &XMLStatementParser{opts: opts}
}

type xmlTransaction struct {
	SourceID    *string `xml:"sourceId"`
	Date        string  `xml:"date"`
	Amount      string  `xml:"amount"`
	Direction   *string `xml:"direction"`
	Description string  `xml:"description"`
	Account     string  `xml:"account"`
	VoucherType string  `xml:"voucherType"`
	Reference   string  `xml:"reference"`
}

func (t xmlTransaction) get(col string) string {
	switch col {
	case colSourceID:
		if t.SourceID != nil {
			return *t.SourceID
		}
	case colDate:
		return t.Date
	case colAmount:
		return t.Amount
	case colDirection:
		if t.Direction != nil {
			return *t.Direction
		}
	case colDescription:
		return t.Description
	case colAccount:
		return t.Account
	case colVoucherType:
		return t.VoucherType
	case colReference:
		return t.Reference
	}
	return ""
}

func (p *XMLStatementParser) Parse(ctx context.Context, r io.Reader) (*Result, error) {
	dec := xml.NewDecoder(r)
	opts := p.opts
	result := &Result{}
	sawRoot := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			line, _ := dec.InputPos()
			return nil, &domain.StructuralError{Reason: "malformed XML", Line: line, Err: err}
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch strings.ToLower(start.Name.Local) {
		case "statement":
			sawRoot = true
			for _, attr := range start.Attr {
				if attr.Name.Local == "account" && strings.TrimSpace(attr.Value) != "" {
					opts.DefaultAccountRef = strings.TrimSpace(attr.Value)
				}
			}
		case "transaction", "entry":
			line, _ := dec.InputPos()
			var tx xmlTransaction
			if err := dec.DecodeElement(&tx, &start); err != nil {
				return nil, &domain.StructuralError{Reason: "malformed XML", Line: line, Err: err}
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			result.Rows++
			if opts.MaxRows > 0 && result.Rows > opts.MaxRows {
				return nil, rowCeilingError(opts.MaxRows)
			}

			decoder := newRowDecoder(opts, func(col string) bool {
				switch col {
				case colSourceID:
					return tx.SourceID != nil
				case colDirection:
					return tx.Direction != nil
				}
				return true
			})
			rec, rowErr := decoder.decode(tx.get, line)
			if rowErr != nil {
				result.Errors = append(result.Errors, *rowErr)
				continue
			}
			result.Records = append(result.Records, rec)
		}
	}

	if !sawRoot && result.Rows == 0 {
		return nil, domain.NewStructuralError("no statement element found", nil)
	}
	return result, nil
}
