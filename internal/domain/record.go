package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction encodes the sign of a CanonicalRecord amount
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// ParseDirection accepts the spellings found in bank exports (CREDIT, CR, C, DEBIT, DR, D)
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREDIT", "CR", "C":
		return Credit, nil
	case "DEBIT", "DR", "D":
		return Debit, nil
	}
	return "", fmt.Errorf("invalid direction: %q", s)
}

// CanonicalRecord is the normalized representation of one imported transaction.
// Amount is a minor-unit integer and is expected to be positive; Direction carries the sign.
type CanonicalRecord struct {
	SourceID            string    `json:"source_id"`
	Row                 int       `json:"row"`
	Date                time.Time `json:"date"`
	Amount              int64     `json:"amount"`
	Direction           Direction `json:"direction"`
	Description         string    `json:"description"`
	ExternalAccountRef  string    `json:"external_account_ref"`
	ExternalVoucherType string    `json:"external_voucher_type,omitempty"`
	Reference           string    `json:"reference,omitempty"`

	// Resolved by the mapping stage.
	AccountID   string `json:"account_id,omitempty"`
	VoucherType string `json:"voucher_type,omitempty"`

	// Set once the record has been committed as a posting.
	ImportID string `json:"import_id,omitempty"`
}

// SignedAmount returns the amount with credits positive and debits negative
func (r CanonicalRecord) SignedAmount() int64 {
	if r.Direction == Debit {
		return -r.Amount
	}
	return r.Amount
}

// Key identifies the record across imports. Records that were never committed fall back to SourceID.
func (r CanonicalRecord) Key() string {
	if r.ImportID == "" {
		return r.SourceID
	}
	return r.ImportID + "/" + r.SourceID
}

// DateOf strips the time component, keeping the calendar date in UTC
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b
func DaysBetween(a, b time.Time) int {
	diff := DateOf(a).Sub(DateOf(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// ToMinorUnits converts a decimal amount to an integer count of minor units.
// Amounts carrying more fractional digits than the currency exponent are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal, exponent int32) (int64, error) {
	shifted := amount.Shift(exponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), exponent)
	}
	if !shifted.Abs().LessThanOrEqual(decimal.NewFromInt(maxMinorUnits)) {
		return 0, fmt.Errorf("amount %s is out of range", amount.String())
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits converts minor units back to a decimal for display
func FromMinorUnits(minor int64, exponent int32) decimal.Decimal {
	return decimal.New(minor, -exponent)
}

const maxMinorUnits = 1<<62 - 1
