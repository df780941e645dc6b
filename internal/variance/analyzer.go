package variance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Threshold maps |variance %| strictly below Below to Impact
type Threshold struct {
	Below  decimal.Decimal
	Impact domain.Impact
}

// Analyzer classifies book vs external differences with a threshold table.
// Percentages above every threshold are high impact.
type Analyzer struct {
	thresholds []Threshold
}

// DefaultThresholds returns the low / medium cutoffs as a table
func DefaultThresholds(lowPercent, mediumPercent float64) []Threshold {
	return []Threshold{
		{Below: decimal.NewFromFloat(lowPercent), Impact: domain.ImpactLow},
		{Below: decimal.NewFromFloat(mediumPercent), Impact: domain.ImpactMedium},
	}
}

func NewAnalyzer(thresholds []Threshold) (*Analyzer, error) {
	table := append([]Threshold(nil), thresholds...)
	sort.SliceStable(table, func(i, j int) bool { return table[i].Below.LessThan(table[j].Below) })
	for _, t := range table {
		if t.Below.IsNegative() {
			return nil, fmt.Errorf("threshold for %s impact is negative", t.Impact)
		}
	}
	return &Analyzer{thresholds: table}, nil
}

// Analyze compares the external balance against the book balance.
// variance = external - book, expressed in minor units.
func (a *Analyzer) Analyze(accountID string, bookBalance, externalBalance int64, unmatchedCount int) domain.VarianceEntry {
	variance := externalBalance - bookBalance
	percentage := Percentage(variance, bookBalance)

	return domain.VarianceEntry{
		AccountID:          accountID,
		ExpectedAmount:     bookBalance,
		ActualAmount:       externalBalance,
		Variance:           variance,
		VariancePercentage: percentage.Round(2),
		Impact:             a.Classify(variance, bookBalance, percentage),
		ReasonCode:         ReasonCode(variance, unmatchedCount),
		UnmatchedCount:     unmatchedCount,
	}
}

// Classify derives the impact from the unrounded percentage.
// A difference against a zero expected amount has no percentage and is high impact.
func (a *Analyzer) Classify(variance, expected int64, percentage decimal.Decimal) domain.Impact {
	if variance == 0 {
		return domain.ImpactLow
	}
	if expected == 0 {
		return domain.ImpactHigh
	}
	abs := percentage.Abs()
	for _, t := range a.thresholds {
		if abs.LessThan(t.Below) {
			return t.Impact
		}
	}
	return domain.ImpactHigh
}

// Percentage returns variance / expected * 100, or zero when expected is zero
func Percentage(variance, expected int64) decimal.Decimal {
	if expected == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(variance).Mul(hundred).Div(decimal.NewFromInt(expected))
}

func ReasonCode(variance int64, unmatchedCount int) string {
	switch {
	case variance == 0 && unmatchedCount == 0:
		return domain.ReasonBalanced
	case variance == 0:
		return domain.ReasonOffsettingRecords
	case unmatchedCount > 0:
		return domain.ReasonUnmatchedRecords
	default:
		return domain.ReasonBalanceMismatch
	}
}
