package variance_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/variance"
)

func newAnalyzer(t *testing.T) *variance.Analyzer {
	a, err := variance.NewAnalyzer(variance.DefaultThresholds(0.5, 2))
	require.NoError(t, err)
	return a
}

func TestAnalyze_SmallVarianceIsLow(t *testing.T) {
	a := newAnalyzer(t)

	entry := a.Analyze("ACC-1", 1248750, 1250000, 0)

	assert.Equal(t, int64(1250), entry.Variance)
	assert.Equal(t, int64(1248750), entry.ExpectedAmount)
	assert.Equal(t, int64(1250000), entry.ActualAmount)
	assert.True(t, entry.VariancePercentage.Equal(decimal.RequireFromString("0.1")), entry.VariancePercentage.String())
	assert.Equal(t, domain.ImpactLow, entry.Impact)
	assert.Equal(t, domain.ReasonBalanceMismatch, entry.ReasonCode)
}

func TestAnalyze_ImpactBands(t *testing.T) {
	a := newAnalyzer(t)

	tests := []struct {
		name     string
		book     int64
		external int64
		want     domain.Impact
	}{
		{"balanced", 100000, 100000, domain.ImpactLow},
		{"just under low cutoff", 100000, 100499, domain.ImpactLow},
		{"at low cutoff", 100000, 100500, domain.ImpactMedium},
		{"negative medium", 100000, 98500, domain.ImpactMedium},
		{"at medium cutoff", 100000, 102000, domain.ImpactHigh},
		{"large", 100000, 150000, domain.ImpactHigh},
		{"zero book", 0, 10, domain.ImpactHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Analyze("ACC-1", tt.book, tt.external, 0).Impact)
		})
	}
}

func TestAnalyze_ClassifiesOnUnroundedPercentage(t *testing.T) {
	a := newAnalyzer(t)

	// 0.4996% rounds to 0.50 for display but is still below the low cutoff
	entry := a.Analyze("ACC-1", 1000000, 1004996, 0)
	assert.Equal(t, "0.5", entry.VariancePercentage.String())
	assert.Equal(t, domain.ImpactLow, entry.Impact)
}

func TestAnalyze_ZeroExpectedHasZeroPercentage(t *testing.T) {
	a := newAnalyzer(t)

	entry := a.Analyze("ACC-1", 0, 500, 1)
	assert.True(t, entry.VariancePercentage.IsZero())
	assert.Equal(t, domain.ReasonUnmatchedRecords, entry.ReasonCode)
}

func TestReasonCode(t *testing.T) {
	assert.Equal(t, domain.ReasonBalanced, variance.ReasonCode(0, 0))
	assert.Equal(t, domain.ReasonOffsettingRecords, variance.ReasonCode(0, 2))
	assert.Equal(t, domain.ReasonUnmatchedRecords, variance.ReasonCode(10, 1))
	assert.Equal(t, domain.ReasonBalanceMismatch, variance.ReasonCode(-10, 0))
}

func TestNewAnalyzer_CustomTable(t *testing.T) {
	a, err := variance.NewAnalyzer([]variance.Threshold{
		{Below: decimal.NewFromInt(10), Impact: domain.ImpactMedium},
		{Below: decimal.NewFromInt(1), Impact: domain.ImpactLow},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ImpactLow, a.Analyze("A", 1000, 1005, 0).Impact)
	assert.Equal(t, domain.ImpactMedium, a.Analyze("A", 1000, 1050, 0).Impact)
	assert.Equal(t, domain.ImpactHigh, a.Analyze("A", 1000, 1200, 0).Impact)

	_, err = variance.NewAnalyzer([]variance.Threshold{{Below: decimal.NewFromInt(-1), Impact: domain.ImpactLow}})
	assert.Error(t, err)
}
