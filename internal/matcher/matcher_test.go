package matcher_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/matcher"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func newEngine() *matcher.Engine {
	return matcher.NewEngine(matcher.Config{DateToleranceDays: 3, RoundingTolerance: 5, ManualWindowDays: 31})
}

func record(id string, date time.Time, amount int64, dir domain.Direction, ref string) domain.CanonicalRecord {
	return domain.CanonicalRecord{
		SourceID:  id,
		Date:      date,
		Amount:    amount,
		Direction: dir,
		Reference: ref,
		AccountID: "ACC-1",
		ImportID:  "job-1",
	}
}

func entry(id string, date time.Time, amount int64, ref string) domain.LedgerEntry {
	return domain.LedgerEntry{ID: id, AccountID: "ACC-1", Date: date, Amount: amount, Reference: ref}
}

func TestMatch_ExactOnSameDateAmountReference(t *testing.T) {
	engine := newEngine()

	candidates := engine.Match(
		[]domain.CanonicalRecord{record("R1", day, 50000, domain.Credit, "INV-42")},
		[]domain.LedgerEntry{entry("E1", day, 50000, " inv-42 ")},
	)

	require.Len(t, candidates, 1)
	assert.Equal(t, domain.ConfidenceExact, candidates[0].Confidence)
	require.NotNil(t, candidates[0].LedgerEntryID)
	assert.Equal(t, "E1", *candidates[0].LedgerEntryID)
	assert.True(t, candidates[0].Accepted)
	assert.True(t, candidates[0].IsMatched())
	assert.Equal(t, "job-1/R1", candidates[0].ImportRecordID)
}

func TestMatch_Cascade(t *testing.T) {
	engine := newEngine()

	records := []domain.CanonicalRecord{
		record("R1", day, 1000, domain.Debit, ""),
		record("R2", day, 2003, domain.Credit, "X"),
		record("R3", day, 9999, domain.Credit, ""),
		record("R4", day.AddDate(0, 0, 1), 7000, domain.Credit, "Q"),
	}
	entries := []domain.LedgerEntry{
		entry("E1", day.AddDate(0, 0, 2), -1000, ""),
		entry("E2", day, 2000, "Y"),
		entry("E3", day.AddDate(0, 0, -10), 7000, "Q"),
	}

	candidates := engine.Match(records, entries)
	require.Len(t, candidates, 4)

	assert.Equal(t, domain.ConfidenceProbable, candidates[0].Confidence)
	assert.Equal(t, 2, candidates[0].DateDistanceDays)

	assert.Equal(t, domain.ConfidenceManual, candidates[1].Confidence)
	assert.False(t, candidates[1].Accepted)
	assert.False(t, candidates[1].IsMatched())
	assert.Equal(t, int64(3), candidates[1].AmountDifference)

	assert.Equal(t, domain.ConfidenceUnmatched, candidates[2].Confidence)
	assert.Nil(t, candidates[2].LedgerEntryID)

	// 11 days apart: out of the probable window, amount is equal so manual picks it up
	assert.Equal(t, domain.ConfidenceManual, candidates[3].Confidence)
}

func TestMatch_DirectionMustAgree(t *testing.T) {
	engine := newEngine()

	candidates := engine.Match(
		[]domain.CanonicalRecord{record("R1", day, 1000, domain.Credit, "")},
		[]domain.LedgerEntry{entry("E1", day, -1000, "")},
	)
	assert.Equal(t, domain.ConfidenceUnmatched, candidates[0].Confidence)
}

func TestMatch_UnmappedRecordsNeverMatch(t *testing.T) {
	engine := newEngine()
	r := record("R1", day, 1000, domain.Credit, "A")
	r.AccountID = ""

	candidates := engine.Match([]domain.CanonicalRecord{r}, []domain.LedgerEntry{entry("E1", day, 1000, "A")})
	assert.Equal(t, domain.ConfidenceUnmatched, candidates[0].Confidence)
}

func TestMatch_EntryConsumedOnce(t *testing.T) {
	engine := newEngine()

	records := []domain.CanonicalRecord{
		record("R1", day, 1000, domain.Credit, "A"),
		record("R2", day, 1000, domain.Credit, "A"),
		record("R3", day, 1000, domain.Credit, "A"),
	}
	entries := []domain.LedgerEntry{entry("E1", day, 1000, "A"), entry("E2", day, 1000, "B")}

	result := engine.Run(records, entries, matcher.Decisions{})
	used := map[string]int{}
	for _, c := range result.Candidates {
		if c.LedgerEntryID != nil {
			used[*c.LedgerEntryID]++
		}
	}
	for id, n := range used {
		assert.Equal(t, 1, n, "entry %s consumed more than once", id)
	}
	assert.Equal(t, domain.ConfidenceExact, result.Candidates[0].Confidence)
	assert.Equal(t, domain.ConfidenceProbable, result.Candidates[1].Confidence)
	assert.Equal(t, domain.ConfidenceUnmatched, result.Candidates[2].Confidence)
	assert.Empty(t, result.UnmatchedEntries)
}

func TestMatch_TieBreakEarliestRecordDate(t *testing.T) {
	engine := newEngine()

	records := []domain.CanonicalRecord{
		record("LATE", day.AddDate(0, 0, 1), 1000, domain.Credit, ""),
		record("EARLY", day.AddDate(0, 0, -1), 1000, domain.Credit, ""),
	}
	entries := []domain.LedgerEntry{entry("E1", day, 1000, "")}

	candidates := engine.Match(records, entries)
	assert.Equal(t, domain.ConfidenceUnmatched, candidates[0].Confidence)
	assert.Equal(t, domain.ConfidenceProbable, candidates[1].Confidence)
}

func TestMatch_TieBreakSmallestDifferenceThenInputOrder(t *testing.T) {
	engine := newEngine()

	records := []domain.CanonicalRecord{
		record("FIRST", day, 1004, domain.Credit, ""),
		record("SECOND", day, 1001, domain.Credit, ""),
		record("THIRD", day, 1001, domain.Credit, ""),
	}
	entries := []domain.LedgerEntry{entry("E1", day, 1000, "")}

	candidates := engine.Match(records, entries)
	assert.Equal(t, domain.ConfidenceUnmatched, candidates[0].Confidence)
	assert.Equal(t, domain.ConfidenceManual, candidates[1].Confidence)
	assert.Equal(t, domain.ConfidenceUnmatched, candidates[2].Confidence)
}

func TestMatch_Deterministic(t *testing.T) {
	engine := newEngine()

	var records []domain.CanonicalRecord
	var entries []domain.LedgerEntry
	for i := 0; i < 40; i++ {
		d := day.AddDate(0, 0, i%7)
		records = append(records, record(string(rune('A'+i%26))+string(rune('a'+i/26)), d, int64(1000+i%5), domain.Credit, ""))
		entries = append(entries, entry(string(rune('a'+i%26))+string(rune('A'+i/26)), d.AddDate(0, 0, i%3), int64(1000+i%4), ""))
	}

	first := engine.Match(records, entries)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Match(records, entries))
	}
}

func TestRun_Decisions(t *testing.T) {
	engine := newEngine()

	records := []domain.CanonicalRecord{
		record("R1", day, 1002, domain.Credit, ""),
		record("R2", day, 2002, domain.Credit, ""),
	}
	entries := []domain.LedgerEntry{entry("E1", day, 1000, ""), entry("E2", day, 2000, "")}

	result := engine.Run(records, entries, matcher.Decisions{
		Accepted: map[matcher.Pair]bool{{RecordID: "job-1/R1", LedgerEntryID: "E1"}: true},
		Rejected: map[matcher.Pair]bool{{RecordID: "job-1/R2", LedgerEntryID: "E2"}: true},
	})

	assert.Equal(t, domain.ConfidenceManual, result.Candidates[0].Confidence)
	assert.True(t, result.Candidates[0].IsMatched())
	assert.Equal(t, domain.ConfidenceUnmatched, result.Candidates[1].Confidence)
	assert.Equal(t, []string{"E2"}, result.UnmatchedEntries)
}

func TestSummarize(t *testing.T) {
	summary := matcher.Summarize([]domain.MatchCandidate{
		{Confidence: domain.ConfidenceExact},
		{Confidence: domain.ConfidenceProbable},
		{Confidence: domain.ConfidenceProbable},
		{Confidence: domain.ConfidenceManual},
		{Confidence: domain.ConfidenceUnmatched},
	})
	assert.Equal(t, matcher.Summary{Exact: 1, Probable: 2, Manual: 1, Unmatched: 1}, summary)
}
