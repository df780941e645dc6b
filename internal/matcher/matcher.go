package matcher

import (
	"sort"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

type Config struct {
	DateToleranceDays int
	RoundingTolerance int64
	ManualWindowDays  int
}

// Engine runs the rule cascade: every tier is assigned completely before the next one starts
type Engine struct {
	rules []MatchingRule
}

func NewEngine(cfg Config) *Engine {
	return NewEngineWithRules(
		ExactRule{},
		ProbableRule{ToleranceDays: cfg.DateToleranceDays},
		ManualRule{Tolerance: cfg.RoundingTolerance, WindowDays: cfg.ManualWindowDays},
	)
}

// NewEngineWithRules builds an engine with a custom cascade, highest confidence first
func NewEngineWithRules(rules ...MatchingRule) *Engine {
	return &Engine{rules: rules}
}

// Decisions carries reviewer decisions into a run. Keys are (record key, ledger entry id).
type Decisions struct {
	Accepted map[Pair]bool
	Rejected map[Pair]bool
}

type Pair struct {
	RecordID      string
	LedgerEntryID string
}

// Result is the output of one matcher run
type Result struct {
	Candidates       []domain.MatchCandidate
	UnmatchedEntries []string
}

// Match returns one candidate per record, in record order
func (e *Engine) Match(records []domain.CanonicalRecord, entries []domain.LedgerEntry) []domain.MatchCandidate {
	return e.Run(records, entries, Decisions{}).Candidates
}

type pairing struct {
	record   int
	entry    int
	diff     int64
	distance int
}

// Run matches records against entries. Accepted decisions are applied first; rejected pairs are never proposed.
// Each ledger entry is used by at most one candidate in the result.
func (e *Engine) Run(records []domain.CanonicalRecord, entries []domain.LedgerEntry, decisions Decisions) *Result {
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"record_count": len(records),
		"entry_count":  len(entries),
	})
	log.Debug("Starting matching")

	candidates := make([]*domain.MatchCandidate, len(records))
	entryUsed := make([]bool, len(entries))

	if len(decisions.Accepted) > 0 {
		for i, record := range records {
			for j, entry := range entries {
				if entryUsed[j] || !decisions.Accepted[Pair{RecordID: record.Key(), LedgerEntryID: entry.ID}] {
					continue
				}
				candidates[i] = newCandidate(record, entry, domain.ConfidenceManual, "manual: accepted by reviewer", true)
				entryUsed[j] = true
				break
			}
		}
	}

	for _, rule := range e.rules {
		var pairs []pairing
		for i, record := range records {
			if candidates[i] != nil {
				continue
			}
			for j, entry := range entries {
				if entryUsed[j] || decisions.Rejected[Pair{RecordID: record.Key(), LedgerEntryID: entry.ID}] {
					continue
				}
				if !rule.Match(record, entry) {
					continue
				}
				pairs = append(pairs, pairing{
					record:   i,
					entry:    j,
					diff:     abs(record.SignedAmount() - entry.Amount),
					distance: domain.DaysBetween(record.Date, entry.Date),
				})
			}
		}

		sort.SliceStable(pairs, func(a, b int) bool {
			pa, pb := pairs[a], pairs[b]
			da, db := domain.DateOf(records[pa.record].Date), domain.DateOf(records[pb.record].Date)
			if !da.Equal(db) {
				return da.Before(db)
			}
			if pa.diff != pb.diff {
				return pa.diff < pb.diff
			}
			if pa.record != pb.record {
				return pa.record < pb.record
			}
			if pa.distance != pb.distance {
				return pa.distance < pb.distance
			}
			return pa.entry < pb.entry
		})

		for _, p := range pairs {
			if candidates[p.record] != nil || entryUsed[p.entry] {
				continue
			}
			record, entry := records[p.record], entries[p.entry]
			accepted := rule.Confidence() != domain.ConfidenceManual
			candidates[p.record] = newCandidate(record, entry, rule.Confidence(), rule.Rationale(record, entry), accepted)
			entryUsed[p.entry] = true
		}
	}

	result := &Result{Candidates: make([]domain.MatchCandidate, len(records))}
	for i, record := range records {
		if candidates[i] == nil {
			result.Candidates[i] = domain.MatchCandidate{
				ImportRecordID: record.Key(),
				Confidence:     domain.ConfidenceUnmatched,
				Rationale:      "unmatched: no rule fired",
			}
			continue
		}
		result.Candidates[i] = *candidates[i]
	}
	for j, entry := range entries {
		if !entryUsed[j] {
			result.UnmatchedEntries = append(result.UnmatchedEntries, entry.ID)
		}
	}

	summary := Summarize(result.Candidates)
	log.WithFields(map[string]interface{}{
		"exact":             summary.Exact,
		"probable":          summary.Probable,
		"manual":            summary.Manual,
		"unmatched":         summary.Unmatched,
		"unmatched_entries": len(result.UnmatchedEntries),
	}).Debug("Matching completed")

	return result
}

func newCandidate(record domain.CanonicalRecord, entry domain.LedgerEntry, confidence domain.Confidence, rationale string, accepted bool) *domain.MatchCandidate {
	entryID := entry.ID
	return &domain.MatchCandidate{
		ImportRecordID:   record.Key(),
		LedgerEntryID:    &entryID,
		Confidence:       confidence,
		Rationale:        rationale,
		AmountDifference: record.SignedAmount() - entry.Amount,
		DateDistanceDays: domain.DaysBetween(record.Date, entry.Date),
		Accepted:         accepted,
	}
}

// Summary counts candidates per confidence tier
type Summary struct {
	Exact     int `json:"exact"`
	Probable  int `json:"probable"`
	Manual    int `json:"manual"`
	Unmatched int `json:"unmatched"`
}

func Summarize(candidates []domain.MatchCandidate) Summary {
	var s Summary
	for _, c := range candidates {
		switch c.Confidence {
		case domain.ConfidenceExact:
			s.Exact++
		case domain.ConfidenceProbable:
			s.Probable++
		case domain.ConfidenceManual:
			s.Manual++
		default:
			s.Unmatched++
		}
	}
	return s
}
