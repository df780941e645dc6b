package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
)

// LedgerStore is an in-memory repository.LedgerStore and repository.AccountDirectory
type LedgerStore struct {
	mu         sync.RWMutex
	accounts   []domain.Account
	entries    []domain.LedgerEntry
	opening    map[string]int64
	postings   []domain.Posting
	keys       map[string]bool
	open       []domain.Period

	// PostHook, when set, runs before each posting is stored; an error rejects the posting.
	PostHook func(domain.Posting) error
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		opening: make(map[string]int64),
		keys:    make(map[string]bool),
	}
}

// AddAccounts registers chart-of-accounts entries
func (s *LedgerStore) AddAccounts(accounts ...domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, accounts...)
}

// AddEntries appends book entries
func (s *LedgerStore) AddEntries(entries ...domain.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.Date = domain.DateOf(e.Date)
		s.entries = append(s.entries, e)
	}
}

// SetOpeningBalance sets the balance carried into any period for the account
func (s *LedgerStore) SetOpeningBalance(accountID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening[accountID] = balance
}

// SetOpenPeriods restricts the dates accepted by validation
func (s *LedgerStore) SetOpenPeriods(periods ...domain.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = append([]domain.Period(nil), periods...)
}

func (s *LedgerStore) Entries(_ context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID && period.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *LedgerStore) OpeningBalance(_ context.Context, accountID string, before time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := s.opening[accountID]
	if before.IsZero() {
		return balance, nil
	}
	cutoff := domain.DateOf(before)
	for _, e := range s.entries {
		if e.AccountID == accountID && e.Date.Before(cutoff) {
			balance += e.Amount
		}
	}
	return balance, nil
}

func (s *LedgerStore) Post(_ context.Context, posting domain.Posting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[posting.IdempotencyKey] {
		return false, nil
	}
	if s.PostHook != nil {
		if err := s.PostHook(posting); err != nil {
			return false, err
		}
	}
	s.keys[posting.IdempotencyKey] = true
	s.postings = append(s.postings, posting)
	return true, nil
}

func (s *LedgerStore) Postings(_ context.Context, accountID string, period domain.Period) ([]domain.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CanonicalRecord
	for _, p := range s.postings {
		if p.Record.AccountID == accountID && period.Contains(p.Record.Date) {
			out = append(out, p.Record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].ImportID != out[j].ImportID {
			return out[i].ImportID < out[j].ImportID
		}
		return out[i].Row < out[j].Row
	})
	return out, nil
}

// PostingCount returns the number of postings created so far
func (s *LedgerStore) PostingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.postings)
}

func (s *LedgerStore) OpenPeriods(_ context.Context) ([]domain.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Period(nil), s.open...), nil
}

func (s *LedgerStore) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Account(nil), s.accounts...), nil
}

var (
	_ repository.LedgerStore      = (*LedgerStore)(nil)
	_ repository.AccountDirectory = (*LedgerStore)(nil)
)
