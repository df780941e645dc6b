package repository

import (
	"context"
	"time"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
)

// ImportJobRepository persists ImportJobs and their raw payloads.
// Every pipeline transition is written through Update before the pipeline moves on.
type ImportJobRepository interface {
	Create(ctx context.Context, job *domain.ImportJob) error
	Update(ctx context.Context, job *domain.ImportJob) error
	GetByID(ctx context.Context, id string) (*domain.ImportJob, error)
	ListActive(ctx context.Context) ([]*domain.ImportJob, error)
	SavePayload(ctx context.Context, id string, payload []byte) error
	GetPayload(ctx context.Context, id string) ([]byte, error)
}

// MappingRepository persists AccountMappings indexed by (kind, externalRef, scope)
type MappingRepository interface {
	// Upsert is last-write-wins on the mapping key
	Upsert(ctx context.Context, m *domain.AccountMapping) error
	Get(ctx context.Context, key domain.MappingKey) (*domain.AccountMapping, error)
	Touch(ctx context.Context, key domain.MappingKey, at time.Time) error
	List(ctx context.Context, scope domain.Scope) ([]domain.AccountMapping, error)
}

// ReportRepository persists ReconciliationReports
type ReportRepository interface {
	Create(ctx context.Context, report *domain.ReconciliationReport) error
	Update(ctx context.Context, report *domain.ReconciliationReport) error
	GetByID(ctx context.Context, id string) (*domain.ReconciliationReport, error)
}

// LedgerStore is the book ledger collaborator: read access to entries and write access for postings
type LedgerStore interface {
	Entries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error)
	// OpeningBalance is the account's opening balance plus every entry dated before the cutoff.
	// A zero cutoff returns the opening balance alone; an unknown account has 0.
	OpeningBalance(ctx context.Context, accountID string, before time.Time) (int64, error)
	// Post writes one posting in its own transaction; created is false when the idempotency key already exists.
	Post(ctx context.Context, posting domain.Posting) (created bool, err error)
	Postings(ctx context.Context, accountID string, period domain.Period) ([]domain.CanonicalRecord, error)
	// OpenPeriods lists the periods accepting postings; none means no restriction.
	OpenPeriods(ctx context.Context) ([]domain.Period, error)
}

// AccountDirectory lists the internal chart of accounts
type AccountDirectory interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}
