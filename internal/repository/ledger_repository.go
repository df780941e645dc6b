package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) LedgerStore {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Entries(ctx context.Context, accountID string, period domain.Period) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, account_id, entry_date, amount, reference, book_balance
		FROM ledger_entries
		WHERE account_id = $1
		  AND ($2::date IS NULL OR entry_date >= $2)
		  AND ($3::date IS NULL OR entry_date <= $3)
		ORDER BY entry_date, id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, nullDate(period.From), nullDate(period.To))
	if err != nil {
		logger.GetLogger().WithError(err).WithField("account_id", accountID).Error("Failed to query ledger entries")
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Date, &e.Amount, &e.Reference, &e.BookBalance); err != nil {
			return nil, err
		}
		e.Date = domain.DateOf(e.Date)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerRepository) OpeningBalance(ctx context.Context, accountID string, before time.Time) (int64, error) {
	// a NULL cutoff matches no entry, leaving the account's opening balance
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT a.opening_balance + COALESCE((
			SELECT SUM(e.amount) FROM ledger_entries e
			WHERE e.account_id = a.id AND e.entry_date < $2
		), 0)::BIGINT
		FROM accounts a
		WHERE a.id = $1
	`, accountID, nullDate(before)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("account_id", accountID).Error("Failed to query opening balance")
		return 0, err
	}
	return balance, nil
}

// Post inserts one posting inside its own transaction
func (r *ledgerRepository) Post(ctx context.Context, posting domain.Posting) (created bool, err error) {
	record, err := json.Marshal(posting.Record)
	if err != nil {
		return false, fmt.Errorf("encode posting: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to begin transaction")
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO statement_postings (
			id, idempotency_key, import_id, account_id, posting_date, row_number, record, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`,
		posting.ID,
		posting.IdempotencyKey,
		posting.ImportID,
		posting.Record.AccountID,
		posting.Record.Date,
		posting.Record.Row,
		record,
		posting.CreatedAt,
	).Scan(&id)
	if err == sql.ErrNoRows {
		// Already committed by an earlier run.
		err = nil
		return false, tx.Commit()
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("idempotency_key", posting.IdempotencyKey).Error("Failed to insert posting")
		return false, err
	}

	if err = tx.Commit(); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to commit transaction")
		return false, err
	}
	return true, nil
}

func (r *ledgerRepository) Postings(ctx context.Context, accountID string, period domain.Period) ([]domain.CanonicalRecord, error) {
	query := `
		SELECT record
		FROM statement_postings
		WHERE account_id = $1
		  AND ($2::date IS NULL OR posting_date >= $2)
		  AND ($3::date IS NULL OR posting_date <= $3)
		ORDER BY posting_date, import_id, row_number
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, nullDate(period.From), nullDate(period.To))
	if err != nil {
		logger.GetLogger().WithError(err).WithField("account_id", accountID).Error("Failed to query postings")
		return nil, err
	}
	defer rows.Close()

	var records []domain.CanonicalRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec domain.CanonicalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ledgerRepository) OpenPeriods(ctx context.Context) ([]domain.Period, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, start_date, end_date FROM ledger_periods
		WHERE status = 'open'
		ORDER BY start_date, id
	`)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query open periods")
		return nil, err
	}
	defer rows.Close()

	var periods []domain.Period
	for rows.Next() {
		var p domain.Period
		if err := rows.Scan(&p.Name, &p.From, &p.To); err != nil {
			return nil, err
		}
		p.From = domain.DateOf(p.From)
		p.To = domain.DateOf(p.To)
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *ledgerRepository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM accounts ORDER BY id`)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query accounts")
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// NewAccountDirectory reads the chart of accounts from the ledger database
func NewAccountDirectory(db *sql.DB) AccountDirectory {
	return &ledgerRepository{db: db}
}

func nullDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: domain.DateOf(t), Valid: true}
}
