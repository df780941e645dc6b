package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

type reportRepository struct {
	db *sql.DB
}

func NewReportRepository(db *sql.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) Create(ctx context.Context, report *domain.ReconciliationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (id, status, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, report.ID, report.Status, body, report.CreatedAt)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("report_id", report.ID).Error("Failed to create report")
		return err
	}
	return nil
}

// Update refuses to overwrite a reviewed report
func (r *reportRepository) Update(ctx context.Context, report *domain.ReconciliationReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE reconciliation_reports
		SET status = $1, body = $2, updated_at = NOW()
		WHERE id = $3 AND status <> $4
	`, report.Status, body, report.ID, domain.ReportReviewed)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("report_id", report.ID).Error("Failed to update report")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, report.ID); err != nil {
			return err
		}
		return domain.ErrSessionClosedViolation
	}
	return nil
}

func (r *reportRepository) GetByID(ctx context.Context, id string) (*domain.ReconciliationReport, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx, `SELECT body FROM reconciliation_reports WHERE id = $1`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("report_id", id).Error("Failed to get report")
		return nil, err
	}

	var report domain.ReconciliationReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &report, nil
}
