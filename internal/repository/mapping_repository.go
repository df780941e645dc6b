package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

type mappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) Upsert(ctx context.Context, m *domain.AccountMapping) error {
	query := `
		INSERT INTO account_mappings (
			id, kind, external_ref, normalized_ref, scope, internal_account_id,
			created_by, created_at, last_used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, normalized_ref, scope) DO UPDATE
		SET internal_account_id = EXCLUDED.internal_account_id,
			external_ref = EXCLUDED.external_ref,
			last_used_at = EXCLUDED.last_used_at
		RETURNING id, created_by, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		m.ID,
		m.Kind,
		m.ExternalRef,
		domain.NormalizeRef(m.ExternalRef),
		m.Scope.String(),
		m.InternalAccountID,
		m.CreatedBy,
		m.CreatedAt,
		m.LastUsedAt,
	).Scan(&m.ID, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("external_ref", m.ExternalRef).Error("Failed to upsert mapping")
		return err
	}
	return nil
}

const selectMapping = `
	SELECT id, kind, external_ref, scope, internal_account_id, created_by, created_at, last_used_at
	FROM account_mappings
`

func scanMapping(row interface{ Scan(...interface{}) error }) (*domain.AccountMapping, error) {
	var (
		m     domain.AccountMapping
		scope string
	)
	err := row.Scan(&m.ID, &m.Kind, &m.ExternalRef, &scope, &m.InternalAccountID, &m.CreatedBy, &m.CreatedAt, &m.LastUsedAt)
	if err != nil {
		return nil, err
	}
	m.Scope = domain.ParseScope(scope)
	return &m, nil
}

func (r *mappingRepository) Get(ctx context.Context, key domain.MappingKey) (*domain.AccountMapping, error) {
	m, err := scanMapping(r.db.QueryRowContext(ctx,
		selectMapping+` WHERE kind = $1 AND normalized_ref = $2 AND scope = $3`,
		key.Kind, domain.NormalizeRef(key.ExternalRef), key.Scope.String(),
	))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		logger.GetLogger().WithError(err).WithField("external_ref", key.ExternalRef).Error("Failed to get mapping")
		return nil, err
	}
	return m, nil
}

func (r *mappingRepository) Touch(ctx context.Context, key domain.MappingKey, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_mappings SET last_used_at = $1
		WHERE kind = $2 AND normalized_ref = $3 AND scope = $4 AND last_used_at < $1
	`, at, key.Kind, domain.NormalizeRef(key.ExternalRef), key.Scope.String())
	return err
}

func (r *mappingRepository) List(ctx context.Context, scope domain.Scope) ([]domain.AccountMapping, error) {
	rows, err := r.db.QueryContext(ctx, selectMapping+` WHERE scope = $1 ORDER BY kind, normalized_ref`, scope.String())
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query mappings")
		return nil, err
	}
	defer rows.Close()

	var mappings []domain.AccountMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}
