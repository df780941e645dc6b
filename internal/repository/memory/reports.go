package memory

import (
	"context"
	"sync"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
)

// ReportStore is an in-memory repository.ReportRepository
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]*domain.ReconciliationReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]*domain.ReconciliationReport)}
}

func (s *ReportStore) Create(_ context.Context, report *domain.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[report.ID] = report.Clone()
	return nil
}

func (s *ReportStore) Update(_ context.Context, report *domain.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reports[report.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status == domain.ReportReviewed {
		return domain.ErrSessionClosedViolation
	}
	s.reports[report.ID] = report.Clone()
	return nil
}

func (s *ReportStore) GetByID(_ context.Context, id string) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return report.Clone(), nil
}

var _ repository.ReportRepository = (*ReportStore)(nil)
