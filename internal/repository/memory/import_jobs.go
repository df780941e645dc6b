package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
)

// ImportJobStore is an in-memory repository.ImportJobRepository
type ImportJobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.ImportJob
	payloads map[string][]byte
}

func NewImportJobStore() *ImportJobStore {
	return &ImportJobStore{
		jobs:     make(map[string]*domain.ImportJob),
		payloads: make(map[string][]byte),
	}
}

func (s *ImportJobStore) Create(_ context.Context, job *domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *ImportJobStore) Update(_ context.Context, job *domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *ImportJobStore) GetByID(_ context.Context, id string) (*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *ImportJobStore) ListActive(_ context.Context) ([]*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*domain.ImportJob
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *ImportJobStore) SavePayload(_ context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return domain.ErrNotFound
	}
	s.payloads[id] = append([]byte(nil), payload...)
	return nil
}

func (s *ImportJobStore) GetPayload(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.payloads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

var _ repository.ImportJobRepository = (*ImportJobStore)(nil)
