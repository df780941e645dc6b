package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
)

// MappingStore is an in-memory repository.MappingRepository
type MappingStore struct {
	mu       sync.RWMutex
	mappings map[string]domain.AccountMapping
}

func NewMappingStore() *MappingStore {
	return &MappingStore{mappings: make(map[string]domain.AccountMapping)}
}

func (s *MappingStore) Upsert(_ context.Context, m *domain.AccountMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := m.Key().String()
	if existing, ok := s.mappings[key]; ok {
		m.ID = existing.ID
		m.CreatedBy = existing.CreatedBy
		m.CreatedAt = existing.CreatedAt
	}
	s.mappings[key] = *m
	return nil
}

func (s *MappingStore) Get(_ context.Context, key domain.MappingKey) (*domain.AccountMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[key.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (s *MappingStore) Touch(_ context.Context, key domain.MappingKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mappings[key.String()]
	if !ok {
		return domain.ErrNotFound
	}
	if at.After(m.LastUsedAt) {
		m.LastUsedAt = at
		s.mappings[key.String()] = m
	}
	return nil
}

func (s *MappingStore) List(_ context.Context, scope domain.Scope) ([]domain.AccountMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AccountMapping
	for _, m := range s.mappings {
		if m.Scope == scope {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

var _ repository.MappingRepository = (*MappingStore)(nil)
