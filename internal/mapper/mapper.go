package mapper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/cache"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

// Source tells where a resolution came from
type Source string

const (
	SourceOverride Source = "override"
	SourceGlobal   Source = "global"
	SourceUnmapped Source = "unmapped"
)

// Resolution is the outcome of Resolve. An unmapped ref carries suggestions only.
type Resolution struct {
	InternalID  string
	Source      Source
	Suggestions []domain.MappingSuggestion
}

// Mapped reports whether the ref resolved to an internal id
func (r Resolution) Mapped() bool {
	return r.Source != SourceUnmapped
}

// SaveRequest describes a mapping to persist
type SaveRequest struct {
	Kind        domain.MappingKind
	ExternalRef string
	InternalID  string
	Scope       domain.Scope
	Actor       string
}

type Options struct {
	MinScore float64
	Limit    int
}

// Mapper resolves external references to internal account and voucher type ids
type Mapper interface {
	Resolve(ctx context.Context, kind domain.MappingKind, externalRef string, scope domain.Scope) (*Resolution, error)
	SaveMapping(ctx context.Context, req SaveRequest) (*domain.AccountMapping, error)
	Suggest(ctx context.Context, kind domain.MappingKind, externalRef string) ([]domain.MappingSuggestion, error)
}

type fieldMapper struct {
	repo     repository.MappingRepository
	accounts repository.AccountDirectory
	cache    cache.MappingCache
	locker   lock.Locker
	audit    audit.Publisher
	opts     Options
	now      func() time.Time
}

// New builds a Mapper. cache may be nil.
func New(
	repo repository.MappingRepository,
	accounts repository.AccountDirectory,
	mappingCache cache.MappingCache,
	locker lock.Locker,
	publisher audit.Publisher,
	opts Options,
) Mapper {
	if opts.Limit <= 0 {
		opts.Limit = 3
	}
	return &fieldMapper{
		repo:     repo,
		accounts: accounts,
		cache:    mappingCache,
		locker:   locker,
		audit:    publisher,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *fieldMapper) Resolve(ctx context.Context, kind domain.MappingKind, externalRef string, scope domain.Scope) (*Resolution, error) {
	if domain.NormalizeRef(externalRef) == "" {
		return &Resolution{Source: SourceUnmapped}, nil
	}

	if !scope.IsGlobal() {
		key := domain.MappingKey{Kind: kind, ExternalRef: externalRef, Scope: scope}
		override, err := m.repo.Get(ctx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to load override: %w", err)
		}
		if override != nil {
			m.touch(ctx, key)
			return &Resolution{InternalID: override.InternalAccountID, Source: SourceOverride}, nil
		}
	}

	key := domain.MappingKey{Kind: kind, ExternalRef: externalRef, Scope: domain.GlobalScope}
	global, err := m.getGlobal(ctx, key)
	if err != nil {
		return nil, err
	}
	if global != nil {
		m.touch(ctx, key)
		return &Resolution{InternalID: global.InternalAccountID, Source: SourceGlobal}, nil
	}

	suggestions, err := m.Suggest(ctx, kind, externalRef)
	if err != nil {
		return nil, err
	}
	return &Resolution{Source: SourceUnmapped, Suggestions: suggestions}, nil
}

func (m *fieldMapper) getGlobal(ctx context.Context, key domain.MappingKey) (*domain.AccountMapping, error) {
	if m.cache != nil {
		cached, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			logger.GetLogger().WithError(err).WithField("key", key.String()).Warn("Mapping cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	global, err := m.repo.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, *global); err != nil {
			logger.GetLogger().WithError(err).WithField("key", key.String()).Warn("Mapping cache write failed")
		}
	}
	return global, nil
}

func (m *fieldMapper) touch(ctx context.Context, key domain.MappingKey) {
	if err := m.repo.Touch(ctx, key, m.now()); err != nil {
		logger.GetLogger().WithError(err).WithField("key", key.String()).Warn("Failed to update mapping last used time")
	}
}

func (m *fieldMapper) SaveMapping(ctx context.Context, req SaveRequest) (*domain.AccountMapping, error) {
	if domain.NormalizeRef(req.ExternalRef) == "" {
		return nil, fmt.Errorf("external ref is required")
	}
	if strings.TrimSpace(req.InternalID) == "" {
		return nil, fmt.Errorf("internal id is required")
	}
	if req.Kind != domain.MappingAccount && req.Kind != domain.MappingVoucherType {
		return nil, fmt.Errorf("unsupported mapping kind: %s", req.Kind)
	}

	key := domain.MappingKey{Kind: req.Kind, ExternalRef: req.ExternalRef, Scope: req.Scope}
	unlock, err := m.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock mapping: %w", err)
	}
	defer unlock()

	now := m.now()
	mapping := &domain.AccountMapping{
		ID:                uuid.New().String(),
		Kind:              req.Kind,
		ExternalRef:       strings.TrimSpace(req.ExternalRef),
		InternalAccountID: strings.TrimSpace(req.InternalID),
		Scope:             req.Scope,
		CreatedBy:         req.Actor,
		CreatedAt:         now,
		LastUsedAt:        now,
	}
	if err := m.repo.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to save mapping: %w", err)
	}

	if m.cache != nil && req.Scope.IsGlobal() {
		if err := m.cache.Delete(ctx, key); err != nil {
			logger.GetLogger().WithError(err).WithField("key", key.String()).Warn("Mapping cache invalidation failed")
		}
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"kind":         req.Kind,
		"external_ref": req.ExternalRef,
		"internal_id":  mapping.InternalAccountID,
		"scope":        req.Scope.String(),
		"actor":        req.Actor,
	}).Info("Mapping saved")

	audit.Emit(ctx, m.audit, audit.Event{
		Action:     audit.ActionMappingSaved,
		Actor:      req.Actor,
		EntityType: "mapping",
		EntityID:   key.String(),
		OccurredAt: now,
		Details: map[string]string{
			"internal_id": mapping.InternalAccountID,
			"scope":       req.Scope.String(),
		},
	})

	return mapping, nil
}

// Suggest ranks known targets by string similarity to the ref.
// Accounts are compared by name and id; voucher types by the ids already in use.
func (m *fieldMapper) Suggest(ctx context.Context, kind domain.MappingKind, externalRef string) ([]domain.MappingSuggestion, error) {
	ref := domain.NormalizeRef(externalRef)
	if ref == "" {
		return nil, nil
	}

	targets, err := m.targets(ctx, kind)
	if err != nil {
		return nil, err
	}

	var suggestions []domain.MappingSuggestion
	for _, t := range targets {
		score := max(similarity(ref, domain.NormalizeRef(t.Name)), similarity(ref, domain.NormalizeRef(t.ID)))
		if score < m.opts.MinScore || score == 0 {
			continue
		}
		suggestions = append(suggestions, domain.MappingSuggestion{
			InternalAccountID: t.ID,
			Name:              t.Name,
			Score:             score,
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return suggestions[i].InternalAccountID < suggestions[j].InternalAccountID
	})
	if len(suggestions) > m.opts.Limit {
		suggestions = suggestions[:m.opts.Limit]
	}
	return suggestions, nil
}

func (m *fieldMapper) targets(ctx context.Context, kind domain.MappingKind) ([]domain.Account, error) {
	if kind == domain.MappingAccount {
		accounts, err := m.accounts.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
		return accounts, nil
	}

	mappings, err := m.repo.List(ctx, domain.GlobalScope)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	seen := make(map[string]bool)
	var targets []domain.Account
	for _, mapping := range mappings {
		if mapping.Kind != kind || seen[mapping.InternalAccountID] {
			continue
		}
		seen[mapping.InternalAccountID] = true
		targets = append(targets, domain.Account{ID: mapping.InternalAccountID, Name: mapping.InternalAccountID})
	}
	return targets, nil
}

// similarity is the levenshtein ratio of a and b rounded to 2 places.
// DefaultOptions costs a substitution 2, so the distance never exceeds the combined length.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	score := 1 - float64(distance)/float64(len(ra)+len(rb))
	return float64(int(score*100+0.5)) / 100
}
