package mapper_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/mapper"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository/memory"
)

type fixture struct {
	mapper   mapper.Mapper
	mappings *memory.MappingStore
	recorder *audit.Recorder
}

func newFixture() fixture {
	ledger := memory.NewLedgerStore()
	ledger.AddAccounts(
		domain.Account{ID: "ACC-1000", Name: "HDFC Current Account"},
		domain.Account{ID: "ACC-2000", Name: "ICICI Savings Account"},
		domain.Account{ID: "ACC-3000", Name: "Petty Cash"},
	)
	mappings := memory.NewMappingStore()
	recorder := &audit.Recorder{}
	m := mapper.New(mappings, ledger, nil, lock.NewLocalLocker(), recorder, mapper.Options{MinScore: 0.6, Limit: 3})
	return fixture{mapper: m, mappings: mappings, recorder: recorder}
}

func TestResolve_OverrideWinsOverGlobal(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind: domain.MappingAccount, ExternalRef: "HDFC-001", InternalID: "ACC-1000", Scope: domain.GlobalScope, Actor: "alice",
	})
	require.NoError(t, err)
	_, err = f.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind: domain.MappingAccount, ExternalRef: "HDFC-001", InternalID: "ACC-2000", Scope: domain.ImportScope("job-1"), Actor: "bob",
	})
	require.NoError(t, err)

	res, err := f.mapper.Resolve(ctx, domain.MappingAccount, "hdfc-001", domain.ImportScope("job-1"))
	require.NoError(t, err)
	assert.True(t, res.Mapped())
	assert.Equal(t, "ACC-2000", res.InternalID)
	assert.Equal(t, mapper.SourceOverride, res.Source)

	res, err = f.mapper.Resolve(ctx, domain.MappingAccount, "HDFC-001", domain.ImportScope("job-2"))
	require.NoError(t, err)
	assert.Equal(t, "ACC-1000", res.InternalID)
	assert.Equal(t, mapper.SourceGlobal, res.Source)
}

func TestResolve_UnmappedCarriesSuggestions(t *testing.T) {
	f := newFixture()

	res, err := f.mapper.Resolve(context.Background(), domain.MappingAccount, "HDFC Current Acct", domain.ImportScope("job-1"))
	require.NoError(t, err)
	assert.False(t, res.Mapped())
	assert.Empty(t, res.InternalID)
	require.NotEmpty(t, res.Suggestions)
	assert.Equal(t, "ACC-1000", res.Suggestions[0].InternalAccountID)

	_, err = f.mappings.Get(context.Background(), domain.MappingKey{Kind: domain.MappingAccount, ExternalRef: "HDFC Current Acct", Scope: domain.GlobalScope})
	assert.ErrorIs(t, err, domain.ErrNotFound, "suggestions are never applied")
}

func TestSuggest_RanksAndLimits(t *testing.T) {
	f := newFixture()

	suggestions, err := f.mapper.Suggest(context.Background(), domain.MappingAccount, "petty cash")
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "ACC-3000", suggestions[0].InternalAccountID)
	assert.Equal(t, 1.0, suggestions[0].Score)

	suggestions, err = f.mapper.Suggest(context.Background(), domain.MappingAccount, "zzzz")
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestSaveMapping_LastWriteWins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind: domain.MappingAccount, ExternalRef: "ICICI 77", InternalID: "ACC-1000", Scope: domain.GlobalScope, Actor: "alice",
	})
	require.NoError(t, err)
	second, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind: domain.MappingAccount, ExternalRef: "icici  77", InternalID: "ACC-2000", Scope: domain.GlobalScope, Actor: "bob",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	stored, err := f.mappings.List(ctx, domain.GlobalScope)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ACC-2000", stored[0].InternalAccountID)
	assert.Equal(t, "alice", stored[0].CreatedBy)

	events := f.recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionMappingSaved, events[1].Action)
	assert.Equal(t, "bob", events[1].Actor)
}

func TestSaveMapping_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{Kind: domain.MappingAccount, ExternalRef: " ", InternalID: "ACC-1000"})
	assert.Error(t, err)
	_, err = f.mapper.SaveMapping(ctx, mapper.SaveRequest{Kind: domain.MappingAccount, ExternalRef: "X", InternalID: ""})
	assert.Error(t, err)
	_, err = f.mapper.SaveMapping(ctx, mapper.SaveRequest{Kind: "branch", ExternalRef: "X", InternalID: "ACC-1000"})
	assert.Error(t, err)
}

func TestSaveMapping_ConcurrentDifferentRefs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	refs := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{
				Kind: domain.MappingAccount, ExternalRef: ref, InternalID: "ACC-" + ref, Scope: domain.GlobalScope, Actor: "alice",
			})
			assert.NoError(t, err)
		}(ref)
	}
	wg.Wait()

	stored, err := f.mappings.List(ctx, domain.GlobalScope)
	require.NoError(t, err)
	assert.Len(t, stored, len(refs))
}

func TestResolve_VoucherTypeSuggestionsFromExistingMappings(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind: domain.MappingVoucherType, ExternalRef: "NEFT", InternalID: "receipt", Scope: domain.GlobalScope, Actor: "alice",
	})
	require.NoError(t, err)

	res, err := f.mapper.Resolve(ctx, domain.MappingVoucherType, "Receipts", domain.ImportScope("job-1"))
	require.NoError(t, err)
	assert.False(t, res.Mapped())
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "receipt", res.Suggestions[0].InternalAccountID)
}
