package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/mapper"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/pipeline"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository/memory"
)

type fixture struct {
	pipeline pipeline.Pipeline
	jobs     *memory.ImportJobStore
	ledger   *memory.LedgerStore
	mapper   mapper.Mapper
	recorder *audit.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	jobs := memory.NewImportJobStore()
	ledger := memory.NewLedgerStore()
	ledger.AddAccounts(domain.Account{ID: "ACC-1", Name: "Bank A Current"})
	locker := lock.NewLocalLocker()
	recorder := &audit.Recorder{}
	m := mapper.New(memory.NewMappingStore(), ledger, nil, locker, recorder, mapper.Options{MinScore: 0.5, Limit: 3})

	p := pipeline.New(jobs, ledger, m, locker, recorder, pipeline.Config{
		MaxFileBytes:     1 << 20,
		MaxRows:          100,
		Workers:          2,
		CurrencyExponent: 2,
		BatchSize:        2,
	})
	return fixture{pipeline: p, jobs: jobs, ledger: ledger, mapper: m, recorder: recorder}
}

func (f fixture) mapGlobal(t *testing.T, ref, internalID string) {
	t.Helper()
	_, err := f.mapper.SaveMapping(context.Background(), mapper.SaveRequest{
		Kind: domain.MappingAccount, ExternalRef: ref, InternalID: internalID, Scope: domain.GlobalScope, Actor: "setup",
	})
	require.NoError(t, err)
}

func (f fixture) start(t *testing.T, content string) *domain.ImportJob {
	t.Helper()
	id, err := f.pipeline.StartImport(context.Background(), domain.FileDescriptor{
		Name:   "statement.csv",
		Format: domain.FormatCSV,
		Source: "bank-a",
	}, strings.NewReader(content))
	require.NoError(t, err)
	f.pipeline.Wait()

	job, err := f.pipeline.GetStatus(context.Background(), id)
	require.NoError(t, err)
	return job
}

const statement = `source_id,date,amount,direction,account,reference
TX1,2024-03-01,100.00,CREDIT,BANK-A,R1
TX2,2024-03-02,25.50,DEBIT,BANK-A,R2
TX3,2024-03-03,10.00,CREDIT,BANK-A,R3
`

func TestPipeline_CompletesAndPostsEveryRecord(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")

	job := f.start(t, statement)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Empty(t, job.Errors)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 3, job.CommittedCount)
	assert.Equal(t, len(job.Records), f.ledger.PostingCount())
	for _, rec := range job.Records {
		assert.Equal(t, "ACC-1", rec.AccountID)
		assert.Equal(t, job.ID, rec.ImportID)
	}

	postings, err := f.ledger.Postings(context.Background(), "ACC-1", domain.Period{})
	require.NoError(t, err)
	require.Len(t, postings, 3)
	assert.Equal(t, "TX1", postings[0].SourceID)
	assert.Equal(t, int64(-2550), postings[1].SignedAmount())
}

func TestPipeline_DuplicateSourceIDRejectsLaterRow(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")

	job := f.start(t, `source_id,date,amount,direction,account
TX1,2024-03-01,100.00,CREDIT,BANK-A
TX1,2024-03-01,100.00,CREDIT,BANK-A
`)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	validation := job.ErrorsOf(domain.KindValidationError)
	require.Len(t, validation, 1)
	assert.Equal(t, 3, validation[0].Row)
	assert.Equal(t, "source_id", validation[0].Field)
	assert.Len(t, job.Records, 2, "validation never removes records")
	assert.Equal(t, 1, job.CommittedCount)
	assert.Equal(t, 1, f.ledger.PostingCount())
}

func TestPipeline_RejectsNonPositiveAndOutOfPeriodRows(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")
	f.ledger.SetOpenPeriods(domain.Period{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	})

	job := f.start(t, `source_id,date,amount,direction,account
TX1,2024-03-01,0.00,CREDIT,BANK-A
TX2,2024-02-28,5.00,CREDIT,BANK-A
TX3,2024-03-05,-5.00,DEBIT,BANK-A
TX4,2024-03-05,7.00,DEBIT,BANK-A
`)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	validation := job.ErrorsOf(domain.KindValidationError)
	require.Len(t, validation, 3)
	assert.Equal(t, "amount", validation[0].Field)
	assert.Equal(t, "date", validation[1].Field)
	assert.Equal(t, "amount", validation[2].Field)
	assert.Equal(t, 1, f.ledger.PostingCount())
}

func TestPipeline_DateInGapBetweenOpenPeriodsIsRejected(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")
	f.ledger.SetOpenPeriods(
		domain.Period{Name: "2024-01", From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		domain.Period{Name: "2024-03", From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
	)

	job := f.start(t, `source_id,date,amount,direction,account
TX1,2024-01-15,5.00,CREDIT,BANK-A
TX2,2024-02-15,5.00,CREDIT,BANK-A
TX3,2024-03-15,5.00,CREDIT,BANK-A
`)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	validation := job.ErrorsOf(domain.KindValidationError)
	require.Len(t, validation, 1)
	assert.Equal(t, "TX2", validation[0].SourceID)
	assert.Equal(t, "date", validation[0].Field)
	assert.Equal(t, 2, f.ledger.PostingCount())
}

func TestPipeline_UnmappedRefBlocksInMapping(t *testing.T) {
	f := newFixture(t)

	job := f.start(t, statement)

	assert.Equal(t, domain.ImportMapping, job.Status)
	require.Len(t, job.Warnings, 1)
	w := job.Warnings[0]
	assert.Equal(t, domain.KindMappingUnresolved, w.Kind)
	assert.Equal(t, "BANK-A", w.ExternalRef)
	assert.Equal(t, []int{2, 3, 4}, w.Rows)
	assert.Equal(t, 0, f.ledger.PostingCount())

	_, err := f.pipeline.ResolveMapping(context.Background(), pipeline.ResolveRequest{
		JobID: job.ID, Kind: domain.MappingAccount, ExternalRef: "BANK-A", InternalID: "ACC-1", Actor: "alice",
	})
	require.NoError(t, err)
	f.pipeline.Wait()

	job, err = f.pipeline.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Empty(t, job.Warnings)
	assert.Equal(t, 3, f.ledger.PostingCount())
}

func TestPipeline_ResolveMappingOutsideMappingStage(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")
	job := f.start(t, statement)

	_, err := f.pipeline.ResolveMapping(context.Background(), pipeline.ResolveRequest{
		JobID: job.ID, Kind: domain.MappingAccount, ExternalRef: "BANK-A", InternalID: "ACC-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPipeline_CancelBlockedJob(t *testing.T) {
	f := newFixture(t)
	job := f.start(t, statement)
	require.Equal(t, domain.ImportMapping, job.Status)

	require.NoError(t, f.pipeline.Cancel(context.Background(), job.ID, "alice"))
	f.pipeline.Wait()

	job, err := f.pipeline.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, domain.ImportMapping, job.FailedStage)
	assert.Len(t, job.ErrorsOf(domain.KindCancelled), 1)
	assert.False(t, job.Recoverable)

	err = f.pipeline.Cancel(context.Background(), job.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	events := f.recorder.Events()
	assert.Equal(t, audit.ActionImportCanceled, events[len(events)-1].Action)
}

func TestPipeline_StructuralFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	job := f.start(t, "")

	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, domain.ImportParsing, job.FailedStage)
	assert.True(t, job.Recoverable)
	require.Len(t, job.ErrorsOf(domain.KindStructuralError), 1)

	require.NoError(t, f.pipeline.Retry(context.Background(), job.ID))
	f.pipeline.Wait()

	job, err := f.pipeline.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Len(t, job.Errors, 1, "retry starts from a clean error list")
}

func TestPipeline_RowCeilingIsNotRetryable(t *testing.T) {
	f := newFixture(t)
	var b strings.Builder
	b.WriteString("source_id,date,amount,direction,account\n")
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "TX%d,2024-03-01,1.00,CREDIT,BANK-A\n", i)
	}

	job := f.start(t, b.String())

	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, domain.ImportParsing, job.FailedStage)
	assert.False(t, job.Recoverable)
	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), job.ID), domain.ErrNotRecoverable)
}

func TestPipeline_OversizedUploadNeedsReupload(t *testing.T) {
	f := newFixture(t)
	big := statement + strings.Repeat("x", 1<<20)

	job := f.start(t, big)

	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, domain.ImportUploading, job.FailedStage)
	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), job.ID), domain.ErrReuploadRequired)
}

func TestPipeline_RetryRejectedForNonFailedJob(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")
	job := f.start(t, statement)

	assert.ErrorIs(t, f.pipeline.Retry(context.Background(), job.ID), domain.ErrInvalidTransition)
}

func TestPipeline_PartialCommitFailure(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")
	f.ledger.PostHook = func(p domain.Posting) error {
		if p.Record.SourceID == "TX2" {
			return errors.New("constraint violation")
		}
		return nil
	}

	job := f.start(t, statement)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Equal(t, 2, job.CommittedCount)
	assert.Equal(t, 1, job.FailedCount)
	conflicts := job.ErrorsOf(domain.KindCommitConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "TX2", conflicts[0].SourceID)
	assert.Equal(t, 2, f.ledger.PostingCount())
}

func TestPipeline_CancelDuringCommitStopsAtBatchBoundary(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")

	var cancelErr error
	f.ledger.PostHook = func(p domain.Posting) error {
		if p.Record.SourceID == "TX2" {
			cancelErr = f.pipeline.Cancel(context.Background(), p.ImportID, "alice")
		}
		return nil
	}

	job := f.start(t, statement)
	require.NoError(t, cancelErr)

	assert.Equal(t, domain.ImportFailed, job.Status)
	assert.Equal(t, domain.ImportCommitting, job.FailedStage)
	assert.False(t, job.Recoverable)
	assert.Len(t, job.ErrorsOf(domain.KindCancelled), 1)
	assert.Equal(t, 2, job.CommittedCount, "records posted before the boundary stay committed")
	assert.Equal(t, 2, job.NextCommitIndex)
	assert.Equal(t, 2, f.ledger.PostingCount())
	assert.Nil(t, job.CompletedAt)
}

func TestPipeline_ResumeDoesNotDuplicatePostings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	records := []domain.CanonicalRecord{
		{SourceID: "A", Row: 2, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 100, Direction: domain.Credit, AccountID: "ACC-1"},
		{SourceID: "B", Row: 3, Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Amount: 200, Direction: domain.Credit, AccountID: "ACC-1"},
	}
	job := &domain.ImportJob{ID: "job-resume", Status: domain.ImportCommitting, Records: records, CreatedAt: time.Now()}
	require.NoError(t, f.jobs.Create(ctx, job))

	// first record was posted before the process stopped, progress was not saved
	rec := records[0]
	rec.ImportID = job.ID
	_, err := f.ledger.Post(ctx, domain.Posting{ID: "p-1", IdempotencyKey: "job-resume:2", ImportID: job.ID, Record: rec})
	require.NoError(t, err)

	n, err := f.pipeline.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.pipeline.Wait()

	job, err = f.pipeline.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Equal(t, 2, job.CommittedCount)
	assert.Equal(t, 2, f.ledger.PostingCount())
}

func TestPipeline_ParseErrorsDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.mapGlobal(t, "BANK-A", "ACC-1")

	job := f.start(t, `source_id,date,amount,direction,account
TX1,2024-03-01,abc,CREDIT,BANK-A
TX2,2024-03-02,5.00,CREDIT,BANK-A
`)

	assert.Equal(t, domain.ImportCompleted, job.Status)
	assert.Len(t, job.ErrorsOf(domain.KindParseError), 1)
	assert.Len(t, job.Records, 1)
	assert.Equal(t, 1, f.ledger.PostingCount())
}
