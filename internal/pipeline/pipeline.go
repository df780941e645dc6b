package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/audit"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/lock"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/mapper"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/parser"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/repository"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
)

var tracer = otel.Tracer("ledgerfy.pipeline")

type Config struct {
	MaxFileBytes     int64
	MaxRows          int
	Workers          int
	CurrencyExponent int32
	// BatchSize is how many commits happen between progress writes
	BatchSize int
}

// ResolveRequest saves a mapping for an unresolved ref and resumes the job
type ResolveRequest struct {
	JobID       string
	Kind        domain.MappingKind
	ExternalRef string
	InternalID  string
	// Global saves the mapping for every import instead of this one only
	Global bool
	Actor  string
}

// Pipeline drives ImportJobs through uploading → parsing → mapping → validating → committing → completed.
// Stages after uploading run asynchronously; callers poll GetStatus.
type Pipeline interface {
	StartImport(ctx context.Context, file domain.FileDescriptor, body io.Reader) (string, error)
	GetStatus(ctx context.Context, id string) (*domain.ImportJob, error)
	Cancel(ctx context.Context, id, actor string) error
	Retry(ctx context.Context, id string) error
	ResolveMapping(ctx context.Context, req ResolveRequest) (*domain.AccountMapping, error)
	ResumePending(ctx context.Context) (int, error)
	Wait()
}

type importPipeline struct {
	jobs   repository.ImportJobRepository
	ledger repository.LedgerStore
	mapper mapper.Mapper
	locker lock.Locker
	audit  audit.Publisher
	cfg    Config
	now    func() time.Time

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex // protects running and rerun
	running map[string]bool
	rerun   map[string]bool
}

func New(
	jobs repository.ImportJobRepository,
	ledger repository.LedgerStore,
	fieldMapper mapper.Mapper,
	locker lock.Locker,
	publisher audit.Publisher,
	cfg Config,
) Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &importPipeline{
		jobs:    jobs,
		ledger:  ledger,
		mapper:  fieldMapper,
		locker:  locker,
		audit:   publisher,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		slots:   make(chan struct{}, cfg.Workers),
		running: make(map[string]bool),
		rerun:   make(map[string]bool),
	}
}

// StartImport buffers the upload, persists the job and schedules parsing.
// An upload that fails or exceeds the size ceiling leaves a failed job that needs a new upload.
func (p *importPipeline) StartImport(ctx context.Context, file domain.FileDescriptor, body io.Reader) (string, error) {
	now := p.now()
	job := &domain.ImportJob{
		ID:        uuid.New().String(),
		File:      file,
		Status:    domain.ImportUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create import job: %w", err)
	}

	log := logger.GetLogger().WithFields(logrus.Fields{
		"job_id": job.ID,
		"file":   file.Name,
		"format": file.Format,
	})
	log.Info("Import started")

	if _, err := parser.New(file.Format, parser.Options{}); err != nil {
		return job.ID, p.fail(ctx, job, domain.ImportUploading, domain.KindStructuralError, err.Error(), false)
	}

	payload, err := io.ReadAll(io.LimitReader(body, p.cfg.MaxFileBytes+1))
	if err != nil {
		return job.ID, p.fail(ctx, job, domain.ImportUploading, domain.KindStructuralError,
			fmt.Sprintf("failed to read upload: %v", err), false)
	}
	if int64(len(payload)) > p.cfg.MaxFileBytes {
		return job.ID, p.fail(ctx, job, domain.ImportUploading, domain.KindStructuralError,
			fmt.Sprintf("file exceeds the %d byte ceiling", p.cfg.MaxFileBytes), false)
	}
	job.File.Size = int64(len(payload))

	if err := p.jobs.SavePayload(ctx, job.ID, payload); err != nil {
		return job.ID, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := p.transition(ctx, job, domain.ImportParsing); err != nil {
		return job.ID, err
	}

	p.schedule(context.WithoutCancel(ctx), job.ID)
	return job.ID, nil
}

func (p *importPipeline) GetStatus(ctx context.Context, id string) (*domain.ImportJob, error) {
	return p.jobs.GetByID(ctx, id)
}

// Cancel marks the job; the runner fails it at the next stage boundary.
// Records committed before that point stay committed.
func (p *importPipeline) Cancel(ctx context.Context, id, actor string) error {
	unlock, err := p.locker.Lock(ctx, jobLockKey(id))
	if err != nil {
		return err
	}
	job, err := p.jobs.GetByID(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if job.Status.IsTerminal() {
		unlock()
		return fmt.Errorf("job is %s: %w", job.Status, domain.ErrInvalidTransition)
	}
	job.CancelRequested = true
	job.UpdatedAt = p.now()
	err = p.jobs.Update(ctx, job)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to persist cancel request: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id": id,
		"status": job.Status,
		"actor":  actor,
	}).Info("Import cancel requested")

	audit.Emit(ctx, p.audit, audit.Event{
		Action:     audit.ActionImportCanceled,
		Actor:      actor,
		EntityType: "import_job",
		EntityID:   id,
		OccurredAt: p.now(),
		Details:    map[string]string{"status": string(job.Status)},
	})

	p.schedule(context.WithoutCancel(ctx), id)
	return nil
}

// Retry re-enters parsing from a recoverable failure using the retained upload
func (p *importPipeline) Retry(ctx context.Context, id string) error {
	unlock, err := p.locker.Lock(ctx, jobLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	job, err := p.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.ImportFailed {
		return fmt.Errorf("job is %s: %w", job.Status, domain.ErrInvalidTransition)
	}
	if job.FailedStage == domain.ImportUploading {
		return domain.ErrReuploadRequired
	}
	if !job.Recoverable {
		return domain.ErrNotRecoverable
	}

	job.Records = nil
	job.Errors = nil
	job.Warnings = nil
	job.FailedStage = ""
	job.Recoverable = false
	job.CancelRequested = false
	job.NextCommitIndex = 0
	job.CommittedCount = 0
	job.FailedCount = 0
	job.CompletedAt = nil
	job.Status = domain.ImportParsing
	job.UpdatedAt = p.now()
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist import job: %w", err)
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id": id,
		"from":   domain.ImportFailed,
		"status": domain.ImportParsing,
	}).Info("Import retry scheduled")
	p.schedule(context.WithoutCancel(ctx), id)
	return nil
}

// ResolveMapping saves the mapping and resumes a job blocked in mapping
func (p *importPipeline) ResolveMapping(ctx context.Context, req ResolveRequest) (*domain.AccountMapping, error) {
	job, err := p.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.ImportMapping {
		return nil, fmt.Errorf("job is %s: %w", job.Status, domain.ErrInvalidTransition)
	}

	scope := domain.ImportScope(job.ID)
	if req.Global {
		scope = domain.GlobalScope
	}
	mapping, err := p.mapper.SaveMapping(ctx, mapper.SaveRequest{
		Kind:        req.Kind,
		ExternalRef: req.ExternalRef,
		InternalID:  req.InternalID,
		Scope:       scope,
		Actor:       req.Actor,
	})
	if err != nil {
		return nil, err
	}

	p.schedule(context.WithoutCancel(ctx), job.ID)
	return mapping, nil
}

// ResumePending reschedules every job that was active when the process stopped
func (p *importPipeline) ResumePending(ctx context.Context) (int, error) {
	jobs, err := p.jobs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}
	for _, job := range jobs {
		logger.GetLogger().WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": job.Status,
		}).Info("Resuming import job")
		p.schedule(context.WithoutCancel(ctx), job.ID)
	}
	return len(jobs), nil
}

// Wait blocks until every scheduled run has returned
func (p *importPipeline) Wait() {
	p.wg.Wait()
}

// schedule runs the job at most once at a time; a request during a run triggers one more pass
func (p *importPipeline) schedule(ctx context.Context, id string) {
	p.mu.Lock()
	if p.running[id] {
		p.rerun[id] = true
		p.mu.Unlock()
		return
	}
	p.running[id] = true
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		for {
			p.slots <- struct{}{}
			p.run(ctx, id)
			<-p.slots

			p.mu.Lock()
			if p.rerun[id] {
				delete(p.rerun, id)
				p.mu.Unlock()
				continue
			}
			delete(p.running, id)
			p.mu.Unlock()
			return
		}
	}()
}

// run advances the job stage by stage until it completes, fails or blocks
func (p *importPipeline) run(ctx context.Context, id string) {
	log := logger.GetLogger().WithField("job_id", id)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobs.GetByID(ctx, id)
		if err != nil {
			log.WithError(err).Error("Failed to load import job")
			return
		}
		if job.Status.IsTerminal() {
			return
		}
		if job.CancelRequested {
			if err := p.fail(ctx, job, job.Status, domain.KindCancelled, "import cancelled", false); err != nil {
				log.WithError(err).Error("Failed to cancel import job")
			}
			return
		}

		var blocked bool
		switch job.Status {
		case domain.ImportUploading:
			// the upload never finished; the payload is incomplete
			err = p.fail(ctx, job, domain.ImportUploading, domain.KindStructuralError, "upload interrupted", false)
		case domain.ImportParsing:
			err = p.stage(ctx, job, p.parse)
		case domain.ImportMapping:
			err = p.stage(ctx, job, func(ctx context.Context, job *domain.ImportJob) error {
				var mapErr error
				blocked, mapErr = p.resolveMappings(ctx, job)
				return mapErr
			})
		case domain.ImportValidating:
			err = p.stage(ctx, job, p.validate)
		case domain.ImportCommitting:
			err = p.stage(ctx, job, p.commit)
		}

		if err != nil {
			log.WithError(err).WithField("status", job.Status).Error("Import stage failed")
			return
		}
		if blocked {
			return
		}
	}
}

type stageFunc func(ctx context.Context, job *domain.ImportJob) error

func (p *importPipeline) stage(ctx context.Context, job *domain.ImportJob, fn stageFunc) error {
	ctx, span := tracer.Start(ctx, "ImportPipeline."+string(job.Status),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job_id", job.ID),
			attribute.Int("record_count", len(job.Records)),
		),
	)
	defer span.End()

	err := fn(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// parse turns the retained upload into records. Row errors are kept; file-level errors fail the job.
func (p *importPipeline) parse(ctx context.Context, job *domain.ImportJob) error {
	payload, err := p.jobs.GetPayload(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return p.fail(ctx, job, domain.ImportUploading, domain.KindStructuralError, "upload is missing", false)
		}
		return fmt.Errorf("failed to load upload: %w", err)
	}

	statementParser, err := parser.New(job.File.Format, parser.Options{
		MaxRows:           p.cfg.MaxRows,
		CurrencyExponent:  p.cfg.CurrencyExponent,
		DefaultAccountRef: job.File.AccountRef,
	})
	if err != nil {
		return p.fail(ctx, job, domain.ImportParsing, domain.KindStructuralError, err.Error(), false)
	}

	result, err := statementParser.Parse(ctx, bytes.NewReader(payload))
	if err != nil {
		var structural *domain.StructuralError
		if errors.As(err, &structural) {
			// re-parsing the same payload cannot get under the ceiling
			recoverable := !errors.Is(err, domain.ErrRowCeilingExceeded)
			return p.fail(ctx, job, domain.ImportParsing, domain.KindStructuralError, structural.Error(), recoverable)
		}
		return err
	}

	job.Records = result.Records
	job.Errors = append(job.Errors, result.Errors...)

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id":  job.ID,
		"rows":    result.Rows,
		"records": len(result.Records),
		"errors":  len(result.Errors),
	}).Info("Statement parsed")

	return p.transition(ctx, job, domain.ImportMapping)
}

type refUsage struct {
	kind domain.MappingKind
	ref  string
	rows []int
	idx  []int
}

// resolveMappings resolves every distinct account and voucher type ref.
// Unresolved refs become MAPPING_UNRESOLVED warnings and keep the job in mapping.
func (p *importPipeline) resolveMappings(ctx context.Context, job *domain.ImportJob) (bool, error) {
	var usages []*refUsage
	byKey := make(map[string]*refUsage)
	add := func(kind domain.MappingKind, ref string, i int) {
		if domain.NormalizeRef(ref) == "" {
			return
		}
		key := string(kind) + ":" + domain.NormalizeRef(ref)
		u, ok := byKey[key]
		if !ok {
			u = &refUsage{kind: kind, ref: ref}
			byKey[key] = u
			usages = append(usages, u)
		}
		u.rows = append(u.rows, job.Records[i].Row)
		u.idx = append(u.idx, i)
	}
	for i, rec := range job.Records {
		add(domain.MappingAccount, rec.ExternalAccountRef, i)
		add(domain.MappingVoucherType, rec.ExternalVoucherType, i)
	}

	var warnings []domain.ImportWarning
	for _, w := range job.Warnings {
		if w.Kind != domain.KindMappingUnresolved {
			warnings = append(warnings, w)
		}
	}

	scope := domain.ImportScope(job.ID)
	unresolved := 0
	for _, u := range usages {
		res, err := p.mapper.Resolve(ctx, u.kind, u.ref, scope)
		if err != nil {
			return false, fmt.Errorf("failed to resolve %s %q: %w", u.kind, u.ref, err)
		}
		if !res.Mapped() {
			unresolved++
			warnings = append(warnings, domain.ImportWarning{
				Kind:        domain.KindMappingUnresolved,
				MappingKind: u.kind,
				ExternalRef: u.ref,
				Rows:        u.rows,
				Message:     fmt.Sprintf("no %s mapping for %q", u.kind, u.ref),
				Suggestions: res.Suggestions,
			})
			continue
		}
		for _, i := range u.idx {
			if u.kind == domain.MappingAccount {
				job.Records[i].AccountID = res.InternalID
			} else {
				job.Records[i].VoucherType = res.InternalID
			}
		}
	}
	job.Warnings = warnings

	if unresolved > 0 {
		logger.GetLogger().WithFields(logrus.Fields{
			"job_id":     job.ID,
			"unresolved": unresolved,
		}).Warn("Import blocked on unresolved mappings")
		job.UpdatedAt = p.now()
		return true, p.save(ctx, job)
	}
	return false, p.transition(ctx, job, domain.ImportValidating)
}

// validate flags rows that must not be committed; records themselves are left untouched
func (p *importPipeline) validate(ctx context.Context, job *domain.ImportJob) error {
	periods, err := p.ledger.OpenPeriods(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open periods: %w", err)
	}

	var kept []domain.ImportError
	for _, e := range job.Errors {
		if e.Kind != domain.KindValidationError {
			kept = append(kept, e)
		}
	}
	job.Errors = kept

	reject := func(rec domain.CanonicalRecord, field, format string, args ...interface{}) {
		job.Errors = append(job.Errors, domain.ImportError{
			Kind:     domain.KindValidationError,
			Stage:    domain.ImportValidating,
			Row:      rec.Row,
			SourceID: rec.SourceID,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	seen := make(map[string]int, len(job.Records))
	for _, rec := range job.Records {
		if rec.Amount <= 0 {
			reject(rec, "amount", "amount must be positive, got %d", rec.Amount)
		}
		if !inOpenPeriod(periods, rec.Date) {
			reject(rec, "date", "date %s is outside the open ledger period", rec.Date.Format("2006-01-02"))
		}
		if first, dup := seen[rec.SourceID]; dup {
			reject(rec, "source_id", "duplicate source_id %q, first seen at row %d", rec.SourceID, first)
		} else {
			seen[rec.SourceID] = rec.Row
		}
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id":   job.ID,
		"rejected": len(job.RejectedRows()),
	}).Info("Records validated")

	job.NextCommitIndex = 0
	job.CommittedCount = 0
	job.FailedCount = 0
	return p.transition(ctx, job, domain.ImportCommitting)
}

// commit posts each accepted record in its own transaction, in record order.
// Postings are keyed by (job, row) so a resumed commit never duplicates one.
// A cancel request is honored after the next batch save.
func (p *importPipeline) commit(ctx context.Context, job *domain.ImportJob) error {
	rejected := job.RejectedRows()
	sinceSave := 0

	for i := job.NextCommitIndex; i < len(job.Records); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := job.Records[i]
		if rejected[rec.Row] {
			continue
		}

		rec.ImportID = job.ID
		job.Records[i].ImportID = job.ID
		_, err := p.ledger.Post(ctx, domain.Posting{
			ID:             uuid.New().String(),
			IdempotencyKey: fmt.Sprintf("%s:%d", job.ID, rec.Row),
			ImportID:       job.ID,
			Record:         rec,
			CreatedAt:      p.now(),
		})
		if err != nil {
			logger.GetLogger().WithError(err).WithFields(logrus.Fields{
				"job_id": job.ID,
				"row":    rec.Row,
			}).Warn("Failed to commit record")
			job.FailedCount++
			job.Errors = append(job.Errors, domain.ImportError{
				Kind:     domain.KindCommitConflict,
				Stage:    domain.ImportCommitting,
				Row:      rec.Row,
				SourceID: rec.SourceID,
				Message:  err.Error(),
			})
		} else {
			job.CommittedCount++
		}

		sinceSave++
		if sinceSave >= p.cfg.BatchSize {
			job.NextCommitIndex = i + 1
			job.UpdatedAt = p.now()
			if err := p.save(ctx, job); err != nil {
				return err
			}
			sinceSave = 0
			// each saved batch is a stage boundary for cancellation; posted records stay
			if job.CancelRequested {
				logger.GetLogger().WithFields(logrus.Fields{
					"job_id":    job.ID,
					"committed": job.CommittedCount,
					"next":      job.NextCommitIndex,
				}).Info("Import cancelled during commit")
				return p.fail(ctx, job, domain.ImportCommitting, domain.KindCancelled, "import cancelled", false)
			}
		}
	}
	job.NextCommitIndex = len(job.Records)

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id":    job.ID,
		"committed": job.CommittedCount,
		"failed":    job.FailedCount,
	}).Info("Records committed")

	if job.CommittedCount == 0 && job.FailedCount > 0 {
		return p.fail(ctx, job, domain.ImportCommitting, domain.KindCommitConflict, "no record could be committed", false)
	}
	completed := p.now()
	job.CompletedAt = &completed
	return p.transition(ctx, job, domain.ImportCompleted)
}

func (p *importPipeline) transition(ctx context.Context, job *domain.ImportJob, next domain.ImportStatus) error {
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("%s -> %s: %w", job.Status, next, domain.ErrInvalidTransition)
	}
	return p.setStatus(ctx, job, next)
}

func (p *importPipeline) setStatus(ctx context.Context, job *domain.ImportJob, next domain.ImportStatus) error {
	prev := job.Status
	job.Status = next
	job.UpdatedAt = p.now()
	if err := p.save(ctx, job); err != nil {
		job.Status = prev
		return err
	}

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id": job.ID,
		"from":   prev,
		"status": next,
	}).Info("Import stage transition")
	return nil
}

// save persists the job without losing a cancel request written concurrently
func (p *importPipeline) save(ctx context.Context, job *domain.ImportJob) error {
	unlock, err := p.locker.Lock(ctx, jobLockKey(job.ID))
	if err != nil {
		return err
	}
	defer unlock()

	if stored, err := p.jobs.GetByID(ctx, job.ID); err == nil && stored.CancelRequested {
		job.CancelRequested = true
	}
	if err := p.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist import job: %w", err)
	}
	return nil
}

func (p *importPipeline) fail(ctx context.Context, job *domain.ImportJob, stage domain.ImportStatus, kind domain.ErrorKind, message string, recoverable bool) error {
	job.Errors = append(job.Errors, domain.ImportError{
		Kind:    kind,
		Stage:   stage,
		Message: message,
	})
	job.FailedStage = stage
	job.Recoverable = recoverable

	logger.GetLogger().WithFields(logrus.Fields{
		"job_id":      job.ID,
		"stage":       stage,
		"kind":        kind,
		"recoverable": recoverable,
	}).Warn("Import failed: " + message)

	return p.setStatus(ctx, job, domain.ImportFailed)
}

// inOpenPeriod reports whether the date falls in one of the periods; no periods accept every date
func inOpenPeriod(periods []domain.Period, t time.Time) bool {
	if len(periods) == 0 {
		return true
	}
	for _, p := range periods {
		if p.Contains(t) {
			return true
		}
	}
	return false
}

func jobLockKey(id string) string {
	return "import:" + id
}
