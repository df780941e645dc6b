package domain

import "time"

// ImportStatus is the lifecycle state of an ImportJob
type ImportStatus string

const (
	ImportUploading  ImportStatus = "uploading"
	ImportParsing    ImportStatus = "parsing"
	ImportMapping    ImportStatus = "mapping"
	ImportValidating ImportStatus = "validating"
	ImportCommitting ImportStatus = "committing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

var importTransitions = map[ImportStatus][]ImportStatus{
	ImportUploading:  {ImportParsing, ImportFailed},
	ImportParsing:    {ImportMapping, ImportFailed},
	ImportMapping:    {ImportValidating, ImportFailed},
	ImportValidating: {ImportCommitting, ImportFailed},
	ImportCommitting: {ImportCompleted, ImportFailed},
	// retry
	ImportFailed: {ImportParsing},
}

// CanTransition reports whether the import state machine allows moving from s to next
func (s ImportStatus) CanTransition(next ImportStatus) bool {
	for _, allowed := range importTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automatic progress is possible
func (s ImportStatus) IsTerminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// FileFormat is the declared format of an uploaded statement
type FileFormat string

const (
	FormatCSV  FileFormat = "CSV"
	FormatXLSX FileFormat = "XLSX"
	FormatXML  FileFormat = "XML"
)

// FileDescriptor describes an uploaded statement file
type FileDescriptor struct {
	Name   string     `json:"name"`
	Format FileFormat `json:"format"`
	Source string     `json:"source"` // bank / ledger export identifier
	Size   int64      `json:"size"`
	Actor  string     `json:"actor,omitempty"`
	// AccountRef is applied to rows without an account column.
	AccountRef string `json:"account_ref,omitempty"`
}

// ErrorKind enumerates the row and file level error taxonomy
type ErrorKind string

const (
	KindParseError        ErrorKind = "PARSE_ERROR"
	KindStructuralError   ErrorKind = "STRUCTURAL_ERROR"
	KindMappingUnresolved ErrorKind = "MAPPING_UNRESOLVED"
	KindValidationError   ErrorKind = "VALIDATION_ERROR"
	KindCommitConflict    ErrorKind = "COMMIT_CONFLICT"
	KindCancelled         ErrorKind = "CANCELLED"
)

// ImportError is a row-level (or, for STRUCTURAL_ERROR, file-level) problem attached to a job
type ImportError struct {
	Kind     ErrorKind    `json:"kind"`
	Stage    ImportStatus `json:"stage"`
	Row      int          `json:"row,omitempty"`
	SourceID string       `json:"source_id,omitempty"`
	Field    string       `json:"field,omitempty"`
	Message  string       `json:"message"`
}

// ImportWarning is a non-fatal finding; MAPPING_UNRESOLVED warnings block the mapping stage
type ImportWarning struct {
	Kind        ErrorKind           `json:"kind"`
	MappingKind MappingKind         `json:"mapping_kind,omitempty"`
	ExternalRef string              `json:"external_ref,omitempty"`
	Rows        []int               `json:"rows,omitempty"`
	Message     string              `json:"message"`
	Suggestions []MappingSuggestion `json:"suggestions,omitempty"`
}

// ImportJob tracks one statement import through the pipeline
type ImportJob struct {
	ID              string            `json:"id" db:"id"`
	File            FileDescriptor    `json:"file" db:"file"`
	Status          ImportStatus      `json:"status" db:"status"`
	Records         []CanonicalRecord `json:"records" db:"records"`
	Errors          []ImportError     `json:"errors" db:"errors"`
	Warnings        []ImportWarning   `json:"warnings" db:"warnings"`
	FailedStage     ImportStatus      `json:"failed_stage,omitempty" db:"failed_stage"`
	Recoverable     bool              `json:"recoverable" db:"recoverable"`
	CancelRequested bool              `json:"cancel_requested" db:"cancel_requested"`
	NextCommitIndex int               `json:"next_commit_index" db:"next_commit_index"`
	CommittedCount  int               `json:"committed_count" db:"committed_count"`
	FailedCount     int               `json:"failed_count" db:"failed_count"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}

// ErrorsOf returns the job errors of the given kind
func (j *ImportJob) ErrorsOf(kind ErrorKind) []ImportError {
	var out []ImportError
	for _, e := range j.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// RejectedRows returns the rows that must not be committed
func (j *ImportJob) RejectedRows() map[int]bool {
	rejected := make(map[int]bool)
	for _, e := range j.Errors {
		if e.Kind == KindValidationError && e.Row > 0 {
			rejected[e.Row] = true
		}
	}
	return rejected
}

// Clone returns a deep copy so stored jobs are never aliased by callers
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Records = append([]CanonicalRecord(nil), j.Records...)
	c.Errors = append([]ImportError(nil), j.Errors...)
	c.Warnings = make([]ImportWarning, len(j.Warnings))
	for i, w := range j.Warnings {
		w.Rows = append([]int(nil), w.Rows...)
		w.Suggestions = append([]MappingSuggestion(nil), w.Suggestions...)
		c.Warnings[i] = w
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
