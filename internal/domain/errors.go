package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrSessionClosedViolation = errors.New("reconciliation report is reviewed and cannot be changed")
	ErrReuploadRequired       = errors.New("import failed during upload; the file must be uploaded again")
	ErrNotRecoverable         = errors.New("import failure is not recoverable")
	ErrLedgerEntryConsumed    = errors.New("ledger entry is already consumed by an accepted match")
	ErrCandidateNotFound      = errors.New("match candidate not found")
	ErrReportNotFinal         = errors.New("report is still in progress")
	ErrLockNotObtained        = errors.New("could not obtain lock")
	ErrUnknownAccount         = errors.New("account is not part of the report")
	ErrRowCeilingExceeded     = errors.New("row ceiling exceeded")
)

// StructuralError is a file-level failure that aborts an import
type StructuralError struct {
	Reason string
	Line   int
	Err    error
}

func (e *StructuralError) Error() string {
	msg := e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NewStructuralError builds a StructuralError without a line reference
func NewStructuralError(reason string, err error) *StructuralError {
	return &StructuralError{Reason: reason, Err: err}
}
