package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/session"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/response"
)

// respondError maps domain errors onto the response envelope
func respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrCandidateNotFound),
		errors.Is(err, domain.ErrUnknownAccount):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrSessionClosedViolation),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrLedgerEntryConsumed),
		errors.Is(err, domain.ErrReuploadRequired),
		errors.Is(err, domain.ErrNotRecoverable),
		errors.Is(err, domain.ErrReportNotFinal):
		response.Conflict(c, message, err.Error())
	case errors.Is(err, session.ErrReasonRequired),
		errors.Is(err, session.ErrNoAccounts),
		errors.Is(err, session.ErrInvalidPeriod):
		response.ValidationError(c, err.Error())
	case errors.Is(err, domain.ErrLockNotObtained):
		response.Unavailable(c, message, err.Error())
	default:
		logger.GetLogger().WithError(err).WithField("path", c.Request.URL.Path).Error(message)
		response.InternalError(c, message, err.Error())
	}
}
