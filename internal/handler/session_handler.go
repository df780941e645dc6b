package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/middleware"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/session"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/response"
)

type SessionHandler struct {
	service session.Service
}

func NewSessionHandler(service session.Service) *SessionHandler {
	return &SessionHandler{service: service}
}

type OpenSessionRequest struct {
	Period     string   `json:"period" binding:"required"`
	StartDate  string   `json:"start_date" binding:"required"`
	EndDate    string   `json:"end_date" binding:"required"`
	AccountIDs []string `json:"account_ids" binding:"required,min=1"`
}

type OpenSessionResponse struct {
	ReportID string `json:"report_id"`
}

type AcceptVarianceRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenSession godoc
// @Summary Open a reconciliation session
// @Description Create an in-progress report for a period and a set of accounts
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body OpenSessionRequest true "Session"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/sessions [post]
func (h *SessionHandler) OpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		response.BadRequest(c, "Invalid start_date format", "Use YYYY-MM-DD format")
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		response.BadRequest(c, "Invalid end_date format", "Use YYYY-MM-DD format")
		return
	}
	if endDate.Before(startDate) {
		response.BadRequest(c, "Invalid period", "end_date is before start_date")
		return
	}

	period := domain.Period{Name: req.Period, From: startDate, To: endDate}
	id, err := h.service.OpenSession(c.Request.Context(), period, req.AccountIDs, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err, "Failed to open session")
		return
	}

	logger.GetLogger().WithFields(map[string]interface{}{
		"report_id": id,
		"period":    req.Period,
	}).Info("Session opened")

	response.Success(c, http.StatusCreated, "Session opened", OpenSessionResponse{ReportID: id})
}

// GetSession godoc
// @Summary Get reconciliation report
// @Description Get a report with per-account items and variance breakdown
// @Tags sessions
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	report, err := h.service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get report")
		return
	}

	response.Success(c, http.StatusOK, "Report retrieved successfully", report)
}

// Advance godoc
// @Summary Advance a session
// @Description Re-run matching and variance analysis for every unresolved item
// @Tags sessions
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/sessions/{id}/advance [post]
func (h *SessionHandler) Advance(c *gin.Context) {
	report, err := h.service.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to advance session")
		return
	}

	response.Success(c, http.StatusOK, "Session advanced", report)
}

// AcceptMatch godoc
// @Summary Accept a manual match
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param request body session.MatchRequest true "Candidate"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/sessions/{id}/matches/accept [post]
func (h *SessionHandler) AcceptMatch(c *gin.Context) {
	h.decide(c, true)
}

// RejectMatch godoc
// @Summary Reject a manual match
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param request body session.MatchRequest true "Candidate"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/sessions/{id}/matches/reject [post]
func (h *SessionHandler) RejectMatch(c *gin.Context) {
	h.decide(c, false)
}

func (h *SessionHandler) decide(c *gin.Context, accept bool) {
	var req session.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	req.Actor = middleware.ActorFrom(c)

	var (
		report *domain.ReconciliationReport
		err    error
	)
	if accept {
		report, err = h.service.AcceptMatch(c.Request.Context(), c.Param("id"), req)
	} else {
		report, err = h.service.RejectMatch(c.Request.Context(), c.Param("id"), req)
	}
	if err != nil {
		respondError(c, err, "Failed to record match decision")
		return
	}

	response.Success(c, http.StatusOK, "Match decision recorded", report)
}

// AcceptVariance godoc
// @Summary Close an item with variance
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param account_id path string true "Account ID"
// @Param request body AcceptVarianceRequest true "Reason"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/sessions/{id}/items/{account_id}/accept-variance [post]
func (h *SessionHandler) AcceptVariance(c *gin.Context) {
	var req AcceptVarianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	report, err := h.service.AcceptVariance(c.Request.Context(), c.Param("id"), c.Param("account_id"), req.Reason, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err, "Failed to accept variance")
		return
	}

	response.Success(c, http.StatusOK, "Item closed with variance", report)
}

// CloseSession godoc
// @Summary Close a session
// @Description Mark the report reviewed; no further changes are accepted
// @Tags sessions
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/sessions/{id}/close [post]
func (h *SessionHandler) CloseSession(c *gin.Context) {
	report, err := h.service.Close(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err, "Failed to close session")
		return
	}

	response.Success(c, http.StatusOK, "Session closed", report)
}

// ExportSession godoc
// @Summary Export a report
// @Description Read-only snapshot of a completed or reviewed report
// @Tags sessions
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/sessions/{id}/export [get]
func (h *SessionHandler) ExportSession(c *gin.Context) {
	snapshot, err := h.service.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to export report")
		return
	}

	response.Success(c, http.StatusOK, "Report exported", snapshot)
}
