package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/middleware"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/pipeline"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/logger"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/response"
)

type ImportHandler struct {
	pipeline pipeline.Pipeline
}

func NewImportHandler(p pipeline.Pipeline) *ImportHandler {
	return &ImportHandler{pipeline: p}
}

type StartImportResponse struct {
	JobID string `json:"job_id"`
}

type ResolveMappingRequest struct {
	Kind        domain.MappingKind `json:"kind" binding:"required,oneof=account voucher_type"`
	ExternalRef string             `json:"external_ref" binding:"required"`
	InternalID  string             `json:"internal_id" binding:"required"`
	Global      bool               `json:"global"`
}

// StartImport godoc
// @Summary Upload a statement
// @Description Upload a CSV, XLSX or XML statement and start an import job
// @Tags imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Statement file"
// @Param format formData string false "CSV, XLSX or XML (defaults to the file extension)"
// @Param source formData string false "Bank or ledger export identifier"
// @Param account_ref formData string false "Account ref for files without an account column"
// @Success 202 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/imports [post]
func (h *ImportHandler) StartImport(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "File is required", err.Error())
		return
	}

	format := strings.ToUpper(strings.TrimSpace(c.PostForm("format")))
	if format == "" {
		format = strings.ToUpper(strings.TrimPrefix(filepath.Ext(fileHeader.Filename), "."))
	}
	switch domain.FileFormat(format) {
	case domain.FormatCSV, domain.FormatXLSX, domain.FormatXML:
	default:
		response.BadRequest(c, "Unsupported file format", "Use CSV, XLSX or XML")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "Unreadable upload", err.Error())
		return
	}
	defer file.Close()

	descriptor := domain.FileDescriptor{
		Name:       fileHeader.Filename,
		Format:     domain.FileFormat(format),
		Source:     c.PostForm("source"),
		Size:       fileHeader.Size,
		Actor:      middleware.ActorFrom(c),
		AccountRef: strings.TrimSpace(c.PostForm("account_ref")),
	}

	jobID, err := h.pipeline.StartImport(c.Request.Context(), descriptor, file)
	if err != nil {
		respondError(c, err, "Failed to start import")
		return
	}

	logger.GetLogger().WithFields(map[string]interface{}{
		"job_id": jobID,
		"file":   descriptor.Name,
		"format": descriptor.Format,
	}).Info("Import accepted")

	response.Accepted(c, "Import started", StartImportResponse{JobID: jobID})
}

// GetImport godoc
// @Summary Get import job
// @Description Get an import job with its records, errors and warnings
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/imports/{id} [get]
func (h *ImportHandler) GetImport(c *gin.Context) {
	job, err := h.pipeline.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get import job")
		return
	}

	response.Success(c, http.StatusOK, "Import job retrieved successfully", job)
}

// CancelImport godoc
// @Summary Cancel import job
// @Description Request cancellation; the job stops at the next stage boundary
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/imports/{id}/cancel [post]
func (h *ImportHandler) CancelImport(c *gin.Context) {
	id := c.Param("id")
	if err := h.pipeline.Cancel(c.Request.Context(), id, middleware.ActorFrom(c)); err != nil {
		respondError(c, err, "Failed to cancel import")
		return
	}

	response.Accepted(c, "Cancellation requested", StartImportResponse{JobID: id})
}

// RetryImport godoc
// @Summary Retry import job
// @Description Re-run parsing of a job that failed recoverably
// @Tags imports
// @Produce json
// @Param id path string true "Job ID"
// @Success 202 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/imports/{id}/retry [post]
func (h *ImportHandler) RetryImport(c *gin.Context) {
	id := c.Param("id")
	if err := h.pipeline.Retry(c.Request.Context(), id); err != nil {
		respondError(c, err, "Failed to retry import")
		return
	}

	response.Accepted(c, "Retry scheduled", StartImportResponse{JobID: id})
}

// ResolveMapping godoc
// @Summary Resolve an unmapped reference
// @Description Save a mapping for a job blocked in mapping and resume it
// @Tags imports
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param request body ResolveMappingRequest true "Mapping"
// @Success 202 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/imports/{id}/mappings [post]
func (h *ImportHandler) ResolveMapping(c *gin.Context) {
	var req ResolveMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	mapping, err := h.pipeline.ResolveMapping(c.Request.Context(), pipeline.ResolveRequest{
		JobID:       c.Param("id"),
		Kind:        req.Kind,
		ExternalRef: req.ExternalRef,
		InternalID:  req.InternalID,
		Global:      req.Global,
		Actor:       middleware.ActorFrom(c),
	})
	if err != nil {
		respondError(c, err, "Failed to resolve mapping")
		return
	}

	response.Accepted(c, "Mapping saved, import resumed", mapping)
}
