package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/domain"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/mapper"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/internal/middleware"
	"github.com/SagarSreekumarPillai/ledgerfy-sub001/pkg/response"
)

type MappingHandler struct {
	mapper mapper.Mapper
}

func NewMappingHandler(m mapper.Mapper) *MappingHandler {
	return &MappingHandler{mapper: m}
}

type SaveMappingRequest struct {
	Kind        domain.MappingKind `json:"kind" binding:"required,oneof=account voucher_type"`
	ExternalRef string             `json:"external_ref" binding:"required"`
	InternalID  string             `json:"internal_id" binding:"required"`
	// ImportID scopes the mapping to one import; empty means global
	ImportID string `json:"import_id"`
}

type ResolveQuery struct {
	Kind     domain.MappingKind `form:"kind" binding:"required,oneof=account voucher_type"`
	Ref      string             `form:"ref" binding:"required"`
	ImportID string             `form:"import_id"`
}

type ResolveResponse struct {
	Mapped      bool                       `json:"mapped"`
	InternalID  string                     `json:"internal_id,omitempty"`
	Source      mapper.Source              `json:"source"`
	Suggestions []domain.MappingSuggestion `json:"suggestions,omitempty"`
}

// SaveMapping godoc
// @Summary Save a mapping
// @Description Map an external account or voucher type ref to an internal id (last write wins)
// @Tags mappings
// @Accept json
// @Produce json
// @Param request body SaveMappingRequest true "Mapping"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/mappings [post]
func (h *MappingHandler) SaveMapping(c *gin.Context) {
	var req SaveMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	mapping, err := h.mapper.SaveMapping(c.Request.Context(), mapper.SaveRequest{
		Kind:        req.Kind,
		ExternalRef: req.ExternalRef,
		InternalID:  req.InternalID,
		Scope:       domain.ImportScope(req.ImportID),
		Actor:       middleware.ActorFrom(c),
	})
	if err != nil {
		respondError(c, err, "Failed to save mapping")
		return
	}

	response.Success(c, http.StatusOK, "Mapping saved successfully", mapping)
}

// ResolveMapping godoc
// @Summary Resolve a ref
// @Description Look up a ref: per-import override, then global mapping, then suggestions
// @Tags mappings
// @Produce json
// @Param kind query string true "account or voucher_type"
// @Param ref query string true "External ref"
// @Param import_id query string false "Import for override lookup"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/mappings/resolve [get]
func (h *MappingHandler) ResolveMapping(c *gin.Context) {
	var q ResolveQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	res, err := h.mapper.Resolve(c.Request.Context(), q.Kind, q.Ref, domain.ImportScope(q.ImportID))
	if err != nil {
		respondError(c, err, "Failed to resolve mapping")
		return
	}

	response.Success(c, http.StatusOK, "Mapping resolved", ResolveResponse{
		Mapped:      res.Mapped(),
		InternalID:  res.InternalID,
		Source:      res.Source,
		Suggestions: res.Suggestions,
	})
}

// SuggestMappings godoc
// @Summary Suggest mapping targets
// @Description Rank internal targets by similarity to a ref; suggestions are never applied
// @Tags mappings
// @Produce json
// @Param kind query string true "account or voucher_type"
// @Param ref query string true "External ref"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.Response
// @Router /api/v1/mappings/suggestions [get]
func (h *MappingHandler) SuggestMappings(c *gin.Context) {
	var q ResolveQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	suggestions, err := h.mapper.Suggest(c.Request.Context(), q.Kind, q.Ref)
	if err != nil {
		respondError(c, err, "Failed to suggest mappings")
		return
	}

	response.Success(c, http.StatusOK, "Suggestions retrieved", suggestions)
}
