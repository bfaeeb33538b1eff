package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trackmate/attendance-api/internal/models"
	"github.com/trackmate/attendance-api/internal/service"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/response"
)

// DefaulterHandler exposes defaulter computation endpoints.
type DefaulterHandler struct {
	defaulters *service.DefaulterService
}

// NewDefaulterHandler constructs handler.
func NewDefaulterHandler(defaulters *service.DefaulterService) *DefaulterHandler {
	return &DefaulterHandler{defaulters: defaulters}
}

// Compute godoc
// @Summary Compute and persist a defaulter snapshot
// @Tags Defaulters
// @Accept json
// @Produce json
// @Param payload body service.ComputeDefaultersRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /defaulters/compute [post]
func (h *DefaulterHandler) Compute(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ComputeDefaultersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	result, err := h.defaulters.Compute(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Current godoc
// @Summary Fetch the latest defaulter snapshot
// @Tags Defaulters
// @Produce json
// @Param kind query string true "Session kind" Enums(Class, Practical)
// @Param batch query string false "Batch label for practical snapshots"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /defaulters [get]
func (h *DefaulterHandler) Current(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	kind := models.SessionKind(c.Query("kind"))
	batch, _ := models.ParseBatch(c.Query("batch"))

	snapshot, err := h.defaulters.Current(c.Request.Context(), session, kind, batch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot)
}
