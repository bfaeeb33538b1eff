package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/trackmate/attendance-api/internal/models"
	"github.com/trackmate/attendance-api/internal/service"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/response"
)

// AttendanceHandler exposes session recording and ledger views.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	metrics    *service.MetricsService
}

// NewAttendanceHandler constructs handler.
func NewAttendanceHandler(attendance *service.AttendanceService, metrics *service.MetricsService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, metrics: metrics}
}

// RecordSession godoc
// @Summary Record one attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.RecordSessionRequest true "Session"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/sessions [post]
func (h *AttendanceHandler) RecordSession(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RecordSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	ledger, err := h.attendance.RecordSession(c.Request.Context(), session, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordSessionRecorded(req.Kind)
	response.JSON(c, http.StatusOK, ledger)
}

// Ledger godoc
// @Summary Fetch one attendance ledger
// @Tags Attendance
// @Produce json
// @Param kind path string true "Ledger kind" Enums(class, practical, batch)
// @Param batch query string false "Batch label for batch ledgers"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/ledgers/{kind} [get]
func (h *AttendanceHandler) Ledger(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	kind := models.TableKind(c.Param("kind"))
	batchKey := ""
	switch kind {
	case models.TableClass, models.TablePractical:
	case models.TableBatch:
		batch, ok := models.ParseBatch(c.Query("batch"))
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "batch query parameter is required for batch ledgers"))
			return
		}
		batchKey = string(batch)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown ledger kind"))
		return
	}

	ledger, err := h.attendance.Ledger(c.Request.Context(), session, kind, batchKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger)
}

// RecentAbsences godoc
// @Summary List absentees for the most recent sessions
// @Tags Attendance
// @Produce json
// @Param kind query string true "Session kind" Enums(Class, Practical)
// @Param batch query string false "Batch label for practical sessions"
// @Param window query int false "Number of sessions to look back" default(5)
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /attendance/recent [get]
func (h *AttendanceHandler) RecentAbsences(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	kind := models.SessionKind(c.Query("kind"))
	batch, _ := models.ParseBatch(c.Query("batch"))
	window := 5
	if raw := c.Query("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "window must be a positive integer"))
			return
		}
		window = parsed
	}

	recent, err := h.attendance.RecentAbsences(c.Request.Context(), session, kind, batch, window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, recent, map[string]interface{}{"window": window})
}
