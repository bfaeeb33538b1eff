package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/trackmate/attendance-api/internal/service"
	appErrors "github.com/trackmate/attendance-api/pkg/errors"
	"github.com/trackmate/attendance-api/pkg/response"
	"github.com/trackmate/attendance-api/pkg/spreadsheet"
)

// RosterHandler exposes roster ingestion endpoints.
type RosterHandler struct {
	rosters *service.RosterService
}

// NewRosterHandler constructs handler.
func NewRosterHandler(rosters *service.RosterService) *RosterHandler {
	return &RosterHandler{rosters: rosters}
}

// Upload godoc
// @Summary Upload the student roster spreadsheet
// @Tags Roster
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "XLSX file with roll and name columns"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /roster [post]
func (h *RosterHandler) Upload(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "roster file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read uploaded file"))
		return
	}
	defer file.Close() //nolint:errcheck

	table, err := spreadsheet.Read(file)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "uploaded file is not a readable spreadsheet"))
		return
	}

	roster, err := h.rosters.Upload(c.Request.Context(), session, table)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, roster)
}

// Get godoc
// @Summary Fetch the current roster
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /roster [get]
func (h *RosterHandler) Get(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	roster, err := h.rosters.Roster(c.Request.Context(), session)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster)
}
