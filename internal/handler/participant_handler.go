package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/reentry-case-api/internal/dto"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/service"
	appErrors "github.com/noah-isme/reentry-case-api/pkg/errors"
	"github.com/noah-isme/reentry-case-api/pkg/response"
)

type participantService interface {
	AddParticipant(ctx context.Context, req dto.CreateParticipantRequest, actor models.Actor) (*models.Participant, error)
	GetParticipantByID(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error)
	FindDuplicates(ctx context.Context, query dto.DuplicateQuery) ([]dto.DuplicateMatch, error)
	UpdateParticipantStatus(ctx context.Context, id string, status models.ParticipantStatus, actor models.Actor, reason string) (*models.Participant, error)
	AssignParticipant(ctx context.Context, id string, role models.AssignmentRole, userID string, actor models.Actor) (*models.Participant, error)
	AddNote(ctx context.Context, id, content string, actor models.Actor) (*models.Participant, error)
	RecordContactAttempt(ctx context.Context, id string, req dto.ContactAttemptRequest, actor models.Actor) (*models.Participant, error)
	RecordWeeklyUpdate(ctx context.Context, id string, req dto.WeeklyUpdateRequest, actor models.Actor) (*models.Participant, error)
	RecordMonthlyCheckIn(ctx context.Context, id string, req dto.MonthlyCheckInRequest, actor models.Actor) (*models.Participant, error)
	ApproveGraduation(ctx context.Context, id string, req dto.GraduationApprovalRequest, actor models.Actor) (*models.Participant, error)
	DeleteParticipant(ctx context.Context, id string, actor models.Actor) error
}

type historyExporter interface {
	Export(ctx context.Context, id string, format service.HistoryExportFormat) (*service.HistoryExport, error)
}

// ParticipantHandler exposes the participant lifecycle endpoints.
type ParticipantHandler struct {
	participants participantService
	exports      historyExporter
}

// NewParticipantHandler constructs ParticipantHandler. A nil exporter disables
// the history export route.
func NewParticipantHandler(participants participantService, exports historyExporter) *ParticipantHandler {
	return &ParticipantHandler{participants: participants, exports: exports}
}

// GraduationSteps godoc
// @Summary List graduation steps
// @Tags Participants
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /graduation-steps [get]
func (h *ParticipantHandler) GraduationSteps(c *gin.Context) {
	response.JSON(c, http.StatusOK, models.GraduationSteps(), nil, map[string]interface{}{
		"total": models.TotalGraduationSteps,
	})
}

// Create godoc
// @Summary Add participant
// @Tags Participants
// @Accept json
// @Produce json
// @Param payload body dto.CreateParticipantRequest true "Intake payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /participants [post]
func (h *ParticipantHandler) Create(c *gin.Context) {
	var req dto.CreateParticipantRequest
	if !bindJSON(c, &req) {
		return
	}
	participant, err := h.participants.AddParticipant(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewParticipantView(participant))
}

// List godoc
// @Summary List participants
// @Tags Participants
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param assignedTo query string false "Staff user assigned in any role"
// @Param limit query int false "Page size (max 500)"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /participants [get]
func (h *ParticipantHandler) List(c *gin.Context) {
	filter, err := parseParticipantFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	participants, pagination, err := h.participants.ListParticipants(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]dto.ParticipantView, 0, len(participants))
	for i := range participants {
		views = append(views, dto.NewParticipantView(&participants[i]))
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Duplicates godoc
// @Summary Find possible duplicate participants by contact
// @Tags Participants
// @Produce json
// @Param phone query string false "Phone number, exact match"
// @Param email query string false "Email, exact match"
// @Success 200 {object} response.Envelope
// @Router /participants/duplicates [get]
func (h *ParticipantHandler) Duplicates(c *gin.Context) {
	query := dto.DuplicateQuery{Phone: c.Query("phone"), Email: c.Query("email")}
	if strings.TrimSpace(query.Phone) == "" && strings.TrimSpace(query.Email) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "phone or email is required"))
		return
	}
	matches, err := h.participants.FindDuplicates(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, matches, nil)
}

// Get godoc
// @Summary Get participant detail
// @Tags Participants
// @Produce json
// @Param id path string true "Participant ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /participants/{id} [get]
func (h *ParticipantHandler) Get(c *gin.Context) {
	participant, err := h.participants.GetParticipantByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewParticipantView(participant), nil)
}

// UpdateStatus godoc
// @Summary Change participant status
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.UpdateStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /participants/{id}/status [patch]
func (h *ParticipantHandler) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondView(c)(h.participants.UpdateParticipantStatus(c.Request.Context(), c.Param("id"), req.Status, actorFromContext(c), req.Reason))
}

// Assign godoc
// @Summary Set or clear a staff assignment
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.AssignParticipantRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /participants/{id}/assignment [put]
func (h *ParticipantHandler) Assign(c *gin.Context) {
	var req dto.AssignParticipantRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondView(c)(h.participants.AssignParticipant(c.Request.Context(), c.Param("id"), req.Role, req.UserID, actorFromContext(c)))
}

// AddNote godoc
// @Summary Add a note
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.AddNoteRequest true "Note payload"
// @Success 201 {object} response.Envelope
// @Router /participants/{id}/notes [post]
func (h *ParticipantHandler) AddNote(c *gin.Context) {
	var req dto.AddNoteRequest
	if !bindJSON(c, &req) {
		return
	}
	participant, err := h.participants.AddNote(c.Request.Context(), c.Param("id"), req.Content, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewParticipantView(participant))
}

// RecordContactAttempt godoc
// @Summary Record a contact attempt
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.ContactAttemptRequest true "Contact attempt"
// @Success 201 {object} response.Envelope
// @Router /participants/{id}/contact-attempts [post]
func (h *ParticipantHandler) RecordContactAttempt(c *gin.Context) {
	var req dto.ContactAttemptRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondCreated(c)(h.participants.RecordContactAttempt(c.Request.Context(), c.Param("id"), req, actorFromContext(c)))
}

// RecordWeeklyUpdate godoc
// @Summary Submit a weekly update
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.WeeklyUpdateRequest true "Weekly update"
// @Success 201 {object} response.Envelope
// @Router /participants/{id}/weekly-updates [post]
func (h *ParticipantHandler) RecordWeeklyUpdate(c *gin.Context) {
	var req dto.WeeklyUpdateRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondCreated(c)(h.participants.RecordWeeklyUpdate(c.Request.Context(), c.Param("id"), req, actorFromContext(c)))
}

// RecordMonthlyCheckIn godoc
// @Summary Submit a monthly check-in
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.MonthlyCheckInRequest true "Monthly check-in"
// @Success 201 {object} response.Envelope
// @Router /participants/{id}/monthly-check-ins [post]
func (h *ParticipantHandler) RecordMonthlyCheckIn(c *gin.Context) {
	var req dto.MonthlyCheckInRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondCreated(c)(h.participants.RecordMonthlyCheckIn(c.Request.Context(), c.Param("id"), req, actorFromContext(c)))
}

// ApproveGraduation godoc
// @Summary Approve graduation
// @Tags Participants
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param payload body dto.GraduationApprovalRequest false "Approval notes"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /participants/{id}/graduation [post]
func (h *ParticipantHandler) ApproveGraduation(c *gin.Context) {
	var req dto.GraduationApprovalRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	h.respondView(c)(h.participants.ApproveGraduation(c.Request.Context(), c.Param("id"), req, actorFromContext(c)))
}

// Delete godoc
// @Summary Delete participant
// @Tags Participants
// @Param id path string true "Participant ID"
// @Success 204
// @Router /participants/{id} [delete]
func (h *ParticipantHandler) Delete(c *gin.Context) {
	if err := h.participants.DeleteParticipant(c.Request.Context(), c.Param("id"), actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportHistory godoc
// @Summary Download participant history
// @Tags Participants
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Participant ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /participants/{id}/history/export [get]
func (h *ParticipantHandler) ExportHistory(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "history export is disabled"))
		return
	}
	format := service.HistoryExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.HistoryExportCSV))))
	file, err := h.exports.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func (h *ParticipantHandler) respondView(c *gin.Context) func(*models.Participant, error) {
	return func(participant *models.Participant, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, dto.NewParticipantView(participant), nil)
	}
}

func (h *ParticipantHandler) respondCreated(c *gin.Context) func(*models.Participant, error) {
	return func(participant *models.Participant, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Created(c, dto.NewParticipantView(participant))
	}
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

func parseParticipantFilter(c *gin.Context) (models.ParticipantFilter, error) {
	var filter models.ParticipantFilter
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Status = append(filter.Status, models.ParticipantStatus(part))
			}
		}
	}
	filter.AssignedTo = strings.TrimSpace(c.Query("assignedTo"))

	var err error
	if filter.Limit, err = intQuery(c, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = intQuery(c, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return v, nil
}
