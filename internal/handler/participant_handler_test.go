package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reentry-case-api/internal/dto"
	"github.com/noah-isme/reentry-case-api/internal/middleware"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/service"
	appErrors "github.com/noah-isme/reentry-case-api/pkg/errors"
)

type participantServiceMock struct {
	participant *models.Participant
	list        []models.Participant
	duplicates  []dto.DuplicateMatch
	err         error

	lastActor  models.Actor
	lastFilter models.ParticipantFilter
	lastStatus models.ParticipantStatus
	lastReason string
	lastQuery  dto.DuplicateQuery
	lastNote   string
	lastRole   models.AssignmentRole
	lastUserID string
	approval   *dto.GraduationApprovalRequest
	deleted    string
}

func (m *participantServiceMock) AddParticipant(ctx context.Context, req dto.CreateParticipantRequest, actor models.Actor) (*models.Participant, error) {
	m.lastActor = actor
	return m.participant, m.err
}

func (m *participantServiceMock) GetParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	return m.participant, m.err
}

func (m *participantServiceMock) ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error) {
	m.lastFilter = filter
	return m.list, &models.Pagination{Limit: filter.Limit, Offset: filter.Offset, Count: len(m.list)}, m.err
}

func (m *participantServiceMock) FindDuplicates(ctx context.Context, query dto.DuplicateQuery) ([]dto.DuplicateMatch, error) {
	m.lastQuery = query
	return m.duplicates, m.err
}

func (m *participantServiceMock) UpdateParticipantStatus(ctx context.Context, id string, status models.ParticipantStatus, actor models.Actor, reason string) (*models.Participant, error) {
	m.lastStatus, m.lastReason, m.lastActor = status, reason, actor
	return m.participant, m.err
}

func (m *participantServiceMock) AssignParticipant(ctx context.Context, id string, role models.AssignmentRole, userID string, actor models.Actor) (*models.Participant, error) {
	m.lastRole, m.lastUserID = role, userID
	return m.participant, m.err
}

func (m *participantServiceMock) AddNote(ctx context.Context, id, content string, actor models.Actor) (*models.Participant, error) {
	m.lastNote = content
	return m.participant, m.err
}

func (m *participantServiceMock) RecordContactAttempt(ctx context.Context, id string, req dto.ContactAttemptRequest, actor models.Actor) (*models.Participant, error) {
	return m.participant, m.err
}

func (m *participantServiceMock) RecordWeeklyUpdate(ctx context.Context, id string, req dto.WeeklyUpdateRequest, actor models.Actor) (*models.Participant, error) {
	return m.participant, m.err
}

func (m *participantServiceMock) RecordMonthlyCheckIn(ctx context.Context, id string, req dto.MonthlyCheckInRequest, actor models.Actor) (*models.Participant, error) {
	return m.participant, m.err
}

func (m *participantServiceMock) ApproveGraduation(ctx context.Context, id string, req dto.GraduationApprovalRequest, actor models.Actor) (*models.Participant, error) {
	m.approval = &req
	return m.participant, m.err
}

func (m *participantServiceMock) DeleteParticipant(ctx context.Context, id string, actor models.Actor) error {
	m.deleted = id
	return m.err
}

type exporterMock struct {
	format service.HistoryExportFormat
	file   *service.HistoryExport
	err    error
}

func (m *exporterMock) Export(ctx context.Context, id string, format service.HistoryExportFormat) (*service.HistoryExport, error) {
	m.format = format
	return m.file, m.err
}

func sampleParticipant() *models.Participant {
	return &models.Participant{
		ID:                       "p-1",
		FirstName:                "Jane",
		LastName:                 "Doe",
		Status:                   models.StatusActiveMentorship,
		CompletedGraduationSteps: []string{"orientation", "housing"},
	}
}

func newTestContext(method, target string, body []byte, role models.UserRole) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", FullName: "Sam Mentor", Role: role})
	return c, w
}

func TestParticipantHandlerCreate(t *testing.T) {
	mockSvc := &participantServiceMock{participant: sampleParticipant()}
	h := NewParticipantHandler(mockSvc, nil)

	payload, _ := json.Marshal(map[string]string{"firstName": "Jane", "lastName": "Doe"})
	c, w := newTestContext(http.MethodPost, "/participants", payload, models.RoleBridgeTeam)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.Actor{ID: "user-1", Name: "Sam Mentor", Role: models.RoleBridgeTeam}, mockSvc.lastActor)

	var env struct {
		Data struct {
			ID                 string `json:"id"`
			GraduationProgress int    `json:"graduationProgress"`
			StatusLabel        string `json:"statusLabel"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "p-1", env.Data.ID)
	assert.Equal(t, 20, env.Data.GraduationProgress)
	assert.Equal(t, models.StatusActiveMentorship.Label(), env.Data.StatusLabel)
}

func TestParticipantHandlerCreateInvalidBody(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{}, nil)
	c, w := newTestContext(http.MethodPost, "/participants", []byte(`{"firstName":`), models.RoleMentor)
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParticipantHandlerListParsesFilter(t *testing.T) {
	mockSvc := &participantServiceMock{list: []models.Participant{*sampleParticipant()}}
	h := NewParticipantHandler(mockSvc, nil)

	c, w := newTestContext(http.MethodGet, "/participants?status=pending_bridge,active_mentorship&status=graduated&assignedTo=m-1&limit=25&offset=5", nil, models.RoleMentor)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.ParticipantStatus{models.StatusPendingBridge, models.StatusActiveMentorship, models.StatusGraduated}, mockSvc.lastFilter.Status)
	assert.Equal(t, "m-1", mockSvc.lastFilter.AssignedTo)
	assert.Equal(t, 25, mockSvc.lastFilter.Limit)
	assert.Equal(t, 5, mockSvc.lastFilter.Offset)
	assert.Contains(t, w.Body.String(), `"pagination"`)
}

func TestParticipantHandlerListRejectsBadLimit(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/participants?limit=abc", nil, models.RoleMentor)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParticipantHandlerDuplicates(t *testing.T) {
	mockSvc := &participantServiceMock{duplicates: []dto.DuplicateMatch{{ID: "p-1", MatchedOn: "phone"}}}
	h := NewParticipantHandler(mockSvc, nil)

	c, w := newTestContext(http.MethodGet, "/participants/duplicates?phone=555-0100", nil, models.RoleMentor)
	h.Duplicates(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "555-0100", mockSvc.lastQuery.Phone)

	c, w = newTestContext(http.MethodGet, "/participants/duplicates", nil, models.RoleMentor)
	h.Duplicates(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParticipantHandlerGetNotFound(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "participant not found")}, nil)
	c, w := newTestContext(http.MethodGet, "/participants/missing", nil, models.RoleMentor)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestParticipantHandlerUpdateStatus(t *testing.T) {
	mockSvc := &participantServiceMock{participant: sampleParticipant()}
	h := NewParticipantHandler(mockSvc, nil)

	payload, _ := json.Marshal(dto.UpdateStatusRequest{Status: models.StatusPendingMentor, Reason: "bridge complete"})
	c, w := newTestContext(http.MethodPatch, "/participants/p-1/status", payload, models.RoleBridgeTeam)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	h.UpdateStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusPendingMentor, mockSvc.lastStatus)
	assert.Equal(t, "bridge complete", mockSvc.lastReason)
}

func TestParticipantHandlerUpdateStatusNotReady(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{err: appErrors.ErrNotReadyForGraduation}, nil)
	payload, _ := json.Marshal(dto.UpdateStatusRequest{Status: models.StatusGraduated})
	c, w := newTestContext(http.MethodPatch, "/participants/p-1/status", payload, models.RoleMentor)
	h.UpdateStatus(c)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_READY_FOR_GRADUATION")
}

func TestParticipantHandlerAssignAndNote(t *testing.T) {
	mockSvc := &participantServiceMock{participant: sampleParticipant()}
	h := NewParticipantHandler(mockSvc, nil)

	payload, _ := json.Marshal(dto.AssignParticipantRequest{Role: models.AssignmentMentor, UserID: "m-9"})
	c, w := newTestContext(http.MethodPut, "/participants/p-1/assignment", payload, models.RoleMentorshipLeader)
	h.Assign(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AssignmentMentor, mockSvc.lastRole)
	assert.Equal(t, "m-9", mockSvc.lastUserID)

	payload, _ = json.Marshal(dto.AddNoteRequest{Content: "Called family"})
	c, w = newTestContext(http.MethodPost, "/participants/p-1/notes", payload, models.RoleMentor)
	h.AddNote(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Called family", mockSvc.lastNote)
}

func TestParticipantHandlerFormsReturnCreated(t *testing.T) {
	mockSvc := &participantServiceMock{participant: sampleParticipant()}
	h := NewParticipantHandler(mockSvc, nil)

	for name, fn := range map[string]gin.HandlerFunc{
		"contact": h.RecordContactAttempt,
		"weekly":  h.RecordWeeklyUpdate,
		"monthly": h.RecordMonthlyCheckIn,
	} {
		c, w := newTestContext(http.MethodPost, "/participants/p-1/"+name, []byte(`{}`), models.RoleMentor)
		fn(c)
		assert.Equal(t, http.StatusCreated, w.Code, name)
	}
}

func TestParticipantHandlerApproveGraduationWithoutBody(t *testing.T) {
	mockSvc := &participantServiceMock{participant: sampleParticipant()}
	h := NewParticipantHandler(mockSvc, nil)

	c, w := newTestContext(http.MethodPost, "/participants/p-1/graduation", nil, models.RoleAdmin)
	h.ApproveGraduation(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.approval)
	assert.Empty(t, mockSvc.approval.Notes)
}

func TestParticipantHandlerApproveGraduationConflict(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "graduation already approved")}, nil)
	c, w := newTestContext(http.MethodPost, "/participants/p-1/graduation", []byte(`{"notes":"again"}`), models.RoleAdmin)
	h.ApproveGraduation(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestParticipantHandlerDelete(t *testing.T) {
	mockSvc := &participantServiceMock{}
	h := NewParticipantHandler(mockSvc, nil)

	c, w := newTestContext(http.MethodDelete, "/participants/p-1", nil, models.RoleAdmin)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	h.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "p-1", mockSvc.deleted)
}

func TestParticipantHandlerStoreUnavailable(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{err: appErrors.ErrStoreUnavailable}, nil)
	c, w := newTestContext(http.MethodPost, "/participants/p-1/notes", []byte(`{"content":"x"}`), models.RoleMentor)
	h.AddNote(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestParticipantHandlerExportHistory(t *testing.T) {
	exporter := &exporterMock{file: &service.HistoryExport{Filename: "history_Jane_Doe.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3")}}
	h := NewParticipantHandler(&participantServiceMock{}, exporter)

	c, w := newTestContext(http.MethodGet, "/participants/p-1/history/export?format=PDF", nil, models.RoleMentor)
	h.ExportHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.HistoryExportPDF, exporter.format)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="history_Jane_Doe.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestParticipantHandlerExportDisabled(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/participants/p-1/history/export", nil, models.RoleMentor)
	h.ExportHistory(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParticipantHandlerGraduationSteps(t *testing.T) {
	h := NewParticipantHandler(&participantServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/graduation-steps", nil, models.RoleMentor)
	h.GraduationSteps(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"orientation"`)
}
