package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/dto"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/repository"
	appErrors "github.com/noah-isme/reentry-case-api/pkg/errors"
	"github.com/noah-isme/reentry-case-api/pkg/logger"
)

const (
	weeklyUpdateInterval   = 7 * 24 * time.Hour
	monthlyCheckInInterval = 30 * 24 * time.Hour
)

type participantStore interface {
	Create(ctx context.Context, participant *models.Participant) error
	GetByID(ctx context.Context, id string) (*models.Participant, error)
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error)
	FindByContact(ctx context.Context, field repository.ContactField, value string) ([]models.Participant, error)
	Apply(ctx context.Context, mutation models.ParticipantMutation) error
	Delete(ctx context.Context, id string) error
}

// participantSnapshot is the local read model used when the store cannot answer.
type participantSnapshot interface {
	Get(id string) (*models.Participant, bool)
	List(filter models.ParticipantFilter) []models.Participant
	FindByContact(field repository.ContactField, value string) []models.Participant
}

type changeNotifier interface {
	Notify(ctx context.Context, event models.ParticipantEvent) error
}

// ParticipantService owns the participant lifecycle: intake, status
// transitions, check-ins, notes and the graduation gate.
type ParticipantService struct {
	store     participantStore
	directory participantSnapshot
	notifier  changeNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ParticipantServiceOption configures the service.
type ParticipantServiceOption func(*ParticipantService)

// WithParticipantDirectory sets the live collection used for degraded reads.
func WithParticipantDirectory(directory participantSnapshot) ParticipantServiceOption {
	return func(s *ParticipantService) {
		s.directory = directory
	}
}

// WithParticipantNotifier sets the change notifier.
func WithParticipantNotifier(notifier changeNotifier) ParticipantServiceOption {
	return func(s *ParticipantService) {
		s.notifier = notifier
	}
}

// WithParticipantMetrics attaches lifecycle metrics.
func WithParticipantMetrics(metrics *MetricsService) ParticipantServiceOption {
	return func(s *ParticipantService) {
		s.metrics = metrics
	}
}

// WithParticipantClock overrides the time source.
func WithParticipantClock(now func() time.Time) ParticipantServiceOption {
	return func(s *ParticipantService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewParticipantService constructs the service. A nil store is allowed: writes
// then fail with STORE_UNAVAILABLE and reads fall back to the directory.
func NewParticipantService(store participantStore, validate *validator.Validate, logger *zap.Logger, opts ...ParticipantServiceOption) *ParticipantService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ParticipantService{
		store:     store,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// AddParticipant validates an intake and creates the participant in pending_bridge.
func (s *ParticipantService) AddParticipant(ctx context.Context, req dto.CreateParticipantRequest, actor models.Actor) (*models.Participant, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Gender = strings.TrimSpace(req.Gender)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Email = strings.TrimSpace(req.Email)
	req.ParticipantNumber = strings.TrimSpace(req.ParticipantNumber)
	req.ReleasedFrom = strings.TrimSpace(req.ReleasedFrom)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid participant payload")
	}
	if req.PhoneNumber == "" && req.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one contact method (phone or email) is required")
	}
	now := s.now()
	if req.DateOfBirth.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth is required")
	}
	if req.DateOfBirth.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth cannot be in the future")
	}
	if req.ReleaseDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "releaseDate is required")
	}
	if s.store == nil {
		return nil, s.storeUnavailable()
	}

	source := req.Source
	if source == "" {
		source = models.IntakeSourceManual
	}
	participant := &models.Participant{
		ID:                       uuid.NewString(),
		FirstName:                req.FirstName,
		LastName:                 req.LastName,
		DateOfBirth:              req.DateOfBirth,
		Age:                      ageAt(req.DateOfBirth, now),
		Gender:                   req.Gender,
		PhoneNumber:              optionalValue(req.PhoneNumber),
		Email:                    optionalValue(req.Email),
		ParticipantNumber:        req.ParticipantNumber,
		ReleaseDate:              req.ReleaseDate,
		TimeOut:                  daysSince(req.ReleaseDate, now),
		ReleasedFrom:             req.ReleasedFrom,
		Status:                   models.StatusPendingBridge,
		CompletedGraduationSteps: []string{},
		Notes:                    []models.Note{},
		ExtraFields:              req.ExtraFields,
		Source:                   source,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	participant.History = []models.HistoryEntry{{
		ID:            uuid.NewString(),
		Type:          models.HistoryStatusChange,
		Description:   "Participant added",
		CreatedBy:     actor.ID,
		CreatedByName: actor.Name,
		CreatedAt:     now,
		Metadata: map[string]string{
			"source": string(source),
			"to":     string(models.StatusPendingBridge),
		},
	}}

	if err := s.store.Create(ctx, participant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create participant")
	}
	s.metrics.RecordParticipantCreated(string(source))
	s.metrics.RecordHistoryEntry(string(models.HistoryStatusChange))
	logger.ForContext(ctx, s.logger).Info("participant added",
		zap.String("participant_id", participant.ID),
		zap.String("source", string(source)),
		zap.String("actor_id", actor.ID),
	)
	s.publish(ctx, models.ParticipantEventUpserted, participant)
	return participant, nil
}

// GetParticipantByID loads one participant. When the store is unavailable the
// live directory answers, possibly with stale data.
func (s *ParticipantService) GetParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	if s.store == nil {
		return s.getFromDirectory(id)
	}
	participant, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found")
		}
		if s.directory != nil {
			logger.ForContext(ctx, s.logger).Warn("participant store read failed, serving from directory", zap.String("participant_id", id), zap.Error(err))
			return s.getFromDirectory(id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}
	return participant, nil
}

// ListParticipants returns participants newest first with pagination metadata.
func (s *ParticipantService) ListParticipants(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, *models.Pagination, error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var participants []models.Participant
	switch {
	case s.store == nil:
		participants = s.listFromDirectory(filter)
	default:
		var err error
		participants, err = s.store.List(ctx, filter)
		if err != nil {
			if s.directory == nil {
				return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list participants")
			}
			logger.ForContext(ctx, s.logger).Warn("participant store list failed, serving from directory", zap.Error(err))
			participants = s.listFromDirectory(filter)
		}
	}
	return participants, &models.Pagination{Limit: filter.Limit, Offset: filter.Offset, Count: len(participants)}, nil
}

// FindDuplicatesByPhone returns participants whose phone number equals phone exactly.
func (s *ParticipantService) FindDuplicatesByPhone(ctx context.Context, phone string) ([]models.Participant, error) {
	return s.findByContact(ctx, repository.ContactPhone, strings.TrimSpace(phone))
}

// FindDuplicatesByEmail returns participants whose email equals email exactly.
func (s *ParticipantService) FindDuplicatesByEmail(ctx context.Context, email string) ([]models.Participant, error) {
	return s.findByContact(ctx, repository.ContactEmail, strings.TrimSpace(email))
}

// FindDuplicates runs both contact lookups and merges the matches by participant.
func (s *ParticipantService) FindDuplicates(ctx context.Context, query dto.DuplicateQuery) ([]dto.DuplicateMatch, error) {
	byPhone, err := s.FindDuplicatesByPhone(ctx, query.Phone)
	if err != nil {
		return nil, err
	}
	byEmail, err := s.FindDuplicatesByEmail(ctx, query.Email)
	if err != nil {
		return nil, err
	}

	matches := make([]dto.DuplicateMatch, 0, len(byPhone)+len(byEmail))
	index := make(map[string]int)
	add := func(p models.Participant, field string) {
		if i, ok := index[p.ID]; ok {
			matches[i].MatchedOn += "," + field
			return
		}
		index[p.ID] = len(matches)
		matches = append(matches, dto.DuplicateMatch{
			ID:          p.ID,
			FullName:    p.FullName(),
			Status:      p.Status,
			PhoneNumber: p.PhoneNumber,
			Email:       p.Email,
			MatchedOn:   field,
		})
	}
	for _, p := range byPhone {
		add(p, "phone")
	}
	for _, p := range byEmail {
		add(p, "email")
	}
	return matches, nil
}

// UpdateParticipantStatus moves a participant to status. Any known status is
// accepted; graduated additionally requires every graduation step.
func (s *ParticipantService) UpdateParticipantStatus(ctx context.Context, id string, status models.ParticipantStatus, actor models.Actor, reason string) (*models.Participant, error) {
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
	}
	reason = strings.TrimSpace(reason)

	var from models.ParticipantStatus
	participant, err := s.mutate(ctx, id, func(p *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		from = p.Status
		next := status
		patch := models.ParticipantPatch{Status: &next}
		meta := map[string]string{"from": string(from), "to": string(status)}

		switch status {
		case models.StatusActiveMentorship:
			weekly := now.Add(weeklyUpdateInterval)
			monthly := now.Add(monthlyCheckInInterval)
			patch.SeedWeeklyUpdateDue = &weekly
			patch.SeedMonthlyCheckInDue = &monthly
		case models.StatusPendingBridge:
			patch.Assignments = append(patch.Assignments, models.AssignmentUpdate{Role: models.AssignmentMentor})
			if p.AssignedMentor != nil {
				meta["clearedMentor"] = *p.AssignedMentor
			}
		case models.StatusGraduated:
			if !models.IsReadyForGraduation(p.CompletedGraduationSteps) {
				return nil, notReadyForGraduation(p)
			}
			graduatedAt := now
			patch.GraduatedAt = &graduatedAt
		}

		return &models.ParticipantMutation{
			Patch:                  patch,
			RequireGraduationReady: status == models.StatusGraduated,
			History: models.HistoryEntry{
				Type:          models.HistoryStatusChange,
				Description:   "Status changed to " + status.Label(),
				Details:       reason,
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      meta,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStatusTransition(string(from), string(status))
	logger.ForContext(ctx, s.logger).Info("participant status changed",
		zap.String("participant_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
		zap.String("actor_id", actor.ID),
	)
	return participant, nil
}

// RecordMonthlyCheckIn stores a monthly check-in. CompletedSteps, when
// present, replaces the whole set of completed graduation steps.
func (s *ParticipantService) RecordMonthlyCheckIn(ctx context.Context, id string, req dto.MonthlyCheckInRequest, actor models.Actor) (*models.Participant, error) {
	accomplishments := strings.TrimSpace(req.Accomplishments)
	challenges := strings.TrimSpace(req.Challenges)
	notableChanges := strings.TrimSpace(req.NotableChanges)
	var missing []string
	if accomplishments == "" {
		missing = append(missing, "accomplishments")
	}
	if challenges == "" {
		missing = append(missing, "challenges")
	}
	if notableChanges == "" {
		missing = append(missing, "notableChanges")
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, strings.Join(missing, ", ")+" must not be empty")
	}
	var steps []string
	if req.CompletedSteps != nil {
		var unknown []string
		steps, unknown = models.NormalizeGraduationSteps(req.CompletedSteps)
		if len(unknown) > 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown graduation steps: "+strings.Join(unknown, ", "))
		}
	}

	var removed []string
	participant, err := s.mutate(ctx, id, func(p *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		completed := p.CompletedGraduationSteps
		if steps != nil {
			completed = steps
			removed = models.RemovedSteps(p.CompletedGraduationSteps, steps)
		}
		lastCheckIn := now
		nextDue := now.Add(monthlyCheckInInterval)
		meta := map[string]string{
			"form":           "monthly_check_in",
			"completedSteps": strconv.Itoa(len(completed)),
			"progress":       strconv.Itoa(models.CalculateGraduationProgress(completed)),
		}
		if len(removed) > 0 {
			meta["removedSteps"] = strings.Join(removed, ",")
		}
		return &models.ParticipantMutation{
			Patch: models.ParticipantPatch{
				CompletedGraduationSteps: steps,
				LastMonthlyCheckInAt:     &lastCheckIn,
				NextMonthlyCheckInDue:    &nextDue,
			},
			History: models.HistoryEntry{
				Type:          models.HistoryFormSubmitted,
				Description:   "Monthly check-in submitted",
				Details:       fmt.Sprintf("Accomplishments: %s\nChallenges: %s\nNotable changes: %s", accomplishments, challenges, notableChanges),
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      meta,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		logger.ForContext(ctx, s.logger).Warn("monthly check-in removed graduation steps",
			zap.String("participant_id", id),
			zap.Strings("removed", removed),
			zap.String("actor_id", actor.ID),
		)
	}
	return participant, nil
}

// RecordWeeklyUpdate stores a mentor's weekly update and schedules the next one.
func (s *ParticipantService) RecordWeeklyUpdate(ctx context.Context, id string, req dto.WeeklyUpdateRequest, actor models.Actor) (*models.Participant, error) {
	req.Summary = strings.TrimSpace(req.Summary)
	req.Concerns = strings.TrimSpace(req.Concerns)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid weekly update payload")
	}

	return s.mutate(ctx, id, func(_ *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		last := now
		next := now.Add(weeklyUpdateInterval)
		meta := map[string]string{
			"form":        "weekly_update",
			"metInPerson": strconv.FormatBool(req.MetInPerson),
		}
		if req.Concerns != "" {
			meta["concerns"] = req.Concerns
		}
		return &models.ParticipantMutation{
			Patch: models.ParticipantPatch{LastWeeklyUpdateAt: &last, NextWeeklyUpdateDue: &next},
			History: models.HistoryEntry{
				Type:          models.HistoryFormSubmitted,
				Description:   "Weekly update submitted",
				Details:       req.Summary,
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      meta,
			},
		}, nil
	})
}

// RecordContactAttempt logs an outreach attempt.
func (s *ParticipantService) RecordContactAttempt(ctx context.Context, id string, req dto.ContactAttemptRequest, actor models.Actor) (*models.Participant, error) {
	req.Outcome = strings.TrimSpace(req.Outcome)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contact attempt payload")
	}

	return s.mutate(ctx, id, func(_ *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		attemptedAt := now
		meta := map[string]string{"method": string(req.Method), "outcome": req.Outcome}
		details := req.Outcome
		if req.Notes != "" {
			details += "\n" + req.Notes
		}
		return &models.ParticipantMutation{
			Patch: models.ParticipantPatch{LastContactAttemptAt: &attemptedAt},
			History: models.HistoryEntry{
				Type:          models.HistoryContactAttempt,
				Description:   "Contact attempt via " + strings.ReplaceAll(string(req.Method), "_", " "),
				Details:       details,
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      meta,
			},
		}, nil
	})
}

var assignmentRoleLabels = map[models.AssignmentRole]string{
	models.AssignmentBridgeTeam:   "Bridge Team member",
	models.AssignmentMentorLeader: "Mentor leader",
	models.AssignmentMentor:       "Mentor",
}

// AssignParticipant sets or clears one staff assignment. An empty userID clears it.
func (s *ParticipantService) AssignParticipant(ctx context.Context, id string, role models.AssignmentRole, userID string, actor models.Actor) (*models.Participant, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown assignment role %q", role))
	}
	userID = strings.TrimSpace(userID)

	return s.mutate(ctx, id, func(p *models.Participant, _ time.Time) (*models.ParticipantMutation, error) {
		update := models.AssignmentUpdate{Role: role, UserID: optionalValue(userID)}
		meta := map[string]string{"role": string(role), "to": userID}
		if current := p.Assignee(role); current != nil {
			meta["from"] = *current
		}
		description := assignmentRoleLabels[role] + " assigned"
		if userID == "" {
			description = assignmentRoleLabels[role] + " unassigned"
		}
		return &models.ParticipantMutation{
			Patch: models.ParticipantPatch{Assignments: []models.AssignmentUpdate{update}},
			History: models.HistoryEntry{
				Type:          models.HistoryAssignmentChange,
				Description:   description,
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      meta,
			},
		}, nil
	})
}

// ApproveGraduation records the admin sign-off. Authorization is checked
// first, then readiness, then that no approval exists yet.
func (s *ParticipantService) ApproveGraduation(ctx context.Context, id string, req dto.GraduationApprovalRequest, actor models.Actor) (*models.Participant, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not authorized to approve graduation")
	}

	var from models.ParticipantStatus
	participant, err := s.mutate(ctx, id, func(p *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		if !models.IsReadyForGraduation(p.CompletedGraduationSteps) {
			return nil, notReadyForGraduation(p)
		}
		if p.GraduationApproval != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "graduation already approved")
		}
		from = p.Status
		status := models.StatusGraduated
		graduatedAt := now
		return &models.ParticipantMutation{
			Patch: models.ParticipantPatch{
				Status:      &status,
				GraduatedAt: &graduatedAt,
				GraduationApproval: &models.GraduationApproval{
					ApprovedBy:     actor.ID,
					ApprovedByName: actor.Name,
					ApprovedAt:     now,
					Notes:          strings.TrimSpace(req.Notes),
				},
			},
			RequireGraduationReady: true,
			History: models.HistoryEntry{
				Type:          models.HistoryStatusChange,
				Description:   "Graduation approved",
				Details:       strings.TrimSpace(req.Notes),
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      map[string]string{"from": string(from), "to": string(status)},
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStatusTransition(string(from), string(models.StatusGraduated))
	logger.ForContext(ctx, s.logger).Info("participant graduation approved", zap.String("participant_id", id), zap.String("actor_id", actor.ID))
	return participant, nil
}

// AddNote appends a note and its history entry in one store mutation.
func (s *ParticipantService) AddNote(ctx context.Context, id, content string, actor models.Actor) (*models.Participant, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "note content must not be empty")
	}

	return s.mutate(ctx, id, func(_ *models.Participant, now time.Time) (*models.ParticipantMutation, error) {
		note := &models.Note{
			ID:            uuid.NewString(),
			Content:       content,
			CreatedBy:     actor.ID,
			CreatedByName: actor.Name,
			CreatedAt:     now,
		}
		return &models.ParticipantMutation{
			Note: note,
			History: models.HistoryEntry{
				Type:          models.HistoryNoteAdded,
				Description:   "Note added",
				Details:       content,
				CreatedBy:     actor.ID,
				CreatedByName: actor.Name,
				Metadata:      map[string]string{"noteId": note.ID},
			},
		}, nil
	})
}

// DeleteParticipant hard-deletes a participant with its notes and history.
func (s *ParticipantService) DeleteParticipant(ctx context.Context, id string, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "not authorized to delete participants")
	}
	if s.store == nil {
		return s.storeUnavailable()
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return s.mapStoreError(err, "failed to delete participant")
	}
	logger.ForContext(ctx, s.logger).Info("participant deleted", zap.String("participant_id", id), zap.String("actor_id", actor.ID))
	s.publish(ctx, models.ParticipantEventDeleted, &models.Participant{ID: id})
	return nil
}

type mutationBuilder func(current *models.Participant, now time.Time) (*models.ParticipantMutation, error)

// mutate loads the participant, builds one mutation from its current state,
// applies it atomically and returns the updated aggregate.
func (s *ParticipantService) mutate(ctx context.Context, id string, build mutationBuilder) (*models.Participant, error) {
	if s.store == nil {
		return nil, s.storeUnavailable()
	}
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, "failed to load participant")
	}

	now := s.now()
	mutation, err := build(current, now)
	if err != nil {
		return nil, err
	}
	mutation.ParticipantID = id
	mutation.Patch.UpdatedAt = now
	if mutation.History.ID == "" {
		mutation.History.ID = uuid.NewString()
	}
	if mutation.History.CreatedAt.IsZero() {
		mutation.History.CreatedAt = now
	}

	if err := s.store.Apply(ctx, *mutation); err != nil {
		return nil, s.mapStoreError(err, "failed to update participant")
	}
	// Guards and seeds resolve against the locked row, so the stored copy wins
	// over the snapshot the builder saw.
	if stored, err := s.store.GetByID(ctx, id); err == nil {
		current = stored
	} else {
		current.ApplyMutation(*mutation)
	}
	s.metrics.RecordHistoryEntry(string(mutation.History.Type))
	s.publish(ctx, models.ParticipantEventUpserted, current)
	return current, nil
}

func (s *ParticipantService) mapStoreError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "participant not found")
	case errors.Is(err, repository.ErrAlreadyApproved):
		return appErrors.Clone(appErrors.ErrConflict, "graduation already approved")
	case errors.Is(err, repository.ErrNotReadyForGraduation):
		return appErrors.Clone(appErrors.ErrNotReadyForGraduation, "graduation checklist changed before the update was saved")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func (s *ParticipantService) storeUnavailable() error {
	return appErrors.Clone(appErrors.ErrStoreUnavailable, "participant store is not configured or unreachable")
}

func (s *ParticipantService) publish(ctx context.Context, eventType models.ParticipantEventType, participant *models.Participant) {
	if s.notifier == nil {
		return
	}
	event := models.ParticipantEvent{
		Type:          eventType,
		ParticipantID: participant.ID,
		OccurredAt:    s.now(),
	}
	if eventType == models.ParticipantEventUpserted {
		event.Participant = participant.Clone()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		logger.ForContext(ctx, s.logger).Warn("failed to publish participant change", zap.String("participant_id", participant.ID), zap.Error(err))
	}
}

func (s *ParticipantService) getFromDirectory(id string) (*models.Participant, error) {
	if s.directory != nil {
		if participant, ok := s.directory.Get(id); ok {
			return participant, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found")
}

func (s *ParticipantService) listFromDirectory(filter models.ParticipantFilter) []models.Participant {
	if s.directory == nil {
		return []models.Participant{}
	}
	return s.directory.List(filter)
}

func (s *ParticipantService) findByContact(ctx context.Context, field repository.ContactField, value string) ([]models.Participant, error) {
	if value == "" {
		return []models.Participant{}, nil
	}
	if s.store == nil {
		return s.findInDirectory(field, value), nil
	}
	matches, err := s.store.FindByContact(ctx, field, value)
	if err != nil {
		if s.directory == nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search participants")
		}
		logger.ForContext(ctx, s.logger).Warn("participant store search failed, serving from directory", zap.String("field", string(field)), zap.Error(err))
		return s.findInDirectory(field, value), nil
	}
	return matches, nil
}

func (s *ParticipantService) findInDirectory(field repository.ContactField, value string) []models.Participant {
	if s.directory == nil {
		return []models.Participant{}
	}
	return s.directory.FindByContact(field, value)
}

func notReadyForGraduation(p *models.Participant) error {
	return appErrors.Clone(appErrors.ErrNotReadyForGraduation, fmt.Sprintf(
		"participant has completed %d of %d graduation steps", len(p.CompletedGraduationSteps), models.TotalGraduationSteps))
}

// ageAt returns whole years between dob and now.
func ageAt(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// daysSince returns whole days from release to now, clamped at zero.
func daysSince(release, now time.Time) int {
	days := int(now.Sub(release).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func optionalValue(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// sortHistory orders entries by creation time, keeping insertion order for ties.
func sortHistory(entries []models.HistoryEntry) []models.HistoryEntry {
	out := append([]models.HistoryEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
