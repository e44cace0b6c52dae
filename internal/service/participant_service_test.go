package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/dto"
	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/repository"
	appErrors "github.com/noah-isme/reentry-case-api/pkg/errors"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	mentorActor = models.Actor{ID: "mentor-1", Name: "Sam Mentor", Role: models.RoleMentor}
	adminActor  = models.Actor{ID: "admin-1", Name: "Alex Admin", Role: models.RoleAdmin}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ParticipantEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event models.ParticipantEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) last() models.ParticipantEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type failingApplyStore struct {
	*repository.MemoryParticipantRepository
	err error
}

func (f failingApplyStore) Apply(context.Context, models.ParticipantMutation) error {
	return f.err
}

// interleavedApplyStore runs before once, after the service has read its
// snapshot and before the mutation reaches the store.
type interleavedApplyStore struct {
	*repository.MemoryParticipantRepository
	once   sync.Once
	before func()
}

func (s *interleavedApplyStore) Apply(ctx context.Context, mutation models.ParticipantMutation) error {
	s.once.Do(s.before)
	return s.MemoryParticipantRepository.Apply(ctx, mutation)
}

func newTestParticipantService(t *testing.T, opts ...ParticipantServiceOption) (*ParticipantService, *repository.MemoryParticipantRepository, *recordingNotifier) {
	t.Helper()
	store := repository.NewMemoryParticipantRepository()
	notifier := &recordingNotifier{}
	opts = append([]ParticipantServiceOption{
		WithParticipantNotifier(notifier),
		WithParticipantClock(func() time.Time { return testNow }),
	}, opts...)
	return NewParticipantService(store, nil, zap.NewNop(), opts...), store, notifier
}

func janeDoeIntake() dto.CreateParticipantRequest {
	return dto.CreateParticipantRequest{
		FirstName:         "Jane",
		LastName:          "Doe",
		Gender:            "Female",
		ReleasedFrom:      "Huntsville",
		ReleaseDate:       time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC),
		DateOfBirth:       time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC),
		PhoneNumber:       "123-456-7890",
		ParticipantNumber: "TDCJ1",
	}
}

func addJane(t *testing.T, svc *ParticipantService) *models.Participant {
	t.Helper()
	p, err := svc.AddParticipant(context.Background(), janeDoeIntake(), mentorActor)
	require.NoError(t, err)
	return p
}

func allGraduationStepIDs() []string {
	steps := models.GraduationSteps()
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}
	return ids
}

func checkInWithSteps(steps []string) dto.MonthlyCheckInRequest {
	return dto.MonthlyCheckInRequest{
		Accomplishments: "Started a new job",
		Challenges:      "Transportation",
		NotableChanges:  "Moved apartments",
		CompletedSteps:  steps,
	}
}

func errorCode(err error) string {
	return appErrors.FromError(err).Code
}

func TestAddParticipantIntakeScenario(t *testing.T) {
	svc, store, notifier := newTestParticipantService(t)

	p := addJane(t, svc)

	assert.Equal(t, models.StatusPendingBridge, p.Status)
	assert.Len(t, p.CompletedGraduationSteps, 0)
	require.Len(t, p.History, 1)
	assert.Equal(t, "Participant added", p.History[0].Description)
	assert.Equal(t, string(models.IntakeSourceManual), p.History[0].Metadata["source"])
	assert.Equal(t, 34, p.Age)
	assert.Equal(t, 30, p.TimeOut)
	assert.Empty(t, p.Notes)

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, models.ParticipantEventUpserted, notifier.last().Type)
	assert.Equal(t, p.ID, notifier.last().ParticipantID)
}

func TestAddParticipantClampsTimeOutForFutureRelease(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	intake := janeDoeIntake()
	intake.ReleaseDate = testNow.AddDate(0, 0, 10)

	p, err := svc.AddParticipant(context.Background(), intake, mentorActor)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TimeOut)
}

func TestAddParticipantValidation(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)

	cases := map[string]func(*dto.CreateParticipantRequest){
		"no contact": func(r *dto.CreateParticipantRequest) {
			r.PhoneNumber = "   "
			r.Email = ""
		},
		"bad email": func(r *dto.CreateParticipantRequest) {
			r.Email = "not-an-email"
		},
		"missing release date": func(r *dto.CreateParticipantRequest) {
			r.ReleaseDate = time.Time{}
		},
		"missing first name": func(r *dto.CreateParticipantRequest) {
			r.FirstName = " "
		},
		"future birth date": func(r *dto.CreateParticipantRequest) {
			r.DateOfBirth = testNow.AddDate(1, 0, 0)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			intake := janeDoeIntake()
			mutate(&intake)
			_, err := svc.AddParticipant(context.Background(), intake, mentorActor)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
		})
	}

	all, err := store.List(context.Background(), models.ParticipantFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddParticipantEmailOnlyContact(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	intake := janeDoeIntake()
	intake.PhoneNumber = ""
	intake.Email = " jane@example.org "
	intake.Source = models.IntakeSourceForm

	p, err := svc.AddParticipant(context.Background(), intake, models.Actor{})
	require.NoError(t, err)
	assert.Nil(t, p.PhoneNumber)
	require.NotNil(t, p.Email)
	assert.Equal(t, "jane@example.org", *p.Email)
	assert.Equal(t, models.IntakeSourceForm, p.Source)
}

func TestFindDuplicatesByPhoneRoundTrip(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	first := addJane(t, svc)

	matches, err := svc.FindDuplicatesByPhone(context.Background(), "123-456-7890")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, first.ID, matches[0].ID)

	matches, err = svc.FindDuplicatesByPhone(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = svc.FindDuplicatesByEmail(context.Background(), "nobody@example.org")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindDuplicatesMergesPhoneAndEmailMatches(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	intake := janeDoeIntake()
	intake.Email = "jane@example.org"
	p, err := svc.AddParticipant(context.Background(), intake, mentorActor)
	require.NoError(t, err)

	matches, err := svc.FindDuplicates(context.Background(), dto.DuplicateQuery{Phone: "123-456-7890", Email: "jane@example.org"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, p.ID, matches[0].ID)
	assert.Equal(t, "phone,email", matches[0].MatchedOn)
	assert.Equal(t, "Jane Doe", matches[0].FullName)
}

func TestHistoryGrowsByOnePerOperation(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)
	require.Len(t, p.History, 1)

	steps := []func() (*models.Participant, error){
		func() (*models.Participant, error) { return svc.AddNote(ctx, p.ID, "Called the family", mentorActor) },
		func() (*models.Participant, error) {
			return svc.UpdateParticipantStatus(ctx, p.ID, models.StatusBridgeContacted, mentorActor, "reached by phone")
		},
		func() (*models.Participant, error) {
			return svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()), mentorActor)
		},
		func() (*models.Participant, error) {
			return svc.RecordContactAttempt(ctx, p.ID, dto.ContactAttemptRequest{Method: models.ContactMethodPhone, Outcome: "voicemail"}, mentorActor)
		},
		func() (*models.Participant, error) {
			return svc.AssignParticipant(ctx, p.ID, models.AssignmentMentor, "mentor-1", mentorActor)
		},
		func() (*models.Participant, error) {
			return svc.RecordWeeklyUpdate(ctx, p.ID, dto.WeeklyUpdateRequest{Summary: "Met for coffee"}, mentorActor)
		},
		func() (*models.Participant, error) {
			return svc.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{Notes: "well done"}, adminActor)
		},
	}
	for i, step := range steps {
		updated, err := step()
		require.NoError(t, err, "step %d", i)
		assert.Len(t, updated.History, i+2, "returned history after step %d", i)

		stored, err := store.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, stored.History, i+2, "stored history after step %d", i)
	}
}

func TestAddNoteAppendsTrimmedNote(t *testing.T) {
	svc, _, notifier := newTestParticipantService(t)
	p := addJane(t, svc)

	updated, err := svc.AddNote(context.Background(), p.ID, "  Needs bus pass  ", mentorActor)
	require.NoError(t, err)
	require.Len(t, updated.Notes, 1)
	assert.Equal(t, "Needs bus pass", updated.Notes[0].Content)
	assert.Equal(t, "Sam Mentor", updated.Notes[0].CreatedByName)
	last := updated.History[len(updated.History)-1]
	assert.Equal(t, models.HistoryNoteAdded, last.Type)
	assert.Equal(t, updated.Notes[0].ID, last.Metadata["noteId"])
	assert.Equal(t, 2, notifier.count())

	_, err = svc.AddNote(context.Background(), p.ID, "   ", mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestAddNoteUnknownParticipant(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)

	_, err := svc.AddNote(context.Background(), "missing", "hello", mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(err))
}

func TestConcurrentNotesAreNotLost(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddNote(context.Background(), p.ID, fmt.Sprintf("note %d", i), mentorActor)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Notes, writers)
	assert.Len(t, stored.History, writers+1)
}

func TestUpdateStatusUnguardedJumpToActiveMentorship(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	updated, err := svc.UpdateParticipantStatus(context.Background(), p.ID, models.StatusActiveMentorship, mentorActor, "fast track")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActiveMentorship, updated.Status)
	require.NotNil(t, updated.NextWeeklyUpdateDue)
	require.NotNil(t, updated.NextMonthlyCheckInDue)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *updated.NextWeeklyUpdateDue)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *updated.NextMonthlyCheckInDue)

	last := updated.History[len(updated.History)-1]
	assert.Equal(t, models.HistoryStatusChange, last.Type)
	assert.Equal(t, "Status changed to Active Mentorship", last.Description)
	assert.Equal(t, "fast track", last.Details)
	assert.Equal(t, "pending_bridge", last.Metadata["from"])
	assert.Equal(t, "active_mentorship", last.Metadata["to"])
}

func TestUpdateStatusKeepsExistingDueDates(t *testing.T) {
	clock := testNow
	svc, _, _ := newTestParticipantService(t, WithParticipantClock(func() time.Time { return clock }))
	p := addJane(t, svc)
	ctx := context.Background()

	_, err := svc.UpdateParticipantStatus(ctx, p.ID, models.StatusActiveMentorship, mentorActor, "")
	require.NoError(t, err)
	_, err = svc.UpdateParticipantStatus(ctx, p.ID, models.StatusMentorAttempted, mentorActor, "")
	require.NoError(t, err)

	clock = testNow.Add(48 * time.Hour)
	updated, err := svc.UpdateParticipantStatus(ctx, p.ID, models.StatusActiveMentorship, mentorActor, "")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *updated.NextWeeklyUpdateDue)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *updated.NextMonthlyCheckInDue)
}

func TestMoveBackToBridgeTeamClearsMentor(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	_, err := svc.AssignParticipant(ctx, p.ID, models.AssignmentMentor, "mentor-7", adminActor)
	require.NoError(t, err)
	_, err = svc.UpdateParticipantStatus(ctx, p.ID, models.StatusAssignedMentor, adminActor, "")
	require.NoError(t, err)

	updated, err := svc.UpdateParticipantStatus(ctx, p.ID, models.StatusPendingBridge, adminActor, "mentor unavailable")
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedMentor)
	assert.Equal(t, "mentor-7", updated.History[len(updated.History)-1].Metadata["clearedMentor"])
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	_, err := svc.UpdateParticipantStatus(context.Background(), p.ID, models.ParticipantStatus("on_vacation"), mentorActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestUpdateStatusToGraduatedRequiresAllSteps(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	_, err := svc.UpdateParticipantStatus(ctx, p.ID, models.StatusGraduated, adminActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotReadyForGraduation.Code, errorCode(err))

	_, err = svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()), mentorActor)
	require.NoError(t, err)
	updated, err := svc.UpdateParticipantStatus(ctx, p.ID, models.StatusGraduated, adminActor, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusGraduated, updated.Status)
	require.NotNil(t, updated.GraduatedAt)
	assert.Equal(t, testNow, *updated.GraduatedAt)
}

func TestApproveGraduationGate(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)
	nine := allGraduationStepIDs()[:9]

	_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(nine), mentorActor)
	require.NoError(t, err)

	_, err = svc.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{}, mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(err), "authorization is checked before readiness")

	_, err = svc.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotReadyForGraduation.Code, errorCode(err))

	_, err = svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()), mentorActor)
	require.NoError(t, err)

	approved, err := svc.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{Notes: "Congratulations"}, adminActor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGraduated, approved.Status)
	require.NotNil(t, approved.GraduationApproval)
	assert.Equal(t, "admin-1", approved.GraduationApproval.ApprovedBy)
	assert.Equal(t, "Congratulations", approved.GraduationApproval.Notes)
	require.NotNil(t, approved.GraduatedAt)

	_, err = svc.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errorCode(err))
}

func TestApproveGraduationRechecksStepsAtApply(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)
	_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()), mentorActor)
	require.NoError(t, err)

	racing := &interleavedApplyStore{MemoryParticipantRepository: store}
	racing.before = func() {
		_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()[:9]), mentorActor)
		require.NoError(t, err)
	}
	approver := NewParticipantService(racing, nil, zap.NewNop(), WithParticipantClock(func() time.Time { return testNow }))

	_, err = approver.ApproveGraduation(ctx, p.ID, dto.GraduationApprovalRequest{}, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotReadyForGraduation.Code, errorCode(err))

	stored, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusGraduated, stored.Status)
	assert.Nil(t, stored.GraduationApproval)
	assert.Nil(t, stored.GraduatedAt)
	assert.Len(t, stored.CompletedGraduationSteps, 9)
}

func TestUpdateStatusToGraduatedRechecksStepsAtApply(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)
	_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()), mentorActor)
	require.NoError(t, err)

	racing := &interleavedApplyStore{MemoryParticipantRepository: store}
	racing.before = func() {
		_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(allGraduationStepIDs()[:9]), mentorActor)
		require.NoError(t, err)
	}
	updater := NewParticipantService(racing, nil, zap.NewNop(), WithParticipantClock(func() time.Time { return testNow }))

	_, err = updater.UpdateParticipantStatus(ctx, p.ID, models.StatusGraduated, adminActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotReadyForGraduation.Code, errorCode(err))

	stored, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingBridge, stored.Status)
	assert.Nil(t, stored.GraduatedAt)
}

func TestUpdateStatusToPendingBridgeClearsMentorAssignedMeanwhile(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	racing := &interleavedApplyStore{MemoryParticipantRepository: store}
	racing.before = func() {
		_, err := svc.AssignParticipant(ctx, p.ID, models.AssignmentMentor, "mentor-9", adminActor)
		require.NoError(t, err)
	}
	updater := NewParticipantService(racing, nil, zap.NewNop(), WithParticipantClock(func() time.Time { return testNow }))

	updated, err := updater.UpdateParticipantStatus(ctx, p.ID, models.StatusPendingBridge, adminActor, "restart")
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedMentor)

	stored, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingBridge, stored.Status)
	assert.Nil(t, stored.AssignedMentor)
}

func TestUpdateStatusToActiveMentorshipKeepsDueDateSetMeanwhile(t *testing.T) {
	svc, store, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	racing := &interleavedApplyStore{MemoryParticipantRepository: store}
	racing.before = func() {
		_, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(nil), mentorActor)
		require.NoError(t, err)
	}
	later := testNow.Add(72 * time.Hour)
	updater := NewParticipantService(racing, nil, zap.NewNop(), WithParticipantClock(func() time.Time { return later }))

	updated, err := updater.UpdateParticipantStatus(ctx, p.ID, models.StatusActiveMentorship, adminActor, "")
	require.NoError(t, err)

	stored, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextMonthlyCheckInDue)
	assert.True(t, stored.NextMonthlyCheckInDue.Equal(testNow.Add(monthlyCheckInInterval)), "due date written by the check-in survives")
	require.NotNil(t, stored.NextWeeklyUpdateDue)
	assert.True(t, stored.NextWeeklyUpdateDue.Equal(later.Add(weeklyUpdateInterval)))
	require.NotNil(t, updated.NextMonthlyCheckInDue)
	assert.True(t, updated.NextMonthlyCheckInDue.Equal(*stored.NextMonthlyCheckInDue))
}

func TestRecordMonthlyCheckInNormalisesAndAuditsSteps(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	updated, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps([]string{"housing", "orientation", "housing", "employment"}), mentorActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"orientation", "housing", "employment"}, updated.CompletedGraduationSteps)
	require.NotNil(t, updated.LastMonthlyCheckInAt)
	assert.Equal(t, testNow, *updated.LastMonthlyCheckInAt)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *updated.NextMonthlyCheckInDue)
	last := updated.History[len(updated.History)-1]
	assert.Equal(t, models.HistoryFormSubmitted, last.Type)
	assert.Equal(t, "30", last.Metadata["progress"])
	assert.NotContains(t, last.Metadata, "removedSteps")

	reduced, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps([]string{"orientation"}), mentorActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"orientation"}, reduced.CompletedGraduationSteps)
	assert.Equal(t, "housing,employment", reduced.History[len(reduced.History)-1].Metadata["removedSteps"])

	kept, err := svc.RecordMonthlyCheckIn(ctx, p.ID, checkInWithSteps(nil), mentorActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"orientation"}, kept.CompletedGraduationSteps)
}

func TestRecordMonthlyCheckInValidation(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	req := checkInWithSteps(nil)
	req.Challenges = "  "
	_, err := svc.RecordMonthlyCheckIn(context.Background(), p.ID, req, mentorActor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenges")

	_, err = svc.RecordMonthlyCheckIn(context.Background(), p.ID, checkInWithSteps([]string{"moon_landing"}), mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestRecordWeeklyUpdateSchedulesNext(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	updated, err := svc.RecordWeeklyUpdate(context.Background(), p.ID, dto.WeeklyUpdateRequest{Summary: "Doing well", MetInPerson: true, Concerns: "rent"}, mentorActor)
	require.NoError(t, err)
	assert.Equal(t, testNow, *updated.LastWeeklyUpdateAt)
	assert.Equal(t, testNow.Add(7*24*time.Hour), *updated.NextWeeklyUpdateDue)
	last := updated.History[len(updated.History)-1]
	assert.Equal(t, "true", last.Metadata["metInPerson"])
	assert.Equal(t, "rent", last.Metadata["concerns"])

	_, err = svc.RecordWeeklyUpdate(context.Background(), p.ID, dto.WeeklyUpdateRequest{Summary: " "}, mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestRecordContactAttempt(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	p := addJane(t, svc)

	updated, err := svc.RecordContactAttempt(context.Background(), p.ID, dto.ContactAttemptRequest{Method: models.ContactMethodInPerson, Outcome: "met at halfway house"}, mentorActor)
	require.NoError(t, err)
	assert.Equal(t, testNow, *updated.LastContactAttemptAt)
	last := updated.History[len(updated.History)-1]
	assert.Equal(t, models.HistoryContactAttempt, last.Type)
	assert.Equal(t, "Contact attempt via in person", last.Description)

	_, err = svc.RecordContactAttempt(context.Background(), p.ID, dto.ContactAttemptRequest{Method: "pigeon", Outcome: "x"}, mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestAssignParticipantSetsAndClears(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	assigned, err := svc.AssignParticipant(ctx, p.ID, models.AssignmentBridgeTeam, "bt-1", adminActor)
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedBridgeTeamMember)
	assert.Equal(t, "bt-1", *assigned.AssignedBridgeTeamMember)
	assert.Equal(t, "Bridge Team member assigned", assigned.History[len(assigned.History)-1].Description)

	cleared, err := svc.AssignParticipant(ctx, p.ID, models.AssignmentBridgeTeam, "", adminActor)
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedBridgeTeamMember)
	last := cleared.History[len(cleared.History)-1]
	assert.Equal(t, models.HistoryAssignmentChange, last.Type)
	assert.Equal(t, "bt-1", last.Metadata["from"])

	_, err = svc.AssignParticipant(ctx, p.ID, models.AssignmentRole("janitor"), "x", adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestDeleteParticipantIsAdminOnly(t *testing.T) {
	svc, store, notifier := newTestParticipantService(t)
	ctx := context.Background()
	p := addJane(t, svc)

	err := svc.DeleteParticipant(ctx, p.ID, mentorActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(err))

	require.NoError(t, svc.DeleteParticipant(ctx, p.ID, adminActor))
	_, err = store.GetByID(ctx, p.ID)
	require.Error(t, err)
	assert.Equal(t, models.ParticipantEventDeleted, notifier.last().Type)

	err = svc.DeleteParticipant(ctx, p.ID, adminActor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(err))
}

func TestStoreUnavailableFailsWritesAndDegradesReads(t *testing.T) {
	directory := NewParticipantDirectory(nil, nil, 0, nil, zap.NewNop())
	phone := "555-0000"
	directory.Apply(models.ParticipantEvent{
		Type:          models.ParticipantEventUpserted,
		ParticipantID: "p-1",
		Participant:   &models.Participant{ID: "p-1", FirstName: "Cached", PhoneNumber: &phone, Status: models.StatusPendingMentor},
	})
	svc := NewParticipantService(nil, nil, zap.NewNop(), WithParticipantDirectory(directory))
	ctx := context.Background()

	writes := map[string]func() error{
		"add": func() error {
			_, err := svc.AddParticipant(ctx, janeDoeIntake(), mentorActor)
			return err
		},
		"status": func() error {
			_, err := svc.UpdateParticipantStatus(ctx, "p-1", models.StatusAssignedMentor, mentorActor, "")
			return err
		},
		"note": func() error {
			_, err := svc.AddNote(ctx, "p-1", "hello", mentorActor)
			return err
		},
		"check-in": func() error {
			_, err := svc.RecordMonthlyCheckIn(ctx, "p-1", checkInWithSteps(nil), mentorActor)
			return err
		},
		"approve": func() error {
			_, err := svc.ApproveGraduation(ctx, "p-1", dto.GraduationApprovalRequest{}, adminActor)
			return err
		},
		"delete": func() error { return svc.DeleteParticipant(ctx, "p-1", adminActor) },
	}
	for name, write := range writes {
		err := write()
		require.Error(t, err, name)
		assert.Equal(t, appErrors.ErrStoreUnavailable.Code, errorCode(err), name)
	}

	cached, err := svc.GetParticipantByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Cached", cached.FirstName)

	list, pagination, err := svc.ListParticipants(ctx, models.ParticipantFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, pagination.Count)

	matches, err := svc.FindDuplicatesByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = svc.GetParticipantByID(ctx, "p-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(err))
}

func TestStoreUnavailableWithoutDirectoryReturnsEmpty(t *testing.T) {
	svc := NewParticipantService(nil, nil, nil)

	list, _, err := svc.ListParticipants(context.Background(), models.ParticipantFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStoreWriteFailureIsReported(t *testing.T) {
	store := repository.NewMemoryParticipantRepository()
	notifier := &recordingNotifier{}
	seed := NewParticipantService(store, nil, nil, WithParticipantClock(func() time.Time { return testNow }))
	p := addJane(t, seed)

	svc := NewParticipantService(failingApplyStore{MemoryParticipantRepository: store, err: errors.New("disk full")}, nil, nil,
		WithParticipantNotifier(notifier))

	_, err := svc.UpdateParticipantStatus(context.Background(), p.ID, models.StatusBridgeContacted, mentorActor, "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, errorCode(err))
	assert.Equal(t, 0, notifier.count())

	stored, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingBridge, stored.Status)
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	svc, _, notifier := newTestParticipantService(t)
	notifier.err = errors.New("feed down")

	p, err := svc.AddParticipant(context.Background(), janeDoeIntake(), mentorActor)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
}

func TestListParticipantsFilters(t *testing.T) {
	svc, _, _ := newTestParticipantService(t)
	ctx := context.Background()
	first := addJane(t, svc)
	addJane(t, svc)
	_, err := svc.UpdateParticipantStatus(ctx, first.ID, models.StatusBridgeContacted, mentorActor, "")
	require.NoError(t, err)

	list, pagination, err := svc.ListParticipants(ctx, models.ParticipantFilter{Status: []models.ParticipantStatus{models.StatusBridgeContacted}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 100, pagination.Limit)

	_, _, err = svc.ListParticipants(ctx, models.ParticipantFilter{Status: []models.ParticipantStatus{"bogus"}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(err))
}

func TestAgeAt(t *testing.T) {
	dob := time.Date(2000, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 24, ageAt(dob, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 25, ageAt(dob, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)))
}
