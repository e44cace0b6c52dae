package dto

import (
	"time"

	"github.com/noah-isme/reentry-case-api/internal/models"
)

// CreateParticipantRequest is the intake payload, submitted by form or entered manually.
type CreateParticipantRequest struct {
	FirstName         string              `json:"firstName" validate:"required"`
	LastName          string              `json:"lastName" validate:"required"`
	DateOfBirth       time.Time           `json:"dateOfBirth" validate:"required"`
	Gender            string              `json:"gender" validate:"required"`
	PhoneNumber       string              `json:"phoneNumber"`
	Email             string              `json:"email" validate:"omitempty,email"`
	ParticipantNumber string              `json:"participantNumber"`
	ReleaseDate       time.Time           `json:"releaseDate" validate:"required"`
	ReleasedFrom      string              `json:"releasedFrom" validate:"required"`
	Source            models.IntakeSource `json:"source" validate:"omitempty,oneof=form manual"`
	ExtraFields       map[string]string   `json:"extraFields"`
}

// UpdateStatusRequest moves a participant to another status.
type UpdateStatusRequest struct {
	Status models.ParticipantStatus `json:"status"`
	Reason string                   `json:"reason"`
}

// AssignParticipantRequest sets or clears one staff assignment. An empty userId clears it.
type AssignParticipantRequest struct {
	Role   models.AssignmentRole `json:"role"`
	UserID string                `json:"userId"`
}

// AddNoteRequest appends a note.
type AddNoteRequest struct {
	Content string `json:"content"`
}

// MonthlyCheckInRequest is the mentor's monthly check-in form. CompletedSteps
// replaces the participant's full set of completed graduation steps.
type MonthlyCheckInRequest struct {
	Accomplishments string   `json:"accomplishments"`
	Challenges      string   `json:"challenges"`
	NotableChanges  string   `json:"notableChanges"`
	CompletedSteps  []string `json:"completedSteps"`
}

// WeeklyUpdateRequest is the mentor's weekly update form.
type WeeklyUpdateRequest struct {
	Summary     string `json:"summary" validate:"required"`
	MetInPerson bool   `json:"metInPerson"`
	Concerns    string `json:"concerns"`
}

// ContactAttemptRequest records an outreach attempt.
type ContactAttemptRequest struct {
	Method  models.ContactMethod `json:"method" validate:"required,oneof=phone text email in_person other"`
	Outcome string               `json:"outcome" validate:"required"`
	Notes   string               `json:"notes"`
}

// GraduationApprovalRequest is the admin sign-off payload.
type GraduationApprovalRequest struct {
	Notes string `json:"notes"`
}

// DuplicateQuery looks up existing participants sharing a contact value.
type DuplicateQuery struct {
	Phone string
	Email string
}

// ParticipantView decorates a participant with derived progress for API responses.
type ParticipantView struct {
	*models.Participant
	GraduationProgress  int                        `json:"graduationProgress"`
	ReadyForGraduation  bool                       `json:"readyForGraduation"`
	StatusLabel         string                     `json:"statusLabel"`
	SuggestedNextStatus []models.ParticipantStatus `json:"suggestedNextStatus"`
}

// NewParticipantView builds the API view of a participant.
func NewParticipantView(p *models.Participant) ParticipantView {
	return ParticipantView{
		Participant:         p,
		GraduationProgress:  models.CalculateGraduationProgress(p.CompletedGraduationSteps),
		ReadyForGraduation:  models.IsReadyForGraduation(p.CompletedGraduationSteps),
		StatusLabel:         p.Status.Label(),
		SuggestedNextStatus: models.NextActions(p.Status),
	}
}

// DuplicateMatch summarises an existing participant for the intake dedup prompt.
type DuplicateMatch struct {
	ID          string                   `json:"id"`
	FullName    string                   `json:"fullName"`
	Status      models.ParticipantStatus `json:"status"`
	PhoneNumber *string                  `json:"phoneNumber,omitempty"`
	Email       *string                  `json:"email,omitempty"`
	MatchedOn   string                   `json:"matchedOn"`
}
