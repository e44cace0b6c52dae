package models

import "time"

// IntakeSource describes how a participant entered the program.
type IntakeSource string

const (
	IntakeSourceForm   IntakeSource = "form"
	IntakeSourceManual IntakeSource = "manual"
)

// Participant is the aggregate root of the reentry case record.
type Participant struct {
	ID string `json:"id"`

	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DateOfBirth time.Time `json:"dateOfBirth"`
	Age         int       `json:"age"`
	Gender      string    `json:"gender"`
	PhoneNumber *string   `json:"phoneNumber,omitempty"`
	Email       *string   `json:"email,omitempty"`

	ParticipantNumber string    `json:"participantNumber"`
	ReleaseDate       time.Time `json:"releaseDate"`
	TimeOut           int       `json:"timeOut"`
	ReleasedFrom      string    `json:"releasedFrom"`

	Status ParticipantStatus `json:"status"`

	AssignedBridgeTeamMember *string `json:"assignedBridgeTeamMember,omitempty"`
	AssignedMentorLeader     *string `json:"assignedMentorLeader,omitempty"`
	AssignedMentor           *string `json:"assignedMentor,omitempty"`

	NextWeeklyUpdateDue   *time.Time `json:"nextWeeklyUpdateDue,omitempty"`
	NextMonthlyCheckInDue *time.Time `json:"nextMonthlyCheckInDue,omitempty"`
	NextMonthlyReportDue  *time.Time `json:"nextMonthlyReportDue,omitempty"`
	LastWeeklyUpdateAt    *time.Time `json:"lastWeeklyUpdateAt,omitempty"`
	LastMonthlyCheckInAt  *time.Time `json:"lastMonthlyCheckInAt,omitempty"`
	LastMonthlyReportAt   *time.Time `json:"lastMonthlyReportAt,omitempty"`
	LastContactAttemptAt  *time.Time `json:"lastContactAttemptAt,omitempty"`

	CompletedGraduationSteps []string            `json:"completedGraduationSteps"`
	GraduationApproval       *GraduationApproval `json:"graduationApproval,omitempty"`
	GraduatedAt              *time.Time          `json:"graduatedAt,omitempty"`

	Notes   []Note         `json:"notes"`
	History []HistoryEntry `json:"history"`

	ExtraFields map[string]string `json:"extraFields,omitempty"`
	Source      IntakeSource      `json:"source"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// FullName joins first and last name.
func (p *Participant) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Clone returns a deep copy so callers can mutate without sharing slices or pointers.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	c.PhoneNumber = cloneString(p.PhoneNumber)
	c.Email = cloneString(p.Email)
	c.AssignedBridgeTeamMember = cloneString(p.AssignedBridgeTeamMember)
	c.AssignedMentorLeader = cloneString(p.AssignedMentorLeader)
	c.AssignedMentor = cloneString(p.AssignedMentor)
	c.NextWeeklyUpdateDue = cloneTime(p.NextWeeklyUpdateDue)
	c.NextMonthlyCheckInDue = cloneTime(p.NextMonthlyCheckInDue)
	c.NextMonthlyReportDue = cloneTime(p.NextMonthlyReportDue)
	c.LastWeeklyUpdateAt = cloneTime(p.LastWeeklyUpdateAt)
	c.LastMonthlyCheckInAt = cloneTime(p.LastMonthlyCheckInAt)
	c.LastMonthlyReportAt = cloneTime(p.LastMonthlyReportAt)
	c.LastContactAttemptAt = cloneTime(p.LastContactAttemptAt)
	c.GraduatedAt = cloneTime(p.GraduatedAt)
	if p.GraduationApproval != nil {
		approval := *p.GraduationApproval
		c.GraduationApproval = &approval
	}
	c.CompletedGraduationSteps = append([]string{}, p.CompletedGraduationSteps...)
	c.Notes = append([]Note{}, p.Notes...)
	c.History = make([]HistoryEntry, len(p.History))
	for i, entry := range p.History {
		c.History[i] = entry.clone()
	}
	if p.ExtraFields != nil {
		c.ExtraFields = make(map[string]string, len(p.ExtraFields))
		for k, v := range p.ExtraFields {
			c.ExtraFields[k] = v
		}
	}
	return &c
}

// Note is an immutable free-text observation attached to a participant.
type Note struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	CreatedBy     string    `json:"createdBy"`
	CreatedByName string    `json:"createdByName"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AssignmentRole identifies which staff reference an assignment change targets.
type AssignmentRole string

const (
	AssignmentBridgeTeam   AssignmentRole = "bridge_team"
	AssignmentMentorLeader AssignmentRole = "mentor_leader"
	AssignmentMentor       AssignmentRole = "mentor"
)

// Valid reports whether the role is known.
func (r AssignmentRole) Valid() bool {
	switch r {
	case AssignmentBridgeTeam, AssignmentMentorLeader, AssignmentMentor:
		return true
	default:
		return false
	}
}

// Assignee returns the current user reference for the role.
func (p *Participant) Assignee(role AssignmentRole) *string {
	switch role {
	case AssignmentBridgeTeam:
		return p.AssignedBridgeTeamMember
	case AssignmentMentorLeader:
		return p.AssignedMentorLeader
	case AssignmentMentor:
		return p.AssignedMentor
	default:
		return nil
	}
}

// ContactMethod enumerates the channels of a contact attempt.
type ContactMethod string

const (
	ContactMethodPhone    ContactMethod = "phone"
	ContactMethodText     ContactMethod = "text"
	ContactMethodEmail    ContactMethod = "email"
	ContactMethodInPerson ContactMethod = "in_person"
	ContactMethodOther    ContactMethod = "other"
)

// ParticipantFilter constrains listing queries.
type ParticipantFilter struct {
	Status     []ParticipantStatus
	AssignedTo string
	Limit      int
	Offset     int
}

// ParticipantEventType distinguishes change feed events.
type ParticipantEventType string

const (
	ParticipantEventUpserted ParticipantEventType = "upserted"
	ParticipantEventDeleted  ParticipantEventType = "deleted"
)

// ParticipantEvent is published on the change feed after every successful write.
type ParticipantEvent struct {
	Type          ParticipantEventType `json:"type"`
	ParticipantID string               `json:"participantId"`
	Participant   *Participant         `json:"participant,omitempty"`
	OccurredAt    time.Time            `json:"occurredAt"`
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
