package models

import "time"

// HistoryType categorises audit entries.
type HistoryType string

const (
	HistoryStatusChange     HistoryType = "status_change"
	HistoryContactAttempt   HistoryType = "contact_attempt"
	HistoryNoteAdded        HistoryType = "note_added"
	HistoryFormSubmitted    HistoryType = "form_submitted"
	HistoryAssignmentChange HistoryType = "assignment_change"
)

// HistoryEntry is an immutable audit record of one lifecycle event.
type HistoryEntry struct {
	ID            string            `json:"id"`
	Type          HistoryType       `json:"type"`
	Description   string            `json:"description"`
	Details       string            `json:"details,omitempty"`
	CreatedBy     string            `json:"createdBy,omitempty"`
	CreatedByName string            `json:"createdByName,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (h HistoryEntry) clone() HistoryEntry {
	if h.Metadata != nil {
		meta := make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			meta[k] = v
		}
		h.Metadata = meta
	}
	return h
}

// AssignmentUpdate sets or clears one staff reference. A nil UserID clears it.
type AssignmentUpdate struct {
	Role   AssignmentRole
	UserID *string
}

// ParticipantPatch lists the scalar fields a mutation touches. Nil fields are left untouched.
type ParticipantPatch struct {
	Status                *ParticipantStatus
	Assignments           []AssignmentUpdate
	NextWeeklyUpdateDue   *time.Time
	NextMonthlyCheckInDue *time.Time
	// SeedWeeklyUpdateDue and SeedMonthlyCheckInDue are written only when the
	// stored due date is unset at apply time.
	SeedWeeklyUpdateDue   *time.Time
	SeedMonthlyCheckInDue *time.Time
	LastWeeklyUpdateAt    *time.Time
	LastMonthlyCheckInAt  *time.Time
	LastContactAttemptAt  *time.Time
	GraduatedAt           *time.Time
	// CompletedGraduationSteps replaces the whole set when non-nil.
	CompletedGraduationSteps []string
	GraduationApproval       *GraduationApproval
	UpdatedAt                time.Time
}

// ParticipantMutation is the unit a store applies atomically: a partial field
// update plus exactly one history entry and, optionally, one note.
type ParticipantMutation struct {
	ParticipantID string
	Patch         ParticipantPatch
	History       HistoryEntry
	Note          *Note
	// RequireGraduationReady makes the store reject the mutation unless the
	// row it holds locked has every graduation step complete.
	RequireGraduationReady bool
}

// ApplyMutation folds a mutation into the in-memory aggregate.
func (p *Participant) ApplyMutation(m ParticipantMutation) {
	patch := m.Patch
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	for _, assignment := range patch.Assignments {
		value := cloneString(assignment.UserID)
		switch assignment.Role {
		case AssignmentBridgeTeam:
			p.AssignedBridgeTeamMember = value
		case AssignmentMentorLeader:
			p.AssignedMentorLeader = value
		case AssignmentMentor:
			p.AssignedMentor = value
		}
	}
	if patch.NextWeeklyUpdateDue != nil {
		p.NextWeeklyUpdateDue = cloneTime(patch.NextWeeklyUpdateDue)
	}
	if patch.NextMonthlyCheckInDue != nil {
		p.NextMonthlyCheckInDue = cloneTime(patch.NextMonthlyCheckInDue)
	}
	if patch.SeedWeeklyUpdateDue != nil && p.NextWeeklyUpdateDue == nil {
		p.NextWeeklyUpdateDue = cloneTime(patch.SeedWeeklyUpdateDue)
	}
	if patch.SeedMonthlyCheckInDue != nil && p.NextMonthlyCheckInDue == nil {
		p.NextMonthlyCheckInDue = cloneTime(patch.SeedMonthlyCheckInDue)
	}
	if patch.LastWeeklyUpdateAt != nil {
		p.LastWeeklyUpdateAt = cloneTime(patch.LastWeeklyUpdateAt)
	}
	if patch.LastMonthlyCheckInAt != nil {
		p.LastMonthlyCheckInAt = cloneTime(patch.LastMonthlyCheckInAt)
	}
	if patch.LastContactAttemptAt != nil {
		p.LastContactAttemptAt = cloneTime(patch.LastContactAttemptAt)
	}
	if patch.GraduatedAt != nil {
		p.GraduatedAt = cloneTime(patch.GraduatedAt)
	}
	if patch.CompletedGraduationSteps != nil {
		p.CompletedGraduationSteps = append([]string{}, patch.CompletedGraduationSteps...)
	}
	if patch.GraduationApproval != nil {
		approval := *patch.GraduationApproval
		p.GraduationApproval = &approval
	}
	if !patch.UpdatedAt.IsZero() {
		p.UpdatedAt = patch.UpdatedAt
	}
	if m.Note != nil {
		p.Notes = append(p.Notes, *m.Note)
	}
	p.History = append(p.History, m.History.clone())
}
