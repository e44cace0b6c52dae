package models

// ParticipantStatus captures where a participant sits in the reentry pipeline.
type ParticipantStatus string

const (
	StatusPendingBridge         ParticipantStatus = "pending_bridge"
	StatusBridgeContacted       ParticipantStatus = "bridge_contacted"
	StatusBridgeAttempted       ParticipantStatus = "bridge_attempted"
	StatusBridgeUnable          ParticipantStatus = "bridge_unable"
	StatusPendingMentor         ParticipantStatus = "pending_mentor"
	StatusAssignedMentor        ParticipantStatus = "assigned_mentor"
	StatusInitialContactPending ParticipantStatus = "initial_contact_pending"
	StatusMentorAttempted       ParticipantStatus = "mentor_attempted"
	StatusMentorUnable          ParticipantStatus = "mentor_unable"
	StatusActiveMentorship      ParticipantStatus = "active_mentorship"
	StatusGraduated             ParticipantStatus = "graduated"
	StatusCeasedContact         ParticipantStatus = "ceased_contact"
	StatusUnableToContact       ParticipantStatus = "unable_to_contact"
)

var statusLabels = map[ParticipantStatus]string{
	StatusPendingBridge:         "Pending Bridge Team",
	StatusBridgeContacted:       "Contacted by Bridge Team",
	StatusBridgeAttempted:       "Bridge Team Attempted Contact",
	StatusBridgeUnable:          "Bridge Team Unable to Contact",
	StatusPendingMentor:         "Pending Mentor Assignment",
	StatusAssignedMentor:        "Assigned to Mentor",
	StatusInitialContactPending: "Initial Contact Pending",
	StatusMentorAttempted:       "Mentor Attempted Contact",
	StatusMentorUnable:          "Mentor Unable to Contact",
	StatusActiveMentorship:      "Active Mentorship",
	StatusGraduated:             "Graduated",
	StatusCeasedContact:         "Ceased Contact",
	StatusUnableToContact:       "Unable to Contact",
}

// AllStatuses lists every status in pipeline order.
var AllStatuses = []ParticipantStatus{
	StatusPendingBridge,
	StatusBridgeContacted,
	StatusBridgeAttempted,
	StatusBridgeUnable,
	StatusPendingMentor,
	StatusAssignedMentor,
	StatusInitialContactPending,
	StatusMentorAttempted,
	StatusMentorUnable,
	StatusActiveMentorship,
	StatusGraduated,
	StatusCeasedContact,
	StatusUnableToContact,
}

// Valid reports whether the status belongs to the closed set.
func (s ParticipantStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the human readable status name used in history entries.
func (s ParticipantStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsMentorshipTrack reports whether the status is past the Bridge Team hand-off.
func (s ParticipantStatus) IsMentorshipTrack() bool {
	switch s {
	case StatusPendingMentor,
		StatusAssignedMentor,
		StatusInitialContactPending,
		StatusMentorAttempted,
		StatusMentorUnable,
		StatusActiveMentorship:
		return true
	default:
		return false
	}
}

// SuggestedTransitions is the conventional workflow offered to operators. It is
// advisory: UpdateParticipantStatus accepts any known status, and only
// graduation carries a hard gate.
var SuggestedTransitions = map[ParticipantStatus][]ParticipantStatus{
	StatusPendingBridge:         {StatusBridgeContacted, StatusBridgeAttempted, StatusBridgeUnable, StatusCeasedContact, StatusUnableToContact},
	StatusBridgeContacted:       {StatusPendingMentor, StatusCeasedContact, StatusUnableToContact},
	StatusBridgeAttempted:       {StatusPendingBridge, StatusBridgeContacted, StatusBridgeUnable, StatusCeasedContact, StatusUnableToContact},
	StatusBridgeUnable:          {StatusPendingBridge, StatusBridgeContacted, StatusCeasedContact, StatusUnableToContact},
	StatusPendingMentor:         {StatusAssignedMentor, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusAssignedMentor:        {StatusInitialContactPending, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusInitialContactPending: {StatusActiveMentorship, StatusMentorAttempted, StatusMentorUnable, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusMentorAttempted:       {StatusInitialContactPending, StatusActiveMentorship, StatusMentorUnable, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusMentorUnable:          {StatusInitialContactPending, StatusActiveMentorship, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusActiveMentorship:      {StatusGraduated, StatusPendingBridge, StatusCeasedContact, StatusUnableToContact},
	StatusGraduated:             {},
	StatusCeasedContact:         {},
	StatusUnableToContact:       {StatusPendingBridge},
}

// NextActions returns the suggested follow-up statuses for the given status.
func NextActions(from ParticipantStatus) []ParticipantStatus {
	next := SuggestedTransitions[from]
	out := make([]ParticipantStatus, len(next))
	copy(out, next)
	return out
}
