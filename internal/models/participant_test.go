package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantStatusLabels(t *testing.T) {
	for _, status := range AllStatuses {
		assert.True(t, status.Valid(), status)
		assert.NotEqual(t, string(status), status.Label(), status)
		_, ok := SuggestedTransitions[status]
		assert.True(t, ok, "missing suggested transitions for %s", status)
	}
	assert.False(t, ParticipantStatus("on_hold").Valid())
	assert.Equal(t, "on_hold", ParticipantStatus("on_hold").Label())
}

func TestSuggestedTransitionsAllowBackwardMoves(t *testing.T) {
	assert.Contains(t, NextActions(StatusBridgeAttempted), StatusPendingBridge)
	assert.Contains(t, NextActions(StatusBridgeUnable), StatusPendingBridge)
	assert.Contains(t, NextActions(StatusMentorAttempted), StatusInitialContactPending)
	assert.Contains(t, NextActions(StatusMentorUnable), StatusInitialContactPending)
	for _, status := range AllStatuses {
		if status.IsMentorshipTrack() {
			assert.Contains(t, NextActions(status), StatusPendingBridge, status)
		}
	}
	assert.Empty(t, NextActions(StatusGraduated))
}

func TestApplyMutationAppendsHistoryAndNote(t *testing.T) {
	mentor := "m1"
	p := &Participant{ID: "p1", Status: StatusActiveMentorship, AssignedMentor: &mentor}
	status := StatusPendingBridge
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p.ApplyMutation(ParticipantMutation{
		ParticipantID: "p1",
		Patch: ParticipantPatch{
			Status:      &status,
			Assignments: []AssignmentUpdate{{Role: AssignmentMentor}},
			UpdatedAt:   now,
		},
		History: HistoryEntry{ID: "h1", Type: HistoryStatusChange, CreatedAt: now, Metadata: map[string]string{"to": "pending_bridge"}},
		Note:    &Note{ID: "n1", Content: "moved back"},
	})

	assert.Equal(t, StatusPendingBridge, p.Status)
	assert.Nil(t, p.AssignedMentor)
	assert.Equal(t, now, p.UpdatedAt)
	require.Len(t, p.History, 1)
	require.Len(t, p.Notes, 1)
	assert.Equal(t, "pending_bridge", p.History[0].Metadata["to"])
}

func TestCloneIsDeep(t *testing.T) {
	phone := "555-1234"
	p := &Participant{
		ID:                       "p1",
		PhoneNumber:              &phone,
		CompletedGraduationSteps: []string{"orientation"},
		History:                  []HistoryEntry{{ID: "h1", Metadata: map[string]string{"k": "v"}}},
		ExtraFields:              map[string]string{"shoeSize": "10"},
	}

	c := p.Clone()
	*c.PhoneNumber = "000"
	c.CompletedGraduationSteps[0] = "housing"
	c.History[0].Metadata["k"] = "changed"
	c.ExtraFields["shoeSize"] = "11"

	assert.Equal(t, "555-1234", *p.PhoneNumber)
	assert.Equal(t, "orientation", p.CompletedGraduationSteps[0])
	assert.Equal(t, "v", p.History[0].Metadata["k"])
	assert.Equal(t, "10", p.ExtraFields["shoeSize"])
}
