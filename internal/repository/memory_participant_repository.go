package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/reentry-case-api/internal/models"
)

// MemoryParticipantRepository keeps participants in process memory. Each
// mutation is applied under the store lock, mirroring the transactional
// PostgreSQL adapter. Used by tests and STORE_DRIVER=memory.
type MemoryParticipantRepository struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant
}

// NewMemoryParticipantRepository constructs an empty store.
func NewMemoryParticipantRepository() *MemoryParticipantRepository {
	return &MemoryParticipantRepository{participants: make(map[string]*models.Participant)}
}

// Ping always succeeds.
func (r *MemoryParticipantRepository) Ping(context.Context) error {
	return nil
}

// Create stores a copy of the participant.
func (r *MemoryParticipantRepository) Create(_ context.Context, participant *models.Participant) error {
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[participant.ID]; exists {
		return fmt.Errorf("insert participant: duplicate id %s", participant.ID)
	}
	r.participants[participant.ID] = participant.Clone()
	return nil
}

// GetByID returns a copy of the participant or sql.ErrNoRows.
func (r *MemoryParticipantRepository) GetByID(_ context.Context, id string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p.Clone(), nil
}

// List returns participants matching the filter, newest first.
func (r *MemoryParticipantRepository) List(_ context.Context, filter models.ParticipantFilter) ([]models.Participant, error) {
	r.mu.RLock()
	matches := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if MatchesFilter(p, filter) {
			matches = append(matches, *p.Clone())
		}
	}
	r.mu.RUnlock()

	SortNewestFirst(matches)
	return Paginate(matches, filter.Limit, filter.Offset), nil
}

// FindByContact returns participants whose phone or email equals value exactly.
func (r *MemoryParticipantRepository) FindByContact(_ context.Context, field ContactField, value string) ([]models.Participant, error) {
	if field != ContactPhone && field != ContactEmail {
		return nil, fmt.Errorf("unsupported contact field %q", field)
	}
	matches := make([]models.Participant, 0)
	if value == "" {
		return matches, nil
	}
	r.mu.RLock()
	for _, p := range r.participants {
		if MatchesContact(p, field, value) {
			matches = append(matches, *p.Clone())
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches, nil
}

// Apply folds the mutation into the stored aggregate atomically.
func (r *MemoryParticipantRepository) Apply(_ context.Context, mutation models.ParticipantMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[mutation.ParticipantID]
	if !ok {
		return sql.ErrNoRows
	}
	if mutation.Patch.GraduationApproval != nil && p.GraduationApproval != nil {
		return ErrAlreadyApproved
	}
	if mutation.RequireGraduationReady && !models.IsReadyForGraduation(p.CompletedGraduationSteps) {
		return ErrNotReadyForGraduation
	}
	for _, assignment := range mutation.Patch.Assignments {
		if _, ok := assignmentColumns[assignment.Role]; !ok {
			return fmt.Errorf("unsupported assignment role %q", assignment.Role)
		}
	}
	if mutation.History.ID == "" {
		mutation.History.ID = uuid.NewString()
	}
	if mutation.History.CreatedAt.IsZero() {
		mutation.History.CreatedAt = time.Now().UTC()
	}
	if mutation.Note != nil {
		note := *mutation.Note
		if note.ID == "" {
			note.ID = uuid.NewString()
		}
		mutation.Note = &note
	}
	p.ApplyMutation(mutation)
	return nil
}

// Delete removes the participant together with its notes and history.
func (r *MemoryParticipantRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.participants, id)
	return nil
}

// MatchesFilter reports whether p satisfies the status and assignee constraints of filter.
func MatchesFilter(p *models.Participant, filter models.ParticipantFilter) bool {
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if p.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.AssignedTo != "" {
		assigned := false
		for _, ref := range []*string{p.AssignedBridgeTeamMember, p.AssignedMentorLeader, p.AssignedMentor} {
			if ref != nil && *ref == filter.AssignedTo {
				assigned = true
				break
			}
		}
		if !assigned {
			return false
		}
	}
	return true
}

// MatchesContact reports an exact, non-empty match on the selected contact field.
func MatchesContact(p *models.Participant, field ContactField, value string) bool {
	if value == "" {
		return false
	}
	var current *string
	switch field {
	case ContactPhone:
		current = p.PhoneNumber
	case ContactEmail:
		current = p.Email
	}
	return current != nil && *current != "" && *current == value
}

// SortNewestFirst orders participants by creation time, newest first.
func SortNewestFirst(participants []models.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].CreatedAt.After(participants[j].CreatedAt)
	})
}

// Paginate applies limit and offset with the same defaults as the SQL store.
func Paginate(participants []models.Participant, limit, offset int) []models.Participant {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(participants) {
		return []models.Participant{}
	}
	end := offset + limit
	if end > len(participants) {
		end = len(participants)
	}
	return participants[offset:end]
}
