package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/reentry-case-api/internal/models"
)

// ErrAlreadyApproved is returned when a mutation tries to set a graduation approval twice.
var ErrAlreadyApproved = errors.New("graduation already approved")

// ErrNotReadyForGraduation is returned when a mutation requires a complete
// checklist and the locked row does not have one.
var ErrNotReadyForGraduation = errors.New("graduation checklist incomplete")

// ContactField selects the column used for duplicate lookups.
type ContactField string

const (
	ContactPhone ContactField = "phone_number"
	ContactEmail ContactField = "email"
)

// ParticipantRepository persists participants in PostgreSQL. History entries
// and notes are rows keyed by id, so appends never rewrite earlier entries.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository constructs the repository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `id, first_name, last_name, date_of_birth, age, gender, phone_number, email,
       participant_number, release_date, time_out, released_from, status,
       assigned_bridge_team_member, assigned_mentor_leader, assigned_mentor,
       next_weekly_update_due, next_monthly_check_in_due, next_monthly_report_due,
       last_weekly_update_at, last_monthly_check_in_at, last_monthly_report_at, last_contact_attempt_at,
       completed_graduation_steps, graduation_approval, graduated_at, extra_fields, source, created_at, updated_at`

type participantRow struct {
	ID                       string         `db:"id"`
	FirstName                string         `db:"first_name"`
	LastName                 string         `db:"last_name"`
	DateOfBirth              time.Time      `db:"date_of_birth"`
	Age                      int            `db:"age"`
	Gender                   string         `db:"gender"`
	PhoneNumber              *string        `db:"phone_number"`
	Email                    *string        `db:"email"`
	ParticipantNumber        string         `db:"participant_number"`
	ReleaseDate              time.Time      `db:"release_date"`
	TimeOut                  int            `db:"time_out"`
	ReleasedFrom             string         `db:"released_from"`
	Status                   string         `db:"status"`
	AssignedBridgeTeamMember *string        `db:"assigned_bridge_team_member"`
	AssignedMentorLeader     *string        `db:"assigned_mentor_leader"`
	AssignedMentor           *string        `db:"assigned_mentor"`
	NextWeeklyUpdateDue      *time.Time     `db:"next_weekly_update_due"`
	NextMonthlyCheckInDue    *time.Time     `db:"next_monthly_check_in_due"`
	NextMonthlyReportDue     *time.Time     `db:"next_monthly_report_due"`
	LastWeeklyUpdateAt       *time.Time     `db:"last_weekly_update_at"`
	LastMonthlyCheckInAt     *time.Time     `db:"last_monthly_check_in_at"`
	LastMonthlyReportAt      *time.Time     `db:"last_monthly_report_at"`
	LastContactAttemptAt     *time.Time     `db:"last_contact_attempt_at"`
	CompletedGraduationSteps pq.StringArray `db:"completed_graduation_steps"`
	GraduationApproval       *string        `db:"graduation_approval"`
	GraduatedAt              *time.Time     `db:"graduated_at"`
	ExtraFields              *string        `db:"extra_fields"`
	Source                   string         `db:"source"`
	CreatedAt                time.Time      `db:"created_at"`
	UpdatedAt                time.Time      `db:"updated_at"`
}

type historyRow struct {
	ID            string    `db:"id"`
	ParticipantID string    `db:"participant_id"`
	Type          string    `db:"type"`
	Description   string    `db:"description"`
	Details       *string   `db:"details"`
	CreatedBy     *string   `db:"created_by"`
	CreatedByName *string   `db:"created_by_name"`
	CreatedAt     time.Time `db:"created_at"`
	Metadata      *string   `db:"metadata"`
}

type noteRow struct {
	ID            string    `db:"id"`
	ParticipantID string    `db:"participant_id"`
	Content       string    `db:"content"`
	CreatedBy     string    `db:"created_by"`
	CreatedByName string    `db:"created_by_name"`
	CreatedAt     time.Time `db:"created_at"`
}

// Ping checks database connectivity.
func (r *ParticipantRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts the participant and its initial history in one transaction.
func (r *ParticipantRepository) Create(ctx context.Context, participant *models.Participant) (err error) {
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	row, err := toParticipantRow(participant)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin participant transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertParticipant = `INSERT INTO participants
	(id, first_name, last_name, date_of_birth, age, gender, phone_number, email, participant_number, release_date,
	 time_out, released_from, status, assigned_bridge_team_member, assigned_mentor_leader, assigned_mentor,
	 next_weekly_update_due, next_monthly_check_in_due, next_monthly_report_due, last_weekly_update_at,
	 last_monthly_check_in_at, last_monthly_report_at, last_contact_attempt_at, completed_graduation_steps,
	 graduation_approval, graduated_at, extra_fields, source, created_at, updated_at)
	VALUES (:id, :first_name, :last_name, :date_of_birth, :age, :gender, :phone_number, :email, :participant_number, :release_date,
	 :time_out, :released_from, :status, :assigned_bridge_team_member, :assigned_mentor_leader, :assigned_mentor,
	 :next_weekly_update_due, :next_monthly_check_in_due, :next_monthly_report_due, :last_weekly_update_at,
	 :last_monthly_check_in_at, :last_monthly_report_at, :last_contact_attempt_at, :completed_graduation_steps,
	 :graduation_approval, :graduated_at, :extra_fields, :source, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertParticipant, row); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	for i := range participant.History {
		if err = insertHistory(ctx, tx, participant.ID, &participant.History[i]); err != nil {
			return err
		}
	}
	for i := range participant.Notes {
		if err = insertNote(ctx, tx, participant.ID, &participant.Notes[i]); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit participant: %w", err)
	}
	return nil
}

// GetByID loads the full aggregate. Missing participants return sql.ErrNoRows.
func (r *ParticipantRepository) GetByID(ctx context.Context, id string) (*models.Participant, error) {
	var row participantRow
	query := "SELECT " + participantColumns + " FROM participants WHERE id = $1"
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	participants, err := r.hydrate(ctx, []participantRow{row})
	if err != nil {
		return nil, err
	}
	return &participants[0], nil
}

// List returns participants matching the filter, newest first.
func (r *ParticipantRepository) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString("SELECT " + participantColumns + " FROM participants")

	conditions := make([]string, 0, 2)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("(assigned_bridge_team_member = $%d OR assigned_mentor_leader = $%d OR assigned_mentor = $%d)", len(args), len(args), len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var rows []participantRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return r.hydrate(ctx, rows)
}

// FindByContact returns participants whose phone or email equals value exactly.
func (r *ParticipantRepository) FindByContact(ctx context.Context, field ContactField, value string) ([]models.Participant, error) {
	if field != ContactPhone && field != ContactEmail {
		return nil, fmt.Errorf("unsupported contact field %q", field)
	}
	if value == "" {
		return []models.Participant{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM participants WHERE %s = $1 ORDER BY created_at", participantColumns, field)
	var rows []participantRow
	if err := r.db.SelectContext(ctx, &rows, query, value); err != nil {
		return nil, fmt.Errorf("find participants by %s: %w", field, err)
	}
	return r.hydrate(ctx, rows)
}

// Apply performs a partial update plus its history entry (and optional note)
// under a row lock, so concurrent writers never lose each other's appends.
func (r *ParticipantRepository) Apply(ctx context.Context, mutation models.ParticipantMutation) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin participant mutation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current struct {
		ID       string         `db:"id"`
		Approved bool           `db:"approved"`
		Steps    pq.StringArray `db:"completed_graduation_steps"`
	}
	const lockQuery = `SELECT id, graduation_approval IS NOT NULL AS approved, completed_graduation_steps FROM participants WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &current, lockQuery, mutation.ParticipantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock participant: %w", err)
	}
	if mutation.Patch.GraduationApproval != nil && current.Approved {
		return ErrAlreadyApproved
	}
	if mutation.RequireGraduationReady && !models.IsReadyForGraduation(current.Steps) {
		return ErrNotReadyForGraduation
	}

	setParts, args, err := patchColumns(mutation.Patch)
	if err != nil {
		return err
	}
	if len(setParts) > 0 {
		args = append(args, mutation.ParticipantID)
		query := fmt.Sprintf("UPDATE participants SET %s WHERE id = $%d", strings.Join(setParts, ", "), len(args))
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
	}
	if err = insertHistory(ctx, tx, mutation.ParticipantID, &mutation.History); err != nil {
		return err
	}
	if mutation.Note != nil {
		if err = insertNote(ctx, tx, mutation.ParticipantID, mutation.Note); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit participant mutation: %w", err)
	}
	return nil
}

// Delete hard-deletes a participant; history and notes cascade.
func (r *ParticipantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check participant delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func patchColumns(patch models.ParticipantPatch) ([]string, []interface{}, error) {
	setParts := make([]string, 0, 8)
	args := make([]interface{}, 0, 8)
	set := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	for _, assignment := range patch.Assignments {
		column, ok := assignmentColumns[assignment.Role]
		if !ok {
			return nil, nil, fmt.Errorf("unsupported assignment role %q", assignment.Role)
		}
		set(column, assignment.UserID)
	}
	if patch.NextWeeklyUpdateDue != nil {
		set("next_weekly_update_due", *patch.NextWeeklyUpdateDue)
	}
	if patch.NextMonthlyCheckInDue != nil {
		set("next_monthly_check_in_due", *patch.NextMonthlyCheckInDue)
	}
	if patch.SeedWeeklyUpdateDue != nil && patch.NextWeeklyUpdateDue == nil {
		args = append(args, *patch.SeedWeeklyUpdateDue)
		setParts = append(setParts, fmt.Sprintf("next_weekly_update_due = COALESCE(next_weekly_update_due, $%d)", len(args)))
	}
	if patch.SeedMonthlyCheckInDue != nil && patch.NextMonthlyCheckInDue == nil {
		args = append(args, *patch.SeedMonthlyCheckInDue)
		setParts = append(setParts, fmt.Sprintf("next_monthly_check_in_due = COALESCE(next_monthly_check_in_due, $%d)", len(args)))
	}
	if patch.LastWeeklyUpdateAt != nil {
		set("last_weekly_update_at", *patch.LastWeeklyUpdateAt)
	}
	if patch.LastMonthlyCheckInAt != nil {
		set("last_monthly_check_in_at", *patch.LastMonthlyCheckInAt)
	}
	if patch.LastContactAttemptAt != nil {
		set("last_contact_attempt_at", *patch.LastContactAttemptAt)
	}
	if patch.GraduatedAt != nil {
		set("graduated_at", *patch.GraduatedAt)
	}
	if patch.CompletedGraduationSteps != nil {
		set("completed_graduation_steps", pq.StringArray(patch.CompletedGraduationSteps))
	}
	if patch.GraduationApproval != nil {
		raw, err := json.Marshal(patch.GraduationApproval)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal graduation approval: %w", err)
		}
		set("graduation_approval", string(raw))
	}
	if !patch.UpdatedAt.IsZero() {
		set("updated_at", patch.UpdatedAt)
	}
	return setParts, args, nil
}

var assignmentColumns = map[models.AssignmentRole]string{
	models.AssignmentBridgeTeam:   "assigned_bridge_team_member",
	models.AssignmentMentorLeader: "assigned_mentor_leader",
	models.AssignmentMentor:       "assigned_mentor",
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, participantID string, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	row := historyRow{
		ID:            entry.ID,
		ParticipantID: participantID,
		Type:          string(entry.Type),
		Description:   entry.Description,
		Details:       optionalString(entry.Details),
		CreatedBy:     optionalString(entry.CreatedBy),
		CreatedByName: optionalString(entry.CreatedByName),
		CreatedAt:     entry.CreatedAt,
	}
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal history metadata: %w", err)
		}
		meta := string(raw)
		row.Metadata = &meta
	}
	const query = `INSERT INTO participant_history
	(id, participant_id, type, description, details, created_by, created_by_name, created_at, metadata)
	VALUES (:id, :participant_id, :type, :description, :details, :created_by, :created_by_name, :created_at, :metadata)`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert participant history: %w", err)
	}
	return nil
}

func insertNote(ctx context.Context, tx *sqlx.Tx, participantID string, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	row := noteRow{
		ID:            note.ID,
		ParticipantID: participantID,
		Content:       note.Content,
		CreatedBy:     note.CreatedBy,
		CreatedByName: note.CreatedByName,
		CreatedAt:     note.CreatedAt,
	}
	const query = `INSERT INTO participant_notes (id, participant_id, content, created_by, created_by_name, created_at)
	VALUES (:id, :participant_id, :content, :created_by, :created_by_name, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert participant note: %w", err)
	}
	return nil
}

// hydrate attaches history and notes to the loaded rows in two batched queries.
func (r *ParticipantRepository) hydrate(ctx context.Context, rows []participantRow) ([]models.Participant, error) {
	participants := make([]models.Participant, 0, len(rows))
	if len(rows) == 0 {
		return participants, nil
	}
	ids := make([]string, len(rows))
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		participants = append(participants, *p)
		ids[i] = row.ID
		index[row.ID] = i
	}

	const historyQuery = `SELECT id, participant_id, type, description, details, created_by, created_by_name, created_at, metadata
	FROM participant_history WHERE participant_id = ANY($1) ORDER BY created_at, seq`
	var history []historyRow
	if err := r.db.SelectContext(ctx, &history, historyQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load participant history: %w", err)
	}
	for _, h := range history {
		entry, err := h.toModel()
		if err != nil {
			return nil, err
		}
		i := index[h.ParticipantID]
		participants[i].History = append(participants[i].History, entry)
	}

	const notesQuery = `SELECT id, participant_id, content, created_by, created_by_name, created_at
	FROM participant_notes WHERE participant_id = ANY($1) ORDER BY created_at, seq`
	var notes []noteRow
	if err := r.db.SelectContext(ctx, &notes, notesQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load participant notes: %w", err)
	}
	for _, n := range notes {
		i := index[n.ParticipantID]
		participants[i].Notes = append(participants[i].Notes, models.Note{
			ID:            n.ID,
			Content:       n.Content,
			CreatedBy:     n.CreatedBy,
			CreatedByName: n.CreatedByName,
			CreatedAt:     n.CreatedAt,
		})
	}
	return participants, nil
}

func toParticipantRow(p *models.Participant) (*participantRow, error) {
	row := &participantRow{
		ID:                       p.ID,
		FirstName:                p.FirstName,
		LastName:                 p.LastName,
		DateOfBirth:              p.DateOfBirth,
		Age:                      p.Age,
		Gender:                   p.Gender,
		PhoneNumber:              p.PhoneNumber,
		Email:                    p.Email,
		ParticipantNumber:        p.ParticipantNumber,
		ReleaseDate:              p.ReleaseDate,
		TimeOut:                  p.TimeOut,
		ReleasedFrom:             p.ReleasedFrom,
		Status:                   string(p.Status),
		AssignedBridgeTeamMember: p.AssignedBridgeTeamMember,
		AssignedMentorLeader:     p.AssignedMentorLeader,
		AssignedMentor:           p.AssignedMentor,
		NextWeeklyUpdateDue:      p.NextWeeklyUpdateDue,
		NextMonthlyCheckInDue:    p.NextMonthlyCheckInDue,
		NextMonthlyReportDue:     p.NextMonthlyReportDue,
		LastWeeklyUpdateAt:       p.LastWeeklyUpdateAt,
		LastMonthlyCheckInAt:     p.LastMonthlyCheckInAt,
		LastMonthlyReportAt:      p.LastMonthlyReportAt,
		LastContactAttemptAt:     p.LastContactAttemptAt,
		CompletedGraduationSteps: pq.StringArray(append([]string{}, p.CompletedGraduationSteps...)),
		GraduatedAt:              p.GraduatedAt,
		Source:                   string(p.Source),
		CreatedAt:                p.CreatedAt,
		UpdatedAt:                p.UpdatedAt,
	}
	if p.GraduationApproval != nil {
		raw, err := json.Marshal(p.GraduationApproval)
		if err != nil {
			return nil, fmt.Errorf("marshal graduation approval: %w", err)
		}
		approval := string(raw)
		row.GraduationApproval = &approval
	}
	if len(p.ExtraFields) > 0 {
		raw, err := json.Marshal(p.ExtraFields)
		if err != nil {
			return nil, fmt.Errorf("marshal extra fields: %w", err)
		}
		extra := string(raw)
		row.ExtraFields = &extra
	}
	return row, nil
}

func (row participantRow) toModel() (*models.Participant, error) {
	p := &models.Participant{
		ID:                       row.ID,
		FirstName:                row.FirstName,
		LastName:                 row.LastName,
		DateOfBirth:              row.DateOfBirth,
		Age:                      row.Age,
		Gender:                   row.Gender,
		PhoneNumber:              row.PhoneNumber,
		Email:                    row.Email,
		ParticipantNumber:        row.ParticipantNumber,
		ReleaseDate:              row.ReleaseDate,
		TimeOut:                  row.TimeOut,
		ReleasedFrom:             row.ReleasedFrom,
		Status:                   models.ParticipantStatus(row.Status),
		AssignedBridgeTeamMember: row.AssignedBridgeTeamMember,
		AssignedMentorLeader:     row.AssignedMentorLeader,
		AssignedMentor:           row.AssignedMentor,
		NextWeeklyUpdateDue:      row.NextWeeklyUpdateDue,
		NextMonthlyCheckInDue:    row.NextMonthlyCheckInDue,
		NextMonthlyReportDue:     row.NextMonthlyReportDue,
		LastWeeklyUpdateAt:       row.LastWeeklyUpdateAt,
		LastMonthlyCheckInAt:     row.LastMonthlyCheckInAt,
		LastMonthlyReportAt:      row.LastMonthlyReportAt,
		LastContactAttemptAt:     row.LastContactAttemptAt,
		CompletedGraduationSteps: append([]string{}, row.CompletedGraduationSteps...),
		GraduatedAt:              row.GraduatedAt,
		Source:                   models.IntakeSource(row.Source),
		CreatedAt:                row.CreatedAt,
		UpdatedAt:                row.UpdatedAt,
		Notes:                    []models.Note{},
		History:                  []models.HistoryEntry{},
	}
	if row.GraduationApproval != nil && *row.GraduationApproval != "" {
		var approval models.GraduationApproval
		if err := json.Unmarshal([]byte(*row.GraduationApproval), &approval); err != nil {
			return nil, fmt.Errorf("decode graduation approval for %s: %w", row.ID, err)
		}
		p.GraduationApproval = &approval
	}
	if row.ExtraFields != nil && *row.ExtraFields != "" {
		if err := json.Unmarshal([]byte(*row.ExtraFields), &p.ExtraFields); err != nil {
			return nil, fmt.Errorf("decode extra fields for %s: %w", row.ID, err)
		}
	}
	return p, nil
}

func (row historyRow) toModel() (models.HistoryEntry, error) {
	entry := models.HistoryEntry{
		ID:          row.ID,
		Type:        models.HistoryType(row.Type),
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}
	if row.Details != nil {
		entry.Details = *row.Details
	}
	if row.CreatedBy != nil {
		entry.CreatedBy = *row.CreatedBy
	}
	if row.CreatedByName != nil {
		entry.CreatedByName = *row.CreatedByName
	}
	if row.Metadata != nil && *row.Metadata != "" {
		if err := json.Unmarshal([]byte(*row.Metadata), &entry.Metadata); err != nil {
			return entry, fmt.Errorf("decode history metadata for %s: %w", row.ID, err)
		}
	}
	return entry, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
