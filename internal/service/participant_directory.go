package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/internal/repository"
)

const directoryPageSize = 500

type directorySource interface {
	List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error)
}

type changeSubscriber interface {
	Subscribe(ctx context.Context) (<-chan models.ParticipantEvent, error)
}

// ParticipantDirectory is the live in-memory participant collection. It loads a
// snapshot from the store and then follows the change feed, so reads keep
// working, possibly stale, when the store goes away.
type ParticipantDirectory struct {
	mu           sync.RWMutex
	participants map[string]*models.Participant

	// deleted holds the time of each delete event until a refresh that
	// started after it no longer returns the row.
	deleted map[string]time.Time

	source          directorySource
	feed            changeSubscriber
	refreshInterval time.Duration
	metrics         *MetricsService
	logger          *zap.Logger
}

// NewParticipantDirectory constructs an empty directory. Source and feed may be nil.
func NewParticipantDirectory(source directorySource, feed changeSubscriber, refreshInterval time.Duration, metrics *MetricsService, logger *zap.Logger) *ParticipantDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParticipantDirectory{
		participants:    make(map[string]*models.Participant),
		deleted:         make(map[string]time.Time),
		source:          source,
		feed:            feed,
		refreshInterval: refreshInterval,
		metrics:         metrics,
		logger:          logger,
	}
}

// Start subscribes to the feed, loads the initial snapshot and keeps the
// directory current until ctx is cancelled. The subscription is opened before
// the snapshot is read so no change is missed in between.
func (d *ParticipantDirectory) Start(ctx context.Context) error {
	var events <-chan models.ParticipantEvent
	if d.feed != nil {
		ch, err := d.feed.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe participant feed: %w", err)
		}
		events = ch
	}
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("initial participant directory load failed", zap.Error(err))
	}

	go d.run(ctx, events)
	return nil
}

func (d *ParticipantDirectory) run(ctx context.Context, events <-chan models.ParticipantEvent) {
	var tick <-chan time.Time
	if d.refreshInterval > 0 && d.source != nil {
		ticker := time.NewTicker(d.refreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				d.logger.Warn("participant feed closed")
				events = nil
				continue
			}
			d.Apply(event)
		case <-tick:
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warn("participant directory refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh reloads every participant from the source. Entries changed by feed
// events after the reload started are kept when they are newer.
func (d *ParticipantDirectory) Refresh(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	startedAt := time.Now().UTC()
	loaded := make(map[string]*models.Participant)
	for offset := 0; ; offset += directoryPageSize {
		page, err := d.source.List(ctx, models.ParticipantFilter{Limit: directoryPageSize, Offset: offset})
		if err != nil {
			d.metrics.RecordDirectoryRefresh(err)
			return fmt.Errorf("load participant page at %d: %w", offset, err)
		}
		for i := range page {
			loaded[page[i].ID] = page[i].Clone()
		}
		if len(page) < directoryPageSize {
			break
		}
	}

	d.mu.Lock()
	for id, existing := range d.participants {
		fresh, ok := loaded[id]
		switch {
		case !ok && existing.UpdatedAt.After(startedAt):
			loaded[id] = existing
		case ok && existing.UpdatedAt.After(fresh.UpdatedAt):
			loaded[id] = existing
		}
	}
	for id, deletedAt := range d.deleted {
		if fresh, ok := loaded[id]; ok && !fresh.UpdatedAt.After(deletedAt) {
			delete(loaded, id)
			continue
		}
		if deletedAt.Before(startedAt) {
			delete(d.deleted, id)
		}
	}
	d.participants = loaded
	size := len(loaded)
	d.mu.Unlock()

	d.metrics.RecordDirectoryRefresh(nil)
	d.metrics.SetDirectorySize(size)
	return nil
}

// Apply folds one change event into the directory. Out-of-order upserts older
// than the held copy are ignored, as are upserts not newer than a delete.
func (d *ParticipantDirectory) Apply(event models.ParticipantEvent) {
	d.mu.Lock()
	switch event.Type {
	case models.ParticipantEventDeleted:
		deletedAt := event.OccurredAt
		if deletedAt.IsZero() {
			deletedAt = time.Now().UTC()
		}
		if prior, ok := d.deleted[event.ParticipantID]; !ok || deletedAt.After(prior) {
			d.deleted[event.ParticipantID] = deletedAt
		}
		delete(d.participants, event.ParticipantID)
	case models.ParticipantEventUpserted:
		if event.Participant == nil {
			break
		}
		if deletedAt, ok := d.deleted[event.ParticipantID]; ok && !event.Participant.UpdatedAt.After(deletedAt) {
			break
		}
		if existing, ok := d.participants[event.ParticipantID]; ok && existing.UpdatedAt.After(event.Participant.UpdatedAt) {
			break
		}
		d.participants[event.ParticipantID] = event.Participant.Clone()
	}
	size := len(d.participants)
	d.mu.Unlock()
	d.metrics.SetDirectorySize(size)
}

// Get returns a copy of the participant.
func (d *ParticipantDirectory) Get(id string) (*models.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// List returns matching participants newest first.
func (d *ParticipantDirectory) List(filter models.ParticipantFilter) []models.Participant {
	d.mu.RLock()
	matches := make([]models.Participant, 0, len(d.participants))
	for _, p := range d.participants {
		if repository.MatchesFilter(p, filter) {
			matches = append(matches, *p.Clone())
		}
	}
	d.mu.RUnlock()
	repository.SortNewestFirst(matches)
	return repository.Paginate(matches, filter.Limit, filter.Offset)
}

// FindByContact returns participants with an exact phone or email match.
func (d *ParticipantDirectory) FindByContact(field repository.ContactField, value string) []models.Participant {
	matches := make([]models.Participant, 0)
	if value == "" {
		return matches
	}
	d.mu.RLock()
	for _, p := range d.participants {
		if repository.MatchesContact(p, field, value) {
			matches = append(matches, *p.Clone())
		}
	}
	d.mu.RUnlock()
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches
}

// Len reports the number of participants held.
func (d *ParticipantDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}
