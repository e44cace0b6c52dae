package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/models"
	"github.com/noah-isme/reentry-case-api/pkg/jobs"
)

const participantFeedJob = "participant_change"

type changePublisher interface {
	Publish(ctx context.Context, event models.ParticipantEvent) error
}

// ChangeDispatcher publishes participant events in the background on a worker
// queue, retrying failed publications.
type ChangeDispatcher struct {
	publisher changePublisher
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewChangeDispatcher builds the dispatcher and its queue.
func NewChangeDispatcher(publisher changePublisher, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *ChangeDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	d := &ChangeDispatcher{publisher: publisher, metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue("participant-feed", d.handle, cfg)
	return d
}

// Start launches the workers.
func (d *ChangeDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (d *ChangeDispatcher) Stop() {
	d.queue.Stop()
}

// Notify enqueues the event for publication. It never blocks the caller; a
// full buffer drops the event and returns an error.
func (d *ChangeDispatcher) Notify(_ context.Context, event models.ParticipantEvent) error {
	return d.queue.TryEnqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    participantFeedJob,
		Payload: event,
	})
}

func (d *ChangeDispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.ParticipantEvent)
	if !ok {
		d.logger.Error("unexpected participant feed payload", zap.String("job_id", job.ID))
		return nil
	}
	err := d.publisher.Publish(ctx, event)
	d.metrics.RecordFeedPublish(string(event.Type), err)
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", event.Type, event.ParticipantID, err)
	}
	return nil
}
