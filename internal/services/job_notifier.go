package services

import (
	"context"

	"github.com/studyforge/studyforge-backend/internal/domain"
	"github.com/studyforge/studyforge-backend/internal/platform/logger"
	"github.com/studyforge/studyforge-backend/internal/realtime"
	"github.com/studyforge/studyforge-backend/internal/realtime/bus"
)

// JobNotifier fans job state changes out to interested listeners. Calls are
// fire-and-forget; delivery failure never affects the job itself.
type JobNotifier interface {
	JobCreated(ctx context.Context, job *domain.GenerationJob)
	JobUpdated(ctx context.Context, job *domain.GenerationJob)
	JobCompleted(ctx context.Context, job *domain.GenerationJob)
}

type busNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewBusNotifier(baseLog *logger.Logger, b bus.Bus) JobNotifier {
	return &busNotifier{log: baseLog.With("service", "JobNotifier"), bus: b}
}

func (n *busNotifier) JobCreated(ctx context.Context, job *domain.GenerationJob) {
	n.publish(ctx, realtime.EventJobCreated, job)
}

func (n *busNotifier) JobUpdated(ctx context.Context, job *domain.GenerationJob) {
	n.publish(ctx, realtime.EventJobUpdated, job)
}

func (n *busNotifier) JobCompleted(ctx context.Context, job *domain.GenerationJob) {
	n.publish(ctx, realtime.EventJobCompleted, job)
}

func (n *busNotifier) publish(ctx context.Context, event string, job *domain.GenerationJob) {
	if n.bus == nil || job == nil {
		return
	}
	msg := realtime.JobEvent{
		Channel: job.DocumentID.String(),
		Event:   event,
		Data:    job.Clone(),
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("Failed to publish job event",
			"job_id", job.ID, "event", event, "error", err)
	}
}

type nopNotifier struct{}

// NewNopNotifier is for wiring without a bus, and for tests.
func NewNopNotifier() JobNotifier { return nopNotifier{} }

func (nopNotifier) JobCreated(context.Context, *domain.GenerationJob)   {}
func (nopNotifier) JobUpdated(context.Context, *domain.GenerationJob)   {}
func (nopNotifier) JobCompleted(context.Context, *domain.GenerationJob) {}
