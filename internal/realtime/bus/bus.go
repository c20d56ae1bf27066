package bus

import (
	"context"

	"github.com/studyforge/studyforge-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.JobEvent) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.JobEvent)) error
	Close() error
}
