package realtime

// JobEvent is the wire shape published for every job state change. Channel is
// the document id so clients can subscribe per document.
type JobEvent struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

const (
	EventJobCreated   = "job.created"
	EventJobUpdated   = "job.updated"
	EventJobCompleted = "job.completed"
)
