package job

import "time"

type EventKind string

const (
	EventSnapshot  EventKind = "snapshot"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is the ephemeral progress message published per job. Delivery is
// at-most-once; late subscribers rely on the snapshot synthesized on connect.
type Event struct {
	JobID     string    `json:"id"`
	Kind      EventKind `json:"event"`
	Progress  *int      `json:"progress,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Error     *Error    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
