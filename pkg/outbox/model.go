package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is a stored outbox row awaiting relay to the broker.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// Record is a pending outbox insert, written in the same transaction
// as the state change it describes.
type Record struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Traceparent   string
}
