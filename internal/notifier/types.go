package notifier

import "time"

// Config controls delivery to the destination chat.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single send attempt.
	SendTimeout time.Duration
}

type HistoryItem struct {
	At        time.Time
	Text      string
	MessageID int
}

// NotificationEvent is emitted on the event bus for delivery lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)
