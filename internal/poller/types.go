package poller

import (
	"context"
	"time"

	"homeworkbot/internal/schedule"
)

// Fetcher returns the raw payload for submissions updated since a Unix timestamp.
type Fetcher interface {
	Fetch(ctx context.Context, since int64) (any, error)
}

// Notifier delivers text and returns the text the destination echoed back.
type Notifier interface {
	Send(ctx context.Context, text string) (string, error)
}

// Config controls the loop. Zero values fall back to defaults in New.
type Config struct {
	Schedule schedule.Spec
	// CycleTimeout bounds one fetch..notify pass.
	CycleTimeout time.Duration
	// ReportFailures sends a diagnostic to the chat when a cycle fails.
	ReportFailures bool
	// Backfill moves the initial window start into the past.
	Backfill time.Duration
}

const (
	DefaultInterval     = 10 * time.Minute
	DefaultCycleTimeout = 60 * time.Second

	// EventCycle is published on the bus after every cycle with an Outcome.
	EventCycle = "poll.cycle"
)

// Result summarizes how a cycle ended.
type Result string

const (
	ResultNotified  Result = "notified"
	ResultUnchanged Result = "unchanged"
	ResultEmpty     Result = "empty"
	ResultFault     Result = "fault"
	ResultCancelled Result = "cancelled"
)

// Outcome is the record of one cycle.
type Outcome struct {
	CycleID  string        `json:"cycle_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Result   Result        `json:"result"`

	Submission string `json:"submission,omitempty"`
	Status     string `json:"status,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Delivered  bool   `json:"delivered"`

	Fault    string `json:"fault,omitempty"`
	Error    string `json:"error,omitempty"`
	Reported bool   `json:"reported,omitempty"`

	WindowBefore int64 `json:"window_before"`
	WindowAfter  int64 `json:"window_after"`
}
