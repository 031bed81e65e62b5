package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the audit journal.
//
// Driver values:
//   - "file": JSON Lines at <path without ext>.audit.jsonl
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one poll cycle.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At          time.Time `json:"at"`
	CycleID     string    `json:"cycle_id"`
	Result      string    `json:"result"`
	Submission  string    `json:"submission,omitempty"`
	Status      string    `json:"status,omitempty"`
	Decision    string    `json:"decision,omitempty"`
	Delivered   bool      `json:"delivered"`
	Fault       string    `json:"fault,omitempty"`
	Error       string    `json:"error,omitempty"`
	WindowStart int64     `json:"window_start"`
	TookMS      int64     `json:"took_ms"`
}
