// Package homework holds the homework-status domain: response validation,
// status change tracking and notification text.
package homework

import (
	"strconv"
	"time"
)

// Status is a review status code reported by the homework API.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusReviewing Status = "reviewing"
	StatusRejected  Status = "rejected"
)

// verdicts is the closed set of recognized statuses.
var verdicts = map[Status]string{
	StatusApproved:  "The reviewer checked the work and liked everything. Hooray!",
	StatusReviewing: "The work has been taken for review.",
	StatusRejected:  "The reviewer checked the work and left comments.",
}

// Known reports whether s is one of the recognized status codes.
func (s Status) Known() bool {
	_, ok := verdicts[s]
	return ok
}

// Submission is one homework record from the API.
type Submission struct {
	ID              int64
	Name            string
	Status          Status
	ReviewerComment string
	DateUpdated     time.Time
}

// Key identifies the submission for change tracking.
// The numeric id is preferred; records without one fall back to the name.
func (s Submission) Key() string {
	if s.ID != 0 {
		return "id:" + strconv.FormatInt(s.ID, 10)
	}
	return "name:" + s.Name
}
