package homework

// Decision is the tracker's verdict on a new observation.
type Decision int

const (
	Unchanged Decision = iota
	FirstObservation
	Changed
)

func (d Decision) String() string {
	switch d {
	case FirstObservation:
		return "first_observation"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// Notify reports whether the decision warrants a notification.
func (d Decision) Notify() bool { return d == FirstObservation || d == Changed }

// Tracker remembers the last confirmed status per submission.
//
// It is owned by a single poll loop and is not safe for concurrent use.
type Tracker struct {
	last map[string]Status
	// prev holds the value replaced by the most recent Observe per key, so a
	// failed delivery can be rolled back with Forget.
	prev map[string]prevEntry
}

type prevEntry struct {
	status Status
	had    bool
}

func NewTracker() *Tracker {
	return &Tracker{last: map[string]Status{}, prev: map[string]prevEntry{}}
}

// Observe records s.Status for s and classifies the change.
// s.Status must already be a recognized status.
func (t *Tracker) Observe(s Submission) Decision {
	key := s.Key()
	old, had := t.last[key]
	switch {
	case !had:
		t.prev[key] = prevEntry{}
		t.last[key] = s.Status
		return FirstObservation
	case old == s.Status:
		delete(t.prev, key)
		return Unchanged
	default:
		t.prev[key] = prevEntry{status: old, had: true}
		t.last[key] = s.Status
		return Changed
	}
}

// Forget undoes the last state-changing Observe for s, so the same change is
// detected again on the next poll.
func (t *Tracker) Forget(s Submission) {
	key := s.Key()
	p, ok := t.prev[key]
	if !ok {
		return
	}
	delete(t.prev, key)
	if p.had {
		t.last[key] = p.status
		return
	}
	delete(t.last, key)
}

// Last returns the stored status for s, if any.
func (t *Tracker) Last(s Submission) (Status, bool) {
	st, ok := t.last[s.Key()]
	return st, ok
}

// Len returns the number of tracked submissions.
func (t *Tracker) Len() int { return len(t.last) }
