package app

import (
	"context"
	"time"

	"homeworkbot/internal/eventbus"
	"homeworkbot/internal/notifier"
	"homeworkbot/internal/observability"
	"homeworkbot/internal/poller"
	"homeworkbot/internal/storage"
	logx "homeworkbot/pkg/logx"
)

// recordedEvents are the bus events the recorder consumes.
var recordedEvents = []string{poller.EventCycle, notifier.EventSent, notifier.EventFailed}

// recorder turns bus events into metrics and audit entries.
type recorder struct {
	log     logx.Logger
	metrics *observability.Metrics
	store   storage.Store // nil when the journal is disabled
}

func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, e)
		}
	}
}

func (r *recorder) handle(ctx context.Context, e eventbus.Event) {
	r.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))

	switch e.Type {
	case poller.EventCycle:
		o, ok := e.Data.(poller.Outcome)
		if !ok {
			return
		}
		r.metrics.ObserveCycle(string(o.Result), o.Fault, o.WindowAfter, o.Started.Add(o.Duration))
		if r.store == nil {
			return
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := r.store.AppendAudit(actx, auditEntry(o))
		cancel()
		if err != nil {
			r.log.Warn("audit append failed", logx.String("cycle_id", o.CycleID), logx.Err(err))
		}
	case notifier.EventSent:
		r.metrics.ObserveNotification("sent")
	case notifier.EventFailed:
		r.metrics.ObserveNotification("failed")
	}
}

func auditEntry(o poller.Outcome) storage.AuditEntry {
	return storage.AuditEntry{
		At:          o.Started,
		CycleID:     o.CycleID,
		Result:      string(o.Result),
		Submission:  o.Submission,
		Status:      o.Status,
		Decision:    o.Decision,
		Delivered:   o.Delivered,
		Fault:       o.Fault,
		Error:       o.Error,
		WindowStart: o.WindowAfter,
		TookMS:      o.Duration.Milliseconds(),
	}
}
