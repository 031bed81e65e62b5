package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"homeworkbot/internal/eventbus"
	"homeworkbot/internal/homework"
	"homeworkbot/internal/schedule"
	logx "homeworkbot/pkg/logx"
)

// Deps are the loop's collaborators. Fetch and Notify are required.
type Deps struct {
	Fetch  Fetcher
	Notify Notifier
	Log    logx.Logger
	Bus    eventbus.Bus
	// AfterCycle runs on the loop goroutine after every cycle (watchdog pings).
	AfterCycle func(Outcome)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Loop polls the API, detects status changes and dispatches notifications.
//
// The window start and tracker are owned by the goroutine running Run/Cycle;
// only Apply and the read-only accessors may be called concurrently.
type Loop struct {
	fetch  Fetcher
	notify Notifier
	log    logx.Logger
	bus    eventbus.Bus
	after  func(Outcome)
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config

	tracker    *homework.Tracker
	window     int64
	lastReport string

	last   Outcome
	lastMu sync.RWMutex
}

func New(cfg Config, d Deps) *Loop {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	l := &Loop{
		fetch:   d.Fetch,
		notify:  d.Notify,
		log:     d.Log.With(logx.String("comp", "poller")),
		bus:     d.Bus,
		after:   d.AfterCycle,
		now:     d.Now,
		cfg:     normalize(cfg),
		tracker: homework.NewTracker(),
	}
	l.window = l.now().Add(-l.cfg.Backfill).Unix()
	return l
}

func normalize(cfg Config) Config {
	if cfg.Schedule.IsZero() {
		cfg.Schedule = schedule.Every(DefaultInterval)
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Backfill < 0 {
		cfg.Backfill = 0
	}
	return cfg
}

// Apply swaps the loop config. It takes effect from the next sleep; the
// current window start is kept.
func (l *Loop) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = normalize(cfg)
	l.mu.Unlock()
}

func (l *Loop) config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Window returns the current window start (Unix seconds).
// Only safe on the loop goroutine or once Run has returned.
func (l *Loop) Window() int64 { return l.window }

// Last returns the most recent cycle outcome.
func (l *Loop) Last() Outcome {
	l.lastMu.RLock()
	defer l.lastMu.RUnlock()
	return l.last
}

// Run executes cycles until ctx is done, sleeping between them.
// It only returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("poll loop started",
		logx.String("schedule", l.config().Schedule.String()),
		logx.Int64("window", l.window),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Cycle(ctx)

		delay := l.config().Schedule.Delay(l.now())
		l.log.Debug("sleeping", logx.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			l.log.Info("poll loop stopped", logx.Int64("window", l.window))
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Cycle runs one Polling..Notifying pass. Failures are classified, logged
// and optionally reported; they never escape.
func (l *Loop) Cycle(ctx context.Context) Outcome {
	cfg := l.config()
	o := Outcome{
		CycleID:      uuid.NewString(),
		Started:      l.now(),
		WindowBefore: l.window,
	}
	log := l.log.With(logx.String("cycle_id", o.CycleID))

	cctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	err := l.runStep(cctx, log, &o)
	cancel()

	if err != nil {
		l.fail(ctx, cfg, log, &o, err)
	} else {
		l.lastReport = ""
	}
	o.WindowAfter = l.window
	o.Duration = l.now().Sub(o.Started)

	l.lastMu.Lock()
	l.last = o
	l.lastMu.Unlock()
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: EventCycle, Data: o})
	}
	if l.after != nil {
		l.after(o)
	}
	return o
}

// runStep converts a panic in any stage into a KindUnknown fault.
func (l *Loop) runStep(ctx context.Context, log logx.Logger, o *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("poll cycle panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = homework.NewFault(homework.KindUnknown, "cycle", nil, "panic: %v", r)
		}
	}()
	return l.step(ctx, log, o)
}

func (l *Loop) step(ctx context.Context, log logx.Logger, o *Outcome) error {
	raw, err := l.fetch.Fetch(ctx, l.window)
	if err != nil {
		var f *homework.Fault
		if !errors.As(err, &f) {
			err = homework.NewFault(homework.KindTransport, "fetch", err, "")
		}
		return err
	}

	subs, err := homework.Validate(raw)
	if err != nil {
		if homework.KindOf(err).Benign() {
			o.Result = ResultEmpty
			log.Debug("no submissions in window", logx.Int64("since", l.window))
			return nil
		}
		return err
	}

	newest := subs[0]
	o.Submission = newest.Name
	o.Status = string(newest.Status)

	// Resolve the text first so an unknown status never reaches the tracker.
	text, err := homework.Format(newest)
	if err != nil {
		return err
	}

	decision := l.tracker.Observe(newest)
	o.Decision = decision.String()
	if !decision.Notify() {
		o.Result = ResultUnchanged
		log.Debug("status unchanged",
			logx.String("homework", newest.Name),
			logx.String("status", string(newest.Status)),
		)
		return nil
	}

	log.Info("status change detected",
		logx.String("homework", newest.Name),
		logx.String("status", string(newest.Status)),
		logx.String("decision", o.Decision),
	)

	// Anything short of a confirmed delivery, panics included, rolls the
	// tracker back so the change is detected again next cycle.
	delivered := false
	defer func() {
		if !delivered {
			l.tracker.Forget(newest)
		}
	}()

	echo, err := l.notify.Send(ctx, text)
	if err != nil {
		return homework.NewFault(homework.KindDeliveryFailed, "notify", err, "send")
	}
	if echo != text {
		return homework.NewFault(homework.KindDeliveryFailed, "notify", nil,
			"echoed text differs from requested (%d vs %d bytes)", len(echo), len(text))
	}

	delivered = true
	o.Delivered = true
	o.Result = ResultNotified
	// Prefer the server's clock: a local clock running ahead would skip
	// updates made between the server's now and ours.
	if ts, ok := homework.CurrentDate(raw); ok {
		l.window = ts
	} else {
		l.window = o.Started.Unix()
	}
	log.Info("notification delivered", logx.Int64("window", l.window))
	return nil
}

func (l *Loop) fail(ctx context.Context, cfg Config, log logx.Logger, o *Outcome, err error) {
	kind := homework.KindOf(err)
	o.Fault = kind.String()
	o.Error = err.Error()
	o.Result = ResultFault

	if ctx.Err() != nil {
		o.Result = ResultCancelled
		log.Debug("cycle interrupted", logx.Err(err))
		return
	}

	log.Error("poll cycle failed",
		logx.String("kind", kind.String()),
		logx.Bool("retriable", kind.Retriable()),
		logx.Int64("window", l.window),
		logx.Err(err),
	)

	if !cfg.ReportFailures {
		return
	}
	msg := homework.FormatFailure(err)
	if msg == l.lastReport {
		log.Debug("failure already reported; not repeating")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
	defer cancel()
	echo, serr := l.sendReport(rctx, msg)
	if serr == nil && echo != msg {
		serr = errors.New("echoed text differs from requested")
	}
	if serr != nil {
		log.Error("failure report not delivered", logx.Err(serr))
		return
	}
	l.lastReport = msg
	o.Reported = true
}

func (l *Loop) sendReport(ctx context.Context, msg string) (echo string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return l.notify.Send(ctx, msg)
}
