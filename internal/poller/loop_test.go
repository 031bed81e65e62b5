package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeworkbot/internal/eventbus"
	"homeworkbot/internal/homework"
	"homeworkbot/internal/practicum"
	"homeworkbot/internal/schedule"
	logx "homeworkbot/pkg/logx"
)

const (
	payloadReviewing = `{"homeworks":[{"homework_name":"task1","status":"reviewing"}]}`
	payloadApproved  = `{"homeworks":[{"homework_name":"task1","status":"approved"}]}`
	payloadEmpty     = `{"homeworks":[]}`
	payloadUnknown   = `{"homeworks":[{"homework_name":"task1","status":"unknown_code"}]}`
)

type fetchResult struct {
	raw string
	err error
}

// fakeFetcher replays results in order and then repeats the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	since   []int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, since int64) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	var v any
	if err := json.Unmarshal([]byte(r.raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.since)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	err   error
	echo  func(string) string
	fails int
}

func (n *fakeNotifier) Send(ctx context.Context, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails > 0 {
		n.fails--
		return "", errors.New("telegram: bad gateway")
	}
	if n.err != nil {
		return "", n.err
	}
	n.sent = append(n.sent, text)
	if n.echo != nil {
		return n.echo(text), nil
	}
	return text, nil
}

func (n *fakeNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// stepClock advances one minute on every reading.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}

func newLoop(t *testing.T, f Fetcher, n Notifier, report bool) *Loop {
	t.Helper()
	return New(Config{
		Schedule:       schedule.Every(time.Millisecond),
		CycleTimeout:   time.Second,
		ReportFailures: report,
	}, Deps{
		Fetch:  f,
		Notify: n,
		Log:    logx.Nop(),
		Now:    stepClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
}

func TestScenarioFirstObservationNotifiesAndAdvancesWindow(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)
	start := l.Window()

	o := l.Cycle(context.Background())

	assert.Equal(t, ResultNotified, o.Result)
	assert.True(t, o.Delivered)
	assert.Equal(t, homework.FirstObservation.String(), o.Decision)
	require.Len(t, n.texts(), 1)
	assert.Contains(t, n.texts()[0], "task1")
	assert.Contains(t, n.texts()[0], "The work has been taken for review.")
	assert.Greater(t, l.Window(), start)
	assert.Equal(t, start, o.WindowBefore)
	assert.Equal(t, l.Window(), o.WindowAfter)
	assert.Equal(t, []int64{start}, f.since)
}

func TestScenarioUnchangedSkipsNotifyAndKeepsWindow(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)

	l.Cycle(context.Background())
	window := l.Window()

	o := l.Cycle(context.Background())
	assert.Equal(t, ResultUnchanged, o.Result)
	assert.Len(t, n.texts(), 1)
	assert.Equal(t, window, l.Window())
	assert.Equal(t, window, f.since[1])
}

func TestChangedStatusNotifiesAgain(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}, {raw: payloadApproved}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)

	l.Cycle(context.Background())
	o := l.Cycle(context.Background())

	assert.Equal(t, homework.Changed.String(), o.Decision)
	require.Len(t, n.texts(), 2)
	assert.Contains(t, n.texts()[1], "liked everything")
}

func TestScenarioEmptyResultIsSilent(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadEmpty}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)
	start := l.Window()

	o := l.Cycle(context.Background())

	assert.Equal(t, ResultEmpty, o.Result)
	assert.Empty(t, o.Fault)
	assert.Empty(t, n.texts())
	assert.Equal(t, start, l.Window())
}

func TestScenarioUnrecognizedStatusIsCaught(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadUnknown}, {raw: payloadReviewing}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, false)
	start := l.Window()

	o := l.Cycle(context.Background())
	assert.Equal(t, ResultFault, o.Result)
	assert.Equal(t, homework.KindUnrecognizedStatus.String(), o.Fault)
	assert.Empty(t, n.texts())
	assert.Equal(t, start, l.Window())

	// the loop carries on and the unknown status never reached the tracker
	o = l.Cycle(context.Background())
	assert.Equal(t, ResultNotified, o.Result)
	assert.Equal(t, homework.FirstObservation.String(), o.Decision)
}

func TestScenarioTransportErrorRetriesSameWindow(t *testing.T) {
	var (
		mu    sync.Mutex
		froms []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		froms = append(froms, r.URL.Query().Get("from_date"))
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := practicum.New(practicum.Config{Endpoint: srv.URL, Token: "secret", Timeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	n := &fakeNotifier{}
	l := newLoop(t, client, n, false)
	start := l.Window()

	o := l.Cycle(context.Background())
	assert.Equal(t, ResultFault, o.Result)
	assert.Equal(t, homework.KindTransport.String(), o.Fault)
	assert.Contains(t, o.Error, "404")

	l.Cycle(context.Background())
	assert.Equal(t, start, l.Window())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, froms, 2)
	assert.Equal(t, froms[0], froms[1])
	assert.Empty(t, n.texts())
}

func TestMismatchedEchoIsDeliveryFailed(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}}
	n := &fakeNotifier{echo: func(s string) string { return s + "!" }}
	l := newLoop(t, f, n, false)
	start := l.Window()

	o := l.Cycle(context.Background())
	assert.Equal(t, homework.KindDeliveryFailed.String(), o.Fault)
	assert.False(t, o.Delivered)
	assert.Equal(t, start, l.Window())

	// the change was rolled back, so it is detected and delivered again
	n.mu.Lock()
	n.echo = nil
	n.mu.Unlock()
	o = l.Cycle(context.Background())
	assert.Equal(t, ResultNotified, o.Result)
	assert.Equal(t, homework.FirstObservation.String(), o.Decision)
	assert.Greater(t, l.Window(), start)
}

func TestSendErrorIsDeliveryFailed(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}}
	n := &fakeNotifier{fails: 1}
	l := newLoop(t, f, n, false)

	o := l.Cycle(context.Background())
	assert.Equal(t, homework.KindDeliveryFailed.String(), o.Fault)
	assert.Contains(t, o.Error, "bad gateway")
}

func TestFailureReportsAreDeduplicated(t *testing.T) {
	boom := homework.NewFault(homework.KindTransport, "fetch", nil, "unexpected status 500: oops")
	f := &fakeFetcher{results: []fetchResult{
		{err: boom}, {err: boom}, {raw: payloadEmpty}, {err: boom},
	}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)

	o := l.Cycle(context.Background())
	assert.True(t, o.Reported)
	o = l.Cycle(context.Background())
	assert.False(t, o.Reported, "identical diagnostic is not repeated")
	l.Cycle(context.Background())
	o = l.Cycle(context.Background())
	assert.True(t, o.Reported, "a different outcome resets suppression")

	texts := n.texts()
	require.Len(t, texts, 2)
	for _, s := range texts {
		assert.True(t, strings.HasPrefix(s, "Bot failure: "), s)
	}
}

func TestFailedReportIsRetriedNextCycle(t *testing.T) {
	boom := homework.NewFault(homework.KindDecode, "fetch", nil, "response is not JSON")
	f := &fakeFetcher{results: []fetchResult{{err: boom}}}
	n := &fakeNotifier{fails: 1}
	l := newLoop(t, f, n, true)

	o := l.Cycle(context.Background())
	assert.False(t, o.Reported)
	o = l.Cycle(context.Background())
	assert.True(t, o.Reported)
}

func TestUntypedFetchErrorIsTransport(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{err: errors.New("dial tcp: refused")}}}
	l := newLoop(t, f, &fakeNotifier{}, false)

	o := l.Cycle(context.Background())
	assert.Equal(t, homework.KindTransport.String(), o.Fault)
}

func TestWindowFollowsServerClock(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: `{"homeworks":[{"homework_name":"hw","status":"rejected"}],"current_date":1700000000}`}}}
	l := newLoop(t, f, &fakeNotifier{}, false)

	l.Cycle(context.Background())
	assert.Equal(t, int64(1700000000), l.Window())
}

func TestBackfillMovesInitialWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(Config{Backfill: time.Hour}, Deps{
		Fetch:  &fakeFetcher{results: []fetchResult{{raw: payloadEmpty}}},
		Notify: &fakeNotifier{},
		Now:    func() time.Time { return now },
	})
	assert.Equal(t, now.Add(-time.Hour).Unix(), l.Window())
}

func TestCyclePublishesOutcome(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, EventCycle)
	defer unsub()

	var after []Outcome
	l := New(Config{}, Deps{
		Fetch:      &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}},
		Notify:     &fakeNotifier{},
		Bus:        bus,
		AfterCycle: func(o Outcome) { after = append(after, o) },
	})
	o := l.Cycle(context.Background())

	select {
	case ev := <-ch:
		got, ok := ev.Data.(Outcome)
		require.True(t, ok)
		assert.Equal(t, o.CycleID, got.CycleID)
		assert.NotEmpty(t, got.CycleID)
	case <-time.After(time.Second):
		t.Fatal("no cycle event")
	}
	require.Len(t, after, 1)
	assert.Equal(t, o, l.Last())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadEmpty}}}
	l := New(Config{Schedule: schedule.Every(5 * time.Millisecond)}, Deps{Fetch: f, Notify: &fakeNotifier{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return f.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCancelledCycleIsNotReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{results: []fetchResult{{err: homework.NewFault(homework.KindTransport, "fetch", context.Canceled, "")}}}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)

	o := l.Cycle(ctx)
	assert.Equal(t, ResultCancelled, o.Result)
	assert.Empty(t, n.texts())
}

// flakyFetcher panics on its first call and then serves raw.
type flakyFetcher struct {
	calls int
	raw   string
}

func (f *flakyFetcher) Fetch(ctx context.Context, since int64) (any, error) {
	f.calls++
	if f.calls == 1 {
		panic("nil map write")
	}
	var v any
	err := json.Unmarshal([]byte(f.raw), &v)
	return v, err
}

func TestPanicInCycleBecomesFault(t *testing.T) {
	f := &flakyFetcher{raw: payloadReviewing}
	n := &fakeNotifier{}
	l := newLoop(t, f, n, true)

	var o Outcome
	require.NotPanics(t, func() { o = l.Cycle(context.Background()) })
	assert.Equal(t, ResultFault, o.Result)
	assert.Equal(t, homework.KindUnknown.String(), o.Fault)
	assert.True(t, o.Reported)
	require.Len(t, n.texts(), 1)
	assert.Contains(t, n.texts()[0], "nil map write")

	o = l.Cycle(context.Background())
	assert.Equal(t, ResultNotified, o.Result)
}

type panickyNotifier struct {
	fakeNotifier
	panics int
}

func (n *panickyNotifier) Send(ctx context.Context, text string) (string, error) {
	if n.panics > 0 {
		n.panics--
		panic("send exploded")
	}
	return n.fakeNotifier.Send(ctx, text)
}

func TestPanicDuringNotifyRollsBackTracker(t *testing.T) {
	f := &fakeFetcher{results: []fetchResult{{raw: payloadReviewing}}}
	n := &panickyNotifier{panics: 2}
	l := newLoop(t, f, n, true)

	o := l.Cycle(context.Background())
	assert.Equal(t, homework.KindUnknown.String(), o.Fault)
	assert.False(t, o.Reported)

	o = l.Cycle(context.Background())
	assert.Equal(t, ResultNotified, o.Result)
	assert.Equal(t, homework.FirstObservation.String(), o.Decision)
	require.Len(t, n.texts(), 1)
	assert.Contains(t, n.texts()[0], `"task1"`)
}

func TestCyrillicFailureIsReportedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("a" + strings.Repeat("ж", 150)))
	}))
	t.Cleanup(srv.Close)
	c, err := practicum.New(practicum.Config{Endpoint: srv.URL, Token: "t", Timeout: time.Second}, logx.Nop())
	require.NoError(t, err)

	// The Bot API echoes text after a JSON round trip.
	n := &fakeNotifier{echo: func(s string) string {
		b, _ := json.Marshal(s)
		var out string
		_ = json.Unmarshal(b, &out)
		return out
	}}
	l := newLoop(t, c, n, true)

	for i := 0; i < 3; i++ {
		l.Cycle(context.Background())
	}
	assert.Len(t, n.texts(), 1)
}
