package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "homeworkbot/internal/transport"
)

const (
	tgQueueSize   = 64
	tgMessageMax  = 3500
	tgValueMax    = 600
	tgStackMax    = 900
	tgSendTimeout = 10 * time.Second
	tgFlushWait   = 2 * time.Second
)

// telegramSink is a zerolog.LevelWriter that mirrors log lines into the
// bot's chat. Writes never block: lines over the rate limit or beyond the
// queue are counted and dropped.
type telegramSink struct {
	sender kit.Sender
	queue  chan telegramLine

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}

	dropped atomic.Uint64
}

type telegramLine struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender kit.Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramLine, tgQueueSize),
		minLevel: zerolog.ErrorLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.to.ThreadID = cfg.ThreadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.to.ChatID = chatID
	if threadID != 0 {
		t.to.ThreadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.to.ChatID != 0
}

func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil || t.sender == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

// stop sends what is already queued, bounded by tgFlushWait.
func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			t.flush()
			return
		case line := <-t.queue:
			t.send(context.Background(), line)
		}
	}
}

func (t *telegramSink) flush() {
	deadline := time.Now().Add(tgFlushWait)
	for time.Now().Before(deadline) {
		select {
		case line := <-t.queue:
			t.send(context.Background(), line)
		default:
			return
		}
	}
}

func (t *telegramSink) send(ctx context.Context, line telegramLine) {
	ctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
	defer cancel()
	// Errors cannot be logged from inside the log sink.
	_, _ = t.sender.SendText(ctx, line.to, line.text, &kit.SendOptions{DisablePreview: true})
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, minLevel, lim := t.to, t.minLevel, t.limiter
	t.mu.Unlock()

	if t.sender == nil || to.ChatID == 0 || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		t.dropped.Add(1)
		return len(p), nil
	}
	text := renderLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- telegramLine{to: to, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// renderLine turns a zerolog JSON line into a chat message:
//
//	[ERROR] poll cycle failed
//	- comp=poller
//	- kind=transport_error
//
// Keys are sorted so repeated failures read the same.
func renderLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), tgMessageMax)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		if lvl == zerolog.LevelFatalValue {
			lvl = "critical"
		}
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), tgValueMax))
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n")
		b.WriteString(truncate(fmt.Sprint(st), tgStackMax))
	}
	return truncate(b.String(), tgMessageMax)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
