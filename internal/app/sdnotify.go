package app

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "homeworkbot/pkg/logx"
)

// sdNotifier talks to systemd via NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type sdNotifier struct {
	log      logx.Logger
	watchdog time.Duration

	mu   sync.Mutex
	last time.Time
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{log: log}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
	} else {
		n.watchdog = d
	}
	return n
}

func (n *sdNotifier) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Ping feeds the watchdog after a completed cycle, at most once per quarter
// watchdog period.
func (n *sdNotifier) Ping() {
	if n.watchdog <= 0 {
		return
	}
	now := time.Now()
	n.mu.Lock()
	if !n.last.IsZero() && now.Sub(n.last) < n.watchdog/4 {
		n.mu.Unlock()
		return
	}
	n.last = now
	n.mu.Unlock()
	n.notify(daemon.SdNotifyWatchdog)
}

// keepalive pings the watchdog while alive reports true. It covers poll
// intervals longer than WatchdogSec.
func (n *sdNotifier) keepalive(ctx context.Context, alive func() bool) {
	if n.watchdog <= 0 {
		return
	}
	t := time.NewTicker(n.watchdog / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if alive() {
				n.Ping()
			}
		}
	}
}

// WatchdogInterval is the keepalive period systemd expects, or 0.
func (n *sdNotifier) WatchdogInterval() time.Duration { return n.watchdog }
