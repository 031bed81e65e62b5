package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"homeworkbot/internal/config"
	"homeworkbot/internal/eventbus"
	"homeworkbot/internal/notifier"
	"homeworkbot/internal/observability"
	"homeworkbot/internal/poller"
	"homeworkbot/internal/practicum"
	"homeworkbot/internal/runtime/supervisor"
	"homeworkbot/internal/storage"
	kit "homeworkbot/internal/transport"
	telegram "homeworkbot/internal/transport/telegram/adapter"
	logx "homeworkbot/pkg/logx"
)

// Options are the process-level inputs, typically from CLI flags.
type Options struct {
	ConfigPath string
	EnvFile    string
	// LogLevel overrides logging.level from the config file.
	LogLevel string
	// Lookup resolves environment variables; nil means os.LookupEnv.
	Lookup config.LookupFunc
}

type App struct {
	opts  Options
	cfgm  *config.ConfigManager
	creds config.Credentials
	sup   *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	client  *practicum.Client
	loop    *poller.Loop

	metrics *observability.Metrics
	debug   *observability.Server
	rec     *recorder
	sd      *sdNotifier

	polling atomic.Bool
}

// New loads config and credentials and wires every component. Missing
// credentials return a CredentialMissing fault before anything is built.
func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	creds, err := config.LoadCredentials(opts.EnvFile, opts.Lookup)
	if err != nil {
		return nil, err
	}

	tcfg, err := mapTelegramConfig(cfg, creds.TelegramToken)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately and warns if the Telegram sink is on
	// without a target, so bootstrap with the sink off, set the target,
	// then apply the final config.
	logCfg := mapLoggingConfig(cfg, opts.LogLevel)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(creds.ChatID, logThread(cfg))
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	if cfgm.Missing() {
		log.Info("config file not found; using defaults", logx.String("path", cfgm.Path()))
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("audit journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	to := kit.ChatTarget{ChatID: creds.ChatID, ThreadID: cfg.Telegram.ThreadID}
	notif := notifier.New(ncfg, ad, to, root.With(logx.String("comp", "notifier")), bus)

	pcfg, err := mapPracticumConfig(cfg, creds.PracticumToken)
	if err != nil {
		return nil, err
	}
	client, err := practicum.New(pcfg, root.With(logx.String("comp", "practicum")))
	if err != nil {
		return nil, err
	}

	pollCfg, err := mapPollConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		creds:   creds,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		client:  client,
		metrics: observability.NewMetrics(),
		sd:      newSDNotifier(root.With(logx.String("comp", "systemd"))),
	}
	a.rec = &recorder{log: root.With(logx.String("comp", "events")), metrics: a.metrics, store: store}
	a.loop = poller.New(pollCfg, poller.Deps{
		Fetch:      client,
		Notify:     notif,
		Log:        root,
		Bus:        bus,
		AfterCycle: func(poller.Outcome) { a.sd.Ping() },
	})

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.debug = observability.NewServer(dcfg, root, a.metrics, a.health)
	return a, nil
}

func logThread(cfg *config.Config) int {
	if cfg.Logging.Telegram.ThreadID != 0 {
		return cfg.Logging.Telegram.ThreadID
	}
	return cfg.Telegram.ThreadID
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Logger returns the app's root logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start launches the poll loop and the ancillary goroutines.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	events, unsub := a.bus.Subscribe(128, recordedEvents...)
	a.sup.Go0("events.record", func(c context.Context) {
		defer unsub()
		a.rec.run(c, events)
	})

	if dcfg, err := mapDebugConfig(a.cfgm.Get()); err == nil {
		a.debug.Reconfigure(a.sup.Context(), dcfg)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go("poll.loop", func(c context.Context) error {
		a.polling.Store(true)
		defer a.polling.Store(false)
		return a.loop.Run(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.keepalive(c, a.polling.Load)
	})

	a.sd.Ready()
	a.log.Info("app started",
		logx.Int64("chat_id", a.creds.ChatID),
		logx.Duration("watchdog", a.sd.WatchdogInterval()),
	)
	return nil
}

// RunOnce runs a single poll cycle synchronously and records it. A failed
// cycle is returned as an error.
func (a *App) RunOnce(ctx context.Context) (poller.Outcome, error) {
	events, unsub := a.bus.Subscribe(16, recordedEvents...)
	defer unsub()

	o := a.loop.Cycle(ctx)
	for drained := false; !drained; {
		select {
		case e := <-events:
			a.rec.handle(ctx, e)
		default:
			drained = true
		}
	}

	switch o.Result {
	case poller.ResultFault:
		return o, fmt.Errorf("poll cycle failed: %s", o.Error)
	case poller.ResultCancelled:
		return o, context.Canceled
	}
	return o, nil
}

// healthReport is the /healthz body.
type healthReport struct {
	Status          string              `json:"status"`
	Polling         bool                `json:"polling"`
	Last            poller.Outcome      `json:"last_cycle"`
	Delivered       int                 `json:"delivered_recent"`
	Supervisor      supervisor.Counters `json:"supervisor"`
	EventsDropped   uint64              `json:"events_dropped"`
	LogLinesDropped uint64              `json:"log_lines_dropped"`
	FirstError      string              `json:"first_error,omitempty"`
}

func (a *App) health() any {
	h := healthReport{
		Status:          "ok",
		Polling:         a.polling.Load(),
		Last:            a.loop.Last(),
		Delivered:       len(a.notif.Snapshot()),
		EventsDropped:   a.bus.Dropped(),
		LogLinesDropped: a.logs.Dropped(),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Counters()
		if err := a.sup.Err(); err != nil {
			h.FirstError = err.Error()
			h.Status = "degraded"
		}
	}
	if h.Last.Result == poller.ResultFault {
		h.Status = "degraded"
	}
	return h
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		coalesce:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break coalesce
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "storage", "practicum":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.SetTelegramTarget(a.creds.ChatID, logThread(newCfg))
	a.logs.Apply(mapLoggingConfig(newCfg, a.opts.LogLevel))

	if pc, err := mapPollConfig(newCfg); err != nil {
		a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(pc)
	}
	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}
	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down within ctx. Each step is bounded so one
// component can't stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	a.sd.Stopping()
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 3*time.Second, func(c context.Context) error {
			err := a.sup.Wait(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
