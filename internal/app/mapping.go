package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"homeworkbot/internal/config"
	"homeworkbot/internal/notifier"
	"homeworkbot/internal/observability"
	"homeworkbot/internal/poller"
	"homeworkbot/internal/practicum"
	"homeworkbot/internal/schedule"
	"homeworkbot/internal/storage"
	telegram "homeworkbot/internal/transport/telegram/adapter"
	logx "homeworkbot/pkg/logx"
)

const (
	defaultPollInterval = "10m"
	defaultLogPath      = "./homeworkbot.log"
	defaultStoragePath  = "./homeworkbot_audit"
	defaultRetryMax     = 2
)

func mapPollConfig(cfg *config.Config) (poller.Config, error) {
	pc := cfg.Poll
	raw := strings.TrimSpace(pc.Interval)
	if raw == "" {
		raw = defaultPollInterval
	}
	spec, err := schedule.Parse(raw)
	if err != nil {
		return poller.Config{}, fmt.Errorf("poll.interval: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("poll.cycle_timeout", pc.CycleTimeout, poller.DefaultCycleTimeout)
	if err != nil {
		return poller.Config{}, err
	}
	backfill, err := config.ParseDurationField("poll.backfill", pc.Backfill)
	if err != nil {
		return poller.Config{}, err
	}
	report := true
	if pc.ReportFailures != nil {
		report = *pc.ReportFailures
	}
	return poller.Config{
		Schedule:       spec,
		CycleTimeout:   timeout,
		ReportFailures: report,
		Backfill:       backfill,
	}, nil
}

func mapPracticumConfig(cfg *config.Config, token string) (practicum.Config, error) {
	timeout, err := config.ParseDurationOrDefault("practicum.timeout", cfg.Practicum.Timeout, practicum.DefaultTimeout)
	if err != nil {
		return practicum.Config{}, err
	}
	return practicum.Config{
		Endpoint: strings.TrimSpace(cfg.Practicum.Endpoint),
		Token:    token,
		Timeout:  timeout,
	}, nil
}

func mapTelegramConfig(cfg *config.Config, token string) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   token,
		URL:     strings.TrimSpace(cfg.Telegram.APIURL),
		Timeout: timeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	retryMax := defaultRetryMax
	if nc.RetryMax != nil {
		if *nc.RetryMax < 0 {
			return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
		}
		retryMax = *nc.RetryMax
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    nc.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

// mapLoggingConfig builds the logx config; levelOverride (from the CLI)
// wins over the file.
func mapLoggingConfig(cfg *config.Config, levelOverride string) logx.Config {
	lc := cfg.Logging
	level := strings.TrimSpace(lc.Level)
	if o := strings.TrimSpace(levelOverride); o != "" {
		level = o
	}
	if level == "" {
		level = "info"
	}
	console := true
	if lc.Console != nil {
		console = *lc.Console
	}
	path := strings.TrimSpace(lc.File.Path)
	if path == "" {
		path = defaultLogPath
	}
	return logx.Config{
		Level:   level,
		Console: console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultStoragePath
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if filepath.Ext(path) == "" {
			path += ".db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (observability.Config, error) {
	dc := cfg.Debug
	addr := strings.TrimSpace(dc.Addr)
	if addr == "" {
		addr = observability.DefaultAddr
	}
	return observability.Config{
		Enabled:       dc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
		ReadTimeout:   10 * time.Second,
		// pprof profiles stream for 30s by default.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}

// validateConfig rejects configs that any mapper would refuse. It guards
// both startup and hot reload.
func validateConfig(cfg *config.Config) error {
	if _, err := mapPollConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPracticumConfig(cfg, "-"); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg, "-"); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if lt := cfg.Logging.Telegram; lt.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	return nil
}
