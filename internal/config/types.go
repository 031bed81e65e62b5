package config

// Config is the on-disk configuration. Every section is optional.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "10m").
// Secrets never live here; see Credentials.
type Config struct {
	Poll      PollConfig      `json:"poll"`
	Practicum PracticumConfig `json:"practicum"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Debug     DebugConfig     `json:"debug"`
}

// PollConfig controls the poll loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "10m"
//   - cycle_timeout: "60s"
//   - backfill: "0s"
//   - report_failures: true
type PollConfig struct {
	// Interval is a duration ("10m"), HH:MM ("00:10"), or cron expression.
	Interval     string `json:"interval"`
	CycleTimeout string `json:"cycle_timeout"`
	// Backfill moves the initial window start into the past.
	Backfill string `json:"backfill"`
	// ReportFailures sends failure diagnostics to the chat. Pointer so an
	// explicit false can be told apart from "omitted".
	ReportFailures *bool `json:"report_failures,omitempty"`
}

type PracticumConfig struct {
	Endpoint string `json:"endpoint"`
	Timeout  string `json:"timeout"`
}

type TelegramConfig struct {
	// APIURL overrides the Bot API base URL (local Bot API server).
	APIURL      string `json:"api_url,omitempty"`
	SendTimeout string `json:"send_timeout"`
	ThreadID    int    `json:"thread_id,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  *bool           `json:"console,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors high-severity log lines into the destination chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// StorageConfig controls the optional audit journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./homeworkbot_audit" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// DebugConfig controls the optional metrics/pprof HTTP server.
//
// Security note: prefer binding to localhost. If you bind to a non-loopback
// address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
