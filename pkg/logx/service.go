package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "homeworkbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors log lines at or above MinLevel into the chat.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string // default "error"
	RatePerSec int    // default 1
}

// Service owns the log sinks. Apply swaps them atomically; Loggers from
// the service never need to be rebuilt.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File
	tg   *telegramSink

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. sender may
// be nil when the Telegram mirror is never enabled.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	s := &Service{tg: newTelegramSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetTelegramTarget sets the chat that receives mirrored log lines.
// A zero threadID keeps the configured one.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.tg.setTarget(chatID, threadID)
}

// Dropped is the number of mirrored lines dropped by the rate limit or a
// full queue.
func (s *Service) Dropped() uint64 { return s.tg.dropped.Load() }

// Apply rebuilds the sinks from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	s.tg.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		s.tg.start()
		writers = append(writers, s.tg)
		if !s.tg.hasTarget() {
			fmt.Fprintln(os.Stderr, "logx: telegram mirror enabled without a chat id")
		}
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close flushes the Telegram queue and closes the log file.
func (s *Service) Close() error {
	s.tg.stop()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./homeworkbot.log"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

var consoleOut io.Writer = os.Stdout

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        consoleOut,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
