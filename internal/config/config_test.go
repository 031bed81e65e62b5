package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeworkbot/internal/homework"
)

func lookupFrom(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	creds, err := LoadCredentials("", lookupFrom(map[string]string{
		EnvPracticumToken: "p",
		EnvTelegramToken:  "t",
		EnvTelegramChatID: "-100123",
	}))
	require.NoError(t, err)
	assert.Equal(t, "p", creds.PracticumToken)
	assert.Equal(t, "t", creds.TelegramToken)
	assert.Equal(t, int64(-100123), creds.ChatID)
}

func TestLoadCredentialsMissingIsFatalKind(t *testing.T) {
	_, err := LoadCredentials("", lookupFrom(map[string]string{EnvTelegramToken: "t"}))
	require.ErrorIs(t, err, homework.ErrCredentialMissing)
	assert.Contains(t, err.Error(), EnvPracticumToken)
	assert.Contains(t, err.Error(), EnvTelegramChatID)
	assert.NotContains(t, err.Error(), EnvTelegramToken+",")
}

func TestLoadCredentialsBlankCountsAsMissing(t *testing.T) {
	_, err := LoadCredentials("", lookupFrom(map[string]string{
		EnvPracticumToken: " ",
		EnvTelegramToken:  "t",
		EnvTelegramChatID: "1",
	}))
	require.ErrorIs(t, err, homework.ErrCredentialMissing)
}

func TestLoadCredentialsEnvFileFallback(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"PRACTICUM_TOKEN=from-file\nTELEGRAM_TOKEN=file-tg\nTELEGRAM_CHAT_ID=77\n"), 0o600))

	creds, err := LoadCredentials(envFile, lookupFrom(map[string]string{EnvTelegramToken: "from-env"}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", creds.PracticumToken)
	assert.Equal(t, "from-env", creds.TelegramToken, "environment wins over the file")
	assert.Equal(t, int64(77), creds.ChatID)

	_, err = LoadCredentials(filepath.Join(dir, "absent.env"), lookupFrom(nil))
	require.ErrorIs(t, err, homework.ErrCredentialMissing, "a missing env file is ignored")
}

func TestLoadCredentialsBadChatID(t *testing.T) {
	_, err := LoadCredentials("", lookupFrom(map[string]string{
		EnvPracticumToken: "p",
		EnvTelegramToken:  "t",
		EnvTelegramChatID: "@channel",
	}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, homework.ErrCredentialMissing)
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	y := []byte(`
poll:
  interval: "15m"
  report_failures: false
logging:
  level: debug
storage:
  driver: file
  path: ./audit
`)
	cfg, err := Decode("config.yaml", y)
	require.NoError(t, err)
	assert.Equal(t, "15m", cfg.Poll.Interval)
	require.NotNil(t, cfg.Poll.ReportFailures)
	assert.False(t, *cfg.Poll.ReportFailures)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Storage.Driver)

	cfg, err = Decode("config.json", []byte(`{"practicum":{"timeout":"5s"}}`))
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Practicum.Timeout)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("config.yaml", []byte("poll:\n  intervall: 5m\n"))
	require.Error(t, err)

	_, err = Decode("config.json", []byte(`{} {}`))
	require.Error(t, err)
}

func TestDecodeRejectsMultipleDocuments(t *testing.T) {
	_, err := Decode("config.yml", []byte("poll:\n  interval: 5m\n---\npoll:\n  interval: 1m\n"))
	assert.ErrorContains(t, err, "multiple documents")
}

func TestDecodeSniffsFormatWithoutExtension(t *testing.T) {
	cfg, err := Decode("homeworkbot.conf", []byte(`{"poll":{"interval":"2m"}}`))
	require.NoError(t, err)
	assert.Equal(t, "2m", cfg.Poll.Interval)

	cfg, err = Decode("homeworkbot.conf", []byte("poll:\n  interval: 3m\n"))
	require.NoError(t, err)
	assert.Equal(t, "3m", cfg.Poll.Interval)
}

func TestDecodeYAMLAnchors(t *testing.T) {
	y := []byte(`
telegram:
  send_timeout: &t 7s
practicum:
  timeout: *t
`)
	cfg, err := Decode("config.yaml", y)
	require.NoError(t, err)
	assert.Equal(t, "7s", cfg.Practicum.Timeout)
}

func TestDecodeEmptyFile(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(""))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
	assert.True(t, m.Missing())
	assert.Same(t, cfg, m.Get())
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationOrDefault("poll.cycle_timeout", "", 0)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("poll.cycle_timeout", "-1s")
	require.Error(t, err)

	_, err = ParseDurationField("poll.cycle_timeout", "abc")
	assert.ErrorContains(t, err, "poll.cycle_timeout")

	d, err = ParseDurationField("poll.backfill", "600")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, d)

	d, err = ParseDurationOrDefault("practicum.timeout", "0", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Debug: DebugConfig{Token: "a"}}
	newCfg := &Config{Poll: PollConfig{Interval: "5m"}, Debug: DebugConfig{Token: "b"}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"poll", "debug"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 10m\n"), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Poll.Interval == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: bad\n"), 0o600))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 5m\n"), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "5m", cfg.Poll.Interval)
		assert.Equal(t, "5m", m.Get().Poll.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestWatchWithoutDirectoryReturns(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent", "config.yaml"))
	assert.NoError(t, m.Watch(context.Background()))
}
