package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"homeworkbot/internal/homework"
)

// Environment variable names for the three required secrets.
const (
	EnvPracticumToken = "PRACTICUM_TOKEN"
	EnvTelegramToken  = "TELEGRAM_TOKEN"
	EnvTelegramChatID = "TELEGRAM_CHAT_ID"
)

// Credentials are read once at startup and passed down explicitly.
type Credentials struct {
	PracticumToken string
	TelegramToken  string
	ChatID         int64
}

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadCredentials resolves the secrets from lookup, falling back to values in
// envFile (a dotenv file; a missing file is ignored). The process environment
// always wins over the file.
//
// Any absent secret is a CredentialMissing fault listing every missing name.
func LoadCredentials(envFile string, lookup LookupFunc) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	fileVals := map[string]string{}
	if p := strings.TrimSpace(envFile); p != "" {
		vals, err := godotenv.Read(p)
		switch {
		case err == nil:
			fileVals = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Credentials{}, fmt.Errorf("read env file %s: %w", p, err)
		}
	}

	get := func(key string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileVals[key])
	}

	var (
		creds   Credentials
		missing []string
	)
	creds.PracticumToken = get(EnvPracticumToken)
	if creds.PracticumToken == "" {
		missing = append(missing, EnvPracticumToken)
	}
	creds.TelegramToken = get(EnvTelegramToken)
	if creds.TelegramToken == "" {
		missing = append(missing, EnvTelegramToken)
	}
	rawChat := get(EnvTelegramChatID)
	if rawChat == "" {
		missing = append(missing, EnvTelegramChatID)
	}
	if len(missing) > 0 {
		return Credentials{}, homework.NewFault(homework.KindCredentialMissing, "credentials", nil,
			"missing %s", strings.Join(missing, ", "))
	}

	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil || chatID == 0 {
		return Credentials{}, fmt.Errorf("%s: invalid chat id %q", EnvTelegramChatID, rawChat)
	}
	creds.ChatID = chatID
	return creds, nil
}
