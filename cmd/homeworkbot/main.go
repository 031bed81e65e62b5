package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"homeworkbot/internal/app"
	"homeworkbot/internal/homework"
	logx "homeworkbot/pkg/logx"
)

// Populated at build time via -ldflags.
var version = "dev"

func buildVersion() string {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				return mv
			}
		}
	}
	return version
}

type flags struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	Once       bool
}

func main() {
	f := &flags{}

	cmd := &cli.Command{
		Name:  "homeworkbot",
		Usage: "Watch homework review status and notify a Telegram chat",
		Description: `homeworkbot polls the homework status API on a schedule and sends a
Telegram message whenever the review status of the latest submission changes.

Secrets are read from the environment (or an env file):
  PRACTICUM_TOKEN, TELEGRAM_TOKEN, TELEGRAM_CHAT_ID`,
		Version: buildVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (yaml or json)",
				Sources:     cli.EnvVars("HOMEWORKBOT_CONFIG"),
				Value:       "./config.yaml",
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file with credentials; the environment wins",
				Sources:     cli.EnvVars("HOMEWORKBOT_ENV_FILE"),
				Value:       ".env",
				Destination: &f.EnvFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "override logging.level (trace, debug, info, warn, error, critical)",
				Sources:     cli.EnvVars("HOMEWORKBOT_LOG_LEVEL"),
				Destination: &f.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "once",
				Usage:       "run a single poll cycle and exit (non-zero on failure)",
				Destination: &f.Once,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unexpected argument %q. Run 'homeworkbot --help' for usage", c.Args().First())
			}
			return run(ctx, f)
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags) error {
	a, err := app.New(app.Options{
		ConfigPath: f.ConfigPath,
		EnvFile:    f.EnvFile,
		LogLevel:   f.LogLevel,
	})
	if err != nil {
		if errors.Is(err, homework.ErrCredentialMissing) {
			logx.NewConsole("info").Critical("cannot start without credentials", logx.Err(err))
		}
		return err
	}

	stop := func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Stop(sctx)
	}

	if f.Once {
		_, err := a.RunOnce(ctx)
		return errors.Join(err, stop())
	}

	if err := a.Start(ctx); err != nil {
		_ = stop()
		return fmt.Errorf("start: %w", err)
	}

	select {
	case <-ctx.Done():
		a.Logger().Info("shutdown requested")
	case <-a.Done():
	}
	fatal := a.Err()
	if err := stop(); err != nil && fatal == nil {
		fatal = err
	}
	return fatal
}
