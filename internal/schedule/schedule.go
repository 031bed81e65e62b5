// Package schedule turns the configured poll interval into sleep durations.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a schedule string.
type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

// Spec is a parsed poll schedule.
//
// Supported forms:
//   - Interval duration: "10m", "2h30m"
//   - Interval HH:MM: "00:10" (10 minutes)
//   - Cron: "*/10 * * * *", "@hourly", "@every 10m"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Spec struct {
	Kind   Kind
	Every  time.Duration
	Cron   string
	Source string // "cron" | "duration" | "hhmm"

	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Every returns an interval spec.
func Every(d time.Duration) Spec {
	return Spec{Kind: KindInterval, Every: d, Source: "duration"}
}

// Parse parses a schedule string.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if sp, err := parseInterval(s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '10m', HH:MM like '00:10', or cron like '*/10 * * * *')",
		raw,
	)
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron schedule required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: KindCron, Cron: expr, Source: "cron", sched: sched}, nil
}

func parseInterval(v string) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMM(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '10m')", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in %q", v)
	}
	mm, err := strconv.Atoi(m[2])
	if err != nil || mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Delay returns how long to sleep after a cycle that finished at now.
func (s Spec) Delay(now time.Time) time.Duration {
	switch s.Kind {
	case KindCron:
		if s.sched == nil {
			return 0
		}
		d := s.sched.Next(now).Sub(now)
		if d < 0 {
			return 0
		}
		return d
	default:
		return s.Every
	}
}

// IsZero reports whether s was never parsed.
func (s Spec) IsZero() bool { return s.Every == 0 && s.sched == nil }

func (s Spec) String() string {
	if s.Kind == KindCron {
		return "cron:" + s.Cron
	}
	return s.Every.String()
}
