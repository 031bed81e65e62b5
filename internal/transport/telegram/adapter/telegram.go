package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	kit "homeworkbot/internal/transport"
	logx "homeworkbot/pkg/logx"
)

// TextLimit is Telegram's maximum message length in UTF-16 code units.
const TextLimit = 4096

var ErrTextTooLong = errors.New("telegram: text exceeds message limit")

type Config struct {
	Token string
	// URL overrides the Bot API base URL (tests, local Bot API servers).
	URL string
	// Timeout bounds each Bot API HTTP call.
	Timeout time.Duration
}

// Adapter sends messages through the Telegram Bot API.
//
// The bot never reads updates; it is created in offline mode so construction
// does not touch the network and a bad token only surfaces on first send.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.URL),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// SendText delivers text as a single message and returns Telegram's echo of it.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.Sent, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if n := textUnits(text); n > TextLimit {
		return kit.Sent{}, fmt.Errorf("%w (%d units)", ErrTextTooLong, n)
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return kit.Sent{}, ctx.Err()
		default:
		}
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	// telebot has no context-aware Send; run it aside so cancellation is honored.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
		done <- result{msg: msg, err: err}
	}()

	var r result
	if ctx == nil {
		r = <-done
	} else {
		select {
		case <-ctx.Done():
			return kit.Sent{}, ctx.Err()
		case r = <-done:
		}
	}
	if r.err != nil {
		return kit.Sent{}, r.err
	}
	if r.msg == nil {
		return kit.Sent{}, errors.New("telegram: empty send response")
	}

	a.log.Debug("message sent", logx.Int64("chat_id", to.ChatID), logx.Int("message_id", r.msg.ID))
	return kit.Sent{
		Ref:  kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: r.msg.ID},
		Text: r.msg.Text,
	}, nil
}

func textUnits(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
