// Package practicum is a minimal client for the homework statuses API.
package practicum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"homeworkbot/internal/homework"
	logx "homeworkbot/pkg/logx"
)

const (
	DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"
	DefaultTimeout  = 30 * time.Second
)

// maxBody caps how much of a response is read. Real answers are a few KB.
const maxBody = 4 << 20

type Config struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, homework.NewFault(homework.KindCredentialMissing, "practicum", nil, "api token is empty")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("practicum.endpoint: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{endpoint: endpoint, token: cfg.Token, http: hc, log: log}, nil
}

// Fetch returns the decoded payload for submissions updated since the given
// Unix timestamp. Non-200 answers and network failures are TransportError;
// an undecodable body is DecodeError.
func (c *Client) Fetch(ctx context.Context, since int64) (any, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, homework.NewFault(homework.KindTransport, "fetch", err, "bad endpoint")
	}
	q := u.Query()
	q.Set("from_date", strconv.FormatInt(since, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, homework.NewFault(homework.KindTransport, "fetch", err, "build request")
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Strip the URL wrapper; it carries nothing the caller needs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, homework.NewFault(homework.KindTransport, "fetch", err, "GET %s", u.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, homework.NewFault(homework.KindTransport, "fetch", err, "read body")
	}
	c.log.Debug("api answered",
		logx.Int("status", resp.StatusCode),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, homework.NewFault(homework.KindTransport, "fetch", nil,
			"unexpected status %d: %s", resp.StatusCode, snippet(body, 200))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, homework.NewFault(homework.KindDecode, "fetch", err, "response is not JSON")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, homework.NewFault(homework.KindDecode, "fetch", nil, "trailing data after JSON body")
	}
	return v, nil
}

// snippet returns at most n bytes of the body as valid UTF-8, cut on a rune
// boundary.
func snippet(b []byte, n int) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(b)), "\uFFFD")
	if s == "" {
		return "<empty body>"
	}
	if len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
