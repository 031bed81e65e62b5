package practicum

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeworkbot/internal/homework"
	logx "homeworkbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL + "/api/user_api/homework_statuses/", Token: "secret", Timeout: 2 * time.Second}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestFetchSendsAuthAndWindow(t *testing.T) {
	var gotAuth, gotFrom, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotFrom = r.URL.Query().Get("from_date")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"homeworks":[{"homework_name":"task1","status":"reviewing"}],"current_date":1700000000}`))
	})

	raw, err := c.Fetch(context.Background(), 1699990000)
	require.NoError(t, err)
	assert.Equal(t, "OAuth secret", gotAuth)
	assert.Equal(t, "1699990000", gotFrom)
	assert.Equal(t, "/api/user_api/homework_statuses/", gotPath)

	subs, err := homework.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "task1", subs[0].Name)
}

func TestFetchNon200IsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.Fetch(context.Background(), 0)
	require.ErrorIs(t, err, homework.ErrTransport)
	assert.Contains(t, err.Error(), "404")
	assert.True(t, homework.KindOf(err).Retriable())
}

func TestFetchNon200SnippetKeepsRunes(t *testing.T) {
	body := "a" + strings.Repeat("ж", 150)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	_, err := c.Fetch(context.Background(), 0)
	require.ErrorIs(t, err, homework.ErrTransport)
	assert.True(t, utf8.ValidString(err.Error()), err.Error())
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "a"+strings.Repeat("ж", 99)+"...")
	assert.True(t, utf8.ValidString(homework.FormatFailure(err)))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "<empty body>", snippet([]byte("  \n"), 10))
	assert.Equal(t, "short", snippet([]byte(" short "), 10))
	assert.Equal(t, "жж...", snippet([]byte("жжж"), 5))
	assert.Equal(t, "a\uFFFDb", snippet([]byte("a\xffb"), 10))
}

func TestFetchBadJSONIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := c.Fetch(context.Background(), 0)
	require.ErrorIs(t, err, homework.ErrDecode)
}

func TestFetchTrailingDataIsDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"homeworks":[]}{"homeworks":[]}`))
	})

	_, err := c.Fetch(context.Background(), 0)
	require.ErrorIs(t, err, homework.ErrDecode)
}

func TestFetchHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, 0)
	require.ErrorIs(t, err, homework.ErrTransport)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.ErrorIs(t, err, homework.ErrCredentialMissing)
}
