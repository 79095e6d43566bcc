package telegram

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/keyshop/core/config"

	tele "gopkg.in/telebot.v4"
)

func TestBuildPoller(t *testing.T) {
	p := BuildPoller(PollerOptions{RunMode: "longpoll"})
	lp, ok := p.(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, lp.Timeout)

	p = BuildPoller(PollerOptions{
		RunMode: "WEBHOOK",
		Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://shop.example/tg"},
	})
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "https://shop.example/tg", wh.Endpoint.PublicURL)
}

func TestHTTPClientOutlastsLongPoll(t *testing.T) {
	c := BuildHTTPClient(50 * time.Second)
	rt := c.Transport.(*retryTransport)
	tr := rt.base.(*http.Transport)
	assert.Greater(t, tr.ResponseHeaderTimeout, 50*time.Second)
	assert.Greater(t, c.Timeout, tr.ResponseHeaderTimeout)
}

func TestRetryTransportReplaysBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &http.Client{Transport: &retryTransport{base: http.DefaultTransport, maxRetries: 2}}
	resp, err := c.Post(srv.URL, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, int32(1), hits.Load())
}

type flakyTransport struct {
	calls atomic.Int32
	err   error
	fails int32
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if n := f.calls.Add(1); n <= f.fails {
		return nil, f.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func TestRetryTransportReplaysOnlyUnsentPosts(t *testing.T) {
	dial := &net.OpError{Op: "dial", Err: errors.New("refused")}
	ft := &flakyTransport{err: dial, fails: 2}
	c := &http.Client{Transport: &retryTransport{base: ft, maxRetries: 3}}
	resp, err := c.Post("http://api.test/bot1:x/sendMessage", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, int32(3), ft.calls.Load())

	timeout := &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}
	ft = &flakyTransport{err: timeout, fails: 5}
	c = &http.Client{Transport: &retryTransport{base: ft, maxRetries: 3}}
	_, err = c.Post("http://api.test/bot1:x/sendMessage", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
	assert.Equal(t, int32(1), ft.calls.Load(), "a sent message must not be replayed")

	ft = &flakyTransport{err: timeout, fails: 1}
	c = &http.Client{Transport: &retryTransport{base: ft, maxRetries: 3}}
	resp, err = c.Get("http://api.test/file/bot1:x/photo.jpg")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, int32(2), ft.calls.Load())
}

func TestMethodOf(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://api.test/bot123:secret/sendInvoice", nil)
	assert.Equal(t, "sendInvoice", methodOf(req))
}

func TestDefaultMiddlewares(t *testing.T) {
	names := func(mws []Middleware) []string {
		out := make([]string, len(mws))
		for i, m := range mws {
			out[i] = m.Name
		}
		return out
	}
	assert.Equal(t, []string{"recover", "logger", "metrics"}, names(DefaultMiddlewares(nil, nil)))

	cfg := &coreconfig.Config{RateLimit: coreconfig.RateLimitConfig{IntervalMS: 500}}
	assert.Equal(t, []string{"recover", "rate_limit", "logger", "metrics"}, names(DefaultMiddlewares(cfg, nil)))
}
