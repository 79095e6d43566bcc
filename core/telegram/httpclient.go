package telegram

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/core/telegram/netutil"
)

const (
	dialTimeout       = 5 * time.Second
	tlsTimeout        = 5 * time.Second
	idleTimeout       = 30 * time.Second
	minHeaderTimeout  = 15 * time.Second
	keepAlive         = 30 * time.Second
	transportRetries  = 3
	transportBackoff  = 2 * time.Second
	pollHeaderHeadway = 5 * time.Second
)

// BuildHTTPClient returns the client used for Bot API calls. The header
// timeout outlasts a getUpdates call held open for pollTimeout.
func BuildHTTPClient(pollTimeout time.Duration) *http.Client {
	headerTimeout := max(minHeaderTimeout, pollTimeout+pollHeaderHeadway)

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout:   headerTimeout + 10*time.Second,
		Transport: &retryTransport{base: base, maxRetries: transportRetries, backoff: transportBackoff},
	}
}

// retryTransport replays a request only while it provably never reached
// Telegram. Every Bot API method is a POST, so a timeout after the body was
// written is returned to the caller: the sender dispatcher decides whether a
// message may be sent again.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			next, ok := rewind(req)
			if !ok {
				break
			}
			if err := sleepCtx(req.Context(), t.backoff*time.Duration(attempt)); err != nil {
				return nil, err
			}
			logger.TWire.LogAttrs(req.Context(), slog.LevelDebug, "transport retry",
				slog.String("event", "http.retry"),
				slog.String("method", logger.SanitizeLimit(methodOf(req), 64)),
				slog.Int("attempt", attempt+1),
				slog.String("err", lastErr.Error()),
			)
			req = next
		}

		resp, err := base.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !replayable(req.Method, err) {
			break
		}
	}
	return nil, lastErr
}

func replayable(method string, err error) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return netutil.ShouldRetry(err)
	}
	return netutil.NotSent(err)
}

// rewind clones req with a fresh body; it fails for bodies that cannot be replayed.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	next := req.Clone(req.Context())
	next.Body = body
	return next, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// methodOf returns the Bot API method from a /bot<token>/<method> path
// without the token.
func methodOf(req *http.Request) string {
	p := req.URL.Path
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
