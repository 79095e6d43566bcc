package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/internal/dedup"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/orders"
)

const secret = "s3cr3t"

type stubConfirmer struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *stubConfirmer) ConfirmPayment(_ context.Context, orderID int64, trigger orders.Trigger) (domain.Fulfillment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if trigger != orders.TriggerWebhook {
		return domain.Fulfillment{}, errors.New("wrong trigger")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.Fulfillment{}, err
		}
	}
	return domain.Fulfillment{Order: domain.Order{ID: orderID, UserID: 42}, Secret: "KEY"}, nil
}

type stubNotifier struct {
	delivered []domain.Fulfillment
}

func (n *stubNotifier) DeliverSecret(_ context.Context, f domain.Fulfillment) error {
	n.delivered = append(n.delivered, f)
	return nil
}

func post(t *testing.T, s *Server, body, sig string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/success", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var m map[string]string
	_ = json.Unmarshal(b, &m)
	return resp.StatusCode, m["status"]
}

func newServer(c *stubConfirmer, n *stubNotifier) *Server {
	return New(Options{Secret: secret}, c, n, dedup.NewMemory(nil))
}

func TestPaymentSuccessFulfillsOnce(t *testing.T) {
	c, n := &stubConfirmer{}, &stubNotifier{}
	s := newServer(c, n)
	body := `{"event_id":"evt-1","order_id":7}`

	code, status := post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fulfilled", status)
	require.Len(t, n.delivered, 1)
	assert.Equal(t, int64(7), n.delivered[0].Order.ID)

	code, status = post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", status)
	assert.Equal(t, 1, c.calls, "replayed event id never reaches the confirmer")
	assert.Len(t, n.delivered, 1)
}

func TestPaymentSuccessRejectsBadSignature(t *testing.T) {
	c := &stubConfirmer{}
	s := newServer(c, &stubNotifier{})
	body := `{"event_id":"evt-1","order_id":7}`

	code, _ := post(t, s, body, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = post(t, s, body, "zz")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = post(t, s, body, Sign("other", []byte(body)))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Zero(t, c.calls)
}

func TestPaymentSuccessMalformedBody(t *testing.T) {
	s := newServer(&stubConfirmer{}, &stubNotifier{})
	for _, body := range []string{`{`, `{"event_id":"","order_id":1}`, `{"event_id":"x","order_id":0}`} {
		code, status := post(t, s, body, Sign(secret, []byte(body)))
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.Equal(t, "bad_request", status)
	}
}

func TestPaymentSuccessOutcomes(t *testing.T) {
	c := &stubConfirmer{errs: []error{
		&domain.AlreadyFulfilledError{OrderID: 1, Reason: "order already success"},
		&domain.InvalidStateError{Entity: "order", ID: 2, Op: "confirm"},
	}}
	n := &stubNotifier{}
	s := newServer(c, n)

	body := `{"event_id":"a","order_id":1}`
	code, status := post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", status)

	body = `{"event_id":"b","order_id":2}`
	code, status = post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", status)
	assert.Empty(t, n.delivered)
}

func TestRepositoryFailureReleasesClaim(t *testing.T) {
	c := &stubConfirmer{errs: []error{&domain.RepositoryError{Op: "confirm payment", Err: errors.New("db down")}}}
	n := &stubNotifier{}
	s := newServer(c, n)
	body := `{"event_id":"retry-me","order_id":3}`

	code, _ := post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusInternalServerError, code)

	code, status := post(t, s, body, Sign(secret, []byte(body)))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fulfilled", status)
	assert.Equal(t, 2, c.calls)
}

func TestHealth(t *testing.T) {
	s := newServer(&stubConfirmer{}, &stubNotifier{})
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var m map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, "ok", m["status"])
	assert.NotEmpty(t, m["version"])
}
