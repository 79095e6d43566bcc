package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/internal/domain"
)

type sent struct {
	to   string
	what any
	opts []any
}

type fakePoster struct {
	mu   sync.Mutex
	sent []sent
	fail func(to string) error
}

func (f *fakePoster) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(to.Recipient()); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, sent{to: to.Recipient(), what: what, opts: opts})
	return &tele.Message{}, nil
}

func newAdapter() *Adapter {
	return NewAdapter(New(Options{AdminID: adminID, ProviderToken: "provider"}, nil, nil, nil))
}

func fulfillment() domain.Fulfillment {
	return domain.Fulfillment{
		Order:     domain.Order{ID: 9, UserID: buyerID, ItemID: 2, Status: domain.PaymentSuccess},
		ItemTitle: "Steam key",
		Secret:    "ABCD-1234",
		Price:     decimal.RequireFromString("9.99"),
	}
}

func TestDeliverSecretDetached(t *testing.T) {
	a := newAdapter()
	assert.ErrorIs(t, a.DeliverSecret(context.Background(), fulfillment()), ErrDetached)
}

func TestDeliverSecret(t *testing.T) {
	a := newAdapter()
	p := &fakePoster{}
	a.Attach(p)

	require.NoError(t, a.DeliverSecret(context.Background(), fulfillment()))
	require.Len(t, p.sent, 2)

	secret := p.sent[0]
	assert.Equal(t, "1001", secret.to)
	assert.Contains(t, secret.what, "`ABCD-1234`")
	require.Len(t, secret.opts, 1)
	assert.Equal(t, tele.ModeMarkdownV2, secret.opts[0].(*tele.SendOptions).ParseMode)

	notice := p.sent[1]
	assert.Equal(t, "42", notice.to)
	assert.Contains(t, notice.what, "webhook")
	assert.Empty(t, notice.opts)
}

func TestDeliverSecretReportsOnlyCriticalFailures(t *testing.T) {
	a := newAdapter()
	boom := errors.New("blocked by user")

	p := &fakePoster{fail: func(to string) error {
		if to == "42" {
			return boom
		}
		return nil
	}}
	a.Attach(p)
	assert.NoError(t, a.DeliverSecret(context.Background(), fulfillment()))

	p = &fakePoster{fail: func(to string) error {
		if to == "1001" {
			return boom
		}
		return nil
	}}
	a.Attach(p)
	err := a.DeliverSecret(context.Background(), fulfillment())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "deliver order 9")
	require.Len(t, p.sent, 1, "the admin is still notified")
}

func TestInvoiceAmountInMinorUnits(t *testing.T) {
	a := newAdapter()
	inv := a.invoice(SendInvoice{To: buyerID, OrderID: 5, Title: "Key", Price: decimal.RequireFromString("12.34")})
	assert.Equal(t, "order:5", inv.Payload)
	assert.Equal(t, "USD", inv.Currency)
	assert.Equal(t, "provider", inv.Token)
	require.Len(t, inv.Prices, 1)
	assert.Equal(t, 1234, inv.Prices[0].Amount)
}

func TestRegister(t *testing.T) {
	reg := tg.NewRegistry()
	require.NoError(t, newAdapter().Register(reg))

	cmds := reg.Commands()
	require.Len(t, cmds, len(commandTable))
	assert.True(t, cmds[CmdOrders].AdminOnly)
	assert.False(t, cmds[CmdStart].AdminOnly)

	assert.ElementsMatch(t,
		[]string{TagBuy, TagPay, TagInvoice, TagEdit, TagDelete, TagConfirm, TagAdmin, TagCancel},
		reg.ListCallbacks())
	assert.NotNil(t, reg.TextFallback())
	assert.NotNil(t, reg.MediaHandler())
}
