package helpers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

type fakePoster struct {
	mu    sync.Mutex
	sent  []any
	fails int
}

func (f *fakePoster) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("chat not found")
	}
	f.sent = append(f.sent, what)
	return &tele.Message{}, nil
}

func (f *fakePoster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSendWithoutDispatcherIsInline(t *testing.T) {
	SetDispatcher(nil)
	p := &fakePoster{}
	require.NoError(t, Send(context.Background(), p, tele.ChatID(1), "hi", nil))
	assert.Equal(t, 1, p.count())
}

func TestSendNowReturnsDeliveryError(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{Workers: 1, RetryBackoff: time.Millisecond})
	SetDispatcher(d)
	t.Cleanup(func() {
		SetDispatcher(nil)
		d.Close()
	})

	p := &fakePoster{fails: 1}
	assert.Error(t, SendNow(context.Background(), p, tele.ChatID(1), "secret", MarkdownV2(nil)))
	require.NoError(t, SendNow(context.Background(), p, tele.ChatID(1), "secret", MarkdownV2(nil)))
	assert.Equal(t, 1, p.count())
}

func TestSendQueuesOnDispatcher(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{Workers: 1})
	SetDispatcher(d)
	p := &fakePoster{}
	require.NoError(t, Send(context.Background(), p, tele.ChatID(1), &tele.Photo{Caption: "x"}, nil))
	SetDispatcher(nil)
	d.Close()
	assert.Equal(t, 1, p.count())
}

func TestDescribe(t *testing.T) {
	action, endpoint := describe(&tele.Invoice{})
	assert.Equal(t, "send.invoice", action)
	assert.Equal(t, "sendInvoice", endpoint)
	action, _ = describe("text")
	assert.Equal(t, "send.text", action)
}
