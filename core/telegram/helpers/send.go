package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Poster is the part of *tele.Bot used to deliver messages.
type Poster interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// Send queues what for delivery to the recipient. When the queue is full or
// closed the message is sent inline.
func Send(ctx context.Context, p Poster, to tele.Recipient, what any, opts *tele.SendOptions) error {
	action, endpoint := describe(what)
	run := deliver(p, to, what, opts)

	disp := currentDispatcher()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, logger.CompTGSender, "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendNow delivers what synchronously and returns the final error. Attempts
// are repeated only when Telegram verifiably rejected them.
func SendNow(ctx context.Context, p Poster, to tele.Recipient, what any, opts *tele.SendOptions) error {
	action, endpoint := describe(what)
	run := deliver(p, to, what, opts)
	if disp := currentDispatcher(); disp != nil {
		return disp.Do(ctx, action, endpoint, run)
	}
	return run()
}

func deliver(p Poster, to tele.Recipient, what any, opts *tele.SendOptions) func() error {
	return func() error {
		var err error
		if opts != nil {
			_, err = p.Send(to, what, opts)
		} else {
			_, err = p.Send(to, what)
		}
		return err
	}
}

func describe(what any) (string, string) {
	switch what.(type) {
	case *tele.Photo:
		return "send.photo", "sendPhoto"
	case *tele.Document:
		return "send.document", "sendDocument"
	case *tele.Invoice:
		return "send.invoice", "sendInvoice"
	default:
		return "send.text", "sendMessage"
	}
}

// MarkdownV2 returns send options with MarkdownV2 parse mode and optional reply markup.
func MarkdownV2(markup *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeMarkdownV2, ReplyMarkup: markup}
}

// Plain returns send options without a parse mode, or nil when there is no markup.
func Plain(markup *tele.ReplyMarkup) *tele.SendOptions {
	if markup == nil {
		return nil
	}
	return &tele.SendOptions{ReplyMarkup: markup}
}
