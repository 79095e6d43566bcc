package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/m3rciful/keyshop/core/logger"
	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/keyshop/core/telegram/helpers"
	"github.com/m3rciful/keyshop/core/telegram/keyboard"
	"github.com/m3rciful/keyshop/core/telegram/middleware"
	"github.com/m3rciful/keyshop/core/telegram/router"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/orders"

	tele "gopkg.in/telebot.v4"
)

// ErrDetached is returned when effects are executed before Attach.
var ErrDetached = errors.New("bot: telegram client not attached")

var commandDescriptions = map[string]string{
	CmdStart:  "Show the shop",
	CmdAdmin:  "Admin panel",
	CmdOrders: "Outstanding orders",
	CmdCancel: "Cancel the current step",
}

// Adapter connects Bot to telebot: it registers routes, converts updates to
// events and executes the resulting effects.
type Adapter struct {
	bot    *Bot
	poster atomic.Pointer[tghelpers.Poster]
}

// NewAdapter wraps b.
func NewAdapter(b *Bot) *Adapter {
	return &Adapter{bot: b}
}

// Attach sets the client used to execute effects. It is called once the
// telebot instance exists.
func (a *Adapter) Attach(p tghelpers.Poster) {
	a.poster.Store(&p)
}

func (a *Adapter) client() (tghelpers.Poster, error) {
	p := a.poster.Load()
	if p == nil {
		return nil, ErrDetached
	}
	return *p, nil
}

// Register adds the shop commands, button tags and message handlers to reg.
func (a *Adapter) Register(reg *tg.Registry) error {
	for name, admin := range Commands() {
		name := name
		reg.RegisterCommand(name, tg.Command{
			Description: commandDescriptions[name],
			AdminOnly:   admin,
			Handler: func(c tele.Context) error {
				return a.handle(c, Event{Kind: KindCommand, Command: name})
			},
		})
	}
	for tag := range Tags() {
		if err := reg.RegisterCallback(tag, a.onButton); err != nil {
			return fmt.Errorf("bot: register %s: %w", tag, err)
		}
	}
	reg.SetTextFallback(func(c tele.Context) error {
		return a.handle(c, Event{Kind: KindText, Text: c.Text()})
	})
	reg.SetMediaHandler(a.onMedia)
	return nil
}

// Routes builds every telebot route of the shop from reg.
func (a *Adapter) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.bot.opts.AdminID,
		OnAdminReject: func(c tele.Context) error {
			userID, _ := tghelpers.Sender(c)
			if userID == 0 {
				return nil
			}
			return a.execute(tghelpers.BuildContext(c), c, []Effect{SendText{To: userID, Text: MsgNotAdmin}})
		},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{})...)
	return append(routes, router.PaymentRoutes(router.PaymentOptions{
		Checkout: a.onCheckout,
		Payment:  a.onPayment,
	})...)
}

func (a *Adapter) onButton(c tele.Context) error {
	tok, err := callbacks.FromContext(c)
	if err != nil {
		return nil
	}
	return a.handle(c, Event{Kind: KindButton, Token: tok})
}

func (a *Adapter) onMedia(c tele.Context) error {
	m := c.Message()
	if m == nil {
		return nil
	}
	ev := Event{Kind: KindPhoto}
	switch {
	case m.Photo != nil:
		ev.Attachment = m.Photo.FileID
	case m.Document != nil && strings.HasPrefix(m.Document.MIME, "image/"):
		ev.Attachment = m.Document.FileID
	}
	return a.handle(c, ev)
}

func (a *Adapter) onCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	return a.handle(c, Event{Kind: KindCheckout, Payload: q.Payload, Currency: q.Currency, Total: q.Total})
}

func (a *Adapter) onPayment(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Payment == nil {
		return nil
	}
	p := m.Payment
	return a.handle(c, Event{Kind: KindPayment, Payload: p.Payload, Currency: p.Currency, Total: p.Total})
}

func (a *Adapter) handle(c tele.Context, ev Event) error {
	ev.UserID, ev.Username = tghelpers.Sender(c)
	if ev.UserID == 0 {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	effects, err := a.bot.Dispatch(ctx, ev)
	return errors.Join(err, a.execute(ctx, c, effects))
}

// DeliverSecret sends a fulfillment produced outside of a chat update, such
// as a payment webhook, to the buyer and notifies the admin.
func (a *Adapter) DeliverSecret(ctx context.Context, f domain.Fulfillment) error {
	return a.execute(ctx, nil, a.bot.fulfilled(f, orders.TriggerWebhook))
}

// execute runs effects in order. c is nil outside of a chat update. The
// first critical failure is returned; other failures are only logged.
func (a *Adapter) execute(ctx context.Context, c tele.Context, effects []Effect) error {
	if len(effects) == 0 {
		return nil
	}
	p, err := a.client()
	if err != nil {
		return err
	}
	var critical error
	for _, e := range effects {
		var (
			err      error
			kb       bool
			reported bool
		)
		switch e := e.(type) {
		case SendText:
			markup := keyboard.Inline(e.Keyboard...)
			kb = markup != nil
			opts := tghelpers.Plain(markup)
			if e.Markdown {
				opts = tghelpers.MarkdownV2(markup)
			}
			if !e.Critical {
				err = tghelpers.Send(ctx, p, tele.ChatID(e.To), e.Text, opts)
				break
			}
			if err = tghelpers.SendNow(ctx, p, tele.ChatID(e.To), e.Text, opts); err != nil {
				reported = true
				logger.Error(ctx, logger.CompOrders, "secret.deliver",
					slog.String("status", "fail"),
					slog.Int64("order_id", e.OrderID),
					slog.Int64("user_id", e.To),
					slog.String("err", err.Error()),
				)
				critical = errors.Join(critical, fmt.Errorf("deliver order %d: %w", e.OrderID, err))
			}
		case SendPhoto:
			markup := keyboard.Inline(e.Keyboard...)
			kb = markup != nil
			photo := &tele.Photo{File: tele.File{FileID: e.Attachment}, Caption: e.Caption}
			err = tghelpers.Send(ctx, p, tele.ChatID(e.To), photo, tghelpers.Plain(markup))
		case SendInvoice:
			err = tghelpers.Send(ctx, p, tele.ChatID(e.To), a.invoice(e), nil)
		case AnswerCheckout:
			if c == nil {
				continue
			}
			if e.OK {
				err = c.Accept()
			} else {
				err = c.Accept(e.Reason)
			}
		}
		if err != nil {
			if !reported {
				logger.Warn(ctx, logger.CompTG, "effect.fail",
					slog.String("effect", fmt.Sprintf("%T", e)),
					slog.String("err", err.Error()),
				)
			}
			continue
		}
		if c != nil {
			middleware.CountSent(c, kb)
		}
	}
	return critical
}

func (a *Adapter) invoice(e SendInvoice) *tele.Invoice {
	return &tele.Invoice{
		Title:       e.Title,
		Description: e.Description,
		Payload:     invoicePayload(e.OrderID),
		Currency:    a.bot.opts.Currency,
		Token:       a.bot.opts.ProviderToken,
		Prices: []tele.Price{{
			Label:  e.Title,
			Amount: int(e.Price.Shift(2).IntPart()),
		}},
	}
}
