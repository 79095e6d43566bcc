package router

import (
	"time"

	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for text and media updates.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
}

// TextRoutes builds handlers for free text, photos and documents. Text that
// names a registered command or alias is routed to it; everything else goes
// to the registry's text fallback. Media goes to the registry's media handler.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	textHandler := func(c tele.Context) error {
		start := time.Now()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return handleWithSummary(c, "command."+normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "text", start, func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if reg != nil {
			if h := reg.MediaHandler(); h != nil {
				return handleWithSummary(c, "media", start, func() error {
					return h(c)
				})
			}
		}
		if opts.UnknownMedia != nil {
			return handleWithSummary(c, "unexpected_media", start, func() error {
				return opts.UnknownMedia(c)
			})
		}
		logHandlerSummary(c, "unexpected_media", start, "skip", nil)
		return nil
	}

	wrapText := middleware.RecoverMiddleware(middleware.LoggerMiddleware(textHandler))
	wrapMedia := middleware.RecoverMiddleware(middleware.LoggerMiddleware(mediaHandler))
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrapText},
		{Endpoint: tele.OnPhoto, Handler: wrapMedia},
		{Endpoint: tele.OnDocument, Handler: wrapMedia},
	}
}

// PaymentOptions holds the handlers for Telegram card payments.
type PaymentOptions struct {
	// Checkout must answer the pre-checkout query within ten seconds.
	Checkout tele.HandlerFunc
	Payment  tele.HandlerFunc
}

// PaymentRoutes wires pre-checkout queries and successful payment messages.
func PaymentRoutes(opts PaymentOptions) []tg.Route {
	var routes []tg.Route
	if opts.Checkout != nil {
		checkout := opts.Checkout
		routes = append(routes, tg.Route{
			Endpoint: tele.OnCheckout,
			Handler: middleware.RecoverMiddleware(middleware.LoggerMiddleware(func(c tele.Context) error {
				return handleWithSummary(c, "payment.checkout", time.Now(), func() error { return checkout(c) })
			})),
		})
	}
	if opts.Payment != nil {
		payment := opts.Payment
		routes = append(routes, tg.Route{
			Endpoint: tele.OnPayment,
			Handler: middleware.RecoverMiddleware(middleware.LoggerMiddleware(func(c tele.Context) error {
				return handleWithSummary(c, "payment.success", time.Now(), func() error { return payment(c) })
			})),
		})
	}
	return routes
}
