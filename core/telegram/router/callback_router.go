package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/keyshop/core/telegram"
	"github.com/m3rciful/keyshop/core/telegram/callbacks"
	"github.com/m3rciful/keyshop/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// CallbackRoute returns the single OnCallback route that dispatches raw
// "tag:arg" tokens to handlers registered by tag.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}
		_ = c.Respond()

		tok, err := callbacks.FromContext(c)
		if err != nil {
			logHandlerSummary(c, "callback.malformed", start, "skip", nil,
				slog.String("reason", err.Error()),
			)
			return nil
		}

		name := "callback." + normalizeHandlerName(tok.Tag)
		extras := []slog.Attr{slog.String("cb_tag", tok.Tag)}

		cbHandler, ok := reg.GetCallback(tok.Tag)
		if !ok || cbHandler == nil {
			fallback := reg.CallbackNotFound()
			if fallback == nil {
				fallback = opts.NotFound
			}
			extras = append(extras, slog.String("reason", "not_found"))
			return handleWithSummary(c, name, start, func() error {
				if fallback != nil {
					return fallback(c)
				}
				return nil
			}, extras...)
		}

		return handleWithSummary(c, name, start, func() error {
			return cbHandler(c)
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
