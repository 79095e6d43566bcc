package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/keyshop/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// recentUpdates keeps a short-lived set of processed update IDs to avoid double logging.
var (
	recentMu     sync.Mutex
	recentUpdate = make(map[int]time.Time)
	keepFor      = 10 * time.Second
)

func alreadyLogged(updateID int) bool {
	now := time.Now()
	recentMu.Lock()
	defer recentMu.Unlock()
	for id, ts := range recentUpdate {
		if now.Sub(ts) > keepFor {
			delete(recentUpdate, id)
		}
	}
	if _, ok := recentUpdate[updateID]; ok {
		return true
	}
	recentUpdate[updateID] = now
	return false
}

// LoggerMiddleware logs a single receipt line per update and sets rid.
// It deduplicates by update_id because routes may wrap it again.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		userID, name := tghelpers.Sender(c)
		chat := c.Chat()

		var chatID int64
		if chat != nil {
			chatID = chat.ID
		}
		rid := logger.BuildRID(upd.ID, chatID, userID)
		c.Set("rid", rid)
		c.Set("update_start", time.Now())

		ctx := logger.WithRID(logger.Background(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
		ctx = logger.WithLogger(ctx, logger.Component(logger.CompTG))
		tghelpers.StoreContext(c, ctx)

		if logger.ShouldSampleDebug() && !alreadyLogged(upd.ID) {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.String("rid", rid),
				slog.Int("update_id", upd.ID),
			}
			if chat != nil {
				attrs = append(attrs,
					slog.Int64("chat_id", chatID),
					slog.String("chat_type", string(chat.Type)),
				)
			}
			if userID != 0 {
				attrs = append(attrs, slog.Int64("user_id", userID))
				if name != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(name, 64)))
				}
			}
			attrs = append(attrs, updateAttrs(c, upd)...)
			logger.LogEvent(ctx, logger.Component(logger.CompTG), slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

// updateAttrs describes the update payload. Message text is omitted because
// conversation input may carry item secrets.
func updateAttrs(c tele.Context, upd tele.Update) []slog.Attr {
	switch {
	case upd.Callback != nil:
		tok, err := callbacks.Parse(upd.Callback.Data)
		if err != nil {
			return []slog.Attr{slog.String("kind", "callback"), slog.String("cb_err", err.Error())}
		}
		return []slog.Attr{
			slog.String("kind", "callback"),
			slog.String("cb_tag", tok.Tag),
			slog.Int("cb_args", len(tok.Args)),
		}
	case upd.PreCheckoutQuery != nil:
		return []slog.Attr{slog.String("kind", "checkout")}
	case upd.Message != nil:
		m := upd.Message
		switch {
		case m.Payment != nil:
			return []slog.Attr{slog.String("kind", "payment")}
		case m.Photo != nil:
			return []slog.Attr{slog.String("kind", "photo")}
		case m.Document != nil:
			return []slog.Attr{slog.String("kind", "document")}
		}
		attrs := []slog.Attr{slog.String("kind", "message"), slog.Int("text_len", len([]rune(c.Text())))}
		if cmd := commandOf(c.Text()); cmd != "" {
			attrs = append(attrs, slog.String("command", cmd))
		}
		return attrs
	}
	return nil
}

func commandOf(text string) string {
	if len(text) < 2 || text[0] != '/' {
		return ""
	}
	for i, r := range text {
		if r == ' ' || r == '@' {
			return text[:i]
		}
	}
	return logger.SanitizeLimit(text, 32)
}
