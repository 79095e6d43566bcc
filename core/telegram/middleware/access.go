package middleware

import (
	"log/slog"

	"github.com/m3rciful/keyshop/core/logger"
	tghelpers "github.com/m3rciful/keyshop/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only the configured admin reach downstream handlers.
// Everyone else is silently dropped unless OnReject is set.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if IsAdmin(c, opts.AdminID) {
				return next(c)
			}
			userID, _ := tghelpers.Sender(c)
			logger.Debug(tghelpers.BuildContext(c), logger.CompTG, "access.denied",
				slog.Int64("user_id", userID),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}

// IsAdmin reports whether the update was sent by adminID.
func IsAdmin(c tele.Context, adminID int64) bool {
	u := c.Sender()
	return u != nil && adminID != 0 && u.ID == adminID
}
