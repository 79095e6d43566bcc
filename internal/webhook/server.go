// Package webhook serves the signed payment-success endpoint and a health check.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/m3rciful/keyshop/core/buildinfo"
	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/internal/dedup"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/orders"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
const SignatureHeader = "X-Signature"

// Confirmer performs the exactly-once confirmation.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID int64, trigger orders.Trigger) (domain.Fulfillment, error)
}

// Notifier hands the released secret to the buyer.
type Notifier interface {
	DeliverSecret(ctx context.Context, f domain.Fulfillment) error
}

// Options configures the server.
type Options struct {
	Secret   string
	DedupTTL time.Duration
}

// Server is the payment webhook HTTP server.
type Server struct {
	app       *fiber.App
	opts      Options
	confirmer Confirmer
	notifier  Notifier
	claims    dedup.Claimer
}

type paymentEvent struct {
	EventID string `json:"event_id"`
	OrderID int64  `json:"order_id"`
}

// New builds the fiber app and registers routes.
func New(opts Options, confirmer Confirmer, notifier Notifier, claims dedup.Claimer) *Server {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 24 * time.Hour
	}
	s := &Server{opts: opts, confirmer: confirmer, notifier: notifier, claims: claims}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"status": "error", "error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(accessLog)
	app.Get("/healthz", s.health)
	app.Post("/payments/success", s.verifySignature, s.paymentSuccess)
	s.app = app
	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.HTTP.Warn("shutdown failed",
				slog.String("event", "http.shutdown"),
				slog.String("err", err.Error()),
			)
		}
	}()
	logger.HTTP.Info("payments webhook listening",
		slog.String("event", "http.listen"),
		slog.String("addr", addr),
	)
	return s.app.Listen(addr)
}

func accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.LogEvent(c.UserContext(), logger.HTTP, level, "http.request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("code", status),
		slog.Duration("duration", logger.Took(start)),
	)
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": buildinfo.Version})
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) verifySignature(c *fiber.Ctx) error {
	got, err := hex.DecodeString(c.Get(SignatureHeader))
	if s.opts.Secret == "" || err != nil || len(got) == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "unauthorized"})
	}
	mac := hmac.New(sha256.New, []byte(s.opts.Secret))
	mac.Write(c.Body())
	if !hmac.Equal(got, mac.Sum(nil)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"status": "unauthorized"})
	}
	return c.Next()
}

func (s *Server) paymentSuccess(c *fiber.Ctx) error {
	var ev paymentEvent
	if err := json.Unmarshal(c.Body(), &ev); err != nil || ev.EventID == "" || ev.OrderID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": "bad_request"})
	}
	ctx := logger.WithRID(c.UserContext(), "wh:"+logger.SanitizeLimit(ev.EventID, 48))
	key := "payment:" + ev.EventID

	claimed, err := s.claims.Claim(ctx, key, s.opts.DedupTTL)
	if err != nil {
		logger.Error(ctx, logger.CompHTTP, "payments.claim",
			slog.String("event_id", ev.EventID),
			slog.String("err", err.Error()),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error"})
	}
	if !claimed {
		logger.Info(ctx, logger.CompHTTP, "payments.success",
			slog.String("status", "duplicate"),
			slog.String("event_id", ev.EventID),
			slog.Int64("order_id", ev.OrderID),
		)
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	f, err := s.confirmer.ConfirmPayment(ctx, ev.OrderID, orders.TriggerWebhook)
	switch {
	case err == nil:
		if nerr := s.notifier.DeliverSecret(ctx, f); nerr != nil {
			logger.Error(ctx, logger.CompHTTP, "payments.deliver",
				slog.String("status", "fail"),
				slog.Int64("order_id", f.Order.ID),
				slog.Int64("user_id", f.Order.UserID),
				slog.String("err", nerr.Error()),
			)
		}
		return c.JSON(fiber.Map{"status": "fulfilled"})
	case domain.IsAlreadyFulfilled(err):
		return c.JSON(fiber.Map{"status": "duplicate"})
	case domain.IsInvalidState(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"status": "invalid_state"})
	default:
		if rerr := s.claims.Release(ctx, key); rerr != nil {
			logger.Warn(ctx, logger.CompHTTP, "payments.release",
				slog.String("event_id", ev.EventID),
				slog.String("err", rerr.Error()),
			)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"status": "error"})
	}
}
