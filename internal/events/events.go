// Package events publishes order lifecycle notifications. Payloads never carry secrets.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/m3rciful/keyshop/core/logger"
)

// Type is the lifecycle transition an event reports.
type Type string

const (
	OrderCreated   Type = "order.created"
	OrderReview    Type = "order.review"
	OrderFulfilled Type = "order.fulfilled"
)

// Event is the published payload.
type Event struct {
	ID      string    `json:"event_id"`
	Type    Type      `json:"type"`
	OrderID int64     `json:"order_id"`
	UserID  int64     `json:"user_id"`
	ItemID  int64     `json:"item_id"`
	Status  string    `json:"status"`
	Trigger string    `json:"trigger,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Encode fills the id and timestamp when missing and marshals ev.
func Encode(ev Event, now time.Time) (Event, []byte, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = now.UTC()
	}
	b, err := json.Marshal(ev)
	return ev, b, err
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, t Type) string {
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}

// NATS publishes events as JSON on core NATS subjects.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// ConnectNATS dials url and returns a publisher for subjects under prefix.
func ConnectNATS(url, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("keyshop"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.EVT.Warn("nats disconnected",
					slog.String("event", "events.disconnect"),
					slog.String("err", err.Error()),
				)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.EVT.Info("nats reconnected",
				slog.String("event", "events.reconnect"),
				slog.String("url", c.ConnectedUrlRedacted()),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.EVT.Info("nats connected",
		slog.String("event", "events.connect"),
		slog.String("url", nc.ConnectedUrlRedacted()),
		slog.String("subject_prefix", prefix),
	)
	return &NATS{nc: nc, prefix: prefix}, nil
}

func (p *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev, body, err := Encode(ev, time.Now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	subject := Subject(p.prefix, ev.Type)
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	logger.Debug(ctx, logger.CompEvents, "events.publish",
		slog.String("subject", subject),
		slog.String("event_id", ev.ID),
		slog.Int64("order_id", ev.OrderID),
	)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.nc.Drain()
}
