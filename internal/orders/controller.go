// Package orders owns the order lifecycle: creation, receipt review and the
// exactly-once payment confirmation that releases an item's secret.
package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/events"
)

// Trigger records what caused a confirmation. It is logged and published
// but never changes the outcome.
type Trigger string

const (
	TriggerAdmin           Trigger = "admin"
	TriggerTelegramPayment Trigger = "telegram_payment"
	TriggerWebhook         Trigger = "webhook"
)

// Store is the persistence the controller needs.
type Store interface {
	GetItem(ctx context.Context, id int64) (domain.Item, error)
	InsertOrder(ctx context.Context, userID, itemID int64) (domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status domain.PaymentStatus, evidence string) (domain.Order, error)
	GetOutstandingOrders(ctx context.Context) ([]domain.OutstandingOrder, error)
	ConfirmPayment(ctx context.Context, orderID int64) (domain.Fulfillment, error)
}

// Controller applies lifecycle transitions and announces them.
type Controller struct {
	store  Store
	events events.Publisher
}

// New returns a controller. A nil publisher disables events.
func New(store Store, pub events.Publisher) *Controller {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Controller{store: store, events: pub}
}

// CreateOrder opens a pending order for an available item.
func (c *Controller) CreateOrder(ctx context.Context, userID, itemID int64) (domain.Order, error) {
	start := time.Now()
	o, err := c.store.InsertOrder(ctx, userID, itemID)
	if domain.IsNotFound(err) {
		err = &domain.InvalidStateError{Entity: "item", ID: itemID, State: "deleted", Op: "order"}
	}
	c.log(ctx, "order.create", err, start,
		slog.Int64("item_id", itemID),
		slog.Int64("order_id", o.ID),
	)
	if err != nil {
		return o, err
	}
	c.publish(ctx, events.OrderCreated, o, "")
	return o, nil
}

// GetOrder loads an order.
func (c *Controller) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return c.store.GetOrder(ctx, id)
}

// GetItem loads an item without its secret.
func (c *Controller) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	return c.store.GetItem(ctx, id)
}

// MarkUnderReview records payment evidence and moves the order to review.
// Orders already in success, or missing, are rejected with InvalidStateError.
func (c *Controller) MarkUnderReview(ctx context.Context, orderID int64, evidence string) (domain.Order, error) {
	start := time.Now()
	o, err := c.store.SetOrderStatus(ctx, orderID, domain.PaymentReview, evidence)
	if domain.IsNotFound(err) {
		err = &domain.InvalidStateError{Entity: "order", ID: orderID, Op: "review"}
	}
	c.log(ctx, "order.review", err, start, slog.Int64("order_id", orderID))
	if err != nil {
		return o, err
	}
	c.publish(ctx, events.OrderReview, o, "")
	return o, nil
}

// ConfirmPayment moves the order to success and the item to sold in one
// transaction. Only the first confirmation for an item returns a Fulfillment;
// later or concurrent ones get AlreadyFulfilledError.
func (c *Controller) ConfirmPayment(ctx context.Context, orderID int64, trigger Trigger) (domain.Fulfillment, error) {
	start := time.Now()
	f, err := c.store.ConfirmPayment(ctx, orderID)
	attrs := []slog.Attr{
		slog.Int64("order_id", orderID),
		slog.String("trigger", string(trigger)),
	}
	if err == nil {
		attrs = append(attrs,
			slog.Int64("item_id", f.Order.ItemID),
			slog.Int64("buyer_id", f.Order.UserID),
		)
	}
	switch {
	case err == nil:
		c.log(ctx, "order.confirm", nil, start, attrs...)
		c.publish(ctx, events.OrderFulfilled, f.Order, trigger)
	case domain.IsAlreadyFulfilled(err):
		attrs = append(attrs, slog.String("status", "duplicate"), slog.Duration("duration", logger.Took(start)))
		logger.Info(ctx, logger.CompOrders, "order.confirm", attrs...)
	default:
		c.log(ctx, "order.confirm", err, start, attrs...)
	}
	return f, err
}

// ListOutstanding returns orders awaiting confirmation, oldest first.
func (c *Controller) ListOutstanding(ctx context.Context) ([]domain.OutstandingOrder, error) {
	return c.store.GetOutstandingOrders(ctx)
}

func (c *Controller) publish(ctx context.Context, t events.Type, o domain.Order, trigger Trigger) {
	ev := events.Event{
		Type:    t,
		OrderID: o.ID,
		UserID:  o.UserID,
		ItemID:  o.ItemID,
		Status:  string(o.Status),
		Trigger: string(trigger),
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, logger.CompEvents, "events.publish",
			slog.String("status", "fail"),
			slog.String("type", string(t)),
			slog.Int64("order_id", o.ID),
			slog.String("err", err.Error()),
		)
	}
}

func (c *Controller) log(ctx context.Context, event string, err error, start time.Time, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	)
	if err == nil {
		logger.Info(ctx, logger.CompOrders, event, attrs...)
		return
	}
	attrs = append(attrs, slog.String("err_code", logger.ErrCode(err)), slog.String("err", err.Error()))
	if domain.IsRepository(err) {
		logger.Error(ctx, logger.CompOrders, event, attrs...)
		return
	}
	logger.Warn(ctx, logger.CompOrders, event, attrs...)
}
