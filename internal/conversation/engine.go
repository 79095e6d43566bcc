// Package conversation drives the multi-step data-entry flows (adding and
// editing items, submitting payment receipts) on top of a per-user session store.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/core/telegram/state"
	"github.com/m3rciful/keyshop/internal/domain"
)

// ErrNoSession is returned by Advance when the user has no live flow.
var ErrNoSession = errors.New("no active session")

// Catalog is the item storage used by the add and edit flows.
type Catalog interface {
	GetItem(ctx context.Context, id int64) (domain.Item, error)
	InsertItem(ctx context.Context, in domain.NewItem) (domain.Item, error)
	UpdateItem(ctx context.Context, id int64, upd domain.ItemUpdate) (domain.Item, error)
}

// Reviewer loads orders and moves them to review when a receipt arrives.
type Reviewer interface {
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	MarkUnderReview(ctx context.Context, orderID int64, evidence string) (domain.Order, error)
}

// Seed carries the entity a flow starts from.
type Seed struct {
	ItemID  int64
	OrderID int64
}

// Input is one user message fed to the current step.
type Input struct {
	Text       string
	Attachment string
}

// Outcome describes what Advance did: either the next step, or the finished
// flow with the entity it wrote.
type Outcome struct {
	Step     Step
	Done     bool
	Flow     Flow
	Item     domain.Item
	Order    domain.Order
	Evidence string
}

// Engine runs flows. It is safe for concurrent use; inputs of one user are
// processed one at a time, including the terminal write.
type Engine struct {
	sessions *state.Store[Session]
	catalog  Catalog
	orders   Reviewer
}

// New builds an engine over a fresh session store.
func New(catalog Catalog, orders Reviewer, opts state.Options) *Engine {
	return &Engine{sessions: state.New[Session](opts), catalog: catalog, orders: orders}
}

// Run sweeps expired sessions until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.sessions.Run(ctx, interval)
}

// BeginFlow starts flow for userID. It fails with ConflictError when the user
// already has a live session; use Restart to replace it.
func (e *Engine) BeginFlow(ctx context.Context, userID int64, flow Flow, seed Seed) (Step, error) {
	return e.begin(ctx, userID, flow, seed, false)
}

// Restart starts flow for userID, discarding any live session. A rejected
// seed leaves the previous session in place.
func (e *Engine) Restart(ctx context.Context, userID int64, flow Flow, seed Seed) (Step, error) {
	return e.begin(ctx, userID, flow, seed, true)
}

func (e *Engine) begin(ctx context.Context, userID int64, flow Flow, seed Seed, force bool) (Step, error) {
	var step Step
	err := e.sessions.With(userID, func(cur Session, ok bool) (Session, bool, error) {
		if ok && !force {
			return cur, true, &domain.ConflictError{UserID: userID, Active: string(cur.Step())}
		}
		first, err := e.firstStep(ctx, userID, flow, seed)
		if err != nil {
			return cur, ok, err
		}
		step = first.Step()
		return first, true, nil
	})
	attrs := []slog.Attr{
		slog.String("flow", string(flow)),
		slog.String("status", logger.Status(err)),
		slog.Bool("restart", force),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err_code", logger.ErrCode(err)))
	} else {
		attrs = append(attrs, slog.String("step", string(step)))
	}
	logger.Debug(logger.WithUserID(ctx, userID), logger.CompSessions, "session.begin", attrs...)
	return step, err
}

func (e *Engine) firstStep(ctx context.Context, userID int64, flow Flow, seed Seed) (Session, error) {
	switch flow {
	case FlowAddItem:
		return AddTitle{}, nil
	case FlowEditItem:
		it, err := e.catalog.GetItem(ctx, seed.ItemID)
		if err != nil {
			return nil, err
		}
		if it.Status != domain.ItemAvailable {
			return nil, &domain.InvalidStateError{Entity: "item", ID: it.ID, State: string(it.Status), Op: "edit"}
		}
		return EditTitle{ItemID: it.ID}, nil
	case FlowReceipt:
		o, err := e.orders.GetOrder(ctx, seed.OrderID)
		if err != nil {
			return nil, err
		}
		if o.UserID != userID {
			return nil, &domain.InvalidStateError{Entity: "order", ID: o.ID, State: "foreign", Op: "receipt"}
		}
		if o.Status == domain.PaymentSuccess {
			return nil, &domain.InvalidStateError{Entity: "order", ID: o.ID, State: string(o.Status), Op: "receipt"}
		}
		return AwaitReceipt{OrderID: o.ID, ItemID: o.ItemID}, nil
	}
	return nil, fmt.Errorf("unknown flow %q", flow)
}

// Advance feeds in to the user's current step. Validation failures keep the
// session unchanged so the user can retry. On the last step the collected
// data is written and the session cleared; a repository failure keeps the
// session, while an entity that can no longer be written ends the flow.
func (e *Engine) Advance(ctx context.Context, userID int64, in Input) (Outcome, error) {
	var out Outcome
	var from Step
	err := e.sessions.With(userID, func(cur Session, ok bool) (Session, bool, error) {
		if !ok {
			return nil, false, ErrNoSession
		}
		from = cur.Step()
		next, err := e.step(ctx, cur, in, &out)
		if err != nil {
			return settle(cur, err)
		}
		if next == nil {
			return nil, false, nil
		}
		out.Step = next.Step()
		return next, true, nil
	})
	if errors.Is(err, ErrNoSession) {
		return out, err
	}
	attrs := []slog.Attr{
		slog.String("step", string(from)),
		slog.String("status", logger.Status(err)),
		slog.Bool("done", out.Done),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err_code", logger.ErrCode(err)))
	}
	logger.Debug(logger.WithUserID(ctx, userID), logger.CompSessions, "session.advance", attrs...)
	return out, err
}

// step computes the next session; nil means the flow finished.
func (e *Engine) step(ctx context.Context, cur Session, in Input, out *Outcome) (Session, error) {
	switch s := cur.(type) {
	case AddTitle:
		title, err := ValidateText(s.Step(), "title", in.Text)
		if err != nil {
			return nil, err
		}
		return AddSecret{Title: title}, nil

	case AddSecret:
		secret, err := ValidateText(s.Step(), "secret", in.Text)
		if err != nil {
			return nil, err
		}
		return AddPrice{Title: s.Title, Secret: secret}, nil

	case AddPrice:
		price, err := priceAt(s.Step(), in.Text)
		if err != nil {
			return nil, err
		}
		it, err := e.catalog.InsertItem(ctx, domain.NewItem{Title: s.Title, Secret: s.Secret, Price: price})
		if err != nil {
			return nil, err
		}
		*out = Outcome{Done: true, Flow: FlowAddItem, Item: it}
		return nil, nil

	case EditTitle:
		title, err := ValidateText(s.Step(), "title", in.Text)
		if err != nil {
			return nil, err
		}
		return EditPrice{ItemID: s.ItemID, Title: title}, nil

	case EditPrice:
		price, err := priceAt(s.Step(), in.Text)
		if err != nil {
			return nil, err
		}
		title := s.Title
		it, err := e.catalog.UpdateItem(ctx, s.ItemID, domain.ItemUpdate{Title: &title, Price: &price})
		if err != nil {
			return nil, err
		}
		*out = Outcome{Done: true, Flow: FlowEditItem, Item: it}
		return nil, nil

	case AwaitReceipt:
		if in.Attachment == "" {
			return nil, &domain.ValidationError{Step: string(s.Step()), Field: "receipt", Reason: "image required"}
		}
		o, err := e.orders.MarkUnderReview(ctx, s.OrderID, in.Attachment)
		if err != nil {
			return nil, err
		}
		*out = Outcome{Done: true, Flow: FlowReceipt, Order: o, Evidence: in.Attachment}
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled session %T", cur)
}

// settle decides what happens to the session after a failed step.
func settle(cur Session, err error) (Session, bool, error) {
	if domain.IsInvalidState(err) || domain.IsNotFound(err) {
		return nil, false, err
	}
	return cur, true, err
}

func priceAt(step Step, text string) (price decimal.Decimal, err error) {
	price, err = ParsePrice(text)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		ve.Step = string(step)
	}
	return price, err
}

// Cancel ends the user's flow, if any, and reports whether one was live.
func (e *Engine) Cancel(userID int64) bool {
	had := e.sessions.Delete(userID)
	if had {
		logger.SVCSessions.Debug("session cancelled",
			slog.String("event", "session.cancel"),
			slog.Int64("user_id", userID),
		)
	}
	return had
}

// CurrentStep reports the user's live step.
func (e *Engine) CurrentStep(userID int64) (Step, bool) {
	s, ok := e.sessions.Get(userID)
	if !ok {
		return "", false
	}
	return s.Step(), true
}
