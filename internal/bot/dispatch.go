// Package bot turns chat events into shop operations and outbound effects.
// Dispatch is transport free; the telebot adapter feeds it and executes the
// effects it returns.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/core/telegram/callbacks"
	"github.com/m3rciful/keyshop/core/telegram/keyboard"
	"github.com/m3rciful/keyshop/internal/conversation"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/orders"
)

// Token tags and commands understood by the shop.
const (
	TagBuy     = "buy"
	TagPay     = "pay"
	TagInvoice = "invoice"
	TagEdit    = "edit"
	TagDelete  = "del"
	TagConfirm = "confirm"
	TagAdmin   = "admin"
	TagCancel  = "cancel"

	CmdStart  = "/start"
	CmdAdmin  = "/admin"
	CmdOrders = "/orders"
	CmdCancel = "/cancel"

	adminAdd    = "add"
	adminEdit   = "edit"
	adminDelete = "delete"
	adminOrders = "orders"

	invoicePrefix = "order:"
)

// Catalog is the item and user storage used by dispatch.
type Catalog interface {
	UpsertUser(ctx context.Context, telegramID int64, username string) error
	GetAvailableItems(ctx context.Context) ([]domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
}

// Orders is the order lifecycle used by dispatch.
type Orders interface {
	CreateOrder(ctx context.Context, userID, itemID int64) (domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	GetItem(ctx context.Context, id int64) (domain.Item, error)
	ConfirmPayment(ctx context.Context, orderID int64, trigger orders.Trigger) (domain.Fulfillment, error)
	ListOutstanding(ctx context.Context) ([]domain.OutstandingOrder, error)
}

// Flows is the conversation engine used by dispatch.
type Flows interface {
	BeginFlow(ctx context.Context, userID int64, flow conversation.Flow, seed conversation.Seed) (conversation.Step, error)
	Advance(ctx context.Context, userID int64, in conversation.Input) (conversation.Outcome, error)
	Cancel(userID int64) bool
}

// Options configures the shop behaviour.
type Options struct {
	AdminID int64
	// Currency is an ISO 4217 code used for prices and invoices.
	Currency string
	// PaymentInstructions are shown for manual payment.
	PaymentInstructions string
	// ProviderToken enables card payments through Telegram invoices.
	ProviderToken string
}

type handlerFunc func(b *Bot, ctx context.Context, ev Event) ([]Effect, error)

type route struct {
	admin bool
	// arity is the number of token arguments, or -1 for commands.
	arity int
	fn    handlerFunc
}

var commandTable = map[string]route{
	CmdStart:  {arity: -1, fn: (*Bot).start},
	CmdAdmin:  {admin: true, arity: -1, fn: (*Bot).adminMenu},
	CmdOrders: {admin: true, arity: -1, fn: (*Bot).outstanding},
	CmdCancel: {arity: -1, fn: (*Bot).cancel},
}

var buttonTable = map[string]route{
	TagBuy:     {arity: 1, fn: (*Bot).buy},
	TagPay:     {arity: 1, fn: (*Bot).payManually},
	TagInvoice: {arity: 1, fn: (*Bot).invoice},
	TagCancel:  {arity: 0, fn: (*Bot).cancel},
	TagEdit:    {admin: true, arity: 1, fn: (*Bot).editItem},
	TagDelete:  {admin: true, arity: 1, fn: (*Bot).deleteItem},
	TagConfirm: {admin: true, arity: 2, fn: (*Bot).confirm},
	TagAdmin:   {admin: true, arity: 1, fn: (*Bot).adminAction},
}

// Bot maps events to shop operations.
type Bot struct {
	opts    Options
	catalog Catalog
	orders  Orders
	flows   Flows
}

// New builds the dispatcher.
func New(opts Options, catalog Catalog, ord Orders, flows Flows) *Bot {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &Bot{opts: opts, catalog: catalog, orders: ord, flows: flows}
}

// Commands lists the command names with their admin flag, for registration.
func Commands() map[string]bool {
	out := make(map[string]bool, len(commandTable))
	for name, r := range commandTable {
		out[name] = r.admin
	}
	return out
}

// Tags lists the button tags with their admin flag, for registration.
func Tags() map[string]bool {
	out := make(map[string]bool, len(buttonTable))
	for tag, r := range buttonTable {
		out[tag] = r.admin
	}
	return out
}

// Dispatch handles one event. The returned effects are meant to be executed
// even when err is non-nil; err reports failures worth logging.
func (b *Bot) Dispatch(ctx context.Context, ev Event) ([]Effect, error) {
	ctx = logger.WithUserID(ctx, ev.UserID)
	switch ev.Kind {
	case KindCommand:
		r, ok := commandTable[ev.Command]
		if !ok {
			return nil, nil
		}
		if r.admin && !b.isAdmin(ev.UserID) {
			return []Effect{b.reply(ev, MsgNotAdmin)}, nil
		}
		return r.fn(b, ctx, ev)
	case KindButton:
		r, ok := buttonTable[ev.Token.Tag]
		if !ok || len(ev.Token.Args) != r.arity {
			logger.Debug(ctx, logger.CompTG, "button.ignored",
				slog.String("tag", ev.Token.Tag),
				slog.Int("args", len(ev.Token.Args)),
			)
			return nil, nil
		}
		if r.admin && !b.isAdmin(ev.UserID) {
			return nil, nil
		}
		return r.fn(b, ctx, ev)
	case KindText, KindPhoto:
		return b.input(ctx, ev)
	case KindCheckout:
		return b.checkout(ctx, ev)
	case KindPayment:
		return b.paid(ctx, ev)
	}
	return nil, nil
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.opts.AdminID != 0 && userID == b.opts.AdminID
}

func (b *Bot) reply(ev Event, text string, rows ...[]keyboard.InlineBtn) SendText {
	return SendText{To: ev.UserID, Text: text, Keyboard: rows}
}

// failure converts an unexpected error into a generic reply and keeps it for logging.
func (b *Bot) failure(ev Event, err error) ([]Effect, error) {
	return []Effect{b.reply(ev, MsgSomethingWrong)}, err
}

func cancelRow() []keyboard.InlineBtn {
	return []keyboard.InlineBtn{keyboard.Cancel(TagCancel)}
}

func (b *Bot) start(ctx context.Context, ev Event) ([]Effect, error) {
	if err := b.catalog.UpsertUser(ctx, ev.UserID, ev.Username); err != nil {
		return b.failure(ev, err)
	}
	items, err := b.catalog.GetAvailableItems(ctx)
	if err != nil {
		return b.failure(ev, err)
	}
	effects := []Effect{b.reply(ev, MsgWelcome)}
	if len(items) == 0 {
		return append(effects, b.reply(ev, MsgNoItems)), nil
	}
	buttons := make([]keyboard.InlineBtn, 0, len(items))
	for _, it := range items {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:  itemLabel(it, b.opts.Currency),
			Token: callbacks.MustBuild(TagBuy, it.ID),
		})
	}
	return append(effects, b.reply(ev, MsgCatalog, keyboard.Column(buttons...)...)), nil
}

func (b *Bot) buy(ctx context.Context, ev Event) ([]Effect, error) {
	itemID, err := ev.Token.Int64(0)
	if err != nil {
		return nil, nil
	}
	if err := b.catalog.UpsertUser(ctx, ev.UserID, ev.Username); err != nil {
		return b.failure(ev, err)
	}
	o, err := b.orders.CreateOrder(ctx, ev.UserID, itemID)
	if err != nil {
		if domain.IsInvalidState(err) {
			return []Effect{b.reply(ev, MsgItemUnavailable)}, nil
		}
		return b.failure(ev, err)
	}
	it, err := b.orders.GetItem(ctx, itemID)
	if err != nil {
		return b.failure(ev, err)
	}
	row := []keyboard.InlineBtn{{Text: BtnManualPay, Token: callbacks.MustBuild(TagPay, o.ID)}}
	if b.opts.ProviderToken != "" {
		row = append(row, keyboard.InlineBtn{Text: BtnCardPay, Token: callbacks.MustBuild(TagInvoice, o.ID)})
	}
	return []Effect{b.reply(ev, orderCreated(o, it, b.opts.Currency), row)}, nil
}

func (b *Bot) payManually(ctx context.Context, ev Event) ([]Effect, error) {
	orderID, err := ev.Token.Int64(0)
	if err != nil {
		return nil, nil
	}
	_, err = b.flows.BeginFlow(ctx, ev.UserID, conversation.FlowReceipt, conversation.Seed{OrderID: orderID})
	switch {
	case err == nil:
		return []Effect{b.reply(ev, manualPayment(b.opts.PaymentInstructions), cancelRow())}, nil
	case domain.IsConflict(err):
		return []Effect{b.reply(ev, MsgFlowBusy, cancelRow())}, nil
	case domain.IsInvalidState(err), domain.IsNotFound(err):
		return []Effect{b.reply(ev, MsgOrderUnavailable)}, nil
	}
	return b.failure(ev, err)
}

func (b *Bot) invoice(ctx context.Context, ev Event) ([]Effect, error) {
	orderID, err := ev.Token.Int64(0)
	if err != nil || b.opts.ProviderToken == "" {
		return nil, nil
	}
	o, it, err := b.payable(ctx, ev.UserID, orderID)
	if err != nil {
		if domain.IsInvalidState(err) || domain.IsNotFound(err) {
			return []Effect{b.reply(ev, MsgOrderUnavailable)}, nil
		}
		return b.failure(ev, err)
	}
	return []Effect{SendInvoice{
		To:          ev.UserID,
		OrderID:     o.ID,
		Title:       it.Title,
		Description: fmt.Sprintf("Order #%d", o.ID),
		Price:       it.Price,
	}}, nil
}

// payable loads an order the user may still pay for, with its item.
func (b *Bot) payable(ctx context.Context, userID, orderID int64) (domain.Order, domain.Item, error) {
	o, err := b.orders.GetOrder(ctx, orderID)
	if err != nil {
		return o, domain.Item{}, err
	}
	if o.UserID != userID {
		return o, domain.Item{}, &domain.InvalidStateError{Entity: "order", ID: o.ID, State: "foreign", Op: "pay"}
	}
	if o.Status == domain.PaymentSuccess {
		return o, domain.Item{}, &domain.InvalidStateError{Entity: "order", ID: o.ID, State: string(o.Status), Op: "pay"}
	}
	it, err := b.orders.GetItem(ctx, o.ItemID)
	if err != nil {
		return o, it, err
	}
	if it.Status != domain.ItemAvailable {
		return o, it, &domain.InvalidStateError{Entity: "item", ID: it.ID, State: string(it.Status), Op: "pay"}
	}
	return o, it, nil
}

func (b *Bot) checkout(ctx context.Context, ev Event) ([]Effect, error) {
	orderID, ok := parseInvoicePayload(ev.Payload)
	if !ok {
		return []Effect{AnswerCheckout{Reason: MsgOrderUnavailable}}, nil
	}
	_, it, err := b.payable(ctx, ev.UserID, orderID)
	if err != nil {
		if domain.IsInvalidState(err) || domain.IsNotFound(err) {
			return []Effect{AnswerCheckout{Reason: MsgOrderUnavailable}}, nil
		}
		return []Effect{AnswerCheckout{Reason: MsgSomethingWrong}}, err
	}
	if !strings.EqualFold(ev.Currency, b.opts.Currency) || int64(ev.Total) != minorUnits(it) {
		return []Effect{AnswerCheckout{Reason: MsgOrderUnavailable}}, nil
	}
	return []Effect{AnswerCheckout{OK: true}}, nil
}

func (b *Bot) paid(ctx context.Context, ev Event) ([]Effect, error) {
	orderID, ok := parseInvoicePayload(ev.Payload)
	if !ok {
		logger.Warn(ctx, logger.CompOrders, "payment.payload",
			slog.String("payload", logger.SanitizeLimit(ev.Payload, 64)),
		)
		return nil, nil
	}
	f, err := b.orders.ConfirmPayment(ctx, orderID, orders.TriggerTelegramPayment)
	switch {
	case err == nil:
		return b.fulfilled(f, orders.TriggerTelegramPayment), nil
	case domain.IsAlreadyFulfilled(err), domain.IsInvalidState(err):
		return []Effect{
			b.reply(ev, MsgPaymentLate),
			SendText{To: b.opts.AdminID, Text: latePayment(orderID, ev.UserID, err)},
		}, nil
	}
	return b.failure(ev, err)
}

// fulfilled produces the secret disclosure and the admin notice.
func (b *Bot) fulfilled(f domain.Fulfillment, trigger orders.Trigger) []Effect {
	return []Effect{
		SendText{To: f.Order.UserID, Text: secretMessage(f), Markdown: true, Critical: true, OrderID: f.Order.ID},
		SendText{To: b.opts.AdminID, Text: confirmedNotice(f, string(trigger))},
	}
}

func (b *Bot) confirm(ctx context.Context, ev Event) ([]Effect, error) {
	buyerID, err1 := ev.Token.Int64(0)
	orderID, err2 := ev.Token.Int64(1)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	f, err := b.orders.ConfirmPayment(ctx, orderID, orders.TriggerAdmin)
	switch {
	case err == nil:
		if f.Order.UserID != buyerID {
			logger.Warn(ctx, logger.CompOrders, "confirm.buyer_mismatch",
				slog.Int64("order_id", orderID),
				slog.Int64("token_user_id", buyerID),
				slog.Int64("order_user_id", f.Order.UserID),
			)
		}
		return b.fulfilled(f, orders.TriggerAdmin), nil
	case domain.IsAlreadyFulfilled(err):
		return []Effect{b.reply(ev, alreadyFulfilled(orderID))}, nil
	case domain.IsInvalidState(err):
		return []Effect{b.reply(ev, cannotConfirm(orderID, err))}, nil
	}
	return b.failure(ev, err)
}

func (b *Bot) cancel(_ context.Context, ev Event) ([]Effect, error) {
	if b.flows.Cancel(ev.UserID) {
		return []Effect{b.reply(ev, MsgCancelled)}, nil
	}
	return []Effect{b.reply(ev, MsgNothingToCancel)}, nil
}

func (b *Bot) adminMenu(ctx context.Context, ev Event) ([]Effect, error) {
	items, err := b.catalog.ListItems(ctx)
	if err != nil {
		return b.failure(ev, err)
	}
	return []Effect{b.reply(ev, adminPanel(items), keyboard.Column(
		keyboard.InlineBtn{Text: BtnAdd, Token: callbacks.MustBuild(TagAdmin, adminAdd)},
		keyboard.InlineBtn{Text: BtnEdit, Token: callbacks.MustBuild(TagAdmin, adminEdit)},
		keyboard.InlineBtn{Text: BtnDelete, Token: callbacks.MustBuild(TagAdmin, adminDelete)},
		keyboard.InlineBtn{Text: BtnOrders, Token: callbacks.MustBuild(TagAdmin, adminOrders)},
	)...)}, nil
}

func (b *Bot) adminAction(ctx context.Context, ev Event) ([]Effect, error) {
	switch ev.Token.Args[0] {
	case adminAdd:
		return b.beginEntry(ctx, ev, conversation.FlowAddItem, conversation.Seed{})
	case adminEdit:
		return b.pickItem(ctx, ev, TagEdit, MsgChooseEdit)
	case adminDelete:
		return b.pickItem(ctx, ev, TagDelete, MsgChooseDelete)
	case adminOrders:
		return b.outstanding(ctx, ev)
	}
	return nil, nil
}

// pickItem lists items that may still be changed as buttons carrying tag.
func (b *Bot) pickItem(ctx context.Context, ev Event, tag, title string) ([]Effect, error) {
	items, err := b.catalog.GetAvailableItems(ctx)
	if err != nil {
		return b.failure(ev, err)
	}
	if len(items) == 0 {
		return []Effect{b.reply(ev, MsgNoEditable)}, nil
	}
	buttons := make([]keyboard.InlineBtn, 0, len(items))
	for _, it := range items {
		buttons = append(buttons, keyboard.InlineBtn{Text: it.Title, Token: callbacks.MustBuild(tag, it.ID)})
	}
	rows := append(keyboard.Column(buttons...), cancelRow())
	return []Effect{b.reply(ev, title, rows...)}, nil
}

func (b *Bot) beginEntry(ctx context.Context, ev Event, flow conversation.Flow, seed conversation.Seed) ([]Effect, error) {
	step, err := b.flows.BeginFlow(ctx, ev.UserID, flow, seed)
	switch {
	case err == nil:
		return []Effect{b.reply(ev, promptFor(step), cancelRow())}, nil
	case domain.IsConflict(err):
		return []Effect{b.reply(ev, MsgFlowBusy, cancelRow())}, nil
	case domain.IsInvalidState(err):
		return []Effect{b.reply(ev, MsgItemSold)}, nil
	case domain.IsNotFound(err):
		return []Effect{b.reply(ev, MsgItemGone)}, nil
	}
	return b.failure(ev, err)
}

func (b *Bot) editItem(ctx context.Context, ev Event) ([]Effect, error) {
	itemID, err := ev.Token.Int64(0)
	if err != nil {
		return nil, nil
	}
	return b.beginEntry(ctx, ev, conversation.FlowEditItem, conversation.Seed{ItemID: itemID})
}

func (b *Bot) deleteItem(ctx context.Context, ev Event) ([]Effect, error) {
	itemID, err := ev.Token.Int64(0)
	if err != nil {
		return nil, nil
	}
	err = b.catalog.DeleteItem(ctx, itemID)
	switch {
	case err == nil:
		return []Effect{b.reply(ev, MsgDeleted)}, nil
	case domain.IsInvalidState(err):
		return []Effect{b.reply(ev, MsgItemSold)}, nil
	case domain.IsNotFound(err):
		return []Effect{b.reply(ev, MsgItemGone)}, nil
	}
	return b.failure(ev, err)
}

func (b *Bot) outstanding(ctx context.Context, ev Event) ([]Effect, error) {
	list, err := b.orders.ListOutstanding(ctx)
	if err != nil {
		return b.failure(ev, err)
	}
	if len(list) == 0 {
		return []Effect{b.reply(ev, MsgNoOrders)}, nil
	}
	buttons := make([]keyboard.InlineBtn, 0, len(list))
	for _, o := range list {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:  fmt.Sprintf("✅ #%d", o.ID),
			Token: callbacks.MustBuild(TagConfirm, o.UserID, o.ID),
		})
	}
	return []Effect{b.reply(ev, renderOutstanding(list, b.opts.Currency), keyboard.Chunk(buttons, 3)...)}, nil
}

// input feeds free text or a photo to the user's flow. Chatter outside a flow
// and unknown slash commands are ignored.
func (b *Bot) input(ctx context.Context, ev Event) ([]Effect, error) {
	if ev.Kind == KindText && strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
		return nil, nil
	}
	out, err := b.flows.Advance(ctx, ev.UserID, conversation.Input{Text: ev.Text, Attachment: ev.Attachment})
	if err != nil {
		var ve *domain.ValidationError
		switch {
		case errors.Is(err, conversation.ErrNoSession):
			return nil, nil
		case errors.As(err, &ve):
			if ve.Field == "receipt" {
				return []Effect{b.reply(ev, MsgReceiptPhoto, cancelRow())}, nil
			}
			return []Effect{b.reply(ev, invalidInput(ve), cancelRow())}, nil
		case domain.IsInvalidState(err):
			return []Effect{b.reply(ev, MsgItemSold)}, nil
		case domain.IsNotFound(err):
			return []Effect{b.reply(ev, MsgItemGone)}, nil
		}
		return b.failure(ev, err)
	}
	if !out.Done {
		return []Effect{b.reply(ev, promptFor(out.Step), cancelRow())}, nil
	}
	switch out.Flow {
	case conversation.FlowAddItem:
		return []Effect{b.reply(ev, itemSaved(out.Item, b.opts.Currency, false))}, nil
	case conversation.FlowEditItem:
		return []Effect{b.reply(ev, itemSaved(out.Item, b.opts.Currency, true))}, nil
	case conversation.FlowReceipt:
		return []Effect{
			b.reply(ev, MsgAwaitingReview),
			SendPhoto{
				To:         b.opts.AdminID,
				Attachment: out.Evidence,
				Caption:    receiptCaption(out.Order, ev.UserID, ev.Username),
				Keyboard: [][]keyboard.InlineBtn{{{
					Text:  fmt.Sprintf("✅ Confirm #%d", out.Order.ID),
					Token: callbacks.MustBuild(TagConfirm, out.Order.UserID, out.Order.ID),
				}}},
			},
		}, nil
	}
	return nil, nil
}

func invoicePayload(orderID int64) string {
	return invoicePrefix + strconv.FormatInt(orderID, 10)
}

func parseInvoicePayload(p string) (int64, bool) {
	rest, ok := strings.CutPrefix(p, invoicePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil && id > 0
}

// minorUnits converts the item price to the invoice amount in cents.
func minorUnits(it domain.Item) int64 {
	return it.Price.Shift(2).IntPart()
}
