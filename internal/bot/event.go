package bot

import (
	"github.com/shopspring/decimal"

	"github.com/m3rciful/keyshop/core/telegram/callbacks"
	"github.com/m3rciful/keyshop/core/telegram/keyboard"
)

// Kind is the type of an inbound chat event.
type Kind string

const (
	KindCommand  Kind = "command"
	KindButton   Kind = "button"
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindCheckout Kind = "checkout"
	KindPayment  Kind = "payment"
)

// Event is one inbound chat event, already detached from the transport.
type Event struct {
	Kind     Kind
	UserID   int64
	Username string

	// Command is the "/name" of a command event.
	Command string
	// Token is the parsed button token.
	Token callbacks.Token
	Text  string
	// Attachment is the file id of a photo or image document.
	Attachment string

	// Payload, Currency and Total describe checkout and payment events.
	// Total is in the currency's smallest unit.
	Payload  string
	Currency string
	Total    int
}

// Effect is an outbound action produced by dispatch.
type Effect interface {
	effect()
}

// SendText sends a text message. Markdown selects MarkdownV2. Critical
// messages are delivered synchronously so a failure is reported with OrderID.
type SendText struct {
	To       int64
	Text     string
	Keyboard [][]keyboard.InlineBtn
	Markdown bool
	Critical bool
	OrderID  int64
}

// SendPhoto forwards an already uploaded photo by file id.
type SendPhoto struct {
	To         int64
	Attachment string
	Caption    string
	Keyboard   [][]keyboard.InlineBtn
}

// SendInvoice asks Telegram to collect a card payment for an order.
type SendInvoice struct {
	To          int64
	OrderID     int64
	Title       string
	Description string
	Price       decimal.Decimal
}

// AnswerCheckout answers the pending pre-checkout query.
type AnswerCheckout struct {
	OK     bool
	Reason string
}

func (SendText) effect()       {}
func (SendPhoto) effect()      {}
func (SendInvoice) effect()    {}
func (AnswerCheckout) effect() {}
