package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/keyshop/core/telegram/format"
	"github.com/m3rciful/keyshop/internal/conversation"
	"github.com/m3rciful/keyshop/internal/domain"
)

const (
	MsgWelcome          = "👋 Welcome to the shop!"
	MsgCatalog          = "🛒 Available items:"
	MsgNoItems          = "❌ No items are available right now."
	MsgChoosePayment    = "Choose a payment method:"
	MsgItemUnavailable  = "❌ This item is no longer available."
	MsgOrderUnavailable = "❌ This order cannot be paid anymore."
	MsgAwaitingReview   = "⏳ Thanks! Your receipt is waiting for review."
	MsgReceiptPhoto     = "📸 Please send a photo of your receipt."
	MsgFlowBusy         = "⚠️ Finish or cancel your current step first."
	MsgCancelled        = "✅ Cancelled."
	MsgNothingToCancel  = "Nothing to cancel."
	MsgNotAdmin         = "❌ You are not an admin."
	MsgAdminMenu        = "🛠️ Admin panel"
	MsgChooseEdit       = "Choose an item to edit:"
	MsgChooseDelete     = "Choose an item to delete:"
	MsgNoEditable       = "There are no available items."
	MsgNoOrders         = "No outstanding orders."
	MsgDeleted          = "✅ Item deleted."
	MsgItemSold         = "❌ Sold items cannot be changed."
	MsgItemGone         = "❌ That item no longer exists."
	MsgSomethingWrong   = "⚠️ Something went wrong, please try again."
	MsgPaymentLate      = "✅ Payment received, but this order was already settled. The admin has been notified."

	BtnManualPay = "💳 Manual payment"
	BtnCardPay   = "💳 Pay by card"
	BtnAdd       = "➕ Add item"
	BtnEdit      = "✏️ Edit item"
	BtnDelete    = "❌ Delete item"
	BtnOrders    = "📦 Orders"
)

var stepPrompts = map[conversation.Step]string{
	conversation.StepAddTitle:     "📝 Item title:",
	conversation.StepAddSecret:    "🔑 Secret code:",
	conversation.StepAddPrice:     "💲 Price (for example 9.99):",
	conversation.StepEditTitle:    "📝 New title:",
	conversation.StepEditPrice:    "💲 New price:",
	conversation.StepAwaitReceipt: MsgReceiptPhoto,
}

func promptFor(step conversation.Step) string {
	return stepPrompts[step]
}

func money(p decimal.Decimal, currency string) string {
	return p.StringFixed(2) + " " + currency
}

func itemLabel(it domain.Item, currency string) string {
	return fmt.Sprintf("%s · %s", it.Title, money(it.Price, currency))
}

func orderCreated(o domain.Order, it domain.Item, currency string) string {
	return fmt.Sprintf("🧾 Order #%d: %s\n%s", o.ID, itemLabel(it, currency), MsgChoosePayment)
}

func manualPayment(instructions string) string {
	return "💳 Manual payment\n" + instructions + "\n" + MsgReceiptPhoto
}

func invalidInput(ve *domain.ValidationError) string {
	return fmt.Sprintf("⚠️ Invalid %s: %s. Try again.", ve.Field, ve.Reason)
}

func itemSaved(it domain.Item, currency string, edited bool) string {
	if edited {
		return "✅ Item updated: " + itemLabel(it, currency)
	}
	return "✅ Item added: " + itemLabel(it, currency)
}

func receiptCaption(o domain.Order, userID int64, username string) string {
	who := fmt.Sprintf("%d", userID)
	if username != "" {
		who += " (" + username + ")"
	}
	return fmt.Sprintf("🧾 New receipt\nOrder #%d · item %d\n👤 %s", o.ID, o.ItemID, who)
}

// secretMessage renders the disclosure sent to the buyer in MarkdownV2.
func secretMessage(f domain.Fulfillment) string {
	code, _ := format.EscapeMarkdown(f.Secret, format.MarkdownV2, format.EntityCode)
	return "🎉 " + format.MustEscapeV2("Payment confirmed!") + "\n" +
		"📦 " + format.MustEscapeV2("Item: "+f.ItemTitle) + "\n" +
		"🔑 " + format.MustEscapeV2("Code:") + "\n" +
		"`" + code + "`"
}

// adminPanel heads the admin menu with the stock counts.
func adminPanel(items []domain.Item) string {
	var available, sold int
	for _, it := range items {
		switch it.Status {
		case domain.ItemAvailable:
			available++
		case domain.ItemSold:
			sold++
		}
	}
	return fmt.Sprintf("%s\n📦 %d available · %d sold", MsgAdminMenu, available, sold)
}

func confirmedNotice(f domain.Fulfillment, trigger string) string {
	return fmt.Sprintf("✅ Order #%d confirmed (%s). Secret delivered to user %d.", f.Order.ID, trigger, f.Order.UserID)
}

func alreadyFulfilled(orderID int64) string {
	return fmt.Sprintf("ℹ️ Order #%d was already fulfilled.", orderID)
}

func cannotConfirm(orderID int64, err error) string {
	return fmt.Sprintf("❌ Order #%d cannot be confirmed: %v", orderID, err)
}

func latePayment(orderID int64, userID int64, err error) string {
	return fmt.Sprintf("⚠️ Card payment for order #%d by user %d arrived after it was settled (%v). Check for a refund.", orderID, userID, err)
}

// renderOutstanding lists orders awaiting confirmation, oldest first.
func renderOutstanding(list []domain.OutstandingOrder, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📦 Outstanding orders: %d\n", len(list))
	for _, o := range list {
		fmt.Fprintf(&b, "\n#%d · %s · %s\n", o.ID, o.ItemTitle, money(o.ItemPrice, currency))
		fmt.Fprintf(&b, "   user %d · %s", o.UserID, o.Status)
		if o.EvidenceRef != "" {
			b.WriteString(" · receipt attached")
		}
		b.WriteString("\n")
	}
	return b.String()
}
