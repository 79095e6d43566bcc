// Package domain holds the shop entities and the error taxonomy shared by
// storage, the conversation engine and the order lifecycle.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the sale state of an item.
type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemSold      ItemStatus = "sold"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentReview  PaymentStatus = "review"
	PaymentSuccess PaymentStatus = "success"
)

// User is a Telegram account that talked to the shop.
type User struct {
	TelegramID int64     `db:"telegram_id"`
	Username   string    `db:"username"`
	CreatedAt  time.Time `db:"created_at"`
}

// Item is a sellable digital good. Only the confirm transaction reads the
// secret; every other item read leaves Secret empty.
type Item struct {
	ID        int64           `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Secret    string          `db:"secret_value" json:"-"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Status    ItemStatus      `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// NewItem carries the validated fields of an item about to be inserted.
type NewItem struct {
	Title  string
	Secret string
	Price  decimal.Decimal
}

// ItemUpdate lists the fields to change; nil leaves a field untouched.
type ItemUpdate struct {
	Title *string
	Price *decimal.Decimal
}

// Empty reports whether the update changes nothing.
func (u ItemUpdate) Empty() bool { return u.Title == nil && u.Price == nil }

// Order is one purchase attempt of an item by a user.
type Order struct {
	ID          int64         `db:"id"`
	UserID      int64         `db:"user_id"`
	ItemID      int64         `db:"item_id"`
	Status      PaymentStatus `db:"payment_status"`
	EvidenceRef string        `db:"evidence_ref"`
	CreatedAt   time.Time     `db:"created_at"`
}

// OutstandingOrder is an order that has not reached success, joined with its item.
type OutstandingOrder struct {
	Order
	ItemTitle string          `db:"item_title"`
	ItemPrice decimal.Decimal `db:"item_price"`
}

// Fulfillment is the result of a successful confirm: the order now in success
// and the secret that must be delivered to Order.UserID.
type Fulfillment struct {
	Order     Order
	ItemTitle string
	Secret    string
	Price     decimal.Decimal
}
