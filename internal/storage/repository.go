// Package storage persists users, items and orders through sqlx. Queries are
// written with ? placeholders and rebound for the connected driver.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/keyshop/core/database"
	"github.com/m3rciful/keyshop/internal/domain"
)

const itemColumns = "id, title, price, status, created_at"
const orderColumns = "id, user_id, item_id, payment_status, evidence_ref, created_at"

// Repository is the single persistence gateway of the shop.
type Repository struct {
	db     *sqlx.DB
	driver string
}

// New wraps an open connection. The driver is taken from db.DriverName().
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db, driver: db.DriverName()}
}

// DB exposes the underlying handle for health checks and tests.
func (r *Repository) DB() *sqlx.DB { return r.db }

// UpsertUser creates the user on first contact and refreshes the display name
// afterwards. A blank name is stored as "guest" on insert and never replaces
// a known one.
func (r *Repository) UpsertUser(ctx context.Context, telegramID int64, username string) error {
	username = strings.TrimSpace(username)
	onConflict := `ON CONFLICT (telegram_id) DO UPDATE SET username = excluded.username`
	if r.driver == database.DriverMySQL {
		onConflict = `ON DUPLICATE KEY UPDATE username = VALUES(username)`
	}
	if username == "" {
		username = "guest"
		onConflict = `ON CONFLICT (telegram_id) DO NOTHING`
		if r.driver == database.DriverMySQL {
			onConflict = `ON DUPLICATE KEY UPDATE telegram_id = telegram_id`
		}
	}
	q := `INSERT INTO users (telegram_id, username) VALUES (?, ?) ` + onConflict
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(q), telegramID, username); err != nil {
		return domain.Repo("upsert user", err)
	}
	return nil
}

// GetAvailableItems lists items open for sale, oldest first. Secrets are not loaded.
func (r *Repository) GetAvailableItems(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.SelectContext(ctx, &items, r.db.Rebind(
		`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY id`), domain.ItemAvailable)
	return items, domain.Repo("available items", err)
}

// ListItems lists every item regardless of status. Secrets are not loaded.
func (r *Repository) ListItems(ctx context.Context) ([]domain.Item, error) {
	var items []domain.Item
	err := r.db.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	return items, domain.Repo("list items", err)
}

// GetItem loads one item without its secret.
func (r *Repository) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	return getItem(ctx, r.db, id)
}

func getItem(ctx context.Context, q sqlx.QueryerContext, id int64) (domain.Item, error) {
	var it domain.Item
	err := sqlx.GetContext(ctx, q, &it,
		sqlx.Rebind(sqlx.BindType(driverOf(q)), `SELECT `+itemColumns+` FROM items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return it, domain.ErrNotFound
	}
	return it, domain.Repo("get item", err)
}

// InsertItem stores a new available item and returns it with its assigned id.
func (r *Repository) InsertItem(ctx context.Context, in domain.NewItem) (domain.Item, error) {
	var id int64
	const q = `INSERT INTO items (title, secret_value, price, status) VALUES (?, ?, ?, ?)`
	args := []any{in.Title, in.Secret, in.Price, domain.ItemAvailable}
	if r.driver == database.DriverPostgres {
		if err := r.db.QueryRowxContext(ctx, r.db.Rebind(q+" RETURNING id"), args...).Scan(&id); err != nil {
			return domain.Item{}, domain.Repo("insert item", err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
		if err != nil {
			return domain.Item{}, domain.Repo("insert item", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return domain.Item{}, domain.Repo("insert item", err)
		}
	}
	return r.GetItem(ctx, id)
}

// UpdateItem changes title and/or price of an available item.
func (r *Repository) UpdateItem(ctx context.Context, id int64, upd domain.ItemUpdate) (domain.Item, error) {
	if upd.Empty() {
		return domain.Item{}, &domain.ValidationError{Field: "item", Reason: "nothing to update"}
	}
	var sets []string
	var args []any
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *upd.Price)
	}
	args = append(args, id, domain.ItemAvailable)
	q := `UPDATE items SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return domain.Item{}, domain.Repo("update item", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Item{}, domain.Repo("update item", err)
	} else if n == 0 {
		return domain.Item{}, r.explainItemMiss(ctx, id, "update")
	}
	return r.GetItem(ctx, id)
}

// DeleteItem removes an available item. Sold items are kept with their fulfilled order.
func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM items WHERE id = ? AND status = ?`), id, domain.ItemAvailable)
	if err != nil {
		return domain.Repo("delete item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Repo("delete item", err)
	}
	if n == 0 {
		return r.explainItemMiss(ctx, id, "delete")
	}
	return nil
}

func (r *Repository) explainItemMiss(ctx context.Context, id int64, op string) error {
	it, err := r.GetItem(ctx, id)
	if err != nil {
		return err
	}
	return &domain.InvalidStateError{Entity: "item", ID: id, State: string(it.Status), Op: op}
}

// InsertOrder creates a pending order for an available item. Nothing is reserved:
// several pending orders may reference the same item.
func (r *Repository) InsertOrder(ctx context.Context, userID, itemID int64) (domain.Order, error) {
	var id int64
	err := r.withTx(ctx, "insert order", func(tx *sqlx.Tx) error {
		it, err := getItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it.Status != domain.ItemAvailable {
			return &domain.InvalidStateError{Entity: "item", ID: itemID, State: string(it.Status), Op: "order"}
		}
		const q = `INSERT INTO orders (user_id, item_id, payment_status) VALUES (?, ?, ?)`
		args := []any{userID, itemID, domain.PaymentPending}
		if r.driver == database.DriverPostgres {
			return tx.QueryRowxContext(ctx, tx.Rebind(q+" RETURNING id"), args...).Scan(&id)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.GetOrder(ctx, id)
}

// GetOrder loads one order.
func (r *Repository) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return getOrder(ctx, r.db, id)
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id int64) (domain.Order, error) {
	var o domain.Order
	err := sqlx.GetContext(ctx, q, &o,
		sqlx.Rebind(sqlx.BindType(driverOf(q)), `SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, domain.ErrNotFound
	}
	return o, domain.Repo("get order", err)
}

// SetOrderStatus moves an order between pending and review. An empty evidence
// keeps the stored reference. Success is reserved to ConfirmPayment.
func (r *Repository) SetOrderStatus(ctx context.Context, id int64, status domain.PaymentStatus, evidence string) (domain.Order, error) {
	if status != domain.PaymentPending && status != domain.PaymentReview {
		return domain.Order{}, &domain.InvalidStateError{Entity: "order", ID: id, State: string(status), Op: "set status"}
	}
	q := `UPDATE orders SET payment_status = ? WHERE id = ? AND payment_status <> ?`
	args := []any{status, id, domain.PaymentSuccess}
	if evidence != "" {
		q = `UPDATE orders SET payment_status = ?, evidence_ref = ? WHERE id = ? AND payment_status <> ?`
		args = []any{status, evidence, id, domain.PaymentSuccess}
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return domain.Order{}, domain.Repo("set order status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, domain.Repo("set order status", err)
	}
	o, err := r.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	if n == 0 && o.Status == domain.PaymentSuccess {
		return o, &domain.InvalidStateError{Entity: "order", ID: id, State: string(o.Status), Op: "set status"}
	}
	return o, nil
}

// GetOutstandingOrders lists orders not yet in success joined with their item,
// oldest first. Orders whose item was deleted are omitted.
func (r *Repository) GetOutstandingOrders(ctx context.Context) ([]domain.OutstandingOrder, error) {
	var out []domain.OutstandingOrder
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT o.id, o.user_id, o.item_id, o.payment_status, o.evidence_ref, o.created_at,
		       i.title AS item_title, i.price AS item_price
		FROM orders o
		JOIN items i ON i.id = o.item_id
		WHERE o.payment_status <> ?
		ORDER BY o.created_at, o.id`), domain.PaymentSuccess)
	return out, domain.Repo("outstanding orders", err)
}

// ConfirmPayment atomically moves the order to success, the item to sold and
// returns the secret. Exactly one caller per item ever receives a Fulfillment;
// every other caller gets AlreadyFulfilledError or InvalidStateError.
func (r *Repository) ConfirmPayment(ctx context.Context, orderID int64) (domain.Fulfillment, error) {
	var f domain.Fulfillment
	err := r.withTx(ctx, "confirm payment", func(tx *sqlx.Tx) error {
		o, err := getOrder(ctx, tx, orderID)
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.InvalidStateError{Entity: "order", ID: orderID, Op: "confirm"}
		}
		if err != nil {
			return err
		}
		if o.Status == domain.PaymentSuccess {
			return &domain.AlreadyFulfilledError{OrderID: o.ID, ItemID: o.ItemID, Reason: "order already success"}
		}

		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE orders SET payment_status = ? WHERE id = ? AND payment_status <> ?`),
			domain.PaymentSuccess, o.ID, domain.PaymentSuccess)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.AlreadyFulfilledError{OrderID: o.ID, ItemID: o.ItemID, Reason: "item sold to another order"}
			}
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return &domain.AlreadyFulfilledError{OrderID: o.ID, ItemID: o.ItemID, Reason: "confirmed concurrently"}
		}

		res, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE items SET status = ? WHERE id = ? AND status = ?`),
			domain.ItemSold, o.ItemID, domain.ItemAvailable)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			it, err := getItem(ctx, tx, o.ItemID)
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.InvalidStateError{Entity: "item", ID: o.ItemID, State: "deleted", Op: "confirm"}
			}
			if err != nil {
				return err
			}
			return &domain.AlreadyFulfilledError{OrderID: o.ID, ItemID: o.ItemID, Reason: "item " + string(it.Status)}
		}

		var row struct {
			Title  string          `db:"title"`
			Secret string          `db:"secret_value"`
			Price  decimal.Decimal `db:"price"`
		}
		if err := tx.GetContext(ctx, &row,
			tx.Rebind(`SELECT title, secret_value, price FROM items WHERE id = ?`), o.ItemID); err != nil {
			return err
		}
		o.Status = domain.PaymentSuccess
		f = domain.Fulfillment{Order: o, ItemTitle: row.Title, Secret: row.Secret, Price: row.Price}
		return nil
	})
	return f, err
}

// withTx runs fn in a transaction. Typed domain errors pass through unchanged;
// anything else is wrapped as a RepositoryError. The transaction is rolled back
// on any error.
func (r *Repository) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Repo(op, fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return domain.Repo(op, err)
	}
	if err = tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyFulfilledError{Reason: "unique violation on commit"}
		}
		return domain.Repo(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func driverOf(q sqlx.QueryerContext) string {
	switch v := q.(type) {
	case *sqlx.DB:
		return v.DriverName()
	case *sqlx.Tx:
		return v.DriverName()
	}
	return ""
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}
