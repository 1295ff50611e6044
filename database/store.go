package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cart-svc/models"

	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

const uniqueViolation = "23505"

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Queries runs statements outside of any explicit transaction.
func (s *Store) Queries() *Queries {
	return &Queries{q: s.db}
}

// InTx runs fn inside a single transaction. The transaction commits only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type Queries struct {
	q Querier
}

func (q *Queries) ProfileByUser(ctx context.Context, userID int) (*models.Profile, error) {
	var p models.Profile
	err := q.q.QueryRowContext(ctx,
		"SELECT id, user_id, created_at, updated_at FROM profiles WHERE user_id = $1",
		userID,
	).Scan(&p.ID, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return &p, nil
}

func (q *Queries) TouchProfile(ctx context.Context, profileID int, at time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE profiles SET updated_at = $1 WHERE id = $2",
		at, profileID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (q *Queries) ProductByID(ctx context.Context, productID int) (*models.Product, error) {
	var p models.Product
	err := q.q.QueryRowContext(ctx,
		"SELECT id, name, price FROM products WHERE id = $1",
		productID,
	).Scan(&p.ID, &p.Name, &p.Price)
	if err != nil {
		return nil, notFound(err, "product")
	}
	return &p, nil
}

func (q *Queries) OwnsProduct(ctx context.Context, profileID, productID int) (bool, error) {
	var owned bool
	err := q.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM profile_ebooks WHERE profile_id = $1 AND product_id = $2)",
		profileID, productID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check owned product: %w", err)
	}
	return owned, nil
}

func (q *Queries) OwnedProducts(ctx context.Context, profileID int) ([]models.Product, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT p.id, p.name, p.price FROM profile_ebooks pe JOIN products p ON p.id = pe.product_id WHERE pe.profile_id = $1 ORDER BY p.id",
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("query owned products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("scan owned product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// AddEbooks adds products to the profile's purchased set. Already owned products are skipped.
func (q *Queries) AddEbooks(ctx context.Context, profileID int, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO profile_ebooks (profile_id, product_id) SELECT $1, UNNEST($2::int[]) ON CONFLICT DO NOTHING",
		profileID, pq.Array(productIDs),
	)
	if err != nil {
		return fmt.Errorf("add ebooks: %w", err)
	}
	return nil
}

const orderColumns = "id, owner_id, ref_code, is_ordered, date_ordered, created_at"

// PendingOrder returns the owner's order that has not been finalized. The row is locked when
// lock is set, which requires a transaction.
func (q *Queries) PendingOrder(ctx context.Context, ownerID int, lock bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE owner_id = $1 AND is_ordered = FALSE"
	if lock {
		query += " FOR UPDATE"
	}

	var o models.Order
	err := q.q.QueryRowContext(ctx, query, ownerID).
		Scan(&o.ID, &o.OwnerID, &o.RefCode, &o.IsOrdered, &o.DateOrdered, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err, "pending order")
	}
	return &o, nil
}

// CreatePendingOrder inserts a pending order. When another request created one first, the
// existing order is returned with created set to false.
func (q *Queries) CreatePendingOrder(ctx context.Context, ownerID int, refCode string) (*models.Order, bool, error) {
	var o models.Order
	err := q.q.QueryRowContext(ctx,
		"INSERT INTO orders (owner_id, ref_code) VALUES ($1, $2) ON CONFLICT (owner_id) WHERE is_ordered = FALSE DO NOTHING RETURNING "+orderColumns,
		ownerID, refCode,
	).Scan(&o.ID, &o.OwnerID, &o.RefCode, &o.IsOrdered, &o.DateOrdered, &o.CreatedAt)
	if err == nil {
		return &o, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	existing, err := q.PendingOrder(ctx, ownerID, false)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (q *Queries) MarkOrderOrdered(ctx context.Context, orderID int, at time.Time) error {
	_, err := q.q.ExecContext(ctx,
		"UPDATE orders SET is_ordered = TRUE, date_ordered = $1 WHERE id = $2",
		at, orderID,
	)
	if err != nil {
		return fmt.Errorf("mark order ordered: %w", err)
	}
	return nil
}

func (q *Queries) OrderItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT oi.id, oi.order_id, oi.is_ordered, oi.date_ordered, oi.date_added, p.id, p.name, p.price FROM order_items oi JOIN products p ON p.id = oi.product_id WHERE oi.order_id = $1 ORDER BY oi.id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.IsOrdered, &item.DateOrdered, &item.DateAdded,
			&item.Product.ID, &item.Product.Name, &item.Product.Price,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AddOrderItem attaches a product to an order once; created is false when it was already there.
func (q *Queries) AddOrderItem(ctx context.Context, orderID, productID int) (bool, error) {
	result, err := q.q.ExecContext(ctx,
		"INSERT INTO order_items (order_id, product_id) VALUES ($1, $2) ON CONFLICT (order_id, product_id) DO NOTHING",
		orderID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("insert order item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert order item: %w", err)
	}
	return affected > 0, nil
}

// DeletePendingOrderItem removes an item only while it belongs to the owner's pending order.
func (q *Queries) DeletePendingOrderItem(ctx context.Context, ownerID, itemID int) (bool, error) {
	result, err := q.q.ExecContext(ctx,
		"DELETE FROM order_items WHERE id = $1 AND order_id IN (SELECT id FROM orders WHERE owner_id = $2 AND is_ordered = FALSE)",
		itemID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("delete order item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete order item: %w", err)
	}
	return affected > 0, nil
}

func (q *Queries) MarkOrderItemsOrdered(ctx context.Context, orderID int, at time.Time) (int64, error) {
	result, err := q.q.ExecContext(ctx,
		"UPDATE order_items SET is_ordered = TRUE, date_ordered = $1 WHERE order_id = $2",
		at, orderID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark order items ordered: %w", err)
	}
	return result.RowsAffected()
}

func (q *Queries) InsertReceipt(ctx context.Context, r *models.PaymentReceipt) error {
	err := q.q.QueryRowContext(ctx,
		"INSERT INTO payment_receipts (token, profile_id, order_id, provider, amount) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		r.Token, r.ProfileID, r.OrderID, r.Provider, r.Amount,
	).Scan(&r.CreatedAt)
	if err != nil {
		return duplicate(err, "insert payment receipt")
	}
	return nil
}

// ConsumeReceipt marks the unconsumed receipt for token as used and returns it.
func (q *Queries) ConsumeReceipt(ctx context.Context, token string, profileID, orderID int, at time.Time) (*models.PaymentReceipt, error) {
	var r models.PaymentReceipt
	err := q.q.QueryRowContext(ctx,
		"UPDATE payment_receipts SET consumed_at = $1 WHERE token = $2 AND profile_id = $3 AND order_id = $4 AND consumed_at IS NULL RETURNING token, profile_id, order_id, provider, amount, created_at, consumed_at",
		at, token, profileID, orderID,
	).Scan(&r.Token, &r.ProfileID, &r.OrderID, &r.Provider, &r.Amount, &r.CreatedAt, &r.ConsumedAt)
	if err != nil {
		return nil, notFound(err, "payment receipt")
	}
	return &r, nil
}

func (q *Queries) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	err := q.q.QueryRowContext(ctx,
		"INSERT INTO transactions (profile_id, token, order_id, amount, success, timestamp) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		t.ProfileID, t.Token, t.OrderID, t.Amount, t.Success, t.Timestamp,
	).Scan(&t.ID)
	if err != nil {
		return duplicate(err, "insert transaction")
	}
	return nil
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, eventType string, payload []byte) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO cart_outbox (event_type, payload) VALUES ($1, $2)",
		eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func duplicate(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
