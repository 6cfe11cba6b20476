package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, buyer_id, total, status, payment_method,
	shipping_name, shipping_email, shipping_phone, shipping_address,
	shipping_city, shipping_state, shipping_pincode, created_at`

// orderRow mirrors the orders table. Shipping columns are nullable because
// rows written before shipping capture carry none.
type orderRow struct {
	ID              string          `db:"id"`
	BuyerID         string          `db:"buyer_id"`
	Total           decimal.Decimal `db:"total"`
	Status          string          `db:"status"`
	PaymentMethod   string          `db:"payment_method"`
	ShippingName    sql.NullString  `db:"shipping_name"`
	ShippingEmail   sql.NullString  `db:"shipping_email"`
	ShippingPhone   sql.NullString  `db:"shipping_phone"`
	ShippingAddress sql.NullString  `db:"shipping_address"`
	ShippingCity    sql.NullString  `db:"shipping_city"`
	ShippingState   sql.NullString  `db:"shipping_state"`
	ShippingPincode sql.NullString  `db:"shipping_pincode"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (r orderRow) toModel() models.Order {
	o := models.Order{
		ID:            r.ID,
		BuyerID:       r.BuyerID,
		Total:         r.Total,
		Status:        models.OrderStatus(r.Status),
		PaymentMethod: r.PaymentMethod,
		CreatedAt:     r.CreatedAt,
		Items:         []models.OrderItem{},
	}
	fields := []sql.NullString{r.ShippingName, r.ShippingEmail, r.ShippingPhone, r.ShippingAddress,
		r.ShippingCity, r.ShippingState, r.ShippingPincode}
	for _, f := range fields {
		if f.Valid {
			o.Shipping = &models.Shipping{
				FullName: r.ShippingName.String,
				Email:    r.ShippingEmail.String,
				Phone:    r.ShippingPhone.String,
				Address:  r.ShippingAddress.String,
				City:     r.ShippingCity.String,
				State:    r.ShippingState.String,
				Pincode:  r.ShippingPincode.String,
			}
			break
		}
	}
	return o
}

func (s *Store) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	var rows []orderRow
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR buyer_id = $1)
		ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, query, buyerID); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]models.Order, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		orders[i] = r.toModel()
		ids[i] = r.ID
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if its, ok := items[orders[i].ID]; ok {
			orders[i].Items = its
		}
	}
	return orders, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	o := row.toModel()
	items, err := loadItems(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	if its, ok := items[id]; ok {
		o.Items = its
	}
	return &o, nil
}

func loadItems(ctx context.Context, q sqlx.QueryerContext, orderIDs []string) (map[string][]models.OrderItem, error) {
	var items []models.OrderItem
	query := `SELECT id, order_id, product_id, title, qty, price FROM order_items
		WHERE order_id = ANY($1) ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query, pq.Array(orderIDs)); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	out := make(map[string][]models.OrderItem, len(orderIDs))
	for _, it := range items {
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

// LockProducts takes row locks in id order so concurrent carts touching the
// same products cannot deadlock.
func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	var products []models.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	if err := t.tx.SelectContext(ctx, &products, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return indexProducts(products), nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrInsufficientStock
}

func (t *pgTx) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	sh := o.Shipping
	if sh == nil {
		sh = &models.Shipping{}
	}
	query := `INSERT INTO orders
		(id, buyer_id, total, status, payment_method,
		 shipping_name, shipping_email, shipping_phone, shipping_address,
		 shipping_city, shipping_state, shipping_pincode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING created_at`
	err := t.tx.QueryRowxContext(ctx, query,
		o.ID, o.BuyerID, o.Total, string(o.Status), o.PaymentMethod,
		nullable(sh.FullName), nullable(sh.Email), nullable(sh.Phone), nullable(sh.Address),
		nullable(sh.City), nullable(sh.State), nullable(sh.Pincode),
	).Scan(&o.CreatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (t *pgTx) AddItem(ctx context.Context, item *models.OrderItem) error {
	query := `INSERT INTO order_items (order_id, product_id, title, qty, price)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := t.tx.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.Title, item.Qty, item.Price,
	).Scan(&item.ID)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	if err := t.tx.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, translate(err)
	}
	o := row.toModel()
	return &o, nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, string(status))
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
