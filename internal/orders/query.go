// Package orders is the read side of the order ledger plus the status
// lifecycle.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ItemView struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// ShippingView has a null for every field the order never recorded.
type ShippingView struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	City    *string `json:"city"`
	State   *string `json:"state"`
	Pincode *string `json:"pincode"`
}

type OrderView struct {
	ID            string             `json:"id"`
	BuyerID       string             `json:"buyer_id"`
	Total         decimal.Decimal    `json:"total"`
	Status        models.OrderStatus `json:"status"`
	PaymentMethod string             `json:"payment_method"`
	CreatedAt     time.Time          `json:"created_at"`
	Items         []ItemView         `json:"items"`
	Shipping      ShippingView       `json:"shipping"`
}

type QueryService struct {
	ledger store.Ledger
	logger *logrus.Logger
}

func NewQueryService(ledger store.Ledger, logger *logrus.Logger) *QueryService {
	return &QueryService{ledger: ledger, logger: logger}
}

// GetOrdersForBuyer lists a buyer's orders newest first. An empty buyerID
// lists every order.
func (q *QueryService) GetOrdersForBuyer(ctx context.Context, buyerID string) ([]OrderView, error) {
	buyerID = strings.TrimSpace(buyerID)
	list, err := q.ledger.ListOrders(ctx, buyerID)
	if err != nil {
		q.logger.WithError(err).WithField("buyer_id", buyerID).Error("Failed to list orders")
		return nil, apperr.Persistence(err)
	}
	views := make([]OrderView, 0, len(list))
	for _, o := range list {
		views = append(views, NewOrderView(o))
	}
	return views, nil
}

func (q *QueryService) GetOrder(ctx context.Context, id string) (*OrderView, error) {
	o, err := q.ledger.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
		}
		q.logger.WithError(err).WithField("order_id", id).Error("Failed to load order")
		return nil, apperr.Persistence(err)
	}
	view := NewOrderView(*o)
	return &view, nil
}

func NewOrderView(o models.Order) OrderView {
	view := OrderView{
		ID:            o.ID,
		BuyerID:       o.BuyerID,
		Total:         o.Total,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
		Items:         make([]ItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		view.Items = append(view.Items, ItemView{
			ProductID: it.ProductID,
			Title:     it.Title,
			Qty:       it.Qty,
			Price:     it.Price,
			LineTotal: it.LineTotal(),
		})
	}
	if sh := o.Shipping; sh != nil {
		view.Shipping = ShippingView{
			Name:    optional(sh.FullName),
			Email:   optional(sh.Email),
			Phone:   optional(sh.Phone),
			Address: optional(sh.Address),
			City:    optional(sh.City),
			State:   optional(sh.State),
			Pincode: optional(sh.Pincode),
		}
	}
	return view
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
