// Package checkout turns carts into orders. Prices always come from the
// catalog at the moment of the call; a client-supplied price is never read.
package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/events"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const GuestBuyer = "guest"

type LineQuote struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Quote struct {
	Items []LineQuote     `json:"items"`
	Total decimal.Decimal `json:"total"`
}

type Request struct {
	BuyerID       string
	Items         []models.CartLine
	Shipping      *models.Shipping
	PaymentMethod string
}

type ShippingSummary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

type Receipt struct {
	ID         string             `json:"id"`
	Total      decimal.Decimal    `json:"total"`
	Status     models.OrderStatus `json:"status"`
	ItemsCount int                `json:"items_count"`
	Shipping   ShippingSummary    `json:"shipping"`
}

type Engine struct {
	store     store.Store
	publisher events.Publisher
	tracer    trace.Tracer
	logger    *logrus.Logger
	// publishTimeout bounds the post-commit event publish.
	publishTimeout time.Duration
}

func NewEngine(st store.Store, publisher events.Publisher, logger *logrus.Logger) *Engine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine{
		store:          st,
		publisher:      publisher,
		tracer:         otel.Tracer("github.com/jogardn/agrimarket/internal/checkout"),
		logger:         logger,
		publishTimeout: 5 * time.Second,
	}
}

// ValidateCart prices a cart against current stock without changing
// anything. An empty cart yields an empty quote.
func (e *Engine) ValidateCart(ctx context.Context, lines []models.CartLine) (*Quote, error) {
	ctx, span := e.tracer.Start(ctx, "checkout.ValidateCart")
	defer span.End()

	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	products, err := e.store.GetProducts(ctx, productIDs(merged))
	if err != nil {
		e.logger.WithError(err).Error("Failed to load cart products")
		return nil, apperr.Persistence(err)
	}

	quote := &Quote{Items: make([]LineQuote, 0, len(merged)), Total: decimal.Zero}
	for _, line := range merged {
		p, ok := products[line.ProductID]
		if !ok {
			return nil, apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", line.ProductID)
		}
		if line.Qty > p.Stock {
			return nil, apperr.Validation(apperr.CodeInsufficientStock, "not enough stock for %s", p.Title)
		}
		lq := LineQuote{
			ProductID: p.ID,
			Title:     p.Title,
			Qty:       line.Qty,
			Price:     p.Price,
			LineTotal: lineTotal(p.Price, line.Qty),
		}
		quote.Items = append(quote.Items, lq)
		quote.Total = quote.Total.Add(lq.LineTotal)
	}
	quote.Total = quote.Total.Round(2)
	return quote, nil
}

// Checkout places an order. Stock checks, decrements, the order row and its
// items are written in one transaction; any failure leaves no trace.
func (e *Engine) Checkout(ctx context.Context, req Request) (*Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "checkout.Checkout")
	defer span.End()

	receipt, order, err := e.checkout(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("checkout.error_code", apperr.From(err).Code))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", receipt.ID),
		attribute.Int("order.items_count", receipt.ItemsCount),
	)

	e.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"buyer_id":    order.BuyerID,
		"total":       order.Total.StringFixed(2),
		"items_count": receipt.ItemsCount,
	}).Info("Order placed")

	e.publishCreated(ctx, order, receipt.ItemsCount)
	return receipt, nil
}

func (e *Engine) checkout(ctx context.Context, req Request) (*Receipt, *models.Order, error) {
	if len(req.Items) == 0 {
		return nil, nil, apperr.Validation(apperr.CodeEmptyCart, "cart is empty")
	}
	if req.Shipping == nil || strings.TrimSpace(req.Shipping.FullName) == "" {
		return nil, nil, apperr.Validation(apperr.CodeMissingShipping, "shipping full name is required")
	}
	payment := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if payment == "" {
		payment = models.PaymentCOD
	}
	if !models.ValidPaymentMethod(payment) {
		return nil, nil, apperr.Validation(apperr.CodeInvalidPayment, "unsupported payment method %q", req.PaymentMethod)
	}
	merged, err := mergeLines(req.Items)
	if err != nil {
		return nil, nil, err
	}
	buyer := strings.TrimSpace(req.BuyerID)
	if buyer == "" {
		buyer = GuestBuyer
	}
	shipping := *req.Shipping
	shipping.FullName = strings.TrimSpace(shipping.FullName)

	order := &models.Order{
		BuyerID:       buyer,
		Status:        models.StatusPlaced,
		PaymentMethod: payment,
		Shipping:      &shipping,
	}

	err = e.store.InTx(ctx, func(tx store.Tx) error {
		products, err := tx.LockProducts(ctx, productIDs(merged))
		if err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(merged))
		total := decimal.Zero
		for _, line := range merged {
			p, ok := products[line.ProductID]
			if !ok {
				return apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", line.ProductID)
			}
			if line.Qty > p.Stock {
				return outOfStock(p)
			}
			items = append(items, models.OrderItem{
				ProductID: p.ID,
				Title:     p.Title,
				Qty:       line.Qty,
				Price:     p.Price,
			})
			total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(line.Qty))))
		}

		for _, line := range merged {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return outOfStock(products[line.ProductID])
				}
				return err
			}
		}

		order.Total = total.Round(2)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.AddItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		order.Items = items
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, nil, ae
		}
		e.logger.WithError(err).WithField("buyer_id", buyer).Error("Checkout transaction failed")
		return nil, nil, apperr.Persistence(err)
	}

	return &Receipt{
		ID:         order.ID,
		Total:      order.Total,
		Status:     order.Status,
		ItemsCount: len(order.Items),
		Shipping: ShippingSummary{
			Name:    shipping.FullName,
			Address: shipping.Address,
			City:    shipping.City,
			State:   shipping.State,
			Pincode: shipping.Pincode,
		},
	}, order, nil
}

func (e *Engine) publishCreated(ctx context.Context, order *models.Order, itemsCount int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.publishTimeout)
	defer cancel()

	err := e.publisher.PublishOrderCreated(ctx, events.OrderCreatedEvent{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		Total:         order.Total,
		ItemsCount:    itemsCount,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		CreatedAt:     order.CreatedAt,
	})
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to publish order created event")
	}
}

func outOfStock(p models.Product) error {
	return apperr.Conflict(apperr.CodeOutOfStock, "out of stock: %s", p.Title)
}

func lineTotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}
