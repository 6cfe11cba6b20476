package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPlaced    OrderStatus = "Placed"
	StatusOrdered   OrderStatus = "Ordered"
	StatusShipped   OrderStatus = "Shipped"
	StatusDelivered OrderStatus = "Delivered"
	StatusCancelled OrderStatus = "Cancelled"
)

var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPlaced:  {StatusShipped, StatusCancelled},
	StatusOrdered: {StatusShipped, StatusCancelled},
	StatusShipped: {StatusDelivered},
}

// ParseOrderStatus matches s case-insensitively against the known statuses
// and returns the canonical spelling.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	s = strings.TrimSpace(s)
	for _, st := range []OrderStatus{StatusPlaced, StatusOrdered, StatusShipped, StatusDelivered, StatusCancelled} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

type Order struct {
	ID            string          `json:"id"`
	BuyerID       string          `json:"buyer_id"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	Shipping      *Shipping       `json:"shipping"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []OrderItem     `json:"items"`
}

// OrderItem freezes the product title and unit price at purchase time.
// ProductID is informational only.
type OrderItem struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   string          `json:"-" db:"order_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Title     string          `json:"title" db:"title"`
	Qty       int             `json:"qty" db:"qty"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// LineTotal is price x qty rounded to cents.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty))).Round(2)
}

// Shipping is denormalised onto the order row at checkout.
type Shipping struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

const (
	PaymentCOD  = "cod"
	PaymentUPI  = "upi"
	PaymentCard = "card"
)

func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentCOD, PaymentUPI, PaymentCard:
		return true
	}
	return false
}
