// Package events carries order lifecycle notifications to Kafka and to the
// live order feed.
package events

import (
	"context"
	"time"

	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	OrderCreatedTopic       = "order.created"
	OrderStatusChangedTopic = "order.status_changed"
)

type OrderCreatedEvent struct {
	OrderID       string             `json:"order_id"`
	BuyerID       string             `json:"buyer_id"`
	Total         decimal.Decimal    `json:"total"`
	ItemsCount    int                `json:"items_count"`
	Status        models.OrderStatus `json:"status"`
	PaymentMethod string             `json:"payment_method"`
	CreatedAt     time.Time          `json:"created_at"`
	EventTime     time.Time          `json:"event_time"`
}

type OrderStatusChangedEvent struct {
	OrderID   string             `json:"order_id"`
	BuyerID   string             `json:"buyer_id"`
	From      models.OrderStatus `json:"from"`
	To        models.OrderStatus `json:"to"`
	EventTime time.Time          `json:"event_time"`
}

// Publisher delivers order events after the owning transaction committed.
// Callers treat failures as non-fatal.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error
	Close() error
}

// Broadcaster is the part of the websocket hub used here. buyerID lets
// dashboards that follow a single buyer filter the feed.
type Broadcaster interface {
	BroadcastOrderEvent(eventType, orderID, buyerID string, payload interface{}, source string)
}

const feedSource = "agrimarket"

// Noop discards events.
type Noop struct{}

func (Noop) PublishOrderCreated(context.Context, OrderCreatedEvent) error             { return nil }
func (Noop) PublishOrderStatusChanged(context.Context, OrderStatusChangedEvent) error { return nil }
func (Noop) Close() error                                                              { return nil }

// HubPublisher pushes events straight to connected dashboards. It is used
// when no broker is configured.
type HubPublisher struct {
	hub Broadcaster
	now func() time.Time
}

func NewHubPublisher(hub Broadcaster) *HubPublisher {
	return &HubPublisher{hub: hub, now: time.Now}
}

func (p *HubPublisher) PublishOrderCreated(ctx context.Context, event OrderCreatedEvent) error {
	event.EventTime = p.now().UTC()
	p.hub.BroadcastOrderEvent(OrderCreatedTopic, event.OrderID, event.BuyerID, event, feedSource)
	return nil
}

func (p *HubPublisher) PublishOrderStatusChanged(ctx context.Context, event OrderStatusChangedEvent) error {
	event.EventTime = p.now().UTC()
	p.hub.BroadcastOrderEvent(OrderStatusChangedTopic, event.OrderID, event.BuyerID, event, feedSource)
	return nil
}

func (p *HubPublisher) Close() error { return nil }
