package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/events"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/sirupsen/logrus"
)

type StatusChange struct {
	OrderID  string             `json:"order_id"`
	Status   models.OrderStatus `json:"status"`
	Previous models.OrderStatus `json:"previous_status"`
	Changed  bool               `json:"changed"`
}

type StatusService struct {
	store     store.Store
	publisher events.Publisher
	logger    *logrus.Logger
}

func NewStatusService(st store.Store, publisher events.Publisher, logger *logrus.Logger) *StatusService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &StatusService{store: st, publisher: publisher, logger: logger}
}

// UpdateStatus moves an order along the lifecycle. Setting the current
// status again succeeds without writing.
func (s *StatusService) UpdateStatus(ctx context.Context, orderID, status string) (*StatusChange, error) {
	next, ok := models.ParseOrderStatus(status)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidStatus, "unknown order status %q", status)
	}

	var change StatusChange
	var buyerID string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", orderID)
			}
			return err
		}
		buyerID = o.BuyerID
		change = StatusChange{OrderID: o.ID, Status: next, Previous: o.Status}
		if o.Status == next {
			return nil
		}
		if o.Status.Terminal() {
			return apperr.Conflict(apperr.CodeInvalidTransition, "order %s is final (%s)", o.ID, o.Status)
		}
		if !o.Status.CanTransitionTo(next) {
			return apperr.Conflict(apperr.CodeInvalidTransition, "cannot move order from %s to %s", o.Status, next)
		}
		change.Changed = true
		return tx.UpdateStatus(ctx, o.ID, next)
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to update order status")
		return nil, apperr.Persistence(err)
	}

	if change.Changed {
		s.logger.WithFields(logrus.Fields{
			"order_id": change.OrderID,
			"from":     change.Previous,
			"to":       change.Status,
		}).Info("Order status updated")
		s.publish(ctx, buyerID, change)
	}
	return &change, nil
}

func (s *StatusService) publish(ctx context.Context, buyerID string, change StatusChange) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := s.publisher.PublishOrderStatusChanged(ctx, events.OrderStatusChangedEvent{
		OrderID: change.OrderID,
		BuyerID: buyerID,
		From:    change.Previous,
		To:      change.Status,
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", change.OrderID).Warn("Failed to publish status change event")
	}
}
