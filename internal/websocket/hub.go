// Package websocket serves the live order feed used by order-tracking
// dashboards. A dashboard connecting with ?buyer_id= only receives updates
// for that buyer's orders.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	updateBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// OrderUpdate is one frame of the feed. Payload is the order event as
// published, either order.created or order.status_changed.
type OrderUpdate struct {
	Type      string      `json:"type"`
	OrderID   string      `json:"order_id"`
	BuyerID   string      `json:"buyer_id,omitempty"`
	Payload   interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
}

type subscriber struct {
	conn    *websocket.Conn
	updates chan OrderUpdate
	buyerID string
	hub     *Hub
}

func (s *subscriber) follows(u OrderUpdate) bool {
	return s.buyerID == "" || s.buyerID == u.BuyerID
}

// Hub fans order updates out to every connected dashboard.
type Hub struct {
	subscribers map[*subscriber]struct{}
	updates     chan OrderUpdate
	join        chan *subscriber
	leave       chan *subscriber
	done        chan struct{}
	mu          sync.RWMutex
	now         func() time.Time
	logger      *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		updates:     make(chan OrderUpdate, updateBuffer),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		done:        make(chan struct{}),
		now:         time.Now,
		logger:      logger,
	}
}

// Run dispatches updates until ctx is cancelled, then disconnects every
// dashboard.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subscribers {
				h.drop(s)
			}
			h.mu.Unlock()
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.WithFields(logrus.Fields{
				"subscribers": count,
				"buyer_id":    s.buyerID,
			}).Info("Order feed subscriber connected")

		case s := <-h.leave:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				h.drop(s)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.WithField("subscribers", count).Info("Order feed subscriber disconnected")

		case u := <-h.updates:
			h.mu.Lock()
			for s := range h.subscribers {
				if !s.follows(u) {
					continue
				}
				select {
				case s.updates <- u:
				default:
					h.logger.WithField("order_id", u.OrderID).Warn("Dropping slow order feed subscriber")
					h.drop(s)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(s *subscriber) {
	delete(h.subscribers, s)
	close(s.updates)
}

// BroadcastOrderEvent queues an update about orderID for every dashboard
// following all orders or following buyerID. It never blocks.
func (h *Hub) BroadcastOrderEvent(eventType, orderID, buyerID string, payload interface{}, source string) {
	u := OrderUpdate{
		Type:      eventType,
		OrderID:   orderID,
		BuyerID:   buyerID,
		Payload:   payload,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Source:    source,
	}

	select {
	case h.updates <- u:
	default:
		h.logger.WithFields(logrus.Fields{
			"type":     eventType,
			"order_id": orderID,
		}).Warn("Order feed backlog full, dropping update")
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade order feed connection")
		return
	}

	s := &subscriber{
		conn:    conn,
		updates: make(chan OrderUpdate, updateBuffer),
		buyerID: strings.TrimSpace(r.URL.Query().Get("buyer_id")),
		hub:     h,
	}

	select {
	case h.join <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.deliver()
	go s.awaitClose()
}

// Subscribers reports how many dashboards are connected.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// awaitClose services control frames until the dashboard goes away. The
// feed is one-way so data frames are discarded.
func (s *subscriber) awaitClose() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.WithError(err).Error("Order feed read failed")
			}
			return
		}
	}
}

func (s *subscriber) deliver() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case u, ok := <-s.updates:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frame, err := json.Marshal(u)
			if err != nil {
				s.hub.logger.WithError(err).WithField("order_id", u.OrderID).Error("Failed to encode order update")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
