// Package client is a Go client for the marketplace HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d (%s): %s", e.Status, e.Code, e.Message)
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID            string             `json:"id"`
	BuyerID       string             `json:"buyer_id"`
	Total         decimal.Decimal    `json:"total"`
	Status        models.OrderStatus `json:"status"`
	PaymentMethod string             `json:"payment_method"`
	CreatedAt     time.Time          `json:"created_at"`
	Items         []OrderItem        `json:"items"`
}

type StatusChange struct {
	OrderID  string             `json:"order_id"`
	Status   models.OrderStatus `json:"status"`
	Previous models.OrderStatus `json:"previous_status"`
	Changed  bool               `json:"changed"`
}

type Receipt struct {
	ID         string             `json:"id"`
	Total      decimal.Decimal    `json:"total"`
	Status     models.OrderStatus `json:"status"`
	ItemsCount int                `json:"items_count"`
}

type CheckoutRequest struct {
	BuyerID       string            `json:"buyer_id,omitempty"`
	Items         []models.CartLine `json:"items"`
	Shipping      *models.Shipping  `json:"shipping"`
	PaymentMethod string            `json:"payment_method,omitempty"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListOrders(ctx context.Context, buyerID string) ([]Order, error) {
	path := "/api/orders"
	if buyerID != "" {
		path += "?buyer_id=" + url.QueryEscape(buyerID)
	}
	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	c.logger.WithField("count", len(resp.Orders)).Debug("Retrieved orders")
	return resp.Orders, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *Client) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*StatusChange, error) {
	body := map[string]string{"status": string(status)}
	var change StatusChange
	if err := c.do(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(orderID)+"/status", body, &change); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   change.Status,
		"changed":  change.Changed,
	}).Info("Order status updated")
	return &change, nil
}

func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	var resp struct {
		Order Receipt `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/checkout", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
