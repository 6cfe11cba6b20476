package checkout

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/events"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/internal/store/memory"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events.Noop
	mu      sync.Mutex
	created []events.OrderCreatedEvent
	err     error
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e events.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newFixture(t *testing.T) (*Engine, *memory.Store, *recordingPublisher) {
	t.Helper()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	st := memory.New(memory.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return start.Add(time.Duration(tick) * time.Second)
	}))
	pub := &recordingPublisher{}
	return NewEngine(st, pub, testLogger()), st, pub
}

func addProduct(t *testing.T, st store.Catalog, id, title, price string, stock int) {
	t.Helper()
	require.NoError(t, st.CreateProduct(context.Background(), &models.Product{
		ID:    id,
		Title: title,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}))
}

func stockOf(t *testing.T, st store.Catalog, id string) int {
	t.Helper()
	p, err := st.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func orderCount(t *testing.T, st store.Ledger) int {
	t.Helper()
	orders, err := st.ListOrders(context.Background(), "")
	require.NoError(t, err)
	return len(orders)
}

func shipping() *models.Shipping {
	return &models.Shipping{
		FullName: "A B",
		Email:    "ab@example.com",
		Phone:    "9876543210",
		Address:  "12 Farm Road",
		City:     "Nashik",
		State:    "Maharashtra",
		Pincode:  "422001",
	}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "expected *apperr.Error, got %v", err)
	return ae.Code
}

func TestCheckoutPlacesOrder(t *testing.T) {
	engine, st, pub := newFixture(t)
	addProduct(t, st, "p1", "Urea Fertilizer 50kg", "2200.00", 120)
	ctx := context.Background()

	receipt, err := engine.Checkout(ctx, Request{
		BuyerID:  "u1",
		Items:    []models.CartLine{{ProductID: "p1", Qty: 2}},
		Shipping: shipping(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, "4400.00", receipt.Total.StringFixed(2))
	assert.Equal(t, models.StatusPlaced, receipt.Status)
	assert.Equal(t, 1, receipt.ItemsCount)
	assert.Equal(t, ShippingSummary{Name: "A B", Address: "12 Farm Road", City: "Nashik", State: "Maharashtra", Pincode: "422001"}, receipt.Shipping)
	assert.Equal(t, 118, stockOf(t, st, "p1"))

	order, err := st.GetOrder(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", order.BuyerID)
	assert.Equal(t, models.PaymentCOD, order.PaymentMethod)
	assert.Equal(t, "ab@example.com", order.Shipping.Email)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Urea Fertilizer 50kg", order.Items[0].Title)
	assert.Equal(t, "2200", order.Items[0].Price.String())

	require.Len(t, pub.created, 1)
	assert.Equal(t, receipt.ID, pub.created[0].OrderID)
	assert.Equal(t, 1, pub.created[0].ItemsCount)
}

func TestCheckoutTotalMatchesItems(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)
	addProduct(t, st, "p2", "Compost", "600.00", 10)
	addProduct(t, st, "p3", "Seed Tray", "33.33", 10)

	receipt, err := engine.Checkout(context.Background(), Request{
		BuyerID: "u1",
		Items: []models.CartLine{
			{ProductID: "p3", Qty: 3},
			{ProductID: "p1", Qty: 1},
			{ProductID: "p2", Qty: 2},
			{ProductID: "p3", Qty: 1},
		},
		Shipping:      shipping(),
		PaymentMethod: "UPI",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.ItemsCount, "duplicate lines merge")

	order, err := st.GetOrder(context.Background(), receipt.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, it := range order.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	assert.True(t, order.Total.Equal(sum.Round(2)), "total %s != items %s", order.Total, sum)
	assert.Equal(t, "3533.32", order.Total.StringFixed(2))
	assert.Equal(t, "p3", order.Items[0].ProductID)
	assert.Equal(t, 4, order.Items[0].Qty)
	assert.Equal(t, models.PaymentUPI, order.PaymentMethod)
	assert.Equal(t, 6, stockOf(t, st, "p3"))
}

func TestCheckoutOutOfStockLeavesNoTrace(t *testing.T) {
	engine, st, pub := newFixture(t)
	addProduct(t, st, "p1", "Urea Fertilizer 50kg", "2200.00", 1)

	_, err := engine.Checkout(context.Background(), Request{
		BuyerID:  "u1",
		Items:    []models.CartLine{{ProductID: "p1", Qty: 2}},
		Shipping: shipping(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeOutOfStock, codeOf(t, err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Urea Fertilizer 50kg")

	assert.Equal(t, 1, stockOf(t, st, "p1"))
	assert.Zero(t, orderCount(t, st))
	assert.Empty(t, pub.created)
}

func TestCheckoutAllOrNothingAcrossLines(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)
	addProduct(t, st, "p2", "Compost", "600.00", 1)

	_, err := engine.Checkout(context.Background(), Request{
		BuyerID:  "u1",
		Items:    []models.CartLine{{ProductID: "p1", Qty: 5}, {ProductID: "p2", Qty: 3}},
		Shipping: shipping(),
	})
	assert.Equal(t, apperr.CodeOutOfStock, codeOf(t, err))
	assert.Equal(t, 10, stockOf(t, st, "p1"))
	assert.Equal(t, 1, stockOf(t, st, "p2"))
	assert.Zero(t, orderCount(t, st))
}

func TestCheckoutValidation(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)
	line := []models.CartLine{{ProductID: "p1", Qty: 1}}

	cases := []struct {
		name string
		req  Request
		code string
	}{
		{"empty cart", Request{Shipping: shipping()}, apperr.CodeEmptyCart},
		{"no shipping", Request{Items: line}, apperr.CodeMissingShipping},
		{"blank full name", Request{Items: line, Shipping: &models.Shipping{FullName: "  ", City: "Pune"}}, apperr.CodeMissingShipping},
		{"bad payment", Request{Items: line, Shipping: shipping(), PaymentMethod: "barter"}, apperr.CodeInvalidPayment},
		{"zero qty", Request{Items: []models.CartLine{{ProductID: "p1"}}, Shipping: shipping()}, apperr.CodeInvalidRequest},
		{"negative qty", Request{Items: []models.CartLine{{ProductID: "p1", Qty: -1}}, Shipping: shipping()}, apperr.CodeInvalidRequest},
		{"missing product id", Request{Items: []models.CartLine{{Qty: 1}}, Shipping: shipping()}, apperr.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Checkout(context.Background(), tc.req)
			assert.Equal(t, tc.code, codeOf(t, err))
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 10, stockOf(t, st, "p1"))
	assert.Zero(t, orderCount(t, st))
}

func TestCheckoutUnknownProduct(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)

	_, err := engine.Checkout(context.Background(), Request{
		Items:    []models.CartLine{{ProductID: "p1", Qty: 1}, {ProductID: "ghost", Qty: 1}},
		Shipping: shipping(),
	})
	assert.Equal(t, apperr.CodeProductNotFound, codeOf(t, err))
	assert.Equal(t, 10, stockOf(t, st, "p1"))
}

func TestCheckoutDefaultsToGuest(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)

	receipt, err := engine.Checkout(context.Background(), Request{
		Items:    []models.CartLine{{ProductID: "p1", Qty: 1}},
		Shipping: shipping(),
	})
	require.NoError(t, err)
	order, err := st.GetOrder(context.Background(), receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, GuestBuyer, order.BuyerID)
}

func TestConcurrentCheckoutsCannotOversell(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 5)

	const buyers = 8
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = engine.Checkout(context.Background(), Request{
				BuyerID:  "u1",
				Items:    []models.CartLine{{ProductID: "p1", Qty: 5}},
				Shipping: shipping(),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, stockOf(t, st, "p1"))
	assert.Equal(t, 1, orderCount(t, st))
}

func TestOrderItemsKeepPriceSnapshot(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 10)
	ctx := context.Background()

	receipt, err := engine.Checkout(ctx, Request{
		BuyerID:  "u1",
		Items:    []models.CartLine{{ProductID: "p1", Qty: 1}},
		Shipping: shipping(),
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdatePrice(ctx, "p1", decimal.RequireFromString("2500.00")))

	order, err := st.GetOrder(ctx, receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, "2200", order.Items[0].Price.String())
	assert.Equal(t, "2200", order.Total.String())
}

func TestPublishFailureDoesNotFailCheckout(t *testing.T) {
	engine, st, pub := newFixture(t)
	pub.err = errors.New("broker down")
	addProduct(t, st, "p1", "Urea", "2200.00", 10)

	_, err := engine.Checkout(context.Background(), Request{
		Items:    []models.CartLine{{ProductID: "p1", Qty: 1}},
		Shipping: shipping(),
	})
	require.NoError(t, err)
	assert.Equal(t, 9, stockOf(t, st, "p1"))
}

// failingStore breaks AddItem so the transaction fails after stock was
// already decremented inside it.
type failingStore struct {
	*memory.Store
}

type failingTx struct {
	store.Tx
}

func (f failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{tx})
	})
}

func (failingTx) AddItem(context.Context, *models.OrderItem) error {
	return errors.New("connection reset by peer")
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	_, st, pub := newFixture(t)
	engine := NewEngine(failingStore{st}, pub, testLogger())
	addProduct(t, st, "p1", "Urea", "2200.00", 10)

	_, err := engine.Checkout(context.Background(), Request{
		Items:    []models.CartLine{{ProductID: "p1", Qty: 3}},
		Shipping: shipping(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Equal(t, "internal error", apperr.From(err).Message)
	assert.NotContains(t, apperr.From(err).Message, "connection reset")

	assert.Equal(t, 10, stockOf(t, st, "p1"))
	assert.Zero(t, orderCount(t, st))
	assert.Empty(t, pub.created)
}

func TestValidateCart(t *testing.T) {
	engine, st, _ := newFixture(t)
	addProduct(t, st, "p1", "Urea Fertilizer 50kg", "2200.00", 120)
	addProduct(t, st, "p2", "Seed Tray", "33.335", 10)
	ctx := context.Background()

	quote, err := engine.ValidateCart(ctx, []models.CartLine{{ProductID: "p1", Qty: 2}, {ProductID: "p2", Qty: 1}})
	require.NoError(t, err)
	require.Len(t, quote.Items, 2)
	assert.Equal(t, "4400.00", quote.Items[0].LineTotal.StringFixed(2))
	assert.Equal(t, "33.34", quote.Items[1].LineTotal.StringFixed(2))
	assert.Equal(t, "4433.34", quote.Total.StringFixed(2))
	assert.Equal(t, 120, stockOf(t, st, "p1"), "validation never mutates stock")

	_, err = engine.ValidateCart(ctx, []models.CartLine{{ProductID: "p1", Qty: 121}})
	assert.Equal(t, apperr.CodeInsufficientStock, codeOf(t, err))
	assert.Contains(t, err.Error(), "Urea Fertilizer 50kg")
	assert.Equal(t, 120, stockOf(t, st, "p1"))

	_, err = engine.ValidateCart(ctx, []models.CartLine{{ProductID: "nope", Qty: 1}})
	assert.Equal(t, apperr.CodeProductNotFound, codeOf(t, err))

	quote, err = engine.ValidateCart(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, quote.Items)
	assert.True(t, quote.Total.IsZero())
}

func TestMergeLines(t *testing.T) {
	merged, err := mergeLines([]models.CartLine{
		{ProductID: "a", Qty: 1},
		{ProductID: " b ", Qty: 2},
		{ProductID: "a", Qty: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: "a", Qty: 4}, {ProductID: "b", Qty: 2}}, merged)
}

func TestMergeLinesRejectsQtyOverflow(t *testing.T) {
	_, err := mergeLines([]models.CartLine{
		{ProductID: "a", Qty: math.MaxInt},
		{ProductID: "a", Qty: 1},
	})
	assert.Equal(t, apperr.CodeInvalidRequest, codeOf(t, err))

	merged, err := mergeLines([]models.CartLine{
		{ProductID: "a", Qty: math.MaxInt - 1},
		{ProductID: "a", Qty: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, merged[0].Qty)
}

func TestCheckoutDuplicateLinesAtIntLimit(t *testing.T) {
	engine, st, pub := newFixture(t)
	addProduct(t, st, "p1", "Urea", "2200.00", 5)
	ctx := context.Background()
	huge := []models.CartLine{{ProductID: "p1", Qty: math.MaxInt}, {ProductID: "p1", Qty: math.MaxInt}}

	_, err := engine.ValidateCart(ctx, huge)
	assert.Equal(t, apperr.CodeInvalidRequest, codeOf(t, err))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = engine.Checkout(ctx, Request{BuyerID: "u1", Items: huge, Shipping: shipping()})
	assert.Equal(t, apperr.CodeInvalidRequest, codeOf(t, err))

	assert.Equal(t, 5, stockOf(t, st, "p1"))
	assert.Zero(t, orderCount(t, st))
	assert.Empty(t, pub.created)
}
