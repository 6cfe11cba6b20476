package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/jogardn/agrimarket/internal/catalog"
	"github.com/jogardn/agrimarket/internal/checkout"
	"github.com/jogardn/agrimarket/internal/orders"
	"github.com/jogardn/agrimarket/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testServer struct {
	router http.Handler
	store  *memory.Store
	auth   *auth.Authenticator
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	st := memory.New()
	doc, err := catalog.LoadSeed("")
	require.NoError(t, err)
	_, err = catalog.Seed(context.Background(), st, doc, logger)
	require.NoError(t, err)

	authn := auth.New(secret, logger)
	router := NewRouter(Deps{
		Catalog:  catalog.NewService(st, nil, logger),
		Checkout: checkout.NewEngine(st, nil, logger),
		Orders:   orders.NewQueryService(st, logger),
		Status:   orders.NewStatusService(st, nil, logger),
		Auth:     authn,
		Store:    st,
		Logger:   logger,
	})
	return &testServer{router: router, store: st, auth: authn}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := s.auth.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rr, &body)
	assert.NotEmpty(t, body.Error)
	return body.Code
}

func checkoutBody(items ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"buyer_id": "farmer-1",
		"items":    items,
		"shipping": map[string]string{
			"fullName": "Ravi Patil",
			"phone":    "9876543210",
			"address":  "Plot 4, Market Yard",
			"city":     "Nashik",
			"state":    "MH",
			"pincode":  "422001",
		},
	}
}

func line(id string, qty int) map[string]interface{} {
	return map[string]interface{}{"product_id": id, "qty": qty}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, "")
	rr := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "event_publisher")
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page catalog.Page
	decode(t, rr, &page)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, catalog.DefaultPerPage, page.PerPage)
	assert.Len(t, page.Products, 2)

	rr = s.do(t, http.MethodGet, "/api/products?q=UREA&per_page=500", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &page)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, catalog.MaxPerPage, page.PerPage)

	rr = s.do(t, http.MethodGet, "/api/products?q=tractor", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"products":[]`)
}

func TestListProductsRejectsBadPaging(t *testing.T) {
	s := newTestServer(t, "")
	huge := "page=" + strconv.Itoa(math.MaxInt/50) + "&per_page=100"
	for _, q := range []string{"page=abc", "page=0", "per_page=-1", "per_page=x", huge, "page=99999999999999999999"} {
		rr := s.do(t, http.MethodGet, "/api/products?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		assert.Equal(t, "invalid_request", errorCode(t, rr), q)
	}
}

func TestGetProduct(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodGet, "/api/products/prod-demo-urea", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		ID                       string                   `json:"id"`
		Price                    decimal.Decimal          `json:"price"`
		Reviews                  []map[string]interface{} `json:"reviews"`
		FrequentlyBoughtTogether []catalog.RelatedProduct `json:"frequently_bought_together"`
	}
	decode(t, rr, &detail)
	assert.Equal(t, "prod-demo-urea", detail.ID)
	assert.True(t, detail.Price.Equal(decimal.NewFromInt(2200)))
	require.Len(t, detail.FrequentlyBoughtTogether, 1)
	assert.Equal(t, "prod-demo-compost", detail.FrequentlyBoughtTogether[0].ID)

	rr = s.do(t, http.MethodGet, "/api/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "product_not_found", errorCode(t, rr))
}

func TestAutosuggest(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodGet, "/api/search-autosuggest?q=ur", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Suggestions []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"suggestions"`
	}
	decode(t, rr, &body)
	require.Len(t, body.Suggestions, 1)
	assert.Equal(t, "prod-demo-urea", body.Suggestions[0].ID)

	rr = s.do(t, http.MethodGet, "/api/search-autosuggest?q=%20%20", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"suggestions":[]}`, rr.Body.String())
}

func TestValidateCart(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodPost, "/api/cart/validate", "", map[string]interface{}{
		"items": []map[string]interface{}{line("prod-demo-urea", 2), line("prod-demo-compost", 1)},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var quote checkout.Quote
	decode(t, rr, &quote)
	assert.Len(t, quote.Items, 2)
	assert.True(t, quote.Total.Equal(decimal.NewFromInt(5000)), quote.Total.String())

	rr = s.do(t, http.MethodPost, "/api/cart/validate", "", map[string]interface{}{
		"items": []map[string]interface{}{line("prod-demo-compost", 61)},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "insufficient_stock", errorCode(t, rr))

	rr = s.do(t, http.MethodPost, "/api/cart/validate", "", map[string]interface{}{
		"items": []map[string]interface{}{line("ghost", 1)},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "product_not_found", errorCode(t, rr))
}

func TestCheckoutIgnoresClientPrice(t *testing.T) {
	s := newTestServer(t, "")

	item := line("prod-demo-urea", 2)
	item["price"] = 1
	rr := s.do(t, http.MethodPost, "/api/checkout", "", checkoutBody(item))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var body struct {
		Order checkout.Receipt `json:"order"`
	}
	decode(t, rr, &body)
	assert.NotEmpty(t, body.Order.ID)
	assert.True(t, body.Order.Total.Equal(decimal.NewFromInt(4400)), body.Order.Total.String())
	assert.Equal(t, "Placed", string(body.Order.Status))
	assert.Equal(t, 1, body.Order.ItemsCount)
	assert.Equal(t, "Ravi Patil", body.Order.Shipping.Name)

	p, err := s.store.GetProduct(context.Background(), "prod-demo-urea")
	require.NoError(t, err)
	assert.Equal(t, 118, p.Stock)
}

func TestCheckoutErrors(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"empty body", "", http.StatusBadRequest, "invalid_request"},
		{"malformed json", "{", http.StatusBadRequest, "invalid_request"},
		{"empty cart", checkoutBody(), http.StatusBadRequest, "empty_cart"},
		{"missing shipping", map[string]interface{}{"items": []interface{}{line("prod-demo-urea", 1)}}, http.StatusBadRequest, "missing_shipping_info"},
		{"out of stock", checkoutBody(line("prod-demo-compost", 61)), http.StatusConflict, "out_of_stock"},
		{"unknown product", checkoutBody(line("ghost", 1)), http.StatusNotFound, "product_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/checkout", "", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}

	p, err := s.store.GetProduct(context.Background(), "prod-demo-compost")
	require.NoError(t, err)
	assert.Equal(t, 60, p.Stock)
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodPost, "/api/checkout", "", checkoutBody(line("prod-demo-compost", 3)))
	require.Equal(t, http.StatusCreated, rr.Code)
	var created struct {
		Order checkout.Receipt `json:"order"`
	}
	decode(t, rr, &created)
	id := created.Order.ID

	rr = s.do(t, http.MethodGet, "/api/orders?buyer_id=farmer-1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Orders []orders.OrderView `json:"orders"`
	}
	decode(t, rr, &list)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, id, list.Orders[0].ID)
	require.Len(t, list.Orders[0].Items, 1)
	assert.Equal(t, "Organic Compost 25kg", list.Orders[0].Items[0].Title)

	rr = s.do(t, http.MethodGet, "/api/orders?buyer_id=someone-else", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"orders":[]}`, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/api/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "", map[string]string{"status": "Shipped"})
	require.Equal(t, http.StatusOK, rr.Code)
	var change orders.StatusChange
	decode(t, rr, &change)
	assert.Equal(t, "Shipped", string(change.Status))
	assert.Equal(t, "Placed", string(change.Previous))
	assert.True(t, change.Changed)

	rr = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "", map[string]string{"status": "Cancelled"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rr))

	rr = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "", map[string]string{"status": "Teleported"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_status", errorCode(t, rr))

	rr = s.do(t, http.MethodPut, "/api/orders/missing/status", "", map[string]string{"status": "Shipped"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "order_not_found", errorCode(t, rr))
}

func TestCatalogWrites(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodPost, "/api/categories", "", map[string]interface{}{"name": "Seeds"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var cat struct {
		Category struct {
			ID int64 `json:"id"`
		} `json:"category"`
	}
	decode(t, rr, &cat)

	rr = s.do(t, http.MethodPost, "/api/categories", "", map[string]interface{}{"name": "Vegetables", "parent_id": cat.Category.ID})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/categories/"+strconv.FormatInt(cat.Category.ID, 10)+"/children", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Vegetables")

	rr = s.do(t, http.MethodGet, "/api/categories/abc/children", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/products", "", map[string]interface{}{
		"title":       "Hybrid Tomato Seeds",
		"price":       149.5,
		"stock":       40,
		"category_id": cat.Category.ID,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Product struct {
			ID string `json:"id"`
		} `json:"product"`
	}
	decode(t, rr, &created)
	require.NotEmpty(t, created.Product.ID)

	rr = s.do(t, http.MethodPut, "/api/products/"+created.Product.ID+"/price", "", map[string]interface{}{"price": 155})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/products/"+created.Product.ID+"/price", "", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/products/"+created.Product.ID+"/reviews", "", map[string]interface{}{"rating": 5, "title": "Great"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/products/"+created.Product.ID+"/reviews", "", map[string]interface{}{"rating": 9})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cats struct {
		Categories []map[string]interface{} `json:"categories"`
	}
	decode(t, rr, &cats)
	assert.Len(t, cats.Categories, 3)
}

func TestAuthEnforcement(t *testing.T) {
	s := newTestServer(t, testSecret)
	buyer := s.token(t, "farmer-1", auth.RoleBuyer)
	other := s.token(t, "farmer-2", auth.RoleBuyer)
	admin := s.token(t, "ops", auth.RoleAdmin)

	rr := s.do(t, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "catalog reads stay public")

	rr = s.do(t, http.MethodPost, "/api/checkout", "", checkoutBody(line("prod-demo-urea", 1)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/checkout", "not-a-jwt", checkoutBody(line("prod-demo-urea", 1)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	body := checkoutBody(line("prod-demo-urea", 1))
	body["buyer_id"] = "spoofed"
	rr = s.do(t, http.MethodPost, "/api/checkout", buyer, body)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created struct {
		Order checkout.Receipt `json:"order"`
	}
	decode(t, rr, &created)

	rr = s.do(t, http.MethodGet, "/api/orders", buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Orders []orders.OrderView `json:"orders"`
	}
	decode(t, rr, &list)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "farmer-1", list.Orders[0].BuyerID)

	rr = s.do(t, http.MethodGet, "/api/orders?buyer_id=farmer-1", other, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/orders/"+created.Order.ID, other, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPut, "/api/orders/"+created.Order.ID+"/status", buyer, map[string]string{"status": "Shipped"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", errorCode(t, rr))

	rr = s.do(t, http.MethodPut, "/api/orders/"+created.Order.ID+"/status", admin, map[string]string{"status": "Shipped"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/products", buyer, map[string]interface{}{"title": "x", "price": 1})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/categories", admin, map[string]interface{}{"name": "Tools"})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestUnknownRouteAndPreflight(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodGet, "/api/tractors", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", errorCode(t, rr))

	rr = s.do(t, http.MethodOptions, "/api/checkout", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCategorySubtree(t *testing.T) {
	s := newTestServer(t, "")

	rr := s.do(t, http.MethodPost, "/api/categories", "", map[string]interface{}{"name": "Seeds"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var root struct {
		Category struct {
			ID int64 `json:"id"`
		} `json:"category"`
	}
	decode(t, rr, &root)
	rr = s.do(t, http.MethodPost, "/api/categories", "", map[string]interface{}{"name": "Vegetable Seeds", "parent_id": root.Category.ID})
	require.Equal(t, http.StatusCreated, rr.Code)
	var child struct {
		Category struct {
			ID int64 `json:"id"`
		} `json:"category"`
	}
	decode(t, rr, &child)

	rr = s.do(t, http.MethodGet, "/api/categories/"+strconv.FormatInt(root.Category.ID, 10)+"/subtree", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		CategoryIDs []int64 `json:"category_ids"`
	}
	decode(t, rr, &body)
	assert.Equal(t, []int64{root.Category.ID, child.Category.ID}, body.CategoryIDs)

	rr = s.do(t, http.MethodGet, "/api/categories/9999/subtree", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "category_not_found", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, "/api/categories/x/subtree", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteProduct(t *testing.T) {
	s := newTestServer(t, testSecret)
	seller := s.token(t, "seller-1", auth.RoleSeller)
	rival := s.token(t, "seller-2", auth.RoleSeller)
	buyer := s.token(t, "farmer-1", auth.RoleBuyer)
	admin := s.token(t, "ops", auth.RoleAdmin)

	rr := s.do(t, http.MethodPost, "/api/products", seller, map[string]interface{}{"title": "Drip Kit", "price": 900, "stock": 4})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Product struct {
			ID string `json:"id"`
		} `json:"product"`
	}
	decode(t, rr, &created)
	path := "/api/products/" + created.Product.ID

	rr = s.do(t, http.MethodPost, "/api/checkout", buyer, checkoutBody(line(created.Product.ID, 1)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var order struct {
		Order checkout.Receipt `json:"order"`
	}
	decode(t, rr, &order)

	rr = s.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = s.do(t, http.MethodDelete, path, buyer, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodDelete, path, rival, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", errorCode(t, rr))

	rr = s.do(t, http.MethodDelete, path, seller, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":"`+created.Product.ID+`"}`, rr.Body.String())

	rr = s.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = s.do(t, http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "product_not_found", errorCode(t, rr))

	rr = s.do(t, http.MethodGet, "/api/orders/"+order.Order.ID, buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Drip Kit", "order keeps its item snapshot")

	rr = s.do(t, http.MethodDelete, "/api/products/prod-demo-compost", admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
