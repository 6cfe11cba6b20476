// Package api exposes the marketplace over HTTP. Every route except the
// health check and the live feed lives under /api.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/jogardn/agrimarket/internal/catalog"
	"github.com/jogardn/agrimarket/internal/checkout"
	"github.com/jogardn/agrimarket/internal/circuitbreaker"
	"github.com/jogardn/agrimarket/internal/orders"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Catalog  *catalog.Service
	Checkout *checkout.Engine
	Orders   *orders.QueryService
	Status   *orders.StatusService
	Auth     *auth.Authenticator
	Store    Pinger
	// Feed serves the websocket order feed; nil leaves /ws/orders unmounted.
	Feed http.Handler
	// Breaker is reported by /health when events go to Kafka.
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *logrus.Logger
}

type Handler struct {
	catalog  *catalog.Service
	checkout *checkout.Engine
	orders   *orders.QueryService
	status   *orders.StatusService
	auth     *auth.Authenticator
	store    Pinger
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logrus.Logger
}

func NewRouter(d Deps) http.Handler {
	if d.Auth == nil {
		d.Auth = auth.New("", d.Logger)
	}
	h := &Handler{
		catalog:  d.Catalog,
		checkout: d.Checkout,
		orders:   d.Orders,
		status:   d.Status,
		auth:     d.Auth,
		store:    d.Store,
		breaker:  d.Breaker,
		logger:   d.Logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if d.Feed != nil {
		router.Handle("/ws/orders", d.Feed).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", h.CreateProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.DeleteProduct).Methods(http.MethodDelete)
	api.HandleFunc("/products/{id}/price", h.UpdatePrice).Methods(http.MethodPut)
	api.HandleFunc("/products/{id}/reviews", h.AddReview).Methods(http.MethodPost)
	api.HandleFunc("/search-autosuggest", h.Autosuggest).Methods(http.MethodGet)
	api.HandleFunc("/categories", h.ListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories", h.CreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories/{id}/children", h.ChildCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/{id}/subtree", h.CategorySubtree).Methods(http.MethodGet)
	api.HandleFunc("/cart/validate", h.ValidateCart).Methods(http.MethodPost)
	api.HandleFunc("/checkout", h.Checkout).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/status", h.UpdateOrderStatus).Methods(http.MethodPut)

	api.Use(otelhttp.NewMiddleware("agrimarket",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeTemplate(r)
		}),
	))
	api.Use(d.Auth.Middleware)
	router.Use(loggingMiddleware(d.Logger))

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "not_found", "route not found")
	})
	return corsMiddleware()(router)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "agrimarket",
	}
	if h.breaker != nil {
		body["event_publisher"] = h.breaker.Snapshot()
	}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.WithError(err).Warn("Health check failed")
			body["status"] = "unhealthy"
			body["error"] = "database connection failed"
			respondWithJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	respondWithJSON(w, http.StatusOK, body)
}
