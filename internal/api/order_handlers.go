package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/jogardn/agrimarket/internal/checkout"
	"github.com/jogardn/agrimarket/internal/orders"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/sirupsen/logrus"
)

type cartRequest struct {
	Items []models.CartLine `json:"items"`
}

type checkoutRequest struct {
	BuyerID       string            `json:"buyer_id"`
	Items         []models.CartLine `json:"items"`
	Shipping      *models.Shipping  `json:"shipping"`
	PaymentMethod string            `json:"payment_method"`
}

func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	quote, err := h.checkout.ValidateCart(r.Context(), req.Items)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	buyer := req.BuyerID
	if p != nil {
		buyer = p.Subject
	}

	h.logger.WithFields(logrus.Fields{
		"buyer_id":    buyer,
		"items_count": len(req.Items),
	}).Info("Processing checkout")

	receipt, err := h.checkout.Checkout(r.Context(), checkout.Request{
		BuyerID:       buyer,
		Items:         req.Items,
		Shipping:      req.Shipping,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{"order": receipt})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	buyer := r.URL.Query().Get("buyer_id")
	if p != nil && !p.IsAdmin() {
		if buyer != "" && buyer != p.Subject {
			h.respondWithAppError(w, r, apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "cannot list another buyer's orders"))
			return
		}
		buyer = p.Subject
	}

	views, err := h.orders.GetOrdersForBuyer(r.Context(), buyer)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if views == nil {
		views = []orders.OrderView{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	view, err := h.orders.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if p != nil && !p.IsAdmin() && view.BuyerID != p.Subject {
		h.respondWithAppError(w, r, apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "order belongs to another buyer"))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"order": view})
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireRole(r, auth.RoleAdmin); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	change, err := h.status.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, change)
}
