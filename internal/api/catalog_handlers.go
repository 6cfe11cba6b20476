package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/jogardn/agrimarket/internal/catalog"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
)

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := intParam(query.Get("page"), "page", 1)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	perPage, err := intParam(query.Get("per_page"), "per_page", catalog.DefaultPerPage)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	result, err := h.catalog.ListProducts(r.Context(), query.Get("q"), page, perPage)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) Autosuggest(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.catalog.Autosuggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.requireRole(r, auth.RoleSeller, auth.RoleAdmin)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var in catalog.NewProduct
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	seller := ""
	if p != nil {
		seller = p.Subject
	}

	product, err := h.catalog.CreateProduct(r.Context(), seller, in)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{"product": product})
}

func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireRole(r, auth.RoleSeller, auth.RoleAdmin); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var body struct {
		Price *decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if body.Price == nil {
		h.respondWithAppError(w, r, apperr.Validation(apperr.CodeInvalidRequest, "price is required"))
		return
	}

	product, err := h.catalog.UpdatePrice(r.Context(), mux.Vars(r)["id"], *body.Price)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"product": product})
}

// DeleteProduct lets the owning seller or an admin remove a listing. With
// auth disabled every caller acts as admin.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.requireRole(r, auth.RoleSeller, auth.RoleAdmin)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	actor, admin := "", true
	if p != nil {
		actor, admin = p.Subject, p.IsAdmin()
	}

	id := mux.Vars(r)["id"]
	if err := h.catalog.DeleteProduct(r.Context(), id, actor, admin); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) AddReview(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var review models.Review
	if err := decodeJSON(w, r, &review); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	created, err := h.catalog.AddReview(r.Context(), mux.Vars(r)["id"], review)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{"review": created})
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if cats == nil {
		cats = []models.Category{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
}

func (h *Handler) ChildCategories(w http.ResponseWriter, r *http.Request) {
	id, err := categoryID(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	children, err := h.catalog.ChildCategories(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if children == nil {
		children = []models.Category{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"categories": children})
}

// CategorySubtree lists the ids of a category and all of its descendants,
// for filtering a listing by a whole branch of the tree.
func (h *Handler) CategorySubtree(w http.ResponseWriter, r *http.Request) {
	id, err := categoryID(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	ids, err := h.catalog.Subtree(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"category_ids": ids})
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireRole(r, auth.RoleAdmin); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var body struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}

	cat, err := h.catalog.CreateCategory(r.Context(), body.Name, body.ParentID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{"category": cat})
}

func categoryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperr.Validation(apperr.CodeInvalidRequest, "category id must be an integer")
	}
	return id, nil
}

// intParam parses an optional positive query parameter. Range checks are
// left to the service.
func intParam(raw, name string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(apperr.CodeInvalidRequest, "%s must be an integer", name)
	}
	return n, nil
}
