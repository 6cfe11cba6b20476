package api

import (
	"net/http"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/auth"
)

// principal returns the caller, or nil when auth is disabled. With auth
// enabled an anonymous caller gets an Unauthorized error.
func (h *Handler) principal(r *http.Request) (*auth.Principal, error) {
	if !h.auth.Enabled() {
		return nil, nil
	}
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, apperr.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

// requireRole passes when auth is disabled or the caller holds one of roles.
func (h *Handler) requireRole(r *http.Request, roles ...string) (*auth.Principal, error) {
	p, err := h.principal(r)
	if err != nil || p == nil {
		return p, err
	}
	for _, role := range roles {
		if p.Role == role {
			return p, nil
		}
	}
	return nil, apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "insufficient permissions")
}
