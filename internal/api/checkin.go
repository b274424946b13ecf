package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
)

// CookieName identifies a customer across visits.
const CookieName = "brewstamp_id"

const cookieMaxAge = 5 * 365 * 24 * 60 * 60

// customerCookie issues a customer cookie to requests that lack one.
func (h *Handler) customerCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(CookieName); err != nil || c.Value == "" {
			cookie := &http.Cookie{
				Name:     CookieName,
				Value:    uuid.NewString(),
				Path:     "/",
				MaxAge:   cookieMaxAge,
				HttpOnly: true,
				Secure:   h.secure,
				SameSite: http.SameSiteLaxMode,
			}
			http.SetCookie(w, cookie)
			r.AddCookie(cookie)
		}
		next.ServeHTTP(w, r)
	})
}

// CheckIn handles GET /s/{code}: the customer's view of their card.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")

	shop, err := h.store.GetShopByCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "shop not found")
		return
	}
	if err != nil {
		h.log.Error("get shop", "shop", code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load shop")
		return
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing customer cookie")
		return
	}
	customer, err := h.store.EnsureCustomer(ctx, cookie.Value)
	if err != nil {
		h.log.Error("ensure customer", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load customer")
		return
	}
	card, err := h.store.EnsureCard(ctx, shop.ID, customer.ID)
	if err != nil {
		h.log.Error("ensure card", "shop", code, "customer_id", customer.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load card")
		return
	}

	resp := map[string]any{
		"shop":     shop,
		"customer": customer,
		"card": cardResponse{
			Stamps:       card.Stamps,
			TotalEarned:  card.TotalEarned,
			FreeRedeemed: card.FreeRedeemed,
		},
	}
	if pending, err := h.service.Pending(ctx, shop.ID, customer.ID); err == nil {
		resp["pending"] = pending
	} else if !errors.Is(err, stamp.ErrNotFound) {
		h.log.Warn("find pending request", "shop", code, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateCustomer handles PATCH /api/customers/{id}. Empty fields keep
// their stored value.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.store.UpdateCustomerDetails(ctx, id, body.Name, body.Email)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		h.log.Error("update customer", "customer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update customer")
		return
	}

	customer, err := h.store.GetCustomer(ctx, id)
	if err != nil {
		h.log.Error("get customer", "customer_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load customer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

// CreateShop handles POST /api/shops. The response is the only place the
// shop's Telegram link secret is ever shown.
func (h *Handler) CreateShop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code           string `json:"code"`
		Name           string `json:"name"`
		StampThreshold int    `json:"stampThreshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Code == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required")
		return
	}
	if body.StampThreshold < 0 {
		writeError(w, http.StatusBadRequest, "stampThreshold must not be negative")
		return
	}

	shop, err := h.store.CreateShop(r.Context(), body.Code, body.Name, body.StampThreshold)
	if errors.Is(err, storage.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, "shop code already taken")
		return
	}
	if err != nil {
		h.log.Error("create shop", "shop", body.Code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create shop")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shop": shop, "linkSecret": shop.LinkSecret})
}
