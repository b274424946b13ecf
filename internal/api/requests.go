package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brewstamp/brewstamp/internal/stamp"
)

const msgNotProcessable = "Request not found or already processed"

type cardResponse struct {
	Stamps       int `json:"stamps"`
	TotalEarned  int `json:"totalEarned"`
	FreeRedeemed int `json:"freeRedeemed"`
}

// CreateRequest handles POST /api/stamp-request.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ShopID     string `json:"shopId"`
		CustomerID string `json:"customerId"`
		Redeem     bool   `json:"redeem"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ShopID == "" || body.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "shopId and customerId are required")
		return
	}

	req, err := h.service.Create(r.Context(), body.ShopID, body.CustomerID, body.Redeem)
	if err != nil {
		h.log.Error("create stamp request", "shop_id", body.ShopID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	if h.alerts != nil {
		go h.alerts.StampRequested(context.WithoutCancel(r.Context()), req)
	}

	writeJSON(w, http.StatusCreated, map[string]any{"request": req})
}

// DecideRequest handles PATCH /api/stamp-request/{id}.
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status        stamp.Status `json:"status"`
		StampsAwarded int          `json:"stampsAwarded"`
		Redeem        bool         `json:"redeem"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, approval, err := h.service.Decide(r.Context(), id, stamp.Decision{
		Status:        body.Status,
		StampsAwarded: body.StampsAwarded,
		Redeem:        body.Redeem,
	})
	switch {
	case errors.Is(err, stamp.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "status must be approved or rejected")
		return
	case errors.Is(err, stamp.ErrInvalidAward):
		writeError(w, http.StatusBadRequest, "stampsAwarded must not be negative")
		return
	case errors.Is(err, stamp.ErrNotFound), errors.Is(err, stamp.ErrNotPending):
		writeError(w, http.StatusNotFound, msgNotProcessable)
		return
	case err != nil:
		h.log.Error("decide stamp request", "request_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update request")
		return
	}

	if approval == nil {
		writeJSON(w, http.StatusOK, map[string]any{"request": req})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": req,
		"stampCard": cardResponse{
			Stamps:       approval.Card.Stamps,
			TotalEarned:  approval.Card.TotalEarned,
			FreeRedeemed: approval.Card.FreeRedeemed,
		},
		"redeemed": approval.Redeemed,
	})
}
