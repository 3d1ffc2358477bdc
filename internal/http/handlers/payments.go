package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/payment"
)

type createOrderRequest struct {
	Credits     int    `json:"credits"`
	GrossAmount string `json:"gross_amount"`
}

// PaymentsCreateOrder opens a pending Midtrans purchase for the current user.
func (a *App) PaymentsCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Credits <= 0 || req.GrossAmount == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "credits and gross_amount are required")
		return
	}
	order, err := a.Payments.CreateOrder(r.Context(), a.currentUserID(r), req.Credits, req.GrossAmount)
	if err != nil {
		a.Logger.Error().Err(err).Msg("create payment order failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create order")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{
		"order_id":     order.OrderID,
		"credits":      order.Credits,
		"gross_amount": order.GrossAmount,
		"status":       string(order.Status),
	})
}

// MidtransWebhook receives a Midtrans payment notification. A bad signature
// is rejected before any state is touched; a verified settlement credits the
// order exactly once.
func (a *App) MidtransWebhook(w http.ResponseWriter, r *http.Request) {
	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	err := a.Payments.HandleNotification(r.Context(), n)
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "unknown order")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("order_id", n.OrderID).Msg("payment notification failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process notification")
		return
	}

	a.json(w, http.StatusOK, map[string]any{"success": true})
}
