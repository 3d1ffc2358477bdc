package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/middleware"
)

type creditActionRequest struct {
	Action      string `json:"action"`
	Amount      int    `json:"amount"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	ReferenceID string `json:"reference_id"`
	UserID      string `json:"user_id"`
	ExpiresIn   int    `json:"expires_in_days"`
	Limit       int    `json:"limit"`
}

// CreditsAction dispatches the credit operations behind one endpoint, using
// the {success, ...} | {success:false, error} envelope.
func (a *App) CreditsAction(w http.ResponseWriter, r *http.Request) {
	var req creditActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.creditFail(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch req.Action {
	case "check_balance":
		a.creditCheckBalance(w, r)
	case "use_credits":
		a.creditUse(w, r, req)
	case "add_credits":
		a.creditAdd(w, r, req)
	case "get_transactions":
		a.creditTransactions(w, r, req)
	case "expire_credits":
		a.creditExpire(w, r)
	default:
		a.creditFail(w, http.StatusBadRequest, "unknown action")
	}
}

func (a *App) creditCheckBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	bal, err := a.Credits.CheckBalance(r.Context(), userID)
	if errors.Is(err, domain.ErrNotInitialized) {
		bal, err = a.Credits.Initialize(r.Context(), userID)
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("check balance failed")
		a.creditFail(w, http.StatusInternalServerError, "failed to load balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":         true,
		"credits":         bal.Credits,
		"free_remaining":  bal.FreeRemaining,
		"total_purchased": bal.TotalPurchased,
		"total_used":      bal.TotalUsed,
	})
}

func (a *App) creditUse(w http.ResponseWriter, r *http.Request, req creditActionRequest) {
	if req.Amount <= 0 {
		a.creditFail(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	userID := a.currentUserID(r)
	err := a.Credits.Debit(r.Context(), userID, req.Amount, req.Reason, req.ReferenceID)
	if errors.Is(err, domain.ErrInsufficientCredits) {
		a.creditFail(w, http.StatusPaymentRequired, "insufficient credits")
		return
	}
	if errors.Is(err, domain.ErrNotInitialized) {
		a.creditFail(w, http.StatusNotFound, "credits not initialized")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("use credits failed")
		a.creditFail(w, http.StatusInternalServerError, "failed to debit credits")
		return
	}
	bal, _ := a.Credits.CheckBalance(r.Context(), userID)
	out := map[string]any{"success": true}
	if bal != nil {
		out["credits"] = bal.Credits
	}
	a.json(w, http.StatusOK, out)
}

// creditAdd grants non-purchase credits. Admin grants may target another
// user; everything else lands on the caller. Purchase credits are refused
// here no matter what the request claims; those only come from the verified
// payment webhook.
func (a *App) creditAdd(w http.ResponseWriter, r *http.Request, req creditActionRequest) {
	if req.Amount <= 0 {
		a.creditFail(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	kind := domain.TransactionKind(req.Kind)
	targetID := a.currentUserID(r)
	if kind == domain.TransactionAdminGrant {
		if middleware.RoleFromContext(r.Context()) != "admin" {
			a.creditFail(w, http.StatusForbidden, "admin role required")
			return
		}
		if req.UserID != "" {
			targetID = req.UserID
		}
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresIn)
		expiresAt = &t
	}

	err := a.Credits.CreditRestricted(r.Context(), targetID, req.Amount, kind, req.Reason, req.ReferenceID, expiresAt)
	if errors.Is(err, domain.ErrUnauthorized) {
		a.creditFail(w, http.StatusForbidden, "credit kind not permitted")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", targetID).Msg("add credits failed")
		a.creditFail(w, http.StatusInternalServerError, "failed to add credits")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

func (a *App) creditTransactions(w http.ResponseWriter, r *http.Request, req creditActionRequest) {
	userID := a.currentUserID(r)
	txs, err := a.Credits.ListTransactions(r.Context(), userID, req.Limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("list transactions failed")
		a.creditFail(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	items := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		item := map[string]any{
			"id":            tx.ID,
			"delta":         tx.Delta,
			"balance_after": tx.BalanceAfter,
			"kind":          string(tx.Kind),
			"reason":        tx.Reason,
			"created_at":    tx.CreatedAt,
		}
		if tx.ReferenceID != "" {
			item["reference_id"] = tx.ReferenceID
		}
		if tx.ExpiresAt != nil {
			item["expires_at"] = tx.ExpiresAt
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "transactions": items})
}

func (a *App) creditExpire(w http.ResponseWriter, r *http.Request) {
	if middleware.RoleFromContext(r.Context()) != "admin" {
		a.creditFail(w, http.StatusForbidden, "admin role required")
		return
	}
	count, err := a.Credits.ExpireStale(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("expire credits failed")
		a.creditFail(w, http.StatusInternalServerError, "failed to expire credits")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "expired": count})
}

func (a *App) creditFail(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]any{"success": false, "error": message})
}
