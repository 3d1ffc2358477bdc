// Package payment handles Midtrans credit purchases: order creation, webhook
// signature verification, and exactly-once crediting of settled orders.
package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/metrics"
)

// Notification is the subset of the Midtrans HTTP notification the service
// acts on.
type Notification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// Service processes purchase orders against the ledger.
type Service struct {
	orders    domain.PaymentRepository
	credits   *credits.Service
	serverKey string
	logger    zerolog.Logger
}

func NewService(orders domain.PaymentRepository, credits *credits.Service, serverKey string, logger zerolog.Logger) *Service {
	return &Service{orders: orders, credits: credits, serverKey: serverKey, logger: logger}
}

// CreateOrder opens a pending purchase for the user.
func (s *Service) CreateOrder(ctx context.Context, userID string, creditAmount int, grossAmount string) (*domain.PaymentOrder, error) {
	if creditAmount <= 0 {
		return nil, fmt.Errorf("payment: credit amount must be positive, got %d", creditAmount)
	}
	order := &domain.PaymentOrder{
		OrderID:     uuid.NewString(),
		UserID:      userID,
		Credits:     creditAmount,
		GrossAmount: grossAmount,
		Status:      domain.PaymentStatusPending,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("purchase of %d credits initiated", creditAmount)
	if err := s.credits.RecordPurchaseEvent(ctx, userID, domain.TransactionPendingPurchase, reason, order.OrderID); err != nil {
		// The order row is the source of truth; a missing ledger marker only
		// costs audit detail.
		s.logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("record pending purchase marker failed")
	}
	return order, nil
}

// VerifySignature checks the Midtrans notification signature:
// SHA-512(orderId + statusCode + grossAmount + serverKey), hex encoded.
func (s *Service) VerifySignature(n Notification) bool {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + s.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}

// HandleNotification applies a verified notification to the order and the
// ledger. Crediting happens exactly once per order id: Settle flips the
// order from pending conditionally, and a replayed delivery finds it already
// settled and becomes a no-op.
func (s *Service) HandleNotification(ctx context.Context, n Notification) error {
	if !s.VerifySignature(n) {
		return domain.ErrInvalidSignature
	}
	order, err := s.orders.GetOrder(ctx, n.OrderID)
	if err != nil {
		return err
	}

	switch n.TransactionStatus {
	case "settlement", "capture":
		if n.TransactionStatus == "capture" && n.FraudStatus == "challenge" {
			// Leave the order pending until the fraud review resolves.
			return nil
		}
		settled, err := s.orders.Settle(ctx, n.OrderID)
		if errors.Is(err, domain.ErrDuplicateOperation) {
			s.logger.Info().Str("order_id", n.OrderID).Msg("payment notification replayed, already settled")
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.credits.ConfirmPurchase(ctx, settled.UserID, settled.Credits, settled.OrderID); err != nil {
			return fmt.Errorf("payment: credit settled order %s: %w", settled.OrderID, err)
		}
		metrics.PaymentsSettled.Inc()
		s.logger.Info().
			Str("order_id", settled.OrderID).
			Str("user_id", settled.UserID).
			Int("credits", settled.Credits).
			Msg("payment settled, credits granted")
		return nil
	case "deny", "cancel", "expire", "failure":
		err := s.orders.MarkFailed(ctx, n.OrderID)
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return nil
		}
		if err != nil {
			return err
		}
		reason := "purchase " + n.TransactionStatus
		if markerErr := s.credits.RecordPurchaseEvent(ctx, order.UserID, domain.TransactionFailedPurchase, reason, n.OrderID); markerErr != nil {
			s.logger.Warn().Err(markerErr).Str("order_id", n.OrderID).Msg("record failed purchase marker failed")
		}
		return nil
	default:
		// pending, authorize, refund notifications carry no ledger action.
		return nil
	}
}
