// Package credits implements the business rules over the credit ledger. The
// repository guarantees atomicity; this layer guards which operations are
// allowed to move credits at all.
package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/metrics"
)

// Service gates credit operations. Purchase credits are only written through
// ConfirmPurchase, which the payment webhook calls after signature
// verification; CreditRestricted rejects the purchase kind outright.
type Service struct {
	repo   domain.CreditRepository
	logger zerolog.Logger
}

func NewService(repo domain.CreditRepository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CheckBalance reads the current aggregate. Returns ErrNotInitialized when
// the user was never provisioned.
func (s *Service) CheckBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// Initialize provisions the welcome bonus. Idempotent.
func (s *Service) Initialize(ctx context.Context, userID string) (*domain.Balance, error) {
	return s.repo.Initialize(ctx, userID, domain.WelcomeCredits)
}

// Debit atomically spends credits for a job. Returns ErrInsufficientCredits
// when the balance would go negative; nothing is written in that case.
func (s *Service) Debit(ctx context.Context, userID string, amount int, reason, referenceID string) error {
	if amount <= 0 {
		return fmt.Errorf("credits: debit amount must be positive, got %d", amount)
	}
	tx, err := s.repo.Debit(ctx, userID, amount, reason, referenceID)
	if err != nil {
		return err
	}
	metrics.CreditsSpent.Add(float64(amount))
	s.logger.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Int("balance_after", tx.BalanceAfter).
		Str("reason", reason).
		Msg("credits debited")
	return nil
}

// CreditRestricted adds credits for the kinds a client-facing endpoint may
// request. Purchase credits never pass through here; they are written only by
// the payment webhook after signature verification.
func (s *Service) CreditRestricted(ctx context.Context, userID string, amount int, kind domain.TransactionKind, reason, referenceID string, expiresAt *time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("credits: credit amount must be positive, got %d", amount)
	}
	switch kind {
	case domain.TransactionAdminGrant, domain.TransactionFree, domain.TransactionBonus:
	default:
		return fmt.Errorf("credits: kind %q not permitted here: %w", kind, domain.ErrUnauthorized)
	}
	_, err := s.repo.Credit(ctx, userID, amount, kind, reason, referenceID, expiresAt)
	return err
}

// ConfirmPurchase writes the purchase ledger entry for a settled payment
// order. Callers must have verified the payment signature first.
func (s *Service) ConfirmPurchase(ctx context.Context, userID string, amount int, orderID string) error {
	if amount <= 0 {
		return fmt.Errorf("credits: purchase amount must be positive, got %d", amount)
	}
	_, err := s.repo.Credit(ctx, userID, amount, domain.TransactionPurchase, "credit purchase", orderID, nil)
	return err
}

// RecordPurchaseEvent appends a zero-delta ledger marker for a purchase order
// transition, keeping the order's lifecycle visible in the same ledger the
// credits land in. Only the pending and failed purchase kinds are accepted.
func (s *Service) RecordPurchaseEvent(ctx context.Context, userID string, kind domain.TransactionKind, reason, orderID string) error {
	switch kind {
	case domain.TransactionPendingPurchase, domain.TransactionFailedPurchase:
	default:
		return fmt.Errorf("credits: kind %q is not a purchase event", kind)
	}
	return s.repo.RecordEvent(ctx, userID, kind, reason, orderID)
}

// ListTransactions returns the user's recent ledger entries.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListTransactions(ctx, userID, limit)
}

// ExpireStale sweeps credits past their expiry. Intended for the scheduled
// sweeper, not the request path.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	count, err := s.repo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info().Int("count", count).Msg("expired stale credits")
	}
	return count, nil
}
