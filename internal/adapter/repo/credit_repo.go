package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository. The balance row and
// the ledger entry always move in one transaction, and a debit lands only
// through a conditional UPDATE that checks the balance covers it. There is no
// read-then-write anywhere on the spend path.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a new credit repository backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// GetBalance fetches the cached balance aggregate.
func (r *CreditRepositoryPG) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	row := r.pool.QueryRow(ctx, `
SELECT user_id, credits, free_remaining, total_purchased, total_used, updated_at
FROM credit_balances
WHERE user_id = $1;
`, userID)
	var bal domain.Balance
	if err := row.Scan(&bal.UserID, &bal.Credits, &bal.FreeRemaining, &bal.TotalPurchased, &bal.TotalUsed, &bal.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotInitialized
		}
		return nil, err
	}
	return &bal, nil
}

// Initialize provisions the user with the welcome bonus. The INSERT ... ON
// CONFLICT DO NOTHING makes it idempotent: only the transaction that actually
// creates the row writes the welcome ledger entry.
func (r *CreditRepositoryPG) Initialize(ctx context.Context, userID string, welcome int) (*domain.Balance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO credit_balances (user_id, credits, free_remaining)
VALUES ($1, $2, $2)
ON CONFLICT (user_id) DO NOTHING;
`, userID, welcome)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, delta, balance_before, balance_after, kind, reason)
VALUES ($1, $2, $3, 0, $3, $4, 'welcome bonus');
`, uuid.NewString(), userID, welcome, domain.TransactionFree)
		if err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx, `
SELECT user_id, credits, free_remaining, total_purchased, total_used, updated_at
FROM credit_balances
WHERE user_id = $1;
`, userID)
	var bal domain.Balance
	if err := row.Scan(&bal.UserID, &bal.Credits, &bal.FreeRemaining, &bal.TotalPurchased, &bal.TotalUsed, &bal.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Debit atomically spends credits. The UPDATE only matches when the balance
// covers the amount; zero rows means either an uninitialized user or an
// insufficient balance, disambiguated with a follow-up existence check.
func (r *CreditRepositoryPG) Debit(ctx context.Context, userID string, amount int, reason, referenceID string) (*domain.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
UPDATE credit_balances
SET credits = credits - $2,
    free_remaining = GREATEST(free_remaining - $2, 0),
    total_used = total_used + $2,
    updated_at = NOW()
WHERE user_id = $1 AND credits >= $2
RETURNING credits;
`, userID, amount)
	var after int
	if err := row.Scan(&after); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credit_balances WHERE user_id = $1);`, userID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if !exists {
				return nil, domain.ErrNotInitialized
			}
			return nil, domain.ErrInsufficientCredits
		}
		return nil, err
	}

	entry := domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         -amount,
		BalanceBefore: after + amount,
		BalanceAfter:  after,
		Kind:          domain.TransactionUsage,
		Reason:        reason,
		ReferenceID:   referenceID,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Credit adds credits and appends the matching ledger entry. The upsert keeps
// the purchase webhook working even for a user whose balance row was never
// provisioned.
func (r *CreditRepositoryPG) Credit(ctx context.Context, userID string, amount int, kind domain.TransactionKind, reason, referenceID string, expiresAt *time.Time) (*domain.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	freeDelta := 0
	if kind == domain.TransactionFree || kind == domain.TransactionBonus {
		freeDelta = amount
	}
	purchasedDelta := 0
	if kind == domain.TransactionPurchase {
		purchasedDelta = amount
	}

	row := tx.QueryRow(ctx, `
INSERT INTO credit_balances (user_id, credits, free_remaining, total_purchased)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE
SET credits = credit_balances.credits + EXCLUDED.credits,
    free_remaining = credit_balances.free_remaining + EXCLUDED.free_remaining,
    total_purchased = credit_balances.total_purchased + EXCLUDED.total_purchased,
    updated_at = NOW()
RETURNING credits;
`, userID, amount, freeDelta, purchasedDelta)
	var after int
	if err := row.Scan(&after); err != nil {
		return nil, err
	}

	entry := domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         amount,
		BalanceBefore: after - amount,
		BalanceAfter:  after,
		Kind:          kind,
		Reason:        reason,
		ReferenceID:   referenceID,
		ExpiresAt:     expiresAt,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordEvent appends a zero-delta audit entry at the user's current balance.
// Users without a balance row record against zero; the row itself is not
// created here.
func (r *CreditRepositoryPG) RecordEvent(ctx context.Context, userID string, kind domain.TransactionKind, reason, referenceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var credits int
	err = tx.QueryRow(ctx, `
SELECT credits FROM credit_balances WHERE user_id = $1;
`, userID).Scan(&credits)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	entry := domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         0,
		BalanceBefore: credits,
		BalanceAfter:  credits,
		Kind:          kind,
		Reason:        reason,
		ReferenceID:   referenceID,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListTransactions returns the user's ledger entries, newest first.
func (r *CreditRepositoryPG) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, delta, balance_before, balance_after, kind, reason, reference_id, expires_at, created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CreditTransaction
	for rows.Next() {
		var tx domain.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Delta, &tx.BalanceBefore, &tx.BalanceAfter, &tx.Kind, &tx.Reason, &tx.ReferenceID, &tx.ExpiresAt, &tx.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ExpireStale writes offsetting usage entries for expiring grants that have
// passed their expiry and were never offset. The removal is capped at the
// user's remaining balance so spent credits are not double-counted.
func (r *CreditRepositoryPG) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.pool.Query(ctx, `
SELECT ct.id, ct.user_id, ct.delta
FROM credit_transactions ct
WHERE ct.delta > 0
  AND ct.expires_at IS NOT NULL
  AND ct.expires_at <= $1
  AND NOT EXISTS (
    SELECT 1 FROM credit_transactions off
    WHERE off.reference_id = ct.id AND off.kind = 'usage'
  );
`, now)
	if err != nil {
		return 0, err
	}
	type expiring struct {
		id     string
		userID string
		delta  int
	}
	var stale []expiring
	for rows.Next() {
		var e expiring
		if err := rows.Scan(&e.id, &e.userID, &e.delta); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, e := range stale {
		if err := r.expireOne(ctx, e.id, e.userID, e.delta); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (r *CreditRepositoryPG) expireOne(ctx context.Context, entryID, userID string, delta int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var before int
	err = tx.QueryRow(ctx, `
SELECT credits FROM credit_balances WHERE user_id = $1 FOR UPDATE;
`, userID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	remove := delta
	if remove > before {
		remove = before
	}
	after := before - remove
	_, err = tx.Exec(ctx, `
UPDATE credit_balances
SET credits = $2,
    free_remaining = GREATEST(free_remaining - $3, 0),
    updated_at = NOW()
WHERE user_id = $1;
`, userID, after, delta)
	if err != nil {
		return err
	}

	entry := domain.CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         after - before,
		BalanceBefore: before,
		BalanceAfter:  after,
		Kind:          domain.TransactionUsage,
		Reason:        "credit expiry",
		ReferenceID:   entryID,
	}
	if err := insertEntry(ctx, tx, &entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.CreditTransaction) error {
	_, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, delta, balance_before, balance_after, kind, reason, reference_id, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`, entry.ID, entry.UserID, entry.Delta, entry.BalanceBefore, entry.BalanceAfter, entry.Kind, entry.Reason, entry.ReferenceID, entry.ExpiresAt)
	return err
}
