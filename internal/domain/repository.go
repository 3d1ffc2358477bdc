package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobRepository defines persistence for job entities. Every status write from
// reconciliation is conditioned on the (job id, task id) pair so a stale
// webhook for a superseded task id can never clobber a newer attempt. Writes
// that match nothing return ErrStaleUpdate.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByTaskID(ctx context.Context, taskID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	// ListProcessing returns jobs still in flight with a known task id,
	// oldest first, for the poll sweeper.
	ListProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]Job, error)

	// SetSubmitted records the external task id after a successful submit.
	SetSubmitted(ctx context.Context, jobID, provider, taskID string) error
	// Complete marks the job completed with its result, conditioned on the
	// task id and a non-completed status.
	Complete(ctx context.Context, jobID, taskID, resultURL, analysis string, metadata json.RawMessage) error
	// Fail marks the job failed with the provider's error text, conditioned
	// on the task id, and advances the retry state to terminal.
	Fail(ctx context.Context, jobID, taskID, errMsg string) error
	// RecordFallback swaps in the new task id and provider, resets the status
	// to processing, clears the error, and advances the retry state from
	// fresh to fallback_attempted. The retry-state condition is what makes
	// the fallback fire at most once under concurrent reconciliation.
	RecordFallback(ctx context.Context, jobID, oldTaskID, newTaskID, provider string, metadata json.RawMessage) error
	// RefreshMetadata merges a provider diagnostic snapshot into the metadata
	// bag without touching the status. Merging is key by key, so keys owned
	// by other writers, fallback lineage in particular, are preserved.
	RefreshMetadata(ctx context.Context, jobID, taskID string, metadata json.RawMessage) error

	Delete(ctx context.Context, jobID, userID string) error
}

// CreditRepository defines persistence for the credit ledger and its cached
// balance aggregate. Debit must be atomic: the balance check and the ledger
// insert happen in one transaction with a conditional update, never as a
// read-then-write from application code.
type CreditRepository interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	// Initialize provisions the user with the welcome bonus. Idempotent: an
	// already-initialized user gets their existing balance back unchanged.
	Initialize(ctx context.Context, userID string, welcome int) (*Balance, error)
	Debit(ctx context.Context, userID string, amount int, reason, referenceID string) (*CreditTransaction, error)
	Credit(ctx context.Context, userID string, amount int, kind TransactionKind, reason, referenceID string, expiresAt *time.Time) (*CreditTransaction, error)
	// RecordEvent appends a zero-delta audit entry. The balance is untouched;
	// purchase order transitions use it to leave a trace in the same ledger
	// the credits eventually land in.
	RecordEvent(ctx context.Context, userID string, kind TransactionKind, reason, referenceID string) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
	// ExpireStale writes offsetting usage entries for credits past their
	// expiry and returns how many entries were swept.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// PaymentRepository defines persistence for credit purchase orders.
type PaymentRepository interface {
	CreateOrder(ctx context.Context, order *PaymentOrder) error
	GetOrder(ctx context.Context, orderID string) (*PaymentOrder, error)
	// Settle flips the order from pending to settled; returns
	// ErrDuplicateOperation if it is not pending anymore.
	Settle(ctx context.Context, orderID string) (*PaymentOrder, error)
	// MarkFailed flips a pending order to failed.
	MarkFailed(ctx context.Context, orderID string) error
}
