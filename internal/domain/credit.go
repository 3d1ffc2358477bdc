package domain

import "time"

// TransactionKind enumerates the kinds of credit ledger entries.
type TransactionKind string

const (
	TransactionPurchase        TransactionKind = "purchase"
	TransactionBonus           TransactionKind = "bonus"
	TransactionFree            TransactionKind = "free"
	TransactionUsage           TransactionKind = "usage"
	TransactionAdminGrant      TransactionKind = "admin_grant"
	TransactionPendingPurchase TransactionKind = "pending_purchase"
	TransactionFailedPurchase  TransactionKind = "failed_purchase"
)

// WelcomeCredits is granted once per user on first initialization.
const WelcomeCredits = 5

// CreditTransaction is one append-only ledger entry. Entries are never
// updated or deleted; corrections are new offsetting entries.
type CreditTransaction struct {
	ID            string
	UserID        string
	Delta         int
	BalanceBefore int
	BalanceAfter  int
	Kind          TransactionKind
	Reason        string
	ReferenceID   string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Balance is the cached aggregate over a user's ledger, maintained
// transactionally alongside every entry.
type Balance struct {
	UserID         string
	Credits        int
	FreeRemaining  int
	TotalPurchased int
	TotalUsed      int
	UpdatedAt      time.Time
}
