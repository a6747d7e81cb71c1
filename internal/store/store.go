// Package store defines the persistence contract for accounts, top-up requests and the
// balance ledger. Implementations live in the postgres and memory subpackages.
//
// Every balance mutation goes through CreateTopup, ApplyStatus or Deposit; each of them
// serializes per account and writes its audit row in the same transaction.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

// AccountUpdate carries the mutable provisioning fields. Nil fields are left unchanged.
type AccountUpdate struct {
	DisplayName    *string
	Phone          *string
	CommissionRate *decimal.Decimal
	Active         *bool
}

// DepositInput describes an administrator-issued balance increase.
type DepositInput struct {
	AccountID int64
	Amount    decimal.Decimal
	Note      string
	CreatedBy int64
}

// AccountStore persists reseller and administrator accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	UpdateAccount(ctx context.Context, id int64, upd AccountUpdate) (*domain.Account, error)
}

// LedgerStore owns every balance mutation.
type LedgerStore interface {
	// CreateTopup debits the request cost and inserts the pending request plus its debit
	// event atomically. It fails with ErrInsufficientBalance when cost exceeds the balance,
	// leaving nothing behind. The returned event carries the post-debit balance.
	CreateTopup(ctx context.Context, req *domain.TopupRequest) (*domain.LedgerEvent, error)

	// ApplyStatus moves a non-terminal request to status. Failure statuses credit the cost
	// back in the same transaction. Terminal requests yield ErrDuplicateWebhook and
	// unknown numbers ErrUnknownRequestNumber; neither changes anything.
	ApplyStatus(ctx context.Context, requestNumber string, status domain.Status) (*domain.Transition, error)

	// Deposit increments the balance and records the audit row.
	Deposit(ctx context.Context, in DepositInput) (*domain.Deposit, error)

	ListLedgerEvents(ctx context.Context, accountID int64) ([]domain.LedgerEvent, error)
	ListDeposits(ctx context.Context, accountID int64) ([]domain.Deposit, error)
	Reconcile(ctx context.Context, accountID int64) (*domain.Reconciliation, error)
}

// TopupStore answers read queries about top-up requests.
type TopupStore interface {
	GetTopup(ctx context.Context, requestNumber string) (*domain.TopupRequest, error)
	// FindTopupByIdempotencyKey returns nil, nil when no request of the account carries key.
	FindTopupByIdempotencyKey(ctx context.Context, accountID int64, key string) (*domain.TopupRequest, error)
	ListTopups(ctx context.Context, filter domain.TopupFilter) ([]domain.TopupRequest, error)
	DashboardStats(ctx context.Context, accountID int64, day time.Time) (*domain.DashboardStats, error)
}

// Store is the full persistence surface.
type Store interface {
	AccountStore
	LedgerStore
	TopupStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
