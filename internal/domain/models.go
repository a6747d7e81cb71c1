package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role separates the dashboard administrator from resellers.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleAgent         Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleAdministrator || r == RoleAgent
}

// Account is a reseller (or administrator) holding a prepaid balance.
// Balance is only ever changed by the store's ledger operations.
type Account struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name"`
	Phone          string          `json:"phone,omitempty"`
	PasswordHash   string          `json:"-"`
	Role           Role            `json:"role"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Status is the lifecycle state of a top-up request as reported by us or the provider.
// Values outside the known set are stored verbatim.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether no further transition is accepted.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s.IsFailure()
}

// IsFailure reports whether the status reverses the original debit.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusRejected || s == StatusExpired
}

// ParseStatus maps provider spellings of a known status ("Failed", " sent ") onto the
// canonical value. Anything else is returned verbatim.
func ParseStatus(raw string) Status {
	if s := Status(strings.ToLower(strings.TrimSpace(raw))); s.Known() {
		return s
	}
	return Status(raw)
}

// Known reports whether the status is one we attach semantics to.
func (s Status) Known() bool {
	return s == StatusPending || s.IsTerminal()
}

// TopupRequest is a single customer recharge order.
// Everything except Status and UpdatedAt is fixed at creation.
type TopupRequest struct {
	RequestNumber  string          `json:"request_number"`
	AccountID      int64           `json:"account_id"`
	CustomerName   string          `json:"customer_name"`
	PhoneNumber    string          `json:"phone_number"`
	Operator       string          `json:"operator"`
	Mode           string          `json:"mode,omitempty"`
	FaceValue      decimal.Decimal `json:"face_value"`
	Cost           decimal.Decimal `json:"cost"`
	Commission     decimal.Decimal `json:"commission"`
	Status         Status          `json:"status"`
	IdempotencyKey string          `json:"-"`
	RequestHash    string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LedgerReason tags why a request-tied balance mutation happened.
type LedgerReason string

const (
	ReasonDebitOnRequest  LedgerReason = "debit_on_request"
	ReasonCreditOnFailure LedgerReason = "credit_on_failure"
)

// LedgerEvent is one request-tied balance mutation.
// Amount is negative for debits and positive for credit-backs.
type LedgerEvent struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        LedgerReason    `json:"reason"`
	RequestNumber string          `json:"request_number"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Deposit is an administrator-issued balance increase, audited separately from ledger events.
type Deposit struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Transition is the outcome of applying a status to a pending request.
type Transition struct {
	Request  TopupRequest `json:"request"`
	Previous Status       `json:"previous_status"`
	Credit   *LedgerEvent `json:"credit,omitempty"`
}

// Reconciliation compares an account's balance with its ledger history.
// Consistent holds when Balance == InitialBalance + Deposits + LedgerSum.
type Reconciliation struct {
	AccountID      int64           `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Deposits       decimal.Decimal `json:"deposits"`
	LedgerSum      decimal.Decimal `json:"ledger_sum"`
	Consistent     bool            `json:"consistent"`
}

// DashboardStats summarises an account's activity for the dashboard landing page.
type DashboardStats struct {
	TodayCount      int             `json:"today_count"`
	PendingCount    int             `json:"pending_count"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

// TopupFilter narrows operation-history queries. A nil AccountID means every account.
type TopupFilter struct {
	AccountID *int64
	Status    Status
	Limit     int
}

// Principal is the authenticated caller.
type Principal struct {
	AccountID int64
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

func (p Principal) IsAdministrator() bool {
	return p.Role == RoleAdministrator
}

// CanAccess reports whether the caller may read data belonging to accountID.
func (p Principal) CanAccess(accountID int64) bool {
	return p.IsAdministrator() || p.AccountID == accountID
}
