// Package memory implements store.Store in process memory for local runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps everything behind a single lock, so every ledger operation is serialized.
type Store struct {
	mu sync.RWMutex

	now func() time.Time

	accounts map[int64]*domain.Account
	nextID   int64

	// Request storage, in creation order
	topups  map[string]*domain.TopupRequest
	ordered []string

	events   []domain.LedgerEvent
	deposits []domain.Deposit
	eventID  int64
}

func New() *Store {
	return &Store{
		now:      time.Now,
		accounts: make(map[int64]*domain.Account),
		topups:   make(map[string]*domain.TopupRequest),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() {}

// money rounds d to minor units, failing where the PostgreSQL store would.
func money(d decimal.Decimal) (decimal.Decimal, error) {
	minor, err := domain.ToMinor(d)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.FromMinor(minor), nil
}

// Account Store implementation
func (s *Store) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, a.Username) {
			return domain.ErrUsernameTaken
		}
	}

	initial, err := money(a.InitialBalance)
	if err != nil {
		return err
	}

	s.nextID++
	now := s.now()
	a.ID = s.nextID
	a.InitialBalance = initial
	a.Balance = a.InitialBalance
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := *a
	s.accounts[a.ID] = &stored
	return nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			out := *a
			return &out, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *Store) ListAccounts(context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) UpdateAccount(_ context.Context, id int64, upd store.AccountUpdate) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if upd.DisplayName != nil {
		a.DisplayName = *upd.DisplayName
	}
	if upd.Phone != nil {
		a.Phone = *upd.Phone
	}
	if upd.CommissionRate != nil {
		a.CommissionRate = *upd.CommissionRate
	}
	if upd.Active != nil {
		a.Active = *upd.Active
	}
	a.UpdatedAt = s.now()

	out := *a
	return &out, nil
}

// Ledger Store implementation
func (s *Store) CreateTopup(_ context.Context, req *domain.TopupRequest) (*domain.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[req.AccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if !a.Active {
		return nil, domain.ErrAccountInactive
	}
	cost, err := money(req.Cost)
	if err != nil {
		return nil, err
	}
	face, err := money(req.FaceValue)
	if err != nil {
		return nil, err
	}
	commission, err := money(req.Commission)
	if err != nil {
		return nil, err
	}
	if a.Balance.LessThan(cost) {
		return nil, domain.ErrInsufficientBalance
	}
	if req.IdempotencyKey != "" {
		for _, t := range s.topups {
			if t.AccountID == req.AccountID && t.IdempotencyKey == req.IdempotencyKey {
				return nil, domain.ErrIdempotencyConflict
			}
		}
	}
	if _, exists := s.topups[req.RequestNumber]; exists {
		return nil, domain.ErrIdempotencyConflict
	}

	now := s.now()
	a.Balance = a.Balance.Sub(cost)
	a.UpdatedAt = now

	req.FaceValue = face
	req.Cost = cost
	req.Commission = commission
	req.Status = domain.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now
	stored := *req
	s.topups[req.RequestNumber] = &stored
	s.ordered = append(s.ordered, req.RequestNumber)

	ev := s.appendEvent(domain.LedgerEvent{
		AccountID:     a.ID,
		Amount:        cost.Neg(),
		Reason:        domain.ReasonDebitOnRequest,
		RequestNumber: req.RequestNumber,
		BalanceAfter:  a.Balance,
		CreatedAt:     now,
	})
	return &ev, nil
}

func (s *Store) appendEvent(ev domain.LedgerEvent) domain.LedgerEvent {
	s.eventID++
	ev.ID = s.eventID
	s.events = append(s.events, ev)
	return ev
}

func (s *Store) hasEvent(requestNumber string, reason domain.LedgerReason) bool {
	for _, ev := range s.events {
		if ev.RequestNumber == requestNumber && ev.Reason == reason {
			return true
		}
	}
	return false
}

func (s *Store) ApplyStatus(_ context.Context, requestNumber string, status domain.Status) (*domain.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.topups[requestNumber]
	if !ok {
		return nil, domain.ErrUnknownRequestNumber
	}
	if req.Status.IsTerminal() || req.Status == status {
		return nil, domain.ErrDuplicateWebhook
	}

	now := s.now()
	tr := &domain.Transition{Previous: req.Status}
	if status.IsFailure() {
		if s.hasEvent(requestNumber, domain.ReasonCreditOnFailure) {
			return nil, domain.ErrDuplicateWebhook
		}
		a := s.accounts[req.AccountID]
		a.Balance = a.Balance.Add(req.Cost)
		a.UpdatedAt = now
		ev := s.appendEvent(domain.LedgerEvent{
			AccountID:     a.ID,
			Amount:        req.Cost,
			Reason:        domain.ReasonCreditOnFailure,
			RequestNumber: requestNumber,
			BalanceAfter:  a.Balance,
			CreatedAt:     now,
		})
		tr.Credit = &ev
	}
	req.Status = status
	req.UpdatedAt = now

	tr.Request = *req
	return tr, nil
}

func (s *Store) Deposit(_ context.Context, in store.DepositInput) (*domain.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[in.AccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	amount, err := money(in.Amount)
	if err != nil {
		return nil, err
	}
	balance := a.Balance.Add(amount)
	if _, err := domain.ToMinor(balance); err != nil {
		return nil, domain.Invalid("amount", "resulting balance out of range")
	}

	now := s.now()
	a.Balance = balance
	a.UpdatedAt = now

	d := domain.Deposit{
		ID:           int64(len(s.deposits) + 1),
		AccountID:    a.ID,
		Amount:       amount,
		Note:         in.Note,
		CreatedBy:    in.CreatedBy,
		BalanceAfter: a.Balance,
		CreatedAt:    now,
	}
	s.deposits = append(s.deposits, d)
	return &d, nil
}

func (s *Store) ListLedgerEvents(_ context.Context, accountID int64) ([]domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	var result []domain.LedgerEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].AccountID == accountID {
			result = append(result, s.events[i])
		}
	}
	return result, nil
}

func (s *Store) ListDeposits(_ context.Context, accountID int64) ([]domain.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	var result []domain.Deposit
	for i := len(s.deposits) - 1; i >= 0; i-- {
		if s.deposits[i].AccountID == accountID {
			result = append(result, s.deposits[i])
		}
	}
	return result, nil
}

func (s *Store) Reconcile(_ context.Context, accountID int64) (*domain.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	deposits, ledgerSum := decimal.Zero, decimal.Zero
	for _, d := range s.deposits {
		if d.AccountID == accountID {
			deposits = deposits.Add(d.Amount)
		}
	}
	for _, ev := range s.events {
		if ev.AccountID == accountID {
			ledgerSum = ledgerSum.Add(ev.Amount)
		}
	}

	return &domain.Reconciliation{
		AccountID:      accountID,
		Balance:        a.Balance,
		InitialBalance: a.InitialBalance,
		Deposits:       deposits,
		LedgerSum:      ledgerSum,
		Consistent:     a.Balance.Equal(a.InitialBalance.Add(deposits).Add(ledgerSum)),
	}, nil
}

// Topup Store implementation
func (s *Store) GetTopup(_ context.Context, requestNumber string) (*domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.topups[requestNumber]
	if !ok {
		return nil, domain.ErrUnknownRequestNumber
	}
	out := *r
	return &out, nil
}

func (s *Store) FindTopupByIdempotencyKey(_ context.Context, accountID int64, key string) (*domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.topups {
		if r.AccountID == accountID && r.IdempotencyKey == key {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListTopups(_ context.Context, filter domain.TopupFilter) ([]domain.TopupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TopupRequest, 0)
	for i := len(s.ordered) - 1; i >= 0; i-- {
		r := s.topups[s.ordered[i]]
		if filter.AccountID != nil && r.AccountID != *filter.AccountID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		result = append(result, *r)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) DashboardStats(_ context.Context, accountID int64, day time.Time) (*domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	stats := &domain.DashboardStats{TotalCommission: decimal.Zero}
	for _, r := range s.topups {
		if accountID != 0 && r.AccountID != accountID {
			continue
		}
		if !r.CreatedAt.Before(start) && r.CreatedAt.Before(end) {
			stats.TodayCount++
		}
		switch r.Status {
		case domain.StatusPending:
			stats.PendingCount++
		case domain.StatusSent:
			stats.TotalCommission = stats.TotalCommission.Add(r.Commission)
		}
	}
	return stats, nil
}
