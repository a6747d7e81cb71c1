package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/auth"
	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

var maxCommissionRate = decimal.NewFromInt(100)

type ProvisionInput struct {
	Username       string          `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password       string          `json:"password" validate:"required,min=6,max=72"`
	DisplayName    string          `json:"display_name" validate:"max=100"`
	Phone          string          `json:"phone" validate:"omitempty,dzphone"`
	Role           domain.Role     `json:"role" validate:"omitempty,oneof=administrator agent"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

type UpdateInput struct {
	DisplayName    *string          `json:"display_name"`
	Phone          *string          `json:"phone"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
	Active         *bool            `json:"active"`
}

type DepositInput struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=200"`
}

type AccountService struct {
	store store.Store
	log   *zap.Logger
}

func NewAccountService(st store.Store, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{store: st, log: log}
}

func requireAdministrator(p domain.Principal) error {
	if !p.IsAdministrator() {
		return domain.ErrForbidden
	}
	return nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxCommissionRate) {
		return domain.Invalid("commission_rate", "must be between 0 and 100")
	}
	return nil
}

func validateAmount(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return domain.Invalid(field, "at most two decimal places")
	}
	return domain.CheckAmount(field, amount)
}

// Provision creates an account whose balance starts at InitialBalance.
func (s *AccountService) Provision(ctx context.Context, p domain.Principal, in ProvisionInput) (*domain.Account, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Phone = normalizePhone(in.Phone)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.InitialBalance.IsNegative() {
		return nil, domain.Invalid("initial_balance", "must not be negative")
	}
	if err := validateAmount("initial_balance", in.InitialBalance); err != nil {
		return nil, err
	}
	if err := validateRate(in.CommissionRate); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = domain.RoleAgent
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	a := &domain.Account{
		Username:       in.Username,
		DisplayName:    strings.TrimSpace(in.DisplayName),
		Phone:          in.Phone,
		PasswordHash:   hash,
		Role:           in.Role,
		InitialBalance: in.InitialBalance,
		CommissionRate: in.CommissionRate,
		Active:         true,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info("account provisioned",
		zap.Int64("account_id", a.ID),
		zap.String("username", a.Username),
		zap.String("role", string(a.Role)),
		zap.Int64("by", p.AccountID),
	)
	return a, nil
}

// Update changes provisioning fields. Administrators cannot deactivate themselves.
func (s *AccountService) Update(ctx context.Context, p domain.Principal, id int64, in UpdateInput) (*domain.Account, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	if in.CommissionRate != nil {
		if err := validateRate(*in.CommissionRate); err != nil {
			return nil, err
		}
	}
	if in.Phone != nil {
		phone := normalizePhone(*in.Phone)
		if phone != "" && !dzPhone.MatchString(phone) {
			return nil, domain.Invalid("phone", "must be an Algerian mobile number")
		}
		in.Phone = &phone
	}
	if in.Active != nil && !*in.Active && id == p.AccountID {
		return nil, domain.Invalid("active", "cannot deactivate your own account")
	}

	a, err := s.store.UpdateAccount(ctx, id, store.AccountUpdate{
		DisplayName:    in.DisplayName,
		Phone:          in.Phone,
		CommissionRate: in.CommissionRate,
		Active:         in.Active,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account updated", zap.Int64("account_id", id), zap.Int64("by", p.AccountID))
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, p domain.Principal, id int64) (*domain.Account, error) {
	if !p.CanAccess(id) {
		return nil, domain.ErrForbidden
	}
	return s.store.GetAccount(ctx, id)
}

func (s *AccountService) List(ctx context.Context, p domain.Principal) ([]domain.Account, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx)
}

// Deposit credits a positive amount and audits it against the acting administrator.
func (s *AccountService) Deposit(ctx context.Context, p domain.Principal, id int64, in DepositInput) (*domain.Deposit, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	in.Note = strings.TrimSpace(in.Note)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be positive")
	}
	if err := validateAmount("amount", in.Amount); err != nil {
		return nil, err
	}

	d, err := s.store.Deposit(ctx, store.DepositInput{
		AccountID: id,
		Amount:    in.Amount,
		Note:      in.Note,
		CreatedBy: p.AccountID,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("deposit recorded",
		zap.Int64("account_id", id),
		zap.String("amount", d.Amount.StringFixed(2)),
		zap.String("balance_after", d.BalanceAfter.StringFixed(2)),
		zap.Int64("by", p.AccountID),
	)
	return d, nil
}

func (s *AccountService) Deposits(ctx context.Context, p domain.Principal, id int64) ([]domain.Deposit, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	return s.store.ListDeposits(ctx, id)
}

func (s *AccountService) Ledger(ctx context.Context, p domain.Principal, id int64) ([]domain.LedgerEvent, error) {
	if !p.CanAccess(id) {
		return nil, domain.ErrForbidden
	}
	return s.store.ListLedgerEvents(ctx, id)
}

// Reconcile checks balance == initial + deposits + ledger events for one account.
func (s *AccountService) Reconcile(ctx context.Context, p domain.Principal, id int64) (*domain.Reconciliation, error) {
	if err := requireAdministrator(p); err != nil {
		return nil, err
	}
	rec, err := s.store.Reconcile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Consistent {
		s.log.Error("ledger drift detected",
			zap.Int64("account_id", id),
			zap.String("balance", rec.Balance.StringFixed(2)),
			zap.String("expected", rec.InitialBalance.Add(rec.Deposits).Add(rec.LedgerSum).StringFixed(2)),
		)
	}
	return rec, nil
}

// EnsureAdministrator creates the bootstrap administrator when no account carries username.
// It reports whether an account was created.
func (s *AccountService) EnsureAdministrator(ctx context.Context, username, password string) (bool, error) {
	existing, err := s.store.GetAccountByUsername(ctx, username)
	if err == nil {
		if existing.Role != domain.RoleAdministrator {
			return false, errors.New("bootstrap username belongs to a non-administrator account")
		}
		return false, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return false, err
	}
	if password == "" {
		return false, errors.New("ADMIN_PASSWORD is required to create the first administrator")
	}

	root := domain.Principal{Role: domain.RoleAdministrator}
	a, err := s.Provision(ctx, root, ProvisionInput{
		Username:    username,
		Password:    password,
		DisplayName: "Administrator",
		Role:        domain.RoleAdministrator,
	})
	if err != nil {
		return false, err
	}
	s.log.Info("bootstrap administrator created", zap.Int64("account_id", a.ID))
	return true, nil
}
