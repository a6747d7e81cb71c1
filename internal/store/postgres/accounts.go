package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

const accountColumns = `id, username, display_name, phone, password_hash, role, balance,
	initial_balance, commission_rate::text, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a                domain.Account
		role, rate       string
		balance, initial int64
	)
	err := row.Scan(&a.ID, &a.Username, &a.DisplayName, &a.Phone, &a.PasswordHash, &role,
		&balance, &initial, &rate, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.CommissionRate, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("commission rate %q: %w", rate, err)
	}
	a.Role = domain.Role(role)
	a.Balance = domain.FromMinor(balance)
	a.InitialBalance = domain.FromMinor(initial)
	return &a, nil
}

// CreateAccount provisions an account whose balance starts at InitialBalance.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	initial, err := domain.ToMinor(a.InitialBalance)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO accounts (username, display_name, phone, password_hash, role, balance,
			initial_balance, commission_rate, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $6, $7::numeric, $8)
		 RETURNING id, created_at, updated_at`,
		a.Username, a.DisplayName, a.Phone, a.PasswordHash, string(a.Role), initial,
		a.CommissionRate.String(), a.Active,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "accounts_username_lower_key") {
			return domain.ErrUsernameTaken
		}
		return fmt.Errorf("account insert failed: %w", err)
	}
	a.Balance = domain.FromMinor(initial)
	a.InitialBalance = a.Balance
	return nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE lower(username) = lower($1)", username))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("account list failed: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateAccount changes provisioning fields only; the balance is never touched here.
func (s *Store) UpdateAccount(ctx context.Context, id int64, upd store.AccountUpdate) (*domain.Account, error) {
	var rate *string
	if upd.CommissionRate != nil {
		r := upd.CommissionRate.String()
		rate = &r
	}

	a, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts SET
			display_name    = COALESCE($2, display_name),
			phone           = COALESCE($3, phone),
			commission_rate = COALESCE($4::numeric, commission_rate),
			is_active       = COALESCE($5, is_active),
			updated_at      = NOW()
		 WHERE id = $1
		 RETURNING `+accountColumns,
		id, upd.DisplayName, upd.Phone, rate, upd.Active,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account update failed: %w", err)
	}
	return a, nil
}
