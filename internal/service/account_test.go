package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flexyledger/internal/auth"
	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/session"
)

func TestProvision(t *testing.T) {
	e := newEnv(t, "0")
	ctx := context.Background()

	_, err := e.accounts.Provision(ctx, e.agent, ProvisionInput{Username: "x123", Password: "secret1"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	a, err := e.accounts.Provision(ctx, e.admin, ProvisionInput{
		Username:       "kiosk2",
		Password:       "secret1",
		Phone:          "0661 23 45 67",
		InitialBalance: dec("250.50"),
		CommissionRate: dec("1.5"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAgent, a.Role)
	require.Equal(t, "0661234567", a.Phone)
	require.True(t, a.Balance.Equal(dec("250.50")))
	require.NotEqual(t, "secret1", a.PasswordHash)

	_, err = e.accounts.Provision(ctx, e.admin, ProvisionInput{Username: "KIOSK2", Password: "secret1"})
	require.ErrorIs(t, err, domain.ErrUsernameTaken)

	invalid := []ProvisionInput{
		{Username: "ab", Password: "secret1"},
		{Username: "kiosk 3", Password: "secret1"},
		{Username: "kiosk3", Password: "123"},
		{Username: "kiosk3", Password: "secret1", Role: "root"},
		{Username: "kiosk3", Password: "secret1", InitialBalance: dec("-1")},
		{Username: "kiosk3", Password: "secret1", CommissionRate: dec("101")},
		{Username: "kiosk3", Password: "secret1", Phone: "12345"},
	}
	for _, in := range invalid {
		_, err := e.accounts.Provision(ctx, e.admin, in)
		require.ErrorIs(t, err, domain.ErrInvalidInput, "%+v", in)
	}
}

func TestUpdate(t *testing.T) {
	e := newEnv(t, "100")
	ctx := context.Background()

	name := "Kiosk Bab Ezzouar"
	rate := dec("2")
	a, err := e.accounts.Update(ctx, e.admin, e.agent.AccountID, UpdateInput{DisplayName: &name, CommissionRate: &rate})
	require.NoError(t, err)
	require.Equal(t, name, a.DisplayName)
	require.True(t, a.CommissionRate.Equal(rate))
	require.True(t, a.Balance.Equal(dec("100")))

	_, err = e.accounts.Update(ctx, e.agent, e.agent.AccountID, UpdateInput{DisplayName: &name})
	require.ErrorIs(t, err, domain.ErrForbidden)

	off := false
	_, err = e.accounts.Update(ctx, e.admin, e.admin.AccountID, UpdateInput{Active: &off})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.accounts.Update(ctx, e.admin, 999, UpdateInput{DisplayName: &name})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGetAndLedgerAccess(t *testing.T) {
	e := newEnv(t, "100")
	ctx := context.Background()

	_, err := e.accounts.Get(ctx, e.agent, e.agent.AccountID)
	require.NoError(t, err)
	_, err = e.accounts.Get(ctx, e.agent, e.admin.AccountID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = e.accounts.Ledger(ctx, e.agent, e.admin.AccountID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.accounts.List(ctx, e.agent)
	require.ErrorIs(t, err, domain.ErrForbidden)

	list, err := e.accounts.List(ctx, e.admin)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestDepositAndReconcile(t *testing.T) {
	e := newEnv(t, "100")
	ctx := context.Background()

	d, err := e.accounts.Deposit(ctx, e.admin, e.agent.AccountID, DepositInput{Amount: dec("50.25"), Note: " weekly cash "})
	require.NoError(t, err)
	require.Equal(t, "weekly cash", d.Note)
	require.Equal(t, e.admin.AccountID, d.CreatedBy)
	require.True(t, d.BalanceAfter.Equal(dec("150.25")))

	_, err = e.accounts.Deposit(ctx, e.agent, e.agent.AccountID, DepositInput{Amount: dec("1")})
	require.ErrorIs(t, err, domain.ErrForbidden)
	for _, amt := range []string{"0", "-5", "1.001"} {
		_, err = e.accounts.Deposit(ctx, e.admin, e.agent.AccountID, DepositInput{Amount: dec(amt)})
		require.ErrorIs(t, err, domain.ErrInvalidInput, amt)
	}
	_, err = e.accounts.Deposit(ctx, e.admin, 999, DepositInput{Amount: dec("1")})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = e.topups.Create(ctx, e.agent, ooredoo("100"), "", "")
	require.NoError(t, err)

	deposits, err := e.accounts.Deposits(ctx, e.admin, e.agent.AccountID)
	require.NoError(t, err)
	require.Len(t, deposits, 1)

	rec, err := e.accounts.Reconcile(ctx, e.admin, e.agent.AccountID)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
	require.True(t, rec.Balance.Equal(dec("52.75")))
	require.True(t, rec.LedgerSum.Equal(dec("-97.50")))

	_, err = e.accounts.Reconcile(ctx, e.agent, e.agent.AccountID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDepositRejectsOversizedAmounts(t *testing.T) {
	e := newEnv(t, "100")
	ctx := context.Background()

	for _, amt := range []string{"184467440737095516.21", "92233720368547758.08", "1000000000.01"} {
		_, err := e.accounts.Deposit(ctx, e.admin, e.agent.AccountID, DepositInput{Amount: dec(amt)})
		require.ErrorIs(t, err, domain.ErrInvalidInput, amt)
	}
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("100")))

	d, err := e.accounts.Deposit(ctx, e.admin, e.agent.AccountID, DepositInput{Amount: domain.MaxAmount})
	require.NoError(t, err)
	require.True(t, d.BalanceAfter.Equal(domain.MaxAmount.Add(dec("100"))))
	e.requireConsistent(t, e.agent.AccountID)

	_, err = e.accounts.Provision(ctx, e.admin, ProvisionInput{
		Username:       "whale1",
		Password:       "secret1",
		InitialBalance: dec("92233720368547758.08"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEnsureAdministrator(t *testing.T) {
	e := newEnv(t, "0")
	ctx := context.Background()

	created, err := e.accounts.EnsureAdministrator(ctx, "admin", "")
	require.NoError(t, err)
	require.False(t, created)

	_, err = e.accounts.EnsureAdministrator(ctx, "kiosk1", "whatever")
	require.Error(t, err)

	_, err = e.accounts.EnsureAdministrator(ctx, "root", "")
	require.Error(t, err)

	created, err = e.accounts.EnsureAdministrator(ctx, "root", "changeme")
	require.NoError(t, err)
	require.True(t, created)

	a, err := e.store.GetAccountByUsername(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdministrator, a.Role)
	require.True(t, auth.CheckPassword(a.PasswordHash, "changeme"))
}

func TestAuthService(t *testing.T) {
	e := newEnv(t, "0")
	ctx := context.Background()

	_, err := e.accounts.Provision(ctx, e.admin, ProvisionInput{Username: "kiosk9", Password: "secret9"})
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("test", time.Hour)
	require.NoError(t, err)
	svc := NewAuthService(e.store, issuer, session.NewMemoryRevoker(), nil)

	_, err = svc.Login(ctx, "kiosk9", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody", "secret9")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	res, err := svc.Login(ctx, "Kiosk9", "secret9")
	require.NoError(t, err)
	require.Equal(t, "kiosk9", res.Account.Username)

	p, err := svc.Authenticate(ctx, "Bearer "+res.Token)
	require.NoError(t, err)
	require.Equal(t, res.Account.ID, p.AccountID)
	require.Equal(t, domain.RoleAgent, p.Role)

	require.NoError(t, svc.Logout(ctx, p))
	_, err = svc.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	// deactivation applies to live tokens and blocks new logins
	res, err = svc.Login(ctx, "kiosk9", "secret9")
	require.NoError(t, err)
	off := false
	_, err = e.accounts.Update(ctx, e.admin, res.Account.ID, UpdateInput{Active: &off})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, domain.ErrAccountInactive)
	_, err = svc.Login(ctx, "kiosk9", "secret9")
	require.ErrorIs(t, err, domain.ErrAccountInactive)
}
