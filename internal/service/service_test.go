package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/pricing"
	"github.com/punchamoorthee/flexyledger/internal/provider"
	"github.com/punchamoorthee/flexyledger/internal/store/memory"
)

const webhookSecret = "whsec_test"

type mockProvider struct {
	createFn  func(ctx context.Context, order provider.Order) error
	balanceFn func(ctx context.Context) (decimal.Decimal, error)

	mu     sync.Mutex
	orders []provider.Order
}

var _ Provider = (*mockProvider)(nil)

func (m *mockProvider) CreateTopup(ctx context.Context, order provider.Order) error {
	m.mu.Lock()
	m.orders = append(m.orders, order)
	m.mu.Unlock()
	if m.createFn == nil {
		return nil
	}
	return m.createFn(ctx, order)
}

func (m *mockProvider) Balance(ctx context.Context) (decimal.Decimal, error) {
	if m.balanceFn == nil {
		return decimal.Zero, nil
	}
	return m.balanceFn(ctx)
}

type env struct {
	store    *memory.Store
	provider *mockProvider
	topups   *TopupService
	accounts *AccountService
	admin    domain.Principal
	agent    domain.Principal
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEnv(t *testing.T, agentBalance string) *env {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	admin := &domain.Account{Username: "admin", Role: domain.RoleAdministrator, Active: true}
	require.NoError(t, st.CreateAccount(ctx, admin))
	agent := &domain.Account{
		Username:       "kiosk1",
		Role:           domain.RoleAgent,
		InitialBalance: dec(agentBalance),
		CommissionRate: dec("1"),
		Active:         true,
	}
	require.NoError(t, st.CreateAccount(ctx, agent))

	mp := &mockProvider{}
	svc := NewTopupService(st, mp, pricing.DefaultTable(), TopupConfig{
		MinValue:        dec("10"),
		MaxValue:        dec("5000"),
		WebhookSecret:   webhookSecret,
		ProviderTimeout: time.Second,
	}, nil)

	return &env{
		store:    st,
		provider: mp,
		topups:   svc,
		accounts: NewAccountService(st, nil),
		admin:    domain.Principal{AccountID: admin.ID, Role: domain.RoleAdministrator},
		agent:    domain.Principal{AccountID: agent.ID, Role: domain.RoleAgent},
	}
}

func (e *env) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	a, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (e *env) webhook(t *testing.T, number string, status domain.Status) (*WebhookResult, error) {
	t.Helper()
	body := []byte(`{"payload":{"request_number":"` + number + `","status":"` + string(status) + `"}}`)
	return e.topups.HandleWebhook(context.Background(), body, provider.Sign(webhookSecret, body))
}

func (e *env) requireConsistent(t *testing.T, id int64) {
	t.Helper()
	rec, err := e.store.Reconcile(context.Background(), id)
	require.NoError(t, err)
	require.True(t, rec.Consistent)
}

func ooredoo(value string) TopupInput {
	return TopupInput{
		CustomerName: "Amine",
		PhoneNumber:  "0555 12 34 56",
		Operator:     "Ooredoo",
		FaceValue:    dec(value),
	}
}
