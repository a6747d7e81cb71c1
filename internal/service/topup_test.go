package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/provider"
)

func TestCreate_SuccessThenSentWebhook(t *testing.T) {
	e := newEnv(t, "1000.00")
	ctx := context.Background()

	res, err := e.topups.Create(ctx, e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, res.Request.Status)
	require.True(t, res.Request.Cost.Equal(dec("487.50")))
	require.True(t, res.Request.Commission.Equal(dec("5")))
	require.True(t, res.BalanceAfter.Equal(dec("512.50")))
	require.Equal(t, "ooredoo", res.Request.Operator)
	require.Equal(t, "0555123456", res.Request.PhoneNumber)
	require.Empty(t, res.ProviderError)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("512.50")))

	require.Len(t, e.provider.orders, 1)
	require.Equal(t, res.Request.RequestNumber, e.provider.orders[0].RequestNumber)
	require.Equal(t, "normal", e.provider.orders[0].Mode)

	out, err := e.webhook(t, res.Request.RequestNumber, domain.StatusSent)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out.Outcome)
	require.Nil(t, out.Transition.Credit)

	got, err := e.topups.Get(ctx, e.agent, res.Request.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, got.Status)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("512.50")))
	e.requireConsistent(t, e.agent.AccountID)
}

func TestCreate_ProviderFailureReverses(t *testing.T) {
	e := newEnv(t, "1000.00")
	e.provider.createFn = func(context.Context, provider.Order) error {
		return &provider.Error{Message: "operator unreachable"}
	}

	res, err := e.topups.Create(context.Background(), e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, res.Request.Status)
	require.Equal(t, "operator unreachable", res.ProviderError)
	require.True(t, res.BalanceAfter.Equal(dec("1000")))
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("1000")))

	// a late failure report must not credit again
	out, err := e.webhook(t, res.Request.RequestNumber, domain.StatusFailed)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, out.Outcome)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("1000")))

	events, err := e.store.ListLedgerEvents(context.Background(), e.agent.AccountID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	e.requireConsistent(t, e.agent.AccountID)
}

func TestCreate_CompensatesAfterCallerCancels(t *testing.T) {
	e := newEnv(t, "100.00")
	ctx, cancel := context.WithCancel(context.Background())
	e.provider.createFn = func(pctx context.Context, _ provider.Order) error {
		cancel()
		<-pctx.Done()
		return pctx.Err()
	}

	res, err := e.topups.Create(ctx, e.agent, ooredoo("50"), "", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, res.Request.Status)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("100")))
	e.requireConsistent(t, e.agent.AccountID)
}

func TestCreate_WebhookFailureCreditsOnce(t *testing.T) {
	e := newEnv(t, "1000.00")

	res, err := e.topups.Create(context.Background(), e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)

	out, err := e.webhook(t, res.Request.RequestNumber, domain.StatusFailed)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out.Outcome)
	require.NotNil(t, out.Transition.Credit)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("1000")))

	for i := 0; i < 3; i++ {
		out, err = e.webhook(t, res.Request.RequestNumber, domain.StatusFailed)
		require.NoError(t, err)
		require.Equal(t, OutcomeDuplicate, out.Outcome)
	}
	// a conflicting terminal report after failure is ignored too
	out, err = e.webhook(t, res.Request.RequestNumber, domain.StatusSent)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, out.Outcome)

	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("1000")))
	got, err := e.store.GetTopup(context.Background(), res.Request.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
	e.requireConsistent(t, e.agent.AccountID)
}

func TestCreate_RejectedAndExpiredCredit(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusRejected, domain.StatusExpired} {
		t.Run(string(st), func(t *testing.T) {
			e := newEnv(t, "300.00")
			res, err := e.topups.Create(context.Background(), e.agent, ooredoo("200"), "", "")
			require.NoError(t, err)

			out, err := e.webhook(t, res.Request.RequestNumber, st)
			require.NoError(t, err)
			require.NotNil(t, out.Transition.Credit)
			require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("300")))
		})
	}
}

func TestCreate_InsufficientBalance(t *testing.T) {
	e := newEnv(t, "100.00")

	_, err := e.topups.Create(context.Background(), e.agent, ooredoo("200"), "", "")
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Empty(t, e.provider.orders)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("100")))

	list, err := e.topups.List(context.Background(), e.agent, ListOptions{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreate_Validation(t *testing.T) {
	e := newEnv(t, "10000")

	cases := []struct {
		name  string
		in    TopupInput
		field string
	}{
		{"missing phone", TopupInput{Operator: "djezzy", FaceValue: dec("100")}, "phone_number"},
		{"bad phone", TopupInput{PhoneNumber: "0212345678", Operator: "djezzy", FaceValue: dec("100")}, "phone_number"},
		{"unknown operator", TopupInput{PhoneNumber: "0661234567", Operator: "orange", FaceValue: dec("100")}, "operator"},
		{"bad mode", TopupInput{PhoneNumber: "0661234567", Operator: "djezzy", Mode: "turbo", FaceValue: dec("100")}, "mode"},
		{"below minimum", TopupInput{PhoneNumber: "0661234567", Operator: "djezzy", FaceValue: dec("9.99")}, "face_value"},
		{"above maximum", TopupInput{PhoneNumber: "0661234567", Operator: "djezzy", FaceValue: dec("5000.01")}, "face_value"},
		{"zero", TopupInput{PhoneNumber: "0661234567", Operator: "djezzy", FaceValue: decimal.Zero}, "face_value"},
		{"fractional centimes", TopupInput{PhoneNumber: "0661234567", Operator: "djezzy", FaceValue: dec("100.005")}, "face_value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.topups.Create(context.Background(), e.agent, tc.in, "", "")
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			var verr domain.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tc.field, verr.Field)
		})
	}
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("10000")))
}

func TestCreate_AcceptsInternationalPhoneAndModes(t *testing.T) {
	e := newEnv(t, "1000")

	in := TopupInput{PhoneNumber: "+213 770 12 34 56", Operator: "mobilis", Mode: "flexy", FaceValue: dec("200")}
	res, err := e.topups.Create(context.Background(), e.agent, in, "", "")
	require.NoError(t, err)
	require.True(t, res.Request.Cost.Equal(dec("197")))
	require.Equal(t, "flexy", e.provider.orders[0].Mode)
}

func TestCreate_IdempotencyKey(t *testing.T) {
	e := newEnv(t, "1000")
	ctx := context.Background()

	first, err := e.topups.Create(ctx, e.agent, ooredoo("100"), "key-1", "hash-a")
	require.NoError(t, err)
	require.False(t, first.Replayed)

	again, err := e.topups.Create(ctx, e.agent, ooredoo("100"), "key-1", "hash-a")
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, first.Request.RequestNumber, again.Request.RequestNumber)
	require.Len(t, e.provider.orders, 1)

	_, err = e.topups.Create(ctx, e.agent, ooredoo("200"), "key-1", "hash-b")
	require.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("902.50")))
}

func TestCreate_InactiveAccount(t *testing.T) {
	e := newEnv(t, "1000")
	off := false
	_, err := e.accounts.Update(context.Background(), e.admin, e.agent.AccountID, UpdateInput{Active: &off})
	require.NoError(t, err)

	_, err = e.topups.Create(context.Background(), e.agent, ooredoo("100"), "", "")
	require.ErrorIs(t, err, domain.ErrAccountInactive)
}

func TestNewRequestNumber(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	n := NewRequestNumber(at)
	require.Regexp(t, regexp.MustCompile(`^REQ-20250309140507-[0-9A-F]{8}$`), n)
	require.NotEqual(t, n, NewRequestNumber(at))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	e := newEnv(t, "1000")
	res, err := e.topups.Create(context.Background(), e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)

	body := []byte(`{"payload":{"request_number":"` + res.Request.RequestNumber + `","status":"failed"}}`)
	for _, sig := range []string{"", "deadbeef", provider.Sign("wrong-secret", body)} {
		_, err = e.topups.HandleWebhook(context.Background(), body, sig)
		require.ErrorIs(t, err, domain.ErrSignatureInvalid)
	}

	got, err := e.store.GetTopup(context.Background(), res.Request.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("512.50")))
}

func TestHandleWebhook_AcknowledgedOutcomes(t *testing.T) {
	e := newEnv(t, "1000")

	out, err := e.webhook(t, "REQ-20250101000000-00000000", domain.StatusSent)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknownRequest, out.Outcome)

	body := []byte(`{"payload":{}}`)
	out, err = e.topups.HandleWebhook(context.Background(), body, provider.Sign(webhookSecret, body))
	require.NoError(t, err)
	require.Equal(t, OutcomeMalformed, out.Outcome)
}

func TestHandleWebhook_UnknownStatusThenFailure(t *testing.T) {
	e := newEnv(t, "1000")
	res, err := e.topups.Create(context.Background(), e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)

	out, err := e.webhook(t, res.Request.RequestNumber, domain.Status("Processing"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out.Outcome)
	require.Nil(t, out.Transition.Credit)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("512.50")))

	stored, err := e.store.GetTopup(context.Background(), res.Request.RequestNumber)
	require.NoError(t, err)
	require.Equal(t, domain.Status("Processing"), stored.Status)

	out, err = e.webhook(t, res.Request.RequestNumber, domain.StatusFailed)
	require.NoError(t, err)
	require.NotNil(t, out.Transition.Credit)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("1000")))
}

func TestConservation_RandomLifecycle(t *testing.T) {
	e := newEnv(t, "20000")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	operators := []string{"ooredoo", "djezzy", "mobilis"}
	statuses := []domain.Status{domain.StatusSent, domain.StatusFailed, domain.StatusRejected, domain.StatusExpired, "processing"}

	failProvider := false
	e.provider.createFn = func(context.Context, provider.Order) error {
		if failProvider {
			return &provider.Error{Message: "down"}
		}
		return nil
	}

	var numbers []string
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			failProvider = rng.Intn(4) == 0
			in := TopupInput{
				PhoneNumber: "0555123456",
				Operator:    operators[rng.Intn(len(operators))],
				FaceValue:   decimal.NewFromInt(int64(10 + rng.Intn(500))),
			}
			res, err := e.topups.Create(ctx, e.agent, in, "", "")
			if err != nil {
				require.ErrorIs(t, err, domain.ErrInsufficientBalance)
				continue
			}
			numbers = append(numbers, res.Request.RequestNumber)
		case 1:
			if len(numbers) == 0 {
				continue
			}
			n := numbers[rng.Intn(len(numbers))]
			_, err := e.webhook(t, n, statuses[rng.Intn(len(statuses))])
			require.NoError(t, err)
		case 2:
			_, err := e.accounts.Deposit(ctx, e.admin, e.agent.AccountID, DepositInput{Amount: decimal.NewFromInt(int64(rng.Intn(100) + 1))})
			require.NoError(t, err)
		}
		e.requireConsistent(t, e.agent.AccountID)
	}

	// every debited amount is either still pending, delivered, or credited back exactly once
	list, err := e.topups.List(ctx, e.admin, ListOptions{Limit: maxListLimit})
	require.NoError(t, err)
	for _, r := range list {
		events, err := e.store.ListLedgerEvents(ctx, r.AccountID)
		require.NoError(t, err)
		credits := 0
		for _, ev := range events {
			if ev.RequestNumber == r.RequestNumber && ev.Reason == domain.ReasonCreditOnFailure {
				credits++
			}
		}
		if r.Status.IsFailure() {
			require.Equal(t, 1, credits, r.RequestNumber)
		} else {
			require.Zero(t, credits, r.RequestNumber)
		}
	}
}

func TestCreate_ConcurrentNeverOverdraws(t *testing.T) {
	e := newEnv(t, "1000")

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := ooredoo("100")
			in.CustomerName = fmt.Sprintf("c%d", i)
			_, err := e.topups.Create(context.Background(), e.agent, in, "", "")
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// 97.50 each: ten fit into 1000
	require.Equal(t, 10, accepted)
	require.True(t, e.balance(t, e.agent.AccountID).Equal(dec("25")))
	e.requireConsistent(t, e.agent.AccountID)
}

func TestGetAndList_Scoping(t *testing.T) {
	e := newEnv(t, "1000")
	ctx := context.Background()

	other, err := e.accounts.Provision(ctx, e.admin, ProvisionInput{Username: "kiosk2", Password: "secret1", InitialBalance: dec("500")})
	require.NoError(t, err)
	otherP := domain.Principal{AccountID: other.ID, Role: domain.RoleAgent}

	mine, err := e.topups.Create(ctx, e.agent, ooredoo("100"), "", "")
	require.NoError(t, err)
	_, err = e.topups.Create(ctx, otherP, ooredoo("100"), "", "")
	require.NoError(t, err)

	_, err = e.topups.Get(ctx, otherP, mine.Request.RequestNumber)
	require.ErrorIs(t, err, domain.ErrUnknownRequestNumber)
	_, err = e.topups.Get(ctx, e.admin, mine.Request.RequestNumber)
	require.NoError(t, err)

	// agents cannot widen their own filter
	list, err := e.topups.List(ctx, e.agent, ListOptions{AccountID: &other.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, e.agent.AccountID, list[0].AccountID)

	all, err := e.topups.List(ctx, e.admin, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestDashboard(t *testing.T) {
	e := newEnv(t, "1000")
	ctx := context.Background()

	res, err := e.topups.Create(ctx, e.agent, ooredoo("500"), "", "")
	require.NoError(t, err)
	_, err = e.topups.Create(ctx, e.agent, ooredoo("100"), "", "")
	require.NoError(t, err)
	_, err = e.webhook(t, res.Request.RequestNumber, domain.StatusSent)
	require.NoError(t, err)

	d, err := e.topups.Dashboard(ctx, e.agent)
	require.NoError(t, err)
	require.Equal(t, 2, d.Stats.TodayCount)
	require.Equal(t, 1, d.Stats.PendingCount)
	require.True(t, d.Stats.TotalCommission.Equal(dec("5")))
	require.Len(t, d.Recent, 2)
	require.True(t, d.Account.Balance.Equal(dec("415")))
}

func TestQuote(t *testing.T) {
	e := newEnv(t, "0")

	cases := []struct {
		op, value, mode, cost string
	}{
		{"ooredoo", "1000", "", "975.00"},
		{"djezzy", "500", "", "490.00"},
		{"mobilis", "200", "flexy", "197.00"},
	}
	for _, tc := range cases {
		q, err := e.topups.Quote(tc.op, dec(tc.value), tc.mode)
		require.NoError(t, err)
		require.True(t, q.Cost.Equal(dec(tc.cost)), "%s %s: %s", tc.op, tc.value, q.Cost)
	}

	_, err := e.topups.Quote("orange", dec("100"), "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProviderBalance(t *testing.T) {
	e := newEnv(t, "0")
	e.provider.balanceFn = func(context.Context) (decimal.Decimal, error) { return dec("1234.5"), nil }

	bal, err := e.topups.ProviderBalance(context.Background())
	require.NoError(t, err)
	require.True(t, bal.Equal(dec("1234.5")))
}
