// Package service implements the top-up request lifecycle, account administration and
// authentication on top of a store.Store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/metrics"
	"github.com/punchamoorthee/flexyledger/internal/pricing"
	"github.com/punchamoorthee/flexyledger/internal/provider"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	recentRequests   = 10

	// compensation runs detached from the caller, bounded by this timeout
	compensationTimeout = 10 * time.Second
)

// Provider is the upstream top-up API.
type Provider interface {
	CreateTopup(ctx context.Context, order provider.Order) error
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// TopupConfig bounds accepted requests and authenticates webhooks.
type TopupConfig struct {
	MinValue        decimal.Decimal
	MaxValue        decimal.Decimal
	WebhookSecret   string
	ProviderTimeout time.Duration
}

// TopupInput is a reseller's recharge order.
type TopupInput struct {
	CustomerName string          `json:"customer_name" validate:"max=100"`
	PhoneNumber  string          `json:"phone_number" validate:"required,dzphone"`
	Operator     string          `json:"operator" validate:"required"`
	Mode         string          `json:"mode" validate:"omitempty,oneof=normal flexy"`
	FaceValue    decimal.Decimal `json:"face_value"`
}

// TopupResult is what Create hands back to the caller.
type TopupResult struct {
	Request       domain.TopupRequest `json:"request"`
	BalanceAfter  *decimal.Decimal    `json:"balance_after,omitempty"`
	ProviderError string              `json:"provider_error,omitempty"`
	Replayed      bool                `json:"-"`
}

// WebhookResult describes how a delivery was handled. Every result is acknowledged.
type WebhookResult struct {
	Outcome    string             `json:"outcome"`
	Transition *domain.Transition `json:"-"`
}

const (
	OutcomeApplied        = "applied"
	OutcomeDuplicate      = "duplicate"
	OutcomeUnknownRequest = "unknown_request"
	OutcomeMalformed      = "malformed"
	OutcomeBadSignature   = "bad_signature"
	OutcomeError          = "error"
)

type ListOptions struct {
	AccountID *int64
	Status    domain.Status
	Limit     int
}

type Dashboard struct {
	Account domain.Account        `json:"account"`
	Stats   domain.DashboardStats `json:"stats"`
	Recent  []domain.TopupRequest `json:"recent"`
}

type Quote struct {
	Operator  string          `json:"operator"`
	Mode      string          `json:"mode,omitempty"`
	FaceValue decimal.Decimal `json:"face_value"`
	Discount  decimal.Decimal `json:"discount"`
	Cost      decimal.Decimal `json:"cost"`
}

type TopupService struct {
	store    store.Store
	provider Provider
	pricing  pricing.Table
	cfg      TopupConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewTopupService(st store.Store, p Provider, table pricing.Table, cfg TopupConfig, log *zap.Logger) *TopupService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TopupService{store: st, provider: p, pricing: table, cfg: cfg, log: log, now: time.Now}
}

// NewRequestNumber formats REQ-YYYYMMDDHHMMSS-XXXXXXXX with eight random upper-case hex digits.
func NewRequestNumber(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("REQ-%s-%X", now.Format("20060102150405"), id[:4])
}

func (s *TopupService) validate(in *TopupInput) error {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.PhoneNumber = normalizePhone(in.PhoneNumber)
	in.Operator = strings.ToLower(strings.TrimSpace(in.Operator))
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))

	if err := validateStruct(in); err != nil {
		return err
	}
	if !s.pricing.Knows(in.Operator) {
		return domain.Invalid("operator", "unsupported operator")
	}
	if !in.FaceValue.Equal(in.FaceValue.Round(2)) {
		return domain.Invalid("face_value", "at most two decimal places")
	}
	if err := domain.CheckAmount("face_value", in.FaceValue); err != nil {
		return err
	}
	if in.FaceValue.LessThan(s.cfg.MinValue) || in.FaceValue.GreaterThan(s.cfg.MaxValue) {
		return domain.Invalid("face_value", fmt.Sprintf("must be between %s and %s", s.cfg.MinValue, s.cfg.MaxValue))
	}
	return nil
}

// Create runs the full request flow: validate, replay, debit, submit, and compensate when the
// provider refuses. Provider failures are reported inside the result, never as an error.
func (s *TopupService) Create(ctx context.Context, p domain.Principal, in TopupInput, idempotencyKey, requestHash string) (*TopupResult, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	// 1. Idempotent replay
	if idempotencyKey != "" {
		existing, err := s.store.FindTopupByIdempotencyKey(ctx, p.AccountID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.RequestHash != requestHash {
				return nil, domain.ErrIdempotencyMismatch
			}
			return &TopupResult{Request: *existing, Replayed: true}, nil
		}
	}

	// 2. Pricing
	account, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, domain.ErrAccountInactive
	}
	cost, err := s.pricing.Cost(in.Operator, in.FaceValue, in.Mode)
	if err != nil {
		return nil, err
	}

	req := &domain.TopupRequest{
		RequestNumber:  NewRequestNumber(s.now()),
		AccountID:      account.ID,
		CustomerName:   in.CustomerName,
		PhoneNumber:    in.PhoneNumber,
		Operator:       in.Operator,
		Mode:           in.Mode,
		FaceValue:      in.FaceValue,
		Cost:           cost,
		Commission:     pricing.Commission(in.FaceValue, account.CommissionRate),
		IdempotencyKey: idempotencyKey,
		RequestHash:    requestHash,
	}

	// 3. Atomic debit + pending request
	debit, err := s.store.CreateTopup(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &TopupResult{Request: *req, BalanceAfter: &debit.BalanceAfter}
	s.log.Info("top-up debited",
		zap.String("request_number", req.RequestNumber),
		zap.Int64("account_id", req.AccountID),
		zap.String("operator", req.Operator),
		zap.String("cost", cost.StringFixed(2)),
		zap.String("balance_after", debit.BalanceAfter.StringFixed(2)),
	)

	// 4. Provider submission
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	perr := s.provider.CreateTopup(pctx, provider.NewOrder(*req))
	cancel()
	if perr == nil {
		metrics.ObserveTopup(req.Operator, domain.StatusPending)
		return result, nil
	}

	// 5. Compensation. The caller may already be gone; the reversal must still happen.
	s.log.Warn("provider rejected top-up, reversing debit",
		zap.String("request_number", req.RequestNumber),
		zap.Error(perr),
	)
	result.ProviderError = providerMessage(perr)

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer ccancel()
	tr, err := s.store.ApplyStatus(cctx, req.RequestNumber, domain.StatusFailed)
	switch {
	case err == nil:
		metrics.LedgerReversals.WithLabelValues("provider_error").Inc()
		result.Request = tr.Request
		if tr.Credit != nil {
			result.BalanceAfter = &tr.Credit.BalanceAfter
		}
	case errors.Is(err, domain.ErrDuplicateWebhook):
		// a webhook reached a terminal status first
		current, gerr := s.store.GetTopup(cctx, req.RequestNumber)
		if gerr != nil {
			return nil, gerr
		}
		result.Request = *current
		result.BalanceAfter = nil
	default:
		s.log.Error("debit reversal failed, request left pending",
			zap.String("request_number", req.RequestNumber),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reverse debit for %s: %w", req.RequestNumber, err)
	}
	metrics.ObserveTopup(req.Operator, result.Request.Status)
	return result, nil
}

func providerMessage(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}

// HandleWebhook authenticates and applies a provider status report. Only a bad signature or
// a store failure yields an error; every other delivery is acknowledged.
func (s *TopupService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if err := provider.VerifySignature(s.cfg.WebhookSecret, body, signature); err != nil {
		metrics.WebhookDeliveries.WithLabelValues(OutcomeBadSignature).Inc()
		s.log.Warn("webhook signature rejected")
		return nil, err
	}

	hook, err := provider.ParseWebhook(body)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(OutcomeMalformed).Inc()
		s.log.Warn("malformed webhook acknowledged", zap.Error(err))
		return &WebhookResult{Outcome: OutcomeMalformed}, nil
	}
	if !hook.Status.Known() {
		s.log.Warn("webhook carries unrecognized status, stored for manual review",
			zap.String("request_number", hook.RequestNumber),
			zap.String("status", string(hook.Status)),
		)
	}

	tr, err := s.store.ApplyStatus(ctx, hook.RequestNumber, hook.Status)
	switch {
	case errors.Is(err, domain.ErrUnknownRequestNumber):
		metrics.WebhookDeliveries.WithLabelValues(OutcomeUnknownRequest).Inc()
		s.log.Warn("webhook for unknown request acknowledged", zap.String("request_number", hook.RequestNumber))
		return &WebhookResult{Outcome: OutcomeUnknownRequest}, nil
	case errors.Is(err, domain.ErrDuplicateWebhook):
		metrics.WebhookDeliveries.WithLabelValues(OutcomeDuplicate).Inc()
		s.log.Info("duplicate webhook ignored",
			zap.String("request_number", hook.RequestNumber),
			zap.String("status", string(hook.Status)),
		)
		return &WebhookResult{Outcome: OutcomeDuplicate}, nil
	case err != nil:
		metrics.WebhookDeliveries.WithLabelValues(OutcomeError).Inc()
		return nil, err
	}

	metrics.WebhookDeliveries.WithLabelValues(OutcomeApplied).Inc()
	metrics.ObserveTopup(tr.Request.Operator, tr.Request.Status)
	fields := []zap.Field{
		zap.String("request_number", hook.RequestNumber),
		zap.String("from", string(tr.Previous)),
		zap.String("to", string(tr.Request.Status)),
	}
	if tr.Credit != nil {
		metrics.LedgerReversals.WithLabelValues("webhook").Inc()
		fields = append(fields, zap.String("credited", tr.Credit.Amount.StringFixed(2)))
	}
	s.log.Info("webhook applied", fields...)
	return &WebhookResult{Outcome: OutcomeApplied, Transition: tr}, nil
}

// Get hides requests of other accounts behind ErrUnknownRequestNumber.
func (s *TopupService) Get(ctx context.Context, p domain.Principal, requestNumber string) (*domain.TopupRequest, error) {
	req, err := s.store.GetTopup(ctx, requestNumber)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(req.AccountID) {
		return nil, domain.ErrUnknownRequestNumber
	}
	return req, nil
}

// List returns the operations history. Agents only ever see their own requests.
func (s *TopupService) List(ctx context.Context, p domain.Principal, opts ListOptions) ([]domain.TopupRequest, error) {
	filter := domain.TopupFilter{AccountID: opts.AccountID, Status: opts.Status, Limit: opts.Limit}
	if !p.IsAdministrator() {
		id := p.AccountID
		filter.AccountID = &id
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.store.ListTopups(ctx, filter)
}

// Dashboard aggregates the landing view. Administrators see totals over every account.
func (s *TopupService) Dashboard(ctx context.Context, p domain.Principal) (*Dashboard, error) {
	account, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	scope := p.AccountID
	filter := domain.TopupFilter{AccountID: &scope, Limit: recentRequests}
	if p.IsAdministrator() {
		scope = 0
		filter.AccountID = nil
	}

	stats, err := s.store.DashboardStats(ctx, scope, s.now())
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListTopups(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Account: *account, Stats: *stats, Recent: recent}, nil
}

// Quote prices a request without touching any balance.
func (s *TopupService) Quote(operator string, value decimal.Decimal, mode string) (*Quote, error) {
	operator = strings.ToLower(strings.TrimSpace(operator))
	mode = strings.ToLower(strings.TrimSpace(mode))
	if !s.pricing.Knows(operator) {
		return nil, domain.Invalid("operator", "unsupported operator")
	}
	cost, err := s.pricing.Cost(operator, value, mode)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Operator:  operator,
		Mode:      mode,
		FaceValue: value,
		Discount:  s.pricing.Discount(operator, mode),
		Cost:      cost,
	}, nil
}

func (s *TopupService) ProviderBalance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	return s.provider.Balance(ctx)
}
