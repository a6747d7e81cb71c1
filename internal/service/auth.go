package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/auth"
	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/session"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   domain.Account `json:"account"`
}

type AuthService struct {
	store   store.AccountStore
	issuer  *auth.Issuer
	revoker session.Revoker
	log     *zap.Logger
}

func NewAuthService(st store.AccountStore, issuer *auth.Issuer, revoker session.Revoker, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{store: st, issuer: issuer, revoker: revoker, log: log}
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	a, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(a.PasswordHash, password) {
		s.log.Info("login failed", zap.String("username", username))
		return nil, domain.ErrInvalidCredentials
	}
	if !a.Active {
		return nil, domain.ErrAccountInactive
	}

	token, p, err := s.issuer.Issue(a.ID, a.Role)
	if err != nil {
		return nil, err
	}
	s.log.Info("login", zap.Int64("account_id", a.ID), zap.String("role", string(a.Role)))
	return &LoginResult{Token: token, ExpiresAt: p.ExpiresAt, Account: *a}, nil
}

func (s *AuthService) Logout(ctx context.Context, p domain.Principal) error {
	return s.revoker.Revoke(ctx, p.TokenID, p.ExpiresAt)
}

// Authenticate resolves a bearer token to a principal. The role is re-read from the store so
// demotions and deactivations apply to tokens already issued.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	p, err := s.issuer.Parse(token)
	if err != nil {
		return domain.Principal{}, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, p.TokenID)
	if err != nil {
		return domain.Principal{}, err
	}
	if revoked {
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	a, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Principal{}, domain.ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	if !a.Active {
		return domain.Principal{}, domain.ErrAccountInactive
	}
	p.Role = a.Role
	return p, nil
}
