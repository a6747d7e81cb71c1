// Package auth issues and verifies bearer tokens and hashes account passwords.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

// DefaultTTL matches the dashboard session lifetime.
const DefaultTTL = 7 * 24 * time.Hour

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens whose subject is the account id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token and the principal it encodes.
func (i *Issuer) Issue(accountID int64, role domain.Role) (string, domain.Principal, error) {
	now := i.now()
	p := domain.Principal{
		AccountID: accountID,
		Role:      role,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(i.ttl).Truncate(time.Second),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			ID:        p.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
	})
	signed, err := t.SignedString(i.secret)
	if err != nil {
		return "", domain.Principal{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, p, nil
}

// Parse verifies a token (with or without the "Bearer " prefix) and returns its principal.
// Every failure is reported as domain.ErrUnauthenticated.
func (i *Issuer) Parse(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return domain.Principal{}, domain.ErrUnauthenticated
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(i.now))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || c.ID == "" || !domain.Role(c.Role).Valid() {
		return domain.Principal{}, fmt.Errorf("%w: malformed claims", domain.ErrUnauthenticated)
	}
	return domain.Principal{
		AccountID: id,
		Role:      domain.Role(c.Role),
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
