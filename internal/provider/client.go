// Package provider talks to the upstream top-up provider: order submission, account balance
// and webhook signature handling.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Config carries the provider endpoint and credentials.
type Config struct {
	BaseURL     string
	PublicKey   string
	CountryCode string
	WebhookURL  string
	Timeout     time.Duration
}

// Order is the payload submitted for a new top-up.
type Order struct {
	RequestNumber string  `json:"request_number"`
	CustomerName  string  `json:"customer_name"`
	PhoneNumber   string  `json:"phone_number"`
	Value         float64 `json:"value"`
	Operator      string  `json:"operator"`
	Mode          string  `json:"mode"`
	CountryCode   string  `json:"country_code"`
	WebhookURL    string  `json:"webhook_url"`
	CreatedAt     string  `json:"created_at"`
}

// NewOrder builds the provider payload for a stored request.
func NewOrder(req domain.TopupRequest) Order {
	mode := req.Mode
	if mode == "" {
		mode = "normal"
	}
	return Order{
		RequestNumber: req.RequestNumber,
		CustomerName:  req.CustomerName,
		PhoneNumber:   req.PhoneNumber,
		Value:         req.FaceValue.InexactFloat64(),
		Operator:      req.Operator,
		Mode:          mode,
		CreatedAt:     req.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// Error is a failed provider call. It matches domain.ErrProviderUnavailable under errors.Is.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return domain.ErrProviderUnavailable.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return domain.ErrProviderUnavailable
}

func unavailable(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "DZ"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// CreateTopup submits an order. Any transport error, timeout or non-2xx answer is reported
// as an *Error carrying the provider's message when it sent one.
func (c *Client) CreateTopup(ctx context.Context, order Order) error {
	if order.CountryCode == "" {
		order.CountryCode = c.cfg.CountryCode
	}
	if order.WebhookURL == "" {
		order.WebhookURL = c.cfg.WebhookURL
	}

	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/topup/requests", body)
	return err
}

// Balance returns the provider account balance in dinars.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.do(ctx, http.MethodGet, "/user/balance", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var out struct {
		Balance json.Number `json:"balance"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return decimal.Zero, unavailable("decode balance: %v", err)
	}
	if out.Balance == "" {
		return decimal.Zero, nil
	}
	centimes, err := decimal.NewFromString(out.Balance.String())
	if err != nil {
		return decimal.Zero, unavailable("balance %q: %v", out.Balance, err)
	}
	return centimes.Div(decimal.NewFromInt(100)), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.ProviderLatency.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return nil, unavailable("%v", err)
	}
	req.Header.Set("X-Authorization", c.cfg.PublicKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unavailable("%v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unavailable("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "rejected"
		return nil, &Error{Message: errorMessage(resp.Status, raw)}
	}
	outcome = "ok"
	return raw, nil
}

func errorMessage(status string, raw []byte) string {
	var out struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &out) == nil && out.Message != "" {
		return out.Message
	}
	return status
}
