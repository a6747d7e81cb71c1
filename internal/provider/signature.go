package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

// Webhook is the status report the provider posts back.
type Webhook struct {
	RequestNumber string        `json:"request_number"`
	Status        domain.Status `json:"status"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	expected := Sign(secret, body)
	if signature == "" || !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// ParseWebhook decodes {"payload":{"request_number":..,"status":..}}.
func ParseWebhook(body []byte) (Webhook, error) {
	var envelope struct {
		Payload *Webhook `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Webhook{}, fmt.Errorf("%w: webhook body: %v", domain.ErrInvalidInput, err)
	}
	if envelope.Payload == nil {
		return Webhook{}, domain.Invalid("payload", "missing")
	}

	w := *envelope.Payload
	w.RequestNumber = strings.TrimSpace(w.RequestNumber)
	if w.RequestNumber == "" {
		return Webhook{}, domain.Invalid("request_number", "missing")
	}
	if strings.TrimSpace(string(w.Status)) == "" {
		return Webhook{}, domain.Invalid("status", "missing")
	}
	w.Status = domain.ParseStatus(string(w.Status))
	return w, nil
}
